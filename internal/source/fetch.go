package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"stinecal/internal/calendar"
	"stinecal/internal/charset"
	appLog "stinecal/internal/log"
)

// ErrEmptyExport means the export had no content, e.g. a month without
// appointments. Callers skip it.
var ErrEmptyExport = errors.New("export is empty")

// Export is a single period export to download.
type Export struct {
	// Key names the period (e.g. "Y2017M01").
	Key string
	// URL is the download endpoint.
	URL string
}

// FetcherOptions configures a Fetcher.
type FetcherOptions struct {
	// Hints must appear in the decoded export; see charset.Detector.
	Hints []string
	// Workers > 1 enables concurrent charset probing.
	Workers int
	// Timeout bounds a single download. Zero means 30s.
	Timeout time.Duration
	// Client overrides the HTTP client (tests).
	Client *http.Client
}

// Fetcher downloads period exports, recovers their encoding and keeps only
// well-formed calendars.
type Fetcher struct {
	client   *http.Client
	detector *charset.Detector
	grammar  *calendar.Grammar
	hints    []string
	workers  int
}

// NewFetcher creates a new export Fetcher.
func NewFetcher(detector *charset.Detector, grammar *calendar.Grammar, opts FetcherOptions) *Fetcher {
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Fetcher{
		client:   client,
		detector: detector,
		grammar:  grammar,
		hints:    opts.Hints,
		workers:  opts.Workers,
	}
}

// FetchAll downloads every export and returns the fetched pool. Exports that
// fail are logged and returned in the error slice; empty exports are skipped
// silently. A broken export never ends up in the pool.
func (f *Fetcher) FetchAll(ctx context.Context, exports []Export) (calendar.Pool, []error) {
	pool := make(calendar.Pool, len(exports))
	errs := make([]error, 0)

	for _, exp := range exports {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		text, err := f.FetchOne(ctx, exp)
		if errors.Is(err, ErrEmptyExport) {
			appLog.Info("export is empty; skipping", "key", exp.Key)
			continue
		}
		if err != nil {
			errs = append(errs, err)
			appLog.Error("export fetch failed", err, "key", exp.Key, "url", redactURL(exp.URL))
			continue
		}
		pool[exp.Key] = text
	}

	return pool, errs
}

// FetchOne downloads one export and returns its decoded, validated text.
func (f *Fetcher) FetchOne(ctx context.Context, exp Export) (string, error) {
	if exp.URL == "" {
		return "", fmt.Errorf("export %s: URL is empty", exp.Key)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, exp.URL, nil)
	if err != nil {
		return "", fmt.Errorf("export %s: %w", exp.Key, err)
	}

	appLog.Info("export fetch start", "key", exp.Key, "url", redactURL(exp.URL))

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("export %s: %w", exp.Key, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent, http.StatusNotFound:
		return "", ErrEmptyExport
	default:
		return "", fmt.Errorf("export %s: %s", exp.Key, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("export %s: %w", exp.Key, err)
	}
	if len(body) == 0 {
		return "", ErrEmptyExport
	}

	m, err := f.detector.DetectParallel(body, f.workers, f.hints...)
	if err != nil {
		return "", fmt.Errorf("export %s: %w", exp.Key, err)
	}
	if !f.grammar.Valid(m.Text) {
		return "", fmt.Errorf("export %s: %w", exp.Key, calendar.ErrMalformedDocument)
	}

	appLog.Info("export fetch success", "key", exp.Key, "charset", m.Charset, "bytes", len(body))
	return m.Text, nil
}

// redactURL hides sensitive parts of an export URL for logging purposes.
//
//	https://example.com/path/export?token=abcd -> https://example.com/...(redacted)
func redactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	i := -1
	for idx := 0; idx+2 < len(u); idx++ {
		if u[idx:idx+3] == "://" {
			i = idx + 3
			break
		}
	}
	if i == -1 {
		return "export://...(redacted)"
	}

	j := i
	for j < len(u) && u[j] != '/' && u[j] != '?' {
		j++
	}
	return u[:j] + redactedSuffix
}
