// Package pipeline runs one refresh: download the period exports, load the
// local cache, merge everything into one calendar and persist the results.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"stinecal/internal/calendar"
	"stinecal/internal/charset"
	"stinecal/internal/config"
	appLog "stinecal/internal/log"
	"stinecal/internal/source"
)

// Outcome describes a finished refresh.
type Outcome struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time

	// Calendar is the merged calendar text.
	Calendar string
	Summary  calendar.Summary

	Keys      []string
	Persisted []string
	HeaderKey string

	// FetchErrors counts exports that could not be used this run.
	FetchErrors int
}

// Options tweaks a Runner.
type Options struct {
	// SkipOutput leaves writing the merged calendar to the caller
	// (e.g. -echo prints it instead).
	SkipOutput bool
}

// Runner executes refreshes. Only one refresh runs at a time.
type Runner struct {
	mu sync.Mutex

	grammar *calendar.Grammar
	fetcher *source.Fetcher
	cache   *source.Cache
	exports []source.Export
	output  string
	opts    Options
}

// New wires a Runner from configuration.
func New(cfg *config.Config, opts Options) (*Runner, error) {
	grammar, err := calendar.NewGrammar(cfg.Grammar)
	if err != nil {
		return nil, err
	}
	detector, err := charset.NewDetector(cfg.Charset.Priority...)
	if err != nil {
		return nil, err
	}

	exports := make([]source.Export, 0, len(cfg.Exports))
	for _, e := range cfg.Exports {
		exports = append(exports, source.Export{Key: e.Key, URL: e.URL})
	}

	fetcher := source.NewFetcher(detector, grammar, source.FetcherOptions{
		Hints:   cfg.Charset.Hints,
		Workers: cfg.Charset.Workers,
		Timeout: time.Duration(cfg.FetchTimeoutSec) * time.Second,
	})

	return NewWith(grammar, fetcher, source.NewCache(cfg.CacheDir, grammar), exports, cfg.Output, opts), nil
}

// NewWith builds a Runner from already constructed parts.
func NewWith(grammar *calendar.Grammar, fetcher *source.Fetcher, cache *source.Cache, exports []source.Export, output string, opts Options) *Runner {
	return &Runner{
		grammar: grammar,
		fetcher: fetcher,
		cache:   cache,
		exports: exports,
		output:  output,
		opts:    opts,
	}
}

// Run performs one refresh. On a merge failure nothing is written.
func (r *Runner) Run(ctx context.Context) (Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := Outcome{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
	}
	appLog.Info("refresh start", "run_id", out.RunID, "exports", len(r.exports), "cache_dir", r.cache.Dir())

	fetched, errs := r.fetcher.FetchAll(ctx, r.exports)
	out.FetchErrors = len(errs)
	if err := ctx.Err(); err != nil {
		return out, err
	}

	cached, err := r.cache.Load()
	if err != nil {
		return out, fmt.Errorf("load cache: %w", err)
	}
	appLog.Info("calendar pools ready", "run_id", out.RunID, "fetched", len(fetched), "cached", len(cached), "fetch_errors", len(errs))

	res, err := r.grammar.Merge(fetched, cached)
	if err != nil {
		if errors.Is(err, calendar.ErrEmptyKeySet) {
			return out, fmt.Errorf("nothing to merge: no export downloaded and cache is empty: %w", err)
		}
		return out, fmt.Errorf("merge: %w", err)
	}

	// Fetched data replaces the cache unconditionally.
	for _, key := range res.Persist {
		appLog.Info("writing calendar to cache", "run_id", out.RunID, "key", key)
		if err := r.cache.Store(key, fetched[key]); err != nil {
			return out, fmt.Errorf("cache %s: %w", key, err)
		}
	}

	text := res.Document.Text()
	if !r.opts.SkipOutput {
		appLog.Info("exporting merged calendar", "run_id", out.RunID, "path", r.output)
		if err := source.WriteFile(r.output, text); err != nil {
			return out, fmt.Errorf("write output: %w", err)
		}
	}

	summary, err := calendar.Inspect(text)
	if err != nil {
		appLog.Error("merged calendar inspection failed", err, "run_id", out.RunID)
	}

	out.Calendar = text
	out.Summary = summary
	out.Keys = res.Keys
	out.Persisted = res.Persist
	out.HeaderKey = res.HeaderKey
	out.FinishedAt = time.Now()

	appLog.Info("refresh done",
		"run_id", out.RunID,
		"keys", len(out.Keys),
		"persisted", len(out.Persisted),
		"header_key", out.HeaderKey,
		"events", summary.Events,
		"duplicate_uids", summary.DuplicateUIDs,
		"duration", out.FinishedAt.Sub(out.StartedAt).String(),
	)
	return out, nil
}
