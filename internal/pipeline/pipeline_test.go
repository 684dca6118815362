package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"golang.org/x/text/encoding/unicode"

	"stinecal/internal/calendar"
	"stinecal/internal/config"
)

func month(prodID, uid string) string {
	return "BEGIN:VCALENDAR\r\nPRODID:" + prodID + "\r\nBEGIN:VTIMEZONE\r\nTZID:Europe/Berlin\r\nEND:VTIMEZONE\r\n" +
		"BEGIN:VEVENT\r\nUID:" + uid + "\r\nSUMMARY:" + uid + "\r\nEND:VEVENT\r\nEND:VCALENDAR\r\n"
}

func exportServer(t *testing.T, bodies map[string]string) *httptest.Server {
	t.Helper()
	enc := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := bodies[strings.TrimPrefix(r.URL.Path, "/")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		b, err := enc.Bytes([]byte(body))
		if err != nil {
			t.Errorf("encode: %v", err)
		}
		_, _ = w.Write(b)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, srvURL string, keys ...string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.CacheDir = filepath.Join(dir, "cache")
	cfg.Output = filepath.Join(dir, "out", "calendar.ics")
	for _, k := range keys {
		cfg.Exports = append(cfg.Exports, config.ExportConfig{Key: k, URL: srvURL + "/" + k})
	}
	return cfg
}

func TestRun_MergesFetchedAndCached(t *testing.T) {
	srv := exportServer(t, map[string]string{
		"Y2017M02": month("-//Feb//DE", "feb-fresh"),
		"Y2017M03": month("-//Mar//DE", "mar"),
	})
	cfg := testConfig(t, srv.URL, "Y2017M02", "Y2017M03", "Y2017M04")

	// Y2017M01 only exists in the cache; Y2017M02 is stale there.
	if err := os.MkdirAll(cfg.CacheDir, 0o700); err != nil {
		t.Fatal(err)
	}
	for key, text := range map[string]string{
		"Y2017M01": month("-//Jan//DE", "jan"),
		"Y2017M02": month("-//Feb//DE", "feb-stale"),
	} {
		if err := os.WriteFile(filepath.Join(cfg.CacheDir, key+".ics"), []byte(text), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	r, err := New(cfg, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !slices.Equal(out.Keys, []string{"Y2017M01", "Y2017M02", "Y2017M03"}) {
		t.Fatalf("Keys = %v", out.Keys)
	}
	if !slices.Equal(out.Persisted, []string{"Y2017M02", "Y2017M03"}) {
		t.Fatalf("Persisted = %v", out.Persisted)
	}
	if out.HeaderKey != "Y2017M03" || !strings.Contains(out.Calendar, "PRODID:-//Mar//DE") {
		t.Fatalf("header not from Y2017M03: %q", out.Calendar)
	}
	if strings.Contains(out.Calendar, "feb-stale") || !strings.Contains(out.Calendar, "feb-fresh") {
		t.Fatalf("fetched data must win: %q", out.Calendar)
	}
	jan, feb, mar := strings.Index(out.Calendar, "UID:jan"), strings.Index(out.Calendar, "UID:feb-fresh"), strings.Index(out.Calendar, "UID:mar")
	if !(jan < feb && feb < mar) {
		t.Fatalf("events out of order: %d %d %d", jan, feb, mar)
	}
	if out.Summary.Events != 3 || out.FetchErrors != 0 {
		t.Fatalf("summary = %+v, fetch errors = %d", out.Summary, out.FetchErrors)
	}
	if out.RunID == "" {
		t.Fatal("missing run id")
	}

	written, err := os.ReadFile(cfg.Output)
	if err != nil || string(written) != out.Calendar {
		t.Fatalf("output file mismatch: %v", err)
	}
	g := calendar.MustGrammar(cfg.Grammar)
	if !g.Valid(string(written)) {
		t.Fatal("output is not a well-formed calendar")
	}

	cachedFeb, err := os.ReadFile(filepath.Join(cfg.CacheDir, "Y2017M02.ics"))
	if err != nil || string(cachedFeb) != month("-//Feb//DE", "feb-fresh") {
		t.Fatalf("cache not refreshed: %q, %v", cachedFeb, err)
	}
}

func TestRun_SkipOutput(t *testing.T) {
	srv := exportServer(t, map[string]string{"Y2017M01": month("-//Jan//DE", "jan")})
	cfg := testConfig(t, srv.URL, "Y2017M01")

	r, err := New(cfg, Options{SkipOutput: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Calendar == "" {
		t.Fatal("empty calendar")
	}
	if _, err := os.Stat(cfg.Output); !os.IsNotExist(err) {
		t.Fatalf("output must not be written: %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.CacheDir, "Y2017M01.ics")); err != nil {
		t.Fatalf("cache still has to be written: %v", err)
	}
}

func TestRun_NothingToMerge(t *testing.T) {
	srv := exportServer(t, map[string]string{})
	cfg := testConfig(t, srv.URL, "Y2017M01")

	r, err := New(cfg, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := r.Run(context.Background()); !errors.Is(err, calendar.ErrEmptyKeySet) {
		t.Fatalf("err = %v, want ErrEmptyKeySet", err)
	}
	if _, err := os.Stat(cfg.Output); !os.IsNotExist(err) {
		t.Fatalf("no output expected: %v", err)
	}
}

func TestNew_RejectsUnknownCharset(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Charset.Priority = []string{"klingon-8"}
	if _, err := New(cfg, Options{}); err == nil {
		t.Fatal("expected error")
	}
}
