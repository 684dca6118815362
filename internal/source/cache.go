package source

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"stinecal/internal/calendar"
	appLog "stinecal/internal/log"
)

const cacheExt = ".ics"

// Cache is a directory of previously fetched calendars, one <key>.ics file
// per period.
type Cache struct {
	dir     string
	grammar *calendar.Grammar
}

// NewCache creates a cache rooted at dir. Files are validated with grammar
// when loaded.
func NewCache(dir string, grammar *calendar.Grammar) *Cache {
	if dir == "" {
		dir = "./var/calendars"
	}
	return &Cache{dir: dir, grammar: grammar}
}

// Dir returns the cache directory.
func (c *Cache) Dir() string { return c.dir }

// Load returns the cached pool. A missing directory is created and yields an
// empty pool. Files that are not well-formed calendars are skipped.
func (c *Cache) Load() (calendar.Pool, error) {
	pool := make(calendar.Pool)

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return pool, os.MkdirAll(c.dir, 0o700)
		}
		return nil, err
	}

	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != cacheExt {
			continue
		}
		key := strings.TrimSuffix(name, cacheExt)

		appLog.Debug("loading cached calendar", "key", key)
		data, err := os.ReadFile(filepath.Join(c.dir, name))
		if err != nil {
			return nil, fmt.Errorf("cache %s: %w", key, err)
		}
		text := string(data)
		if !c.grammar.Valid(text) {
			appLog.Error("cached calendar is invalid; skipping", calendar.ErrMalformedDocument, "key", key)
			continue
		}
		pool[key] = text
	}
	return pool, nil
}

// Store replaces the cached calendar for key.
func (c *Cache) Store(key, text string) error {
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return fmt.Errorf("cache: invalid key %q", key)
	}
	if err := os.MkdirAll(c.dir, 0o700); err != nil {
		return err
	}
	return WriteFile(filepath.Join(c.dir, key+cacheExt), text)
}

// WriteFile writes text as UTF-8 to path by way of path+".part" and a rename,
// so readers never see a half-written calendar.
func WriteFile(path, text string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	part := path + ".part"
	f, err := os.OpenFile(part, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer os.Remove(part)

	if _, err := f.WriteString(text); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(part, path)
}
