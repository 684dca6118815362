package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"stinecal/internal/calendar"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions.

// ExportConfig describes a single period export.
type ExportConfig struct {
	// Key names the period, e.g. "Y2017M01". It is also the cache file name.
	Key string `yaml:"key" json:"key" validate:"required,excludesall=/\\"`
	// URL is the export download endpoint.
	URL string `yaml:"url" json:"url" validate:"required,url"`
}

// CharsetConfig controls encoding recovery of downloaded exports.
type CharsetConfig struct {
	// Priority charsets are tried before everything else. STiNE serves
	// UTF-16LE, so trying it first usually makes the first guess right.
	Priority []string `yaml:"priority" json:"priority"`
	// Hints must all appear in correctly decoded text.
	Hints []string `yaml:"hints" json:"hints" validate:"min=1,dive,required"`
	// Workers > 1 probes candidate charsets concurrently.
	Workers int `yaml:"workers" json:"workers" validate:"gte=0"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the HTTP endpoints.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address. Empty disables the HTTP server.
	Listen string `yaml:"listen" json:"listen" validate:"omitempty,hostname_port"`

	// RefreshCron is a cron-style schedule string (e.g. "0 */6 * * *")
	// for periodic refresh when not running with -once.
	RefreshCron string `yaml:"refresh" json:"refresh" validate:"cron"`

	// CacheDir holds one <key>.ics file per period.
	CacheDir string `yaml:"cache_dir" json:"cache_dir" validate:"required"`

	// Output is where the merged calendar is written.
	Output string `yaml:"output" json:"output" validate:"required"`

	// LogLevel is one of debug, info, error.
	LogLevel string `yaml:"log_level" json:"log_level" validate:"oneof=debug info error"`

	// FetchTimeoutSec bounds each export download.
	FetchTimeoutSec int `yaml:"fetch_timeout_sec" json:"fetch_timeout_sec" validate:"gte=1"`

	Charset CharsetConfig `yaml:"charset" json:"charset"`

	// Grammar holds the structural markers of the calendar format.
	Grammar calendar.Markers `yaml:"grammar" json:"grammar"`

	// Exports is the list of period exports to download.
	Exports []ExportConfig `yaml:"exports" json:"exports" validate:"dive"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:          "",
		RefreshCron:     "0 */6 * * *",
		CacheDir:        "./var/calendars",
		Output:          "./var/calendar.ics",
		LogLevel:        "info",
		FetchTimeoutSec: 30,
		Charset: CharsetConfig{
			Priority: []string{"UTF-16LE"},
			Hints:    []string{"BEGIN:VCALENDAR", "END:VCALENDAR"},
		},
		Grammar:   calendar.DefaultMarkers(),
		Exports:   []ExportConfig{},
		BasicAuth: nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs (e.g., older versions) still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.RefreshCron == "" {
		c.RefreshCron = def.RefreshCron
	}
	if c.CacheDir == "" {
		c.CacheDir = def.CacheDir
	}
	if c.Output == "" {
		c.Output = def.Output
	}
	switch c.LogLevel {
	case "debug", "info", "error":
		// ok
	default:
		c.LogLevel = def.LogLevel
	}
	if c.FetchTimeoutSec <= 0 {
		c.FetchTimeoutSec = def.FetchTimeoutSec
	}
	if c.Charset.Priority == nil {
		c.Charset.Priority = def.Charset.Priority
	}
	if len(c.Charset.Hints) == 0 {
		c.Charset.Hints = def.Charset.Hints
	}
	if c.Charset.Workers < 0 {
		c.Charset.Workers = 0
	}
	// Markers are taken as a whole: a raw pattern or all five markers.
	if c.Grammar == (calendar.Markers{}) {
		c.Grammar = def.Grammar
	}
	if c.Exports == nil {
		c.Exports = []ExportConfig{}
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("cron", func(fl validator.FieldLevel) bool {
		_, err := cron.ParseStandard(fl.Field().String())
		return err == nil
	})
	return v
}

// Validate checks field constraints and that export keys are unique.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	seen := make(map[string]bool, len(c.Exports))
	for _, e := range c.Exports {
		if seen[e.Key] {
			return fmt.Errorf("config: duplicate export key %q", e.Key)
		}
		seen[e.Key] = true
	}
	if _, err := calendar.NewGrammar(c.Grammar); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults and validate
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".stinecal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
