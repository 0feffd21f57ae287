package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling from strings.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration strings like "5s" or "1m".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return fmt.Errorf("duration value node is nil")
	}
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("decode duration: %w", err)
	}
	if raw == "" {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = dur
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// CodecYAML is the only document codec currently supported.
const CodecYAML = "yaml"

// DocumentConfig locates the preferences document.
type DocumentConfig struct {
	Path  string `yaml:"path"`
	Codec string `yaml:"codec,omitempty"`
}

// CatalogConfig points at a template catalog replacing the embedded one.
type CatalogConfig struct {
	Path string `yaml:"path,omitempty"`
}

// LokiConfig configures optional Loki integration for logging.
type LokiConfig struct {
	Enabled bool              `yaml:"enabled"`
	URL     string            `yaml:"url"`
	Labels  map[string]string `yaml:"labels"`
}

// LoggingConfig encapsulates runtime logging options.
type LoggingConfig struct {
	Level  string     `yaml:"level"`
	Format string     `yaml:"format,omitempty"`
	Loki   LokiConfig `yaml:"loki"`
}

// TelemetryConfig configures metric export. Textfile names a node exporter
// textfile collector file written after each command.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Textfile string `yaml:"textfile,omitempty"`
}

// WatchConfig tunes the document watcher.
type WatchConfig struct {
	Debounce Duration `yaml:"debounce,omitempty"`
}

// MigrationConfig tunes write commands.
type MigrationConfig struct {
	// Retries is the number of reload-and-retry rounds after a stale commit.
	// It is a pointer so that an explicit 0 survives ApplyDefaults.
	Retries *int `yaml:"retries,omitempty"`
}

// RetryLimit returns the configured retry count, 0 when unset.
func (m MigrationConfig) RetryLimit() int {
	if m.Retries == nil {
		return 0
	}
	return *m.Retries
}

// Config is the root configuration structure for the tools.
type Config struct {
	Document  DocumentConfig  `yaml:"document"`
	Catalog   CatalogConfig   `yaml:"catalog,omitempty"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Watch     WatchConfig     `yaml:"watch,omitempty"`
	Migration MigrationConfig `yaml:"migration,omitempty"`
	Source    string          `yaml:"-"`
}

// Defaults returns the values used for every unset field.
func Defaults() Config {
	return Config{
		Document:  DocumentConfig{Path: "preferences.yaml", Codec: CodecYAML},
		Logging:   LoggingConfig{Level: "info", Format: "json"},
		Watch:     WatchConfig{Debounce: Duration{Duration: 250 * time.Millisecond}},
		Migration: MigrationConfig{Retries: intPtr(3)},
	}
}

// Load reads the configuration file at path and fills unset fields from
// Defaults. A relative document or catalog path is resolved against the
// directory of the configuration file.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path must not be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", abs, err)
	}
	cfg.Source = abs
	base := filepath.Dir(abs)
	cfg.Document.Path = resolvePath(base, cfg.Document.Path)
	cfg.Catalog.Path = resolvePath(base, cfg.Catalog.Path)
	return cfg, nil
}

// Parse decodes configuration data and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills every zero field from Defaults. Set pointer fields are
// kept as they are, even when they point at a zero value.
func (c *Config) ApplyDefaults() error {
	if err := mergo.Merge(c, Defaults(), mergo.WithoutDereference); err != nil {
		return fmt.Errorf("apply defaults: %w", err)
	}
	return nil
}

// Validate rejects settings the tools cannot honour.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if c.Document.Path == "" {
		errs = append(errs, errors.New("document.path must not be empty"))
	}
	if codec := strings.ToLower(c.Document.Codec); codec != "" && codec != CodecYAML {
		errs = append(errs, fmt.Errorf("document.codec %q is not supported", c.Document.Codec))
	}
	if n := c.Migration.RetryLimit(); n < 0 {
		errs = append(errs, fmt.Errorf("migration.retries must not be negative, got %d", n))
	}
	if c.Watch.Debounce.Duration < 0 {
		errs = append(errs, fmt.Errorf("watch.debounce must not be negative, got %s", c.Watch.Debounce))
	}
	if c.Logging.Loki.Enabled && c.Logging.Loki.URL == "" {
		errs = append(errs, errors.New("logging.loki.url is required when loki is enabled"))
	}
	return errors.Join(errs...)
}

func intPtr(v int) *int {
	return &v
}

func resolvePath(base, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}
