package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// MaxRetryCount bounds retry_count so the 2^round backoff fits in a time.Duration.
const MaxRetryCount = 32

// Duration is a time.Duration that unmarshals from a string like "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// UnmarshalText lets TOML decode durations from strings.
func (d *Duration) UnmarshalText(text []byte) error {
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = dur
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ProbeConfig is the runtime-mutable part of the configuration.
type ProbeConfig struct {
	CheckInterval  Duration `yaml:"check_interval" toml:"check_interval"`
	RequestTimeout Duration `yaml:"request_timeout" toml:"request_timeout"`
	RetryCount     int      `yaml:"retry_count" toml:"retry_count"`
	URLs           []string `yaml:"urls" toml:"urls"`
}

// Clone returns a copy that shares no memory with p.
func (p ProbeConfig) Clone() ProbeConfig {
	out := p
	out.URLs = append([]string(nil), p.URLs...)
	return out
}

// Validate reports the first invalid field.
func (p ProbeConfig) Validate() error {
	if p.CheckInterval.Duration <= 0 {
		return fmt.Errorf("probe: check_interval must be > 0, got %s", p.CheckInterval)
	}
	if p.RequestTimeout.Duration <= 0 {
		return fmt.Errorf("probe: request_timeout must be > 0, got %s", p.RequestTimeout)
	}
	if p.RetryCount < 0 || p.RetryCount > MaxRetryCount {
		return fmt.Errorf("probe: retry_count must be between 0 and %d, got %d", MaxRetryCount, p.RetryCount)
	}
	seen := make(map[string]bool, len(p.URLs))
	for i, u := range p.URLs {
		if err := ValidateEndpoint(u); err != nil {
			return fmt.Errorf("probe: urls[%d]: %w", i, err)
		}
		if seen[u] {
			return fmt.Errorf("probe: duplicate url %q", u)
		}
		seen[u] = true
	}
	return nil
}

var validSchemes = map[string]bool{
	"http":  true,
	"https": true,
	"tcp":   true,
	"icmp":  true,
	"dns":   true,
}

// ValidateEndpoint checks that raw is an absolute URL with a supported scheme.
func ValidateEndpoint(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if !validSchemes[u.Scheme] {
		return fmt.Errorf("url %q: unsupported scheme %q (must be http, https, tcp, icmp, or dns)", raw, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url %q: host is required", raw)
	}
	return nil
}

// WebhookConfig holds alert webhook settings.
type WebhookConfig struct {
	URL      string   `yaml:"url" toml:"url"`
	Cooldown Duration `yaml:"cooldown" toml:"cooldown"`
}

// TelegramConfig holds Telegram bot alert settings. An empty Token falls back
// to the TELEGRAM_BOT_TOKEN environment variable.
type TelegramConfig struct {
	Token  string `yaml:"token" toml:"token"`
	ChatID int64  `yaml:"chat_id" toml:"chat_id"`
}

// Enabled reports whether Telegram alerts are configured.
func (t TelegramConfig) Enabled() bool {
	return t.Token != "" && t.ChatID != 0
}

// AlertsConfig holds all alert configuration. Webhook.Cooldown applies to every sink.
type AlertsConfig struct {
	Webhook  WebhookConfig  `yaml:"webhook" toml:"webhook"`
	Telegram TelegramConfig `yaml:"telegram" toml:"telegram"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Address string `yaml:"address" toml:"address"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// SettingsConfig points at the file runtime probe changes are written to.
type SettingsConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// LoggingConfig controls the slog handler. An empty File logs to stderr.
type LoggingConfig struct {
	Level    string `yaml:"level" toml:"level"`
	Format   string `yaml:"format" toml:"format"`
	File     string `yaml:"file" toml:"file"`
	MaxMB    int    `yaml:"max_mb" toml:"max_mb"`
	MaxFiles int    `yaml:"max_files" toml:"max_files"`
}

// Config is the root application configuration.
type Config struct {
	Probe    ProbeConfig    `yaml:"probe" toml:"probe"`
	Alerts   AlertsConfig   `yaml:"alerts" toml:"alerts"`
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Storage  StorageConfig  `yaml:"storage" toml:"storage"`
	Settings SettingsConfig `yaml:"settings" toml:"settings"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
}

// DefaultProbe returns the probe settings used when nothing is configured.
func DefaultProbe() ProbeConfig {
	return ProbeConfig{
		CheckInterval:  Duration{5 * time.Second},
		RequestTimeout: Duration{3 * time.Second},
		RetryCount:     3,
		URLs:           []string{"https://www.google.com", "https://www.bing.com"},
	}
}

// Default returns a fully populated configuration.
func Default() *Config {
	return &Config{
		Probe:    DefaultProbe(),
		Server:   ServerConfig{Address: ":8080"},
		Storage:  StorageConfig{Path: "reachprobe.db"},
		Settings: SettingsConfig{Path: "reachprobe-settings.yml"},
		Logging:  LoggingConfig{Level: "info", Format: "text", MaxMB: 10, MaxFiles: 3},
	}
}

// Load reads, parses, and validates the config file at path.
// Files ending in .toml are decoded as TOML, everything else as YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	// Unmarshal into a raw intermediate so unset fields can be told apart from zero values.
	type rawProbe struct {
		CheckInterval  string   `yaml:"check_interval" toml:"check_interval"`
		RequestTimeout string   `yaml:"request_timeout" toml:"request_timeout"`
		RetryCount     *int     `yaml:"retry_count" toml:"retry_count"`
		URLs           []string `yaml:"urls" toml:"urls"`
	}
	type rawWebhook struct {
		URL      string `yaml:"url" toml:"url"`
		Cooldown string `yaml:"cooldown" toml:"cooldown"`
	}
	type rawConfig struct {
		Probe  rawProbe `yaml:"probe" toml:"probe"`
		Alerts struct {
			Webhook  rawWebhook     `yaml:"webhook" toml:"webhook"`
			Telegram TelegramConfig `yaml:"telegram" toml:"telegram"`
		} `yaml:"alerts" toml:"alerts"`
		Server   ServerConfig   `yaml:"server" toml:"server"`
		Storage  StorageConfig  `yaml:"storage" toml:"storage"`
		Settings SettingsConfig `yaml:"settings" toml:"settings"`
		Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
	}

	var raw rawConfig
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if err := toml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg := Default()

	if raw.Server.Address != "" {
		cfg.Server.Address = raw.Server.Address
	}
	if raw.Storage.Path != "" {
		cfg.Storage.Path = raw.Storage.Path
	}
	if raw.Settings.Path != "" {
		cfg.Settings.Path = raw.Settings.Path
	}
	if raw.Logging.Level != "" {
		cfg.Logging.Level = raw.Logging.Level
	}
	if raw.Logging.Format != "" {
		cfg.Logging.Format = raw.Logging.Format
	}
	cfg.Logging.File = raw.Logging.File
	if raw.Logging.MaxMB > 0 {
		cfg.Logging.MaxMB = raw.Logging.MaxMB
	}
	if raw.Logging.MaxFiles > 0 {
		cfg.Logging.MaxFiles = raw.Logging.MaxFiles
	}
	switch cfg.Logging.Format {
	case "text", "json":
	default:
		return nil, fmt.Errorf("logging: invalid format %q (must be text or json)", cfg.Logging.Format)
	}

	if raw.Probe.CheckInterval != "" {
		d, err := time.ParseDuration(raw.Probe.CheckInterval)
		if err != nil {
			return nil, fmt.Errorf("probe: invalid check_interval %q: %w", raw.Probe.CheckInterval, err)
		}
		cfg.Probe.CheckInterval = Duration{d}
	}
	if raw.Probe.RequestTimeout != "" {
		d, err := time.ParseDuration(raw.Probe.RequestTimeout)
		if err != nil {
			return nil, fmt.Errorf("probe: invalid request_timeout %q: %w", raw.Probe.RequestTimeout, err)
		}
		cfg.Probe.RequestTimeout = Duration{d}
	}
	if raw.Probe.RetryCount != nil {
		cfg.Probe.RetryCount = *raw.Probe.RetryCount
	}
	if raw.Probe.URLs != nil {
		cfg.Probe.URLs = raw.Probe.URLs
	}
	if err := cfg.Probe.Validate(); err != nil {
		return nil, err
	}

	cfg.Alerts.Webhook.URL = raw.Alerts.Webhook.URL
	if raw.Alerts.Webhook.Cooldown == "" {
		cfg.Alerts.Webhook.Cooldown = Duration{5 * time.Minute}
	} else {
		d, err := time.ParseDuration(raw.Alerts.Webhook.Cooldown)
		if err != nil {
			return nil, fmt.Errorf("alerts: invalid webhook cooldown %q: %w", raw.Alerts.Webhook.Cooldown, err)
		}
		cfg.Alerts.Webhook.Cooldown = Duration{d}
	}

	cfg.Alerts.Telegram = raw.Alerts.Telegram
	if cfg.Alerts.Telegram.Token == "" {
		cfg.Alerts.Telegram.Token = os.Getenv("TELEGRAM_BOT_TOKEN")
	}

	return cfg, nil
}
