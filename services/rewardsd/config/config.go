package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the runtime settings for the rewards daemon.
type Config struct {
	ListenAddress string              `yaml:"listen"`
	GRPCAddress   string              `yaml:"grpcListen"`
	ReadTimeout   time.Duration       `yaml:"readTimeout"`
	WriteTimeout  time.Duration       `yaml:"writeTimeout"`
	IdleTimeout   time.Duration       `yaml:"idleTimeout"`
	DataDir       string              `yaml:"dataDir"`
	GenesisPath   string              `yaml:"genesis"`
	BlockInterval time.Duration       `yaml:"blockInterval"`
	Paused        []string            `yaml:"paused"`
	Journal       JournalConfig       `yaml:"journal"`
	Webhooks      []WebhookConfig     `yaml:"webhooks"`
	Log           LogConfig           `yaml:"log"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`
	RateLimits    []RateLimitConfig   `yaml:"rateLimits"`
	Observability ObservabilityConfig `yaml:"observability"`
	Auth          AuthConfig          `yaml:"auth"`
	CORS          CORSConfig          `yaml:"cors"`
	TLS           TLSConfig           `yaml:"tls"`
}

// JournalConfig points at the SQL event journal. An empty DSN disables it.
type JournalConfig struct {
	DSN string `yaml:"dsn"`
}

// WebhookConfig registers an HTTP endpoint receiving signed event
// deliveries. Events filters by type prefix; empty means every event.
type WebhookConfig struct {
	URL         string        `yaml:"url"`
	Secret      string        `yaml:"secret"`
	Events      []string      `yaml:"events"`
	MaxAttempts int           `yaml:"maxAttempts"`
	MinBackoff  time.Duration `yaml:"minBackoff"`
	MaxBackoff  time.Duration `yaml:"maxBackoff"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

type TelemetryConfig struct {
	Endpoint string            `yaml:"endpoint"`
	Insecure bool              `yaml:"insecure"`
	Headers  map[string]string `yaml:"headers"`
	Metrics  bool              `yaml:"metrics"`
	Traces   bool              `yaml:"traces"`
}

type RateLimitConfig struct {
	ID                string  `yaml:"id"`
	RequestsPerMinute float64 `yaml:"requestsPerMinute"`
	RatePerSecond     float64 `yaml:"ratePerSecond"`
	Burst             int     `yaml:"burst"`
}

// PerSecond resolves the configured rate, preferring ratePerSecond.
func (r RateLimitConfig) PerSecond() float64 {
	if r.RatePerSecond > 0 {
		return r.RatePerSecond
	}
	return r.RequestsPerMinute / 60
}

type ObservabilityConfig struct {
	ServiceName string `yaml:"serviceName"`
	LogRequests bool   `yaml:"logRequests"`
}

type AuthConfig struct {
	Enabled    bool          `yaml:"enabled"`
	HMACSecret string        `yaml:"hmacSecret"`
	Issuer     string        `yaml:"issuer"`
	Audience   string        `yaml:"audience"`
	ScopeClaim string        `yaml:"scopeClaim"`
	ClockSkew  time.Duration `yaml:"clockSkew"`
	enabledSet bool          `yaml:"-"`
}

func (a *AuthConfig) UnmarshalYAML(node *yaml.Node) error {
	type rawAuthConfig struct {
		Enabled    *bool         `yaml:"enabled"`
		HMACSecret string        `yaml:"hmacSecret"`
		Issuer     string        `yaml:"issuer"`
		Audience   string        `yaml:"audience"`
		ScopeClaim string        `yaml:"scopeClaim"`
		ClockSkew  time.Duration `yaml:"clockSkew"`
	}
	var raw rawAuthConfig
	if err := node.Decode(&raw); err != nil {
		return err
	}
	a.Enabled = raw.Enabled != nil && *raw.Enabled
	a.enabledSet = raw.Enabled != nil
	a.HMACSecret = raw.HMACSecret
	a.Issuer = raw.Issuer
	a.Audience = raw.Audience
	a.ScopeClaim = raw.ScopeClaim
	a.ClockSkew = raw.ClockSkew
	return nil
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

// TLSConfig describes the certificate served by the HTTP listener.
type TLSConfig struct {
	CertPath      string `yaml:"cert"`
	KeyPath       string `yaml:"key"`
	AllowInsecure bool   `yaml:"allow_insecure"`
}

// Enabled reports whether the listener serves TLS.
func (cfg TLSConfig) Enabled() bool {
	return cfg.CertPath != ""
}

var (
	ErrAuthEnabledNotConfigured = errors.New("auth.enabled must be explicitly set when tls is configured")
	ErrSecretRequired           = errors.New("auth.hmacSecret is required when auth is enabled")
)

func defaults() Config {
	return Config{
		ListenAddress: ":8080",
		ReadTimeout:   30 * time.Second,
		WriteTimeout:  30 * time.Second,
		IdleTimeout:   120 * time.Second,
		GenesisPath:   "genesis.toml",
		BlockInterval: 5 * time.Second,
		Log:           LogConfig{Level: "info", MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 28},
		Observability: ObservabilityConfig{ServiceName: "rewardsd", LogRequests: true},
		TLS:           TLSConfig{AllowInsecure: true},
	}
}

// Load reads the YAML configuration from disk and validates the result. An
// empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := defaults()
	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := yaml.NewDecoder(file)
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}
	}
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8080"
	}
	cfg.GRPCAddress = strings.TrimSpace(cfg.GRPCAddress)
	cfg.DataDir = strings.TrimSpace(cfg.DataDir)
	cfg.GenesisPath = strings.TrimSpace(cfg.GenesisPath)
	cfg.Journal.DSN = strings.TrimSpace(cfg.Journal.DSN)
	for i := range cfg.Webhooks {
		cfg.Webhooks[i].URL = strings.TrimSpace(cfg.Webhooks[i].URL)
	}
	cfg.TLS.CertPath = strings.TrimSpace(cfg.TLS.CertPath)
	cfg.TLS.KeyPath = strings.TrimSpace(cfg.TLS.KeyPath)
	if cfg.Auth.ScopeClaim == "" {
		cfg.Auth.ScopeClaim = "scope"
	}
	if cfg.Auth.ClockSkew <= 0 {
		cfg.Auth.ClockSkew = 2 * time.Minute
	}
	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "rewardsd"
	}
	origins := make([]string, 0, len(cfg.CORS.AllowedOrigins))
	for _, origin := range cfg.CORS.AllowedOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	cfg.CORS.AllowedOrigins = origins
}

func (cfg *Config) validate() error {
	if cfg.GenesisPath == "" {
		return fmt.Errorf("genesis path required")
	}
	if cfg.BlockInterval < 0 {
		return fmt.Errorf("blockInterval must not be negative")
	}
	hasCert := cfg.TLS.CertPath != ""
	if hasCert != (cfg.TLS.KeyPath != "") {
		return fmt.Errorf("tls: cert and key must either both be provided or both be empty")
	}
	if !cfg.TLS.AllowInsecure && !hasCert {
		return fmt.Errorf("tls: cert and key are required unless allow_insecure=true")
	}
	if hasCert && !cfg.Auth.enabledSet {
		return ErrAuthEnabledNotConfigured
	}
	if cfg.Auth.Enabled && strings.TrimSpace(cfg.Auth.HMACSecret) == "" {
		return ErrSecretRequired
	}
	for i, hook := range cfg.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhooks[%d].url cannot be empty", i)
		}
		if hook.Secret == "" {
			return fmt.Errorf("webhooks[%d].secret cannot be empty", i)
		}
		if hook.MaxBackoff > 0 && hook.MaxBackoff < hook.MinBackoff {
			return fmt.Errorf("webhooks[%d]: maxBackoff below minBackoff", i)
		}
	}
	seen := make(map[string]struct{}, len(cfg.RateLimits))
	for i, limit := range cfg.RateLimits {
		id := strings.TrimSpace(limit.ID)
		if id == "" {
			return fmt.Errorf("rateLimits[%d].id cannot be empty", i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("rateLimits[%d]: duplicate id %q", i, id)
		}
		seen[id] = struct{}{}
		if limit.PerSecond() <= 0 {
			return fmt.Errorf("rateLimits[%d]: rate must be positive", i)
		}
		if limit.Burst <= 0 {
			return fmt.Errorf("rateLimits[%d]: burst must be positive", i)
		}
		cfg.RateLimits[i].ID = id
	}
	return nil
}
