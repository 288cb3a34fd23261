package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Proxy   ProxyConfig   `yaml:"proxy"`
	Fetch   FetchConfig   `yaml:"fetch"`
	History HistoryConfig `yaml:"history"`
	FFmpeg  FFmpegConfig  `yaml:"ffmpeg"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string        `yaml:"host" envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port         int           `yaml:"port" envconfig:"SERVER_PORT" default:"8000"`
	BaseURL      string        `yaml:"base_url" envconfig:"BASE_URL" default:"http://localhost:8000"`
	APIKey       string        `yaml:"api_key" envconfig:"API_KEY"`
	ReadTimeout  time.Duration `yaml:"read_timeout" envconfig:"SERVER_READ_TIMEOUT" default:"30s"`
	WriteTimeout time.Duration `yaml:"write_timeout" envconfig:"SERVER_WRITE_TIMEOUT" default:"5m"`
}

// StorageConfig holds artifact storage configuration.
type StorageConfig struct {
	// Root is the directory holding one subdirectory per shortcode.
	Root string `yaml:"root" envconfig:"STORAGE_ROOT" default:"downloads"`
	// ArtifactTTL is how long a successfully stored artifact lives.
	ArtifactTTL time.Duration `yaml:"artifact_ttl" envconfig:"ARTIFACT_TTL" default:"1h"`
	// FailedTTL is the short TTL stamped on directories left behind by a
	// failed transcode, so the reclaimer sweeps the debris.
	FailedTTL     time.Duration `yaml:"failed_ttl" envconfig:"FAILED_TTL" default:"10m"`
	SweepInterval time.Duration `yaml:"sweep_interval" envconfig:"SWEEP_INTERVAL" default:"1h"`
}

// ProxyConfig holds egress proxy pool configuration.
type ProxyConfig struct {
	// SourceURL serves newline-delimited ip:port:user:password records.
	// Empty means no proxies: every attempt connects directly.
	SourceURL       string        `yaml:"source_url" envconfig:"PROXIES_URL"`
	RefreshInterval time.Duration `yaml:"refresh_interval" envconfig:"PROXY_REFRESH_INTERVAL" default:"1h"`
	// Window and WindowLimit bound per-proxy usage: at most WindowLimit
	// selections per Window. The limit is advisory (see proxypool.Select).
	Window      time.Duration `yaml:"window" envconfig:"PROXY_WINDOW" default:"60s"`
	WindowLimit int           `yaml:"window_limit" envconfig:"PROXY_WINDOW_LIMIT" default:"10"`
}

// FetchConfig holds fetch-provider configuration.
type FetchConfig struct {
	BaseURL string `yaml:"base_url" envconfig:"FETCH_BASE_URL" default:"https://api.scrapeops.dev/v1"`
	Token   string `yaml:"token" envconfig:"FETCH_TOKEN"`
	// AttemptTimeout bounds a single fetch attempt; expiry is treated as
	// a connection-class failure by the orchestrator.
	AttemptTimeout time.Duration `yaml:"attempt_timeout" envconfig:"FETCH_ATTEMPT_TIMEOUT" default:"30s"`
	MaxAttempts    int           `yaml:"max_attempts" envconfig:"FETCH_MAX_ATTEMPTS" default:"20"`
}

// RetryBudget is the worst-case wall time of one retrieval's attempt
// loop: every attempt spending its full timeout plus the longest pause
// between attempts. Request-level timeouts must sit above this or
// slow-timeout exhaustion surfaces as a gateway timeout instead of the
// mapped status.
func (c *FetchConfig) RetryBudget() time.Duration {
	const maxPause = 3 * time.Second
	return time.Duration(c.MaxAttempts) * (c.AttemptTimeout + maxPause)
}

// HistoryConfig holds retrieval history persistence configuration.
type HistoryConfig struct {
	Path string `yaml:"path" envconfig:"HISTORY_DB_PATH" default:"data/history.db"`
}

// FFmpegConfig holds transcoder binary paths. Empty values fall back to
// PATH lookup.
type FFmpegConfig struct {
	FFmpegPath  string `yaml:"ffmpeg_path" envconfig:"FFMPEG_PATH"`
	FFprobePath string `yaml:"ffprobe_path" envconfig:"FFPROBE_PATH"`
}

// Load reads configuration from file and environment variables.
// Environment variables override file values.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	// Load from YAML file if provided
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	// Override with environment variables
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set.
func (c *Config) Validate() error {
	if c.Fetch.Token == "" {
		return fmt.Errorf("FETCH_TOKEN is required")
	}
	if c.Storage.Root == "" {
		return fmt.Errorf("STORAGE_ROOT is required")
	}
	if c.Fetch.MaxAttempts < 1 {
		return fmt.Errorf("FETCH_MAX_ATTEMPTS must be at least 1")
	}
	if c.Proxy.WindowLimit < 1 {
		return fmt.Errorf("PROXY_WINDOW_LIMIT must be at least 1")
	}
	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
