package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/livetemplate/formwizard/internal/security"
)

// EnvPrefix prefixes every environment override, e.g. FORMWIZARD_SERVER_PORT.
const EnvPrefix = "FORMWIZARD_"

// Config represents the formwizard configuration
type Config struct {
	Title      string           `yaml:"title" env:"TITLE"`
	LogLevel   string           `yaml:"log_level" env:"LOG_LEVEL"` // debug, info, warn, error
	Server     ServerConfig     `yaml:"server" envPrefix:"SERVER_"`
	Storage    StorageConfig    `yaml:"storage" envPrefix:"STORAGE_"`
	Autosave   AutosaveConfig   `yaml:"autosave" envPrefix:"AUTOSAVE_"`
	Submission SubmissionConfig `yaml:"submission" envPrefix:"SUBMISSION_"`
	I18n       I18nConfig       `yaml:"i18n" envPrefix:"I18N_"`
	API        APIConfig        `yaml:"api" envPrefix:"API_"`
}

// ServerConfig holds the HTTP listener settings
type ServerConfig struct {
	Port        int    `yaml:"port" env:"PORT"`
	Host        string `yaml:"host" env:"HOST"`
	Debug       bool   `yaml:"debug" env:"DEBUG"`
	SessionIdle string `yaml:"session_idle,omitempty" env:"SESSION_IDLE"` // Drop in-memory sessions idle this long (default: 30m)
}

// Storage drivers
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

// StorageConfig selects and configures the key-value backend that holds
// autosaved form data.
type StorageConfig struct {
	Driver    string         `yaml:"driver" env:"DRIVER"`         // "memory", "sqlite", "redis", "postgres"
	KeyPrefix string         `yaml:"key_prefix" env:"KEY_PREFIX"` // Prefix for every stored key (default: formwizard)
	TTL       string         `yaml:"ttl,omitempty" env:"TTL"`     // Expiry for stored drafts (e.g., "720h"). Empty = no expiry
	SQLite    SQLiteConfig   `yaml:"sqlite" envPrefix:"SQLITE_"`
	Redis     RedisConfig    `yaml:"redis" envPrefix:"REDIS_"`
	Postgres  PostgresConfig `yaml:"postgres" envPrefix:"POSTGRES_"`
}

// SQLiteConfig configures the sqlite driver
type SQLiteConfig struct {
	Path  string `yaml:"path" env:"PATH"`   // Database file (default: ./formwizard.db)
	Table string `yaml:"table" env:"TABLE"` // Table name (default: drafts)
}

// RedisConfig configures the redis driver
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password,omitempty" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
}

// PostgresConfig configures the postgres driver
type PostgresConfig struct {
	DSN   string `yaml:"dsn,omitempty" env:"DSN"` // Falls back to DATABASE_URL
	Table string `yaml:"table" env:"TABLE"`
}

// AutosaveConfig controls the debounced save
type AutosaveConfig struct {
	Debounce string `yaml:"debounce" env:"DEBOUNCE"` // Quiet period before a save (default: 1s)
}

// SubmissionConfig controls where completed forms go. Without a webhook URL
// submissions hit a simulated endpoint.
type SubmissionConfig struct {
	Delay       string  `yaml:"delay" env:"DELAY"`               // Simulated round trip (default: 2s)
	FailureRate float64 `yaml:"failure_rate" env:"FAILURE_RATE"` // Fraction of submissions that fail, 0..1

	WebhookURL    string `yaml:"webhook_url,omitempty" env:"WEBHOOK_URL"`       // POST completed forms here
	WebhookSecret string `yaml:"webhook_secret,omitempty" env:"WEBHOOK_SECRET"` // HMAC-SHA256 key; supports ${VAR}
	Timeout       string `yaml:"timeout,omitempty" env:"TIMEOUT"`               // Webhook request timeout (default: 10s)
	Retries       int    `yaml:"retries,omitempty" env:"RETRIES"`               // Extra attempts on transient failures
	AllowPrivate  bool   `yaml:"allow_private,omitempty" env:"ALLOW_PRIVATE"`   // Permit webhook hosts on internal networks
}

// I18nConfig controls message catalogs
type I18nConfig struct {
	DefaultLanguage string `yaml:"default_language" env:"DEFAULT_LANGUAGE"`
	Dir             string `yaml:"dir,omitempty" env:"DIR"` // Directory of catalog overrides (<lang>.yaml)
	Watch           bool   `yaml:"watch" env:"WATCH"`       // Reload overrides when files change
}

// APIConfig configures cross-origin access and rate limiting
type APIConfig struct {
	CORS      *CORSConfig      `yaml:"cors,omitempty"`
	RateLimit *RateLimitConfig `yaml:"rate_limit,omitempty"`
}

// CORSConfig configures CORS headers
type CORSConfig struct {
	Origins []string `yaml:"origins,omitempty"` // Allowed origins (e.g., ["http://localhost:3000", "*"])
}

// RateLimitConfig configures request throttling. Rate and burst apply per
// session; a client address gets IPFactor times as much, shared by every
// session behind it.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty"` // Per-session rate (default: 10)
	Burst             int     `yaml:"burst,omitempty"`               // Per-session burst (default: 20)
	IPFactor          int     `yaml:"ip_factor,omitempty"`           // Per-address multiple of the session allowance (default: 10)
	MaxTracked        int     `yaml:"max_tracked,omitempty"`         // Buckets kept before LRU eviction (default: 10000)
}

// GetDebounce returns the autosave quiet period (default: 1s)
func (c AutosaveConfig) GetDebounce() time.Duration {
	return parseDuration(c.Debounce, time.Second)
}

// GetDelay returns the simulated submission delay (default: 2s)
func (c SubmissionConfig) GetDelay() time.Duration {
	return parseDuration(c.Delay, 2*time.Second)
}

// GetTimeout returns the webhook request timeout (default: 10s)
func (c SubmissionConfig) GetTimeout() time.Duration {
	return parseDuration(c.Timeout, 10*time.Second)
}

// GetWebhookSecret returns the webhook secret with environment variable expansion
func (c SubmissionConfig) GetWebhookSecret() string {
	if c.WebhookSecret == "" {
		return ""
	}
	return os.ExpandEnv(c.WebhookSecret)
}

// GetSessionIdle returns how long an unused session stays in memory (default: 30m)
func (c ServerConfig) GetSessionIdle() time.Duration {
	return parseDuration(c.SessionIdle, 30*time.Minute)
}

// GetTTL returns the draft expiry (0 = never)
func (c StorageConfig) GetTTL() time.Duration {
	return parseDuration(c.TTL, 0)
}

// GetKeyPrefix returns the key prefix (default: formwizard)
func (c StorageConfig) GetKeyPrefix() string {
	if c.KeyPrefix == "" {
		return "formwizard"
	}
	return c.KeyPrefix
}

// GetDSN returns the postgres DSN, falling back to DATABASE_URL
func (c PostgresConfig) GetDSN() string {
	if c.DSN != "" {
		return os.ExpandEnv(c.DSN)
	}
	return os.Getenv("DATABASE_URL")
}

// GetCORSOrigins returns the configured CORS origins
func (c *APIConfig) GetCORSOrigins() []string {
	if c == nil || c.CORS == nil {
		return nil
	}
	return c.CORS.Origins
}

// GetRateLimitRPS returns the rate limit (default: 10)
func (c *APIConfig) GetRateLimitRPS() float64 {
	if c == nil || c.RateLimit == nil || c.RateLimit.RequestsPerSecond <= 0 {
		return 10
	}
	return c.RateLimit.RequestsPerSecond
}

// GetRateLimitBurst returns the burst size (default: 20)
func (c *APIConfig) GetRateLimitBurst() int {
	if c == nil || c.RateLimit == nil || c.RateLimit.Burst <= 0 {
		return 20
	}
	return c.RateLimit.Burst
}

// GetIPFactor returns the per-address multiple of the session allowance (default: 10)
func (c *APIConfig) GetIPFactor() int {
	if c == nil || c.RateLimit == nil || c.RateLimit.IPFactor <= 0 {
		return 10
	}
	return c.RateLimit.IPFactor
}

// GetMaxTracked returns the rate limiter's LRU capacity (default: 10000)
func (c *APIConfig) GetMaxTracked() int {
	if c == nil || c.RateLimit == nil || c.RateLimit.MaxTracked <= 0 {
		return 10000
	}
	return c.RateLimit.MaxTracked
}

// Addr returns the listen address
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Title:    "User Onboarding",
		LogLevel: "info",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Driver:    DriverSQLite,
			KeyPrefix: "formwizard",
			SQLite: SQLiteConfig{
				Path:  "./formwizard.db",
				Table: "drafts",
			},
			Redis: RedisConfig{
				Addr: "localhost:6379",
			},
			Postgres: PostgresConfig{
				Table: "formwizard_drafts",
			},
		},
		Autosave: AutosaveConfig{
			Debounce: "1s",
		},
		Submission: SubmissionConfig{
			Delay: "2s",
		},
		I18n: I18nConfig{
			DefaultLanguage: "en",
		},
	}
}

// Load loads configuration from a YAML file, then applies environment
// overrides. If the file doesn't exist, the defaults are used.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case os.IsNotExist(err):
			// defaults
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFromDir looks for formwizard.yaml (then formwizard.yml) in dir.
// If neither exists, defaults plus environment overrides are returned.
func LoadFromDir(dir string) (*Config, error) {
	for _, name := range []string{"formwizard.yaml", "formwizard.yml"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return Load("")
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	switch c.Storage.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Storage.SQLite.Table == "" {
			return fmt.Errorf("storage.sqlite.table is required")
		}
	case DriverRedis:
		if c.Storage.Redis.Addr == "" {
			return fmt.Errorf("storage.redis.addr is required")
		}
	case DriverPostgres:
		if c.Storage.Postgres.GetDSN() == "" {
			return fmt.Errorf("storage.postgres.dsn is required (or set DATABASE_URL)")
		}
	default:
		return fmt.Errorf("unsupported storage driver: %q", c.Storage.Driver)
	}

	for name, d := range map[string]string{
		"autosave.debounce":   c.Autosave.Debounce,
		"submission.delay":    c.Submission.Delay,
		"storage.ttl":         c.Storage.TTL,
		"server.session_idle": c.Server.SessionIdle,
		"submission.timeout":  c.Submission.Timeout,
	} {
		if d == "" {
			continue
		}
		if _, err := time.ParseDuration(d); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, d, err)
		}
	}

	if c.Submission.FailureRate < 0 || c.Submission.FailureRate > 1 {
		return fmt.Errorf("submission.failure_rate must be between 0 and 1, got %v", c.Submission.FailureRate)
	}

	if c.Submission.WebhookURL != "" {
		policy := security.URLPolicy{AllowPrivate: c.Submission.AllowPrivate}
		if err := policy.Check(c.Submission.WebhookURL); err != nil {
			return fmt.Errorf("invalid submission.webhook_url %q: %w", c.Submission.WebhookURL, err)
		}
	}
	if c.Submission.Retries < 0 {
		return fmt.Errorf("submission.retries must not be negative, got %d", c.Submission.Retries)
	}

	if c.I18n.DefaultLanguage == "" {
		return fmt.Errorf("i18n.default_language is required")
	}
	return nil
}

// Save writes the configuration to a YAML file
func (c *Config) Save(configPath string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
