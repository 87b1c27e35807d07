package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	LogLevel    string   `mapstructure:"LOG_LEVEL"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	SessionSecret string        `mapstructure:"SESSION_SECRET"`
	SessionTTL    time.Duration `mapstructure:"SESSION_TTL"`

	GeminiAPIKey   string        `mapstructure:"GEMINI_API_KEY"`
	GeminiModel    string        `mapstructure:"GEMINI_MODEL"`
	GeminiBaseURL  string        `mapstructure:"GEMINI_BASE_URL"`
	SummaryTimeout time.Duration `mapstructure:"SUMMARY_TIMEOUT"`

	// Zero for both classifies immediately.
	ClassifyMinDelay time.Duration `mapstructure:"CLASSIFY_MIN_DELAY"`
	ClassifyMaxDelay time.Duration `mapstructure:"CLASSIFY_MAX_DELAY"`
	ListLatency      time.Duration `mapstructure:"LIST_LATENCY"`
	SeedDemoData     bool          `mapstructure:"SEED_DEMO_DATA"`

	MaxUploadSize     string        `mapstructure:"MAX_UPLOAD_SIZE"`
	BlobEncryptionKey string        `mapstructure:"BLOB_ENCRYPTION_KEY"`
	RequestTimeout    time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	RateLimitRPS      float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst    int           `mapstructure:"RATE_LIMIT_BURST"`

	RedisURL     string `mapstructure:"REDIS_URL"`
	RedisChannel string `mapstructure:"REDIS_CHANNEL"`

	MetricsEnabled bool `mapstructure:"METRICS_ENABLED"`

	WebhookURLs   []string `mapstructure:"WEBHOOK_URLS"`
	WebhookSecret string   `mapstructure:"WEBHOOK_SECRET"`

	TLSEnabled  bool   `mapstructure:"TLS_ENABLED"`
	TLSCertFile string `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile  string `mapstructure:"TLS_KEY_FILE"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "CORS_ORIGINS",
	"SESSION_SECRET", "SESSION_TTL",
	"GEMINI_API_KEY", "GEMINI_MODEL", "GEMINI_BASE_URL", "SUMMARY_TIMEOUT",
	"CLASSIFY_MIN_DELAY", "CLASSIFY_MAX_DELAY", "LIST_LATENCY", "SEED_DEMO_DATA",
	"MAX_UPLOAD_SIZE", "BLOB_ENCRYPTION_KEY", "REQUEST_TIMEOUT", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"REDIS_URL", "REDIS_CHANNEL",
	"METRICS_ENABLED",
	"WEBHOOK_URLS", "WEBHOOK_SECRET",
	"TLS_ENABLED", "TLS_CERT_FILE", "TLS_KEY_FILE",
}

// Load reads configuration from the environment, with an optional .env file
// in the working directory underneath it.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("SESSION_TTL", "12h")
	v.SetDefault("GEMINI_MODEL", "gemini-2.5-flash")
	v.SetDefault("SUMMARY_TIMEOUT", "30s")
	v.SetDefault("CLASSIFY_MIN_DELAY", "8s")
	v.SetDefault("CLASSIFY_MAX_DELAY", "13s")
	v.SetDefault("LIST_LATENCY", "500ms")
	v.SetDefault("SEED_DEMO_DATA", true)
	v.SetDefault("MAX_UPLOAD_SIZE", "100M")
	v.SetDefault("REQUEST_TIMEOUT", "60s")
	v.SetDefault("RATE_LIMIT_RPS", 5)
	v.SetDefault("RATE_LIMIT_BURST", 20)
	v.SetDefault("REDIS_CHANNEL", "neuroscribe.patients")
	v.SetDefault("METRICS_ENABLED", true)

	// Bind explicitly so Unmarshal sees keys with no default.
	for _, k := range keys {
		v.BindEnv(k)
	}

	// The .env file is optional.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// A comma-separated env value arrives as a single element.
	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	cfg.WebhookURLs = splitList(v.GetString("WEBHOOK_URLS"))

	return cfg, nil
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if c.IsProduction() && c.SessionSecret == "" {
		return fmt.Errorf("SESSION_SECRET is required in production")
	}
	if c.IsProduction() && len(c.SessionSecret) < 32 {
		return fmt.Errorf("SESSION_SECRET must be at least 32 characters in production, got %d", len(c.SessionSecret))
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive, got %s", c.SessionTTL)
	}

	if c.ClassifyMinDelay < 0 {
		return fmt.Errorf("CLASSIFY_MIN_DELAY must not be negative, got %s", c.ClassifyMinDelay)
	}
	if c.ClassifyMaxDelay < c.ClassifyMinDelay {
		return fmt.Errorf("CLASSIFY_MAX_DELAY (%s) must not be less than CLASSIFY_MIN_DELAY (%s)",
			c.ClassifyMaxDelay, c.ClassifyMinDelay)
	}
	if c.ListLatency < 0 {
		return fmt.Errorf("LIST_LATENCY must not be negative, got %s", c.ListLatency)
	}
	if c.IsProduction() && c.BlobEncryptionKey == "" {
		return fmt.Errorf("BLOB_ENCRYPTION_KEY is required in production")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}

	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}

	return nil
}
