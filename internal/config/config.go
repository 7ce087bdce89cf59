// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, database DSNs, the publish pipeline
// policy knobs, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// QueueConfig bounds the source-queue claim and retry policy.
type QueueConfig struct {
	MaxAttempts       int // retry budget before an item turns terminal failed
	ClaimScanLimit    int // pending candidates scanned (and locked) per claim
	RecentPostedLimit int // posted rows consulted for host-diversity scoring
}

// ScrapeConfig configures source-page fetching.
type ScrapeConfig struct {
	Timeout   time.Duration
	UserAgent string
	MinChars  int // below this, fall back to full-page text extraction
}

// RewriteConfig configures the AI rewriter and its guardrails.
type RewriteConfig struct {
	Enabled      bool
	Required     bool // when true, a failed rewrite fails the item instead of falling back
	Endpoint     string
	Model        string
	APIKey       string
	SystemPrompt string
	Timeout      time.Duration
	MaxSourceLen int // source content bytes sent to the model
}

// FacebookConfig configures Graph API cross-posting.
type FacebookConfig struct {
	Enabled   bool
	GraphBase string // override for tests; defaults to the public Graph host
	PageID    string
	PageToken string
	Timeout   time.Duration
}

// BlocklistConfig carries operator deny lists. Hosts and title substrings can
// come from CSV env vars, a YAML file, or both (merged).
type BlocklistConfig struct {
	Hosts           []string
	TitleSubstrings []string
	FilePath        string // optional YAML file with hosts/titles keys
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	GinMode           string // debug|release|test

	// Logging
	LogLevel    string // debug|info|warn|error|fatal|panic
	LogPretty   bool
	APIBasePath string

	// App
	DatabaseURL     string // postgres DSN or sqlite file path
	SiteURL         string // canonical site base for share links
	DefaultCategory string
	CronSecret      string // protects the publish entry point
	AdminSecret     string // protects enqueue/delete; falls back to CronSecret
	PublishCooldown time.Duration
	SlugMaxAttempts int
	ExcerptMaxLen   int

	// Pipeline
	Queue     QueueConfig
	Scrape    ScrapeConfig
	Rewrite   RewriteConfig
	Facebook  FacebookConfig
	Blocklist BlocklistConfig

	// Rate limiting
	RateRPS   float64
	RateBurst int

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 120*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:    strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:   getbool("LOG_PRETTY", false),
		APIBasePath: normalizeBasePath(getenv("API_BASE_PATH", "/api")),

		// App
		DatabaseURL:     getenv("DATABASE_URL", "app.db"),
		SiteURL:         strings.TrimRight(getenv("SITE_URL", ""), "/"),
		DefaultCategory: getenv("DEFAULT_CATEGORY", "news"),
		CronSecret:      getenv("CRON_SECRET", ""),
		AdminSecret:     getenv("ADMIN_SECRET", ""),
		PublishCooldown: getdur("PUBLISH_COOLDOWN", 20*time.Minute),
		SlugMaxAttempts: getint("SLUG_MAX_ATTEMPTS", 20),
		ExcerptMaxLen:   getint("EXCERPT_MAX_LEN", 160),

		Queue: QueueConfig{
			MaxAttempts:       getint("MAX_ATTEMPTS", 5),
			ClaimScanLimit:    getint("CLAIM_SCAN_LIMIT", 200),
			RecentPostedLimit: getint("RECENT_POSTED_LIMIT", 2000),
		},

		Scrape: ScrapeConfig{
			Timeout:   getdur("SCRAPE_TIMEOUT", 20*time.Second),
			UserAgent: getenv("SCRAPE_USER_AGENT", "Mozilla/5.0 (compatible; NewsPublishBot/1.0)"),
			MinChars:  getint("SCRAPE_MIN_CHARS", 200),
		},

		Rewrite: RewriteConfig{
			Enabled:      getbool("REWRITE_ENABLED", true),
			Required:     getbool("REWRITE_REQUIRED", false),
			Endpoint:     getenv("OPENAI_ENDPOINT", "https://api.openai.com/v1/chat/completions"),
			Model:        getenv("OPENAI_MODEL", "gpt-4o-mini"),
			APIKey:       getenv("OPENAI_API_KEY", ""),
			SystemPrompt: getenv("REWRITE_SYSTEM_PROMPT", "You are a helpful news editor."),
			Timeout:      getdur("REWRITE_TIMEOUT", 60*time.Second),
			MaxSourceLen: getint("REWRITE_MAX_SOURCE_LEN", 12000),
		},

		Facebook: FacebookConfig{
			Enabled:   getbool("FB_ENABLED", true),
			GraphBase: getenv("FB_GRAPH_BASE", "https://graph.facebook.com/v19.0"),
			PageID:    getenv("FB_PAGE_ID", ""),
			PageToken: getenv("FB_PAGE_TOKEN", ""),
			Timeout:   getdur("FB_API_TIMEOUT", 30*time.Second),
		},

		Blocklist: BlocklistConfig{
			Hosts:           splitCSV(getenv("BLOCKED_SOURCE_HOSTS", "")),
			TitleSubstrings: splitCSV(getenv("BLOCKED_TITLE_SUBSTRINGS", "")),
			FilePath:        getenv("BLOCKLIST_FILE", ""),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-news-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	if cfg.AdminSecret == "" {
		cfg.AdminSecret = cfg.CronSecret
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return cfg, errors.New("DATABASE_URL must not be empty")
	}
	if cfg.Queue.MaxAttempts < 1 {
		return cfg, errors.New("MAX_ATTEMPTS must be >= 1")
	}
	if cfg.Queue.ClaimScanLimit < 1 {
		return cfg, errors.New("CLAIM_SCAN_LIMIT must be >= 1")
	}
	if cfg.Queue.RecentPostedLimit < 0 {
		return cfg, errors.New("RECENT_POSTED_LIMIT must be >= 0")
	}
	if cfg.PublishCooldown < 0 {
		return cfg, errors.New("PUBLISH_COOLDOWN must be >= 0")
	}
	if cfg.SlugMaxAttempts < 1 {
		return cfg, errors.New("SLUG_MAX_ATTEMPTS must be >= 1")
	}
	if cfg.ExcerptMaxLen < 16 {
		return cfg, errors.New("EXCERPT_MAX_LEN must be >= 16")
	}
	if cfg.Scrape.Timeout <= 0 || cfg.Rewrite.Timeout <= 0 || cfg.Facebook.Timeout <= 0 {
		return cfg, errors.New("upstream timeouts must be positive durations")
	}
	if cfg.Rewrite.Required && !cfg.Rewrite.Enabled {
		return cfg, errors.New("REWRITE_REQUIRED=true needs REWRITE_ENABLED=true")
	}
	if cfg.Facebook.Enabled && (cfg.Facebook.PageID == "") != (cfg.Facebook.PageToken == "") {
		return cfg, errors.New("FB_PAGE_ID and FB_PAGE_TOKEN must be set together")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || p == "/" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return strings.TrimRight(p, "/")
}
