// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, authentication, database drivers, digest
// scheduling, SMTP delivery, rate limiting, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings. The allowed
// origins double as the accepted Origin patterns for WebSocket upgrades.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// AuthConfig defines credential verification settings for the identity
// resolver. DevToken is a development-only shortcut credential and must be
// unset in production (enforced by Load).
type AuthConfig struct {
	JWTSecret   string // JWT_SECRET (HS256 signing secret)
	JWTAudience string // JWT_AUDIENCE (optional "aud" claim check)
	DevToken    string // AUTH_DEV_TOKEN (resolves to a fixed dev identity)
}

// DigestConfig defines the recurring digest job schedule and its worker
// pool limits.
type DigestConfig struct {
	DailyHour      int           // DIGEST_DAILY_HOUR (0-23, local server time)
	WorkStartHour  int           // DIGEST_WORK_START (hourly sweep window start)
	WorkEndHour    int           // DIGEST_WORK_END (hourly sweep window end, exclusive)
	MaxConcurrency int           // DIGEST_MAX_CONCURRENCY (per-job user fan-out)
	UserTimeout    time.Duration // DIGEST_USER_TIMEOUT (per-user budget)
	JobTimeout     time.Duration // DIGEST_JOB_TIMEOUT (whole-firing budget)
}

// SMTPConfig defines the asynchronous e-mail channel used for non-urgent
// digest output. An empty Host disables outbound mail.
type SMTPConfig struct {
	Host        string        // SMTP_HOST
	Port        int           // SMTP_PORT
	Username    string        // SMTP_USERNAME
	Password    string        // SMTP_PASSWORD
	From        string        // SMTP_FROM
	UseTLS      bool          // SMTP_TLS (implicit TLS instead of STARTTLS)
	DialTimeout time.Duration // SMTP_DIAL_TIMEOUT
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-collab-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	AppEnv            string        // development|staging|production
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Data store
	DBDriver string // sqlite|postgres
	DBPath   string // SQLite path (sqlite driver)
	DBDSN    string // Postgres DSN (postgres driver)

	// Auth
	Auth           AuthConfig
	InternalAPIKey string // INTERNAL_API_KEY (guards producer endpoints)

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Background work
	Digest DigestConfig
	SMTP   SMTPConfig

	// Observability
	OTEL OTELConfig
}

// IsProduction reports whether the app runs with production hardening.
func (c Config) IsProduction() bool { return c.AppEnv == "production" }

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
		AppEnv:            strings.ToLower(getenv("APP_ENV", "development")),
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Data store
		DBDriver: strings.ToLower(getenv("DB_DRIVER", "sqlite")),
		DBPath:   getenv("DB_PATH", "app.db"),
		DBDSN:    getenv("DB_DSN", ""),

		// Auth
		Auth: AuthConfig{
			JWTSecret:   getenv("JWT_SECRET", ""),
			JWTAudience: getenv("JWT_AUDIENCE", ""),
			DevToken:    getenv("AUTH_DEV_TOKEN", ""),
		},
		InternalAPIKey: getenv("INTERNAL_API_KEY", ""),

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

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Background work
		Digest: DigestConfig{
			DailyHour:      getint("DIGEST_DAILY_HOUR", 8),
			WorkStartHour:  getint("DIGEST_WORK_START", 9),
			WorkEndHour:    getint("DIGEST_WORK_END", 18),
			MaxConcurrency: getint("DIGEST_MAX_CONCURRENCY", 4),
			UserTimeout:    getdur("DIGEST_USER_TIMEOUT", 10*time.Second),
			JobTimeout:     getdur("DIGEST_JOB_TIMEOUT", 5*time.Minute),
		},
		SMTP: SMTPConfig{
			Host:        getenv("SMTP_HOST", ""),
			Port:        getint("SMTP_PORT", 587),
			Username:    getenv("SMTP_USERNAME", ""),
			Password:    getenv("SMTP_PASSWORD", ""),
			From:        getenv("SMTP_FROM", ""),
			UseTLS:      getbool("SMTP_TLS", false),
			DialTimeout: getdur("SMTP_DIAL_TIMEOUT", 10*time.Second),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-collab-backend"),
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

	// --- validation ---
	switch cfg.AppEnv {
	case "development", "staging", "production":
	default:
		return cfg, errors.New("APP_ENV must be one of: development, staging, production")
	}
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
	switch cfg.DBDriver {
	case "sqlite":
		if strings.TrimSpace(cfg.DBPath) == "" {
			return cfg, errors.New("DB_PATH must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(cfg.DBDSN) == "" {
			return cfg, errors.New("DB_DSN must not be empty when DB_DRIVER=postgres")
		}
	default:
		return cfg, errors.New("DB_DRIVER must be one of: sqlite, postgres")
	}
	if cfg.Auth.JWTSecret == "" && cfg.Auth.DevToken == "" {
		return cfg, errors.New("at least one of JWT_SECRET or AUTH_DEV_TOKEN must be set")
	}
	if cfg.IsProduction() {
		if len(cfg.Auth.JWTSecret) < 32 {
			return cfg, errors.New("JWT_SECRET must be at least 32 bytes in production")
		}
		if cfg.Auth.DevToken != "" {
			return cfg, errors.New("AUTH_DEV_TOKEN must not be set in production")
		}
		if cfg.InternalAPIKey == "" {
			return cfg, errors.New("INTERNAL_API_KEY must be set in production")
		}
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
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.Digest.DailyHour < 0 || cfg.Digest.DailyHour > 23 {
		return cfg, errors.New("DIGEST_DAILY_HOUR must be in [0,23]")
	}
	if cfg.Digest.WorkStartHour < 0 || cfg.Digest.WorkEndHour > 24 || cfg.Digest.WorkStartHour >= cfg.Digest.WorkEndHour {
		return cfg, errors.New("DIGEST_WORK_START/DIGEST_WORK_END must describe a non-empty window within [0,24]")
	}
	if cfg.Digest.MaxConcurrency < 1 {
		return cfg, errors.New("DIGEST_MAX_CONCURRENCY must be >= 1")
	}
	if cfg.Digest.UserTimeout <= 0 || cfg.Digest.JobTimeout <= 0 {
		return cfg, errors.New("digest timeouts must be positive durations")
	}
	if cfg.SMTP.Host != "" {
		if cfg.SMTP.Port <= 0 || cfg.SMTP.Port > 65535 {
			return cfg, errors.New("SMTP_PORT must be in [1,65535]")
		}
		if strings.TrimSpace(cfg.SMTP.From) == "" {
			return cfg, errors.New("SMTP_FROM must be set when SMTP_HOST is set")
		}
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

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
