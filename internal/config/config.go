package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// App holds the runtime configuration loaded from environment variables.
type App struct {
	Env             string
	HTTPPort        string
	RemoteBaseURL   string
	RemoteTimeout   time.Duration
	PollInterval    time.Duration
	TickInterval    time.Duration
	Timezone        string
	TimeLayout      string
	JWTIssuer       string
	JWTSigningKey   string
	LoginTTL        time.Duration
	LoginStore      string
	RedisAddr       string
	RedisPassword   string
	RedisNamespace  string
	DatabaseURL     string
	QueueBackend    string
	RateLimitPerMin int
	LogLevel        string
	LogFormat       string
	CORSOrigins     []string

	// Warnings lists env values that were rejected in favour of defaults.
	Warnings []string
}

// LoadDotenv reads KEY=value pairs from the given files (default ".env")
// into the environment without overriding variables already set. Missing
// files are ignored.
func LoadDotenv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load returns application config populated from environment variables with sensible defaults.
func Load() App {
	l := &loader{}
	cfg := App{
		Env:             l.str("APP_ENV", "dev"),
		HTTPPort:        l.str("HTTP_PORT", "8080"),
		RemoteBaseURL:   l.str("REMOTE_API_BASE", "http://localhost:3000"),
		RemoteTimeout:   l.duration("REMOTE_TIMEOUT", 10*time.Second),
		PollInterval:    l.duration("POLL_INTERVAL", 4*time.Second),
		TickInterval:    l.duration("TICK_INTERVAL", time.Second),
		Timezone:        l.str("TIMEZONE", "Local"),
		TimeLayout:      l.str("TIME_LAYOUT", "02.01.2006 15:04:05"),
		JWTIssuer:       l.str("JWT_ISSUER", "rollcall"),
		JWTSigningKey:   l.str("JWT_SIGNING_KEY", "dev-signing-secret-change"),
		LoginTTL:        l.duration("LOGIN_TTL", 12*time.Hour),
		LoginStore:      l.oneOf("LOGIN_STORE", "memory", "memory", "redis"),
		RedisAddr:       l.str("REDIS_ADDR", "localhost:6379"),
		RedisPassword:   l.str("REDIS_PASSWORD", ""),
		RedisNamespace:  l.str("REDIS_NAMESPACE", "rollcall"),
		DatabaseURL:     l.str("DATABASE_URL", ""),
		QueueBackend:    l.oneOf("QUEUE_BACKEND", "memory", "memory", "redis"),
		RateLimitPerMin: l.integer("RATE_LIMIT_PER_MIN", 30),
		LogLevel:        l.str("LOG_LEVEL", "info"),
		LogFormat:       l.oneOf("LOG_FORMAT", "json", "json", "console"),
		CORSOrigins:     l.list("CORS_ORIGINS"),
	}
	if _, err := cfg.Location(); err != nil {
		l.warn("invalid TIMEZONE %q: %v, using Local", cfg.Timezone, err)
		cfg.Timezone = "Local"
	}
	cfg.Warnings = l.warnings
	return cfg
}

// Production reports whether the app runs in a production environment.
func (a App) Production() bool {
	return a.Env == "production" || a.Env == "prod"
}

// Location resolves Timezone for display formatting.
func (a App) Location() (*time.Location, error) {
	if a.Timezone == "" || a.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(a.Timezone)
}

type loader struct {
	warnings []string
}

func (l *loader) warn(format string, args ...any) {
	l.warnings = append(l.warnings, fmt.Sprintf(format, args...))
}

func (l *loader) str(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func (l *loader) duration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil || d <= 0 {
			l.warn("invalid duration for %s: %q, using fallback %s", key, val, fallback)
			return fallback
		}
		return d
	}
	return fallback
}

func (l *loader) integer(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil && parsed > 0 {
			return parsed
		}
		l.warn("invalid int for %s: %q, using fallback %d", key, val, fallback)
	}
	return fallback
}

func (l *loader) oneOf(key, fallback string, allowed ...string) string {
	val := strings.ToLower(os.Getenv(key))
	if val == "" {
		return fallback
	}
	for _, a := range allowed {
		if val == a {
			return val
		}
	}
	l.warn("invalid value for %s: %q, using fallback %s", key, val, fallback)
	return fallback
}

func (l *loader) list(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
