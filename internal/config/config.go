package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/dustin/qpaper/internal/logging"
)

type Config struct {
	ListenAddr       string
	DBPath           string
	DBMaxConnections int
	DBQueryTimeout   time.Duration

	LogLevel  logging.Level
	LogFormat logging.Format

	AuthUsername            string
	AuthPassword            string
	LoginRateLimitPerMinute int
	MaxUploadBytes          int64
	AllowSignup             bool
	TrustProxyHeaders       bool

	MaxMindDBPath string
	Timezone      string

	VisitorCookieName   string
	VisitorCookieMaxAge time.Duration

	AnalyticsWindowDays    int
	AnalyticsSkipBots      bool
	AnalyticsRecordTimeout time.Duration

	SessionCleanupSchedule string
}

// Load reads configuration from the environment. A .env file in the
// working directory is applied first when present; real environment
// variables take precedence over it.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		ListenAddr:       getEnv("LISTEN_ADDR", ":8080"),
		DBPath:           getEnv("DB_PATH", "./data/qpaper.db"),
		DBMaxConnections: getEnvInt("DB_MAX_CONNECTIONS", 1),
		DBQueryTimeout:   getEnvDuration("DB_QUERY_TIMEOUT", 30*time.Second),

		LogLevel:  logging.ParseLevel(getEnv("LOG_LEVEL", "INFO")),
		LogFormat: logging.ParseFormat(getEnv("LOG_FORMAT", "text")),

		AuthUsername:            os.Getenv("AUTH_USERNAME"),
		AuthPassword:            os.Getenv("AUTH_PASSWORD"),
		LoginRateLimitPerMinute: getEnvInt("LOGIN_RATE_LIMIT_PER_MINUTE", 10),
		MaxUploadBytes:          getEnvInt64("MAX_UPLOAD_BYTES", 20<<20),
		AllowSignup:             getEnvBool("ALLOW_SIGNUP", false),
		TrustProxyHeaders:       getEnvBool("TRUST_PROXY_HEADERS", false),

		MaxMindDBPath: os.Getenv("MAXMIND_DB_PATH"),
		Timezone:      os.Getenv("TIMEZONE"),

		VisitorCookieName:   getEnv("VISITOR_COOKIE_NAME", "visitor_id"),
		VisitorCookieMaxAge: getEnvDuration("VISITOR_COOKIE_MAX_AGE", 30*24*time.Hour),

		AnalyticsWindowDays:    getEnvInt("ANALYTICS_WINDOW_DAYS", 7),
		AnalyticsSkipBots:      getEnvBool("ANALYTICS_SKIP_BOTS", true),
		AnalyticsRecordTimeout: getEnvDuration("ANALYTICS_RECORD_TIMEOUT", 2*time.Second),

		SessionCleanupSchedule: getEnv("SESSION_CLEANUP_SCHEDULE", "@hourly"),
	}

	return cfg
}

// AuthEnabled returns true if both AUTH_USERNAME and AUTH_PASSWORD are set.
func (c Config) AuthEnabled() bool {
	return c.AuthUsername != "" && c.AuthPassword != ""
}

// Location returns the time zone used to bucket visits into calendar days.
// An empty or unknown TIMEZONE falls back to the server's local zone.
func (c Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		slog.Warn("invalid TIMEZONE, using server local time", "value", c.Timezone, "error", err)
		return time.Local
	}
	return loc
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(val))
	if err != nil {
		slog.Warn("invalid bool environment variable", "key", key, "value", val, "error", err)
		return def
	}
	return parsed
}

func getEnvInt(key string, def int) int {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		slog.Warn("invalid int environment variable", "key", key, "value", val, "error", err)
		return def
	}
	return parsed
}

func getEnvInt64(key string, def int64) int64 {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	parsed, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
	if err != nil {
		slog.Warn("invalid int64 environment variable", "key", key, "value", val, "error", err)
		return def
	}
	return parsed
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(val))
	if err != nil {
		slog.Warn("invalid duration environment variable", "key", key, "value", val, "error", err)
		return def
	}
	return parsed
}
