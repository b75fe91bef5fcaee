package internal

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

type Config struct {
	StartGGAPIKey      string
	StartGGBaseURL     string
	StartGGMaxPages    int
	StartGGSetsPerPage int
	StartGGTimeout     time.Duration

	CharacterStore string
	SQLitePath     string

	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDb       string
	PostgresSSLMode  string

	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	NATSUrl      string
	NATSClientID string

	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string
	R2PublicBaseURL   string

	IconDir   string
	OutputDir string

	FilterHue        float64
	FilterSaturation float64
	FilterLightness  float64

	RateLimitRequests    int
	RateLimitWindow      time.Duration
	RateLimitRedisPrefix string

	// TrustProxyHeaders makes the client IP come from X-Forwarded-For or
	// X-Real-IP. Only enable it behind a proxy that overwrites them.
	TrustProxyHeaders bool

	AppPort  string
	AppEnv   string
	LogLevel string

	CacheEnabled   bool
	NATSEnabled    bool
	StorageEnabled bool
}

func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		StartGGAPIKey:  firstNonEmpty(os.Getenv("STARTGG_API_KEY"), os.Getenv("VITE_STARTGG_KEY")),
		StartGGBaseURL: getEnv("STARTGG_BASE_URL", "https://api.start.gg/gql/alpha"),

		CharacterStore: strings.ToLower(getEnv("CHARACTER_STORE", StoreSQLite)),
		SQLitePath:     getEnv("SQLITE_PATH", "character-cache.db"),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     os.Getenv("POSTGRES_USER"),
		PostgresPassword: os.Getenv("POSTGRES_PASSWORD"),
		PostgresDb:       os.Getenv("POSTGRES_DB"),
		PostgresSSLMode:  getEnv("POSTGRES_SSL_MODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		NATSUrl:      getEnv("NATS_URL", "nats://localhost:4222"),
		NATSClientID: getEnv("NATS_CLIENT_ID", "top8-core"),

		R2AccountID:       os.Getenv("R2_ACCOUNT_ID"),
		R2AccessKeyID:     os.Getenv("R2_ACCESS_KEY_ID"),
		R2SecretAccessKey: os.Getenv("R2_SECRET_ACCESS_KEY"),
		R2BucketName:      os.Getenv("R2_BUCKET_NAME"),
		R2PublicBaseURL:   os.Getenv("R2_PUBLIC_BASE_URL"),

		IconDir:   getEnv("ICON_DIR", "assets/stockicons"),
		OutputDir: os.Getenv("OUTPUT_DIR"),

		RateLimitRedisPrefix: getEnv("RATE_LIMIT_REDIS_PREFIX", "top8:ratelimit"),

		AppPort:  getEnv("APP_PORT", "8000"),
		AppEnv:   getEnv("APP_ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		CacheEnabled:   getBool("CACHE_ENABLED", true),
		NATSEnabled:    getBool("NATS_ENABLED", false),
		StorageEnabled: getBool("STORAGE_ENABLED", false),

		TrustProxyHeaders: getBool("TRUST_PROXY_HEADERS", false),
	}

	var err error
	if cfg.StartGGMaxPages, err = getInt("STARTGG_MAX_PAGES", 10); err != nil {
		return nil, err
	}
	if cfg.StartGGSetsPerPage, err = getInt("STARTGG_SETS_PER_PAGE", 50); err != nil {
		return nil, err
	}
	if cfg.StartGGTimeout, err = getDuration("STARTGG_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.RedisDB, err = getInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.RateLimitRequests, err = getInt("RATE_LIMIT_REQUESTS", 6); err != nil {
		return nil, err
	}
	if cfg.RateLimitWindow, err = getDuration("RATE_LIMIT_WINDOW", time.Minute); err != nil {
		return nil, err
	}
	if cfg.FilterHue, err = getFloat("FILTER_HUE", 24); err != nil {
		return nil, err
	}
	if cfg.FilterSaturation, err = getFloat("FILTER_SATURATION", 26); err != nil {
		return nil, err
	}
	if cfg.FilterLightness, err = getFloat("FILTER_LIGHTNESS", 0); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints. A missing start.gg key is not an
// error here; it is reported when a request actually needs it.
func (c *Config) Validate() error {
	if c.StartGGMaxPages < 1 {
		return fmt.Errorf("STARTGG_MAX_PAGES must be at least 1, got %d", c.StartGGMaxPages)
	}
	if c.StartGGSetsPerPage < 1 {
		return fmt.Errorf("STARTGG_SETS_PER_PAGE must be at least 1, got %d", c.StartGGSetsPerPage)
	}
	if c.RateLimitRequests < 1 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be at least 1, got %d", c.RateLimitRequests)
	}
	if c.RateLimitWindow < time.Second {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be at least 1s, got %v", c.RateLimitWindow)
	}
	switch c.CharacterStore {
	case StoreSQLite, StorePostgres:
	case StoreRedis:
		if !c.CacheEnabled {
			return fmt.Errorf("CHARACTER_STORE=redis requires CACHE_ENABLED=true")
		}
	default:
		return fmt.Errorf("unknown CHARACTER_STORE %q", c.CharacterStore)
	}
	port, err := strconv.Atoi(c.AppPort)
	if err != nil {
		return fmt.Errorf("invalid APP_PORT: %w", err)
	}
	if port <= 0 || port > 65535 {
		return fmt.Errorf("APP_PORT must be between 1 and 65535, got %d", port)
	}
	switch LogLevel(c.LogLevel) {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
	default:
		return fmt.Errorf("unknown LOG_LEVEL %q", c.LogLevel)
	}
	return nil
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.PostgresHost,
		c.PostgresPort,
		c.PostgresUser,
		c.PostgresPassword,
		c.PostgresDb,
		c.PostgresSSLMode,
	)
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return fallback
	}
	return v == "true" || v == "1" || v == "yes"
}

func getInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getFloat(key string, fallback float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
