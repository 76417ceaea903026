package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Environment string
	HTTP        HTTPConfig
	Postgres    PostgresConfig
	Redis       RedisConfig
	Auth        AuthConfig
}

type HTTPConfig struct {
	Addr           string
	AllowedOrigins []string
}

type PostgresConfig struct {
	DatabaseURL string
	Host        string
	Port        string
	User        string
	Password    string
	Database    string
	SSLMode     string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret         string
	AccessTTL         time.Duration
	RefreshTTL        time.Duration
	RefreshTokenBytes int
}

const (
	defaultAccessTTL         = 15 * time.Minute
	defaultRefreshTTL        = 7 * 24 * time.Hour
	defaultRefreshTokenBytes = 32

	// Fallback secret for local development only. Production boots refuse
	// to start without an explicit JWT_SECRET.
	devSecret = "dev-secret"
)

func Load() (Config, error) {
	env := getenv("ENVIRONMENT", "development")

	accessTTL, err := getduration("JWT_ACCESS_TTL", defaultAccessTTL)
	if err != nil {
		return Config{}, err
	}

	refreshTTL, err := getduration("JWT_REFRESH_TTL", defaultRefreshTTL)
	if err != nil {
		return Config{}, err
	}

	refreshBytes, err := getint("REFRESH_TOKEN_BYTES", defaultRefreshTokenBytes)
	if err != nil {
		return Config{}, err
	}
	if refreshBytes < 16 {
		return Config{}, fmt.Errorf("REFRESH_TOKEN_BYTES too small: %d", refreshBytes)
	}

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		if env == "production" {
			return Config{}, fmt.Errorf("JWT_SECRET is required in production")
		}
		secret = devSecret
	}

	redisDB, err := getint("REDIS_DB", 0)
	if err != nil {
		return Config{}, err
	}

	return Config{
		Environment: env,
		HTTP: HTTPConfig{
			Addr:           getenv("HTTP_ADDR", ":8080"),
			AllowedOrigins: splitList(os.Getenv("ALLOWED_ORIGINS")),
		},
		Postgres: PostgresConfig{
			DatabaseURL: os.Getenv("DATABASE_URL"),
			Host:        getenv("PGHOST", "localhost"),
			Port:        getenv("PGPORT", "5432"),
			User:        os.Getenv("PGUSER"),
			Password:    os.Getenv("PGPASSWORD"),
			Database:    os.Getenv("PGDATABASE"),
			SSLMode:     getenv("PGSSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getenv("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Auth: AuthConfig{
			JWTSecret:         secret,
			AccessTTL:         accessTTL,
			RefreshTTL:        refreshTTL,
			RefreshTokenBytes: refreshBytes,
		},
	}, nil
}

func getenv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getduration(key string, fallback time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return parsed, nil
}

func getint(key string, fallback int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}

func splitList(val string) []string {
	if val == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(val, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
