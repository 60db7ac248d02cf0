package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	devJWTSecret = "taskaza-dev-secret"
	devAPIKey    = "taskaza-dev-api-key"
)

type Config struct {
	Env           string
	Addr          string
	DatabaseURL   string
	MigrationsDir string
	JWTSecret     string
	AccessTTL     time.Duration
	APIKey        string
	// APIKeyPrefix labels user-managed keys: <prefix>_<hex>_<secret>
	APIKeyPrefix   string
	CORSOrigin     string
	FrontendOrigin string
	// SMTP Configuration
	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string
	// Redis - email tokens are disabled when empty
	RedisURL string
}

// Load reads an optional .env file from the working directory, then the
// process environment. Variables already set in the environment win.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return fromEnv(), nil
}

func fromEnv() Config {
	return Config{
		Env:            getenv("TASKAZA_ENV", "development"),
		Addr:           getenv("API_ADDR", ":8000"),
		DatabaseURL:    getenv("DATABASE_URL", "sqlite:./data/taskaza.db"),
		MigrationsDir:  getenv("TASKAZA_MIGRATIONS_DIR", "./db/migrations"),
		JWTSecret:      getenv("TASKAZA_JWT_SECRET", devJWTSecret),
		AccessTTL:      time.Duration(getenvInt("TASKAZA_ACCESS_TTL_MINUTES", 60*24*3)) * time.Minute,
		APIKey:         getenv("TASKAZA_API_KEY", devAPIKey),
		APIKeyPrefix:   getenv("TASKAZA_API_KEY_PREFIX", "tsk"),
		CORSOrigin:     getenv("TASKAZA_CORS_ORIGIN", "*"),
		FrontendOrigin: strings.TrimRight(getenv("TASKAZA_FRONTEND_ORIGIN", "http://localhost:3000"), "/"),
		// SMTP - empty by default, email disabled if not configured
		SMTPHost:     getenv("SMTP_HOST", ""),
		SMTPPort:     getenv("SMTP_PORT", "587"),
		SMTPUsername: getenv("SMTP_USERNAME", ""),
		SMTPPassword: getenv("SMTP_PASSWORD", ""),
		SMTPFrom:     getenv("SMTP_FROM", ""),
		SMTPFromName: getenv("SMTP_FROM_NAME", "Taskaza"),
		RedisURL:     getenv("REDIS_URL", ""),
	}
}

// IsDevelopment reports whether the process runs with development defaults allowed.
func (c Config) IsDevelopment() bool {
	return c.Env == "development" || c.Env == "dev" || c.Env == "test"
}

// Validate rejects settings the server cannot start with. Outside
// development the built-in secrets are refused.
func (c Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return errors.New("DATABASE_URL is required")
	}
	if c.JWTSecret == "" {
		return errors.New("TASKAZA_JWT_SECRET is required")
	}
	if c.APIKey == "" {
		return errors.New("TASKAZA_API_KEY is required")
	}
	if strings.TrimSpace(c.APIKeyPrefix) == "" || strings.ContainsAny(c.APIKeyPrefix, " \t") {
		return errors.New("TASKAZA_API_KEY_PREFIX must be a non-empty word")
	}
	if c.AccessTTL <= 0 {
		return errors.New("TASKAZA_ACCESS_TTL_MINUTES must be positive")
	}
	if !c.IsDevelopment() {
		if c.JWTSecret == devJWTSecret {
			return errors.New("TASKAZA_JWT_SECRET must be set outside development")
		}
		if c.APIKey == devAPIKey {
			return errors.New("TASKAZA_API_KEY must be set outside development")
		}
	}
	return nil
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
