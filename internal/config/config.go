package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	// Hosted auth/profile backend
	Backend BackendConfig

	// Web frontend
	Server ServerConfig

	// Local state database (visitor tokens and persisted identity)
	Database DatabaseConfig

	// Local stand-in backend used for development
	DevBackend DevBackendConfig

	// Logging Configuration
	Logging LoggingConfig
}

// BackendConfig points at the hosted auth and table service
type BackendConfig struct {
	URL     string
	AnonKey string
	Timeout time.Duration
}

// ServerConfig holds web frontend configuration
type ServerConfig struct {
	ListenAddr string
	// SiteURL is the public origin, used for password reset redirect targets
	SiteURL              string
	CORSOrigins          []string
	VisitorIdleTTL       time.Duration
	TokenRefreshSchedule string // cron spec, e.g. "@every 1m"
	SecureCookies        bool
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	URL string
}

// DevBackendConfig holds configuration for cmd/devbackend
type DevBackendConfig struct {
	ListenAddr   string
	DatabaseURL  string
	JWTSecret    string
	AccessTTL    time.Duration
	BcryptCost   int
	SeedFile     string
	SignupsPerHr int
	// Autoconfirm starts a session at sign-up instead of requiring email
	// confirmation
	Autoconfirm bool
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level  string
	Format string // json, console
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env files (fails silently if files don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	backendTimeout, err := durationEnv("BACKEND_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, err
	}
	idleTTL, err := durationEnv("VISITOR_IDLE_TTL", 2*time.Hour)
	if err != nil {
		return nil, err
	}
	accessTTL, err := durationEnv("DEV_ACCESS_TTL", time.Hour)
	if err != nil {
		return nil, err
	}
	bcryptCost, err := intEnv("DEV_BCRYPT_COST", 10)
	if err != nil {
		return nil, err
	}
	signups, err := intEnv("DEV_SIGNUPS_PER_HOUR", 30)
	if err != nil {
		return nil, err
	}

	listenAddr := stringEnv("LISTEN_ADDR", ":8080")

	return &Config{
		Backend: BackendConfig{
			URL:     strings.TrimRight(stringEnv("BACKEND_URL", "http://localhost:9999"), "/"),
			AnonKey: os.Getenv("BACKEND_ANON_KEY"),
			Timeout: backendTimeout,
		},
		Server: ServerConfig{
			ListenAddr:           listenAddr,
			SiteURL:              strings.TrimRight(stringEnv("SITE_URL", "http://localhost"+listenAddr), "/"),
			CORSOrigins:          splitList(stringEnv("CORS_ORIGINS", "http://localhost:5173")),
			VisitorIdleTTL:       idleTTL,
			TokenRefreshSchedule: stringEnv("TOKEN_REFRESH_SCHEDULE", "@every 1m"),
			SecureCookies:        os.Getenv("SECURE_COOKIES") == "true",
		},
		Database: DatabaseConfig{
			URL: stringEnv("DATABASE_URL", "tutorportal.sqlite"),
		},
		DevBackend: DevBackendConfig{
			ListenAddr:   stringEnv("DEV_LISTEN_ADDR", ":9999"),
			DatabaseURL:  stringEnv("DEV_DATABASE_URL", "devbackend.sqlite"),
			JWTSecret:    stringEnv("DEV_JWT_SECRET", "dev-secret-change-me"),
			AccessTTL:    accessTTL,
			BcryptCost:   bcryptCost,
			SeedFile:     os.Getenv("DEV_SEED_FILE"),
			SignupsPerHr: signups,
			Autoconfirm:  os.Getenv("DEV_AUTOCONFIRM") != "false",
		},
		Logging: LoggingConfig{
			// Defaults suitable for production
			Level:  stringEnv("LOG_LEVEL", "info"),
			Format: stringEnv("LOG_FORMAT", "json"),
		},
	}, nil
}

func stringEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
