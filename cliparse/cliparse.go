// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package cliparse

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Database types
const (
	DatabaseSQLite   = "sqlite"
	DatabasePostgres = "postgres"
)

// DefaultAdminPassword guards the settings form when neither the settings row
// nor the environment provides one.
const DefaultAdminPassword = "admin123"

// EnvFiles are loaded, in order, before flags fall back to the environment.
// Values already present in the environment win.
var EnvFiles = []string{".env.local", ".env"}

type Config struct {
	Port         int
	DatabaseURL  string
	DatabaseType string
	StorageDir   string
	JWTSecret    string
	PublicURL    string
}

// ClientConfig is what the client library and tools need to reach the service.
type ClientConfig struct {
	ServiceURL    string
	ServiceKey    string
	SiteTitle     string
	AdminPassword string
}

// LoadEnvFiles reads the dotenv files that exist and ignores the rest
func LoadEnvFiles() {
	for _, f := range EnvFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			slog.Warn("failed to load env file", "file", f, "error", err)
		}
	}
}

// ParseFlags validates flags and sets port number
func ParseFlags(args []string) (Config, error) {
	var cfg Config

	fs := flag.NewFlagSet("daystogether", flag.ContinueOnError)

	// Network config (can be CLI args or env)
	fs.IntVar(&cfg.Port, "p", 0, "Server port")
	fs.StringVar(&cfg.DatabaseURL, "d", "", "Database URL")
	fs.StringVar(&cfg.DatabaseType, "t", "", "Database type (sqlite or postgres)")
	fs.StringVar(&cfg.StorageDir, "storage", "", "Directory holding bucket objects")
	fs.StringVar(&cfg.PublicURL, "public-url", "", "Base URL used in public object links")

	// Secrets (prefer env variables, but allow CLI for dev)
	fs.StringVar(&cfg.JWTSecret, "jwt-secret", "", "Service key signing secret (prefer env)")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	LoadEnvFiles()

	// Fall back to environment variables
	if cfg.Port == 0 {
		if portStr := os.Getenv("PORT"); portStr != "" {
			port, err := strconv.Atoi(portStr)
			if err != nil {
				return Config{}, errors.New("invalid PORT env variable")
			}
			cfg.Port = port
		} else {
			cfg.Port = 3318 // default
		}
	}

	if cfg.DatabaseType == "" {
		cfg.DatabaseType = os.Getenv("DATABASE_TYPE")
		if cfg.DatabaseType == "" {
			cfg.DatabaseType = DatabaseSQLite
		}
	}
	if cfg.DatabaseType != DatabaseSQLite && cfg.DatabaseType != DatabasePostgres {
		return Config{}, fmt.Errorf("unsupported database type %q", cfg.DatabaseType)
	}

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if cfg.DatabaseURL == "" {
		if cfg.DatabaseType == DatabasePostgres {
			return Config{}, errors.New("database URL required (use -d or DATABASE_URL env)")
		}
		cfg.DatabaseURL = "file:daystogether.db"
	}

	if cfg.StorageDir == "" {
		cfg.StorageDir = os.Getenv("STORAGE_DIR")
		if cfg.StorageDir == "" {
			cfg.StorageDir = "uploads"
		}
	}

	if cfg.PublicURL == "" {
		cfg.PublicURL = os.Getenv("PUBLIC_URL")
		if cfg.PublicURL == "" {
			cfg.PublicURL = "http://localhost:" + strconv.Itoa(cfg.Port)
		}
	}
	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")

	// Secrets - MUST be provided
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = os.Getenv("JWT_SECRET")
	}
	if cfg.JWTSecret == "" {
		return Config{}, errors.New("JWT_SECRET required")
	}

	return cfg, nil
}

// LoadClientConfig reads the client settings from the environment.
// A missing endpoint or key is fatal for anything that talks to the service.
func LoadClientConfig() (ClientConfig, error) {
	LoadEnvFiles()

	cfg := ClientConfig{
		ServiceURL:    strings.TrimRight(os.Getenv("SERVICE_URL"), "/"),
		ServiceKey:    os.Getenv("SERVICE_KEY"),
		SiteTitle:     os.Getenv("SITE_TITLE"),
		AdminPassword: os.Getenv("SETTINGS_PASSWORD"),
	}
	if cfg.ServiceURL == "" || cfg.ServiceKey == "" {
		return ClientConfig{}, errors.New("SERVICE_URL and SERVICE_KEY required")
	}
	if cfg.SiteTitle == "" {
		cfg.SiteTitle = "Days Together"
	}
	if cfg.AdminPassword == "" {
		cfg.AdminPassword = DefaultAdminPassword
	}
	return cfg, nil
}
