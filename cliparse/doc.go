// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package cliparse handles command-line argument parsing and configuration.

# Server Configuration

ParseFlags returns a Config struct with all settings:

	cfg, err := cliparse.ParseFlags(os.Args[1:])

Config fields:

  - Port: Server listen port (default: 3318)
  - DatabaseType: sqlite (default) or postgres
  - DatabaseURL: connection string (required for postgres)
  - StorageDir: bucket directory (default: uploads)
  - PublicURL: base of public object links (default: http://localhost:<port>)
  - JWTSecret: service key signing secret (required)

# CLI Flags

	-p            Server port
	-d            Database URL
	-t            Database type
	-storage      Storage directory
	-public-url   Public base URL
	-jwt-secret   Service key secret

# Environment Variables

Flags fall back to environment variables:

	PORT          → -p
	DATABASE_URL  → -d
	DATABASE_TYPE → -t
	STORAGE_DIR   → -storage
	PUBLIC_URL    → -public-url
	JWT_SECRET    → -jwt-secret

CLI flags take precedence over environment variables. Before falling back,
.env.local and .env are loaded with godotenv when present; variables already
set in the process environment are not overwritten.

# Client Configuration

LoadClientConfig reads SERVICE_URL, SERVICE_KEY, SITE_TITLE and
SETTINGS_PASSWORD. SERVICE_URL and SERVICE_KEY are required; anything that
talks to the service should treat their absence as fatal:

	cfg, err := cliparse.LoadClientConfig()
	if err != nil {
		slog.Error("missing service credentials", "error", err)
		os.Exit(1)
	}
*/
package cliparse
