// cliparse/cliparse_test.go
package cliparse

import (
	"os"
	"testing"
)

func TestParseFlags_EnvVars(t *testing.T) {
	// Set env vars
	os.Setenv("PORT", "9000")
	os.Setenv("DATABASE_URL", "postgres://test")
	os.Setenv("DATABASE_TYPE", "postgres")
	os.Setenv("JWT_SECRET", "test-secret")
	defer os.Clearenv()

	cfg, err := ParseFlags([]string{})
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Port)
	}
	if cfg.DatabaseType != DatabasePostgres {
		t.Errorf("expected postgres, got %s", cfg.DatabaseType)
	}
	if cfg.PublicURL != "http://localhost:9000" {
		t.Errorf("unexpected public url %s", cfg.PublicURL)
	}
}

func TestParseFlags_CLIOverridesEnv(t *testing.T) {
	os.Setenv("PORT", "9000")
	defer os.Clearenv()

	cfg, err := ParseFlags([]string{"-p", "8080", "-d", "file:test.db", "-jwt-secret", "s1", "-public-url", "https://love.example/"})
	if err != nil {
		t.Fatal(err)
	}

	// CLI should override env
	if cfg.Port != 8080 {
		t.Errorf("CLI should override env: expected 8080, got %d", cfg.Port)
	}
	if cfg.PublicURL != "https://love.example" {
		t.Errorf("trailing slash should be trimmed, got %s", cfg.PublicURL)
	}
}

func TestParseFlags_Defaults(t *testing.T) {
	os.Clearenv()
	os.Setenv("JWT_SECRET", "s")
	defer os.Clearenv()

	cfg, err := ParseFlags(nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DatabaseType != DatabaseSQLite {
		t.Errorf("expected sqlite default, got %s", cfg.DatabaseType)
	}
	if cfg.DatabaseURL == "" {
		t.Error("sqlite should get a default database file")
	}
	if cfg.StorageDir != "uploads" {
		t.Errorf("expected uploads, got %s", cfg.StorageDir)
	}
}

func TestParseFlags_MissingSecret(t *testing.T) {
	os.Clearenv()
	defer os.Clearenv()

	if _, err := ParseFlags(nil); err == nil {
		t.Error("expected error without JWT_SECRET")
	}
}

func TestParseFlags_PostgresNeedsURL(t *testing.T) {
	os.Clearenv()
	os.Setenv("JWT_SECRET", "s")
	defer os.Clearenv()

	if _, err := ParseFlags([]string{"-t", "postgres"}); err == nil {
		t.Error("expected error for postgres without DATABASE_URL")
	}
	if _, err := ParseFlags([]string{"-t", "mysql"}); err == nil {
		t.Error("expected error for unsupported database type")
	}
}

func TestLoadClientConfig(t *testing.T) {
	os.Clearenv()
	defer os.Clearenv()

	if _, err := LoadClientConfig(); err == nil {
		t.Fatal("missing endpoint and key must be an error")
	}

	os.Setenv("SERVICE_URL", "http://localhost:3318/")
	os.Setenv("SERVICE_KEY", "key")
	cfg, err := LoadClientConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ServiceURL != "http://localhost:3318" {
		t.Errorf("unexpected service url %s", cfg.ServiceURL)
	}
	if cfg.AdminPassword != DefaultAdminPassword {
		t.Errorf("expected default admin password, got %s", cfg.AdminPassword)
	}
}
