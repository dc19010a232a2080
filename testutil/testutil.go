// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package testutil

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/danielhkuo/daystogether/auth"
	"github.com/danielhkuo/daystogether/cliparse"
	"github.com/danielhkuo/daystogether/db"
	"github.com/danielhkuo/daystogether/models"
	"github.com/danielhkuo/daystogether/storage"
)

// TestJWTSecret signs every service key issued in tests
const TestJWTSecret = "test-jwt-secret"

// SetupTestDB creates a fresh in-memory database with the full schema
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	conn, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	// Each connection to :memory: is its own database
	conn.SetMaxOpenConns(1)
	t.Cleanup(func() { conn.Close() })

	if err := db.CreateSchema(conn); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}

	return conn
}

// SetupTestStore returns a store over a fresh database. pub may be nil.
func SetupTestStore(t *testing.T, pub db.Publisher) *db.Store {
	t.Helper()
	return db.NewStore(SetupTestDB(t), cliparse.DatabaseSQLite, pub)
}

// SetupTestBuckets creates the default buckets in a temp directory
func SetupTestBuckets(t *testing.T, baseURL string) *storage.Buckets {
	t.Helper()
	b, err := storage.NewBuckets(t.TempDir(), baseURL)
	if err != nil {
		t.Fatalf("Failed to create buckets: %v", err)
	}
	return b
}

// GetTestConfig returns a standard test configuration
func GetTestConfig() cliparse.Config {
	return cliparse.Config{
		Port:         3318,
		DatabaseURL:  ":memory:",
		DatabaseType: cliparse.DatabaseSQLite,
		JWTSecret:    TestJWTSecret,
		PublicURL:    "http://localhost:3318",
	}
}

// AnonKey issues a non-expiring anon service key for cfg
func AnonKey(t *testing.T, cfg cliparse.Config) string {
	t.Helper()
	key, err := auth.IssueServiceKey(cfg.JWTSecret, auth.RoleAnon, 0)
	if err != nil {
		t.Fatalf("Failed to issue anon key: %v", err)
	}
	return key
}

// ServiceKey issues a non-expiring service_role key for cfg
func ServiceKey(t *testing.T, cfg cliparse.Config) string {
	t.Helper()
	key, err := auth.IssueServiceKey(cfg.JWTSecret, auth.RoleService, 0)
	if err != nil {
		t.Fatalf("Failed to issue service key: %v", err)
	}
	return key
}

// Recorder is a db.Publisher that keeps every event it receives
type Recorder struct {
	mu     sync.Mutex
	events []models.ChangeEvent
}

func (r *Recorder) Publish(ev models.ChangeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of the recorded events
func (r *Recorder) Events() []models.ChangeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.ChangeEvent(nil), r.events...)
}

// InsertTestRow inserts row into table and returns its id
func InsertTestRow(t *testing.T, store *db.Store, table string, row db.Row) string {
	t.Helper()
	created, err := store.Insert(t.Context(), table, row)
	if err != nil {
		t.Fatalf("Failed to insert test row into %s: %v", table, err)
	}
	return created["id"].(string)
}

// MakeRequest creates an HTTP test request
func MakeRequest(method, path string, body interface{}, headers map[string]string) *http.Request {
	var req *http.Request
	if body != nil {
		jsonBody, _ := json.Marshal(body)
		req = httptest.NewRequest(method, path, bytes.NewReader(jsonBody))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return req
}

// AssertStatus checks that the response has the expected status code
func AssertStatus(t *testing.T, w *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if w.Code != expected {
		t.Errorf("Expected status %d, got %d. Body: %s", expected, w.Code, w.Body.String())
	}
}

// AssertJSON decodes the response body into the provided struct
func AssertJSON(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode JSON response: %v", err)
	}
}
