// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/danielhkuo/daystogether/realtime"
	"github.com/danielhkuo/daystogether/testutil"
)

func newTestRouter(t *testing.T) *http.ServeMux {
	t.Helper()
	cfg := testutil.GetTestConfig()
	hub := realtime.NewHub()
	store := testutil.SetupTestStore(t, hub)
	buckets := testutil.SetupTestBuckets(t, cfg.PublicURL)
	return NewRouter(store, hub, buckets, cfg)
}

func TestHealthEndpoint(t *testing.T) {
	mux := newTestRouter(t)

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	if w.Body.String() != "OK" {
		t.Errorf("Expected body 'OK', got '%s'", w.Body.String())
	}
}

func TestRootEndpoint(t *testing.T) {
	mux := newTestRouter(t)

	req := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()

	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	expected := "days-together API v1"
	if w.Body.String() != expected {
		t.Errorf("Expected body '%s', got '%s'", expected, w.Body.String())
	}
}

func TestUnknownPath(t *testing.T) {
	mux := newTestRouter(t)

	req := httptest.NewRequest("GET", "/guestbook", nil)
	w := httptest.NewRecorder()

	mux.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestKeyedRoutesRejectMissingKey(t *testing.T) {
	mux := newTestRouter(t)

	testCases := []struct {
		method string
		path   string
	}{
		{"GET", "/rest/v1/messages"},
		{"GET", "/rest/v1/messages/count"},
		{"POST", "/rest/v1/messages"},
		{"PATCH", "/rest/v1/messages?id=eq.x"},
		{"DELETE", "/rest/v1/messages?id=eq.x"},
		{"POST", "/storage/v1/object/photos/a.jpg"},
		{"GET", "/storage/v1/object/list/photos"},
		{"DELETE", "/storage/v1/object/photos"},
		{"GET", "/realtime/v1/websocket"},
	}

	for _, tc := range testCases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, nil)
			w := httptest.NewRecorder()

			mux.ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("Expected status 401, got %d", w.Code)
			}
		})
	}
}

func TestRouteExistence(t *testing.T) {
	mux := newTestRouter(t)
	key := testutil.AnonKey(t, testutil.GetTestConfig())

	testCases := []struct {
		method string
		path   string
	}{
		{"GET", "/rest/v1/messages"},
		{"GET", "/rest/v1/blessing_stats"},
		{"GET", "/rest/v1/blessings/count"},
		{"GET", "/storage/v1/object/list/music"},
		{"GET", "/storage/v1/object/public/photos/missing.jpg"},
	}

	for _, tc := range testCases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, nil)
			req.Header.Set("apikey", key)
			w := httptest.NewRecorder()

			mux.ServeHTTP(w, req)

			if w.Code == http.StatusMethodNotAllowed || w.Code == http.StatusUnauthorized {
				t.Errorf("Route %s %s not reachable: %d", tc.method, tc.path, w.Code)
			}
		})
	}
}
