// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package router

import (
	"net/http"

	"github.com/danielhkuo/daystogether/cliparse"
	"github.com/danielhkuo/daystogether/db"
	"github.com/danielhkuo/daystogether/handlers"
	"github.com/danielhkuo/daystogether/middleware"
	"github.com/danielhkuo/daystogether/realtime"
	"github.com/danielhkuo/daystogether/storage"
)

func NewRouter(store *db.Store, hub *realtime.Hub, buckets *storage.Buckets, cfg cliparse.Config) *http.ServeMux {
	mux := http.NewServeMux()

	// Initialize handlers
	rowsHandler := handlers.NewRowsHandler(store)
	storageHandler := handlers.NewStorageHandler(buckets)
	realtimeHandler := handlers.NewRealtimeHandler(hub)

	keys := middleware.NewKeyVerifier(cfg.JWTSecret)
	keyed := func(h http.HandlerFunc) http.HandlerFunc {
		return middleware.WithLogging(keys.Require(h))
	}

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Row collections
	mux.HandleFunc("GET /rest/v1/{table}", keyed(rowsHandler.Select))
	mux.HandleFunc("GET /rest/v1/{table}/count", keyed(rowsHandler.Count))
	mux.HandleFunc("POST /rest/v1/{table}", keyed(rowsHandler.Insert))
	mux.HandleFunc("PATCH /rest/v1/{table}", keyed(rowsHandler.Update))
	mux.HandleFunc("DELETE /rest/v1/{table}", keyed(rowsHandler.Delete))

	// Buckets (public reads need no key, the URLs end up in <img> and <audio> tags)
	mux.HandleFunc("POST /storage/v1/object/{bucket}/{key}", keyed(storageHandler.Upload))
	mux.HandleFunc("GET /storage/v1/object/public/{bucket}/{key}", middleware.WithLogging(storageHandler.Public))
	mux.HandleFunc("GET /storage/v1/object/list/{bucket}", keyed(storageHandler.List))
	mux.HandleFunc("DELETE /storage/v1/object/{bucket}", keyed(storageHandler.Remove))

	// Change feed and presence
	mux.HandleFunc("GET /realtime/v1/websocket", keyed(realtimeHandler.Connect))

	// Root endpoint
	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("days-together API v1"))
	})

	return mux
}
