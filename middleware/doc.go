// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package middleware provides HTTP middleware and helper functions.

# Request Logging

Wrap handlers with request logging:

	mux.HandleFunc("GET /health", middleware.WithLogging(handler))

Logs request start (method, path, remote) and completion (duration_ms).

# CORS Middleware

Enable cross-origin requests for frontend access:

	server := http.Server{
		Handler: middleware.CORS(mux),
	}

Allows methods GET, POST, PATCH, DELETE, OPTIONS with headers
Content-Type, Authorization, apikey.

# Service Keys

Every data, storage and realtime route requires a service key:

	keys := middleware.NewKeyVerifier(cfg.JWTSecret)
	mux.HandleFunc("GET /rest/v1/{table}", middleware.WithLogging(keys.Require(rows.Select)))

A KeyVerifier caches the role of each verified key for KeyCacheTTL, or
until the key expires if that is sooner. The key is read from the apikey header, a bearer token, or the apikey query
parameter (browsers cannot set headers on websocket upgrades). Handlers read
the verified role with middleware.Role(r).

# JSON Helpers

Write JSON responses:

	middleware.JSONResponse(w, http.StatusOK, data)
	middleware.ErrorResponse(w, http.StatusBadRequest, "message")

Parse JSON request bodies:

	var msg models.Message
	if err := middleware.ParseJSONBody(r, &msg); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

# Client IP Extraction

Get the original client IP (handles X-Forwarded-For, X-Real-IP):

	ip := middleware.GetClientIP(r)

Used in request logs.
*/
package middleware
