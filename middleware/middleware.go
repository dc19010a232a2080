// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/danielhkuo/daystogether/auth"
	"github.com/danielhkuo/daystogether/models"
)

type contextKey int

const roleKey contextKey = iota

// WithLogging wraps a handler with request logging
func WithLogging(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Log request
		slog.Info("request started",
			"method", r.Method,
			"path", r.URL.Path,
			"remote", GetClientIP(r),
		)

		// Call the next handler
		next(w, r)

		// Log completion
		duration := time.Since(start)
		slog.Info("request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"duration_ms", duration.Milliseconds(),
		)
	}
}

// KeyCacheTTL bounds how long a verified service key is trusted without
// checking its signature again
const KeyCacheTTL = 5 * time.Minute

// KeyVerifier checks service keys against one signing secret and
// remembers the role of keys it has verified.
type KeyVerifier struct {
	secret string
	roles  *ttlcache.Cache[string, string]
	now    func() time.Time
}

func NewKeyVerifier(secret string) *KeyVerifier {
	return &KeyVerifier{
		secret: secret,
		roles: ttlcache.New[string, string](
			ttlcache.WithTTL[string, string](KeyCacheTTL),
			ttlcache.WithCapacity[string, string](1024),
			ttlcache.WithDisableTouchOnHit[string, string](),
		),
		now: time.Now,
	}
}

// Verify returns the role of key. A cached entry never outlives the
// key's own expiry.
func (v *KeyVerifier) Verify(key string) (string, error) {
	if item := v.roles.Get(key); item != nil {
		return item.Value(), nil
	}
	claims, err := auth.ParseServiceClaims(v.secret, key)
	if err != nil {
		return "", err
	}
	ttl := KeyCacheTTL
	if claims.ExpiresAt != nil {
		if left := claims.ExpiresAt.Sub(v.now()); left < ttl {
			ttl = left
		}
	}
	if ttl > 0 {
		v.roles.Set(key, claims.Role, ttl)
	}
	return claims.Role, nil
}

// Require rejects requests without a valid service key and stores the
// key's role in the request context.
func (v *KeyVerifier) Require(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := APIKey(r)
		if key == "" {
			ErrorResponse(w, http.StatusUnauthorized, "apikey required")
			return
		}
		role, err := v.Verify(key)
		if err != nil {
			ErrorResponse(w, http.StatusUnauthorized, "Invalid apikey")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), roleKey, role)))
	}
}

// RequireAPIKey is Require on a verifier of its own
func RequireAPIKey(secret string, next http.HandlerFunc) http.HandlerFunc {
	return NewKeyVerifier(secret).Require(next)
}

// Role returns the service key role of an authenticated request
func Role(r *http.Request) string {
	role, _ := r.Context().Value(roleKey).(string)
	return role
}

// APIKey extracts the service key from the apikey header, a bearer
// token, or the apikey query parameter (websocket upgrades)
func APIKey(r *http.Request) string {
	if key := r.Header.Get("apikey"); key != "" {
		return key
	}
	if authz := r.Header.Get("Authorization"); strings.HasPrefix(authz, "Bearer ") {
		return strings.TrimPrefix(authz, "Bearer ")
	}
	return r.URL.Query().Get("apikey")
}

// JSONResponse writes a JSON response
func JSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	err := json.NewEncoder(w).Encode(data)
	if err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// ErrorResponse writes a JSON error response
func ErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	JSONResponse(w, statusCode, models.ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
	})
}

// ParseJSONBody parses the request body into the given struct
func ParseJSONBody(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return err
	}
	return nil
}

// CORS middleware allows cross-origin requests from the frontend
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, apikey")
		w.Header().Set("Access-Control-Allow-Credentials", "true")

		// Handle preflight requests
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// GetClientIP extracts the client IP address
// Checks X-Forwarded-For, X-Real-IP, then falls back to RemoteAddr
func GetClientIP(r *http.Request) string {
	// Check X-Forwarded-For (load balancers)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// Take first IP in chain
		for i := 0; i < len(xff); i++ {
			if xff[i] == ',' || xff[i] == ' ' {
				return xff[:i]
			}
		}
		return xff
	}

	// Check X-Real-IP (nginx)
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	// Fall back to RemoteAddr
	// Strip port if present
	addr := r.RemoteAddr
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i]
		}
	}
	return addr
}
