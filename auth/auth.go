// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/danielhkuo/daystogether/models"
)

// Service key roles
const (
	RoleAnon    = "anon"
	RoleService = "service_role"
)

// ParticipantCookieName holds the participant tag on the client
const ParticipantCookieName = "love_user"

// ParticipantCookieTTL is how long a login is remembered
const ParticipantCookieTTL = 30 * 24 * time.Hour

var (
	ErrInvalidServiceKey = errors.New("invalid service key")
	ErrIncorrectPassword = errors.New("incorrect password")
)

// GenerateID creates a random hex ID of the specified byte length
func GenerateID(byteLen int) (string, error) {
	b := make([]byte, byteLen)
	_, err := rand.Read(b)
	if err != nil {
		return "", fmt.Errorf("failed to generate random ID: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// ServiceClaims are carried by service access keys
type ServiceClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// IssueServiceKey signs a service access key for role. A zero ttl
// produces a key that never expires, which is how anon keys are shipped.
func IssueServiceKey(secret, role string, ttl time.Duration) (string, error) {
	if role != RoleAnon && role != RoleService {
		return "", fmt.Errorf("unknown role %q", role)
	}
	now := time.Now()
	claims := ServiceClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   "daystogether",
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl != 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign service key: %w", err)
	}
	return signed, nil
}

// ParseServiceKey validates a service key and returns its role
func ParseServiceKey(secret, key string) (string, error) {
	claims, err := ParseServiceClaims(secret, key)
	if err != nil {
		return "", err
	}
	return claims.Role, nil
}

// ParseServiceClaims validates a service key and returns its claims
func ParseServiceClaims(secret, key string) (*ServiceClaims, error) {
	claims := &ServiceClaims{}
	token, err := jwt.ParseWithClaims(key, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return nil, ErrInvalidServiceKey
	}
	if claims.Role != RoleAnon && claims.Role != RoleService {
		return nil, ErrInvalidServiceKey
	}
	return claims, nil
}

// MatchParticipant compares password with both participants' passwords.
// This is a shared-secret gate, not real authentication.
func MatchParticipant(settings models.Settings, password string) (models.Participant, error) {
	if password == "" {
		return "", ErrIncorrectPassword
	}
	if equal(password, settings.Password1) {
		return models.Name1, nil
	}
	if equal(password, settings.Password2) {
		return models.Name2, nil
	}
	return "", ErrIncorrectPassword
}

// CheckAdminPassword validates the password protecting the settings form
func CheckAdminPassword(settings models.Settings, fallback, password string) error {
	expected := settings.AdminPassword
	if expected == "" {
		expected = fallback
	}
	if expected == "" || !equal(password, expected) {
		return ErrIncorrectPassword
	}
	return nil
}

func equal(a, b string) bool {
	if b == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// ParticipantCookie remembers the logged-in participant for 30 days
func ParticipantCookie(p models.Participant, now time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     ParticipantCookieName,
		Value:    string(p),
		Path:     "/",
		Expires:  now.Add(ParticipantCookieTTL),
		MaxAge:   int(ParticipantCookieTTL / time.Second),
		SameSite: http.SameSiteLaxMode,
	}
}

// ExpiredParticipantCookie clears the participant cookie
func ExpiredParticipantCookie() *http.Cookie {
	return &http.Cookie{
		Name:    ParticipantCookieName,
		Value:   "",
		Path:    "/",
		Expires: time.Unix(0, 0),
		MaxAge:  -1,
	}
}

// ParticipantFromCookie returns the participant stored in c, if any
func ParticipantFromCookie(c *http.Cookie, now time.Time) (models.Participant, bool) {
	if c == nil || c.Name != ParticipantCookieName {
		return "", false
	}
	if !c.Expires.IsZero() && now.After(c.Expires) {
		return "", false
	}
	p := models.Participant(c.Value)
	if !p.Valid() {
		return "", false
	}
	return p, true
}
