// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package auth holds the two request guards: a shared API key header for
// position producers and HTTP basic auth for the dashboard.
package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/position_api/internal/config"
	"github.com/relabs-tech/position_api/internal/logging"
)

// APIKeyHeader carries the producer secret.
const APIKeyHeader = "x-api-key"

const (
	apiKeyDenied    = "ACCESS DENIED: Wrong or empty API key!"
	basicAuthDenied = "Incorrect login or password"
	wwwAuthenticate = "Basic"
)

// equal compares in constant time. An empty expected value never matches.
func equal(given, expected string) bool {
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(given), []byte(expected)) == 1
}

// Guard checks requests against the credential store.
type Guard struct {
	creds config.Credentials
}

// NewGuard returns a guard for creds.
func NewGuard(creds config.Credentials) *Guard {
	return &Guard{creds: creds}
}

// ValidAPIKey reports whether key is the configured API key.
func (g *Guard) ValidAPIKey(key string) bool {
	return equal(key, g.creds.APIKey)
}

// ValidBasic reports whether user and password are the dashboard credentials.
// Both comparisons always run.
func (g *Guard) ValidBasic(user, password string) bool {
	userOK := equal(user, g.creds.Username)
	passOK := equal(password, g.creds.Password)
	return userOK && passOK
}

// RequireAPIKey rejects requests without the right x-api-key header with 403.
func (g *Guard) RequireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.ValidAPIKey(r.Header.Get(APIKeyHeader)) {
			logging.Warn().Str("path", r.URL.Path).Str("remote", r.RemoteAddr).Msg("api key rejected")
			deny(w, http.StatusForbidden, apiKeyDenied)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireBasic rejects requests without the right basic-auth credentials
// with 401 and a WWW-Authenticate challenge.
func (g *Guard) RequireBasic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, password, ok := r.BasicAuth()
		if !ok || !g.ValidBasic(user, password) {
			w.Header().Set("WWW-Authenticate", wwwAuthenticate)
			deny(w, http.StatusUnauthorized, basicAuthDenied)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func deny(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"detail": detail}); err != nil {
		logging.Error().Err(err).Msg("json encode error")
	}
}
