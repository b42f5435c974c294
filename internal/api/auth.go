// Vigil - Real-Time Cheat Detection for Networked Game Sessions
// Copyright 2026 Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-ac/vigil

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vigil-ac/vigil/internal/logging"
)

// Errors
var (
	ErrNoToken      = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid module token")
)

type contextKey string

const moduleNameKey contextKey = "vigil.module"

// moduleClaims is the callback token payload. Tokens identify a
// detection module, not a player; player-facing auth is a different
// trust domain and never shares this secret.
type moduleClaims struct {
	jwt.RegisteredClaims
}

// IssueModuleToken mints an HMAC-signed token for a module. Used by
// operator tooling when provisioning modules.
func IssueModuleToken(secret []byte, module string, ttl time.Duration) (string, error) {
	if module == "" {
		return "", fmt.Errorf("module name is required")
	}
	now := time.Now()
	claims := moduleClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   module,
			Issuer:    "vigil",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign module token: %w", err)
	}
	return signed, nil
}

// verifyModuleToken parses and validates a token, returning the module
// name.
func verifyModuleToken(secret []byte, token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &moduleClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	}, jwt.WithIssuer("vigil"), jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*moduleClaims)
	if !ok || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// ModuleAuth gates callback routes behind a valid module bearer token
// and stores the module name in the request context.
func ModuleAuth(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
				writeError(w, http.StatusUnauthorized, "unauthorized", ErrNoToken.Error())
				return
			}
			module, err := verifyModuleToken(secret, strings.TrimPrefix(auth, "Bearer "))
			if err != nil {
				logging.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("rejected module token")
				writeError(w, http.StatusUnauthorized, "unauthorized", ErrInvalidToken.Error())
				return
			}
			ctx := context.WithValue(r.Context(), moduleNameKey, module)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ModuleFromContext returns the authenticated module name, if any.
func ModuleFromContext(ctx context.Context) string {
	name, _ := ctx.Value(moduleNameKey).(string)
	return name
}
