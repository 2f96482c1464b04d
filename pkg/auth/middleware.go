// SPDX-FileCopyrightText: Copyright 2025 Hubward Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/hubward/hubward/pkg/errors"
	"github.com/hubward/hubward/pkg/logger"
)

// BearerToken extracts the opaque token from an Authorization header.
// Both "token <value>" and "Bearer <value>" schemes are accepted; services
// written against the legacy API use the former, standard OAuth clients the
// latter.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}

	scheme, value, ok := strings.Cut(header, " ")
	if !ok {
		return ""
	}
	switch strings.ToLower(scheme) {
	case "token", "bearer":
		return strings.TrimSpace(value)
	default:
		return ""
	}
}

// RequireToken is middleware that authenticates the request by bearer token
// and stores the principal in the context. Requests without a valid token
// get a 403; per the legacy API contract, missing and invalid credentials
// are not distinguished.
func (r *Resolver) RequireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		token := BearerToken(req)
		if token == "" {
			writeAuthError(w, http.StatusForbidden, "authentication required")
			return
		}

		p, err := r.ResolveToken(req.Context(), token)
		if err != nil {
			if errors.IsNotFound(err) {
				writeAuthError(w, http.StatusForbidden, "authentication required")
				return
			}
			logger.Errorw("token resolution failed", "error", err)
			writeAuthError(w, http.StatusInternalServerError, "internal server error")
			return
		}

		next.ServeHTTP(w, req.WithContext(WithPrincipal(req.Context(), p)))
	})
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  status,
		"message": message,
	})
}
