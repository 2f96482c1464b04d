// SPDX-FileCopyrightText: Copyright 2025 Hubward Authors
// SPDX-License-Identifier: Apache-2.0

// Package v1 contains the hub's REST API handlers.
package v1

import (
	"encoding/json"
	"net/http"

	"github.com/hubward/hubward/pkg/errors"
	"github.com/hubward/hubward/pkg/logger"
)

// apiError is the JSON body returned for every non-2xx API response.
type apiError struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Errorf("Failed to encode response body: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, apiError{Status: status, Message: message})
}

// writeDomainError maps a typed hub error to its HTTP status. Unrecognized
// errors are logged and reported as internal, without leaking the cause.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.IsNotFound(err):
		writeError(w, http.StatusNotFound, "not found")
	case errors.IsForbidden(err), errors.IsUpstreamAuth(err):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.IsInvalidArgument(err):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		logger.Errorf("Request failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
