// SPDX-FileCopyrightText: Copyright 2025 Hubward Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/hubward/hubward/pkg/errors"
)

// Authenticator verifies a username and password against whatever identity
// backend the deployment plugs in, returning the normalized username.
// Failures of the backend itself should be reported as upstream errors, not
// as rejections.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (string, error)
}

// StaticAuthenticator authenticates against a fixed set of bcrypt password
// hashes, typically loaded from the hub's config file. Usernames are
// case-insensitive and stored lowercased.
type StaticAuthenticator struct {
	mu     sync.RWMutex
	hashes map[string]string
}

var _ Authenticator = (*StaticAuthenticator)(nil)

// NewStaticAuthenticator creates an authenticator with no users; add them
// with SetPassword.
func NewStaticAuthenticator() *StaticAuthenticator {
	return &StaticAuthenticator{hashes: make(map[string]string)}
}

// SetPassword registers (or replaces) a user's password.
func (a *StaticAuthenticator) SetPassword(username, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return errors.NewInternalError("failed to hash password", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.hashes[normalizeUsername(username)] = string(hash)
	return nil
}

// SetPasswordHash registers a user with a pre-computed bcrypt hash, for
// configs that keep hashes rather than plaintext.
func (a *StaticAuthenticator) SetPasswordHash(username, hash string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hashes[normalizeUsername(username)] = hash
}

// Authenticate checks the password and returns the normalized username.
func (a *StaticAuthenticator) Authenticate(_ context.Context, username, password string) (string, error) {
	normalized := normalizeUsername(username)

	a.mu.RLock()
	hash, ok := a.hashes[normalized]
	a.mu.RUnlock()

	if !ok {
		// Burn a comparison anyway so unknown users cost the same as
		// wrong passwords.
		_ = bcrypt.CompareHashAndPassword([]byte("$2a$10$0000000000000000000000000000000000000000000000000000"), []byte(password))
		return "", errors.NewForbiddenError("invalid username or password", nil)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return "", errors.NewForbiddenError("invalid username or password", nil)
	}
	return normalized, nil
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
