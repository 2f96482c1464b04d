// SPDX-FileCopyrightText: Copyright 2025 Hubward Authors
// SPDX-License-Identifier: Apache-2.0

// Package sessions manages browser sessions: durable session rows in hub
// storage, referenced by a signed cookie.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hubward/hubward/pkg/storage"
)

// DefaultCookieName is the session cookie set by the hub.
const DefaultCookieName = "hubward-session-id"

// DefaultLifespan is how long a session lives without explicit expiry config.
const DefaultLifespan = 14 * 24 * time.Hour

// Sentinel errors for cookie validation.
var (
	// ErrNoSession is returned when the request carries no session cookie.
	ErrNoSession = errors.New("no session cookie")

	// ErrInvalidCookie is returned when the cookie signature or claims do
	// not check out.
	ErrInvalidCookie = errors.New("invalid session cookie")
)

// Manager issues and resolves browser sessions. The cookie value is a signed
// JWT carrying only the session ID; everything else lives in the session row
// so that server-side revocation takes effect immediately.
type Manager struct {
	store      storage.SessionStore
	signingKey []byte
	cookieName string
	lifespan   time.Duration
	secure     bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithCookieName overrides the session cookie name.
func WithCookieName(name string) Option {
	return func(m *Manager) { m.cookieName = name }
}

// WithLifespan overrides the session lifespan.
func WithLifespan(lifespan time.Duration) Option {
	return func(m *Manager) { m.lifespan = lifespan }
}

// WithSecureCookies marks cookies Secure, for hubs served over https.
func WithSecureCookies(secure bool) Option {
	return func(m *Manager) { m.secure = secure }
}

// NewManager creates a session manager. The signing key must be at least
// 32 bytes.
func NewManager(store storage.SessionStore, signingKey []byte, opts ...Option) (*Manager, error) {
	if len(signingKey) < 32 {
		return nil, fmt.Errorf("session signing key must be at least 32 bytes")
	}

	m := &Manager{
		store:      store,
		signingKey: signingKey,
		cookieName: DefaultCookieName,
		lifespan:   DefaultLifespan,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// CookieName returns the name of the session cookie.
func (m *Manager) CookieName() string { return m.cookieName }

// Issue creates a session for user and sets the session cookie on the
// response. It returns the new session ID.
func (m *Manager) Issue(ctx context.Context, w http.ResponseWriter, user *storage.User) (string, error) {
	now := time.Now().UTC()
	session := &storage.Session{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Created:   now,
		ExpiresAt: now.Add(m.lifespan),
	}
	if err := m.store.CreateSession(ctx, session); err != nil {
		return "", fmt.Errorf("creating session: %w", err)
	}

	value, err := m.sign(session.ID, session.ExpiresAt)
	if err != nil {
		return "", err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    value,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return session.ID, nil
}

// Resolve validates the request's session cookie and returns the live
// session row, stamping activity on it and its user. A missing cookie yields
// ErrNoSession; a bad signature yields ErrInvalidCookie; a valid cookie whose
// session row is gone (logged out, expired, database reset) yields
// storage.ErrNotFound.
func (m *Manager) Resolve(ctx context.Context, r *http.Request) (*storage.Session, error) {
	cookie, err := r.Cookie(m.cookieName)
	if err != nil {
		return nil, ErrNoSession
	}

	sessionID, err := m.verify(cookie.Value)
	if err != nil {
		return nil, err
	}

	return m.store.ResolveSession(ctx, sessionID, time.Now().UTC())
}

// ResolveValue validates a raw cookie value rather than a request. The
// cookie-resolution API receives the value in the URL path, not as a header.
func (m *Manager) ResolveValue(ctx context.Context, value string) (*storage.Session, error) {
	sessionID, err := m.verify(value)
	if err != nil {
		return nil, err
	}
	return m.store.ResolveSession(ctx, sessionID, time.Now().UTC())
}

// Clear deletes the session row and expires the cookie.
func (m *Manager) Clear(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})

	cookie, err := r.Cookie(m.cookieName)
	if err != nil {
		return nil
	}
	sessionID, err := m.verify(cookie.Value)
	if err != nil {
		return nil
	}

	if err := m.store.DeleteSession(ctx, sessionID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

type sessionClaims struct {
	jwt.RegisteredClaims
}

func (m *Manager) sign(sessionID string, expiresAt time.Time) (string, error) {
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sessionID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.signingKey)
	if err != nil {
		return "", fmt.Errorf("signing session cookie: %w", err)
	}
	return signed, nil
}

func (m *Manager) verify(value string) (string, error) {
	token, err := jwt.ParseWithClaims(value, &sessionClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return m.signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return "", ErrInvalidCookie
	}

	claims, ok := token.Claims.(*sessionClaims)
	if !ok || claims.Subject == "" {
		return "", ErrInvalidCookie
	}
	return claims.Subject, nil
}
