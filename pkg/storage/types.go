// SPDX-FileCopyrightText: Copyright 2025 Hubward Authors
// SPDX-License-Identifier: Apache-2.0

// Package storage defines the persistence interfaces for the hubward
// authorization core: users, services, tokens, OAuth clients, and sessions.
package storage

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by Store implementations.
var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrAlreadyExists is returned when a unique constraint is violated.
	ErrAlreadyExists = errors.New("record already exists")
)

// User is a hub account that may own a per-user backend server.
type User struct {
	ID           int64
	Name         string
	Admin        bool
	ServerURL    string
	Created      time.Time
	LastActivity time.Time
}

// Service is a non-human hub account, e.g. an announcement or culling service.
type Service struct {
	ID           int64
	Name         string
	ServerURL    string
	Created      time.Time
	LastActivity time.Time
}

// APIToken is a self-issued opaque bearer token. The secret is never stored;
// only its SHA-256 hash is persisted.
//
// Exactly one of UserID and ServiceID should be set. A row with neither is
// orphaned and is purged by the resolver on discovery.
type APIToken struct {
	ID           int64
	Hash         string
	UserID       *int64
	ServiceID    *int64
	Note         string
	Created      time.Time
	LastActivity time.Time

	// User and Service are the resolved owners, populated by Resolve calls.
	User    *User
	Service *Service
}

// OAuthToken is an access token minted by the authorization-code flow. It is
// keyed by the protocol engine's token signature rather than the full secret.
type OAuthToken struct {
	ID           int64
	Signature    string
	ClientID     string
	SessionID    string
	Scopes       []string
	UserID       *int64
	Note         string
	Created      time.Time
	LastActivity time.Time
	ExpiresAt    time.Time

	// User is the resolved owner, populated by Resolve calls.
	User *User
}

// OAuthClient is a registered downstream service allowed to request
// delegated access.
type OAuthClient struct {
	ID          string
	SecretHash  string
	RedirectURI string
	Description string
	Scopes      []string
	Created     time.Time
}

// Session correlates successive browser requests to one user. The ID is the
// opaque value carried (signed) in the session cookie.
type Session struct {
	ID           string
	UserID       int64
	Created      time.Time
	LastActivity time.Time
	ExpiresAt    time.Time

	// User is the resolved owner, populated by Resolve calls.
	User *User
}

// Expired reports whether the session has passed its expiry.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// UserStore manages user accounts.
type UserStore interface {
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id int64) (*User, error)
	FindUserByName(ctx context.Context, name string) (*User, error)
}

// ServiceStore manages service accounts.
type ServiceStore interface {
	CreateService(ctx context.Context, service *Service) error
	FindServiceByName(ctx context.Context, name string) (*Service, error)
}

// TokenStore manages both token kinds.
//
// The Resolve methods implement the read-then-stamp contract: on a hit they
// set last_activity on the token row and, for user-owned tokens, on the user,
// committing the mutation atomically with the read before returning. The
// owner fields of the returned token are populated; a token whose owners are
// both nil is orphaned and it is the caller's job to purge it.
type TokenStore interface {
	CreateAPIToken(ctx context.Context, token *APIToken) error
	ResolveAPIToken(ctx context.Context, hash string, now time.Time) (*APIToken, error)
	DeleteAPIToken(ctx context.Context, id int64) error

	CreateOAuthToken(ctx context.Context, token *OAuthToken) error
	ResolveOAuthToken(ctx context.Context, signature string, now time.Time) (*OAuthToken, error)
	DeleteOAuthToken(ctx context.Context, id int64) error
	DeleteOAuthTokenBySignature(ctx context.Context, signature string) error
}

// ClientStore manages registered OAuth clients.
type ClientStore interface {
	UpsertOAuthClient(ctx context.Context, client *OAuthClient) error
	GetOAuthClient(ctx context.Context, clientID string) (*OAuthClient, error)
}

// SessionStore manages browser sessions. ResolveSession follows the same
// read-then-stamp contract as TokenStore.
type SessionStore interface {
	CreateSession(ctx context.Context, session *Session) error
	ResolveSession(ctx context.Context, id string, now time.Time) (*Session, error)
	DeleteSession(ctx context.Context, id string) error
}

// Store is the full persistence surface consumed by the authorization core.
type Store interface {
	UserStore
	ServiceStore
	TokenStore
	ClientStore
	SessionStore

	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error

	Close() error
}
