// SPDX-FileCopyrightText: Copyright 2025 Hubward Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store with in-memory maps. It is thread-safe and
// suitable for development and tests; production deployments use the sqlite
// backend.
//
// Defensive copies are made on every read and write so callers can never
// alias the store's internal state.
type MemoryStore struct {
	mu sync.RWMutex

	users       map[int64]*User
	services    map[int64]*Service
	apiTokens   map[int64]*APIToken
	oauthTokens map[int64]*OAuthToken
	clients     map[string]*OAuthClient
	sessions    map[string]*Session

	nextUserID    int64
	nextServiceID int64
	nextTokenID   int64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[int64]*User),
		services:    make(map[int64]*Service),
		apiTokens:   make(map[int64]*APIToken),
		oauthTokens: make(map[int64]*OAuthToken),
		clients:     make(map[string]*OAuthClient),
		sessions:    make(map[string]*Session),
	}
}

var _ Store = (*MemoryStore)(nil)

// Ping always succeeds; the in-memory store has no backing connection.
func (*MemoryStore) Ping(_ context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (*MemoryStore) Close() error {
	return nil
}

// -----------------------
// UserStore
// -----------------------

// CreateUser stores a new user and assigns its ID.
func (s *MemoryStore) CreateUser(_ context.Context, user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.Name == user.Name {
			return ErrAlreadyExists
		}
	}

	s.nextUserID++
	user.ID = s.nextUserID
	if user.Created.IsZero() {
		user.Created = time.Now().UTC()
	}
	cp := *user
	s.users[user.ID] = &cp
	return nil
}

// GetUser returns the user with the given ID.
func (s *MemoryStore) GetUser(_ context.Context, id int64) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *user
	return &cp, nil
}

// FindUserByName returns the user with the given name.
func (s *MemoryStore) FindUserByName(_ context.Context, name string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, user := range s.users {
		if user.Name == name {
			cp := *user
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// -----------------------
// ServiceStore
// -----------------------

// CreateService stores a new service and assigns its ID.
func (s *MemoryStore) CreateService(_ context.Context, service *Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.services {
		if existing.Name == service.Name {
			return ErrAlreadyExists
		}
	}

	s.nextServiceID++
	service.ID = s.nextServiceID
	if service.Created.IsZero() {
		service.Created = time.Now().UTC()
	}
	cp := *service
	s.services[service.ID] = &cp
	return nil
}

// FindServiceByName returns the service with the given name.
func (s *MemoryStore) FindServiceByName(_ context.Context, name string) (*Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, service := range s.services {
		if service.Name == name {
			cp := *service
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// -----------------------
// TokenStore
// -----------------------

// CreateAPIToken stores a new API token and assigns its ID.
func (s *MemoryStore) CreateAPIToken(_ context.Context, token *APIToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.apiTokens {
		if existing.Hash == token.Hash {
			return ErrAlreadyExists
		}
	}

	s.nextTokenID++
	token.ID = s.nextTokenID
	if token.Created.IsZero() {
		token.Created = time.Now().UTC()
	}
	cp := *token
	cp.User, cp.Service = nil, nil
	s.apiTokens[token.ID] = &cp
	return nil
}

// ResolveAPIToken looks up an API token by secret hash and stamps activity
// on the token and its owning user under a single lock acquisition.
func (s *MemoryStore) ResolveAPIToken(_ context.Context, hash string, now time.Time) (*APIToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, token := range s.apiTokens {
		if token.Hash != hash {
			continue
		}
		token.LastActivity = now

		cp := *token
		if token.UserID != nil {
			if user, ok := s.users[*token.UserID]; ok {
				user.LastActivity = now
				userCp := *user
				cp.User = &userCp
			}
		}
		if token.ServiceID != nil {
			if service, ok := s.services[*token.ServiceID]; ok {
				serviceCp := *service
				cp.Service = &serviceCp
			}
		}
		return &cp, nil
	}
	return nil, ErrNotFound
}

// DeleteAPIToken removes an API token.
func (s *MemoryStore) DeleteAPIToken(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.apiTokens[id]; !ok {
		return ErrNotFound
	}
	delete(s.apiTokens, id)
	return nil
}

// CreateOAuthToken stores a new OAuth access token and assigns its ID.
func (s *MemoryStore) CreateOAuthToken(_ context.Context, token *OAuthToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.oauthTokens {
		if existing.Signature == token.Signature {
			return ErrAlreadyExists
		}
	}

	s.nextTokenID++
	token.ID = s.nextTokenID
	if token.Created.IsZero() {
		token.Created = time.Now().UTC()
	}
	cp := *token
	cp.User = nil
	cp.Scopes = append([]string(nil), token.Scopes...)
	s.oauthTokens[token.ID] = &cp
	return nil
}

// ResolveOAuthToken looks up an OAuth access token by signature and stamps
// activity on the token and its owning user under a single lock acquisition.
func (s *MemoryStore) ResolveOAuthToken(_ context.Context, signature string, now time.Time) (*OAuthToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, token := range s.oauthTokens {
		if token.Signature != signature {
			continue
		}
		token.LastActivity = now

		cp := *token
		cp.Scopes = append([]string(nil), token.Scopes...)
		if token.UserID != nil {
			if user, ok := s.users[*token.UserID]; ok {
				user.LastActivity = now
				userCp := *user
				cp.User = &userCp
			}
		}
		return &cp, nil
	}
	return nil, ErrNotFound
}

// DeleteOAuthToken removes an OAuth access token by ID.
func (s *MemoryStore) DeleteOAuthToken(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.oauthTokens[id]; !ok {
		return ErrNotFound
	}
	delete(s.oauthTokens, id)
	return nil
}

// DeleteOAuthTokenBySignature removes an OAuth access token by signature.
func (s *MemoryStore) DeleteOAuthTokenBySignature(_ context.Context, signature string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, token := range s.oauthTokens {
		if token.Signature == signature {
			delete(s.oauthTokens, id)
			return nil
		}
	}
	return ErrNotFound
}

// -----------------------
// ClientStore
// -----------------------

// UpsertOAuthClient creates or replaces a registered OAuth client.
func (s *MemoryStore) UpsertOAuthClient(_ context.Context, client *OAuthClient) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if client.Created.IsZero() {
		client.Created = time.Now().UTC()
	}
	cp := *client
	cp.Scopes = append([]string(nil), client.Scopes...)
	s.clients[client.ID] = &cp
	return nil
}

// GetOAuthClient returns the registered client with the given ID.
func (s *MemoryStore) GetOAuthClient(_ context.Context, clientID string) (*OAuthClient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[clientID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *client
	cp.Scopes = append([]string(nil), client.Scopes...)
	return &cp, nil
}

// -----------------------
// SessionStore
// -----------------------

// CreateSession stores a new browser session.
func (s *MemoryStore) CreateSession(_ context.Context, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[session.ID]; ok {
		return ErrAlreadyExists
	}
	if session.Created.IsZero() {
		session.Created = time.Now().UTC()
	}
	cp := *session
	cp.User = nil
	s.sessions[session.ID] = &cp
	return nil
}

// ResolveSession looks up a session by ID and stamps activity on the session
// and its user under a single lock acquisition. Expired sessions are removed
// and reported as not found.
func (s *MemoryStore) ResolveSession(_ context.Context, id string, now time.Time) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if session.Expired(now) {
		delete(s.sessions, id)
		return nil, ErrNotFound
	}
	session.LastActivity = now

	cp := *session
	if user, ok := s.users[session.UserID]; ok {
		user.LastActivity = now
		userCp := *user
		cp.User = &userCp
	}
	return &cp, nil
}

// DeleteSession removes a session.
func (s *MemoryStore) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(s.sessions, id)
	return nil
}
