// SPDX-FileCopyrightText: Copyright 2025 Hubward Authors
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"context"
	"sync"
	"time"

	"github.com/ory/fosite"

	"github.com/hubward/hubward/pkg/storage"
)

// RequesterKind names the short-lived protocol state buckets.
type RequesterKind string

// Requester buckets held by a TransientStore.
const (
	KindAuthorizeCode RequesterKind = "code"
	KindAccessToken   RequesterKind = "access"
	KindRefreshToken  RequesterKind = "refresh"
	KindPKCE          RequesterKind = "pkce"
)

// Default lifetimes for transient protocol state.
const (
	DefaultAuthorizeCodeTTL = 10 * time.Minute
	DefaultAccessTokenTTL   = time.Hour
	DefaultRefreshTokenTTL  = 24 * time.Hour
	DefaultUsedCodeTTL      = 24 * time.Hour

	// DefaultCleanupInterval is how often the in-memory store sweeps
	// expired entries.
	DefaultCleanupInterval = 5 * time.Minute
)

// TransientStore holds the short-lived protocol state of in-flight
// authorization flows: pending codes, PKCE challenges, token sessions, used
// codes, and client-assertion JTIs. Unlike the hub's persistent records,
// everything here may vanish on restart; an interrupted flow is simply
// restarted by the client.
//
// All methods return storage.ErrNotFound for missing entries.
type TransientStore interface {
	// PutRequester stores an authorization context under (kind, key) until
	// expiresAt.
	PutRequester(ctx context.Context, kind RequesterKind, key string, request fosite.Requester, expiresAt time.Time) error

	// GetRequester retrieves the authorization context stored under (kind, key).
	GetRequester(ctx context.Context, kind RequesterKind, key string) (fosite.Requester, error)

	// DeleteRequester removes the entry under (kind, key).
	DeleteRequester(ctx context.Context, kind RequesterKind, key string) error

	// DeleteRequestersByID removes every entry of the given kind whose
	// requester carries the given request ID, returning the removed keys.
	DeleteRequestersByID(ctx context.Context, kind RequesterKind, requestID string) ([]string, error)

	// MarkCodeUsed records that an authorization code has been redeemed.
	MarkCodeUsed(ctx context.Context, code string) error

	// CodeUsed reports whether an authorization code has been redeemed.
	CodeUsed(ctx context.Context, code string) (bool, error)

	// PutJTI records a client-assertion JTI until its expiry.
	PutJTI(ctx context.Context, jti string, expiresAt time.Time) error

	// JTIKnown reports whether a client-assertion JTI is still known.
	JTIKnown(ctx context.Context, jti string) (bool, error)

	Close() error
}

// timedEntry wraps a stored requester with its expiry.
type timedEntry struct {
	request   fosite.Requester
	expiresAt time.Time
}

// MemoryTransientStore is the single-process TransientStore. It is
// thread-safe; a background goroutine sweeps expired entries.
type MemoryTransientStore struct {
	mu sync.RWMutex

	requesters map[RequesterKind]map[string]*timedEntry
	usedCodes  map[string]time.Time
	jtis       map[string]time.Time

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	cleanupDone     chan struct{}
}

var _ TransientStore = (*MemoryTransientStore)(nil)

// MemoryTransientStoreOption configures a MemoryTransientStore.
type MemoryTransientStoreOption func(*MemoryTransientStore)

// WithCleanupInterval sets a custom sweep interval.
func WithCleanupInterval(interval time.Duration) MemoryTransientStoreOption {
	return func(s *MemoryTransientStore) {
		s.cleanupInterval = interval
	}
}

// NewMemoryTransientStore creates a MemoryTransientStore and starts its
// cleanup goroutine.
func NewMemoryTransientStore(opts ...MemoryTransientStoreOption) *MemoryTransientStore {
	s := &MemoryTransientStore{
		requesters: map[RequesterKind]map[string]*timedEntry{
			KindAuthorizeCode: {},
			KindAccessToken:   {},
			KindRefreshToken:  {},
			KindPKCE:          {},
		},
		usedCodes:       make(map[string]time.Time),
		jtis:            make(map[string]time.Time),
		cleanupInterval: DefaultCleanupInterval,
		stopCleanup:     make(chan struct{}),
		cleanupDone:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	go s.cleanupLoop()

	return s
}

// Close stops the cleanup goroutine and waits for it to finish.
func (s *MemoryTransientStore) Close() error {
	close(s.stopCleanup)
	<-s.cleanupDone
	return nil
}

func (s *MemoryTransientStore) cleanupLoop() {
	defer close(s.cleanupDone)

	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanupExpired()
		}
	}
}

// cleanupExpired collects expired keys under the read lock, then deletes
// them under the write lock to keep write lock hold time short.
func (s *MemoryTransientStore) cleanupExpired() {
	now := time.Now()

	s.mu.RLock()
	expired := make(map[RequesterKind][]string)
	for kind, bucket := range s.requesters {
		for key, entry := range bucket {
			if now.After(entry.expiresAt) {
				expired[kind] = append(expired[kind], key)
			}
		}
	}
	var expiredCodes []string
	for code, exp := range s.usedCodes {
		if now.After(exp) {
			expiredCodes = append(expiredCodes, code)
		}
	}
	var expiredJTIs []string
	for jti, exp := range s.jtis {
		if now.After(exp) {
			expiredJTIs = append(expiredJTIs, jti)
		}
	}
	s.mu.RUnlock()

	if len(expired) == 0 && len(expiredCodes) == 0 && len(expiredJTIs) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for kind, keys := range expired {
		for _, key := range keys {
			delete(s.requesters[kind], key)
		}
	}
	for _, code := range expiredCodes {
		delete(s.usedCodes, code)
	}
	for _, jti := range expiredJTIs {
		delete(s.jtis, jti)
	}
}

// PutRequester stores an authorization context under (kind, key).
func (s *MemoryTransientStore) PutRequester(_ context.Context, kind RequesterKind, key string, request fosite.Requester, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requesters[kind][key] = &timedEntry{request: request, expiresAt: expiresAt}
	return nil
}

// GetRequester retrieves the authorization context stored under (kind, key).
// Expired entries that the sweeper has not reached yet count as missing.
func (s *MemoryTransientStore) GetRequester(_ context.Context, kind RequesterKind, key string) (fosite.Requester, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.requesters[kind][key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, storage.ErrNotFound
	}
	return entry.request, nil
}

// DeleteRequester removes the entry under (kind, key).
func (s *MemoryTransientStore) DeleteRequester(_ context.Context, kind RequesterKind, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.requesters[kind][key]; !ok {
		return storage.ErrNotFound
	}
	delete(s.requesters[kind], key)
	return nil
}

// DeleteRequestersByID removes every entry of the given kind carrying the
// given request ID. The O(n) scan is fine for a single-process store.
func (s *MemoryTransientStore) DeleteRequestersByID(_ context.Context, kind RequesterKind, requestID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []string
	for key, entry := range s.requesters[kind] {
		if entry.request.GetID() == requestID {
			delete(s.requesters[kind], key)
			removed = append(removed, key)
		}
	}
	return removed, nil
}

// MarkCodeUsed records that an authorization code has been redeemed.
func (s *MemoryTransientStore) MarkCodeUsed(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.usedCodes[code] = time.Now().Add(DefaultUsedCodeTTL)
	return nil
}

// CodeUsed reports whether an authorization code has been redeemed.
func (s *MemoryTransientStore) CodeUsed(_ context.Context, code string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exp, ok := s.usedCodes[code]
	return ok && time.Now().Before(exp), nil
}

// PutJTI records a client-assertion JTI, sweeping expired ones on the way.
func (s *MemoryTransientStore) PutJTI(_ context.Context, jti string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for k, exp := range s.jtis {
		if now.After(exp) {
			delete(s.jtis, k)
		}
	}

	s.jtis[jti] = expiresAt
	return nil
}

// JTIKnown reports whether a client-assertion JTI is still known.
func (s *MemoryTransientStore) JTIKnown(_ context.Context, jti string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exp, ok := s.jtis[jti]
	return ok && time.Now().Before(exp), nil
}
