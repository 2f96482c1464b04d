// SPDX-FileCopyrightText: Copyright 2025 Hubward Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/hubward/hubward/pkg/errors"
	"github.com/hubward/hubward/pkg/logger"
	"github.com/hubward/hubward/pkg/oauth"
	"github.com/hubward/hubward/pkg/principal"
	"github.com/hubward/hubward/pkg/sessions"
	"github.com/hubward/hubward/pkg/storage"
)

// Resolver turns presented credentials into principals. Every successful
// resolution stamps last-activity on the credential and its owner; the
// stores do that atomically with the lookup.
type Resolver struct {
	store    storage.Store
	sessions *sessions.Manager
}

// NewResolver creates a credential resolver.
func NewResolver(store storage.Store, sessionManager *sessions.Manager) *Resolver {
	return &Resolver{store: store, sessions: sessionManager}
}

// ResolveToken resolves an opaque bearer token to its owning principal.
//
// The self-issued API token namespace is consulted first, then the OAuth
// access token namespace; the namespaces are disjoint (different secret
// shapes), so the order only decides which miss is reported. A secret
// carrying the API token prefix is never looked up as an OAuth token.
//
// A token row whose owner has been deleted is an orphan: it is purged on
// discovery and reported as not found, so a deleted account cannot keep
// authenticating through a leftover row. Purging is idempotent; two
// concurrent resolutions of the same orphan both report not found.
func (r *Resolver) ResolveToken(ctx context.Context, token string) (*principal.Principal, error) {
	if token == "" {
		return nil, errors.NewNotFoundError("no token provided", nil)
	}
	now := time.Now().UTC()

	if apiToken, err := r.store.ResolveAPIToken(ctx, storage.HashToken(token), now); err == nil {
		return r.apiTokenPrincipal(ctx, apiToken)
	} else if !stderrors.Is(err, storage.ErrNotFound) {
		return nil, errors.NewInternalError("failed to resolve API token", err)
	}

	// Prefixed secrets are minted only into the API token namespace, so a
	// miss there is final for them.
	if storage.LooksLikeAPIToken(token) {
		return nil, errors.NewNotFoundError("token not found", nil)
	}

	signature, ok := oauth.TokenSignature(token)
	if !ok {
		return nil, errors.NewNotFoundError("token not found", nil)
	}

	oauthToken, err := r.store.ResolveOAuthToken(ctx, signature, now)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return nil, errors.NewNotFoundError("token not found", nil)
		}
		return nil, errors.NewInternalError("failed to resolve OAuth token", err)
	}

	if oauthToken.User == nil {
		logger.Warnw("deleting orphaned oauth token", "client_id", oauthToken.ClientID)
		if err := r.store.DeleteOAuthToken(ctx, oauthToken.ID); err != nil && !stderrors.Is(err, storage.ErrNotFound) {
			return nil, errors.NewInternalError("failed to delete orphaned token", err)
		}
		return nil, errors.NewNotFoundError("token not found", nil)
	}
	return userPrincipal(oauthToken.User), nil
}

// apiTokenPrincipal maps a resolved API token to its owner, purging orphans.
func (r *Resolver) apiTokenPrincipal(ctx context.Context, token *storage.APIToken) (*principal.Principal, error) {
	switch {
	case token.User != nil:
		return userPrincipal(token.User), nil
	case token.Service != nil:
		return servicePrincipal(token.Service), nil
	default:
		logger.Warnw("deleting orphaned api token", "token_id", token.ID)
		if err := r.store.DeleteAPIToken(ctx, token.ID); err != nil && !stderrors.Is(err, storage.ErrNotFound) {
			return nil, errors.NewInternalError("failed to delete orphaned token", err)
		}
		return nil, errors.NewNotFoundError("token not found", nil)
	}
}

// ResolveSessionCookie resolves a session cookie, presented by name and
// value, to its user principal. The name must match the hub's configured
// session cookie; anything else is not found, the same as a bad value, so
// a probing client cannot tell which part was wrong.
func (r *Resolver) ResolveSessionCookie(ctx context.Context, name, value string) (*principal.Principal, error) {
	if name != r.sessions.CookieName() {
		return nil, errors.NewNotFoundError("no such cookie", nil)
	}

	session, err := r.sessions.ResolveValue(ctx, value)
	if err != nil {
		switch {
		case stderrors.Is(err, sessions.ErrInvalidCookie), stderrors.Is(err, storage.ErrNotFound):
			return nil, errors.NewNotFoundError("cookie not found", nil)
		default:
			return nil, errors.NewInternalError("failed to resolve cookie", err)
		}
	}

	if session.User == nil {
		logger.Warnw("deleting orphaned session", "session_id", session.ID)
		if err := r.store.DeleteSession(ctx, session.ID); err != nil && !stderrors.Is(err, storage.ErrNotFound) {
			return nil, errors.NewInternalError("failed to delete orphaned session", err)
		}
		return nil, errors.NewNotFoundError("cookie not found", nil)
	}
	return userPrincipal(session.User), nil
}

// ResolveRequestSession resolves the session cookie on an incoming request,
// returning the user behind it together with the browser session ID. Used by
// the authorize endpoint, where the browser is the caller and the grant must
// be tied to the login that approved it.
func (r *Resolver) ResolveRequestSession(ctx context.Context, req *http.Request) (*principal.Principal, string, error) {
	session, err := r.sessions.Resolve(ctx, req)
	if err != nil {
		switch {
		case stderrors.Is(err, sessions.ErrNoSession),
			stderrors.Is(err, sessions.ErrInvalidCookie),
			stderrors.Is(err, storage.ErrNotFound):
			return nil, "", errors.NewNotFoundError("not signed in", nil)
		default:
			return nil, "", errors.NewInternalError("failed to resolve session", err)
		}
	}

	if session.User == nil {
		logger.Warnw("deleting orphaned session", "session_id", session.ID)
		if err := r.store.DeleteSession(ctx, session.ID); err != nil && !stderrors.Is(err, storage.ErrNotFound) {
			return nil, "", errors.NewInternalError("failed to delete orphaned session", err)
		}
		return nil, "", errors.NewNotFoundError("not signed in", nil)
	}
	return userPrincipal(session.User), session.ID, nil
}

func userPrincipal(u *storage.User) *principal.Principal {
	return &principal.Principal{
		Kind:         principal.KindUser,
		ID:           u.ID,
		Name:         u.Name,
		Admin:        u.Admin,
		ServerURL:    u.ServerURL,
		Created:      u.Created,
		LastActivity: u.LastActivity,
	}
}

func servicePrincipal(s *storage.Service) *principal.Principal {
	return &principal.Principal{
		Kind:         principal.KindService,
		ID:           s.ID,
		Name:         s.Name,
		ServerURL:    s.ServerURL,
		Created:      s.Created,
		LastActivity: s.LastActivity,
	}
}
