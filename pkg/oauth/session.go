// SPDX-FileCopyrightText: Copyright 2025 Hubward Authors
// SPDX-License-Identifier: Apache-2.0

// Package oauth implements the embedded OAuth2 authorization server: the
// protocol engine configuration, its storage adapter, and the redirect URI
// handling used by the authorize endpoint.
package oauth

import (
	"time"

	"github.com/ory/fosite"

	"github.com/hubward/hubward/pkg/principal"
)

// Session is the fosite session attached to every authorization request. It
// carries the hub identity of the authorizing user alongside the standard
// token expiry bookkeeping, so the storage adapter can attribute minted
// tokens to a hub account.
type Session struct {
	*fosite.DefaultSession

	// UserID is the hub user who approved the authorization.
	UserID int64 `json:"user_id"`

	// UserName is kept for the token note; the ID is authoritative.
	UserName string `json:"user_name"`

	// BrowserSessionID ties tokens minted in this flow to the browser
	// session that approved them.
	BrowserSessionID string `json:"browser_session_id"`
}

// NewSession creates a session for an authorization approved by the given
// user principal within the given browser session.
func NewSession(p *principal.Principal, browserSessionID string) *Session {
	return &Session{
		DefaultSession: &fosite.DefaultSession{
			Subject:  p.Name,
			Username: p.Name,
		},
		UserID:           p.ID,
		UserName:         p.Name,
		BrowserSessionID: browserSessionID,
	}
}

// Clone returns a deep copy of the session. The embedded DefaultSession's
// Clone returns its own type, so this must be overridden to keep the hub
// identity fields through fosite's request sanitization.
func (s *Session) Clone() fosite.Session {
	if s == nil {
		return nil
	}

	clone := &Session{
		UserID:           s.UserID,
		UserName:         s.UserName,
		BrowserSessionID: s.BrowserSessionID,
	}
	if s.DefaultSession != nil {
		inner, ok := s.DefaultSession.Clone().(*fosite.DefaultSession)
		if !ok {
			inner = &fosite.DefaultSession{}
		}
		clone.DefaultSession = inner
	} else {
		clone.DefaultSession = &fosite.DefaultSession{}
	}
	return clone
}

// sessionExpiry reads a token-type expiry off a requester's session, falling
// back to defaultTTL from now when the session does not carry one.
func sessionExpiry(request fosite.Requester, tokenType fosite.TokenType, defaultTTL time.Duration) time.Time {
	if request == nil {
		return time.Now().Add(defaultTTL)
	}

	session := request.GetSession()
	if session == nil {
		return time.Now().Add(defaultTTL)
	}

	exp := session.GetExpiresAt(tokenType)
	if exp.IsZero() {
		return time.Now().Add(defaultTTL)
	}
	return exp
}
