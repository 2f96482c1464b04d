// SPDX-FileCopyrightText: Copyright 2025 Hubward Authors
// SPDX-License-Identifier: Apache-2.0

// Package principal defines the identities the hub attributes requests to.
//
// A principal is either a user or a service. The two kinds share most of
// their shape but are serialized with an explicit kind tag so API consumers
// can authorize follow-up requests without guessing.
package principal

import (
	"fmt"
	"strings"
	"time"
)

// Kind discriminates the two principal variants.
type Kind string

// Principal kinds.
const (
	KindUser    Kind = "user"
	KindService Kind = "service"
)

// Principal is an authenticated user or service account.
type Principal struct {
	// Kind is the variant tag. Exactly one payload shape applies per kind.
	Kind Kind

	// ID is the stable storage identifier of the underlying record.
	ID int64

	// Name is the unique short name of the principal.
	Name string

	// Admin reports whether the principal has hub-admin rights.
	// Always false for services.
	Admin bool

	// ServerURL is the canonical URL of the principal's own backend server,
	// e.g. "https://hub.example.net/user/alice/". Empty when the principal
	// has no server.
	ServerURL string

	// Created is when the underlying record was created.
	Created time.Time

	// LastActivity is the advisory last-seen timestamp.
	LastActivity time.Time
}

// String returns a short representation safe for logging.
func (p *Principal) String() string {
	if p == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s %s", p.Kind, p.Name)
}

// IsUser reports whether the principal is a user.
func (p *Principal) IsUser() bool {
	return p != nil && p.Kind == KindUser
}

// IsService reports whether the principal is a service.
func (p *Principal) IsService() bool {
	return p != nil && p.Kind == KindService
}

// OwnsURL reports whether candidate addresses a resource under the
// principal's own server. Used for the self-access consent bypass: a client
// whose registered redirect URI lives under the principal's server URL is
// that principal's own server.
func (p *Principal) OwnsURL(candidate string) bool {
	if p == nil || p.ServerURL == "" {
		return false
	}
	return strings.HasPrefix(candidate, p.ServerURL)
}

// Model is the JSON-serializable summary of a principal returned by the
// authorization endpoints. The kind tag dispatches the payload shape.
type Model struct {
	Kind         Kind       `json:"kind"`
	Name         string     `json:"name"`
	Admin        bool       `json:"admin,omitempty"`
	ServerURL    string     `json:"server_url,omitempty"`
	Created      *time.Time `json:"created,omitempty"`
	LastActivity *time.Time `json:"last_activity,omitempty"`
}

// Summarize produces the wire model for a principal. Both kinds include the
// fields callers need to authorize subsequent requests; the admin flag is
// only meaningful for users and omitted for services.
func Summarize(p *Principal) *Model {
	if p == nil {
		return nil
	}

	m := &Model{
		Kind:      p.Kind,
		Name:      p.Name,
		ServerURL: p.ServerURL,
	}
	if p.Kind == KindUser {
		m.Admin = p.Admin
	}
	if !p.Created.IsZero() {
		created := p.Created.UTC()
		m.Created = &created
	}
	if !p.LastActivity.IsZero() {
		seen := p.LastActivity.UTC()
		m.LastActivity = &seen
	}
	return m
}
