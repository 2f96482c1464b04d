// SPDX-FileCopyrightText: Copyright 2025 Hubward Authors
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"context"
	"fmt"

	"github.com/ory/fosite"
	"golang.org/x/crypto/bcrypt"

	"github.com/hubward/hubward/pkg/storage"
)

// ScopeIdentify is the only scope the hub grants today: permission to read
// the authorizing user's identity model.
const ScopeIdentify = "identify"

// Client adapts a registered hub client record to fosite.Client. All hub
// clients are confidential: each one is a service holding a secret, there
// are no public native-app clients.
type Client struct {
	record *storage.OAuthClient
}

var _ fosite.Client = (*Client)(nil)

// NewClient wraps a stored client record.
func NewClient(record *storage.OAuthClient) *Client {
	return &Client{record: record}
}

// GetID returns the client identifier.
func (c *Client) GetID() string { return c.record.ID }

// GetHashedSecret returns the bcrypt hash of the client secret.
func (c *Client) GetHashedSecret() []byte { return []byte(c.record.SecretHash) }

// GetRedirectURIs returns the single registered redirect URI.
func (c *Client) GetRedirectURIs() []string { return []string{c.record.RedirectURI} }

// GetGrantTypes returns the grant types hub clients may use.
func (*Client) GetGrantTypes() fosite.Arguments { return fosite.Arguments{"authorization_code"} }

// GetResponseTypes returns the response types hub clients may request.
func (*Client) GetResponseTypes() fosite.Arguments { return fosite.Arguments{"code"} }

// GetScopes returns the scopes the client may be granted.
func (c *Client) GetScopes() fosite.Arguments {
	if len(c.record.Scopes) > 0 {
		return fosite.Arguments(c.record.Scopes)
	}
	return fosite.Arguments{ScopeIdentify}
}

// GetAudience returns the requested audiences; hub clients have none.
func (*Client) GetAudience() fosite.Arguments { return nil }

// IsPublic reports whether the client is public. Hub clients never are.
func (*Client) IsPublic() bool { return false }

// Description returns the human-readable client description shown on the
// consent page, falling back to the client ID.
func (c *Client) Description() string {
	if c.record.Description != "" {
		return c.record.Description
	}
	return c.record.ID
}

// RedirectURI returns the registered redirect URI.
func (c *Client) RedirectURI() string { return c.record.RedirectURI }

// RegisterClient stores (or re-registers) a client with the given plaintext
// secret, hashing it with bcrypt before it touches the database. Hub services
// re-register their client on every startup, so an existing record is
// replaced in place.
func RegisterClient(ctx context.Context, clients storage.ClientStore, record *storage.OAuthClient, secret string) error {
	if record.ID == "" {
		return fmt.Errorf("client ID cannot be empty")
	}
	if secret == "" {
		return fmt.Errorf("client secret cannot be empty")
	}
	if record.RedirectURI == "" {
		return fmt.Errorf("client redirect URI cannot be empty")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing client secret: %w", err)
	}
	record.SecretHash = string(hash)

	if err := clients.UpsertOAuthClient(ctx, record); err != nil {
		return fmt.Errorf("storing client: %w", err)
	}
	return nil
}
