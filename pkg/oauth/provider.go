// SPDX-FileCopyrightText: Copyright 2025 Hubward Authors
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ory/fosite"
	"github.com/ory/fosite/compose"
)

// Config holds the protocol engine settings.
type Config struct {
	// Issuer is the hub's public base URL, e.g. "http://hub:8000".
	Issuer string

	// Secret is the HMAC global secret used to sign opaque tokens.
	// Must be at least 32 bytes.
	Secret []byte

	// Token and code lifetimes. Zero values get defaults.
	AccessTokenLifespan   time.Duration
	RefreshTokenLifespan  time.Duration
	AuthorizeCodeLifespan time.Duration
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Issuer == "" {
		return fmt.Errorf("issuer is required")
	}
	if _, err := url.Parse(c.Issuer); err != nil {
		return fmt.Errorf("invalid issuer URL: %w", err)
	}
	if len(c.Secret) < 32 {
		return fmt.Errorf("secret must be at least 32 bytes")
	}
	return nil
}

// PublicHost returns the host component of the issuer URL.
func (c *Config) PublicHost() string {
	u, err := url.Parse(c.Issuer)
	if err != nil {
		return ""
	}
	return u.Host
}

// NewFositeConfig builds the engine configuration. Tokens are opaque HMAC
// values, not JWTs: the hub is both the minting and the validating party, so
// there is nothing to gain from self-describing tokens and plenty to lose
// (they cannot be revoked by deleting a row).
func NewFositeConfig(cfg *Config) (*fosite.Config, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid oauth config: %w", err)
	}

	accessTokenLifespan := cfg.AccessTokenLifespan
	if accessTokenLifespan == 0 {
		accessTokenLifespan = DefaultAccessTokenTTL
	}
	refreshTokenLifespan := cfg.RefreshTokenLifespan
	if refreshTokenLifespan == 0 {
		refreshTokenLifespan = DefaultRefreshTokenTTL
	}
	authCodeLifespan := cfg.AuthorizeCodeLifespan
	if authCodeLifespan == 0 {
		authCodeLifespan = DefaultAuthorizeCodeTTL
	}

	return &fosite.Config{
		AccessTokenIssuer:     cfg.Issuer,
		AccessTokenLifespan:   accessTokenLifespan,
		RefreshTokenLifespan:  refreshTokenLifespan,
		AuthorizeCodeLifespan: authCodeLifespan,
		GlobalSecret:          cfg.Secret,
		TokenURL:              cfg.Issuer + "/api/oauth2/token",
		RedirectSecureChecker: NewRedirectSecureChecker(cfg.PublicHost()),
	}, nil
}

// NewProvider creates the OAuth2 endpoint handler chain: authorization-code
// grant with PKCE support, HMAC token strategy.
func NewProvider(fositeConfig *fosite.Config, store *Store) fosite.OAuth2Provider {
	hmacStrategy := compose.NewOAuth2HMACStrategy(fositeConfig)

	return compose.Compose(
		fositeConfig,
		store,
		&compose.CommonStrategy{CoreStrategy: hmacStrategy},
		compose.OAuth2AuthorizeExplicitFactory,
		compose.OAuth2PKCEFactory,
	)
}

// TokenSignature extracts the lookup key from a presented opaque token. HMAC
// tokens have the form "<random>.<signature>"; the signature after the final
// dot is what token records are keyed by. Tokens without a dot have no
// signature.
func TokenSignature(token string) (string, bool) {
	idx := strings.LastIndexByte(token, '.')
	if idx < 0 || idx == len(token)-1 {
		return "", false
	}
	return token[idx+1:], true
}
