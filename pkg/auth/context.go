// SPDX-FileCopyrightText: Copyright 2025 Hubward Authors
// SPDX-License-Identifier: Apache-2.0

// Package auth resolves presented credentials (bearer tokens, session
// cookies) to hub principals.
package auth

import (
	"context"

	"github.com/hubward/hubward/pkg/principal"
)

// PrincipalContextKey is the key used to store the authenticated principal
// in the request context. An empty struct key cannot collide with keys from
// other packages.
type PrincipalContextKey struct{}

// WithPrincipal stores a principal in the context. A nil principal returns
// the context unchanged.
func WithPrincipal(ctx context.Context, p *principal.Principal) context.Context {
	if p == nil {
		return ctx
	}
	return context.WithValue(ctx, PrincipalContextKey{}, p)
}

// PrincipalFromContext retrieves the authenticated principal from the
// context, if any.
func PrincipalFromContext(ctx context.Context) (*principal.Principal, bool) {
	p, ok := ctx.Value(PrincipalContextKey{}).(*principal.Principal)
	return p, ok
}
