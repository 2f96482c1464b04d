// SPDX-FileCopyrightText: Copyright 2025 Hubward Authors
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ory/fosite"

	"github.com/hubward/hubward/pkg/logger"
	"github.com/hubward/hubward/pkg/storage"
)

// Store adapts the hub's persistence to the protocol engine's storage
// interfaces. It splits state by lifetime:
//
//   - Registered clients and minted access tokens are durable hub records,
//     read and written through the storage.Store.
//   - Everything in-flight (authorization codes, PKCE challenges, requester
//     contexts, JTIs) lives in a TransientStore and may vanish on restart.
//
// Access tokens get a durable row keyed by the token signature at mint
// time, which is what the token resolver later looks up — the engine's
// transient requester copy is only used for protocol validation.
type Store struct {
	hub       storage.Store
	transient TransientStore
}

// NewStore creates the protocol storage adapter.
func NewStore(hub storage.Store, transient TransientStore) *Store {
	s := &Store{hub: hub, transient: transient}
	// The Redis backend rehydrates stored requests through the client
	// registry, which only exists once the store does.
	if rt, ok := transient.(*RedisTransientStore); ok && rt.clients == nil {
		rt.clients = s
	}
	return s
}

// -----------------------
// fosite.ClientManager
// -----------------------

// GetClient loads a registered client by ID.
func (s *Store) GetClient(ctx context.Context, id string) (fosite.Client, error) {
	record, err := s.hub.GetOAuthClient(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			logger.Debugw("oauth client not found", "client_id", id)
			return nil, fmt.Errorf("%w: %w", storage.ErrNotFound, fosite.ErrNotFound.WithHint("Client not found"))
		}
		return nil, fmt.Errorf("loading client: %w", err)
	}
	return NewClient(record), nil
}

// ClientAssertionJWTValid returns an error if the JTI is already known.
func (s *Store) ClientAssertionJWTValid(ctx context.Context, jti string) error {
	known, err := s.transient.JTIKnown(ctx, jti)
	if err != nil {
		return err
	}
	if known {
		return fosite.ErrJTIKnown
	}
	return nil
}

// SetClientAssertionJWT marks a JTI as known until exp.
func (s *Store) SetClientAssertionJWT(ctx context.Context, jti string, exp time.Time) error {
	return s.transient.PutJTI(ctx, jti, exp)
}

// -----------------------
// oauth2.AuthorizeCodeStorage
// -----------------------

// CreateAuthorizeCodeSession stores the authorization request for a code.
func (s *Store) CreateAuthorizeCodeSession(ctx context.Context, code string, request fosite.Requester) error {
	if code == "" {
		return fosite.ErrInvalidRequest.WithHint("authorization code cannot be empty")
	}
	if request == nil {
		return fosite.ErrInvalidRequest.WithHint("request cannot be nil")
	}

	expiresAt := sessionExpiry(request, fosite.AuthorizeCode, DefaultAuthorizeCodeTTL)
	return s.transient.PutRequester(ctx, KindAuthorizeCode, code, request, expiresAt)
}

// GetAuthorizeCodeSession retrieves the authorization request for a code.
// A code that has already been redeemed returns the request together with
// ErrInvalidatedAuthorizeCode, as the engine requires for replay detection.
func (s *Store) GetAuthorizeCodeSession(ctx context.Context, code string, _ fosite.Session) (fosite.Requester, error) {
	request, err := s.transient.GetRequester(ctx, KindAuthorizeCode, code)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			logger.Debugw("authorization code not found")
			return nil, fmt.Errorf("%w: %w", storage.ErrNotFound, fosite.ErrNotFound.WithHint("Authorization code not found"))
		}
		return nil, err
	}

	used, err := s.transient.CodeUsed(ctx, code)
	if err != nil {
		return nil, err
	}
	if used {
		return request, fosite.ErrInvalidatedAuthorizeCode
	}
	return request, nil
}

// InvalidateAuthorizeCodeSession marks an authorization code as redeemed.
func (s *Store) InvalidateAuthorizeCodeSession(ctx context.Context, code string) error {
	if _, err := s.transient.GetRequester(ctx, KindAuthorizeCode, code); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %w", storage.ErrNotFound, fosite.ErrNotFound.WithHint("Authorization code not found"))
		}
		return err
	}
	return s.transient.MarkCodeUsed(ctx, code)
}

// -----------------------
// oauth2.AccessTokenStorage
// -----------------------

// CreateAccessTokenSession stores the engine's token session and mints the
// durable hub token record in the same step.
func (s *Store) CreateAccessTokenSession(ctx context.Context, signature string, request fosite.Requester) error {
	if signature == "" {
		return fosite.ErrInvalidRequest.WithHint("access token signature cannot be empty")
	}
	if request == nil {
		return fosite.ErrInvalidRequest.WithHint("request cannot be nil")
	}

	expiresAt := sessionExpiry(request, fosite.AccessToken, DefaultAccessTokenTTL)
	if err := s.transient.PutRequester(ctx, KindAccessToken, signature, request, expiresAt); err != nil {
		return err
	}

	session, ok := request.GetSession().(*Session)
	if !ok {
		return fosite.ErrServerError.WithHint("access token session has unexpected type")
	}

	clientID := request.GetClient().GetID()
	record := &storage.OAuthToken{
		Signature: signature,
		ClientID:  clientID,
		SessionID: session.BrowserSessionID,
		Scopes:    request.GetGrantedScopes(),
		UserID:    &session.UserID,
		Note:      fmt.Sprintf("oauth via %s", clientID),
		ExpiresAt: expiresAt,
	}
	if err := s.hub.CreateOAuthToken(ctx, record); err != nil {
		return fmt.Errorf("persisting access token: %w", err)
	}

	logger.Infow("minted oauth access token", "client_id", clientID, "user", session.UserName)
	return nil
}

// GetAccessTokenSession retrieves the token session by signature.
func (s *Store) GetAccessTokenSession(ctx context.Context, signature string, _ fosite.Session) (fosite.Requester, error) {
	request, err := s.transient.GetRequester(ctx, KindAccessToken, signature)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			logger.Debugw("access token session not found")
			return nil, fmt.Errorf("%w: %w", storage.ErrNotFound, fosite.ErrNotFound.WithHint("Access token not found"))
		}
		return nil, err
	}
	return request, nil
}

// DeleteAccessTokenSession removes the token session and its hub record.
func (s *Store) DeleteAccessTokenSession(ctx context.Context, signature string) error {
	if err := s.transient.DeleteRequester(ctx, KindAccessToken, signature); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %w", storage.ErrNotFound, fosite.ErrNotFound.WithHint("Access token not found"))
		}
		return err
	}
	return s.deleteTokenRecord(ctx, signature)
}

// -----------------------
// oauth2.RefreshTokenStorage
// -----------------------

// CreateRefreshTokenSession stores the refresh token session. The access
// signature link is unused; rotation goes through the request ID.
func (s *Store) CreateRefreshTokenSession(ctx context.Context, signature string, _ string, request fosite.Requester) error {
	if signature == "" {
		return fosite.ErrInvalidRequest.WithHint("refresh token signature cannot be empty")
	}
	if request == nil {
		return fosite.ErrInvalidRequest.WithHint("request cannot be nil")
	}

	expiresAt := sessionExpiry(request, fosite.RefreshToken, DefaultRefreshTokenTTL)
	return s.transient.PutRequester(ctx, KindRefreshToken, signature, request, expiresAt)
}

// GetRefreshTokenSession retrieves the refresh token session by signature.
func (s *Store) GetRefreshTokenSession(ctx context.Context, signature string, _ fosite.Session) (fosite.Requester, error) {
	request, err := s.transient.GetRequester(ctx, KindRefreshToken, signature)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			logger.Debugw("refresh token session not found")
			return nil, fmt.Errorf("%w: %w", storage.ErrNotFound, fosite.ErrNotFound.WithHint("Refresh token not found"))
		}
		return nil, err
	}
	return request, nil
}

// DeleteRefreshTokenSession removes the refresh token session.
func (s *Store) DeleteRefreshTokenSession(ctx context.Context, signature string) error {
	if err := s.transient.DeleteRequester(ctx, KindRefreshToken, signature); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %w", storage.ErrNotFound, fosite.ErrNotFound.WithHint("Refresh token not found"))
		}
		return err
	}
	return nil
}

// RotateRefreshToken invalidates a refresh token and every access token
// minted from the same grant.
func (s *Store) RotateRefreshToken(ctx context.Context, requestID string, refreshTokenSignature string) error {
	if err := s.transient.DeleteRequester(ctx, KindRefreshToken, refreshTokenSignature); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return s.revokeAccessTokens(ctx, requestID)
}

// -----------------------
// oauth2.TokenRevocationStorage
// -----------------------

// RevokeAccessToken revokes every access token minted from the given grant.
func (s *Store) RevokeAccessToken(ctx context.Context, requestID string) error {
	return s.revokeAccessTokens(ctx, requestID)
}

// RevokeRefreshToken revokes every refresh token minted from the given grant.
func (s *Store) RevokeRefreshToken(ctx context.Context, requestID string) error {
	_, err := s.transient.DeleteRequestersByID(ctx, KindRefreshToken, requestID)
	return err
}

// RevokeRefreshTokenMaybeGracePeriod revokes immediately; the hub does not
// support revocation grace periods.
func (s *Store) RevokeRefreshTokenMaybeGracePeriod(ctx context.Context, requestID string, _ string) error {
	return s.RevokeRefreshToken(ctx, requestID)
}

// -----------------------
// pkce.PKCERequestStorage
// -----------------------

// CreatePKCERequestSession stores the PKCE challenge for a code.
func (s *Store) CreatePKCERequestSession(ctx context.Context, signature string, request fosite.Requester) error {
	if signature == "" {
		return fosite.ErrInvalidRequest.WithHint("PKCE signature cannot be empty")
	}
	if request == nil {
		return fosite.ErrInvalidRequest.WithHint("request cannot be nil")
	}

	expiresAt := sessionExpiry(request, fosite.AuthorizeCode, DefaultAuthorizeCodeTTL)
	return s.transient.PutRequester(ctx, KindPKCE, signature, request, expiresAt)
}

// GetPKCERequestSession retrieves the PKCE challenge by code signature.
func (s *Store) GetPKCERequestSession(ctx context.Context, signature string, _ fosite.Session) (fosite.Requester, error) {
	request, err := s.transient.GetRequester(ctx, KindPKCE, signature)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			logger.Debugw("PKCE request not found")
			return nil, fmt.Errorf("%w: %w", storage.ErrNotFound, fosite.ErrNotFound.WithHint("PKCE request not found"))
		}
		return nil, err
	}
	return request, nil
}

// DeletePKCERequestSession removes the PKCE challenge.
func (s *Store) DeletePKCERequestSession(ctx context.Context, signature string) error {
	if err := s.transient.DeleteRequester(ctx, KindPKCE, signature); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %w", storage.ErrNotFound, fosite.ErrNotFound.WithHint("PKCE request not found"))
		}
		return err
	}
	return nil
}

// -----------------------
// helpers
// -----------------------

func (s *Store) revokeAccessTokens(ctx context.Context, requestID string) error {
	signatures, err := s.transient.DeleteRequestersByID(ctx, KindAccessToken, requestID)
	if err != nil {
		return err
	}
	for _, signature := range signatures {
		if err := s.deleteTokenRecord(ctx, signature); err != nil {
			return err
		}
	}
	return nil
}

// deleteTokenRecord removes the durable token row; a row already gone is
// fine, the resolver may have purged it first.
func (s *Store) deleteTokenRecord(ctx context.Context, signature string) error {
	err := s.hub.DeleteOAuthTokenBySignature(ctx, signature)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("deleting access token record: %w", err)
	}
	return nil
}
