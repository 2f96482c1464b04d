// SPDX-FileCopyrightText: Copyright 2025 Hubward Authors
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"context"
	"testing"
	"time"

	"github.com/ory/fosite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hubward/hubward/pkg/principal"
	"github.com/hubward/hubward/pkg/storage"
)

func newTestStore(t *testing.T) (*Store, storage.Store) {
	t.Helper()

	hub := storage.NewMemoryStore()
	transient := NewMemoryTransientStore()
	t.Cleanup(func() { _ = transient.Close() })

	require.NoError(t, RegisterClient(context.Background(), hub, &storage.OAuthClient{
		ID:          "service-panel",
		RedirectURI: "http://hub:8000/services/panel/callback",
		Description: "panel",
	}, "panel-secret"))

	return NewStore(hub, transient), hub
}

func newTestRequester(t *testing.T, s *Store, hub storage.Store, id string) fosite.Requester {
	t.Helper()

	ctx := context.Background()
	user := &storage.User{Name: "alice-" + id, ServerURL: "http://hub:8000/user/alice/"}
	require.NoError(t, hub.CreateUser(ctx, user))

	client, err := s.GetClient(ctx, "service-panel")
	require.NoError(t, err)

	session := NewSession(&principal.Principal{
		Kind: principal.KindUser,
		ID:   user.ID,
		Name: user.Name,
	}, "sess-"+id)
	session.SetExpiresAt(fosite.AccessToken, time.Now().Add(time.Hour))
	session.SetExpiresAt(fosite.AuthorizeCode, time.Now().Add(10*time.Minute))

	request := fosite.NewRequest()
	request.ID = id
	request.Client = client
	request.Session = session
	request.RequestedScope = fosite.Arguments{ScopeIdentify}
	request.GrantedScope = fosite.Arguments{ScopeIdentify}
	return request
}

func TestStoreGetClient(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ctx := context.Background()

	client, err := s.GetClient(ctx, "service-panel")
	require.NoError(t, err)
	assert.Equal(t, "service-panel", client.GetID())
	assert.False(t, client.IsPublic())
	assert.Equal(t, []string{"http://hub:8000/services/panel/callback"}, client.GetRedirectURIs())

	_, err = s.GetClient(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, err, fosite.ErrNotFound)
}

func TestStoreAuthorizeCodeLifecycle(t *testing.T) {
	t.Parallel()

	s, hub := newTestStore(t)
	ctx := context.Background()
	request := newTestRequester(t, s, hub, "req-1")

	require.NoError(t, s.CreateAuthorizeCodeSession(ctx, "code-1", request))

	got, err := s.GetAuthorizeCodeSession(ctx, "code-1", nil)
	require.NoError(t, err)
	assert.Equal(t, "req-1", got.GetID())

	require.NoError(t, s.InvalidateAuthorizeCodeSession(ctx, "code-1"))

	// A redeemed code must surface the replay error together with the
	// original request so the engine can revoke the grant.
	got, err = s.GetAuthorizeCodeSession(ctx, "code-1", nil)
	assert.ErrorIs(t, err, fosite.ErrInvalidatedAuthorizeCode)
	require.NotNil(t, got)
	assert.Equal(t, "req-1", got.GetID())

	_, err = s.GetAuthorizeCodeSession(ctx, "unknown", nil)
	assert.ErrorIs(t, err, fosite.ErrNotFound)
}

func TestStoreAccessTokenMintsHubRecord(t *testing.T) {
	t.Parallel()

	s, hub := newTestStore(t)
	ctx := context.Background()
	request := newTestRequester(t, s, hub, "req-2")

	require.NoError(t, s.CreateAccessTokenSession(ctx, "sig-2", request))

	got, err := s.GetAccessTokenSession(ctx, "sig-2", nil)
	require.NoError(t, err)
	assert.Equal(t, "req-2", got.GetID())

	record, err := hub.ResolveOAuthToken(ctx, "sig-2", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "service-panel", record.ClientID)
	assert.Equal(t, "sess-req-2", record.SessionID)
	assert.Equal(t, []string{ScopeIdentify}, record.Scopes)
	assert.Equal(t, "oauth via service-panel", record.Note)
	require.NotNil(t, record.User)
	assert.Equal(t, "alice-req-2", record.User.Name)

	require.NoError(t, s.DeleteAccessTokenSession(ctx, "sig-2"))
	_, err = hub.ResolveOAuthToken(ctx, "sig-2", time.Now())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStoreRevokeAccessTokenPurgesHubRecords(t *testing.T) {
	t.Parallel()

	s, hub := newTestStore(t)
	ctx := context.Background()
	request := newTestRequester(t, s, hub, "req-3")

	require.NoError(t, s.CreateAccessTokenSession(ctx, "sig-3", request))
	require.NoError(t, s.RevokeAccessToken(ctx, "req-3"))

	_, err := s.GetAccessTokenSession(ctx, "sig-3", nil)
	assert.ErrorIs(t, err, fosite.ErrNotFound)
	_, err = hub.ResolveOAuthToken(ctx, "sig-3", time.Now())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStorePKCESessions(t *testing.T) {
	t.Parallel()

	s, hub := newTestStore(t)
	ctx := context.Background()
	request := newTestRequester(t, s, hub, "req-4")

	require.NoError(t, s.CreatePKCERequestSession(ctx, "code-sig-4", request))

	got, err := s.GetPKCERequestSession(ctx, "code-sig-4", nil)
	require.NoError(t, err)
	assert.Equal(t, "req-4", got.GetID())

	require.NoError(t, s.DeletePKCERequestSession(ctx, "code-sig-4"))
	_, err = s.GetPKCERequestSession(ctx, "code-sig-4", nil)
	assert.ErrorIs(t, err, fosite.ErrNotFound)
}

func TestStoreClientAssertionJWT(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.ClientAssertionJWTValid(ctx, "jti-1"))
	require.NoError(t, s.SetClientAssertionJWT(ctx, "jti-1", time.Now().Add(time.Minute)))
	assert.ErrorIs(t, s.ClientAssertionJWTValid(ctx, "jti-1"), fosite.ErrJTIKnown)
}

func TestTokenSignature(t *testing.T) {
	t.Parallel()

	sig, ok := TokenSignature("random.part.signature")
	assert.True(t, ok)
	assert.Equal(t, "signature", sig)

	_, ok = TokenSignature("nodot")
	assert.False(t, ok)

	_, ok = TokenSignature("trailing.")
	assert.False(t, ok)
}
