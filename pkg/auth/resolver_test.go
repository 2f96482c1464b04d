// SPDX-FileCopyrightText: Copyright 2025 Hubward Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hubward/hubward/pkg/errors"
	"github.com/hubward/hubward/pkg/principal"
	"github.com/hubward/hubward/pkg/sessions"
	"github.com/hubward/hubward/pkg/storage"
)

func newTestResolver(t *testing.T) (*Resolver, storage.Store, *sessions.Manager) {
	t.Helper()

	store := storage.NewMemoryStore()
	manager, err := sessions.NewManager(store, []byte(strings.Repeat("k", 32)))
	require.NoError(t, err)
	return NewResolver(store, manager), store, manager
}

func createUserToken(t *testing.T, store storage.Store, name string) (string, *storage.User) {
	t.Helper()

	user := &storage.User{Name: name, ServerURL: "http://hub:8000/user/" + name + "/"}
	require.NoError(t, store.CreateUser(context.Background(), user))

	secret, hash := storage.NewAPITokenSecret()
	require.NoError(t, store.CreateAPIToken(context.Background(), &storage.APIToken{
		Hash:   hash,
		UserID: &user.ID,
	}))
	return secret, user
}

func TestResolveTokenAPIUser(t *testing.T) {
	t.Parallel()

	r, _, _ := newTestResolver(t)
	secret, user := createUserToken(t, rStore(r), "alice")

	p, err := r.ResolveToken(context.Background(), secret)
	require.NoError(t, err)
	assert.Equal(t, principal.KindUser, p.Kind)
	assert.Equal(t, user.Name, p.Name)
	assert.False(t, p.LastActivity.IsZero())
}

// rStore gives tests access to the resolver's store without widening the API.
func rStore(r *Resolver) storage.Store { return r.store }

func TestResolveTokenAPIService(t *testing.T) {
	t.Parallel()

	r, store, _ := newTestResolver(t)
	ctx := context.Background()

	svc := &storage.Service{Name: "culler"}
	require.NoError(t, store.CreateService(ctx, svc))

	secret, hash := storage.NewAPITokenSecret()
	require.NoError(t, store.CreateAPIToken(ctx, &storage.APIToken{Hash: hash, ServiceID: &svc.ID}))

	p, err := r.ResolveToken(ctx, secret)
	require.NoError(t, err)
	assert.Equal(t, principal.KindService, p.Kind)
	assert.Equal(t, "culler", p.Name)
}

func TestResolveTokenOAuth(t *testing.T) {
	t.Parallel()

	r, store, _ := newTestResolver(t)
	ctx := context.Background()

	user := &storage.User{Name: "bob"}
	require.NoError(t, store.CreateUser(ctx, user))
	require.NoError(t, store.CreateOAuthToken(ctx, &storage.OAuthToken{
		Signature: "oauth-sig",
		ClientID:  "service-panel",
		UserID:    &user.ID,
		ExpiresAt: time.Now().Add(time.Hour),
	}))

	p, err := r.ResolveToken(ctx, "random-part.oauth-sig")
	require.NoError(t, err)
	assert.Equal(t, principal.KindUser, p.Kind)
	assert.Equal(t, "bob", p.Name)
}

func TestResolveTokenUnknown(t *testing.T) {
	t.Parallel()

	r, _, _ := newTestResolver(t)

	_, err := r.ResolveToken(context.Background(), "no-such-token")
	assert.True(t, errors.IsNotFound(err))

	_, err = r.ResolveToken(context.Background(), "")
	assert.True(t, errors.IsNotFound(err))
}

func TestResolveTokenPrefixedSecretStaysInAPINamespace(t *testing.T) {
	t.Parallel()

	r, store, _ := newTestResolver(t)
	ctx := context.Background()

	user := &storage.User{Name: "eve"}
	require.NoError(t, store.CreateUser(ctx, user))
	require.NoError(t, store.CreateOAuthToken(ctx, &storage.OAuthToken{
		Signature: "shared-sig",
		ClientID:  "service-panel",
		UserID:    &user.ID,
		ExpiresAt: time.Now().Add(time.Hour),
	}))

	// A secret carrying the API token prefix never falls through to the
	// OAuth namespace, even when its tail matches a stored signature.
	_, err := r.ResolveToken(ctx, storage.APITokenPrefix+"random.shared-sig")
	assert.True(t, errors.IsNotFound(err))

	p, err := r.ResolveToken(ctx, "random.shared-sig")
	require.NoError(t, err)
	assert.Equal(t, "eve", p.Name)
}

func TestResolveTokenOrphanPurge(t *testing.T) {
	t.Parallel()

	r, store, _ := newTestResolver(t)
	ctx := context.Background()

	// An API token whose owner row has vanished.
	secret, hash := storage.NewAPITokenSecret()
	require.NoError(t, store.CreateAPIToken(ctx, &storage.APIToken{Hash: hash}))

	_, err := r.ResolveToken(ctx, secret)
	assert.True(t, errors.IsNotFound(err))

	// The orphan row is gone; resolving again is still just not-found.
	_, err = store.ResolveAPIToken(ctx, hash, time.Now())
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = r.ResolveToken(ctx, secret)
	assert.True(t, errors.IsNotFound(err))
}

func TestResolveTokenOrphanOAuth(t *testing.T) {
	t.Parallel()

	r, store, _ := newTestResolver(t)
	ctx := context.Background()

	require.NoError(t, store.CreateOAuthToken(ctx, &storage.OAuthToken{
		Signature: "orphan-sig",
		ClientID:  "service-panel",
	}))

	_, err := r.ResolveToken(ctx, "x.orphan-sig")
	assert.True(t, errors.IsNotFound(err))

	_, err = store.ResolveOAuthToken(ctx, "orphan-sig", time.Now())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestResolveSessionCookie(t *testing.T) {
	t.Parallel()

	r, store, manager := newTestResolver(t)
	ctx := context.Background()

	user := &storage.User{Name: "carol", Admin: true}
	require.NoError(t, store.CreateUser(ctx, user))

	rec := httptest.NewRecorder()
	_, err := manager.Issue(ctx, rec, user)
	require.NoError(t, err)
	value := rec.Result().Cookies()[0].Value

	p, err := r.ResolveSessionCookie(ctx, manager.CookieName(), value)
	require.NoError(t, err)
	assert.Equal(t, "carol", p.Name)
	assert.True(t, p.Admin)

	// Wrong cookie name and bad value both come back as plain not-found.
	_, err = r.ResolveSessionCookie(ctx, "some-other-cookie", value)
	assert.True(t, errors.IsNotFound(err))
	_, err = r.ResolveSessionCookie(ctx, manager.CookieName(), "garbage")
	assert.True(t, errors.IsNotFound(err))
}

func TestResolveRequestSession(t *testing.T) {
	t.Parallel()

	r, store, manager := newTestResolver(t)
	ctx := context.Background()

	user := &storage.User{Name: "dave"}
	require.NoError(t, store.CreateUser(ctx, user))

	rec := httptest.NewRecorder()
	_, err := manager.Issue(ctx, rec, user)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(rec.Result().Cookies()[0])

	p, sessionID, err := r.ResolveRequestSession(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "dave", p.Name)
	assert.NotEmpty(t, sessionID)

	bare := httptest.NewRequest(http.MethodGet, "/", nil)
	_, _, err = r.ResolveRequestSession(ctx, bare)
	assert.True(t, errors.IsNotFound(err))
}
