// SPDX-FileCopyrightText: Copyright 2025 Hubward Authors
// SPDX-License-Identifier: Apache-2.0

package sessions

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hubward/hubward/pkg/storage"
)

func newTestManager(t *testing.T, opts ...Option) (*Manager, storage.Store) {
	t.Helper()

	store := storage.NewMemoryStore()
	m, err := NewManager(store, []byte(strings.Repeat("k", 32)), opts...)
	require.NoError(t, err)
	return m, store
}

func TestManagerIssueAndResolve(t *testing.T) {
	t.Parallel()

	m, store := newTestManager(t)
	ctx := context.Background()

	user := &storage.User{Name: "alice"}
	require.NoError(t, store.CreateUser(ctx, user))

	rec := httptest.NewRecorder()
	sessionID, err := m.Issue(ctx, rec, user)
	require.NoError(t, err)
	assert.NotEmpty(t, sessionID)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	cookie := cookies[0]
	assert.Equal(t, DefaultCookieName, cookie.Name)
	assert.True(t, cookie.HttpOnly)
	// The cookie value is a signed reference, never the raw session ID.
	assert.NotContains(t, cookie.Value, sessionID)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)

	session, err := m.Resolve(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, sessionID, session.ID)
	require.NotNil(t, session.User)
	assert.Equal(t, "alice", session.User.Name)
	assert.False(t, session.LastActivity.IsZero())
	assert.False(t, session.User.LastActivity.IsZero())
}

func TestManagerResolveErrors(t *testing.T) {
	t.Parallel()

	m, store := newTestManager(t)
	ctx := context.Background()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := m.Resolve(ctx, req)
	assert.ErrorIs(t, err, ErrNoSession)

	req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: "not-a-jwt"})
	_, err = m.Resolve(ctx, req)
	assert.ErrorIs(t, err, ErrInvalidCookie)

	// A cookie signed with a different key must not verify.
	other, err := NewManager(store, []byte(strings.Repeat("x", 32)))
	require.NoError(t, err)
	user := &storage.User{Name: "bob"}
	require.NoError(t, store.CreateUser(ctx, user))

	rec := httptest.NewRecorder()
	_, err = other.Issue(ctx, rec, user)
	require.NoError(t, err)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(rec.Result().Cookies()[0])
	_, err = m.Resolve(ctx, req)
	assert.ErrorIs(t, err, ErrInvalidCookie)
}

func TestManagerResolveDeletedSession(t *testing.T) {
	t.Parallel()

	m, store := newTestManager(t)
	ctx := context.Background()

	user := &storage.User{Name: "carol"}
	require.NoError(t, store.CreateUser(ctx, user))

	rec := httptest.NewRecorder()
	sessionID, err := m.Issue(ctx, rec, user)
	require.NoError(t, err)
	require.NoError(t, store.DeleteSession(ctx, sessionID))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(rec.Result().Cookies()[0])
	_, err = m.Resolve(ctx, req)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestManagerClear(t *testing.T) {
	t.Parallel()

	m, store := newTestManager(t)
	ctx := context.Background()

	user := &storage.User{Name: "dave"}
	require.NoError(t, store.CreateUser(ctx, user))

	rec := httptest.NewRecorder()
	_, err := m.Issue(ctx, rec, user)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(rec.Result().Cookies()[0])

	clearRec := httptest.NewRecorder()
	require.NoError(t, m.Clear(ctx, clearRec, req))

	cookies := clearRec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Negative(t, cookies[0].MaxAge)

	_, err = m.ResolveValue(ctx, req.Cookies()[0].Value)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestManagerExpiredSession(t *testing.T) {
	t.Parallel()

	m, store := newTestManager(t, WithLifespan(-time.Minute))
	ctx := context.Background()

	user := &storage.User{Name: "erin"}
	require.NoError(t, store.CreateUser(ctx, user))

	rec := httptest.NewRecorder()
	_, err := m.Issue(ctx, rec, user)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(rec.Result().Cookies()[0])
	_, err = m.Resolve(ctx, req)
	// Expired either at the signature or the session row; both are terminal.
	assert.Error(t, err)
}
