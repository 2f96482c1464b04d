// SPDX-FileCopyrightText: Copyright 2025 Hubward Authors
// SPDX-License-Identifier: Apache-2.0

package v1

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hubward/hubward/pkg/auth"
	"github.com/hubward/hubward/pkg/errors"
	"github.com/hubward/hubward/pkg/logger"
	"github.com/hubward/hubward/pkg/principal"
	"github.com/hubward/hubward/pkg/storage"
)

// AuthorizationsRoutes defines the routes for the authorization API, which
// lets already-trusted callers (services holding a token) identify the owner
// of a credential presented to them.
type AuthorizationsRoutes struct {
	store         storage.Store
	resolver      *auth.Resolver
	authenticator auth.Authenticator
}

// AuthorizationsRouter creates a new router for the authorization API.
func AuthorizationsRouter(
	store storage.Store,
	resolver *auth.Resolver,
	authenticator auth.Authenticator,
) http.Handler {
	routes := AuthorizationsRoutes{
		store:         store,
		resolver:      resolver,
		authenticator: authenticator,
	}

	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(resolver.RequireToken)
		r.Get("/token/{token}", routes.checkToken)
		r.Get("/cookie/{name}", routes.checkCookie)
		r.Get("/cookie/{name}/{value}", routes.checkCookie)
	})
	// Legacy token creation authenticates inline: it accepts either a
	// bearer token or username/password credentials in the body.
	r.Post("/token", routes.createToken)
	return r
}

// checkToken
//
//	@Summary		Identify a token
//	@Description	Resolve an opaque token to its owning user or service
//	@Tags			authorizations
//	@Produce		json
//	@Param			token	path		string	true	"Token secret"
//	@Success		200		{object}	principal.Model
//	@Failure		404		{object}	apiError
//	@Router			/api/authorizations/token/{token} [get]
func (a *AuthorizationsRoutes) checkToken(w http.ResponseWriter, r *http.Request) {
	p, err := a.resolver.ResolveToken(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, principal.Summarize(p))
}

// checkCookie
//
//	@Summary		Identify a session cookie
//	@Description	Resolve a session cookie, by name and value, to its user
//	@Tags			authorizations
//	@Produce		json
//	@Param			name	path		string	true	"Cookie name"
//	@Param			value	path		string	false	"Cookie value"
//	@Success		200		{object}	principal.Model
//	@Failure		404		{object}	apiError
//	@Router			/api/authorizations/cookie/{name}/{value} [get]
func (a *AuthorizationsRoutes) checkCookie(w http.ResponseWriter, r *http.Request) {
	// The name is percent-encoded before lookup. Hub cookie names contain
	// no reserved characters, so a name that changes under encoding can
	// only ever miss.
	name := url.PathEscape(chi.URLParam(r, "name"))

	value := chi.URLParam(r, "value")
	if value == "" {
		logger.Warnw("cookie value in request body is deprecated, use /cookie/{name}/{value}")
		body, err := io.ReadAll(io.LimitReader(r.Body, 4096))
		if err != nil {
			writeError(w, http.StatusBadRequest, "failed to read request body")
			return
		}
		value = strings.TrimSpace(string(body))
	}

	p, err := a.resolver.ResolveSessionCookie(r.Context(), name, value)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, principal.Summarize(p))
}

// createTokenRequest is the body of the legacy token creation endpoint.
// Username and password authenticate the caller when no bearer token is
// presented; an admin caller may instead name another user to mint for.
type createTokenRequest struct {
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Note     string `json:"note,omitempty"`
}

// createTokenResponse carries the new secret. The secret is shown exactly
// once; only its hash is stored.
type createTokenResponse struct {
	Token   string           `json:"token"`
	Warning string           `json:"warning"`
	User    *principal.Model `json:"user"`
}

// createToken
//
//	@Summary		Create an API token (deprecated)
//	@Description	Mint a new API token for the caller, or for another user if the caller is an admin
//	@Tags			authorizations
//	@Accept			json
//	@Produce		json
//	@Param			request	body		createTokenRequest	false	"Credentials and token note"
//	@Success		200		{object}	createTokenResponse
//	@Failure		403		{object}	apiError
//	@Router			/api/authorizations/token [post]
func (a *AuthorizationsRoutes) createToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	warning := "Using deprecated token creation endpoint " + r.URL.Path + ". Use the user token API instead."
	logger.Warnw("deprecated token creation endpoint used", "path", r.URL.Path)

	var body createTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !stderrors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	requester, viaPassword, err := a.authenticateRequester(ctx, r, &body)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	// When the caller logged in with the body credentials, the username
	// field named the caller, not a mint target.
	target := requester
	if !viaPassword && body.Username != "" && body.Username != requester.Name {
		if !requester.Admin {
			writeError(w, http.StatusForbidden, "Only admins can request tokens for other users.")
			return
		}
		user, err := a.store.FindUserByName(ctx, body.Username)
		if err != nil {
			if stderrors.Is(err, storage.ErrNotFound) {
				writeError(w, http.StatusBadRequest, "No such user '"+body.Username+"'")
				return
			}
			writeDomainError(w, errors.NewInternalError("failed to look up user", err))
			return
		}
		target = userModelPrincipal(user)
	}

	note := body.Note
	if note == "" {
		note = "Requested via deprecated api"
		if target.Name != requester.Name || target.Kind != requester.Kind {
			note += " by " + string(requester.Kind) + " " + requester.Name
		}
	}

	secret, hash := storage.NewAPITokenSecret()
	token := &storage.APIToken{Hash: hash, Note: note}
	switch target.Kind {
	case principal.KindUser:
		token.UserID = &target.ID
	case principal.KindService:
		token.ServiceID = &target.ID
	}
	if err := a.store.CreateAPIToken(ctx, token); err != nil {
		writeDomainError(w, errors.NewInternalError("failed to create token", err))
		return
	}
	logger.Infow("minted api token",
		"owner", target.String(),
		"requester", requester.String(),
	)

	writeJSON(w, http.StatusOK, createTokenResponse{
		Token:   secret,
		Warning: warning,
		User:    principal.Summarize(target),
	})
}

// authenticateRequester identifies the caller of the legacy mint endpoint:
// bearer token first, then username/password from the body. Failures of
// either path come back as 403, matching the endpoint's historic behavior.
func (a *AuthorizationsRoutes) authenticateRequester(
	ctx context.Context,
	r *http.Request,
	body *createTokenRequest,
) (p *principal.Principal, viaPassword bool, err error) {
	if token := auth.BearerToken(r); token != "" {
		p, err := a.resolver.ResolveToken(ctx, token)
		if err == nil {
			return p, false, nil
		}
		if !errors.IsNotFound(err) {
			return nil, false, err
		}
		// Fall through: an invalid token is treated the same as none.
	}

	if a.authenticator == nil || body.Username == "" || body.Password == "" {
		return nil, false, errors.NewForbiddenError("authentication required", nil)
	}
	username, err := a.authenticator.Authenticate(ctx, body.Username, body.Password)
	if err != nil {
		logger.Errorf("Failure trying to authenticate with form data: %v", err)
		return nil, false, errors.NewUpstreamAuthError("login failed", err)
	}

	user, err := a.store.FindUserByName(ctx, username)
	if stderrors.Is(err, storage.ErrNotFound) {
		// First login of an authenticator-approved user creates the record.
		user = &storage.User{Name: username}
		err = a.store.CreateUser(ctx, user)
	}
	if err != nil {
		return nil, false, errors.NewInternalError("failed to load user", err)
	}
	return userModelPrincipal(user), true, nil
}

func userModelPrincipal(u *storage.User) *principal.Principal {
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
