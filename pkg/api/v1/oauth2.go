// SPDX-FileCopyrightText: Copyright 2025 Hubward Authors
// SPDX-License-Identifier: Apache-2.0

package v1

import (
	"context"
	"embed"
	"html/template"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/ory/fosite"

	"github.com/hubward/hubward/pkg/auth"
	"github.com/hubward/hubward/pkg/errors"
	"github.com/hubward/hubward/pkg/logger"
	"github.com/hubward/hubward/pkg/oauth"
	"github.com/hubward/hubward/pkg/principal"
	"github.com/hubward/hubward/pkg/sessions"
	"github.com/hubward/hubward/pkg/storage"
)

//go:embed templates/*.html
var templateFS embed.FS

var consentTemplate = template.Must(template.ParseFS(templateFS, "templates/oauth.html"))

// scopeDescriptions maps grantable scopes to the wording shown on the
// consent page.
var scopeDescriptions = map[string]string{
	oauth.ScopeIdentify: "know who you are",
}

// OAuth2Routes defines the routes for the embedded OAuth2 authorization
// server: the browser-facing authorize endpoint and the code exchange.
type OAuth2Routes struct {
	provider fosite.OAuth2Provider
	store    storage.Store
	resolver *auth.Resolver
	sessions *sessions.Manager
}

// OAuth2Router creates a new router for the OAuth2 endpoints.
func OAuth2Router(
	provider fosite.OAuth2Provider,
	store storage.Store,
	resolver *auth.Resolver,
	sessionManager *sessions.Manager,
) http.Handler {
	routes := OAuth2Routes{
		provider: provider,
		store:    store,
		resolver: resolver,
		sessions: sessionManager,
	}

	r := chi.NewRouter()
	r.Get("/authorize", routes.authorizePage)
	r.Post("/authorize", routes.authorizeDecision)
	r.Post("/token", routes.token)
	return r
}

// authorizePage
//
//	@Summary		Begin an authorization-code flow
//	@Description	Validate the authorization request and either auto-approve it or render the consent page
//	@Tags			oauth2
//	@Produce		html
//	@Success		200	{string}	string	"Consent page"
//	@Failure		403	{object}	apiError
//	@Router			/api/oauth2/authorize [get]
func (o *OAuth2Routes) authorizePage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, sessionID, err := o.browserUser(ctx, w, r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	o.normalizeRedirectURI(r)
	ar, err := o.provider.NewAuthorizeRequest(ctx, r)
	if err != nil {
		logger.Warnw("rejecting authorization request", "error", err)
		o.provider.WriteAuthorizeError(ctx, w, ar, err)
		return
	}

	client, ok := ar.GetClient().(*oauth.Client)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	// A client whose registered redirect URI lives under the user's own
	// server is that user's server; asking the user to grant access to
	// themselves adds nothing, so the request is approved outright.
	if user.OwnsURL(client.RedirectURI()) {
		logger.Infow("skipping oauth confirmation for own server",
			"user", user.Name,
			"client_id", client.GetID(),
		)
		o.completeAuthorization(ctx, w, ar, user, sessionID, ar.GetRequestedScopes())
		return
	}

	o.renderConsent(w, ar, client, user)
}

// authorizeDecision
//
//	@Summary		Submit the consent decision
//	@Description	Complete an authorization-code flow with the scopes the user checked on the consent page
//	@Tags			oauth2
//	@Accept			x-www-form-urlencoded
//	@Success		302	{string}	string	"Redirect with authorization code"
//	@Failure		403	{object}	apiError
//	@Router			/api/oauth2/authorize [post]
func (o *OAuth2Routes) authorizeDecision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// The decision must come from the consent page itself. The check is
	// against the full URL, query string included, so a form replayed
	// against a different authorization request is rejected before any
	// protocol processing happens.
	fullURL := requestScheme(r) + "://" + r.Host + r.URL.RequestURI()
	if referer := r.Referer(); referer != fullURL {
		logger.Warnw("oauth confirmation from the wrong page", "referer", referer, "expected", fullURL)
		writeError(w, http.StatusForbidden, "Authorization form must be sent from authorization page")
		return
	}

	user, sessionID, err := o.browserUser(ctx, w, r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form body")
		return
	}
	checked := r.PostForm["scopes"]

	o.normalizeRedirectURI(r)
	ar, err := o.provider.NewAuthorizeRequest(ctx, r)
	if err != nil {
		logger.Warnw("rejecting authorization request", "error", err)
		o.provider.WriteAuthorizeError(ctx, w, ar, err)
		return
	}

	// Only requested scopes can be granted; the page can narrow the
	// grant, never widen it.
	var grant []string
	for _, scope := range ar.GetRequestedScopes() {
		for _, c := range checked {
			if c == scope {
				grant = append(grant, scope)
				break
			}
		}
	}

	o.completeAuthorization(ctx, w, ar, user, sessionID, grant)
}

// token
//
//	@Summary		Exchange an authorization code
//	@Description	Redeem an authorization code for an access token
//	@Tags			oauth2
//	@Accept			x-www-form-urlencoded
//	@Produce		json
//	@Success		200	{object}	map[string]any
//	@Failure		401	{object}	map[string]any
//	@Router			/api/oauth2/token [post]
func (o *OAuth2Routes) token(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// The placeholder session is replaced by the session stored with the
	// authorization code.
	session := &oauth.Session{DefaultSession: &fosite.DefaultSession{}}
	accessRequest, err := o.provider.NewAccessRequest(ctx, r, session)
	if err != nil {
		logger.Warnw("rejecting access request", "error", err)
		o.provider.WriteAccessError(ctx, w, accessRequest, err)
		return
	}

	response, err := o.provider.NewAccessResponse(ctx, accessRequest)
	if err != nil {
		logger.Warnw("failed to build access response", "error", err)
		o.provider.WriteAccessError(ctx, w, accessRequest, err)
		return
	}

	o.provider.WriteAccessResponse(ctx, w, accessRequest, response)
}

// browserUser identifies the user behind an authorize request. The session
// cookie is authoritative; a token-authenticated caller without one gets a
// session created on the spot so the grant can be tied to this login.
func (o *OAuth2Routes) browserUser(
	ctx context.Context,
	w http.ResponseWriter,
	r *http.Request,
) (*principal.Principal, string, error) {
	p, sessionID, err := o.resolver.ResolveRequestSession(ctx, r)
	if err == nil {
		return p, sessionID, nil
	}
	if !errors.IsNotFound(err) {
		return nil, "", err
	}

	if token := auth.BearerToken(r); token != "" {
		p, err := o.resolver.ResolveToken(ctx, token)
		if err == nil && p.IsUser() {
			user, err := o.store.GetUser(ctx, p.ID)
			if err != nil {
				return nil, "", errors.NewInternalError("failed to load user", err)
			}
			sessionID, err := o.sessions.Issue(ctx, w, user)
			if err != nil {
				return nil, "", errors.NewInternalError("failed to create session", err)
			}
			return userModelPrincipal(user), sessionID, nil
		}
	}

	return nil, "", errors.NewForbiddenError("authentication required", nil)
}

// completeAuthorization issues the authorization code for the granted scopes
// and redirects back to the client.
func (o *OAuth2Routes) completeAuthorization(
	ctx context.Context,
	w http.ResponseWriter,
	ar fosite.AuthorizeRequester,
	user *principal.Principal,
	sessionID string,
	grant []string,
) {
	for _, scope := range grant {
		ar.GrantScope(scope)
	}

	session := oauth.NewSession(user, sessionID)
	response, err := o.provider.NewAuthorizeResponse(ctx, ar, session)
	if err != nil {
		logger.Warnw("failed to issue authorization code", "error", err)
		o.provider.WriteAuthorizeError(ctx, w, ar, err)
		return
	}
	o.provider.WriteAuthorizeResponse(ctx, w, ar, response)
}

// consentPageData feeds the consent template.
type consentPageData struct {
	User        string
	ClientID    string
	Description string
	Scopes      []consentScope
}

type consentScope struct {
	Name        string
	Description string
}

func (o *OAuth2Routes) renderConsent(
	w http.ResponseWriter,
	ar fosite.AuthorizeRequester,
	client *oauth.Client,
	user *principal.Principal,
) {
	data := consentPageData{
		User:        user.Name,
		ClientID:    client.GetID(),
		Description: client.Description(),
	}
	for _, scope := range ar.GetRequestedScopes() {
		desc, ok := scopeDescriptions[scope]
		if !ok {
			desc = scope
		}
		data.Scopes = append(data.Scopes, consentScope{Name: scope, Description: desc})
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := consentTemplate.Execute(w, data); err != nil {
		logger.Errorf("Failed to render consent page: %v", err)
	}
}

// normalizeRedirectURI rewrites a relative redirect_uri in the query string
// to an absolute one on the requesting host before protocol validation.
func (o *OAuth2Routes) normalizeRedirectURI(r *http.Request) {
	normalized, err := oauth.MakeAbsoluteRedirectURI(r.URL.RequestURI(), requestScheme(r), r.Host)
	if err != nil {
		// Leave the request alone; validation will reject it with the
		// proper protocol error.
		return
	}
	if u, err := r.URL.Parse(normalized); err == nil {
		r.URL.RawQuery = u.RawQuery
		// Drop any cached parse so the rewritten query is seen.
		r.Form = nil
	}
}

// requestScheme returns the scheme the client used, honoring the proxy's
// forwarded protocol header.
func requestScheme(r *http.Request) string {
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		if i := strings.IndexByte(proto, ','); i >= 0 {
			proto = proto[:i]
		}
		return strings.TrimSpace(proto)
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}
