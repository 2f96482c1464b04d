// SPDX-FileCopyrightText: Copyright 2025 Hubward Authors
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"context"
	"net/url"
	"strings"

	"github.com/ory/fosite"
)

// MakeAbsoluteRedirectURI rewrites a relative redirect_uri query parameter in
// an authorize URL into an absolute one rooted at the requesting scheme and
// host. Clients running behind the hub proxy register root-relative callback
// paths; the protocol engine only matches absolute URIs, so the hub fills in
// its own origin before handing the request over.
//
// The rest of the URL is left alone: query parameters keep their original
// order, and parameters with blank values survive the round trip. A missing
// or already-absolute redirect_uri returns the input unchanged.
func MakeAbsoluteRedirectURI(uri, scheme, host string) (string, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return "", err
	}

	pairs, err := parseQueryOrdered(parsed.RawQuery)
	if err != nil {
		return "", err
	}

	rewritten := false
	for i, pair := range pairs {
		if pair.key != "redirect_uri" {
			continue
		}
		if !strings.HasPrefix(pair.value, "/") {
			// Absolute or empty; nothing to do.
			return uri, nil
		}
		pairs[i].value = scheme + "://" + host + pair.value
		rewritten = true
		break
	}
	if !rewritten {
		return uri, nil
	}

	parsed.RawQuery = encodeQueryOrdered(pairs)
	return parsed.String(), nil
}

// queryPair is one decoded query parameter.
type queryPair struct {
	key   string
	value string
}

// parseQueryOrdered decodes a raw query string into an ordered pair list,
// keeping parameters with blank values.
func parseQueryOrdered(rawQuery string) ([]queryPair, error) {
	if rawQuery == "" {
		return nil, nil
	}

	parts := strings.Split(rawQuery, "&")
	pairs := make([]queryPair, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		rawKey, rawValue, _ := strings.Cut(part, "=")
		key, err := url.QueryUnescape(rawKey)
		if err != nil {
			return nil, err
		}
		value, err := url.QueryUnescape(rawValue)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, queryPair{key: key, value: value})
	}
	return pairs, nil
}

// encodeQueryOrdered is the inverse of parseQueryOrdered, preserving order.
func encodeQueryOrdered(pairs []queryPair) string {
	var b strings.Builder
	for i, pair := range pairs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(pair.key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(pair.value))
	}
	return b.String()
}

// NewRedirectSecureChecker builds the redirect URI policy for the protocol
// engine. The default policy requires https or localhost; hub deployments
// routinely run plain http inside a private network, so redirects back to
// the hub's own host are additionally allowed regardless of scheme.
func NewRedirectSecureChecker(publicHost string) func(context.Context, *url.URL) bool {
	return func(ctx context.Context, u *url.URL) bool {
		if fosite.IsRedirectURISecure(ctx, u) {
			return true
		}
		// Exact host:port match only; a sibling service on another
		// port of the same machine is not the hub.
		return strings.EqualFold(u.Host, publicHost)
	}
}
