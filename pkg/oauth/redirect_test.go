// SPDX-FileCopyrightText: Copyright 2025 Hubward Authors
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMakeAbsoluteRedirectURI(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		uri  string
		want string
	}{
		{
			name: "relative redirect_uri is made absolute",
			uri:  "/api/oauth2/authorize?client_id=service-panel&redirect_uri=%2Fservices%2Fpanel%2Fcallback&response_type=code",
			want: "/api/oauth2/authorize?client_id=service-panel&redirect_uri=http%3A%2F%2Fhub%3A8000%2Fservices%2Fpanel%2Fcallback&response_type=code",
		},
		{
			name: "absolute redirect_uri is untouched",
			uri:  "/api/oauth2/authorize?client_id=c&redirect_uri=https%3A%2F%2Felsewhere%2Fcb",
			want: "/api/oauth2/authorize?client_id=c&redirect_uri=https%3A%2F%2Felsewhere%2Fcb",
		},
		{
			name: "missing redirect_uri is untouched",
			uri:  "/api/oauth2/authorize?client_id=c&response_type=code",
			want: "/api/oauth2/authorize?client_id=c&response_type=code",
		},
		{
			name: "parameter order and blank values survive",
			uri:  "/api/oauth2/authorize?state=&redirect_uri=%2Fcb&zz=1&aa=2",
			want: "/api/oauth2/authorize?state=&redirect_uri=http%3A%2F%2Fhub%3A8000%2Fcb&zz=1&aa=2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := MakeAbsoluteRedirectURI(tt.uri, "http", "hub:8000")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRedirectSecureChecker(t *testing.T) {
	t.Parallel()

	checker := NewRedirectSecureChecker("hub:8000")

	tests := []struct {
		uri  string
		want bool
	}{
		{"https://elsewhere/cb", true},
		{"http://localhost:1234/cb", true},
		{"http://hub:8000/services/panel/callback", true},
		{"http://hub:9999/evil", false},
		{"http://elsewhere/cb", false},
	}

	for _, tt := range tests {
		u, err := url.Parse(tt.uri)
		require.NoError(t, err)
		assert.Equal(t, tt.want, checker(context.Background(), u), tt.uri)
	}
}
