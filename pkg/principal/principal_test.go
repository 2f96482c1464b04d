// SPDX-FileCopyrightText: Copyright 2025 Hubward Authors
// SPDX-License-Identifier: Apache-2.0

package principal

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOwnsURL(t *testing.T) {
	t.Parallel()

	alice := &Principal{Kind: KindUser, Name: "alice", ServerURL: "https://hub/user/alice/"}

	tests := []struct {
		name      string
		p         *Principal
		candidate string
		want      bool
	}{
		{"own callback", alice, "https://hub/user/alice/oauth_callback", true},
		{"own root", alice, "https://hub/user/alice/", true},
		{"another user's callback", alice, "https://hub/user/bob/oauth_callback", false},
		{"unrelated host", alice, "https://evil.example/user/alice/", false},
		{"no server url", &Principal{Kind: KindUser, Name: "bob"}, "https://hub/user/bob/", false},
		{"nil principal", nil, "https://hub/user/alice/", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.p.OwnsURL(tt.candidate))
		})
	}
}

func TestSummarizeUser(t *testing.T) {
	t.Parallel()

	seen := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	p := &Principal{
		Kind:         KindUser,
		ID:           7,
		Name:         "alice",
		Admin:        true,
		ServerURL:    "https://hub/user/alice/",
		LastActivity: seen,
	}

	raw, err := json.Marshal(Summarize(p))
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "user", got["kind"])
	assert.Equal(t, "alice", got["name"])
	assert.Equal(t, true, got["admin"])
	assert.Equal(t, "https://hub/user/alice/", got["server_url"])
	assert.Contains(t, got, "last_activity")
	assert.NotContains(t, got, "created")
}

func TestSummarizeServiceOmitsAdmin(t *testing.T) {
	t.Parallel()

	p := &Principal{Kind: KindService, Name: "announcer", Admin: true}

	raw, err := json.Marshal(Summarize(p))
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "service", got["kind"])
	assert.NotContains(t, got, "admin")
}

func TestSummarizeNil(t *testing.T) {
	t.Parallel()
	assert.Nil(t, Summarize(nil))
}

func TestString(t *testing.T) {
	t.Parallel()

	p := &Principal{Kind: KindUser, Name: "alice"}
	assert.Equal(t, "user alice", p.String())

	var nilP *Principal
	assert.Equal(t, "<nil>", nilP.String())
}
