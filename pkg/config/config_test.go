// SPDX-FileCopyrightText: Copyright 2025 Hubward Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hubward.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

const validConfig = `
address: ":9000"
public_url: "http://hub:8000"
database:
  driver: memory
secrets:
  cookie_key: "0123456789abcdef0123456789abcdef"
  token_key: "fedcba9876543210fedcba9876543210"
tokens:
  access_token_lifespan: 2h
users:
  - name: alice
    admin: true
    server_url: "http://hub:8000/user/alice/"
    password: "hunter2"
services:
  - name: panel
    api_token: "hw_panel_token_000000000000000000"
clients:
  - id: server-alice
    secret: "alice-client-secret"
    redirect_uri: "http://hub:8000/user/alice/oauth_callback"
    description: "Server for alice"
`

func TestLoad(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":9000", cfg.Address)
	assert.Equal(t, "http://hub:8000", cfg.PublicURL)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, 2*time.Hour, cfg.Tokens.AccessTokenLifespan)
	assert.Zero(t, cfg.Tokens.RefreshTokenLifespan)

	require.Len(t, cfg.Users, 1)
	assert.Equal(t, "alice", cfg.Users[0].Name)
	assert.True(t, cfg.Users[0].Admin)

	require.Len(t, cfg.Services, 1)
	assert.Equal(t, "panel", cfg.Services[0].Name)

	require.Len(t, cfg.Clients, 1)
	assert.Equal(t, "server-alice", cfg.Clients[0].ID)
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, `
secrets:
  cookie_key: "0123456789abcdef0123456789abcdef"
  token_key: "fedcba9876543210fedcba9876543210"
`))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":8000", cfg.Address)
	assert.Equal(t, "http://localhost:8000", cfg.PublicURL)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "hubward.db", cfg.Database.Path)
	assert.Equal(t, "hubward", cfg.Redis.KeyPrefix)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base := func() *Config {
		cfg, err := Load(writeConfig(t, validConfig))
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "short cookie key",
			mutate:  func(c *Config) { c.Secrets.CookieKey = "short" },
			wantErr: "cookie_key",
		},
		{
			name:    "short token key",
			mutate:  func(c *Config) { c.Secrets.TokenKey = "short" },
			wantErr: "token_key",
		},
		{
			name:    "relative public url",
			mutate:  func(c *Config) { c.PublicURL = "/hub" },
			wantErr: "public_url",
		},
		{
			name:    "unknown driver",
			mutate:  func(c *Config) { c.Database.Driver = "postgres" },
			wantErr: "unknown database driver",
		},
		{
			name: "sqlite without path",
			mutate: func(c *Config) {
				c.Database.Driver = "sqlite"
				c.Database.Path = ""
			},
			wantErr: "database.path",
		},
		{
			name:    "redis enabled without addr",
			mutate:  func(c *Config) { c.Redis.Enabled = true },
			wantErr: "redis.addr",
		},
		{
			name: "password and hash together",
			mutate: func(c *Config) {
				c.Users[0].PasswordHash = "$2a$10$x"
			},
			wantErr: "mutually exclusive",
		},
		{
			name:    "client without secret",
			mutate:  func(c *Config) { c.Clients[0].Secret = "" },
			wantErr: "secret must be set",
		},
		{
			name:    "client without redirect",
			mutate:  func(c *Config) { c.Clients[0].RedirectURI = "" },
			wantErr: "redirect_uri",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tc.wantErr),
				"error %q does not mention %q", err, tc.wantErr)
		})
	}
}
