// SPDX-FileCopyrightText: Copyright 2025 Hubward Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads and validates the hub's configuration file.
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/viper"
)

// Minimum length for signing keys. Anything shorter is refused outright
// rather than silently weakening token and cookie signatures.
const minKeyLength = 32

// Config is the root of the hub configuration file.
type Config struct {
	// Address the API server listens on, or a socket path when
	// UnixSocket is set.
	Address    string `mapstructure:"address"`
	UnixSocket bool   `mapstructure:"unix_socket"`

	// PublicURL is the externally visible base URL of the hub. It is the
	// OAuth issuer and the host against which relative redirect URIs are
	// resolved.
	PublicURL string `mapstructure:"public_url"`

	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Secrets  SecretsConfig  `mapstructure:"secrets"`
	Tokens   TokenConfig    `mapstructure:"tokens"`

	Users    []UserConfig    `mapstructure:"users"`
	Services []ServiceConfig `mapstructure:"services"`
	Clients  []ClientConfig  `mapstructure:"clients"`
}

// DatabaseConfig selects the persistence backend.
type DatabaseConfig struct {
	// Driver is "sqlite" or "memory".
	Driver string `mapstructure:"driver"`
	// Path is the sqlite database file. Ignored for the memory driver.
	Path string `mapstructure:"path"`
}

// RedisConfig enables the Redis backend for short-lived OAuth state. When
// disabled, that state lives in process memory and does not survive
// restarts.
type RedisConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Addr      string `mapstructure:"addr"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// SecretsConfig holds the hub's signing keys.
type SecretsConfig struct {
	// CookieKey signs browser session cookies.
	CookieKey string `mapstructure:"cookie_key"`
	// CookieName overrides the session cookie name.
	CookieName string `mapstructure:"cookie_name"`
	// TokenKey is the HMAC secret behind opaque OAuth tokens.
	TokenKey string `mapstructure:"token_key"`
}

// TokenConfig sets token and code lifetimes. Zero values get defaults.
type TokenConfig struct {
	AccessTokenLifespan   time.Duration `mapstructure:"access_token_lifespan"`
	RefreshTokenLifespan  time.Duration `mapstructure:"refresh_token_lifespan"`
	AuthorizeCodeLifespan time.Duration `mapstructure:"authorize_code_lifespan"`
}

// UserConfig declares a user to create at startup.
type UserConfig struct {
	Name  string `mapstructure:"name"`
	Admin bool   `mapstructure:"admin"`
	// ServerURL is the user's own server, if any.
	ServerURL string `mapstructure:"server_url"`
	// Password enables password login for this user. PasswordHash takes a
	// pre-computed bcrypt hash instead of a plaintext secret.
	Password     string `mapstructure:"password"`
	PasswordHash string `mapstructure:"password_hash"`
}

// ServiceConfig declares a service account to create at startup.
type ServiceConfig struct {
	Name      string `mapstructure:"name"`
	ServerURL string `mapstructure:"server_url"`
	// APIToken is a pre-issued token secret for the service, so external
	// processes can be configured with a known credential.
	APIToken string `mapstructure:"api_token"`
}

// ClientConfig declares an OAuth client to register at startup.
type ClientConfig struct {
	ID          string   `mapstructure:"id"`
	Secret      string   `mapstructure:"secret"`
	RedirectURI string   `mapstructure:"redirect_uri"`
	Description string   `mapstructure:"description"`
	Scopes      []string `mapstructure:"scopes"`
}

// Load reads the configuration file at path. Values can be overridden with
// HUBWARD_-prefixed environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("HUBWARD")
	v.AutomaticEnv()

	v.SetDefault("address", ":8000")
	v.SetDefault("public_url", "http://localhost:8000")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "hubward.db")
	v.SetDefault("redis.key_prefix", "hubward")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for errors that would otherwise only
// surface deep inside the stack at runtime.
func (c *Config) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("address must be set")
	}

	u, err := url.Parse(c.PublicURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("public_url must be an absolute URL, got %q", c.PublicURL)
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path must be set for the sqlite driver")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr must be set when redis is enabled")
	}

	if len(c.Secrets.CookieKey) < minKeyLength {
		return fmt.Errorf("secrets.cookie_key must be at least %d bytes", minKeyLength)
	}
	if len(c.Secrets.TokenKey) < minKeyLength {
		return fmt.Errorf("secrets.token_key must be at least %d bytes", minKeyLength)
	}

	for i, user := range c.Users {
		if user.Name == "" {
			return fmt.Errorf("users[%d]: name must be set", i)
		}
		if user.Password != "" && user.PasswordHash != "" {
			return fmt.Errorf("user %q: password and password_hash are mutually exclusive", user.Name)
		}
	}
	for i, service := range c.Services {
		if service.Name == "" {
			return fmt.Errorf("services[%d]: name must be set", i)
		}
	}
	for i, client := range c.Clients {
		if client.ID == "" {
			return fmt.Errorf("clients[%d]: id must be set", i)
		}
		if client.Secret == "" {
			return fmt.Errorf("client %q: secret must be set", client.ID)
		}
		if client.RedirectURI == "" {
			return fmt.Errorf("client %q: redirect_uri must be set", client.ID)
		}
	}

	return nil
}
