// SPDX-FileCopyrightText: Copyright 2025 Hubward Authors
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hubward/hubward/pkg/api"
	"github.com/hubward/hubward/pkg/auth"
	"github.com/hubward/hubward/pkg/config"
	"github.com/hubward/hubward/pkg/logger"
	"github.com/hubward/hubward/pkg/oauth"
	"github.com/hubward/hubward/pkg/sessions"
	"github.com/hubward/hubward/pkg/storage"
	"github.com/hubward/hubward/pkg/storage/sqlite"
)

// runServe implements the serve command logic
func runServe(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	configPath := viper.GetString("config")
	if configPath == "" {
		return fmt.Errorf("no configuration file specified, use --config flag")
	}

	logger.Infof("Loading configuration from: %s", configPath)
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("configuration loading failed: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	var sessionOpts []sessions.Option
	if cfg.Secrets.CookieName != "" {
		sessionOpts = append(sessionOpts, sessions.WithCookieName(cfg.Secrets.CookieName))
	}
	sessionManager, err := sessions.NewManager(store, []byte(cfg.Secrets.CookieKey), sessionOpts...)
	if err != nil {
		return fmt.Errorf("creating session manager: %w", err)
	}
	resolver := auth.NewResolver(store, sessionManager)

	transient, err := openTransientStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer transient.Close()
	oauthStore := oauth.NewStore(store, transient)

	fositeConfig, err := oauth.NewFositeConfig(&oauth.Config{
		Issuer:                cfg.PublicURL,
		Secret:                []byte(cfg.Secrets.TokenKey),
		AccessTokenLifespan:   cfg.Tokens.AccessTokenLifespan,
		RefreshTokenLifespan:  cfg.Tokens.RefreshTokenLifespan,
		AuthorizeCodeLifespan: cfg.Tokens.AuthorizeCodeLifespan,
	})
	if err != nil {
		return fmt.Errorf("configuring oauth provider: %w", err)
	}
	provider := oauth.NewProvider(fositeConfig, oauthStore)

	authenticator, err := bootstrap(ctx, cfg, store)
	if err != nil {
		return fmt.Errorf("bootstrapping configured records: %w", err)
	}

	return api.Serve(ctx, cfg.Address, cfg.UnixSocket, api.Deps{
		Store:         store,
		Resolver:      resolver,
		Authenticator: authenticator,
		Provider:      provider,
		Sessions:      sessionManager,
	})
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.Database.Driver {
	case "sqlite":
		store, err := sqlite.Open(ctx, cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		return store, nil
	case "memory":
		logger.Warnw("using the in-memory store, nothing will survive a restart")
		return storage.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

func openTransientStore(ctx context.Context, cfg *config.Config) (oauth.TransientStore, error) {
	if !cfg.Redis.Enabled {
		return oauth.NewMemoryTransientStore(), nil
	}
	// The client registry is wired in by oauth.NewStore.
	transient, err := oauth.NewRedisTransientStore(ctx, oauth.RedisConfig{
		Addr:      cfg.Redis.Addr,
		Username:  cfg.Redis.Username,
		Password:  cfg.Redis.Password,
		DB:        cfg.Redis.DB,
		KeyPrefix: cfg.Redis.KeyPrefix,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return transient, nil
}

// bootstrap creates the users, services, API tokens, and OAuth clients the
// configuration declares. Records that already exist are left alone, so a
// restart with the same configuration is a no-op.
func bootstrap(ctx context.Context, cfg *config.Config, store storage.Store) (auth.Authenticator, error) {
	authenticator := auth.NewStaticAuthenticator()

	for _, uc := range cfg.Users {
		user, err := store.FindUserByName(ctx, uc.Name)
		if errors.Is(err, storage.ErrNotFound) {
			user = &storage.User{Name: uc.Name, Admin: uc.Admin, ServerURL: uc.ServerURL}
			err = store.CreateUser(ctx, user)
			if err == nil {
				logger.Infow("created user", "name", uc.Name, "admin", uc.Admin)
			}
		}
		if err != nil {
			return nil, fmt.Errorf("user %q: %w", uc.Name, err)
		}

		switch {
		case uc.Password != "":
			if err := authenticator.SetPassword(uc.Name, uc.Password); err != nil {
				return nil, fmt.Errorf("user %q: %w", uc.Name, err)
			}
		case uc.PasswordHash != "":
			authenticator.SetPasswordHash(uc.Name, uc.PasswordHash)
		}
	}

	for _, sc := range cfg.Services {
		service, err := store.FindServiceByName(ctx, sc.Name)
		if errors.Is(err, storage.ErrNotFound) {
			service = &storage.Service{Name: sc.Name, ServerURL: sc.ServerURL}
			err = store.CreateService(ctx, service)
			if err == nil {
				logger.Infow("created service", "name", sc.Name)
			}
		}
		if err != nil {
			return nil, fmt.Errorf("service %q: %w", sc.Name, err)
		}

		if sc.APIToken != "" {
			if err := ensureServiceToken(ctx, store, service, sc.APIToken); err != nil {
				return nil, fmt.Errorf("service %q: %w", sc.Name, err)
			}
		}
	}

	for _, cc := range cfg.Clients {
		record := &storage.OAuthClient{
			ID:          cc.ID,
			RedirectURI: cc.RedirectURI,
			Description: cc.Description,
			Scopes:      cc.Scopes,
		}
		if err := oauth.RegisterClient(ctx, store, record, cc.Secret); err != nil {
			return nil, fmt.Errorf("client %q: %w", cc.ID, err)
		}
		logger.Infow("registered oauth client", "client_id", cc.ID)
	}

	return authenticator, nil
}

// ensureServiceToken stores the configured token secret for a service,
// tolerating the row already existing from a previous start.
func ensureServiceToken(ctx context.Context, store storage.Store, service *storage.Service, secret string) error {
	err := store.CreateAPIToken(ctx, &storage.APIToken{
		Hash:      storage.HashToken(secret),
		ServiceID: &service.ID,
		Note:      "configured service token",
	})
	if errors.Is(err, storage.ErrAlreadyExists) {
		return nil
	}
	return err
}
