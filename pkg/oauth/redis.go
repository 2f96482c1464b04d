// SPDX-FileCopyrightText: Copyright 2025 Hubward Authors
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/ory/fosite"
	"github.com/redis/go-redis/v9"

	"github.com/hubward/hubward/pkg/storage"
)

// Default timeouts for Redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
)

// RedisConfig holds connection settings for the Redis transient store.
type RedisConfig struct {
	// Addr is the host:port of the Redis server.
	Addr string

	// Username and Password are optional ACL credentials.
	Username string
	Password string

	// DB selects the Redis logical database.
	DB int

	// KeyPrefix namespaces all keys, e.g. "hubward:oauth:".
	KeyPrefix string

	// Timeouts (defaults: Dial=5s, Read=3s, Write=3s).
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RedisTransientStore is the TransientStore for multi-process hub
// deployments: several hub replicas share one Redis so an authorization
// started on one replica can be redeemed on another.
//
// Requesters are stored as JSON. The client object is not serialized; only
// its ID is, and the client is rehydrated through the ClientManager on read.
type RedisTransientStore struct {
	client    redis.UniversalClient
	clients   fosite.ClientManager
	keyPrefix string
}

var _ TransientStore = (*RedisTransientStore)(nil)

// NewRedisTransientStore connects to Redis and returns a transient store
// that rehydrates stored requesters through clients.
func NewRedisTransientStore(ctx context.Context, cfg RedisConfig, clients fosite.ClientManager) (*RedisTransientStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if cfg.KeyPrefix == "" {
		return nil, errors.New("redis key prefix is required")
	}

	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &RedisTransientStore{
		client:    client,
		clients:   clients,
		keyPrefix: cfg.KeyPrefix,
	}, nil
}

// NewRedisTransientStoreWithClient wraps a pre-configured Redis client.
// Useful for testing with miniredis.
func NewRedisTransientStoreWithClient(client redis.UniversalClient, keyPrefix string, clients fosite.ClientManager) *RedisTransientStore {
	return &RedisTransientStore{
		client:    client,
		clients:   clients,
		keyPrefix: keyPrefix,
	}
}

// Close closes the Redis connection.
func (s *RedisTransientStore) Close() error {
	return s.client.Close()
}

// Ping checks Redis connectivity.
func (s *RedisTransientStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisTransientStore) requesterKey(kind RequesterKind, key string) string {
	return s.keyPrefix + string(kind) + ":" + key
}

func (s *RedisTransientStore) requestIDKey(kind RequesterKind, requestID string) string {
	return s.keyPrefix + "reqid:" + string(kind) + ":" + requestID
}

func (s *RedisTransientStore) usedCodeKey(code string) string {
	return s.keyPrefix + "used:" + code
}

func (s *RedisTransientStore) jtiKey(jti string) string {
	return s.keyPrefix + "jti:" + jti
}

// PutRequester stores an authorization context under (kind, key) and indexes
// it by request ID so revocation does not need a scan.
func (s *RedisTransientStore) PutRequester(ctx context.Context, kind RequesterKind, key string, request fosite.Requester, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return fosite.ErrInvalidRequest.WithHint("requester is already expired")
	}

	data, err := marshalRequester(request)
	if err != nil {
		return fmt.Errorf("marshaling requester: %w", err)
	}

	if err := s.client.Set(ctx, s.requesterKey(kind, key), data, ttl).Err(); err != nil {
		return fmt.Errorf("storing requester: %w", err)
	}

	indexKey := s.requestIDKey(kind, request.GetID())
	if err := s.client.SAdd(ctx, indexKey, key).Err(); err != nil {
		return fmt.Errorf("indexing requester: %w", err)
	}
	// The index lives at least as long as the entries it points at.
	if err := s.client.Expire(ctx, indexKey, ttl).Err(); err != nil {
		return fmt.Errorf("expiring requester index: %w", err)
	}
	return nil
}

// GetRequester retrieves and rehydrates the authorization context stored
// under (kind, key).
func (s *RedisTransientStore) GetRequester(ctx context.Context, kind RequesterKind, key string) (fosite.Requester, error) {
	data, err := s.client.Get(ctx, s.requesterKey(kind, key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("getting requester: %w", err)
	}
	return unmarshalRequester(ctx, data, s.clients)
}

// DeleteRequester removes the entry under (kind, key).
func (s *RedisTransientStore) DeleteRequester(ctx context.Context, kind RequesterKind, key string) error {
	n, err := s.client.Del(ctx, s.requesterKey(kind, key)).Result()
	if err != nil {
		return fmt.Errorf("deleting requester: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteRequestersByID removes every entry of the given kind carrying the
// given request ID, using the reverse index written by PutRequester.
func (s *RedisTransientStore) DeleteRequestersByID(ctx context.Context, kind RequesterKind, requestID string) ([]string, error) {
	indexKey := s.requestIDKey(kind, requestID)
	keys, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("reading requester index: %w", err)
	}

	for _, key := range keys {
		if err := s.client.Del(ctx, s.requesterKey(kind, key)).Err(); err != nil {
			return nil, fmt.Errorf("deleting requester: %w", err)
		}
	}
	if err := s.client.Del(ctx, indexKey).Err(); err != nil {
		return nil, fmt.Errorf("deleting requester index: %w", err)
	}
	return keys, nil
}

// MarkCodeUsed records that an authorization code has been redeemed.
func (s *RedisTransientStore) MarkCodeUsed(ctx context.Context, code string) error {
	return s.client.Set(ctx, s.usedCodeKey(code), "1", DefaultUsedCodeTTL).Err()
}

// CodeUsed reports whether an authorization code has been redeemed.
func (s *RedisTransientStore) CodeUsed(ctx context.Context, code string) (bool, error) {
	n, err := s.client.Exists(ctx, s.usedCodeKey(code)).Result()
	if err != nil {
		return false, fmt.Errorf("checking used code: %w", err)
	}
	return n > 0, nil
}

// PutJTI records a client-assertion JTI until its expiry.
func (s *RedisTransientStore) PutJTI(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	return s.client.Set(ctx, s.jtiKey(jti), "1", ttl).Err()
}

// JTIKnown reports whether a client-assertion JTI is still known.
func (s *RedisTransientStore) JTIKnown(ctx context.Context, jti string) (bool, error) {
	n, err := s.client.Exists(ctx, s.jtiKey(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("checking jti: %w", err)
	}
	return n > 0, nil
}

// -----------------------
// requester serialization
// -----------------------

// storedRequest is the JSON shape of a fosite.Requester at rest. The client
// is stored by ID only and rehydrated on read, so secret rotation and
// redirect changes take effect for in-flight flows too.
type storedRequest struct {
	RequestID         string              `json:"request_id"`
	RequestedAt       time.Time           `json:"requested_at"`
	ClientID          string              `json:"client_id"`
	RequestedScopes   []string            `json:"requested_scopes"`
	GrantedScopes     []string            `json:"granted_scopes"`
	RequestedAudience []string            `json:"requested_audience"`
	GrantedAudience   []string            `json:"granted_audience"`
	Form              map[string][]string `json:"form"`
	Session           *Session            `json:"session"`
	ExpiresAt         map[string]int64    `json:"expires_at"`
}

func marshalRequester(request fosite.Requester) ([]byte, error) {
	session, _ := request.GetSession().(*Session)

	expiresAt := make(map[string]int64)
	if sess := request.GetSession(); sess != nil {
		for _, tokenType := range []fosite.TokenType{fosite.AccessToken, fosite.RefreshToken, fosite.AuthorizeCode} {
			if exp := sess.GetExpiresAt(tokenType); !exp.IsZero() {
				expiresAt[string(tokenType)] = exp.Unix()
			}
		}
	}

	stored := storedRequest{
		RequestID:         request.GetID(),
		RequestedAt:       request.GetRequestedAt(),
		ClientID:          request.GetClient().GetID(),
		RequestedScopes:   request.GetRequestedScopes(),
		GrantedScopes:     request.GetGrantedScopes(),
		RequestedAudience: request.GetRequestedAudience(),
		GrantedAudience:   request.GetGrantedAudience(),
		Form:              request.GetRequestForm(),
		Session:           session,
		ExpiresAt:         expiresAt,
	}

	return json.Marshal(stored)
}

func unmarshalRequester(ctx context.Context, data []byte, clients fosite.ClientManager) (fosite.Requester, error) {
	var stored storedRequest
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("unmarshaling requester: %w", err)
	}

	client, err := clients.GetClient(ctx, stored.ClientID)
	if err != nil {
		return nil, fmt.Errorf("rehydrating client: %w", err)
	}

	session := stored.Session
	if session == nil {
		session = &Session{DefaultSession: &fosite.DefaultSession{}}
	}
	if session.DefaultSession == nil {
		session.DefaultSession = &fosite.DefaultSession{}
	}
	for tokenType, unix := range stored.ExpiresAt {
		session.SetExpiresAt(fosite.TokenType(tokenType), time.Unix(unix, 0))
	}

	request := fosite.NewRequest()
	request.ID = stored.RequestID
	request.RequestedAt = stored.RequestedAt
	request.Client = client
	request.RequestedScope = stored.RequestedScopes
	request.GrantedScope = stored.GrantedScopes
	request.RequestedAudience = stored.RequestedAudience
	request.GrantedAudience = stored.GrantedAudience
	request.Form = url.Values(stored.Form)
	request.Session = session
	return request, nil
}
