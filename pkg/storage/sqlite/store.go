// SPDX-FileCopyrightText: Copyright 2025 Hubward Authors
// SPDX-License-Identifier: Apache-2.0

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sqlite3 "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/hubward/hubward/pkg/storage"
)

// Store implements storage.Store using SQLite.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// -----------------------
// UserStore
// -----------------------

// CreateUser stores a new user.
func (s *Store) CreateUser(ctx context.Context, user *User) error {
	if user.Created.IsZero() {
		user.Created = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (name, admin, server_url, created, last_activity)
		 VALUES (?, ?, ?, ?, ?)`,
		user.Name, user.Admin, user.ServerURL, formatTime(user.Created), nullableTime(user.LastActivity),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("inserting user: %w", err)
	}
	user.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting user id: %w", err)
	}
	return nil
}

// GetUser retrieves a user by ID.
func (s *Store) GetUser(ctx context.Context, id int64) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, admin, server_url, created, last_activity FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// FindUserByName retrieves a user by name.
func (s *Store) FindUserByName(ctx context.Context, name string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, admin, server_url, created, last_activity FROM users WHERE name = ?`, name)
	return scanUser(row)
}

// -----------------------
// ServiceStore
// -----------------------

// CreateService stores a new service.
func (s *Store) CreateService(ctx context.Context, service *Service) error {
	if service.Created.IsZero() {
		service.Created = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO services (name, server_url, created, last_activity) VALUES (?, ?, ?, ?)`,
		service.Name, service.ServerURL, formatTime(service.Created), nullableTime(service.LastActivity),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("inserting service: %w", err)
	}
	service.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting service id: %w", err)
	}
	return nil
}

// FindServiceByName retrieves a service by name.
func (s *Store) FindServiceByName(ctx context.Context, name string) (*Service, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, server_url, created, last_activity FROM services WHERE name = ?`, name)

	service := &Service{}
	var created string
	var lastActivity sql.NullString
	err := row.Scan(&service.ID, &service.Name, &service.ServerURL, &created, &lastActivity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning service row: %w", err)
	}
	if service.Created, err = parseTime(created); err != nil {
		return nil, err
	}
	if service.LastActivity, err = parseNullableTime(lastActivity); err != nil {
		return nil, err
	}
	return service, nil
}

// -----------------------
// TokenStore
// -----------------------

// CreateAPIToken stores a new API token.
func (s *Store) CreateAPIToken(ctx context.Context, token *APIToken) error {
	if token.Created.IsZero() {
		token.Created = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO api_tokens (hash, user_id, service_id, note, created, last_activity)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		token.Hash, token.UserID, token.ServiceID, token.Note,
		formatTime(token.Created), nullableTime(token.LastActivity),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("inserting api token: %w", err)
	}
	token.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting token id: %w", err)
	}
	return nil
}

// ResolveAPIToken looks up an API token by secret hash, stamping activity on
// the token and its owning user within a single transaction.
func (s *Store) ResolveAPIToken(ctx context.Context, hash string, now time.Time) (*APIToken, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	token := &APIToken{}
	var created string
	var lastActivity sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT id, hash, user_id, service_id, note, created, last_activity
		 FROM api_tokens WHERE hash = ?`, hash,
	).Scan(&token.ID, &token.Hash, &token.UserID, &token.ServiceID, &token.Note, &created, &lastActivity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning api token row: %w", err)
	}
	if token.Created, err = parseTime(created); err != nil {
		return nil, err
	}
	token.LastActivity = now

	if _, err := tx.ExecContext(ctx,
		`UPDATE api_tokens SET last_activity = ? WHERE id = ?`, formatTime(now), token.ID); err != nil {
		return nil, fmt.Errorf("stamping api token activity: %w", err)
	}

	if token.UserID != nil {
		token.User, err = stampAndLoadUser(ctx, tx, *token.UserID, now)
		if err != nil {
			return nil, err
		}
	}
	if token.ServiceID != nil {
		token.Service, err = loadService(ctx, tx, *token.ServiceID)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return token, nil
}

// DeleteAPIToken removes an API token.
func (s *Store) DeleteAPIToken(ctx context.Context, id int64) error {
	return s.deleteByID(ctx, "api_tokens", id)
}

// CreateOAuthToken stores a new OAuth access token.
func (s *Store) CreateOAuthToken(ctx context.Context, token *OAuthToken) error {
	if token.Created.IsZero() {
		token.Created = time.Now().UTC()
	}
	scopesJSON, err := encodeScopes(token.Scopes)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO oauth_tokens (signature, client_id, session_id, scopes, user_id, note, created, last_activity, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		token.Signature, token.ClientID, token.SessionID, scopesJSON, token.UserID, token.Note,
		formatTime(token.Created), nullableTime(token.LastActivity), nullableTime(token.ExpiresAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("inserting oauth token: %w", err)
	}
	token.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting token id: %w", err)
	}
	return nil
}

// ResolveOAuthToken looks up an OAuth access token by signature, stamping
// activity on the token and its owning user within a single transaction.
func (s *Store) ResolveOAuthToken(ctx context.Context, signature string, now time.Time) (*OAuthToken, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	token := &OAuthToken{}
	var created string
	var lastActivity, expiresAt sql.NullString
	var scopesJSON []byte
	err = tx.QueryRowContext(ctx,
		`SELECT id, signature, client_id, session_id, scopes, user_id, note, created, last_activity, expires_at
		 FROM oauth_tokens WHERE signature = ?`, signature,
	).Scan(&token.ID, &token.Signature, &token.ClientID, &token.SessionID, &scopesJSON,
		&token.UserID, &token.Note, &created, &lastActivity, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning oauth token row: %w", err)
	}
	if token.Created, err = parseTime(created); err != nil {
		return nil, err
	}
	if token.ExpiresAt, err = parseNullableTime(expiresAt); err != nil {
		return nil, err
	}
	if token.Scopes, err = decodeScopes(scopesJSON); err != nil {
		return nil, err
	}
	token.LastActivity = now

	if _, err := tx.ExecContext(ctx,
		`UPDATE oauth_tokens SET last_activity = ? WHERE id = ?`, formatTime(now), token.ID); err != nil {
		return nil, fmt.Errorf("stamping oauth token activity: %w", err)
	}

	if token.UserID != nil {
		token.User, err = stampAndLoadUser(ctx, tx, *token.UserID, now)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return token, nil
}

// DeleteOAuthToken removes an OAuth access token by ID.
func (s *Store) DeleteOAuthToken(ctx context.Context, id int64) error {
	return s.deleteByID(ctx, "oauth_tokens", id)
}

// DeleteOAuthTokenBySignature removes an OAuth access token by signature.
func (s *Store) DeleteOAuthTokenBySignature(ctx context.Context, signature string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM oauth_tokens WHERE signature = ?`, signature)
	if err != nil {
		return fmt.Errorf("deleting oauth token: %w", err)
	}
	return checkAffected(res)
}

// -----------------------
// ClientStore
// -----------------------

// UpsertOAuthClient creates or replaces a registered OAuth client.
func (s *Store) UpsertOAuthClient(ctx context.Context, client *OAuthClient) error {
	if client.Created.IsZero() {
		client.Created = time.Now().UTC()
	}
	scopesJSON, err := encodeScopes(client.Scopes)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO oauth_clients (id, secret_hash, redirect_uri, description, scopes, created)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   secret_hash = excluded.secret_hash,
		   redirect_uri = excluded.redirect_uri,
		   description = excluded.description,
		   scopes = excluded.scopes`,
		client.ID, client.SecretHash, client.RedirectURI, client.Description, scopesJSON,
		formatTime(client.Created),
	)
	if err != nil {
		return fmt.Errorf("upserting oauth client: %w", err)
	}
	return nil
}

// GetOAuthClient retrieves a registered OAuth client.
func (s *Store) GetOAuthClient(ctx context.Context, clientID string) (*OAuthClient, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, secret_hash, redirect_uri, description, scopes, created
		 FROM oauth_clients WHERE id = ?`, clientID)

	client := &OAuthClient{}
	var created string
	var scopesJSON []byte
	err := row.Scan(&client.ID, &client.SecretHash, &client.RedirectURI, &client.Description, &scopesJSON, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning oauth client row: %w", err)
	}
	if client.Created, err = parseTime(created); err != nil {
		return nil, err
	}
	if client.Scopes, err = decodeScopes(scopesJSON); err != nil {
		return nil, err
	}
	return client, nil
}

// -----------------------
// SessionStore
// -----------------------

// CreateSession stores a new browser session.
func (s *Store) CreateSession(ctx context.Context, session *Session) error {
	if session.Created.IsZero() {
		session.Created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, created, last_activity, expires_at) VALUES (?, ?, ?, ?, ?)`,
		session.ID, session.UserID, formatTime(session.Created),
		nullableTime(session.LastActivity), nullableTime(session.ExpiresAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

// ResolveSession looks up a session by ID, stamping activity on the session
// and its user within a single transaction. Expired sessions are removed and
// reported as not found.
func (s *Store) ResolveSession(ctx context.Context, id string, now time.Time) (*Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	session := &Session{}
	var created string
	var lastActivity, expiresAt sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT id, user_id, created, last_activity, expires_at FROM sessions WHERE id = ?`, id,
	).Scan(&session.ID, &session.UserID, &created, &lastActivity, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session row: %w", err)
	}
	if session.Created, err = parseTime(created); err != nil {
		return nil, err
	}
	if session.ExpiresAt, err = parseNullableTime(expiresAt); err != nil {
		return nil, err
	}

	if session.Expired(now) {
		if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
			return nil, fmt.Errorf("deleting expired session: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("committing transaction: %w", err)
		}
		return nil, storage.ErrNotFound
	}

	session.LastActivity = now
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET last_activity = ? WHERE id = ?`, formatTime(now), id); err != nil {
		return nil, fmt.Errorf("stamping session activity: %w", err)
	}

	session.User, err = stampAndLoadUser(ctx, tx, session.UserID, now)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return session, nil
}

// DeleteSession removes a session.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return checkAffected(res)
}

// -----------------------
// helpers
// -----------------------

// Type aliases keep the call sites readable.
type (
	// User aliases storage.User.
	User = storage.User
	// Service aliases storage.Service.
	Service = storage.Service
	// APIToken aliases storage.APIToken.
	APIToken = storage.APIToken
	// OAuthToken aliases storage.OAuthToken.
	OAuthToken = storage.OAuthToken
	// OAuthClient aliases storage.OAuthClient.
	OAuthClient = storage.OAuthClient
	// Session aliases storage.Session.
	Session = storage.Session
)

func (s *Store) deleteByID(ctx context.Context, table string, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = ?`, id) // #nosec G202 - table names are package constants
	if err != nil {
		return fmt.Errorf("deleting from %s: %w", table, err)
	}
	return checkAffected(res)
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// stampAndLoadUser updates a user's last_activity and returns the refreshed
// row. A dangling owner reference yields nil, not an error: the token is
// orphaned and the caller decides what to do about it.
func stampAndLoadUser(ctx context.Context, tx *sql.Tx, id int64, now time.Time) (*User, error) {
	user := &User{}
	var created string
	var lastActivity sql.NullString
	err := tx.QueryRowContext(ctx,
		`SELECT id, name, admin, server_url, created, last_activity FROM users WHERE id = ?`, id,
	).Scan(&user.ID, &user.Name, &user.Admin, &user.ServerURL, &created, &lastActivity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user row: %w", err)
	}
	if user.Created, err = parseTime(created); err != nil {
		return nil, err
	}
	user.LastActivity = now

	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET last_activity = ? WHERE id = ?`, formatTime(now), id); err != nil {
		return nil, fmt.Errorf("stamping user activity: %w", err)
	}
	return user, nil
}

// loadService returns the service row, or nil for a dangling reference.
func loadService(ctx context.Context, tx *sql.Tx, id int64) (*Service, error) {
	service := &Service{}
	var created string
	var lastActivity sql.NullString
	err := tx.QueryRowContext(ctx,
		`SELECT id, name, server_url, created, last_activity FROM services WHERE id = ?`, id,
	).Scan(&service.ID, &service.Name, &service.ServerURL, &created, &lastActivity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning service row: %w", err)
	}
	if service.Created, err = parseTime(created); err != nil {
		return nil, err
	}
	if service.LastActivity, err = parseNullableTime(lastActivity); err != nil {
		return nil, err
	}
	return service, nil
}

func scanUser(row *sql.Row) (*User, error) {
	user := &User{}
	var created string
	var lastActivity sql.NullString
	err := row.Scan(&user.ID, &user.Name, &user.Admin, &user.ServerURL, &created, &lastActivity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user row: %w", err)
	}
	if user.Created, err = parseTime(created); err != nil {
		return nil, err
	}
	if user.LastActivity, err = parseNullableTime(lastActivity); err != nil {
		return nil, err
	}
	return user, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// nullableTime formats t for a nullable column, mapping the zero value to NULL.
func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp: %w", err)
	}
	return t, nil
}

func parseNullableTime(s sql.NullString) (time.Time, error) {
	if !s.Valid {
		return time.Time{}, nil
	}
	return parseTime(s.String)
}

func encodeScopes(scopes []string) (string, error) {
	if scopes == nil {
		return "null", nil
	}
	data, err := json.Marshal(scopes)
	if err != nil {
		return "", fmt.Errorf("marshaling scopes: %w", err)
	}
	return string(data), nil
}

func decodeScopes(data []byte) ([]string, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var scopes []string
	if err := json.Unmarshal(data, &scopes); err != nil {
		return nil, fmt.Errorf("unmarshaling scopes: %w", err)
	}
	return scopes, nil
}

// isUniqueViolation checks for a SQLite UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3lib.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}

// rollback rolls back tx, ignoring errors (tx may already be committed).
func rollback(tx *sql.Tx) { _ = tx.Rollback() }
