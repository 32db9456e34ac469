// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
	sqlite3 "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// SQLiteStorage implements Storage on a local SQLite database. It suits
// single-replica deployments that must survive restarts.
//
// Records are stored as JSON next to the columns that queries filter on.
// Single-use transitions are conditional UPDATEs, so they stay atomic even
// when several processes share the file.
type SQLiteStorage struct {
	db *sql.DB

	stopCleanup chan struct{}
	cleanupDone chan struct{}
	closeOnce   sync.Once
}

// NewSQLiteStorage opens (or creates) the database at path, applies pending
// migrations and starts the expiry sweeper.
func NewSQLiteStorage(ctx context.Context, path string) (*SQLiteStorage, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// A single connection serializes writers inside this process.
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteStorage{
		db:          db,
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}
	go s.cleanupLoop(DefaultCleanupInterval)
	return s, nil
}

// runMigrations applies all pending database migrations using goose.
func runMigrations(ctx context.Context, db *sql.DB) error {
	migrationFS, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create sub filesystem: %w", err)
	}

	provider, err := goose.NewProvider(database.DialectSQLite3, db, migrationFS)
	if err != nil {
		return fmt.Errorf("failed to create goose provider: %w", err)
	}

	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// Health pings the database.
func (s *SQLiteStorage) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close stops the sweeper and closes the database. Safe to call more than once.
func (s *SQLiteStorage) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stopCleanup)
		<-s.cleanupDone
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteStorage) cleanupLoop(interval time.Duration) {
	defer close(s.cleanupDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.purgeExpired(context.Background(), time.Now()); err != nil {
				slog.Warn("failed to purge expired sqlite records", "error", err)
			}
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *SQLiteStorage) purgeExpired(ctx context.Context, now time.Time) error {
	n := now.UnixNano()
	statements := []string{
		`DELETE FROM authorization_codes WHERE purge_after <= ?`,
		`DELETE FROM tokens WHERE purge_after <= ?`,
		`DELETE FROM pending_authorizations WHERE expires_at <= ?`,
		`DELETE FROM sessions WHERE expires_at <= ?`,
		`DELETE FROM replay WHERE expires_at <= ?`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt, n); err != nil {
			return err
		}
	}
	return nil
}

func rollback(tx *sql.Tx) {
	_ = tx.Rollback()
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3lib.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY
}

func nanos(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func fromNanos(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64).UTC()
	return &t
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func scanJSON[T any](row *sql.Row, what string, extra ...any) (*T, error) {
	var data []byte
	if err := row.Scan(append([]any{&data}, extra...)...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s not found", ErrNotFound, what)
		}
		return nil, fmt.Errorf("failed to read %s: %w", what, err)
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", what, err)
	}
	return &v, nil
}

// -----------------------
// ClientStorage
// -----------------------

// GetClient loads the client by its ID.
func (s *SQLiteStorage) GetClient(ctx context.Context, id string) (*Client, error) {
	return scanJSON[Client](s.db.QueryRowContext(ctx, `SELECT data FROM clients WHERE id = ?`, id), "client")
}

// CreateClient stores a new client.
func (s *SQLiteStorage) CreateClient(ctx context.Context, client *Client) error {
	if err := validateClient(client); err != nil {
		return err
	}
	data, err := json.Marshal(client)
	if err != nil {
		return fmt.Errorf("failed to marshal client: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO clients (id, data) VALUES (?, ?)`, client.ID, data); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: client already exists", ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create client: %w", err)
	}
	return nil
}

// UpdateClient replaces a stored client.
func (s *SQLiteStorage) UpdateClient(ctx context.Context, client *Client) error {
	if err := validateClient(client); err != nil {
		return err
	}
	data, err := json.Marshal(client)
	if err != nil {
		return fmt.Errorf("failed to marshal client: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE clients SET data = ? WHERE id = ?`, data, client.ID)
	if err != nil {
		return fmt.Errorf("failed to update client: %w", err)
	}
	return requireRow(res, "client")
}

func requireRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s not found", ErrNotFound, what)
	}
	return nil
}

// DeleteClient removes a client together with its codes, tokens and consents.
func (s *SQLiteStorage) DeleteClient(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	res, err := tx.ExecContext(ctx, `DELETE FROM clients WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete client: %w", err)
	}
	if err := requireRow(res, "client"); err != nil {
		return err
	}
	for _, stmt := range []string{
		`DELETE FROM authorization_codes WHERE client_id = ?`,
		`DELETE FROM tokens WHERE client_id = ?`,
		`DELETE FROM consents WHERE client_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return fmt.Errorf("failed to delete client records: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// ListClients returns all clients ordered by ID.
func (s *SQLiteStorage) ListClients(ctx context.Context) ([]*Client, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM clients ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []*Client{}
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning client row: %w", err)
		}
		var c Client
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("failed to unmarshal client: %w", err)
		}
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating client rows: %w", err)
	}
	return out, nil
}

// -----------------------
// AuthorizationCodeStorage
// -----------------------

// CreateAuthorizationCode stores a new authorization code.
func (s *SQLiteStorage) CreateAuthorizationCode(ctx context.Context, code *AuthorizationCode) error {
	if code == nil || code.Signature == "" {
		return errors.New("authorization code signature cannot be empty")
	}
	stored := code.Clone()
	stored.ConsumedAt = nil
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal authorization code: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO authorization_codes (signature, client_id, data, consumed_at, purge_after)
		 VALUES (?, ?, ?, NULL, ?)`,
		code.Signature, code.ClientID, data, code.ExpiresAt.Add(DefaultConsumedCodeRetention).UnixNano(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: authorization code already exists", ErrAlreadyExists)
		}
		return fmt.Errorf("failed to store authorization code: %w", err)
	}
	return nil
}

// ConsumeAuthorizationCode marks a code consumed with a conditional UPDATE.
func (s *SQLiteStorage) ConsumeAuthorizationCode(ctx context.Context, signature string, now time.Time) (*AuthorizationCode, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE authorization_codes SET consumed_at = ? WHERE signature = ? AND consumed_at IS NULL`,
		now.UnixNano(), signature,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to consume authorization code: %w", err)
	}
	won, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read affected rows: %w", err)
	}

	var consumedAt sql.NullInt64
	code, err := scanJSON[AuthorizationCode](s.db.QueryRowContext(ctx,
		`SELECT data, consumed_at FROM authorization_codes WHERE signature = ?`, signature,
	), "authorization code", &consumedAt)
	if err != nil {
		return nil, err
	}
	code.ConsumedAt = fromNanos(consumedAt)
	if won == 0 {
		return code, ErrAlreadyConsumed
	}
	return code, nil
}

// -----------------------
// TokenStorage
// -----------------------

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertToken(ctx context.Context, db execer, token *Token) error {
	if err := validateToken(token); err != nil {
		return err
	}
	stored := token.Clone()
	stored.RevokedAt = nil
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO tokens (id, access_signature, refresh_signature, client_id, subject,
			authorization_code_id, data, revoked_at, purge_after)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		token.ID, token.AccessSignature, nullIfEmpty(token.RefreshSignature), token.ClientID, token.Subject,
		token.AuthorizationCodeID, data, nanos(token.RevokedAt), token.ExpiresAt().UnixNano(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: token already exists", ErrAlreadyExists)
		}
		return fmt.Errorf("failed to store token: %w", err)
	}
	return nil
}

// CreateToken stores a new token pair.
func (s *SQLiteStorage) CreateToken(ctx context.Context, token *Token) error {
	return insertToken(ctx, s.db, token)
}

func (s *SQLiteStorage) getToken(ctx context.Context, column, value string) (*Token, error) {
	var revokedAt sql.NullInt64
	token, err := scanJSON[Token](s.db.QueryRowContext(ctx,
		`SELECT data, revoked_at FROM tokens WHERE `+column+` = ?`, value,
	), "token", &revokedAt)
	if err != nil {
		return nil, err
	}
	token.RevokedAt = fromNanos(revokedAt)
	return token, nil
}

// GetToken looks a token up by id.
func (s *SQLiteStorage) GetToken(ctx context.Context, id string) (*Token, error) {
	return s.getToken(ctx, "id", id)
}

// GetTokenByAccessSignature looks a token up by its access token signature.
func (s *SQLiteStorage) GetTokenByAccessSignature(ctx context.Context, signature string) (*Token, error) {
	return s.getToken(ctx, "access_signature", signature)
}

// GetTokenByRefreshSignature looks a token up by its refresh token signature.
func (s *SQLiteStorage) GetTokenByRefreshSignature(ctx context.Context, signature string) (*Token, error) {
	return s.getToken(ctx, "refresh_signature", signature)
}

// RotateToken revokes oldID and stores next in one transaction.
func (s *SQLiteStorage) RotateToken(ctx context.Context, oldID string, next *Token, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	res, err := tx.ExecContext(ctx,
		`UPDATE tokens SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`, now.UnixNano(), oldID)
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM tokens WHERE id = ?`, oldID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: token not found", ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to read token: %w", err)
		}
		return ErrTokenRevoked
	}

	if err := insertToken(ctx, tx, next); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// RevokeToken marks a token revoked.
func (s *SQLiteStorage) RevokeToken(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tokens SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`, now.UnixNano(), id)
	if err != nil {
		return false, fmt.Errorf("failed to revoke token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 1 {
		return true, nil
	}
	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM tokens WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("%w: token not found", ErrNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("failed to read token: %w", err)
	}
	return false, nil
}

// RevokeTokensByAuthorizationCode revokes every token redeemed from a code.
func (s *SQLiteStorage) RevokeTokensByAuthorizationCode(ctx context.Context, codeID string, now time.Time) (int, error) {
	if codeID == "" {
		return 0, nil
	}
	return s.revokeWhere(ctx, now, `authorization_code_id = ?`, codeID)
}

// RevokeTokensBySubjectAndClient revokes every token of a subject at a client.
func (s *SQLiteStorage) RevokeTokensBySubjectAndClient(
	ctx context.Context, subject, clientID string, now time.Time,
) (int, error) {
	return s.revokeWhere(ctx, now, `subject = ? AND client_id = ?`, subject, clientID)
}

func (s *SQLiteStorage) revokeWhere(ctx context.Context, now time.Time, cond string, args ...any) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tokens SET revoked_at = ? WHERE revoked_at IS NULL AND `+cond,
		append([]any{now.UnixNano()}, args...)...,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke tokens: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return int(n), nil
}

// -----------------------
// ConsentStorage
// -----------------------

// GetConsent returns the consent record for a subject and client.
func (s *SQLiteStorage) GetConsent(ctx context.Context, subject, clientID string) (*Consent, error) {
	return scanJSON[Consent](s.db.QueryRowContext(ctx,
		`SELECT data FROM consents WHERE subject = ? AND client_id = ?`, subject, clientID,
	), "consent")
}

// SaveConsent inserts or replaces a consent record.
func (s *SQLiteStorage) SaveConsent(ctx context.Context, consent *Consent) error {
	if err := validateConsent(consent); err != nil {
		return err
	}
	data, err := json.Marshal(consent)
	if err != nil {
		return fmt.Errorf("failed to marshal consent: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO consents (subject, client_id, data) VALUES (?, ?, ?)
		 ON CONFLICT (subject, client_id) DO UPDATE SET data = excluded.data`,
		consent.Subject, consent.ClientID, data,
	)
	if err != nil {
		return fmt.Errorf("failed to save consent: %w", err)
	}
	return nil
}

// ListConsents returns every consent record of a subject ordered by client.
func (s *SQLiteStorage) ListConsents(ctx context.Context, subject string) ([]*Consent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM consents WHERE subject = ? ORDER BY client_id`, subject)
	if err != nil {
		return nil, fmt.Errorf("failed to list consents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Consent
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning consent row: %w", err)
		}
		var c Consent
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("failed to unmarshal consent: %w", err)
		}
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating consent rows: %w", err)
	}
	return out, nil
}

// -----------------------
// SubjectStorage
// -----------------------

// GetSubject returns a subject by ID.
func (s *SQLiteStorage) GetSubject(ctx context.Context, id string) (*Subject, error) {
	return scanJSON[Subject](s.db.QueryRowContext(ctx, `SELECT data FROM subjects WHERE id = ?`, id), "subject")
}

// GetSubjectByUsername returns a subject by username.
func (s *SQLiteStorage) GetSubjectByUsername(ctx context.Context, username string) (*Subject, error) {
	return scanJSON[Subject](s.db.QueryRowContext(ctx,
		`SELECT data FROM subjects WHERE username = ?`, username), "subject")
}

// CreateSubject stores a new subject.
func (s *SQLiteStorage) CreateSubject(ctx context.Context, subject *Subject) error {
	if err := validateSubject(subject); err != nil {
		return err
	}
	data, err := json.Marshal(subject)
	if err != nil {
		return fmt.Errorf("failed to marshal subject: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO subjects (id, username, data) VALUES (?, ?, ?)`, subject.ID, subject.Username, data)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: subject or username already exists", ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create subject: %w", err)
	}
	return nil
}

// UpdateSubject replaces a stored subject.
func (s *SQLiteStorage) UpdateSubject(ctx context.Context, subject *Subject) error {
	if err := validateSubject(subject); err != nil {
		return err
	}
	data, err := json.Marshal(subject)
	if err != nil {
		return fmt.Errorf("failed to marshal subject: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE subjects SET username = ?, data = ? WHERE id = ?`, subject.Username, data, subject.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: username already taken", ErrAlreadyExists)
		}
		return fmt.Errorf("failed to update subject: %w", err)
	}
	return requireRow(res, "subject")
}

// -----------------------
// PendingAuthorizationStorage
// -----------------------

// StorePendingAuthorization parks an authorization request.
func (s *SQLiteStorage) StorePendingAuthorization(ctx context.Context, pending *PendingAuthorization) error {
	if pending == nil || pending.ID == "" {
		return errors.New("pending authorization ID cannot be empty")
	}
	data, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("failed to marshal pending authorization: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pending_authorizations (id, data, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET data = excluded.data, expires_at = excluded.expires_at`,
		pending.ID, data, pending.ExpiresAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to store pending authorization: %w", err)
	}
	return nil
}

// LoadPendingAuthorization returns a parked authorization request.
func (s *SQLiteStorage) LoadPendingAuthorization(ctx context.Context, id string) (*PendingAuthorization, error) {
	return scanJSON[PendingAuthorization](s.db.QueryRowContext(ctx,
		`SELECT data FROM pending_authorizations WHERE id = ? AND expires_at > ?`, id, time.Now().UnixNano(),
	), "pending authorization")
}

// DeletePendingAuthorization removes a parked authorization request.
func (s *SQLiteStorage) DeletePendingAuthorization(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pending_authorizations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete pending authorization: %w", err)
	}
	return requireRow(res, "pending authorization")
}

// -----------------------
// SessionStorage
// -----------------------

// CreateSession stores an end-user session.
func (s *SQLiteStorage) CreateSession(ctx context.Context, session *Session) error {
	if session == nil || session.ID == "" {
		return errors.New("session ID cannot be empty")
	}
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, data, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET data = excluded.data, expires_at = excluded.expires_at`,
		session.ID, data, session.ExpiresAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

// GetSession returns a live session.
func (s *SQLiteStorage) GetSession(ctx context.Context, id string) (*Session, error) {
	return scanJSON[Session](s.db.QueryRowContext(ctx,
		`SELECT data FROM sessions WHERE id = ? AND expires_at > ?`, id, time.Now().UnixNano(),
	), "session")
}

// DeleteSession removes a session. Deleting an unknown session is not an error.
func (s *SQLiteStorage) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// -----------------------
// ReplayStorage
// -----------------------

// MarkUsed records key until expiresAt. An expired entry is overwritten in
// place by the upsert.
func (s *SQLiteStorage) MarkUsed(ctx context.Context, key string, expiresAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO replay (key, expires_at) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET expires_at = excluded.expires_at
		 WHERE replay.expires_at <= ?`,
		key, expiresAt.UnixNano(), time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to record replay key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrReplay
	}
	return nil
}

// IsUsed reports whether key is recorded and not yet expired.
func (s *SQLiteStorage) IsUsed(ctx context.Context, key string) (bool, error) {
	var used bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM replay WHERE key = ? AND expires_at > ?)`,
		key, time.Now().UnixNano(),
	).Scan(&used)
	if err != nil {
		return false, fmt.Errorf("failed to check replay key: %w", err)
	}
	return used, nil
}

// Compile-time interface check.
var _ Storage = (*SQLiteStorage)(nil)
