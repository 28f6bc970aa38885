package store

import (
	"context"
	"database/sql"
	"fmt"
)

type identityKey struct{}

// WithIdentity stamps the resolved caller onto the context. Every transaction
// opened below picks it up and sets the session identity marker consumed by
// the row-level security policies.
func WithIdentity(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, identityKey{}, userID)
}

func IdentityFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(identityKey{}).(string)
	return userID
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// runInTx executes fn inside a transaction that carries the caller identity
// as transaction-local session state (set_config with is_local=true). The
// marker can never outlive the transaction: commit or rollback discards it,
// and the deferred rollback guarantees release on every error and panic path.
func (s *PostgresStore) runInTx(ctx context.Context, opts *sql.TxOptions, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if userID := IdentityFromContext(ctx); userID != "" {
		if _, err := tx.ExecContext(ctx, `SELECT set_config('app.current_user', $1, true)`, userID); err != nil {
			return fmt.Errorf("set identity marker: %w", err)
		}
	}

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) write(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return s.runInTx(ctx, nil, fn)
}

func (s *PostgresStore) read(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return s.runInTx(ctx, &sql.TxOptions{ReadOnly: true}, fn)
}
