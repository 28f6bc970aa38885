package session

import (
	"context"
	"time"

	"querydeck/api/internal/store"
)

// Store is the refresh-session contract the app depends on. Redis backs it
// when configured; postgres is the fallback.
type Store interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

// PGStore adapts the relational store to the session contract. Lookups join
// back to users, so identity fields are always current.
type PGStore struct {
	db *store.PostgresStore
}

func NewPGStore(db *store.PostgresStore) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error {
	return s.db.SaveRefreshSession(ctx, tokenHash, user.ID, expiresAt)
}

func (s *PGStore) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	return s.db.LookupRefreshSession(ctx, tokenHash)
}

func (s *PGStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	return s.db.RevokeRefreshSession(ctx, tokenHash)
}
