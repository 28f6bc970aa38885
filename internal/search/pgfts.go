package search

import (
	"context"

	"querydeck/api/internal/store"
)

// PgFTS implements Searcher with a PostgreSQL substring and full-text scan
// as a fallback. It delegates to the store so searches run inside an
// identity-marked transaction like every other team-scoped read.
type PgFTS struct {
	store *store.PostgresStore
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(st *store.PostgresStore) *PgFTS {
	return &PgFTS{store: st}
}

// Healthy always returns true: if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes the team-scoped fallback query.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	hits, total, err := p.store.SearchQueries(ctx, q.Text, q.TeamID, q.FilterStatus, q.Limit, q.Offset)
	if err != nil {
		return nil, 0, err
	}

	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		results = append(results, Result{
			ID:       hit.ID,
			Title:    hit.Title,
			Snippet:  hit.Snippet,
			TeamID:   hit.TeamID,
			FolderID: hit.FolderID,
			Status:   hit.Status,
		})
	}
	return results, total, nil
}

// LoadAllRecords returns all indexable queries for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]QueryRecord, error) {
	items, err := p.store.LoadAllIndexableQueries(ctx)
	if err != nil {
		return nil, err
	}
	records := make([]QueryRecord, 0, len(items))
	for _, item := range items {
		records = append(records, QueryRecord{
			ID:          item.ID,
			Title:       item.Title,
			Description: item.Description,
			SQL:         item.SQLContent,
			TeamID:      item.TeamID,
			FolderID:    item.FolderID,
			Status:      item.Status,
		})
	}
	return records, nil
}
