package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// SearchHit is one full-text match over the team's queries.
type SearchHit struct {
	ID       string
	Title    string
	Snippet  string
	TeamID   string
	FolderID string
	Status   string
}

// IndexableQuery carries the fields pushed into the external search index.
type IndexableQuery struct {
	ID          string
	Title       string
	Description string
	SQLContent  string
	TeamID      string
	FolderID    string
	Status      string
}

// SearchQueries matches the team's queries case-insensitively on substrings
// of title, description and sql_content, with the generated fts column
// catching stemmed word matches the substring test misses. Results are
// ordered by recency with the id as tiebreaker so paging is stable. Runs
// through the transactional read path so the caller's identity marker applies.
func (s *PostgresStore) SearchQueries(ctx context.Context, text, teamID, status string, limit, offset int) ([]SearchHit, int, error) {
	if strings.TrimSpace(text) == "" || teamID == "" {
		return []SearchHit{}, 0, nil
	}
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	where := `q.team_id = $2 AND (
		q.title ILIKE $3
		OR q.description ILIKE $3
		OR q.sql_content ILIKE $3
		OR q.fts @@ plainto_tsquery('english', $1)
	)`
	args := []any{text, teamID, "%" + escapeLike(text) + "%"}
	if status != "" {
		where += ` AND q.status = $4`
		args = append(args, status)
	}

	hits := make([]SearchHit, 0)
	total := 0
	err := s.read(ctx, func(tx *sql.Tx) error {
		countSQL := `SELECT count(*) FROM queries q WHERE ` + where
		if err := tx.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
			return fmt.Errorf("search count: %w", err)
		}

		dataSQL := fmt.Sprintf(`
			SELECT q.id, q.title,
				ts_headline('english', coalesce(q.description, ''), plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30') AS snippet,
				q.team_id, q.folder_id, q.status
			FROM queries q
			WHERE %s
			ORDER BY q.updated_at DESC, q.id
			LIMIT %d OFFSET %d`, where, limit, offset)

		rows, err := tx.QueryContext(ctx, dataSQL, args...)
		if err != nil {
			return fmt.Errorf("search query: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var hit SearchHit
			if err := rows.Scan(&hit.ID, &hit.Title, &hit.Snippet, &hit.TeamID, &hit.FolderID, &hit.Status); err != nil {
				return fmt.Errorf("search scan: %w", err)
			}
			hits = append(hits, hit)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, 0, err
	}
	return hits, total, nil
}

// escapeLike neutralizes LIKE metacharacters so user text matches literally.
func escapeLike(text string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(text)
}

// LoadAllIndexableQueries returns every query's indexable projection for a
// full reindex. Runs on the pool without an identity marker: the system
// context that bulk-feeds the external index is not a tenant.
func (s *PostgresStore) LoadAllIndexableQueries(ctx context.Context) ([]IndexableQuery, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, sql_content, team_id, folder_id, status
		FROM queries
	`)
	if err != nil {
		return nil, fmt.Errorf("load indexable queries: %w", err)
	}
	defer rows.Close()

	items := make([]IndexableQuery, 0)
	for rows.Next() {
		var item IndexableQuery
		if err := rows.Scan(&item.ID, &item.Title, &item.Description, &item.SQLContent, &item.TeamID, &item.FolderID, &item.Status); err != nil {
			return nil, fmt.Errorf("scan indexable query: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
