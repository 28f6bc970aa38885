package store

import (
	"context"
	"database/sql"
	"fmt"
)

const queryColumns = `id, team_id, folder_id, title, description, sql_content, draft_sql, status, created_by, last_modified_by, created_at, updated_at`

func scanQuery(row interface{ Scan(...any) error }) (Query, error) {
	var q Query
	err := row.Scan(
		&q.ID,
		&q.TeamID,
		&q.FolderID,
		&q.Title,
		&q.Description,
		&q.SQLContent,
		&q.DraftSQL,
		&q.Status,
		&q.CreatedBy,
		&q.LastModifiedBy,
		&q.CreatedAt,
		&q.UpdatedAt,
	)
	return q, err
}

func (s *PostgresStore) CreateQuery(ctx context.Context, query Query) error {
	return s.write(ctx, func(tx *sql.Tx) error {
		var folderTeam string
		if err := tx.QueryRowContext(ctx, `SELECT team_id FROM folders WHERE id=$1`, query.FolderID).Scan(&folderTeam); err != nil {
			return err
		}
		if folderTeam != query.TeamID {
			return ErrCrossTeamMove
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO queries (id, team_id, folder_id, title, description, sql_content, status, created_by, last_modified_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, query.ID, query.TeamID, query.FolderID, query.Title, query.Description, query.SQLContent, StatusDraft, query.CreatedBy, query.LastModifiedBy); err != nil {
			return fmt.Errorf("insert query: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) GetQuery(ctx context.Context, queryID string) (Query, error) {
	var query Query
	err := s.read(ctx, func(tx *sql.Tx) error {
		var err error
		query, err = scanQuery(tx.QueryRowContext(ctx, `SELECT `+queryColumns+` FROM queries WHERE id=$1`, queryID))
		return err
	})
	if err != nil {
		return Query{}, err
	}
	return query, nil
}

// ListQueries returns team-scoped projections, optionally narrowed to one
// folder, newest first.
func (s *PostgresStore) ListQueries(ctx context.Context, teamID, folderID string) ([]QueryListItem, error) {
	items := make([]QueryListItem, 0)
	err := s.read(ctx, func(tx *sql.Tx) error {
		sqlText := `
			SELECT id, team_id, folder_id, title, description, status, last_modified_by, updated_at
			FROM queries
			WHERE team_id = $1`
		args := []any{teamID}
		if folderID != "" {
			sqlText += ` AND folder_id = $2`
			args = append(args, folderID)
		}
		sqlText += ` ORDER BY updated_at DESC, id`

		rows, err := tx.QueryContext(ctx, sqlText, args...)
		if err != nil {
			return fmt.Errorf("list queries: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var item QueryListItem
			if err := rows.Scan(&item.ID, &item.TeamID, &item.FolderID, &item.Title, &item.Description, &item.Status, &item.LastModifiedBy, &item.UpdatedAt); err != nil {
				return fmt.Errorf("scan query: %w", err)
			}
			items = append(items, item)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// UpdateQueryContent applies an edit. A draft is edited in place; an approved
// query keeps its visible content and stages the edit in draft_sql; a query
// awaiting approval is locked against edits.
func (s *PostgresStore) UpdateQueryContent(ctx context.Context, queryID, title, description, sqlContent, editor string) (Query, error) {
	var updated Query
	err := s.write(ctx, func(tx *sql.Tx) error {
		current, err := scanQuery(tx.QueryRowContext(ctx, `SELECT `+queryColumns+` FROM queries WHERE id=$1 FOR UPDATE`, queryID))
		if err != nil {
			return err
		}

		switch current.Status {
		case StatusPending:
			return ErrQueryPending
		case StatusApproved:
			updated, err = scanQuery(tx.QueryRowContext(ctx, `
				UPDATE queries
				SET title=$2, description=$3, draft_sql=$4, last_modified_by=$5, updated_at=NOW()
				WHERE id=$1
				RETURNING `+queryColumns, queryID, title, description, sqlContent, editor))
			return err
		default: // draft, rejected history leaves the query in draft
			updated, err = scanQuery(tx.QueryRowContext(ctx, `
				UPDATE queries
				SET title=$2, description=$3, sql_content=$4, draft_sql=NULL, last_modified_by=$5, updated_at=NOW()
				WHERE id=$1
				RETURNING `+queryColumns, queryID, title, description, sqlContent, editor))
			return err
		}
	})
	if err != nil {
		return Query{}, err
	}
	return updated, nil
}

func (s *PostgresStore) DeleteQuery(ctx context.Context, queryID string) error {
	return s.write(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `DELETE FROM queries WHERE id=$1`, queryID)
		if err != nil {
			return fmt.Errorf("delete query: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete query rows: %w", err)
		}
		if affected == 0 {
			return sql.ErrNoRows
		}
		return nil
	})
}

// MoveQuery reparents a query to another folder of the same team. The
// owning team is immutable; a destination in a different team is refused.
func (s *PostgresStore) MoveQuery(ctx context.Context, queryID, folderID, editor string) (Query, error) {
	var moved Query
	err := s.write(ctx, func(tx *sql.Tx) error {
		current, err := scanQuery(tx.QueryRowContext(ctx, `SELECT `+queryColumns+` FROM queries WHERE id=$1 FOR UPDATE`, queryID))
		if err != nil {
			return err
		}

		var destTeam string
		if err := tx.QueryRowContext(ctx, `SELECT team_id FROM folders WHERE id=$1`, folderID).Scan(&destTeam); err != nil {
			return err
		}
		if destTeam != current.TeamID {
			return ErrCrossTeamMove
		}

		moved, err = scanQuery(tx.QueryRowContext(ctx, `
			UPDATE queries
			SET folder_id=$2, last_modified_by=$3, updated_at=NOW()
			WHERE id=$1
			RETURNING `+queryColumns, queryID, folderID, editor))
		return err
	})
	if err != nil {
		return Query{}, err
	}
	return moved, nil
}
