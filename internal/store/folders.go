package store

import (
	"context"
	"database/sql"
	"fmt"
)

// CreateFolder inserts a folder, rejecting a name that case-insensitively
// collides with a sibling under the same parent (or the team root). The
// partial unique indexes in the schema back this check up under concurrency.
func (s *PostgresStore) CreateFolder(ctx context.Context, folder Folder) error {
	err := s.write(ctx, func(tx *sql.Tx) error {
		var exists bool
		err := tx.QueryRowContext(ctx, `
			SELECT EXISTS(
				SELECT 1 FROM folders
				WHERE team_id = $1
					AND parent_id IS NOT DISTINCT FROM $2
					AND lower(name) = lower($3)
			)
		`, folder.TeamID, folder.ParentID, folder.Name).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check sibling names: %w", err)
		}
		if exists {
			return ErrDuplicateName
		}

		if folder.ParentID != nil {
			var parentTeam string
			err := tx.QueryRowContext(ctx, `SELECT team_id FROM folders WHERE id=$1`, *folder.ParentID).Scan(&parentTeam)
			if err != nil {
				return err
			}
			if parentTeam != folder.TeamID {
				return ErrCrossTeamMove
			}
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO folders (id, team_id, parent_id, name, description, created_by)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, folder.ID, folder.TeamID, folder.ParentID, folder.Name, folder.Description, folder.CreatedBy); err != nil {
			return fmt.Errorf("insert folder: %w", err)
		}
		return nil
	})
	if IsUniqueViolation(err) {
		return ErrDuplicateName
	}
	return err
}

func (s *PostgresStore) GetFolder(ctx context.Context, folderID string) (Folder, error) {
	var folder Folder
	err := s.read(ctx, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, `
			SELECT id, team_id, parent_id, name, description, created_by, created_at, updated_at
			FROM folders
			WHERE id = $1
		`, folderID).Scan(&folder.ID, &folder.TeamID, &folder.ParentID, &folder.Name, &folder.Description, &folder.CreatedBy, &folder.CreatedAt, &folder.UpdatedAt)
	})
	if err != nil {
		return Folder{}, err
	}
	return folder, nil
}

func (s *PostgresStore) ListFolders(ctx context.Context, teamID string) ([]Folder, error) {
	items := make([]Folder, 0)
	err := s.read(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT id, team_id, parent_id, name, description, created_by, created_at, updated_at
			FROM folders
			WHERE team_id = $1
			ORDER BY parent_id NULLS FIRST, lower(name)
		`, teamID)
		if err != nil {
			return fmt.Errorf("list folders: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var item Folder
			if err := rows.Scan(&item.ID, &item.TeamID, &item.ParentID, &item.Name, &item.Description, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt); err != nil {
				return fmt.Errorf("scan folder: %w", err)
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

// DeleteFolder removes an empty folder. Deletion of a folder that still
// contains subfolders or queries is blocked, never cascaded.
func (s *PostgresStore) DeleteFolder(ctx context.Context, folderID string) error {
	return s.write(ctx, func(tx *sql.Tx) error {
		var id string
		if err := tx.QueryRowContext(ctx, `SELECT id FROM folders WHERE id=$1 FOR UPDATE`, folderID).Scan(&id); err != nil {
			return err
		}

		var children, queries int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM folders WHERE parent_id=$1`, folderID).Scan(&children); err != nil {
			return fmt.Errorf("count subfolders: %w", err)
		}
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM queries WHERE folder_id=$1`, folderID).Scan(&queries); err != nil {
			return fmt.Errorf("count folder queries: %w", err)
		}
		if children > 0 || queries > 0 {
			return ErrFolderNotEmpty
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM folders WHERE id=$1`, folderID); err != nil {
			return fmt.Errorf("delete folder: %w", err)
		}
		return nil
	})
}
