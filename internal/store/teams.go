package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// CreateTeam inserts the team and makes the owner its first admin.
func (s *PostgresStore) CreateTeam(ctx context.Context, team Team) error {
	return s.write(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO teams (id, name, approval_quota, is_personal, owner_id)
			VALUES ($1, $2, $3, FALSE, $4)
		`, team.ID, team.Name, team.ApprovalQuota, team.OwnerID); err != nil {
			return fmt.Errorf("insert team: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO team_members (team_id, user_id, role)
			VALUES ($1, $2, 'admin')
		`, team.ID, team.OwnerID); err != nil {
			return fmt.Errorf("insert owner membership: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) GetTeam(ctx context.Context, teamID string) (Team, error) {
	var team Team
	err := s.read(ctx, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, `
			SELECT id, name, approval_quota, is_personal, owner_id, created_at, updated_at
			FROM teams
			WHERE id = $1
		`, teamID).Scan(&team.ID, &team.Name, &team.ApprovalQuota, &team.IsPersonal, &team.OwnerID, &team.CreatedAt, &team.UpdatedAt)
	})
	if err != nil {
		return Team{}, err
	}
	return team, nil
}

// ListTeamsForUser returns every team the user belongs to, annotated with
// the caller's role on each.
func (s *PostgresStore) ListTeamsForUser(ctx context.Context, userID string) ([]TeamWithRole, error) {
	items := make([]TeamWithRole, 0)
	err := s.read(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT t.id, t.name, t.approval_quota, t.is_personal, t.owner_id, t.created_at, t.updated_at, tm.role
			FROM teams t
			JOIN team_members tm ON tm.team_id = t.id
			WHERE tm.user_id = $1
			ORDER BY t.is_personal DESC, t.created_at ASC
		`, userID)
		if err != nil {
			return fmt.Errorf("list teams: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var item TeamWithRole
			if err := rows.Scan(&item.ID, &item.Name, &item.ApprovalQuota, &item.IsPersonal, &item.OwnerID, &item.CreatedAt, &item.UpdatedAt, &item.Role); err != nil {
				return fmt.Errorf("scan team: %w", err)
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

func (s *PostgresStore) UpdateTeam(ctx context.Context, teamID, name string, approvalQuota int) (Team, error) {
	var team Team
	err := s.write(ctx, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, `
			UPDATE teams
			SET name=$2, approval_quota=$3, updated_at=NOW()
			WHERE id=$1
			RETURNING id, name, approval_quota, is_personal, owner_id, created_at, updated_at
		`, teamID, name, approvalQuota).Scan(&team.ID, &team.Name, &team.ApprovalQuota, &team.IsPersonal, &team.OwnerID, &team.CreatedAt, &team.UpdatedAt)
	})
	if err != nil {
		return Team{}, err
	}
	return team, nil
}

// GetTeamRole returns the caller's role for the team, or "" when the user
// has no membership row. Absence is not an error: the app layer folds it
// into a uniform not-found response.
func (s *PostgresStore) GetTeamRole(ctx context.Context, teamID, userID string) (string, error) {
	var role string
	err := s.read(ctx, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, `
			SELECT role FROM team_members WHERE team_id=$1 AND user_id=$2
		`, teamID, userID).Scan(&role)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read team role: %w", err)
	}
	return role, nil
}

func (s *PostgresStore) ListTeamMembers(ctx context.Context, teamID string) ([]TeamMember, error) {
	items := make([]TeamMember, 0)
	err := s.read(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT tm.team_id, tm.user_id, tm.role, tm.created_at, u.display_name, u.email
			FROM team_members tm
			JOIN users u ON u.id = tm.user_id
			WHERE tm.team_id = $1
			ORDER BY tm.created_at ASC
		`, teamID)
		if err != nil {
			return fmt.Errorf("list team members: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var item TeamMember
			if err := rows.Scan(&item.TeamID, &item.UserID, &item.Role, &item.CreatedAt, &item.UserName, &item.UserEmail); err != nil {
				return fmt.Errorf("scan team member: %w", err)
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

// UpdateMemberRole changes a member's role. Demoting the last admin is
// blocked: the admin rows are locked first so two concurrent demotions
// cannot both pass the count.
func (s *PostgresStore) UpdateMemberRole(ctx context.Context, teamID, userID, role string) error {
	return s.write(ctx, func(tx *sql.Tx) error {
		var current string
		err := tx.QueryRowContext(ctx, `
			SELECT role FROM team_members WHERE team_id=$1 AND user_id=$2 FOR UPDATE
		`, teamID, userID).Scan(&current)
		if err != nil {
			return err
		}

		if current == "admin" && role != "admin" {
			admins, err := countAdminsLocked(ctx, tx, teamID)
			if err != nil {
				return err
			}
			if admins <= 1 {
				return ErrLastAdmin
			}
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE team_members SET role=$3 WHERE team_id=$1 AND user_id=$2
		`, teamID, userID, role); err != nil {
			return fmt.Errorf("update member role: %w", err)
		}
		return nil
	})
}

// RemoveMember deletes a membership row, refusing to remove the last admin.
func (s *PostgresStore) RemoveMember(ctx context.Context, teamID, userID string) error {
	return s.write(ctx, func(tx *sql.Tx) error {
		var current string
		err := tx.QueryRowContext(ctx, `
			SELECT role FROM team_members WHERE team_id=$1 AND user_id=$2 FOR UPDATE
		`, teamID, userID).Scan(&current)
		if err != nil {
			return err
		}

		if current == "admin" {
			admins, err := countAdminsLocked(ctx, tx, teamID)
			if err != nil {
				return err
			}
			if admins <= 1 {
				return ErrLastAdmin
			}
		}

		if _, err := tx.ExecContext(ctx, `
			DELETE FROM team_members WHERE team_id=$1 AND user_id=$2
		`, teamID, userID); err != nil {
			return fmt.Errorf("remove member: %w", err)
		}
		return nil
	})
}

func countAdminsLocked(ctx context.Context, tx *sql.Tx, teamID string) (int, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT user_id FROM team_members WHERE team_id=$1 AND role='admin' FOR UPDATE
	`, teamID)
	if err != nil {
		return 0, fmt.Errorf("lock admin rows: %w", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return 0, fmt.Errorf("scan admin row: %w", err)
		}
		count++
	}
	return count, rows.Err()
}

// NormalizeTeamName trims and collapses inner whitespace for display names.
func NormalizeTeamName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}
