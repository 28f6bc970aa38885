package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

const invitationColumns = `i.id, i.team_id, i.invited_email, i.role, i.status, i.invited_by, i.created_at, i.responded_at, t.name`

func scanInvitation(row interface{ Scan(...any) error }) (TeamInvitation, error) {
	var inv TeamInvitation
	err := row.Scan(
		&inv.ID,
		&inv.TeamID,
		&inv.InvitedEmail,
		&inv.Role,
		&inv.Status,
		&inv.InvitedBy,
		&inv.CreatedAt,
		&inv.RespondedAt,
		&inv.TeamName,
	)
	return inv, err
}

// CreateInvitation records a pending invitation. At most one pending
// invitation may exist per team and address; an existing member cannot be
// invited again.
func (s *PostgresStore) CreateInvitation(ctx context.Context, inv TeamInvitation) (TeamInvitation, error) {
	email := strings.ToLower(strings.TrimSpace(inv.InvitedEmail))
	var created TeamInvitation
	err := s.write(ctx, func(tx *sql.Tx) error {
		var member bool
		err := tx.QueryRowContext(ctx, `
			SELECT EXISTS(
				SELECT 1 FROM team_members tm
				JOIN users u ON u.id = tm.user_id
				WHERE tm.team_id = $1 AND lower(u.email) = $2
			)
		`, inv.TeamID, email).Scan(&member)
		if err != nil {
			return fmt.Errorf("check existing membership: %w", err)
		}
		if member {
			return ErrAlreadyMember
		}

		var pending bool
		err = tx.QueryRowContext(ctx, `
			SELECT EXISTS(
				SELECT 1 FROM team_invitations
				WHERE team_id = $1 AND lower(invited_email) = $2 AND status = $3
			)
		`, inv.TeamID, email, InviteStatusPending).Scan(&pending)
		if err != nil {
			return fmt.Errorf("check pending invitation: %w", err)
		}
		if pending {
			return ErrDuplicateInvitation
		}

		created, err = scanInvitation(tx.QueryRowContext(ctx, `
			WITH ins AS (
				INSERT INTO team_invitations (id, team_id, invited_email, role, status, invited_by)
				VALUES ($1, $2, $3, $4, $5, $6)
				RETURNING *
			)
			SELECT `+invitationColumns+`
			FROM ins i JOIN teams t ON t.id = i.team_id
		`, inv.ID, inv.TeamID, email, inv.Role, InviteStatusPending, inv.InvitedBy))
		if err != nil {
			return fmt.Errorf("insert invitation: %w", err)
		}
		return nil
	})
	if IsUniqueViolation(err) {
		return TeamInvitation{}, ErrDuplicateInvitation
	}
	if err != nil {
		return TeamInvitation{}, err
	}
	return created, nil
}

func (s *PostgresStore) GetInvitation(ctx context.Context, invitationID string) (TeamInvitation, error) {
	var inv TeamInvitation
	err := s.read(ctx, func(tx *sql.Tx) error {
		var err error
		inv, err = scanInvitation(tx.QueryRowContext(ctx, `
			SELECT `+invitationColumns+`
			FROM team_invitations i JOIN teams t ON t.id = i.team_id
			WHERE i.id = $1
		`, invitationID))
		return err
	})
	if err != nil {
		return TeamInvitation{}, err
	}
	return inv, nil
}

// ListInvitationsForEmail returns the pending invitations addressed to the
// caller, newest first.
func (s *PostgresStore) ListInvitationsForEmail(ctx context.Context, email string) ([]TeamInvitation, error) {
	items := make([]TeamInvitation, 0)
	err := s.read(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT `+invitationColumns+`
			FROM team_invitations i JOIN teams t ON t.id = i.team_id
			WHERE lower(i.invited_email) = lower($1) AND i.status = $2
			ORDER BY i.created_at DESC
		`, email, InviteStatusPending)
		if err != nil {
			return fmt.Errorf("list invitations: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			item, err := scanInvitation(rows)
			if err != nil {
				return fmt.Errorf("scan invitation: %w", err)
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

func (s *PostgresStore) ListInvitationsForTeam(ctx context.Context, teamID string) ([]TeamInvitation, error) {
	items := make([]TeamInvitation, 0)
	err := s.read(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT `+invitationColumns+`
			FROM team_invitations i JOIN teams t ON t.id = i.team_id
			WHERE i.team_id = $1
			ORDER BY i.created_at DESC
		`, teamID)
		if err != nil {
			return fmt.Errorf("list team invitations: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			item, err := scanInvitation(rows)
			if err != nil {
				return fmt.Errorf("scan invitation: %w", err)
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

// AcceptInvitation flips a pending invitation to accepted and creates the
// membership in the same transaction. Only the invited address may accept.
func (s *PostgresStore) AcceptInvitation(ctx context.Context, invitationID, userID, userEmail string) (TeamInvitation, error) {
	var inv TeamInvitation
	err := s.write(ctx, func(tx *sql.Tx) error {
		var err error
		inv, err = scanInvitation(tx.QueryRowContext(ctx, `
			SELECT `+invitationColumns+`
			FROM team_invitations i JOIN teams t ON t.id = i.team_id
			WHERE i.id = $1
			FOR UPDATE OF i
		`, invitationID))
		if err != nil {
			return err
		}
		if !strings.EqualFold(inv.InvitedEmail, userEmail) {
			return sql.ErrNoRows
		}
		if inv.Status != InviteStatusPending {
			return ErrInvitationClosed
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO team_members (team_id, user_id, role)
			VALUES ($1, $2, $3)
			ON CONFLICT (team_id, user_id) DO NOTHING
		`, inv.TeamID, userID, inv.Role); err != nil {
			return fmt.Errorf("insert membership: %w", err)
		}

		inv, err = scanInvitation(tx.QueryRowContext(ctx, `
			WITH upd AS (
				UPDATE team_invitations SET status=$2, responded_at=NOW() WHERE id=$1
				RETURNING *
			)
			SELECT `+invitationColumns+`
			FROM upd i JOIN teams t ON t.id = i.team_id
		`, invitationID, InviteStatusAccepted))
		if err != nil {
			return fmt.Errorf("close invitation: %w", err)
		}
		return nil
	})
	if err != nil {
		return TeamInvitation{}, err
	}
	return inv, nil
}

// DeclineInvitation flips a pending invitation to declined. Only the invited
// address may decline.
func (s *PostgresStore) DeclineInvitation(ctx context.Context, invitationID, userEmail string) (TeamInvitation, error) {
	var inv TeamInvitation
	err := s.write(ctx, func(tx *sql.Tx) error {
		var err error
		inv, err = scanInvitation(tx.QueryRowContext(ctx, `
			SELECT `+invitationColumns+`
			FROM team_invitations i JOIN teams t ON t.id = i.team_id
			WHERE i.id = $1
			FOR UPDATE OF i
		`, invitationID))
		if err != nil {
			return err
		}
		if !strings.EqualFold(inv.InvitedEmail, userEmail) {
			return sql.ErrNoRows
		}
		if inv.Status != InviteStatusPending {
			return ErrInvitationClosed
		}

		inv, err = scanInvitation(tx.QueryRowContext(ctx, `
			WITH upd AS (
				UPDATE team_invitations SET status=$2, responded_at=NOW() WHERE id=$1
				RETURNING *
			)
			SELECT `+invitationColumns+`
			FROM upd i JOIN teams t ON t.id = i.team_id
		`, invitationID, InviteStatusDeclined))
		if err != nil {
			return fmt.Errorf("close invitation: %w", err)
		}
		return nil
	})
	if err != nil {
		return TeamInvitation{}, err
	}
	return inv, nil
}
