package store

import (
	"context"
	"database/sql"
	"fmt"
)

const historyColumns = `id, query_id, title, sql_content, change_reason, status, reject_reason, submitted_by, submitted_by_email, commit_hash, created_at, decided_at`

func scanHistory(row interface{ Scan(...any) error }) (QueryHistory, error) {
	var h QueryHistory
	err := row.Scan(
		&h.ID,
		&h.QueryID,
		&h.Title,
		&h.SQLContent,
		&h.ChangeReason,
		&h.Status,
		&h.RejectReason,
		&h.SubmittedBy,
		&h.SubmittedByEmail,
		&h.CommitHash,
		&h.CreatedAt,
		&h.DecidedAt,
	)
	return h, err
}

// SubmitQuery snapshots the query's working content into a new pending
// history row and moves the query to pending_approval. Approvals always
// attach to the new snapshot, so a resubmission implicitly clears any
// approvals gathered on an earlier one.
func (s *PostgresStore) SubmitQuery(ctx context.Context, queryID, historyID, changeReason, submitterID, submitterEmail string) (QueryHistory, error) {
	var history QueryHistory
	err := s.write(ctx, func(tx *sql.Tx) error {
		current, err := scanQuery(tx.QueryRowContext(ctx, `SELECT `+queryColumns+` FROM queries WHERE id=$1 FOR UPDATE`, queryID))
		if err != nil {
			return err
		}
		if current.Status != StatusDraft && current.Status != StatusApproved {
			return ErrNotSubmittable
		}

		content := current.SQLContent
		if current.Status == StatusApproved && current.DraftSQL != nil {
			content = *current.DraftSQL
		}

		history, err = scanHistory(tx.QueryRowContext(ctx, `
			INSERT INTO query_history (id, query_id, title, sql_content, change_reason, status, submitted_by, submitted_by_email)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING `+historyColumns,
			historyID, queryID, current.Title, content, changeReason, StatusPending, submitterID, submitterEmail))
		if err != nil {
			return fmt.Errorf("insert history snapshot: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE queries
			SET status=$2, last_modified_by=$3, updated_at=NOW()
			WHERE id=$1
		`, queryID, StatusPending, submitterEmail); err != nil {
			return fmt.Errorf("mark query pending: %w", err)
		}
		return nil
	})
	if err != nil {
		return QueryHistory{}, err
	}
	return history, nil
}

// ApproveHistory records one reviewer's approval of a pending snapshot and,
// when the distinct-approver count reaches the team's quota, performs the
// approved transition. The history row is locked for the whole evaluation so
// concurrent approvals racing across the threshold are linearized: exactly
// one of them observes the crossing. The quota is read here, at approval
// time, never from a value captured at submission.
func (s *PostgresStore) ApproveHistory(ctx context.Context, queryID, historyID, approverID string) (ApprovalOutcome, error) {
	var outcome ApprovalOutcome
	err := s.write(ctx, func(tx *sql.Tx) error {
		history, err := scanHistory(tx.QueryRowContext(ctx, `SELECT `+historyColumns+` FROM query_history WHERE id=$1 FOR UPDATE`, historyID))
		if err != nil {
			return err
		}
		if history.QueryID != queryID {
			return sql.ErrNoRows
		}
		if history.Status != StatusPending {
			// A decided snapshot with a newer sibling means the caller acted
			// on an outdated view of the ledger; surface that as stale rather
			// than not-pending.
			var superseded bool
			if err := tx.QueryRowContext(ctx, `
				SELECT EXISTS (
					SELECT 1 FROM query_history
					WHERE query_id=$1 AND (created_at, id) > ($2, $3)
				)
			`, queryID, history.CreatedAt, history.ID).Scan(&superseded); err != nil {
				return fmt.Errorf("check newer snapshots: %w", err)
			}
			if superseded {
				return ErrStaleApproval
			}
			return ErrNotPending
		}

		if history.SubmittedBy == approverID {
			return ErrSelfApproval
		}

		result, err := tx.ExecContext(ctx, `
			INSERT INTO query_approvals (history_id, user_id)
			VALUES ($1, $2)
			ON CONFLICT (history_id, user_id) DO NOTHING
		`, historyID, approverID)
		if err != nil {
			return fmt.Errorf("insert approval: %w", err)
		}
		inserted, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("insert approval rows: %w", err)
		}
		outcome.Duplicate = inserted == 0

		if err := tx.QueryRowContext(ctx, `
			SELECT COUNT(DISTINCT user_id) FROM query_approvals WHERE history_id=$1
		`, historyID).Scan(&outcome.ApprovalCount); err != nil {
			return fmt.Errorf("count approvers: %w", err)
		}

		if err := tx.QueryRowContext(ctx, `
			SELECT t.approval_quota
			FROM teams t
			JOIN queries q ON q.team_id = t.id
			WHERE q.id=$1
		`, queryID).Scan(&outcome.Quota); err != nil {
			return fmt.Errorf("read approval quota: %w", err)
		}

		if outcome.ApprovalCount < outcome.Quota {
			return nil
		}

		// Quota reached: promote the snapshot to the query's authoritative
		// content and close out the history row.
		if _, err := tx.ExecContext(ctx, `
			UPDATE query_history SET status=$2, decided_at=NOW() WHERE id=$1
		`, historyID, StatusApproved); err != nil {
			return fmt.Errorf("mark snapshot approved: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE queries
			SET status=$2, title=$3, sql_content=$4, draft_sql=NULL, updated_at=NOW()
			WHERE id=$1
		`, queryID, StatusApproved, history.Title, history.SQLContent); err != nil {
			return fmt.Errorf("promote approved content: %w", err)
		}
		outcome.Approved = true
		return nil
	})
	if err != nil {
		return ApprovalOutcome{}, err
	}
	return outcome, nil
}

// RejectHistory closes a pending snapshot as rejected and returns the query
// to draft. The rejected row stays in the ledger untouched thereafter; the
// submitter keeps the submitted content as their working copy to iterate on.
func (s *PostgresStore) RejectHistory(ctx context.Context, queryID, historyID, reason, reviewerEmail string) (QueryHistory, error) {
	var history QueryHistory
	err := s.write(ctx, func(tx *sql.Tx) error {
		var err error
		history, err = scanHistory(tx.QueryRowContext(ctx, `SELECT `+historyColumns+` FROM query_history WHERE id=$1 FOR UPDATE`, historyID))
		if err != nil {
			return err
		}
		if history.QueryID != queryID {
			return sql.ErrNoRows
		}
		if history.Status != StatusPending {
			return ErrNotPending
		}

		history, err = scanHistory(tx.QueryRowContext(ctx, `
			UPDATE query_history
			SET status=$2, reject_reason=$3, decided_at=NOW()
			WHERE id=$1
			RETURNING `+historyColumns, historyID, StatusRejected, reason))
		if err != nil {
			return fmt.Errorf("mark snapshot rejected: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE queries
			SET status=$2,
				sql_content=$3,
				draft_sql=NULL,
				last_modified_by=$4,
				updated_at=NOW()
			WHERE id=$1
		`, queryID, StatusDraft, history.SQLContent, reviewerEmail); err != nil {
			return fmt.Errorf("return query to draft: %w", err)
		}
		return nil
	})
	if err != nil {
		return QueryHistory{}, err
	}
	return history, nil
}

// RevertQuery copies a historical snapshot's content into the live query as
// a fresh draft. The snapshot itself is read-only and stays untouched.
func (s *PostgresStore) RevertQuery(ctx context.Context, queryID, historyID, editorEmail string) (Query, error) {
	var reverted Query
	err := s.write(ctx, func(tx *sql.Tx) error {
		current, err := scanQuery(tx.QueryRowContext(ctx, `SELECT `+queryColumns+` FROM queries WHERE id=$1 FOR UPDATE`, queryID))
		if err != nil {
			return err
		}
		if current.Status == StatusPending {
			return ErrQueryPending
		}

		history, err := scanHistory(tx.QueryRowContext(ctx, `SELECT `+historyColumns+` FROM query_history WHERE id=$1`, historyID))
		if err != nil {
			return err
		}
		if history.QueryID != queryID {
			return sql.ErrNoRows
		}

		reverted, err = scanQuery(tx.QueryRowContext(ctx, `
			UPDATE queries
			SET status=$2, title=$3, sql_content=$4, draft_sql=NULL, last_modified_by=$5, updated_at=NOW()
			WHERE id=$1
			RETURNING `+queryColumns, queryID, StatusDraft, history.Title, history.SQLContent, editorEmail))
		return err
	})
	if err != nil {
		return Query{}, err
	}
	return reverted, nil
}

// SetHistoryCommit records the git mirror commit backing a snapshot. Best
// effort caller side: the ledger row is authoritative without it.
func (s *PostgresStore) SetHistoryCommit(ctx context.Context, historyID, commitHash string) error {
	return s.write(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE query_history SET commit_hash=$2 WHERE id=$1
		`, historyID, commitHash); err != nil {
			return fmt.Errorf("set history commit: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) GetHistory(ctx context.Context, queryID, historyID string) (QueryHistory, error) {
	var history QueryHistory
	err := s.read(ctx, func(tx *sql.Tx) error {
		var err error
		history, err = scanHistory(tx.QueryRowContext(ctx, `
			SELECT `+historyColumns+` FROM query_history WHERE id=$1 AND query_id=$2
		`, historyID, queryID))
		return err
	})
	if err != nil {
		return QueryHistory{}, err
	}
	return history, nil
}

// ListHistory returns a query's full version ledger, newest first.
func (s *PostgresStore) ListHistory(ctx context.Context, queryID string) ([]QueryHistory, error) {
	items := make([]QueryHistory, 0)
	err := s.read(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT `+historyColumns+`
			FROM query_history
			WHERE query_id=$1
			ORDER BY created_at DESC, id DESC
		`, queryID)
		if err != nil {
			return fmt.Errorf("list history: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			item, err := scanHistory(rows)
			if err != nil {
				return fmt.Errorf("scan history: %w", err)
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

// ListApprovers returns the distinct user ids that approved a snapshot.
func (s *PostgresStore) ListApprovers(ctx context.Context, historyID string) ([]string, error) {
	approvers := make([]string, 0)
	err := s.read(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT user_id FROM query_approvals WHERE history_id=$1 ORDER BY created_at ASC
		`, historyID)
		if err != nil {
			return fmt.Errorf("list approvers: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var userID string
			if err := rows.Scan(&userID); err != nil {
				return fmt.Errorf("scan approver: %w", err)
			}
			approvers = append(approvers, userID)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return approvers, nil
}

// PendingApprovals lists the team's review queue, optionally excluding
// snapshots submitted by excludeEmail so reviewers do not see their own.
func (s *PostgresStore) PendingApprovals(ctx context.Context, teamID, excludeEmail string) ([]PendingApproval, error) {
	items := make([]PendingApproval, 0)
	err := s.read(ctx, func(tx *sql.Tx) error {
		sqlText := `
			SELECT h.id, h.query_id, q.team_id, q.folder_id, h.title, h.change_reason,
				h.submitted_by, h.submitted_by_email, h.created_at,
				(SELECT COUNT(DISTINCT a.user_id) FROM query_approvals a WHERE a.history_id = h.id),
				t.approval_quota
			FROM query_history h
			JOIN queries q ON q.id = h.query_id
			JOIN teams t ON t.id = q.team_id
			WHERE q.team_id = $1 AND h.status = $2`
		args := []any{teamID, StatusPending}
		if excludeEmail != "" {
			sqlText += ` AND lower(h.submitted_by_email) <> lower($3)`
			args = append(args, excludeEmail)
		}
		sqlText += ` ORDER BY h.created_at DESC, h.id`

		rows, err := tx.QueryContext(ctx, sqlText, args...)
		if err != nil {
			return fmt.Errorf("list pending approvals: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var item PendingApproval
			if err := rows.Scan(
				&item.HistoryID,
				&item.QueryID,
				&item.TeamID,
				&item.FolderID,
				&item.Title,
				&item.ChangeReason,
				&item.SubmittedBy,
				&item.SubmittedByEmail,
				&item.SubmittedAt,
				&item.ApprovalCount,
				&item.Quota,
			); err != nil {
				return fmt.Errorf("scan pending approval: %w", err)
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
