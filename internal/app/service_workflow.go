package app

import (
	"context"
	"log"
	"net/http"
	"strings"

	"querydeck/api/internal/gitrepo"
	"querydeck/api/internal/store"
	"querydeck/api/internal/util"
)

func historyPayload(h store.QueryHistory) map[string]any {
	payload := map[string]any{
		"id":               h.ID,
		"queryId":          h.QueryID,
		"title":            h.Title,
		"sqlContent":       h.SQLContent,
		"changeReason":     h.ChangeReason,
		"status":           h.Status,
		"submittedBy":      h.SubmittedBy,
		"submittedByEmail": h.SubmittedByEmail,
		"createdAt":        h.CreatedAt,
	}
	if h.RejectReason != "" {
		payload["rejectReason"] = h.RejectReason
	}
	if h.CommitHash != "" {
		payload["commitHash"] = h.CommitHash
	}
	if h.DecidedAt != nil {
		payload["decidedAt"] = h.DecidedAt
	}
	return payload
}

func pendingApprovalPayload(item store.PendingApproval) map[string]any {
	return map[string]any{
		"historyId":        item.HistoryID,
		"queryId":          item.QueryID,
		"teamId":           item.TeamID,
		"folderId":         item.FolderID,
		"title":            item.Title,
		"changeReason":     item.ChangeReason,
		"submittedBy":      item.SubmittedBy,
		"submittedByEmail": item.SubmittedByEmail,
		"submittedAt":      item.SubmittedAt,
		"approvalCount":    item.ApprovalCount,
		"quota":            item.Quota,
	}
}

// SubmitQuery snapshots the query for review and mirrors the snapshot into
// git. The mirror write is best effort; the ledger row is authoritative.
func (s *Service) SubmitQuery(ctx context.Context, session Session, queryID, changeReason string) (map[string]any, error) {
	if _, err := s.memberQuery(ctx, session, queryID); err != nil {
		return nil, err
	}
	changeReason = strings.TrimSpace(changeReason)
	if changeReason == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "changeReason is required", nil)
	}

	history, err := s.store.SubmitQuery(s.identCtx(ctx, session), queryID, util.NewID("qh"), changeReason, session.UserID, session.Email)
	if err != nil {
		return nil, translateStoreErr(err)
	}

	if err := s.git.EnsureQueryRepo(queryID, gitrepo.Content{Title: history.Title, SQL: history.SQLContent}, session.UserName); err != nil {
		log.Printf("gitrepo: ensure mirror for %s: %v", queryID, err)
	} else if commit, err := s.git.CommitSnapshot(queryID, gitrepo.Content{
		Title:        history.Title,
		SQL:          history.SQLContent,
		ChangeReason: history.ChangeReason,
	}, session.UserName, changeReason); err != nil {
		log.Printf("gitrepo: mirror snapshot %s: %v", history.ID, err)
	} else {
		if err := s.store.SetHistoryCommit(s.identCtx(ctx, session), history.ID, commit.Hash); err != nil {
			log.Printf("gitrepo: record commit for %s: %v", history.ID, err)
		} else {
			history.CommitHash = commit.Hash
		}
	}

	if query, err := s.store.GetQuery(s.identCtx(ctx, session), queryID); err == nil {
		s.indexQuery(query)
	}

	return historyPayload(history), nil
}

// ApproveQuery records the caller's approval of a pending snapshot. When
// the distinct-approver count reaches the team quota the snapshot becomes
// the query's approved content.
func (s *Service) ApproveQuery(ctx context.Context, session Session, queryID, historyID string) (map[string]any, error) {
	if _, err := s.memberQuery(ctx, session, queryID); err != nil {
		return nil, err
	}

	outcome, err := s.store.ApproveHistory(s.identCtx(ctx, session), queryID, historyID, session.UserID)
	if err != nil {
		return nil, translateStoreErr(err)
	}

	if outcome.Approved {
		if query, err := s.store.GetQuery(s.identCtx(ctx, session), queryID); err == nil {
			s.indexQuery(query)
		}
	}

	return map[string]any{
		"approved":      outcome.Approved,
		"approvalCount": outcome.ApprovalCount,
		"quota":         outcome.Quota,
		"duplicate":     outcome.Duplicate,
	}, nil
}

// RejectQuery closes a pending snapshot as rejected with a reason.
func (s *Service) RejectQuery(ctx context.Context, session Session, queryID, historyID, reason string) (map[string]any, error) {
	if _, err := s.memberQuery(ctx, session, queryID); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "reason is required", nil)
	}

	history, err := s.store.RejectHistory(s.identCtx(ctx, session), queryID, historyID, reason, session.Email)
	if err != nil {
		return nil, translateStoreErr(err)
	}

	if query, err := s.store.GetQuery(s.identCtx(ctx, session), queryID); err == nil {
		s.indexQuery(query)
	}

	return historyPayload(history), nil
}

// RevertQuery copies a historical snapshot back into the query as a draft.
// The ledger is untouched; publishing the revert needs a fresh submission.
func (s *Service) RevertQuery(ctx context.Context, session Session, queryID, historyID string) (map[string]any, error) {
	if _, err := s.memberQuery(ctx, session, queryID); err != nil {
		return nil, err
	}

	reverted, err := s.store.RevertQuery(s.identCtx(ctx, session), queryID, historyID, session.Email)
	if err != nil {
		return nil, translateStoreErr(err)
	}
	s.indexQuery(reverted)
	return queryPayload(reverted), nil
}

// ListQueryHistory returns the full version ledger, newest first.
func (s *Service) ListQueryHistory(ctx context.Context, session Session, queryID string) (map[string]any, error) {
	if _, err := s.memberQuery(ctx, session, queryID); err != nil {
		return nil, err
	}
	items, err := s.store.ListHistory(s.identCtx(ctx, session), queryID)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payload = append(payload, historyPayload(item))
	}
	return map[string]any{"history": payload}, nil
}

// GetQueryHistory returns one snapshot with its approvers.
func (s *Service) GetQueryHistory(ctx context.Context, session Session, queryID, historyID string) (map[string]any, error) {
	if _, err := s.memberQuery(ctx, session, queryID); err != nil {
		return nil, err
	}
	history, err := s.store.GetHistory(s.identCtx(ctx, session), queryID, historyID)
	if err != nil {
		return nil, err
	}
	approvers, err := s.store.ListApprovers(s.identCtx(ctx, session), historyID)
	if err != nil {
		return nil, err
	}

	payload := historyPayload(history)
	payload["approvers"] = approvers
	return payload, nil
}

// CompareHistory diffs two snapshots of one query via the git mirror.
func (s *Service) CompareHistory(ctx context.Context, session Session, queryID, fromHistoryID, toHistoryID string) (map[string]any, error) {
	if _, err := s.memberQuery(ctx, session, queryID); err != nil {
		return nil, err
	}

	from, err := s.store.GetHistory(s.identCtx(ctx, session), queryID, fromHistoryID)
	if err != nil {
		return nil, err
	}
	to, err := s.store.GetHistory(s.identCtx(ctx, session), queryID, toHistoryID)
	if err != nil {
		return nil, err
	}
	if from.CommitHash == "" || to.CommitHash == "" {
		return nil, domainError(http.StatusConflict, "COMPARE_UNAVAILABLE", "One of the versions has no mirror snapshot", nil)
	}

	comparison, err := s.git.Compare(queryID, from.CommitHash, to.CommitHash)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"fromHistoryId": from.ID,
		"toHistoryId":   to.ID,
		"from":          comparison.From,
		"to":            comparison.To,
		"fields":        comparison.Fields,
		"linesAdded":    comparison.LinesAdded,
		"linesRemoved":  comparison.LinesRemoved,
	}, nil
}

// Approvals returns the caller's review queue for a team: pending snapshots
// submitted by others.
func (s *Service) Approvals(ctx context.Context, session Session, teamID string) (map[string]any, error) {
	if err := s.requireMember(ctx, session, teamID); err != nil {
		return nil, err
	}
	items, err := s.store.PendingApprovals(s.identCtx(ctx, session), teamID, session.Email)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payload = append(payload, pendingApprovalPayload(item))
	}
	return map[string]any{"approvals": payload}, nil
}
