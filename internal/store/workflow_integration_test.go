package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// The tests in this file run against a real PostgreSQL instance and are
// skipped unless QUERYDECK_TEST_DATABASE_URL is set. Each test resets the
// public schema and reapplies the migrations, so point it at a throwaway
// database.

type reviewFixture struct {
	store *PostgresStore

	teamID   string
	folderID string
	queryID  string

	ownerID    string
	ownerEmail string
	memberB    string
	memberC    string
}

func setupIntegrationStore(t *testing.T) *PostgresStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	dsn := strings.TrimSpace(os.Getenv("QUERYDECK_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("QUERYDECK_TEST_DATABASE_URL is not set")
	}

	ctx := context.Background()
	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	migrationsDir := filepath.Join("..", "..", "db", "migrations")
	if err := ApplyMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return NewPostgresStore(db)
}

func seedUser(t *testing.T, ctx context.Context, s *PostgresStore, id, name, email string) {
	t.Helper()
	err := s.CreateUser(ctx, User{
		ID:              id,
		DisplayName:     name,
		Email:           email,
		PasswordHash:    "x",
		IsEmailVerified: true,
	}, Team{
		ID:            "per_" + id,
		Name:          name + "'s Workspace",
		ApprovalQuota: 1,
	})
	if err != nil {
		t.Fatalf("seed user %s: %v", id, err)
	}
}

// seedReviewTeam builds a three-person team with one draft query: the owner
// (admin) plus two plain members to act as reviewers.
func seedReviewTeam(t *testing.T, ctx context.Context, s *PostgresStore, quota int) reviewFixture {
	t.Helper()
	fx := reviewFixture{
		store:      s,
		teamID:     "team_it",
		folderID:   "fld_it",
		queryID:    "qry_it",
		ownerID:    "usr_it_a",
		ownerEmail: "ana@example.com",
		memberB:    "usr_it_b",
		memberC:    "usr_it_c",
	}

	seedUser(t, ctx, s, fx.ownerID, "Ana", fx.ownerEmail)
	seedUser(t, ctx, s, fx.memberB, "Ben", "ben@example.com")
	seedUser(t, ctx, s, fx.memberC, "Cam", "cam@example.com")

	if err := s.CreateTeam(ctx, Team{ID: fx.teamID, Name: "Analytics", ApprovalQuota: quota, OwnerID: fx.ownerID}); err != nil {
		t.Fatalf("seed team: %v", err)
	}
	for _, userID := range []string{fx.memberB, fx.memberC} {
		if _, err := s.DB().ExecContext(ctx, `
			INSERT INTO team_members (team_id, user_id, role) VALUES ($1, $2, 'member')
		`, fx.teamID, userID); err != nil {
			t.Fatalf("seed membership %s: %v", userID, err)
		}
	}

	if err := s.CreateFolder(ctx, Folder{ID: fx.folderID, TeamID: fx.teamID, Name: "Reports", CreatedBy: fx.ownerID}); err != nil {
		t.Fatalf("seed folder: %v", err)
	}
	if err := s.CreateQuery(ctx, Query{
		ID:             fx.queryID,
		TeamID:         fx.teamID,
		FolderID:       fx.folderID,
		Title:          "Weekly revenue",
		SQLContent:     "SELECT 1",
		CreatedBy:      fx.ownerID,
		LastModifiedBy: fx.ownerEmail,
	}); err != nil {
		t.Fatalf("seed query: %v", err)
	}
	return fx
}

func (fx reviewFixture) submit(t *testing.T, ctx context.Context, historyID, reason string) QueryHistory {
	t.Helper()
	history, err := fx.store.SubmitQuery(ctx, fx.queryID, historyID, reason, fx.ownerID, fx.ownerEmail)
	if err != nil {
		t.Fatalf("submit %s: %v", historyID, err)
	}
	return history
}

func TestApproveHistoryConcurrentApproversCrossQuotaOnce(t *testing.T) {
	s := setupIntegrationStore(t)
	ctx := context.Background()
	fx := seedReviewTeam(t, ctx, s, 2)
	fx.submit(t, ctx, "qh_it_1", "initial review")

	outcomes := make([]ApprovalOutcome, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, approver := range []string{fx.memberB, fx.memberC} {
		wg.Add(1)
		go func(i int, approver string) {
			defer wg.Done()
			outcomes[i], errs[i] = s.ApproveHistory(ctx, fx.queryID, "qh_it_1", approver)
		}(i, approver)
	}
	wg.Wait()

	approvals := 0
	for i := range outcomes {
		if errs[i] != nil {
			t.Fatalf("approver %d error = %v", i, errs[i])
		}
		if outcomes[i].Approved {
			approvals++
		}
	}
	if approvals != 1 {
		t.Fatalf("approved outcomes = %d, want exactly 1", approvals)
	}

	query, err := s.GetQuery(ctx, fx.queryID)
	if err != nil {
		t.Fatalf("get query: %v", err)
	}
	if query.Status != StatusApproved {
		t.Fatalf("query status = %q, want approved", query.Status)
	}
	history, err := s.GetHistory(ctx, fx.queryID, "qh_it_1")
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	if history.Status != StatusApproved || history.DecidedAt == nil {
		t.Fatalf("history = %q decided_at %v", history.Status, history.DecidedAt)
	}
}

func TestApproveHistoryCountsDistinctApproversOnce(t *testing.T) {
	s := setupIntegrationStore(t)
	ctx := context.Background()
	fx := seedReviewTeam(t, ctx, s, 2)
	fx.submit(t, ctx, "qh_it_1", "initial review")

	first, err := s.ApproveHistory(ctx, fx.queryID, "qh_it_1", fx.memberB)
	if err != nil {
		t.Fatalf("first approval: %v", err)
	}
	if first.Duplicate || first.ApprovalCount != 1 || first.Approved {
		t.Fatalf("first outcome = %+v", first)
	}

	second, err := s.ApproveHistory(ctx, fx.queryID, "qh_it_1", fx.memberB)
	if err != nil {
		t.Fatalf("repeat approval: %v", err)
	}
	if !second.Duplicate || second.ApprovalCount != 1 || second.Approved {
		t.Fatalf("repeat outcome = %+v", second)
	}

	query, err := s.GetQuery(ctx, fx.queryID)
	if err != nil {
		t.Fatalf("get query: %v", err)
	}
	if query.Status != StatusPending {
		t.Fatalf("query status = %q, want still pending", query.Status)
	}
}

func TestApproveHistoryReadsQuotaAtDecisionTime(t *testing.T) {
	s := setupIntegrationStore(t)
	ctx := context.Background()
	fx := seedReviewTeam(t, ctx, s, 3)
	fx.submit(t, ctx, "qh_it_1", "initial review")

	if _, err := s.UpdateTeam(ctx, fx.teamID, "Analytics", 1); err != nil {
		t.Fatalf("lower quota: %v", err)
	}

	outcome, err := s.ApproveHistory(ctx, fx.queryID, "qh_it_1", fx.memberB)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if !outcome.Approved || outcome.Quota != 1 {
		t.Fatalf("outcome = %+v, want approval against the lowered quota", outcome)
	}
}

func TestDecidedSnapshotRefusesFurtherDecisions(t *testing.T) {
	s := setupIntegrationStore(t)
	ctx := context.Background()
	fx := seedReviewTeam(t, ctx, s, 1)
	fx.submit(t, ctx, "qh_it_1", "initial review")

	if _, err := s.ApproveHistory(ctx, fx.queryID, "qh_it_1", fx.memberB); err != nil {
		t.Fatalf("approve: %v", err)
	}
	before, err := s.GetHistory(ctx, fx.queryID, "qh_it_1")
	if err != nil {
		t.Fatalf("get history: %v", err)
	}

	if _, err := s.ApproveHistory(ctx, fx.queryID, "qh_it_1", fx.memberC); !errors.Is(err, ErrNotPending) {
		t.Fatalf("approve decided snapshot error = %v, want ErrNotPending", err)
	}
	if _, err := s.RejectHistory(ctx, fx.queryID, "qh_it_1", "too late", "cam@example.com"); !errors.Is(err, ErrNotPending) {
		t.Fatalf("reject decided snapshot error = %v, want ErrNotPending", err)
	}

	after, err := s.GetHistory(ctx, fx.queryID, "qh_it_1")
	if err != nil {
		t.Fatalf("reread history: %v", err)
	}
	if after.Status != before.Status || after.SQLContent != before.SQLContent || after.RejectReason != before.RejectReason {
		t.Fatalf("decided ledger row changed: before %+v after %+v", before, after)
	}
	if after.DecidedAt == nil || !after.DecidedAt.Equal(*before.DecidedAt) {
		t.Fatalf("decided_at changed: before %v after %v", before.DecidedAt, after.DecidedAt)
	}
}

func TestApprovingSupersededSnapshotReportsStale(t *testing.T) {
	s := setupIntegrationStore(t)
	ctx := context.Background()
	fx := seedReviewTeam(t, ctx, s, 1)
	fx.submit(t, ctx, "qh_it_1", "initial review")

	if _, err := s.RejectHistory(ctx, fx.queryID, "qh_it_1", "needs a filter", "ben@example.com"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	fx.submit(t, ctx, "qh_it_2", "added the filter")

	if _, err := s.ApproveHistory(ctx, fx.queryID, "qh_it_1", fx.memberB); !errors.Is(err, ErrStaleApproval) {
		t.Fatalf("approve superseded snapshot error = %v, want ErrStaleApproval", err)
	}
}

func TestAcceptInvitationGrantsMembershipAtomically(t *testing.T) {
	s := setupIntegrationStore(t)
	ctx := context.Background()
	fx := seedReviewTeam(t, ctx, s, 2)
	seedUser(t, ctx, s, "usr_it_d", "Dee", "dee@example.com")

	inv, err := s.CreateInvitation(ctx, TeamInvitation{
		ID:           "inv_it_1",
		TeamID:       fx.teamID,
		InvitedEmail: "dee@example.com",
		Role:         "member",
		InvitedBy:    fx.ownerID,
	})
	if err != nil {
		t.Fatalf("create invitation: %v", err)
	}

	accepted, err := s.AcceptInvitation(ctx, inv.ID, "usr_it_d", "dee@example.com")
	if err != nil {
		t.Fatalf("accept invitation: %v", err)
	}
	if accepted.Status != InviteStatusAccepted || accepted.RespondedAt == nil {
		t.Fatalf("accepted = %+v", accepted)
	}

	role, err := s.GetTeamRole(ctx, fx.teamID, "usr_it_d")
	if err != nil {
		t.Fatalf("get role: %v", err)
	}
	if role != "member" {
		t.Fatalf("role = %q, want member", role)
	}

	if _, err := s.AcceptInvitation(ctx, inv.ID, "usr_it_d", "dee@example.com"); !errors.Is(err, ErrInvitationClosed) {
		t.Fatalf("second accept error = %v, want ErrInvitationClosed", err)
	}
}

func TestFolderNamesConflictCaseInsensitively(t *testing.T) {
	s := setupIntegrationStore(t)
	ctx := context.Background()
	fx := seedReviewTeam(t, ctx, s, 2)

	if err := s.CreateFolder(ctx, Folder{ID: "fld_it_q", TeamID: fx.teamID, Name: "Quarterly", CreatedBy: fx.ownerID}); err != nil {
		t.Fatalf("create folder: %v", err)
	}
	err := s.CreateFolder(ctx, Folder{ID: "fld_it_q2", TeamID: fx.teamID, Name: "quarterly", CreatedBy: fx.ownerID})
	if !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("case-variant sibling error = %v, want ErrDuplicateName", err)
	}
}

func TestSearchQueriesMatchesSubstringsNewestFirst(t *testing.T) {
	s := setupIntegrationStore(t)
	ctx := context.Background()
	fx := seedReviewTeam(t, ctx, s, 2)

	if err := s.CreateQuery(ctx, Query{
		ID:             "qry_it_2",
		TeamID:         fx.teamID,
		FolderID:       fx.folderID,
		Title:          "revenue_daily rollup",
		SQLContent:     "SELECT * FROM revenue_daily",
		CreatedBy:      fx.ownerID,
		LastModifiedBy: fx.ownerEmail,
	}); err != nil {
		t.Fatalf("seed second query: %v", err)
	}

	// Bump the first query so recency ordering is observable.
	if _, err := s.UpdateQueryContent(ctx, fx.queryID, "Weekly revenue", "", "SELECT 2", fx.ownerEmail); err != nil {
		t.Fatalf("touch first query: %v", err)
	}

	// "VENUE" is a substring of "revenue" in a different case; stemming alone
	// would never match it.
	hits, total, err := s.SearchQueries(ctx, "VENUE", fx.teamID, "", 10, 0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if total != 2 || len(hits) != 2 {
		t.Fatalf("total = %d hits = %d, want 2 and 2", total, len(hits))
	}
	if hits[0].ID != fx.queryID || hits[1].ID != "qry_it_2" {
		t.Fatalf("hit order = [%s %s], want most recently updated first", hits[0].ID, hits[1].ID)
	}
}
