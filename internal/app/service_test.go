package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"testing"
	"time"

	"querydeck/api/internal/config"
	"querydeck/api/internal/gitrepo"
	"querydeck/api/internal/rbac"
	"querydeck/api/internal/search"
	"querydeck/api/internal/store"
)

type fakeStore struct {
	getUserByIDFn       func(context.Context, string) (store.User, error)
	getTeamRoleFn       func(context.Context, string, string) (string, error)
	getTeamFn           func(context.Context, string) (store.Team, error)
	updateTeamFn        func(context.Context, string, string, int) (store.Team, error)
	getQueryFn          func(context.Context, string) (store.Query, error)
	getFolderFn         func(context.Context, string) (store.Folder, error)
	deleteQueryFn       func(context.Context, string) error
	deleteFolderFn      func(context.Context, string) error
	submitQueryFn       func(context.Context, string, string, string, string, string) (store.QueryHistory, error)
	approveHistoryFn    func(context.Context, string, string, string) (store.ApprovalOutcome, error)
	rejectHistoryFn     func(context.Context, string, string, string, string) (store.QueryHistory, error)
	revertQueryFn       func(context.Context, string, string, string) (store.Query, error)
	setHistoryCommitFn  func(context.Context, string, string) error
	getHistoryFn        func(context.Context, string, string) (store.QueryHistory, error)
	listHistoryFn       func(context.Context, string) ([]store.QueryHistory, error)
	listApproversFn     func(context.Context, string) ([]string, error)
	pendingApprovalsFn  func(context.Context, string, string) ([]store.PendingApproval, error)
	createInvitationFn  func(context.Context, store.TeamInvitation) (store.TeamInvitation, error)
	acceptInvitationFn  func(context.Context, string, string, string) (store.TeamInvitation, error)
	declineInvitationFn func(context.Context, string, string) (store.TeamInvitation, error)
	getInvitationFn     func(context.Context, string) (store.TeamInvitation, error)
}

func (f *fakeStore) GetUserByID(ctx context.Context, userID string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, userID)
	}
	return store.User{ID: userID, DisplayName: "Avery", Email: "avery@example.com", PersonalTeamID: "team_p"}, nil
}
func (f *fakeStore) GetUserByEmail(context.Context, string) (store.User, error) {
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) RevokeAccessToken(context.Context, string, time.Time) error  { return nil }
func (f *fakeStore) IsAccessTokenRevoked(context.Context, string) (bool, error)  { return false, nil }
func (f *fakeStore) CreateTeam(context.Context, store.Team) error                { return nil }
func (f *fakeStore) GetTeam(ctx context.Context, teamID string) (store.Team, error) {
	if f.getTeamFn != nil {
		return f.getTeamFn(ctx, teamID)
	}
	return store.Team{ID: teamID, Name: "Analytics", ApprovalQuota: 2}, nil
}
func (f *fakeStore) ListTeamsForUser(context.Context, string) ([]store.TeamWithRole, error) {
	return nil, nil
}
func (f *fakeStore) UpdateTeam(ctx context.Context, teamID, name string, approvalQuota int) (store.Team, error) {
	if f.updateTeamFn != nil {
		return f.updateTeamFn(ctx, teamID, name, approvalQuota)
	}
	return store.Team{ID: teamID, Name: name, ApprovalQuota: approvalQuota}, nil
}
func (f *fakeStore) GetTeamRole(ctx context.Context, teamID, userID string) (string, error) {
	if f.getTeamRoleFn != nil {
		return f.getTeamRoleFn(ctx, teamID, userID)
	}
	return "member", nil
}
func (f *fakeStore) ListTeamMembers(context.Context, string) ([]store.TeamMember, error) {
	return nil, nil
}
func (f *fakeStore) UpdateMemberRole(context.Context, string, string, string) error { return nil }
func (f *fakeStore) RemoveMember(context.Context, string, string) error             { return nil }
func (f *fakeStore) CreateFolder(context.Context, store.Folder) error               { return nil }
func (f *fakeStore) GetFolder(ctx context.Context, folderID string) (store.Folder, error) {
	if f.getFolderFn != nil {
		return f.getFolderFn(ctx, folderID)
	}
	return store.Folder{ID: folderID, TeamID: "team_1", Name: "Reports", CreatedBy: "usr_1"}, nil
}
func (f *fakeStore) ListFolders(context.Context, string) ([]store.Folder, error) { return nil, nil }
func (f *fakeStore) DeleteFolder(ctx context.Context, folderID string) error {
	if f.deleteFolderFn != nil {
		return f.deleteFolderFn(ctx, folderID)
	}
	return nil
}
func (f *fakeStore) CreateQuery(context.Context, store.Query) error { return nil }
func (f *fakeStore) GetQuery(ctx context.Context, queryID string) (store.Query, error) {
	if f.getQueryFn != nil {
		return f.getQueryFn(ctx, queryID)
	}
	return store.Query{ID: queryID, TeamID: "team_1", FolderID: "fld_1", Title: "Weekly actives", SQLContent: "SELECT 1", Status: store.StatusDraft, CreatedBy: "usr_1"}, nil
}
func (f *fakeStore) ListQueries(context.Context, string, string) ([]store.QueryListItem, error) {
	return nil, nil
}
func (f *fakeStore) UpdateQueryContent(context.Context, string, string, string, string, string) (store.Query, error) {
	return store.Query{}, nil
}
func (f *fakeStore) DeleteQuery(ctx context.Context, queryID string) error {
	if f.deleteQueryFn != nil {
		return f.deleteQueryFn(ctx, queryID)
	}
	return nil
}
func (f *fakeStore) MoveQuery(context.Context, string, string, string) (store.Query, error) {
	return store.Query{}, nil
}
func (f *fakeStore) SubmitQuery(ctx context.Context, queryID, historyID, changeReason, submitterID, submitterEmail string) (store.QueryHistory, error) {
	if f.submitQueryFn != nil {
		return f.submitQueryFn(ctx, queryID, historyID, changeReason, submitterID, submitterEmail)
	}
	return store.QueryHistory{
		ID:               historyID,
		QueryID:          queryID,
		Title:            "Weekly actives",
		SQLContent:       "SELECT 1",
		ChangeReason:     changeReason,
		Status:           store.StatusPending,
		SubmittedBy:      submitterID,
		SubmittedByEmail: submitterEmail,
		CreatedAt:        time.Now(),
	}, nil
}
func (f *fakeStore) ApproveHistory(ctx context.Context, queryID, historyID, approverID string) (store.ApprovalOutcome, error) {
	if f.approveHistoryFn != nil {
		return f.approveHistoryFn(ctx, queryID, historyID, approverID)
	}
	return store.ApprovalOutcome{ApprovalCount: 1, Quota: 2}, nil
}
func (f *fakeStore) RejectHistory(ctx context.Context, queryID, historyID, reason, reviewerEmail string) (store.QueryHistory, error) {
	if f.rejectHistoryFn != nil {
		return f.rejectHistoryFn(ctx, queryID, historyID, reason, reviewerEmail)
	}
	return store.QueryHistory{ID: historyID, QueryID: queryID, Status: store.StatusRejected, RejectReason: reason}, nil
}
func (f *fakeStore) RevertQuery(ctx context.Context, queryID, historyID, editorEmail string) (store.Query, error) {
	if f.revertQueryFn != nil {
		return f.revertQueryFn(ctx, queryID, historyID, editorEmail)
	}
	return store.Query{ID: queryID, TeamID: "team_1", Status: store.StatusDraft}, nil
}
func (f *fakeStore) SetHistoryCommit(ctx context.Context, historyID, commitHash string) error {
	if f.setHistoryCommitFn != nil {
		return f.setHistoryCommitFn(ctx, historyID, commitHash)
	}
	return nil
}
func (f *fakeStore) GetHistory(ctx context.Context, queryID, historyID string) (store.QueryHistory, error) {
	if f.getHistoryFn != nil {
		return f.getHistoryFn(ctx, queryID, historyID)
	}
	return store.QueryHistory{ID: historyID, QueryID: queryID, Status: store.StatusPending}, nil
}
func (f *fakeStore) ListHistory(ctx context.Context, queryID string) ([]store.QueryHistory, error) {
	if f.listHistoryFn != nil {
		return f.listHistoryFn(ctx, queryID)
	}
	return nil, nil
}
func (f *fakeStore) ListApprovers(ctx context.Context, historyID string) ([]string, error) {
	if f.listApproversFn != nil {
		return f.listApproversFn(ctx, historyID)
	}
	return nil, nil
}
func (f *fakeStore) PendingApprovals(ctx context.Context, teamID, excludeEmail string) ([]store.PendingApproval, error) {
	if f.pendingApprovalsFn != nil {
		return f.pendingApprovalsFn(ctx, teamID, excludeEmail)
	}
	return nil, nil
}
func (f *fakeStore) CreateInvitation(ctx context.Context, inv store.TeamInvitation) (store.TeamInvitation, error) {
	if f.createInvitationFn != nil {
		return f.createInvitationFn(ctx, inv)
	}
	inv.Status = store.InviteStatusPending
	return inv, nil
}
func (f *fakeStore) GetInvitation(ctx context.Context, invitationID string) (store.TeamInvitation, error) {
	if f.getInvitationFn != nil {
		return f.getInvitationFn(ctx, invitationID)
	}
	return store.TeamInvitation{}, sql.ErrNoRows
}
func (f *fakeStore) ListInvitationsForEmail(context.Context, string) ([]store.TeamInvitation, error) {
	return nil, nil
}
func (f *fakeStore) ListInvitationsForTeam(context.Context, string) ([]store.TeamInvitation, error) {
	return nil, nil
}
func (f *fakeStore) AcceptInvitation(ctx context.Context, invitationID, userID, userEmail string) (store.TeamInvitation, error) {
	if f.acceptInvitationFn != nil {
		return f.acceptInvitationFn(ctx, invitationID, userID, userEmail)
	}
	return store.TeamInvitation{ID: invitationID, Status: store.InviteStatusAccepted}, nil
}
func (f *fakeStore) DeclineInvitation(ctx context.Context, invitationID, userEmail string) (store.TeamInvitation, error) {
	if f.declineInvitationFn != nil {
		return f.declineInvitationFn(ctx, invitationID, userEmail)
	}
	return store.TeamInvitation{ID: invitationID, Status: store.InviteStatusDeclined}, nil
}
func (f *fakeStore) Ping(context.Context) error { return nil }

type fakeGit struct {
	ensureQueryRepoFn func(string, gitrepo.Content, string) error
	commitSnapshotFn  func(string, gitrepo.Content, string, string) (gitrepo.CommitInfo, error)
	compareFn         func(string, string, string) (gitrepo.Comparison, error)
}

func (f *fakeGit) EnsureQueryRepo(queryID string, initial gitrepo.Content, author string) error {
	if f.ensureQueryRepoFn != nil {
		return f.ensureQueryRepoFn(queryID, initial, author)
	}
	return nil
}
func (f *fakeGit) CommitSnapshot(queryID string, content gitrepo.Content, author, message string) (gitrepo.CommitInfo, error) {
	if f.commitSnapshotFn != nil {
		return f.commitSnapshotFn(queryID, content, author, message)
	}
	return gitrepo.CommitInfo{Hash: "abc1234", Author: author, Message: message, CreatedAt: time.Now()}, nil
}
func (f *fakeGit) History(string, int) ([]gitrepo.CommitInfo, error) { return nil, nil }
func (f *fakeGit) GetContentByHash(string, string) (gitrepo.Content, error) {
	return gitrepo.Content{}, nil
}
func (f *fakeGit) Compare(queryID, fromHash, toHash string) (gitrepo.Comparison, error) {
	if f.compareFn != nil {
		return f.compareFn(queryID, fromHash, toHash)
	}
	return gitrepo.Comparison{}, nil
}

type fakeSearch struct {
	indexed []search.QueryRecord
	deleted []string
	results search.Response
}

func (f *fakeSearch) Search(_ context.Context, q search.Query) search.Response {
	resp := f.results
	resp.Query = q.Text
	return resp
}
func (f *fakeSearch) IndexQuery(record search.QueryRecord) { f.indexed = append(f.indexed, record) }
func (f *fakeSearch) DeleteQuery(id string)                { f.deleted = append(f.deleted, id) }

type fakeSessions struct {
	saved   map[string]store.User
	revoked []string
	lookup  func(string) (store.User, error)
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{saved: make(map[string]store.User)}
}
func (f *fakeSessions) SaveRefreshSession(_ context.Context, tokenHash string, user store.User, _ time.Time) error {
	f.saved[tokenHash] = user
	return nil
}
func (f *fakeSessions) LookupRefreshSession(_ context.Context, tokenHash string) (store.User, error) {
	if f.lookup != nil {
		return f.lookup(tokenHash)
	}
	if user, ok := f.saved[tokenHash]; ok {
		return user, nil
	}
	return store.User{}, errors.New("token not found or expired")
}
func (f *fakeSessions) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	f.revoked = append(f.revoked, tokenHash)
	delete(f.saved, tokenHash)
	return nil
}

func newTestService(fs *fakeStore, fg *fakeGit, fsearch *fakeSearch) *Service {
	return &Service{
		cfg: config.Config{
			JWTSecret:  "test-secret",
			AccessTTL:  time.Minute,
			RefreshTTL: time.Hour,
		},
		store:    fs,
		sessions: newFakeSessions(),
		git:      fg,
		search:   fsearch,
	}
}

func testSession(userID, email string) Session {
	return Session{
		UserID:    userID,
		UserName:  "Avery",
		Email:     email,
		ExpiresAt: time.Now().Add(time.Minute),
		roles:     rbac.NewCache(),
	}
}

func assertDomainError(t *testing.T, err error, status int, code string) {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Status != status || domainErr.Code != code {
		t.Fatalf("error = %d %s, want %d %s", domainErr.Status, domainErr.Code, status, code)
	}
}

func TestNonMemberSeesNotFound(t *testing.T) {
	fs := &fakeStore{
		getTeamRoleFn: func(_ context.Context, _, _ string) (string, error) {
			return "", nil
		},
	}
	svc := newTestService(fs, &fakeGit{}, &fakeSearch{})

	_, err := svc.GetQuery(context.Background(), testSession("usr_1", "avery@example.com"), "qry_1")
	assertDomainError(t, err, http.StatusNotFound, "NOT_FOUND")
}

func TestSubmitQueryRequiresChangeReason(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeGit{}, &fakeSearch{})

	_, err := svc.SubmitQuery(context.Background(), testSession("usr_1", "avery@example.com"), "qry_1", "   ")
	assertDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}

func TestSubmitQueryRecordsMirrorCommit(t *testing.T) {
	var recordedHistory, recordedHash string
	fs := &fakeStore{
		setHistoryCommitFn: func(_ context.Context, historyID, commitHash string) error {
			recordedHistory = historyID
			recordedHash = commitHash
			return nil
		},
	}
	fg := &fakeGit{
		commitSnapshotFn: func(_ string, _ gitrepo.Content, author, message string) (gitrepo.CommitInfo, error) {
			return gitrepo.CommitInfo{Hash: "deadbee", Author: author, Message: message, CreatedAt: time.Now()}, nil
		},
	}
	fsearch := &fakeSearch{}
	svc := newTestService(fs, fg, fsearch)

	payload, err := svc.SubmitQuery(context.Background(), testSession("usr_1", "avery@example.com"), "qry_1", "tighten filter")
	if err != nil {
		t.Fatalf("SubmitQuery() error = %v", err)
	}
	if recordedHistory == "" || recordedHash != "deadbee" {
		t.Fatalf("mirror commit not recorded: history=%q hash=%q", recordedHistory, recordedHash)
	}
	if payload["commitHash"] != "deadbee" {
		t.Fatalf("payload commitHash = %v", payload["commitHash"])
	}
	if payload["status"] != store.StatusPending {
		t.Fatalf("payload status = %v", payload["status"])
	}
	if len(fsearch.indexed) != 1 {
		t.Fatalf("expected one reindex, got %d", len(fsearch.indexed))
	}
}

func TestSubmitQuerySurvivesMirrorFailure(t *testing.T) {
	fg := &fakeGit{
		commitSnapshotFn: func(string, gitrepo.Content, string, string) (gitrepo.CommitInfo, error) {
			return gitrepo.CommitInfo{}, errors.New("disk full")
		},
	}
	svc := newTestService(&fakeStore{}, fg, &fakeSearch{})

	payload, err := svc.SubmitQuery(context.Background(), testSession("usr_1", "avery@example.com"), "qry_1", "tighten filter")
	if err != nil {
		t.Fatalf("SubmitQuery() error = %v, want ledger write to win", err)
	}
	if _, ok := payload["commitHash"]; ok {
		t.Fatal("expected no commitHash when the mirror write fails")
	}
}

func TestApproveQueryReturnsOutcome(t *testing.T) {
	fs := &fakeStore{
		approveHistoryFn: func(_ context.Context, _, _, _ string) (store.ApprovalOutcome, error) {
			return store.ApprovalOutcome{Approved: true, ApprovalCount: 2, Quota: 2}, nil
		},
	}
	fsearch := &fakeSearch{}
	svc := newTestService(fs, &fakeGit{}, fsearch)

	payload, err := svc.ApproveQuery(context.Background(), testSession("usr_2", "blair@example.com"), "qry_1", "qh_1")
	if err != nil {
		t.Fatalf("ApproveQuery() error = %v", err)
	}
	if payload["approved"] != true || payload["approvalCount"] != 2 || payload["quota"] != 2 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if len(fsearch.indexed) != 1 {
		t.Fatalf("expected reindex after approval, got %d calls", len(fsearch.indexed))
	}
}

func TestApproveQueryBelowQuotaDoesNotReindex(t *testing.T) {
	fs := &fakeStore{
		approveHistoryFn: func(_ context.Context, _, _, _ string) (store.ApprovalOutcome, error) {
			return store.ApprovalOutcome{ApprovalCount: 1, Quota: 2}, nil
		},
	}
	fsearch := &fakeSearch{}
	svc := newTestService(fs, &fakeGit{}, fsearch)

	payload, err := svc.ApproveQuery(context.Background(), testSession("usr_2", "blair@example.com"), "qry_1", "qh_1")
	if err != nil {
		t.Fatalf("ApproveQuery() error = %v", err)
	}
	if payload["approved"] != false {
		t.Fatalf("approved = %v, want false below quota", payload["approved"])
	}
	if len(fsearch.indexed) != 0 {
		t.Fatal("expected no reindex while still pending")
	}
}

func TestApproveQueryMapsStoreConflicts(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "self approval", err: store.ErrSelfApproval, status: http.StatusUnprocessableEntity, code: "SELF_APPROVAL"},
		{name: "stale version", err: store.ErrStaleApproval, status: http.StatusConflict, code: "STALE_VERSION"},
		{name: "not pending", err: store.ErrNotPending, status: http.StatusConflict, code: "NOT_PENDING"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fs := &fakeStore{
				approveHistoryFn: func(_ context.Context, _, _, _ string) (store.ApprovalOutcome, error) {
					return store.ApprovalOutcome{}, tc.err
				},
			}
			svc := newTestService(fs, &fakeGit{}, &fakeSearch{})

			_, err := svc.ApproveQuery(context.Background(), testSession("usr_2", "blair@example.com"), "qry_1", "qh_1")
			assertDomainError(t, err, tc.status, tc.code)
		})
	}
}

func TestRejectQueryRequiresReason(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeGit{}, &fakeSearch{})

	_, err := svc.RejectQuery(context.Background(), testSession("usr_2", "blair@example.com"), "qry_1", "qh_1", "")
	assertDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}

func TestCompareHistoryRequiresMirrorCommits(t *testing.T) {
	fs := &fakeStore{
		getHistoryFn: func(_ context.Context, queryID, historyID string) (store.QueryHistory, error) {
			return store.QueryHistory{ID: historyID, QueryID: queryID}, nil
		},
	}
	svc := newTestService(fs, &fakeGit{}, &fakeSearch{})

	_, err := svc.CompareHistory(context.Background(), testSession("usr_1", "avery@example.com"), "qry_1", "qh_1", "qh_2")
	assertDomainError(t, err, http.StatusConflict, "COMPARE_UNAVAILABLE")
}

func TestCompareHistoryDiffsMirrorSnapshots(t *testing.T) {
	hashes := map[string]string{"qh_1": "aaaa111", "qh_2": "bbbb222"}
	fs := &fakeStore{
		getHistoryFn: func(_ context.Context, queryID, historyID string) (store.QueryHistory, error) {
			return store.QueryHistory{ID: historyID, QueryID: queryID, CommitHash: hashes[historyID]}, nil
		},
	}
	fg := &fakeGit{
		compareFn: func(_ string, fromHash, toHash string) (gitrepo.Comparison, error) {
			if fromHash != "aaaa111" || toHash != "bbbb222" {
				t.Fatalf("Compare called with %q -> %q", fromHash, toHash)
			}
			return gitrepo.Comparison{
				Fields:       []gitrepo.FieldDiff{{Field: "sql"}},
				LinesAdded:   3,
				LinesRemoved: 1,
			}, nil
		},
	}
	svc := newTestService(fs, fg, &fakeSearch{})

	payload, err := svc.CompareHistory(context.Background(), testSession("usr_1", "avery@example.com"), "qry_1", "qh_1", "qh_2")
	if err != nil {
		t.Fatalf("CompareHistory() error = %v", err)
	}
	if payload["fromHistoryId"] != "qh_1" || payload["toHistoryId"] != "qh_2" {
		t.Fatalf("unexpected history ids: %+v", payload)
	}
	if payload["linesAdded"] != 3 || payload["linesRemoved"] != 1 {
		t.Fatalf("unexpected line churn: %+v", payload)
	}
}

func TestApprovalsExcludesOwnSubmissions(t *testing.T) {
	fs := &fakeStore{
		pendingApprovalsFn: func(_ context.Context, teamID, excludeEmail string) ([]store.PendingApproval, error) {
			if excludeEmail != "avery@example.com" {
				t.Fatalf("excludeEmail = %q, want the caller's address", excludeEmail)
			}
			return []store.PendingApproval{{HistoryID: "qh_9", TeamID: teamID, Quota: 2}}, nil
		},
	}
	svc := newTestService(fs, &fakeGit{}, &fakeSearch{})

	payload, err := svc.Approvals(context.Background(), testSession("usr_1", "avery@example.com"), "team_1")
	if err != nil {
		t.Fatalf("Approvals() error = %v", err)
	}
	items, ok := payload["approvals"].([]map[string]any)
	if !ok || len(items) != 1 {
		t.Fatalf("unexpected approvals payload: %+v", payload)
	}
	if items[0]["historyId"] != "qh_9" {
		t.Fatalf("unexpected item: %+v", items[0])
	}
}

func TestDeleteQueryDropsSearchDocument(t *testing.T) {
	fsearch := &fakeSearch{}
	svc := newTestService(&fakeStore{}, &fakeGit{}, fsearch)

	if _, err := svc.DeleteQuery(context.Background(), testSession("usr_1", "avery@example.com"), "qry_1"); err != nil {
		t.Fatalf("DeleteQuery() error = %v", err)
	}
	if len(fsearch.deleted) != 1 || fsearch.deleted[0] != "qry_1" {
		t.Fatalf("search delete calls = %v", fsearch.deleted)
	}
}

func TestDeleteQueryRequiresCreatorOrAdmin(t *testing.T) {
	deleted := false
	fs := &fakeStore{
		getQueryFn: func(_ context.Context, queryID string) (store.Query, error) {
			return store.Query{ID: queryID, TeamID: "team_1", CreatedBy: "usr_owner", Status: store.StatusDraft}, nil
		},
		deleteQueryFn: func(context.Context, string) error {
			deleted = true
			return nil
		},
	}
	svc := newTestService(fs, &fakeGit{}, &fakeSearch{})

	_, err := svc.DeleteQuery(context.Background(), testSession("usr_2", "blair@example.com"), "qry_1")
	assertDomainError(t, err, http.StatusNotFound, "NOT_FOUND")
	if deleted {
		t.Fatal("store delete ran for a plain member who did not create the query")
	}
}

func TestDeleteQueryAllowsTeamAdmin(t *testing.T) {
	fs := &fakeStore{
		getQueryFn: func(_ context.Context, queryID string) (store.Query, error) {
			return store.Query{ID: queryID, TeamID: "team_1", CreatedBy: "usr_owner", Status: store.StatusDraft}, nil
		},
		getTeamRoleFn: func(_ context.Context, _, _ string) (string, error) {
			return "admin", nil
		},
	}
	svc := newTestService(fs, &fakeGit{}, &fakeSearch{})

	if _, err := svc.DeleteQuery(context.Background(), testSession("usr_2", "blair@example.com"), "qry_1"); err != nil {
		t.Fatalf("DeleteQuery() as admin error = %v", err)
	}
}

func TestDeleteFolderRequiresCreatorOrAdmin(t *testing.T) {
	deleted := false
	fs := &fakeStore{
		getFolderFn: func(_ context.Context, folderID string) (store.Folder, error) {
			return store.Folder{ID: folderID, TeamID: "team_1", Name: "Reports", CreatedBy: "usr_owner"}, nil
		},
		deleteFolderFn: func(context.Context, string) error {
			deleted = true
			return nil
		},
	}
	svc := newTestService(fs, &fakeGit{}, &fakeSearch{})

	_, err := svc.DeleteFolder(context.Background(), testSession("usr_2", "blair@example.com"), "fld_1")
	assertDomainError(t, err, http.StatusNotFound, "NOT_FOUND")
	if deleted {
		t.Fatal("store delete ran for a plain member who did not create the folder")
	}

	if _, err := svc.DeleteFolder(context.Background(), testSession("usr_owner", "owner@example.com"), "fld_1"); err != nil {
		t.Fatalf("DeleteFolder() as creator error = %v", err)
	}
}

func TestUpdateTeamRequiresAdmin(t *testing.T) {
	fs := &fakeStore{
		getTeamRoleFn: func(_ context.Context, _, _ string) (string, error) {
			return "member", nil
		},
	}
	svc := newTestService(fs, &fakeGit{}, &fakeSearch{})

	_, err := svc.UpdateTeam(context.Background(), testSession("usr_1", "avery@example.com"), "team_1", "Renamed", 3)
	assertDomainError(t, err, http.StatusNotFound, "NOT_FOUND")
}

func TestRefreshRotatesToken(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeGit{}, &fakeSearch{})
	sessions := svc.sessions.(*fakeSessions)

	first, err := svc.CreateSession(context.Background(), "usr_1")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if first.RefreshToken == "" {
		t.Fatal("expected a refresh token")
	}

	second, err := svc.Refresh(context.Background(), first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatal("expected refresh to rotate the token")
	}
	if len(sessions.revoked) != 1 {
		t.Fatalf("expected the presented token to be revoked, got %v", sessions.revoked)
	}

	if _, err := svc.Refresh(context.Background(), first.RefreshToken); err == nil {
		t.Fatal("expected the old refresh token to be unusable")
	}
}

func TestSessionFromTokenRejectsRevokedJTI(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeGit{}, &fakeSearch{})

	created, err := svc.CreateSession(context.Background(), "usr_1")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if _, err := svc.SessionFromToken(context.Background(), created.Token); err != nil {
		t.Fatalf("SessionFromToken() error = %v", err)
	}

	revoked := &fakeStore{}
	svc.store = &revokedTokenStore{fakeStore: revoked}
	if _, err := svc.SessionFromToken(context.Background(), created.Token); err == nil {
		t.Fatal("expected revoked access token to be rejected")
	}
}

type revokedTokenStore struct {
	*fakeStore
}

func (s *revokedTokenStore) IsAccessTokenRevoked(context.Context, string) (bool, error) {
	return true, nil
}
