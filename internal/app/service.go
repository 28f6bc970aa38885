package app

import (
	"context"
	"time"

	"querydeck/api/internal/auth"
	"querydeck/api/internal/authpw"
	"querydeck/api/internal/config"
	"querydeck/api/internal/email"
	"querydeck/api/internal/gitrepo"
	"querydeck/api/internal/rbac"
	"querydeck/api/internal/search"
	"querydeck/api/internal/session"
	"querydeck/api/internal/store"
	"querydeck/api/internal/util"
)

// Session is the resolved caller for one request. The roles cache lives for
// the request only: membership lookups repeat across teams within a request
// but are never reused across requests.
type Session struct {
	Token          string
	RefreshToken   string
	UserID         string
	UserName       string
	Email          string
	PersonalTeamID string
	JTI            string
	ExpiresAt      time.Time

	roles *rbac.Cache
}

type dataStore interface {
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)

	CreateTeam(ctx context.Context, team store.Team) error
	GetTeam(ctx context.Context, teamID string) (store.Team, error)
	ListTeamsForUser(ctx context.Context, userID string) ([]store.TeamWithRole, error)
	UpdateTeam(ctx context.Context, teamID, name string, approvalQuota int) (store.Team, error)
	GetTeamRole(ctx context.Context, teamID, userID string) (string, error)
	ListTeamMembers(ctx context.Context, teamID string) ([]store.TeamMember, error)
	UpdateMemberRole(ctx context.Context, teamID, userID, role string) error
	RemoveMember(ctx context.Context, teamID, userID string) error

	CreateFolder(ctx context.Context, folder store.Folder) error
	GetFolder(ctx context.Context, folderID string) (store.Folder, error)
	ListFolders(ctx context.Context, teamID string) ([]store.Folder, error)
	DeleteFolder(ctx context.Context, folderID string) error

	CreateQuery(ctx context.Context, query store.Query) error
	GetQuery(ctx context.Context, queryID string) (store.Query, error)
	ListQueries(ctx context.Context, teamID, folderID string) ([]store.QueryListItem, error)
	UpdateQueryContent(ctx context.Context, queryID, title, description, sqlContent, editor string) (store.Query, error)
	DeleteQuery(ctx context.Context, queryID string) error
	MoveQuery(ctx context.Context, queryID, folderID, editor string) (store.Query, error)

	SubmitQuery(ctx context.Context, queryID, historyID, changeReason, submitterID, submitterEmail string) (store.QueryHistory, error)
	ApproveHistory(ctx context.Context, queryID, historyID, approverID string) (store.ApprovalOutcome, error)
	RejectHistory(ctx context.Context, queryID, historyID, reason, reviewerEmail string) (store.QueryHistory, error)
	RevertQuery(ctx context.Context, queryID, historyID, editorEmail string) (store.Query, error)
	SetHistoryCommit(ctx context.Context, historyID, commitHash string) error
	GetHistory(ctx context.Context, queryID, historyID string) (store.QueryHistory, error)
	ListHistory(ctx context.Context, queryID string) ([]store.QueryHistory, error)
	ListApprovers(ctx context.Context, historyID string) ([]string, error)
	PendingApprovals(ctx context.Context, teamID, excludeEmail string) ([]store.PendingApproval, error)

	CreateInvitation(ctx context.Context, inv store.TeamInvitation) (store.TeamInvitation, error)
	GetInvitation(ctx context.Context, invitationID string) (store.TeamInvitation, error)
	ListInvitationsForEmail(ctx context.Context, email string) ([]store.TeamInvitation, error)
	ListInvitationsForTeam(ctx context.Context, teamID string) ([]store.TeamInvitation, error)
	AcceptInvitation(ctx context.Context, invitationID, userID, userEmail string) (store.TeamInvitation, error)
	DeclineInvitation(ctx context.Context, invitationID, userEmail string) (store.TeamInvitation, error)

	Ping(ctx context.Context) error
}

type gitService interface {
	EnsureQueryRepo(queryID string, initial gitrepo.Content, author string) error
	CommitSnapshot(queryID string, content gitrepo.Content, author, message string) (gitrepo.CommitInfo, error)
	History(queryID string, limit int) ([]gitrepo.CommitInfo, error)
	GetContentByHash(queryID, hash string) (gitrepo.Content, error)
	Compare(queryID, fromHash, toHash string) (gitrepo.Comparison, error)
}

type searchService interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexQuery(record search.QueryRecord)
	DeleteQuery(id string)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions session.Store
	authpw   *authpw.Service
	email    *email.Service
	git      gitService
	search   searchService
}

func New(cfg config.Config, dataStore *store.PostgresStore, sessions session.Store, authSvc *authpw.Service, emailSvc *email.Service, gitSvc *gitrepo.Service, searchSvc *search.Service) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		authpw:   authSvc,
		email:    emailSvc,
		git:      gitSvc,
		search:   searchSvc,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// AuthPasswordService exposes the email/password auth flows to the HTTP layer.
func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

// SMTPConfigured reports whether outbound email is available.
func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

// CreateSession issues an access/refresh token pair for a signed-in user.
func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

// Refresh rotates a refresh token: the presented token is revoked and a new
// pair issued, so each refresh token works exactly once.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), user.ID, user.Email, user.DisplayName, jti, expiresAt)
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewToken()
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:          token,
		RefreshToken:   refresh,
		UserID:         user.ID,
		UserName:       user.DisplayName,
		Email:          user.Email,
		PersonalTeamID: user.PersonalTeamID,
		JTI:            jti,
		ExpiresAt:      expiresAt,
		roles:          rbac.NewCache(),
	}, nil
}

// SessionFromToken validates an access token and resolves the caller.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.ID)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Subject)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:          token,
		UserID:         user.ID,
		UserName:       user.DisplayName,
		Email:          user.Email,
		PersonalTeamID: user.PersonalTeamID,
		JTI:            claims.ID,
		ExpiresAt:      claims.ExpiresAt.Time,
		roles:          rbac.NewCache(),
	}, nil
}

// Logout revokes the access token and, when supplied, the refresh token.
func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// identCtx stamps the caller's identity onto the context so every store
// transaction below carries the row-level security marker.
func (s *Service) identCtx(ctx context.Context, session Session) context.Context {
	return store.WithIdentity(ctx, session.UserID)
}

// teamRole resolves the caller's role on a team, memoized per request.
func (s *Service) teamRole(ctx context.Context, session Session, teamID string) (rbac.Role, error) {
	if session.roles != nil {
		if role, ok := session.roles.Get(teamID); ok {
			return role, nil
		}
	}
	raw, err := s.store.GetTeamRole(s.identCtx(ctx, session), teamID, session.UserID)
	if err != nil {
		return rbac.RoleNone, err
	}
	role := rbac.Normalize(raw)
	if session.roles != nil {
		session.roles.Put(teamID, role)
	}
	return role, nil
}

// requireRole checks team membership at the given threshold. Failures are a
// uniform not-found so outsiders cannot distinguish "no access" from
// "does not exist".
func (s *Service) requireRole(ctx context.Context, session Session, teamID string, minimum rbac.Role) error {
	role, err := s.teamRole(ctx, session, teamID)
	if err != nil {
		return err
	}
	if !rbac.AtLeast(role, minimum) {
		return errNotFound()
	}
	return nil
}

func (s *Service) requireMember(ctx context.Context, session Session, teamID string) error {
	return s.requireRole(ctx, session, teamID, rbac.RoleMember)
}

func (s *Service) requireAdmin(ctx context.Context, session Session, teamID string) error {
	return s.requireRole(ctx, session, teamID, rbac.RoleAdmin)
}

// requireCreatorOrAdmin gates destructive operations: only the resource's
// creator or a team admin may proceed.
func (s *Service) requireCreatorOrAdmin(ctx context.Context, session Session, teamID, createdBy string) error {
	if createdBy == session.UserID {
		return nil
	}
	return s.requireAdmin(ctx, session, teamID)
}
