package store

import "time"

// Query lifecycle states. History rows share the same vocabulary minus draft.
const (
	StatusDraft    = "draft"
	StatusPending  = "pending_approval"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// Invitation lifecycle states.
const (
	InviteStatusPending  = "pending"
	InviteStatusAccepted = "accepted"
	InviteStatusDeclined = "declined"
)

// MaxSQLContentLength bounds stored query bodies.
const MaxSQLContentLength = 100_000

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	PersonalTeamID        string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type Team struct {
	ID            string
	Name          string
	ApprovalQuota int
	IsPersonal    bool
	OwnerID       string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TeamWithRole annotates a team with the caller's membership role.
type TeamWithRole struct {
	Team
	Role string
}

type TeamMember struct {
	TeamID    string
	UserID    string
	Role      string
	CreatedAt time.Time
	// Joined fields for API responses
	UserName  string
	UserEmail string
}

type Folder struct {
	ID          string
	TeamID      string
	ParentID    *string
	Name        string
	Description string
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Query struct {
	ID          string
	TeamID      string
	FolderID    string
	Title       string
	Description string
	// SQLContent is the current visible content: the working copy while the
	// query is a draft, the last approved snapshot once approved.
	SQLContent string
	// DraftSQL stages an edit to an approved query until it is submitted.
	DraftSQL       *string
	Status         string
	CreatedBy      string
	LastModifiedBy string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// QueryHistory is one immutable snapshot of a query at submission time.
// Content never changes after insert; status moves pending -> approved or
// pending -> rejected exactly once.
type QueryHistory struct {
	ID               string
	QueryID          string
	Title            string
	SQLContent       string
	ChangeReason     string
	Status           string
	RejectReason     string
	SubmittedBy      string
	SubmittedByEmail string
	// CommitHash links the snapshot to its git mirror commit, "" until the
	// mirror write lands.
	CommitHash string
	CreatedAt  time.Time
	DecidedAt  *time.Time
}

type QueryApproval struct {
	HistoryID string
	UserID    string
	CreatedAt time.Time
}

// ApprovalOutcome reports the result of one approval event.
type ApprovalOutcome struct {
	Approved      bool
	ApprovalCount int
	Quota         int
	Duplicate     bool
}

// PendingApproval is a review-queue projection.
type PendingApproval struct {
	HistoryID        string
	QueryID          string
	TeamID           string
	FolderID         string
	Title            string
	ChangeReason     string
	SubmittedBy      string
	SubmittedByEmail string
	SubmittedAt      time.Time
	ApprovalCount    int
	Quota            int
}

type TeamInvitation struct {
	ID           string
	TeamID       string
	InvitedEmail string
	Role         string
	Status       string
	InvitedBy    string
	CreatedAt    time.Time
	RespondedAt  *time.Time
	// Joined fields for API responses
	TeamName string
}

// QueryListItem is the lightweight projection returned by list and search
// endpoints; sql_content is deliberately omitted to bound response size.
type QueryListItem struct {
	ID             string
	TeamID         string
	FolderID       string
	Title          string
	Description    string
	Status         string
	LastModifiedBy string
	UpdatedAt      time.Time
}
