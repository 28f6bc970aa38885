package store

import "errors"

// Domain conflicts surfaced by the store layer. The app layer maps these to
// HTTP statuses; raw driver errors never cross that boundary.
var (
	ErrDuplicateName       = errors.New("name already in use")
	ErrFolderNotEmpty      = errors.New("folder is not empty")
	ErrCrossTeamMove       = errors.New("destination folder belongs to a different team")
	ErrNotPending          = errors.New("query is not awaiting approval")
	ErrNotSubmittable      = errors.New("query cannot be submitted in its current state")
	ErrStaleApproval       = errors.New("history snapshot has been superseded by a newer one")
	ErrSelfApproval        = errors.New("submitter cannot approve their own snapshot")
	ErrQueryPending        = errors.New("query is locked while awaiting approval")
	ErrDuplicateInvitation = errors.New("a pending invitation already exists for this email")
	ErrInvitationClosed    = errors.New("invitation is no longer pending")
	ErrLastAdmin           = errors.New("team must keep at least one admin")
	ErrAlreadyMember       = errors.New("user is already a team member")
)
