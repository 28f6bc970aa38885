package app

import (
	"errors"
	"fmt"
	"net/http"

	"querydeck/api/internal/store"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// errNotFound is the uniform response for both missing resources and
// resources outside the caller's teams. The two cases are indistinguishable
// on purpose: a 403 would confirm the resource exists.
func errNotFound() *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// translateStoreErr maps store sentinels onto domain errors. Anything not
// recognized passes through for mapError's generic handling.
func translateStoreErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrDuplicateName):
		return domainError(http.StatusConflict, "DUPLICATE_NAME", "A folder with this name already exists here", nil)
	case errors.Is(err, store.ErrFolderNotEmpty):
		return domainError(http.StatusConflict, "FOLDER_NOT_EMPTY", "Folder still contains subfolders or queries", nil)
	case errors.Is(err, store.ErrCrossTeamMove):
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Destination folder belongs to a different team", nil)
	case errors.Is(err, store.ErrNotPending):
		return domainError(http.StatusConflict, "NOT_PENDING", "This version is not awaiting approval", nil)
	case errors.Is(err, store.ErrNotSubmittable):
		return domainError(http.StatusConflict, "NOT_SUBMITTABLE", "Query cannot be submitted in its current state", nil)
	case errors.Is(err, store.ErrStaleApproval):
		return domainError(http.StatusConflict, "STALE_VERSION", "This version has been superseded by a newer submission", nil)
	case errors.Is(err, store.ErrSelfApproval):
		return domainError(http.StatusUnprocessableEntity, "SELF_APPROVAL", "You cannot approve your own submission", nil)
	case errors.Is(err, store.ErrQueryPending):
		return domainError(http.StatusConflict, "QUERY_PENDING", "Query is locked while awaiting approval", nil)
	case errors.Is(err, store.ErrDuplicateInvitation):
		return domainError(http.StatusConflict, "DUPLICATE_INVITATION", "A pending invitation already exists for this email", nil)
	case errors.Is(err, store.ErrInvitationClosed):
		return domainError(http.StatusConflict, "INVITATION_CLOSED", "Invitation has already been responded to", nil)
	case errors.Is(err, store.ErrLastAdmin):
		return domainError(http.StatusConflict, "LAST_ADMIN", "A team must keep at least one admin", nil)
	case errors.Is(err, store.ErrAlreadyMember):
		return domainError(http.StatusConflict, "ALREADY_MEMBER", "User is already a member of this team", nil)
	default:
		return err
	}
}
