package app

import (
	"context"
	"log"
	"net/http"
	"strings"

	"querydeck/api/internal/rbac"
	"querydeck/api/internal/store"
	"querydeck/api/internal/util"
)

func teamPayload(team store.Team, role string) map[string]any {
	payload := map[string]any{
		"id":            team.ID,
		"name":          team.Name,
		"approvalQuota": team.ApprovalQuota,
		"isPersonal":    team.IsPersonal,
		"createdAt":     team.CreatedAt,
		"updatedAt":     team.UpdatedAt,
	}
	if role != "" {
		payload["role"] = role
	}
	return payload
}

func memberPayload(member store.TeamMember) map[string]any {
	return map[string]any{
		"userId":   member.UserID,
		"name":     member.UserName,
		"email":    member.UserEmail,
		"role":     member.Role,
		"joinedAt": member.CreatedAt,
	}
}

func invitationPayload(inv store.TeamInvitation) map[string]any {
	payload := map[string]any{
		"id":           inv.ID,
		"teamId":       inv.TeamID,
		"teamName":     inv.TeamName,
		"invitedEmail": inv.InvitedEmail,
		"role":         inv.Role,
		"status":       inv.Status,
		"invitedBy":    inv.InvitedBy,
		"createdAt":    inv.CreatedAt,
	}
	if inv.RespondedAt != nil {
		payload["respondedAt"] = inv.RespondedAt
	}
	return payload
}

// ListTeams returns every team the caller belongs to with their role.
func (s *Service) ListTeams(ctx context.Context, session Session) (map[string]any, error) {
	teams, err := s.store.ListTeamsForUser(s.identCtx(ctx, session), session.UserID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(teams))
	for _, team := range teams {
		items = append(items, teamPayload(team.Team, team.Role))
	}
	return map[string]any{"teams": items}, nil
}

// CreateTeam creates a shared team with the caller as its first admin.
func (s *Service) CreateTeam(ctx context.Context, session Session, name string, approvalQuota int) (map[string]any, error) {
	name = store.NormalizeTeamName(name)
	if name == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	if approvalQuota < 1 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "approvalQuota must be at least 1", nil)
	}

	team := store.Team{
		ID:            util.NewID("team"),
		Name:          name,
		ApprovalQuota: approvalQuota,
		OwnerID:       session.UserID,
	}
	if err := s.store.CreateTeam(s.identCtx(ctx, session), team); err != nil {
		return nil, translateStoreErr(err)
	}
	if session.roles != nil {
		session.roles.Put(team.ID, rbac.RoleAdmin)
	}

	created, err := s.store.GetTeam(s.identCtx(ctx, session), team.ID)
	if err != nil {
		return nil, err
	}
	return teamPayload(created, string(rbac.RoleAdmin)), nil
}

// GetTeam returns one team the caller is a member of.
func (s *Service) GetTeam(ctx context.Context, session Session, teamID string) (map[string]any, error) {
	role, err := s.teamRole(ctx, session, teamID)
	if err != nil {
		return nil, err
	}
	if !rbac.AtLeast(role, rbac.RoleMember) {
		return nil, errNotFound()
	}

	team, err := s.store.GetTeam(s.identCtx(ctx, session), teamID)
	if err != nil {
		return nil, err
	}
	return teamPayload(team, string(role)), nil
}

// UpdateTeam renames a team or changes its approval quota. Admin only. A
// quota above the member count is allowed: queries then wait until enough
// reviewers join.
func (s *Service) UpdateTeam(ctx context.Context, session Session, teamID, name string, approvalQuota int) (map[string]any, error) {
	if err := s.requireAdmin(ctx, session, teamID); err != nil {
		return nil, err
	}
	name = store.NormalizeTeamName(name)
	if name == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	if approvalQuota < 1 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "approvalQuota must be at least 1", nil)
	}

	team, err := s.store.UpdateTeam(s.identCtx(ctx, session), teamID, name, approvalQuota)
	if err != nil {
		return nil, translateStoreErr(err)
	}
	return teamPayload(team, string(rbac.RoleAdmin)), nil
}

// ListMembers returns the team roster. Any member may see it.
func (s *Service) ListMembers(ctx context.Context, session Session, teamID string) (map[string]any, error) {
	if err := s.requireMember(ctx, session, teamID); err != nil {
		return nil, err
	}
	members, err := s.store.ListTeamMembers(s.identCtx(ctx, session), teamID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(members))
	for _, member := range members {
		items = append(items, memberPayload(member))
	}
	return map[string]any{"members": items}, nil
}

// UpdateMemberRole promotes or demotes a member. Admin only; demoting the
// last admin is refused.
func (s *Service) UpdateMemberRole(ctx context.Context, session Session, teamID, userID, role string) (map[string]any, error) {
	if err := s.requireAdmin(ctx, session, teamID); err != nil {
		return nil, err
	}
	if !rbac.Valid(role) {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "role must be 'member' or 'admin'", nil)
	}

	if err := s.store.UpdateMemberRole(s.identCtx(ctx, session), teamID, userID, role); err != nil {
		return nil, translateStoreErr(err)
	}
	if session.roles != nil && userID == session.UserID {
		session.roles.Invalidate(teamID)
	}
	return map[string]any{"ok": true}, nil
}

// RemoveMember removes a member from the team. Admins can remove anyone;
// any member may remove themselves (leave). The last admin cannot go.
func (s *Service) RemoveMember(ctx context.Context, session Session, teamID, userID string) (map[string]any, error) {
	if userID == session.UserID {
		if err := s.requireMember(ctx, session, teamID); err != nil {
			return nil, err
		}
	} else if err := s.requireAdmin(ctx, session, teamID); err != nil {
		return nil, err
	}

	if err := s.store.RemoveMember(s.identCtx(ctx, session), teamID, userID); err != nil {
		return nil, translateStoreErr(err)
	}
	if session.roles != nil && userID == session.UserID {
		session.roles.Invalidate(teamID)
	}
	return map[string]any{"ok": true}, nil
}

// InviteMember creates a pending invitation and notifies the address when
// email is configured. Admin only.
func (s *Service) InviteMember(ctx context.Context, session Session, teamID, invitedEmail, role string) (map[string]any, error) {
	if err := s.requireAdmin(ctx, session, teamID); err != nil {
		return nil, err
	}
	invitedEmail = strings.TrimSpace(invitedEmail)
	if invitedEmail == "" || !strings.Contains(invitedEmail, "@") {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "a valid email is required", nil)
	}
	if role == "" {
		role = string(rbac.RoleMember)
	}
	if !rbac.Valid(role) {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "role must be 'member' or 'admin'", nil)
	}

	inv, err := s.store.CreateInvitation(s.identCtx(ctx, session), store.TeamInvitation{
		ID:           util.NewID("inv"),
		TeamID:       teamID,
		InvitedEmail: invitedEmail,
		Role:         role,
		InvitedBy:    session.UserID,
	})
	if err != nil {
		return nil, translateStoreErr(err)
	}

	if s.SMTPConfigured() {
		invitesURL := strings.TrimRight(s.cfg.AppBaseURL, "/") + "/invitations"
		go func() {
			if err := s.email.SendInvitationEmail(inv.InvitedEmail, inv.TeamName, session.UserName, inv.Role, invitesURL); err != nil {
				log.Printf("email: invitation to %s: %v", inv.InvitedEmail, err)
			}
		}()
	}

	return invitationPayload(inv), nil
}

// ListTeamInvitations lists a team's invitations, all states. Admin only.
func (s *Service) ListTeamInvitations(ctx context.Context, session Session, teamID string) (map[string]any, error) {
	if err := s.requireAdmin(ctx, session, teamID); err != nil {
		return nil, err
	}
	invitations, err := s.store.ListInvitationsForTeam(s.identCtx(ctx, session), teamID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(invitations))
	for _, inv := range invitations {
		items = append(items, invitationPayload(inv))
	}
	return map[string]any{"invitations": items}, nil
}

// ListMyInvitations returns the caller's own pending invitations.
func (s *Service) ListMyInvitations(ctx context.Context, session Session) (map[string]any, error) {
	invitations, err := s.store.ListInvitationsForEmail(s.identCtx(ctx, session), session.Email)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(invitations))
	for _, inv := range invitations {
		items = append(items, invitationPayload(inv))
	}
	return map[string]any{"invitations": items}, nil
}

// AcceptInvitation joins the caller to the inviting team.
func (s *Service) AcceptInvitation(ctx context.Context, session Session, invitationID string) (map[string]any, error) {
	inv, err := s.store.AcceptInvitation(s.identCtx(ctx, session), invitationID, session.UserID, session.Email)
	if err != nil {
		return nil, translateStoreErr(err)
	}
	if session.roles != nil {
		session.roles.Invalidate(inv.TeamID)
	}
	return invitationPayload(inv), nil
}

// DeclineInvitation declines without joining.
func (s *Service) DeclineInvitation(ctx context.Context, session Session, invitationID string) (map[string]any, error) {
	inv, err := s.store.DeclineInvitation(s.identCtx(ctx, session), invitationID, session.Email)
	if err != nil {
		return nil, translateStoreErr(err)
	}
	return invitationPayload(inv), nil
}
