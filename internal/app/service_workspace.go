package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"ideahive/api/internal/rbac"
	"ideahive/api/internal/store"
	"ideahive/api/internal/util"
)

const invitationTTL = 7 * 24 * time.Hour

// CreateWorkspace creates a workspace with the caller as its OWNER.
func (s *Service) CreateWorkspace(ctx context.Context, session Session, name, icon string) (store.Workspace, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Workspace{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}

	workspace := store.Workspace{
		ID:        util.NewID("ws"),
		Name:      name,
		Slug:      slugify(name),
		Icon:      icon,
		CreatedBy: session.UserID,
	}
	if err := s.store.InsertWorkspace(ctx, workspace); err != nil {
		return store.Workspace{}, fmt.Errorf("insert workspace: %w", err)
	}
	if err := s.store.UpsertMembership(ctx, workspace.ID, session.UserID, string(rbac.RoleOwner)); err != nil {
		return store.Workspace{}, fmt.Errorf("create owner membership: %w", err)
	}
	return workspace, nil
}

func (s *Service) ListWorkspaces(ctx context.Context, userID string) ([]store.Workspace, error) {
	return s.store.ListWorkspacesForUser(ctx, userID)
}

// GetWorkspace returns a workspace along with the caller's role in it.
func (s *Service) GetWorkspace(ctx context.Context, workspaceID, userID string) (store.Workspace, rbac.Role, error) {
	role, err := s.workspaceRole(ctx, workspaceID, userID)
	if err != nil {
		return store.Workspace{}, rbac.RoleNone, err
	}
	if !rbac.Can(role, rbac.ActionRead) {
		return store.Workspace{}, rbac.RoleNone, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	workspace, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return store.Workspace{}, rbac.RoleNone, err
	}
	return workspace, role, nil
}

func (s *Service) UpdateWorkspace(ctx context.Context, session Session, workspaceID, name, icon string) (store.Workspace, error) {
	role, err := s.workspaceRole(ctx, workspaceID, session.UserID)
	if err != nil {
		return store.Workspace{}, err
	}
	if !rbac.Can(role, rbac.ActionManage) {
		return store.Workspace{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Workspace{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	if err := s.store.UpdateWorkspace(ctx, workspaceID, name, icon); err != nil {
		return store.Workspace{}, err
	}
	return s.store.GetWorkspace(ctx, workspaceID)
}

// DeleteWorkspace destroys a workspace and every page in it, including the
// document-store records and search entries of each page.
func (s *Service) DeleteWorkspace(ctx context.Context, session Session, workspaceID string) error {
	role, err := s.workspaceRole(ctx, workspaceID, session.UserID)
	if err != nil {
		return err
	}
	if !rbac.Can(role, rbac.ActionDestroy) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Only the owner can delete a workspace", nil)
	}

	pages, err := s.store.ListPagesByWorkspace(ctx, workspaceID)
	if err != nil {
		return err
	}
	for _, page := range pages {
		if err := s.engine.PurgePage(ctx, page.ID); err != nil {
			return fmt.Errorf("purge page %s: %w", page.ID, err)
		}
		s.deindexPage(page.ID)
	}
	return s.store.DeleteWorkspace(ctx, workspaceID)
}

func (s *Service) ListMembers(ctx context.Context, workspaceID, userID string) ([]store.Membership, error) {
	role, err := s.workspaceRole(ctx, workspaceID, userID)
	if err != nil {
		return nil, err
	}
	if !rbac.Can(role, rbac.ActionRead) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	return s.store.ListMembers(ctx, workspaceID)
}

// UpdateMemberRole changes a member's role. The workspace must keep at least
// one OWNER at all times.
func (s *Service) UpdateMemberRole(ctx context.Context, session Session, workspaceID, memberID, newRole string) error {
	role, err := s.workspaceRole(ctx, workspaceID, session.UserID)
	if err != nil {
		return err
	}
	if !rbac.Can(role, rbac.ActionManage) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	if !rbac.Valid(newRole) {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown role", map[string]any{"role": newRole})
	}

	current, err := s.store.GetMembershipRole(ctx, workspaceID, memberID)
	if errors.Is(err, sql.ErrNoRows) {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Member not found", nil)
	}
	if err != nil {
		return err
	}
	if rbac.Role(current) == rbac.RoleOwner && rbac.Role(newRole) != rbac.RoleOwner {
		owners, err := s.store.CountOwners(ctx, workspaceID)
		if err != nil {
			return err
		}
		if owners <= 1 {
			return domainError(http.StatusConflict, "LAST_OWNER", "Cannot demote the last owner", nil)
		}
	}
	return s.store.UpsertMembership(ctx, workspaceID, memberID, newRole)
}

// RemoveMember removes a member. Admins can remove anyone below them; any
// member can remove themselves (leave). The last OWNER cannot leave.
func (s *Service) RemoveMember(ctx context.Context, session Session, workspaceID, memberID string) error {
	role, err := s.workspaceRole(ctx, workspaceID, session.UserID)
	if err != nil {
		return err
	}
	if memberID != session.UserID && !rbac.Can(role, rbac.ActionManage) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	current, err := s.store.GetMembershipRole(ctx, workspaceID, memberID)
	if errors.Is(err, sql.ErrNoRows) {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Member not found", nil)
	}
	if err != nil {
		return err
	}
	if rbac.Role(current) == rbac.RoleOwner {
		owners, err := s.store.CountOwners(ctx, workspaceID)
		if err != nil {
			return err
		}
		if owners <= 1 {
			return domainError(http.StatusConflict, "LAST_OWNER", "Cannot remove the last owner", nil)
		}
	}
	return s.store.DeleteMembership(ctx, workspaceID, memberID)
}

// InviteMember creates an email invitation. The invitation mail is
// best-effort; without SMTP the token is surfaced to the caller instead.
func (s *Service) InviteMember(ctx context.Context, session Session, workspaceID, inviteEmail, inviteRole string) (store.Invitation, error) {
	role, err := s.workspaceRole(ctx, workspaceID, session.UserID)
	if err != nil {
		return store.Invitation{}, err
	}
	if !rbac.Can(role, rbac.ActionManage) {
		return store.Invitation{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	inviteEmail = strings.TrimSpace(strings.ToLower(inviteEmail))
	if inviteEmail == "" {
		return store.Invitation{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "email is required", nil)
	}
	if !rbac.Valid(inviteRole) {
		return store.Invitation{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown role", map[string]any{"role": inviteRole})
	}
	// Nobody hands out a role above their own.
	if !rbac.AtLeast(role, rbac.Role(inviteRole)) {
		return store.Invitation{}, domainError(http.StatusForbidden, "FORBIDDEN", "Cannot invite above your own role", nil)
	}

	invitation := store.Invitation{
		ID:          util.NewID("inv"),
		WorkspaceID: workspaceID,
		Email:       inviteEmail,
		Role:        inviteRole,
		Token:       util.NewToken(),
		InvitedBy:   session.UserID,
		ExpiresAt:   time.Now().Add(invitationTTL),
	}
	if err := s.store.InsertInvitation(ctx, invitation); err != nil {
		return store.Invitation{}, fmt.Errorf("insert invitation: %w", err)
	}

	if s.SMTPConfigured() {
		workspace, err := s.store.GetWorkspace(ctx, workspaceID)
		if err == nil {
			acceptURL := s.cfg.PublicBaseURL + "/invitations/accept?token=" + invitation.Token
			if err := s.email.SendInvitationEmail(inviteEmail, session.UserName, workspace.Name, inviteRole, acceptURL); err != nil {
				log.Printf("email: invitation to %s: %v", inviteEmail, err)
			}
		}
	}
	return invitation, nil
}

func (s *Service) ListWorkspaceInvitations(ctx context.Context, session Session, workspaceID string) ([]store.Invitation, error) {
	role, err := s.workspaceRole(ctx, workspaceID, session.UserID)
	if err != nil {
		return nil, err
	}
	if !rbac.Can(role, rbac.ActionManage) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	return s.store.ListInvitations(ctx, workspaceID)
}

// AcceptInvitation redeems an invitation token for the calling user.
func (s *Service) AcceptInvitation(ctx context.Context, session Session, token string) (store.Workspace, error) {
	invitation, err := s.store.GetInvitationByToken(ctx, token)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Workspace{}, domainError(http.StatusNotFound, "NOT_FOUND", "Invitation not found", nil)
	}
	if err != nil {
		return store.Workspace{}, err
	}
	if invitation.AcceptedAt != nil {
		return store.Workspace{}, domainError(http.StatusConflict, "INVITATION_USED", "Invitation already accepted", nil)
	}
	if time.Now().After(invitation.ExpiresAt) {
		return store.Workspace{}, domainError(http.StatusGone, "INVITATION_EXPIRED", "Invitation expired", nil)
	}

	// An existing membership is never downgraded by accepting an invitation.
	current, err := s.workspaceRole(ctx, invitation.WorkspaceID, session.UserID)
	if err != nil {
		return store.Workspace{}, err
	}
	if !rbac.AtLeast(current, rbac.Role(invitation.Role)) {
		if err := s.store.UpsertMembership(ctx, invitation.WorkspaceID, session.UserID, invitation.Role); err != nil {
			return store.Workspace{}, err
		}
	}
	if err := s.store.MarkInvitationAccepted(ctx, invitation.ID); err != nil {
		return store.Workspace{}, err
	}
	return s.store.GetWorkspace(ctx, invitation.WorkspaceID)
}

func slugify(name string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
