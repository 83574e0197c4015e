package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- users ----

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, is_email_verified, verification_token)
		VALUES ($1, $2, LOWER($3), $4, $5, $6)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.IsEmailVerified, user.VerificationToken)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, is_email_verified, created_at, updated_at
		FROM users WHERE id=$1 AND deactivated_at IS NULL
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.IsEmailVerified, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, is_email_verified, created_at, updated_at
		FROM users WHERE email=LOWER($1) AND deactivated_at IS NULL
	`, email).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.IsEmailVerified, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// GetUserNames resolves display names for a set of user ids. Missing ids are
// simply absent from the result.
func (s *PostgresStore) GetUserNames(ctx context.Context, userIDs []string) (map[string]string, error) {
	names := make(map[string]string, len(userIDs))
	if len(userIDs) == 0 {
		return names, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, display_name FROM users WHERE id = ANY($1)`, userIDs)
	if err != nil {
		return nil, fmt.Errorf("lookup user names: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		names[id] = name
	}
	return names, rows.Err()
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET verification_token=$2, verification_expires_at=$3, updated_at=NOW()
		WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET is_email_verified=TRUE, verification_token='', verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token=$1 AND verification_expires_at > NOW()
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at)
		VALUES ($1, $2, $3)
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

// ---- refresh sessions (fallback when Redis is not configured) ----

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.display_name, u.email
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
			AND u.deactivated_at IS NULL
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.DisplayName, &user.Email)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_tokens (jti, expires_at) VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, expiresAt)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM revoked_tokens WHERE jti=$1 AND expires_at > NOW()`, jti).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return count > 0, nil
}

// ---- workspaces & memberships ----

func (s *PostgresStore) InsertWorkspace(ctx context.Context, workspace Workspace) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workspaces (id, name, slug, icon, created_by)
		VALUES ($1, $2, $3, $4, $5)
	`, workspace.ID, workspace.Name, workspace.Slug, workspace.Icon, workspace.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert workspace: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetWorkspace(ctx context.Context, workspaceID string) (Workspace, error) {
	var workspace Workspace
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, slug, icon, created_by, created_at, updated_at
		FROM workspaces WHERE id=$1
	`, workspaceID).Scan(&workspace.ID, &workspace.Name, &workspace.Slug, &workspace.Icon, &workspace.CreatedBy, &workspace.CreatedAt, &workspace.UpdatedAt)
	if err != nil {
		return Workspace{}, err
	}
	return workspace, nil
}

func (s *PostgresStore) ListWorkspacesForUser(ctx context.Context, userID string) ([]Workspace, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT w.id, w.name, w.slug, w.icon, w.created_by, w.created_at, w.updated_at
		FROM workspaces w
		JOIN workspace_memberships wm ON wm.workspace_id = w.id
		WHERE wm.user_id = $1
		ORDER BY w.created_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	defer rows.Close()

	var items []Workspace
	for rows.Next() {
		var workspace Workspace
		if err := rows.Scan(&workspace.ID, &workspace.Name, &workspace.Slug, &workspace.Icon, &workspace.CreatedBy, &workspace.CreatedAt, &workspace.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, workspace)
	}
	return items, rows.Err()
}

func (s *PostgresStore) UpdateWorkspace(ctx context.Context, workspaceID, name, icon string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE workspaces SET name=$2, icon=$3, updated_at=NOW() WHERE id=$1
	`, workspaceID, name, icon)
	if err != nil {
		return fmt.Errorf("update workspace: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteWorkspace removes the workspace row; memberships, invitations, pages,
// favorites, comments and attachment metadata go with it via FK cascade.
func (s *PostgresStore) DeleteWorkspace(ctx context.Context, workspaceID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM workspaces WHERE id=$1`, workspaceID)
	if err != nil {
		return fmt.Errorf("delete workspace: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) UpsertMembership(ctx context.Context, workspaceID, userID, role string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workspace_memberships (workspace_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (workspace_id, user_id) DO UPDATE SET role=EXCLUDED.role
	`, workspaceID, userID, role)
	if err != nil {
		return fmt.Errorf("upsert membership: %w", err)
	}
	return nil
}

// GetMembershipRole returns the empty string when the user is not a member.
func (s *PostgresStore) GetMembershipRole(ctx context.Context, workspaceID, userID string) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `
		SELECT role FROM workspace_memberships WHERE workspace_id=$1 AND user_id=$2
	`, workspaceID, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read membership: %w", err)
	}
	return role, nil
}

func (s *PostgresStore) ListMembers(ctx context.Context, workspaceID string) ([]Membership, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT wm.workspace_id, wm.user_id, wm.role, wm.created_at, u.display_name, u.email
		FROM workspace_memberships wm
		JOIN users u ON u.id = wm.user_id
		WHERE wm.workspace_id = $1
		ORDER BY wm.created_at
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var items []Membership
	for rows.Next() {
		var m Membership
		if err := rows.Scan(&m.WorkspaceID, &m.UserID, &m.Role, &m.CreatedAt, &m.UserName, &m.UserEmail); err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

func (s *PostgresStore) DeleteMembership(ctx context.Context, workspaceID, userID string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM workspace_memberships WHERE workspace_id=$1 AND user_id=$2
	`, workspaceID, userID)
	if err != nil {
		return fmt.Errorf("delete membership: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) CountOwners(ctx context.Context, workspaceID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM workspace_memberships WHERE workspace_id=$1 AND role='owner'
	`, workspaceID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count owners: %w", err)
	}
	return count, nil
}

// ---- invitations ----

func (s *PostgresStore) InsertInvitation(ctx context.Context, invitation Invitation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invitations (id, workspace_id, email, role, token, invited_by, expires_at)
		VALUES ($1, $2, LOWER($3), $4, $5, $6, $7)
	`, invitation.ID, invitation.WorkspaceID, invitation.Email, invitation.Role, invitation.Token, invitation.InvitedBy, invitation.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert invitation: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetInvitationByToken(ctx context.Context, token string) (Invitation, error) {
	var inv Invitation
	err := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, email, role, token, invited_by, accepted_at, expires_at, created_at
		FROM invitations
		WHERE token=$1 AND accepted_at IS NULL AND expires_at > NOW()
	`, token).Scan(&inv.ID, &inv.WorkspaceID, &inv.Email, &inv.Role, &inv.Token, &inv.InvitedBy, &inv.AcceptedAt, &inv.ExpiresAt, &inv.CreatedAt)
	if err != nil {
		return Invitation{}, err
	}
	return inv, nil
}

func (s *PostgresStore) MarkInvitationAccepted(ctx context.Context, invitationID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE invitations SET accepted_at=NOW() WHERE id=$1`, invitationID)
	if err != nil {
		return fmt.Errorf("mark invitation accepted: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListInvitations(ctx context.Context, workspaceID string) ([]Invitation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, email, role, token, invited_by, accepted_at, expires_at, created_at
		FROM invitations WHERE workspace_id=$1
		ORDER BY created_at DESC
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list invitations: %w", err)
	}
	defer rows.Close()

	var items []Invitation
	for rows.Next() {
		var inv Invitation
		if err := rows.Scan(&inv.ID, &inv.WorkspaceID, &inv.Email, &inv.Role, &inv.Token, &inv.InvitedBy, &inv.AcceptedAt, &inv.ExpiresAt, &inv.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, inv)
	}
	return items, rows.Err()
}

// ---- pages ----

func (s *PostgresStore) InsertPage(ctx context.Context, page Page) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pages (id, workspace_id, parent_page_id, title, icon, is_public, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, page.ID, page.WorkspaceID, page.ParentPageID, page.Title, page.Icon, page.IsPublic, page.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert page: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPage(ctx context.Context, pageID string) (Page, error) {
	var page Page
	err := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, parent_page_id, title, icon, is_public, created_by, created_at, updated_at
		FROM pages WHERE id=$1
	`, pageID).Scan(&page.ID, &page.WorkspaceID, &page.ParentPageID, &page.Title, &page.Icon, &page.IsPublic, &page.CreatedBy, &page.CreatedAt, &page.UpdatedAt)
	if err != nil {
		return Page{}, err
	}
	return page, nil
}

func (s *PostgresStore) ListPagesByWorkspace(ctx context.Context, workspaceID string) ([]Page, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, parent_page_id, title, icon, is_public, created_by, created_at, updated_at
		FROM pages WHERE workspace_id=$1
		ORDER BY created_at
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer rows.Close()
	return scanPages(rows)
}

func (s *PostgresStore) ListChildPages(ctx context.Context, parentPageID string) ([]Page, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, parent_page_id, title, icon, is_public, created_by, created_at, updated_at
		FROM pages WHERE parent_page_id=$1
		ORDER BY created_at
	`, parentPageID)
	if err != nil {
		return nil, fmt.Errorf("list child pages: %w", err)
	}
	defer rows.Close()
	return scanPages(rows)
}

func scanPages(rows *sql.Rows) ([]Page, error) {
	var items []Page
	for rows.Next() {
		var page Page
		if err := rows.Scan(&page.ID, &page.WorkspaceID, &page.ParentPageID, &page.Title, &page.Icon, &page.IsPublic, &page.CreatedBy, &page.CreatedAt, &page.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, page)
	}
	return items, rows.Err()
}

func (s *PostgresStore) UpdatePageMeta(ctx context.Context, pageID, title, icon string, isPublic bool) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE pages SET title=$2, icon=$3, is_public=$4, updated_at=NOW() WHERE id=$1
	`, pageID, title, icon, isPublic)
	if err != nil {
		return fmt.Errorf("update page: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeletePage(ctx context.Context, pageID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM pages WHERE id=$1`, pageID)
	if err != nil {
		return fmt.Errorf("delete page: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) TouchPageTimestamp(ctx context.Context, pageID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE pages SET updated_at=NOW() WHERE id=$1`, pageID)
	if err != nil {
		return fmt.Errorf("touch page: %w", err)
	}
	return nil
}

func (s *PostgresStore) SearchPageTitles(ctx context.Context, workspaceIDs []string, query string, limit, offset int) ([]Page, int, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, parent_page_id, title, icon, is_public, created_by, created_at, updated_at
		FROM pages
		WHERE workspace_id = ANY($1)
			AND to_tsvector('simple', title) @@ plainto_tsquery('simple', $2)
		ORDER BY updated_at DESC
		LIMIT $3 OFFSET $4
	`, workspaceIDs, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("search pages: %w", err)
	}
	defer rows.Close()
	items, err := scanPages(rows)
	if err != nil {
		return nil, 0, err
	}

	var total int
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM pages
		WHERE workspace_id = ANY($1)
			AND to_tsvector('simple', title) @@ plainto_tsquery('simple', $2)
	`, workspaceIDs, query).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count search pages: %w", err)
	}
	return items, total, nil
}

// ---- favorites ----

func (s *PostgresStore) InsertFavorite(ctx context.Context, userID, pageID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO favorites (user_id, page_id) VALUES ($1, $2)
		ON CONFLICT (user_id, page_id) DO NOTHING
	`, userID, pageID)
	if err != nil {
		return fmt.Errorf("insert favorite: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteFavorite(ctx context.Context, userID, pageID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM favorites WHERE user_id=$1 AND page_id=$2`, userID, pageID)
	if err != nil {
		return fmt.Errorf("delete favorite: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsFavorite(ctx context.Context, userID, pageID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM favorites WHERE user_id=$1 AND page_id=$2`, userID, pageID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check favorite: %w", err)
	}
	return count > 0, nil
}

func (s *PostgresStore) ListFavoritePages(ctx context.Context, userID string) ([]Page, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.workspace_id, p.parent_page_id, p.title, p.icon, p.is_public, p.created_by, p.created_at, p.updated_at
		FROM favorites f
		JOIN pages p ON p.id = f.page_id
		WHERE f.user_id = $1
		ORDER BY f.created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list favorites: %w", err)
	}
	defer rows.Close()
	return scanPages(rows)
}

// ---- templates ----

func (s *PostgresStore) InsertTemplateMeta(ctx context.Context, template TemplateMeta) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO templates (id, name, category, workspace_id, is_public, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, template.ID, template.Name, template.Category, template.WorkspaceID, template.IsPublic, template.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTemplateMeta(ctx context.Context, templateID string) (TemplateMeta, error) {
	var template TemplateMeta
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, category, workspace_id, is_public, created_by, created_at
		FROM templates WHERE id=$1
	`, templateID).Scan(&template.ID, &template.Name, &template.Category, &template.WorkspaceID, &template.IsPublic, &template.CreatedBy, &template.CreatedAt)
	if err != nil {
		return TemplateMeta{}, err
	}
	return template, nil
}

// ListVisibleTemplates returns public templates plus those belonging to the
// given workspace or created by the caller.
func (s *PostgresStore) ListVisibleTemplates(ctx context.Context, workspaceID, userID string) ([]TemplateMeta, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, workspace_id, is_public, created_by, created_at
		FROM templates
		WHERE is_public = TRUE OR workspace_id = $1 OR created_by = $2
		ORDER BY created_at DESC
	`, workspaceID, userID)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var items []TemplateMeta
	for rows.Next() {
		var template TemplateMeta
		if err := rows.Scan(&template.ID, &template.Name, &template.Category, &template.WorkspaceID, &template.IsPublic, &template.CreatedBy, &template.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, template)
	}
	return items, rows.Err()
}

func (s *PostgresStore) DeleteTemplateMeta(ctx context.Context, templateID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM templates WHERE id=$1`, templateID)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ---- comments ----

func (s *PostgresStore) InsertComment(ctx context.Context, comment Comment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO comments (id, page_id, block_id, author_id, body)
		VALUES ($1, $2, $3, $4, $5)
	`, comment.ID, comment.PageID, comment.BlockID, comment.AuthorID, comment.Body)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetComment(ctx context.Context, commentID string) (Comment, error) {
	var comment Comment
	err := s.db.QueryRowContext(ctx, `
		SELECT c.id, c.page_id, c.block_id, c.author_id, c.body, c.created_at, c.updated_at, u.display_name
		FROM comments c
		JOIN users u ON u.id = c.author_id
		WHERE c.id=$1
	`, commentID).Scan(&comment.ID, &comment.PageID, &comment.BlockID, &comment.AuthorID, &comment.Body, &comment.CreatedAt, &comment.UpdatedAt, &comment.AuthorName)
	if err != nil {
		return Comment{}, err
	}
	return comment, nil
}

func (s *PostgresStore) ListCommentsByPage(ctx context.Context, pageID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.page_id, c.block_id, c.author_id, c.body, c.created_at, c.updated_at, u.display_name
		FROM comments c
		JOIN users u ON u.id = c.author_id
		WHERE c.page_id=$1
		ORDER BY c.created_at
	`, pageID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	var items []Comment
	for rows.Next() {
		var comment Comment
		if err := rows.Scan(&comment.ID, &comment.PageID, &comment.BlockID, &comment.AuthorID, &comment.Body, &comment.CreatedAt, &comment.UpdatedAt, &comment.AuthorName); err != nil {
			return nil, err
		}
		items = append(items, comment)
	}
	return items, rows.Err()
}

func (s *PostgresStore) UpdateComment(ctx context.Context, commentID, body string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE comments SET body=$2, updated_at=NOW() WHERE id=$1`, commentID, body)
	if err != nil {
		return fmt.Errorf("update comment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteComment(ctx context.Context, commentID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM comments WHERE id=$1`, commentID)
	if err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ToggleCommentReaction adds the reaction, or removes it when already present.
func (s *PostgresStore) ToggleCommentReaction(ctx context.Context, commentID, userID, emoji string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM comment_reactions WHERE comment_id=$1 AND user_id=$2 AND emoji=$3
	`, commentID, userID, emoji)
	if err != nil {
		return fmt.Errorf("toggle reaction: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO comment_reactions (comment_id, user_id, emoji) VALUES ($1, $2, $3)
	`, commentID, userID, emoji)
	if err != nil {
		return fmt.Errorf("insert reaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListCommentReactionCounts(ctx context.Context, pageID string) ([]CommentReactionCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cr.comment_id, cr.emoji, COUNT(1)
		FROM comment_reactions cr
		JOIN comments c ON c.id = cr.comment_id
		WHERE c.page_id = $1
		GROUP BY cr.comment_id, cr.emoji
	`, pageID)
	if err != nil {
		return nil, fmt.Errorf("list reaction counts: %w", err)
	}
	defer rows.Close()

	var items []CommentReactionCount
	for rows.Next() {
		var rc CommentReactionCount
		if err := rows.Scan(&rc.CommentID, &rc.Emoji, &rc.Count); err != nil {
			return nil, err
		}
		items = append(items, rc)
	}
	return items, rows.Err()
}

// ---- attachments ----

func (s *PostgresStore) InsertAttachment(ctx context.Context, attachment Attachment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attachments (id, page_id, name, object_key, content_type, size, uploaded_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, attachment.ID, attachment.PageID, attachment.Name, attachment.ObjectKey, attachment.ContentType, attachment.Size, attachment.UploadedBy)
	if err != nil {
		return fmt.Errorf("insert attachment: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAttachment(ctx context.Context, attachmentID string) (Attachment, error) {
	var attachment Attachment
	err := s.db.QueryRowContext(ctx, `
		SELECT id, page_id, name, object_key, content_type, size, uploaded_by, created_at
		FROM attachments WHERE id=$1
	`, attachmentID).Scan(&attachment.ID, &attachment.PageID, &attachment.Name, &attachment.ObjectKey, &attachment.ContentType, &attachment.Size, &attachment.UploadedBy, &attachment.CreatedAt)
	if err != nil {
		return Attachment{}, err
	}
	return attachment, nil
}

func (s *PostgresStore) ListAttachmentsByPage(ctx context.Context, pageID string) ([]Attachment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, page_id, name, object_key, content_type, size, uploaded_by, created_at
		FROM attachments WHERE page_id=$1
		ORDER BY created_at DESC
	`, pageID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	var items []Attachment
	for rows.Next() {
		var attachment Attachment
		if err := rows.Scan(&attachment.ID, &attachment.PageID, &attachment.Name, &attachment.ObjectKey, &attachment.ContentType, &attachment.Size, &attachment.UploadedBy, &attachment.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, attachment)
	}
	return items, rows.Err()
}

func (s *PostgresStore) DeleteAttachment(ctx context.Context, attachmentID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM attachments WHERE id=$1`, attachmentID)
	if err != nil {
		return fmt.Errorf("delete attachment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
