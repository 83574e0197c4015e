package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"ideahive/api/internal/auth"
	"ideahive/api/internal/config"
	"ideahive/api/internal/content"
	"ideahive/api/internal/docstore"
	"ideahive/api/internal/store"
)

type refreshRow struct {
	userID      string
	displayName string
	expiresAt   time.Time
}

// fakeStore is an in-memory dataStore for service tests.
type fakeStore struct {
	mu          sync.Mutex
	users       map[string]store.User
	refresh     map[string]refreshRow
	revokedJTI  map[string]bool
	workspaces  map[string]store.Workspace
	members     map[string]map[string]string
	invitations map[string]store.Invitation
	pages       map[string]store.Page
	favorites   map[string]bool
	templates   map[string]store.TemplateMeta
	comments    map[string]store.Comment
	reactions   map[string]map[string]map[string]bool
	attachments map[string]store.Attachment
	touched     []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:       map[string]store.User{},
		refresh:     map[string]refreshRow{},
		revokedJTI:  map[string]bool{},
		workspaces:  map[string]store.Workspace{},
		members:     map[string]map[string]string{},
		invitations: map[string]store.Invitation{},
		pages:       map[string]store.Page{},
		favorites:   map[string]bool{},
		templates:   map[string]store.TemplateMeta{},
		comments:    map[string]store.Comment{},
		reactions:   map[string]map[string]map[string]bool{},
		attachments: map[string]store.Attachment{},
	}
}

func (f *fakeStore) addUser(id, name, email string) {
	f.users[id] = store.User{ID: id, DisplayName: name, Email: email, IsEmailVerified: true}
}

func (f *fakeStore) addWorkspace(id, name, ownerID string) {
	now := time.Now()
	f.workspaces[id] = store.Workspace{ID: id, Name: name, Slug: slugify(name), CreatedBy: ownerID, CreatedAt: now, UpdatedAt: now}
	if f.members[id] == nil {
		f.members[id] = map[string]string{}
	}
	f.members[id][ownerID] = "owner"
}

func (f *fakeStore) addPage(id, workspaceID, title string, isPublic bool) {
	now := time.Now()
	f.pages[id] = store.Page{ID: id, WorkspaceID: workspaceID, Title: title, IsPublic: isPublic, CreatedAt: now, UpdatedAt: now}
}

func (f *fakeStore) CreateUser(_ context.Context, user store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[user.ID] = user
	return nil
}

func (f *fakeStore) GetUserByID(_ context.Context, userID string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.Email == email {
			return user, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) GetUserNames(_ context.Context, userIDs []string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := map[string]string{}
	for _, id := range userIDs {
		if user, ok := f.users[id]; ok {
			names[id] = user.DisplayName
		}
	}
	return names, nil
}

func (f *fakeStore) UpdateUserVerificationToken(_ context.Context, userID, token string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user := f.users[userID]
	user.VerificationToken = token
	user.VerificationExpiresAt = &expiresAt
	f.users[userID] = user
	return nil
}

func (f *fakeStore) VerifyUserEmail(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, user := range f.users {
		if user.VerificationToken == token {
			user.IsEmailVerified = true
			f.users[id] = user
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeStore) UpdateUserPassword(_ context.Context, userID, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user := f.users[userID]
	user.PasswordHash = passwordHash
	f.users[userID] = user
	return nil
}

func (f *fakeStore) CreatePasswordReset(context.Context, string, string, time.Time) error { return nil }
func (f *fakeStore) GetPasswordReset(context.Context, string) (string, error) {
	return "", sql.ErrNoRows
}
func (f *fakeStore) MarkPasswordResetUsed(context.Context, string) error { return nil }

func (f *fakeStore) SaveRefreshSession(_ context.Context, tokenHash, userID string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := f.users[userID].DisplayName
	f.refresh[tokenHash] = refreshRow{userID: userID, displayName: name, expiresAt: expiresAt}
	return nil
}

func (f *fakeStore) LookupRefreshSession(_ context.Context, tokenHash string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.refresh[tokenHash]
	if !ok || time.Now().After(row.expiresAt) {
		return store.User{}, sql.ErrNoRows
	}
	return store.User{ID: row.userID, DisplayName: row.displayName}, nil
}

func (f *fakeStore) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.refresh, tokenHash)
	return nil
}

func (f *fakeStore) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revokedJTI[jti] = true
	return nil
}

func (f *fakeStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revokedJTI[jti], nil
}

func (f *fakeStore) InsertWorkspace(_ context.Context, workspace store.Workspace) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.workspaces[workspace.ID] = workspace
	return nil
}

func (f *fakeStore) GetWorkspace(_ context.Context, workspaceID string) (store.Workspace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	workspace, ok := f.workspaces[workspaceID]
	if !ok {
		return store.Workspace{}, sql.ErrNoRows
	}
	return workspace, nil
}

func (f *fakeStore) ListWorkspacesForUser(_ context.Context, userID string) ([]store.Workspace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Workspace
	for id, roles := range f.members {
		if _, ok := roles[userID]; ok {
			out = append(out, f.workspaces[id])
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateWorkspace(_ context.Context, workspaceID, name, icon string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	workspace := f.workspaces[workspaceID]
	workspace.Name = name
	workspace.Icon = icon
	f.workspaces[workspaceID] = workspace
	return nil
}

func (f *fakeStore) DeleteWorkspace(_ context.Context, workspaceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.workspaces, workspaceID)
	delete(f.members, workspaceID)
	return nil
}

func (f *fakeStore) UpsertMembership(_ context.Context, workspaceID, userID, role string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.members[workspaceID] == nil {
		f.members[workspaceID] = map[string]string{}
	}
	f.members[workspaceID][userID] = role
	return nil
}

func (f *fakeStore) GetMembershipRole(_ context.Context, workspaceID, userID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	role, ok := f.members[workspaceID][userID]
	if !ok {
		return "", sql.ErrNoRows
	}
	return role, nil
}

func (f *fakeStore) ListMembers(_ context.Context, workspaceID string) ([]store.Membership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Membership
	for userID, role := range f.members[workspaceID] {
		user := f.users[userID]
		out = append(out, store.Membership{
			WorkspaceID: workspaceID,
			UserID:      userID,
			Role:        role,
			UserName:    user.DisplayName,
			UserEmail:   user.Email,
		})
	}
	return out, nil
}

func (f *fakeStore) DeleteMembership(_ context.Context, workspaceID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.members[workspaceID], userID)
	return nil
}

func (f *fakeStore) CountOwners(_ context.Context, workspaceID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, role := range f.members[workspaceID] {
		if role == "owner" {
			count++
		}
	}
	return count, nil
}

func (f *fakeStore) InsertInvitation(_ context.Context, invitation store.Invitation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invitations[invitation.ID] = invitation
	return nil
}

func (f *fakeStore) GetInvitationByToken(_ context.Context, token string) (store.Invitation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, invitation := range f.invitations {
		if invitation.Token == token {
			return invitation, nil
		}
	}
	return store.Invitation{}, sql.ErrNoRows
}

func (f *fakeStore) MarkInvitationAccepted(_ context.Context, invitationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	invitation, ok := f.invitations[invitationID]
	if !ok {
		return sql.ErrNoRows
	}
	now := time.Now()
	invitation.AcceptedAt = &now
	f.invitations[invitationID] = invitation
	return nil
}

func (f *fakeStore) ListInvitations(_ context.Context, workspaceID string) ([]store.Invitation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Invitation
	for _, invitation := range f.invitations {
		if invitation.WorkspaceID == workspaceID {
			out = append(out, invitation)
		}
	}
	return out, nil
}

func (f *fakeStore) InsertPage(_ context.Context, page store.Page) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	page.CreatedAt = now
	page.UpdatedAt = now
	f.pages[page.ID] = page
	return nil
}

func (f *fakeStore) GetPage(_ context.Context, pageID string) (store.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	page, ok := f.pages[pageID]
	if !ok {
		return store.Page{}, sql.ErrNoRows
	}
	return page, nil
}

func (f *fakeStore) ListPagesByWorkspace(_ context.Context, workspaceID string) ([]store.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Page
	for _, page := range f.pages {
		if page.WorkspaceID == workspaceID {
			out = append(out, page)
		}
	}
	return out, nil
}

func (f *fakeStore) ListChildPages(_ context.Context, parentPageID string) ([]store.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Page
	for _, page := range f.pages {
		if page.ParentPageID != nil && *page.ParentPageID == parentPageID {
			out = append(out, page)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdatePageMeta(_ context.Context, pageID, title, icon string, isPublic bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	page, ok := f.pages[pageID]
	if !ok {
		return sql.ErrNoRows
	}
	page.Title = title
	page.Icon = icon
	page.IsPublic = isPublic
	page.UpdatedAt = time.Now()
	f.pages[pageID] = page
	return nil
}

func (f *fakeStore) DeletePage(_ context.Context, pageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.pages, pageID)
	return nil
}

func (f *fakeStore) TouchPageTimestamp(_ context.Context, pageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched = append(f.touched, pageID)
	return nil
}

func (f *fakeStore) SearchPageTitles(_ context.Context, workspaceIDs []string, query string, limit, _ int) ([]store.Page, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	allowed := map[string]bool{}
	for _, id := range workspaceIDs {
		allowed[id] = true
	}
	var out []store.Page
	for _, page := range f.pages {
		if !allowed[page.WorkspaceID] {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(page.Title), strings.ToLower(query)) {
			continue
		}
		out = append(out, page)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, len(out), nil
}

func (f *fakeStore) InsertFavorite(_ context.Context, userID, pageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.favorites[userID+"|"+pageID] = true
	return nil
}

func (f *fakeStore) DeleteFavorite(_ context.Context, userID, pageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.favorites, userID+"|"+pageID)
	return nil
}

func (f *fakeStore) IsFavorite(_ context.Context, userID, pageID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.favorites[userID+"|"+pageID], nil
}

func (f *fakeStore) ListFavoritePages(_ context.Context, userID string) ([]store.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Page
	for key := range f.favorites {
		userPart, pageID, _ := strings.Cut(key, "|")
		if userPart != userID {
			continue
		}
		if page, ok := f.pages[pageID]; ok {
			out = append(out, page)
		}
	}
	return out, nil
}

func (f *fakeStore) InsertTemplateMeta(_ context.Context, template store.TemplateMeta) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.templates[template.ID] = template
	return nil
}

func (f *fakeStore) GetTemplateMeta(_ context.Context, templateID string) (store.TemplateMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	template, ok := f.templates[templateID]
	if !ok {
		return store.TemplateMeta{}, sql.ErrNoRows
	}
	return template, nil
}

func (f *fakeStore) ListVisibleTemplates(_ context.Context, workspaceID, userID string) ([]store.TemplateMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.TemplateMeta
	for _, template := range f.templates {
		switch {
		case template.IsPublic, template.CreatedBy == userID:
			out = append(out, template)
		case template.WorkspaceID != nil && *template.WorkspaceID == workspaceID:
			out = append(out, template)
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteTemplateMeta(_ context.Context, templateID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.templates, templateID)
	return nil
}

func (f *fakeStore) InsertComment(_ context.Context, comment store.Comment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	comment.CreatedAt = now
	comment.UpdatedAt = now
	comment.AuthorName = f.users[comment.AuthorID].DisplayName
	f.comments[comment.ID] = comment
	return nil
}

func (f *fakeStore) GetComment(_ context.Context, commentID string) (store.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	comment, ok := f.comments[commentID]
	if !ok {
		return store.Comment{}, sql.ErrNoRows
	}
	return comment, nil
}

func (f *fakeStore) ListCommentsByPage(_ context.Context, pageID string) ([]store.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Comment
	for _, comment := range f.comments {
		if comment.PageID == pageID {
			out = append(out, comment)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateComment(_ context.Context, commentID, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	comment, ok := f.comments[commentID]
	if !ok {
		return sql.ErrNoRows
	}
	comment.Body = body
	comment.UpdatedAt = time.Now()
	f.comments[commentID] = comment
	return nil
}

func (f *fakeStore) DeleteComment(_ context.Context, commentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.comments, commentID)
	return nil
}

func (f *fakeStore) ToggleCommentReaction(_ context.Context, commentID, userID, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reactions[commentID] == nil {
		f.reactions[commentID] = map[string]map[string]bool{}
	}
	if f.reactions[commentID][emoji] == nil {
		f.reactions[commentID][emoji] = map[string]bool{}
	}
	if f.reactions[commentID][emoji][userID] {
		delete(f.reactions[commentID][emoji], userID)
		return nil
	}
	f.reactions[commentID][emoji][userID] = true
	return nil
}

func (f *fakeStore) ListCommentReactionCounts(_ context.Context, pageID string) ([]store.CommentReactionCount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.CommentReactionCount
	for commentID, byEmoji := range f.reactions {
		comment, ok := f.comments[commentID]
		if !ok || comment.PageID != pageID {
			continue
		}
		for emoji, users := range byEmoji {
			if len(users) > 0 {
				out = append(out, store.CommentReactionCount{CommentID: commentID, Emoji: emoji, Count: len(users)})
			}
		}
	}
	return out, nil
}

func (f *fakeStore) InsertAttachment(_ context.Context, attachment store.Attachment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attachments[attachment.ID] = attachment
	return nil
}

func (f *fakeStore) GetAttachment(_ context.Context, attachmentID string) (store.Attachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	attachment, ok := f.attachments[attachmentID]
	if !ok {
		return store.Attachment{}, sql.ErrNoRows
	}
	return attachment, nil
}

func (f *fakeStore) ListAttachmentsByPage(_ context.Context, pageID string) ([]store.Attachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Attachment
	for _, attachment := range f.attachments {
		if attachment.PageID == pageID {
			out = append(out, attachment)
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteAttachment(_ context.Context, attachmentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.attachments, attachmentID)
	return nil
}

func (f *fakeStore) Ping(context.Context) error { return nil }

// fakeDocs is an in-memory documentStore.
type fakeDocs struct {
	mu        sync.Mutex
	seq       int
	blocks    map[string]docstore.Block
	contents  map[string]docstore.PageContent
	history   map[string]map[int]docstore.HistoryEntry
	templates map[string]docstore.TemplateContent
}

func newFakeDocs() *fakeDocs {
	return &fakeDocs{
		blocks:    map[string]docstore.Block{},
		contents:  map[string]docstore.PageContent{},
		history:   map[string]map[int]docstore.HistoryEntry{},
		templates: map[string]docstore.TemplateContent{},
	}
}

func (d *fakeDocs) InsertBlock(_ context.Context, block docstore.Block) (docstore.Block, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	block.ID = fmt.Sprintf("blk_%03d", d.seq)
	now := time.Now().UTC()
	block.CreatedAt = now
	block.UpdatedAt = now
	if block.Properties == nil {
		block.Properties = map[string]any{}
	}
	if block.Children == nil {
		block.Children = []string{}
	}
	d.blocks[block.ID] = block
	return block, nil
}

func (d *fakeDocs) GetBlock(_ context.Context, blockID string) (docstore.Block, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	block, ok := d.blocks[blockID]
	if !ok {
		return docstore.Block{}, docstore.ErrNotFound
	}
	return block, nil
}

func (d *fakeDocs) GetBlocks(_ context.Context, blockIDs []string) ([]docstore.Block, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]docstore.Block, 0, len(blockIDs))
	for _, id := range blockIDs {
		if block, ok := d.blocks[id]; ok {
			out = append(out, block)
		}
	}
	return out, nil
}

func (d *fakeDocs) UpdateBlock(_ context.Context, blockID string, patch docstore.BlockPatch) (docstore.Block, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	block, ok := d.blocks[blockID]
	if !ok {
		return docstore.Block{}, docstore.ErrNotFound
	}
	if patch.Type != nil {
		block.Type = *patch.Type
	}
	if patch.Content != nil {
		block.Content = *patch.Content
	}
	if patch.Properties != nil {
		block.Properties = *patch.Properties
	}
	if patch.Children != nil {
		block.Children = *patch.Children
	}
	block.UpdatedAt = time.Now().UTC()
	d.blocks[blockID] = block
	return block, nil
}

func (d *fakeDocs) DeleteBlock(_ context.Context, blockID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.blocks[blockID]; !ok {
		return docstore.ErrNotFound
	}
	delete(d.blocks, blockID)
	return nil
}

func (d *fakeDocs) DeleteBlocksByPage(_ context.Context, pageID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, block := range d.blocks {
		if block.PageID == pageID {
			delete(d.blocks, id)
		}
	}
	return nil
}

func (d *fakeDocs) ReassignPositions(_ context.Context, _ string, positions []docstore.BlockPosition) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, pos := range positions {
		block, ok := d.blocks[pos.BlockID]
		if !ok {
			continue
		}
		block.Position = pos.Position
		d.blocks[pos.BlockID] = block
	}
	return nil
}

func (d *fakeDocs) GetPageContent(_ context.Context, pageID string) (docstore.PageContent, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	pc, ok := d.contents[pageID]
	if !ok {
		return docstore.PageContent{}, docstore.ErrNotFound
	}
	return pc, nil
}

func (d *fakeDocs) CreatePageContent(_ context.Context, pc docstore.PageContent) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.contents[pc.PageID]; ok {
		return docstore.ErrConflict
	}
	d.contents[pc.PageID] = pc
	return nil
}

func (d *fakeDocs) ReplacePageContentIf(_ context.Context, pc docstore.PageContent, expectedVersion int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	existing, ok := d.contents[pc.PageID]
	if !ok || existing.Version != expectedVersion {
		return docstore.ErrConflict
	}
	d.contents[pc.PageID] = pc
	return nil
}

func (d *fakeDocs) DeletePageContent(_ context.Context, pageID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.contents, pageID)
	return nil
}

func (d *fakeDocs) AppendHistory(_ context.Context, entry docstore.HistoryEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	byVersion, ok := d.history[entry.PageID]
	if !ok {
		byVersion = map[int]docstore.HistoryEntry{}
		d.history[entry.PageID] = byVersion
	}
	byVersion[entry.Version] = entry
	return nil
}

func (d *fakeDocs) ListHistory(_ context.Context, pageID string) ([]docstore.HistoryEntry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	byVersion := d.history[pageID]
	out := make([]docstore.HistoryEntry, 0, len(byVersion))
	for version := len(byVersion) + 1; version >= 0; version-- {
		if entry, ok := byVersion[version]; ok {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (d *fakeDocs) GetHistory(_ context.Context, pageID string, version int) (docstore.HistoryEntry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := d.history[pageID][version]
	if !ok {
		return docstore.HistoryEntry{}, docstore.ErrNotFound
	}
	return entry, nil
}

func (d *fakeDocs) DeleteHistoryByPage(_ context.Context, pageID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.history, pageID)
	return nil
}

func (d *fakeDocs) GetTemplateContent(_ context.Context, templateID string) (docstore.TemplateContent, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	tc, ok := d.templates[templateID]
	if !ok {
		return docstore.TemplateContent{}, docstore.ErrNotFound
	}
	return tc, nil
}

func (d *fakeDocs) PutTemplateContent(_ context.Context, tc docstore.TemplateContent) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.templates[tc.TemplateID] = tc
	return nil
}

func (d *fakeDocs) DeleteTemplateContent(_ context.Context, templateID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.templates, templateID)
	return nil
}

func (d *fakeDocs) Ping(context.Context) error { return nil }

func newTestService() (*Service, *fakeStore, *fakeDocs) {
	cfg := config.Config{
		JWTSecret:     "test-secret",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    time.Hour,
		PublicBaseURL: "http://localhost:3000",
	}
	fs := newFakeStore()
	fd := newFakeDocs()
	return New(cfg, Deps{Store: fs, Docs: fd}), fs, fd
}

func TestSessionLifecycle(t *testing.T) {
	svc, fs, _ := newTestService()
	fs.addUser("u1", "Ada", "ada@example.com")
	ctx := context.Background()

	sess, err := svc.CreateSession(ctx, "u1")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if sess.Token == "" || sess.RefreshToken == "" {
		t.Fatal("expected access and refresh tokens")
	}
	if sess.UserName != "Ada" {
		t.Fatalf("expected user name Ada, got %q", sess.UserName)
	}

	parsed, err := svc.SessionFromToken(ctx, sess.Token)
	if err != nil {
		t.Fatalf("SessionFromToken: %v", err)
	}
	if parsed.UserID != "u1" || parsed.JTI != sess.JTI {
		t.Fatalf("unexpected session from token: %+v", parsed)
	}

	rotated, err := svc.Refresh(ctx, sess.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if rotated.RefreshToken == sess.RefreshToken {
		t.Fatal("refresh token was not rotated")
	}

	// The presented refresh token is single-use.
	if _, err := svc.Refresh(ctx, sess.RefreshToken); err == nil {
		t.Fatal("expected reused refresh token to be rejected")
	}
}

func TestLogoutRevokesTokens(t *testing.T) {
	svc, fs, _ := newTestService()
	fs.addUser("u1", "Ada", "ada@example.com")
	ctx := context.Background()

	sess, err := svc.CreateSession(ctx, "u1")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := svc.Logout(ctx, sess, sess.RefreshToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	if _, err := svc.SessionFromToken(ctx, sess.Token); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("expected revoked access token, got %v", err)
	}
	if _, err := svc.Refresh(ctx, sess.RefreshToken); err == nil {
		t.Fatal("expected revoked refresh token to be rejected")
	}
}

func TestCreateWorkspaceMakesCallerOwner(t *testing.T) {
	svc, fs, _ := newTestService()
	fs.addUser("u1", "Ada", "ada@example.com")
	ctx := context.Background()

	workspace, err := svc.CreateWorkspace(ctx, Session{UserID: "u1"}, "Design Docs", "📐")
	if err != nil {
		t.Fatalf("CreateWorkspace: %v", err)
	}
	if workspace.Slug != "design-docs" {
		t.Fatalf("expected slug design-docs, got %q", workspace.Slug)
	}
	if role := fs.members[workspace.ID]["u1"]; role != "owner" {
		t.Fatalf("expected creator to be owner, got %q", role)
	}
}

func TestCreateWorkspaceRequiresName(t *testing.T) {
	svc, _, _ := newTestService()
	_, err := svc.CreateWorkspace(context.Background(), Session{UserID: "u1"}, "   ", "")
	var de *DomainError
	if !errors.As(err, &de) || de.Status != 422 {
		t.Fatalf("expected 422 domain error, got %v", err)
	}
}

func TestLastOwnerGuards(t *testing.T) {
	svc, fs, _ := newTestService()
	fs.addUser("u1", "Ada", "ada@example.com")
	fs.addWorkspace("ws1", "Team", "u1")
	ctx := context.Background()
	owner := Session{UserID: "u1"}

	err := svc.UpdateMemberRole(ctx, owner, "ws1", "u1", "member")
	var de *DomainError
	if !errors.As(err, &de) || de.Code != "LAST_OWNER" {
		t.Fatalf("expected LAST_OWNER on demote, got %v", err)
	}

	err = svc.RemoveMember(ctx, owner, "ws1", "u1")
	if !errors.As(err, &de) || de.Code != "LAST_OWNER" {
		t.Fatalf("expected LAST_OWNER on leave, got %v", err)
	}

	// With a second owner both operations go through.
	fs.members["ws1"]["u2"] = "owner"
	if err := svc.UpdateMemberRole(ctx, owner, "ws1", "u1", "admin"); err != nil {
		t.Fatalf("demote with second owner: %v", err)
	}
}

func TestAcceptInvitation(t *testing.T) {
	svc, fs, _ := newTestService()
	fs.addUser("u1", "Ada", "ada@example.com")
	fs.addUser("u2", "Grace", "grace@example.com")
	fs.addWorkspace("ws1", "Team", "u1")
	ctx := context.Background()

	invitation, err := svc.InviteMember(ctx, Session{UserID: "u1"}, "ws1", "Grace@Example.com", "member")
	if err != nil {
		t.Fatalf("InviteMember: %v", err)
	}
	if invitation.Email != "grace@example.com" {
		t.Fatalf("expected normalized email, got %q", invitation.Email)
	}

	workspace, err := svc.AcceptInvitation(ctx, Session{UserID: "u2"}, invitation.Token)
	if err != nil {
		t.Fatalf("AcceptInvitation: %v", err)
	}
	if workspace.ID != "ws1" {
		t.Fatalf("expected workspace ws1, got %q", workspace.ID)
	}
	if role := fs.members["ws1"]["u2"]; role != "member" {
		t.Fatalf("expected member role, got %q", role)
	}

	// Second redemption of the same token fails.
	_, err = svc.AcceptInvitation(ctx, Session{UserID: "u2"}, invitation.Token)
	var de *DomainError
	if !errors.As(err, &de) || de.Code != "INVITATION_USED" {
		t.Fatalf("expected INVITATION_USED, got %v", err)
	}
}

func TestAcceptInvitationExpired(t *testing.T) {
	svc, fs, _ := newTestService()
	fs.addUser("u2", "Grace", "grace@example.com")
	fs.addWorkspace("ws1", "Team", "u1")
	fs.invitations["inv1"] = store.Invitation{
		ID:          "inv1",
		WorkspaceID: "ws1",
		Email:       "grace@example.com",
		Role:        "member",
		Token:       "expired-token",
		ExpiresAt:   time.Now().Add(-time.Hour),
	}

	_, err := svc.AcceptInvitation(context.Background(), Session{UserID: "u2"}, "expired-token")
	var de *DomainError
	if !errors.As(err, &de) || de.Code != "INVITATION_EXPIRED" {
		t.Fatalf("expected INVITATION_EXPIRED, got %v", err)
	}
}

func TestAcceptInvitationNeverDowngrades(t *testing.T) {
	svc, fs, _ := newTestService()
	fs.addUser("u2", "Grace", "grace@example.com")
	fs.addWorkspace("ws1", "Team", "u1")
	fs.members["ws1"]["u2"] = "admin"
	fs.invitations["inv1"] = store.Invitation{
		ID:          "inv1",
		WorkspaceID: "ws1",
		Email:       "grace@example.com",
		Role:        "viewer",
		Token:       "tok",
		ExpiresAt:   time.Now().Add(time.Hour),
	}

	if _, err := svc.AcceptInvitation(context.Background(), Session{UserID: "u2"}, "tok"); err != nil {
		t.Fatalf("AcceptInvitation: %v", err)
	}
	if role := fs.members["ws1"]["u2"]; role != "admin" {
		t.Fatalf("expected admin to be kept, got %q", role)
	}
}

func TestInviteAboveOwnRoleForbidden(t *testing.T) {
	svc, fs, _ := newTestService()
	fs.addUser("u1", "Ada", "ada@example.com")
	fs.addWorkspace("ws1", "Team", "u1")
	fs.members["ws1"]["u2"] = "admin"

	_, err := svc.InviteMember(context.Background(), Session{UserID: "u2"}, "ws1", "new@example.com", "owner")
	var de *DomainError
	if !errors.As(err, &de) || de.Status != 403 {
		t.Fatalf("expected 403, got %v", err)
	}
}

func TestDuplicatePageCopiesSubtree(t *testing.T) {
	svc, fs, fd := newTestService()
	fs.addUser("u1", "Ada", "ada@example.com")
	fs.addWorkspace("ws1", "Team", "u1")
	fs.addPage("pg1", "ws1", "Roadmap", false)
	child := "pg1"
	fs.pages["pg2"] = store.Page{ID: "pg2", WorkspaceID: "ws1", Title: "Q3", ParentPageID: &child}
	ctx := context.Background()
	sess := Session{UserID: "u1"}

	if _, _, err := svc.CreateBlock(ctx, sess, "pg1", content.CreateBlockInput{Type: "paragraph", Content: "hello"}); err != nil {
		t.Fatalf("CreateBlock: %v", err)
	}

	copyRoot, err := svc.DuplicatePage(ctx, sess, "pg1")
	if err != nil {
		t.Fatalf("DuplicatePage: %v", err)
	}
	if copyRoot.Title != "Roadmap (copy)" {
		t.Fatalf("expected copy title suffix, got %q", copyRoot.Title)
	}

	// The child page came along, re-parented onto the copy.
	foundChild := false
	for _, page := range fs.pages {
		if page.ParentPageID != nil && *page.ParentPageID == copyRoot.ID {
			foundChild = true
		}
	}
	if !foundChild {
		t.Fatal("expected duplicated child page under the copy")
	}

	// The copy starts its own version history at 1 with fresh block ids.
	resolved, err := svc.GetPageContent(ctx, sess, copyRoot.ID)
	if err != nil {
		t.Fatalf("GetPageContent: %v", err)
	}
	if resolved.Version != 1 {
		t.Fatalf("expected version 1, got %d", resolved.Version)
	}
	if len(resolved.Blocks) != 1 {
		t.Fatalf("expected 1 block, got %d", len(resolved.Blocks))
	}
	original, _ := fd.GetPageContent(ctx, "pg1")
	if resolved.Blocks[0].ID == original.BlockIDs[0] {
		t.Fatal("expected duplicated block to get a fresh id")
	}
}

func TestDeletePageRemovesSubtree(t *testing.T) {
	svc, fs, fd := newTestService()
	fs.addUser("u1", "Ada", "ada@example.com")
	fs.addWorkspace("ws1", "Team", "u1")
	fs.addPage("pg1", "ws1", "Root", false)
	parent := "pg1"
	fs.pages["pg2"] = store.Page{ID: "pg2", WorkspaceID: "ws1", Title: "Child", ParentPageID: &parent}
	ctx := context.Background()
	sess := Session{UserID: "u1"}

	if _, _, err := svc.CreateBlock(ctx, sess, "pg2", content.CreateBlockInput{Type: "paragraph", Content: "x"}); err != nil {
		t.Fatalf("CreateBlock: %v", err)
	}

	if err := svc.DeletePage(ctx, sess, "pg1"); err != nil {
		t.Fatalf("DeletePage: %v", err)
	}
	if _, ok := fs.pages["pg1"]; ok {
		t.Fatal("root page still present")
	}
	if _, ok := fs.pages["pg2"]; ok {
		t.Fatal("child page still present")
	}
	if len(fd.blocks) != 0 {
		t.Fatalf("expected block purge, %d blocks left", len(fd.blocks))
	}
}

func TestToggleFavorite(t *testing.T) {
	svc, fs, _ := newTestService()
	fs.addUser("u1", "Ada", "ada@example.com")
	fs.addWorkspace("ws1", "Team", "u1")
	fs.addPage("pg1", "ws1", "Notes", false)
	ctx := context.Background()
	sess := Session{UserID: "u1"}

	on, err := svc.ToggleFavorite(ctx, sess, "pg1")
	if err != nil || !on {
		t.Fatalf("expected favorite on, got %v %v", on, err)
	}
	off, err := svc.ToggleFavorite(ctx, sess, "pg1")
	if err != nil || off {
		t.Fatalf("expected favorite off, got %v %v", off, err)
	}
}

func TestSlugify(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Design Docs", "design-docs"},
		{"  Hello,  World!  ", "hello-world"},
		{"Ünicode Ønly", "nicode-nly"},
		{"---", ""},
		{"a", "a"},
	}
	for _, tc := range cases {
		if got := slugify(tc.in); got != tc.want {
			t.Errorf("slugify(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
