// Package app wires the stores, the content engine and the supporting
// services into the HTTP surface of the API.
package app

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"ideahive/api/internal/auth"
	"ideahive/api/internal/authpw"
	"ideahive/api/internal/chat"
	"ideahive/api/internal/config"
	"ideahive/api/internal/content"
	"ideahive/api/internal/docstore"
	"ideahive/api/internal/email"
	"ideahive/api/internal/export"
	"ideahive/api/internal/files"
	"ideahive/api/internal/rbac"
	"ideahive/api/internal/realtime"
	"ideahive/api/internal/search"
	"ideahive/api/internal/session"
	"ideahive/api/internal/store"
	"ideahive/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	JTI          string
	ExpiresAt    time.Time
}

// dataStore is the relational surface the service uses. Implemented by
// store.PostgresStore; faked in tests.
type dataStore interface {
	CreateUser(ctx context.Context, user store.User) error
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserNames(ctx context.Context, userIDs []string) (map[string]string, error)
	UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error
	VerifyUserEmail(ctx context.Context, token string) error
	UpdateUserPassword(ctx context.Context, userID, passwordHash string) error
	CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error
	GetPasswordReset(ctx context.Context, token string) (string, error)
	MarkPasswordResetUsed(ctx context.Context, token string) error

	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)

	InsertWorkspace(ctx context.Context, workspace store.Workspace) error
	GetWorkspace(ctx context.Context, workspaceID string) (store.Workspace, error)
	ListWorkspacesForUser(ctx context.Context, userID string) ([]store.Workspace, error)
	UpdateWorkspace(ctx context.Context, workspaceID, name, icon string) error
	DeleteWorkspace(ctx context.Context, workspaceID string) error

	UpsertMembership(ctx context.Context, workspaceID, userID, role string) error
	GetMembershipRole(ctx context.Context, workspaceID, userID string) (string, error)
	ListMembers(ctx context.Context, workspaceID string) ([]store.Membership, error)
	DeleteMembership(ctx context.Context, workspaceID, userID string) error
	CountOwners(ctx context.Context, workspaceID string) (int, error)

	InsertInvitation(ctx context.Context, invitation store.Invitation) error
	GetInvitationByToken(ctx context.Context, token string) (store.Invitation, error)
	MarkInvitationAccepted(ctx context.Context, invitationID string) error
	ListInvitations(ctx context.Context, workspaceID string) ([]store.Invitation, error)

	InsertPage(ctx context.Context, page store.Page) error
	GetPage(ctx context.Context, pageID string) (store.Page, error)
	ListPagesByWorkspace(ctx context.Context, workspaceID string) ([]store.Page, error)
	ListChildPages(ctx context.Context, parentPageID string) ([]store.Page, error)
	UpdatePageMeta(ctx context.Context, pageID, title, icon string, isPublic bool) error
	DeletePage(ctx context.Context, pageID string) error
	TouchPageTimestamp(ctx context.Context, pageID string) error
	SearchPageTitles(ctx context.Context, workspaceIDs []string, query string, limit, offset int) ([]store.Page, int, error)

	InsertFavorite(ctx context.Context, userID, pageID string) error
	DeleteFavorite(ctx context.Context, userID, pageID string) error
	IsFavorite(ctx context.Context, userID, pageID string) (bool, error)
	ListFavoritePages(ctx context.Context, userID string) ([]store.Page, error)

	InsertTemplateMeta(ctx context.Context, template store.TemplateMeta) error
	GetTemplateMeta(ctx context.Context, templateID string) (store.TemplateMeta, error)
	ListVisibleTemplates(ctx context.Context, workspaceID, userID string) ([]store.TemplateMeta, error)
	DeleteTemplateMeta(ctx context.Context, templateID string) error

	InsertComment(ctx context.Context, comment store.Comment) error
	GetComment(ctx context.Context, commentID string) (store.Comment, error)
	ListCommentsByPage(ctx context.Context, pageID string) ([]store.Comment, error)
	UpdateComment(ctx context.Context, commentID, body string) error
	DeleteComment(ctx context.Context, commentID string) error
	ToggleCommentReaction(ctx context.Context, commentID, userID, emoji string) error
	ListCommentReactionCounts(ctx context.Context, pageID string) ([]store.CommentReactionCount, error)

	InsertAttachment(ctx context.Context, attachment store.Attachment) error
	GetAttachment(ctx context.Context, attachmentID string) (store.Attachment, error)
	ListAttachmentsByPage(ctx context.Context, pageID string) ([]store.Attachment, error)
	DeleteAttachment(ctx context.Context, attachmentID string) error

	Ping(ctx context.Context) error
}

// sessionStore holds refresh tokens. Redis when configured, the relational
// store otherwise.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID, displayName string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (session.TokenData, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	Ping(ctx context.Context) error
}

// pgSessions adapts the relational refresh-session tables to sessionStore for
// deployments without Redis.
type pgSessions struct {
	store dataStore
}

func (p pgSessions) SaveRefreshSession(ctx context.Context, tokenHash, userID, _ string, expiresAt time.Time) error {
	return p.store.SaveRefreshSession(ctx, tokenHash, userID, expiresAt)
}

func (p pgSessions) LookupRefreshSession(ctx context.Context, tokenHash string) (session.TokenData, error) {
	user, err := p.store.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return session.TokenData{}, err
	}
	return session.TokenData{UserID: user.ID, DisplayName: user.DisplayName}, nil
}

func (p pgSessions) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	return p.store.RevokeRefreshSession(ctx, tokenHash)
}

func (p pgSessions) Ping(ctx context.Context) error {
	return p.store.Ping(ctx)
}

// documentStore is the document-store surface the service needs beyond what
// the content engine already drives.
type documentStore interface {
	content.Store
	PutTemplateContent(ctx context.Context, tc docstore.TemplateContent) error
	DeleteTemplateContent(ctx context.Context, templateID string) error
	Ping(ctx context.Context) error
}

// Deps carries the backends the service is wired with. Optional fields may be
// nil; the matching feature reports unavailable instead of failing at boot.
type Deps struct {
	Store    dataStore
	Docs     documentStore
	Sessions sessionStore    // nil = store refresh tokens in Postgres
	Search   search.Searcher // primary backend, may be nil
	Fallback search.Searcher
	Indexer  search.Indexer // nil = no index maintenance
	Files    *files.Service
	Email    *email.Service
	Chat     *chat.Service
	Hub      *realtime.Hub
}

type Service struct {
	cfg      config.Config
	store    dataStore
	docs     documentStore
	sessions sessionStore
	engine   *content.Engine
	authpw   *authpw.Service
	exporter *export.Service
	search   search.Searcher
	fallback search.Searcher
	indexer  search.Indexer
	files    *files.Service
	email    *email.Service
	chat     *chat.Service
	hub      *realtime.Hub

	usingRedisSessions bool
}

func New(cfg config.Config, deps Deps) *Service {
	s := &Service{
		cfg:      cfg,
		store:    deps.Store,
		docs:     deps.Docs,
		sessions: deps.Sessions,
		search:   deps.Search,
		fallback: deps.Fallback,
		indexer:  deps.Indexer,
		files:    deps.Files,
		email:    deps.Email,
		chat:     deps.Chat,
		hub:      deps.Hub,
	}
	if s.sessions == nil {
		s.sessions = pgSessions{store: deps.Store}
	} else {
		s.usingRedisSessions = true
	}
	var notifier content.Notifier
	if deps.Hub != nil {
		notifier = deps.Hub
	}
	s.engine = content.NewEngine(deps.Docs, &metaAdapter{store: deps.Store}, notifier)
	s.authpw = authpw.NewService(deps.Store)
	s.exporter = export.NewService(&exportAdapter{service: s})
	return s
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

// Ready checks every backing store the process depends on.
func (s *Service) Ready(ctx context.Context) map[string]error {
	checks := map[string]error{
		"postgres": s.store.Ping(ctx),
		"mongodb":  s.docs.Ping(ctx),
	}
	if s.usingRedisSessions {
		checks["redis"] = s.sessions.Ping(ctx)
	}
	return checks
}

// CreateSession issues an access token and a rotating refresh token for a
// signed-in user.
func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user.ID, user.DisplayName)
}

// Refresh rotates a refresh token: the presented token is revoked and a fresh
// session is issued, so each refresh token works exactly once.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	data, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, data.UserID, data.DisplayName)
}

func (s *Service) issueSession(ctx context.Context, userID, displayName string) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  userID,
		Name: displayName,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewToken()
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), userID, displayName, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       userID,
		UserName:     displayName,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token:     token,
		UserID:    claims.Sub,
		UserName:  claims.Name,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// workspaceRole reports the caller's role in a workspace; no membership reads
// as RoleNone, not an error.
func (s *Service) workspaceRole(ctx context.Context, workspaceID, userID string) (rbac.Role, error) {
	role, err := s.store.GetMembershipRole(ctx, workspaceID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return rbac.RoleNone, nil
	}
	if err != nil {
		return rbac.RoleNone, err
	}
	return rbac.Normalize(role), nil
}

// metaAdapter exposes the relational page and template metadata to the
// content engine as its permission oracle.
type metaAdapter struct {
	store dataStore
}

func (a *metaAdapter) GetPageMeta(ctx context.Context, pageID string) (content.PageMeta, error) {
	page, err := a.store.GetPage(ctx, pageID)
	if errors.Is(err, sql.ErrNoRows) {
		return content.PageMeta{}, docstore.ErrNotFound
	}
	if err != nil {
		return content.PageMeta{}, err
	}
	return content.PageMeta{WorkspaceID: page.WorkspaceID, IsPublic: page.IsPublic}, nil
}

func (a *metaAdapter) Membership(ctx context.Context, workspaceID, userID string) (rbac.Role, error) {
	role, err := a.store.GetMembershipRole(ctx, workspaceID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return rbac.RoleNone, nil
	}
	if err != nil {
		return rbac.RoleNone, err
	}
	return rbac.Normalize(role), nil
}

func (a *metaAdapter) GetTemplateMeta(ctx context.Context, templateID string) (content.TemplateMeta, error) {
	meta, err := a.store.GetTemplateMeta(ctx, templateID)
	if errors.Is(err, sql.ErrNoRows) {
		return content.TemplateMeta{}, docstore.ErrNotFound
	}
	if err != nil {
		return content.TemplateMeta{}, err
	}
	return content.TemplateMeta{
		WorkspaceID: meta.WorkspaceID,
		IsPublic:    meta.IsPublic,
		CreatedBy:   meta.CreatedBy,
	}, nil
}

func (a *metaAdapter) TouchPage(ctx context.Context, pageID string) error {
	return a.store.TouchPageTimestamp(ctx, pageID)
}

// exportAdapter feeds the export service. Access is checked by the HTTP layer
// before an export starts.
type exportAdapter struct {
	service *Service
}

func (a *exportAdapter) GetPageInfo(ctx context.Context, pageID string) (export.PageInfo, error) {
	page, err := a.service.store.GetPage(ctx, pageID)
	if err != nil {
		return export.PageInfo{}, err
	}
	info := export.PageInfo{
		ID:          page.ID,
		Title:       page.Title,
		Icon:        page.Icon,
		WorkspaceID: page.WorkspaceID,
		UpdatedAt:   page.UpdatedAt,
	}
	if current, err := a.service.docs.GetPageContent(ctx, pageID); err == nil {
		if names, err := a.service.store.GetUserNames(ctx, []string{current.LastEditedBy}); err == nil {
			info.EditedBy = names[current.LastEditedBy]
		}
	}
	return info, nil
}

func (a *exportAdapter) GetWorkspaceInfo(ctx context.Context, workspaceID string) (export.WorkspaceInfo, error) {
	workspace, err := a.service.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return export.WorkspaceInfo{}, err
	}
	return export.WorkspaceInfo{ID: workspace.ID, Name: workspace.Name}, nil
}

func (a *exportAdapter) GetPageBlocks(ctx context.Context, pageID string) ([]docstore.Block, error) {
	current, err := a.service.docs.GetPageContent(ctx, pageID)
	if errors.Is(err, docstore.ErrNotFound) {
		return []docstore.Block{}, nil
	}
	if err != nil {
		return nil, err
	}
	return a.service.docs.GetBlocks(ctx, current.BlockIDs)
}

func (a *exportAdapter) ListPageComments(ctx context.Context, pageID string) ([]export.CommentInfo, error) {
	comments, err := a.service.store.ListCommentsByPage(ctx, pageID)
	if err != nil {
		return nil, err
	}
	out := make([]export.CommentInfo, 0, len(comments))
	for _, c := range comments {
		out = append(out, export.CommentInfo{Author: c.AuthorName, Body: c.Body})
	}
	return out, nil
}

// pageText flattens a page's blocks to plain text for search indexing and the
// chat assistant's context window.
func (s *Service) pageText(ctx context.Context, pageID string) (string, error) {
	current, err := s.docs.GetPageContent(ctx, pageID)
	if errors.Is(err, docstore.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	blocks, err := s.docs.GetBlocks(ctx, current.BlockIDs)
	if err != nil {
		return "", err
	}
	text := ""
	for _, block := range blocks {
		if line := export.BlockText(block); line != "" {
			text += line + "\n"
		}
	}
	return text, nil
}

// Index maintenance is best-effort: a search index that lags behind the
// stores is acceptable, a failed request is not.

func (s *Service) indexPage(page store.Page) {
	if s.indexer == nil {
		return
	}
	record := search.PageRecord{ID: page.ID, Title: page.Title, Icon: page.Icon, WorkspaceID: page.WorkspaceID}
	if err := s.indexer.IndexPage(record); err != nil {
		log.Printf("search: index page %s: %v", page.ID, err)
	}
}

func (s *Service) deindexPage(pageID string) {
	if s.indexer == nil {
		return
	}
	if err := s.indexer.DeletePage(pageID); err != nil {
		log.Printf("search: delete page %s: %v", pageID, err)
	}
	if err := s.indexer.DeleteBlocksByPage(pageID); err != nil {
		log.Printf("search: delete blocks of page %s: %v", pageID, err)
	}
}

func (s *Service) indexBlock(block docstore.Block, workspaceID string) {
	if s.indexer == nil {
		return
	}
	record := search.BlockRecord{
		ID:          block.ID,
		Text:        export.BlockText(block),
		Type:        block.Type,
		PageID:      block.PageID,
		WorkspaceID: workspaceID,
	}
	if err := s.indexer.IndexBlock(record); err != nil {
		log.Printf("search: index block %s: %v", block.ID, err)
	}
}

func (s *Service) deindexBlock(blockID string) {
	if s.indexer == nil {
		return
	}
	if err := s.indexer.DeleteBlock(blockID); err != nil {
		log.Printf("search: delete block %s: %v", blockID, err)
	}
}
