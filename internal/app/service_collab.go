package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ideahive/api/internal/chat"
	"ideahive/api/internal/docstore"
	"ideahive/api/internal/export"
	"ideahive/api/internal/rbac"
	"ideahive/api/internal/search"
	"ideahive/api/internal/store"
	"ideahive/api/internal/util"
)

// --- Templates ---

type CreateTemplateInput struct {
	Name     string
	Category string
	IsPublic bool
}

// CreateTemplateFromPage snapshots a page's blocks into a reusable template.
// Metadata lives in the relational store, the block snapshot in the document
// store under the same id.
func (s *Service) CreateTemplateFromPage(ctx context.Context, session Session, pageID string, in CreateTemplateInput) (store.TemplateMeta, error) {
	page, err := s.requirePageEdit(ctx, pageID, session.UserID)
	if err != nil {
		return store.TemplateMeta{}, err
	}
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return store.TemplateMeta{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}

	snapshot, err := s.engine.SnapshotPage(ctx, pageID, session.UserID)
	if err != nil {
		return store.TemplateMeta{}, err
	}

	workspaceID := page.WorkspaceID
	meta := store.TemplateMeta{
		ID:          util.NewID("tpl"),
		Name:        in.Name,
		Category:    in.Category,
		WorkspaceID: &workspaceID,
		IsPublic:    in.IsPublic,
		CreatedBy:   session.UserID,
	}
	if err := s.store.InsertTemplateMeta(ctx, meta); err != nil {
		return store.TemplateMeta{}, fmt.Errorf("insert template: %w", err)
	}
	if err := s.docs.PutTemplateContent(ctx, docstore.TemplateContent{TemplateID: meta.ID, Blocks: snapshot}); err != nil {
		return store.TemplateMeta{}, fmt.Errorf("store template content: %w", err)
	}
	return meta, nil
}

// ListTemplates returns the templates visible to the caller in a workspace:
// public ones, the workspace's own, and the caller's private ones.
func (s *Service) ListTemplates(ctx context.Context, userID, workspaceID string) ([]store.TemplateMeta, error) {
	if workspaceID != "" {
		role, err := s.workspaceRole(ctx, workspaceID, userID)
		if err != nil {
			return nil, err
		}
		if !rbac.Can(role, rbac.ActionRead) {
			return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		}
	}
	return s.store.ListVisibleTemplates(ctx, workspaceID, userID)
}

func (s *Service) GetTemplate(ctx context.Context, session Session, templateID string) (store.TemplateMeta, []docstore.TemplateBlock, error) {
	meta, err := s.store.GetTemplateMeta(ctx, templateID)
	if err != nil {
		return store.TemplateMeta{}, nil, err
	}
	if err := s.requireTemplateRead(ctx, meta, session.UserID); err != nil {
		return store.TemplateMeta{}, nil, err
	}
	tc, err := s.docs.GetTemplateContent(ctx, templateID)
	if err != nil {
		return store.TemplateMeta{}, nil, err
	}
	return meta, tc.Blocks, nil
}

func (s *Service) DeleteTemplate(ctx context.Context, session Session, templateID string) error {
	meta, err := s.store.GetTemplateMeta(ctx, templateID)
	if err != nil {
		return err
	}
	allowed := meta.CreatedBy == session.UserID
	if !allowed && meta.WorkspaceID != nil {
		role, err := s.workspaceRole(ctx, *meta.WorkspaceID, session.UserID)
		if err != nil {
			return err
		}
		allowed = rbac.Can(role, rbac.ActionManage)
	}
	if !allowed {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	if err := s.store.DeleteTemplateMeta(ctx, templateID); err != nil {
		return err
	}
	return s.docs.DeleteTemplateContent(ctx, templateID)
}

func (s *Service) requireTemplateRead(ctx context.Context, meta store.TemplateMeta, userID string) error {
	if meta.IsPublic || meta.CreatedBy == userID {
		return nil
	}
	if meta.WorkspaceID != nil {
		role, err := s.workspaceRole(ctx, *meta.WorkspaceID, userID)
		if err != nil {
			return err
		}
		if rbac.Can(role, rbac.ActionRead) {
			return nil
		}
	}
	return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
}

// --- Comments ---

func (s *Service) AddComment(ctx context.Context, session Session, pageID, blockID, body string) (store.Comment, error) {
	if _, err := s.requirePageEdit(ctx, pageID, session.UserID); err != nil {
		return store.Comment{}, err
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return store.Comment{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "body is required", nil)
	}

	comment := store.Comment{
		ID:       util.NewID("cmt"),
		PageID:   pageID,
		BlockID:  blockID,
		AuthorID: session.UserID,
		Body:     body,
	}
	if err := s.store.InsertComment(ctx, comment); err != nil {
		return store.Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	return s.store.GetComment(ctx, comment.ID)
}

// ListComments returns a page's comments along with per-comment reaction
// counts.
func (s *Service) ListComments(ctx context.Context, pageID, userID string) ([]store.Comment, []store.CommentReactionCount, error) {
	if _, err := s.requirePageRead(ctx, pageID, userID); err != nil {
		return nil, nil, err
	}
	comments, err := s.store.ListCommentsByPage(ctx, pageID)
	if err != nil {
		return nil, nil, err
	}
	reactions, err := s.store.ListCommentReactionCounts(ctx, pageID)
	if err != nil {
		return nil, nil, err
	}
	return comments, reactions, nil
}

func (s *Service) UpdateComment(ctx context.Context, session Session, commentID, body string) (store.Comment, error) {
	comment, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		return store.Comment{}, err
	}
	if comment.AuthorID != session.UserID {
		return store.Comment{}, domainError(http.StatusForbidden, "FORBIDDEN", "Only the author can edit a comment", nil)
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return store.Comment{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "body is required", nil)
	}
	if err := s.store.UpdateComment(ctx, commentID, body); err != nil {
		return store.Comment{}, err
	}
	return s.store.GetComment(ctx, commentID)
}

func (s *Service) DeleteComment(ctx context.Context, session Session, commentID string) error {
	comment, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		return err
	}
	if comment.AuthorID != session.UserID {
		page, err := s.store.GetPage(ctx, comment.PageID)
		if err != nil {
			return err
		}
		role, err := s.workspaceRole(ctx, page.WorkspaceID, session.UserID)
		if err != nil {
			return err
		}
		if !rbac.Can(role, rbac.ActionManage) {
			return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		}
	}
	return s.store.DeleteComment(ctx, commentID)
}

func (s *Service) ToggleCommentReaction(ctx context.Context, session Session, commentID, emoji string) error {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "emoji is required", nil)
	}
	comment, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		return err
	}
	if _, err := s.requirePageRead(ctx, comment.PageID, session.UserID); err != nil {
		return err
	}
	return s.store.ToggleCommentReaction(ctx, commentID, session.UserID, emoji)
}

// --- Attachments ---

const presignTTL = 15 * time.Minute

func (s *Service) UploadAttachment(ctx context.Context, session Session, pageID, name, contentType string, size int64, reader io.Reader) (store.Attachment, error) {
	if s.files == nil {
		return store.Attachment{}, domainError(http.StatusServiceUnavailable, "ATTACHMENTS_UNAVAILABLE", "Attachment storage not configured", nil)
	}
	if _, err := s.requirePageEdit(ctx, pageID, session.UserID); err != nil {
		return store.Attachment{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Attachment{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "filename is required", nil)
	}

	attachment := store.Attachment{
		ID:          util.NewID("att"),
		PageID:      pageID,
		Name:        name,
		ObjectKey:   pageID + "/" + util.NewID("obj") + "-" + name,
		ContentType: contentType,
		Size:        size,
		UploadedBy:  session.UserID,
	}
	if err := s.files.Upload(ctx, attachment.ObjectKey, reader, size, contentType); err != nil {
		return store.Attachment{}, err
	}
	if err := s.store.InsertAttachment(ctx, attachment); err != nil {
		return store.Attachment{}, fmt.Errorf("insert attachment: %w", err)
	}
	return attachment, nil
}

func (s *Service) ListAttachments(ctx context.Context, pageID, userID string) ([]store.Attachment, error) {
	if _, err := s.requirePageRead(ctx, pageID, userID); err != nil {
		return nil, err
	}
	return s.store.ListAttachmentsByPage(ctx, pageID)
}

// AttachmentURL returns a time-limited download URL for an attachment.
func (s *Service) AttachmentURL(ctx context.Context, session Session, attachmentID string) (string, error) {
	if s.files == nil {
		return "", domainError(http.StatusServiceUnavailable, "ATTACHMENTS_UNAVAILABLE", "Attachment storage not configured", nil)
	}
	attachment, err := s.store.GetAttachment(ctx, attachmentID)
	if err != nil {
		return "", err
	}
	if _, err := s.requirePageRead(ctx, attachment.PageID, session.UserID); err != nil {
		return "", err
	}
	signed, err := s.files.PresignedGet(ctx, attachment.ObjectKey, presignTTL)
	if err != nil {
		return "", err
	}
	return signed.String(), nil
}

func (s *Service) DeleteAttachment(ctx context.Context, session Session, attachmentID string) error {
	attachment, err := s.store.GetAttachment(ctx, attachmentID)
	if err != nil {
		return err
	}
	if attachment.UploadedBy != session.UserID {
		page, err := s.store.GetPage(ctx, attachment.PageID)
		if err != nil {
			return err
		}
		role, err := s.workspaceRole(ctx, page.WorkspaceID, session.UserID)
		if err != nil {
			return err
		}
		if !rbac.Can(role, rbac.ActionManage) {
			return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		}
	}
	if s.files != nil {
		if err := s.files.Remove(ctx, attachment.ObjectKey); err != nil {
			// The metadata row is authoritative; an orphaned object is
			// harmless and reclaimable.
			return err
		}
	}
	return s.store.DeleteAttachment(ctx, attachmentID)
}

// --- Search ---

// Search runs a full-text query scoped to the caller's workspaces, on the
// primary backend when it is healthy and the fallback otherwise.
func (s *Service) Search(ctx context.Context, userID, text, filterType string, limit, offset int) (search.Response, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	var ftype search.ResultType
	switch filterType {
	case "":
	case string(search.ResultPage), string(search.ResultBlock):
		ftype = search.ResultType(filterType)
	default:
		return search.Response{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "type must be page or block", nil)
	}

	workspaces, err := s.store.ListWorkspacesForUser(ctx, userID)
	if err != nil {
		return search.Response{}, err
	}
	if len(workspaces) == 0 {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	ids := make([]string, 0, len(workspaces))
	for _, ws := range workspaces {
		ids = append(ids, ws.ID)
	}

	backend := s.fallback
	if s.search != nil && s.search.Healthy() {
		backend = s.search
	}
	if backend == nil {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}

	results, total, err := backend.Search(search.Query{
		Text:         text,
		FilterType:   ftype,
		WorkspaceIDs: ids,
		Limit:        limit,
		Offset:       offset,
	})
	if err != nil {
		return search.Response{}, err
	}
	if results == nil {
		results = []search.Result{}
	}
	return search.Response{Results: results, Total: total, Query: text}, nil
}

// --- Export ---

func (s *Service) ExportPage(ctx context.Context, session Session, pageID string, format export.Format, includeComments bool) (*export.Result, error) {
	if _, err := s.requirePageRead(ctx, pageID, session.UserID); err != nil {
		return nil, err
	}
	return s.exporter.Export(ctx, export.Request{
		PageID:          pageID,
		Format:          format,
		IncludeComments: includeComments,
	})
}

// --- Chat assistant ---

func (s *Service) ChatAsk(ctx context.Context, session Session, pageID, question string) (string, error) {
	if s.chat == nil {
		return "", chat.ErrDisabled
	}
	if _, err := s.requirePageRead(ctx, pageID, session.UserID); err != nil {
		return "", err
	}
	text, err := s.pageText(ctx, pageID)
	if err != nil {
		return "", err
	}
	return s.chat.Ask(ctx, pageID, session.UserID, question, text)
}

func (s *Service) ChatHistory(ctx context.Context, session Session, pageID string) ([]chat.Message, error) {
	if s.chat == nil {
		return nil, chat.ErrDisabled
	}
	if _, err := s.requirePageRead(ctx, pageID, session.UserID); err != nil {
		return nil, err
	}
	history := s.chat.History(pageID, session.UserID)
	if history == nil {
		history = []chat.Message{}
	}
	return history, nil
}

func (s *Service) ChatReset(ctx context.Context, session Session, pageID string) error {
	if s.chat == nil {
		return chat.ErrDisabled
	}
	if _, err := s.requirePageRead(ctx, pageID, session.UserID); err != nil {
		return err
	}
	s.chat.Reset(pageID, session.UserID)
	return nil
}
