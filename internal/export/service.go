package export

import (
	"context"
	"fmt"
	"html/template"

	"ideahive/api/internal/docstore"
)

// DataStore defines the interface for data access
type DataStore interface {
	GetPageInfo(ctx context.Context, pageID string) (PageInfo, error)
	GetWorkspaceInfo(ctx context.Context, workspaceID string) (WorkspaceInfo, error)
	GetPageBlocks(ctx context.Context, pageID string) ([]docstore.Block, error)
	ListPageComments(ctx context.Context, pageID string) ([]CommentInfo, error)
}

// PageInfo holds basic page metadata
type PageInfo struct {
	ID          string
	Title       string
	Icon        string
	WorkspaceID string
	EditedBy    string
	UpdatedAt   interface{} // time.Time or string
}

// WorkspaceInfo holds workspace metadata
type WorkspaceInfo struct {
	ID   string
	Name string
}

// CommentInfo holds comment metadata
type CommentInfo struct {
	Author string
	Body   string
}

// Service provides page export functionality
type Service struct {
	store DataStore
}

// NewService creates a new export service
func NewService(store DataStore) *Service {
	return &Service{store: store}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	pageInfo, err := s.store.GetPageInfo(ctx, req.PageID)
	if err != nil {
		return nil, fmt.Errorf("get page: %w", err)
	}

	workspaceInfo, err := s.store.GetWorkspaceInfo(ctx, pageInfo.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("get workspace: %w", err)
	}

	blocks, err := s.store.GetPageBlocks(ctx, req.PageID)
	if err != nil {
		return nil, fmt.Errorf("get page blocks: %w", err)
	}

	data := TemplateData{
		Title:         pageInfo.Title,
		Icon:          pageInfo.Icon,
		ContentHTML:   template.HTML(BlocksToHTML(blocks)),
		EditedBy:      pageInfo.EditedBy,
		WorkspaceName: workspaceInfo.Name,
		Comments:      []TemplateComment{},
	}
	if data.Title == "" {
		data.Title = "Untitled"
	}

	if req.IncludeComments {
		comments, err := s.store.ListPageComments(ctx, req.PageID)
		if err != nil {
			return nil, fmt.Errorf("list comments: %w", err)
		}
		for _, c := range comments {
			data.Comments = append(data.Comments, TemplateComment{Author: c.Author, Body: c.Body})
		}
	}

	html, err := RenderPageHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch req.Format {
	case FormatHTML:
		return &Result{
			Data:     []byte(html),
			Filename: sanitizeFilename(data.Title) + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	case FormatPDF:
		return exportPDF(html, data.Title)
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
}
