package content

import (
	"context"
	"time"

	"ideahive/api/internal/docstore"
	"ideahive/api/internal/rbac"
)

// ApplyMode selects what happens to a page's existing blocks when a template
// is applied.
type ApplyMode string

const (
	// ApplyOverwrite discards the page's current blocks before instantiating
	// the template.
	ApplyOverwrite ApplyMode = "overwrite"
	// ApplyAppend keeps the current blocks and adds the template's blocks
	// after them.
	ApplyAppend ApplyMode = "append"
)

// ApplyTemplate instantiates a template's blocks into a page as a single
// mutation. Template blocks always get fresh ids; applying the same template
// to two pages never shares block state between them.
func (e *Engine) ApplyTemplate(ctx context.Context, pageID, templateID, userID string, mode ApplyMode) (ResolvedContent, error) {
	if mode != ApplyOverwrite && mode != ApplyAppend {
		return ResolvedContent{}, badRequest("mode must be %q or %q", ApplyOverwrite, ApplyAppend)
	}

	unlock := e.lockPage(pageID)
	defer unlock()

	pageMeta, err := e.requireEdit(ctx, pageID, userID)
	if err != nil {
		return ResolvedContent{}, err
	}
	if err := e.requireTemplateAccess(ctx, templateID, userID, pageMeta.WorkspaceID); err != nil {
		return ResolvedContent{}, err
	}

	template, err := e.docs.GetTemplateContent(ctx, templateID)
	if err != nil {
		return ResolvedContent{}, err
	}

	current, exists, err := e.loadContent(ctx, pageID)
	if err != nil {
		return ResolvedContent{}, err
	}
	if exists {
		if err := e.archive(ctx, current); err != nil {
			return ResolvedContent{}, err
		}
	}

	var ids []string
	if mode == ApplyOverwrite {
		if err := e.docs.DeleteBlocksByPage(ctx, pageID); err != nil {
			return ResolvedContent{}, err
		}
	} else {
		ids = append(ids, current.BlockIDs...)
	}

	for _, tb := range template.Blocks {
		block, err := e.docs.InsertBlock(ctx, docstore.Block{
			PageID:     pageID,
			Type:       tb.Type,
			Content:    tb.Content,
			Properties: cloneProperties(tb.Properties),
			Children:   append([]string(nil), tb.Children...),
			Position:   len(ids),
			CreatedBy:  userID,
		})
		if err != nil {
			return ResolvedContent{}, err
		}
		ids = append(ids, block.ID)
	}

	committed, err := e.commit(ctx, pageID, current, exists, ids, userID, "template.applied", "")
	if err != nil {
		return ResolvedContent{}, err
	}

	blocks, err := e.docs.GetBlocks(ctx, ids)
	if err != nil {
		return ResolvedContent{}, err
	}
	return ResolvedContent{
		PageID:       pageID,
		Version:      committed.Version,
		Blocks:       blocks,
		LastEditedBy: committed.LastEditedBy,
		LastEditedAt: committed.LastEditedAt.Format(time.RFC3339),
	}, nil
}

// SnapshotPage copies a page's current blocks into identity-free template
// blocks, for saving the page as a reusable template.
func (e *Engine) SnapshotPage(ctx context.Context, pageID, userID string) ([]docstore.TemplateBlock, error) {
	if _, err := e.requireRead(ctx, pageID, userID); err != nil {
		return nil, err
	}

	current, exists, err := e.loadContent(ctx, pageID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return []docstore.TemplateBlock{}, nil
	}

	blocks, err := e.docs.GetBlocks(ctx, current.BlockIDs)
	if err != nil {
		return nil, err
	}
	out := make([]docstore.TemplateBlock, 0, len(blocks))
	for _, block := range blocks {
		out = append(out, docstore.TemplateBlock{
			Type:       block.Type,
			Content:    block.Content,
			Properties: cloneProperties(block.Properties),
			Children:   append([]string(nil), block.Children...),
		})
	}
	return out, nil
}

// SeedPage writes the first content of a brand-new page from an identity-free
// block snapshot, minting fresh block ids. Seeding a page that already has
// content returns docstore.ErrConflict.
func (e *Engine) SeedPage(ctx context.Context, pageID, userID string, snapshot []docstore.TemplateBlock) (ResolvedContent, error) {
	unlock := e.lockPage(pageID)
	defer unlock()

	if _, err := e.requireEdit(ctx, pageID, userID); err != nil {
		return ResolvedContent{}, err
	}

	current, exists, err := e.loadContent(ctx, pageID)
	if err != nil {
		return ResolvedContent{}, err
	}
	if exists {
		return ResolvedContent{}, docstore.ErrConflict
	}

	ids := make([]string, 0, len(snapshot))
	blocks := make([]docstore.Block, 0, len(snapshot))
	for _, tb := range snapshot {
		block, err := e.docs.InsertBlock(ctx, docstore.Block{
			PageID:     pageID,
			Type:       tb.Type,
			Content:    tb.Content,
			Properties: cloneProperties(tb.Properties),
			Children:   append([]string(nil), tb.Children...),
			Position:   len(ids),
			CreatedBy:  userID,
		})
		if err != nil {
			return ResolvedContent{}, err
		}
		ids = append(ids, block.ID)
		blocks = append(blocks, block)
	}

	committed, err := e.commit(ctx, pageID, current, false, ids, userID, "content.seeded", "")
	if err != nil {
		return ResolvedContent{}, err
	}
	return ResolvedContent{
		PageID:       pageID,
		Version:      committed.Version,
		Blocks:       blocks,
		LastEditedBy: committed.LastEditedBy,
		LastEditedAt: committed.LastEditedAt.Format(time.RFC3339),
	}, nil
}

// requireTemplateAccess allows public templates to anyone, workspace
// templates to members of that workspace when it matches the target page's
// workspace, and private templates to their creator.
func (e *Engine) requireTemplateAccess(ctx context.Context, templateID, userID, pageWorkspaceID string) error {
	meta, err := e.meta.GetTemplateMeta(ctx, templateID)
	if err != nil {
		return err
	}
	if meta.IsPublic || meta.CreatedBy == userID {
		return nil
	}
	if meta.WorkspaceID != nil && *meta.WorkspaceID == pageWorkspaceID {
		role, err := e.meta.Membership(ctx, *meta.WorkspaceID, userID)
		if err != nil {
			return err
		}
		if rbac.AtLeast(role, rbac.RoleViewer) {
			return nil
		}
	}
	return ErrForbidden
}
