package content

import (
	"context"
	"time"

	"ideahive/api/internal/docstore"
)

// ResolvedContent is a page's content record with its block ids resolved to
// full blocks in display order.
type ResolvedContent struct {
	PageID       string           `json:"pageId"`
	Version      int              `json:"version"`
	Blocks       []docstore.Block `json:"blocks"`
	LastEditedBy string           `json:"lastEditedBy,omitempty"`
	LastEditedAt string           `json:"lastEditedAt,omitempty"`
}

// ReplaceEntry is one block of a full-document replace. A non-empty ID that
// belongs to the page updates that block in place; anything else inserts a
// new block.
type ReplaceEntry struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Content    any            `json:"content"`
	Properties map[string]any `json:"properties"`
	Children   []string       `json:"children"`
}

// GetPageContent returns the current blocks of a page in order. A page that
// has never been edited reads as version 0 with no blocks.
func (e *Engine) GetPageContent(ctx context.Context, pageID, userID string) (ResolvedContent, error) {
	if _, err := e.requireRead(ctx, pageID, userID); err != nil {
		return ResolvedContent{}, err
	}

	current, exists, err := e.loadContent(ctx, pageID)
	if err != nil {
		return ResolvedContent{}, err
	}
	if !exists {
		return ResolvedContent{PageID: pageID, Version: 0, Blocks: []docstore.Block{}}, nil
	}

	blocks, err := e.docs.GetBlocks(ctx, current.BlockIDs)
	if err != nil {
		return ResolvedContent{}, err
	}
	return ResolvedContent{
		PageID:       pageID,
		Version:      current.Version,
		Blocks:       blocks,
		LastEditedBy: current.LastEditedBy,
		LastEditedAt: current.LastEditedAt.Format(time.RFC3339),
	}, nil
}

// ReplacePageContent replaces the whole document in one mutation. Entries
// that reference live blocks of the page are updated in place and keep their
// ids; the rest become new blocks. Live blocks absent from the new list are
// deleted. The result is exactly one version bump regardless of how many
// blocks changed.
func (e *Engine) ReplacePageContent(ctx context.Context, pageID, userID string, entries []ReplaceEntry) (ResolvedContent, error) {
	unlock := e.lockPage(pageID)
	defer unlock()

	if _, err := e.requireEdit(ctx, pageID, userID); err != nil {
		return ResolvedContent{}, err
	}
	for i, entry := range entries {
		if entry.Type == "" {
			return ResolvedContent{}, badRequest("entry %d: block type is required", i)
		}
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

	live := make(map[string]bool, len(current.BlockIDs))
	for _, id := range current.BlockIDs {
		live[id] = true
	}

	kept := make(map[string]bool, len(entries))
	ids := make([]string, 0, len(entries))
	blocks := make([]docstore.Block, 0, len(entries))
	for _, entry := range entries {
		if entry.ID != "" && live[entry.ID] {
			entryType := entry.Type
			content := entry.Content
			props := entry.Properties
			children := entry.Children
			block, err := e.docs.UpdateBlock(ctx, entry.ID, docstore.BlockPatch{
				Type:       &entryType,
				Content:    &content,
				Properties: &props,
				Children:   &children,
			})
			if err != nil {
				return ResolvedContent{}, err
			}
			kept[entry.ID] = true
			ids = append(ids, block.ID)
			blocks = append(blocks, block)
			continue
		}
		block, err := e.docs.InsertBlock(ctx, docstore.Block{
			PageID:     pageID,
			Type:       entry.Type,
			Content:    entry.Content,
			Properties: entry.Properties,
			Children:   entry.Children,
			Position:   len(ids),
			CreatedBy:  userID,
		})
		if err != nil {
			return ResolvedContent{}, err
		}
		ids = append(ids, block.ID)
		blocks = append(blocks, block)
	}

	for _, id := range current.BlockIDs {
		if kept[id] {
			continue
		}
		if err := e.docs.DeleteBlock(ctx, id); err != nil {
			return ResolvedContent{}, err
		}
	}

	committed, err := e.commit(ctx, pageID, current, exists, ids, userID, "content.replaced", "")
	if err != nil {
		return ResolvedContent{}, err
	}
	for i := range blocks {
		blocks[i].Position = i
	}
	return ResolvedContent{
		PageID:       pageID,
		Version:      committed.Version,
		Blocks:       blocks,
		LastEditedBy: committed.LastEditedBy,
		LastEditedAt: committed.LastEditedAt.Format(time.RFC3339),
	}, nil
}

// GetPageHistory lists a page's archived versions, newest first.
func (e *Engine) GetPageHistory(ctx context.Context, pageID, userID string) ([]docstore.HistoryEntry, error) {
	if _, err := e.requireRead(ctx, pageID, userID); err != nil {
		return nil, err
	}
	return e.docs.ListHistory(ctx, pageID)
}

// GetPageVersion returns one archived version exactly as the page read at
// that version.
func (e *Engine) GetPageVersion(ctx context.Context, pageID, userID string, version int) (docstore.HistoryEntry, error) {
	if _, err := e.requireRead(ctx, pageID, userID); err != nil {
		return docstore.HistoryEntry{}, err
	}
	return e.docs.GetHistory(ctx, pageID, version)
}

// RestorePageVersion rewrites the current content to match an archived
// snapshot. Restore is itself a mutation: the pre-restore state is archived
// and the version counter keeps climbing, so history never rewinds.
func (e *Engine) RestorePageVersion(ctx context.Context, pageID, userID string, version int) (ResolvedContent, error) {
	unlock := e.lockPage(pageID)
	defer unlock()

	if _, err := e.requireEdit(ctx, pageID, userID); err != nil {
		return ResolvedContent{}, err
	}

	target, err := e.docs.GetHistory(ctx, pageID, version)
	if err != nil {
		return ResolvedContent{}, err
	}

	current, exists, err := e.loadContent(ctx, pageID)
	if err != nil {
		return ResolvedContent{}, err
	}
	if !exists {
		return ResolvedContent{}, docstore.ErrNotFound
	}
	if err := e.archive(ctx, current); err != nil {
		return ResolvedContent{}, err
	}

	live := make(map[string]bool, len(current.BlockIDs))
	for _, id := range current.BlockIDs {
		live[id] = true
	}

	// Blocks from the snapshot that still exist are overwritten in place and
	// keep their ids; deleted ones are re-minted from the snapshot copy.
	kept := make(map[string]bool, len(target.Blocks))
	ids := make([]string, 0, len(target.Blocks))
	blocks := make([]docstore.Block, 0, len(target.Blocks))
	for _, snapshot := range target.Blocks {
		if live[snapshot.ID] {
			snapType := snapshot.Type
			snapContent := snapshot.Content
			snapProps := snapshot.Properties
			snapChildren := snapshot.Children
			block, err := e.docs.UpdateBlock(ctx, snapshot.ID, docstore.BlockPatch{
				Type:       &snapType,
				Content:    &snapContent,
				Properties: &snapProps,
				Children:   &snapChildren,
			})
			if err != nil {
				return ResolvedContent{}, err
			}
			kept[snapshot.ID] = true
			ids = append(ids, block.ID)
			blocks = append(blocks, block)
			continue
		}
		block, err := e.docs.InsertBlock(ctx, docstore.Block{
			PageID:     pageID,
			Type:       snapshot.Type,
			Content:    snapshot.Content,
			Properties: cloneProperties(snapshot.Properties),
			Children:   append([]string(nil), snapshot.Children...),
			Position:   len(ids),
			CreatedBy:  userID,
		})
		if err != nil {
			return ResolvedContent{}, err
		}
		ids = append(ids, block.ID)
		blocks = append(blocks, block)
	}

	for _, id := range current.BlockIDs {
		if kept[id] {
			continue
		}
		if err := e.docs.DeleteBlock(ctx, id); err != nil {
			return ResolvedContent{}, err
		}
	}

	committed, err := e.commit(ctx, pageID, current, true, ids, userID, "content.restored", "")
	if err != nil {
		return ResolvedContent{}, err
	}
	for i := range blocks {
		blocks[i].Position = i
	}
	return ResolvedContent{
		PageID:       pageID,
		Version:      committed.Version,
		Blocks:       blocks,
		LastEditedBy: committed.LastEditedBy,
		LastEditedAt: committed.LastEditedAt.Format(time.RFC3339),
	}, nil
}
