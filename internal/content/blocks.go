package content

import (
	"context"
	"errors"

	"ideahive/api/internal/docstore"
)

// CreateBlockInput carries the caller-supplied fields of a new block.
// Position nil means append at the end.
type CreateBlockInput struct {
	Type       string
	Content    any
	Properties map[string]any
	Children   []string
	Position   *int
}

// CreateBlock inserts a block into a page at the requested position and
// bumps the page version. The first block of a page creates the content
// record at version 1.
func (e *Engine) CreateBlock(ctx context.Context, pageID, userID string, in CreateBlockInput) (docstore.Block, docstore.PageContent, error) {
	if in.Type == "" {
		return docstore.Block{}, docstore.PageContent{}, badRequest("block type is required")
	}

	unlock := e.lockPage(pageID)
	defer unlock()

	if _, err := e.requireEdit(ctx, pageID, userID); err != nil {
		return docstore.Block{}, docstore.PageContent{}, err
	}

	current, exists, err := e.loadContent(ctx, pageID)
	if err != nil {
		return docstore.Block{}, docstore.PageContent{}, err
	}

	target := len(current.BlockIDs)
	if in.Position != nil {
		if *in.Position < 0 {
			return docstore.Block{}, docstore.PageContent{}, badRequest("position must not be negative")
		}
		if *in.Position < target {
			target = *in.Position
		}
	}

	if exists {
		if err := e.archive(ctx, current); err != nil {
			return docstore.Block{}, docstore.PageContent{}, err
		}
	}

	block, err := e.docs.InsertBlock(ctx, docstore.Block{
		PageID:     pageID,
		Type:       in.Type,
		Content:    in.Content,
		Properties: in.Properties,
		Children:   in.Children,
		Position:   target,
		CreatedBy:  userID,
	})
	if err != nil {
		return docstore.Block{}, docstore.PageContent{}, err
	}

	ids := insertAt(current.BlockIDs, target, block.ID)
	committed, err := e.commit(ctx, pageID, current, exists, ids, userID, "block.created", block.ID)
	if err != nil {
		return docstore.Block{}, docstore.PageContent{}, err
	}
	block.Position = target
	return block, committed, nil
}

// GetBlock returns a single block, subject to read access on its page.
func (e *Engine) GetBlock(ctx context.Context, blockID, userID string) (docstore.Block, error) {
	block, err := e.docs.GetBlock(ctx, blockID)
	if err != nil {
		return docstore.Block{}, err
	}
	if _, err := e.requireRead(ctx, block.PageID, userID); err != nil {
		return docstore.Block{}, err
	}
	return block, nil
}

// UpdateBlock merges the patch into the block and bumps the page version.
// Position is not part of the patch; moves go through UpdateBlockPosition.
func (e *Engine) UpdateBlock(ctx context.Context, blockID, userID string, patch docstore.BlockPatch) (docstore.Block, docstore.PageContent, error) {
	existing, err := e.docs.GetBlock(ctx, blockID)
	if err != nil {
		return docstore.Block{}, docstore.PageContent{}, err
	}

	unlock := e.lockPage(existing.PageID)
	defer unlock()

	if _, err := e.requireEdit(ctx, existing.PageID, userID); err != nil {
		return docstore.Block{}, docstore.PageContent{}, err
	}

	current, exists, err := e.loadContent(ctx, existing.PageID)
	if err != nil {
		return docstore.Block{}, docstore.PageContent{}, err
	}
	if !exists || indexOf(current.BlockIDs, blockID) < 0 {
		return docstore.Block{}, docstore.PageContent{}, docstore.ErrNotFound
	}

	if err := e.archive(ctx, current); err != nil {
		return docstore.Block{}, docstore.PageContent{}, err
	}

	block, err := e.docs.UpdateBlock(ctx, blockID, patch)
	if err != nil {
		return docstore.Block{}, docstore.PageContent{}, err
	}

	committed, err := e.commit(ctx, existing.PageID, current, true, current.BlockIDs, userID, "block.updated", blockID)
	if err != nil {
		return docstore.Block{}, docstore.PageContent{}, err
	}
	return block, committed, nil
}

// DeleteBlock removes a block, closes the positional gap and bumps the page
// version. The deleted block's content survives in the history snapshot
// taken before the delete.
func (e *Engine) DeleteBlock(ctx context.Context, blockID, userID string) (docstore.PageContent, error) {
	existing, err := e.docs.GetBlock(ctx, blockID)
	if err != nil {
		return docstore.PageContent{}, err
	}

	unlock := e.lockPage(existing.PageID)
	defer unlock()

	if _, err := e.requireEdit(ctx, existing.PageID, userID); err != nil {
		return docstore.PageContent{}, err
	}

	current, exists, err := e.loadContent(ctx, existing.PageID)
	if err != nil {
		return docstore.PageContent{}, err
	}
	index := -1
	if exists {
		index = indexOf(current.BlockIDs, blockID)
	}
	if index < 0 {
		return docstore.PageContent{}, docstore.ErrNotFound
	}

	if err := e.archive(ctx, current); err != nil {
		return docstore.PageContent{}, err
	}
	if err := e.docs.DeleteBlock(ctx, blockID); err != nil {
		return docstore.PageContent{}, err
	}

	ids := removeAt(current.BlockIDs, index)
	return e.commit(ctx, existing.PageID, current, true, ids, userID, "block.deleted", blockID)
}

// UpdateBlockPosition moves a block to a new position within its page. The
// returned bool reports whether the page changed: moving a block to the
// position it already occupies is a no-op with no version bump and no
// history entry.
func (e *Engine) UpdateBlockPosition(ctx context.Context, blockID, userID string, position int) (docstore.PageContent, bool, error) {
	existing, err := e.docs.GetBlock(ctx, blockID)
	if err != nil {
		return docstore.PageContent{}, false, err
	}

	unlock := e.lockPage(existing.PageID)
	defer unlock()

	if _, err := e.requireEdit(ctx, existing.PageID, userID); err != nil {
		return docstore.PageContent{}, false, err
	}

	current, exists, err := e.loadContent(ctx, existing.PageID)
	if err != nil {
		return docstore.PageContent{}, false, err
	}
	index := -1
	if exists {
		index = indexOf(current.BlockIDs, blockID)
	}
	if index < 0 {
		return docstore.PageContent{}, false, docstore.ErrNotFound
	}
	if position < 0 || position >= len(current.BlockIDs) {
		return docstore.PageContent{}, false, badRequest("position %d out of range [0,%d)", position, len(current.BlockIDs))
	}
	if position == index {
		return current, false, nil
	}

	if err := e.archive(ctx, current); err != nil {
		return docstore.PageContent{}, false, err
	}

	ids := insertAt(removeAt(current.BlockIDs, index), position, blockID)
	next, err := e.commit(ctx, existing.PageID, current, true, ids, userID, "block.moved", blockID)
	if err != nil {
		return docstore.PageContent{}, false, err
	}
	return next, true, nil
}

// DuplicateBlock inserts a copy of the block, with a fresh id, immediately
// after the original. Every other block keeps its relative order.
func (e *Engine) DuplicateBlock(ctx context.Context, blockID, userID string) (docstore.Block, docstore.PageContent, error) {
	original, err := e.docs.GetBlock(ctx, blockID)
	if err != nil {
		return docstore.Block{}, docstore.PageContent{}, err
	}

	unlock := e.lockPage(original.PageID)
	defer unlock()

	if _, err := e.requireEdit(ctx, original.PageID, userID); err != nil {
		return docstore.Block{}, docstore.PageContent{}, err
	}

	current, exists, err := e.loadContent(ctx, original.PageID)
	if err != nil {
		return docstore.Block{}, docstore.PageContent{}, err
	}
	index := -1
	if exists {
		index = indexOf(current.BlockIDs, blockID)
	}
	if index < 0 {
		return docstore.Block{}, docstore.PageContent{}, docstore.ErrNotFound
	}

	if err := e.archive(ctx, current); err != nil {
		return docstore.Block{}, docstore.PageContent{}, err
	}

	copied, err := e.docs.InsertBlock(ctx, docstore.Block{
		PageID:     original.PageID,
		Type:       original.Type,
		Content:    original.Content,
		Properties: cloneProperties(original.Properties),
		Children:   append([]string(nil), original.Children...),
		Position:   index + 1,
		CreatedBy:  userID,
	})
	if err != nil {
		return docstore.Block{}, docstore.PageContent{}, err
	}

	ids := insertAt(current.BlockIDs, index+1, copied.ID)
	committed, err := e.commit(ctx, original.PageID, current, true, ids, userID, "block.duplicated", copied.ID)
	if err != nil {
		return docstore.Block{}, docstore.PageContent{}, err
	}
	copied.Position = index + 1
	return copied, committed, nil
}

func cloneProperties(props map[string]any) map[string]any {
	if props == nil {
		return nil
	}
	out := make(map[string]any, len(props))
	for key, value := range props {
		out[key] = value
	}
	return out
}

// IsConflict reports whether an error chain contains a version conflict.
func IsConflict(err error) bool {
	return errors.Is(err, docstore.ErrConflict)
}
