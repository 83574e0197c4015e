package app

import (
	"context"
	"log"

	"ideahive/api/internal/content"
	"ideahive/api/internal/docstore"
)

// The content operations delegate to the engine, which owns permissions, the
// per-page lock and the version protocol. This layer only keeps the search
// index in step with committed mutations.

func (s *Service) CreateBlock(ctx context.Context, session Session, pageID string, in content.CreateBlockInput) (docstore.Block, docstore.PageContent, error) {
	block, pc, err := s.engine.CreateBlock(ctx, pageID, session.UserID, in)
	if err != nil {
		return docstore.Block{}, docstore.PageContent{}, err
	}
	s.indexBlockOnPage(ctx, block)
	return block, pc, nil
}

func (s *Service) GetBlock(ctx context.Context, session Session, blockID string) (docstore.Block, error) {
	return s.engine.GetBlock(ctx, blockID, session.UserID)
}

func (s *Service) UpdateBlock(ctx context.Context, session Session, blockID string, patch docstore.BlockPatch) (docstore.Block, docstore.PageContent, error) {
	block, pc, err := s.engine.UpdateBlock(ctx, blockID, session.UserID, patch)
	if err != nil {
		return docstore.Block{}, docstore.PageContent{}, err
	}
	s.indexBlockOnPage(ctx, block)
	return block, pc, nil
}

func (s *Service) DeleteBlock(ctx context.Context, session Session, blockID string) (docstore.PageContent, error) {
	pc, err := s.engine.DeleteBlock(ctx, blockID, session.UserID)
	if err != nil {
		return docstore.PageContent{}, err
	}
	s.deindexBlock(blockID)
	return pc, nil
}

// MoveBlock repositions a block. The bool reports whether the page actually
// changed; a move to the current position leaves the version alone.
func (s *Service) MoveBlock(ctx context.Context, session Session, blockID string, position int) (docstore.PageContent, bool, error) {
	return s.engine.UpdateBlockPosition(ctx, blockID, session.UserID, position)
}

func (s *Service) DuplicateBlock(ctx context.Context, session Session, blockID string) (docstore.Block, docstore.PageContent, error) {
	block, pc, err := s.engine.DuplicateBlock(ctx, blockID, session.UserID)
	if err != nil {
		return docstore.Block{}, docstore.PageContent{}, err
	}
	s.indexBlockOnPage(ctx, block)
	return block, pc, nil
}

func (s *Service) GetPageContent(ctx context.Context, session Session, pageID string) (content.ResolvedContent, error) {
	return s.engine.GetPageContent(ctx, pageID, session.UserID)
}

func (s *Service) ReplacePageContent(ctx context.Context, session Session, pageID string, entries []content.ReplaceEntry) (content.ResolvedContent, error) {
	resolved, err := s.engine.ReplacePageContent(ctx, pageID, session.UserID, entries)
	if err != nil {
		return content.ResolvedContent{}, err
	}
	s.reindexPageBlocks(ctx, pageID, resolved.Blocks)
	return resolved, nil
}

// GetPageHistory returns a page's archived versions together with the display
// names of their editors, keyed by user id.
func (s *Service) GetPageHistory(ctx context.Context, session Session, pageID string) ([]docstore.HistoryEntry, map[string]string, error) {
	entries, err := s.engine.GetPageHistory(ctx, pageID, session.UserID)
	if err != nil {
		return nil, nil, err
	}
	seen := make(map[string]bool, len(entries))
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !seen[entry.EditedBy] {
			seen[entry.EditedBy] = true
			ids = append(ids, entry.EditedBy)
		}
	}
	return entries, s.editorNames(ctx, ids), nil
}

func (s *Service) GetPageVersion(ctx context.Context, session Session, pageID string, version int) (docstore.HistoryEntry, string, error) {
	entry, err := s.engine.GetPageVersion(ctx, pageID, session.UserID, version)
	if err != nil {
		return docstore.HistoryEntry{}, "", err
	}
	return entry, s.editorNames(ctx, []string{entry.EditedBy})[entry.EditedBy], nil
}

// editorNames resolves user ids to display names. The lookup is best-effort:
// on failure, or for deleted accounts, the raw id stands in.
func (s *Service) editorNames(ctx context.Context, userIDs []string) map[string]string {
	names, err := s.store.GetUserNames(ctx, userIDs)
	if err != nil {
		log.Printf("content: resolve editor names: %v", err)
		names = nil
	}
	if names == nil {
		names = make(map[string]string, len(userIDs))
	}
	for _, id := range userIDs {
		if _, ok := names[id]; !ok {
			names[id] = id
		}
	}
	return names
}

func (s *Service) RestorePageVersion(ctx context.Context, session Session, pageID string, version int) (content.ResolvedContent, error) {
	resolved, err := s.engine.RestorePageVersion(ctx, pageID, session.UserID, version)
	if err != nil {
		return content.ResolvedContent{}, err
	}
	s.reindexPageBlocks(ctx, pageID, resolved.Blocks)
	return resolved, nil
}

func (s *Service) ApplyTemplate(ctx context.Context, session Session, pageID, templateID string, mode content.ApplyMode) (content.ResolvedContent, error) {
	resolved, err := s.engine.ApplyTemplate(ctx, pageID, templateID, session.UserID, mode)
	if err != nil {
		return content.ResolvedContent{}, err
	}
	s.reindexPageBlocks(ctx, pageID, resolved.Blocks)
	return resolved, nil
}

func (s *Service) indexBlockOnPage(ctx context.Context, block docstore.Block) {
	if s.indexer == nil {
		return
	}
	page, err := s.store.GetPage(ctx, block.PageID)
	if err != nil {
		log.Printf("search: resolve workspace of page %s: %v", block.PageID, err)
		return
	}
	s.indexBlock(block, page.WorkspaceID)
}

// reindexPageBlocks rebuilds a page's block index entries after a whole-page
// mutation, dropping entries for blocks the mutation deleted.
func (s *Service) reindexPageBlocks(ctx context.Context, pageID string, blocks []docstore.Block) {
	if s.indexer == nil {
		return
	}
	page, err := s.store.GetPage(ctx, pageID)
	if err != nil {
		log.Printf("search: resolve workspace of page %s: %v", pageID, err)
		return
	}
	if err := s.indexer.DeleteBlocksByPage(pageID); err != nil {
		log.Printf("search: clear blocks of page %s: %v", pageID, err)
	}
	for _, block := range blocks {
		s.indexBlock(block, page.WorkspaceID)
	}
}
