package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"ideahive/api/internal/rbac"
	"ideahive/api/internal/store"
	"ideahive/api/internal/util"
)

// requirePageRead loads a page if the caller may read it: public pages are
// open to anyone, private pages to workspace members.
func (s *Service) requirePageRead(ctx context.Context, pageID, userID string) (store.Page, error) {
	page, err := s.store.GetPage(ctx, pageID)
	if err != nil {
		return store.Page{}, err
	}
	if page.IsPublic {
		return page, nil
	}
	role, err := s.workspaceRole(ctx, page.WorkspaceID, userID)
	if err != nil {
		return store.Page{}, err
	}
	if !rbac.Can(role, rbac.ActionRead) {
		return store.Page{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	return page, nil
}

// requirePageEdit loads a page if the caller holds at least MEMBER in its
// workspace.
func (s *Service) requirePageEdit(ctx context.Context, pageID, userID string) (store.Page, error) {
	page, err := s.store.GetPage(ctx, pageID)
	if err != nil {
		return store.Page{}, err
	}
	role, err := s.workspaceRole(ctx, page.WorkspaceID, userID)
	if err != nil {
		return store.Page{}, err
	}
	if !rbac.Can(role, rbac.ActionWrite) {
		return store.Page{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	return page, nil
}

type CreatePageInput struct {
	Title        string
	Icon         string
	ParentPageID string
	IsPublic     bool
}

func (s *Service) CreatePage(ctx context.Context, session Session, workspaceID string, in CreatePageInput) (store.Page, error) {
	role, err := s.workspaceRole(ctx, workspaceID, session.UserID)
	if err != nil {
		return store.Page{}, err
	}
	if !rbac.Can(role, rbac.ActionWrite) {
		return store.Page{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	page := store.Page{
		ID:          util.NewID("pg"),
		WorkspaceID: workspaceID,
		Title:       strings.TrimSpace(in.Title),
		Icon:        in.Icon,
		IsPublic:    in.IsPublic,
		CreatedBy:   session.UserID,
	}
	if in.ParentPageID != "" {
		parent, err := s.store.GetPage(ctx, in.ParentPageID)
		if err != nil {
			return store.Page{}, err
		}
		if parent.WorkspaceID != workspaceID {
			return store.Page{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "parent page belongs to another workspace", nil)
		}
		page.ParentPageID = &in.ParentPageID
	}
	if err := s.store.InsertPage(ctx, page); err != nil {
		return store.Page{}, fmt.Errorf("insert page: %w", err)
	}
	s.indexPage(page)
	return page, nil
}

// GetPage returns a page and whether the caller has it favorited.
func (s *Service) GetPage(ctx context.Context, pageID, userID string) (store.Page, bool, error) {
	page, err := s.requirePageRead(ctx, pageID, userID)
	if err != nil {
		return store.Page{}, false, err
	}
	favorite, err := s.store.IsFavorite(ctx, userID, pageID)
	if err != nil {
		return store.Page{}, false, err
	}
	return page, favorite, nil
}

func (s *Service) ListPages(ctx context.Context, workspaceID, userID string) ([]store.Page, error) {
	role, err := s.workspaceRole(ctx, workspaceID, userID)
	if err != nil {
		return nil, err
	}
	if !rbac.Can(role, rbac.ActionRead) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	return s.store.ListPagesByWorkspace(ctx, workspaceID)
}

type UpdatePageInput struct {
	Title    *string
	Icon     *string
	IsPublic *bool
}

func (s *Service) UpdatePage(ctx context.Context, session Session, pageID string, in UpdatePageInput) (store.Page, error) {
	page, err := s.requirePageEdit(ctx, pageID, session.UserID)
	if err != nil {
		return store.Page{}, err
	}
	if in.Title != nil {
		page.Title = strings.TrimSpace(*in.Title)
	}
	if in.Icon != nil {
		page.Icon = *in.Icon
	}
	if in.IsPublic != nil {
		page.IsPublic = *in.IsPublic
	}
	if err := s.store.UpdatePageMeta(ctx, pageID, page.Title, page.Icon, page.IsPublic); err != nil {
		return store.Page{}, err
	}
	s.indexPage(page)
	return s.store.GetPage(ctx, pageID)
}

// DeletePage deletes a page and its whole subtree: descendant pages are
// collected breadth-first with a visited set, then each page's blocks,
// content record and history are purged before the relational rows go.
func (s *Service) DeletePage(ctx context.Context, session Session, pageID string) error {
	if _, err := s.requirePageEdit(ctx, pageID, session.UserID); err != nil {
		return err
	}

	subtree, err := s.collectSubtree(ctx, pageID)
	if err != nil {
		return err
	}
	// Children first so a failure midway never leaves an orphaned subtree.
	for i := len(subtree) - 1; i >= 0; i-- {
		id := subtree[i]
		if err := s.engine.PurgePage(ctx, id); err != nil {
			return fmt.Errorf("purge page %s: %w", id, err)
		}
		if err := s.store.DeletePage(ctx, id); err != nil {
			return fmt.Errorf("delete page %s: %w", id, err)
		}
		s.deindexPage(id)
	}
	return nil
}

// collectSubtree returns a page and all its descendants in breadth-first
// order. The visited set guards against a parent cycle in stored data.
func (s *Service) collectSubtree(ctx context.Context, rootID string) ([]string, error) {
	visited := map[string]bool{rootID: true}
	order := []string{rootID}
	queue := []string{rootID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		children, err := s.store.ListChildPages(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, child := range children {
			if visited[child.ID] {
				continue
			}
			visited[child.ID] = true
			order = append(order, child.ID)
			queue = append(queue, child.ID)
		}
	}
	return order, nil
}

// DuplicatePage copies a page and its subtree. Every copy gets a fresh page
// id and fresh block ids; each copy starts its own version history at 1.
func (s *Service) DuplicatePage(ctx context.Context, session Session, pageID string) (store.Page, error) {
	source, err := s.requirePageEdit(ctx, pageID, session.UserID)
	if err != nil {
		return store.Page{}, err
	}

	subtree, err := s.collectSubtree(ctx, pageID)
	if err != nil {
		return store.Page{}, err
	}

	copies := make(map[string]string, len(subtree))
	var rootCopy store.Page
	for _, srcID := range subtree {
		src, err := s.store.GetPage(ctx, srcID)
		if err != nil {
			return store.Page{}, err
		}

		dup := store.Page{
			ID:          util.NewID("pg"),
			WorkspaceID: src.WorkspaceID,
			Title:       src.Title,
			Icon:        src.Icon,
			CreatedBy:   session.UserID,
		}
		if srcID == pageID {
			dup.Title = src.Title + " (copy)"
			dup.ParentPageID = source.ParentPageID
		} else if src.ParentPageID != nil {
			if parentCopy, ok := copies[*src.ParentPageID]; ok {
				dup.ParentPageID = &parentCopy
			}
		}
		if err := s.store.InsertPage(ctx, dup); err != nil {
			return store.Page{}, fmt.Errorf("insert page copy: %w", err)
		}
		copies[srcID] = dup.ID
		s.indexPage(dup)

		snapshot, err := s.engine.SnapshotPage(ctx, srcID, session.UserID)
		if err != nil {
			return store.Page{}, err
		}
		if len(snapshot) > 0 {
			seeded, err := s.engine.SeedPage(ctx, dup.ID, session.UserID, snapshot)
			if err != nil {
				return store.Page{}, err
			}
			for _, block := range seeded.Blocks {
				s.indexBlock(block, dup.WorkspaceID)
			}
		}

		if srcID == pageID {
			rootCopy = dup
		}
	}
	return rootCopy, nil
}

// ToggleFavorite flips the caller's favorite flag on a page and reports the
// new state.
func (s *Service) ToggleFavorite(ctx context.Context, session Session, pageID string) (bool, error) {
	if _, err := s.requirePageRead(ctx, pageID, session.UserID); err != nil {
		return false, err
	}
	favorite, err := s.store.IsFavorite(ctx, session.UserID, pageID)
	if err != nil {
		return false, err
	}
	if favorite {
		return false, s.store.DeleteFavorite(ctx, session.UserID, pageID)
	}
	return true, s.store.InsertFavorite(ctx, session.UserID, pageID)
}

func (s *Service) ListFavorites(ctx context.Context, userID string) ([]store.Page, error) {
	return s.store.ListFavoritePages(ctx, userID)
}

// SuggestPages is the quick-switcher title lookup, scoped to the caller's
// workspaces.
func (s *Service) SuggestPages(ctx context.Context, userID, query string, limit int) ([]store.Page, error) {
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	workspaces, err := s.store.ListWorkspacesForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(workspaces) == 0 {
		return []store.Page{}, nil
	}
	ids := make([]string, 0, len(workspaces))
	for _, ws := range workspaces {
		ids = append(ids, ws.ID)
	}
	pages, _, err := s.store.SearchPageTitles(ctx, ids, query, limit, 0)
	return pages, err
}
