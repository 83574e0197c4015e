// Package content implements the page-content versioning engine: ordered
// block mutation, the monotonic version counter, pre-mutation history
// snapshots and template application.
package content

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"ideahive/api/internal/docstore"
	"ideahive/api/internal/rbac"
)

var ErrForbidden = errors.New("forbidden")

// BadRequestError reports malformed caller input, such as an out-of-range
// position.
type BadRequestError struct {
	Reason string
}

func (e *BadRequestError) Error() string {
	return e.Reason
}

func badRequest(format string, args ...any) error {
	return &BadRequestError{Reason: fmt.Sprintf(format, args...)}
}

// Store is the document-store surface the engine drives. Implemented by
// docstore.MongoStore; faked in tests.
type Store interface {
	InsertBlock(ctx context.Context, block docstore.Block) (docstore.Block, error)
	GetBlock(ctx context.Context, blockID string) (docstore.Block, error)
	GetBlocks(ctx context.Context, blockIDs []string) ([]docstore.Block, error)
	UpdateBlock(ctx context.Context, blockID string, patch docstore.BlockPatch) (docstore.Block, error)
	DeleteBlock(ctx context.Context, blockID string) error
	DeleteBlocksByPage(ctx context.Context, pageID string) error
	ReassignPositions(ctx context.Context, pageID string, positions []docstore.BlockPosition) error

	GetPageContent(ctx context.Context, pageID string) (docstore.PageContent, error)
	CreatePageContent(ctx context.Context, content docstore.PageContent) error
	ReplacePageContentIf(ctx context.Context, content docstore.PageContent, expectedVersion int) error
	DeletePageContent(ctx context.Context, pageID string) error

	AppendHistory(ctx context.Context, entry docstore.HistoryEntry) error
	ListHistory(ctx context.Context, pageID string) ([]docstore.HistoryEntry, error)
	GetHistory(ctx context.Context, pageID string, version int) (docstore.HistoryEntry, error)
	DeleteHistoryByPage(ctx context.Context, pageID string) error

	GetTemplateContent(ctx context.Context, templateID string) (docstore.TemplateContent, error)
}

// PageMeta is the slice of relational page state the engine needs for
// permission delegation.
type PageMeta struct {
	WorkspaceID string
	IsPublic    bool
}

// TemplateMeta is the relational half of a template, for access checks.
type TemplateMeta struct {
	WorkspaceID *string
	IsPublic    bool
	CreatedBy   string
}

// MetaStore is the permission oracle and relational side-effect surface.
// Implementations must return docstore.ErrNotFound for missing pages and
// templates.
type MetaStore interface {
	GetPageMeta(ctx context.Context, pageID string) (PageMeta, error)
	Membership(ctx context.Context, workspaceID, userID string) (rbac.Role, error)
	GetTemplateMeta(ctx context.Context, templateID string) (TemplateMeta, error)
	TouchPage(ctx context.Context, pageID string) error
}

// Event describes a committed content mutation for realtime fan-out.
type Event struct {
	PageID  string `json:"pageId"`
	Op      string `json:"op"`
	BlockID string `json:"blockId,omitempty"`
	Version int    `json:"version"`
}

// Notifier receives best-effort edit notifications. It carries no ordering
// or delivery guarantee and is never part of the consistency protocol.
type Notifier interface {
	BroadcastContent(event Event)
}

// Engine orchestrates the block store, the page-content index and the
// history ledger. Mutations of one page are serialized behind a per-page
// mutex, and the content write itself is a compare-and-swap on the version
// the mutation was computed from, so a racing writer gets
// docstore.ErrConflict instead of silently losing an update.
type Engine struct {
	docs     Store
	meta     MetaStore
	notifier Notifier

	mu        sync.Mutex
	pageLocks map[string]*sync.Mutex
}

func NewEngine(docs Store, meta MetaStore, notifier Notifier) *Engine {
	return &Engine{
		docs:      docs,
		meta:      meta,
		notifier:  notifier,
		pageLocks: make(map[string]*sync.Mutex),
	}
}

func (e *Engine) lockPage(pageID string) func() {
	e.mu.Lock()
	lock, ok := e.pageLocks[pageID]
	if !ok {
		lock = &sync.Mutex{}
		e.pageLocks[pageID] = lock
	}
	e.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// requireEdit checks that the user holds at least MEMBER in the page's
// workspace and returns the page meta.
func (e *Engine) requireEdit(ctx context.Context, pageID, userID string) (PageMeta, error) {
	meta, err := e.meta.GetPageMeta(ctx, pageID)
	if err != nil {
		return PageMeta{}, err
	}
	role, err := e.meta.Membership(ctx, meta.WorkspaceID, userID)
	if err != nil {
		return PageMeta{}, err
	}
	if !rbac.AtLeast(role, rbac.RoleMember) {
		return PageMeta{}, ErrForbidden
	}
	return meta, nil
}

// requireRead allows public pages to anyone and private pages to any
// workspace member.
func (e *Engine) requireRead(ctx context.Context, pageID, userID string) (PageMeta, error) {
	meta, err := e.meta.GetPageMeta(ctx, pageID)
	if err != nil {
		return PageMeta{}, err
	}
	if meta.IsPublic {
		return meta, nil
	}
	role, err := e.meta.Membership(ctx, meta.WorkspaceID, userID)
	if err != nil {
		return PageMeta{}, err
	}
	if !rbac.AtLeast(role, rbac.RoleViewer) {
		return PageMeta{}, ErrForbidden
	}
	return meta, nil
}

// archive writes the pre-mutation snapshot to the history ledger at the
// version being superseded. Snapshots carry full block contents so an old
// version stays readable after its blocks are mutated or deleted.
func (e *Engine) archive(ctx context.Context, current docstore.PageContent) error {
	blocks, err := e.docs.GetBlocks(ctx, current.BlockIDs)
	if err != nil {
		return err
	}
	return e.docs.AppendHistory(ctx, docstore.HistoryEntry{
		PageID:   current.PageID,
		Version:  current.Version,
		Blocks:   blocks,
		EditedBy: current.LastEditedBy,
		EditedAt: current.LastEditedAt,
	})
}

// commit renumbers block positions to match the ordered id list, then writes
// the page-content record conditionally on the version the mutation read.
// The relational timestamp touch runs last and is best-effort: the document
// store is the source of truth and a stale updated_at is acceptable.
func (e *Engine) commit(ctx context.Context, pageID string, prev docstore.PageContent, exists bool, blockIDs []string, actor, op, blockID string) (docstore.PageContent, error) {
	positions := make([]docstore.BlockPosition, len(blockIDs))
	for i, id := range blockIDs {
		positions[i] = docstore.BlockPosition{BlockID: id, Position: i}
	}
	if err := e.docs.ReassignPositions(ctx, pageID, positions); err != nil {
		return docstore.PageContent{}, err
	}

	next := docstore.PageContent{
		PageID:       pageID,
		BlockIDs:     blockIDs,
		Version:      1,
		LastEditedBy: actor,
		LastEditedAt: time.Now().UTC(),
	}
	if exists {
		next.Version = prev.Version + 1
		if err := e.docs.ReplacePageContentIf(ctx, next, prev.Version); err != nil {
			return docstore.PageContent{}, err
		}
	} else {
		if err := e.docs.CreatePageContent(ctx, next); err != nil {
			return docstore.PageContent{}, err
		}
	}

	if err := e.meta.TouchPage(ctx, pageID); err != nil {
		log.Printf("content: touch page %s: %v", pageID, err)
	}
	if e.notifier != nil {
		e.notifier.BroadcastContent(Event{PageID: pageID, Op: op, BlockID: blockID, Version: next.Version})
	}
	return next, nil
}

// loadContent reads the current content record, reporting absence instead of
// failing so first-write paths can start from version zero.
func (e *Engine) loadContent(ctx context.Context, pageID string) (docstore.PageContent, bool, error) {
	current, err := e.docs.GetPageContent(ctx, pageID)
	if errors.Is(err, docstore.ErrNotFound) {
		return docstore.PageContent{PageID: pageID}, false, nil
	}
	if err != nil {
		return docstore.PageContent{}, false, err
	}
	return current, true, nil
}

// PurgePage removes every document-store record of a page. Used by the page
// lifecycle cascade; the caller handles permissions.
func (e *Engine) PurgePage(ctx context.Context, pageID string) error {
	unlock := e.lockPage(pageID)
	defer unlock()

	if err := e.docs.DeleteBlocksByPage(ctx, pageID); err != nil {
		return err
	}
	if err := e.docs.DeletePageContent(ctx, pageID); err != nil {
		return err
	}
	return e.docs.DeleteHistoryByPage(ctx, pageID)
}

func indexOf(ids []string, id string) int {
	for i, candidate := range ids {
		if candidate == id {
			return i
		}
	}
	return -1
}

func removeAt(ids []string, index int) []string {
	out := make([]string, 0, len(ids)-1)
	out = append(out, ids[:index]...)
	return append(out, ids[index+1:]...)
}

func insertAt(ids []string, index int, id string) []string {
	out := make([]string, 0, len(ids)+1)
	out = append(out, ids[:index]...)
	out = append(out, id)
	return append(out, ids[index:]...)
}
