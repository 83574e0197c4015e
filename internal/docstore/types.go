// Package docstore holds the document-store half of a page: its blocks,
// its versioned content index, its history ledger and template snapshots.
package docstore

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("document not found")
	// ErrConflict is returned when a conditional content write loses a race
	// with a concurrent mutation of the same page.
	ErrConflict = errors.New("version conflict")
)

// Block is an atomic content unit belonging to exactly one page.
type Block struct {
	ID         string         `bson:"_id" json:"id"`
	PageID     string         `bson:"page_id" json:"pageId"`
	Type       string         `bson:"type" json:"type"`
	Content    any            `bson:"content" json:"content"`
	Properties map[string]any `bson:"properties" json:"properties"`
	Children   []string       `bson:"children" json:"children"`
	Position   int            `bson:"position" json:"position"`
	CreatedBy  string         `bson:"created_by" json:"createdBy"`
	CreatedAt  time.Time      `bson:"created_at" json:"createdAt"`
	UpdatedAt  time.Time      `bson:"updated_at" json:"updatedAt"`
}

// BlockPatch carries the mergeable fields of a block update. Nil pointers
// leave the stored value untouched.
type BlockPatch struct {
	Type       *string         `json:"type"`
	Content    *any            `json:"content"`
	Properties *map[string]any `json:"properties"`
	Children   *[]string       `json:"children"`
}

// BlockPosition pairs a block with its new position for bulk reassignment.
type BlockPosition struct {
	BlockID  string
	Position int
}

// PageContent is the versioned pointer-list of a page's current blocks.
// Version is the authoritative version number for the page.
type PageContent struct {
	PageID       string    `bson:"_id" json:"pageId"`
	BlockIDs     []string  `bson:"block_ids" json:"blockIds"`
	Version      int       `bson:"version" json:"version"`
	LastEditedBy string    `bson:"last_edited_by" json:"lastEditedBy"`
	LastEditedAt time.Time `bson:"last_edited_at" json:"lastEditedAt"`
}

// HistoryEntry is an immutable archived snapshot of a page's content as of a
// superseded version. Blocks carries full block copies, not ids, so an old
// version stays readable after its blocks are mutated or deleted.
type HistoryEntry struct {
	PageID   string    `bson:"page_id" json:"pageId"`
	Version  int       `bson:"version" json:"version"`
	Blocks   []Block   `bson:"blocks" json:"blocks"`
	EditedBy string    `bson:"edited_by" json:"editedBy"`
	EditedAt time.Time `bson:"edited_at" json:"editedAt"`
}

// TemplateBlock is one block-shaped entry of a template snapshot. It carries
// no identity; applying a template always mints fresh block ids.
type TemplateBlock struct {
	Type       string         `bson:"type" json:"type"`
	Content    any            `bson:"content" json:"content"`
	Properties map[string]any `bson:"properties" json:"properties"`
	Children   []string       `bson:"children" json:"children"`
}

// TemplateContent is the document-store half of a template; metadata lives in
// the relational store under the same id.
type TemplateContent struct {
	TemplateID string          `bson:"_id" json:"templateId"`
	Blocks     []TemplateBlock `bson:"blocks" json:"blocks"`
}
