package store

import "time"

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	DeactivatedAt         *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type Workspace struct {
	ID        string
	Name      string
	Slug      string
	Icon      string
	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Membership struct {
	WorkspaceID string
	UserID      string
	Role        string
	CreatedAt   time.Time
	// Joined fields for API responses
	UserName  string
	UserEmail string
}

// Page holds relational page metadata. Block content lives in the document
// store and is reached through the content engine, never through here.
type Page struct {
	ID           string
	WorkspaceID  string
	ParentPageID *string
	Title        string
	Icon         string
	IsPublic     bool
	CreatedBy    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Invitation struct {
	ID          string
	WorkspaceID string
	Email       string
	Role        string
	Token       string
	InvitedBy   string
	AcceptedAt  *time.Time
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

type Favorite struct {
	UserID    string
	PageID    string
	CreatedAt time.Time
}

// TemplateMeta is the relational half of a template; the block snapshot
// lives in the document store keyed by ID.
type TemplateMeta struct {
	ID          string
	Name        string
	Category    string
	WorkspaceID *string
	IsPublic    bool
	CreatedBy   string
	CreatedAt   time.Time
}

type Comment struct {
	ID        string
	PageID    string
	BlockID   string
	AuthorID  string
	Body      string
	CreatedAt time.Time
	UpdatedAt time.Time
	// Joined fields for API responses
	AuthorName string
}

type CommentReactionCount struct {
	CommentID string
	Emoji     string
	Count     int
}

type Attachment struct {
	ID          string
	PageID      string
	Name        string
	ObjectKey   string
	ContentType string
	Size        int64
	UploadedBy  string
	CreatedAt   time.Time
}
