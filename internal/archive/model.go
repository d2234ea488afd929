package archive

import (
	"fmt"
	"strings"
	"time"
)

// OwnerKind enumerates the entities that own a version history.
type OwnerKind string

const (
	// OwnerDocument marks versions that belong to a document.
	OwnerDocument OwnerKind = "document"
	// OwnerPage marks versions that belong to a page.
	OwnerPage OwnerKind = "page"
)

const (
	maxIdentifierLength = 190
	maxTitleLength      = 200
	maxMessageLength    = 500
	maxTagNameLength    = 100
)

// OwnerRef addresses the document or page that owns a version history.
type OwnerRef struct {
	Kind OwnerKind
	ID   string
}

// NewOwnerRef validates raw input and returns an OwnerRef.
func NewOwnerRef(kind OwnerKind, rawID string) (OwnerRef, error) {
	if kind != OwnerDocument && kind != OwnerPage {
		return OwnerRef{}, fmt.Errorf("%w: unknown owner kind %q", ErrValidation, kind)
	}
	id, err := normalizeIdentifier(rawID)
	if err != nil {
		return OwnerRef{}, err
	}
	return OwnerRef{Kind: kind, ID: id}, nil
}

// DocumentOwner is shorthand for a document owner reference.
func DocumentOwner(documentID string) OwnerRef {
	return OwnerRef{Kind: OwnerDocument, ID: documentID}
}

// PageOwner is shorthand for a page owner reference.
func PageOwner(pageID string) OwnerRef {
	return OwnerRef{Kind: OwnerPage, ID: pageID}
}

func (o OwnerRef) String() string {
	return string(o.Kind) + ":" + o.ID
}

func (o OwnerRef) table() (model any, column string) {
	if o.Kind == OwnerDocument {
		return &Document{}, "document_id"
	}
	return &Page{}, "page_id"
}

// Document aggregates an ordered sequence of pages and its own version history.
type Document struct {
	DocumentID       string    `gorm:"column:document_id;primaryKey;size:36"`
	UserID           string    `gorm:"column:user_id;size:190;not null;index"`
	Title            string    `gorm:"column:title;size:200;not null"`
	CurrentVersionID *string   `gorm:"column:current_version_id;size:36"`
	CreatedAt        time.Time `gorm:"column:created_at;not null"`
	UpdatedAt        time.Time `gorm:"column:updated_at;not null;index"`
}

// TableName exposes the table backing documents.
func (Document) TableName() string {
	return "documents"
}

// Page is a single scanned page; it may be unassigned from any document.
type Page struct {
	PageID           string    `gorm:"column:page_id;primaryKey;size:36"`
	UserID           string    `gorm:"column:user_id;size:190;not null;index"`
	Title            string    `gorm:"column:title;size:200;not null"`
	CurrentVersionID *string   `gorm:"column:current_version_id;size:36"`
	DocumentID       *string   `gorm:"column:document_id;size:36;index:idx_pages_document_order,priority:1"`
	Order            int       `gorm:"column:sort_order;not null;default:0;index:idx_pages_document_order,priority:2"`
	CreatedAt        time.Time `gorm:"column:created_at;not null"`
	UpdatedAt        time.Time `gorm:"column:updated_at;not null"`
}

// TableName exposes the table backing pages.
func (Page) TableName() string {
	return "pages"
}

// Version is one immutable entry of an owner's content history.
type Version struct {
	VersionID       string    `gorm:"column:version_id;primaryKey;size:36"`
	OwnerKind       OwnerKind `gorm:"column:owner_kind;size:16;not null;uniqueIndex:idx_versions_owner_number,priority:1"`
	OwnerID         string    `gorm:"column:owner_id;size:36;not null;uniqueIndex:idx_versions_owner_number,priority:2"`
	VersionNumber   int       `gorm:"column:version_number;not null;uniqueIndex:idx_versions_owner_number,priority:3"`
	Message         *string   `gorm:"column:message;size:500"`
	ContentRef      string    `gorm:"column:content_ref;size:512;not null"`
	RecognitionJSON *string   `gorm:"column:recognition_json;type:text"`
	SearchText      *string   `gorm:"column:search_text;type:text"`
	CreatedAt       time.Time `gorm:"column:created_at;not null"`
}

// TableName exposes the table backing versions.
func (Version) TableName() string {
	return "versions"
}

// Owner returns the reference to the entity owning the version.
func (v Version) Owner() OwnerRef {
	return OwnerRef{Kind: v.OwnerKind, ID: v.OwnerID}
}

// Tag is a user-facing label identified by its exact trimmed name.
type Tag struct {
	TagID string `gorm:"column:tag_id;primaryKey;size:36"`
	Name  string `gorm:"column:name;size:100;not null;uniqueIndex"`
}

// TableName exposes the table backing tags.
func (Tag) TableName() string {
	return "tags"
}

// DocumentTag associates a tag with a document.
type DocumentTag struct {
	DocumentID string `gorm:"column:document_id;primaryKey;size:36"`
	TagID      string `gorm:"column:tag_id;primaryKey;size:36;index"`
}

// TableName exposes the join table between documents and tags.
func (DocumentTag) TableName() string {
	return "document_tags"
}

// Models lists every row type owned by the package, in migration order.
func Models() []any {
	return []any{&Document{}, &Page{}, &Version{}, &Tag{}, &DocumentTag{}}
}

func normalizeIdentifier(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty identifier", ErrValidation)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: identifier exceeds %d characters", ErrValidation, maxIdentifierLength)
	}
	return trimmed, nil
}

func normalizeTitle(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty title", ErrValidation)
	}
	if len([]rune(trimmed)) > maxTitleLength {
		return "", fmt.Errorf("%w: title exceeds %d characters", ErrValidation, maxTitleLength)
	}
	return trimmed, nil
}

func normalizeMessage(raw string) (*string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	if len([]rune(trimmed)) > maxMessageLength {
		return nil, fmt.Errorf("%w: message exceeds %d characters", ErrValidation, maxMessageLength)
	}
	return &trimmed, nil
}
