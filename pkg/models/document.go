package models

import "time"

// Document is one schema-less record belonging to a collection. Documents
// reference their collection by identifier, not name, so a collection rename
// never orphans them. The payload is stored serialized and queried via path
// extraction.
type Document struct {
	ID           string         `db:"id"            json:"id"`
	CollectionID string         `db:"collection_id" json:"collection_id"`
	Data         map[string]any `db:"data"          json:"data"`
	CreatedBy    string         `db:"created_by"    json:"created_by,omitempty"`
	UpdatedBy    string         `db:"updated_by"    json:"updated_by,omitempty"`
	Version      int            `db:"version"       json:"version"`
	Deleted      bool           `db:"deleted"       json:"-"`
	CreatedAt    time.Time      `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"    json:"updated_at"`
}

// DocumentFilter selects and pages documents within a collection.
type DocumentFilter struct {
	// Equals filters on extracted payload fields, ANDed together.
	Equals map[string]any

	// OrderBy names a built-in column (created_at, updated_at, id) or an
	// arbitrary payload field. Well-known numeric fields (priority, score,
	// rating, count) order numerically; others lexicographically.
	OrderBy string

	// Descending reverses the sort order.
	Descending bool

	Page  int
	Limit int
}

// BulkUpdateItem pairs a document identifier with its payload patch.
type BulkUpdateItem struct {
	ID   string         `json:"id"`
	Data map[string]any `json:"data"`
}

// DocumentPage is one page of documents plus the total matching count.
type DocumentPage struct {
	Documents []*Document `json:"documents"`
	Total     int         `json:"total"`
	Page      int         `json:"page"`
	Limit     int         `json:"limit"`
}
