package models

import "time"

// Collection is a named, dynamically defined document type within a project.
// Field and index definitions are stored verbatim; value validation against
// the schema is a caller concern.
type Collection struct {
	ID        string    `db:"id"         json:"id"`
	Name      string    `db:"name"       json:"name"`
	Fields    []Field   `db:"fields"     json:"fields"`
	Indexes   []Index   `db:"indexes"    json:"indexes,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Field describes one declared field of a collection schema.
type Field struct {
	Name     string `json:"name"`
	Type     string `json:"type"` // string, number, boolean, object, array
	Required bool   `json:"required,omitempty"`
	Unique   bool   `json:"unique,omitempty"`
}

// Index describes one declared index over collection fields.
type Index struct {
	Name   string   `json:"name"`
	Fields []string `json:"fields"`
	Unique bool     `json:"unique,omitempty"`
}

// CollectionPatch holds optional updates to a collection definition.
type CollectionPatch struct {
	Name    *string `json:"name,omitempty"`
	Fields  []Field `json:"fields,omitempty"`
	Indexes []Index `json:"indexes,omitempty"`
}
