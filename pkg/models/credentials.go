package models

import "time"

// Session subject types.
const (
	SubjectAdministrator = "administrator"
	SubjectUser          = "user"
)

// Session is a short-lived, single-use bearer credential tied to an
// administrator or project user. Sessions always live in the administrative
// store regardless of subject.
type Session struct {
	ID         string     `db:"id"          json:"id"`
	Token      string     `db:"token"       json:"token"`
	SubjectID  string     `db:"subject_id"  json:"subject_id"`
	Subject    string     `db:"subject"     json:"subject"` // administrator | user
	ProjectID  string     `db:"project_id"  json:"project_id,omitempty"`
	Scopes     []string   `db:"scopes"      json:"scopes"`
	ExpiresAt  time.Time  `db:"expires_at"  json:"expires_at"`
	Consumed   bool       `db:"consumed"    json:"consumed"`
	ConsumedAt *time.Time `db:"consumed_at" json:"consumed_at,omitempty"`
	CreatedAt  time.Time  `db:"created_at"  json:"created_at"`
}

// Access key classes. The class is encoded in the key prefix so lookups can
// route to the administrative store or fall through to tenant stores.
const (
	KeyClassMaster = "master" // control-plane, administrative store
	KeyClassTenant = "tenant" // scoped to one project, stored in its store
)

// AccessKey is a long-lived bearer credential. Keys are looked up by exact
// value; class routing happens on the key prefix.
type AccessKey struct {
	ID        string     `db:"id"         json:"id"`
	Key       string     `db:"key"        json:"key,omitempty"`
	Class     string     `db:"class"      json:"class"`
	Name      string     `db:"name"       json:"name"`
	ProjectID string     `db:"project_id" json:"project_id,omitempty"`
	Scopes    []string   `db:"scopes"     json:"scopes,omitempty"`
	RateLimit int        `db:"rate_limit" json:"rate_limit,omitempty"`
	ExpiresAt *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}

// ChangeEntry is one append-only audit record in a project's change log.
type ChangeEntry struct {
	ID         string    `db:"id"          json:"id"`
	Actor      string    `db:"actor"       json:"actor,omitempty"`
	Action     string    `db:"action"      json:"action"`
	EntityType string    `db:"entity_type" json:"entity_type"`
	EntityID   string    `db:"entity_id"   json:"entity_id,omitempty"`
	Detail     string    `db:"detail"      json:"detail,omitempty"`
	CreatedAt  time.Time `db:"created_at"  json:"created_at"`
}
