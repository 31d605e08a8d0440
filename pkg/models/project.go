package models

import "time"

// Project represents an isolated customer workspace (a tenant). Every project
// owns a dedicated store holding its collections, documents, and users.
type Project struct {
	ID           string          `db:"id"            json:"id"`
	Name         string          `db:"name"          json:"name"`
	Description  string          `db:"description"   json:"description,omitempty"`
	APIKey       string          `db:"api_key"       json:"api_key,omitempty"`
	Settings     ProjectSettings `db:"settings"      json:"settings"`
	Active       bool            `db:"active"        json:"active"`
	OwnerID      string          `db:"owner_id"      json:"owner_id"`
	StorageBytes int64           `db:"storage_bytes" json:"storage_bytes"`
	CallCount    int64           `db:"call_count"    json:"call_count"`
	LastCallAt   *time.Time      `db:"last_call_at"  json:"last_call_at,omitempty"`
	CreatedAt    time.Time       `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at"    json:"updated_at"`
}

// ProjectSettings is the free-form settings bag attached to a project.
// Stored serialized; the core never interprets individual fields.
type ProjectSettings struct {
	RequireAuth  bool     `json:"require_auth"`
	CORSOrigins  []string `json:"cors_origins,omitempty"`
	RateLimit    int      `json:"rate_limit,omitempty"`
	AllowSignups bool     `json:"allow_signups,omitempty"`
}

// ProjectSpec is the input for creating a project.
type ProjectSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	OwnerID     string          `json:"owner_id,omitempty"`
	Settings    ProjectSettings `json:"settings"`
}

// ProjectPatch holds optional updates to a project. Nil fields are left unchanged.
type ProjectPatch struct {
	Name        *string          `json:"name,omitempty"`
	Description *string          `json:"description,omitempty"`
	Settings    *ProjectSettings `json:"settings,omitempty"`
	Active      *bool            `json:"active,omitempty"`
}

// UsageStats summarizes a project's resource consumption.
type UsageStats struct {
	ProjectID    string     `json:"project_id"`
	StorageBytes int64      `json:"storage_bytes"`
	CallCount    int64      `json:"call_count"`
	LastCallAt   *time.Time `json:"last_call_at,omitempty"`
	Collections  int        `json:"collections"`
	Documents    int        `json:"documents"`
	Users        int        `json:"users"`
}
