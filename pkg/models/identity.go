package models

import "time"

// Administrator roles, ordered by privilege.
const (
	RoleMaster    = "master"
	RoleAdmin     = "admin"
	RoleDeveloper = "developer"
)

// Administrator is a global control-plane identity. Administrators own
// projects and long-lived access keys; they are a separate credential space
// from per-project users.
type Administrator struct {
	ID           string    `db:"id"            json:"id"`
	Email        string    `db:"email"         json:"email"`
	Name         string    `db:"name"          json:"name"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Role         string    `db:"role"          json:"role"`
	AccessLevel  int       `db:"access_level"  json:"access_level"`
	APIKey       string    `db:"api_key"       json:"api_key,omitempty"`
	Active       bool      `db:"active"        json:"active"`
	CreatedAt    time.Time `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"    json:"updated_at"`
}

// User is an end-user account scoped to one project, stored in that
// project's store.
type User struct {
	ID           string    `db:"id"            json:"id"`
	Email        string    `db:"email"         json:"email"`
	Username     string    `db:"username"      json:"username,omitempty"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Scopes       []string  `db:"scopes"        json:"scopes,omitempty"`
	Active       bool      `db:"active"        json:"active"`
	CreatedAt    time.Time `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"    json:"updated_at"`
}
