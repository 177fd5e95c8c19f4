package entities

import "time"

// User is an account identified by username; it owns exactly one
// Balance and zero or more AssetBalances. Username is immutable once
// created; email is globally unique (enforced by the store's partial
// unique index, see SPEC_FULL.md §3).
type User struct {
	Username      string     `json:"username"`
	Email         string     `json:"email"`
	PasswordHash  string     `json:"password_hash"`
	FirstName     string     `json:"first_name"`
	LastName      string     `json:"last_name"`
	Phone         *string    `json:"phone,omitempty"`
	DateOfBirth   *time.Time `json:"date_of_birth,omitempty"`
	Role          Role       `json:"role"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Sanitized returns a copy of u with PasswordHash cleared, suitable
// for any path that returns a User to a caller outside the DAO layer
// (spec §3: "password_hash never returned").
func (u User) Sanitized() User {
	u.PasswordHash = ""
	return u
}
