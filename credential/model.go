package credential

import "time"

// Role is the privilege level of an account.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// User is one row of the users table.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewUser carries the fields supplied on account creation.
type NewUser struct {
	Email        string
	PasswordHash string
	Role         Role
}

// Changes lists the columns to update. Nil fields are left untouched.
type Changes struct {
	Email        *string
	PasswordHash *string
	Role         *Role
}

// Empty reports whether no field is set.
func (c Changes) Empty() bool {
	return c.Email == nil && c.PasswordHash == nil && c.Role == nil
}
