package models

import "time"

// Role is the coarse-grained role a user holds in the workspace. Fine-grained
// authorization is structural and evaluated against the workflow a request is
// pinned to, not the role alone.
type Role string

const (
	RoleAdmin            Role = "Admin"
	RoleWorkspaceManager Role = "Workspace Manager"
	RoleFinanceApprover  Role = "Finance Approver"
	RoleUser             Role = "User"
)

// User represents a workspace member.
type User struct {
	ID        string    `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	Name      string    `json:"name" db:"name"`
	Role      Role      `json:"role" db:"role"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// IsAdmin reports whether the user holds the Admin role.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}
