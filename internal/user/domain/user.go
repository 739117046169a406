package domain

import (
	"errors"
	"time"
)

// User is a person who plans on the board.
type User struct {
	ID        string
	Email     string
	Name      string
	Role      Role
	Status    UserStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusDisabled UserStatus = "disabled"
)

// Role decides which board actions a user may perform.
type Role string

const (
	RoleViewer     Role = "viewer"
	RoleScheduler  Role = "scheduler"
	RoleSupervisor Role = "supervisor"
)

// Validate validates the user for persistence. Returns an error describing the first validation failure.
func (u *User) Validate() error {
	if u.ID == "" {
		return errors.New("id is required")
	}
	if u.Email == "" {
		return errors.New("email is required")
	}
	if u.Status == "" {
		u.Status = UserStatusActive
	}
	if u.Role == "" {
		u.Role = RoleViewer
	}
	return nil
}
