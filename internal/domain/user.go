package domain

import "time"

// UserCredential stores the local password hash of a user.
type UserCredential struct {
	ID           int64
	UserID       string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UserStatusActive marks a user allowed to sign in.
const UserStatusActive = "ACTIVE"

// UserProfile is the user-information view consumed during authentication.
type UserProfile struct {
	ID          string
	Email       string
	Name        string
	Status      string
	LastLoginAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Active reports whether the user may sign in. An unset status counts as active.
func (u UserProfile) Active() bool {
	return u.Status == "" || u.Status == UserStatusActive
}

// Session is the cached per-user session entry.
type Session struct {
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	Name         string    `json:"name,omitempty"`
	AuthProvider string    `json:"auth_provider"`
	LastLogin    time.Time `json:"last_login"`
}
