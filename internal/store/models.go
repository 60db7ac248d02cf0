package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a row does not exist or is not visible to the caller.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a unique constraint (username, email) would be violated.
var ErrConflict = errors.New("conflict")

type User struct {
	ID            int64
	Username      string
	Email         *string
	DisplayName   *string
	PasswordHash  string
	EmailVerified bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// UserProfile carries the optional profile fields of a user update.
// Nil fields are left untouched.
type UserProfile struct {
	Username    *string
	Email       *string
	DisplayName *string
}

// Task is one row of the tasks table. Children are never embedded here;
// the tree is rebuilt from ParentID at read time.
type Task struct {
	ID             int64
	OwnerID        int64
	ParentID       *int64
	Title          string
	Description    *string
	Notes          *string
	Status         string
	Priority       string
	Category       string
	Tags           []string
	DueDate        *time.Time
	CompletedDate  *time.Time
	EstimatedHours *float64
	ActualHours    *float64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TaskFilter describes one page of a task listing.
type TaskFilter struct {
	Status    string
	Query     string
	RootsOnly bool
	Ascending bool
	Offset    int
	Limit     int
}

// APIKey is a user-managed key. Only the hash of the secret is kept; the
// full key is shown once when it is issued.
type APIKey struct {
	ID         int64
	OwnerID    int64
	Name       string
	Prefix     string
	SecretHash string
	Scopes     []string
	ExpiresAt  *time.Time
	Revoked    bool
	RevokedAt  *time.Time
	CreatedAt  time.Time
}
