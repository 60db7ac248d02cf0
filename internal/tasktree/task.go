// Package tasktree owns the hierarchical task model: creating nested
// subtrees, materializing them for reads, guarding re-parents against
// cycles and computing progress. Every operation is scoped to one owner.
package tasktree

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	StatusTodo       = "todo"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"

	DefaultStatus   = StatusTodo
	DefaultPriority = "medium"
	DefaultCategory = "personal"

	maxTitleLength = 255

	DefaultPageSize = 20
	MaxPageSize     = 100
)

// ErrNotFound covers both missing tasks and tasks owned by someone else.
var ErrNotFound = errors.New("task not found")

var allowedStatuses = map[string]struct{}{
	StatusTodo:       {},
	StatusInProgress: {},
	StatusCompleted:  {},
	StatusCancelled:  {},
}

var allowedPriorities = map[string]struct{}{
	"low":    {},
	"medium": {},
	"high":   {},
	"urgent": {},
}

var allowedCategories = map[string]struct{}{
	"work":     {},
	"personal": {},
	"shopping": {},
	"health":   {},
	"learning": {},
	"finance":  {},
	"family":   {},
	"travel":   {},
}

// ValidationError is a client mistake in the request: a bad field value or
// a re-parent that would break the tree. It never means "not found".
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// IsParentError reports whether err rejected a parent reference (self
// parent, foreign parent or cycle).
func IsParentError(err error) bool {
	var validationErr *ValidationError
	return errors.As(err, &validationErr) && strings.HasSuffix(validationErr.Field, "parent_id")
}

func validateTitle(field, title string) error {
	trimmed := strings.TrimSpace(title)
	if trimmed == "" {
		return invalid(field, "title is required")
	}
	if utf8.RuneCountInString(trimmed) > maxTitleLength {
		return invalid(field, fmt.Sprintf("title must be at most %d characters", maxTitleLength))
	}
	return nil
}

func validateEnum(field, value string, allowed map[string]struct{}) error {
	if _, ok := allowed[value]; !ok {
		return invalid(field, fmt.Sprintf("invalid value %q", value))
	}
	return nil
}

func validateHours(field string, hours *float64) error {
	if hours != nil && *hours < 0 {
		return invalid(field, "must not be negative")
	}
	return nil
}

func firstNonBlank(value, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}
