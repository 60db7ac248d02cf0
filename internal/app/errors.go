package app

import (
	"fmt"
	"net/http"
)

// DomainError is an error that already knows its HTTP status and code.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

var (
	errNotAccountOwner = domainError(http.StatusForbidden, "FORBIDDEN", "You can only delete your own account.", nil)
	errUserNotFound    = domainError(http.StatusNotFound, "NOT_FOUND", "User not found", nil)
)
