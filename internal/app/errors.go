package app

import (
	"fmt"
	"net/http"
)

// DomainError is an HTTP-facing failure with a stable machine code. Protocol
// errors from the realtime layer are mapped separately in mapError.
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

func errUnauthorized() *DomainError {
	return domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
}
