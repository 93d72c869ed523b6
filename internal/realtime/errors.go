package realtime

import (
	"errors"
	"fmt"
)

// Code identifies a protocol-level rejection. Handshake codes abort the
// connection; the others are reported to the sender and the connection stays
// open.
type Code string

const (
	CodeAuthRequired      Code = "AuthRequired"
	CodeAuthInvalid       Code = "AuthInvalid"
	CodeShareTokenInvalid Code = "ShareTokenInvalid"
	CodeBoardNotFound     Code = "BoardNotFound"

	CodePermissionDenied   Code = "PermissionDenied"
	CodeValidationError    Code = "ValidationError"
	CodeAccessDenied       Code = "AccessDenied"
	CodePersistenceFailure Code = "PersistenceFailure"
	CodeInternal           Code = "InternalError"
)

type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func newErrorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the protocol code from err, or "" if err carries none.
func CodeOf(err error) Code {
	var protoErr *Error
	if errors.As(err, &protoErr) {
		return protoErr.Code
	}
	return ""
}
