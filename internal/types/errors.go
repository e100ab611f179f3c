package types

import (
	"errors"
	"fmt"
)

const (
	CodeValidation     = "VALIDATION"
	CodeNoSession      = "NO_SESSION"
	CodeNotFound       = "NOT_FOUND"
	CodeUnknownType    = "UNKNOWN_TYPE"
	CodeRemoteAPI      = "REMOTE_API"
	CodeStorage        = "STORAGE"
	CodeCDPUnavailable = "CDP_UNAVAILABLE"
)

// CodedError is a typed error used for stable mapping at the message and
// HTTP boundaries.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }

func NewError(code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}

// ErrNoSession is returned by session-dependent operations when the tab has
// no valid session.
var ErrNoSession = &CodedError{Code: CodeNoSession, Message: "no session: not a recognized application tab or not logged in"}

// CodeOf returns the code of a wrapped CodedError, or "".
func CodeOf(err error) string {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ""
}
