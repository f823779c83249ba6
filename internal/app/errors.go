package app

import (
	"errors"
	"fmt"
)

var (
	ErrNoFilePart         = errors.New("no file part")
	ErrNoFileSelected     = errors.New("no file selected")
	ErrInvalidFilename    = errors.New("invalid filename")
	ErrFileTypeNotAllowed = errors.New("file type not allowed")
	ErrFileTooLarge       = errors.New("file too large")
	ErrFileExists         = errors.New("file already exists")

	ErrNotJSON        = errors.New("request is not json")
	ErrInvalidJSON    = errors.New("invalid json payload")
	ErrQueryMissing   = errors.New("query missing")
	ErrQueryNotString = errors.New("query is not a string")
	ErrQueryEmpty     = errors.New("query is empty")
	ErrQueryTooShort  = errors.New("query too short")
	ErrQueryTooLong   = errors.New("query too long")

	ErrIndexNotReady    = errors.New("rag index not ready")
	ErrNoRelevantChunks = errors.New("no relevant chunks")
	ErrQueryFailed      = errors.New("query processing failed")
)

// ValidationError is a client error with the message shown to the caller.
type ValidationError struct {
	Err     error
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(err error, format string, args ...interface{}) error {
	return &ValidationError{Err: err, Message: fmt.Sprintf(format, args...)}
}

// ClientMessage returns the user-facing message when err is a ValidationError.
func ClientMessage(err error) (string, bool) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Message, true
	}
	return "", false
}

func sizeLabel(n int64) string {
	const mib = 1 << 20
	if n >= mib && n%mib == 0 {
		return fmt.Sprintf("%dMB", n/mib)
	}
	return fmt.Sprintf("%d bytes", n)
}
