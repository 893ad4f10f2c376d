package pipeline

import (
	"errors"
	"fmt"
)

// ErrorCode is the stable taxonomy exposed through the job control API.
// Internal error types never cross the API boundary; only these codes do.
type ErrorCode string

// Error codes surfaced in job error lists.
const (
	CodeFetch            ErrorCode = "FETCH_ERROR"
	CodeExtraction       ErrorCode = "EXTRACTION_ERROR"
	CodeDedupConflict    ErrorCode = "DEDUP_CONFLICT"
	CodeEmbeddingService ErrorCode = "EMBEDDING_SERVICE_ERROR"
	CodeCacheUnavailable ErrorCode = "CACHE_UNAVAILABLE"
	CodeJobFatal         ErrorCode = "JOB_FATAL_ERROR"
	CodeInternal         ErrorCode = "INTERNAL_ERROR"
)

// Error wraps an underlying failure with its taxonomy code.
type Error struct {
	Code ErrorCode
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Op, e.Err)
}

// Unwrap exposes the underlying error for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a coded Error.
func NewError(code ErrorCode, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// CodeOf extracts the taxonomy code from an error chain, defaulting to
// CodeInternal for unclassified failures.
func CodeOf(err error) ErrorCode {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return CodeInternal
}

// IsFatal reports whether the error should transition a job to failed.
func IsFatal(err error) bool {
	return CodeOf(err) == CodeJobFatal
}

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = errors.New("not found")
