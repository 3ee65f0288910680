package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors shared by the canvas packages.
var (
	ErrInvalidDimensions  = fmt.Errorf("invalid canvas dimensions")
	ErrSessionNotFound    = fmt.Errorf("canvas session not found")
	ErrMissingImageSource = fmt.Errorf("provide exactly one of imageFile or imageUrl")
	ErrDecode             = fmt.Errorf("failed to load or decode image")
	ErrExportImageFetch   = fmt.Errorf("image unavailable at export time")
	ErrInvalidArgument    = fmt.Errorf("invalid argument")
	ErrPayloadTooLarge    = fmt.Errorf("payload too large")
	ErrFetchBlocked       = fmt.Errorf("request to private/reserved address blocked")
)

// Error wraps a sentinel error with context.
type Error struct {
	Op     string // operation name (e.g., "Service.DrawImage")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError creates a new Error.
func NewError(op string, err error, detail string) *Error {
	return &Error{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil.
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ErrorCode is a machine-parseable error category, reported to API clients.
type ErrorCode string

const (
	CodeUnknown            ErrorCode = "UNKNOWN"
	CodeInvalidDimensions  ErrorCode = "INVALID_DIMENSIONS"
	CodeSessionNotFound    ErrorCode = "SESSION_NOT_FOUND"
	CodeMissingImageSource ErrorCode = "MISSING_IMAGE_SOURCE"
	CodeDecode             ErrorCode = "DECODE_ERROR"
	CodeExportImageFetch   ErrorCode = "EXPORT_IMAGE_FETCH"
	CodeInvalidArgument    ErrorCode = "INVALID_ARGUMENT"
	CodePayloadTooLarge    ErrorCode = "PAYLOAD_TOO_LARGE"
)

// codeMap is checked in order; the first sentinel matched by errors.Is wins.
var codeMap = []struct {
	err    error
	code   ErrorCode
	status int
}{
	{ErrSessionNotFound, CodeSessionNotFound, http.StatusNotFound},
	{ErrInvalidDimensions, CodeInvalidDimensions, http.StatusBadRequest},
	{ErrMissingImageSource, CodeMissingImageSource, http.StatusBadRequest},
	{ErrPayloadTooLarge, CodePayloadTooLarge, http.StatusRequestEntityTooLarge},
	{ErrInvalidArgument, CodeInvalidArgument, http.StatusBadRequest},
	{ErrDecode, CodeDecode, http.StatusInternalServerError},
	{ErrExportImageFetch, CodeExportImageFetch, http.StatusInternalServerError},
}

// CodeOf returns the ErrorCode for err, or CodeUnknown.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	for _, m := range codeMap {
		if errors.Is(err, m.err) {
			return m.code
		}
	}
	return CodeUnknown
}

// HTTPStatus maps err to the status code the API answers with.
// Unknown errors are server errors.
func HTTPStatus(err error) int {
	for _, m := range codeMap {
		if errors.Is(err, m.err) {
			return m.status
		}
	}
	return http.StatusInternalServerError
}

// SentinelOf is the inverse of CodeOf: it returns the sentinel error
// reported with code, or nil.
func SentinelOf(code ErrorCode) error {
	for _, m := range codeMap {
		if m.code == code {
			return m.err
		}
	}
	return nil
}
