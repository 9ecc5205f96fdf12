// Package errors defines common error types for the application.
package errors

import (
	"errors"
	"fmt"
)

// Error codes for the application.
const (
	CodeUnknown       = "UNKNOWN_ERROR"
	CodeFormatError   = "FORMAT_ERROR"
	CodeMergeError    = "MERGE_ERROR"
	CodeLookupError   = "LOOKUP_ERROR"
	CodeUnsupported   = "UNSUPPORTED_FORMAT"
	CodeEmptyFile     = "EMPTY_FILE"
	CodeInvalidInput  = "INVALID_INPUT"
	CodeDatabaseError = "DATABASE_ERROR"
	CodeUploadError   = "UPLOAD_ERROR"
	CodeDownloadError = "DOWNLOAD_ERROR"
	CodeNotFound      = "NOT_FOUND"
	CodeConfigError   = "CONFIG_ERROR"
)

// AppError represents an application error with a code and message.
type AppError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is checks if the error matches the target.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new AppError.
func New(code string, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new AppError with a formatted message.
func Newf(code string, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with an AppError.
func Wrap(code string, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common error instances.
var (
	// ErrFormat marks structurally invalid profile or mapping bytes:
	// bad magic, truncation, malformed varints, impossible offsets.
	ErrFormat = New(CodeFormatError, "malformed input")
	// ErrMerge marks incompatible records combined in a merge.
	ErrMerge = New(CodeMergeError, "incompatible merge inputs")
	// ErrLookup marks a reference to data that does not exist, such as
	// a counter index past the end of a record.
	ErrLookup = New(CodeLookupError, "referenced data not found")
	// ErrUnsupported marks recognized but unhandled format revisions.
	ErrUnsupported = New(CodeUnsupported, "unsupported format version")

	ErrEmptyFile     = New(CodeEmptyFile, "empty file")
	ErrInvalidInput  = New(CodeInvalidInput, "invalid input")
	ErrDatabaseError = New(CodeDatabaseError, "database error")
	ErrUploadError   = New(CodeUploadError, "upload error")
	ErrDownloadError = New(CodeDownloadError, "download error")
	ErrNotFound      = New(CodeNotFound, "resource not found")
	ErrConfigError   = New(CodeConfigError, "configuration error")
)

// FormatErrorf creates a format error with a descriptive message.
func FormatErrorf(format string, args ...interface{}) *AppError {
	return Newf(CodeFormatError, format, args...)
}

// MergeErrorf creates a merge error with a descriptive message.
func MergeErrorf(format string, args ...interface{}) *AppError {
	return Newf(CodeMergeError, format, args...)
}

// LookupErrorf creates a lookup error with a descriptive message.
func LookupErrorf(format string, args ...interface{}) *AppError {
	return Newf(CodeLookupError, format, args...)
}

// IsFormatError checks if the error is a format error. Unsupported
// version errors count as format errors too; IsUnsupportedError
// narrows to just those.
func IsFormatError(err error) bool {
	return errors.Is(err, ErrFormat) || errors.Is(err, ErrUnsupported)
}

// IsMergeError checks if the error is a merge error.
func IsMergeError(err error) bool {
	return errors.Is(err, ErrMerge)
}

// IsLookupError checks if the error is a lookup error.
func IsLookupError(err error) bool {
	return errors.Is(err, ErrLookup)
}

// IsUnsupportedError checks if the error is an unsupported-format error.
func IsUnsupportedError(err error) bool {
	return errors.Is(err, ErrUnsupported)
}

// IsDatabaseError checks if the error is a database error.
func IsDatabaseError(err error) bool {
	return errors.Is(err, ErrDatabaseError)
}

// IsEmptyFileError checks if the error is an empty file error.
func IsEmptyFileError(err error) bool {
	return errors.Is(err, ErrEmptyFile)
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

// GetErrorMessage extracts the error message from an error.
func GetErrorMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
