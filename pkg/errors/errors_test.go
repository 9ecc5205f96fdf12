package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		expected string
	}{
		{
			name:     "without underlying error",
			err:      New(CodeFormatError, "bad magic"),
			expected: "[FORMAT_ERROR] bad magic",
		},
		{
			name:     "with underlying error",
			err:      Wrap(CodeFormatError, "header decode failed", errors.New("read past end of buffer")),
			expected: "[FORMAT_ERROR] header decode failed: read past end of buffer",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	underlying := errors.New("underlying error")
	err := Wrap(CodeMergeError, "merge failed", underlying)

	unwrapped := err.Unwrap()
	assert.Equal(t, underlying, unwrapped)
}

func TestAppError_Is(t *testing.T) {
	err1 := New(CodeFormatError, "error 1")
	err2 := New(CodeFormatError, "error 2")
	err3 := New(CodeMergeError, "error 3")

	assert.True(t, errors.Is(err1, err2))
	assert.False(t, errors.Is(err1, err3))
}

func TestTaxonomyPredicates(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
		check    func(error) bool
	}{
		{
			name:     "format error",
			err:      ErrFormat,
			expected: true,
			check:    IsFormatError,
		},
		{
			name:     "wrapped format error",
			err:      FormatErrorf("counter region at offset %d truncated", 42),
			expected: true,
			check:    IsFormatError,
		},
		{
			name:     "merge error is not a format error",
			err:      ErrMerge,
			expected: false,
			check:    IsFormatError,
		},
		{
			name:     "unsupported version is a format error",
			err:      Newf(CodeUnsupported, "raw profile version %d not supported", 99),
			expected: true,
			check:    IsFormatError,
		},
		{
			name:     "plain format error is not an unsupported error",
			err:      ErrFormat,
			expected: false,
			check:    IsUnsupportedError,
		},
		{
			name:     "merge error",
			err:      MergeErrorf("counter length mismatch for %q", "main"),
			expected: true,
			check:    IsMergeError,
		},
		{
			name:     "lookup error",
			err:      LookupErrorf("counter %d out of range", 9),
			expected: true,
			check:    IsLookupError,
		},
		{
			name:     "unsupported error",
			err:      ErrUnsupported,
			expected: true,
			check:    IsUnsupportedError,
		},
		{
			name:     "nil error",
			err:      nil,
			expected: false,
			check:    IsFormatError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.check(tt.err))
		})
	}
}

func TestIsDatabaseError(t *testing.T) {
	assert.True(t, IsDatabaseError(ErrDatabaseError))
	assert.True(t, IsDatabaseError(Wrap(CodeDatabaseError, "db error", errors.New("connection refused"))))
	assert.False(t, IsDatabaseError(ErrUploadError))
	assert.False(t, IsDatabaseError(nil))
}

func TestIsEmptyFileError(t *testing.T) {
	assert.True(t, IsEmptyFileError(ErrEmptyFile))
	assert.False(t, IsEmptyFileError(ErrFormat))
}

func TestGetErrorCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{
			name:     "app error",
			err:      New(CodeFormatError, "bad header"),
			expected: CodeFormatError,
		},
		{
			name:     "wrapped app error",
			err:      Wrap(CodeLookupError, "lookup", errors.New("inner")),
			expected: CodeLookupError,
		},
		{
			name:     "standard error",
			err:      errors.New("standard error"),
			expected: CodeUnknown,
		},
		{
			name:     "nil error",
			err:      nil,
			expected: CodeUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetErrorCode(tt.err))
		})
	}
}

func TestGetErrorMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{
			name:     "app error",
			err:      New(CodeFormatError, "bad magic bytes"),
			expected: "bad magic bytes",
		},
		{
			name:     "standard error",
			err:      errors.New("standard error"),
			expected: "standard error",
		},
		{
			name:     "nil error",
			err:      nil,
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetErrorMessage(tt.err))
		})
	}
}
