package parser

import apperrors "github.com/covparse/pkg/errors"

var (
	// ErrEmptyInput is returned when the input holds no bytes.
	ErrEmptyInput = apperrors.New(apperrors.CodeEmptyFile, "profile data is empty")

	// ErrUnknownFormat is returned when no registered parser recognizes
	// the input.
	ErrUnknownFormat = apperrors.New(apperrors.CodeFormatError, "unrecognized profile format")
)
