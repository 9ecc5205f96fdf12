package filter

import (
	"path/filepath"
	"strings"

	apperrors "github.com/covparse/pkg/errors"
)

// PathRemap rewrites paths under one directory prefix to another.
// Coverage mappings record the source paths of the build machine; a
// remap lets reports resolve against the same tree checked out at a
// different local path.
type PathRemap struct {
	source string
	dest   string
}

// NewPathRemap creates a remap from the source prefix to dest.
func NewPathRemap(source, dest string) *PathRemap {
	return &PathRemap{
		source: strings.TrimSuffix(filepath.ToSlash(source), "/"),
		dest:   strings.TrimSuffix(filepath.ToSlash(dest), "/"),
	}
}

// ParsePathRemap parses a "source,dest" pair as given on the command
// line.
func ParsePathRemap(s string) (*PathRemap, error) {
	parts := strings.Split(s, ",")
	switch {
	case len(parts) < 2:
		return nil, apperrors.Newf(apperrors.CodeInvalidInput, "path remap %q must be source,dest", s)
	case len(parts) > 2:
		return nil, apperrors.Newf(apperrors.CodeInvalidInput, "path remap %q has too many paths, want source,dest", s)
	case parts[0] == "":
		return nil, apperrors.Newf(apperrors.CodeInvalidInput, "path remap %q is missing the source path", s)
	case parts[1] == "":
		return nil, apperrors.Newf(apperrors.CodeInvalidInput, "path remap %q is missing the destination path", s)
	}
	return NewPathRemap(parts[0], parts[1]), nil
}

// Rewrite maps a path under the source prefix into the destination.
// The boolean reports whether the path matched; non-matching paths are
// returned unchanged. Prefixes match on directory boundaries, so
// "src/ab" is not under "src/a".
func (r *PathRemap) Rewrite(path string) (string, bool) {
	path = filepath.ToSlash(path)
	if !hasPathPrefix(path, r.source) {
		return path, false
	}
	rest := strings.TrimPrefix(path[len(r.source):], "/")
	if rest == "" {
		return r.dest, true
	}
	return r.dest + "/" + rest, true
}
