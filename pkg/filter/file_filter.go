// Package filter provides source path filtering for coverage reports.
// A filter decides which files from a coverage mapping appear in the
// generated report.
package filter

import (
	"path/filepath"
	"strings"
	"sync"
)

// FileFilter selects source files by exact path, directory prefix, or
// glob pattern. With no rules configured every path is accepted.
// Exclusions are applied after inclusions. It is safe for concurrent
// use.
type FileFilter struct {
	mu sync.RWMutex

	includePaths    map[string]bool
	includePrefixes []string
	includeGlobs    []string

	excludePrefixes []string
	excludeGlobs    []string

	// Cache for frequently queried paths
	decisionCache     map[string]bool
	decisionCacheSize int
}

// NewFileFilter creates an empty filter that accepts every path.
func NewFileFilter() *FileFilter {
	return &FileFilter{
		includePaths:      make(map[string]bool),
		decisionCache:     make(map[string]bool),
		decisionCacheSize: 10000,
	}
}

// NewFileFilterFromPaths creates a filter accepting exactly the given
// paths. An empty slice yields an accept-all filter.
func NewFileFilterFromPaths(paths []string) *FileFilter {
	f := NewFileFilter()
	for _, p := range paths {
		f.IncludePath(p)
	}
	return f
}

// IncludePath adds an exact path to the accept list.
func (f *FileFilter) IncludePath(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.includePaths[filepath.ToSlash(path)] = true
	f.decisionCache = make(map[string]bool)
}

// IncludePrefix accepts every path under the given directory prefix.
func (f *FileFilter) IncludePrefix(prefix string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.includePrefixes = append(f.includePrefixes, filepath.ToSlash(prefix))
	f.decisionCache = make(map[string]bool)
}

// IncludeGlob accepts paths matching a filepath.Match pattern.
func (f *FileFilter) IncludeGlob(pattern string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.includeGlobs = append(f.includeGlobs, pattern)
	f.decisionCache = make(map[string]bool)
}

// ExcludePrefix rejects every path under the given directory prefix,
// overriding any inclusion.
func (f *FileFilter) ExcludePrefix(prefix string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.excludePrefixes = append(f.excludePrefixes, filepath.ToSlash(prefix))
	f.decisionCache = make(map[string]bool)
}

// ExcludeGlob rejects paths matching a filepath.Match pattern,
// overriding any inclusion.
func (f *FileFilter) ExcludeGlob(pattern string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.excludeGlobs = append(f.excludeGlobs, pattern)
	f.decisionCache = make(map[string]bool)
}

// Accept reports whether the path should appear in the report.
func (f *FileFilter) Accept(path string) bool {
	path = filepath.ToSlash(path)

	f.mu.RLock()
	if dec, ok := f.decisionCache[path]; ok {
		f.mu.RUnlock()
		return dec
	}
	f.mu.RUnlock()

	dec := f.acceptUncached(path)

	f.mu.Lock()
	if len(f.decisionCache) < f.decisionCacheSize {
		f.decisionCache[path] = dec
	}
	f.mu.Unlock()

	return dec
}

func (f *FileFilter) acceptUncached(path string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for _, prefix := range f.excludePrefixes {
		if hasPathPrefix(path, prefix) {
			return false
		}
	}
	for _, pattern := range f.excludeGlobs {
		if ok, _ := filepath.Match(pattern, path); ok {
			return false
		}
	}

	if len(f.includePaths) == 0 && len(f.includePrefixes) == 0 && len(f.includeGlobs) == 0 {
		return true
	}

	if f.includePaths[path] {
		return true
	}
	for _, prefix := range f.includePrefixes {
		if hasPathPrefix(path, prefix) {
			return true
		}
	}
	for _, pattern := range f.includeGlobs {
		if ok, _ := filepath.Match(pattern, path); ok {
			return true
		}
	}
	return false
}

// hasPathPrefix reports whether path is prefix itself or lies under it
// as a directory. "src/ab" is not under "src/a".
func hasPathPrefix(path, prefix string) bool {
	prefix = strings.TrimSuffix(prefix, "/")
	if path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix+"/")
}

// Apply returns the subset of paths accepted by the filter, preserving
// order.
func (f *FileFilter) Apply(paths []string) []string {
	var out []string
	for _, p := range paths {
		if f.Accept(p) {
			out = append(out, p)
		}
	}
	return out
}

// ClearCache clears the decision cache.
func (f *FileFilter) ClearCache() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.decisionCache = make(map[string]bool)
}

// CacheStats returns cache statistics.
func (f *FileFilter) CacheStats() (size int, maxSize int) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return len(f.decisionCache), f.decisionCacheSize
}
