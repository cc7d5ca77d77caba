// Package pathsafe validates and normalizes workspace-relative file paths and
// implements the protected-path and over-edit policies applied before any edit.
package pathsafe

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

var (
	// ErrEmptyPath is returned for empty or whitespace-only paths.
	ErrEmptyPath = errors.New("path is empty")
	// ErrAbsolutePath is returned for absolute paths (unix or windows style).
	ErrAbsolutePath = errors.New("absolute paths are not allowed")
	// ErrTraversal is returned when a path contains a ".." segment.
	ErrTraversal = errors.New("path traversal is not allowed")
)

// DefaultProtectedPatterns is the built-in protected set. Editing any matching
// path requires explicit confirmation from the caller.
func DefaultProtectedPatterns() []string {
	return []string{
		".env*",
		"*.key",
		"*.pem",
		"config/secrets/**",
		".github/workflows/**",
		"infra/**",
	}
}

// Sanitize normalizes a workspace-relative path: backslashes become forward
// slashes, duplicate slashes and "." segments are collapsed. Empty paths,
// absolute paths, and ".." traversal are rejected.
func Sanitize(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", ErrEmptyPath
	}

	p = strings.ReplaceAll(p, "\\", "/")

	if strings.HasPrefix(p, "/") || isWindowsAbs(p) {
		return "", fmt.Errorf("%w: %s", ErrAbsolutePath, p)
	}

	segments := strings.Split(p, "/")
	cleaned := make([]string, 0, len(segments))
	for _, seg := range segments {
		switch seg {
		case "", ".":
			continue
		case "..":
			return "", fmt.Errorf("%w: %s", ErrTraversal, p)
		default:
			cleaned = append(cleaned, seg)
		}
	}

	if len(cleaned) == 0 {
		return "", ErrEmptyPath
	}

	return strings.Join(cleaned, "/"), nil
}

// isWindowsAbs reports whether the path starts with a drive letter like "C:".
func isWindowsAbs(p string) bool {
	if len(p) < 2 || p[1] != ':' {
		return false
	}
	c := p[0]
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// IsProtected reports whether a sanitized path matches any of the glob-like
// protected patterns. Three pattern forms are supported:
//
//	prefix*   matches when the path's basename starts with prefix
//	*.suffix  matches when the path ends with .suffix
//	dir/**    matches dir itself and everything beneath it
//
// Anything else is an exact path or basename match.
func IsProtected(p string, patterns []string) bool {
	for _, pattern := range patterns {
		if matchPattern(p, pattern) {
			return true
		}
	}
	return false
}

// ProtectedPaths returns the subset of paths that match the protected
// patterns, preserving input order.
func ProtectedPaths(paths, patterns []string) []string {
	protected := make([]string, 0)
	for _, p := range paths {
		if IsProtected(p, patterns) {
			protected = append(protected, p)
		}
	}
	return protected
}

func matchPattern(p, pattern string) bool {
	switch {
	case strings.HasSuffix(pattern, "/**"):
		dir := strings.TrimSuffix(pattern, "/**")
		return p == dir || strings.HasPrefix(p, dir+"/")
	case strings.HasPrefix(pattern, "*."):
		return strings.HasSuffix(p, pattern[1:])
	case strings.HasSuffix(pattern, "*"):
		prefix := strings.TrimSuffix(pattern, "*")
		return strings.HasPrefix(path.Base(p), prefix)
	default:
		return p == pattern || path.Base(p) == pattern
	}
}

// OverEditThreshold is the fraction of a file's content a single edit may
// replace before the edit is flagged. The boundary is exclusive: replacing
// exactly 40% is allowed.
const OverEditThreshold = 0.40

// OverEditCheck is the result of an over-edit ratio check.
type OverEditCheck struct {
	ReplacedRatio float64
	OverEdit      bool
}

// CheckOverEdit flags a single edit that replaces more than OverEditThreshold
// of the file's current length. A zero-length file can never be over-edited.
func CheckOverEdit(fileLength, oldContentLength, _ int) OverEditCheck {
	if fileLength <= 0 || oldContentLength <= 0 {
		return OverEditCheck{ReplacedRatio: 0, OverEdit: false}
	}

	ratio := float64(oldContentLength) / float64(fileLength)
	return OverEditCheck{
		ReplacedRatio: ratio,
		OverEdit:      ratio > OverEditThreshold,
	}
}
