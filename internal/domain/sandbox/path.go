// Package sandbox decides, for every skill-initiated filesystem or FD
// operation, whether it is permitted (spec.md §4.1). Grounded on
// _examples/original_source/cis-core/src/wasm/sandbox/validation.rs
// (path canonicalization and traversal checks) and
// file_descriptor_guard.rs (scoped FD accounting). The Rust original's
// documented P0 fix — reject paths that cannot be canonicalized instead of
// falling back to the raw path — is preserved here.
package sandbox

import (
	"fmt"
	"path/filepath"
	"strings"

	cerr "github.com/cis-project/cis/pkg/errors"
)

// Access distinguishes read from write path checks; only writable roots
// admit Write.
type Access int

const (
	Read Access = iota
	Write
)

// Policy is an immutable whitelist of roots a skill may touch.
type Policy struct {
	WritableRoots []string
	ReadableRoots []string
	AllowSymlinks bool
}

// ValidatePath applies the full policy: canonicalize, reject traversal,
// reject disallowed symlinks, then require the result be a descendant of
// a whitelisted root (writable root required for Access == Write).
//
// Failure to canonicalize is itself a denial — there is no "best effort"
// fallback to the raw path, matching the original's documented fix.
func (p *Policy) ValidatePath(path string, access Access) (string, error) {
	if containsTraversal(path) {
		return "", cerr.Sandbox(fmt.Sprintf("path %q contains a traversal segment", path))
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", cerr.Sandbox(fmt.Sprintf("cannot canonicalize %q: %v", path, err))
	}
	real, err := canonicalize(abs, p.AllowSymlinks)
	if err != nil {
		return "", cerr.Sandbox(fmt.Sprintf("cannot canonicalize %q: %v", path, err))
	}

	roots := p.ReadableRoots
	if access == Write {
		roots = p.WritableRoots
	}
	for _, root := range roots {
		rootAbs, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		if isDescendant(rootAbs, real) {
			return real, nil
		}
	}
	return "", cerr.Sandbox(fmt.Sprintf("path %q escapes the sandbox whitelist", path))
}

// IsSafeFilename rejects path separators, reserved characters, and the
// special "." / ".." names — for skill-declared output filenames rather
// than full paths.
func IsSafeFilename(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, "/\\\x00?*:<>|\"") {
		return false
	}
	return true
}

func containsTraversal(path string) bool {
	if strings.Contains(path, "../") || strings.Contains(path, "..\\") {
		return true
	}
	for _, seg := range strings.Split(filepath.ToSlash(path), "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}

func isDescendant(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}
