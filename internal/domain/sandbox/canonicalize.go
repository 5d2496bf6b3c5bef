package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
)

// canonicalize resolves abs to its real path. When allowSymlinks is false,
// any symlink encountered along the way is a denial rather than being
// silently followed; when true, filepath.EvalSymlinks resolves them.
//
// When symlinks are allowed, a path whose final component does not yet
// exist canonicalizes by resolving its parent directory and re-appending
// the leaf name. When they are disallowed, every component including the
// leaf must exist, so a not-yet-created file is denied.
func canonicalize(abs string, allowSymlinks bool) (string, error) {
	if !allowSymlinks {
		if err := rejectSymlinks(abs); err != nil {
			return "", err
		}
		return abs, nil
	}

	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}

	parent := filepath.Dir(abs)
	resolvedParent, err := filepath.EvalSymlinks(parent)
	if err != nil {
		return "", fmt.Errorf("parent %q does not resolve: %w", parent, err)
	}
	return filepath.Join(resolvedParent, filepath.Base(abs)), nil
}

// rejectSymlinks walks from the filesystem root down to abs, failing if
// any intermediate component is a symlink or does not exist. A
// non-existent component cannot be proven symlink-free, and per spec.md
// §4.1(a) failure to canonicalize is itself denial — there is no
// best-effort fallback that treats "doesn't exist yet" as "safe".
func rejectSymlinks(abs string) error {
	cur := string(filepath.Separator)
	for _, part := range splitAll(abs) {
		cur = filepath.Join(cur, part)
		info, err := os.Lstat(cur)
		if err != nil {
			return fmt.Errorf("path component %q does not resolve: %w", cur, err)
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("path component %q is a symlink and symlinks are disallowed", cur)
		}
	}
	return nil
}

func splitAll(abs string) []string {
	var parts []string
	cur := filepath.Clean(abs)
	for cur != string(filepath.Separator) && cur != "." {
		parts = append([]string{filepath.Base(cur)}, parts...)
		cur = filepath.Dir(cur)
	}
	return parts
}
