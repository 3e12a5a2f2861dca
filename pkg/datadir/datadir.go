// Package datadir resolves the on-disk state directory used by the file
// backed stores.
package datadir

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const defaultDirName = ".wabridge/data"

// Resolve returns the absolute, symlink-free state directory for path,
// creating it when missing. An empty path selects ~/.wabridge/data.
func Resolve(path string) (string, error) {
	dir, err := expand(strings.TrimSpace(path))
	if err != nil {
		return "", err
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", &Error{Category: CategoryInvalid, Op: "resolve", Path: dir, Err: err}
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return "", fail("create", abs, err)
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fail("follow symlinks", abs, err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", fail("stat", resolved, err)
	}
	if !info.IsDir() {
		return "", &Error{Category: CategoryNotDir, Op: "use", Path: resolved}
	}
	return resolved, nil
}

// File resolves the directory of a database file path and returns the file
// path inside it. A path without an extension names a directory that will
// hold defaultName.
func File(path string, defaultName string) (string, error) {
	dir, name := strings.TrimSpace(path), defaultName
	if filepath.Ext(dir) != "" {
		dir, name = filepath.Dir(dir), filepath.Base(dir)
	}

	resolved, err := Resolve(dir)
	if err != nil {
		return "", err
	}
	return filepath.Join(resolved, name), nil
}

// expand maps "", "~" and "~/..." onto the home directory.
func expand(path string) (string, error) {
	prefix := "~" + string(filepath.Separator)
	if path != "" && path != "~" && !strings.HasPrefix(path, prefix) {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	switch {
	case path == "":
		return filepath.Join(home, defaultDirName), nil
	case path == "~":
		return home, nil
	default:
		return filepath.Join(home, strings.TrimPrefix(path, prefix)), nil
	}
}
