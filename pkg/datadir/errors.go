package datadir

import (
	"errors"
	"io/fs"
)

// Category classifies why a state path could not be used.
type Category string

const (
	CategoryInvalid    Category = "invalid_path"
	CategoryNotDir     Category = "not_directory"
	CategoryNotFound   Category = "path_not_found"
	CategoryPermission Category = "permission_denied"
	CategoryIO         Category = "io_error"
)

// Error records the failed step, the path it was applied to and the cause.
type Error struct {
	Category Category
	Op       string
	Path     string
	Err      error
}

func (e *Error) Error() string {
	msg := string(e.Category) + ": " + e.Op
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// CategoryOf reports the category of err, or "" for nil.
func CategoryOf(err error) Category {
	if err == nil {
		return ""
	}
	var pathErr *Error
	if errors.As(err, &pathErr) {
		return pathErr.Category
	}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return CategoryNotFound
	case errors.Is(err, fs.ErrPermission):
		return CategoryPermission
	default:
		return CategoryIO
	}
}

// fail wraps an OS error, unwrapping *fs.PathError so the path is not repeated.
func fail(op, path string, err error) error {
	category := CategoryOf(err)
	var osErr *fs.PathError
	if errors.As(err, &osErr) {
		err = osErr.Err
	}
	return &Error{Category: category, Op: op, Path: path, Err: err}
}
