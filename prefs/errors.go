package prefs

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument reports malformed input such as a non-mapping value
	// where an entity is required, a malformed path, or an unbound handle.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNoSuchKey reports that a path did not resolve.
	ErrNoSuchKey = errors.New("no such key")
	// ErrStaleDocument reports that the backing document changed since it was loaded.
	ErrStaleDocument = errors.New("stale document")
	// ErrKeyExists reports an attempt to create something that is already present.
	ErrKeyExists = errors.New("key exists")
)

// PathError records the operation and path that failed.
type PathError struct {
	Op   string
	Path string
	Err  error
}

func (e *PathError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PathError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func pathErr(op, path string, err error) error {
	return &PathError{Op: op, Path: path, Err: err}
}

// IsNoSuchKey reports whether err is, or wraps, ErrNoSuchKey.
func IsNoSuchKey(err error) bool {
	return errors.Is(err, ErrNoSuchKey)
}
