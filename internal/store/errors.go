package store

import (
	"errors"
	"fmt"
	"strings"
	"syscall"
)

// StorageError is a failure of the local artifact directory.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func wrap(op, path string, err error) error {
	return &StorageError{Op: op, Path: path, Err: err}
}

// IsFatal reports whether err means the output directory cannot be used for
// the rest of the run: disk full, quota, read-only, permission denied or
// device I/O failure.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	for _, code := range []syscall.Errno{
		syscall.ENOSPC,
		syscall.EDQUOT,
		syscall.EROFS,
		syscall.EACCES,
		syscall.EPERM,
		syscall.EIO,
	} {
		if errors.Is(err, code) {
			return true
		}
	}
	return strings.Contains(err.Error(), "read-only file system")
}
