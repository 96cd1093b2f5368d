// Package fs serves a virtual tree snapshot over FUSE.
//
// This file contains error types and their translation to errno values.
package fs

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"

	"mapperfs/internal/logging"
	"mapperfs/internal/tree"
)

var (
	errLogger = logging.GetLogger().WithPrefix("error")

	// ErrPathNotFound indicates a virtual path absent from the current tree
	ErrPathNotFound = tree.ErrNotFound

	// ErrStaleSource indicates a mapped source that vanished or cannot be read
	ErrStaleSource = errors.New("source file unavailable")

	// ErrReadOnly indicates an attempt to modify the filesystem
	ErrReadOnly = errors.New("filesystem is read-only")

	// ErrNotDirectory indicates a listing requested on a file
	ErrNotDirectory = tree.ErrNotDirectory
)

// Error wraps filesystem errors with the operation and virtual path involved.
type Error struct {
	Op   string // Operation that failed (e.g., "lookup", "readdir")
	Path string // Virtual path
	Err  error  // Underlying error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("operation %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("operation %s on %s failed: %v", e.Op, e.Path, e.Err)
}

// Unwrap implements error unwrapping for the errors.Is/As functions
func (e *Error) Unwrap() error {
	return e.Err
}

// NewFSError creates a new Error with the given operation, path, and underlying error
func NewFSError(op string, path string, err error) *Error {
	return &Error{
		Op:   op,
		Path: path,
		Err:  err,
	}
}

// ToFuseError converts an error to the errno FUSE replies with. Source
// failures are reported as absence so a vanished file looks like a stale
// entry rather than an I/O fault.
func ToFuseError(err error) error {
	if err == nil {
		return nil
	}

	var errno syscall.Errno
	switch {
	case errors.Is(err, ErrPathNotFound), errors.Is(err, ErrStaleSource):
		return unix.ENOENT
	case errors.Is(err, ErrReadOnly):
		return unix.EROFS
	case errors.Is(err, ErrNotDirectory):
		return unix.ENOTDIR
	case errors.Is(err, os.ErrNotExist):
		return unix.ENOENT
	case errors.Is(err, os.ErrPermission):
		return unix.EACCES
	case errors.As(err, &errno):
		return errno
	default:
		errLogger.Debug("Unknown error type, returning EIO: %v", err)
		return unix.EIO
	}
}

// resultLabel names the outcome of an operation for metrics: "ok" or the
// errno FUSE replied with.
func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	var errno syscall.Errno
	if errors.As(ToFuseError(err), &errno) {
		if name := unix.ErrnoName(errno); name != "" {
			return name
		}
	}
	return "EIO"
}

// Operation names for consistent logging, errors and metrics.
const (
	OpLookup  = "lookup"
	OpReadDir = "readdir"
	OpOpen    = "open"
	OpRead    = "read"
	OpRelease = "release"
	OpGetattr = "getattr"
	OpAccess  = "access"
	OpStatfs  = "statfs"
	OpWrite   = "write"
)
