// Package sys wraps the file system calls the container writer and reader
// make, so tests can substitute failures.
package sys

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// FileHandle is the subset of *os.File used by this module.
type FileHandle interface {
	io.ReadWriteCloser
	io.ReaderAt
	io.Seeker

	Stat() (os.FileInfo, error)
	Sync() error
	Truncate(size int64) error
	Name() string
}

type CreateHandler func(name string) (FileHandle, error)
type OpenHandler func(name string) (FileHandle, error)
type RemoveHandler func(name string) error

// Create truncates or creates name for reading and writing.
var Create CreateHandler = func(name string) (FileHandle, error) {
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	return &RealFile{f: f}, nil
}

// Open opens name read-only.
var Open OpenHandler = func(name string) (FileHandle, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	return &RealFile{f: f}, nil
}

var Remove RemoveHandler = os.Remove

// ErrOSFileLockNotSupported is returned by AcquireOSFileLock where the
// platform has no advisory locks.
var ErrOSFileLockNotSupported = errors.New("OS file locking not supported on this platform")

// renameImpl is swapped by tests to force the copy fallback.
var renameImpl = os.Rename

// Rename moves oldPath to newPath. When the rename itself fails (for example
// across devices) it falls back to copying and removing the source.
func Rename(oldPath, newPath string) error {
	err := renameImpl(oldPath, newPath)
	if err == nil {
		return nil
	}
	if cerr := copyFile(oldPath, newPath); cerr != nil {
		return errors.Join(fmt.Errorf("rename %s: %w", oldPath, err), cerr)
	}
	if rerr := os.Remove(oldPath); rerr != nil && !os.IsNotExist(rerr) {
		return fmt.Errorf("remove %s after copy: %w", oldPath, rerr)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// IsPermission reports whether err means the caller may not write where it tried.
func IsPermission(err error) bool {
	return errors.Is(err, os.ErrPermission) || errors.Is(err, errReadOnlyFS)
}
