//go:build darwin

package sys

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Preallocate reserves size bytes for f with F_PREALLOCATE, contiguous first.
func Preallocate(f FileHandle, size int64) error {
	if size <= 0 {
		return nil
	}

	fg, ok := f.(interface{ Fd() uintptr })
	if !ok {
		return preallocResult(ErrPreallocNotSupported)
	}
	fd := int(fg.Fd())

	var stat unix.Stat_t
	var dev uint64
	if err := unix.Fstat(fd, &stat); err == nil {
		dev = uint64(stat.Dev)
		if allow, ok := preallocCacheLoad(dev); ok {
			if !allow {
				return preallocResult(ErrPreallocNotSupported)
			}
		}
	}

	var fst unix.Fstore_t
	// Try contiguous allocation first
	fst.Flags = unix.F_ALLOCATECONTIG
	fst.Posmode = unix.F_PEOFPOSMODE
	fst.Offset = 0
	fst.Length = size

	_, _, errno := unix.Syscall(unix.SYS_FCNTL, uintptr(fd), uintptr(unix.F_PREALLOCATE), uintptr(unsafe.Pointer(&fst)))
	if errno == 0 {
		if dev != 0 {
			preallocCacheStore(dev, true)
		}
		return preallocResult(nil)
	}

	// Fall back to non-contiguous allocation.
	fst.Flags = unix.F_ALLOCATEALL
	_, _, errno2 := unix.Syscall(unix.SYS_FCNTL, uintptr(fd), uintptr(unix.F_PREALLOCATE), uintptr(unsafe.Pointer(&fst)))
	if errno2 == 0 {
		if dev != 0 {
			preallocCacheStore(dev, true)
		}
		return preallocResult(nil)
	}

	for _, e := range []unix.Errno{errno, errno2} {
		if e == unix.ENOTSUP || e == unix.EINVAL || e == unix.ENOSYS {
			if dev != 0 {
				preallocCacheStore(dev, false)
			}
			return preallocResult(ErrPreallocNotSupported)
		}
	}
	return preallocResult(fmt.Errorf("F_PREALLOCATE %s: %w", f.Name(), errors.Join(errno, errno2)))
}
