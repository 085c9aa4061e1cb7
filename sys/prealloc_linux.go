//go:build linux

package sys

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sys/unix"
)

func unsupportedErrno(err error) bool {
	return errors.Is(err, unix.ENOSYS) || errors.Is(err, unix.EINVAL) ||
		errors.Is(err, unix.EOPNOTSUPP) || errors.Is(err, unix.ENOTTY)
}

// localFS lists file system magics where fallocate is known to behave.
var localFS = map[int64]bool{
	0xEF53:     true, // ext2/3/4
	0x58465342: true, // xfs
	0x9123683E: true, // btrfs
	0x01021994: true, // tmpfs
	0x794C7630: true, // overlayfs
	0xF2F52010: true, // f2fs
	0x2FC12FC1: true, // zfs
}

// Preallocate reserves size bytes for f without changing its visible size.
func Preallocate(f FileHandle, size int64) error {
	if size <= 0 {
		return nil
	}
	fg, ok := f.(interface{ Fd() uintptr })
	if !ok {
		return preallocResult(ErrPreallocNotSupported)
	}
	// WSL mounts of Windows drives reject fallocate.
	if strings.HasPrefix(f.Name(), "/mnt/") {
		return preallocResult(ErrPreallocNotSupported)
	}
	fd := int(fg.Fd())

	var stat unix.Stat_t
	var dev uint64
	if err := unix.Fstat(fd, &stat); err == nil {
		dev = uint64(stat.Dev)
	}
	allowed, cached := preallocCacheLoad(dev)
	if !cached {
		var st unix.Statfs_t
		if err := unix.Fstatfs(fd, &st); err != nil {
			return preallocResult(ErrPreallocNotSupported)
		}
		allowed = localFS[int64(st.Type)]
		if dev != 0 {
			preallocCacheStore(dev, allowed)
		}
	}
	if !allowed {
		return preallocResult(ErrPreallocNotSupported)
	}

	err := unix.Fallocate(fd, unix.FALLOC_FL_KEEP_SIZE, 0, size)
	if err == nil {
		return preallocResult(nil)
	}
	if unsupportedErrno(err) {
		if dev != 0 {
			preallocCacheStore(dev, false)
		}
		return preallocResult(ErrPreallocNotSupported)
	}
	return preallocResult(fmt.Errorf("fallocate %s (%d bytes): %w", f.Name(), size, err))
}
