//go:build windows

package sys

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

// Preallocate requests physical storage for size bytes through
// FILE_ALLOCATION_INFO without changing the logical file size.
func Preallocate(f FileHandle, size int64) error {
	if size <= 0 {
		return nil
	}
	fg, ok := f.(interface{ Fd() uintptr })
	if !ok {
		return preallocResult(ErrPreallocNotSupported)
	}

	type fileAllocInfo struct {
		AllocationSize int64
	}
	info := fileAllocInfo{AllocationSize: size}
	err := windows.SetFileInformationByHandle(windows.Handle(fg.Fd()), windows.FileAllocationInfo,
		(*byte)(unsafe.Pointer(&info)), uint32(unsafe.Sizeof(info)))
	if err != nil {
		return preallocResult(fmt.Errorf("windows preallocation of %s: %w", f.Name(), err))
	}
	return preallocResult(nil)
}
