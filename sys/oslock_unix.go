//go:build unix

package sys

import (
	"fmt"
	"os"
	"syscall"
	"time"
)

// AcquireOSFileLock takes an exclusive flock on lockPath, creating it if
// needed, and retries until timeout. The returned release func unlocks,
// closes and removes the lock file.
func AcquireOSFileLock(lockPath string, timeout time.Duration) (func() error, error) {
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}

	fd := int(f.Fd())
	deadline := time.Now().Add(timeout)
	for {
		err = syscall.Flock(fd, syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			return func() error {
				_ = os.Remove(lockPath)
				_ = syscall.Flock(fd, syscall.LOCK_UN)
				return f.Close()
			}, nil
		}
		if time.Now().After(deadline) {
			_ = f.Close()
			return nil, fmt.Errorf("lock %s held by another writer: %w", lockPath, err)
		}
		time.Sleep(25 * time.Millisecond)
	}
}
