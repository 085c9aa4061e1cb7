//go:build !unix && !windows

package sys

import (
	"fmt"
	"time"
)

// AcquireOSFileLock has no advisory lock to take here. The container writer
// treats ErrOSFileLockNotSupported as a warning and builds unlocked.
func AcquireOSFileLock(lockPath string, _ time.Duration) (func() error, error) {
	return nil, fmt.Errorf("lock %s: %w", lockPath, ErrOSFileLockNotSupported)
}
