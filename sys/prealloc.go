package sys

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrPreallocNotSupported is returned when the file or file system cannot
// preallocate. Callers treat it as informational.
var ErrPreallocNotSupported = errors.New("preallocation not supported")

var (
	// preallocAllowed caches the per-device verdict so statfs runs once per mount.
	preallocAllowed sync.Map // uint64 -> bool

	preallocSuccesses   atomic.Uint64
	preallocUnsupported atomic.Uint64
)

func preallocCacheLoad(dev uint64) (allowed, found bool) {
	v, ok := preallocAllowed.Load(dev)
	if !ok {
		return false, false
	}
	return v.(bool), true
}

func preallocCacheStore(dev uint64, allowed bool) {
	preallocAllowed.Store(dev, allowed)
}

// PreallocStats returns how many preallocations succeeded and how many were
// skipped as unsupported since process start.
func PreallocStats() (succeeded, unsupported uint64) {
	return preallocSuccesses.Load(), preallocUnsupported.Load()
}

func preallocResult(err error) error {
	switch {
	case err == nil:
		preallocSuccesses.Add(1)
	case errors.Is(err, ErrPreallocNotSupported):
		preallocUnsupported.Add(1)
	}
	return err
}
