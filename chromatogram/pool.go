package chromatogram

import "github.com/INLOpen/nexusms/core"

const defaultBucketCapacity = 4096

// BufferPool recycles bucket storage between merge rounds and builds.
var BufferPool = NewBufferPool(defaultBucketCapacity)

// NewBufferPool returns a pool of peak slices with the given initial capacity.
func NewBufferPool(capacity int) *core.RecyclePool[[]Peak] {
	return core.NewRecyclePool(
		func() []Peak { return make([]Peak, 0, capacity) },
		func(s []Peak) []Peak { return s[:0] },
	)
}
