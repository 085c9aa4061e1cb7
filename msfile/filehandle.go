package msfile

import (
	"fmt"
	"io"
	"sync"

	"github.com/INLOpen/nexusms/core"
	"github.com/INLOpen/nexusms/sys"
)

// fileHandle serialises every positioned read on one open file. The file
// cursor is shared state, so each read seeks and reads under mu.
type fileHandle struct {
	mu     sync.Mutex
	f      sys.FileHandle
	path   string
	size   int64
	closed bool
}

func openFileHandle(path string) (*fileHandle, error) {
	f, err := sys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open container %s: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat container %s: %w", path, err)
	}
	return &fileHandle{f: f, path: path, size: st.Size()}, nil
}

// readAt fills p from off.
func (h *fileHandle) readAt(p []byte, off int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return core.ErrClosed
	}
	if _, err := h.f.Seek(off, io.SeekStart); err != nil {
		return fmt.Errorf("seek %s to %d: %w", h.path, off, err)
	}
	if _, err := io.ReadFull(h.f, p); err != nil {
		return fmt.Errorf("read %d bytes of %s at %d: %w", len(p), h.path, off, err)
	}
	return nil
}

func (h *fileHandle) close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	return h.f.Close()
}
