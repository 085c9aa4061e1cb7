package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatErrorsUnwrap(t *testing.T) {
	fe := NewFormatError("/tmp/a.nms", "file too small (%d bytes)", 12)
	wrapped := fmt.Errorf("open: %w", fe)
	assert.True(t, IsFormatError(wrapped))
	assert.False(t, IsVersionSkew(wrapped))
	assert.Contains(t, fe.Error(), "file too small (12 bytes)")

	skew := &VersionSkewError{Path: "/tmp/a.nms", Found: 3, Earliest: 1, Newest: 2}
	assert.True(t, IsFormatError(skew))
	assert.True(t, IsVersionSkew(fmt.Errorf("wrap: %w", skew)))
	assert.True(t, skew.TooNew())
	assert.False(t, skew.TooOld())
	assert.Contains(t, skew.Error(), "too new")
	assert.Contains(t, skew.Error(), "regenerate")

	old := &VersionSkewError{Path: "/tmp/b.nms", Found: 0, Earliest: 1, Newest: 2}
	assert.True(t, old.TooOld())
	assert.Contains(t, old.Error(), "too old")

	assert.False(t, IsFormatError(ErrCorruptRecord))
	assert.False(t, IsFormatError(errors.New("other")))
}

func TestContainerPathFor(t *testing.T) {
	assert.Equal(t, "run01.nms", ContainerPathFor("run01.scans"))
	assert.Equal(t, "run01.nms", ContainerPathFor("run01.SCANS"))
	assert.Equal(t, "raw.bin.nms", ContainerPathFor("raw.bin"))
	assert.Equal(t, "a.nms.tmp", FormatTempFilename("a.nms"))
}
