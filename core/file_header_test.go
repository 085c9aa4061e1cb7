package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournalHeaderCheck(t *testing.T) {
	before := time.Now()
	h := NewJournalHeader(CompressionZSTD)
	require.NoError(t, h.Check())
	assert.Equal(t, CompressionZSTD, h.Compression)
	assert.False(t, h.Created().Before(before.Truncate(time.Nanosecond)))

	foreign := h
	foreign.Magic = 0xDEADBEEF
	assert.ErrorContains(t, foreign.Check(), "invalid magic number")

	newer := h
	newer.Version = ScanLogVersion + 1
	assert.Error(t, newer.Check())

	zero := h
	zero.Version = 0
	assert.Error(t, zero.Check())
}
