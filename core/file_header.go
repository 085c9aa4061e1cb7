package core

import (
	"fmt"
	"time"
)

// JournalHeader opens every scan journal. It is read and written with
// encoding/binary, so field order and widths are the on-disk layout.
type JournalHeader struct {
	Magic       uint32
	Version     uint8
	CreatedAt   int64 // unix nanoseconds
	Compression CompressionType
}

// NewJournalHeader stamps a current-version header for a journal whose
// frames are compressed with c.
func NewJournalHeader(c CompressionType) JournalHeader {
	return JournalHeader{
		Magic:       ScanLogMagic,
		Version:     ScanLogVersion,
		CreatedAt:   time.Now().UnixNano(),
		Compression: c,
	}
}

// Check rejects foreign files and journals written by a newer release.
func (h JournalHeader) Check() error {
	if h.Magic != ScanLogMagic {
		return fmt.Errorf("invalid magic number: got %x, want %x", h.Magic, ScanLogMagic)
	}
	if h.Version == 0 || h.Version > ScanLogVersion {
		return fmt.Errorf("journal version %d, supported 1 to %d", h.Version, ScanLogVersion)
	}
	return nil
}

func (h JournalHeader) Created() time.Time { return time.Unix(0, h.CreatedAt) }
