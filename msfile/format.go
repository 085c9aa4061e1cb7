// Package msfile writes and reads self-indexed spectrum containers.
//
// A container holds the encoded spectrum records in scan order, followed by
// two m/z-sorted chromatogram arrays (precursor and product), a metadata
// block and a fixed trailer:
//
//	[ spectrum records ... ]
//	[ precursor chromatogram: N x 16 bytes ]
//	[ product chromatogram:   M x 16 bytes ]
//	[ metadata: scan index, precursor mass bins, product mass bins ]
//	[ trailer: precursorStart:int64, productStart:int64, metadataStart:int64, version:int32 ]
//
// All integers are little-endian and all offsets are absolute.
package msfile

import (
	"encoding/binary"
	"fmt"

	"github.com/INLOpen/nexusms/chromatogram"
)

const (
	// TrailerSize is the size of the fixed trailer at the end of every file.
	TrailerSize = 8 + 8 + 8 + 4
	// emptyMetadataSize covers minScan, maxScan and two empty mass bin indexes.
	emptyMetadataSize = 4 + 4 + 2*(4+4+8)
	// MinFileSize is the smallest file that can hold a valid trailer and metadata block.
	MinFileSize = TrailerSize + emptyMetadataSize
)

// Trailer locates the sections of a container.
type Trailer struct {
	PrecursorStart int64
	ProductStart   int64
	MetadataStart  int64
	Version        int32
}

// AppendTo appends the encoded trailer to dst.
func (t Trailer) AppendTo(dst []byte) []byte {
	le := binary.LittleEndian
	dst = le.AppendUint64(dst, uint64(t.PrecursorStart))
	dst = le.AppendUint64(dst, uint64(t.ProductStart))
	dst = le.AppendUint64(dst, uint64(t.MetadataStart))
	return le.AppendUint32(dst, uint32(t.Version))
}

// decodeTrailer decodes a TrailerSize buffer.
func decodeTrailer(b []byte) Trailer {
	le := binary.LittleEndian
	return Trailer{
		PrecursorStart: int64(le.Uint64(b)),
		ProductStart:   int64(le.Uint64(b[8:])),
		MetadataStart:  int64(le.Uint64(b[16:])),
		Version:        int32(le.Uint32(b[24:])),
	}
}

// validate checks section ordering against the file size.
func (t Trailer) validate(size int64) error {
	limit := size - TrailerSize
	switch {
	case t.PrecursorStart < 0 || t.PrecursorStart > t.ProductStart:
		return fmt.Errorf("precursor chromatogram start %d outside [0, %d]", t.PrecursorStart, t.ProductStart)
	case t.ProductStart > t.MetadataStart:
		return fmt.Errorf("product chromatogram start %d past metadata start %d", t.ProductStart, t.MetadataStart)
	case t.MetadataStart > limit:
		return fmt.Errorf("metadata start %d past trailer at %d", t.MetadataStart, limit)
	case limit-t.MetadataStart < emptyMetadataSize:
		return fmt.Errorf("metadata block of %d bytes is too small", limit-t.MetadataStart)
	case (t.ProductStart-t.PrecursorStart)%chromatogram.PeakSize != 0:
		return fmt.Errorf("precursor chromatogram size %d is not a multiple of %d", t.ProductStart-t.PrecursorStart, chromatogram.PeakSize)
	case (t.MetadataStart-t.ProductStart)%chromatogram.PeakSize != 0:
		return fmt.Errorf("product chromatogram size %d is not a multiple of %d", t.MetadataStart-t.ProductStart, chromatogram.PeakSize)
	}
	return nil
}
