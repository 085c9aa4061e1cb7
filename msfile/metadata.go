package msfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/INLOpen/nexusms/chromatogram"
	"github.com/INLOpen/nexusms/core"
	"github.com/INLOpen/nexusms/spectrum"
)

// ScanIndexEntry is the metadata kept for every scan number in [MinScan, MaxScan].
type ScanIndexEntry struct {
	ScanNumber  int32
	MSLevel     int32 // 0 marks a gap
	ElutionTime float64
	// Isolation bounds are only stored for MS level 2.
	IsolationMinMz float32
	IsolationMaxMz float32
	RecordOffset   int64 // -1 for gaps
}

// IsGap reports whether no spectrum was written for this scan number.
func (e ScanIndexEntry) IsGap() bool { return e.MSLevel == 0 }

func (e ScanIndexEntry) hasIsolation() bool { return e.MSLevel == 2 }

func (e ScanIndexEntry) encodedSize() int {
	if e.hasIsolation() {
		return 4 + 8 + 4 + 4 + 8
	}
	return 4 + 8 + 8
}

// metadata is the decoded metadata block.
type metadata struct {
	minScan       int32
	maxScan       int32
	entries       []ScanIndexEntry
	precursorBins *chromatogram.MassBinIndex
	productBins   *chromatogram.MassBinIndex
}

func (m *metadata) encodedSize() int {
	n := 8 + m.precursorBins.EncodedSize() + m.productBins.EncodedSize()
	for _, e := range m.entries {
		n += e.encodedSize()
	}
	return n
}

func (m *metadata) appendTo(dst []byte) []byte {
	le := binary.LittleEndian
	dst = le.AppendUint32(dst, uint32(m.minScan))
	dst = le.AppendUint32(dst, uint32(m.maxScan))
	for _, e := range m.entries {
		dst = le.AppendUint32(dst, uint32(e.MSLevel))
		dst = le.AppendUint64(dst, math.Float64bits(e.ElutionTime))
		if e.hasIsolation() {
			dst = le.AppendUint32(dst, math.Float32bits(e.IsolationMinMz))
			dst = le.AppendUint32(dst, math.Float32bits(e.IsolationMaxMz))
		}
		dst = le.AppendUint64(dst, uint64(e.RecordOffset))
	}
	dst = m.precursorBins.AppendTo(dst)
	return m.productBins.AppendTo(dst)
}

var errShortMetadata = errors.New("metadata block truncated")

// decodeMetadata replays a metadata block and checks every offset against
// the sections named by t.
func decodeMetadata(data []byte, t Trailer) (*metadata, error) {
	if len(data) < 8 {
		return nil, errShortMetadata
	}
	le := binary.LittleEndian
	m := &metadata{
		minScan: int32(le.Uint32(data)),
		maxScan: int32(le.Uint32(data[4:])),
	}
	count := int64(m.maxScan) - int64(m.minScan) + 1
	if count < 0 {
		return nil, fmt.Errorf("scan range [%d, %d] is inverted", m.minScan, m.maxScan)
	}
	// Every entry takes at least 20 bytes.
	if count*20 > int64(len(data)-8) {
		return nil, fmt.Errorf("%w: %d scan entries do not fit in %d bytes", errShortMetadata, count, len(data)-8)
	}

	pos := 8
	lastOffset := int64(-1)
	m.entries = make([]ScanIndexEntry, count)
	for i := range m.entries {
		e := &m.entries[i]
		e.ScanNumber = m.minScan + int32(i)
		if len(data)-pos < 12 {
			return nil, errShortMetadata
		}
		e.MSLevel = int32(le.Uint32(data[pos:]))
		e.ElutionTime = math.Float64frombits(le.Uint64(data[pos+4:]))
		pos += 12
		if e.MSLevel < 0 || e.MSLevel > math.MaxUint8 {
			return nil, fmt.Errorf("scan %d has ms level %d", e.ScanNumber, e.MSLevel)
		}
		if e.hasIsolation() {
			if len(data)-pos < 8 {
				return nil, errShortMetadata
			}
			e.IsolationMinMz = math.Float32frombits(le.Uint32(data[pos:]))
			e.IsolationMaxMz = math.Float32frombits(le.Uint32(data[pos+4:]))
			pos += 8
			if err := checkIsolationWindow(e.IsolationMinMz, e.IsolationMaxMz); err != nil {
				return nil, fmt.Errorf("scan %d: %w", e.ScanNumber, err)
			}
		}
		if len(data)-pos < 8 {
			return nil, errShortMetadata
		}
		e.RecordOffset = int64(le.Uint64(data[pos:]))
		pos += 8

		if e.IsGap() {
			if e.RecordOffset != -1 {
				return nil, fmt.Errorf("gap scan %d has record offset %d", e.ScanNumber, e.RecordOffset)
			}
			continue
		}
		if e.RecordOffset <= lastOffset || e.RecordOffset >= t.PrecursorStart {
			return nil, fmt.Errorf("scan %d record offset %d outside records section [%d, %d)",
				e.ScanNumber, e.RecordOffset, lastOffset+1, t.PrecursorStart)
		}
		lastOffset = e.RecordOffset
	}

	var err error
	var n int
	if m.precursorBins, n, err = chromatogram.DecodeMassBinIndex(data[pos:]); err != nil {
		return nil, fmt.Errorf("precursor mass bins: %w", err)
	}
	pos += n
	if err := m.precursorBins.Validate(t.PrecursorStart, t.ProductStart); err != nil {
		return nil, fmt.Errorf("precursor mass bins: %w", err)
	}
	if m.productBins, n, err = chromatogram.DecodeMassBinIndex(data[pos:]); err != nil {
		return nil, fmt.Errorf("product mass bins: %w", err)
	}
	pos += n
	if err := m.productBins.Validate(t.ProductStart, t.MetadataStart); err != nil {
		return nil, fmt.Errorf("product mass bins: %w", err)
	}
	if pos != len(data) {
		return nil, fmt.Errorf("%d unexpected bytes after metadata block", len(data)-pos)
	}
	return m, nil
}

// scanTable collects index entries while records are written, filling gaps
// between non-contiguous scan numbers.
type scanTable struct {
	entries []ScanIndexEntry
	gaps    int
}

func (t *scanTable) add(s *spectrum.Spectrum, offset int64) error {
	if n := len(t.entries); n > 0 {
		last := t.entries[n-1]
		if s.ScanNumber <= last.ScanNumber {
			return fmt.Errorf("%w: scan %d follows scan %d", core.ErrUnsortedScans, s.ScanNumber, last.ScanNumber)
		}
		for scan := last.ScanNumber + 1; scan < s.ScanNumber; scan++ {
			t.entries = append(t.entries, ScanIndexEntry{
				ScanNumber:   scan,
				ElutionTime:  last.ElutionTime,
				RecordOffset: -1,
			})
			t.gaps++
		}
	}
	e := ScanIndexEntry{
		ScanNumber:   s.ScanNumber,
		MSLevel:      int32(s.MSLevel),
		ElutionTime:  s.ElutionTime,
		RecordOffset: offset,
	}
	if e.hasIsolation() {
		e.IsolationMinMz = float32(s.Precursor.Window.MinMz())
		e.IsolationMaxMz = float32(s.Precursor.Window.MaxMz())
		if err := checkIsolationWindow(e.IsolationMinMz, e.IsolationMaxMz); err != nil {
			return fmt.Errorf("scan %d: %w", s.ScanNumber, err)
		}
	}
	t.entries = append(t.entries, e)
	return nil
}

// bounds returns the scan range; an empty table yields [0, -1].
func (t *scanTable) bounds() (minScan, maxScan int32) {
	if len(t.entries) == 0 {
		return 0, -1
	}
	return t.entries[0].ScanNumber, t.entries[len(t.entries)-1].ScanNumber
}
