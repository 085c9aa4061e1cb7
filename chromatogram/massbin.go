package chromatogram

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// MassBinWidth is the width in Th of one mass bin.
const MassBinWidth = 1.0

// MassBin maps an m/z onto its integer bin, saturating at the int32 limits
// so open bounds such as +Inf still land past every stored bin.
func MassBin(mz float64) int32 {
	f := math.Floor(mz / MassBinWidth)
	switch {
	case math.IsNaN(f):
		return 0
	case f >= math.MaxInt32:
		return math.MaxInt32
	case f <= math.MinInt32:
		return math.MinInt32
	}
	return int32(f)
}

// MassBinIndex maps every bin in [MinBin, MaxBin] to the byte offset of the
// first peak at or after that bin. Offsets has MaxBin-MinBin+2 entries; the
// last one is the end of the array. An empty array has MinBin 0, MaxBin -1
// and a single offset.
type MassBinIndex struct {
	MinBin  int32
	MaxBin  int32
	Offsets []int64
}

// EmptyMassBinIndex is the degenerate index of an empty array starting at start.
func EmptyMassBinIndex(start int64) *MassBinIndex {
	return &MassBinIndex{MinBin: 0, MaxBin: -1, Offsets: []int64{start}}
}

func (m *MassBinIndex) Empty() bool {
	return m.MaxBin < m.MinBin
}

// Start and End are the byte bounds of the indexed array.
func (m *MassBinIndex) Start() int64 { return m.Offsets[0] }
func (m *MassBinIndex) End() int64   { return m.Offsets[len(m.Offsets)-1] }

// SeedRange returns the byte range [begin, end) that holds every peak with
// m/z in [minMz, maxMz]. begin == end when the window misses the array.
func (m *MassBinIndex) SeedRange(minMz, maxMz float64) (begin, end int64) {
	if m.Empty() {
		return m.Start(), m.Start()
	}
	lo, hi := MassBin(minMz), MassBin(maxMz)
	if hi < m.MinBin || lo > m.MaxBin {
		return m.Start(), m.Start()
	}
	lo = max(lo, m.MinBin)
	hi = min(hi, m.MaxBin)
	return m.Offsets[lo-m.MinBin], m.Offsets[hi-m.MinBin+1]
}

// EncodedSize is the number of bytes AppendTo writes.
func (m *MassBinIndex) EncodedSize() int {
	return 8 + 8*len(m.Offsets)
}

// AppendTo appends minBin:int32, maxBin:int32 and the offsets.
func (m *MassBinIndex) AppendTo(dst []byte) []byte {
	le := binary.LittleEndian
	dst = le.AppendUint32(dst, uint32(m.MinBin))
	dst = le.AppendUint32(dst, uint32(m.MaxBin))
	for _, off := range m.Offsets {
		dst = le.AppendUint64(dst, uint64(off))
	}
	return dst
}

var errShortMassBinIndex = errors.New("mass bin index truncated")

// DecodeMassBinIndex decodes an index from the start of data and returns the
// bytes consumed. Offsets are not range checked here.
func DecodeMassBinIndex(data []byte) (*MassBinIndex, int, error) {
	if len(data) < 8 {
		return nil, 0, errShortMassBinIndex
	}
	le := binary.LittleEndian
	m := &MassBinIndex{
		MinBin: int32(le.Uint32(data)),
		MaxBin: int32(le.Uint32(data[4:])),
	}
	n := int64(m.MaxBin) - int64(m.MinBin) + 2
	if n < 1 {
		return nil, 0, fmt.Errorf("mass bin index has inverted bounds [%d, %d]", m.MinBin, m.MaxBin)
	}
	if int64(len(data)-8) < n*8 {
		return nil, 0, errShortMassBinIndex
	}
	m.Offsets = make([]int64, n)
	for i := range m.Offsets {
		m.Offsets[i] = int64(le.Uint64(data[8+8*i:]))
	}
	return m, 8 + 8*int(n), nil
}

// Validate checks that offsets are non-decreasing, inside [start, end] and
// aligned to the peak stride.
func (m *MassBinIndex) Validate(start, end int64) error {
	prev := start
	for i, off := range m.Offsets {
		if off < prev || off > end || (off-start)%PeakSize != 0 {
			return fmt.Errorf("mass bin offset %d (slot %d) outside array [%d, %d]", off, i, start, end)
		}
		prev = off
	}
	if m.Start() != start || m.End() != end {
		return fmt.Errorf("mass bin index spans [%d, %d], array is [%d, %d]", m.Start(), m.End(), start, end)
	}
	return nil
}

// massBinBuilder records bin offsets while peaks are emitted in m/z order.
type massBinBuilder struct {
	start   int64
	minBin  int32
	lastBin int32
	offsets []int64 // -1 marks a bin with no peaks
}

func newMassBinBuilder(start int64) *massBinBuilder {
	return &massBinBuilder{start: start}
}

func (b *massBinBuilder) add(mz float64, offset int64) {
	bin := MassBin(mz)
	if b.offsets == nil {
		b.minBin, b.lastBin = bin, bin
		b.offsets = append(b.offsets, offset)
		return
	}
	if bin <= b.lastBin {
		return
	}
	for i := b.lastBin + 1; i < bin; i++ {
		b.offsets = append(b.offsets, -1)
	}
	b.offsets = append(b.offsets, offset)
	b.lastBin = bin
}

// finish appends the end slot and backfills empty bins from the right.
func (b *massBinBuilder) finish(end int64) *MassBinIndex {
	if b.offsets == nil {
		return EmptyMassBinIndex(b.start)
	}
	offsets := append(b.offsets, end)
	for i := len(offsets) - 2; i >= 0; i-- {
		if offsets[i] < 0 {
			offsets[i] = offsets[i+1]
		}
	}
	return &MassBinIndex{MinBin: b.minBin, MaxBin: b.lastBin, Offsets: offsets}
}
