package spectrum

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/INLOpen/nexusms/core"
)

const (
	// NativeIDSize is the fixed width of the NUL-padded native id field.
	NativeIDSize = 50
	// PeakSize is the encoded size of one (mz float64, intensity float32) pair.
	PeakSize = 12

	fragmentFieldsSize = 8 + 4 + 1 + 8 + 8 + 8
	headerSizeV1       = 4 + 1 + 8
	headerSizeV2       = 4 + NativeIDSize + 1 + 8 + 4
	peakCountSize      = 4

	// MaxHeaderSize bounds the bytes needed to decode any record header.
	MaxHeaderSize = headerSizeV2 + fragmentFieldsSize + peakCountSize
)

// Header is the fixed part of a record: everything up to and including the peak count.
type Header struct {
	Spectrum  *Spectrum // Peaks is nil; TotalIonCurrent is zero for version 1.
	PeakCount int
	Size      int // Bytes occupied by the header.
}

// RecordSize is the full encoded size, header plus peaks.
func (h Header) RecordSize() int {
	return h.Size + h.PeakCount*PeakSize
}

func checkVersion(version int32) error {
	if version < core.EarliestFormatVersion || version > core.FormatVersion {
		return fmt.Errorf("unsupported record version %d", version)
	}
	return nil
}

// EncodedSize returns the number of bytes AppendRecord will produce for s.
func EncodedSize(s *Spectrum, version int32) int {
	n := headerSizeV2
	if version == 1 {
		n = headerSizeV1
	}
	if s.MSLevel > 1 {
		n += fragmentFieldsSize
	}
	return n + peakCountSize + len(s.Peaks)*PeakSize
}

// TruncateNativeID shortens id to at most NativeIDSize bytes without
// splitting a UTF-8 sequence.
func TruncateNativeID(id string) string {
	if len(id) <= NativeIDSize {
		return id
	}
	cut := NativeIDSize
	for cut > 0 && !utf8.RuneStart(id[cut]) {
		cut--
	}
	return id[:cut]
}

// AppendRecord appends the encoding of s to dst. Peaks are written in the
// order given; callers sort them first.
func AppendRecord(dst []byte, s *Spectrum, version int32) ([]byte, error) {
	if err := checkVersion(version); err != nil {
		return dst, err
	}
	if err := s.Validate(); err != nil {
		return dst, err
	}

	le := binary.LittleEndian
	dst = le.AppendUint32(dst, uint32(s.ScanNumber))
	if version >= 2 {
		var id [NativeIDSize]byte
		copy(id[:], TruncateNativeID(s.NativeID))
		dst = append(dst, id[:]...)
	}
	dst = append(dst, s.MSLevel)
	dst = le.AppendUint64(dst, math.Float64bits(s.ElutionTime))
	if version >= 2 {
		dst = le.AppendUint32(dst, math.Float32bits(s.TotalIonCurrent))
	}
	if s.MSLevel > 1 {
		w := s.Precursor.Window
		dst = le.AppendUint64(dst, math.Float64bits(w.MonoisotopicMz))
		dst = le.AppendUint32(dst, uint32(w.Charge))
		dst = append(dst, byte(s.Precursor.Activation))
		dst = le.AppendUint64(dst, math.Float64bits(w.TargetMz))
		dst = le.AppendUint64(dst, math.Float64bits(w.LowerOffset))
		dst = le.AppendUint64(dst, math.Float64bits(w.UpperOffset))
	}
	dst = le.AppendUint32(dst, uint32(len(s.Peaks)))
	for _, p := range s.Peaks {
		dst = le.AppendUint64(dst, math.Float64bits(p.Mz))
		dst = le.AppendUint32(dst, math.Float32bits(p.Intensity))
	}
	return dst, nil
}

// recordCursor walks a record buffer, latching the first short read.
type recordCursor struct {
	data []byte
	pos  int
	err  error
}

func (c *recordCursor) take(n int) []byte {
	if c.err != nil {
		return nil
	}
	if n < 0 || len(c.data)-c.pos < n {
		c.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", core.ErrCorruptRecord, n, c.pos, len(c.data)-c.pos)
		return nil
	}
	b := c.data[c.pos : c.pos+n]
	c.pos += n
	return b
}

func (c *recordCursor) u8() uint8 {
	if b := c.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (c *recordCursor) u32() uint32 {
	if b := c.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (c *recordCursor) u64() uint64 {
	if b := c.take(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

func (c *recordCursor) f32() float32 { return math.Float32frombits(c.u32()) }
func (c *recordCursor) f64() float64 { return math.Float64frombits(c.u64()) }

// DecodeHeader decodes the header of the record at the start of data. data
// needs to hold at least the header; MaxHeaderSize bytes always suffice.
func DecodeHeader(data []byte, version int32) (Header, error) {
	if err := checkVersion(version); err != nil {
		return Header{}, err
	}
	c := &recordCursor{data: data}
	s := &Spectrum{}
	s.ScanNumber = int32(c.u32())
	if version >= 2 {
		if id := c.take(NativeIDSize); id != nil {
			s.NativeID = trimNUL(id)
		}
	}
	s.MSLevel = c.u8()
	s.ElutionTime = c.f64()
	if version >= 2 {
		s.TotalIonCurrent = c.f32()
	}
	if c.err == nil && s.MSLevel == 0 {
		return Header{}, fmt.Errorf("%w: scan %d has ms level 0", core.ErrCorruptRecord, s.ScanNumber)
	}
	if s.MSLevel > 1 {
		info := &PrecursorInfo{}
		info.Window.MonoisotopicMz = c.f64()
		info.Window.Charge = int32(c.u32())
		info.Activation = ActivationMethod(c.u8())
		info.Window.TargetMz = c.f64()
		info.Window.LowerOffset = c.f64()
		info.Window.UpperOffset = c.f64()
		s.Precursor = info
	}
	count := int32(c.u32())
	if c.err != nil {
		return Header{}, c.err
	}
	if count < 0 {
		return Header{}, fmt.Errorf("%w: scan %d has negative peak count %d", core.ErrCorruptRecord, s.ScanNumber, count)
	}
	return Header{Spectrum: s, PeakCount: int(count), Size: c.pos}, nil
}

// DecodeRecord decodes one record from the start of data and returns the
// spectrum with the number of bytes the record occupies. Without
// includePeaks the peak section is skipped; version 1 records still read it
// to rebuild the total ion current.
func DecodeRecord(data []byte, version int32, includePeaks bool) (*Spectrum, int, error) {
	h, err := DecodeHeader(data, version)
	if err != nil {
		return nil, 0, err
	}
	s := h.Spectrum
	size := h.RecordSize()
	if len(data) < size {
		return nil, 0, fmt.Errorf("%w: scan %d declares %d peaks but only %d bytes follow the header",
			core.ErrCorruptRecord, s.ScanNumber, h.PeakCount, len(data)-h.Size)
	}
	if !includePeaks && version >= 2 {
		return s, size, nil
	}

	peaks := DecodePeaks(data[h.Size:size], nil)
	if version < 2 {
		s.TotalIonCurrent = SumIntensities(peaks)
	}
	if includePeaks {
		s.Peaks = peaks
	}
	return s, size, nil
}

// DecodePeaks decodes a raw peak section, appending to dst.
func DecodePeaks(data []byte, dst []Peak) []Peak {
	n := len(data) / PeakSize
	if cap(dst)-len(dst) < n {
		grown := make([]Peak, len(dst), len(dst)+n)
		copy(grown, dst)
		dst = grown
	}
	le := binary.LittleEndian
	for i := 0; i < n; i++ {
		b := data[i*PeakSize:]
		dst = append(dst, Peak{
			Mz:        math.Float64frombits(le.Uint64(b)),
			Intensity: math.Float32frombits(le.Uint32(b[8:])),
		})
	}
	return dst
}

func trimNUL(b []byte) string {
	end := len(b)
	for end > 0 && b[end-1] == 0 {
		end--
	}
	return string(b[:end])
}
