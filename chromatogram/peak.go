// Package chromatogram builds and describes the two mass-sorted peak arrays
// stored in a container.
package chromatogram

import (
	"encoding/binary"
	"math"
	"sort"
)

// PeakSize is the on-disk size of one Peak.
const PeakSize = 16

// Peak is one entry of a chromatogram array.
type Peak struct {
	Mz         float64
	Intensity  float32
	ScanNumber int32
}

// AppendPeak appends the 16-byte encoding of p.
func AppendPeak(dst []byte, p Peak) []byte {
	le := binary.LittleEndian
	dst = le.AppendUint64(dst, math.Float64bits(p.Mz))
	dst = le.AppendUint32(dst, math.Float32bits(p.Intensity))
	return le.AppendUint32(dst, uint32(p.ScanNumber))
}

// DecodePeak decodes the peak at the start of b, which must hold PeakSize bytes.
func DecodePeak(b []byte) Peak {
	le := binary.LittleEndian
	return Peak{
		Mz:         math.Float64frombits(le.Uint64(b)),
		Intensity:  math.Float32frombits(le.Uint32(b[8:])),
		ScanNumber: int32(le.Uint32(b[12:])),
	}
}

// PeakMz decodes only the m/z of the peak at the start of b.
func PeakMz(b []byte) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}

// BestPeakPerScan keeps the most intense peak of every scan, ordered by scan
// number. The first of equally intense peaks wins.
func BestPeakPerScan(peaks []Peak) []Peak {
	best := make(map[int32]int, len(peaks))
	out := make([]Peak, 0, len(peaks))
	for _, p := range peaks {
		if i, ok := best[p.ScanNumber]; ok {
			if p.Intensity > out[i].Intensity {
				out[i] = p
			}
			continue
		}
		best[p.ScanNumber] = len(out)
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScanNumber < out[j].ScanNumber })
	return out
}

// IsSorted reports whether peaks are non-decreasing by m/z.
func IsSorted(peaks []Peak) bool {
	for i := 1; i < len(peaks); i++ {
		if peaks[i].Mz < peaks[i-1].Mz {
			return false
		}
	}
	return true
}
