package chromatogram

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/INLOpen/nexusms/spectrum"
)

// tieProbe is how many peaks are read at a time while extending an allotment
// across equal masses.
const tieProbe = 16

// ScanPeaks locates the peak section of one already written spectrum record.
type ScanPeaks struct {
	ScanNumber int32
	PeakCount  int
	// Offset is the absolute position of the first peak in the file being written.
	Offset int64
	// MinMz and MaxMz are the first and last peak masses; ignored when PeakCount is 0.
	MinMz float64
	MaxMz float64
}

// scanCursor yields the peaks of one scan in allotments.
type scanCursor struct {
	ScanPeaks
	read    int     // peaks moved into buckets
	pending int     // of those, peaks not yet emitted
	nextMz  float64 // mz of the first unread peak, valid while read < PeakCount
}

func (c *scanCursor) exhausted() bool { return c.read >= c.PeakCount }
func (c *scanCursor) drained() bool   { return c.exhausted() && c.pending == 0 }

// peakReader reads raw spectrum peaks through a reusable scratch buffer.
type peakReader struct {
	src     io.ReaderAt
	scratch []byte
}

func (r *peakReader) read(c *scanCursor, from, n int) ([]byte, error) {
	size := n * spectrum.PeakSize
	if cap(r.scratch) < size {
		r.scratch = make([]byte, size)
	}
	buf := r.scratch[:size]
	off := c.Offset + int64(from)*spectrum.PeakSize
	if got, err := r.src.ReadAt(buf, off); err != nil && !(err == io.EOF && got == size) {
		return nil, fmt.Errorf("read %d peaks of scan %d at offset %d: %w", n, c.ScanNumber, off, err)
	}
	return buf, nil
}

// refill moves up to n peaks of c into place, plus any further peaks with
// the same m/z as the last one taken, so that everything buffered for the
// scan stays strictly below its next unread m/z.
func (r *peakReader) refill(c *scanCursor, n int, place func(Peak)) (int, error) {
	want := min(n, c.PeakCount-c.read)
	taken := 0
	last := math.Inf(-1)
	if c.read > 0 {
		last = c.nextMz
	}
	for !c.exhausted() {
		batch := want - taken
		if batch <= 0 {
			batch = tieProbe
		}
		cnt := min(batch+1, c.PeakCount-c.read)
		raw, err := r.read(c, c.read, cnt)
		if err != nil {
			return taken, err
		}
		for i := 0; i < cnt; i++ {
			b := raw[i*spectrum.PeakSize:]
			mz := math.Float64frombits(binary.LittleEndian.Uint64(b))
			if mz < last {
				return taken, fmt.Errorf("scan %d: peak %d at m/z %f is below its predecessor %f", c.ScanNumber, c.read, mz, last)
			}
			if taken >= want && mz != last {
				c.nextMz = mz
				return taken, nil
			}
			place(Peak{
				Mz:         mz,
				Intensity:  math.Float32frombits(binary.LittleEndian.Uint32(b[8:])),
				ScanNumber: c.ScanNumber,
			})
			last = mz
			taken++
			c.read++
			c.pending++
		}
	}
	return taken, nil
}
