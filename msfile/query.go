package msfile

import (
	"context"
	"fmt"
	"slices"

	"github.com/INLOpen/nexusms/chromatogram"
	"github.com/INLOpen/nexusms/core"
	"github.com/INLOpen/nexusms/metrics"
	"go.opentelemetry.io/otel/attribute"
)

// scanBlock is how many records the linear scans read per call.
const scanBlock = 256

// array is one chromatogram section of the file.
type array struct {
	name  string
	start int64
	count int64
	bins  *chromatogram.MassBinIndex
}

func (r *Reader) precursorArray() array {
	return array{
		name:  metrics.ArrayPrecursor,
		start: r.trailer.PrecursorStart,
		count: r.PrecursorPeakCount(),
		bins:  r.meta.precursorBins,
	}
}

func (r *Reader) productArray() array {
	return array{
		name:  metrics.ArrayProduct,
		start: r.trailer.ProductStart,
		count: r.ProductPeakCount(),
		bins:  r.meta.productBins,
	}
}

// queryCache holds the contiguous records [lowIdx, highIdx] of the precursor
// array read by the last cache-building query.
type queryCache struct {
	valid   bool
	lowIdx  int64
	highIdx int64
	atStart bool
	atEnd   bool
	peaks   []chromatogram.Peak
}

func (c *queryCache) reset() {
	c.valid = false
	c.peaks = c.peaks[:0]
}

// covers reports whether every record with m/z in [minMz, maxMz] is cached.
// Records equal to an edge m/z may continue outside the cached range, so
// uncapped edges must lie strictly inside.
func (c *queryCache) covers(minMz, maxMz float64) bool {
	if !c.valid || len(c.peaks) == 0 {
		return false
	}
	low := c.atStart || minMz > c.peaks[0].Mz
	high := c.atEnd || maxMz < c.peaks[len(c.peaks)-1].Mz
	return low && high
}

func (c *queryCache) filter(minMz, maxMz float64) []chromatogram.Peak {
	from, _ := slices.BinarySearchFunc(c.peaks, minMz, func(p chromatogram.Peak, mz float64) int {
		if p.Mz < mz {
			return -1
		}
		return 1
	})
	var out []chromatogram.Peak
	for _, p := range c.peaks[from:] {
		if p.Mz > maxMz {
			break
		}
		out = append(out, p)
	}
	return out
}

// QueryPrecursorChromatogram returns every precursor array entry with m/z in
// [minMz, maxMz], ordered by m/z then write order.
func (r *Reader) QueryPrecursorChromatogram(minMz, maxMz float64) ([]chromatogram.Peak, error) {
	_, span := startSpan(context.Background(), r.opts.Tracer, "msfile.QueryPrecursorChromatogram",
		attribute.Float64("msfile.min_mz", minMz), attribute.Float64("msfile.max_mz", maxMz))
	defer span.End()

	peaks, err := r.queryPrecursor(minMz, maxMz)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("msfile.peaks", len(peaks)))
	r.opts.Metrics.ObserveQuery(metrics.ArrayPrecursor, len(peaks))
	return peaks, nil
}

func (r *Reader) queryPrecursor(minMz, maxMz float64) ([]chromatogram.Peak, error) {
	if err := checkRange(minMz, maxMz); err != nil {
		return nil, err
	}
	if r.closed.Load() {
		return nil, core.ErrClosed
	}
	a := r.precursorArray()
	if !r.opts.queryCacheEnabled() {
		return r.scanArray(a, minMz, maxMz, 0, 0, nil)
	}

	r.queryMu.Lock()
	defer r.queryMu.Unlock()
	if r.qcache.covers(minMz, maxMz) {
		r.opts.Metrics.ObserveQueryCache(true)
		return r.qcache.filter(minMz, maxMz), nil
	}
	r.opts.Metrics.ObserveQueryCache(false)
	r.qcache.reset()
	return r.scanArray(a, minMz, maxMz, r.opts.LowerCacheRecords, r.opts.HigherCacheRecords, &r.qcache)
}

// QueryFragmentChromatogram returns the product array entries with m/z in
// [minMz, maxMz] whose scan isolated precursorMz.
func (r *Reader) QueryFragmentChromatogram(minMz, maxMz, precursorMz float64) ([]chromatogram.Peak, error) {
	_, span := startSpan(context.Background(), r.opts.Tracer, "msfile.QueryFragmentChromatogram",
		attribute.Float64("msfile.min_mz", minMz),
		attribute.Float64("msfile.max_mz", maxMz),
		attribute.Float64("msfile.precursor_mz", precursorMz))
	defer span.End()

	if err := checkRange(minMz, maxMz); err != nil {
		recordError(span, err)
		return nil, err
	}
	if r.closed.Load() {
		return nil, core.ErrClosed
	}
	scans := r.iso.candidates(precursorMz)
	if scans == nil {
		r.opts.Metrics.ObserveQuery(metrics.ArrayProduct, 0)
		return nil, nil
	}
	peaks, err := r.scanArray(r.productArray(), minMz, maxMz, 0, 0, nil)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	out := peaks[:0]
	for _, p := range peaks {
		if scans.Contains(uint32(p.ScanNumber)) && r.isolates(p.ScanNumber, precursorMz) {
			out = append(out, p)
		}
	}
	span.SetAttributes(attribute.Int("msfile.peaks", len(out)))
	r.opts.Metrics.ObserveQuery(metrics.ArrayProduct, len(out))
	return out, nil
}

// QueryPrecursorTolerance queries the precursor array around mz.
func (r *Reader) QueryPrecursorTolerance(mz float64, tol Tolerance) ([]chromatogram.Peak, error) {
	lo, hi := tol.Window(mz)
	return r.QueryPrecursorChromatogram(lo, hi)
}

func checkRange(minMz, maxMz float64) error {
	if !(minMz <= maxMz) {
		return fmt.Errorf("%w: [%g, %g]", core.ErrInvalidRange, minMz, maxMz)
	}
	return nil
}

// scanArray seeds a bisection from the mass bin index, then walks outwards
// from the first hit. With a non-nil cache it also reads lower records below
// and higher records above the window and keeps everything it read.
func (r *Reader) scanArray(a array, minMz, maxMz float64, lower, higher int, cache *queryCache) ([]chromatogram.Peak, error) {
	if a.count == 0 {
		return nil, nil
	}
	begin, end := a.bins.SeedRange(minMz, maxMz)
	if begin >= end {
		return nil, nil
	}
	hit, ok, err := r.bisect(a, (begin-a.start)/chromatogram.PeakSize, (end-a.start)/chromatogram.PeakSize, minMz, maxMz)
	if err != nil || !ok {
		return nil, err
	}

	below, atStart, err := r.scanDown(a, hit, minMz, lower)
	if err != nil {
		return nil, err
	}
	above, atEnd, err := r.scanUp(a, hit+1, maxMz, higher)
	if err != nil {
		return nil, err
	}

	// below is in descending index order and ends with the lower extras.
	slices.Reverse(below)
	run := append(below, above...)
	firstMatch := len(below) - 1
	for firstMatch >= 0 && run[firstMatch].Mz >= minMz {
		firstMatch--
	}
	firstMatch++
	lastMatch := len(below)
	for lastMatch < len(run) && run[lastMatch].Mz <= maxMz {
		lastMatch++
	}

	if cache == nil {
		return run[firstMatch:lastMatch], nil
	}
	cache.valid = true
	cache.lowIdx = hit - int64(len(below)) + 1
	cache.highIdx = cache.lowIdx + int64(len(run)) - 1
	cache.atStart = atStart
	cache.atEnd = atEnd
	cache.peaks = append(cache.peaks[:0], run...)
	return slices.Clone(run[firstMatch:lastMatch]), nil
}

// bisect finds any record in [lo, hi) with m/z inside the window.
func (r *Reader) bisect(a array, lo, hi int64, minMz, maxMz float64) (int64, bool, error) {
	var rec [chromatogram.PeakSize]byte
	for lo < hi {
		mid := lo + (hi-lo)/2
		if err := r.fh.readAt(rec[:], a.start+mid*chromatogram.PeakSize); err != nil {
			return 0, false, fmt.Errorf("read %s chromatogram record %d: %w", a.name, mid, err)
		}
		switch mz := chromatogram.PeakMz(rec[:]); {
		case mz < minMz:
			lo = mid + 1
		case mz > maxMz:
			hi = mid
		default:
			return mid, true, nil
		}
	}
	return 0, false, nil
}

func (r *Reader) readRecords(a array, from, to int64) ([]chromatogram.Peak, error) {
	buf := make([]byte, (to-from)*chromatogram.PeakSize)
	if err := r.fh.readAt(buf, a.start+from*chromatogram.PeakSize); err != nil {
		return nil, fmt.Errorf("read %s chromatogram records [%d, %d): %w", a.name, from, to, err)
	}
	peaks := make([]chromatogram.Peak, to-from)
	for i := range peaks {
		peaks[i] = chromatogram.DecodePeak(buf[i*chromatogram.PeakSize:])
	}
	return peaks, nil
}

// scanDown collects records from index from downwards while m/z >= minMz,
// then up to extra more. Results are in descending index order.
func (r *Reader) scanDown(a array, from int64, minMz float64, extra int) ([]chromatogram.Peak, bool, error) {
	var out []chromatogram.Peak
	pos := from + 1
	for pos > 0 {
		lo := max(0, pos-scanBlock)
		block, err := r.readRecords(a, lo, pos)
		if err != nil {
			return nil, false, err
		}
		for i := len(block) - 1; i >= 0; i-- {
			p := block[i]
			if p.Mz < minMz {
				if extra == 0 {
					return out, false, nil
				}
				extra--
			}
			out = append(out, p)
		}
		pos = lo
	}
	return out, true, nil
}

// scanUp collects records from index from upwards while m/z <= maxMz, then
// up to extra more.
func (r *Reader) scanUp(a array, from int64, maxMz float64, extra int) ([]chromatogram.Peak, bool, error) {
	var out []chromatogram.Peak
	pos := from
	for pos < a.count {
		hi := min(a.count, pos+scanBlock)
		block, err := r.readRecords(a, pos, hi)
		if err != nil {
			return nil, false, err
		}
		for _, p := range block {
			if p.Mz > maxMz {
				if extra == 0 {
					return out, false, nil
				}
				extra--
			}
			out = append(out, p)
		}
		pos = hi
	}
	return out, true, nil
}
