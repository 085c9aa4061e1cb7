package msfile

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/INLOpen/nexusms/cache"
	"github.com/INLOpen/nexusms/chromatogram"
	"github.com/INLOpen/nexusms/core"
	"github.com/INLOpen/nexusms/spectrum"
	"go.opentelemetry.io/otel/attribute"
)

// Reader serves random access and chromatogram queries on one container.
// It is safe for concurrent use; file reads serialise on its handle.
type Reader struct {
	path    string
	fh      *fileHandle
	trailer Trailer
	meta    *metadata
	iso     *isolationIndex
	opts    ReaderOptions
	spectra *cache.LRUCache[int32, *spectrum.Spectrum]

	queryMu sync.Mutex
	qcache  queryCache

	modeOnce sync.Once
	mode     AcquisitionMode

	closed atomic.Bool
}

// Open validates the trailer of path and loads its indexes.
func Open(path string, opts ReaderOptions) (r *Reader, err error) {
	opts = opts.withDefaults()
	_, span := startSpan(context.Background(), opts.Tracer, "msfile.Open", attribute.String("msfile.path", path))
	defer span.End()
	defer func() { recordError(span, err) }()

	fh, err := openFileHandle(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			fh.close()
		}
	}()

	trailer, err := readTrailer(fh)
	if err != nil {
		return nil, err
	}
	data := make([]byte, fh.size-TrailerSize-trailer.MetadataStart)
	if err := fh.readAt(data, trailer.MetadataStart); err != nil {
		return nil, fmt.Errorf("failed to read metadata block: %w", err)
	}
	meta, err := decodeMetadata(data, trailer)
	if err != nil {
		return nil, core.NewFormatError(path, "metadata: %v", err)
	}

	r = &Reader{
		path:    path,
		fh:      fh,
		trailer: trailer,
		meta:    meta,
		iso:     indexEntries(meta.entries),
		opts:    opts,
	}
	r.spectra = cache.NewLRUCache[int32, *spectrum.Spectrum](opts.SpectrumCacheCapacity, nil,
		func(int32) { opts.Metrics.SpectrumCacheHit() },
		func(int32) { opts.Metrics.SpectrumCacheMiss() },
	)

	span.SetAttributes(
		attribute.Int("msfile.version", int(trailer.Version)),
		attribute.Int("msfile.scans", len(meta.entries)),
	)
	opts.Logger.Debug("Container opened.",
		"path", path,
		"version", trailer.Version,
		"min_scan", meta.minScan,
		"max_scan", meta.maxScan,
		"precursor_peaks", r.PrecursorPeakCount(),
		"product_peaks", r.ProductPeakCount(),
		"isolation_bins", r.iso.binCount())
	return r, nil
}

// readTrailer checks the file size and version tag before trusting any offset.
func readTrailer(fh *fileHandle) (Trailer, error) {
	if fh.size < MinFileSize {
		return Trailer{}, core.NewFormatError(fh.path, "file is %d bytes, smaller than the minimum %d", fh.size, MinFileSize)
	}
	var tag [4]byte
	if err := fh.readAt(tag[:], fh.size-4); err != nil {
		return Trailer{}, fmt.Errorf("failed to read format version: %w", err)
	}
	version := int32(binary.LittleEndian.Uint32(tag[:]))
	if version < core.EarliestFormatVersion || version > core.FormatVersion {
		return Trailer{}, &core.VersionSkewError{
			Path:     fh.path,
			Found:    version,
			Earliest: core.EarliestFormatVersion,
			Newest:   core.FormatVersion,
		}
	}

	var buf [TrailerSize]byte
	if err := fh.readAt(buf[:], fh.size-TrailerSize); err != nil {
		return Trailer{}, fmt.Errorf("failed to read trailer: %w", err)
	}
	t := decodeTrailer(buf[:])
	if err := t.validate(fh.size); err != nil {
		return Trailer{}, core.NewFormatError(fh.path, "trailer: %v", err)
	}
	return t, nil
}

func (r *Reader) Path() string     { return r.path }
func (r *Reader) Version() int32   { return r.trailer.Version }
func (r *Reader) Trailer() Trailer { return r.trailer }
func (r *Reader) MinScan() int32   { return r.meta.minScan }
func (r *Reader) MaxScan() int32   { return r.meta.maxScan }
func (r *Reader) ScanCount() int   { return len(r.meta.entries) }
func (r *Reader) PrecursorPeakCount() int64 {
	return (r.trailer.ProductStart - r.trailer.PrecursorStart) / chromatogram.PeakSize
}
func (r *Reader) ProductPeakCount() int64 {
	return (r.trailer.MetadataStart - r.trailer.ProductStart) / chromatogram.PeakSize
}

// ScanIndex returns the index entry of scan, gaps included.
func (r *Reader) ScanIndex(scan int32) (ScanIndexEntry, error) {
	if scan < r.meta.minScan || scan > r.meta.maxScan {
		return ScanIndexEntry{}, fmt.Errorf("%w: %d outside [%d, %d]", core.ErrScanNotFound, scan, r.meta.minScan, r.meta.maxScan)
	}
	return r.meta.entries[scan-r.meta.minScan], nil
}

// entry is ScanIndex restricted to written scans.
func (r *Reader) entry(scan int32) (ScanIndexEntry, error) {
	e, err := r.ScanIndex(scan)
	if err != nil {
		return e, err
	}
	if e.IsGap() {
		return e, fmt.Errorf("%w: %d is a gap", core.ErrScanNotFound, scan)
	}
	return e, nil
}

func (r *Reader) ElutionTime(scan int32) (float64, error) {
	e, err := r.entry(scan)
	return e.ElutionTime, err
}

func (r *Reader) MSLevel(scan int32) (uint8, error) {
	e, err := r.entry(scan)
	return uint8(e.MSLevel), err
}

func levelMatches(e ScanIndexEntry, level uint8) bool {
	return !e.IsGap() && (level == 0 || e.MSLevel == int32(level))
}

// ScanNumbers lists the written scans of level in ascending order; level 0 lists all.
func (r *Reader) ScanNumbers(level uint8) []int32 {
	var out []int32
	for _, e := range r.meta.entries {
		if levelMatches(e, level) {
			out = append(out, e.ScanNumber)
		}
	}
	return out
}

// NextScanNum returns the first written scan after scan with the given level (0: any).
func (r *Reader) NextScanNum(scan int32, level uint8) (int32, bool) {
	start := max(int64(scan)+1, int64(r.meta.minScan)) - int64(r.meta.minScan)
	for i := start; i < int64(len(r.meta.entries)); i++ {
		if e := r.meta.entries[i]; levelMatches(e, level) {
			return e.ScanNumber, true
		}
	}
	return 0, false
}

// PrevScanNum returns the last written scan before scan with the given level (0: any).
func (r *Reader) PrevScanNum(scan int32, level uint8) (int32, bool) {
	start := min(int64(scan)-1, int64(r.meta.maxScan)) - int64(r.meta.minScan)
	for i := start; i >= 0; i-- {
		if e := r.meta.entries[i]; levelMatches(e, level) {
			return e.ScanNumber, true
		}
	}
	return 0, false
}

// FragmentScansIsolating lists the MS2 scans whose isolation window contains mz.
func (r *Reader) FragmentScansIsolating(mz float64) []int32 {
	bm := r.iso.candidates(mz)
	if bm == nil {
		return nil
	}
	out := make([]int32, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		scan := int32(it.Next())
		if r.isolates(scan, mz) {
			out = append(out, scan)
		}
	}
	return out
}

// isolates applies the exact bounds check for one indexed scan.
func (r *Reader) isolates(scan int32, mz float64) bool {
	e := r.meta.entries[scan-r.meta.minScan]
	return mz >= float64(e.IsolationMinMz) && mz <= float64(e.IsolationMaxMz)
}

// AcquisitionMode classifies the run by its number of distinct isolation windows.
func (r *Reader) AcquisitionMode() AcquisitionMode {
	r.modeOnce.Do(func() {
		r.mode = classify(r.iso.distinctWindows(), r.opts.DIAWindowThreshold)
	})
	return r.mode
}

func (r *Reader) IsDIA() bool { return r.AcquisitionMode() == ModeDIA }

// GetSpectrum decodes the record of scan. Without includePeaks the peak list
// is left nil. Callers own the returned spectrum.
func (r *Reader) GetSpectrum(scan int32, includePeaks bool) (*spectrum.Spectrum, error) {
	if r.closed.Load() {
		return nil, core.ErrClosed
	}
	e, err := r.entry(scan)
	if err != nil {
		return nil, err
	}
	if includePeaks {
		if s, ok := r.spectra.Get(scan); ok {
			return cloneSpectrum(s), nil
		}
	}

	s, err := r.readRecord(e, includePeaks)
	if err != nil {
		return nil, err
	}
	r.opts.Metrics.SpectrumRead()
	if includePeaks && r.spectra.Capacity() > 0 {
		r.spectra.Put(scan, s)
		return cloneSpectrum(s), nil
	}
	return s, nil
}

// GetIsolationWindow returns the isolation window of a fragment scan.
func (r *Reader) GetIsolationWindow(scan int32) (*spectrum.IsolationWindow, error) {
	if r.closed.Load() {
		return nil, core.ErrClosed
	}
	e, err := r.entry(scan)
	if err != nil {
		return nil, err
	}
	if e.MSLevel < 2 {
		return nil, fmt.Errorf("%w: scan %d has ms level %d", core.ErrNotFragment, scan, e.MSLevel)
	}
	h, err := r.readHeader(e)
	if err != nil {
		return nil, err
	}
	w := h.Spectrum.Precursor.Window
	return &w, nil
}

// recordLimit is the offset the record of e must end by.
func (r *Reader) recordLimit(e ScanIndexEntry) int64 {
	for i := int(e.ScanNumber-r.meta.minScan) + 1; i < len(r.meta.entries); i++ {
		if next := r.meta.entries[i]; !next.IsGap() {
			return next.RecordOffset
		}
	}
	return r.trailer.PrecursorStart
}

func (r *Reader) readHeader(e ScanIndexEntry) (spectrum.Header, error) {
	limit := r.recordLimit(e)
	buf := make([]byte, min(int64(spectrum.MaxHeaderSize), limit-e.RecordOffset))
	if err := r.fh.readAt(buf, e.RecordOffset); err != nil {
		return spectrum.Header{}, err
	}
	h, err := spectrum.DecodeHeader(buf, r.trailer.Version)
	if err != nil {
		return h, fmt.Errorf("scan %d: %w", e.ScanNumber, err)
	}
	switch {
	case h.Spectrum.ScanNumber != e.ScanNumber:
		return h, fmt.Errorf("%w: record at %d holds scan %d, index says %d",
			core.ErrCorruptRecord, e.RecordOffset, h.Spectrum.ScanNumber, e.ScanNumber)
	case int32(h.Spectrum.MSLevel) != e.MSLevel:
		return h, fmt.Errorf("%w: scan %d record has ms level %d, index says %d",
			core.ErrCorruptRecord, e.ScanNumber, h.Spectrum.MSLevel, e.MSLevel)
	case e.RecordOffset+int64(h.RecordSize()) > limit:
		return h, fmt.Errorf("%w: scan %d record of %d bytes overruns the next record",
			core.ErrCorruptRecord, e.ScanNumber, h.RecordSize())
	}
	return h, nil
}

func (r *Reader) readRecord(e ScanIndexEntry, includePeaks bool) (*spectrum.Spectrum, error) {
	h, err := r.readHeader(e)
	if err != nil {
		return nil, err
	}
	if !includePeaks && r.trailer.Version >= 2 {
		return h.Spectrum, nil
	}
	buf := make([]byte, h.RecordSize())
	if err := r.fh.readAt(buf, e.RecordOffset); err != nil {
		return nil, err
	}
	s, _, err := spectrum.DecodeRecord(buf, r.trailer.Version, includePeaks)
	if err != nil {
		return nil, fmt.Errorf("scan %d: %w", e.ScanNumber, err)
	}
	return s, nil
}

func cloneSpectrum(s *spectrum.Spectrum) *spectrum.Spectrum {
	c := *s
	c.Peaks = append([]spectrum.Peak(nil), s.Peaks...)
	if s.Precursor != nil {
		p := *s.Precursor
		c.Precursor = &p
	}
	return &c
}

// Close releases the file handle. Later calls return core.ErrClosed.
func (r *Reader) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	r.spectra.Clear()
	r.queryMu.Lock()
	r.qcache.reset()
	r.queryMu.Unlock()
	if err := r.fh.close(); err != nil && !errors.Is(err, core.ErrClosed) {
		return fmt.Errorf("failed to close container %s: %w", r.path, err)
	}
	return nil
}
