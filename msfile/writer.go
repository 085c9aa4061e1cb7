package msfile

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/INLOpen/nexusms/chromatogram"
	"github.com/INLOpen/nexusms/core"
	"github.com/INLOpen/nexusms/metrics"
	"github.com/INLOpen/nexusms/spectrum"
	"github.com/INLOpen/nexusms/sys"
	"go.opentelemetry.io/otel/attribute"
)

const recordBufferSize = 256 * 1024

// BuildStats summarises a finished build.
type BuildStats struct {
	Path          string
	UsedFallback  bool
	FormatVersion int32

	Scans          int
	PrecursorScans int
	FragmentScans  int
	Gaps           int
	MinScan        int32
	MaxScan        int32

	Precursor *chromatogram.BuildResult
	Product   *chromatogram.BuildResult

	DistinctIsolationWindows int
	Mode                     AcquisitionMode

	Bytes    int64
	Duration time.Duration
}

// containerWriter owns the temporary output of one Build.
type containerWriter struct {
	opts      WriterOptions
	file      sys.FileHandle
	tmpPath   string
	finalPath string
	unlock    func() error
	fallback  bool

	offset  int64
	bw      *bufio.Writer
	scratch []byte
	table   scanTable
	stage   Stage

	precursor []chromatogram.ScanPeaks
	product   []chromatogram.ScanPeaks
}

// Build writes every spectrum of source into a new container at path and
// returns the path actually written, which differs from path when the
// target directory was not writable and the fallback directory was used.
//
// Spectra must arrive in strictly increasing scan order; peak lists that are
// not sorted by m/z are sorted in place. ctx is honoured while spectra are
// streamed; once the chromatogram sections start the build runs to
// completion or fails on I/O.
func Build(ctx context.Context, source ScanSource, path string, opts WriterOptions) (string, *BuildStats, error) {
	opts = opts.withDefaults()
	ctx, span := startSpan(ctx, opts.Tracer, "msfile.Build", attribute.String("msfile.path", path))
	defer span.End()

	start := time.Now()
	w, err := openOutput(path, opts)
	if err != nil {
		recordError(span, err)
		opts.Metrics.ObserveBuild(time.Since(start), err)
		return "", nil, err
	}

	stats, err := w.write(ctx, source)
	if err == nil {
		err = w.commit()
	}
	if err != nil {
		if aerr := w.abort(); aerr != nil {
			opts.Logger.WarnContext(ctx, "Failed to clean up temporary container.", "path", w.tmpPath, "error", aerr)
		}
		recordError(span, err)
		opts.Metrics.ObserveBuild(time.Since(start), err)
		return "", nil, err
	}

	stats.Path = w.finalPath
	stats.UsedFallback = w.fallback
	stats.Duration = time.Since(start)
	opts.Metrics.ObserveBuild(stats.Duration, nil)
	span.SetAttributes(
		attribute.String("msfile.final_path", stats.Path),
		attribute.Int("msfile.scans", stats.Scans),
		attribute.Int64("msfile.precursor_peaks", stats.Precursor.PeakCount),
		attribute.Int64("msfile.product_peaks", stats.Product.PeakCount),
	)
	opts.Logger.InfoContext(ctx, "Container written.",
		"path", stats.Path,
		"scans", stats.Scans,
		"precursor_peaks", stats.Precursor.PeakCount,
		"product_peaks", stats.Product.PeakCount,
		"mode", stats.Mode.String(),
		"bytes", stats.Bytes,
		"duration", stats.Duration)
	return stats.Path, stats, nil
}

// openOutput prepares path for writing, retrying once in the fallback
// directory when the target directory refuses writes.
func openOutput(path string, opts WriterOptions) (*containerWriter, error) {
	w, err := openOutputAt(path, opts)
	if err == nil || opts.DisableFallback || !sys.IsPermission(err) {
		return w, err
	}
	fallback := filepath.Join(opts.FallbackDir, filepath.Base(path))
	if filepath.Clean(fallback) == filepath.Clean(path) {
		return nil, err
	}
	opts.Logger.Warn("Target directory is not writable, using fallback directory.", "path", path, "fallback", fallback, "error", err)
	w, ferr := openOutputAt(fallback, opts)
	if ferr != nil {
		return nil, fmt.Errorf("fallback %s after %v: %w", fallback, err, ferr)
	}
	w.fallback = true
	return w, nil
}

func openOutputAt(path string, opts WriterOptions) (*containerWriter, error) {
	lockPath := path + core.LockSuffix
	unlock, err := sys.AcquireOSFileLock(lockPath, opts.LockTimeout)
	if err != nil {
		if !errors.Is(err, sys.ErrOSFileLockNotSupported) {
			return nil, fmt.Errorf("failed to lock %s: %w", lockPath, err)
		}
		opts.Logger.Debug("OS file locks unavailable, writing unlocked.", "path", path)
		unlock = func() error { return nil }
	}

	tmpPath := core.FormatTempFilename(path)
	file, err := sys.Create(tmpPath)
	if err != nil {
		unlock()
		return nil, fmt.Errorf("failed to create temporary container %s: %w", tmpPath, err)
	}
	return &containerWriter{
		opts:      opts,
		file:      file,
		tmpPath:   tmpPath,
		finalPath: path,
		unlock:    unlock,
		bw:        bufio.NewWriterSize(file, recordBufferSize),
	}, nil
}

func (w *containerWriter) progress(stage Stage, done, total int64) {
	if w.opts.Progress == nil || stage < w.stage {
		return
	}
	w.stage = stage
	w.opts.Progress(Progress{Stage: stage, Done: done, Total: total})
}

func (w *containerWriter) write(ctx context.Context, source ScanSource) (*BuildStats, error) {
	version := w.opts.FormatVersion
	if version < core.EarliestFormatVersion || version > core.FormatVersion {
		return nil, fmt.Errorf("cannot write format version %d, supported range is [%d, %d]",
			version, core.EarliestFormatVersion, core.FormatVersion)
	}
	stats := &BuildStats{FormatVersion: version}

	if err := w.writeSpectra(ctx, source, stats); err != nil {
		return nil, err
	}
	precursorStart := w.offset
	if w.opts.Preallocate {
		w.preallocate()
	}

	// Sections below cannot be abandoned halfway.
	ctx = context.WithoutCancel(ctx)
	var err error
	if stats.Precursor, err = w.writeChromatogram(ctx, metrics.ArrayPrecursor, StagePrecursorChromatogram, w.precursor); err != nil {
		return nil, err
	}
	productStart := w.offset
	if stats.Product, err = w.writeChromatogram(ctx, metrics.ArrayProduct, StageProductChromatogram, w.product); err != nil {
		return nil, err
	}
	metadataStart := w.offset

	w.progress(StageMetadata, 0, 1)
	m := &metadata{
		entries:       w.table.entries,
		precursorBins: stats.Precursor.Index,
		productBins:   stats.Product.Index,
	}
	m.minScan, m.maxScan = w.table.bounds()
	trailer := Trailer{
		PrecursorStart: precursorStart,
		ProductStart:   productStart,
		MetadataStart:  metadataStart,
		Version:        version,
	}

	buf := core.BufferPool.Get()
	defer core.BufferPool.Put(buf)
	buf.Grow(m.encodedSize() + TrailerSize)
	buf.Write(m.appendTo(buf.AvailableBuffer()))
	buf.Write(trailer.AppendTo(buf.AvailableBuffer()))
	n, err := w.file.Write(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to write metadata block: %w", err)
	}
	w.offset += int64(n)
	w.progress(StageMetadata, 1, 1)

	iso := indexEntries(w.table.entries)
	stats.MinScan, stats.MaxScan = m.minScan, m.maxScan
	stats.Gaps = w.table.gaps
	stats.DistinctIsolationWindows = iso.distinctWindows()
	stats.Mode = classify(stats.DistinctIsolationWindows, w.opts.DIAWindowThreshold)
	stats.Bytes = w.offset
	return stats, nil
}

func (w *containerWriter) writeSpectra(ctx context.Context, source ScanSource, stats *BuildStats) error {
	var total int64
	if s, ok := source.(sizedSource); ok {
		total = int64(s.Len())
	}
	w.progress(StageSpectra, 0, total)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		s, err := source.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read scan source: %w", err)
		}
		if err := w.writeSpectrum(s); err != nil {
			return err
		}
		stats.Scans++
		if s.IsFragment() {
			stats.FragmentScans++
		} else {
			stats.PrecursorScans++
		}
		w.opts.Metrics.ScanWritten()
		w.progress(StageSpectra, int64(stats.Scans), max(total, int64(stats.Scans)))
	}
	if err := w.bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush spectrum records: %w", err)
	}
	return nil
}

func (w *containerWriter) writeSpectrum(s *spectrum.Spectrum) error {
	if s.ScanNumber < 0 {
		return fmt.Errorf("scan number %d is negative", s.ScanNumber)
	}
	if !spectrum.PeaksSorted(s.Peaks) {
		spectrum.SortPeaks(s.Peaks)
	}
	if err := w.table.add(s, w.offset); err != nil {
		return err
	}

	var err error
	w.scratch, err = spectrum.AppendRecord(w.scratch[:0], s, w.opts.FormatVersion)
	if err != nil {
		return fmt.Errorf("failed to encode scan %d: %w", s.ScanNumber, err)
	}
	peaksOffset := w.offset + int64(len(w.scratch)-len(s.Peaks)*spectrum.PeakSize)
	if _, err := w.bw.Write(w.scratch); err != nil {
		return fmt.Errorf("failed to write scan %d: %w", s.ScanNumber, err)
	}
	w.offset += int64(len(w.scratch))

	if len(s.Peaks) == 0 {
		return nil
	}
	sp := chromatogram.ScanPeaks{
		ScanNumber: s.ScanNumber,
		PeakCount:  len(s.Peaks),
		Offset:     peaksOffset,
		MinMz:      s.Peaks[0].Mz,
		MaxMz:      s.Peaks[len(s.Peaks)-1].Mz,
	}
	if s.IsFragment() {
		w.product = append(w.product, sp)
	} else {
		w.precursor = append(w.precursor, sp)
	}
	return nil
}

// preallocate reserves the chromatogram and metadata sections. Failure only costs speed.
func (w *containerWriter) preallocate() {
	var peaks int64
	for _, s := range w.precursor {
		peaks += int64(s.PeakCount)
	}
	for _, s := range w.product {
		peaks += int64(s.PeakCount)
	}
	size := w.offset + peaks*chromatogram.PeakSize + int64(len(w.table.entries))*28 + TrailerSize
	err := sys.Preallocate(w.file, size)
	ok, unsupported := sys.PreallocStats()
	switch {
	case err == nil:
		w.opts.Metrics.ObservePreallocation(metrics.PreallocOK)
		w.opts.Logger.Debug("Preallocated chromatogram sections.", "path", w.tmpPath, "bytes", size,
			"process_ok", ok, "process_unsupported", unsupported)
	case errors.Is(err, sys.ErrPreallocNotSupported):
		w.opts.Metrics.ObservePreallocation(metrics.PreallocUnsupported)
		w.opts.Logger.Debug("Preallocation not supported.", "path", w.tmpPath,
			"process_ok", ok, "process_unsupported", unsupported)
	default:
		w.opts.Metrics.ObservePreallocation(metrics.PreallocFailed)
		w.opts.Logger.Warn("Preallocation failed.", "path", w.tmpPath, "bytes", size, "error", err)
	}
}

func (w *containerWriter) writeChromatogram(ctx context.Context, array string, stage Stage, sources []chromatogram.ScanPeaks) (*chromatogram.BuildResult, error) {
	ctx, span := startSpan(ctx, w.opts.Tracer, "msfile.writeChromatogram", attribute.String("msfile.array", array))
	defer span.End()

	opts := w.opts.Chromatogram
	opts.Array = array
	opts.Metrics = w.opts.Metrics
	opts.Logger = w.opts.Logger
	opts.Progress = func(done, total int64) { w.progress(stage, done, total) }

	w.progress(stage, 0, 0)
	res, err := chromatogram.NewBuilder(w.file, opts).Build(ctx, sources, w.file, w.offset)
	if err != nil {
		recordError(span, err)
		return nil, fmt.Errorf("failed to build %s chromatogram: %w", array, err)
	}
	span.SetAttributes(
		attribute.Int64("msfile.peaks", res.PeakCount),
		attribute.Int("msfile.resident_high_water", res.ResidentHighWater),
	)
	w.offset = res.EndOffset
	return res, nil
}

// commit syncs the temporary file and moves it into place.
func (w *containerWriter) commit() error {
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync container %s: %w", w.tmpPath, err)
	}
	err := w.file.Close()
	w.file = nil
	if err != nil {
		return fmt.Errorf("failed to close container %s: %w", w.tmpPath, err)
	}
	if err := sys.Rename(w.tmpPath, w.finalPath); err != nil {
		return fmt.Errorf("failed to rename %s to %s: %w", w.tmpPath, w.finalPath, err)
	}
	w.progress(StageDone, 1, 1)
	return w.release()
}

// abort closes and removes the temporary file.
func (w *containerWriter) abort() error {
	if w.file != nil {
		w.file.Close()
		w.file = nil
	}
	var err error
	if rerr := sys.Remove(w.tmpPath); rerr != nil && !os.IsNotExist(rerr) {
		err = fmt.Errorf("failed to remove temporary container %s: %w", w.tmpPath, rerr)
	}
	return errors.Join(err, w.release())
}

func (w *containerWriter) release() error {
	if w.unlock == nil {
		return nil
	}
	unlock := w.unlock
	w.unlock = nil
	return unlock()
}
