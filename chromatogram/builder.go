package chromatogram

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"slices"
	"sort"
	"time"
	"unsafe"

	"github.com/INLOpen/nexusms/core"
	"github.com/INLOpen/nexusms/metrics"
	"github.com/shirou/gopsutil/v3/mem"
)

const (
	DefaultBucketPeaks      = 1_000_000
	DefaultMaxResidentPeaks = 25_000_000
	DefaultMinAllotment     = 5

	// peakMemSize is what one buffered peak costs in memory.
	peakMemSize = int(unsafe.Sizeof(Peak{}))
	// flushBytes is the size of the encode buffer handed to the output writer.
	flushBytes = 64 * 1024
)

// Options tunes a Builder. Zero values select the defaults.
type Options struct {
	// BucketPeaks is the target number of peaks per mass bucket.
	BucketPeaks int
	// MaxResidentPeaks caps the peaks buffered across all scans at once.
	MaxResidentPeaks int
	// MinAllotment is the per-scan allotment floor when the ceiling allows it.
	MinAllotment int
	// MemoryBudget, when non-zero, replaces the free memory probe.
	MemoryBudget uint64
	// FreeMemory reports available memory in bytes. Defaults to gopsutil.
	FreeMemory func() (uint64, error)
	// Pool supplies bucket storage. Defaults to BufferPool.
	Pool *core.RecyclePool[[]Peak]
	// Progress receives the number of peaks emitted so far; calls are monotonic.
	Progress func(done, total int64)
	// Array labels metrics and log lines ("precursor" or "product").
	Array   string
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.BucketPeaks <= 0 {
		out.BucketPeaks = DefaultBucketPeaks
	}
	if out.MaxResidentPeaks <= 0 {
		out.MaxResidentPeaks = DefaultMaxResidentPeaks
	}
	if out.MinAllotment <= 0 {
		out.MinAllotment = DefaultMinAllotment
	}
	if out.FreeMemory == nil {
		out.FreeMemory = AvailableMemory
	}
	if out.Pool == nil {
		out.Pool = BufferPool
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	out.Logger = out.Logger.With("component", "ChromatogramBuilder", "array", out.Array)
	return out
}

// AvailableMemory reports the memory the OS considers available for new allocations.
func AvailableMemory() (uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.Available, nil
}

// BuildResult describes one emitted array.
type BuildResult struct {
	PeakCount int64
	// MinMz and MaxMz are the observed mass range; both zero for an empty array.
	MinMz float64
	MaxMz float64
	// BucketBounds has one more entry than there were buckets.
	BucketBounds []float64
	Index        *MassBinIndex
	StartOffset  int64
	EndOffset    int64
	// ResidentHighWater is the largest number of peaks buffered at once.
	ResidentHighWater int
	Rounds            int
}

// Builder merges the peak lists of many scans into one m/z-sorted array
// without holding more than a bounded number of peaks in memory.
type Builder struct {
	src  io.ReaderAt
	opts Options
}

// NewBuilder returns a builder reading peak sections from src.
func NewBuilder(src io.ReaderAt, opts Options) *Builder {
	return &Builder{src: src, opts: opts.withDefaults()}
}

type bucket struct {
	peaks   []Peak
	flushed int // low-water mark: peaks[:flushed] were emitted
	dirty   bool
}

func (b *bucket) unflushed() int { return len(b.peaks) - b.flushed }

type merge struct {
	opts     Options
	reader   peakReader
	cursors  []scanCursor
	buckets  []bucket
	minMz    float64
	width    float64
	low      int // lowest bucket that may hold unflushed peaks
	resident int
	high     int

	out     io.Writer
	buf     []byte
	offset  int64
	emitted int64
	bins    *massBinBuilder
}

// Build streams the sorted array for sources to out, whose first byte lands
// at startOffset in the file. sources must be in strictly increasing scan order.
func (b *Builder) Build(ctx context.Context, sources []ScanPeaks, out io.Writer, startOffset int64) (*BuildResult, error) {
	total, minMz, maxMz, err := survey(sources)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		b.opts.Logger.DebugContext(ctx, "No peaks, writing empty chromatogram.")
		return &BuildResult{
			Index:        EmptyMassBinIndex(startOffset),
			BucketBounds: []float64{},
			StartOffset:  startOffset,
			EndOffset:    startOffset,
		}, nil
	}

	start := time.Now()
	nb := int((total + int64(b.opts.BucketPeaks) - 1) / int64(b.opts.BucketPeaks))
	if maxMz <= minMz {
		nb = 1
	}
	m := &merge{
		opts:    b.opts,
		reader:  peakReader{src: b.src},
		cursors: make([]scanCursor, 0, len(sources)),
		buckets: make([]bucket, nb),
		minMz:   minMz,
		width:   (maxMz - minMz) / float64(nb),
		out:     out,
		buf:     make([]byte, 0, flushBytes+PeakSize),
		offset:  startOffset,
		bins:    newMassBinBuilder(startOffset),
	}
	for _, s := range sources {
		if s.PeakCount > 0 {
			m.cursors = append(m.cursors, scanCursor{ScanPeaks: s, nextMz: s.MinMz})
		}
	}
	b.opts.Logger.DebugContext(ctx, "Starting chromatogram merge.", "scans", len(m.cursors), "peaks", total, "buckets", nb)

	rounds, err := m.run(total)
	m.releaseAll()
	if err != nil {
		return nil, err
	}
	if m.emitted != total {
		return nil, fmt.Errorf("chromatogram merge emitted %d of %d peaks", m.emitted, total)
	}

	bounds := make([]float64, nb+1)
	for i := range bounds {
		bounds[i] = minMz + float64(i)*m.width
	}
	bounds[nb] = maxMz

	b.opts.Metrics.AddPeaksWritten(b.opts.Array, int(total))
	b.opts.Metrics.SetResidentPeaks(0)
	b.opts.Logger.InfoContext(ctx, "Chromatogram written.",
		"peaks", total, "rounds", rounds, "resident_high_water", m.high, "duration", time.Since(start))

	return &BuildResult{
		PeakCount:         total,
		MinMz:             minMz,
		MaxMz:             maxMz,
		BucketBounds:      bounds,
		Index:             m.bins.finish(m.offset),
		StartOffset:       startOffset,
		EndOffset:         m.offset,
		ResidentHighWater: m.high,
		Rounds:            rounds,
	}, nil
}

func survey(sources []ScanPeaks) (total int64, minMz, maxMz float64, err error) {
	minMz, maxMz = math.Inf(1), math.Inf(-1)
	for i, s := range sources {
		if i > 0 && s.ScanNumber <= sources[i-1].ScanNumber {
			return 0, 0, 0, fmt.Errorf("%w: scan %d follows scan %d", core.ErrUnsortedScans, s.ScanNumber, sources[i-1].ScanNumber)
		}
		if s.PeakCount < 0 {
			return 0, 0, 0, fmt.Errorf("scan %d has negative peak count %d", s.ScanNumber, s.PeakCount)
		}
		if s.PeakCount == 0 {
			continue
		}
		total += int64(s.PeakCount)
		minMz = min(minMz, s.MinMz)
		maxMz = max(maxMz, s.MaxMz)
	}
	if total == 0 {
		return 0, 0, 0, nil
	}
	return total, minMz, maxMz, nil
}

func (m *merge) run(total int64) (int, error) {
	rounds := 0
	var reported int64
	for {
		active := 0
		for i := range m.cursors {
			if !m.cursors[i].drained() {
				active++
			}
		}
		if active == 0 {
			break
		}
		rounds++

		n := m.allotment(active)
		refilled := 0
		for i := range m.cursors {
			c := &m.cursors[i]
			if c.pending > 0 || c.exhausted() {
				continue
			}
			got, err := m.reader.refill(c, n, m.place)
			if err != nil {
				return rounds, err
			}
			refilled += got
		}
		m.opts.Metrics.SetResidentPeaks(m.resident)

		threshold := math.Inf(1)
		for i := range m.cursors {
			if c := &m.cursors[i]; !c.exhausted() {
				threshold = min(threshold, c.nextMz)
			}
		}
		emitted, err := m.drain(threshold)
		if err != nil {
			return rounds, err
		}
		if refilled == 0 && emitted == 0 {
			return rounds, fmt.Errorf("chromatogram merge stalled at m/z %f with %d peaks buffered", threshold, m.resident)
		}
		if m.opts.Progress != nil && m.emitted > reported {
			reported = m.emitted
			m.opts.Progress(reported, total)
		}
	}
	return rounds, m.flush()
}

// allotment is the per-scan refill size for this round.
func (m *merge) allotment(active int) int {
	ceiling := max(m.opts.MaxResidentPeaks/active, 1)
	n := m.opts.MinAllotment

	free := m.opts.MemoryBudget
	if free == 0 {
		var err error
		if free, err = m.opts.FreeMemory(); err != nil {
			m.opts.Logger.Warn("Could not probe free memory, using the allotment floor.", "error", err)
			free = 0
		}
	}
	if byMem := free / uint64(active*peakMemSize); byMem > uint64(n) {
		n = int(min(byMem, uint64(math.MaxInt32)))
	}
	return min(n, ceiling)
}

func (m *merge) bucketFor(mz float64) int {
	if len(m.buckets) == 1 || m.width <= 0 {
		return 0
	}
	i := int((mz - m.minMz) / m.width)
	return max(0, min(i, len(m.buckets)-1))
}

func (m *merge) place(p Peak) {
	i := m.bucketFor(p.Mz)
	bk := &m.buckets[i]
	if bk.peaks == nil {
		bk.peaks = m.opts.Pool.Get()
	}
	bk.peaks = append(bk.peaks, p)
	bk.dirty = true
	if i < m.low {
		m.low = i
	}
	m.resident++
	m.high = max(m.high, m.resident)
}

func comparePeaks(a, b Peak) int {
	if c := cmp.Compare(a.Mz, b.Mz); c != 0 {
		return c
	}
	return cmp.Compare(a.ScanNumber, b.ScanNumber)
}

// drain emits, in bucket order, every buffered peak strictly below threshold.
func (m *merge) drain(threshold float64) (int, error) {
	n := 0
	for m.low < len(m.buckets) {
		bk := &m.buckets[m.low]
		if bk.unflushed() > 0 {
			if bk.dirty {
				slices.SortStableFunc(bk.peaks[bk.flushed:], comparePeaks)
				bk.dirty = false
			}
			for bk.flushed < len(bk.peaks) {
				p := bk.peaks[bk.flushed]
				if p.Mz >= threshold {
					m.compact(bk)
					return n, nil
				}
				if err := m.emit(p); err != nil {
					return n, err
				}
				bk.flushed++
				n++
			}
		}
		m.release(bk)
		m.low++
	}
	return n, nil
}

func (m *merge) compact(bk *bucket) {
	if bk.flushed <= len(bk.peaks)/2 {
		return
	}
	rest := copy(bk.peaks, bk.peaks[bk.flushed:])
	bk.peaks = bk.peaks[:rest]
	bk.flushed = 0
}

func (m *merge) release(bk *bucket) {
	if bk.peaks != nil {
		m.opts.Pool.Put(bk.peaks)
	}
	*bk = bucket{}
}

func (m *merge) releaseAll() {
	for i := range m.buckets {
		m.release(&m.buckets[i])
	}
}

func (m *merge) cursor(scan int32) *scanCursor {
	i := sort.Search(len(m.cursors), func(i int) bool { return m.cursors[i].ScanNumber >= scan })
	return &m.cursors[i]
}

func (m *merge) emit(p Peak) error {
	m.bins.add(p.Mz, m.offset)
	m.buf = AppendPeak(m.buf, p)
	m.offset += PeakSize
	m.emitted++
	m.resident--
	m.cursor(p.ScanNumber).pending--
	if len(m.buf) >= flushBytes {
		return m.flush()
	}
	return nil
}

func (m *merge) flush() error {
	if len(m.buf) == 0 {
		return nil
	}
	if _, err := m.out.Write(m.buf); err != nil {
		return fmt.Errorf("write chromatogram peaks: %w", err)
	}
	m.buf = m.buf[:0]
	return nil
}
