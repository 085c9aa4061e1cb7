package msfile

import (
	"fmt"
	"math"

	"github.com/RoaringBitmap/roaring"
)

// IsolationBinsPerTh is the resolution of the isolation bin index (0.1 Th bins).
const IsolationBinsPerTh = 10

// DefaultDIAWindowThreshold is the number of distinct isolation windows at
// which a run is classified as DIA.
const DefaultDIAWindowThreshold = 1000

// Isolation windows outside [0, MaxIsolationMz] or wider than
// MaxIsolationWidth Th are refused by the writer and the reader.
const (
	MaxIsolationMz    = 1e7
	MaxIsolationWidth = 2000
)

func checkIsolationWindow(minMz, maxMz float32) error {
	lo, hi := float64(minMz), float64(maxMz)
	switch {
	case !(lo >= 0 && hi <= MaxIsolationMz):
		return fmt.Errorf("isolation window [%g, %g] outside [0, %g]", lo, hi, float64(MaxIsolationMz))
	case lo > hi:
		return fmt.Errorf("isolation window [%g, %g] is inverted", lo, hi)
	case hi-lo > MaxIsolationWidth:
		return fmt.Errorf("isolation window [%g, %g] is wider than %d Th", lo, hi, MaxIsolationWidth)
	}
	return nil
}

// IsolationBin maps a precursor m/z onto its isolation bin.
func IsolationBin(mz float64) int64 {
	return int64(math.Round(mz * IsolationBinsPerTh))
}

// AcquisitionMode classifies how fragment scans picked their precursors.
type AcquisitionMode uint8

const (
	ModeUnknown AcquisitionMode = iota
	ModeDDA
	ModeDIA
)

func (m AcquisitionMode) String() string {
	switch m {
	case ModeDDA:
		return "DDA"
	case ModeDIA:
		return "DIA"
	default:
		return "unknown"
	}
}

// classify applies the distinct window heuristic.
func classify(distinctWindows, threshold int) AcquisitionMode {
	if threshold <= 0 {
		threshold = DefaultDIAWindowThreshold
	}
	if distinctWindows < threshold {
		return ModeDDA
	}
	return ModeDIA
}

// isolationIndex maps isolation bins to the fragment scans whose window
// covers them.
type isolationIndex struct {
	bins    map[int64]*roaring.Bitmap
	scans   *roaring.Bitmap
	windows map[[2]float32]struct{}
}

func newIsolationIndex() *isolationIndex {
	return &isolationIndex{
		bins:    make(map[int64]*roaring.Bitmap),
		scans:   roaring.New(),
		windows: make(map[[2]float32]struct{}),
	}
}

// add registers scan under every bin of [minMz, maxMz]. Scan numbers are non-negative.
func (x *isolationIndex) add(scan int32, minMz, maxMz float32) {
	x.windows[[2]float32{minMz, maxMz}] = struct{}{}
	x.scans.Add(uint32(scan))
	lo, hi := IsolationBin(float64(minMz)), IsolationBin(float64(maxMz))
	for bin := lo; bin <= hi; bin++ {
		bm, ok := x.bins[bin]
		if !ok {
			bm = roaring.New()
			x.bins[bin] = bm
		}
		bm.Add(uint32(scan))
	}
}

// candidates returns the scans whose window may contain mz. The result is
// shared and must not be modified.
func (x *isolationIndex) candidates(mz float64) *roaring.Bitmap {
	return x.bins[IsolationBin(mz)]
}

func (x *isolationIndex) distinctWindows() int { return len(x.windows) }

func (x *isolationIndex) fragmentScans() uint64 { return x.scans.GetCardinality() }

func (x *isolationIndex) binCount() int { return len(x.bins) }

// indexEntries builds the isolation index from scan metadata.
func indexEntries(entries []ScanIndexEntry) *isolationIndex {
	x := newIsolationIndex()
	for _, e := range entries {
		if e.hasIsolation() {
			x.add(e.ScanNumber, e.IsolationMinMz, e.IsolationMaxMz)
		}
	}
	for _, bm := range x.bins {
		bm.RunOptimize()
	}
	return x
}
