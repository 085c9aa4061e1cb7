package msfile

import (
	"cmp"
	"math"
	"math/rand"
	"slices"
	"testing"

	"github.com/INLOpen/nexusms/chromatogram"
	"github.com/INLOpen/nexusms/internal/synth"
	"github.com/INLOpen/nexusms/metrics"
	"github.com/INLOpen/nexusms/spectrum"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// smallBuild forces many buckets and several merge rounds.
func smallBuild() WriterOptions {
	return WriterOptions{Chromatogram: chromatogram.Options{
		BucketPeaks:      50,
		MaxResidentPeaks: 400,
		MinAllotment:     2,
		MemoryBudget:     1 << 14,
	}}
}

// canonical orders equal m/z within one scan by intensity so peaks that tie
// on both keys compare deterministically.
func canonical(peaks []chromatogram.Peak) []chromatogram.Peak {
	if len(peaks) == 0 {
		return nil
	}
	out := slices.Clone(peaks)
	slices.SortStableFunc(out, func(a, b chromatogram.Peak) int {
		if c := cmp.Compare(a.Mz, b.Mz); c != 0 {
			return c
		}
		if c := cmp.Compare(a.ScanNumber, b.ScanNumber); c != 0 {
			return c
		}
		return cmp.Compare(a.Intensity, b.Intensity)
	})
	return out
}

func randomWindows(rng *rand.Rand, expected []chromatogram.Peak, n int) [][2]float64 {
	windows := [][2]float64{
		{0, 1e6}, {0, 50}, {5000, 6000},
		{0, math.Inf(1)}, {math.Inf(-1), 150}, {0, 1e12}, {-math.MaxFloat64, math.MaxFloat64},
	}
	if len(expected) > 0 {
		first, last := expected[0].Mz, expected[len(expected)-1].Mz
		windows = append(windows, [2]float64{first, first}, [2]float64{last, last}, [2]float64{first - 1, first})
	}
	for i := 0; i < n; i++ {
		lo := 90 + rng.Float64()*1520
		width := rng.ExpFloat64() * 2
		if i%10 == 0 && len(expected) > 0 {
			// Exact hit on a stored m/z.
			lo = expected[rng.Intn(len(expected))].Mz
			width = 0
		}
		windows = append(windows, [2]float64{lo, lo + width})
	}
	return windows
}

func TestQueryPrecursor_MatchesBruteForce(t *testing.T) {
	run := synth.Run(synth.Options{Seed: 42, Cycles: 30, MS2PerCycle: 3, PeaksPerScan: 40, TieEvery: 7})
	path, stats := buildFile(t, run, smallBuild())
	require.Greater(t, stats.Precursor.Rounds, 1)

	expected := synth.ExpectedChromatogram(run, false)
	r := openFile(t, path, ReaderOptions{})
	require.Equal(t, int64(len(expected)), r.PrecursorPeakCount())

	rng := rand.New(rand.NewSource(7))
	for _, w := range randomWindows(rng, expected, 200) {
		got, err := r.QueryPrecursorChromatogram(w[0], w[1])
		require.NoError(t, err)
		want := synth.Window(expected, w[0], w[1])
		require.True(t, chromatogram.IsSorted(got))
		require.Equal(t, canonical(want), canonical(got), "window [%v, %v]", w[0], w[1])
	}
}

func TestQueryPrecursor_OpenBounds(t *testing.T) {
	path, _ := buildFile(t, scenarioRun(), WriterOptions{})
	r := openFile(t, path, ReaderOptions{})

	testCases := []struct {
		name     string
		min, max float64
		want     int
	}{
		{"bounded", 0, 1e6, 15},
		{"beyond int32 bins", 0, 1e10, 15},
		{"huge upper", 0, 1e12, 15},
		{"max float", 0, math.MaxFloat64, 15},
		{"positive infinity", 0, math.Inf(1), 15},
		{"negative infinity", math.Inf(-1), 150, 10},
		{"both infinite", math.Inf(-1), math.Inf(1), 15},
		{"above every peak", 1e10, math.Inf(1), 0},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := r.QueryPrecursorChromatogram(tc.min, tc.max)
			require.NoError(t, err)
			assert.Len(t, got, tc.want)
		})
	}

	got, err := r.QueryFragmentChromatogram(0, math.Inf(1), 100)
	require.NoError(t, err)
	assert.Len(t, got, 6)
}

func TestQueryFragment_MatchesBruteForce(t *testing.T) {
	testCases := []struct {
		name string
		opts synth.Options
	}{
		{"dda", synth.Options{Seed: 3, Cycles: 12, MS2PerCycle: 5, PeaksPerScan: 30}},
		{"dia", synth.Options{Seed: 4, Cycles: 8, MS2PerCycle: 6, PeaksPerScan: 30, DIA: true, MinMz: 400, MaxMz: 700, WindowWidth: 50}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			run := synth.Run(tc.opts)
			path, _ := buildFile(t, run, smallBuild())
			r := openFile(t, path, ReaderOptions{})

			windows := map[int32]*spectrum.IsolationWindow{}
			var precursors []float64
			for _, s := range run {
				if s.IsFragment() {
					w := s.Precursor.Window
					windows[s.ScanNumber] = &w
					precursors = append(precursors, w.TargetMz, w.MinMz(), w.MaxMz(), w.MaxMz()+0.01)
				}
			}
			precursors = append(precursors, 1, 5000)
			expected := synth.ExpectedChromatogram(run, true)

			for i, mz := range precursors {
				lo, hi := 0.0, 1e6
				if i%2 == 1 {
					lo, hi = 150, 450
				}
				var want []chromatogram.Peak
				for _, p := range synth.Window(expected, lo, hi) {
					w := windows[p.ScanNumber]
					if mz >= float64(float32(w.MinMz())) && mz <= float64(float32(w.MaxMz())) {
						want = append(want, p)
					}
				}
				got, err := r.QueryFragmentChromatogram(lo, hi, mz)
				require.NoError(t, err)
				require.Equal(t, canonical(want), canonical(got), "precursor %v", mz)
			}
		})
	}
}

func TestQueryCache_ReturnsSameResults(t *testing.T) {
	run := synth.Run(synth.Options{Seed: 11, Cycles: 20, MS2PerCycle: 2, PeaksPerScan: 60, TieEvery: 5})
	path, _ := buildFile(t, run, WriterOptions{})

	plain := openFile(t, path, ReaderOptions{})
	m := metrics.New(prometheus.NewRegistry())
	cached := openFile(t, path, ReaderOptions{LowerCacheRecords: 16, HigherCacheRecords: 16, Metrics: m})

	rng := rand.New(rand.NewSource(5))
	center := 600.0
	for i := 0; i < 400; i++ {
		// Mostly small steps so later windows land inside earlier reads.
		if i%50 == 0 {
			center = 100 + rng.Float64()*1400
		}
		center += (rng.Float64() - 0.3) * 0.1
		lo, hi := center-0.1, center+0.1
		want, err := plain.QueryPrecursorChromatogram(lo, hi)
		require.NoError(t, err)
		got, err := cached.QueryPrecursorChromatogram(lo, hi)
		require.NoError(t, err)
		require.Equal(t, want, got, "window [%v, %v]", lo, hi)
	}
	assert.Positive(t, testutil.ToFloat64(m.QueryCacheHits))
	assert.Positive(t, testutil.ToFloat64(m.QueryCacheMisses))

	// Whole-array reads start and end the cache at the array bounds.
	all, err := cached.QueryPrecursorChromatogram(0, 1e6)
	require.NoError(t, err)
	again, err := cached.QueryPrecursorChromatogram(50, 1e5)
	require.NoError(t, err)
	assert.Equal(t, all, again)
}

func TestQueryCache_InactiveBelowThreshold(t *testing.T) {
	path, _ := buildFile(t, scenarioRun(), WriterOptions{})
	m := metrics.New(prometheus.NewRegistry())
	r := openFile(t, path, ReaderOptions{LowerCacheRecords: 10, HigherCacheRecords: 10, Metrics: m})

	for i := 0; i < 3; i++ {
		peaks, err := r.QueryPrecursorChromatogram(99.9, 100.1)
		require.NoError(t, err)
		assert.Len(t, peaks, 10)
	}
	assert.Zero(t, testutil.ToFloat64(m.QueryCacheHits))
	assert.Zero(t, testutil.ToFloat64(m.QueryCacheMisses))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.QueriesTotal.WithLabelValues(metrics.ArrayPrecursor)))
}

func TestQuery_ConcurrentReaders(t *testing.T) {
	run := synth.Run(synth.Options{Seed: 21, Cycles: 10, MS2PerCycle: 2, PeaksPerScan: 50})
	path, _ := buildFile(t, run, WriterOptions{})
	expected := synth.ExpectedChromatogram(run, false)
	r := openFile(t, path, ReaderOptions{LowerCacheRecords: 20, HigherCacheRecords: 20, SpectrumCacheCapacity: 8})

	var g errgroup.Group
	for w := 0; w < 8; w++ {
		seed := int64(w)
		g.Go(func() error {
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < 50; i++ {
				lo := 100 + rng.Float64()*1500
				got, err := r.QueryPrecursorChromatogram(lo, lo+1)
				if err != nil {
					return err
				}
				if !assert.Equal(t, canonical(synth.Window(expected, lo, lo+1)), canonical(got)) {
					return nil
				}
				s := run[rng.Intn(len(run))]
				sp, err := r.GetSpectrum(s.ScanNumber, true)
				if err != nil {
					return err
				}
				assert.Equal(t, s, sp)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
}

func TestTolerance(t *testing.T) {
	lo, hi := PPM(10).Window(500)
	assert.InDelta(t, 499.995, lo, 1e-9)
	assert.InDelta(t, 500.005, hi, 1e-9)
	lo, hi = Th(0.5).Window(500)
	assert.Equal(t, 499.5, lo)
	assert.Equal(t, 500.5, hi)
	assert.Equal(t, "10ppm", PPM(10).String())

	testCases := map[string]Tolerance{
		"10ppm":   PPM(10),
		" 5 PPM ": PPM(5),
		"0.01Th":  Th(0.01),
		"0.02da":  Th(0.02),
		"1.5 Da":  Th(1.5),
	}
	for in, want := range testCases {
		got, err := ParseTolerance(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, in := range []string{"", "10", "ppm", "-3ppm", "abcDa"} {
		_, err := ParseTolerance(in)
		assert.Error(t, err, in)
	}
}

func TestExtractIonChromatogram(t *testing.T) {
	path, _ := buildFile(t, scenarioRun(), WriterOptions{})
	r := openFile(t, path, ReaderOptions{})

	xic, err := r.ExtractIonChromatogram(100.0, PPM(10))
	require.NoError(t, err)
	assert.Equal(t, []int32{1, 2, 3, 5, 7}, xic.ScanNumbers)
	assert.Equal(t, []float64{0.5, 1.0, 1.5, 2.0, 2.5}, xic.ElutionTimes)
	assert.Equal(t, []float32{20, 40, 60, 100, 140}, xic.Intensities)

	narrow, err := r.ExtractIonChromatogram(100.0, Th(0.0001))
	require.NoError(t, err)
	assert.Equal(t, []float32{10, 20, 30, 50, 70}, narrow.Intensities)

	none, err := r.ExtractIonChromatogram(300, Th(1))
	require.NoError(t, err)
	assert.Empty(t, none.ScanNumbers)
}
