// Package synth generates deterministic LC-MS runs for tests and the CLI.
package synth

import (
	"cmp"
	"math"
	"math/rand"
	"slices"
	"strconv"

	"github.com/INLOpen/nexusms/chromatogram"
	"github.com/INLOpen/nexusms/spectrum"
)

// Options shapes a generated run. Zero values select the defaults.
type Options struct {
	Seed         int64
	Cycles       int // one MS1 scan followed by MS2PerCycle fragment scans
	MS2PerCycle  int
	PeaksPerScan int
	MinMz        float64
	MaxMz        float64
	CycleTime    float64 // seconds between MS1 scans
	FirstScan    int32
	// GapEvery skips one scan number after every GapEvery scans.
	GapEvery int
	// DIA tiles fixed isolation windows of WindowWidth across the mass range
	// instead of picking precursors from the previous MS1 scan.
	DIA         bool
	WindowWidth float64
	// TieEvery repeats the previous peak's m/z every TieEvery peaks.
	TieEvery int
	// UnsortedPeaks leaves peak lists in generation order.
	UnsortedPeaks bool
}

func (o Options) withDefaults() Options {
	if o.Cycles <= 0 {
		o.Cycles = 10
	}
	if o.MS2PerCycle < 0 {
		o.MS2PerCycle = 0
	}
	if o.PeaksPerScan <= 0 {
		o.PeaksPerScan = 50
	}
	if o.MinMz <= 0 {
		o.MinMz = 100
	}
	if o.MaxMz <= o.MinMz {
		o.MaxMz = o.MinMz + 1500
	}
	if o.CycleTime <= 0 {
		o.CycleTime = 1.5
	}
	if o.FirstScan <= 0 {
		o.FirstScan = 1
	}
	if o.WindowWidth <= 0 {
		o.WindowWidth = 25
	}
	return o
}

// Run generates the spectra of a run in scan order.
func Run(opts Options) []*spectrum.Spectrum {
	opts = opts.withDefaults()
	rng := rand.New(rand.NewSource(opts.Seed))
	g := &generator{opts: opts, rng: rng, scan: opts.FirstScan}

	var out []*spectrum.Spectrum
	for c := 0; c < opts.Cycles; c++ {
		rt := float64(c) * opts.CycleTime
		ms1 := g.spectrum(1, rt, nil)
		out = append(out, ms1)
		for i := 0; i < opts.MS2PerCycle; i++ {
			win := g.window(ms1, c*opts.MS2PerCycle+i)
			frag := g.spectrum(2, rt+float64(i+1)*opts.CycleTime/float64(opts.MS2PerCycle+1), win)
			out = append(out, frag)
		}
	}
	return out
}

type generator struct {
	opts    Options
	rng     *rand.Rand
	scan    int32
	written int
}

func (g *generator) nextScan() int32 {
	s := g.scan
	g.scan++
	g.written++
	if g.opts.GapEvery > 0 && g.written%g.opts.GapEvery == 0 {
		g.scan++
	}
	return s
}

func (g *generator) spectrum(level uint8, rt float64, info *spectrum.PrecursorInfo) *spectrum.Spectrum {
	scan := g.nextScan()
	lo, hi := g.opts.MinMz, g.opts.MaxMz
	if info != nil {
		// Fragments stay below their precursor window.
		hi = max(lo+1, info.Window.MaxMz()*2)
		hi = min(hi, g.opts.MaxMz)
	}
	peaks := make([]spectrum.Peak, g.opts.PeaksPerScan)
	for i := range peaks {
		mz := lo + g.rng.Float64()*(hi-lo)
		if g.opts.TieEvery > 0 && i > 0 && i%g.opts.TieEvery == 0 {
			mz = peaks[i-1].Mz
		}
		peaks[i] = spectrum.Peak{
			Mz:        math.Round(mz*1e5) / 1e5,
			Intensity: float32(1 + g.rng.ExpFloat64()*1e4),
		}
	}
	if !g.opts.UnsortedPeaks {
		spectrum.SortPeaks(peaks)
	}
	s := &spectrum.Spectrum{
		ScanNumber:  scan,
		NativeID:    nativeID(scan),
		MSLevel:     level,
		ElutionTime: rt,
		Precursor:   info,
		Peaks:       peaks,
	}
	s.TotalIonCurrent = spectrum.SumIntensities(peaks)
	return s
}

func (g *generator) window(ms1 *spectrum.Spectrum, n int) *spectrum.PrecursorInfo {
	var target float64
	if g.opts.DIA {
		tiles := max(1, int((g.opts.MaxMz-g.opts.MinMz)/g.opts.WindowWidth))
		target = g.opts.MinMz + (float64(n%tiles)+0.5)*g.opts.WindowWidth
	} else {
		target = ms1.Peaks[g.rng.Intn(len(ms1.Peaks))].Mz
	}
	half := g.opts.WindowWidth / 2
	if !g.opts.DIA {
		half = 1
	}
	return &spectrum.PrecursorInfo{
		Window: spectrum.IsolationWindow{
			TargetMz:       target,
			LowerOffset:    half,
			UpperOffset:    half,
			MonoisotopicMz: target,
			Charge:         int32(2 + g.rng.Intn(3)),
		},
		Activation: spectrum.ActivationHCD,
	}
}

func nativeID(scan int32) string {
	return "controllerType=0 controllerNumber=1 scan=" + strconv.Itoa(int(scan))
}

// ExpectedChromatogram is the array a container build must produce for the
// precursor (fragments false) or product spectra: every peak, stably sorted
// by m/z so ties keep scan order.
func ExpectedChromatogram(spectra []*spectrum.Spectrum, fragments bool) []chromatogram.Peak {
	var out []chromatogram.Peak
	for _, s := range spectra {
		if s.IsFragment() != fragments {
			continue
		}
		peaks := slices.Clone(s.Peaks)
		spectrum.SortPeaks(peaks)
		for _, p := range peaks {
			out = append(out, chromatogram.Peak{Mz: p.Mz, Intensity: p.Intensity, ScanNumber: s.ScanNumber})
		}
	}
	slices.SortStableFunc(out, func(a, b chromatogram.Peak) int { return cmp.Compare(a.Mz, b.Mz) })
	return out
}

// Window filters a sorted array to [minMz, maxMz].
func Window(peaks []chromatogram.Peak, minMz, maxMz float64) []chromatogram.Peak {
	var out []chromatogram.Peak
	for _, p := range peaks {
		if p.Mz >= minMz && p.Mz <= maxMz {
			out = append(out, p)
		}
	}
	return out
}
