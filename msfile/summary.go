package msfile

import (
	"fmt"
	"math"

	"github.com/INLOpen/nexusms/chromatogram"
	"github.com/caio/go-tdigest/v4"
)

// Quantiles summarises a distribution.
type Quantiles struct {
	Count int64
	P05   float64
	P50   float64
	P95   float64
	Max   float64
}

// Summary describes the contents of a container.
type Summary struct {
	Path    string
	Version int32

	MinScan      int32
	MaxScan      int32
	Gaps         int
	ScansByLevel map[uint8]int

	PrecursorPeaks   int64
	ProductPeaks     int64
	PrecursorMzRange [2]float64
	ProductMzRange   [2]float64
	ElutionRange     [2]float64

	Mode                     AcquisitionMode
	DistinctIsolationWindows int

	TotalIonCurrent Quantiles
	PeaksPerScan    Quantiles
	// CorruptRecords counts scans whose record failed to decode.
	CorruptRecords int
}

// Summarize reads every record header once.
func (r *Reader) Summarize() (*Summary, error) {
	s := &Summary{
		Path:                     r.path,
		Version:                  r.trailer.Version,
		MinScan:                  r.meta.minScan,
		MaxScan:                  r.meta.maxScan,
		ScansByLevel:             make(map[uint8]int),
		PrecursorPeaks:           r.PrecursorPeakCount(),
		ProductPeaks:             r.ProductPeakCount(),
		Mode:                     r.AcquisitionMode(),
		DistinctIsolationWindows: r.iso.distinctWindows(),
	}
	tic, err := tdigest.New()
	if err != nil {
		return nil, fmt.Errorf("tdigest.New failed: %w", err)
	}
	counts, err := tdigest.New()
	if err != nil {
		return nil, fmt.Errorf("tdigest.New failed: %w", err)
	}
	var ticMax, countMax float64

	s.ElutionRange = [2]float64{math.Inf(1), math.Inf(-1)}
	for _, e := range r.meta.entries {
		if e.IsGap() {
			s.Gaps++
			continue
		}
		s.ScansByLevel[uint8(e.MSLevel)]++
		s.ElutionRange[0] = min(s.ElutionRange[0], e.ElutionTime)
		s.ElutionRange[1] = max(s.ElutionRange[1], e.ElutionTime)

		h, err := r.readHeader(e)
		if err != nil {
			s.CorruptRecords++
			continue
		}
		total := h.Spectrum.TotalIonCurrent
		if r.trailer.Version < 2 {
			sp, err := r.readRecord(e, false)
			if err != nil {
				s.CorruptRecords++
				continue
			}
			total = sp.TotalIonCurrent
		}
		if err := tic.Add(float64(total)); err != nil {
			return nil, fmt.Errorf("tdigest Add failed: %w", err)
		}
		if err := counts.Add(float64(h.PeakCount)); err != nil {
			return nil, fmt.Errorf("tdigest Add failed: %w", err)
		}
		ticMax = max(ticMax, float64(total))
		countMax = max(countMax, float64(h.PeakCount))
	}
	if math.IsInf(s.ElutionRange[0], 1) {
		s.ElutionRange = [2]float64{}
	}
	s.TotalIonCurrent = quantiles(tic, ticMax)
	s.PeaksPerScan = quantiles(counts, countMax)

	if s.PrecursorMzRange, err = r.mzRange(r.precursorArray()); err != nil {
		return nil, err
	}
	if s.ProductMzRange, err = r.mzRange(r.productArray()); err != nil {
		return nil, err
	}
	return s, nil
}

func quantiles(td *tdigest.TDigest, maxValue float64) Quantiles {
	if td.Count() == 0 {
		return Quantiles{}
	}
	return Quantiles{
		Count: int64(td.Count()),
		P05:   td.Quantile(0.05),
		P50:   td.Quantile(0.5),
		P95:   td.Quantile(0.95),
		Max:   maxValue,
	}
}

// mzRange reads the first and last records of a.
func (r *Reader) mzRange(a array) ([2]float64, error) {
	if a.count == 0 {
		return [2]float64{}, nil
	}
	first, err := r.readRecords(a, 0, 1)
	if err != nil {
		return [2]float64{}, err
	}
	last, err := r.readRecords(a, a.count-1, a.count)
	if err != nil {
		return [2]float64{}, err
	}
	return [2]float64{first[0].Mz, last[0].Mz}, nil
}

// Chromatogram is a best-peak-per-scan trace with elution times.
type Chromatogram struct {
	ScanNumbers  []int32
	ElutionTimes []float64
	Intensities  []float32
}

// ExtractIonChromatogram queries the precursor array around mz and keeps the
// most intense peak of every scan.
func (r *Reader) ExtractIonChromatogram(mz float64, tol Tolerance) (*Chromatogram, error) {
	peaks, err := r.QueryPrecursorTolerance(mz, tol)
	if err != nil {
		return nil, err
	}
	best := chromatogram.BestPeakPerScan(peaks)
	c := &Chromatogram{
		ScanNumbers:  make([]int32, len(best)),
		ElutionTimes: make([]float64, len(best)),
		Intensities:  make([]float32, len(best)),
	}
	for i, p := range best {
		c.ScanNumbers[i] = p.ScanNumber
		c.Intensities[i] = p.Intensity
		if t, err := r.ElutionTime(p.ScanNumber); err == nil {
			c.ElutionTimes[i] = t
		}
	}
	return c, nil
}
