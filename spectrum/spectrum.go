// Package spectrum holds the scan model and its on-disk record codec.
package spectrum

import (
	"fmt"
	"sort"
	"strings"
)

// Peak is a single centroid.
type Peak struct {
	Mz        float64
	Intensity float32
}

// ActivationMethod is the dissociation technique used for a fragment scan.
type ActivationMethod uint8

const (
	ActivationUnknown ActivationMethod = iota
	ActivationCID
	ActivationETD
	ActivationHCD
	ActivationECD
	ActivationPQD
	ActivationUVPD
	ActivationEThcD
)

var activationNames = [...]string{"unknown", "CID", "ETD", "HCD", "ECD", "PQD", "UVPD", "EThcD"}

func (a ActivationMethod) String() string {
	if int(a) < len(activationNames) {
		return activationNames[a]
	}
	return fmt.Sprintf("activation(%d)", uint8(a))
}

// ParseActivationMethod is case-insensitive. Unrecognised names map to ActivationUnknown.
func ParseActivationMethod(name string) ActivationMethod {
	for i, n := range activationNames {
		if strings.EqualFold(n, name) {
			return ActivationMethod(i)
		}
	}
	return ActivationUnknown
}

// IsolationWindow is the m/z range selected for fragmentation.
type IsolationWindow struct {
	TargetMz    float64
	LowerOffset float64
	UpperOffset float64
	// MonoisotopicMz and Charge are zero when the instrument did not report them.
	MonoisotopicMz float64
	Charge         int32
}

func (w IsolationWindow) MinMz() float64 { return w.TargetMz - w.LowerOffset }
func (w IsolationWindow) MaxMz() float64 { return w.TargetMz + w.UpperOffset }

// Contains reports whether mz lies inside the window, bounds included.
func (w IsolationWindow) Contains(mz float64) bool {
	return mz >= w.MinMz() && mz <= w.MaxMz()
}

// PrecursorInfo describes how a fragment scan was produced.
type PrecursorInfo struct {
	Window     IsolationWindow
	Activation ActivationMethod
}

// Kind distinguishes precursor (MS1) from fragment (MSn) scans.
type Kind uint8

const (
	KindPrecursor Kind = iota + 1
	KindFragment
)

func (k Kind) String() string {
	switch k {
	case KindPrecursor:
		return "precursor"
	case KindFragment:
		return "fragment"
	default:
		return "unknown"
	}
}

// Spectrum is one scan. Precursor is non-nil exactly when MSLevel > 1.
type Spectrum struct {
	ScanNumber int32
	// NativeID is stored in a fixed 50-byte field; longer ids are cut at the
	// last whole UTF-8 character that fits.
	NativeID        string
	MSLevel         uint8
	ElutionTime     float64
	TotalIonCurrent float32
	Precursor       *PrecursorInfo
	Peaks           []Peak
}

func (s *Spectrum) Kind() Kind {
	if s.MSLevel > 1 {
		return KindFragment
	}
	return KindPrecursor
}

func (s *Spectrum) IsFragment() bool {
	return s.Kind() == KindFragment
}

// Validate checks the invariants the codec relies on.
func (s *Spectrum) Validate() error {
	switch {
	case s.MSLevel == 0:
		return fmt.Errorf("scan %d: ms level must be at least 1", s.ScanNumber)
	case s.MSLevel > 1 && s.Precursor == nil:
		return fmt.Errorf("scan %d: ms%d scan has no precursor information", s.ScanNumber, s.MSLevel)
	case s.MSLevel == 1 && s.Precursor != nil:
		return fmt.Errorf("scan %d: ms1 scan carries precursor information", s.ScanNumber)
	}
	return nil
}

// SumIntensities returns the total ion current of a peak list.
func SumIntensities(peaks []Peak) float32 {
	var sum float64
	for _, p := range peaks {
		sum += float64(p.Intensity)
	}
	return float32(sum)
}

// PeaksSorted reports whether peaks are non-decreasing by m/z.
func PeaksSorted(peaks []Peak) bool {
	for i := 1; i < len(peaks); i++ {
		if peaks[i].Mz < peaks[i-1].Mz {
			return false
		}
	}
	return true
}

// SortPeaks orders peaks by m/z in place, keeping the input order of equal masses.
func SortPeaks(peaks []Peak) {
	if PeaksSorted(peaks) {
		return
	}
	sort.SliceStable(peaks, func(i, j int) bool { return peaks[i].Mz < peaks[j].Mz })
}
