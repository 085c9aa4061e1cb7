package msfile

import (
	"fmt"
	"strconv"
	"strings"
)

// ToleranceUnit selects how a Tolerance value scales with m/z.
type ToleranceUnit uint8

const (
	UnitPPM ToleranceUnit = iota + 1
	UnitTh
)

func (u ToleranceUnit) String() string {
	switch u {
	case UnitPPM:
		return "ppm"
	case UnitTh:
		return "Th"
	default:
		return "unknown"
	}
}

// Tolerance is a symmetric mass tolerance.
type Tolerance struct {
	Value float64
	Unit  ToleranceUnit
}

func PPM(v float64) Tolerance { return Tolerance{Value: v, Unit: UnitPPM} }
func Th(v float64) Tolerance  { return Tolerance{Value: v, Unit: UnitTh} }

// Window returns [mz-delta, mz+delta].
func (t Tolerance) Window(mz float64) (lo, hi float64) {
	delta := t.Value
	if t.Unit == UnitPPM {
		delta = mz * t.Value / 1e6
	}
	return mz - delta, mz + delta
}

func (t Tolerance) String() string {
	return strconv.FormatFloat(t.Value, 'g', -1, 64) + t.Unit.String()
}

// ParseTolerance reads values such as "10ppm", "0.01Th" or "0.02Da".
func ParseTolerance(s string) (Tolerance, error) {
	s = strings.TrimSpace(s)
	lower := strings.ToLower(s)
	var unit ToleranceUnit
	var num string
	switch {
	case strings.HasSuffix(lower, "ppm"):
		unit, num = UnitPPM, s[:len(s)-3]
	case strings.HasSuffix(lower, "th"), strings.HasSuffix(lower, "da"):
		unit, num = UnitTh, s[:len(s)-2]
	default:
		return Tolerance{}, fmt.Errorf("tolerance %q needs a ppm, Th or Da suffix", s)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(num), 64)
	if err != nil {
		return Tolerance{}, fmt.Errorf("tolerance %q: %w", s, err)
	}
	if v < 0 {
		return Tolerance{}, fmt.Errorf("tolerance %q is negative", s)
	}
	return Tolerance{Value: v, Unit: unit}, nil
}
