package msfile

import (
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/INLOpen/nexusms/spectrum"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func buildFile(t *testing.T, spectra []*spectrum.Spectrum, opts WriterOptions) (string, *BuildStats) {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	path := filepath.Join(t.TempDir(), "run.nms")
	final, stats, err := Build(context.Background(), NewSliceSource(spectra...), path, opts)
	require.NoError(t, err)
	require.Equal(t, path, final)
	return final, stats
}

func openFile(t *testing.T, path string, opts ReaderOptions) *Reader {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	r, err := Open(path, opts)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

// patchFile overwrites len(b) bytes of path at off; a negative off counts from the end.
func patchFile(t *testing.T, path string, off int64, b []byte) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	if off < 0 {
		off += int64(len(data))
	}
	copy(data[off:], b)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func le32(v int32) []byte { return binary.LittleEndian.AppendUint32(nil, uint32(v)) }
func le32f(v float32) []byte {
	return binary.LittleEndian.AppendUint32(nil, math.Float32bits(v))
}
func le64(v int64) []byte { return binary.LittleEndian.AppendUint64(nil, uint64(v)) }

func readTrailerOf(t *testing.T, path string) Trailer {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(data), TrailerSize)
	return decodeTrailer(data[len(data)-TrailerSize:])
}

// scenarioRun has five MS1 scans with peaks at 100.0, 100.0005 and 200.0,
// and two MS2 scans isolating 100.0 +/- 0.5.
func scenarioRun() []*spectrum.Spectrum {
	var out []*spectrum.Spectrum
	ms1 := func(scan int32, rt float64) *spectrum.Spectrum {
		s := &spectrum.Spectrum{
			ScanNumber:  scan,
			NativeID:    "scan=" + string(rune('0'+scan)),
			MSLevel:     1,
			ElutionTime: rt,
			Peaks: []spectrum.Peak{
				{Mz: 100.0, Intensity: float32(10 * scan)},
				{Mz: 100.0005, Intensity: float32(20 * scan)},
				{Mz: 200.0, Intensity: 5},
			},
		}
		s.TotalIonCurrent = spectrum.SumIntensities(s.Peaks)
		return s
	}
	ms2 := func(scan int32, rt float64) *spectrum.Spectrum {
		s := &spectrum.Spectrum{
			ScanNumber:  scan,
			MSLevel:     2,
			ElutionTime: rt,
			Precursor: &spectrum.PrecursorInfo{
				Window: spectrum.IsolationWindow{
					TargetMz:       100.0,
					LowerOffset:    0.5,
					UpperOffset:    0.5,
					MonoisotopicMz: 100.0,
					Charge:         2,
				},
				Activation: spectrum.ActivationHCD,
			},
			Peaks: []spectrum.Peak{{Mz: 50.0, Intensity: 3}, {Mz: 75.5, Intensity: 4}, {Mz: 99.0, Intensity: 5}},
		}
		s.TotalIonCurrent = spectrum.SumIntensities(s.Peaks)
		return s
	}
	out = append(out, ms1(1, 0.5), ms1(2, 1.0), ms1(3, 1.5), ms2(4, 1.6), ms1(5, 2.0), ms2(6, 2.1), ms1(7, 2.5))
	return out
}
