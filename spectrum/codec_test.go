package spectrum

import (
	"encoding/binary"
	"math/rand"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/INLOpen/nexusms/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomSpectrum(rng *rand.Rand, scan int32, level uint8) *Spectrum {
	n := rng.Intn(40)
	peaks := make([]Peak, n)
	mz := 100.0
	for i := range peaks {
		mz += rng.Float64() * 20
		peaks[i] = Peak{Mz: mz, Intensity: float32(rng.Intn(100000)) + 0.5}
	}
	s := &Spectrum{
		ScanNumber:      scan,
		NativeID:        "controllerType=0 controllerNumber=1 scan=" + string(rune('0'+scan%10)),
		MSLevel:         level,
		ElutionTime:     float64(scan) * 0.031,
		TotalIonCurrent: SumIntensities(peaks),
		Peaks:           peaks,
	}
	if level > 1 {
		s.Precursor = &PrecursorInfo{
			Window: IsolationWindow{
				TargetMz:       400 + rng.Float64()*800,
				LowerOffset:    0.8,
				UpperOffset:    1.2,
				MonoisotopicMz: 399.7,
				Charge:         int32(rng.Intn(4)),
			},
			Activation: ActivationMethod(rng.Intn(8)),
		}
	}
	return s
}

func TestRecordRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, version := range []int32{1, 2} {
		for i := int32(1); i <= 50; i++ {
			level := uint8(1)
			if i%3 == 0 {
				level = 2
			}
			want := randomSpectrum(rng, i, level)

			buf, err := AppendRecord(nil, want, version)
			require.NoError(t, err)
			require.Len(t, buf, EncodedSize(want, version))

			got, n, err := DecodeRecord(buf, version, true)
			require.NoError(t, err)
			assert.Equal(t, len(buf), n)

			if version == 1 {
				// Version 1 carries neither field; TIC is rebuilt from the peaks.
				want.NativeID = ""
			}
			assert.Equal(t, want.ScanNumber, got.ScanNumber)
			assert.Equal(t, want.NativeID, got.NativeID)
			assert.Equal(t, want.MSLevel, got.MSLevel)
			assert.Equal(t, want.ElutionTime, got.ElutionTime)
			assert.InDelta(t, want.TotalIonCurrent, got.TotalIonCurrent, 1)
			assert.Equal(t, want.Precursor, got.Precursor)
			if len(want.Peaks) == 0 {
				assert.Empty(t, got.Peaks)
			} else {
				assert.Equal(t, want.Peaks, got.Peaks)
			}
		}
	}
}

func TestDecodeWithoutPeaks(t *testing.T) {
	s := &Spectrum{
		ScanNumber:  12,
		NativeID:    "scan=12",
		MSLevel:     2,
		ElutionTime: 1.5,
		Precursor:   &PrecursorInfo{Window: IsolationWindow{TargetMz: 500, LowerOffset: 1, UpperOffset: 1}, Activation: ActivationHCD},
		Peaks:       []Peak{{Mz: 101, Intensity: 10}, {Mz: 202, Intensity: 20}},
	}
	s.TotalIonCurrent = SumIntensities(s.Peaks)

	t.Run("v2 skips peak section", func(t *testing.T) {
		buf, err := AppendRecord(nil, s, 2)
		require.NoError(t, err)
		buf = append(buf, 0xFF, 0xFF) // trailing bytes belong to the next record

		got, n, err := DecodeRecord(buf, 2, false)
		require.NoError(t, err)
		assert.Equal(t, len(buf)-2, n)
		assert.Nil(t, got.Peaks)
		assert.Equal(t, float32(30), got.TotalIonCurrent)
		assert.Equal(t, KindFragment, got.Kind())
		assert.Equal(t, ActivationHCD, got.Precursor.Activation)
	})

	t.Run("v1 rebuilds TIC", func(t *testing.T) {
		buf, err := AppendRecord(nil, s, 1)
		require.NoError(t, err)
		got, _, err := DecodeRecord(buf, 1, false)
		require.NoError(t, err)
		assert.Nil(t, got.Peaks)
		assert.Equal(t, float32(30), got.TotalIonCurrent)
	})
}

func TestDecodeHeader(t *testing.T) {
	s := &Spectrum{ScanNumber: 3, MSLevel: 1, ElutionTime: 0.2, Peaks: make([]Peak, 7)}
	buf, err := AppendRecord(nil, s, 2)
	require.NoError(t, err)

	h, err := DecodeHeader(buf[:MaxHeaderSize], 2)
	require.NoError(t, err)
	assert.Equal(t, 7, h.PeakCount)
	assert.Equal(t, len(buf), h.RecordSize())
	assert.Equal(t, KindPrecursor, h.Spectrum.Kind())
}

func TestNativeIDIsTruncated(t *testing.T) {
	long := make([]byte, 80)
	for i := range long {
		long[i] = 'a' + byte(i%26)
	}
	s := &Spectrum{ScanNumber: 1, MSLevel: 1, NativeID: string(long)}
	buf, err := AppendRecord(nil, s, 2)
	require.NoError(t, err)
	got, _, err := DecodeRecord(buf, 2, true)
	require.NoError(t, err)
	assert.Equal(t, string(long[:NativeIDSize]), got.NativeID)
}

func TestNativeIDKeepsWholeRunes(t *testing.T) {
	// Byte 50 falls in the middle of a two-byte rune.
	id := "a" + strings.Repeat("é", 30)
	s := &Spectrum{ScanNumber: 1, MSLevel: 1, NativeID: id}
	buf, err := AppendRecord(nil, s, 2)
	require.NoError(t, err)
	got, _, err := DecodeRecord(buf, 2, true)
	require.NoError(t, err)
	assert.Equal(t, "a"+strings.Repeat("é", 24), got.NativeID)
	assert.True(t, utf8.ValidString(got.NativeID))

	// A three-byte rune straddling the limit is dropped whole.
	id = strings.Repeat("a", 49) + "€"
	assert.Equal(t, strings.Repeat("a", 49), TruncateNativeID(id))
	assert.Equal(t, "short", TruncateNativeID("short"))
}

func TestCorruptRecords(t *testing.T) {
	s := &Spectrum{ScanNumber: 9, MSLevel: 1, Peaks: []Peak{{Mz: 1, Intensity: 1}, {Mz: 2, Intensity: 2}}}
	buf, err := AppendRecord(nil, s, 2)
	require.NoError(t, err)

	t.Run("truncated peaks", func(t *testing.T) {
		_, _, err := DecodeRecord(buf[:len(buf)-1], 2, true)
		require.ErrorIs(t, err, core.ErrCorruptRecord)
	})
	t.Run("truncated header", func(t *testing.T) {
		_, _, err := DecodeRecord(buf[:10], 2, false)
		require.ErrorIs(t, err, core.ErrCorruptRecord)
	})
	t.Run("negative peak count", func(t *testing.T) {
		bad := append([]byte(nil), buf...)
		binary.LittleEndian.PutUint32(bad[headerSizeV2:], uint32(0xFFFFFFFF))
		_, _, err := DecodeRecord(bad, 2, true)
		require.ErrorIs(t, err, core.ErrCorruptRecord)
	})
	t.Run("level zero", func(t *testing.T) {
		bad := append([]byte(nil), buf...)
		bad[4+NativeIDSize] = 0
		_, _, err := DecodeRecord(bad, 2, true)
		require.ErrorIs(t, err, core.ErrCorruptRecord)
	})
}

func TestEncodeRejectsMismatchedVariant(t *testing.T) {
	_, err := AppendRecord(nil, &Spectrum{ScanNumber: 1, MSLevel: 2}, 2)
	require.Error(t, err)
	_, err = AppendRecord(nil, &Spectrum{ScanNumber: 1, MSLevel: 1, Precursor: &PrecursorInfo{}}, 2)
	require.Error(t, err)
	_, err = AppendRecord(nil, &Spectrum{ScanNumber: 1, MSLevel: 1}, 3)
	require.Error(t, err)
}

func TestIsolationWindow(t *testing.T) {
	w := IsolationWindow{TargetMz: 100, LowerOffset: 0.5, UpperOffset: 0.5}
	assert.Equal(t, 99.5, w.MinMz())
	assert.Equal(t, 100.5, w.MaxMz())
	assert.True(t, w.Contains(99.5))
	assert.True(t, w.Contains(100.5))
	assert.False(t, w.Contains(100.51))
}

func TestSortPeaksIsStable(t *testing.T) {
	peaks := []Peak{{Mz: 3, Intensity: 1}, {Mz: 1, Intensity: 2}, {Mz: 3, Intensity: 3}, {Mz: 2, Intensity: 4}}
	SortPeaks(peaks)
	assert.Equal(t, []Peak{{Mz: 1, Intensity: 2}, {Mz: 2, Intensity: 4}, {Mz: 3, Intensity: 1}, {Mz: 3, Intensity: 3}}, peaks)
	assert.Equal(t, ActivationETD, ParseActivationMethod("etd"))
	assert.Equal(t, "EThcD", ActivationEThcD.String())
}
