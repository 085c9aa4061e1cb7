package scanlog

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/INLOpen/nexusms/core"
	"github.com/INLOpen/nexusms/internal/synth"
	"github.com/INLOpen/nexusms/msfile"
	"github.com/INLOpen/nexusms/spectrum"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var headerSize = int64(binary.Size(core.JournalHeader{}))

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeJournal(t *testing.T, path string, ct core.CompressionType, run []*spectrum.Spectrum) {
	t.Helper()
	w, err := Create(path, ct, quietLogger())
	require.NoError(t, err)
	for _, s := range run {
		require.NoError(t, w.Append(s))
	}
	assert.Equal(t, len(run), w.Count())
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}

func readAll(t *testing.T, path string) ([]*spectrum.Spectrum, error) {
	t.Helper()
	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()
	var out []*spectrum.Spectrum
	for {
		s, err := r.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, s)
	}
}

func TestJournal_RoundTripEveryCompressor(t *testing.T) {
	run := synth.Run(synth.Options{Seed: 8, Cycles: 5, MS2PerCycle: 3, PeaksPerScan: 25})
	for _, ct := range []core.CompressionType{core.CompressionNone, core.CompressionSnappy, core.CompressionLZ4, core.CompressionZSTD} {
		t.Run(ct.String(), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "run"+core.ScanLogSuffix)
			writeJournal(t, path, ct, run)

			r, err := Open(path)
			require.NoError(t, err)
			assert.Equal(t, core.ScanLogMagic, r.Header().Magic)
			assert.Equal(t, ct, r.Header().Compression)
			require.NoError(t, r.Close())

			got, err := readAll(t, path)
			require.NoError(t, err)
			assert.Equal(t, run, got)
		})
	}
}

func TestJournal_EmptyJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.scans")
	writeJournal(t, path, core.CompressionZSTD, nil)

	st, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, headerSize, st.Size())

	got, err := readAll(t, path)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestJournal_RejectsUnsortedScans(t *testing.T) {
	w, err := Create(filepath.Join(t.TempDir(), "j.scans"), core.CompressionNone, quietLogger())
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Append(&spectrum.Spectrum{ScanNumber: 5, MSLevel: 1}))
	err = w.Append(&spectrum.Spectrum{ScanNumber: 5, MSLevel: 1})
	assert.ErrorIs(t, err, core.ErrUnsortedScans)
	err = w.Append(&spectrum.Spectrum{ScanNumber: 6, MSLevel: 2})
	assert.Error(t, err, "fragment without precursor information")
}

func TestJournal_DetectsCorruption(t *testing.T) {
	run := synth.Run(synth.Options{Seed: 2, Cycles: 2, MS2PerCycle: 1, PeaksPerScan: 10})

	t.Run("checksum", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "j.scans")
		writeJournal(t, path, core.CompressionSnappy, run)
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		// Flip a byte inside the first frame's payload.
		data[headerSize+6] ^= 0xFF
		require.NoError(t, os.WriteFile(path, data, 0o644))

		got, err := readAll(t, path)
		assert.ErrorIs(t, err, core.ErrCorruptRecord)
		assert.Empty(t, got)
	})

	t.Run("truncated tail", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "j.scans")
		writeJournal(t, path, core.CompressionLZ4, run)
		st, err := os.Stat(path)
		require.NoError(t, err)
		require.NoError(t, os.Truncate(path, st.Size()-2))

		got, err := readAll(t, path)
		assert.ErrorIs(t, err, core.ErrCorruptRecord)
		assert.Len(t, got, len(run)-1)
	})

	t.Run("bad magic", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "j.scans")
		writeJournal(t, path, core.CompressionNone, run)
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		binary.LittleEndian.PutUint32(data, 0xDEADBEEF)
		require.NoError(t, os.WriteFile(path, data, 0o644))

		_, err = Open(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid magic number")
	})

	t.Run("truncated header", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "j.scans")
		require.NoError(t, os.WriteFile(path, []byte{1, 2, 3}, 0o644))
		_, err := Open(path)
		assert.ErrorIs(t, err, core.ErrCorruptRecord)
	})
}

func TestJournal_NextHonoursContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "j.scans")
	writeJournal(t, path, core.CompressionNone, synth.Run(synth.Options{Seed: 1, Cycles: 1}))

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestJournal_FeedsContainerBuild(t *testing.T) {
	dir := t.TempDir()
	run := synth.Run(synth.Options{Seed: 13, Cycles: 6, MS2PerCycle: 4, PeaksPerScan: 20, GapEvery: 5})
	journal := filepath.Join(dir, "run"+core.ScanLogSuffix)
	writeJournal(t, journal, core.CompressionZSTD, run)

	src, err := Open(journal)
	require.NoError(t, err)
	defer src.Close()
	out := core.ContainerPathFor(journal)
	final, stats, err := msfile.Build(context.Background(), src, out, msfile.WriterOptions{Logger: quietLogger()})
	require.NoError(t, err)
	assert.Equal(t, out, final)
	assert.Equal(t, len(run), stats.Scans)

	r, err := msfile.Open(final, msfile.ReaderOptions{Logger: quietLogger()})
	require.NoError(t, err)
	defer r.Close()
	for _, want := range run {
		got, err := r.GetSpectrum(want.ScanNumber, true)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}
