// Package scanlog implements the scan journal: an append-only, compressed,
// checksummed log of spectrum records that a container build can stream from.
//
// File layout: a core.JournalHeader, then one frame per spectrum.
//
//	length (4 bytes) | compressed record (length bytes) | crc32 of the compressed record (4 bytes)
//
// Records use the current container record layout, so a journal is read back
// with spectrum.DecodeRecord.
package scanlog

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"log/slog"
	"os"

	"github.com/INLOpen/nexusms/compressors"
	"github.com/INLOpen/nexusms/core"
	"github.com/INLOpen/nexusms/spectrum"
	"github.com/INLOpen/nexusms/sys"
)

// MaxFrameSize bounds a single compressed frame. Larger length prefixes are
// treated as corruption.
const MaxFrameSize = 256 * 1024 * 1024

// Writer appends spectra to a journal. It is not safe for concurrent use.
type Writer struct {
	file   sys.FileHandle
	path   string
	writer *bufio.Writer
	comp   core.Compressor

	record []byte
	frame  []byte

	lastScan int32
	count    int
	logger   *slog.Logger
}

// Create truncates path and writes a journal header for compression.
func Create(path string, compression core.CompressionType, logger *slog.Logger) (*Writer, error) {
	comp, err := compressors.Get(compression)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	file, err := sys.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create scan journal %s: %w", path, err)
	}
	header := core.NewJournalHeader(compression)
	if err := binary.Write(file, binary.LittleEndian, &header); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to write journal header to %s: %w", path, err)
	}

	return &Writer{
		file:     file,
		path:     path,
		writer:   bufio.NewWriter(file),
		comp:     comp,
		lastScan: -1,
		logger:   logger.With("component", "ScanLogWriter", "path", path),
	}, nil
}

// Append writes one spectrum. Scan numbers must be strictly increasing.
func (w *Writer) Append(s *spectrum.Spectrum) error {
	if w.file == nil {
		return os.ErrClosed
	}
	if s.ScanNumber <= w.lastScan {
		return fmt.Errorf("%w: scan %d after %d", core.ErrUnsortedScans, s.ScanNumber, w.lastScan)
	}

	var err error
	w.record, err = spectrum.AppendRecord(w.record[:0], s, core.FormatVersion)
	if err != nil {
		return err
	}
	data, err := w.comp.Compress(w.record)
	if err != nil {
		return fmt.Errorf("failed to compress scan %d: %w", s.ScanNumber, err)
	}

	w.frame = binary.LittleEndian.AppendUint32(w.frame[:0], uint32(len(data)))
	w.frame = append(w.frame, data...)
	w.frame = binary.LittleEndian.AppendUint32(w.frame, crc32.ChecksumIEEE(data))
	if _, err := w.writer.Write(w.frame); err != nil {
		return fmt.Errorf("failed to write frame for scan %d: %w", s.ScanNumber, err)
	}
	w.lastScan = s.ScanNumber
	w.count++
	return nil
}

// Count is the number of spectra appended so far.
func (w *Writer) Count() int { return w.count }

func (w *Writer) Path() string { return w.path }

// Sync flushes the buffered writer and syncs the file to disk.
func (w *Writer) Sync() error {
	if w.file == nil {
		return os.ErrClosed
	}
	if err := w.writer.Flush(); err != nil {
		return err
	}
	return w.file.Sync()
}

// Close flushes and closes the journal.
func (w *Writer) Close() error {
	if w.file == nil {
		return nil
	}
	err := w.Sync()
	closeErr := w.file.Close()
	w.file = nil
	if err != nil {
		return err
	}
	w.logger.Debug("Scan journal closed.", "spectra", w.count, "compression", w.comp.Type().String())
	return closeErr
}
