package scanlog

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/INLOpen/nexusms/compressors"
	"github.com/INLOpen/nexusms/core"
	"github.com/INLOpen/nexusms/spectrum"
	"github.com/INLOpen/nexusms/sys"
)

// Reader streams spectra back out of a journal. It satisfies the container
// writer's ScanSource interface.
type Reader struct {
	file   sys.FileHandle
	path   string
	reader *bufio.Reader
	header core.JournalHeader
	comp   core.Compressor

	frame []byte
	plain []byte
	read  int
}

// Open verifies the journal header of path.
func Open(path string) (*Reader, error) {
	file, err := sys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open scan journal %s: %w", path, err)
	}

	var header core.JournalHeader
	if err := binary.Read(file, binary.LittleEndian, &header); err != nil {
		file.Close()
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: scan journal %s is empty or truncated at header", core.ErrCorruptRecord, path)
		}
		return nil, fmt.Errorf("failed to read journal header from %s: %w", path, err)
	}
	if err := header.Check(); err != nil {
		file.Close()
		return nil, fmt.Errorf("scan journal %s: %w", path, err)
	}
	comp, err := compressors.Get(header.Compression)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("scan journal %s: %w", path, err)
	}

	return &Reader{
		file:   file,
		path:   path,
		reader: bufio.NewReader(file),
		header: header,
		comp:   comp,
	}, nil
}

func (r *Reader) Header() core.JournalHeader { return r.header }

// Next returns the next spectrum, or io.EOF after the last complete frame.
// A frame cut short at the end of the file is reported as
// core.ErrCorruptRecord, as is a checksum mismatch.
func (r *Reader) Next(ctx context.Context) (*spectrum.Spectrum, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.file == nil {
		return nil, os.ErrClosed
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(r.reader, lenBuf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, r.corrupt("truncated frame length: %v", err)
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n > MaxFrameSize {
		return nil, r.corrupt("frame length %d exceeds %d", n, MaxFrameSize)
	}

	if cap(r.frame) < int(n)+core.ChecksumSize {
		r.frame = make([]byte, int(n)+core.ChecksumSize)
	}
	frame := r.frame[:int(n)+core.ChecksumSize]
	if _, err := io.ReadFull(r.reader, frame); err != nil {
		return nil, r.corrupt("truncated frame of %d bytes: %v", n, err)
	}
	data := frame[:n]
	if got, want := crc32.ChecksumIEEE(data), binary.LittleEndian.Uint32(frame[n:]); got != want {
		return nil, r.corrupt("checksum mismatch: got %08x, want %08x", got, want)
	}

	var err error
	r.plain, err = compressors.DecompressAll(r.comp, r.plain, data)
	if err != nil {
		return nil, r.corrupt("%v", err)
	}
	s, size, err := spectrum.DecodeRecord(r.plain, core.FormatVersion, true)
	if err != nil {
		return nil, fmt.Errorf("scan journal %s frame %d: %w", r.path, r.read, err)
	}
	if size != len(r.plain) {
		return nil, r.corrupt("record of scan %d leaves %d trailing bytes", s.ScanNumber, len(r.plain)-size)
	}
	r.read++
	return s, nil
}

func (r *Reader) corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: scan journal %s frame %d: %s", core.ErrCorruptRecord, r.path, r.read, fmt.Sprintf(format, args...))
}

// Close closes the journal file.
func (r *Reader) Close() error {
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}
