package compressors

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/INLOpen/nexusms/core"
	lz4 "github.com/pierrec/lz4/v4"
)

// LZ4Compressor uses the lz4 block format. Blocks do not record their
// decoded size, so each frame is prefixed with it as a uint32.
type LZ4Compressor struct{}

var _ core.Compressor = (*LZ4Compressor)(nil)

var errLZ4Truncated = errors.New("lz4 frame shorter than its size prefix")

func NewLz4Compressor() *LZ4Compressor {
	return &LZ4Compressor{}
}

func (c *LZ4Compressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.CompressTo(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *LZ4Compressor) CompressTo(dst *bytes.Buffer, src []byte) error {
	dst.Reset()
	bound := 4 + lz4.CompressBlockBound(len(src))
	dst.Grow(bound)
	out := dst.AvailableBuffer()[:bound]
	binary.LittleEndian.PutUint32(out, uint32(len(src)))
	if len(src) == 0 {
		_, err := dst.Write(out[:4])
		return err
	}
	n, err := lz4.CompressBlock(src, out[4:], nil)
	if err != nil {
		return fmt.Errorf("lz4 compress error: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("lz4 compression produced no output for %d input bytes", len(src))
	}
	_, err = dst.Write(out[:4+n])
	return err
}

func (c *LZ4Compressor) Decompress(data []byte) (io.ReadCloser, error) {
	if len(data) < 4 {
		return nil, errLZ4Truncated
	}
	size := binary.LittleEndian.Uint32(data)
	out := make([]byte, size)
	if size == 0 {
		return io.NopCloser(bytes.NewReader(out)), nil
	}
	n, err := lz4.UncompressBlock(data[4:], out)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress error: %w", err)
	}
	if n != int(size) {
		return nil, fmt.Errorf("lz4 decompressed %d bytes, frame declared %d", n, size)
	}
	return io.NopCloser(bytes.NewReader(out)), nil
}

func (c *LZ4Compressor) Type() core.CompressionType {
	return core.CompressionLZ4
}
