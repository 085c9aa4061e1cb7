package compressors

import (
	"bytes"
	"fmt"
	"io"

	"github.com/INLOpen/nexusms/core"
	"github.com/golang/snappy"
)

// SnappyCompressor stores each journal frame as one snappy block. Blocks
// carry their decoded length, so no size prefix is needed.
type SnappyCompressor struct{}

var _ core.Compressor = (*SnappyCompressor)(nil)

func NewSnappyCompressor() *SnappyCompressor { return &SnappyCompressor{} }

func (c *SnappyCompressor) Type() core.CompressionType { return core.CompressionSnappy }

func (c *SnappyCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.CompressTo(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CompressTo encodes straight into dst's buffer, growing it to the worst case first.
func (c *SnappyCompressor) CompressTo(dst *bytes.Buffer, src []byte) error {
	dst.Reset()
	bound := snappy.MaxEncodedLen(len(src))
	if bound < 0 {
		return fmt.Errorf("snappy cannot encode a %d byte frame", len(src))
	}
	dst.Grow(bound)
	encoded := snappy.Encode(dst.AvailableBuffer()[:bound], src)
	_, err := dst.Write(encoded)
	return err
}

func (c *SnappyCompressor) Decompress(data []byte) (io.ReadCloser, error) {
	size, err := snappy.DecodedLen(data)
	if err != nil {
		return nil, fmt.Errorf("snappy frame header: %w", err)
	}
	out, err := snappy.Decode(make([]byte, size), data)
	if err != nil {
		return nil, fmt.Errorf("snappy decompress error: %w", err)
	}
	return io.NopCloser(bytes.NewReader(out)), nil
}
