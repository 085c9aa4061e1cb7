package compressors

import (
	"fmt"
	"io"

	"github.com/INLOpen/nexusms/core"
)

// Get returns the Compressor for a CompressionType stored in a journal header.
func Get(compressionType core.CompressionType) (core.Compressor, error) {
	switch compressionType {
	case core.CompressionNone:
		return PassthroughCompressor{}, nil
	case core.CompressionSnappy:
		return NewSnappyCompressor(), nil
	case core.CompressionLZ4:
		return NewLz4Compressor(), nil
	case core.CompressionZSTD:
		return NewZstdCompressor(), nil
	default:
		return nil, fmt.Errorf("unknown compression type: %d", compressionType)
	}
}

// DecompressAll decompresses a whole frame into dst and returns the grown slice.
func DecompressAll(c core.Compressor, dst, src []byte) ([]byte, error) {
	rc, err := c.Decompress(src)
	if err != nil {
		return dst, err
	}
	defer rc.Close()
	buf := core.BufferPool.Get()
	defer core.BufferPool.Put(buf)
	if _, err := io.Copy(buf, rc); err != nil {
		return dst, fmt.Errorf("%s decompress read: %w", c.Type(), err)
	}
	return append(dst[:0], buf.Bytes()...), nil
}
