package compressors

import (
	"bytes"
	"io"

	"github.com/INLOpen/nexusms/core"
)

// PassthroughCompressor leaves journal frames uncompressed. Spectra whose
// peak lists are already dense gain little from the other codecs.
type PassthroughCompressor struct{}

var _ core.Compressor = PassthroughCompressor{}

// Compress returns data itself; callers must not reuse it while the frame is pending.
func (PassthroughCompressor) Compress(data []byte) ([]byte, error) { return data, nil }

func (PassthroughCompressor) CompressTo(dst *bytes.Buffer, src []byte) error {
	dst.Reset()
	dst.Grow(len(src))
	_, err := dst.Write(src)
	return err
}

func (PassthroughCompressor) Decompress(data []byte) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (PassthroughCompressor) Type() core.CompressionType { return core.CompressionNone }
