package compressors

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/INLOpen/nexusms/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// peakPayload mimics an encoded centroid list: ascending m/z with noisy intensities.
func peakPayload(n int) []byte {
	out := make([]byte, 0, n*12)
	for i := 0; i < n; i++ {
		out = binary.LittleEndian.AppendUint64(out, math.Float64bits(100+float64(i)*0.013))
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(float32(i%97)*31.5))
	}
	return out
}

func TestCompressorsRoundTrip(t *testing.T) {
	inputs := map[string][]byte{
		"empty":      {},
		"short":      []byte("scan=42"),
		"repetitive": bytes.Repeat([]byte{0xAB}, 4096),
		"peaks":      peakPayload(2000),
	}
	for _, ct := range []core.CompressionType{core.CompressionNone, core.CompressionSnappy, core.CompressionLZ4, core.CompressionZSTD} {
		c, err := Get(ct)
		require.NoError(t, err)
		require.Equal(t, ct, c.Type())

		for name, in := range inputs {
			t.Run(ct.String()+"/"+name, func(t *testing.T) {
				compressed, err := c.Compress(in)
				require.NoError(t, err)
				out, err := DecompressAll(c, nil, compressed)
				require.NoError(t, err)
				assert.Equal(t, len(in), len(out))
				assert.True(t, bytes.Equal(in, out))

				var buf bytes.Buffer
				buf.WriteString("stale")
				require.NoError(t, c.CompressTo(&buf, in))
				out, err = DecompressAll(c, out, buf.Bytes())
				require.NoError(t, err)
				assert.True(t, bytes.Equal(in, out))
			})
		}
	}
}

func TestGetUnknownCompression(t *testing.T) {
	_, err := Get(core.CompressionType(42))
	require.Error(t, err)
}

func TestLZ4RejectsTruncatedFrame(t *testing.T) {
	c := NewLz4Compressor()
	compressed, err := c.Compress(peakPayload(100))
	require.NoError(t, err)

	_, err = c.Decompress(compressed[:2])
	require.ErrorIs(t, err, errLZ4Truncated)
	_, err = c.Decompress(compressed[:len(compressed)/2])
	require.Error(t, err)
}

func BenchmarkZstdPeaks(b *testing.B) {
	c := NewZstdCompressor()
	data := peakPayload(5000)
	var buf bytes.Buffer
	b.SetBytes(int64(len(data)))
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if err := c.CompressTo(&buf, data); err != nil {
			b.Fatal(err)
		}
	}
}
