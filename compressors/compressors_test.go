package compressors

import (
	"bytes"
	"io"
	"testing"

	"github.com/INLOpen/walvault/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, c core.Compressor, payload []byte) {
	t.Helper()

	compressed, err := c.Compress(payload)
	require.NoError(t, err)

	rc, err := c.Decompress(compressed)
	require.NoError(t, err)
	defer rc.Close()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload, got), "round trip must preserve payload")
}

func TestCompressorsRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("walvault segment payload "), 512)

	cases := []struct {
		name string
		c    core.Compressor
		ct   core.CompressionType
	}{
		{"none", &NoCompressionCompressor{}, core.CompressionNone},
		{"snappy", NewSnappyCompressor(), core.CompressionSnappy},
		{"lz4", NewLz4Compressor(), core.CompressionLZ4},
		{"zstd", NewZstdCompressor(), core.CompressionZSTD},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.ct, tc.c.Type())
			roundTrip(t, tc.c, payload)
			roundTrip(t, tc.c, nil)
		})
	}
}

func TestCompressorsShrinkRepetitiveData(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB}, 1<<16)
	for _, c := range []core.Compressor{NewSnappyCompressor(), NewLz4Compressor(), NewZstdCompressor()} {
		compressed, err := c.Compress(payload)
		require.NoError(t, err)
		assert.Less(t, len(compressed), len(payload), "%s should compress repetitive data", c.Type())
	}
}
