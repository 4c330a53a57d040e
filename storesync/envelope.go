package storesync

import (
	"fmt"
	"io"

	"github.com/INLOpen/walvault/compressors"
	"github.com/INLOpen/walvault/core"
)

// Remote segment objects carry a one-byte envelope prefix identifying the
// compression algorithm, so a restore can decode an object without any
// out-of-band knowledge of the writer's configuration.

// EncodeRemoteSegment wraps raw segment bytes for storage. A nil compressor
// means no compression.
func EncodeRemoteSegment(data []byte, compressor core.Compressor) ([]byte, error) {
	ct := core.CompressionNone
	payload := data
	if compressor != nil {
		ct = compressor.Type()
		var err error
		payload, err = compressor.Compress(data)
		if err != nil {
			return nil, fmt.Errorf("compression failed: %w", err)
		}
	}
	out := make([]byte, 0, len(payload)+1)
	out = append(out, byte(ct))
	return append(out, payload...), nil
}

// DecodeRemoteSegment unwraps a stored object back into raw segment bytes.
func DecodeRemoteSegment(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("remote segment object is empty")
	}
	ct := core.CompressionType(data[0])
	compressor, err := compressors.NewCompressor(ct)
	if err != nil {
		return nil, fmt.Errorf("remote segment has unknown compression marker: %w", err)
	}
	rc, err := compressor.Decompress(data[1:])
	if err != nil {
		return nil, fmt.Errorf("decompression failed: %w", err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
