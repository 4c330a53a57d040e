package compressors

import (
	"fmt"

	"github.com/INLOpen/walvault/core"
)

// NewCompressor returns the compressor implementation for the given type.
func NewCompressor(ct core.CompressionType) (core.Compressor, error) {
	switch ct {
	case core.CompressionNone:
		return &NoCompressionCompressor{}, nil
	case core.CompressionSnappy:
		return NewSnappyCompressor(), nil
	case core.CompressionLZ4:
		return NewLz4Compressor(), nil
	case core.CompressionZSTD:
		return NewZstdCompressor(), nil
	default:
		return nil, fmt.Errorf("unknown compression type: %d", ct)
	}
}

// NewCompressorFromString maps a configuration value like "snappy" to its
// compressor.
func NewCompressorFromString(name string) (core.Compressor, error) {
	for _, ct := range []core.CompressionType{
		core.CompressionNone, core.CompressionSnappy, core.CompressionLZ4, core.CompressionZSTD,
	} {
		if ct.String() == name {
			return NewCompressor(ct)
		}
	}
	return nil, fmt.Errorf("unknown compression type: %q", name)
}
