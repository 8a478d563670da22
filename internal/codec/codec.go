// Package codec provides the Compressor interface and the concrete
// compression algorithm implementations managed by the supervisor.
package codec

import (
	"errors"
	"time"
)

// Predefined errors for codec operations.
var (
	// ErrEmptyInput is returned when there is no data to compress.
	ErrEmptyInput = errors.New("empty input data")

	// ErrCorruptData is returned when a payload cannot be decoded.
	ErrCorruptData = errors.New("corrupt compressed data")
)

// Params holds per-call compression parameters.
type Params struct {
	// Level is the codec-specific compression level.
	// Zero selects the codec's default level.
	Level int
}

// Metadata describes the outcome of a compression operation.
type Metadata struct {
	// Algorithm is the name of the codec that produced the output.
	Algorithm string `json:"algorithm"`

	// Level is the effective compression level used.
	Level int `json:"level"`

	// OriginalSize is the input size in bytes.
	OriginalSize int `json:"originalSize"`

	// CompressedSize is the output size in bytes.
	CompressedSize int `json:"compressedSize"`

	// Ratio is OriginalSize / CompressedSize.
	Ratio float64 `json:"ratio"`

	// Duration is how long the compression took.
	Duration time.Duration `json:"duration"`

	// EmergencyFallback is true when the supervisor's emergency path
	// produced this result instead of a registered algorithm.
	EmergencyFallback bool `json:"emergencyFallback,omitempty"`

	// Uncompressed is true when the payload is the original bytes,
	// returned unchanged because every compressor failed.
	Uncompressed bool `json:"uncompressed,omitempty"`
}

// Result bundles compressed bytes with their metadata.
type Result struct {
	Data     []byte
	Metadata Metadata
}

// Compressor is the capability every managed algorithm must expose.
// Implementations must be safe for concurrent use and must not leak
// global state if a caller abandons an in-flight call after a deadline.
type Compressor interface {
	// Compress compresses data with the given parameters.
	Compress(data []byte, params Params) ([]byte, Metadata, error)

	// Decompress restores the original bytes from a compressed payload.
	Decompress(data []byte) ([]byte, error)

	// Name returns the algorithm identifier for registration and logging.
	Name() string
}

// newMetadata fills the size and timing fields common to every codec.
func newMetadata(name string, level int, originalSize, compressedSize int, start time.Time) Metadata {
	ratio := 0.0
	if compressedSize > 0 {
		ratio = float64(originalSize) / float64(compressedSize)
	}
	return Metadata{
		Algorithm:      name,
		Level:          level,
		OriginalSize:   originalSize,
		CompressedSize: compressedSize,
		Ratio:          ratio,
		Duration:       time.Since(start),
	}
}

// clampLevel bounds a requested level to the codec's supported range,
// substituting def when the request is zero.
func clampLevel(requested, minLevel, maxLevel, def int) int {
	if requested == 0 {
		return def
	}
	if requested < minLevel {
		return minLevel
	}
	if requested > maxLevel {
		return maxLevel
	}
	return requested
}
