package codec

import (
	"time"

	"github.com/klauspost/compress/zstd"
)

// Zstd implements Compressor using Zstandard. Best ratio-per-cpu of the
// registered codecs; preferred for large payloads.
type Zstd struct{}

// NewZstd creates a zstd codec.
func NewZstd() *Zstd { return &Zstd{} }

// Name returns the algorithm identifier.
func (z *Zstd) Name() string { return "zstd" }

// Compress compresses data at the requested zstd level (1-4 in the
// library's mapping, default SpeedDefault).
func (z *Zstd) Compress(data []byte, params Params) ([]byte, Metadata, error) {
	if len(data) == 0 {
		return nil, Metadata{}, ErrEmptyInput
	}

	level := clampLevel(params.Level, int(zstd.SpeedFastest), int(zstd.SpeedBestCompression), int(zstd.SpeedDefault))
	start := time.Now()

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevel(level)))
	if err != nil {
		return nil, Metadata{}, err
	}
	out := enc.EncodeAll(data, nil)
	if err := enc.Close(); err != nil {
		return nil, Metadata{}, err
	}

	return out, newMetadata(z.Name(), level, len(data), len(out), start), nil
}

// Decompress restores the original bytes.
func (z *Zstd) Decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, ErrCorruptData
	}
	return out, nil
}
