package codec

import (
	"bytes"
	"io"
	"time"

	"github.com/andybalholm/brotli"
)

// Brotli implements Compressor using the brotli format. Strong ratio on
// text-like payloads at the cost of slow high levels.
type Brotli struct{}

// NewBrotli creates a brotli codec.
func NewBrotli() *Brotli { return &Brotli{} }

// Name returns the algorithm identifier.
func (b *Brotli) Name() string { return "brotli" }

// Compress compresses data at the requested level (1-11, default 6).
func (b *Brotli) Compress(data []byte, params Params) ([]byte, Metadata, error) {
	if len(data) == 0 {
		return nil, Metadata{}, ErrEmptyInput
	}

	level := clampLevel(params.Level, brotli.BestSpeed, brotli.BestCompression, brotli.DefaultCompression)
	start := time.Now()

	var buf bytes.Buffer
	w := brotli.NewWriterLevel(&buf, level)
	if _, err := w.Write(data); err != nil {
		return nil, Metadata{}, err
	}
	if err := w.Close(); err != nil {
		return nil, Metadata{}, err
	}

	out := buf.Bytes()
	return out, newMetadata(b.Name(), level, len(data), len(out), start), nil
}

// Decompress restores the original bytes.
func (b *Brotli) Decompress(data []byte) ([]byte, error) {
	r := brotli.NewReader(bytes.NewReader(data))
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, ErrCorruptData
	}
	return out, nil
}
