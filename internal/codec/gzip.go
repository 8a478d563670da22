package codec

import (
	"bytes"
	"io"
	"time"

	"github.com/klauspost/compress/gzip"
)

// Gzip implements Compressor using the DEFLATE-based gzip container.
// It is the workhorse codec: moderate ratio, predictable speed.
type Gzip struct{}

// NewGzip creates a gzip codec.
func NewGzip() *Gzip { return &Gzip{} }

// Name returns the algorithm identifier.
func (g *Gzip) Name() string { return "gzip" }

// Compress compresses data at the requested level (1-9, default 6).
func (g *Gzip) Compress(data []byte, params Params) ([]byte, Metadata, error) {
	if len(data) == 0 {
		return nil, Metadata{}, ErrEmptyInput
	}

	level := clampLevel(params.Level, gzip.BestSpeed, gzip.BestCompression, gzip.DefaultCompression)
	start := time.Now()

	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, Metadata{}, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, Metadata{}, err
	}
	if err := w.Close(); err != nil {
		return nil, Metadata{}, err
	}

	out := buf.Bytes()
	return out, newMetadata(g.Name(), level, len(data), len(out), start), nil
}

// Decompress restores the original bytes.
func (g *Gzip) Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, ErrCorruptData
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, ErrCorruptData
	}
	return out, nil
}
