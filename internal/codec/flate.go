package codec

import (
	"bytes"
	"io"
	"time"

	"github.com/klauspost/compress/flate"
)

// Flate implements Compressor using raw DEFLATE without a container.
// Smallest framing overhead of the set, useful for tiny payloads.
type Flate struct{}

// NewFlate creates a flate codec.
func NewFlate() *Flate { return &Flate{} }

// Name returns the algorithm identifier.
func (f *Flate) Name() string { return "flate" }

// Compress compresses data at the requested level (1-9, default 6).
func (f *Flate) Compress(data []byte, params Params) ([]byte, Metadata, error) {
	if len(data) == 0 {
		return nil, Metadata{}, ErrEmptyInput
	}

	level := clampLevel(params.Level, flate.BestSpeed, flate.BestCompression, flate.DefaultCompression)
	start := time.Now()

	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, level)
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
	return out, newMetadata(f.Name(), level, len(data), len(out), start), nil
}

// Decompress restores the original bytes.
func (f *Flate) Decompress(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, ErrCorruptData
	}
	return out, nil
}
