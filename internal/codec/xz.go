package codec

import (
	"bytes"
	"io"
	"time"

	"github.com/ulikunitz/xz"
)

// XZ implements Compressor using the xz/LZMA2 format. Best ratio of the
// registered codecs and by far the slowest; sits at the head of the
// fallback chain.
type XZ struct{}

// NewXZ creates an xz codec.
func NewXZ() *XZ { return &XZ{} }

// Name returns the algorithm identifier.
func (x *XZ) Name() string { return "xz" }

// Compress compresses data. The xz writer has no tunable level in the
// library's simple API, so Params.Level only shows up in metadata.
func (x *XZ) Compress(data []byte, params Params) ([]byte, Metadata, error) {
	if len(data) == 0 {
		return nil, Metadata{}, ErrEmptyInput
	}

	level := clampLevel(params.Level, 1, 9, 6)
	start := time.Now()

	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
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
	return out, newMetadata(x.Name(), level, len(data), len(out), start), nil
}

// Decompress restores the original bytes.
func (x *XZ) Decompress(data []byte) ([]byte, error) {
	r, err := xz.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, ErrCorruptData
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, ErrCorruptData
	}
	return out, nil
}
