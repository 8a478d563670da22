package codec

import (
	"bytes"
	"io"
	"time"

	"github.com/pierrec/lz4/v4"
)

// LZ4 implements Compressor using the LZ4 frame format. Fastest codec
// in the set; last line before the emergency path when the host is
// under pressure.
type LZ4 struct{}

// NewLZ4 creates an lz4 codec.
func NewLZ4() *LZ4 { return &LZ4{} }

// Name returns the algorithm identifier.
func (l *LZ4) Name() string { return "lz4" }

// Compress compresses data at the requested level (0 fast, 1-9 HC).
func (l *LZ4) Compress(data []byte, params Params) ([]byte, Metadata, error) {
	if len(data) == 0 {
		return nil, Metadata{}, ErrEmptyInput
	}

	level := clampLevel(params.Level, 1, 9, 1)
	start := time.Now()

	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if err := w.Apply(lz4.CompressionLevelOption(lz4CompressionLevel(level))); err != nil {
		return nil, Metadata{}, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, Metadata{}, err
	}
	if err := w.Close(); err != nil {
		return nil, Metadata{}, err
	}

	out := buf.Bytes()
	return out, newMetadata(l.Name(), level, len(data), len(out), start), nil
}

// Decompress restores the original bytes.
func (l *LZ4) Decompress(data []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(data))
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, ErrCorruptData
	}
	return out, nil
}

// lz4CompressionLevel maps a 1-9 level onto the library's enum.
func lz4CompressionLevel(level int) lz4.CompressionLevel {
	switch level {
	case 1:
		return lz4.Fast
	case 2:
		return lz4.Level1
	case 3:
		return lz4.Level2
	case 4:
		return lz4.Level3
	case 5:
		return lz4.Level4
	case 6:
		return lz4.Level5
	case 7:
		return lz4.Level6
	case 8:
		return lz4.Level7
	default:
		return lz4.Level9
	}
}
