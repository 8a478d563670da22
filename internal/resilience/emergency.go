package resilience

import (
	"bytes"
	"io"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/packgate/packgate/internal/codec"
)

// emergencyCompress is the last-resort path: gzip at best speed, the
// cheapest always-available general-purpose compressor. If even that
// fails the original bytes are returned unchanged, tagged uncompressed.
// This function never fails.
func (s *DegradationSupervisor) emergencyCompress(data []byte) *codec.Result {
	start := time.Now()

	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, gzip.BestSpeed)
	if err == nil {
		if _, werr := w.Write(data); werr == nil {
			if cerr := w.Close(); cerr == nil {
				out := buf.Bytes()
				return &codec.Result{
					Data: out,
					Metadata: codec.Metadata{
						Algorithm:         emergencyAlgorithm,
						Level:             gzip.BestSpeed,
						OriginalSize:      len(data),
						CompressedSize:    len(out),
						Ratio:             float64(len(data)) / float64(len(out)),
						Duration:          time.Since(start),
						EmergencyFallback: true,
					},
				}
			}
		}
	}

	s.logger.Error().Err(err).Msg("emergency compressor failed, returning uncompressed payload")

	out := make([]byte, len(data))
	copy(out, data)
	return &codec.Result{
		Data: out,
		Metadata: codec.Metadata{
			Algorithm:         passthroughAlgorithm,
			OriginalSize:      len(data),
			CompressedSize:    len(data),
			Ratio:             1,
			Duration:          time.Since(start),
			EmergencyFallback: true,
			Uncompressed:      true,
		},
	}
}

// emergencyDecompress decodes payloads produced by the emergency gzip
// path.
func emergencyDecompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, codec.ErrCorruptData
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, codec.ErrCorruptData
	}
	return out, nil
}
