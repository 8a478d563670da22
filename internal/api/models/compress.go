package models

import (
	"time"

	"github.com/packgate/packgate/internal/codec"
	"github.com/packgate/packgate/internal/resilience"
)

// CompressRequest is the body of POST /v1/compress.
type CompressRequest struct {
	// Data is the base64-encoded payload to compress.
	Data string `json:"data"`

	// Level is the optional codec-specific compression level.
	Level int `json:"level,omitempty"`
}

// CompressResponse is the body of a successful compression call.
type CompressResponse struct {
	// Data is the base64-encoded compressed payload.
	Data string `json:"data"`

	// Metadata describes how the payload was produced.
	Metadata codec.Metadata `json:"metadata"`

	// Errors lists the algorithms that were tried and exhausted before
	// the returned result was produced.
	Errors []resilience.ErrorRecord `json:"errors,omitempty"`
}

// DecompressRequest is the body of POST /v1/decompress.
type DecompressRequest struct {
	// Data is the base64-encoded compressed payload.
	Data string `json:"data"`

	// Algorithm names the codec that produced the payload, as reported
	// in compression metadata.
	Algorithm string `json:"algorithm"`
}

// DecompressResponse is the body of a successful decompression call.
type DecompressResponse struct {
	// Data is the base64-encoded original payload.
	Data string `json:"data"`

	// OriginalSize is the decoded payload size in bytes.
	OriginalSize int `json:"originalSize"`
}

// Health is the liveness response.
type Health struct {
	Status  string    `json:"status"`
	Version string    `json:"version"`
	Time    time.Time `json:"time"`
}
