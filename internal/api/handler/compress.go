// Package handler provides HTTP handlers for the PackGate API.
package handler

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/packgate/packgate/internal/api/models"
	"github.com/packgate/packgate/internal/api/response"
	"github.com/packgate/packgate/internal/codec"
	"github.com/packgate/packgate/internal/resilience"
)

// CompressHandler handles compression endpoints.
type CompressHandler struct {
	supervisor *resilience.DegradationSupervisor
}

// NewCompressHandler creates a new CompressHandler.
func NewCompressHandler(supervisor *resilience.DegradationSupervisor) *CompressHandler {
	return &CompressHandler{supervisor: supervisor}
}

// Compress handles POST /v1/compress - compress a base64 payload through
// the fallback chain.
func (h *CompressHandler) Compress(w http.ResponseWriter, r *http.Request) {
	var input models.CompressRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.BadRequest(w, r, "invalid JSON body")
		return
	}

	data, err := base64.StdEncoding.DecodeString(input.Data)
	if err != nil {
		response.BadRequest(w, r, "data must be base64-encoded")
		return
	}
	if len(data) == 0 {
		response.BadRequest(w, r, "data is required")
		return
	}

	res, records, err := h.supervisor.CompressWithFallback(r.Context(), data, codec.Params{Level: input.Level})
	if err != nil {
		response.InternalError(w, r, "compression failed")
		return
	}

	resp := models.CompressResponse{
		Data:     base64.StdEncoding.EncodeToString(res.Data),
		Metadata: res.Metadata,
		Errors:   records,
	}
	response.JSON(w, r, http.StatusOK, resp)
}

// Decompress handles POST /v1/decompress - restore a payload compressed
// by a named algorithm.
func (h *CompressHandler) Decompress(w http.ResponseWriter, r *http.Request) {
	var input models.DecompressRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.BadRequest(w, r, "invalid JSON body")
		return
	}

	data, err := base64.StdEncoding.DecodeString(input.Data)
	if err != nil {
		response.BadRequest(w, r, "data must be base64-encoded")
		return
	}

	out, err := h.supervisor.DecompressWithFallback(r.Context(), data, input.Algorithm)
	if err != nil {
		switch {
		case errors.Is(err, resilience.ErrNotRegistered):
			response.NotFound(w, r, "unknown algorithm: "+input.Algorithm)
		case errors.Is(err, codec.ErrCorruptData):
			response.BadRequest(w, r, "payload is corrupt or was not produced by "+input.Algorithm)
		case errors.Is(err, codec.ErrEmptyInput):
			response.BadRequest(w, r, "data is required")
		default:
			response.InternalError(w, r, "decompression failed")
		}
		return
	}

	resp := models.DecompressResponse{
		Data:         base64.StdEncoding.EncodeToString(out),
		OriginalSize: len(out),
	}
	response.JSON(w, r, http.StatusOK, resp)
}
