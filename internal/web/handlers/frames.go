package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/NicoCuadrado/Barrio-seguro/internal/facematch"
	"github.com/NicoCuadrado/Barrio-seguro/internal/gate"
	"github.com/NicoCuadrado/Barrio-seguro/internal/logging"
	"github.com/NicoCuadrado/Barrio-seguro/internal/matcher"
)

// maxFrameBytes bounds a frame request body (base64 image included).
const maxFrameBytes = 16 << 20

// FramesHandler ingests frames from the feature extractor.
type FramesHandler struct {
	gate   Gate
	logger *zap.Logger
}

// NewFramesHandler creates a new frames handler
func NewFramesHandler(g Gate, logger *zap.Logger) *FramesHandler {
	return &FramesHandler{gate: g, logger: logging.OrNop(logger)}
}

type detectionRequest struct {
	Vector []float32        `json:"vector"`
	Region facematch.Region `json:"region"`
}

// FrameRequest is one frame as posted by the extractor.
type FrameRequest struct {
	Image      string             `json:"image,omitempty"` // base64 encoded JPEG/PNG/BMP
	At         time.Time          `json:"at,omitzero"`
	Detections []detectionRequest `json:"detections"`
}

// ResultResponse is the classification of one detection.
type ResultResponse struct {
	Kind     matcher.Kind     `json:"kind,omitempty"`
	Label    string           `json:"label,omitempty"`
	Distance float64          `json:"distance"`
	Region   facematch.Region `json:"region"`
	Recorded bool             `json:"recorded"`
	CropPath string           `json:"crop_path,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// FrameResponse is the outcome of one posted frame.
type FrameResponse struct {
	ID        string           `json:"id"`
	Frame     uint64           `json:"frame"`
	Processed bool             `json:"processed"`
	Results   []ResultResponse `json:"results"`
}

// Process handles POST /api/v1/frames
func (h *FramesHandler) Process(w http.ResponseWriter, r *http.Request) {
	var req FrameRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxFrameBytes)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	frame := gate.Frame{At: req.At}
	if req.Image != "" {
		img, err := base64.StdEncoding.DecodeString(req.Image)
		if err != nil {
			respondError(w, http.StatusBadRequest, "image must be base64 encoded")
			return
		}
		frame.Image = img
	}
	for _, d := range req.Detections {
		if len(d.Vector) == 0 {
			respondError(w, http.StatusBadRequest, "detection vector is required")
			return
		}
		frame.Detections = append(frame.Detections, matcher.Detection{
			Vector: facematch.FeatureVector(d.Vector),
			Region: d.Region,
		})
	}

	id := uuid.NewString()
	res, err := h.gate.Process(r.Context(), frame)
	switch {
	case errors.Is(err, matcher.ErrNotInitialized), errors.Is(err, gate.ErrClosed):
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	case errors.Is(err, gate.ErrTooManyDetections), errors.Is(err, facematch.ErrDimensionMismatch):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil && !res.Processed:
		h.logger.Error("frame failed", zap.String("frame_id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to process frame")
		return
	case err != nil:
		// per-detection failures are reported inline
		h.logger.Warn("frame partially failed", zap.String("frame_id", id), zap.Error(err))
	}

	resp := FrameResponse{
		ID:        id,
		Frame:     res.Number,
		Processed: res.Processed,
		Results:   make([]ResultResponse, 0, len(res.Results)),
	}
	for _, rr := range res.Results {
		out := ResultResponse{
			Kind:     rr.Kind,
			Label:    rr.Label,
			Distance: rr.Distance,
			Region:   rr.Region,
			Recorded: rr.Recorded,
			CropPath: rr.CropPath,
		}
		if rr.Err != nil {
			out.Error = rr.Err.Error()
		}
		resp.Results = append(resp.Results, out)
	}
	respondJSON(w, http.StatusOK, resp)
}
