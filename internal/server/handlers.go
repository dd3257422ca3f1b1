package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/clipfuse/internal/compose"
	"github.com/maauso/clipfuse/internal/run"
)

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service            *run.ComposeService
	validator          *validator.Validate
	logger             *slog.Logger
	enableAsyncProcess bool
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithAsyncProcessing enables or disables background processing.
// When disabled, CreateComposition only creates the run and returns
// immediately without starting the pipeline. Used in tests.
func WithAsyncProcessing(enabled bool) HandlerOption {
	return func(h *Handlers) {
		h.enableAsyncProcess = enabled
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service *run.ComposeService, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		service:            service,
		validator:          validator.New(),
		logger:             logger,
		enableAsyncProcess: true,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// CreateComposition handles POST /compositions requests.
func (h *Handlers) CreateComposition(w http.ResponseWriter, r *http.Request) {
	var req CreateCompositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	plan, err := req.toPlan()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_PLAN")
		return
	}

	audioData, err := base64.StdEncoding.DecodeString(req.AudioBase64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid audio encoding", "INVALID_AUDIO")
		return
	}
	overlayData, err := base64.StdEncoding.DecodeString(req.OverlayBase64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid overlay encoding", "INVALID_OVERLAY")
		return
	}

	created, err := h.service.CreateRun(r.Context(), run.CreateRunInput{
		Plan:            plan,
		AudioFilename:   req.AudioFilename,
		Audio:           bytes.NewReader(audioData),
		OverlayFilename: req.OverlayFilename,
		Overlay:         bytes.NewReader(overlayData),
		Deliver:         req.Deliver,
	})
	if err != nil {
		if errors.Is(err, compose.ErrInvalidRange) {
			writeError(w, http.StatusBadRequest, err.Error(), "INVALID_PLAN")
			return
		}
		h.logger.Error("failed to create run",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create composition", "RUN_CREATION_FAILED")
		return
	}

	// Processing continues after the request returns, so the pipeline
	// runs on a detached context.
	if h.enableAsyncProcess {
		go func(ctx context.Context, runID string) {
			if processErr := h.service.ProcessRun(ctx, runID); processErr != nil {
				h.logger.Error("background processing failed",
					slog.String("run_id", runID),
					slog.String("error", processErr.Error()),
				)
			}
		}(context.WithoutCancel(r.Context()), created.ID)
	}

	h.logger.Info("composition created",
		slog.String("run_id", created.ID),
		slog.String("overlay_kind", string(plan.Kind)),
	)

	writeJSON(w, http.StatusAccepted, CreateCompositionResponse{
		ID:    created.ID,
		Phase: string(created.Phase),
	})
}

// toPlan converts the request DTO into a composition plan.
func (req CreateCompositionRequest) toPlan() (compose.CompositionPlan, error) {
	target, err := compose.PresetGeometry(req.Geometry)
	if err != nil {
		return compose.CompositionPlan{}, err
	}

	plan := compose.CompositionPlan{
		Kind: compose.OverlayKind(req.OverlayKind),
		AudioRange: compose.TimeRange{
			Start: req.AudioRange.Start,
			End:   req.AudioRange.End,
		},
		StillSeconds: req.StillSeconds,
		Target:       target,
	}
	if req.OverlayRange != nil {
		plan.OverlayRange = &compose.TimeRange{
			Start: req.OverlayRange.Start,
			End:   req.OverlayRange.End,
		}
	}

	if err := plan.Validate(); err != nil {
		return compose.CompositionPlan{}, err
	}
	return plan, nil
}

// GetComposition handles GET /compositions/{id} requests.
func (h *Handlers) GetComposition(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	if runID == "" {
		writeError(w, http.StatusBadRequest, "run ID is required", "MISSING_RUN_ID")
		return
	}

	found, err := h.service.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, run.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "composition not found", "RUN_NOT_FOUND")
			return
		}
		h.logger.Error("failed to get run",
			slog.String("run_id", runID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get composition", "RUN_FETCH_FAILED")
		return
	}

	resp := CompositionResponse{
		ID:    found.ID,
		Phase: string(found.Phase),
		Error: found.Error,
	}

	if found.Phase == run.PhaseEmitted {
		resp.DurationSeconds = found.Duration
		if found.Deliver && found.VideoURL != "" {
			resp.VideoURL = found.VideoURL
		} else if found.OutputPath != "" {
			videoData, err := os.ReadFile(found.OutputPath)
			if err != nil {
				h.logger.Error("failed to read output video",
					slog.String("run_id", runID),
					slog.String("path", found.OutputPath),
					slog.String("error", err.Error()),
				)
				// Don't fail the request, just log and omit the video
			} else {
				resp.VideoBase64 = base64.StdEncoding.EncodeToString(videoData)
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// DeleteComposition handles DELETE /compositions/{id} requests.
// An in-flight run is cancelled before its files are removed.
func (h *Handlers) DeleteComposition(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	if runID == "" {
		writeError(w, http.StatusBadRequest, "run ID is required", "MISSING_RUN_ID")
		return
	}

	if err := h.service.DeleteRun(r.Context(), runID); err != nil {
		if errors.Is(err, run.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "composition not found", "RUN_NOT_FOUND")
			return
		}
		h.logger.Error("failed to delete run",
			slog.String("run_id", runID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to delete composition", "RUN_DELETE_FAILED")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
