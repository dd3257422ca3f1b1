// Package server provides the HTTP surface of the composition API.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

// TimeRangeDTO is a half-open interval [start, end) in seconds.
type TimeRangeDTO struct {
	// Start is the inclusive lower bound in seconds.
	Start float64 `json:"start" validate:"min=0"`
	// End is the exclusive upper bound in seconds.
	End float64 `json:"end" validate:"required,gtfield=Start"`
}

// CreateCompositionRequest is the HTTP request body for creating a new
// composition run.
type CreateCompositionRequest struct {
	// AudioBase64 is the base64-encoded background audio track.
	AudioBase64 string `json:"audio_base64" validate:"required,base64"`
	// AudioFilename is the original audio filename; its extension drives
	// container detection.
	AudioFilename string `json:"audio_filename" validate:"required"`
	// AudioRange selects the segment of the audio used as the output
	// timeline. Its duration is authoritative for the whole composition.
	AudioRange TimeRangeDTO `json:"audio_range" validate:"required"`

	// OverlayBase64 is the base64-encoded overlay (video or still image).
	OverlayBase64 string `json:"overlay_base64" validate:"required,base64"`
	// OverlayFilename is the original overlay filename.
	OverlayFilename string `json:"overlay_filename" validate:"required"`
	// OverlayKind selects the overlay variant: "moving" or "still".
	OverlayKind string `json:"overlay_kind" validate:"required,oneof=moving still"`
	// OverlayRange selects a sub-range of a moving overlay. Omitted means
	// the whole clip. Invalid for stills.
	OverlayRange *TimeRangeDTO `json:"overlay_range,omitempty"`
	// StillSeconds is how long a still overlay is displayed. Required for
	// stills, invalid for moving overlays.
	StillSeconds float64 `json:"still_seconds,omitempty" validate:"omitempty,gt=0"`

	// Geometry is a named target geometry preset (portrait, landscape,
	// square) or "original" for the overlay's native size. Defaults to
	// original.
	Geometry string `json:"geometry,omitempty"`
	// Deliver indicates whether to upload the finished video to S3.
	Deliver bool `json:"deliver"`
}

// CreateCompositionResponse is the HTTP response after creating a run.
type CreateCompositionResponse struct {
	// ID is the unique identifier for the created run.
	ID string `json:"id"`
	// Phase is the initial run phase.
	Phase string `json:"phase"`
}

// CompositionResponse is the HTTP response for getting run details.
type CompositionResponse struct {
	// ID is the unique identifier for the run.
	ID string `json:"id"`
	// Phase is the current pipeline phase.
	Phase string `json:"phase"`
	// Error contains any error message if the run failed.
	Error string `json:"error,omitempty"`
	// DurationSeconds is the emitted video duration, once available.
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	// VideoBase64 is the base64-encoded video content (if deliver=false
	// and the run emitted).
	VideoBase64 string `json:"video_base64,omitempty"`
	// VideoURL is the S3 URL of the output video (if deliver=true and the
	// run emitted).
	VideoURL string `json:"video_url,omitempty"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}
