package compose

import (
	"fmt"
)

// AudioSegment is the background audio input: a source file and the
// selected cut. The cut's duration is authoritative for the composition.
type AudioSegment struct {
	// Path is the audio source file (already normalized if needed).
	Path string
	// Cut is the selected segment of the source.
	Cut TimeRange
}

// Duration returns the authoritative duration of the segment.
func (a AudioSegment) Duration() float64 {
	return a.Cut.Duration()
}

// CompositedOutput is the fully-resolved composition handed to the
// encoder: one visual stream reconciled to the audio segment duration,
// one audio stream, a fixed frame rate, and the resolved output geometry.
// It is owned by the run that produced it and discarded after encoding.
type CompositedOutput struct {
	// Audio is the background audio segment.
	Audio AudioSegment
	// OverlayPath is the overlay source. For stills this is the
	// pre-letterboxed canvas image; for moving overlays the (possibly
	// pre-cut) video file.
	OverlayPath string
	// Plan is the reconciled overlay timeline.
	Plan ReconciliationPlan
	// Target is the output geometry the encoder must letterbox moving
	// frames into. Nil means the overlay's native geometry; still
	// overlays arrive already sized to their canvas.
	Target *Geometry
	// Duration is the total output duration: exactly the audio segment
	// duration.
	Duration float64
	// FrameRate is the fixed output frame rate.
	FrameRate int
}

// Compose binds the audio segment and the reconciled overlay into one
// output description. The audio duration is authoritative: a plan whose
// rendered duration differs by more than one frame period is a defect in
// reconciliation and surfaces as ErrInternalInvariant. Inputs are not
// mutated.
func Compose(audio AudioSegment, overlayPath string, plan ReconciliationPlan, target *Geometry) (CompositedOutput, error) {
	if err := audio.Cut.Validate(0); err != nil {
		return CompositedOutput{}, fmt.Errorf("audio cut: %w", err)
	}
	if target != nil {
		if err := target.Validate(); err != nil {
			return CompositedOutput{}, err
		}
	}

	required := audio.Duration()
	if !WithinTolerance(plan.RenderedDuration(), required) {
		return CompositedOutput{}, fmt.Errorf(
			"%w: reconciled overlay duration %g does not match audio duration %g",
			ErrInternalInvariant, plan.RenderedDuration(), required,
		)
	}

	return CompositedOutput{
		Audio:       audio,
		OverlayPath: overlayPath,
		Plan:        plan,
		Target:      target,
		Duration:    required,
		FrameRate:   FrameRate,
	}, nil
}
