// Package compose implements the media composition pipeline: letterbox
// frame resizing, timeline reconciliation between an overlay and an
// authoritative audio duration, and the compositing step that binds both
// into one output description for the encoder.
package compose

import (
	"fmt"
	"math"
	"sort"
)

// FrameRate is the fixed output frame rate of every composition.
const FrameRate = 30

// DurationTolerance is the maximum acceptable drift between the reconciled
// overlay duration and the audio duration: one frame period at FrameRate.
const DurationTolerance = 1.0 / FrameRate

// FillColor is the padding color used for letterboxing and black fill.
const FillColor = "black"

// OverlayKind distinguishes the two overlay sources.
type OverlayKind string

const (
	// OverlayMoving is an overlay sourced from a video file with its own
	// frame sequence and duration.
	OverlayMoving OverlayKind = "moving"
	// OverlayStill is an overlay sourced from a single static image,
	// displayed for an explicit duration.
	OverlayStill OverlayKind = "still"
)

// IsValid returns true if the overlay kind is one of the known variants.
func (k OverlayKind) IsValid() bool {
	return k == OverlayMoving || k == OverlayStill
}

// TimeRange is a half-open interval [Start, End) in seconds over a clip.
type TimeRange struct {
	Start float64
	End   float64
}

// Duration returns the length of the range in seconds.
func (r TimeRange) Duration() float64 {
	return r.End - r.Start
}

// Validate checks the range invariant 0 <= Start < End <= clipDuration.
// A clipDuration of zero skips the upper-bound check.
func (r TimeRange) Validate(clipDuration float64) error {
	if r.Start < 0 || r.End <= r.Start {
		return fmt.Errorf("%w: [%g, %g)", ErrInvalidRange, r.Start, r.End)
	}
	if clipDuration > 0 && r.End > clipDuration+DurationTolerance {
		return fmt.Errorf("%w: [%g, %g) exceeds clip duration %g", ErrInvalidRange, r.Start, r.End, clipDuration)
	}
	return nil
}

// Geometry is a target canvas size in pixels. Both dimensions must be
// positive and even; downstream encoders use 4:2:0 chroma subsampling.
type Geometry struct {
	Width  int
	Height int
}

// Validate checks the geometry invariant.
func (g Geometry) Validate() error {
	if g.Width <= 0 || g.Height <= 0 {
		return fmt.Errorf("%w: geometry %dx%d must be positive", ErrInvalidRange, g.Width, g.Height)
	}
	if g.Width%2 != 0 || g.Height%2 != 0 {
		return fmt.Errorf("%w: geometry %dx%d must be even", ErrInvalidRange, g.Width, g.Height)
	}
	return nil
}

// GeometryOriginal selects the overlay's native geometry.
const GeometryOriginal = "original"

// presets is the fixed list of selectable target geometries.
var presets = map[string]Geometry{
	"portrait":  {Width: 1080, Height: 1920},
	"landscape": {Width: 1920, Height: 1080},
	"square":    {Width: 1080, Height: 1080},
}

// PresetGeometry resolves a named geometry preset. The empty name and
// GeometryOriginal both select the overlay's native geometry (nil).
func PresetGeometry(name string) (*Geometry, error) {
	if name == "" || name == GeometryOriginal {
		return nil, nil
	}
	g, ok := presets[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown geometry preset %q", ErrInvalidRange, name)
	}
	return &g, nil
}

// PresetNames returns the selectable preset names in stable order,
// including GeometryOriginal.
func PresetNames() []string {
	names := make([]string, 0, len(presets)+1)
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return append(names, GeometryOriginal)
}

// EvenSnap rounds a native frame size down to even dimensions so it can be
// used as an output geometry. Dimensions below 2 are clamped to 2.
func EvenSnap(width, height int) Geometry {
	w := width - width%2
	h := height - height%2
	if w < 2 {
		w = 2
	}
	if h < 2 {
		h = 2
	}
	return Geometry{Width: w, Height: h}
}

// CompositionPlan holds the resolved parameters for one run. It is built
// once from the caller's already-validated selection and never mutated;
// the pipeline still re-validates the range invariants defensively.
type CompositionPlan struct {
	// Kind is the overlay variant.
	Kind OverlayKind
	// AudioRange is the selected segment of the background audio. Its
	// duration is authoritative for the whole composition.
	AudioRange TimeRange
	// OverlayRange is the selected sub-range of a moving overlay.
	// Nil means the whole clip.
	OverlayRange *TimeRange
	// StillSeconds is how long a still overlay is displayed. Clamped to
	// [1, audio segment duration] during reconciliation.
	StillSeconds float64
	// Target is the output geometry. Nil means the overlay's native size.
	Target *Geometry
}

// Validate re-checks the plan invariants that do not require probing the
// source media.
func (p CompositionPlan) Validate() error {
	if !p.Kind.IsValid() {
		return fmt.Errorf("%w: overlay kind %q", ErrInvalidRange, p.Kind)
	}
	if err := p.AudioRange.Validate(0); err != nil {
		return fmt.Errorf("audio range: %w", err)
	}
	if p.OverlayRange != nil {
		if p.Kind != OverlayMoving {
			return fmt.Errorf("%w: overlay range set for still overlay", ErrInvalidRange)
		}
		if err := p.OverlayRange.Validate(0); err != nil {
			return fmt.Errorf("overlay range: %w", err)
		}
	}
	if p.Kind == OverlayStill && p.StillSeconds <= 0 {
		return fmt.Errorf("%w: still display duration %g", ErrInvalidRange, p.StillSeconds)
	}
	if p.Target != nil {
		if err := p.Target.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// RequiredDuration returns the authoritative output duration in seconds.
func (p CompositionPlan) RequiredDuration() float64 {
	return p.AudioRange.Duration()
}

// WithinTolerance reports whether two durations agree within one frame
// period.
func WithinTolerance(a, b float64) bool {
	return math.Abs(a-b) <= DurationTolerance
}
