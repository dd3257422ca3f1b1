package compose

import (
	"fmt"
	"math"
)

// Overlay describes the overlay input as timeline reconciliation sees it.
type Overlay struct {
	// Kind is the overlay variant.
	Kind OverlayKind
	// Duration is the natural duration of a moving overlay in seconds.
	// Ignored for stills.
	Duration float64
	// Range is the user-selected sub-range of a moving overlay. Nil means
	// the whole clip.
	Range *TimeRange
	// Hold is the requested display duration of a still overlay in
	// seconds.
	Hold float64
}

// ReconciliationPlan is the resolved timeline for the overlay: how it is
// trimmed, looped, or padded so its rendered length equals the required
// duration exactly.
type ReconciliationPlan struct {
	// Kind is the overlay variant the plan was built for.
	Kind OverlayKind
	// Clip is the portion of the overlay played on each pass (moving
	// overlays only).
	Clip TimeRange
	// SourceDuration is the natural duration of the file Clip plays from.
	// When the plan loops, Clip must cover this entire length, because
	// input looping wraps whole files.
	SourceDuration float64
	// Loops is the number of passes through Clip, including a final
	// partial pass cut by the output trim. Always >= 1 for moving
	// overlays.
	Loops int
	// Hold is how long a still overlay is displayed.
	Hold float64
	// BlackTail is the trailing solid-black fill after a still's hold.
	BlackTail float64
	// Total is the rendered duration; always the required duration.
	Total float64
}

// RenderedDuration returns the total rendered length of the plan.
func (p ReconciliationPlan) RenderedDuration() float64 {
	return p.Total
}

// Reconcile decides how the overlay is trimmed, looped, or padded so its
// rendered length equals required exactly (within one frame period).
//
// Moving overlays shorter than required are looped end-to-end: the number
// of passes is ceil(required / clip duration) so the concatenation never
// falls short, and the final pass is cut by the output trim. Stills are
// shown for their hold duration, clamped to [1, required], and the
// remainder is filled with solid black; a still never repeats.
func Reconcile(ov Overlay, required float64) (ReconciliationPlan, error) {
	if required <= 0 {
		return ReconciliationPlan{}, fmt.Errorf("%w: required duration %g", ErrInvalidRange, required)
	}

	switch ov.Kind {
	case OverlayMoving:
		return reconcileMoving(ov, required)
	case OverlayStill:
		return reconcileStill(ov, required)
	default:
		return ReconciliationPlan{}, fmt.Errorf("%w: overlay kind %q", ErrInvalidRange, ov.Kind)
	}
}

func reconcileMoving(ov Overlay, required float64) (ReconciliationPlan, error) {
	if ov.Duration <= 0 {
		return ReconciliationPlan{}, fmt.Errorf("%w: overlay duration %g", ErrInvalidRange, ov.Duration)
	}

	clip := TimeRange{Start: 0, End: ov.Duration}
	if ov.Range != nil {
		if err := ov.Range.Validate(ov.Duration); err != nil {
			return ReconciliationPlan{}, err
		}
		clip = *ov.Range
	}

	plan := ReconciliationPlan{
		Kind:           OverlayMoving,
		Clip:           clip,
		SourceDuration: ov.Duration,
		Loops:          1,
		Total:          required,
	}

	clipDur := clip.Duration()
	switch {
	case WithinTolerance(clipDur, required):
		// Used as-is; the output trim absorbs sub-frame drift.
	case clipDur > required:
		plan.Clip = TimeRange{Start: clip.Start, End: clip.Start + required}
	default:
		plan.Loops = int(math.Ceil(required / clipDur))
	}

	return plan, nil
}

func reconcileStill(ov Overlay, required float64) (ReconciliationPlan, error) {
	if ov.Hold <= 0 {
		return ReconciliationPlan{}, fmt.Errorf("%w: still display duration %g", ErrInvalidRange, ov.Hold)
	}

	// The display duration is clamped to [1, required].
	hold := ov.Hold
	if hold < 1 {
		hold = 1
	}
	if hold > required {
		hold = required
	}

	return ReconciliationPlan{
		Kind:      OverlayStill,
		Hold:      hold,
		BlackTail: required - hold,
		Total:     required,
	}, nil
}
