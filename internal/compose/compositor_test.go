package compose

import (
	"errors"
	"testing"
)

func TestCompose_DurationFollowsAudio(t *testing.T) {
	audio := AudioSegment{Path: "/tmp/a.wav", Cut: TimeRange{2, 10}}
	plan, err := Reconcile(Overlay{Kind: OverlayMoving, Duration: 3.0}, audio.Duration())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	out, err := Compose(audio, "/tmp/overlay.mp4", plan, &Geometry{1080, 1920})
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if out.Duration != 8.0 {
		t.Errorf("expected duration 8.0, got %g", out.Duration)
	}
	if out.FrameRate != FrameRate {
		t.Errorf("expected frame rate %d, got %d", FrameRate, out.FrameRate)
	}
	if out.OverlayPath != "/tmp/overlay.mp4" {
		t.Errorf("unexpected overlay path %q", out.OverlayPath)
	}
}

func TestCompose_EndToEndScenario(t *testing.T) {
	// 12s audio, selected range [2, 10] (8s), 3s moving overlay, target
	// 1080x1920: the overlay loops ceil(8/3) = 3 times and the output
	// duration equals the audio segment exactly.
	audio := AudioSegment{Path: "/tmp/track.mp3", Cut: TimeRange{2, 10}}

	plan, err := Reconcile(Overlay{Kind: OverlayMoving, Duration: 3.0}, audio.Duration())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if plan.Loops < 3 {
		t.Errorf("expected at least 3 loops, got %d", plan.Loops)
	}

	target := Geometry{Width: 1080, Height: 1920}
	out, err := Compose(audio, "/tmp/clip.mp4", plan, &target)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if !WithinTolerance(out.Duration, 8.0) {
		t.Errorf("duration %g not within tolerance of 8.0", out.Duration)
	}

	// Landscape 1920x1080 content into the portrait target letterboxes to
	// full width with bars top and bottom.
	w, h := FitInside(1920, 1080, target)
	if w != target.Width {
		t.Errorf("expected content to span full width %d, got %d", target.Width, w)
	}
	if h >= target.Height {
		t.Errorf("expected bars top and bottom, content height %d", h)
	}
}

func TestCompose_StillNativeScenario(t *testing.T) {
	// Still 800x600 with no target geometry: no resize applied, black
	// fill only pads the timeline past the display duration.
	audio := AudioSegment{Path: "/tmp/track.wav", Cut: TimeRange{0, 10}}
	plan, err := Reconcile(Overlay{Kind: OverlayStill, Hold: 3.0}, audio.Duration())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	out, err := Compose(audio, "/tmp/photo.png", plan, nil)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if out.Target != nil {
		t.Errorf("expected native geometry, got %+v", out.Target)
	}
	if out.Plan.Hold != 3.0 || out.Plan.BlackTail != 7.0 {
		t.Errorf("expected 3s hold + 7s black, got %g + %g", out.Plan.Hold, out.Plan.BlackTail)
	}
}

func TestCompose_InvariantViolationIsFatal(t *testing.T) {
	audio := AudioSegment{Path: "/tmp/a.wav", Cut: TimeRange{0, 8}}

	// A hand-built plan that falls short by more than one frame period
	// must be rejected as an internal defect.
	bad := ReconciliationPlan{Kind: OverlayMoving, Clip: TimeRange{0, 5}, Loops: 1, Total: 5}

	_, err := Compose(audio, "/tmp/clip.mp4", bad, nil)
	if !errors.Is(err, ErrInternalInvariant) {
		t.Errorf("expected ErrInternalInvariant, got %v", err)
	}
}

func TestCompose_RejectsBadInputs(t *testing.T) {
	plan := ReconciliationPlan{Kind: OverlayMoving, Clip: TimeRange{0, 8}, Loops: 1, Total: 8}

	t.Run("invalid audio cut", func(t *testing.T) {
		_, err := Compose(AudioSegment{Cut: TimeRange{5, 5}}, "/tmp/c.mp4", plan, nil)
		if !errors.Is(err, ErrInvalidRange) {
			t.Errorf("expected ErrInvalidRange, got %v", err)
		}
	})

	t.Run("invalid geometry", func(t *testing.T) {
		_, err := Compose(AudioSegment{Cut: TimeRange{0, 8}}, "/tmp/c.mp4", plan, &Geometry{Width: 7, Height: 4})
		if !errors.Is(err, ErrInvalidRange) {
			t.Errorf("expected ErrInvalidRange, got %v", err)
		}
	})
}
