// Package run provides the Run aggregate for managing composition runs.
// A run tracks one request through the pipeline phases, from timeline
// reconciliation to the emitted output file.
package run

import (
	"errors"
	"sync"
	"time"

	"github.com/maauso/clipfuse/internal/compose"
	"github.com/maauso/clipfuse/internal/run/id"
)

// Phase represents the current state of a Run. Phases advance in pipeline
// order; FAILED and CANCELLED are terminal and reachable from any
// non-terminal phase.
type Phase string

const (
	// PhaseIdle indicates the run was accepted but processing has not started.
	PhaseIdle Phase = "IDLE"
	// PhaseTimelineResolved indicates the overlay timeline has been
	// reconciled against the audio duration.
	PhaseTimelineResolved Phase = "TIMELINE_RESOLVED"
	// PhaseGeometryResolved indicates the target frame geometry is fixed
	// and any still overlay has been letterboxed.
	PhaseGeometryResolved Phase = "GEOMETRY_RESOLVED"
	// PhaseComposited indicates the audio and overlay have been joined
	// into a validated composition.
	PhaseComposited Phase = "COMPOSITED"
	// PhaseEmitted indicates the output file was written successfully.
	PhaseEmitted Phase = "EMITTED"
	// PhaseFailed indicates the run encountered an error.
	PhaseFailed Phase = "FAILED"
	// PhaseCancelled indicates the run was cancelled by the caller.
	PhaseCancelled Phase = "CANCELLED"
)

// ErrInvalidTransition is returned when an invalid phase transition is attempted.
var ErrInvalidTransition = errors.New("invalid phase transition")

// validTransitions defines which phase transitions are allowed.
var validTransitions = map[Phase][]Phase{
	PhaseIdle:             {PhaseTimelineResolved, PhaseFailed, PhaseCancelled},
	PhaseTimelineResolved: {PhaseGeometryResolved, PhaseFailed, PhaseCancelled},
	PhaseGeometryResolved: {PhaseComposited, PhaseFailed, PhaseCancelled},
	PhaseComposited:       {PhaseEmitted, PhaseFailed, PhaseCancelled},
	PhaseEmitted:          {},
	PhaseFailed:           {},
	PhaseCancelled:        {},
}

// canTransition checks if a transition from one phase to another is valid.
func canTransition(from, to Phase) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, p := range allowed {
		if p == to {
			return true
		}
	}
	return false
}

// Run represents a composition run aggregate. It carries the request
// parameters, the resolved plan, and the output of the pipeline.
type Run struct {
	mu sync.RWMutex

	// ID is the unique identifier for this run.
	ID string
	// Phase is the current pipeline phase.
	Phase Phase
	// Error contains any error message if the run failed.
	Error string
	// Plan is the request-level composition plan.
	Plan compose.CompositionPlan
	// Reconciled is the timeline reconciliation result, set once the run
	// reaches TIMELINE_RESOLVED.
	Reconciled compose.ReconciliationPlan
	// AudioPath is the saved background audio file.
	AudioPath string
	// OverlayPath is the saved overlay file (video or still image).
	OverlayPath string
	// OutputPath is the path to the emitted video.
	OutputPath string
	// Duration is the emitted video duration in seconds.
	Duration float64
	// Deliver indicates whether to upload the result to S3.
	Deliver bool
	// VideoURL is the S3 URL if Deliver was true.
	VideoURL string
	// CreatedAt is when the run was created.
	CreatedAt time.Time
	// UpdatedAt is when the run was last updated.
	UpdatedAt time.Time
	// StartedAt is when processing started.
	StartedAt time.Time
	// CompletedAt is when processing finished.
	CompletedAt time.Time
}

// New creates a new Run with a generated ID in the IDLE phase.
func New(plan compose.CompositionPlan) *Run {
	return NewWithID(id.Generate(), plan)
}

// NewWithID creates a new Run with the specified ID and initial IDLE phase.
// Useful for testing or when the ID needs to be externally generated.
func NewWithID(runID string, plan compose.CompositionPlan) *Run {
	now := time.Now()
	return &Run{
		ID:        runID,
		Phase:     PhaseIdle,
		Plan:      plan,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo attempts to advance the run to the specified phase.
// Returns ErrInvalidTransition if the transition is not allowed.
func (r *Run) TransitionTo(phase Phase) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !canTransition(r.Phase, phase) {
		return ErrInvalidTransition
	}

	r.Phase = phase
	r.UpdatedAt = time.Now()

	switch phase {
	case PhaseTimelineResolved:
		if r.StartedAt.IsZero() {
			r.StartedAt = r.UpdatedAt
		}
	case PhaseEmitted, PhaseFailed, PhaseCancelled:
		r.CompletedAt = r.UpdatedAt
	}

	return nil
}

// Fail transitions the run to FAILED with an error message.
// Returns ErrInvalidTransition if the run is already terminal; a rejected
// transition leaves any earlier error message untouched.
func (r *Run) Fail(errMsg string) error {
	if err := r.TransitionTo(PhaseFailed); err != nil {
		return err
	}
	r.mu.Lock()
	r.Error = errMsg
	r.mu.Unlock()
	return nil
}

// Cancel transitions the run to CANCELLED.
// Returns ErrInvalidTransition if the run is already terminal.
func (r *Run) Cancel() error {
	return r.TransitionTo(PhaseCancelled)
}

// GetPhase returns the current run phase (thread-safe).
func (r *Run) GetPhase() Phase {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.Phase
}

// SetInputs records the saved source file paths.
func (r *Run) SetInputs(audioPath, overlayPath string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.AudioPath = audioPath
	r.OverlayPath = overlayPath
	r.UpdatedAt = time.Now()
}

// SetReconciled records the timeline reconciliation result.
func (r *Run) SetReconciled(plan compose.ReconciliationPlan) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Reconciled = plan
	r.UpdatedAt = time.Now()
}

// SetOutput sets the emitted video path, duration, and optional S3 URL.
func (r *Run) SetOutput(videoPath string, duration float64, videoURL string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.OutputPath = videoPath
	r.Duration = duration
	r.VideoURL = videoURL
	r.UpdatedAt = time.Now()
}

// ClearOutput clears the emitted video path and URL.
// Used when the run's output file is deleted.
func (r *Run) ClearOutput() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.OutputPath = ""
	r.VideoURL = ""
	r.UpdatedAt = time.Now()
}

// IsTerminal returns true if the run is in a terminal phase.
func (r *Run) IsTerminal() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.Phase == PhaseEmitted ||
		r.Phase == PhaseFailed ||
		r.Phase == PhaseCancelled
}

// Clone creates a deep copy of the run for safe reads.
func (r *Run) Clone() *Run {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clone := &Run{
		ID:          r.ID,
		Phase:       r.Phase,
		Error:       r.Error,
		Plan:        r.Plan,
		Reconciled:  r.Reconciled,
		AudioPath:   r.AudioPath,
		OverlayPath: r.OverlayPath,
		OutputPath:  r.OutputPath,
		Duration:    r.Duration,
		Deliver:     r.Deliver,
		VideoURL:    r.VideoURL,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
	}
	if r.Plan.OverlayRange != nil {
		rr := *r.Plan.OverlayRange
		clone.Plan.OverlayRange = &rr
	}
	if r.Plan.Target != nil {
		g := *r.Plan.Target
		clone.Plan.Target = &g
	}
	return clone
}
