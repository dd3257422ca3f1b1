package run

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	// Registered so still overlays in either format decode.
	_ "image/gif"
	_ "image/jpeg"

	"github.com/maauso/clipfuse/internal/audio"
	"github.com/maauso/clipfuse/internal/compose"
	"github.com/maauso/clipfuse/internal/media"
	"github.com/maauso/clipfuse/internal/storage"
)

// OutputFilename is the name of the emitted video inside the run's
// working directory.
const OutputFilename = "output.mp4"

// CreateRunInput contains the parameters for a new composition run.
type CreateRunInput struct {
	// Plan is the validated composition plan.
	Plan compose.CompositionPlan
	// AudioFilename is the original filename of the background audio;
	// its extension drives container detection downstream.
	AudioFilename string
	// Audio streams the background audio content.
	Audio io.Reader
	// OverlayFilename is the original filename of the overlay.
	OverlayFilename string
	// Overlay streams the overlay content (video or still image).
	Overlay io.Reader
	// Deliver indicates whether to upload the finished video to S3.
	Deliver bool
}

// ComposeService orchestrates the composition pipeline. It coordinates
// probing, audio normalization, timeline reconciliation, letterboxing,
// encoding, and delivery, advancing the run through its phases.
type ComposeService struct {
	repo       Repository
	prober     media.Prober
	encoder    media.Encoder
	normalizer audio.Normalizer
	store      storage.Storage
	logger     *slog.Logger

	// sem bounds the number of runs encoding concurrently.
	sem chan struct{}
	// cancels maps run IDs to the cancel funcs of their active pipelines.
	cancels sync.Map
}

// Option configures a ComposeService.
type Option func(*ComposeService)

// WithMaxConcurrentRuns bounds how many runs may process in parallel.
// Defaults to 2.
func WithMaxConcurrentRuns(n int) Option {
	return func(s *ComposeService) {
		if n > 0 {
			s.sem = make(chan struct{}, n)
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *ComposeService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewComposeService creates a new ComposeService.
func NewComposeService(
	repo Repository,
	prober media.Prober,
	encoder media.Encoder,
	normalizer audio.Normalizer,
	store storage.Storage,
	opts ...Option,
) *ComposeService {
	s := &ComposeService{
		repo:       repo,
		prober:     prober,
		encoder:    encoder,
		normalizer: normalizer,
		store:      store,
		logger:     slog.Default(),
		sem:        make(chan struct{}, 2),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateRun validates the plan, persists the source files into the run's
// working directory, and saves the run in the IDLE phase.
func (s *ComposeService) CreateRun(ctx context.Context, input CreateRunInput) (*Run, error) {
	if err := input.Plan.Validate(); err != nil {
		return nil, err
	}

	r := New(input.Plan)
	r.Deliver = input.Deliver

	s.logger.Info("creating composition run",
		slog.String("run_id", r.ID),
		slog.String("overlay_kind", string(input.Plan.Kind)),
		slog.Bool("deliver", input.Deliver),
	)

	audioPath, err := s.store.SaveInput(ctx, r.ID, input.AudioFilename, input.Audio)
	if err != nil {
		return nil, fmt.Errorf("save audio input: %w", err)
	}
	overlayPath, err := s.store.SaveInput(ctx, r.ID, input.OverlayFilename, input.Overlay)
	if err != nil {
		_ = s.store.CleanupRun(ctx, r.ID)
		return nil, fmt.Errorf("save overlay input: %w", err)
	}
	r.SetInputs(audioPath, overlayPath)

	if err := s.repo.Save(ctx, r); err != nil {
		_ = s.store.CleanupRun(ctx, r.ID)
		s.logger.Error("failed to save run",
			slog.String("run_id", r.ID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	return r.Clone(), nil
}

// GetRun retrieves a run by ID.
func (s *ComposeService) GetRun(ctx context.Context, runID string) (*Run, error) {
	return s.repo.FindByID(ctx, runID)
}

// ListRuns returns all runs.
func (s *ComposeService) ListRuns(ctx context.Context) ([]*Run, error) {
	return s.repo.List(ctx)
}

// ProcessRun executes the composition pipeline for a previously created
// run. It blocks until the run reaches a terminal phase; callers
// typically invoke it on its own goroutine with a detached context.
func (s *ComposeService) ProcessRun(ctx context.Context, runID string) error {
	r, err := s.repo.FindByID(ctx, runID)
	if err != nil {
		return err
	}
	if r.GetPhase() != PhaseIdle {
		return fmt.Errorf("run %s is not idle: %s", runID, r.GetPhase())
	}

	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	case <-ctx.Done():
		return s.terminate(r, ctx.Err())
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancels.Store(runID, cancel)
	defer func() {
		s.cancels.Delete(runID)
		cancel()
	}()

	if err := s.process(runCtx, r); err != nil {
		return s.terminate(r, err)
	}
	return nil
}

// terminate moves the run to its terminal failure phase, persists it,
// and discards the working directory.
func (s *ComposeService) terminate(r *Run, cause error) error {
	cleanupCtx := context.Background()

	if errors.Is(cause, context.Canceled) {
		s.logger.Info("run cancelled", slog.String("run_id", r.ID))
		_ = r.Cancel()
	} else {
		s.logger.Error("run failed",
			slog.String("run_id", r.ID),
			slog.String("phase", string(r.GetPhase())),
			slog.String("error", cause.Error()),
		)
		_ = r.Fail(cause.Error())
	}

	if err := s.repo.Save(cleanupCtx, r); err != nil {
		s.logger.Error("failed to persist terminal run",
			slog.String("run_id", r.ID),
			slog.String("error", err.Error()),
		)
	}
	if err := s.store.CleanupRun(cleanupCtx, r.ID); err != nil {
		s.logger.Warn("failed to clean up run directory",
			slog.String("run_id", r.ID),
			slog.String("error", err.Error()),
		)
	}
	return cause
}

// process runs the pipeline phases in order, persisting the run after
// each transition.
func (s *ComposeService) process(ctx context.Context, r *Run) error {
	plan := r.Plan

	// The audio track is authoritative: normalize it first so its
	// probed duration is exact.
	audioPath, err := s.normalizer.Normalize(ctx, r.AudioPath)
	if err != nil {
		return err
	}

	audioInfo, err := s.prober.Probe(ctx, audioPath)
	if err != nil {
		return err
	}
	if !audioInfo.HasAudio {
		return fmt.Errorf("%w: %s has no audio stream", compose.ErrUnreadableMedia, audioPath)
	}

	audioRange := plan.AudioRange
	if err := audioRange.Validate(audioInfo.Duration); err != nil {
		return fmt.Errorf("audio range: %w", err)
	}
	required := audioRange.Duration()

	overlayInfo, err := s.prober.Probe(ctx, r.OverlayPath)
	if err != nil {
		return err
	}
	if !overlayInfo.HasVideo {
		return fmt.Errorf("%w: %s has no video stream", compose.ErrUnreadableMedia, r.OverlayPath)
	}

	reconciled, err := compose.Reconcile(compose.Overlay{
		Kind:     plan.Kind,
		Duration: overlayInfo.Duration,
		Range:    plan.OverlayRange,
		Hold:     plan.StillSeconds,
	}, required)
	if err != nil {
		return err
	}

	r.SetReconciled(reconciled)
	if err := s.advance(ctx, r, PhaseTimelineResolved); err != nil {
		return err
	}
	s.logger.Info("timeline resolved",
		slog.String("run_id", r.ID),
		slog.Float64("required", required),
		slog.Int("loops", reconciled.Loops),
		slog.Float64("black_tail", reconciled.BlackTail),
	)

	overlayPath := r.OverlayPath
	target := plan.Target

	switch plan.Kind {
	case compose.OverlayStill:
		// Stills are letterboxed in-process; the encoder only expands
		// their timeline.
		overlayPath, err = s.prepareStill(ctx, r, overlayInfo, target)
		if err != nil {
			return err
		}
		target = nil

	case compose.OverlayMoving:
		// A looped sub-range has to become its own file so the whole
		// input wraps; this covers head ranges like [0, E) too.
		if reconciled.Loops > 1 && !coversSource(reconciled.Clip, overlayInfo.Duration) {
			overlayPath, err = s.cutOverlay(ctx, r, reconciled.Clip)
			if err != nil {
				return err
			}
			clipDur := reconciled.Clip.Duration()
			reconciled.Clip = compose.TimeRange{Start: 0, End: clipDur}
			reconciled.SourceDuration = clipDur
			r.SetReconciled(reconciled)
		}
	}

	if err := s.advance(ctx, r, PhaseGeometryResolved); err != nil {
		return err
	}

	out, err := compose.Compose(
		compose.AudioSegment{Path: audioPath, Cut: audioRange},
		overlayPath,
		reconciled,
		target,
	)
	if err != nil {
		return err
	}

	if err := s.advance(ctx, r, PhaseComposited); err != nil {
		return err
	}

	runDir, err := s.store.RunDir(r.ID)
	if err != nil {
		return err
	}
	outputPath := filepath.Join(runDir, OutputFilename)

	if err := s.encoder.Encode(ctx, out, outputPath); err != nil {
		return err
	}

	videoURL := ""
	if r.Deliver {
		videoURL, err = s.deliver(ctx, r.ID, outputPath)
		if err != nil {
			return err
		}
	}

	r.SetOutput(outputPath, out.Duration, videoURL)
	if err := s.advance(ctx, r, PhaseEmitted); err != nil {
		return err
	}

	s.logger.Info("run emitted",
		slog.String("run_id", r.ID),
		slog.String("output", outputPath),
		slog.Float64("duration", out.Duration),
	)
	return nil
}

// advance transitions the run and persists the new phase.
func (s *ComposeService) advance(ctx context.Context, r *Run, phase Phase) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.TransitionTo(phase); err != nil {
		return fmt.Errorf("%w: %s -> %s: %w", compose.ErrInternalInvariant, r.GetPhase(), phase, err)
	}
	return s.repo.Save(ctx, r)
}

// prepareStill decodes the still image, letterboxes it onto its canvas,
// and writes the result as a PNG in the run's working directory. The
// canvas is the target geometry, or the image's own size snapped to even
// dimensions when no target is set.
func (s *ComposeService) prepareStill(ctx context.Context, r *Run, info media.Info, target *compose.Geometry) (string, error) {
	canvas := compose.EvenSnap(info.Width, info.Height)
	if target != nil {
		canvas = *target
	}
	if err := canvas.Validate(); err != nil {
		return "", err
	}

	f, err := s.store.Open(ctx, r.OverlayPath)
	if err != nil {
		return "", err
	}
	img, _, err := image.Decode(f)
	_ = f.Close()
	if err != nil {
		return "", fmt.Errorf("%w: decode still %s: %v", compose.ErrUnreadableMedia, r.OverlayPath, err)
	}

	framed := compose.Letterbox(img, canvas)

	runDir, err := s.store.RunDir(r.ID)
	if err != nil {
		return "", err
	}
	path := filepath.Join(runDir, "canvas.png")

	out, err := os.Create(path) // #nosec G304 - path is built from trusted components
	if err != nil {
		return "", fmt.Errorf("create canvas file: %w", err)
	}
	if err := png.Encode(out, framed); err != nil {
		_ = out.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("encode canvas: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("close canvas file: %w", err)
	}

	return path, nil
}

// coversSource reports whether the clip plays the overlay file end to end.
func coversSource(clip compose.TimeRange, sourceDuration float64) bool {
	return clip.Start == 0 &&
		(clip.End >= sourceDuration || compose.WithinTolerance(clip.End, sourceDuration))
}

// cutOverlay materializes the selected sub-range of a moving overlay as
// its own clip inside the run's working directory.
func (s *ComposeService) cutOverlay(ctx context.Context, r *Run, clip compose.TimeRange) (string, error) {
	runDir, err := s.store.RunDir(r.ID)
	if err != nil {
		return "", err
	}
	path := filepath.Join(runDir, "overlay_cut"+filepath.Ext(r.OverlayPath))

	if err := s.encoder.CutClip(ctx, r.OverlayPath, path, clip); err != nil {
		return "", err
	}
	return path, nil
}

// deliver uploads the emitted video to S3 and returns its public URL.
func (s *ComposeService) deliver(ctx context.Context, runID, outputPath string) (string, error) {
	f, err := s.store.Open(ctx, outputPath)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	key := fmt.Sprintf("runs/%s/%s", runID, OutputFilename)
	url, err := s.store.Deliver(ctx, key, f)
	if err != nil {
		return "", fmt.Errorf("deliver output: %w", err)
	}

	s.logger.Info("output delivered",
		slog.String("run_id", runID),
		slog.String("url", url),
	)
	return url, nil
}

// CancelRun cancels an in-flight run, or marks an idle run cancelled.
// Terminal runs are returned unchanged.
func (s *ComposeService) CancelRun(ctx context.Context, runID string) (*Run, error) {
	r, err := s.repo.FindByID(ctx, runID)
	if err != nil {
		return nil, err
	}

	if cancel, ok := s.cancels.Load(runID); ok {
		// The pipeline goroutine observes the cancellation and moves the
		// run to CANCELLED itself.
		cancel.(context.CancelFunc)()
		return r, nil
	}

	if r.IsTerminal() {
		return r, nil
	}
	if err := r.Cancel(); err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, r); err != nil {
		return nil, err
	}
	_ = s.store.CleanupRun(ctx, runID)
	return r, nil
}

// DeleteRun cancels any in-flight processing, removes the run's files,
// and deletes it from the repository.
func (s *ComposeService) DeleteRun(ctx context.Context, runID string) error {
	if cancel, ok := s.cancels.Load(runID); ok {
		cancel.(context.CancelFunc)()
	}

	if err := s.repo.Delete(ctx, runID); err != nil {
		return err
	}
	if err := s.store.CleanupRun(ctx, runID); err != nil {
		s.logger.Warn("failed to clean up run directory",
			slog.String("run_id", runID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}
