package media

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/maauso/clipfuse/internal/compose"
)

// EncodeSettings holds the output container parameters. The frame rate is
// fixed by the composition core and not configurable here.
type EncodeSettings struct {
	// VideoCodec is the output video codec. Defaults to libx264.
	VideoCodec string
	// Preset is the x264 speed preset. Only applied for libx264.
	Preset string
	// CRF is the constant rate factor; negative disables the flag.
	CRF int
	// AudioCodec is the output audio codec. Defaults to aac.
	AudioCodec string
	// AudioBitrateKbps is the target audio bitrate.
	AudioBitrateKbps int
	// SampleRate is the output audio sample rate.
	SampleRate int
	// Channels is the output audio channel count.
	Channels int
}

// DefaultEncodeSettings returns the settings used when none are configured.
func DefaultEncodeSettings() EncodeSettings {
	return EncodeSettings{
		VideoCodec:       "libx264",
		Preset:           "fast",
		CRF:              23,
		AudioCodec:       "aac",
		AudioBitrateKbps: 192,
		SampleRate:       44100,
		Channels:         2,
	}
}

// Encoder serializes a composed output to an encoded container.
type Encoder interface {
	// Encode writes the composition to dstPath. The file only appears
	// under its final name once encoding succeeded; an aborted encode
	// never leaves a complete-looking output behind.
	Encode(ctx context.Context, out compose.CompositedOutput, dstPath string) error

	// CutClip extracts the range r from src into dst, preferring stream
	// copy and falling back to a re-encode. Used to materialize a
	// user-selected sub-range of a moving overlay before looping it.
	CutClip(ctx context.Context, src, dst string, r compose.TimeRange) error
}

// Compile-time check that FFmpegEncoder implements Encoder.
var _ Encoder = (*FFmpegEncoder)(nil)

// FFmpegEncoder implements Encoder using the ffmpeg CLI.
type FFmpegEncoder struct {
	// ffmpegPath is the path to the ffmpeg binary. Defaults to "ffmpeg".
	ffmpegPath string
	settings   EncodeSettings
}

// NewFFmpegEncoder creates a new FFmpegEncoder.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found via PATH).
func NewFFmpegEncoder(ffmpegPath string, settings EncodeSettings) *FFmpegEncoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if settings.VideoCodec == "" {
		settings.VideoCodec = "libx264"
	}
	if settings.AudioCodec == "" {
		settings.AudioCodec = "aac"
	}
	return &FFmpegEncoder{ffmpegPath: ffmpegPath, settings: settings}
}

// Encode implements Encoder. The output is written to a .partial sibling
// and renamed into place only on success.
func (e *FFmpegEncoder) Encode(ctx context.Context, out compose.CompositedOutput, dstPath string) error {
	partial := partialPath(dstPath)

	args, err := BuildEncodeArgs(out, partial, e.settings)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dstPath), 0750); err != nil {
		return fmt.Errorf("prepare output dir: %w", err)
	}

	if err := e.runFFmpeg(ctx, args); err != nil {
		_ = os.Remove(partial)
		return fmt.Errorf("%w: %w", compose.ErrEncodingFailed, err)
	}

	if err := os.Rename(partial, dstPath); err != nil {
		_ = os.Remove(partial)
		return fmt.Errorf("%w: finalize output: %w", compose.ErrEncodingFailed, err)
	}
	return nil
}

// partialPath derives the in-progress name for dst, keeping the extension
// so ffmpeg still recognises the container format.
func partialPath(dst string) string {
	ext := filepath.Ext(dst)
	return strings.TrimSuffix(dst, ext) + ".partial" + ext
}

// BuildEncodeArgs assembles the full ffmpeg invocation for a composed
// output. Exported so the argument construction can be tested without
// running ffmpeg.
func BuildEncodeArgs(out compose.CompositedOutput, dstPath string, s EncodeSettings) ([]string, error) {
	if out.OverlayPath == "" {
		return nil, fmt.Errorf("overlay path is empty")
	}
	if out.Audio.Path == "" {
		return nil, fmt.Errorf("audio path is empty")
	}
	if out.Duration <= 0 {
		return nil, fmt.Errorf("%w: output duration %g", compose.ErrInvalidRange, out.Duration)
	}

	args := []string{"-hide_banner", "-y"}

	var filters []string
	plan := out.Plan

	switch plan.Kind {
	case compose.OverlayMoving:
		if plan.Loops > 1 {
			// Looped overlays must be pre-cut so the whole input wraps;
			// -stream_loop cannot repeat a sub-range of its input.
			if plan.Clip.Start != 0 {
				return nil, fmt.Errorf("%w: looped overlay clip starts at %g", compose.ErrInternalInvariant, plan.Clip.Start)
			}
			if plan.SourceDuration > plan.Clip.End && !compose.WithinTolerance(plan.SourceDuration, plan.Clip.End) {
				return nil, fmt.Errorf("%w: looped overlay clip ends at %g of a %gs file", compose.ErrInternalInvariant, plan.Clip.End, plan.SourceDuration)
			}
			args = append(args, "-stream_loop", strconv.Itoa(plan.Loops-1))
		} else {
			if plan.Clip.Start > 0 {
				args = append(args, "-ss", formatSeconds(plan.Clip.Start))
			}
			args = append(args, "-t", formatSeconds(plan.Clip.Duration()))
		}
		args = append(args, "-i", out.OverlayPath)

		if out.Target != nil {
			filters = append(filters, letterboxFilters(*out.Target)...)
		} else {
			// Native geometry still has to satisfy the even-dimension
			// encoder constraint.
			filters = append(filters, "scale=w=trunc(iw/2)*2:h=trunc(ih/2)*2:flags=lanczos")
		}
		filters = append(filters, "setsar=1", fmt.Sprintf("fps=%d", out.FrameRate))

	case compose.OverlayStill:
		// The still arrives pre-letterboxed to its canvas; only the
		// timeline needs expanding here.
		args = append(args,
			"-loop", "1",
			"-framerate", strconv.Itoa(out.FrameRate),
			"-t", formatSeconds(plan.Hold),
			"-i", out.OverlayPath,
		)
		filters = append(filters, fmt.Sprintf("fps=%d", out.FrameRate))
		if plan.BlackTail > 0 {
			filters = append(filters, fmt.Sprintf(
				"tpad=stop_mode=add:stop_duration=%s:color=%s",
				formatSeconds(plan.BlackTail), compose.FillColor,
			))
		}

	default:
		return nil, fmt.Errorf("%w: overlay kind %q", compose.ErrInvalidRange, plan.Kind)
	}

	// Audio input: seek and cut at the input level, duration enforced
	// again on the output.
	if out.Audio.Cut.Start > 0 {
		args = append(args, "-ss", formatSeconds(out.Audio.Cut.Start))
	}
	args = append(args,
		"-t", formatSeconds(out.Duration),
		"-i", out.Audio.Path,
	)

	args = append(args,
		"-filter_complex", "[0:v]"+strings.Join(filters, ",")+"[v]",
		"-map", "[v]",
		"-map", "1:a",
		"-t", formatSeconds(out.Duration),
	)

	args = append(args, "-c:v", s.VideoCodec)
	if s.Preset != "" && s.VideoCodec == "libx264" {
		args = append(args, "-preset", s.Preset)
	}
	if s.CRF >= 0 {
		args = append(args, "-crf", strconv.Itoa(s.CRF))
	}
	args = append(args, "-pix_fmt", "yuv420p")

	args = append(args, "-c:a", s.AudioCodec)
	if s.AudioBitrateKbps > 0 {
		args = append(args, "-b:a", fmt.Sprintf("%dk", s.AudioBitrateKbps))
	}
	if s.SampleRate > 0 {
		args = append(args, "-ar", strconv.Itoa(s.SampleRate))
	}
	if s.Channels > 0 {
		args = append(args, "-ac", strconv.Itoa(s.Channels))
	}

	args = append(args, "-movflags", "+faststart", dstPath)
	return args, nil
}

// letterboxFilters builds the scale+pad chain that fits a frame inside
// the target canvas, preserving aspect ratio, centered on black.
func letterboxFilters(g compose.Geometry) []string {
	return []string{
		fmt.Sprintf("scale=w=%d:h=%d:force_original_aspect_ratio=decrease:flags=lanczos", g.Width, g.Height),
		fmt.Sprintf("pad=w=%d:h=%d:x=(ow-iw)/2:y=(oh-ih)/2:color=%s", g.Width, g.Height, compose.FillColor),
	}
}

// CutClip implements Encoder. It tries a stream copy first and falls back
// to a re-encode when the cut cannot be made on codec boundaries.
func (e *FFmpegEncoder) CutClip(ctx context.Context, src, dst string, r compose.TimeRange) error {
	if err := r.Validate(0); err != nil {
		return err
	}

	copyArgs := []string{
		"-hide_banner", "-y",
		"-ss", formatSeconds(r.Start),
		"-i", src,
		"-t", formatSeconds(r.Duration()),
		"-c", "copy",
		dst,
	}
	if err := e.runFFmpeg(ctx, copyArgs); err == nil {
		return nil
	}

	reencodeArgs := []string{
		"-hide_banner", "-y",
		"-ss", formatSeconds(r.Start),
		"-i", src,
		"-t", formatSeconds(r.Duration()),
		"-c:v", "libx264",
		"-preset", "fast",
		"-crf", "23",
		"-an",
		dst,
	}
	if err := e.runFFmpeg(ctx, reencodeArgs); err != nil {
		return fmt.Errorf("cut clip: %w", err)
	}
	return nil
}

// runFFmpeg executes ffmpeg with the given arguments and returns an error
// containing stderr output if the command fails.
func (e *FFmpegEncoder) runFFmpeg(ctx context.Context, args []string) error {
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return &FFmpegError{
			Args:   args,
			Stderr: stderr.String(),
			Err:    err,
		}
	}
	return nil
}

// formatSeconds renders a duration without trailing zeros, the way
// ffmpeg expects fractional seconds.
func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// FFmpegError represents an error from running ffmpeg, including the
// stderr output.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}
