// Package audio conditions background audio tracks before composition.
// Containers that ffprobe reports unreliable durations for are re-encoded
// to PCM WAV so the timeline reconciliation works from an exact length.
package audio

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
)

// Normalizer prepares an audio file for duration-accurate processing.
type Normalizer interface {
	// Normalize returns the path to use in place of src. When src already
	// carries a reliable duration it is returned unchanged; otherwise a
	// WAV transcode is written next to it and its path returned.
	// Normalization is best effort: a failed transcode falls back to src.
	Normalize(ctx context.Context, src string) (string, error)
}

// Compile-time check that FFmpegNormalizer implements Normalizer.
var _ Normalizer = (*FFmpegNormalizer)(nil)

// unreliableExtensions lists container formats whose header duration is
// commonly estimated rather than exact (VBR without index, streaming
// containers). These get transcoded before probing.
var unreliableExtensions = map[string]struct{}{
	".aac":  {},
	".amr":  {},
	".m4a":  {},
	".opus": {},
	".wma":  {},
}

// FFmpegNormalizer implements Normalizer using the ffmpeg CLI.
type FFmpegNormalizer struct {
	ffmpegPath string
	logger     *slog.Logger
}

// NewFFmpegNormalizer creates a new FFmpegNormalizer.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found via PATH).
func NewFFmpegNormalizer(ffmpegPath string, logger *slog.Logger) *FFmpegNormalizer {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpegNormalizer{ffmpegPath: ffmpegPath, logger: logger}
}

// Normalize implements Normalizer.
func (n *FFmpegNormalizer) Normalize(ctx context.Context, src string) (string, error) {
	if !NeedsNormalization(src) {
		return src, nil
	}

	dst := wavSibling(src)
	if err := n.transcode(ctx, src, dst); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("normalize cancelled: %w", ctx.Err())
		}
		// The source may still decode fine; let the probe decide.
		n.logger.Warn("audio normalization failed, using source as-is",
			"src", src,
			"error", err,
		)
		return src, nil
	}

	n.logger.Debug("audio normalized to wav", "src", src, "dst", dst)
	return dst, nil
}

// NeedsNormalization reports whether the file's container format calls
// for a WAV transcode before its duration can be trusted.
func NeedsNormalization(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	_, ok := unreliableExtensions[ext]
	return ok
}

// wavSibling derives the transcode target path next to src.
func wavSibling(src string) string {
	ext := filepath.Ext(src)
	return strings.TrimSuffix(src, ext) + ".normalized.wav"
}

func (n *FFmpegNormalizer) transcode(ctx context.Context, src, dst string) error {
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, n.ffmpegPath,
		"-hide_banner",
		"-y",
		"-i", src,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", "44100",
		"-ac", "2",
		dst,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg error: %w, stderr: %s", err, stderr.String())
	}
	return nil
}
