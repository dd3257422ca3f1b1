// Package media provides the ffmpeg/ffprobe collaborators around the
// composition core: probing source files and encoding composed output.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"

	"github.com/maauso/clipfuse/internal/compose"
)

// Info describes a probed media file.
type Info struct {
	// Duration is the container duration in seconds. Zero for images.
	Duration float64
	// Width and Height are the frame dimensions of the first video
	// stream, if any. Still images report their pixel size here.
	Width  int
	Height int
	// HasAudio reports whether the file carries at least one audio stream.
	HasAudio bool
	// HasVideo reports whether the file carries at least one video or
	// image stream.
	HasVideo bool
}

// Prober inspects a media file and returns its basic properties.
type Prober interface {
	// Probe returns the file's duration, frame size, and stream kinds.
	// Files that cannot be decoded surface compose.ErrUnreadableMedia.
	Probe(ctx context.Context, path string) (Info, error)
}

// FFprobe implements Prober using the ffprobe CLI.
type FFprobe struct {
	// ffprobePath is the path to the ffprobe binary. Defaults to "ffprobe".
	ffprobePath string
}

// NewFFprobe creates a new FFprobe.
// If ffprobePath is empty, it defaults to "ffprobe" (found via PATH).
func NewFFprobe(ffprobePath string) *FFprobe {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFprobe{ffprobePath: ffprobePath}
}

// ffprobeOutput mirrors the JSON shape of `ffprobe -print_format json`.
type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
}

// Probe implements Prober.
func (p *FFprobe) Probe(ctx context.Context, path string) (Info, error) {
	// #nosec G204 - ffprobePath is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "error",
		"-show_format",
		"-show_streams",
		"-print_format", "json",
		path,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return Info{}, fmt.Errorf("probe cancelled: %w", ctx.Err())
		}
		return Info{}, fmt.Errorf("probe %s: %w: %s", path, compose.ErrUnreadableMedia, stderr.String())
	}

	var parsed ffprobeOutput
	if err := json.Unmarshal(stdout.Bytes(), &parsed); err != nil {
		return Info{}, fmt.Errorf("probe %s: %w: decode ffprobe output: %v", path, compose.ErrUnreadableMedia, err)
	}
	if len(parsed.Streams) == 0 {
		return Info{}, fmt.Errorf("probe %s: %w: no streams", path, compose.ErrUnreadableMedia)
	}

	info := Info{}
	if parsed.Format.Duration != "" {
		if v, err := strconv.ParseFloat(parsed.Format.Duration, 64); err == nil {
			info.Duration = v
		}
	}
	for _, s := range parsed.Streams {
		switch s.CodecType {
		case "audio":
			info.HasAudio = true
		case "video":
			if !info.HasVideo {
				info.Width = s.Width
				info.Height = s.Height
			}
			info.HasVideo = true
		}
	}
	return info, nil
}
