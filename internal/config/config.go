// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sethvargo/go-envconfig"

	"github.com/maauso/clipfuse/internal/media"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port int `env:"PORT, default=8080" json:"port"`

	// Storage settings
	WorkDir string `env:"WORK_DIR, default=/tmp/clipfuse" json:"work_dir"`

	// Tool paths; empty means lookup via PATH.
	FFmpegPath  string `env:"FFMPEG_PATH" json:"ffmpeg_path,omitempty"`
	FFprobePath string `env:"FFPROBE_PATH" json:"ffprobe_path,omitempty"`

	// Encoding settings
	VideoCodec       string `env:"VIDEO_CODEC, default=libx264" json:"video_codec"`
	VideoPreset      string `env:"VIDEO_PRESET, default=fast" json:"video_preset"`
	VideoCRF         int    `env:"VIDEO_CRF, default=23" json:"video_crf"`
	AudioCodec       string `env:"AUDIO_CODEC, default=aac" json:"audio_codec"`
	AudioBitrateKbps int    `env:"AUDIO_BITRATE_KBPS, default=192" json:"audio_bitrate_kbps"`
	AudioSampleRate  int    `env:"AUDIO_SAMPLE_RATE, default=44100" json:"audio_sample_rate"`
	AudioChannels    int    `env:"AUDIO_CHANNELS, default=2" json:"audio_channels"`

	// Processing settings
	MaxConcurrentRuns int `env:"MAX_CONCURRENT_RUNS, default=2" json:"max_concurrent_runs"`

	// Optional S3 delivery settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 delivery configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// EncodeSettings converts the encoding configuration into the encoder's
// settings type.
func (c *Config) EncodeSettings() media.EncodeSettings {
	return media.EncodeSettings{
		VideoCodec:       c.VideoCodec,
		Preset:           c.VideoPreset,
		CRF:              c.VideoCRF,
		AudioCodec:       c.AudioCodec,
		AudioBitrateKbps: c.AudioBitrateKbps,
		SampleRate:       c.AudioSampleRate,
		Channels:         c.AudioChannels,
	}
}

// Load reads configuration from environment variables using go-envconfig.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, WorkDir: %s, VideoCodec: %s, MaxConcurrentRuns: %d, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.WorkDir,
		c.VideoCodec,
		c.MaxConcurrentRuns,
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
