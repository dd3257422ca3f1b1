package config

import (
	"bytes"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv() {
	os.Unsetenv("PORT")
	os.Unsetenv("WORK_DIR")
	os.Unsetenv("FFMPEG_PATH")
	os.Unsetenv("FFPROBE_PATH")
	os.Unsetenv("VIDEO_CODEC")
	os.Unsetenv("VIDEO_PRESET")
	os.Unsetenv("VIDEO_CRF")
	os.Unsetenv("AUDIO_CODEC")
	os.Unsetenv("AUDIO_BITRATE_KBPS")
	os.Unsetenv("AUDIO_SAMPLE_RATE")
	os.Unsetenv("AUDIO_CHANNELS")
	os.Unsetenv("MAX_CONCURRENT_RUNS")
	os.Unsetenv("S3_BUCKET")
	os.Unsetenv("S3_REGION")
	os.Unsetenv("S3_ENDPOINT")
	os.Unsetenv("AWS_ACCESS_KEY_ID")
	os.Unsetenv("AWS_SECRET_ACCESS_KEY")
	os.Unsetenv("LOG_FORMAT")
	os.Unsetenv("LOG_LEVEL")
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv()

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "/tmp/clipfuse", cfg.WorkDir)
	assert.Equal(t, "", cfg.FFmpegPath)
	assert.Equal(t, "", cfg.FFprobePath)
	assert.Equal(t, "libx264", cfg.VideoCodec)
	assert.Equal(t, "fast", cfg.VideoPreset)
	assert.Equal(t, 23, cfg.VideoCRF)
	assert.Equal(t, "aac", cfg.AudioCodec)
	assert.Equal(t, 192, cfg.AudioBitrateKbps)
	assert.Equal(t, 44100, cfg.AudioSampleRate)
	assert.Equal(t, 2, cfg.AudioChannels)
	assert.Equal(t, 2, cfg.MaxConcurrentRuns)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv()
	t.Setenv("PORT", "3000")
	t.Setenv("WORK_DIR", "/custom/work")
	t.Setenv("FFMPEG_PATH", "/opt/ffmpeg/bin/ffmpeg")
	t.Setenv("FFPROBE_PATH", "/opt/ffmpeg/bin/ffprobe")
	t.Setenv("VIDEO_PRESET", "slow")
	t.Setenv("VIDEO_CRF", "18")
	t.Setenv("MAX_CONCURRENT_RUNS", "4")
	t.Setenv("S3_BUCKET", "my-bucket")
	t.Setenv("S3_REGION", "us-east-1")
	t.Setenv("S3_ENDPOINT", "http://localhost:9000")
	t.Setenv("AWS_ACCESS_KEY_ID", "access-key")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "secret-key")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, "/custom/work", cfg.WorkDir)
	assert.Equal(t, "/opt/ffmpeg/bin/ffmpeg", cfg.FFmpegPath)
	assert.Equal(t, "/opt/ffmpeg/bin/ffprobe", cfg.FFprobePath)
	assert.Equal(t, "slow", cfg.VideoPreset)
	assert.Equal(t, 18, cfg.VideoCRF)
	assert.Equal(t, 4, cfg.MaxConcurrentRuns)
	assert.Equal(t, "my-bucket", cfg.S3Bucket)
	assert.Equal(t, "us-east-1", cfg.S3Region)
	assert.Equal(t, "http://localhost:9000", cfg.S3Endpoint)
	assert.Equal(t, "access-key", cfg.AWSAccessKeyID)
	assert.Equal(t, "secret-key", cfg.AWSSecretAccessKey)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_InvalidIntegers(t *testing.T) {
	clearEnv()
	t.Setenv("PORT", "not-a-number")
	t.Setenv("VIDEO_CRF", "invalid")

	// go-envconfig returns an error when parsing fails
	_, err := Load()
	require.Error(t, err)
}

func TestConfig_S3Enabled(t *testing.T) {
	tests := []struct {
		name     string
		bucket   string
		region   string
		expected bool
	}{
		{"both set", "bucket", "region", true},
		{"only bucket", "bucket", "", false},
		{"only region", "", "region", false},
		{"neither set", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				S3Bucket: tt.bucket,
				S3Region: tt.region,
			}
			assert.Equal(t, tt.expected, cfg.S3Enabled())
		})
	}
}

func TestConfig_EncodeSettings(t *testing.T) {
	cfg := &Config{
		VideoCodec:       "libx265",
		VideoPreset:      "medium",
		VideoCRF:         20,
		AudioCodec:       "aac",
		AudioBitrateKbps: 256,
		AudioSampleRate:  48000,
		AudioChannels:    2,
	}

	settings := cfg.EncodeSettings()

	assert.Equal(t, "libx265", settings.VideoCodec)
	assert.Equal(t, "medium", settings.Preset)
	assert.Equal(t, 20, settings.CRF)
	assert.Equal(t, "aac", settings.AudioCodec)
	assert.Equal(t, 256, settings.AudioBitrateKbps)
	assert.Equal(t, 48000, settings.SampleRate)
	assert.Equal(t, 2, settings.Channels)
}

func TestConfig_String(t *testing.T) {
	cfg := &Config{
		Port:               8080,
		WorkDir:            "/tmp/test",
		VideoCodec:         "libx264",
		MaxConcurrentRuns:  2,
		S3Bucket:           "bucket",
		S3Region:           "region",
		AWSAccessKeyID:     "access-key-id",
		AWSSecretAccessKey: "super-secret",
		LogFormat:          "json",
		LogLevel:           "info",
	}

	str := cfg.String()

	// Should contain non-sensitive values
	assert.Contains(t, str, "8080")
	assert.Contains(t, str, "/tmp/test")
	assert.Contains(t, str, "bucket")

	// Should NOT contain sensitive values
	assert.NotContains(t, str, "access-key-id")
	assert.NotContains(t, str, "super-secret")
}

func TestConfig_NewLogger_JSON(t *testing.T) {
	cfg := &Config{
		LogFormat: "json",
		LogLevel:  "info",
	}

	logger := cfg.NewLogger()
	require.NotNil(t, logger)

	// Capture output to verify it's JSON
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, nil)
	testLogger := slog.New(handler)
	testLogger.Info("test message")

	// Should have JSON structure
	assert.Contains(t, buf.String(), `"msg"`)
	assert.Contains(t, buf.String(), "test message")
}

func TestConfig_NewLogger_Text(t *testing.T) {
	cfg := &Config{
		LogFormat: "text",
		LogLevel:  "debug",
	}

	logger := cfg.NewLogger()
	require.NotNil(t, logger)
	// Just verify it returns a valid logger
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"unknown", slog.LevelInfo}, // defaults to info
		{"", slog.LevelInfo},        // defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLogLevel(tt.input))
		})
	}
}
