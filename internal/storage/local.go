package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrS3NotConfigured is returned when delivery is attempted without an
// S3 configuration.
var ErrS3NotConfigured = errors.New("S3 storage is not configured")

// LocalStorage implements the Storage interface using local disk.
// Each run gets its own subdirectory under the base directory, so a
// single cleanup call removes everything the run produced.
type LocalStorage struct {
	baseDir string
}

// NewLocalStorage creates a new LocalStorage instance.
// If baseDir is empty, a directory under os.TempDir() is used.
// The directory is created if it doesn't exist.
func NewLocalStorage(baseDir string) (*LocalStorage, error) {
	if baseDir == "" {
		baseDir = filepath.Join(os.TempDir(), "clipfuse")
	}

	if err := os.MkdirAll(baseDir, 0750); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}

	return &LocalStorage{baseDir: baseDir}, nil
}

// BaseDir returns the base directory path.
func (s *LocalStorage) BaseDir() string {
	return s.baseDir
}

// RunDir returns the run's working directory, creating it if needed.
func (s *LocalStorage) RunDir(runID string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is empty")
	}

	dir := filepath.Join(s.baseDir, filepath.Base(runID))
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("create run directory: %w", err)
	}
	return dir, nil
}

// SaveInput writes data into the run's working directory under the given
// filename and returns the full path.
func (s *LocalStorage) SaveInput(ctx context.Context, runID, filename string, data io.Reader) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	if filename == "" {
		return "", fmt.Errorf("filename is empty")
	}

	dir, err := s.RunDir(runID)
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, filepath.Base(filename))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0640) // #nosec G304 - path is built from trusted components
	if err != nil {
		return "", fmt.Errorf("create input file: %w", err)
	}

	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("write input file: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("close input file: %w", err)
	}

	return path, nil
}

// Open reads a file from the run's working directory.
// The caller is responsible for closing the returned ReadCloser.
func (s *LocalStorage) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	f, err := os.Open(path) // #nosec G304 - path is provided by trusted caller
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	return f, nil
}

// CleanupRun removes the run's entire working directory.
func (s *LocalStorage) CleanupRun(ctx context.Context, runID string) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	if runID == "" {
		return fmt.Errorf("run id is empty")
	}

	dir := filepath.Join(s.baseDir, filepath.Base(runID))
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove run directory %s: %w", dir, err)
	}
	return nil
}

// Deliver is not supported by LocalStorage and returns ErrS3NotConfigured.
func (s *LocalStorage) Deliver(_ context.Context, _ string, _ io.Reader) (string, error) {
	return "", ErrS3NotConfigured
}
