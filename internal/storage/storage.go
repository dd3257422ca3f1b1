// Package storage provides working-directory and delivery storage for
// composition runs. It defines the Storage port and implementations for
// local disk and S3-backed delivery.
package storage

import (
	"context"
	"io"
)

// Storage manages the files of a composition run: the uploaded sources
// and intermediates live in a per-run working directory, the finished
// video can optionally be delivered to S3.
type Storage interface {
	// SaveInput writes data into the run's working directory under the
	// given filename and returns the full path. The filename's extension
	// is preserved so downstream tools can detect the container format.
	SaveInput(ctx context.Context, runID, filename string, data io.Reader) (path string, err error)

	// RunDir returns the run's working directory, creating it if needed.
	RunDir(runID string) (string, error)

	// Open reads a file from the run's working directory.
	// The caller is responsible for closing the returned ReadCloser.
	Open(ctx context.Context, path string) (io.ReadCloser, error)

	// CleanupRun removes the run's entire working directory.
	CleanupRun(ctx context.Context, runID string) error

	// Deliver uploads the finished video and returns its public URL.
	// Returns ErrS3NotConfigured when no delivery target is configured.
	Deliver(ctx context.Context, key string, data io.Reader) (url string, err error)
}
