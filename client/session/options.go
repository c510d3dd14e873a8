package session

import (
	"errors"
	"log/slog"
)

// Option configures a [Session].
type Option func(*options) error

type options struct {
	chunkSize int
	logger    *slog.Logger
}

// WithChunkSize sets the maximum size of each chunk passed to OnData.
func WithChunkSize(n int) Option {
	return func(opts *options) error {
		if n <= 0 {
			return errors.New("chunk size must be greater than zero")
		}
		opts.chunkSize = n
		return nil
	}
}

// WithLogger injects a custom [slog.Logger].
func WithLogger(logger *slog.Logger) Option {
	return func(opts *options) error {
		if logger == nil {
			return errors.New("logger must not be nil")
		}
		opts.logger = logger
		return nil
	}
}
