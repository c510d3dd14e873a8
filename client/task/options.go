package task

import (
	"errors"
	"log/slog"

	"github.com/adamwoolhether/httpstream/client/cache"
)

// Option configures a [Task].
type Option func(*options) error

type options struct {
	provider   cache.Provider
	retain     bool
	logger     *slog.Logger
	onTerminal func(id string)
}

// WithCacheProvider writes every received chunk through to p, in order.
func WithCacheProvider(p cache.Provider) Option {
	return func(opts *options) error {
		if p == nil {
			return errors.New("cache provider must not be nil")
		}
		opts.provider = p
		return nil
	}
}

// WithRetainInMemory controls whether received bytes are also buffered so
// that EventSuccess carries the full payload. It defaults to true and is
// ignored without a cache provider, in which case bytes are always retained.
func WithRetainInMemory(retain bool) Option {
	return func(opts *options) error {
		opts.retain = retain
		return nil
	}
}

// WithLogger injects a custom [slog.Logger] into the task.
func WithLogger(logger *slog.Logger) Option {
	return func(opts *options) error {
		if logger == nil {
			return errors.New("logger must not be nil")
		}
		opts.logger = logger
		return nil
	}
}

// WithOnTerminal registers fn to be called once, outside the task's lock,
// after the task reached a terminal state.
func WithOnTerminal(fn func(id string)) Option {
	return func(opts *options) error {
		opts.onTerminal = fn
		return nil
	}
}
