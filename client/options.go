package client

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/adamwoolhether/httpstream/client/cache"
	"github.com/adamwoolhether/httpstream/client/throttle"
)

// Option is a functional option for configuring a [Client] via [Build].
type Option func(*options) error
type options struct {
	client            *http.Client
	rt                http.RoundTripper
	timeout           *time.Duration
	userAgent         string
	throttle          *throttle.Config
	noFollowRedirects bool
	logger            *slog.Logger
	chunkSize         int
	tracerProvider    trace.TracerProvider
	progress          bool
}

// WithClient replaces the default [http.Client] used by the [Client].
func WithClient(hc *http.Client) Option {
	return func(c *options) error {
		if hc == nil {
			return errors.New("client must not be nil")
		}
		c.client = hc
		return nil
	}
}

// WithTransport sets a custom [http.RoundTripper] as the base transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *options) error {
		if rt == nil {
			return errors.New("transport must not be nil")
		}
		c.rt = rt
		return nil
	}
}

// WithTimeout bounds each transfer, body included, via the underlying
// [http.Client]. Zero means no timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *options) error {
		if d < 0 {
			return errors.New("timeout must not be negative")
		}
		c.timeout = &d
		return nil
	}
}

// WithUserAgent adds a persistent User-Agent header to all outgoing requests.
func WithUserAgent(header string) Option {
	return func(c *options) error {
		c.userAgent = header
		return nil
	}
}

// WithThrottle limits how fast transfers are started, using a token bucket
// with the given requests per second and burst capacity.
func WithThrottle(rps, burst int) Option {
	return func(c *options) error {
		cfg := throttle.Config{RPS: rps, Burst: burst}
		if err := cfg.Validate(); err != nil {
			return err
		}
		c.throttle = &cfg
		return nil
	}
}

// WithNoFollowRedirects prevents the [Client] from following HTTP redirects.
func WithNoFollowRedirects() Option {
	return func(c *options) error {
		c.noFollowRedirects = true
		return nil
	}
}

// WithLogger injects a custom [slog.Logger] into the [Client], its session
// and every task it creates.
func WithLogger(logger *slog.Logger) Option {
	return func(c *options) error {
		c.logger = logger
		return nil
	}
}

// WithChunkSize caps the size of the chunks carried by data events.
func WithChunkSize(n int) Option {
	return func(c *options) error {
		if n <= 0 {
			return errors.New("chunk size must be greater than zero")
		}
		c.chunkSize = n
		return nil
	}
}

// WithTracerProvider records one span per task with tp. Trace context is
// propagated on outgoing requests through the global propagator.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *options) error {
		if tp == nil {
			return errors.New("tracer provider must not be nil")
		}
		c.tracerProvider = tp
		return nil
	}
}

// WithProgressLogging logs the throughput of every task at most once per
// second, and once more when it finishes.
func WithProgressLogging() Option {
	return func(c *options) error {
		c.progress = true
		return nil
	}
}

// userAgent is an http.RoundTripper, enabling the persistent User-Agent header.
type userAgent struct {
	value string
	base  http.RoundTripper
}

func (ua userAgent) RoundTrip(r *http.Request) (*http.Response, error) {
	cpy := r.Clone(r.Context())
	cpy.Header.Set("User-Agent", ua.value)
	return ua.base.RoundTrip(cpy)
}

// RequestOption configures a stream created by [Client.Request].
type RequestOption func(*requestOpts) error

type requestOpts struct {
	taskID string
	retain *bool
}

// WithTaskID uses id instead of a random UUID as the task identity.
func WithTaskID(id string) RequestOption {
	return func(opts *requestOpts) error {
		if id == "" {
			return errors.New("task id must not be empty")
		}
		opts.taskID = id
		return nil
	}
}

// WithRetainInMemory controls whether the success event carries the full
// payload when a cache provider is used. It defaults to true.
func WithRetainInMemory(retain bool) RequestOption {
	return func(opts *requestOpts) error {
		opts.retain = &retain
		return nil
	}
}

// LoadOption configures [Client.LoadData].
type LoadOption func(*loadOpts) error

type loadOpts struct {
	expCode  int
	provider cache.Provider
}

// WithExpectedStatus makes LoadData fail with an [UnexpectedStatusError]
// when the response status differs from code.
func WithExpectedStatus(code int) LoadOption {
	return func(opts *loadOpts) error {
		if code < 100 || code > 999 {
			return fmt.Errorf("invalid status code %d", code)
		}
		opts.expCode = code
		return nil
	}
}

// WithCache writes the loaded bytes through to p as they arrive.
func WithCache(p cache.Provider) LoadOption {
	return func(opts *loadOpts) error {
		if p == nil {
			return errors.New("cache provider must not be nil")
		}
		opts.provider = p
		return nil
	}
}
