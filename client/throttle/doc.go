// Package throttle provides an [http.RoundTripper] that rate-limits the
// transfers a session starts, using the token bucket from
// [golang.org/x/time/rate].
//
//	rt, err := throttle.New(
//		throttle.Config{RPS: 10, Burst: 5},
//		func() *slog.Logger { return slog.Default() },
//		http.DefaultTransport,
//	)
//
// A request that exceeds the limit waits for a token until its context ends.
// Cancelling a stream therefore also releases a transfer still queued here.
package throttle
