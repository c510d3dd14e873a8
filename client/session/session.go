// Package session runs HTTP transfers on a shared [http.Client] and reports
// their progress as callbacks keyed by an opaque [Handle].
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
)

// defaultChunkSize is the read size used for response bodies.
const defaultChunkSize = 32 << 10 // 32KB

// maxRedirects matches the net/http default policy.
const maxRedirects = 10

var (
	// ErrCancelled is reported to OnComplete when an operation was cancelled
	// through [Session.Cancel] or by a Cancel disposition.
	ErrCancelled = errors.New("operation cancelled")
	// ErrInvalidated is reported when the session was torn down while the
	// operation was pending or in flight.
	ErrInvalidated = errors.New("session invalidated")
	// ErrUnknownHandle is returned by Resume for handles the session never issued
	// or already finished.
	ErrUnknownHandle = errors.New("unknown handle")
)

// Handle identifies a single data operation within a Session.
type Handle uint64

// Disposition tells the session whether to continue after a response arrived.
type Disposition int

const (
	Allow Disposition = iota
	Cancel
)

func (d Disposition) String() string {
	switch d {
	case Allow:
		return "allow"
	case Cancel:
		return "cancel"
	default:
		return fmt.Sprintf("Disposition(%d)", int(d))
	}
}

// Delegate receives the callbacks of every operation in a Session.
// Callbacks for one handle are delivered sequentially, in order, from the
// goroutine running that operation. OnComplete is called exactly once per
// handle and nothing follows it.
type Delegate interface {
	OnResponse(h Handle, resp *Response) Disposition
	OnData(h Handle, chunk []byte)
	OnRedirect(h Handle, resp *Response, next *http.Request)
	OnComplete(h Handle, err error)
}

type handleKey struct{}

// operation is one request bound to a handle.
type operation struct {
	handle  Handle
	req     *http.Request
	ctx     context.Context
	cancel  context.CancelCauseFunc
	started bool
}

// Session owns an [http.Client] and the set of operations created from it.
type Session struct {
	hc        *http.Client
	delegate  Delegate
	logger    *slog.Logger
	chunkSize int

	next atomic.Uint64
	wg   sync.WaitGroup

	mu          sync.Mutex
	ops         map[Handle]*operation
	invalidated bool
	once        sync.Once
}

// New creates a Session around a copy of hc. The copy's CheckRedirect is
// wrapped so redirects are reported to d before hc's own policy runs.
func New(hc *http.Client, d Delegate, optFns ...Option) (*Session, error) {
	if hc == nil {
		return nil, errors.New("http client must not be nil")
	}
	if d == nil {
		return nil, errors.New("delegate must not be nil")
	}

	opts := options{chunkSize: defaultChunkSize, logger: slog.Default()}
	for _, opt := range optFns {
		if err := opt(&opts); err != nil {
			return nil, fmt.Errorf("applying session option: %w", err)
		}
	}

	s := &Session{
		delegate:  d,
		logger:    opts.logger,
		chunkSize: opts.chunkSize,
		ops:       make(map[Handle]*operation),
	}

	cpy := *hc
	policy := hc.CheckRedirect
	cpy.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if h, ok := req.Context().Value(handleKey{}).(Handle); ok {
			s.delegate.OnRedirect(h, newResponse(req.Response), req)
		}
		if policy != nil {
			return policy(req, via)
		}
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		return nil
	}
	s.hc = &cpy

	return s, nil
}

// CreateDataOperation registers req and returns its handle. Nothing is sent
// until Resume is called.
func (s *Session) CreateDataOperation(req *http.Request) Handle {
	h := Handle(s.next.Add(1))

	ctx, cancel := context.WithCancelCause(req.Context())
	ctx = context.WithValue(ctx, handleKey{}, h)

	op := &operation{
		handle: h,
		req:    req,
		ctx:    ctx,
		cancel: cancel,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.invalidated {
		cancel(ErrInvalidated)
		return h
	}
	s.ops[h] = op

	return h
}

// Resume starts the operation for h. Resuming a running operation is a no-op.
func (s *Session) Resume(h Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.invalidated {
		return ErrInvalidated
	}

	op, ok := s.ops[h]
	if !ok {
		return fmt.Errorf("resume %d: %w", h, ErrUnknownHandle)
	}
	if op.started {
		return nil
	}
	op.started = true

	s.wg.Add(1)
	go s.run(op)

	return nil
}

// Cancel requests cancellation of h. An operation that was never resumed is
// completed immediately with ErrCancelled; a running one completes once its
// goroutine observes the cancellation.
func (s *Session) Cancel(h Handle) {
	s.abort(h, ErrCancelled)
}

// InvalidateAndCancelAll cancels every pending and running operation, refuses
// new ones and waits for running operations to report completion. Only the
// first call has any effect.
func (s *Session) InvalidateAndCancelAll() {
	s.once.Do(func() {
		s.mu.Lock()
		s.invalidated = true
		handles := make([]Handle, 0, len(s.ops))
		for h := range s.ops {
			handles = append(handles, h)
		}
		s.mu.Unlock()

		for _, h := range handles {
			s.abort(h, ErrInvalidated)
		}

		s.wg.Wait()
		s.hc.CloseIdleConnections()
		s.logger.Debug("session invalidated", "cancelled", len(handles))
	})
}

// Len reports the number of operations that have not completed yet.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.ops)
}

func (s *Session) abort(h Handle, cause error) {
	s.mu.Lock()
	op, ok := s.ops[h]
	if !ok {
		s.mu.Unlock()
		return
	}

	running := op.started
	if !running {
		op.started = true
		delete(s.ops, h)
	}
	s.mu.Unlock()

	op.cancel(cause)
	if !running {
		s.delegate.OnComplete(h, cause)
	}
}

func (s *Session) run(op *operation) {
	defer s.wg.Done()

	err := s.transfer(op)

	s.mu.Lock()
	delete(s.ops, op.handle)
	s.mu.Unlock()
	op.cancel(nil)

	s.delegate.OnComplete(op.handle, err)
}

func (s *Session) transfer(op *operation) error {
	resp, err := s.hc.Do(op.req.WithContext(op.ctx))
	if err != nil {
		return s.cause(op, fmt.Errorf("exec http do: %w", err))
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			s.logger.Error("failed to close response body", "handle", op.handle, "error", err)
		}
	}()

	if s.delegate.OnResponse(op.handle, newResponse(resp)) == Cancel {
		op.cancel(ErrCancelled)
		return ErrCancelled
	}

	buf := make([]byte, s.chunkSize)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if op.ctx.Err() != nil {
				return s.cause(op, op.ctx.Err())
			}

			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.delegate.OnData(op.handle, chunk)
		}

		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return s.cause(op, fmt.Errorf("reading body: %w", err))
		}
	}
}

// cause replaces err by the session's own cancellation reason when the
// operation was stopped through Cancel or invalidation.
func (s *Session) cause(op *operation, err error) error {
	c := context.Cause(op.ctx)
	if errors.Is(c, ErrCancelled) || errors.Is(c, ErrInvalidated) {
		return c
	}

	return err
}
