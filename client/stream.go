package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/adamwoolhether/httpstream/client/cache"
	"github.com/adamwoolhether/httpstream/client/task"
)

// Stream is a cold request: no work happens until Subscribe.
type Stream struct {
	c        *Client
	req      *http.Request
	provider cache.Provider
	opts     requestOpts

	subscribed atomic.Bool
}

// Request prepares a stream for req. When provider is non-nil it is cleared
// on subscription, before the task is created, and receives every byte of
// the transfer in order.
func (c *Client) Request(req *http.Request, provider cache.Provider, optFns ...RequestOption) (*Stream, error) {
	if req == nil {
		return nil, errors.New("request must not be nil")
	}

	var opts requestOpts
	for _, opt := range optFns {
		if err := opt(&opts); err != nil {
			return nil, fmt.Errorf("applying request option: %w", err)
		}
	}

	return &Stream{c: c, req: req, provider: provider, opts: opts}, nil
}

// Subscribe clears the cache provider, creates and resumes the task, and
// returns the subscription delivering its events. A Stream can be
// subscribed once. Cancelling ctx disposes the subscription.
func (s *Stream) Subscribe(ctx context.Context) (*Subscription, error) {
	if !s.subscribed.CompareAndSwap(false, true) {
		return nil, ErrAlreadySubscribed
	}

	var taskOpts []task.Option
	if s.provider != nil {
		if err := s.provider.ClearData(ctx); err != nil {
			return nil, fmt.Errorf("clearing cache provider: %w", err)
		}
		taskOpts = append(taskOpts, task.WithCacheProvider(s.provider))
	}
	if s.opts.retain != nil {
		taskOpts = append(taskOpts, task.WithRetainInMemory(*s.opts.retain))
	}

	t, err := s.c.CreateTask(s.opts.taskID, s.req, taskOpts...)
	if err != nil {
		return nil, err
	}

	fwdCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := &Subscription{
		task:   t,
		recv:   t.Subscribe(),
		events: make(chan task.Event),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	stop := context.AfterFunc(ctx, sub.Dispose)
	go sub.forward(fwdCtx, stop)

	t.Resume()

	return sub, nil
}

// Subscription delivers the events of one task. Events are handed over on
// their own goroutine, so a slow reader never holds up the transfer.
type Subscription struct {
	task   *task.Task
	recv   *task.Receiver
	events chan task.Event
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Events returns the channel of progress events. The first event is
// EventStarted; the channel is closed after the terminal event or on Dispose.
func (s *Subscription) Events() <-chan task.Event { return s.events }

// Task returns the underlying task.
func (s *Subscription) Task() *task.Task { return s.task }

// Done is closed once no further events will be delivered.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Dispose cancels the task if it is still running and stops delivery. It
// returns after the forwarding goroutine exited. Only the first call has
// any effect.
func (s *Subscription) Dispose() {
	s.once.Do(func() {
		s.task.Cancel()
		s.cancel()
		<-s.done
		s.recv.Close()
	})
}

func (s *Subscription) forward(ctx context.Context, stop func() bool) {
	defer func() {
		stop()
		close(s.events)
		close(s.done)
	}()

	started := task.Event{Kind: task.EventStarted, TaskID: s.task.ID()}
	select {
	case s.events <- started:
	case <-ctx.Done():
		return
	}

	for {
		ev, err := s.recv.Next(ctx)
		if err != nil {
			return
		}

		select {
		case s.events <- ev:
		case <-ctx.Done():
			return
		}

		if ev.Kind.Terminal() {
			return
		}
	}
}
