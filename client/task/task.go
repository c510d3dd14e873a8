// Package task implements the stream data task: the state machine turning the
// raw callbacks of one transport operation into an ordered stream of progress
// events, while writing received bytes through to a cache provider.
//
// A Task moves through
//
//	Created → Resumed → Receiving → Succeeded | Failed | Cancelled
//
// and emits at most one terminal event (EventSuccess, EventFailed or
// EventCancelled). Callbacks that arrive once the task is terminal are
// discarded.
package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/valyala/bytebufferpool"

	"github.com/adamwoolhether/httpstream/client/cache"
	"github.com/adamwoolhether/httpstream/client/observer"
	"github.com/adamwoolhether/httpstream/client/session"
)

var (
	// ErrTransport marks failures reported by the transport.
	ErrTransport = errors.New("transport failure")
	// ErrCacheWrite marks failures to append to the cache provider.
	ErrCacheWrite = errors.New("cache write failed")
	// ErrCancelled is the error carried by EventCancelled.
	ErrCancelled = errors.New("task cancelled")
)

// Transport starts and stops the operation behind a handle.
type Transport interface {
	Resume(h session.Handle) error
	Cancel(h session.Handle)
}

// Subscriber registers interest in the raw events of a handle.
type Subscriber interface {
	Subscribe(h session.Handle, handler observer.Handler) func()
}

// Task owns one transport operation.
type Task struct {
	id         string
	handle     session.Handle
	ctx        context.Context
	transport  Transport
	provider   cache.Provider
	retain     bool
	logger     *slog.Logger
	onTerminal func(id string)

	feed        *feed
	done        chan struct{}
	unsubscribe func()

	mu    sync.Mutex
	state State
	buf   *bytebufferpool.ByteBuffer
	total int64
	err   error
}

// New creates a task for handle h and subscribes it to events. ctx is used
// for cache provider calls.
func New(ctx context.Context, id string, h session.Handle, tr Transport, events Subscriber, optFns ...Option) (*Task, error) {
	if id == "" {
		return nil, errors.New("task id must not be empty")
	}
	if tr == nil || events == nil {
		return nil, errors.New("transport and subscriber must not be nil")
	}

	opts := options{retain: true, logger: slog.Default()}
	for _, opt := range optFns {
		if err := opt(&opts); err != nil {
			return nil, fmt.Errorf("applying task option: %w", err)
		}
	}

	// Without a provider the buffer is the only place the bytes end up.
	retain := opts.retain || opts.provider == nil

	t := &Task{
		id:         id,
		handle:     h,
		ctx:        ctx,
		transport:  tr,
		provider:   opts.provider,
		retain:     retain,
		logger:     opts.logger.With("task", id),
		onTerminal: opts.onTerminal,
		feed:       newFeed(),
		done:       make(chan struct{}),
		state:      StateCreated,
		buf:        bytebufferpool.Get(),
	}
	t.unsubscribe = events.Subscribe(h, t)

	return t, nil
}

// ID returns the task identity.
func (t *Task) ID() string { return t.id }

// Handle returns the transport handle the task owns.
func (t *Task) Handle() session.Handle { return t.handle }

// Done is closed once the task reached a terminal state.
func (t *Task) Done() <-chan struct{} { return t.done }

// State returns the current state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.state
}

// Err returns the cause of a Failed or Cancelled task, nil otherwise.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.err
}

// Subscribe returns a Receiver replaying past events and following new ones.
func (t *Task) Subscribe() *Receiver {
	return t.feed.subscribe()
}

// Events streams the task's events on a channel that is closed after the
// terminal event, or when ctx is done.
func (t *Task) Events(ctx context.Context) <-chan Event {
	r := t.Subscribe()
	ch := make(chan Event)

	go func() {
		defer close(ch)
		defer r.Close()

		for {
			ev, err := r.Next(ctx)
			if err != nil {
				return
			}

			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

// Resume starts the transport operation. Only the first call from Created
// has an effect.
func (t *Task) Resume() {
	t.mu.Lock()
	if t.state != StateCreated {
		t.mu.Unlock()
		return
	}
	t.state = StateResumed
	t.feed.publish(Event{Kind: EventResumed, TaskID: t.id})
	t.mu.Unlock()

	t.logger.Debug("task resumed", "handle", t.handle)

	if err := t.transport.Resume(t.handle); err != nil {
		t.mu.Lock()
		failed := t.fail(fmt.Errorf("%w: %w", ErrTransport, err))
		t.mu.Unlock()

		if failed {
			t.release()
		}
	}
}

// Cancel stops the task and requests transport cancellation. It is a no-op
// once the task is terminal.
func (t *Task) Cancel() {
	t.mu.Lock()
	if t.state.Terminal() {
		t.mu.Unlock()
		return
	}
	t.finish(StateCancelled, ErrCancelled, Event{Kind: EventCancelled, TaskID: t.id, Err: ErrCancelled})
	t.mu.Unlock()

	t.logger.Debug("task cancelled", "handle", t.handle)
	t.release()
	t.transport.Cancel(t.handle)
}

// HandleEvent implements [observer.Handler]. The task only ever answers
// [session.Allow]; rejecting a response is done by calling Cancel.
func (t *Task) HandleEvent(ev observer.Event) session.Disposition {
	switch ev.Kind {
	case observer.ResponseReceived:
		t.receiveResponse(ev.Response)
	case observer.DataReceived:
		t.receiveData(ev.Chunk)
	case observer.Completed:
		t.complete(ev.Err)
	}

	return session.Allow
}

// Fault implements [observer.Faulter].
func (t *Task) Fault(_ session.Handle, err error) {
	t.mu.Lock()
	failed := t.fail(err)
	t.mu.Unlock()

	if failed {
		t.release()
		t.transport.Cancel(t.handle)
	}
}

func (t *Task) receiveResponse(resp *session.Response) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.accepting("response") {
		return
	}
	t.state = StateReceiving
	t.feed.publish(Event{Kind: EventResponse, TaskID: t.id, Response: resp})
}

func (t *Task) receiveData(chunk []byte) {
	t.mu.Lock()
	if !t.accepting("data") {
		t.mu.Unlock()
		return
	}
	t.state = StateReceiving

	if t.provider != nil {
		if err := t.appendChunk(chunk); err != nil {
			t.fail(fmt.Errorf("%w: at offset %d: %w", ErrCacheWrite, t.total, err))
			t.mu.Unlock()

			t.release()
			t.transport.Cancel(t.handle)
			return
		}
	}

	if t.retain {
		t.buf.Write(chunk)
	}
	t.total += int64(len(chunk))
	t.feed.publish(Event{Kind: EventData, TaskID: t.id, Chunk: chunk, Total: t.total})
	t.mu.Unlock()
}

// appendChunk writes chunk to the provider, turning a panic into an error so
// t.mu is never left held. Callers hold t.mu.
func (t *Task) appendChunk(chunk []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("provider panicked: %v", r)
		}
	}()

	return t.provider.Append(t.ctx, chunk)
}

func (t *Task) complete(err error) {
	t.mu.Lock()
	if t.state.Terminal() {
		t.mu.Unlock()
		return
	}

	switch {
	case errors.Is(err, session.ErrCancelled), errors.Is(err, session.ErrInvalidated):
		cause := fmt.Errorf("%w: %w", ErrCancelled, err)
		t.finish(StateCancelled, cause, Event{Kind: EventCancelled, TaskID: t.id, Err: cause})
	case err != nil:
		t.fail(fmt.Errorf("%w: %w", ErrTransport, err))
	default:
		var data []byte
		if t.retain && t.buf.Len() > 0 {
			data = append([]byte(nil), t.buf.B...)
		}
		t.finish(StateSucceeded, nil, Event{Kind: EventSuccess, TaskID: t.id, Data: data, Total: t.total})
	}
	t.mu.Unlock()

	t.release()
}

// accepting reports whether a raw event may be processed. Callers hold t.mu.
func (t *Task) accepting(kind string) bool {
	switch {
	case t.state.Terminal():
		t.logger.Debug("discarding late event", "kind", kind, "state", t.state)
		return false
	case t.state == StateCreated:
		t.logger.Warn("discarding event before resume", "kind", kind)
		return false
	}

	return true
}

// fail moves a non-terminal task to Failed. Callers hold t.mu.
func (t *Task) fail(err error) bool {
	if t.state.Terminal() {
		return false
	}

	t.logger.Error("task failed", "handle", t.handle, "received", t.total, "error", err)
	t.finish(StateFailed, err, Event{Kind: EventFailed, TaskID: t.id, Err: err})

	return true
}

// finish records the terminal state and emits its event. Callers hold t.mu.
func (t *Task) finish(state State, err error, ev Event) {
	t.state = state
	t.err = err
	t.feed.publish(ev)

	bytebufferpool.Put(t.buf)
	t.buf = nil
	close(t.done)
}

// release drops the subscription and reports the terminal transition. It
// runs without t.mu held.
func (t *Task) release() {
	t.unsubscribe()
	if t.onTerminal != nil {
		t.onTerminal(t.id)
	}
}
