// Package observer fans session callbacks out to subscribers registered per
// transport handle.
//
// An [Observer] is installed as the [session.Delegate] of a session. Each
// callback becomes an [Event] delivered, in arrival order, to the handlers
// subscribed to that handle. A handler that panics is removed without
// affecting delivery to the others.
package observer

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/adamwoolhether/httpstream/client/session"
)

// ErrHandlerPanic wraps the value recovered from a panicking handler.
var ErrHandlerPanic = errors.New("event handler panicked")

// Kind identifies the callback an Event was built from.
type Kind int

const (
	ResponseReceived Kind = iota + 1
	DataReceived
	Redirected
	Completed
)

func (k Kind) String() string {
	switch k {
	case ResponseReceived:
		return "response"
	case DataReceived:
		return "data"
	case Redirected:
		return "redirect"
	case Completed:
		return "completed"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Event is a session callback republished to subscribers.
type Event struct {
	Kind     Kind
	Handle   session.Handle
	Response *session.Response
	Chunk    []byte
	Redirect *http.Request
	Err      error
}

// Handler consumes events for one handle. The returned disposition only
// matters for ResponseReceived events.
type Handler interface {
	HandleEvent(ev Event) session.Disposition
}

// HandlerFunc adapts a function to a Handler.
type HandlerFunc func(ev Event) session.Disposition

func (f HandlerFunc) HandleEvent(ev Event) session.Disposition { return f(ev) }

// Faulter is implemented by handlers that want to be told when they panicked.
// The handler is unsubscribed before Fault is called.
type Faulter interface {
	Fault(h session.Handle, err error)
}

type subscription struct {
	id      uint64
	handler Handler
}

// Observer is a concurrency-safe registry of handlers keyed by handle.
type Observer struct {
	logger *slog.Logger

	mu     sync.RWMutex
	subs   map[session.Handle][]*subscription
	nextID uint64
}

// New creates an Observer. A nil logger falls back to [slog.Default].
func New(logger *slog.Logger) *Observer {
	if logger == nil {
		logger = slog.Default()
	}

	return &Observer{
		logger: logger,
		subs:   make(map[session.Handle][]*subscription),
	}
}

// Subscribe registers handler for events of h. The returned func removes the
// subscription and is safe to call more than once.
func (o *Observer) Subscribe(h session.Handle, handler Handler) func() {
	o.mu.Lock()
	o.nextID++
	sub := &subscription{id: o.nextID, handler: handler}
	o.subs[h] = append(o.subs[h], sub)
	o.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { o.remove(h, sub.id) })
	}
}

// Len reports the number of handles with at least one subscriber.
func (o *Observer) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()

	return len(o.subs)
}

// Reset drops every subscription.
func (o *Observer) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()

	clear(o.subs)
}

// OnResponse implements [session.Delegate]. The operation is cancelled if any
// subscriber answers [session.Cancel]; with no subscribers it is allowed.
func (o *Observer) OnResponse(h session.Handle, resp *session.Response) session.Disposition {
	return o.publish(Event{Kind: ResponseReceived, Handle: h, Response: resp})
}

// OnData implements [session.Delegate].
func (o *Observer) OnData(h session.Handle, chunk []byte) {
	o.publish(Event{Kind: DataReceived, Handle: h, Chunk: chunk})
}

// OnRedirect implements [session.Delegate].
func (o *Observer) OnRedirect(h session.Handle, resp *session.Response, next *http.Request) {
	o.publish(Event{Kind: Redirected, Handle: h, Response: resp, Redirect: next})
}

// OnComplete implements [session.Delegate]. Subscriptions for h are dropped
// once the event was delivered.
func (o *Observer) OnComplete(h session.Handle, err error) {
	o.publish(Event{Kind: Completed, Handle: h, Err: err})

	o.mu.Lock()
	delete(o.subs, h)
	o.mu.Unlock()
}

func (o *Observer) publish(ev Event) session.Disposition {
	o.mu.RLock()
	subs := make([]*subscription, len(o.subs[ev.Handle]))
	copy(subs, o.subs[ev.Handle])
	o.mu.RUnlock()

	if len(subs) == 0 {
		o.logger.Debug("dropping event without subscribers", "handle", ev.Handle, "kind", ev.Kind)
		return session.Allow
	}

	decision := session.Allow
	for _, sub := range subs {
		if o.deliver(ev, sub) == session.Cancel {
			decision = session.Cancel
		}
	}

	return decision
}

func (o *Observer) deliver(ev Event, sub *subscription) (d session.Disposition) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}

		d = session.Allow
		err := fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		o.logger.Error("event handler panicked", "handle", ev.Handle, "kind", ev.Kind, "error", err)
		o.remove(ev.Handle, sub.id)

		if f, ok := sub.handler.(Faulter); ok {
			o.fault(f, ev.Handle, err)
		}
	}()

	return sub.handler.HandleEvent(ev)
}

func (o *Observer) fault(f Faulter, h session.Handle, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("fault handler panicked", "handle", h, "error", r)
		}
	}()

	f.Fault(h, err)
}

func (o *Observer) remove(h session.Handle, id uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()

	subs := o.subs[h]
	for i, sub := range subs {
		if sub.id == id {
			subs = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}

	if len(subs) == 0 {
		delete(o.subs, h)
		return
	}
	o.subs[h] = subs
}
