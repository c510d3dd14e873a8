package task

import (
	"context"
	"io"
	"sync"
)

// feed records every event of a task and fans it out to receivers. Publishing
// never blocks: each receiver buffers independently. History keeps data
// events without their chunks; the payload reaches late receivers through
// EventSuccess.
type feed struct {
	mu        sync.Mutex
	history   []Event
	receivers map[*Receiver]struct{}
	closed    bool
}

func newFeed() *feed {
	return &feed{
		receivers: make(map[*Receiver]struct{}),
	}
}

func (f *feed) publish(ev Event) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}

	rec := ev
	if ev.Kind == EventData {
		rec.Chunk = nil
	}
	f.history = append(f.history, rec)

	for r := range f.receivers {
		r.push(ev)
	}

	if ev.Kind.Terminal() {
		f.closed = true
		for r := range f.receivers {
			r.end()
		}
		clear(f.receivers)
	}
}

func (f *feed) subscribe() *Receiver {
	f.mu.Lock()
	defer f.mu.Unlock()

	r := &Receiver{
		wake:  make(chan struct{}, 1),
		queue: append([]Event(nil), f.history...),
		feed:  f,
	}
	if f.closed {
		r.closed = true
		return r
	}
	f.receivers[r] = struct{}{}

	return r
}

func (f *feed) detach(r *Receiver) {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.receivers, r)
}

// Receiver reads the events of one task in order. It first replays what was
// published before it subscribed, then follows live events until the
// terminal one.
type Receiver struct {
	feed *feed
	wake chan struct{}

	mu     sync.Mutex
	queue  []Event
	closed bool
}

func (r *Receiver) push(ev Event) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.queue = append(r.queue, ev)
	r.mu.Unlock()

	r.signal()
}

func (r *Receiver) end() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.signal()
}

func (r *Receiver) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Next blocks until an event is available, the stream ended (io.EOF) or ctx
// is done.
func (r *Receiver) Next(ctx context.Context) (Event, error) {
	for {
		r.mu.Lock()
		if len(r.queue) > 0 {
			ev := r.queue[0]
			r.queue[0] = Event{}
			r.queue = r.queue[1:]
			r.mu.Unlock()
			return ev, nil
		}
		closed := r.closed
		r.mu.Unlock()

		if closed {
			return Event{}, io.EOF
		}

		select {
		case <-r.wake:
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

// Close stops delivery to r and drops anything still buffered.
func (r *Receiver) Close() {
	r.feed.detach(r)

	r.mu.Lock()
	r.closed = true
	r.queue = nil
	r.mu.Unlock()

	r.signal()
}
