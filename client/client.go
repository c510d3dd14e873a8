package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/adamwoolhether/httpstream/client/observer"
	"github.com/adamwoolhether/httpstream/client/session"
	"github.com/adamwoolhether/httpstream/client/task"
	"github.com/adamwoolhether/httpstream/client/throttle"
)

const tracerName = "github.com/adamwoolhether/httpstream/client"

// Client creates stream tasks on a shared session and owns them until they
// reach a terminal state.
type Client struct {
	hc       *http.Client
	logger   *slog.Logger
	tracer   trace.Tracer
	progress bool

	session  *session.Session
	observer *observer.Observer

	mu     sync.Mutex
	tasks  map[string]*tracked
	closed bool
	once   sync.Once
}

// tracked is a live task and the span covering it.
type tracked struct {
	task *task.Task
	span trace.Span
}

// Build creates a Client from the given options. The session's [http.Client]
// is a copy of the one passed via [WithClient], or a new one otherwise, so
// no shared client is mutated.
func Build(optFns ...Option) (*Client, error) {
	var opts options
	for _, opt := range optFns {
		if err := opt(&opts); err != nil {
			return nil, fmt.Errorf("applying client option: %w", err)
		}
	}

	client := &Client{
		hc:       &http.Client{},
		logger:   slog.Default(),
		tracer:   noop.NewTracerProvider().Tracer(tracerName),
		progress: opts.progress,
		tasks:    make(map[string]*tracked),
	}

	if opts.client != nil {
		cpy := *opts.client
		client.hc = &cpy
	}

	if opts.logger != nil {
		client.logger = opts.logger
	}

	if opts.tracerProvider != nil {
		client.tracer = opts.tracerProvider.Tracer(tracerName)
	}

	if opts.timeout != nil {
		client.hc.Timeout = *opts.timeout
	}

	if opts.noFollowRedirects {
		client.hc.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	var transport http.RoundTripper
	switch {
	case opts.rt != nil:
		transport = opts.rt
	case opts.client != nil && opts.client.Transport != nil:
		transport = opts.client.Transport
	default:
		transport = http.DefaultTransport
	}
	if opts.userAgent != "" {
		transport = userAgent{value: opts.userAgent, base: transport}
	}
	if opts.throttle != nil {
		rt, err := throttle.New(*opts.throttle, func() *slog.Logger { return client.logger }, transport)
		if err != nil {
			return nil, fmt.Errorf("configuring throttle: %w", err)
		}
		transport = rt
	}
	client.hc.Transport = transport

	client.observer = observer.New(client.logger)

	sessOpts := []session.Option{session.WithLogger(client.logger)}
	if opts.chunkSize > 0 {
		sessOpts = append(sessOpts, session.WithChunkSize(opts.chunkSize))
	}

	sess, err := session.New(client.hc, client.observer, sessOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	client.session = sess

	return client, nil
}

// CreateTask creates a task for req without resuming it. An empty id is
// replaced by a random UUID. The task is tracked by the client until it
// reaches a terminal state, and cancelled by [Client.Close] otherwise.
func (c *Client) CreateTask(id string, req *http.Request, opts ...task.Option) (*task.Task, error) {
	if req == nil {
		return nil, errors.New("request must not be nil")
	}
	if id == "" {
		id = uuid.NewString()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClientClosed
	}
	if _, ok := c.tasks[id]; ok {
		return nil, fmt.Errorf("task %q: %w", id, ErrDuplicateTask)
	}

	ctx, span := c.tracer.Start(req.Context(), "httpstream.task",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("task.id", id),
			attribute.String("http.method", req.Method),
			attribute.String("http.url", req.URL.String()),
		),
	)

	out := req.Clone(ctx)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(out.Header))

	h := c.session.CreateDataOperation(out)

	opts = append(opts, task.WithLogger(c.logger), task.WithOnTerminal(c.forget))
	t, err := task.New(context.WithoutCancel(ctx), id, h, c.session, c.observer, opts...)
	if err != nil {
		c.session.Cancel(h)
		span.End()
		return nil, fmt.Errorf("creating task: %w", err)
	}
	c.tasks[id] = &tracked{task: t, span: span}

	if c.progress {
		go logProgress(t, c.logger)
	}

	return t, nil
}

// Len reports the number of tasks that have not reached a terminal state.
func (c *Client) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.tasks)
}

// Close cancels every live task, invalidates the session and drops all
// observer subscriptions. Requests made afterwards fail with ErrClientClosed.
func (c *Client) Close() error {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		live := make([]*task.Task, 0, len(c.tasks))
		for _, tr := range c.tasks {
			live = append(live, tr.task)
		}
		c.mu.Unlock()

		for _, t := range live {
			t.Cancel()
		}

		c.session.InvalidateAndCancelAll()
		c.observer.Reset()
		c.logger.Info("client closed", "cancelled", len(live))
	})

	return nil
}

// forget removes a terminal task and ends its span.
func (c *Client) forget(id string) {
	c.mu.Lock()
	tr, ok := c.tasks[id]
	delete(c.tasks, id)
	c.mu.Unlock()

	if !ok {
		return
	}

	state := tr.task.State()
	tr.span.SetAttributes(attribute.String("task.state", state.String()))
	if err := tr.task.Err(); err != nil && state == task.StateFailed {
		tr.span.RecordError(err)
		tr.span.SetStatus(codes.Error, err.Error())
	}
	tr.span.End()
}
