package channel

import (
	"context"
	"errors"
	"sync"

	"github.com/justinabrahms/pencilchess/internal/protocol"
	"github.com/rs/zerolog"
)

var (
	// ErrNotReady is returned by Deliver while the endpoint is not yet
	// listening. Senders retry.
	ErrNotReady = errors.New("endpoint not ready")

	// ErrClosed is returned once the endpoint has been torn down.
	ErrClosed = errors.New("endpoint closed")
)

// Handler receives decoded messages on the endpoint's loop.
type Handler func(msg protocol.Message)

// Target is anything a Channel can deliver serialized messages into.
type Target interface {
	Deliver(origin string, data []byte) error
}

type subscription struct {
	id      uint64
	handler Handler
}

// Endpoint is one execution context: a single event loop that runs inbound
// message handlers and scheduled tasks one at a time, each to completion.
type Endpoint struct {
	name    string
	trusted string
	logger  zerolog.Logger

	mu       sync.Mutex
	tasks    []func()
	wake     chan struct{}
	subs     []subscription
	nextID   uint64
	ready    bool
	started  bool
	closed   bool
	cancel   context.CancelFunc
	finished chan struct{}
}

// EndpointOption configures an Endpoint.
type EndpointOption func(*Endpoint)

// WithEndpointLogger sets the endpoint's logger
func WithEndpointLogger(logger zerolog.Logger) EndpointOption {
	return func(e *Endpoint) {
		e.logger = logger
	}
}

// NewEndpoint creates an endpoint that accepts messages only from trusted.
func NewEndpoint(name, trusted string, opts ...EndpointOption) *Endpoint {
	e := &Endpoint{
		name:     name,
		trusted:  trusted,
		logger:   zerolog.Nop(),
		wake:     make(chan struct{}, 1),
		finished: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With().Str("endpoint", name).Logger()
	return e
}

// Name returns the endpoint name.
func (e *Endpoint) Name() string {
	return e.name
}

// Start runs the event loop until ctx is cancelled or Close is called.
func (e *Endpoint) Start(ctx context.Context) {
	e.mu.Lock()
	if e.started || e.closed {
		e.mu.Unlock()
		return
	}
	e.started = true
	ctx, e.cancel = context.WithCancel(ctx)
	e.mu.Unlock()

	go e.run(ctx)
}

// MarkReady lets Deliver accept messages. Owners call it after registering
// their handlers.
func (e *Endpoint) MarkReady() {
	e.mu.Lock()
	e.ready = true
	e.mu.Unlock()
	e.logger.Debug().Msg("Endpoint ready")
}

// Ready reports whether the endpoint currently accepts messages.
func (e *Endpoint) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ready && !e.closed
}

// OnMessage registers h for every trusted inbound message. The returned func
// removes the registration.
func (e *Endpoint) OnMessage(h Handler) func() {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.subs = append(e.subs, subscription{id: id, handler: h})
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, s := range e.subs {
			if s.id == id {
				e.subs = append(e.subs[:i:i], e.subs[i+1:]...)
				return
			}
		}
	}
}

// Deliver queues a serialized message for the loop. Messages from an
// untrusted origin are dropped and reported as delivered.
func (e *Endpoint) Deliver(origin string, data []byte) error {
	if origin != e.trusted {
		e.logger.Debug().Str("origin", origin).Msg("Message from untrusted origin, ignoring")
		return nil
	}

	e.mu.Lock()
	switch {
	case e.closed:
		e.mu.Unlock()
		return ErrClosed
	case !e.ready || !e.started:
		e.mu.Unlock()
		return ErrNotReady
	}
	payload := append([]byte(nil), data...)
	e.tasks = append(e.tasks, func() { e.receive(payload) })
	e.mu.Unlock()

	e.signal()
	return nil
}

// Do schedules fn on the loop.
func (e *Endpoint) Do(fn func()) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.tasks = append(e.tasks, fn)
	e.mu.Unlock()

	e.signal()
	return nil
}

// Sync schedules fn on the loop and waits for it to finish.
func (e *Endpoint) Sync(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if err := e.Do(func() {
		defer close(done)
		fn()
	}); err != nil {
		return err
	}

	select {
	case <-done:
		return nil
	case <-e.finished:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the loop and drops all handlers. Pending tasks are discarded.
func (e *Endpoint) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.ready = false
	e.subs = nil
	dropped := len(e.tasks)
	e.tasks = nil
	cancel := e.cancel
	started := e.started
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if !started {
		close(e.finished)
	}
	if dropped > 0 {
		e.logger.Warn().Int("dropped", dropped).Msg("Endpoint closed with pending tasks")
	}
}

func (e *Endpoint) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Endpoint) run(ctx context.Context) {
	defer close(e.finished)

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.wake:
		}

		for {
			task, ok := e.next()
			if !ok {
				break
			}
			task()
			if ctx.Err() != nil {
				return
			}
		}
	}
}

func (e *Endpoint) next() (func(), bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || len(e.tasks) == 0 {
		return nil, false
	}
	task := e.tasks[0]
	e.tasks[0] = nil
	e.tasks = e.tasks[1:]
	return task, true
}

func (e *Endpoint) receive(data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownType) {
			e.logger.Debug().Err(err).Msg("Ignoring message of unknown type")
			return
		}
		e.logger.Warn().Err(err).Bytes("message", data).Msg("Protocol anomaly: malformed message dropped")
		return
	}

	e.mu.Lock()
	subs := make([]subscription, len(e.subs))
	copy(subs, e.subs)
	e.mu.Unlock()

	for _, s := range subs {
		s.handler(msg)
	}
}
