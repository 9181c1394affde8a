package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/justinabrahms/pencilchess/internal/protocol"
	"github.com/rs/zerolog"
)

// RetryPolicy bounds redelivery to a target that is not ready. Zero MaxTries
// and zero MaxElapsed retry forever.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxTries        uint
	MaxElapsed      time.Duration
}

// DefaultRetryPolicy starts at a one second backoff and gives up
// after two minutes.
var DefaultRetryPolicy = RetryPolicy{
	InitialInterval: 1 * time.Second,
	MaxInterval:     10 * time.Second,
	MaxElapsed:      2 * time.Minute,
}

// FailureHandler is told about messages that could not be delivered.
type FailureHandler func(msg protocol.Message, err error)

type outbound struct {
	msg  protocol.Message
	data []byte
}

// Channel delivers messages from one origin into one target, in order.
type Channel struct {
	name      string
	source    string
	target    Target
	policy    RetryPolicy
	logger    zerolog.Logger
	onFailure FailureHandler

	mu     sync.Mutex
	queue  []outbound
	closed bool
	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Channel
type Option func(*Channel)

// WithName labels the channel in logs
func WithName(name string) Option {
	return func(c *Channel) {
		c.name = name
	}
}

// WithLogger sets a custom logger
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Channel) {
		c.logger = logger
	}
}

// WithRetryPolicy overrides DefaultRetryPolicy. Zero intervals keep the
// defaults.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Channel) {
		if p.InitialInterval <= 0 {
			p.InitialInterval = DefaultRetryPolicy.InitialInterval
		}
		if p.MaxInterval < p.InitialInterval {
			p.MaxInterval = p.InitialInterval
		}
		c.policy = p
	}
}

// WithFailureHandler reports messages dropped after the retry budget ran out
func WithFailureHandler(fn FailureHandler) Option {
	return func(c *Channel) {
		c.onFailure = fn
	}
}

// New creates a channel from source into target and starts its sender.
func New(source string, target Target, opts ...Option) *Channel {
	ctx, cancel := context.WithCancel(context.Background())

	c := &Channel{
		name:   "channel",
		source: source,
		target: target,
		policy: DefaultRetryPolicy,
		logger: zerolog.Nop(),
		wake:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("channel", c.name).Logger()

	go c.run()
	return c
}

// Send serializes msg and queues it for delivery. It never blocks.
func (c *Channel) Send(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return fmt.Errorf("failed to encode %s message: %w", msg.Type(), err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.queue = append(c.queue, outbound{msg: msg, data: data})
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

// Pending returns the number of queued, undelivered messages.
func (c *Channel) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Close stops the sender. Messages still queued or being retried are dropped.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	dropped := len(c.queue)
	c.queue = nil
	c.mu.Unlock()

	c.cancel()
	<-c.done

	if dropped > 0 {
		c.logger.Warn().Int("dropped", dropped).Msg("Channel closed with undelivered messages")
	}
}

func (c *Channel) run() {
	defer close(c.done)

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.wake:
		}

		for {
			c.mu.Lock()
			if len(c.queue) == 0 || c.closed {
				c.mu.Unlock()
				break
			}
			next := c.queue[0]
			c.mu.Unlock()

			err := c.deliver(next)

			c.mu.Lock()
			if !c.closed && len(c.queue) > 0 {
				c.queue = c.queue[1:]
			}
			c.mu.Unlock()

			if err != nil {
				if c.ctx.Err() != nil {
					return
				}
				c.logger.Error().
					Err(err).
					Str("type", string(next.msg.Type())).
					Msg("Giving up on message delivery")
				if c.onFailure != nil {
					c.onFailure(next.msg, err)
				}
			}
		}
	}
}

func (c *Channel) deliver(out outbound) error {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     c.policy.InitialInterval,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         c.policy.MaxInterval,
	}
	b.Reset()

	_, err := backoff.Retry(c.ctx, func() (struct{}, error) {
		err := c.target.Deliver(c.source, out.data)
		if errors.Is(err, ErrClosed) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(c.policy.MaxTries),
		backoff.WithMaxElapsedTime(c.policy.MaxElapsed),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Debug().
				Err(err).
				Str("type", string(out.msg.Type())).
				Dur("retryIn", next).
				Msg("Target not ready, retrying")
		}),
	)
	return err
}
