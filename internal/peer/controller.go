// Package peer binds one board view to the host through a channel.
//
// A Controller is owned by its endpoint's event loop: every method that
// touches controller state must run on that loop. Engine callbacks arrive on
// other goroutines and go through NotifyLocalMove / NotifyCheckmate, which
// schedule onto the loop.
package peer

import (
	"context"

	"github.com/justinabrahms/pencilchess/internal/channel"
	"github.com/justinabrahms/pencilchess/internal/chess"
	"github.com/justinabrahms/pencilchess/internal/protocol"
	"github.com/rs/zerolog"
)

// Engine is the board widget a controller drives. It owns move legality.
type Engine interface {
	Position() string
	LoadPosition(position string) error
	Invert()
	Reset()
	SetDisabled(disabled bool)
}

// Sender is the outbound half of a channel.
type Sender interface {
	Send(msg protocol.Message) error
}

// Snapshot is a read-only view of controller state.
type Snapshot struct {
	Side         protocol.Side  `json:"side"`
	Bound        bool           `json:"bound"`
	TurnOwner    protocol.Color `json:"turnOwner"`
	Finished     bool           `json:"finished"`
	Flipped      bool           `json:"flipped"`
	InputEnabled bool           `json:"inputEnabled"`
}

// Controller is the per-side adapter between the protocol and one engine.
type Controller struct {
	identity protocol.Side
	endpoint *channel.Endpoint
	out      Sender
	engine   Engine
	logger   zerolog.Logger
	router   *protocol.Router

	side         protocol.Side
	bound        bool
	turnOwner    protocol.Color
	finished     bool
	flipped      bool
	inputEnabled bool

	unsubscribe func()
}

// Option configures a Controller
type Option func(*Controller)

// WithLogger sets a custom logger
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// New creates a controller for the view the host knows as identity. The side
// it actually plays is bound by the first INIT.
func New(identity protocol.Side, endpoint *channel.Endpoint, out Sender, engine Engine, opts ...Option) *Controller {
	c := &Controller{
		identity:  identity,
		endpoint:  endpoint,
		out:       out,
		engine:    engine,
		logger:    zerolog.Nop(),
		turnOwner: protocol.White,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("peer", string(identity)).Logger()

	c.router = protocol.NewRouter(string(identity), c.logger)
	c.router.Handle(protocol.TypeInit, func(m protocol.Message) {
		msg := m.(protocol.Init)
		c.Initialize(msg.Side, msg.Position, msg.TurnOwner, msg.Finished)
	})
	c.router.Handle(protocol.TypeMove, func(m protocol.Message) {
		c.handleMove(m.(protocol.MoveMade))
	})
	c.router.Handle(protocol.TypeCheckmate, func(m protocol.Message) {
		c.OnGameEnd(m.(protocol.Checkmate).Winner)
	})
	c.router.Handle(protocol.TypeReset, func(protocol.Message) {
		c.OnReset()
	})

	engine.SetDisabled(true)
	return c
}

// Start subscribes to the endpoint, marks it ready and announces READY.
func (c *Controller) Start() {
	c.unsubscribe = c.endpoint.OnMessage(c.router.Dispatch)
	c.endpoint.MarkReady()

	if err := c.out.Send(protocol.Ready{Side: c.identity}); err != nil {
		c.logger.Error().Err(err).Msg("Failed to announce ready")
	}
}

// Close releases the subscription and the outbound channel.
func (c *Controller) Close() {
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
	if closer, ok := c.out.(interface{ Close() }); ok {
		closer.Close()
	}
}

// Initialize binds the side on first call, renders position and flips the
// board once for player-two.
func (c *Controller) Initialize(side protocol.Side, position string, turnOwner protocol.Color, finished bool) {
	if c.bound && side != c.side {
		c.logger.Warn().
			Str("boundSide", string(c.side)).
			Str("initSide", string(side)).
			Msg("Protocol anomaly: INIT tried to rebind side, ignoring")
		return
	}
	c.side = side
	c.bound = true

	if err := c.engine.LoadPosition(position); err != nil {
		c.logger.Warn().Err(err).Str("position", position).Msg("Protocol anomaly: INIT position rejected by engine")
	}
	c.turnOwner = turnOwner
	c.finished = finished

	if c.side == protocol.PlayerTwo && !c.flipped {
		c.engine.Invert()
		c.flipped = true
	}

	c.recompute()
	c.logger.Debug().
		Str("side", string(side)).
		Str("turnOwner", string(turnOwner)).
		Bool("inputEnabled", c.inputEnabled).
		Msg("Board initialized")
}

func (c *Controller) handleMove(msg protocol.MoveMade) {
	if !c.bound {
		c.logger.Warn().Str("from", string(msg.Side)).Msg("Protocol anomaly: MOVE before INIT, ignoring")
		return
	}
	if msg.Side == c.side {
		c.logger.Debug().Str("move", msg.Move.Notation).Msg("Ignoring echo of own move")
		return
	}
	c.OnRemoteMove(msg.Position, msg.TurnOwner)
}

// OnRemoteMove renders the opponent's move.
func (c *Controller) OnRemoteMove(position string, turnOwner protocol.Color) {
	if err := c.engine.LoadPosition(position); err != nil {
		c.logger.Warn().Err(err).Str("position", position).Msg("Protocol anomaly: MOVE position rejected by engine")
		return
	}
	c.turnOwner = turnOwner
	c.recompute()
}

// OnGameEnd freezes the board. The position is left as is.
func (c *Controller) OnGameEnd(winner string) {
	c.finished = true
	c.recompute()
	c.logger.Info().Str("winner", winner).Msg("Game over")
}

// OnReset returns the board to the starting position. Side binding and
// orientation are kept.
func (c *Controller) OnReset() {
	c.engine.Reset()
	c.turnOwner = protocol.White
	c.finished = false
	c.recompute()
}

// OnLocalMove turns an engine move into a MOVE message and sends it. It
// reports false when the move was not accepted.
func (c *Controller) OnLocalMove(raw protocol.RawMove) (protocol.MoveMade, bool) {
	if !c.bound || c.finished || !c.inputEnabled {
		c.logger.Debug().Str("move", raw.Notation).Msg("Move ignored, input disabled")
		return protocol.MoveMade{}, false
	}

	move, err := protocol.Canonicalize(raw)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Protocol anomaly: engine reported an unreadable move")
		c.recompute()
		return protocol.MoveMade{}, false
	}

	position := raw.Position
	if position == "" {
		position = c.engine.Position()
	}

	msg := protocol.MoveMade{
		Side:      c.side,
		Position:  position,
		TurnOwner: c.side.Color().Opposite(),
		Move:      move,
	}

	c.turnOwner = msg.TurnOwner
	c.recompute()

	if err := c.out.Send(msg); err != nil {
		c.logger.Error().Err(err).Str("move", move.Notation).Msg("Failed to send move")
	}
	return msg, true
}

// ReportCheckmate asks the host to end the game.
func (c *Controller) ReportCheckmate(winner protocol.Color) bool {
	if !c.bound || c.finished {
		return false
	}
	if err := c.out.Send(protocol.Checkmate{Winner: string(winner)}); err != nil {
		c.logger.Error().Err(err).Msg("Failed to send checkmate")
		return false
	}
	return true
}

// NotifyLocalMove is the engine's move callback.
func (c *Controller) NotifyLocalMove(raw protocol.RawMove) {
	if err := c.endpoint.Do(func() { c.OnLocalMove(raw) }); err != nil {
		c.logger.Warn().Err(err).Msg("Dropped local move, controller closed")
	}
}

// NotifyCheckmate is the engine's checkmate callback.
func (c *Controller) NotifyCheckmate(winner protocol.Color) {
	if err := c.endpoint.Do(func() { c.ReportCheckmate(winner) }); err != nil {
		c.logger.Warn().Err(err).Msg("Dropped checkmate, controller closed")
	}
}

// Snapshot returns the controller state. Call it on the loop, or use Inspect.
func (c *Controller) Snapshot() Snapshot {
	side := c.side
	if !c.bound {
		side = c.identity
	}
	return Snapshot{
		Side:         side,
		Bound:        c.bound,
		TurnOwner:    c.turnOwner,
		Finished:     c.finished,
		Flipped:      c.flipped,
		InputEnabled: c.inputEnabled,
	}
}

// Inspect reads a Snapshot from any goroutine.
func (c *Controller) Inspect(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := c.endpoint.Sync(ctx, func() { snap = c.Snapshot() })
	return snap, err
}

// Identity returns the side the host assigned to this view.
func (c *Controller) Identity() protocol.Side {
	return c.identity
}

func (c *Controller) recompute() {
	c.inputEnabled = c.bound && !c.finished && c.side.Color() == c.turnOwner
	c.engine.SetDisabled(!c.inputEnabled)
}

// Bind wires a board's callbacks to c.
func Bind(board *chess.Board, c *Controller) {
	board.OnMove(c.NotifyLocalMove)
	board.OnCheckmate(c.NotifyCheckmate)
}
