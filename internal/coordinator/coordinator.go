// Package coordinator relays moves between the two peer views and is the only
// writer of the game state.
package coordinator

import (
	"context"
	"sync/atomic"

	"github.com/justinabrahms/pencilchess/internal/channel"
	"github.com/justinabrahms/pencilchess/internal/chess"
	"github.com/justinabrahms/pencilchess/internal/protocol"
	"github.com/justinabrahms/pencilchess/internal/store"
	"github.com/rs/zerolog"
)

// Phase is the coordinator's view of where the game is.
type Phase string

const (
	AwaitingInit Phase = "awaiting_init"
	WhiteTurn    Phase = "white_turn"
	BlackTurn    Phase = "black_turn"
	GameOver     Phase = "game_over"
)

// Sender is the outbound half of a channel.
type Sender interface {
	Send(msg protocol.Message) error
}

// Coordinator owns the store and one channel per peer. All handlers run on
// the host endpoint's loop.
type Coordinator struct {
	endpoint *channel.Endpoint
	store    *store.Store
	peers    map[protocol.Side]Sender
	logger   zerolog.Logger
	router   *protocol.Router

	initialized atomic.Bool
	anomalies   atomic.Int64
	failures    atomic.Int64

	unsubscribe func()
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithLogger sets a custom logger
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// New creates a coordinator that receives on endpoint and sends to the two
// peers.
func New(endpoint *channel.Endpoint, st *store.Store, playerOne, playerTwo Sender, opts ...Option) *Coordinator {
	c := &Coordinator{
		endpoint: endpoint,
		store:    st,
		peers: map[protocol.Side]Sender{
			protocol.PlayerOne: playerOne,
			protocol.PlayerTwo: playerTwo,
		},
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.router = protocol.NewRouter("host", c.logger)
	c.router.Handle(protocol.TypeReady, func(m protocol.Message) {
		c.logger.Info().Str("side", string(m.(protocol.Ready).Side)).Msg("Peer ready")
	})
	c.router.Handle(protocol.TypeMove, func(m protocol.Message) {
		c.handleMove(m.(protocol.MoveMade))
	})
	c.router.Handle(protocol.TypeCheckmate, func(m protocol.Message) {
		c.handleCheckmate(m.(protocol.Checkmate))
	})
	c.router.Handle(protocol.TypeReset, func(protocol.Message) {
		c.logger.Info().Msg("Peer requested a new game")
		c.newGame()
	})

	return c
}

// DeliveryFailed is a channel.FailureHandler that counts undeliverable
// messages, so a stalled game shows up in diagnostics.
func (c *Coordinator) DeliveryFailed(msg protocol.Message, err error) {
	c.failures.Add(1)
	c.logger.Error().
		Err(err).
		Str("type", string(msg.Type())).
		Msg("Peer unreachable, game may not progress")
}

// Start listens on the endpoint and sends INIT to both peers. Delivery waits
// for each peer to become ready.
func (c *Coordinator) Start() error {
	c.unsubscribe = c.endpoint.OnMessage(c.router.Dispatch)
	c.endpoint.MarkReady()
	return c.endpoint.Do(c.sendInit)
}

// Close stops listening and closes both peer channels.
func (c *Coordinator) Close() {
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
	for _, p := range c.peers {
		if closer, ok := p.(interface{ Close() }); ok {
			closer.Close()
		}
	}
}

// NewGame resets the store and re-initializes both peers.
func (c *Coordinator) NewGame(ctx context.Context) error {
	return c.endpoint.Sync(ctx, c.newGame)
}

// Phase reports the current state machine phase.
func (c *Coordinator) Phase() Phase {
	if !c.initialized.Load() {
		return AwaitingInit
	}
	state := c.store.Current()
	switch {
	case state.Finished:
		return GameOver
	case state.TurnOwner == protocol.Black:
		return BlackTurn
	default:
		return WhiteTurn
	}
}

// Anomalies counts discarded protocol messages.
func (c *Coordinator) Anomalies() int64 {
	return c.anomalies.Load()
}

// DeliveryFailures counts messages the peers never received.
func (c *Coordinator) DeliveryFailures() int64 {
	return c.failures.Load()
}

func (c *Coordinator) sendInit() {
	state := c.store.Current()
	for _, side := range []protocol.Side{protocol.PlayerOne, protocol.PlayerTwo} {
		c.send(side, protocol.Init{
			Side:      side,
			Position:  state.Position,
			TurnOwner: state.TurnOwner,
			Finished:  state.Finished,
		})
	}
	c.initialized.Store(true)
	c.logger.Info().
		Str("turnOwner", string(state.TurnOwner)).
		Bool("finished", state.Finished).
		Msg("Sent INIT to both peers")
}

func (c *Coordinator) newGame() {
	c.store.Reset(context.Background())
	c.initialized.Store(false)
	for _, side := range []protocol.Side{protocol.PlayerOne, protocol.PlayerTwo} {
		c.send(side, protocol.Reset{})
	}
	c.sendInit()
}

func (c *Coordinator) handleMove(msg protocol.MoveMade) {
	state := c.store.Current()
	log := c.logger.With().
		Str("from", string(msg.Side)).
		Str("move", msg.Move.Notation).
		Str("turnOwner", string(state.TurnOwner)).
		Logger()

	if state.Finished {
		c.anomaly(log, "MOVE after game over")
		return
	}
	if msg.Side.Color() != state.TurnOwner {
		c.anomaly(log, "MOVE from side that does not own the turn")
		return
	}
	if msg.TurnOwner != state.TurnOwner.Opposite() {
		c.anomaly(log, "MOVE does not hand the turn to the opponent")
		return
	}
	toMove, err := chess.SideToMove(msg.Position)
	if err != nil || toMove != msg.TurnOwner {
		c.anomaly(log, "MOVE position disagrees with next turn owner")
		return
	}

	history := append(state.History, msg.Move)
	c.store.Apply(context.Background(), store.Update{
		Position:  &msg.Position,
		TurnOwner: &msg.TurnOwner,
		History:   history,
	})

	c.send(msg.Side.Other(), protocol.MoveMade{
		Side:      msg.Side,
		Position:  msg.Position,
		TurnOwner: msg.TurnOwner,
		Move:      msg.Move,
	})
	log.Debug().Int("plies", len(history)).Msg("Move accepted and relayed")
}

func (c *Coordinator) handleCheckmate(msg protocol.Checkmate) {
	state := c.store.Current()
	if state.Finished {
		c.anomaly(c.logger.With().Str("winner", msg.Winner).Logger(), "CHECKMATE after game over")
		return
	}

	finished := true
	c.store.Apply(context.Background(), store.Update{
		Finished: &finished,
		Winner:   &msg.Winner,
	})

	for _, side := range []protocol.Side{protocol.PlayerOne, protocol.PlayerTwo} {
		c.send(side, protocol.Checkmate{Winner: msg.Winner})
	}
	c.logger.Info().Str("winner", msg.Winner).Msg("Game over")
}

func (c *Coordinator) send(side protocol.Side, msg protocol.Message) {
	if err := c.peers[side].Send(msg); err != nil {
		c.logger.Error().Err(err).Str("to", string(side)).Str("type", string(msg.Type())).Msg("Failed to queue message")
	}
}

func (c *Coordinator) anomaly(log zerolog.Logger, reason string) {
	c.anomalies.Add(1)
	log.Warn().Str("reason", reason).Msg("Protocol anomaly: message discarded")
}
