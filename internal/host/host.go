// Package host assembles the coordinator, both peer views and their channels
// into one running game.
package host

import (
	"context"

	"github.com/justinabrahms/pencilchess/internal/channel"
	"github.com/justinabrahms/pencilchess/internal/chess"
	"github.com/justinabrahms/pencilchess/internal/config"
	"github.com/justinabrahms/pencilchess/internal/coordinator"
	"github.com/justinabrahms/pencilchess/internal/kv"
	"github.com/justinabrahms/pencilchess/internal/peer"
	"github.com/justinabrahms/pencilchess/internal/protocol"
	"github.com/justinabrahms/pencilchess/internal/store"
	"github.com/rs/zerolog"
)

// View is one side's board and controller.
type View struct {
	Board      *chess.Board
	Controller *peer.Controller
	endpoint   *channel.Endpoint
}

// Host is a complete game: the host context plus two peer view contexts.
type Host struct {
	Store       *store.Store
	Coordinator *coordinator.Coordinator
	Views       map[protocol.Side]*View

	endpoint *channel.Endpoint
	logger   zerolog.Logger
}

// RetryPolicy converts channel configuration into a channel.RetryPolicy.
func RetryPolicy(cfg config.ChannelConfig) channel.RetryPolicy {
	return channel.RetryPolicy{
		InitialInterval: cfg.InitialBackoff,
		MaxInterval:     cfg.MaxBackoff,
		MaxTries:        cfg.MaxTries,
		MaxElapsed:      cfg.MaxElapsed,
	}
}

// New wires a host over substrate. Nothing runs until Start.
func New(ctx context.Context, cfg *config.Config, substrate kv.Store, logger zerolog.Logger) *Host {
	policy := RetryPolicy(cfg.Channel)

	st := store.New(ctx, substrate,
		store.WithKey(cfg.Storage.Key),
		store.WithLogger(logger.With().Str("component", "store").Logger()),
	)

	h := &Host{
		Store:  st,
		Views:  make(map[protocol.Side]*View),
		logger: logger,
		endpoint: channel.NewEndpoint("host", cfg.Origin,
			channel.WithEndpointLogger(logger)),
	}

	var coord *coordinator.Coordinator
	onFailure := func(msg protocol.Message, err error) {
		coord.DeliveryFailed(msg, err)
	}

	toPeer := make(map[protocol.Side]*channel.Channel)
	for _, side := range []protocol.Side{protocol.PlayerOne, protocol.PlayerTwo} {
		ep := channel.NewEndpoint(string(side), cfg.Origin, channel.WithEndpointLogger(logger))
		board := chess.NewBoard()

		toHost := channel.New(cfg.Origin, h.endpoint,
			channel.WithName(string(side)+"->host"),
			channel.WithLogger(logger),
			channel.WithRetryPolicy(policy),
		)
		ctrl := peer.New(side, ep, toHost, board,
			peer.WithLogger(logger.With().Str("component", "peer").Logger()))
		peer.Bind(board, ctrl)

		toPeer[side] = channel.New(cfg.Origin, ep,
			channel.WithName("host->"+string(side)),
			channel.WithLogger(logger),
			channel.WithRetryPolicy(policy),
			channel.WithFailureHandler(onFailure),
		)
		h.Views[side] = &View{Board: board, Controller: ctrl, endpoint: ep}
	}

	coord = coordinator.New(h.endpoint, st, toPeer[protocol.PlayerOne], toPeer[protocol.PlayerTwo],
		coordinator.WithLogger(logger.With().Str("component", "coordinator").Logger()))
	h.Coordinator = coord

	return h
}

// Start runs every context. The coordinator starts first and queues INIT;
// each view picks it up once it has marked itself ready.
func (h *Host) Start(ctx context.Context) error {
	h.endpoint.Start(ctx)
	if err := h.Coordinator.Start(); err != nil {
		return err
	}
	for _, side := range []protocol.Side{protocol.PlayerOne, protocol.PlayerTwo} {
		v := h.Views[side]
		v.endpoint.Start(ctx)
		v.Controller.Start()
	}
	h.logger.Info().Msg("Game host started")
	return nil
}

// Close tears down controllers, the coordinator and every context.
func (h *Host) Close() {
	for _, v := range h.Views {
		v.Controller.Close()
	}
	h.Coordinator.Close()
	for _, v := range h.Views {
		v.endpoint.Close()
	}
	h.endpoint.Close()
}
