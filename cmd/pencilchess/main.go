package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/justinabrahms/pencilchess/internal/config"
	"github.com/justinabrahms/pencilchess/internal/host"
	"github.com/justinabrahms/pencilchess/internal/kv"
	"github.com/justinabrahms/pencilchess/internal/protocol"
	"github.com/justinabrahms/pencilchess/internal/web"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	var showHelp bool
	flag.BoolVar(&showHelp, "help", false, "Show help information")
	flag.BoolVar(&showHelp, "h", false, "Show help information")
	flag.Parse()

	if showHelp {
		showHelpMessage()
		return
	}

	// Setup logging
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	if level, err := zerolog.ParseLevel(cfg.Development.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}
	if cfg.Development.Debug {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	substrate, err := kv.Open(ctx, cfg.Storage)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Storage.Driver).Msg("Failed to open storage")
	}
	defer substrate.Close()

	game := host.New(ctx, cfg, substrate, log.Logger)
	if err := game.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start game host")
	}
	defer game.Close()

	hub := web.NewHub(log.Logger.With().Str("component", "hub").Logger())
	go hub.Run(ctx)
	unsubscribe := game.Store.Subscribe(hub.PublishState)
	defer unsubscribe()

	boards := make(map[protocol.Side]web.Board, len(game.Views))
	peers := make(map[protocol.Side]web.Peer, len(game.Views))
	for side, view := range game.Views {
		boards[side] = view.Board
		peers[side] = view.Controller
	}
	service := web.NewService(game.Store, game.Coordinator, boards, peers, cfg.Origin, log.Logger)

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      service.Router(hub),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("origin", cfg.Origin).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

func showHelpMessage() {
	fmt.Println(`Pencil Chess

DESCRIPTION:
    Hosts one chess game between two peer board views. A coordinator owns
    the authoritative game state, relays moves between the views and keeps
    the state in persistent storage across restarts.

USAGE:
    pencilchess [OPTIONS]

OPTIONS:
    -h, --help    Show this help message

CONFIGURATION:
    Configured via config.yaml in the current directory or ./config, or
    PENCILCHESS_* environment variables (PENCILCHESS_STORAGE_DRIVER=redis).

    Example config.yaml:
        server:
          host: localhost
          port: 8080
        origin: http://localhost:8080
        channel:
          initial_backoff: 1s
          max_backoff: 10s
          max_elapsed: 2m
        storage:
          driver: sqlite      # sqlite, memory, redis, postgres
          sqlite_path: pencilchess.db
        development:
          debug: true
          log_level: debug

API ENDPOINTS:
    GET  /api/health            - Service health check
    GET  /api/state             - Authoritative game state
    POST /api/games             - Start a new game
    POST /api/moves/{side}      - Play a move on player-one or player-two's board
    GET  /api/peers/{side}      - A view's controller state
    GET  /ws                    - Game state stream

EXAMPLES:
    pencilchess

    curl -X POST http://localhost:8080/api/moves/player-one \
      -H "Content-Type: application/json" \
      -d '{"from": "e2", "to": "e4"}'`)
}
