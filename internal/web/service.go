package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/justinabrahms/pencilchess/internal/chess"
	"github.com/justinabrahms/pencilchess/internal/coordinator"
	"github.com/justinabrahms/pencilchess/internal/peer"
	"github.com/justinabrahms/pencilchess/internal/protocol"
	"github.com/justinabrahms/pencilchess/internal/store"
	"github.com/rs/zerolog"
)

// Coordinator is the part of the coordinator the host surface drives.
type Coordinator interface {
	NewGame(ctx context.Context) error
	Phase() coordinator.Phase
	Anomalies() int64
	DeliveryFailures() int64
}

// Board accepts local user moves for one side.
type Board interface {
	Play(from, to, promotion string) error
}

// Peer exposes a peer controller's state.
type Peer interface {
	Inspect(ctx context.Context) (peer.Snapshot, error)
}

type Service struct {
	store  *store.Store
	coord  Coordinator
	boards map[protocol.Side]Board
	peers  map[protocol.Side]Peer
	origin string
	logger zerolog.Logger
}

func NewService(st *store.Store, coord Coordinator, boards map[protocol.Side]Board, peers map[protocol.Side]Peer, origin string, logger zerolog.Logger) *Service {
	return &Service{
		store:  st,
		coord:  coord,
		boards: boards,
		peers:  peers,
		origin: origin,
		logger: logger,
	}
}

// Router wires every host route.
func (s *Service) Router(hub *Hub) *mux.Router {
	router := mux.NewRouter()

	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", s.origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	})

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.HealthHandler).Methods("GET")
	api.HandleFunc("/state", s.StateHandler).Methods("GET")
	api.HandleFunc("/games", s.NewGameHandler).Methods("POST")
	api.HandleFunc("/moves/{side}", s.MakeMoveHandler).Methods("POST")
	api.HandleFunc("/peers/{side}", s.PeerHandler).Methods("GET")

	router.HandleFunc("/ws", s.WebSocketHandler(hub))

	// Preflight requests only reach the middleware through a matching route.
	router.PathPrefix("/").Methods("OPTIONS").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	return router
}

func (s *Service) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":           "ok",
		"phase":            s.coord.Phase(),
		"anomalies":        s.coord.Anomalies(),
		"deliveryFailures": s.coord.DeliveryFailures(),
	})
}

func (s *Service) StateHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Current())
}

func (s *Service) NewGameHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.coord.NewGame(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Failed to start new game")
		http.Error(w, "Failed to start new game", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusOK, s.store.Current())
}

type MakeMoveRequest struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}

// MakeMoveHandler plays a move on one side's board as that side's user.
// The resulting MOVE travels through the protocol like any other.
func (s *Service) MakeMoveHandler(w http.ResponseWriter, r *http.Request) {
	side := protocol.Side(mux.Vars(r)["side"])
	board, ok := s.boards[side]
	if !ok {
		http.Error(w, "Unknown side", http.StatusNotFound)
		return
	}

	var req MakeMoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := board.Play(req.From, req.To, req.Promotion); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, chess.ErrDisabled):
			status = http.StatusConflict
		case errors.Is(err, chess.ErrIllegalMove):
			status = http.StatusUnprocessableEntity
		}
		s.logger.Debug().Err(err).Str("side", string(side)).Msg("Move rejected by board")
		http.Error(w, err.Error(), status)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"side":     string(side),
		"notation": req.From + req.To + req.Promotion,
	})
}

func (s *Service) PeerHandler(w http.ResponseWriter, r *http.Request) {
	side := protocol.Side(mux.Vars(r)["side"])
	p, ok := s.peers[side]
	if !ok {
		http.Error(w, "Unknown side", http.StatusNotFound)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	snap, err := p.Inspect(ctx)
	if err != nil {
		http.Error(w, "Peer unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
