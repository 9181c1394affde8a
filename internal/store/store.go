// Package store holds the authoritative game state and persists it.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/justinabrahms/pencilchess/internal/chess"
	"github.com/justinabrahms/pencilchess/internal/kv"
	"github.com/justinabrahms/pencilchess/internal/protocol"
	"github.com/rs/zerolog"
)

// DefaultKey is the persistence key used when none is configured.
const DefaultKey = "pencil-chess-game-state"

// GameState is the authoritative state of the single game.
type GameState struct {
	Position  string          `json:"position"`
	TurnOwner protocol.Color  `json:"turnOwner"`
	Finished  bool            `json:"finished"`
	Winner    string          `json:"winner,omitempty"`
	History   []protocol.Move `json:"history"`
}

// Initial returns the canonical starting state.
func Initial() GameState {
	return GameState{
		Position:  chess.StartingPosition,
		TurnOwner: protocol.White,
		History:   []protocol.Move{},
	}
}

func (s GameState) clone() GameState {
	s.History = append([]protocol.Move{}, s.History...)
	return s
}

// Validate checks the invariants a persisted snapshot must satisfy.
func (s GameState) Validate() error {
	if !s.TurnOwner.Valid() {
		return fmt.Errorf("invalid turn owner %q", s.TurnOwner)
	}
	if (s.Winner != "") != s.Finished {
		return fmt.Errorf("winner %q inconsistent with finished=%v", s.Winner, s.Finished)
	}
	toMove, err := chess.SideToMove(s.Position)
	if err != nil {
		return err
	}
	if toMove != s.TurnOwner {
		return fmt.Errorf("position has %s to move but turn owner is %s", toMove, s.TurnOwner)
	}
	for i, m := range s.History {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("history[%d]: %w", i, err)
		}
	}
	return nil
}

// Update is a partial GameState. Nil fields are left unchanged.
type Update struct {
	Position  *string
	TurnOwner *protocol.Color
	Finished  *bool
	Winner    *string
	History   []protocol.Move
}

// Observer is told about every published state.
type Observer func(GameState)

type observer struct {
	id uint64
	fn Observer
}

// Store is the single-writer game state with durable persistence.
type Store struct {
	kv     kv.Store
	key    string
	logger zerolog.Logger

	mu        sync.Mutex
	state     GameState
	observers []observer
	nextID    uint64
}

// Option configures a Store
type Option func(*Store)

// WithLogger sets a custom logger
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithKey overrides DefaultKey
func WithKey(key string) Option {
	return func(s *Store) {
		s.key = key
	}
}

// New creates a store backed by substrate, restoring a persisted snapshot
// when one exists and is valid.
func New(ctx context.Context, substrate kv.Store, opts ...Option) *Store {
	s := &Store{
		kv:     substrate,
		key:    DefaultKey,
		logger: zerolog.Nop(),
		state:  Initial(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if restored, ok := s.load(ctx); ok {
		s.state = restored
	}
	return s
}

func (s *Store) load(ctx context.Context) (GameState, bool) {
	data, err := s.kv.Get(ctx, s.key)
	if errors.Is(err, kv.ErrNotFound) {
		return GameState{}, false
	}
	if err != nil {
		s.logger.Error().Err(err).Str("key", s.key).Msg("Failed to load game state, starting fresh")
		return GameState{}, false
	}

	var state GameState
	if err := json.Unmarshal(data, &state); err != nil {
		s.logger.Error().Err(err).Str("key", s.key).Msg("Failed to decode saved game state, starting fresh")
		return GameState{}, false
	}
	if state.History == nil {
		state.History = []protocol.Move{}
	}
	if state.Position == "" || !state.TurnOwner.Valid() {
		s.logger.Error().Str("key", s.key).Msg("Saved game state is incomplete, starting fresh")
		return GameState{}, false
	}
	if toMove, err := chess.SideToMove(state.Position); err == nil && toMove != state.TurnOwner {
		s.logger.Warn().
			Str("key", s.key).
			Str("turnOwner", string(state.TurnOwner)).
			Str("sideToMove", string(toMove)).
			Msg("Saved turn owner disagrees with position, using the position's side to move")
		state.TurnOwner = toMove
	}
	if err := state.Validate(); err != nil {
		s.logger.Warn().Err(err).Str("key", s.key).Msg("Saved game state violates an invariant")
	}

	s.logger.Info().
		Str("position", state.Position).
		Int("plies", len(state.History)).
		Msg("Restored saved game state")
	return state, true
}

// Current returns a copy of the live state.
func (s *Store) Current() GameState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Apply merges u into the state, persists and publishes the result.
func (s *Store) Apply(ctx context.Context, u Update) GameState {
	s.mu.Lock()
	next := s.state.clone()
	if u.Position != nil {
		next.Position = *u.Position
	}
	if u.TurnOwner != nil {
		next.TurnOwner = *u.TurnOwner
	}
	if u.Finished != nil {
		next.Finished = *u.Finished
	}
	if u.Winner != nil {
		next.Winner = *u.Winner
	}
	if u.History != nil {
		next.History = append([]protocol.Move{}, u.History...)
	}
	if !next.Finished {
		next.Winner = ""
	}
	return s.commit(ctx, next)
}

// Reset replaces the state with the canonical starting state.
func (s *Store) Reset(ctx context.Context) GameState {
	s.mu.Lock()
	return s.commit(ctx, Initial())
}

// commit must be called with s.mu held; it releases it before notifying.
func (s *Store) commit(ctx context.Context, next GameState) GameState {
	s.state = next
	s.save(ctx, next)
	observers := make([]observer, len(s.observers))
	copy(observers, s.observers)
	s.mu.Unlock()

	for _, o := range observers {
		o.fn(next.clone())
	}
	return next.clone()
}

// save reports failures but never rolls back the in-memory state.
func (s *Store) save(ctx context.Context, state GameState) {
	data, err := json.Marshal(state)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode game state")
		return
	}
	if err := s.kv.Set(ctx, s.key, data); err != nil {
		s.logger.Error().Err(err).Str("key", s.key).Msg("Failed to save game state")
	}
}

// Subscribe calls fn with the current state now and after every change until
// the returned func is called.
func (s *Store) Subscribe(fn Observer) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.observers = append(s.observers, observer{id: id, fn: fn})
	current := s.state.clone()
	s.mu.Unlock()

	fn(current)

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, o := range s.observers {
			if o.id == id {
				s.observers = append(s.observers[:i:i], s.observers[i+1:]...)
				return
			}
		}
	}
}

// Clear removes the persisted snapshot. The in-memory state is unchanged.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.kv.Remove(ctx, s.key); err != nil {
		return fmt.Errorf("failed to clear saved game state: %w", err)
	}
	return nil
}
