package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/justinabrahms/pencilchess/internal/chess"
	"github.com/justinabrahms/pencilchess/internal/kv"
	"github.com/justinabrahms/pencilchess/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const afterE4 = "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq e3 0 1"

var e2e4 = protocol.Move{From: "e2", To: "e4", Piece: "pawn", Notation: "e2e4"}

func ptr[T any](v T) *T { return &v }

// failingKV accepts reads but rejects every write.
type failingKV struct {
	*kv.Memory
}

func (failingKV) Set(context.Context, string, []byte) error {
	return errors.New("disk full")
}

func TestNewStartsFromInitialState(t *testing.T) {
	s := New(context.Background(), kv.NewMemory())

	state := s.Current()
	assert.Equal(t, chess.StartingPosition, state.Position)
	assert.Equal(t, protocol.White, state.TurnOwner)
	assert.False(t, state.Finished)
	assert.Empty(t, state.Winner)
	assert.NotNil(t, state.History)
	assert.Empty(t, state.History)
}

func TestApplyMergesOnlyGivenFields(t *testing.T) {
	s := New(context.Background(), kv.NewMemory())

	state := s.Apply(context.Background(), Update{
		Position:  ptr(afterE4),
		TurnOwner: ptr(protocol.Black),
		History:   []protocol.Move{e2e4},
	})

	assert.Equal(t, afterE4, state.Position)
	assert.Equal(t, protocol.Black, state.TurnOwner)
	assert.Equal(t, []protocol.Move{e2e4}, state.History)
	assert.False(t, state.Finished)

	state = s.Apply(context.Background(), Update{Finished: ptr(true), Winner: ptr("white")})
	assert.Equal(t, afterE4, state.Position)
	assert.Equal(t, protocol.Black, state.TurnOwner)
	assert.Len(t, state.History, 1)
	assert.True(t, state.Finished)
	assert.Equal(t, "white", state.Winner)
	assert.Equal(t, state, s.Current())
}

func TestWinnerClearedWhenNotFinished(t *testing.T) {
	s := New(context.Background(), kv.NewMemory())

	state := s.Apply(context.Background(), Update{Winner: ptr("white")})
	assert.Empty(t, state.Winner)
}

func TestCurrentIsACopy(t *testing.T) {
	s := New(context.Background(), kv.NewMemory())
	s.Apply(context.Background(), Update{History: []protocol.Move{e2e4}})

	state := s.Current()
	state.History[0].Notation = "mutated"
	state.History = append(state.History, e2e4)

	assert.Equal(t, []protocol.Move{e2e4}, s.Current().History)
}

func TestResetIsIdempotent(t *testing.T) {
	s := New(context.Background(), kv.NewMemory())
	s.Apply(context.Background(), Update{
		Position:  ptr(afterE4),
		TurnOwner: ptr(protocol.Black),
		Finished:  ptr(true),
		Winner:    ptr("black"),
		History:   []protocol.Move{e2e4},
	})

	first := s.Reset(context.Background())
	second := s.Reset(context.Background())

	assert.Equal(t, first, second)
	assert.Equal(t, Initial(), second)
	assert.Equal(t, chess.StartingPosition, second.Position)
	assert.Equal(t, protocol.White, second.TurnOwner)
	assert.False(t, second.Finished)
	assert.Empty(t, second.History)
}

func TestSubscribe(t *testing.T) {
	s := New(context.Background(), kv.NewMemory())

	var seen []GameState
	unsubscribe := s.Subscribe(func(state GameState) { seen = append(seen, state) })

	require.Len(t, seen, 1, "observer must receive the current state on subscribe")
	assert.Equal(t, Initial(), seen[0])

	s.Apply(context.Background(), Update{Position: ptr(afterE4), TurnOwner: ptr(protocol.Black)})
	s.Reset(context.Background())
	require.Len(t, seen, 3)
	assert.Equal(t, afterE4, seen[1].Position)
	assert.Equal(t, Initial(), seen[2])

	unsubscribe()
	s.Apply(context.Background(), Update{Position: ptr(afterE4)})
	assert.Len(t, seen, 3)
}

func TestObserverMayReadStore(t *testing.T) {
	s := New(context.Background(), kv.NewMemory())

	var positions []string
	s.Subscribe(func(GameState) { positions = append(positions, s.Current().Position) })
	s.Apply(context.Background(), Update{Position: ptr(afterE4)})

	assert.Equal(t, []string{chess.StartingPosition, afterE4}, positions)
}

func TestPersistenceSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	substrate, err := kv.OpenSQLite(path)
	require.NoError(t, err)
	s := New(context.Background(), substrate)
	s.Apply(context.Background(), Update{
		Position:  ptr(afterE4),
		TurnOwner: ptr(protocol.Black),
		History:   []protocol.Move{e2e4},
	})
	require.NoError(t, substrate.Close())

	substrate, err = kv.OpenSQLite(path)
	require.NoError(t, err)
	defer substrate.Close()

	restarted := New(context.Background(), substrate)
	state := restarted.Current()
	assert.Equal(t, afterE4, state.Position)
	assert.Equal(t, protocol.Black, state.TurnOwner)
	assert.Equal(t, []protocol.Move{e2e4}, state.History)
}

func TestApplyPositionSurvivesRestartWithMemory(t *testing.T) {
	substrate := kv.NewMemory()
	New(context.Background(), substrate).Apply(context.Background(), Update{Position: ptr(afterE4)})

	restored := New(context.Background(), substrate).Current()
	assert.Equal(t, afterE4, restored.Position)
	assert.Equal(t, protocol.Black, restored.TurnOwner)
}

func TestRestoredTurnOwnerFollowsPosition(t *testing.T) {
	substrate := kv.NewMemory()
	data := `{"position":"` + afterE4 + `","turnOwner":"white","finished":false,"history":[]}`
	require.NoError(t, substrate.Set(context.Background(), DefaultKey, []byte(data)))

	state := New(context.Background(), substrate).Current()
	assert.Equal(t, afterE4, state.Position)
	assert.Equal(t, protocol.Black, state.TurnOwner)
	assert.NoError(t, state.Validate())
}

func TestCorruptSnapshotFallsBackToInitial(t *testing.T) {
	for name, data := range map[string]string{
		"not json":      "{{{",
		"empty object":  "{}",
		"bad turnOwner": `{"position":"x","turnOwner":"red","finished":false,"history":[]}`,
	} {
		t.Run(name, func(t *testing.T) {
			substrate := kv.NewMemory()
			require.NoError(t, substrate.Set(context.Background(), DefaultKey, []byte(data)))

			assert.Equal(t, Initial(), New(context.Background(), substrate).Current())
		})
	}
}

func TestWriteFailureKeepsInMemoryState(t *testing.T) {
	s := New(context.Background(), failingKV{kv.NewMemory()})

	state := s.Apply(context.Background(), Update{Position: ptr(afterE4), TurnOwner: ptr(protocol.Black)})
	assert.Equal(t, afterE4, state.Position)
	assert.Equal(t, afterE4, s.Current().Position)
}

func TestCustomKeyAndClear(t *testing.T) {
	substrate := kv.NewMemory()
	s := New(context.Background(), substrate, WithKey("other"))
	s.Apply(context.Background(), Update{Position: ptr(afterE4)})

	_, err := substrate.Get(context.Background(), DefaultKey)
	assert.ErrorIs(t, err, kv.ErrNotFound)
	_, err = substrate.Get(context.Background(), "other")
	require.NoError(t, err)

	require.NoError(t, s.Clear(context.Background()))
	_, err = substrate.Get(context.Background(), "other")
	assert.ErrorIs(t, err, kv.ErrNotFound)
	assert.Equal(t, afterE4, s.Current().Position)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Initial().Validate())

	wrongTurn := Initial()
	wrongTurn.TurnOwner = protocol.Black
	assert.Error(t, wrongTurn.Validate())

	winnerNotFinished := Initial()
	winnerNotFinished.Winner = "white"
	assert.Error(t, winnerNotFinished.Validate())
}
