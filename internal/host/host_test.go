package host

import (
	"context"
	"testing"
	"time"

	"github.com/justinabrahms/pencilchess/internal/chess"
	"github.com/justinabrahms/pencilchess/internal/config"
	"github.com/justinabrahms/pencilchess/internal/coordinator"
	"github.com/justinabrahms/pencilchess/internal/kv"
	"github.com/justinabrahms/pencilchess/internal/peer"
	"github.com/justinabrahms/pencilchess/internal/protocol"
	"github.com/justinabrahms/pencilchess/internal/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const origin = "http://localhost:8080"

func testConfig() *config.Config {
	return &config.Config{
		Origin: origin,
		Channel: config.ChannelConfig{
			InitialBackoff: 5 * time.Millisecond,
			MaxBackoff:     20 * time.Millisecond,
			MaxElapsed:     5 * time.Second,
		},
		Storage: config.StorageConfig{Driver: "memory", Key: store.DefaultKey},
	}
}

func startHost(t *testing.T, substrate kv.Store) *Host {
	t.Helper()
	h := New(context.Background(), testConfig(), substrate, zerolog.Nop())
	require.NoError(t, h.Start(context.Background()))
	t.Cleanup(h.Close)
	return h
}

func inspect(t *testing.T, h *Host, side protocol.Side) peer.Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	snap, err := h.Views[side].Controller.Inspect(ctx)
	require.NoError(t, err)
	return snap
}

func waitForTurn(t *testing.T, h *Host, side protocol.Side) {
	t.Helper()
	require.Eventually(t, func() bool {
		return inspect(t, h, side).InputEnabled
	}, 2*time.Second, 5*time.Millisecond, "%s never got the turn", side)
}

func play(t *testing.T, h *Host, side protocol.Side, from, to string) {
	t.Helper()
	waitForTurn(t, h, side)
	require.NoError(t, h.Views[side].Board.Play(from, to, ""))
}

func TestStartInitializesBothViews(t *testing.T) {
	h := startHost(t, kv.NewMemory())

	waitForTurn(t, h, protocol.PlayerOne)
	require.Eventually(t, func() bool { return inspect(t, h, protocol.PlayerTwo).Bound }, 2*time.Second, 5*time.Millisecond)

	one := inspect(t, h, protocol.PlayerOne)
	two := inspect(t, h, protocol.PlayerTwo)
	assert.Equal(t, protocol.PlayerOne, one.Side)
	assert.False(t, one.Flipped)
	assert.Equal(t, protocol.PlayerTwo, two.Side)
	assert.True(t, two.Flipped)
	assert.False(t, two.InputEnabled)
	assert.Equal(t, 1, h.Views[protocol.PlayerTwo].Board.Inversions())
	assert.Equal(t, coordinator.WhiteTurn, h.Coordinator.Phase())
}

func TestMoveTravelsToOtherView(t *testing.T) {
	h := startHost(t, kv.NewMemory())

	play(t, h, protocol.PlayerOne, "e2", "e4")

	waitForTurn(t, h, protocol.PlayerTwo)
	state := h.Store.Current()
	assert.Equal(t, protocol.Black, state.TurnOwner)
	require.Len(t, state.History, 1)
	assert.Equal(t, protocol.Move{From: "e2", To: "e4", Piece: "pawn", Notation: "e2e4"}, state.History[0])

	assert.Equal(t, state.Position, h.Views[protocol.PlayerTwo].Board.Position())
	assert.Equal(t, state.Position, h.Views[protocol.PlayerOne].Board.Position())
	assert.False(t, inspect(t, h, protocol.PlayerOne).InputEnabled)
	assert.True(t, h.Views[protocol.PlayerOne].Board.Disabled())
	assert.False(t, h.Views[protocol.PlayerTwo].Board.Disabled())
	assert.Zero(t, h.Coordinator.Anomalies())
}

func TestSecondMoveOnSameBoardIsRejected(t *testing.T) {
	for i := 0; i < 20; i++ {
		h := startHost(t, kv.NewMemory())
		board := h.Views[protocol.PlayerOne].Board
		waitForTurn(t, h, protocol.PlayerOne)

		require.NoError(t, board.Play("e2", "e4", ""))
		assert.ErrorIs(t, board.Play("e7", "e5", ""), chess.ErrDisabled)

		waitForTurn(t, h, protocol.PlayerTwo)
		state := h.Store.Current()
		require.Len(t, state.History, 1)
		assert.Equal(t, "e2e4", state.History[0].Notation)
		assert.Equal(t, state.Position, board.Position())
		assert.Zero(t, h.Coordinator.Anomalies())
		assert.False(t, inspect(t, h, protocol.PlayerOne).InputEnabled)
	}
}

func TestFoolsMateEndsGameOnBothViews(t *testing.T) {
	h := startHost(t, kv.NewMemory())

	play(t, h, protocol.PlayerOne, "f2", "f3")
	play(t, h, protocol.PlayerTwo, "e7", "e5")
	play(t, h, protocol.PlayerOne, "g2", "g4")
	play(t, h, protocol.PlayerTwo, "d8", "h4")

	require.Eventually(t, func() bool {
		return inspect(t, h, protocol.PlayerOne).Finished && inspect(t, h, protocol.PlayerTwo).Finished
	}, 2*time.Second, 5*time.Millisecond)

	state := h.Store.Current()
	assert.True(t, state.Finished)
	assert.Equal(t, "black", state.Winner)
	assert.Len(t, state.History, 4)
	assert.Equal(t, coordinator.GameOver, h.Coordinator.Phase())
	assert.False(t, inspect(t, h, protocol.PlayerOne).InputEnabled)
	assert.False(t, inspect(t, h, protocol.PlayerTwo).InputEnabled)
}

func TestReportedCheckmateReachesBothViews(t *testing.T) {
	h := startHost(t, kv.NewMemory())
	waitForTurn(t, h, protocol.PlayerOne)
	require.Eventually(t, func() bool { return inspect(t, h, protocol.PlayerTwo).Bound }, 2*time.Second, 5*time.Millisecond)

	h.Views[protocol.PlayerTwo].Controller.NotifyCheckmate(protocol.White)

	require.Eventually(t, func() bool {
		return inspect(t, h, protocol.PlayerOne).Finished && inspect(t, h, protocol.PlayerTwo).Finished
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "white", h.Store.Current().Winner)
}

func TestNewGameKeepsOrientation(t *testing.T) {
	h := startHost(t, kv.NewMemory())
	play(t, h, protocol.PlayerOne, "e2", "e4")
	waitForTurn(t, h, protocol.PlayerTwo)

	require.NoError(t, h.Coordinator.NewGame(context.Background()))

	waitForTurn(t, h, protocol.PlayerOne)
	assert.Equal(t, store.Initial(), h.Store.Current())
	assert.Equal(t, chess.StartingPosition, h.Views[protocol.PlayerTwo].Board.Position())
	assert.True(t, inspect(t, h, protocol.PlayerTwo).Flipped)
	assert.Equal(t, 1, h.Views[protocol.PlayerTwo].Board.Inversions())
}

func TestRestartResumesGame(t *testing.T) {
	substrate := kv.NewMemory()
	first := New(context.Background(), testConfig(), substrate, zerolog.Nop())
	require.NoError(t, first.Start(context.Background()))
	play(t, first, protocol.PlayerOne, "d2", "d4")
	waitForTurn(t, first, protocol.PlayerTwo)
	position := first.Store.Current().Position
	first.Close()

	second := startHost(t, substrate)
	waitForTurn(t, second, protocol.PlayerTwo)
	assert.Equal(t, position, second.Store.Current().Position)
	assert.Equal(t, position, second.Views[protocol.PlayerOne].Board.Position())
	assert.False(t, inspect(t, second, protocol.PlayerOne).InputEnabled)
}
