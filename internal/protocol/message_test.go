package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const startFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

func TestEncodeDecodeKeepsEveryVariant(t *testing.T) {
	messages := []Message{
		Ready{Side: PlayerTwo},
		Init{Side: PlayerOne, Position: startFEN, TurnOwner: White, Finished: false},
		MoveMade{
			Side:      PlayerOne,
			Position:  "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq e3 0 1",
			TurnOwner: Black,
			Move:      Move{From: "e2", To: "e4", Piece: "pawn", Notation: "e2e4"},
		},
		Reset{},
		Checkmate{Winner: "white"},
	}

	for _, msg := range messages {
		t.Run(string(msg.Type()), func(t *testing.T) {
			data, err := Encode(msg)
			require.NoError(t, err)

			decoded, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, msg, decoded)
		})
	}
}

func TestInitAlwaysCarriesFinishedOnTheWire(t *testing.T) {
	data, err := Encode(Init{Side: PlayerOne, Position: startFEN, TurnOwner: White})
	require.NoError(t, err)

	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &parsed))
	assert.Equal(t, "INIT", parsed["type"])
	assert.Equal(t, false, parsed["finished"])
	assert.Equal(t, "player-one", parsed["side"])
	assert.Equal(t, "white", parsed["turnOwner"])
	assert.NotContains(t, parsed, "winner")
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"TURN_CHANGE","side":"player-one"}`))
	assert.ErrorIs(t, err, ErrUnknownType)

	_, err = Decode([]byte(`{"type":"webpackOk"}`))
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestDecodeRejectsMissingFields(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"ready without side", `{"type":"READY"}`},
		{"init without finished", `{"type":"INIT","side":"player-one","position":"x","turnOwner":"white"}`},
		{"init without position", `{"type":"INIT","side":"player-one","turnOwner":"white","finished":false}`},
		{"move without move", `{"type":"MOVE","side":"player-one","position":"x","turnOwner":"black"}`},
		{"move without turn owner", `{"type":"MOVE","side":"player-one","position":"x","move":{"from":"e2","to":"e4","notation":"e2e4"}}`},
		{"checkmate without winner", `{"type":"CHECKMATE"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data))
			assert.ErrorIs(t, err, ErrMissingField)
		})
	}
}

func TestDecodeRejectsInvalidFields(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"bad side", `{"type":"READY","side":"player3"}`},
		{"bad color", `{"type":"INIT","side":"player-one","position":"x","turnOwner":"red","finished":false}`},
		{"squares disagree with notation", `{"type":"MOVE","side":"player-one","position":"x","turnOwner":"black","move":{"from":"e2","to":"e3","notation":"e2e4"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data))
			assert.ErrorIs(t, err, ErrInvalidField)
		})
	}
}

func TestDecodeGarbage(t *testing.T) {
	_, err := Decode([]byte("not json"))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnknownType)
}

func TestResetNeedsNoFields(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"RESET"}`))
	require.NoError(t, err)
	assert.Equal(t, Reset{}, msg)
}
