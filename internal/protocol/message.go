package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrUnknownType marks a message whose type is not part of the protocol.
	// Receivers drop these without treating them as failures.
	ErrUnknownType = errors.New("unknown message type")

	ErrMissingField = errors.New("missing required field")
	ErrInvalidField = errors.New("invalid field")
)

// Message is one of Ready, Init, MoveMade, Reset or Checkmate.
type Message interface {
	Type() MessageType
}

// Ready announces that a peer view is listening.
type Ready struct {
	Side Side
}

// Init hands a peer its side and the current game state.
type Init struct {
	Side      Side
	Position  string
	TurnOwner Color
	Finished  bool
}

// MoveMade carries a ply. Side is the side that played it, TurnOwner the side
// to move next and Position the board after the move.
type MoveMade struct {
	Side      Side
	Position  string
	TurnOwner Color
	Move      Move
}

// Reset tells a peer to start over from the initial position.
type Reset struct{}

// Checkmate ends the game.
type Checkmate struct {
	Winner string
}

func (Ready) Type() MessageType     { return TypeReady }
func (Init) Type() MessageType      { return TypeInit }
func (MoveMade) Type() MessageType  { return TypeMove }
func (Reset) Type() MessageType     { return TypeReset }
func (Checkmate) Type() MessageType { return TypeCheckmate }

// wireMessage is the JSON object exchanged between contexts.
type wireMessage struct {
	Type      MessageType `json:"type"`
	Side      *Side       `json:"side,omitempty"`
	Position  *string     `json:"position,omitempty"`
	TurnOwner *Color      `json:"turnOwner,omitempty"`
	Finished  *bool       `json:"finished,omitempty"`
	Winner    *string     `json:"winner,omitempty"`
	Move      *Move       `json:"move,omitempty"`
}

// Encode serializes a message to its wire form.
func Encode(msg Message) ([]byte, error) {
	var w wireMessage
	switch m := msg.(type) {
	case Ready:
		w = wireMessage{Type: TypeReady, Side: &m.Side}
	case Init:
		w = wireMessage{
			Type:      TypeInit,
			Side:      &m.Side,
			Position:  &m.Position,
			TurnOwner: &m.TurnOwner,
			Finished:  &m.Finished,
		}
	case MoveMade:
		w = wireMessage{
			Type:      TypeMove,
			Side:      &m.Side,
			Position:  &m.Position,
			TurnOwner: &m.TurnOwner,
			Move:      &m.Move,
		}
	case Reset:
		w = wireMessage{Type: TypeReset}
	case Checkmate:
		w = wireMessage{Type: TypeCheckmate, Winner: &m.Winner}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, msg)
	}
	return json.Marshal(w)
}

// Decode parses a wire message and checks the fields its type requires.
func Decode(data []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}

	switch w.Type {
	case TypeReady:
		side, err := requireSide(w.Side)
		if err != nil {
			return nil, err
		}
		return Ready{Side: side}, nil

	case TypeInit:
		side, err := requireSide(w.Side)
		if err != nil {
			return nil, err
		}
		position, err := requirePosition(w.Position)
		if err != nil {
			return nil, err
		}
		turn, err := requireColor(w.TurnOwner)
		if err != nil {
			return nil, err
		}
		if w.Finished == nil {
			return nil, fmt.Errorf("%w: finished", ErrMissingField)
		}
		return Init{Side: side, Position: position, TurnOwner: turn, Finished: *w.Finished}, nil

	case TypeMove:
		side, err := requireSide(w.Side)
		if err != nil {
			return nil, err
		}
		position, err := requirePosition(w.Position)
		if err != nil {
			return nil, err
		}
		turn, err := requireColor(w.TurnOwner)
		if err != nil {
			return nil, err
		}
		if w.Move == nil {
			return nil, fmt.Errorf("%w: move", ErrMissingField)
		}
		if err := w.Move.Validate(); err != nil {
			return nil, err
		}
		return MoveMade{Side: side, Position: position, TurnOwner: turn, Move: *w.Move}, nil

	case TypeReset:
		return Reset{}, nil

	case TypeCheckmate:
		if w.Winner == nil || *w.Winner == "" {
			return nil, fmt.Errorf("%w: winner", ErrMissingField)
		}
		return Checkmate{Winner: *w.Winner}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownType, w.Type)
}

func requireSide(s *Side) (Side, error) {
	if s == nil {
		return "", fmt.Errorf("%w: side", ErrMissingField)
	}
	if !s.Valid() {
		return "", fmt.Errorf("%w: side %q", ErrInvalidField, *s)
	}
	return *s, nil
}

func requireColor(c *Color) (Color, error) {
	if c == nil {
		return "", fmt.Errorf("%w: turnOwner", ErrMissingField)
	}
	if !c.Valid() {
		return "", fmt.Errorf("%w: turnOwner %q", ErrInvalidField, *c)
	}
	return *c, nil
}

func requirePosition(p *string) (string, error) {
	if p == nil || *p == "" {
		return "", fmt.Errorf("%w: position", ErrMissingField)
	}
	return *p, nil
}
