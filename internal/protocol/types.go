package protocol

// Side is the fixed role a peer view is bound to.
type Side string

const (
	PlayerOne Side = "player-one"
	PlayerTwo Side = "player-two"
)

// Valid reports whether s is one of the two known sides.
func (s Side) Valid() bool {
	return s == PlayerOne || s == PlayerTwo
}

// Color returns the piece color a side plays. player-one is always white.
func (s Side) Color() Color {
	if s == PlayerTwo {
		return Black
	}
	return White
}

// Other returns the opposing side.
func (s Side) Other() Side {
	if s == PlayerOne {
		return PlayerTwo
	}
	return PlayerOne
}

// Color is the side-to-move vocabulary used on the wire.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

func (c Color) Valid() bool {
	return c == White || c == Black
}

// Opposite returns the other color.
func (c Color) Opposite() Color {
	if c == White {
		return Black
	}
	return White
}

// Side returns the side that plays c.
func (c Color) Side() Side {
	if c == Black {
		return PlayerTwo
	}
	return PlayerOne
}

// MessageType tags a protocol message.
type MessageType string

const (
	TypeReady     MessageType = "READY"
	TypeInit      MessageType = "INIT"
	TypeMove      MessageType = "MOVE"
	TypeReset     MessageType = "RESET"
	TypeCheckmate MessageType = "CHECKMATE"
)
