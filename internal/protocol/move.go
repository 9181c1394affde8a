package protocol

import (
	"fmt"
)

// Move is the canonical record of one ply.
type Move struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Piece    string `json:"piece,omitempty"`
	Notation string `json:"notation"`
}

// RawMove is what a board engine reports when the local user moves. Engines
// either fill Notation ("e2e4", "e7e8q") or the From/To pair. Position is
// the FEN right after the move, when the engine knows it.
type RawMove struct {
	Notation string
	From     string
	To       string
	Piece    string
	Position string
}

// Canonicalize turns an engine move notification into a Move. For coordinate
// notation the squares are always taken from the notation itself, so
// Canonicalize(RawMove{Notation: m.Notation, Piece: m.Piece}) == m for every
// valid Move m.
func Canonicalize(raw RawMove) (Move, error) {
	if raw.Notation != "" {
		n := raw.Notation
		if len(n) != 4 && len(n) != 5 {
			return Move{}, fmt.Errorf("%w: notation %q", ErrInvalidField, n)
		}
		from, to := n[0:2], n[2:4]
		if !ValidSquare(from) || !ValidSquare(to) {
			return Move{}, fmt.Errorf("%w: notation %q", ErrInvalidField, n)
		}
		if len(n) == 5 && !validPromotion(n[4]) {
			return Move{}, fmt.Errorf("%w: promotion in %q", ErrInvalidField, n)
		}
		return Move{From: from, To: to, Piece: raw.Piece, Notation: n}, nil
	}

	if !ValidSquare(raw.From) || !ValidSquare(raw.To) {
		return Move{}, fmt.Errorf("%w: move %q-%q", ErrInvalidField, raw.From, raw.To)
	}
	return Move{From: raw.From, To: raw.To, Piece: raw.Piece, Notation: raw.From + raw.To}, nil
}

// Validate checks that a Move received off the wire is self-consistent.
func (m Move) Validate() error {
	c, err := Canonicalize(RawMove{Notation: m.Notation, Piece: m.Piece})
	if err != nil {
		return err
	}
	if c != m {
		return fmt.Errorf("%w: move squares %s-%s disagree with notation %q", ErrInvalidField, m.From, m.To, m.Notation)
	}
	return nil
}

// ValidSquare reports whether sq is a file+rank code like "e2".
func ValidSquare(sq string) bool {
	if len(sq) != 2 {
		return false
	}
	return sq[0] >= 'a' && sq[0] <= 'h' && sq[1] >= '1' && sq[1] <= '8'
}

func validPromotion(p byte) bool {
	switch p {
	case 'q', 'r', 'b', 'n':
		return true
	}
	return false
}
