package chess

import (
	"errors"
	"fmt"
	"sync"

	"github.com/justinabrahms/pencilchess/internal/protocol"
	"github.com/notnil/chess"
)

// StartingPosition is the standard initial position in FEN.
const StartingPosition = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

var (
	ErrDisabled    = errors.New("board is disabled")
	ErrIllegalMove = errors.New("illegal move")
)

// Board is a headless board view: it renders positions, tracks orientation
// and reports the local user's legal moves.
type Board struct {
	mu          sync.Mutex
	game        *chess.Game
	inverted    bool
	inversions  int
	disabled    bool
	onMove      func(protocol.RawMove)
	onCheckmate func(winner protocol.Color)
}

// NewBoard creates a disabled board at the starting position.
func NewBoard() *Board {
	return &Board{
		game:     newGame(),
		disabled: true,
	}
}

func newGame(opts ...func(*chess.Game)) *chess.Game {
	opts = append(opts, chess.UseNotation(chess.UCINotation{}))
	return chess.NewGame(opts...)
}

// OnMove sets the callback fired after every local move.
func (b *Board) OnMove(fn func(protocol.RawMove)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onMove = fn
}

// OnCheckmate sets the callback fired when a local move mates.
func (b *Board) OnCheckmate(fn func(winner protocol.Color)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onCheckmate = fn
}

// Position returns the current FEN.
func (b *Board) Position() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.game.FEN()
}

// LoadPosition renders fen.
func (b *Board) LoadPosition(fen string) error {
	fenFunc, err := chess.FEN(fen)
	if err != nil {
		return fmt.Errorf("invalid FEN: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.game = newGame(fenFunc)
	return nil
}

// Reset returns the board to the starting position.
func (b *Board) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.game = newGame()
}

// Invert flips the board orientation.
func (b *Board) Invert() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inverted = !b.inverted
	b.inversions++
}

// Inverted reports whether black is at the bottom.
func (b *Board) Inverted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inverted
}

// Inversions counts Invert calls over the board's lifetime.
func (b *Board) Inversions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inversions
}

// SetDisabled blocks or allows local moves.
func (b *Board) SetDisabled(disabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disabled = disabled
}

// Disabled reports whether local moves are blocked.
func (b *Board) Disabled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.disabled
}

// Play performs a local user move. Promotion is "q", "r", "b", "n" or empty.
// A successful move leaves the board disabled.
func (b *Board) Play(from, to, promotion string) error {
	fromSquare := parseSquare(from)
	toSquare := parseSquare(to)

	if fromSquare == chess.NoSquare || toSquare == chess.NoSquare {
		return fmt.Errorf("%w: invalid square notation", ErrIllegalMove)
	}
	promo := ParsePromotion(promotion)

	b.mu.Lock()
	if b.disabled {
		b.mu.Unlock()
		return ErrDisabled
	}

	var valid *chess.Move
	for _, vm := range b.game.ValidMoves() {
		if vm.S1() == fromSquare && vm.S2() == toSquare && vm.Promo() == promo {
			valid = vm
			break
		}
	}
	if valid == nil {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s to %s", ErrIllegalMove, from, to)
	}

	before := b.game.Position()
	raw := protocol.RawMove{
		Notation: chess.UCINotation{}.Encode(before, valid),
		Piece:    pieceNames[before.Board().Piece(fromSquare).Type()],
	}

	if err := b.game.Move(valid); err != nil {
		b.mu.Unlock()
		return fmt.Errorf("failed to make move: %w", err)
	}
	raw.Position = b.game.FEN()
	// Stays disabled until the owner hands the turn back.
	b.disabled = true

	mated := b.game.Method() == chess.Checkmate
	winner := protocol.White
	if b.game.Outcome() == chess.BlackWon {
		winner = protocol.Black
	}
	onMove, onCheckmate := b.onMove, b.onCheckmate
	b.mu.Unlock()

	if onMove != nil {
		onMove(raw)
	}
	if mated && onCheckmate != nil {
		onCheckmate(winner)
	}
	return nil
}

// SideToMove reads the side-to-move field of fen.
func SideToMove(fen string) (protocol.Color, error) {
	fenFunc, err := chess.FEN(fen)
	if err != nil {
		return "", fmt.Errorf("invalid FEN: %w", err)
	}
	if chess.NewGame(fenFunc).Position().Turn() == chess.Black {
		return protocol.Black, nil
	}
	return protocol.White, nil
}

var pieceNames = map[chess.PieceType]string{
	chess.King:   "king",
	chess.Queen:  "queen",
	chess.Rook:   "rook",
	chess.Bishop: "bishop",
	chess.Knight: "knight",
	chess.Pawn:   "pawn",
}

func parseSquare(sq string) chess.Square {
	if !protocol.ValidSquare(sq) {
		return chess.NoSquare
	}

	file := sq[0] - 'a'
	rank := sq[1] - '1'

	return chess.Square(rank*8 + file)
}

func ParsePromotion(p string) chess.PieceType {
	switch p {
	case "q":
		return chess.Queen
	case "r":
		return chess.Rook
	case "b":
		return chess.Bishop
	case "n":
		return chess.Knight
	default:
		return chess.NoPieceType
	}
}
