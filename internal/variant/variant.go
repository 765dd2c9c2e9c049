// Package variant adapts each supported game to one interface so rooms,
// clocks and seats work the same for checkers and chess.
package variant

import (
	"errors"
	"fmt"
	"strings"

	"github.com/park285/boardroom/pkg/board"
	"github.com/park285/boardroom/pkg/rules"
	"github.com/park285/boardroom/pkg/wire"
)

var ErrUnknownVariant = errors.New("unknown variant")

// Variant owns the board-level part of a GameState: board, fen, turn,
// forcedFrom, lastMove, moves and a win/draw result.
type Variant interface {
	Name() string
	// Setup puts st into the starting position.
	Setup(st *wire.GameState)
	// LegalMoves lists the moves available to st.Turn. HasCapture is set only
	// when the variant makes capturing mandatory.
	LegalMoves(st *wire.GameState) rules.Result
	// Apply plays from-to for st.Turn. It reports whether the turn passed.
	Apply(st *wire.GameState, from, to board.Square) (bool, error)
}

// Lookup resolves a variant by name. Empty means checkers.
func Lookup(name string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", wire.VariantCheckers:
		return Checkers{}, nil
	case wire.VariantChess:
		return Chess{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownVariant, name)
	}
}

// Checkers wraps the shared rule engine.
type Checkers struct{}

func (Checkers) Name() string { return wire.VariantCheckers }

func (Checkers) Setup(st *wire.GameState) {
	st.Variant = wire.VariantCheckers
	st.Board = board.Initial()
	st.FEN = ""
	st.Turn = board.Light
	st.ForcedFrom = nil
	st.LastMove = nil
	st.Moves = nil
}

func (Checkers) LegalMoves(st *wire.GameState) rules.Result {
	return rules.LegalMoves(st.Board, st.Turn, st.ForcedFrom)
}

func (Checkers) Apply(st *wire.GameState, from, to board.Square) (bool, error) {
	mover := st.Turn
	out, err := rules.Apply(st.Board, mover, st.ForcedFrom, from, to)
	if err != nil {
		return false, err
	}
	st.Board = out.Board
	st.LastMove = &wire.LastMove{From: from, To: to, Captured: out.Move.Captured}
	st.ForcedFrom = out.NextForcedFrom
	st.Moves = append(st.Moves, checkersNotation(out.Move))
	if !out.TurnPasses() {
		return false, nil
	}
	st.Turn = mover.Opponent()
	// 상대가 말이 없거나 둘 수가 없으면 종료
	if !rules.SideHasMoves(st.Board, st.Turn) {
		st.Result = &wire.Result{Kind: wire.ResultWin, Winner: mover}
	}
	return true, nil
}

func checkersNotation(m rules.Move) string {
	sep := "-"
	if m.IsCapture {
		sep = "x"
	}
	return string(m.From) + sep + string(m.To)
}
