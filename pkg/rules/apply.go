package rules

import (
	"fmt"

	"github.com/park285/boardroom/pkg/board"
)

// Applied is the outcome of applying one legal move.
type Applied struct {
	Board    board.Board
	Move     Move
	Promoted bool
	// NextForcedFrom is set when the same piece must keep jumping.
	NextForcedFrom *board.Square
}

// TurnPasses reports whether the mover's turn ended with this move.
func (a Applied) TurnPasses() bool { return a.NextForcedFrom == nil }

// Apply validates from/to against LegalMoves and returns the resulting board.
// The input board is left untouched. A piece crowned by its move ends the turn
// even if another jump would be available.
func Apply(b board.Board, side board.Side, forcedFrom *board.Square, from, to board.Square) (Applied, error) {
	mv, ok := LegalMoves(b, side, forcedFrom).Find(from, to)
	if !ok {
		return Applied{}, fmt.Errorf("%w: %s-%s", ErrIllegalMove, from, to)
	}

	next := b.Clone()
	piece := next[from]
	delete(next, from)
	for _, c := range mv.Captured {
		delete(next, c)
	}

	promoted := false
	if _, r, _ := board.SquareToFileRank(to); !piece.King && r == side.FarRank() {
		piece.King = true
		promoted = true
	}
	next[to] = piece

	out := Applied{Board: next, Move: mv, Promoted: promoted}
	if mv.IsCapture && !promoted && HasFurtherCaptures(next, to) {
		sq := to
		out.NextForcedFrom = &sq
	}
	return out, nil
}
