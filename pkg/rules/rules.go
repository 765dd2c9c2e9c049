// Package rules computes legal checkers moves. The room server and the
// client session both import it so legality never drifts between them.
package rules

import (
	"errors"

	"github.com/park285/boardroom/pkg/board"
)

var ErrIllegalMove = errors.New("illegal move")

// Move is a single step or jump candidate.
type Move struct {
	From      board.Square   `json:"from"`
	To        board.Square   `json:"to"`
	Captured  []board.Square `json:"captured,omitempty"`
	IsCapture bool           `json:"isCapture"`
}

// Result is the legal move set for one side.
type Result struct {
	Moves      []Move
	HasCapture bool
}

// From returns the candidates starting on sq.
func (r Result) From(sq board.Square) []Move {
	var out []Move
	for _, m := range r.Moves {
		if m.From == sq {
			out = append(out, m)
		}
	}
	return out
}

// Find returns the candidate matching from/to.
func (r Result) Find(from, to board.Square) (Move, bool) {
	for _, m := range r.Moves {
		if m.From == from && m.To == to {
			return m, true
		}
	}
	return Move{}, false
}

type direction struct{ df, dr int }

var (
	kingDirs = []direction{{-1, 1}, {1, 1}, {-1, -1}, {1, -1}}
)

func directions(p board.Piece) []direction {
	if p.King {
		return kingDirs
	}
	fwd := p.Color.Forward()
	return []direction{{-1, fwd}, {1, fwd}}
}

// LegalMoves returns every legal move for side. When forcedFrom is set only
// that square may move. Captures anywhere exclude all simple moves.
func LegalMoves(b board.Board, side board.Side, forcedFrom *board.Square) Result {
	var origins []board.Square
	if forcedFrom != nil {
		origins = []board.Square{*forcedFrom}
	} else {
		origins = b.SquaresOf(side)
	}

	var captures []Move
	for _, sq := range origins {
		captures = append(captures, capturesFrom(b, side, sq)...)
	}
	if len(captures) > 0 {
		return Result{Moves: captures, HasCapture: true}
	}

	var simple []Move
	for _, sq := range origins {
		simple = append(simple, simpleFrom(b, side, sq)...)
	}
	return Result{Moves: simple}
}

// HasFurtherCaptures reports whether the piece on sq can jump again.
func HasFurtherCaptures(b board.Board, sq board.Square) bool {
	p, ok := b[sq]
	if !ok {
		return false
	}
	return len(capturesFrom(b, p.Color, sq)) > 0
}

// SideHasMoves reports whether side has any legal move at all.
func SideHasMoves(b board.Board, side board.Side) bool {
	return len(LegalMoves(b, side, nil).Moves) > 0
}

func pieceAt(b board.Board, side board.Side, sq board.Square) (board.Piece, int, int, bool) {
	if !board.IsDarkSquare(sq) {
		return board.Piece{}, 0, 0, false
	}
	p, ok := b[sq]
	if !ok || p.Color != side {
		return board.Piece{}, 0, 0, false
	}
	f, r, _ := board.SquareToFileRank(sq)
	return p, f, r, true
}

func capturesFrom(b board.Board, side board.Side, sq board.Square) []Move {
	p, f, r, ok := pieceAt(b, side, sq)
	if !ok {
		return nil
	}
	var out []Move
	for _, d := range directions(p) {
		mid, ok := board.FileRankToSquare(f+d.df, r+d.dr)
		if !ok {
			continue
		}
		victim, occupied := b[mid]
		if !occupied || victim.Color == side {
			continue
		}
		land, ok := board.FileRankToSquare(f+2*d.df, r+2*d.dr)
		if !ok || !board.IsDarkSquare(land) {
			continue
		}
		if _, taken := b[land]; taken {
			continue
		}
		out = append(out, Move{From: sq, To: land, Captured: []board.Square{mid}, IsCapture: true})
	}
	return out
}

func simpleFrom(b board.Board, side board.Side, sq board.Square) []Move {
	p, f, r, ok := pieceAt(b, side, sq)
	if !ok {
		return nil
	}
	var out []Move
	for _, d := range directions(p) {
		to, ok := board.FileRankToSquare(f+d.df, r+d.dr)
		if !ok || !board.IsDarkSquare(to) {
			continue
		}
		if _, taken := b[to]; taken {
			continue
		}
		out = append(out, Move{From: sq, To: to})
	}
	return out
}
