// Package board holds the square addressing and piece layout shared by the
// room server and every client.
package board

import (
	"sort"
	"strings"
)

// Side identifies one of the two players of a board.
type Side string

const (
	Light Side = "light"
	Dark  Side = "dark"
)

// Sides lists both sides in turn order.
var Sides = [2]Side{Light, Dark}

func (s Side) Valid() bool { return s == Light || s == Dark }

// Opponent returns the other side. An invalid side maps to itself.
func (s Side) Opponent() Side {
	switch s {
	case Light:
		return Dark
	case Dark:
		return Light
	default:
		return s
	}
}

// Forward is the rank delta a plain piece of this side moves by.
func (s Side) Forward() int {
	if s == Dark {
		return -1
	}
	return 1
}

// FarRank is the promotion rank index (0-based) for the side.
func (s Side) FarRank() int {
	if s == Dark {
		return 0
	}
	return Size - 1
}

// ParseSide accepts light/dark and the chess aliases white/black.
func ParseSide(v string) (Side, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "light", "l", "white", "w":
		return Light, true
	case "dark", "d", "black", "b":
		return Dark, true
	}
	return "", false
}

// Size is the number of files and ranks.
const Size = 8

// Square is a two character coordinate such as "c3".
type Square string

func (sq Square) Valid() bool {
	_, _, ok := SquareToFileRank(sq)
	return ok
}

func (sq Square) String() string { return string(sq) }

// SquareToFileRank converts "a1".."h8" into 0-based file and rank indexes.
func SquareToFileRank(sq Square) (file, rank int, ok bool) {
	if len(sq) != 2 {
		return 0, 0, false
	}
	f := int(sq[0]) - 'a'
	r := int(sq[1]) - '1'
	if f < 0 || f >= Size || r < 0 || r >= Size {
		return 0, 0, false
	}
	return f, r, true
}

// FileRankToSquare is the inverse of SquareToFileRank.
func FileRankToSquare(file, rank int) (Square, bool) {
	if file < 0 || file >= Size || rank < 0 || rank >= Size {
		return "", false
	}
	return Square([]byte{byte('a' + file), byte('1' + rank)}), true
}

// IsDarkSquare reports whether sq is a playable square. a1 is dark.
func IsDarkSquare(sq Square) bool {
	f, r, ok := SquareToFileRank(sq)
	if !ok {
		return false
	}
	return (f+r)%2 == 0
}

// AllSquares returns the 64 squares in rank-major order starting at a1.
func AllSquares() []Square {
	out := make([]Square, 0, Size*Size)
	for r := 0; r < Size; r++ {
		for f := 0; f < Size; f++ {
			sq, _ := FileRankToSquare(f, r)
			out = append(out, sq)
		}
	}
	return out
}

// Piece is a checker, or a chess piece when Kind is set.
type Piece struct {
	Color Side   `json:"color"`
	King  bool   `json:"king"`
	Kind  string `json:"kind,omitempty"`
}

// Board maps occupied squares to pieces. Absent squares are empty.
type Board map[Square]Piece

// Initial returns the checkers starting layout: light on ranks 1-3, dark on 6-8.
func Initial() Board {
	b := make(Board, 24)
	for _, sq := range AllSquares() {
		if !IsDarkSquare(sq) {
			continue
		}
		_, r, _ := SquareToFileRank(sq)
		switch {
		case r <= 2:
			b[sq] = Piece{Color: Light}
		case r >= 5:
			b[sq] = Piece{Color: Dark}
		}
	}
	return b
}

func (b Board) Clone() Board {
	out := make(Board, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

func (b Board) At(sq Square) (Piece, bool) {
	p, ok := b[sq]
	return p, ok
}

// Count returns how many pieces the side still has.
func (b Board) Count(side Side) int {
	n := 0
	for _, p := range b {
		if p.Color == side {
			n++
		}
	}
	return n
}

func (b Board) Equal(o Board) bool {
	if len(b) != len(o) {
		return false
	}
	for k, v := range b {
		if w, ok := o[k]; !ok || w != v {
			return false
		}
	}
	return true
}

// Placement is a single occupied square, as consumed by renderers.
type Placement struct {
	Square Square `json:"square"`
	Piece
}

// Pieces lists occupied squares in rank-major order.
func (b Board) Pieces() []Placement {
	out := make([]Placement, 0, len(b))
	for sq, p := range b {
		out = append(out, Placement{Square: sq, Piece: p})
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i].Square, out[j].Square) })
	return out
}

// SquaresOf lists squares holding pieces of the side in rank-major order.
func (b Board) SquaresOf(side Side) []Square {
	var out []Square
	for sq, p := range b {
		if p.Color == side {
			out = append(out, sq)
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func less(a, b Square) bool {
	af, ar, _ := SquareToFileRank(a)
	bf, br, _ := SquareToFileRank(b)
	if ar != br {
		return ar < br
	}
	return af < bf
}
