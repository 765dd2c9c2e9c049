// Package wire defines the JSON messages exchanged over a board connection.
package wire

import (
	"github.com/park285/boardroom/pkg/board"
	"github.com/park285/boardroom/pkg/clock"
)

// Variant names.
const (
	VariantCheckers = "checkers"
	VariantChess    = "chess"
)

// SeatInfo binds a connection to a side.
type SeatInfo struct {
	ConnectionID string `json:"connectionId"`
	PlayerID     string `json:"playerId,omitempty"`
	DisplayName  string `json:"displayName,omitempty"`
}

// Seats is the occupancy of both sides. Nil means empty.
type Seats struct {
	Light *SeatInfo `json:"light"`
	Dark  *SeatInfo `json:"dark"`
}

func (s Seats) Get(side board.Side) *SeatInfo {
	if side == board.Dark {
		return s.Dark
	}
	return s.Light
}

func (s *Seats) Set(side board.Side, info *SeatInfo) {
	if side == board.Dark {
		s.Dark = info
		return
	}
	s.Light = info
}

// OwnedBy lists the sides held by connID.
func (s Seats) OwnedBy(connID string) []board.Side {
	var out []board.Side
	if connID == "" {
		return out
	}
	for _, side := range board.Sides {
		if seat := s.Get(side); seat != nil && seat.ConnectionID == connID {
			out = append(out, side)
		}
	}
	return out
}

// Holds reports whether connID sits on side.
func (s Seats) Holds(side board.Side, connID string) bool {
	seat := s.Get(side)
	return seat != nil && connID != "" && seat.ConnectionID == connID
}

// Empty reports whether nobody is seated.
func (s Seats) Empty() bool { return s.Light == nil && s.Dark == nil }

func (s Seats) Equal(o Seats) bool {
	return seatEqual(s.Light, o.Light) && seatEqual(s.Dark, o.Dark)
}

func seatEqual(a, b *SeatInfo) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Clone deep-copies the seat pointers.
func (s Seats) Clone() Seats {
	out := Seats{}
	if s.Light != nil {
		v := *s.Light
		out.Light = &v
	}
	if s.Dark != nil {
		v := *s.Dark
		out.Dark = &v
	}
	return out
}

type ResultKind string

const (
	ResultWin     ResultKind = "win"
	ResultTimeout ResultKind = "timeout"
	ResultDraw    ResultKind = "draw"
)

// Result is terminal until the room is reset. Winner is empty for a draw.
type Result struct {
	Kind   ResultKind `json:"kind"`
	Winner board.Side `json:"winner,omitempty"`
}

type LastMove struct {
	From     board.Square   `json:"from"`
	To       board.Square   `json:"to"`
	Captured []board.Square `json:"captured,omitempty"`
}

// GameState is the authoritative snapshot of one board.
type GameState struct {
	GameID     string        `json:"gameId"`
	Variant    string        `json:"variant"`
	Seats      Seats         `json:"seats"`
	Board      board.Board   `json:"board"`
	FEN        string        `json:"fen,omitempty"`
	Turn       board.Side    `json:"turn"`
	Seq        int64         `json:"seq"`
	Clock      clock.State   `json:"clock"`
	Result     *Result       `json:"result"`
	LastMove   *LastMove     `json:"lastMove"`
	ForcedFrom *board.Square `json:"forcedFrom"`
	MoveCount  int           `json:"moveCount"`
	// Moves records accepted moves: "c3-d4"/"c3xe5" for checkers, UCI for chess.
	Moves       []string `json:"moves,omitempty"`
	StartedAtMs int64    `json:"startedAtMs,omitempty"`
}

// Finished reports whether a result is set.
func (g *GameState) Finished() bool { return g != nil && g.Result != nil }
