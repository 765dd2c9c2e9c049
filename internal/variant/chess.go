package variant

import (
	"fmt"

	nchess "github.com/corentings/chess/v2"

	"github.com/park285/boardroom/pkg/board"
	"github.com/park285/boardroom/pkg/rules"
	"github.com/park285/boardroom/pkg/wire"
)

// Chess is the sibling game. Light plays white. Positions are rebuilt by
// replaying the UCI move record so repetition draws are detected.
type Chess struct{}

func (Chess) Name() string { return wire.VariantChess }

func (Chess) Setup(st *wire.GameState) {
	st.Variant = wire.VariantChess
	st.Moves = nil
	st.ForcedFrom = nil
	st.LastMove = nil
	syncChess(st, nchess.NewGame())
}

// LegalMoves never sets HasCapture: chess has no forced capture, so captures
// are marked per move only.
func (Chess) LegalMoves(st *wire.GameState) rules.Result {
	game, err := replay(st.Moves)
	if err != nil {
		return rules.Result{}
	}
	res := rules.Result{}
	seen := make(map[string]bool)
	for _, mv := range game.ValidMoves() {
		from := board.Square(mv.S1().String())
		to := board.Square(mv.S2().String())
		k := string(from) + string(to)
		if seen[k] {
			// promotions repeat from/to; queen is implied
			continue
		}
		seen[k] = true
		capture := mv.HasTag(nchess.Capture) || mv.HasTag(nchess.EnPassant)
		m := rules.Move{From: from, To: to, IsCapture: capture}
		if capture {
			m.Captured = []board.Square{capturedSquare(st.Board, from, to)}
		}
		res.Moves = append(res.Moves, m)
	}
	return res
}

func (c Chess) Apply(st *wire.GameState, from, to board.Square) (bool, error) {
	game, err := replay(st.Moves)
	if err != nil {
		return false, err
	}
	legal, ok := c.LegalMoves(st).Find(from, to)
	if !ok {
		return false, fmt.Errorf("%w: %s-%s", rules.ErrIllegalMove, from, to)
	}
	uci := string(from) + string(to)
	if err := game.PushNotationMove(uci, nchess.UCINotation{}, nil); err != nil {
		// 승급은 퀸으로 고정
		uci += "q"
		if err := game.PushNotationMove(uci, nchess.UCINotation{}, nil); err != nil {
			return false, fmt.Errorf("%w: %s", rules.ErrIllegalMove, uci)
		}
	}
	st.Moves = append(st.Moves, uci)
	st.LastMove = &wire.LastMove{From: from, To: to, Captured: legal.Captured}
	syncChess(st, game)

	switch game.Outcome() {
	case nchess.WhiteWon:
		st.Result = &wire.Result{Kind: wire.ResultWin, Winner: board.Light}
	case nchess.BlackWon:
		st.Result = &wire.Result{Kind: wire.ResultWin, Winner: board.Dark}
	case nchess.Draw:
		st.Result = &wire.Result{Kind: wire.ResultDraw}
	}
	return true, nil
}

func replay(moves []string) (*nchess.Game, error) {
	game := nchess.NewGame()
	for _, uci := range moves {
		if err := game.PushNotationMove(uci, nchess.UCINotation{}, nil); err != nil {
			return nil, fmt.Errorf("replay %s: %w", uci, err)
		}
	}
	return game, nil
}

func syncChess(st *wire.GameState, game *nchess.Game) {
	pos := game.Position()
	st.FEN = game.FEN()
	st.Turn = board.Light
	if pos.Turn() == nchess.Black {
		st.Turn = board.Dark
	}
	b := make(board.Board, 32)
	for sq, piece := range pos.Board().SquareMap() {
		if piece == nchess.NoPiece {
			continue
		}
		color := board.Light
		if piece.Color() == nchess.Black {
			color = board.Dark
		}
		b[board.Square(sq.String())] = board.Piece{Color: color, Kind: pieceKind(piece.Type())}
	}
	st.Board = b
}

func pieceKind(t nchess.PieceType) string {
	switch t {
	case nchess.King:
		return "k"
	case nchess.Queen:
		return "q"
	case nchess.Rook:
		return "r"
	case nchess.Bishop:
		return "b"
	case nchess.Knight:
		return "n"
	default:
		return "p"
	}
}

// capturedSquare is the target square, or the passed pawn for en passant.
func capturedSquare(b board.Board, from, to board.Square) board.Square {
	if _, ok := b[to]; ok {
		return to
	}
	tf, _, _ := board.SquareToFileRank(to)
	_, fr, _ := board.SquareToFileRank(from)
	sq, _ := board.FileRankToSquare(tf, fr)
	return sq
}
