package client

import (
	"time"

	"github.com/park285/boardroom/internal/transport"
	"github.com/park285/boardroom/pkg/board"
	"github.com/park285/boardroom/pkg/clock"
	"github.com/park285/boardroom/pkg/wire"
)

// View is a render snapshot. It shares nothing with the session.
type View struct {
	Key          string
	Variant      string
	Phase        Phase
	Mode         Mode
	Seq          int64
	MoveCount    int
	Pieces       []board.Placement
	Turn         board.Side
	Seats        wire.Seats
	MySides      []board.Side
	Selected     *board.Square
	LegalTargets []board.Square
	ForcedFrom   *board.Square
	LastMove     *wire.LastMove
	Result       *wire.Result
	Clock        clock.Projection
	// Warning is true on the frame the active side drops under the low-time threshold.
	Warning      bool
	Pulse        bool
	Joining      *board.Side
	CanConfigure bool
}

// View projects the session for rendering at now. Calling it advances the
// low-time warning edge, so one renderer should own it.
func (s *Session) View(now time.Time) View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		Key:          s.Key(),
		Variant:      s.cfg.Variant,
		Phase:        s.phaseLocked(),
		Mode:         s.modeLocked(),
		Seq:          s.seq,
		Seats:        s.seats.Clone(),
		MySides:      s.seats.OwnedBy(s.cfg.ConnectionID),
		Selected:     copySquare(s.selected),
		LegalTargets: append([]board.Square(nil), s.targets...),
		Pulse:        s.pulse,
		CanConfigure: s.mayConfigureLocked(),
	}
	if s.joining != nil {
		side := *s.joining
		v.Joining = &side
	}
	st := s.state
	if st == nil {
		return v
	}
	if st.Variant != "" {
		v.Variant = st.Variant
	}
	v.Pieces = st.Board.Pieces()
	v.Turn = st.Turn
	v.MoveCount = st.MoveCount
	v.ForcedFrom = copySquare(st.ForcedFrom)
	if st.LastMove != nil {
		lm := *st.LastMove
		lm.Captured = append([]board.Square(nil), lm.Captured...)
		v.LastMove = &lm
	}
	if st.Result != nil {
		r := *st.Result
		v.Result = &r
	}
	v.Clock = clock.Project(st.Clock, now.UnixMilli())
	v.Warning = s.warn.Observe(v.Clock)
	v.CanConfigure = v.CanConfigure && clock.CanConfigure(st.Clock, st.MoveCount, st.Turn)
	return v
}

// Phase is the current connection phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phaseLocked()
}

func (s *Session) phaseLocked() Phase {
	switch s.trState {
	case transport.StateConnected:
		if len(s.seats.OwnedBy(s.cfg.ConnectionID)) > 0 {
			return PhaseSeated
		}
		return PhaseSpectating
	case transport.StateConnecting, transport.StateReconnecting:
		return PhaseConnecting
	default:
		return PhaseDisconnected
	}
}

func copySquare(sq *board.Square) *board.Square {
	if sq == nil {
		return nil
	}
	v := *sq
	return &v
}

// Current is View at the session clock.
func (s *Session) Current() View { return s.View(s.now()) }
