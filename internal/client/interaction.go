package client

import (
	"github.com/park285/boardroom/internal/transport"
	"github.com/park285/boardroom/internal/variant"
	"github.com/park285/boardroom/pkg/board"
	"github.com/park285/boardroom/pkg/rules"
	"github.com/park285/boardroom/pkg/wire"
)

// PickSquare is a click on sq. It returns true only when a move intent was sent.
//
//	idle             own movable piece selects it
//	piece-selected   a target sends the move, anything else deselects
//	forced           only continuation targets are accepted
func (s *Session) PickSquare(sq board.Square) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil || !sq.Valid() {
		return false
	}
	switch s.modeLocked() {
	case ModeForcedContinuation:
		if s.selected == nil || !s.canMoveLocked() || !containsSquare(s.targets, sq) {
			return false
		}
		s.enqueueLocked(wire.NewMove(*s.selected, sq))
		return true
	case ModePieceSelected:
		from := *s.selected
		hit := containsSquare(s.targets, sq)
		s.clearSelectionLocked()
		if !hit || !s.canMoveLocked() {
			return false
		}
		s.enqueueLocked(wire.NewMove(from, sq))
		return true
	default:
		if !s.canMoveLocked() {
			return false
		}
		legal, _ := s.legalLocked()
		moves := legal.From(sq)
		if len(moves) == 0 {
			return false
		}
		sel := sq
		s.selected = &sel
		s.targets = targetsOf(moves)
		return false
	}
}

// Move sends from-to directly if it is legal for the local player now.
func (s *Session) Move(from, to board.Square) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.canMoveLocked() {
		return false
	}
	legal, _ := s.legalLocked()
	if _, ok := legal.Find(from, to); !ok {
		return false
	}
	if s.forcedKey == "" {
		s.clearSelectionLocked()
	}
	s.enqueueLocked(wire.NewMove(from, to))
	return true
}

// CancelSelection drops a free selection. A forced pin stays.
func (s *Session) CancelSelection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.forcedKey == "" {
		s.clearSelectionLocked()
	}
}

func (s *Session) modeLocked() Mode {
	switch {
	case s.forcedKey != "":
		return ModeForcedContinuation
	case s.selected != nil:
		return ModePieceSelected
	default:
		return ModeIdle
	}
}

func (s *Session) legalLocked() (rules.Result, bool) {
	if s.state == nil || s.state.Finished() {
		return rules.Result{}, false
	}
	v, err := variant.Lookup(s.state.Variant)
	if err != nil {
		return rules.Result{}, false
	}
	return v.LegalMoves(s.state), true
}

func (s *Session) holdsTurnLocked() bool {
	return s.state != nil && s.seats.Holds(s.state.Turn, s.cfg.ConnectionID)
}

func (s *Session) canMoveLocked() bool {
	return s.trState == transport.StateConnected && s.state != nil && !s.state.Finished() && s.holdsTurnLocked()
}

// reevaluateLocked runs after every applied snapshot.
func (s *Session) reevaluateLocked() {
	st := s.state
	if key := forcedIdentity(st); key != "" {
		if key != s.forcedKey {
			s.forcedKey = key
			s.startPulseLocked()
		}
		sq := *st.ForcedFrom
		legal, _ := s.legalLocked()
		s.selected = &sq
		s.targets = targetsOf(legal.From(sq))
		return
	}
	if s.forcedKey != "" {
		// 연속 점프 종료
		s.forcedKey = ""
		s.clearSelectionLocked()
	}
	if s.selected == nil {
		return
	}
	if !s.canMoveLocked() {
		s.clearSelectionLocked()
		return
	}
	legal, _ := s.legalLocked()
	moves := legal.From(*s.selected)
	if len(moves) == 0 {
		s.clearSelectionLocked()
		return
	}
	s.targets = targetsOf(moves)
}

// forcedIdentity names one continuation. A new jump into the same square
// differs by its last move.
func forcedIdentity(st *wire.GameState) string {
	if st == nil || st.ForcedFrom == nil || st.Finished() {
		return ""
	}
	id := st.GameID + "|" + string(*st.ForcedFrom)
	if lm := st.LastMove; lm != nil {
		id += "|" + string(lm.From) + ">" + string(lm.To)
	}
	return id
}

func (s *Session) startPulseLocked() {
	if s.pulseTimer != nil {
		s.pulseTimer.Stop()
	}
	s.pulse = true
	s.pulseID++
	id := s.pulseID
	s.pulseTimer = s.sched.AfterFunc(PulseDuration, func() {
		s.mu.Lock()
		if s.pulseID == id {
			s.pulse = false
			s.pulseTimer = nil
		}
		s.mu.Unlock()
	})
}

func (s *Session) clearPulseLocked() {
	if s.pulseTimer != nil {
		s.pulseTimer.Stop()
		s.pulseTimer = nil
	}
	s.pulse = false
	s.pulseID++
}

func (s *Session) clearSelectionLocked() {
	s.selected = nil
	s.targets = nil
}

func targetsOf(moves []rules.Move) []board.Square {
	out := make([]board.Square, 0, len(moves))
	for _, m := range moves {
		if !containsSquare(out, m.To) {
			out = append(out, m.To)
		}
	}
	return out
}

func containsSquare(set []board.Square, sq board.Square) bool {
	for _, v := range set {
		if v == sq {
			return true
		}
	}
	return false
}
