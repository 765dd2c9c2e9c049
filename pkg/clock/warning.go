package clock

import "github.com/park285/boardroom/pkg/board"

// WarningThresholdMs is the low-time alert level.
const WarningThresholdMs int64 = 30_000

// WarningTracker turns projections into a one-shot low-time signal per side.
// It re-arms when the side's time goes back above the threshold.
type WarningTracker struct {
	below map[board.Side]bool
}

// Observe returns true exactly once when the active side crosses below the threshold.
func (w *WarningTracker) Observe(p Projection) bool {
	if w.below == nil {
		w.below = make(map[board.Side]bool, 2)
	}
	for _, side := range board.Sides {
		if p.Remaining.Get(side) >= WarningThresholdMs {
			w.below[side] = false
		}
	}
	if p.Active == nil {
		return false
	}
	side := *p.Active
	if p.Remaining.Get(side) >= WarningThresholdMs || w.below[side] {
		return false
	}
	w.below[side] = true
	return true
}

// Reset re-arms both sides.
func (w *WarningTracker) Reset() { w.below = nil }
