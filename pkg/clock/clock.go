// Package clock models the per-side countdown shared by the room server and
// clients. Times are unix milliseconds.
package clock

import (
	"errors"
	"fmt"

	"github.com/park285/boardroom/pkg/board"
)

var ErrInvalidControl = errors.New("invalid time control")

// Allowed time controls, in seconds.
var (
	BaseSeconds      = []int{60, 180, 300, 600, 900}
	IncrementSeconds = []int{0, 1, 2, 3, 5, 10}
)

const (
	DefaultBaseSeconds      = 300
	DefaultIncrementSeconds = 0
)

func ValidBase(sec int) bool      { return contains(BaseSeconds, sec) }
func ValidIncrement(sec int) bool { return contains(IncrementSeconds, sec) }

func contains(set []int, v int) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// Remaining holds per-side milliseconds.
type Remaining struct {
	Light int64 `json:"light"`
	Dark  int64 `json:"dark"`
}

func (r Remaining) Get(side board.Side) int64 {
	if side == board.Dark {
		return r.Dark
	}
	return r.Light
}

func (r *Remaining) Set(side board.Side, ms int64) {
	if side == board.Dark {
		r.Dark = ms
		return
	}
	r.Light = ms
}

// State is the wire form of a clock. RemainingMs of the active side is only
// a snapshot taken at LastTickMs while running.
type State struct {
	BaseMs      int64      `json:"baseMs"`
	IncrementMs int64      `json:"incrementMs"`
	RemainingMs Remaining  `json:"remainingMs"`
	Running     bool       `json:"running"`
	Active      board.Side `json:"active"`
	LastTickMs  *int64     `json:"lastTickMs"`
}

// New returns a stopped clock with both sides at the base time.
func New(baseSec, incSec int) (State, error) {
	if !ValidBase(baseSec) || !ValidIncrement(incSec) {
		return State{}, fmt.Errorf("%w: base=%d increment=%d", ErrInvalidControl, baseSec, incSec)
	}
	base := int64(baseSec) * 1000
	return State{
		BaseMs:      base,
		IncrementMs: int64(incSec) * 1000,
		RemainingMs: Remaining{Light: base, Dark: base},
		Active:      board.Light,
	}, nil
}

// Control returns the configured base and increment in seconds.
func (c State) Control() (baseSec, incSec int) {
	return int(c.BaseMs / 1000), int(c.IncrementMs / 1000)
}

// Projection is the clock as it should be displayed at a given instant.
type Projection struct {
	Remaining Remaining
	// Active is nil while the clock is stopped.
	Active *board.Side
}

// Project computes display time without mutating c.
func Project(c State, nowMs int64) Projection {
	p := Projection{Remaining: c.RemainingMs}
	if !c.Running {
		return p
	}
	active := c.Active
	p.Active = &active
	p.Remaining.Set(active, charge(c.RemainingMs.Get(active), c.LastTickMs, nowMs))
	return p
}

func charge(remaining int64, lastTick *int64, nowMs int64) int64 {
	if lastTick == nil {
		return max(remaining, 0)
	}
	elapsed := max(nowMs-*lastTick, 0)
	return max(remaining-elapsed, 0)
}

// CanConfigure reports whether the time control may still change: the clock
// is stopped, no move was played and light is to move.
func CanConfigure(c State, moveCount int, turn board.Side) bool {
	return !c.Running && moveCount == 0 && turn == board.Light
}

// Start runs the clock for active from nowMs.
func (c State) Start(nowMs int64, active board.Side) State {
	c.Running = true
	c.Active = active
	t := nowMs
	c.LastTickMs = &t
	return c
}

// Switch charges elapsed time to the running side, credits its increment and
// hands the clock to next. A stopped clock is simply started for next.
func (c State) Switch(nowMs int64, next board.Side) State {
	if !c.Running {
		return c.Start(nowMs, next)
	}
	mover := c.Active
	c.RemainingMs.Set(mover, charge(c.RemainingMs.Get(mover), c.LastTickMs, nowMs)+c.IncrementMs)
	return c.Start(nowMs, next)
}

// Stop freezes the clock, charging the running side.
func (c State) Stop(nowMs int64) State {
	if !c.Running {
		return c
	}
	c.RemainingMs.Set(c.Active, charge(c.RemainingMs.Get(c.Active), c.LastTickMs, nowMs))
	c.Running = false
	c.LastTickMs = nil
	return c
}

// Expired returns the side whose time ran out, if any.
func (c State) Expired(nowMs int64) (board.Side, bool) {
	if !c.Running {
		return "", false
	}
	if charge(c.RemainingMs.Get(c.Active), c.LastTickMs, nowMs) > 0 {
		return "", false
	}
	return c.Active, true
}
