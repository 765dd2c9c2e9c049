// Package authority owns canonical room state: it validates intents, applies
// them through the shared rule engine and assigns sequence numbers.
package authority

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/boardroom/internal/obslog"
	"github.com/park285/boardroom/internal/variant"
	"github.com/park285/boardroom/pkg/board"
	"github.com/park285/boardroom/pkg/clock"
	"github.com/park285/boardroom/pkg/wire"
)

// Change tells the caller which event to broadcast.
type Change int

const (
	ChangeNone Change = iota
	ChangeSeats
	ChangeState
)

func (c Change) String() string {
	switch c {
	case ChangeSeats:
		return "seats"
	case ChangeState:
		return "state"
	default:
		return "none"
	}
}

// Outcome is the result of one accepted mutation. State is nil for ChangeNone.
type Outcome struct {
	State  *wire.GameState
	Change Change
}

// Event builds the broadcast frame for the outcome.
func (o Outcome) Event() (wire.Message, bool) {
	switch o.Change {
	case ChangeSeats:
		return wire.NewSeats(o.State.Seats, o.State.Seq), true
	case ChangeState:
		return wire.NewState(o.State), true
	default:
		return wire.Message{}, false
	}
}

type Option func(*Manager)

func WithArchive(a Archive) Option { return func(m *Manager) { m.archive = a } }

func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

func WithLogger(l *zap.Logger) Option { return func(m *Manager) { m.logger = l } }

// WithPresence replaces the in-process connection registry, e.g. with a
// RedisPresence when several processes share a RedisStore.
func WithPresence(p Presence) Option { return func(m *Manager) { m.presence = p } }

// WithDefaultControl sets the time control of new rooms. Invalid values are ignored.
func WithDefaultControl(baseSec, incSec int) Option {
	return func(m *Manager) {
		if clock.ValidBase(baseSec) && clock.ValidIncrement(incSec) {
			m.baseSec, m.incSec = baseSec, incSec
		}
	}
}

type Manager struct {
	store    Store
	presence Presence
	archive  Archive
	now      func() time.Time
	logger   *zap.Logger

	baseSec, incSec int
}

func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		now:     time.Now,
		baseSec: clock.DefaultBaseSeconds,
		incSec:  clock.DefaultIncrementSeconds,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = obslog.L()
	}
	if m.presence == nil {
		m.presence = NewMemoryPresence(store)
	}
	return m
}

func (m *Manager) nowMs() int64 { return m.now().UnixMilli() }

// Open returns the room state, creating a fresh game when the room is new.
// The variant of an existing room is kept.
func (m *Manager) Open(ctx context.Context, key, variantName string) (*wire.GameState, error) {
	v, err := variant.Lookup(variantName)
	if err != nil {
		return nil, err
	}
	c, err := clock.New(m.baseSec, m.incSec)
	if err != nil {
		return nil, err
	}
	st := &wire.GameState{GameID: uuid.NewString(), Seq: 1, Clock: c}
	v.Setup(st)
	return m.store.Create(ctx, key, st)
}

func (m *Manager) Snapshot(ctx context.Context, key string) (*wire.GameState, error) {
	return m.store.Get(ctx, key)
}

// Attach registers connID in the room and returns the state it should start
// from, creating the room when needed. Seats of connections whose lease ran
// out are freed first; stale carries that seats change, if any.
func (m *Manager) Attach(ctx context.Context, key, connID, variantName string) (st *wire.GameState, stale Outcome, err error) {
	if _, err := variant.Lookup(variantName); err != nil {
		return nil, Outcome{}, err
	}
	expired, acqErr := m.presence.Acquire(ctx, key, connID)
	for _, id := range expired {
		out, derr := m.Disconnect(ctx, key, id)
		if derr != nil && !errors.Is(derr, ErrRoomNotFound) {
			m.logger.Warn("room_expired_disconnect_failed", zap.String("room", key), zap.String("conn", id), zap.Error(derr))
			continue
		}
		if out.Change != ChangeNone {
			stale = out
		}
		m.logger.Info("room_conn_expired", zap.String("room", key), zap.String("conn", id))
	}
	if acqErr != nil {
		return nil, stale, acqErr
	}
	st, err = m.Open(ctx, key, variantName)
	if err != nil {
		if _, rerr := m.presence.Release(ctx, key, connID); rerr != nil {
			m.logger.Warn("room_release_failed", zap.String("room", key), zap.Error(rerr))
		}
		return nil, Outcome{}, err
	}
	return st, stale, nil
}

// KeepAlive extends connID's registration in the room.
func (m *Manager) KeepAlive(ctx context.Context, key, connID string) error {
	return m.presence.Refresh(ctx, key, connID)
}

// Detach frees connID's seats and unregisters it. The room is dropped once
// its last connection is gone, in whichever process that happens.
func (m *Manager) Detach(ctx context.Context, key, connID string) (Outcome, error) {
	out, err := m.Disconnect(ctx, key, connID)
	if err != nil && !errors.Is(err, ErrRoomNotFound) {
		m.logger.Warn("room_disconnect_failed", zap.String("room", key), zap.Error(err))
	}
	closed, rerr := m.presence.Release(ctx, key, connID)
	if rerr != nil {
		return out, rerr
	}
	if closed {
		m.logger.Info("room_close", zap.String("room", key))
	}
	return out, nil
}

// Handle dispatches a decoded client intent.
func (m *Manager) Handle(ctx context.Context, key, connID string, msg wire.Message) (Outcome, error) {
	switch msg.Type {
	case wire.TypeJoin:
		return m.Join(ctx, key, connID, msg.Side, msg.PlayerID, msg.Name)
	case wire.TypeLeave:
		return m.Leave(ctx, key, connID, msg.Side)
	case wire.TypeMove:
		return m.Move(ctx, key, connID, msg.From, msg.To)
	case wire.TypeSetTime:
		if msg.BaseSeconds == nil {
			return Outcome{}, clock.ErrInvalidControl
		}
		return m.SetTime(ctx, key, connID, *msg.BaseSeconds, msg.Increment())
	case wire.TypeReset:
		return m.Reset(ctx, key, connID)
	default:
		return Outcome{}, fmt.Errorf("%w: %s", ErrUnsupported, msg.Type)
	}
}

var errNoChange = errors.New("no change")

// mutate runs fn inside a store update. A ChangeNone result writes nothing.
// fn may return a change together with an error: the change is committed and
// the error is still reported.
func (m *Manager) mutate(ctx context.Context, key string, fn func(st *wire.GameState) (Change, error)) (Outcome, error) {
	var (
		change    Change
		reported  error
		finishing bool
	)
	st, err := m.store.Update(ctx, key, func(st *wire.GameState) error {
		wasFinished := st.Finished()
		c, ferr := fn(st)
		if c == ChangeNone {
			if ferr != nil {
				return ferr
			}
			return errNoChange
		}
		st.Seq++
		change, reported = c, ferr
		finishing = !wasFinished && st.Finished()
		return nil
	})
	if errors.Is(err, errNoChange) {
		return Outcome{}, nil
	}
	if err != nil {
		return Outcome{}, err
	}
	if finishing {
		m.persistIfFinal(ctx, key, st)
	}
	return Outcome{State: st, Change: change}, reported
}

func (m *Manager) Join(ctx context.Context, key, connID string, side board.Side, playerID, name string) (Outcome, error) {
	if !side.Valid() {
		return Outcome{}, ErrInvalidSide
	}
	out, err := m.mutate(ctx, key, func(st *wire.GameState) (Change, error) {
		seat := st.Seats.Get(side)
		if seat != nil && seat.ConnectionID != connID {
			return ChangeNone, ErrSeatTaken
		}
		next := &wire.SeatInfo{
			ConnectionID: connID,
			PlayerID:     strings.TrimSpace(playerID),
			DisplayName:  strings.TrimSpace(name),
		}
		if seat != nil && *seat == *next {
			return ChangeNone, nil
		}
		st.Seats.Set(side, next)
		return ChangeSeats, nil
	})
	if err == nil && out.Change != ChangeNone {
		m.logger.Info("room_join",
			zap.String("room", key),
			zap.String("conn_id", connID),
			zap.String("side", string(side)),
			zap.Int64("seq", out.State.Seq),
		)
	}
	return out, err
}

func (m *Manager) Leave(ctx context.Context, key, connID string, side board.Side) (Outcome, error) {
	if !side.Valid() {
		return Outcome{}, ErrInvalidSide
	}
	return m.mutate(ctx, key, func(st *wire.GameState) (Change, error) {
		if !st.Seats.Holds(side, connID) {
			return ChangeNone, ErrNotSeated
		}
		st.Seats.Set(side, nil)
		return ChangeSeats, nil
	})
}

// Disconnect frees every seat held by connID.
func (m *Manager) Disconnect(ctx context.Context, key, connID string) (Outcome, error) {
	return m.mutate(ctx, key, func(st *wire.GameState) (Change, error) {
		owned := st.Seats.OwnedBy(connID)
		if len(owned) == 0 {
			return ChangeNone, nil
		}
		for _, side := range owned {
			st.Seats.Set(side, nil)
		}
		return ChangeSeats, nil
	})
}

func (m *Manager) Move(ctx context.Context, key, connID string, from, to board.Square) (Outcome, error) {
	out, err := m.mutate(ctx, key, func(st *wire.GameState) (Change, error) {
		if st.Result != nil {
			return ChangeNone, ErrGameOver
		}
		now := m.nowMs()
		if side, expired := st.Clock.Expired(now); expired {
			m.timeout(st, side, now)
			return ChangeState, ErrGameOver
		}
		if len(st.Seats.OwnedBy(connID)) == 0 {
			return ChangeNone, ErrNotSeated
		}
		if !st.Seats.Holds(st.Turn, connID) {
			return ChangeNone, ErrNotYourTurn
		}
		v, err := variant.Lookup(st.Variant)
		if err != nil {
			return ChangeNone, err
		}
		mover := st.Turn
		passed, err := v.Apply(st, from, to)
		if err != nil {
			return ChangeNone, fmt.Errorf("%w: %v", ErrIllegalMove, err)
		}
		st.MoveCount++
		if st.StartedAtMs == 0 {
			st.StartedAtMs = now
		}
		switch {
		case st.Result != nil:
			st.Clock = st.Clock.Stop(now)
		case passed:
			st.Clock = st.Clock.Switch(now, st.Turn)
		case !st.Clock.Running:
			st.Clock = st.Clock.Start(now, mover)
		}
		return ChangeState, nil
	})
	if err == nil && out.State != nil {
		m.logger.Info("room_move",
			zap.String("room", key),
			zap.String("conn_id", connID),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
			zap.String("turn", string(out.State.Turn)),
			zap.Bool("forced", out.State.ForcedFrom != nil),
			zap.Int64("seq", out.State.Seq),
		)
	}
	return out, err
}

// mayConfigure allows seated players, or anyone while both seats are empty.
func mayConfigure(st *wire.GameState, connID string) bool {
	return st.Seats.Empty() || len(st.Seats.OwnedBy(connID)) > 0
}

func (m *Manager) SetTime(ctx context.Context, key, connID string, baseSec, incSec int) (Outcome, error) {
	next, err := clock.New(baseSec, incSec)
	if err != nil {
		return Outcome{}, err
	}
	return m.mutate(ctx, key, func(st *wire.GameState) (Change, error) {
		if !mayConfigure(st, connID) {
			return ChangeNone, ErrForbidden
		}
		if !clock.CanConfigure(st.Clock, st.MoveCount, st.Turn) {
			return ChangeNone, ErrClockLocked
		}
		if b, i := st.Clock.Control(); b == baseSec && i == incSec {
			return ChangeNone, nil
		}
		st.Clock = next
		return ChangeState, nil
	})
}

// Reset starts a new game on the same board. Seats and time control are kept.
func (m *Manager) Reset(ctx context.Context, key, connID string) (Outcome, error) {
	out, err := m.mutate(ctx, key, func(st *wire.GameState) (Change, error) {
		if !mayConfigure(st, connID) {
			return ChangeNone, ErrForbidden
		}
		v, err := variant.Lookup(st.Variant)
		if err != nil {
			return ChangeNone, err
		}
		c, err := clock.New(st.Clock.Control())
		if err != nil {
			c, _ = clock.New(m.baseSec, m.incSec)
		}
		v.Setup(st)
		st.GameID = uuid.NewString()
		st.Clock = c
		st.Result = nil
		st.MoveCount = 0
		st.StartedAtMs = 0
		return ChangeState, nil
	})
	if err == nil && out.State != nil {
		m.logger.Info("room_reset", zap.String("room", key), zap.String("game_id", out.State.GameID))
	}
	return out, err
}

// Tick converts an exhausted clock into a timeout result.
func (m *Manager) Tick(ctx context.Context, key string) (Outcome, error) {
	now := m.nowMs()
	cur, err := m.store.Get(ctx, key)
	if err != nil {
		return Outcome{}, err
	}
	if cur.Finished() {
		return Outcome{}, nil
	}
	if _, expired := cur.Clock.Expired(now); !expired {
		return Outcome{}, nil
	}
	return m.mutate(ctx, key, func(st *wire.GameState) (Change, error) {
		if st.Result != nil {
			return ChangeNone, nil
		}
		side, expired := st.Clock.Expired(now)
		if !expired {
			return ChangeNone, nil
		}
		m.timeout(st, side, now)
		return ChangeState, nil
	})
}

func (m *Manager) timeout(st *wire.GameState, loser board.Side, now int64) {
	st.Clock = st.Clock.Stop(now)
	st.ForcedFrom = nil
	st.Result = &wire.Result{Kind: wire.ResultTimeout, Winner: loser.Opponent()}
}

func (m *Manager) persistIfFinal(ctx context.Context, key string, st *wire.GameState) {
	m.logger.Info("room_result",
		zap.String("room", key),
		zap.String("game_id", st.GameID),
		zap.String("kind", string(st.Result.Kind)),
		zap.String("winner", string(st.Result.Winner)),
		zap.Int("moves", st.MoveCount),
	)
	if m.archive == nil {
		return
	}
	if err := m.archive.SaveResult(ctx, key, st, m.now()); err != nil {
		m.logger.Warn("room_archive_failed", zap.String("room", key), zap.Error(err))
	}
}
