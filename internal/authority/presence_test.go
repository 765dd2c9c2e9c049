package authority

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/park285/boardroom/pkg/board"
	"github.com/park285/boardroom/pkg/wire"
)

type presenceCase struct {
	store    Store
	presence Presence
}

func presencesUnderTest(t *testing.T, now func() time.Time) map[string]presenceCase {
	t.Helper()
	rs, _ := newTestRedisStore(t)
	ms := NewMemoryStore()
	return map[string]presenceCase{
		"memory": {store: ms, presence: NewMemoryPresence(ms)},
		"redis":  {store: rs, presence: NewRedisPresence(rs.rdb, time.Minute, now)},
	}
}

func TestPresenceRejectsLiveDuplicate(t *testing.T) {
	for name, pc := range presencesUnderTest(t, nil) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := pc.presence.Acquire(ctx, room, "A"); err != nil {
				t.Fatalf("Acquire A: %v", err)
			}
			if _, err := pc.presence.Acquire(ctx, room, "A"); !errors.Is(err, ErrConnectionInUse) {
				t.Fatalf("duplicate Acquire: %v", err)
			}
			if _, err := pc.presence.Acquire(ctx, "other/room", "A"); err != nil {
				t.Fatalf("same id in another room: %v", err)
			}
			if err := pc.presence.Refresh(ctx, room, "A"); err != nil {
				t.Fatalf("Refresh: %v", err)
			}
			if _, err := pc.presence.Release(ctx, room, "A"); err != nil {
				t.Fatalf("Release: %v", err)
			}
			if _, err := pc.presence.Acquire(ctx, room, "A"); err != nil {
				t.Fatalf("Acquire after release: %v", err)
			}
		})
	}
}

func TestPresenceDeletesRoomWithLastConnection(t *testing.T) {
	for name, pc := range presencesUnderTest(t, nil) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := pc.store.Create(ctx, room, &wire.GameState{GameID: "g", Seq: 1}); err != nil {
				t.Fatalf("Create: %v", err)
			}
			for _, id := range []string{"A", "B"} {
				if _, err := pc.presence.Acquire(ctx, room, id); err != nil {
					t.Fatalf("Acquire %s: %v", id, err)
				}
			}
			closed, err := pc.presence.Release(ctx, room, "B")
			if err != nil || closed {
				t.Fatalf("Release B: closed=%v err=%v", closed, err)
			}
			if _, err := pc.store.Get(ctx, room); err != nil {
				t.Fatalf("room gone while A connected: %v", err)
			}
			closed, err = pc.presence.Release(ctx, room, "A")
			if err != nil || !closed {
				t.Fatalf("Release A: closed=%v err=%v", closed, err)
			}
			if _, err := pc.store.Get(ctx, room); !errors.Is(err, ErrRoomNotFound) {
				t.Fatalf("room kept after last release: %v", err)
			}
		})
	}
}

func TestRedisPresenceExpiresLostConnections(t *testing.T) {
	fc := &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
	rs, _ := newTestRedisStore(t)
	p := NewRedisPresence(rs.rdb, 10*time.Second, fc.Now)
	ctx := context.Background()

	if _, err := p.Acquire(ctx, room, "A"); err != nil {
		t.Fatalf("Acquire A: %v", err)
	}
	fc.Advance(5 * time.Second)
	if _, err := p.Acquire(ctx, room, "B"); err != nil {
		t.Fatalf("Acquire B: %v", err)
	}
	fc.Advance(6 * time.Second)
	if err := p.Refresh(ctx, room, "B"); err != nil {
		t.Fatalf("Refresh B: %v", err)
	}
	expired, err := p.Acquire(ctx, room, "A")
	if err != nil {
		t.Fatalf("Acquire A after lease end: %v", err)
	}
	if len(expired) != 1 || expired[0] != "A" {
		t.Fatalf("expired = %v", expired)
	}
	if _, err := p.Acquire(ctx, room, "B"); !errors.Is(err, ErrConnectionInUse) {
		t.Fatalf("refreshed B must stay live: %v", err)
	}
}

func TestAttachRejectsDuplicateConnection(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	if _, _, err := m.Attach(ctx, room, "A", ""); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if _, err := m.Join(ctx, room, "A", board.Light, "pa", "Ann"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if _, _, err := m.Attach(ctx, room, "A", ""); !errors.Is(err, ErrConnectionInUse) {
		t.Fatalf("second Attach with same id: %v", err)
	}
	st, err := m.Snapshot(ctx, room)
	if err != nil || st.Seats.Light == nil || st.Seats.Light.ConnectionID != "A" {
		t.Fatalf("seat lost: %+v %v", st, err)
	}
}

func TestAttachUnknownVariantRegistersNothing(t *testing.T) {
	m := NewManager(NewMemoryStore())
	ctx := context.Background()
	if _, _, err := m.Attach(ctx, room, "A", "go"); err == nil {
		t.Fatal("unknown variant accepted")
	}
	if _, _, err := m.Attach(ctx, room, "A", ""); err != nil {
		t.Fatalf("Attach after refused variant: %v", err)
	}
}

func TestDetachClosesRoomAfterLastConnection(t *testing.T) {
	m := NewManager(NewMemoryStore())
	ctx := context.Background()
	for _, id := range []string{"A", "B"} {
		if _, _, err := m.Attach(ctx, room, id, ""); err != nil {
			t.Fatalf("Attach %s: %v", id, err)
		}
	}
	if _, err := m.Join(ctx, room, "B", board.Dark, "", ""); err != nil {
		t.Fatalf("Join: %v", err)
	}
	out, err := m.Detach(ctx, room, "B")
	if err != nil || out.Change != ChangeSeats || out.State.Seats.Dark != nil {
		t.Fatalf("Detach B: %+v %v", out, err)
	}
	if _, err := m.Snapshot(ctx, room); err != nil {
		t.Fatalf("room gone while A attached: %v", err)
	}
	if _, err := m.Detach(ctx, room, "A"); err != nil {
		t.Fatalf("Detach A: %v", err)
	}
	if _, err := m.Snapshot(ctx, room); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("room kept: %v", err)
	}
}

func TestAttachFreesSeatsOfExpiredConnections(t *testing.T) {
	fc := &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
	rs, _ := newTestRedisStore(t)
	m := NewManager(rs, WithClock(fc.Now), WithPresence(NewRedisPresence(rs.rdb, 10*time.Second, fc.Now)))
	ctx := context.Background()

	if _, _, err := m.Attach(ctx, room, "A", ""); err != nil {
		t.Fatalf("Attach A: %v", err)
	}
	if _, err := m.Join(ctx, room, "A", board.Light, "", ""); err != nil {
		t.Fatalf("Join: %v", err)
	}
	fc.Advance(11 * time.Second)
	st, stale, err := m.Attach(ctx, room, "B", "")
	if err != nil {
		t.Fatalf("Attach B: %v", err)
	}
	if stale.Change != ChangeSeats || stale.State.Seats.Light != nil {
		t.Fatalf("stale outcome: %+v", stale)
	}
	if st.Seats.Light != nil || st.Seq != stale.State.Seq {
		t.Fatalf("state after expiry: seats=%+v seq=%d", st.Seats, st.Seq)
	}
}
