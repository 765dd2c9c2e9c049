package client

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/park285/boardroom/internal/layout"
	"github.com/park285/boardroom/internal/transport"
	"github.com/park285/boardroom/pkg/board"
	"github.com/park285/boardroom/pkg/clock"
	"github.com/park285/boardroom/pkg/wire"
)

// manualScheduler runs tasks only when the test advances time.
type manualScheduler struct {
	mu    sync.Mutex
	now   time.Duration
	seq   int
	tasks []*manualTask
}

type manualTask struct {
	s       *manualScheduler
	at      time.Duration
	order   int
	f       func()
	stopped bool
}

func (t *manualTask) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	return true
}

func (s *manualScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	t := &manualTask{s: s, at: s.now + d, order: s.seq, f: f}
	s.tasks = append(s.tasks, t)
	return t
}

// Advance moves time forward by d, running every due task in order. Tasks
// scheduled by a running task also run if they fall due.
func (s *manualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now + d
	s.mu.Unlock()
	for {
		s.mu.Lock()
		sort.SliceStable(s.tasks, func(i, j int) bool {
			if s.tasks[i].at != s.tasks[j].at {
				return s.tasks[i].at < s.tasks[j].at
			}
			return s.tasks[i].order < s.tasks[j].order
		})
		var next *manualTask
		for len(s.tasks) > 0 {
			head := s.tasks[0]
			if head.stopped {
				s.tasks = s.tasks[1:]
				continue
			}
			if head.at <= target {
				next = head
				s.tasks = s.tasks[1:]
				next.stopped = true
				if head.at > s.now {
					s.now = head.at
				}
			}
			break
		}
		if next == nil {
			s.now = target
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		next.f()
	}
}

// fakeTransport records sends and lets tests push frames and state changes.
type fakeTransport struct {
	mu       sync.Mutex
	url      string
	state    transport.State
	nextID   int
	msgCbs   map[int]transport.MessageCallback
	stateCbs map[int]transport.StateCallback
	sent     [][]byte
	connects int
	closed   bool
	// failConnect makes Connect fail; hold keeps it pending until finishConnect.
	failConnect error
	hold        bool
	// retryOnFail moves a failed Connect on to a background reconnect.
	retryOnFail bool
}

func newFakeTransport(url string) *fakeTransport {
	return &fakeTransport{
		url:      url,
		msgCbs:   make(map[int]transport.MessageCallback),
		stateCbs: make(map[int]transport.StateCallback),
	}
}

func (f *fakeTransport) Connect(context.Context) error {
	f.mu.Lock()
	f.connects++
	fail, hold, retry := f.failConnect, f.hold, f.retryOnFail
	f.mu.Unlock()
	f.setState(transport.StateConnecting)
	if fail != nil {
		f.setState(transport.StateFailed)
		if retry {
			f.setState(transport.StateReconnecting)
		}
		return fail
	}
	if hold {
		return nil
	}
	f.setState(transport.StateConnected)
	return nil
}

func (f *fakeTransport) finishConnect() { f.setState(transport.StateConnected) }

func (f *fakeTransport) drop() { f.setState(transport.StateReconnecting) }

func (f *fakeTransport) Send(_ context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return transport.ErrClosed
	}
	if f.state != transport.StateConnected {
		return transport.ErrNotConnected
	}
	f.sent = append(f.sent, append([]byte(nil), data...))
	return nil
}

func (f *fakeTransport) OnMessage(cb transport.MessageCallback) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.msgCbs[f.nextID] = cb
	return f.nextID
}

func (f *fakeTransport) RemoveMessageCallback(id int) {
	f.mu.Lock()
	delete(f.msgCbs, id)
	f.mu.Unlock()
}

func (f *fakeTransport) OnStateChange(cb transport.StateCallback) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.stateCbs[f.nextID] = cb
	return f.nextID
}

func (f *fakeTransport) RemoveStateCallback(id int) {
	f.mu.Lock()
	delete(f.stateCbs, id)
	f.mu.Unlock()
}

func (f *fakeTransport) State() transport.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeTransport) Close(context.Context) error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.setState(transport.StateDisconnected)
	return nil
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) setState(st transport.State) {
	f.mu.Lock()
	f.state = st
	cbs := make([]transport.StateCallback, 0, len(f.stateCbs))
	for _, cb := range f.stateCbs {
		cbs = append(cbs, cb)
	}
	f.mu.Unlock()
	for _, cb := range cbs {
		cb(st)
	}
}

// deliver pushes a frame even after Close, like a late read.
func (f *fakeTransport) deliver(t *testing.T, m wire.Message) {
	t.Helper()
	data, err := wire.Encode(m)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	f.deliverRaw(data)
}

func (f *fakeTransport) deliverRaw(data []byte) {
	f.mu.Lock()
	cbs := make([]transport.MessageCallback, 0, len(f.msgCbs))
	for _, cb := range f.msgCbs {
		cbs = append(cbs, cb)
	}
	f.mu.Unlock()
	for _, cb := range cbs {
		cb(data)
	}
}

func (f *fakeTransport) sentMessages(t *testing.T) []wire.Message {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]wire.Message, 0, len(f.sent))
	for _, raw := range f.sent {
		m, err := wire.Decode(raw)
		if err != nil {
			t.Fatalf("decode sent frame %s: %v", raw, err)
		}
		out = append(out, m)
	}
	return out
}

const me = "me"

type harness struct {
	t     *testing.T
	sched *manualScheduler

	mu     sync.Mutex
	dialed map[string][]*fakeTransport
	// prepare is applied to each new transport before it is returned.
	prepare func(*fakeTransport)
}

func newHarness(t *testing.T) *harness {
	return &harness{t: t, sched: &manualScheduler{}, dialed: make(map[string][]*fakeTransport)}
}

func (h *harness) session(room, boardName string, extra ...Option) *Session {
	h.t.Helper()
	cfg := Config{
		ServerURL:    "http://boards.test",
		Room:         room,
		Board:        boardName,
		PlayerID:     "p1",
		Name:         "Me",
		ConnectionID: me,
		Origin:       layout.Point{},
		Radius:       6,
	}
	key := room + "/" + boardName
	opts := []Option{
		WithScheduler(h.sched),
		WithLogger(zap.NewNop()),
		WithDialer(func(u string) transport.Client {
			ft := newFakeTransport(u)
			h.mu.Lock()
			if h.prepare != nil {
				h.prepare(ft)
			}
			h.dialed[key] = append(h.dialed[key], ft)
			h.mu.Unlock()
			return ft
		}),
	}
	s, err := NewSession(cfg, append(opts, extra...)...)
	if err != nil {
		h.t.Fatalf("NewSession: %v", err)
	}
	return s
}

func (h *harness) transports(key string) []*fakeTransport {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*fakeTransport(nil), h.dialed[key]...)
}

func (h *harness) last(key string) *fakeTransport {
	h.t.Helper()
	all := h.transports(key)
	if len(all) == 0 {
		h.t.Fatalf("no transport dialed for %s", key)
	}
	return all[len(all)-1]
}

// connect enables the session, walks into range and lets the dial finish.
func (h *harness) connect(s *Session) *fakeTransport {
	h.t.Helper()
	s.SetEnabled(true)
	s.UpdatePosition(layout.Point{X: 1})
	h.sched.Advance(0)
	if p := s.Phase(); p != PhaseSpectating && p != PhaseSeated {
		h.t.Fatalf("phase after connect = %v", p)
	}
	return h.last(s.Key())
}

func newState(seq int64, mutate func(*wire.GameState)) wire.Message {
	c, _ := clock.New(300, 0)
	st := &wire.GameState{
		GameID:  "g1",
		Variant: wire.VariantCheckers,
		Board:   board.Initial(),
		Turn:    board.Light,
		Seq:     seq,
		Clock:   c,
	}
	if mutate != nil {
		mutate(st)
	}
	return wire.NewState(st)
}

func seat(conn string) *wire.SeatInfo {
	return &wire.SeatInfo{ConnectionID: conn, PlayerID: conn, DisplayName: conn}
}

func sq(s string) *board.Square {
	v := board.Square(s)
	return &v
}

var errDialRefused = errors.New("dial refused")
