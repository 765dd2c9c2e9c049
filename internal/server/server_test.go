package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/park285/boardroom/internal/authority"
	"github.com/park285/boardroom/pkg/board"
	"github.com/park285/boardroom/pkg/wire"
)

type testEnv struct {
	srv    *httptest.Server
	mgr    *authority.Manager
	broker *Broker
}

func newTestEnv(t *testing.T, d Deps) *testEnv {
	t.Helper()
	if d.Manager == nil {
		d.Manager = authority.NewManager(authority.NewMemoryStore(), authority.WithLogger(zap.NewNop()))
	}
	if d.Broker == nil {
		d.Broker = NewBroker()
	}
	d.Logger = zap.NewNop()
	srv := httptest.NewServer(NewHandler(d))
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, mgr: d.Manager, broker: d.Broker}
}

func (e *testEnv) dial(t *testing.T, ctx context.Context, path string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, "ws"+e.srv.URL[len("http"):]+path, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func send(t *testing.T, ctx context.Context, conn *websocket.Conn, msg wire.Message) {
	t.Helper()
	data, err := wire.Encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func recv(t *testing.T, ctx context.Context, conn *websocket.Conn) wire.Message {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	msg, err := wire.Decode(data)
	if err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return msg
}

func TestWebSocketRoomFlow(t *testing.T) {
	env := newTestEnv(t, Deps{})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a := env.dial(t, ctx, "/ws/lobby/b1?id=A")
	if m := recv(t, ctx, a); m.Type != wire.TypeState || m.State.Seq != 1 || m.State.Variant != wire.VariantCheckers {
		t.Fatalf("initial frame: %+v", m)
	}
	b := env.dial(t, ctx, "/ws/lobby/b1?id=B")
	if m := recv(t, ctx, b); m.Type != wire.TypeState || m.State.Seq != 1 {
		t.Fatalf("initial frame: %+v", m)
	}

	send(t, ctx, a, wire.NewJoin(board.Light, "pa", "Ann"))
	for _, c := range []*websocket.Conn{a, b} {
		m := recv(t, ctx, c)
		if m.Type != wire.TypeSeats || m.Seq != 2 || m.Seats.Light == nil || m.Seats.Light.ConnectionID != "A" {
			t.Fatalf("seats frame: %+v", m)
		}
	}

	// taken seat is ignored, malformed frames are dropped
	send(t, ctx, b, wire.NewJoin(board.Light, "", ""))
	if err := b.Write(ctx, websocket.MessageText, []byte("{")); err != nil {
		t.Fatalf("write: %v", err)
	}
	send(t, ctx, b, wire.NewJoin(board.Dark, "pb", "Bob"))
	for _, c := range []*websocket.Conn{a, b} {
		m := recv(t, ctx, c)
		if m.Type != wire.TypeSeats || m.Seq != 3 || m.Seats.Dark == nil || m.Seats.Dark.ConnectionID != "B" {
			t.Fatalf("seats frame: %+v", m)
		}
	}

	send(t, ctx, a, wire.NewMove("c3", "d4"))
	for _, c := range []*websocket.Conn{a, b} {
		m := recv(t, ctx, c)
		if m.Type != wire.TypeState || m.State.Seq != 4 || m.State.Turn != board.Dark {
			t.Fatalf("state frame: %+v", m)
		}
		if _, ok := m.State.Board.At("d4"); !ok {
			t.Fatal("d4 empty after move")
		}
	}

	// out of turn: no broadcast; B leaving is the next frame A sees
	send(t, ctx, a, wire.NewMove("d4", "e5"))
	b.Close(websocket.StatusNormalClosure, "bye")
	m := recv(t, ctx, a)
	if m.Type != wire.TypeSeats || m.Seq != 5 || m.Seats.Dark != nil || m.Seats.Light == nil {
		t.Fatalf("disconnect frame: %+v", m)
	}

	resp, err := http.Get(env.srv.URL + "/api/rooms/lobby/b1/state")
	if err != nil {
		t.Fatalf("GET state: %v", err)
	}
	var st wire.GameState
	err = json.NewDecoder(resp.Body).Decode(&st)
	resp.Body.Close()
	if err != nil || resp.StatusCode != http.StatusOK || st.Seq != 5 || st.MoveCount != 1 {
		t.Fatalf("state endpoint: %d %+v %v", resp.StatusCode, st, err)
	}

	a.Close(websocket.StatusNormalClosure, "bye")
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := env.mgr.Snapshot(ctx, RoomKey("lobby", "b1")); err != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("room not closed after last connection left")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWebSocketConcurrentClientsSeeSameSeq(t *testing.T) {
	env := newTestEnv(t, Deps{})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conns := make([]*websocket.Conn, 4)
	for i := range conns {
		conns[i] = env.dial(t, ctx, "/ws/lobby/b2")
		recv(t, ctx, conns[i])
	}
	send(t, ctx, conns[0], wire.NewJoin(board.Light, "", ""))

	var wg sync.WaitGroup
	seqs := make([]int64, len(conns))
	for i, c := range conns {
		wg.Add(1)
		go func(i int, c *websocket.Conn) {
			defer wg.Done()
			_, data, err := c.Read(ctx)
			if err != nil {
				return
			}
			if m, err := wire.Decode(data); err == nil {
				seqs[i] = m.Seq
			}
		}(i, c)
	}
	wg.Wait()
	for i, s := range seqs {
		if s != 2 {
			t.Fatalf("client %d saw seq %d", i, s)
		}
	}
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	env := newTestEnv(t, Deps{AllowedOrigins: []string{"boards.example.com"}})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, "ws"+env.srv.URL[len("http"):]+"/ws/lobby/b1", &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": []string{"https://evil.example.net"}},
	})
	if err == nil {
		t.Fatal("foreign origin accepted")
	}
	if resp != nil && resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestUnknownVariantRejected(t *testing.T) {
	env := newTestEnv(t, Deps{})
	resp, err := http.Get(env.srv.URL + "/ws/lobby/b1?variant=go")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if env.broker.Count(RoomKey("lobby", "b1")) != 0 {
		t.Fatal("subscription leaked")
	}
}

func TestRoomGuard(t *testing.T) {
	env := newTestEnv(t, Deps{AllowedRooms: []string{"lobby"}})
	cases := []struct {
		path string
		want int
	}{
		{"/api/rooms/lobby/b1/state", http.StatusNotFound}, // allowed but inactive
		{"/api/rooms/cellar/b1/state", http.StatusNotFound},
		{"/api/rooms/lobby/b%20d/state", http.StatusBadRequest},
		{"/api/rooms/lobby/b1/board.png", http.StatusNotFound},
	}
	for _, tc := range cases {
		resp, err := http.Get(env.srv.URL + tc.path)
		if err != nil {
			t.Fatalf("GET %s: %v", tc.path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != tc.want {
			t.Fatalf("GET %s = %d, want %d", tc.path, resp.StatusCode, tc.want)
		}
	}
}

func TestBoardPNG(t *testing.T) {
	env := newTestEnv(t, Deps{})
	if _, err := env.mgr.Open(context.Background(), RoomKey("lobby", "b1"), ""); err != nil {
		t.Fatalf("Open: %v", err)
	}
	resp, err := http.Get(env.srv.URL + "/api/rooms/lobby/b1/board.png?flip=1")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/png" {
		t.Fatalf("status=%d type=%q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
}

func TestWebSocketRefusesLiveConnectionID(t *testing.T) {
	env := newTestEnv(t, Deps{})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	key := RoomKey("lobby", "b1")

	a := env.dial(t, ctx, "/ws/lobby/b1?id=A")
	recv(t, ctx, a)
	send(t, ctx, a, wire.NewJoin(board.Light, "pa", "Ann"))
	if m := recv(t, ctx, a); m.Type != wire.TypeSeats || m.Seats.Light == nil {
		t.Fatalf("seats frame: %+v", m)
	}

	_, resp, err := websocket.Dial(ctx, "ws"+env.srv.URL[len("http"):]+"/ws/lobby/b1?id=A", nil)
	if err == nil {
		t.Fatal("second socket with a live id accepted")
	}
	if resp == nil || resp.StatusCode != http.StatusConflict {
		t.Fatalf("resp = %+v", resp)
	}

	st, err := env.mgr.Snapshot(ctx, key)
	if err != nil || st.MoveCount != 0 || st.Seats.Light == nil || st.Seats.Light.ConnectionID != "A" {
		t.Fatalf("room changed by refused socket: %+v %v", st, err)
	}
	if env.broker.Count(key) != 1 {
		t.Fatalf("subscribers = %d", env.broker.Count(key))
	}

	// the live socket still plays
	send(t, ctx, a, wire.NewMove("c3", "d4"))
	if m := recv(t, ctx, a); m.Type != wire.TypeState || m.State.MoveCount != 1 {
		t.Fatalf("state frame: %+v", m)
	}

	// once the first socket is gone the id is free again
	a.Close(websocket.StatusNormalClosure, "bye")
	deadline := time.Now().Add(5 * time.Second)
	for {
		c, _, err := websocket.Dial(ctx, "ws"+env.srv.URL[len("http"):]+"/ws/lobby/b1?id=A", nil)
		if err == nil {
			c.CloseNow()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("id not released: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
