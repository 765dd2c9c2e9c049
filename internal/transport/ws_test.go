package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

func echoServer(t *testing.T, accepted *atomic.Int32, closeFirst bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		n := accepted.Add(1)
		if closeFirst && n == 1 {
			c.Close(websocket.StatusGoingAway, "restart")
			return
		}
		for {
			typ, msg, err := c.Read(r.Context())
			if err != nil {
				return
			}
			if err := c.Write(r.Context(), typ, msg); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string { return "ws" + srv.URL[len("http"):] }

func TestSendAndReceive(t *testing.T) {
	var accepted atomic.Int32
	srv := echoServer(t, &accepted, false)
	ws := NewWebSocket(wsURL(srv), Options{Logger: zap.NewNop()})

	got := make(chan string, 4)
	ws.OnMessage(func(data []byte) { got <- strings.TrimSpace(string(data)) })
	var states []State
	stateCh := make(chan State, 8)
	ws.OnStateChange(func(s State) { stateCh <- s })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ws.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if ws.State() != StateConnected {
		t.Fatalf("state = %v", ws.State())
	}
	if err := ws.Send(ctx, []byte(`{"type":"reset"}`)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := ws.SendJSON(ctx, map[string]string{"type": "leave", "side": "dark"}); err != nil {
		t.Fatalf("SendJSON: %v", err)
	}
	for _, want := range []string{`{"type":"reset"}`, `{"side":"dark","type":"leave"}`} {
		select {
		case msg := <-got:
			if msg != want {
				t.Fatalf("got %q, want %q", msg, want)
			}
		case <-ctx.Done():
			t.Fatal("echo not received")
		}
	}

	if err := ws.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := ws.Send(ctx, []byte("x")); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Send after close: %v", err)
	}
	if err := ws.Connect(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("Connect after close: %v", err)
	}

	close(stateCh)
	for s := range stateCh {
		states = append(states, s)
	}
	want := []State{StateConnecting, StateConnected, StateDisconnected}
	if len(states) != len(want) {
		t.Fatalf("states = %v", states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("states = %v", states)
		}
	}
}

func TestReconnectAfterServerClose(t *testing.T) {
	var accepted atomic.Int32
	srv := echoServer(t, &accepted, true)
	ws := NewWebSocket(wsURL(srv), Options{MaxReconnectAttempts: 3, Logger: zap.NewNop()})
	connected := make(chan struct{}, 4)
	ws.OnStateChange(func(s State) {
		if s == StateConnected {
			connected <- struct{}{}
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	defer ws.Close(context.Background())

	if err := ws.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	for i := 0; i < 2; i++ {
		select {
		case <-connected:
		case <-ctx.Done():
			t.Fatalf("connected %d times, accepted %d", i, accepted.Load())
		}
	}
	if accepted.Load() != 2 {
		t.Fatalf("accepted = %d", accepted.Load())
	}
}

func TestConnectFailureWithoutRetries(t *testing.T) {
	ws := NewWebSocket("ws://127.0.0.1:1/nowhere", Options{DialTimeout: time.Second, Logger: zap.NewNop()})
	if err := ws.Connect(context.Background()); err == nil {
		t.Fatal("expected dial error")
	}
	if ws.State() != StateFailed {
		t.Fatalf("state = %v", ws.State())
	}
}

func TestRemoveCallbacks(t *testing.T) {
	ws := NewWebSocket("ws://unused", Options{Logger: zap.NewNop()})
	a := ws.OnMessage(func([]byte) {})
	b := ws.OnMessage(func([]byte) {})
	ws.RemoveMessageCallback(a)
	c := ws.OnMessage(func([]byte) {})
	if b == c || a == c {
		t.Fatalf("callback ids reused: %d %d %d", a, b, c)
	}
	if len(ws.msgCbs) != 2 {
		t.Fatalf("callbacks = %d", len(ws.msgCbs))
	}
}

func TestBackoffDuration(t *testing.T) {
	cases := map[int]time.Duration{0: 100 * time.Millisecond, 1: 100 * time.Millisecond, 3: 400 * time.Millisecond, 9: 3200 * time.Millisecond}
	for attempt, want := range cases {
		if got := backoffDuration(attempt); got != want {
			t.Fatalf("backoff(%d) = %v, want %v", attempt, got, want)
		}
	}
}
