// Package client is the local side of a board: seat requests, seq-filtered
// reconciliation of authority snapshots and the pick/selection state machine
// a renderer drives through View and PickSquare.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/boardroom/internal/layout"
	"github.com/park285/boardroom/internal/obslog"
	"github.com/park285/boardroom/internal/transport"
	"github.com/park285/boardroom/internal/variant"
	"github.com/park285/boardroom/pkg/board"
	"github.com/park285/boardroom/pkg/clock"
	"github.com/park285/boardroom/pkg/wire"
)

const (
	// JoinPendingTimeout clears the "joining" indicator. The join itself is not rescinded.
	JoinPendingTimeout = 3500 * time.Millisecond
	// PulseDuration is how long a new forced continuation is flashed.
	PulseDuration = 1400 * time.Millisecond

	connectTimeout = 15 * time.Second
	sendTimeout    = 5 * time.Second
	closeTimeout   = 5 * time.Second
)

var ErrInvalidConfig = errors.New("invalid session config")

// Config identifies one board and the local player.
type Config struct {
	// ServerURL is the authority base URL (ws, wss, http or https).
	ServerURL    string
	Room         string
	Board        string
	Variant      string
	PlayerID     string
	Name         string
	ConnectionID string
	Origin       layout.Point
	Radius       float64
}

// Dialer creates the transport for a session. It must not connect.
type Dialer func(wsURL string) transport.Client

type Option func(*Session)

func WithScheduler(sc Scheduler) Option { return func(s *Session) { s.sched = sc } }

func WithNow(now func() time.Time) Option { return func(s *Session) { s.now = now } }

func WithLogger(l *zap.Logger) Option { return func(s *Session) { s.logger = l } }

func WithDialer(d Dialer) Option { return func(s *Session) { s.dialer = d } }

// WithReconnectAttempts applies to the default WebSocket dialer only.
func WithReconnectAttempts(n int) Option { return func(s *Session) { s.reconnectAttempts = n } }

type outbound struct {
	gen  int
	data []byte
}

// Session is one long-lived board session. Transport callbacks, timers and
// presentation calls all go through its methods under mu.
type Session struct {
	mu sync.Mutex

	cfg    Config
	wsURL  string
	dialer Dialer
	sched  Scheduler
	now    func() time.Time
	logger *zap.Logger

	reconnectAttempts int

	// gen invalidates callbacks and queued sends of a torn down transport.
	gen     int
	tr      transport.Client
	trState transport.State
	enabled bool
	near    bool

	seq   int64
	seats wire.Seats
	state *wire.GameState

	joinQueued   *board.Side
	joining      *board.Side
	joiningID    int
	joiningTimer Timer

	selected   *board.Square
	targets    []board.Square
	forcedKey  string
	pulse      bool
	pulseID    int
	pulseTimer Timer

	warn clock.WarningTracker

	outbox       []outbound
	flushPending bool
}

func NewSession(cfg Config, opts ...Option) (*Session, error) {
	cfg.Room = strings.TrimSpace(cfg.Room)
	cfg.Board = strings.TrimSpace(cfg.Board)
	cfg.Variant = strings.ToLower(strings.TrimSpace(cfg.Variant))
	if cfg.Room == "" || cfg.Board == "" {
		return nil, fmt.Errorf("%w: room and board are required", ErrInvalidConfig)
	}
	if strings.Contains(cfg.Room+cfg.Board, "/") {
		return nil, fmt.Errorf("%w: room and board must not contain '/'", ErrInvalidConfig)
	}
	if _, err := variant.Lookup(cfg.Variant); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.ConnectionID) == "" {
		cfg.ConnectionID = uuid.NewString()
	}
	wsURL, err := buildURL(cfg)
	if err != nil {
		return nil, err
	}

	s := &Session{
		cfg:     cfg,
		wsURL:   wsURL,
		sched:   RealScheduler(),
		now:     time.Now,
		trState: transport.StateDisconnected,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = obslog.Named("client")
	}
	s.logger = s.logger.With(zap.String("board", s.Key()), zap.String("conn", cfg.ConnectionID))
	if s.dialer == nil {
		attempts, logger := s.reconnectAttempts, s.logger
		s.dialer = func(u string) transport.Client {
			return transport.NewWebSocket(u, transport.Options{MaxReconnectAttempts: attempts, Logger: logger})
		}
	}
	return s, nil
}

func buildURL(cfg Config) (string, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.ServerURL), "/")
	switch {
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	}
	u, err := url.Parse(base)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return "", fmt.Errorf("%w: server url %q", ErrInvalidConfig, cfg.ServerURL)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/" + cfg.Room + "/" + cfg.Board
	q := url.Values{}
	q.Set("id", cfg.ConnectionID)
	if cfg.Variant != "" {
		q.Set("variant", cfg.Variant)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Key is the room key of this board ("room/board").
func (s *Session) Key() string { return s.cfg.Room + "/" + s.cfg.Board }

func (s *Session) ConnectionID() string { return s.cfg.ConnectionID }

// URL is the WebSocket endpoint the session dials.
func (s *Session) URL() string { return s.wsURL }

// SetEnabled is the external on/off signal. Disabling tears the session down.
func (s *Session) SetEnabled(on bool) {
	s.mu.Lock()
	s.enabled = on
	if !on {
		tr := s.teardownLocked()
		s.mu.Unlock()
		s.closeTransport(tr)
		return
	}
	s.evaluateGateLocked()
	s.mu.Unlock()
}

// UpdatePosition feeds the local player position. The transport opens once
// the player is inside the board radius while the session is enabled.
// Walking away again does not close it.
func (s *Session) UpdatePosition(p layout.Point) {
	s.mu.Lock()
	s.near = layout.Within(p, s.cfg.Origin, s.cfg.Radius)
	s.evaluateGateLocked()
	s.mu.Unlock()
}

func (s *Session) evaluateGateLocked() {
	if s.enabled && s.near && s.tr == nil {
		s.openLocked()
	}
}

func (s *Session) openLocked() {
	s.gen++
	gen := s.gen
	tr := s.dialer(s.wsURL)
	s.tr = tr
	tr.OnStateChange(func(st transport.State) { s.onTransportState(gen, st) })
	tr.OnMessage(func(data []byte) { s.onTransportMessage(gen, data) })
	s.logger.Info("board_transport_open")
	s.scheduleConnectLocked()
}

func (s *Session) scheduleConnectLocked() {
	tr, gen := s.tr, s.gen
	s.trState = transport.StateConnecting
	s.sched.AfterFunc(0, func() {
		if !s.isCurrent(gen) {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		if err := tr.Connect(ctx); err != nil {
			s.logger.Info("board_connect_failed", zap.Error(err))
			// 백그라운드 재연결 중이면 Failed 로 덮지 않음
			if st := tr.State(); st == transport.StateReconnecting || st == transport.StateConnecting {
				return
			}
			s.mu.Lock()
			if s.gen == gen && s.trState != transport.StateConnected {
				s.trState = transport.StateFailed
				s.clearPendingLocked()
			}
			s.mu.Unlock()
		}
	})
}

func (s *Session) isCurrent(gen int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen
}

func (s *Session) onTransportState(gen int, st transport.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	prev := s.trState
	s.trState = st
	switch st {
	case transport.StateConnected:
		// 새 연결의 첫 스냅샷이 기준
		s.seq = 0
		if s.joinQueued != nil {
			side := *s.joinQueued
			s.joinQueued = nil
			s.enqueueLocked(wire.NewJoin(side, s.cfg.PlayerID, s.cfg.Name))
		}
	case transport.StateConnecting:
	default:
		s.clearPendingLocked()
		if prev == transport.StateConnected {
			s.logger.Info("board_transport_lost", zap.String("state", st.String()))
		}
	}
}

func (s *Session) onTransportMessage(gen int, data []byte) {
	msg, err := wire.Decode(data)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	if err != nil {
		s.logger.Warn("board_message_malformed", zap.Error(err))
		return
	}
	switch msg.Type {
	case wire.TypeSeats:
		s.applySeatsLocked(*msg.Seats, msg.Seq)
	case wire.TypeState:
		s.applyStateLocked(msg.State)
	default:
		s.logger.Warn("board_message_unexpected", zap.String("type", string(msg.Type)))
	}
}

// applySeatsLocked keeps seats only when seq advances; identical contents
// still advance seq.
func (s *Session) applySeatsLocked(seats wire.Seats, seq int64) bool {
	if seq <= s.seq {
		return false
	}
	s.seq = seq
	if seats.Equal(s.seats) {
		return false
	}
	s.seats = seats.Clone()
	if s.state != nil {
		s.state.Seats = s.seats.Clone()
	}
	s.afterSeatsLocked()
	s.reevaluateLocked()
	return true
}

func (s *Session) applyStateLocked(st *wire.GameState) bool {
	if st == nil || st.Seq <= s.seq {
		return false
	}
	s.seq = st.Seq
	s.state = st
	s.seats = st.Seats.Clone()
	if !st.Clock.Running {
		s.warn.Reset()
	}
	s.afterSeatsLocked()
	s.reevaluateLocked()
	return true
}

func (s *Session) afterSeatsLocked() {
	if s.joining != nil && s.seats.Holds(*s.joining, s.cfg.ConnectionID) {
		s.clearJoiningLocked()
	}
}

// RequestJoin asks for a seat. It is suppressed (false) when another
// connection holds the seat or the session is disabled. Before the transport
// is up the join is queued and replayed on connect.
func (s *Session) RequestJoin(side board.Side) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !side.Valid() || !s.enabled {
		return false
	}
	seat := s.seats.Get(side)
	if seat != nil && seat.ConnectionID != s.cfg.ConnectionID {
		return false
	}
	if seat == nil {
		s.markJoiningLocked(side)
	}
	if s.trState == transport.StateConnected {
		s.enqueueLocked(wire.NewJoin(side, s.cfg.PlayerID, s.cfg.Name))
		return true
	}
	s.joinQueued = &side
	switch {
	case s.tr == nil:
		s.openLocked()
	case s.trState == transport.StateFailed || s.trState == transport.StateDisconnected:
		s.scheduleConnectLocked()
	}
	return true
}

// RequestLeave gives up a seat this connection holds.
func (s *Session) RequestLeave(side board.Side) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.joinQueued != nil && *s.joinQueued == side {
		s.joinQueued = nil
	}
	if s.joining != nil && *s.joining == side {
		s.clearJoiningLocked()
	}
	if s.trState != transport.StateConnected || !s.seats.Holds(side, s.cfg.ConnectionID) {
		return false
	}
	s.enqueueLocked(wire.NewLeave(side))
	return true
}

// LeaveOwnedSeats sends leave for every seat held here and returns how many.
func (s *Session) LeaveOwnedSeats() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.joinQueued = nil
	s.clearJoiningLocked()
	if s.trState != transport.StateConnected {
		return 0
	}
	sides := s.seats.OwnedBy(s.cfg.ConnectionID)
	for _, side := range sides {
		s.enqueueLocked(wire.NewLeave(side))
	}
	return len(sides)
}

// SetTime proposes a time control. Refused once the game has started.
func (s *Session) SetTime(baseSec, incSec int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !clock.ValidBase(baseSec) || !clock.ValidIncrement(incSec) || !s.mayConfigureLocked() {
		return false
	}
	if !clock.CanConfigure(s.state.Clock, s.state.MoveCount, s.state.Turn) {
		return false
	}
	s.enqueueLocked(wire.NewSetTime(baseSec, incSec))
	return true
}

// Reset asks for a fresh game.
func (s *Session) Reset() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.mayConfigureLocked() {
		return false
	}
	s.enqueueLocked(wire.NewReset())
	return true
}

func (s *Session) mayConfigureLocked() bool {
	if s.trState != transport.StateConnected || s.state == nil {
		return false
	}
	return s.seats.Empty() || len(s.seats.OwnedBy(s.cfg.ConnectionID)) > 0
}

// Teardown drops the transport and every local flag. The session stays
// enabled, so the next position update may reconnect.
func (s *Session) Teardown() {
	s.mu.Lock()
	tr := s.teardownLocked()
	s.mu.Unlock()
	s.closeTransport(tr)
}

// Close disables and tears down the session.
func (s *Session) Close() { s.SetEnabled(false) }

func (s *Session) teardownLocked() transport.Client {
	s.gen++
	tr := s.tr
	s.tr = nil
	s.trState = transport.StateDisconnected
	s.clearSelectionLocked()
	s.clearPendingLocked()
	s.clearPulseLocked()
	s.forcedKey = ""
	s.outbox = nil
	s.seq = 0
	s.state = nil
	s.seats = wire.Seats{}
	s.warn.Reset()
	if tr != nil {
		s.logger.Info("board_teardown")
	}
	return tr
}

func (s *Session) closeTransport(tr transport.Client) {
	if tr == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := tr.Close(ctx); err != nil {
		s.logger.Warn("board_transport_close_failed", zap.Error(err))
	}
}

func (s *Session) markJoiningLocked(side board.Side) {
	s.clearJoiningLocked()
	s.joining = &side
	s.joiningID++
	id := s.joiningID
	s.joiningTimer = s.sched.AfterFunc(JoinPendingTimeout, func() {
		s.mu.Lock()
		if s.joiningID == id {
			s.joining = nil
			s.joiningTimer = nil
		}
		s.mu.Unlock()
	})
}

func (s *Session) clearJoiningLocked() {
	if s.joiningTimer != nil {
		s.joiningTimer.Stop()
		s.joiningTimer = nil
	}
	s.joining = nil
	s.joiningID++
}

func (s *Session) clearPendingLocked() {
	s.joinQueued = nil
	s.clearJoiningLocked()
}

// enqueueLocked keeps intents in order; a single deferred task drains them.
func (s *Session) enqueueLocked(msg wire.Message) {
	data, err := wire.Encode(msg)
	if err != nil {
		s.logger.Error("board_intent_encode_failed", zap.Error(err))
		return
	}
	s.outbox = append(s.outbox, outbound{gen: s.gen, data: data})
	if s.flushPending {
		return
	}
	s.flushPending = true
	s.sched.AfterFunc(0, s.flush)
}

func (s *Session) flush() {
	for {
		s.mu.Lock()
		if len(s.outbox) == 0 {
			s.flushPending = false
			s.mu.Unlock()
			return
		}
		next := s.outbox[0]
		s.outbox = s.outbox[1:]
		tr, gen := s.tr, s.gen
		s.mu.Unlock()

		if next.gen != gen || tr == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		err := tr.Send(ctx, next.data)
		cancel()
		if err != nil {
			s.logger.Warn("board_intent_send_failed", zap.Error(err))
		}
	}
}
