package server

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/park285/boardroom/internal/authority"
	"github.com/park285/boardroom/internal/obslog"
)

// Sweeper ticks every active room so expired clocks become timeouts even
// when nobody moves.
type Sweeper struct {
	manager  *authority.Manager
	broker   *Broker
	pub      Publisher
	interval time.Duration
	logger   *zap.Logger
}

// NewSweeper ticks the rooms b has subscribers for and publishes through pub,
// or through b when pub is nil.
func NewSweeper(m *authority.Manager, b *Broker, pub Publisher, interval time.Duration, logger *zap.Logger) *Sweeper {
	if pub == nil {
		pub = b
	}
	if interval <= 0 {
		interval = time.Second
	}
	if logger == nil {
		logger = obslog.Named("sweeper")
	}
	return &Sweeper{manager: m, broker: b, pub: pub, interval: interval, logger: logger}
}

func (s *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep ticks each subscribed room once.
func (s *Sweeper) Sweep(ctx context.Context) {
	for _, key := range s.broker.Keys() {
		out, err := s.manager.Tick(ctx, key)
		if err != nil {
			if !errors.Is(err, authority.ErrRoomNotFound) {
				s.logger.Warn("room_tick_failed", zap.String("room", key), zap.Error(err))
			}
			continue
		}
		if err := publishOutcome(ctx, s.pub, key, out); err != nil {
			s.logger.Warn("ws_publish_failed", zap.String("room", key), zap.Error(err))
		}
	}
}
