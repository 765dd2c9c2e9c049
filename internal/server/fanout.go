package server

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/boardroom/internal/obslog"
)

const eventChannelPrefix = "board:events:"

// Publisher delivers an encoded frame to every subscriber of a room.
type Publisher interface {
	PublishFrame(ctx context.Context, key string, data []byte) error
}

// PublishFrame delivers to this process only.
func (b *Broker) PublishFrame(_ context.Context, key string, data []byte) error {
	b.Publish(key, data)
	return nil
}

// RedisFanout relays frames through Redis pub/sub, so sockets held by other
// server processes sharing the same Redis see every room event.
type RedisFanout struct {
	rdb    *redis.Client
	broker *Broker
	ps     *redis.PubSub
	logger *zap.Logger
}

// NewRedisFanout subscribes to every room channel before returning.
func NewRedisFanout(ctx context.Context, rdb *redis.Client, b *Broker, logger *zap.Logger) (*RedisFanout, error) {
	if logger == nil {
		logger = obslog.Named("fanout")
	}
	ps := rdb.PSubscribe(ctx, eventChannelPrefix+"*")
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis psubscribe: %w", err)
	}
	return &RedisFanout{rdb: rdb, broker: b, ps: ps, logger: logger}, nil
}

func (f *RedisFanout) PublishFrame(ctx context.Context, key string, data []byte) error {
	return f.rdb.Publish(ctx, eventChannelPrefix+key, data).Err()
}

// Run hands relayed frames to local subscribers until ctx ends.
func (f *RedisFanout) Run(ctx context.Context) error {
	ch := f.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			key := strings.TrimPrefix(msg.Channel, eventChannelPrefix)
			f.broker.Publish(key, []byte(msg.Payload))
		}
	}
}

func (f *RedisFanout) Close() error {
	if err := f.ps.Close(); err != nil {
		f.logger.Warn("fanout_close_failed", zap.Error(err))
		return err
	}
	return nil
}
