package authority

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/park285/boardroom/pkg/wire"
)

const (
	defaultRoomTTL = 24 * time.Hour
	updateAttempts = 5
)

// RedisStore keeps each room as a JSON blob under board:room:<key>, guarded by
// WATCH. Processes sharing rooms pair it with RedisPresence.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore wraps an existing client. ttl <= 0 uses 24h.
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultRoomTTL
	}
	return &RedisStore{rdb: rdb, ttl: ttl}
}

// OpenRedis parses a redis:// URL and pings the server.
func OpenRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for redis store")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func roomKey(key string) string { return "board:room:" + strings.TrimSpace(key) }

func (s *RedisStore) Get(ctx context.Context, key string) (*wire.GameState, error) {
	raw, err := s.rdb.Get(ctx, roomKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeState(raw)
}

func (s *RedisStore) Create(ctx context.Context, key string, st *wire.GameState) (*wire.GameState, error) {
	raw, err := json.Marshal(st)
	if err != nil {
		return nil, err
	}
	ok, err := s.rdb.SetNX(ctx, roomKey(key), raw, s.ttl).Result()
	if err != nil {
		return nil, err
	}
	if ok {
		return decodeState(raw)
	}
	return s.Get(ctx, key)
}

func (s *RedisStore) Update(ctx context.Context, key string, fn func(st *wire.GameState) error) (*wire.GameState, error) {
	k := roomKey(key)
	var out *wire.GameState
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, k).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrRoomNotFound
		}
		if err != nil {
			return err
		}
		cur, err := decodeState(raw)
		if err != nil {
			return err
		}
		if err := fn(cur); err != nil {
			return err
		}
		next, err := json.Marshal(cur)
		if err != nil {
			return err
		}
		// persist atomically
		pipe := tx.TxPipeline()
		pipe.Set(ctx, k, next, s.ttl)
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		out = cur
		return nil
	}
	for attempt := 0; attempt < updateAttempts; attempt++ {
		err := s.rdb.Watch(ctx, txf, k)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, ErrConflict
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, roomKey(key)).Err()
}
