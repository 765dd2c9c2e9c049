package authority

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultLease is how long a connection stays registered without a Refresh.
const DefaultLease = 45 * time.Second

// Presence tracks the live connections of each room. Acquire happens before
// a connection reads the room and Release deletes the room when the last
// connection leaves, both atomically with respect to each other.
type Presence interface {
	// Acquire registers connID in key. It returns ErrConnectionInUse when
	// connID is already live there, and the ids whose lease ran out.
	Acquire(ctx context.Context, key, connID string) (expired []string, err error)
	Refresh(ctx context.Context, key, connID string) error
	// Release drops connID and reports whether the room was deleted.
	Release(ctx context.Context, key, connID string) (closed bool, err error)
}

// MemoryPresence is the single-process Presence paired with MemoryStore.
// Connections never expire: they live exactly as long as their socket.
type MemoryPresence struct {
	mu    sync.Mutex
	store Store
	conns map[string]map[string]struct{}
}

func NewMemoryPresence(store Store) *MemoryPresence {
	return &MemoryPresence{store: store, conns: make(map[string]map[string]struct{})}
}

func (p *MemoryPresence) Acquire(_ context.Context, key, connID string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := p.conns[key]
	if ids == nil {
		ids = make(map[string]struct{})
		p.conns[key] = ids
	}
	if _, live := ids[connID]; live {
		return nil, ErrConnectionInUse
	}
	ids[connID] = struct{}{}
	return nil, nil
}

func (p *MemoryPresence) Refresh(context.Context, string, string) error { return nil }

func (p *MemoryPresence) Release(ctx context.Context, key, connID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := p.conns[key]
	delete(ids, connID)
	if len(ids) > 0 {
		return false, nil
	}
	delete(p.conns, key)
	// 잠금 안에서 삭제해야 다음 Acquire 가 새 방을 만듦
	if err := p.store.Delete(ctx, key); err != nil {
		return false, err
	}
	return true, nil
}

// RedisPresence keeps a sorted set board:conns:<key> of connection ids scored
// by lease deadline, so every server process sharing the RedisStore agrees on
// who is connected. Ids of a crashed process fall out once their lease ends.
type RedisPresence struct {
	rdb   *redis.Client
	lease time.Duration
	now   func() time.Time
}

// NewRedisPresence uses lease <= 0 as DefaultLease. now may be nil.
func NewRedisPresence(rdb *redis.Client, lease time.Duration, now func() time.Time) *RedisPresence {
	if lease <= 0 {
		lease = DefaultLease
	}
	if now == nil {
		now = time.Now
	}
	return &RedisPresence{rdb: rdb, lease: lease, now: now}
}

func connsKey(key string) string { return "board:conns:" + strings.TrimSpace(key) }

// KEYS[1]=conns ARGV: now, deadline, id, lease ms
var acquireScript = redis.NewScript(`
local expired = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
if #expired > 0 then
  redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
end
local added = redis.call('ZADD', KEYS[1], 'NX', ARGV[2], ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
table.insert(expired, 1, tostring(added))
return expired
`)

// KEYS[1]=conns ARGV: deadline, id, lease ms
var refreshScript = redis.NewScript(`
local n = redis.call('ZADD', KEYS[1], 'XX', ARGV[1], ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return n
`)

// KEYS[1]=conns KEYS[2]=room ARGV: now, id
var releaseScript = redis.NewScript(`
redis.call('ZREM', KEYS[1], ARGV[2])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
if redis.call('ZCARD', KEYS[1]) == 0 then
  redis.call('DEL', KEYS[1], KEYS[2])
  return 1
end
return 0
`)

func (p *RedisPresence) Acquire(ctx context.Context, key, connID string) ([]string, error) {
	now := p.now().UnixMilli()
	res, err := acquireScript.Run(ctx, p.rdb, []string{connsKey(key)},
		now, now+p.lease.Milliseconds(), connID, p.lease.Milliseconds()).StringSlice()
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return nil, ErrConflict
	}
	expired := res[1:]
	if res[0] != "1" {
		return expired, ErrConnectionInUse
	}
	return expired, nil
}

func (p *RedisPresence) Refresh(ctx context.Context, key, connID string) error {
	deadline := p.now().UnixMilli() + p.lease.Milliseconds()
	return refreshScript.Run(ctx, p.rdb, []string{connsKey(key)},
		deadline, connID, p.lease.Milliseconds()).Err()
}

func (p *RedisPresence) Release(ctx context.Context, key, connID string) (bool, error) {
	n, err := releaseScript.Run(ctx, p.rdb, []string{connsKey(key), roomKey(key)},
		p.now().UnixMilli(), connID).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
