// ABOUTME: Section leases that keep one generator per (session, section) across processes
// ABOUTME: In-memory implementation for single instances, Redis compare-and-set + compare-and-delete for shared deployments

package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Locker grants exclusive, expiring leases on string keys.
type Locker interface {
	// TryLock takes key for token, or renews it when token already holds
	// it. It returns false, without error, when another token holds an
	// unexpired lease.
	TryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	// Unlock releases key if token still holds it.
	Unlock(ctx context.Context, key, token string) error
	Close() error
}

// MemoryLocker is a process-local Locker.
type MemoryLocker struct {
	mu     sync.Mutex
	leases map[string]memoryLease
	now    func() time.Time
}

type memoryLease struct {
	token   string
	expires time.Time
}

// NewMemoryLocker creates an empty MemoryLocker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{leases: make(map[string]memoryLease), now: time.Now}
}

// TryLock implements Locker.
func (m *MemoryLocker) TryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if l, ok := m.leases[key]; ok && l.token != token && now.Before(l.expires) {
		return false, nil
	}
	m.leases[key] = memoryLease{token: token, expires: now.Add(ttl)}
	return true, nil
}

// Unlock implements Locker.
func (m *MemoryLocker) Unlock(ctx context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.leases[key]; ok && l.token == token {
		delete(m.leases, key)
	}
	return nil
}

// Close implements Locker.
func (m *MemoryLocker) Close() error { return nil }

// unlockScript deletes the key only if it still holds our token.
var unlockScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// lockScript takes or renews the lease for our token.
var lockScript = goredis.NewScript(`
local v = redis.call("GET", KEYS[1])
if v == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
if not v then
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
	return 1
end
return 0
`)

// RedisLocker shares leases between gateway instances through Redis.
type RedisLocker struct {
	rdb    *goredis.Client
	prefix string
}

// NewRedisLocker connects to redisURL (redis://[user:pass@]host:port/db) and pings it.
func NewRedisLocker(ctx context.Context, redisURL, prefix string) (*RedisLocker, error) {
	if redisURL == "" {
		return nil, errors.New("redis url is required")
	}
	opt, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	opt.DialTimeout = 5 * time.Second
	rdb := goredis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if prefix == "" {
		prefix = "docforge"
	}
	return &RedisLocker{rdb: rdb, prefix: prefix + ":lease:"}, nil
}

// TryLock implements Locker.
func (r *RedisLocker) TryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	n, err := lockScript.Run(ctx, r.rdb, []string{r.prefix + key}, token, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("redis lock: %w", err)
	}
	return n == 1, nil
}

// Unlock implements Locker.
func (r *RedisLocker) Unlock(ctx context.Context, key, token string) error {
	if err := unlockScript.Run(ctx, r.rdb, []string{r.prefix + key}, token).Err(); err != nil {
		return fmt.Errorf("redis unlock: %w", err)
	}
	return nil
}

// Close implements Locker.
func (r *RedisLocker) Close() error {
	return r.rdb.Close()
}
