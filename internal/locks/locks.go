// Package locks provides short-lived named locks used to keep a single
// writer on clock-driven event transitions across server instances.
package locks

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ErrHeld is returned when another holder owns the lock.
var ErrHeld = errors.New("lock held by another worker")

// Locker hands out a release func on success.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// ---------------- LOCAL ----------------

// Local locks within one process.
type Local struct {
	mu    sync.Mutex
	held  map[string]time.Time
	clock func() time.Time
}

func NewLocal() *Local {
	return &Local{held: make(map[string]time.Time), clock: time.Now}
}

func (l *Local) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock()
	if until, ok := l.held[key]; ok && now.Before(until) {
		return nil, ErrHeld
	}
	until := now.Add(ttl)
	l.held[key] = until
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.held[key].Equal(until) {
			delete(l.held, key)
		}
	}, nil
}

// ---------------- REDIS ----------------

// Client wraps redis.Client.
type Client struct {
	*redis.Client
}

func NewClient(addr, password string, db int) *Client {
	return &Client{
		Client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

// Redis locks across processes with SET NX and a token-checked release.
type Redis struct {
	Client *Client
	Prefix string
}

func (r *Redis) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	full := r.Prefix + key
	token := uuid.NewString()
	ok, err := r.Client.SetNX(ctx, full, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrHeld
	}
	return func() {
		_ = releaseScript.Run(context.Background(), r.Client, []string{full}, token).Err()
	}, nil
}
