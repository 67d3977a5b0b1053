package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// Config selects the lock backend.
type Config struct {
	// Backend is "local" (single process) or "redis" (subjects and devices are
	// shared by several replicas and CLI runs).
	Backend string `mapstructure:"backend" default:"local"`
	// RedisAddr is the redis address used by the redis backend.
	RedisAddr string `mapstructure:"redis_addr" default:"localhost:6379"`
	// RedisPassword authenticates against redis.
	RedisPassword string `mapstructure:"redis_password" default:""`
	// TTLSeconds bounds how long a redis lock survives a crashed holder. Live
	// holders keep refreshing it.
	TTLSeconds int `mapstructure:"ttl_seconds" default:"30"`
}

// Unlock releases a held lock. It is safe to call once.
type Unlock func()

// Locker serializes work per key.
type Locker interface {
	// Lock blocks until key is held or ctx is done.
	Lock(ctx context.Context, key string) (Unlock, error)
}

// New builds the locker selected by cfg.
func New(cfg Config) (Locker, error) {
	switch cfg.Backend {
	case "", "local":
		return NewLocal(), nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.RedisAddr, err)
		}
		ttl := time.Duration(cfg.TTLSeconds) * time.Second
		if ttl <= 0 {
			ttl = 30 * time.Second
		}
		return NewRedis(rdb, ttl), nil
	default:
		return nil, fmt.Errorf("unsupported lock backend %q", cfg.Backend)
	}
}

// Local is an in-process keyed mutex. Entries are dropped once nobody holds
// or waits for them, so memory stays proportional to in-flight keys.
type Local struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewLocal creates an empty keyed mutex.
func NewLocal() *Local {
	return &Local{slots: make(map[string]*slot)}
}

// Lock acquires key, giving up when ctx is done.
func (l *Local) Lock(ctx context.Context, key string) (Unlock, error) {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, s, false)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(key, s, true) })
	}, nil
}

func (l *Local) release(key string, s *slot, held bool) {
	if held {
		<-s.ch
	}
	l.mu.Lock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
	l.mu.Unlock()
}

// Len returns the number of keys currently held or awaited.
func (l *Local) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}

// Redis is a Locker backed by redislock, for deployments running several
// replicas, or CLI commands next to a running server. A held lock is refreshed
// every third of its TTL until released, so it outlives a long device resync
// but expires soon after a crashed holder.
type Redis struct {
	client *redislock.Client
	ttl    time.Duration
}

// NewRedis wraps a redis client.
func NewRedis(rdb redis.UniversalClient, ttl time.Duration) *Redis {
	return &Redis{client: redislock.New(rdb), ttl: ttl}
}

// Lock obtains key, retrying until ctx is done.
func (r *Redis) Lock(ctx context.Context, key string) (Unlock, error) {
	lk, err := r.client.Obtain(ctx, redisKey(key), r.ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(25 * time.Millisecond),
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("failed to obtain lock %s: %w", key, err)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go r.keepAlive(lk, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			// An expired lock cannot be released; the TTL already freed it.
			_ = lk.Release(releaseCtx)
		})
	}, nil
}

func (r *Redis) keepAlive(lk *redislock.Lock, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	interval := max(r.ttl/3, time.Millisecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			err := lk.Refresh(ctx, r.ttl, nil)
			cancel()
			if errors.Is(err, redislock.ErrNotObtained) {
				// Someone else holds the key now; refreshing cannot win it back.
				return
			}
		}
	}
}

func redisKey(key string) string {
	return "lpr:lock:" + key
}
