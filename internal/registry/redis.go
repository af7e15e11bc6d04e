// Package registry implements the redis-backed registry used by the API.
// Clients, check results, events, aggregates, and stashes all live in redis
// under well-known key shapes; this package exposes the primitive commands
// the handlers compose them from.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// Monitor timings for the background connectivity watcher.
const (
	pingInterval = 5 * time.Second
	pingTimeout  = 2 * time.Second
)

// Store is a redis-backed registry. It tracks connectivity in the background
// so the API can keep answering /info and /health while redis is down.
type Store struct {
	rdb       *redis.Client
	connected atomic.Bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// Dial connects to redis at the given URL (redis://host:port/db) and starts
// the connectivity watcher. An unreachable redis is not an error: the Store
// reports Connected() == false until the watcher sees a successful ping.
func Dial(ctx context.Context, url string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	s := &Store{rdb: redis.NewClient(opts)}

	// Seed the connectivity flag synchronously so a healthy redis is
	// reported as connected before the first watcher tick.
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	err = s.rdb.Ping(pingCtx).Err()
	cancel()
	s.connected.Store(err == nil)
	if err != nil {
		slog.Warn("redis not reachable at startup", "url", opts.Addr, "error", err)
	} else {
		slog.Info("redis connected", "addr", opts.Addr, "db", opts.DB)
	}

	s.watch()
	return s, nil
}

// watch starts the background goroutine that pings redis and flips the
// connectivity flag on transitions.
func (s *Store) watch() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
				err := s.rdb.Ping(pingCtx).Err()
				cancel()

				was := s.connected.Load()
				now := err == nil
				if was && !now {
					slog.Warn("redis connection lost", "error", err)
				} else if !was && now {
					slog.Info("redis connection established")
				}
				s.connected.Store(now)
			}
		}
	}()
}

// Connected reports the last known connectivity status.
func (s *Store) Connected() bool {
	return s.connected.Load()
}

// Close stops the connectivity watcher and closes the redis client.
func (s *Store) Close() error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	return s.rdb.Close()
}

// Get returns the string value at key, or "" when the key does not exist.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	val, err := s.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, nil
}

// Set stores a string value at key with no expiry.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := s.rdb.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Del removes the given keys. Missing keys are not an error.
func (s *Store) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Exists reports whether key is present.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists %s: %w", key, err)
	}
	return n > 0, nil
}

// Expire sets a TTL in seconds on key.
func (s *Store) Expire(ctx context.Context, key string, seconds int64) error {
	if err := s.rdb.Expire(ctx, key, time.Duration(seconds)*time.Second).Err(); err != nil {
		return fmt.Errorf("redis expire %s: %w", key, err)
	}
	return nil
}

// TTL returns the remaining TTL of key in seconds, -1 when the key has no
// expiry, and -2 when the key does not exist.
func (s *Store) TTL(ctx context.Context, key string) (int64, error) {
	d, err := s.rdb.TTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis ttl %s: %w", key, err)
	}
	// go-redis passes the redis sentinel values -1 and -2 through as raw
	// durations rather than seconds.
	if d < 0 {
		return int64(d), nil
	}
	return int64(d / time.Second), nil
}

// SAdd adds member to the set.
func (s *Store) SAdd(ctx context.Context, set, member string) error {
	if err := s.rdb.SAdd(ctx, set, member).Err(); err != nil {
		return fmt.Errorf("redis sadd %s: %w", set, err)
	}
	return nil
}

// SRem removes member from the set. Removing an absent member is not an error.
func (s *Store) SRem(ctx context.Context, set, member string) error {
	if err := s.rdb.SRem(ctx, set, member).Err(); err != nil {
		return fmt.Errorf("redis srem %s: %w", set, err)
	}
	return nil
}

// SMembers returns all members of the set. A missing set yields an empty
// slice.
func (s *Store) SMembers(ctx context.Context, set string) ([]string, error) {
	members, err := s.rdb.SMembers(ctx, set).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers %s: %w", set, err)
	}
	return members, nil
}

// HGetAll returns all field/value pairs of the hash at key. A missing hash
// yields an empty map.
func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	fields, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall %s: %w", key, err)
	}
	return fields, nil
}

// LRange returns the list elements between start and stop (inclusive,
// negative indexes count from the tail).
func (s *Store) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	items, err := s.rdb.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange %s: %w", key, err)
	}
	return items, nil
}
