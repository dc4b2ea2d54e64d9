// The remote tier stores envelopes in Redis, which acts as the coordination point shared across
// a user's devices. Redis owns expiry enforcement on its side too: envelopes are written with the
// entry TTL so abandoned keys age out of the store even if no device ever reads them again.

package tier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/oakmist/strata/pkg/entry"
	"github.com/redis/go-redis/v9"
)

// Redis is the durable remote tier.
type Redis struct {
	client *redis.Client
}

var _ Adapter = (*Redis)(nil)

// RedisConfig holds the connection settings for the remote tier.
type RedisConfig struct {
	Addr     string // host:port of the Redis server.
	Password string
	DB       int
}

// NewRedis creates a remote tier connected to the given Redis server.
func NewRedis(cfg RedisConfig) *Redis {
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	return &Redis{client: client}
}

// NewRedisFromClient creates a remote tier on an existing client. Useful for tests and for
// callers that pool one client across subsystems.
func NewRedisFromClient(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Name() string { return "remote" }

func (r *Redis) TryGet(ctx context.Context, key string) (entry.Entry, bool, error) {
	encoded, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return entry.Entry{}, false, nil
	}
	if err != nil {
		return entry.Entry{}, false, fmt.Errorf("%w: redis get: %v", ErrUnavailable, err)
	}
	e, err := entry.Decode(encoded)
	if err != nil { // Corrupt envelope; delete it eagerly and report a miss.
		slog.Warn("Deleting corrupt entry from remote tier.", "key", key, "error", err)
		_ = r.client.Del(ctx, key).Err()
		return entry.Entry{}, false, nil
	}
	return e, true, nil
}

func (r *Redis) Put(ctx context.Context, key string, e entry.Entry) error {
	encoded, err := entry.Encode(e)
	if err != nil {
		return fmt.Errorf("failed to encode entry for remote tier: %w", err)
	}
	// Redis applies the TTL as a second line of defense; liveness is still recomputed on read.
	if err := r.client.Set(ctx, key, encoded, e.TTL).Err(); err != nil {
		return fmt.Errorf("%w: redis set: %v", ErrUnavailable, err)
	}
	return nil
}

func (r *Redis) Remove(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: redis del: %v", ErrUnavailable, err)
	}
	return nil
}

func (r *Redis) RemoveByPrefix(ctx context.Context, prefix string) (int, error) {
	keys, err := r.ListKeys(ctx, prefix)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, key := range keys {
		deleted, err := r.client.Del(ctx, key).Result()
		if err != nil {
			// Partial removal is tolerated; the survivors are still bounded by their TTL.
			return removed, fmt.Errorf("%w: redis del: %v", ErrUnavailable, err)
		}
		removed += int(deleted)
	}
	return removed, nil
}

// ListKeys walks the keyspace with SCAN rather than KEYS, so it doesn't stall the server, but it
// is still O(keyspace) and reserved for maintenance and invalidation paths.
func (r *Redis) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("%w: redis scan: %v", ErrUnavailable, err)
	}
	return keys, nil
}

// Ping verifies connectivity to the Redis server.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
