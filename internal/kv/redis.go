package kv

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds the connection settings for the Redis store.
type RedisConfig struct {
	ConnectionURL  string        // redis://:password@localhost:6379/0
	RetryAttempts  int           // connection attempts before giving up
	RetryInterval  time.Duration // pause between attempts
	ConnectTimeout time.Duration // overall budget for Connect
}

// Connect dials Redis and pings it until it answers, retrying up to
// cfg.RetryAttempts times within cfg.ConnectTimeout.
func Connect(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	if cfg.ConnectionURL == "" {
		return nil, ErrEmptyConnectionURL
	}
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	opts, err := redis.ParseURL(cfg.ConnectionURL)
	if err != nil {
		return nil, errors.Join(ErrFailedToParseConnectionURL, err)
	}

	attempts := max(cfg.RetryAttempts, 1)
	var lastErr error
	for attempt := range attempts {
		client := redis.NewClient(opts)
		if lastErr = client.Ping(ctx).Err(); lastErr == nil {
			return client, nil
		}
		_ = client.Close()

		if attempt == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrRedisNotReady, ctx.Err())
		case <-time.After(cfg.RetryInterval):
		}
	}

	return nil, errors.Join(ErrRedisNotReady, lastErr)
}

// Redis is a Store backed by a Redis server.
type Redis struct {
	db redis.UniversalClient
}

// NewRedis wraps an already connected client.
func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{db: client}
}

// Get returns nil for missing keys (redis.Nil becomes nil).
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.db.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

func (r *Redis) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.db.Set(ctx, key, value, ttl).Err()
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.db.Del(ctx, key).Err()
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.db.Close()
}
