package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Redis stores bytes in a single Redis string key using APPEND and GETRANGE.
type Redis struct {
	client *redis.Client
	key    string
	owned  bool
}

// NewRedis returns a provider writing to key through client. The client is
// not closed by [Redis.Close].
func NewRedis(client *redis.Client, key string) (*Redis, error) {
	if client == nil {
		return nil, errors.New("redis client must not be nil")
	}
	if key == "" {
		return nil, errors.New("redis key must not be empty")
	}

	return &Redis{client: client, key: key}, nil
}

// NewRedisFromURL connects to the server described by rawURL
// (redis://[:password@]host:port[/db]) and writes to key.
func NewRedisFromURL(rawURL, key string) (*Redis, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	r, err := NewRedis(redis.NewClient(opts), key)
	if err != nil {
		return nil, err
	}
	r.owned = true

	return r, nil
}

// Key returns the Redis key holding the data.
func (r *Redis) Key() string { return r.key }

func (r *Redis) Append(ctx context.Context, p []byte) error {
	if err := r.client.Append(ctx, r.key, string(p)).Err(); err != nil {
		return fmt.Errorf("redis append %s: %w", r.key, err)
	}
	return nil
}

func (r *Redis) ClearData(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", r.key, err)
	}
	return nil
}

func (r *Redis) CurrentLength(ctx context.Context) (int64, error) {
	n, err := r.client.StrLen(ctx, r.key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis strlen %s: %w", r.key, err)
	}
	return n, nil
}

func (r *Redis) ReadRange(ctx context.Context, offset, length int64) ([]byte, error) {
	size, err := r.CurrentLength(ctx)
	if err != nil {
		return nil, err
	}
	if err := checkRange(offset, length, size); err != nil {
		return nil, err
	}
	if length == 0 {
		return []byte{}, nil
	}

	// GETRANGE end offsets are inclusive.
	s, err := r.client.GetRange(ctx, r.key, offset, offset+length-1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis getrange %s: %w", r.key, err)
	}

	return []byte(s), nil
}

// Close closes the underlying client when it was created by NewRedisFromURL.
func (r *Redis) Close() error {
	if !r.owned {
		return nil
	}
	return r.client.Close()
}
