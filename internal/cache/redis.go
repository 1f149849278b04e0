package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "perpetua:cache:"

// RedisBackend stores entries as JSON strings under a key prefix. Entries
// expire on the Redis side some time after they go stale, so abandoned
// keys do not accumulate.
type RedisBackend struct {
	client *goredis.Client
	prefix string
	grace  time.Duration
}

// NewRedisBackend connects to redisURL and verifies the connection.
func NewRedisBackend(ctx context.Context, redisURL, prefix string) (*RedisBackend, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis cache: invalid URL: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis cache: ping failed: %w", err)
	}
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisBackend{client: client, prefix: prefix, grace: time.Hour}, nil
}

// Close releases the client.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}

func (b *RedisBackend) Load(ctx context.Context, key string) (Entry, bool, error) {
	data, err := b.client.Get(ctx, b.prefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("redis cache: get %s: %w", key, err)
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, false, fmt.Errorf("redis cache: decode %s: %w", key, err)
	}
	return e, true, nil
}

func (b *RedisBackend) Store(ctx context.Context, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("redis cache: encode %s: %w", e.Key, err)
	}
	ttl := time.Until(e.StaleAt) + b.grace
	if ttl <= 0 {
		ttl = b.grace
	}
	if err := b.client.Set(ctx, b.prefix+e.Key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis cache: set %s: %w", e.Key, err)
	}
	return nil
}

func (b *RedisBackend) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = b.prefix + k
	}
	if err := b.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("redis cache: del: %w", err)
	}
	return nil
}

func (b *RedisBackend) Entries(ctx context.Context) ([]Entry, error) {
	var keys []string
	iter := b.client.Scan(ctx, 0, b.prefix+"*", 256).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis cache: scan: %w", err)
	}
	if len(keys) == 0 {
		return []Entry{}, nil
	}

	vals, err := b.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis cache: mget: %w", err)
	}
	out := make([]Entry, 0, len(vals))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			// expired between SCAN and MGET
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(s), &e); err != nil {
			return nil, fmt.Errorf("redis cache: decode %s: %w", keys[i], err)
		}
		out = append(out, e)
	}
	return out, nil
}

var _ Backend = (*RedisBackend)(nil)
