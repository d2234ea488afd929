package tagcache

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultPrefix = "folio:tags"
	pingTimeout   = 5 * time.Second
)

// Redis keeps the tag catalog in a Redis set so that several processes share it.
type Redis struct {
	client *redis.Client
	setKey string
	warmed string
}

// NewRedis connects to redisURL and verifies the connection.
func NewRedis(redisURL string) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisWithClient(client, defaultPrefix), nil
}

// NewRedisWithClient builds a cache on an existing client under the given key prefix.
func NewRedisWithClient(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Redis{client: client, setKey: prefix + ":names", warmed: prefix + ":warmed"}
}

// Names returns the sorted catalog and whether Replace has run.
func (r *Redis) Names(ctx context.Context) ([]string, bool, error) {
	var (
		members *redis.StringSliceCmd
		marker  *redis.IntCmd
	)
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		members = pipe.SMembers(ctx, r.setKey)
		marker = pipe.Exists(ctx, r.warmed)
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("read tag names: %w", err)
	}
	names := members.Val()
	sort.Strings(names)
	return names, marker.Val() == 1, nil
}

// Add records names without changing the warmed state.
func (r *Redis) Add(ctx context.Context, names ...string) error {
	if len(names) == 0 {
		return nil
	}
	if err := r.client.SAdd(ctx, r.setKey, toMembers(names)...).Err(); err != nil {
		return fmt.Errorf("add tag names: %w", err)
	}
	return nil
}

// Replace swaps the catalog atomically and marks it warmed.
func (r *Redis) Replace(ctx context.Context, names []string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.setKey)
		if len(names) > 0 {
			pipe.SAdd(ctx, r.setKey, toMembers(names)...)
		}
		pipe.Set(ctx, r.warmed, "1", 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("replace tag names: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}

func toMembers(names []string) []any {
	members := make([]any, 0, len(names))
	for _, name := range names {
		members = append(members, name)
	}
	return members
}
