package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKey is the Redis list holding pending jobs.
const DefaultKey = "arena:jobs"

// popTimeout bounds a single BRPOP so cancellation is observed promptly.
const popTimeout = time.Second

// Redis is a durable queue on a Redis list: LPUSH to enqueue, BRPOP to consume.
type Redis struct {
	rdb *redis.Client
	key string
}

// NewRedis connects to redisURL and verifies the connection.
func NewRedis(redisURL, key string) (*Redis, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for job queue")
	}
	opts, err := redis.ParseURL(strings.TrimSpace(redisURL))
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisWithClient(rdb, key), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(rdb *redis.Client, key string) *Redis {
	if strings.TrimSpace(key) == "" {
		key = DefaultKey
	}
	return &Redis{rdb: rdb, key: key}
}

func (q *Redis) Close() error {
	if q == nil || q.rdb == nil {
		return nil
	}
	return q.rdb.Close()
}

// Ping reports Redis reachability.
func (q *Redis) Ping(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}

func (q *Redis) Push(ctx context.Context, j Job) error {
	if q == nil || q.rdb == nil {
		return ErrClosed
	}
	if j.EnqueuedAt.IsZero() {
		j.EnqueuedAt = time.Now()
	}
	raw, err := encode(j)
	if err != nil {
		return err
	}
	if err := q.rdb.LPush(ctx, q.key, raw).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", q.key, err)
	}
	return nil
}

func (q *Redis) Pop(ctx context.Context) (Job, error) {
	if q == nil || q.rdb == nil {
		return Job{}, ErrClosed
	}
	for {
		if err := ctx.Err(); err != nil {
			return Job{}, err
		}
		res, err := q.rdb.BRPop(ctx, popTimeout, q.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return Job{}, ctx.Err()
			}
			return Job{}, fmt.Errorf("brpop %s: %w", q.key, err)
		}
		// BRPOP replies [key, value]
		if len(res) != 2 {
			return Job{}, fmt.Errorf("brpop %s: unexpected reply %v", q.key, res)
		}
		return decode([]byte(res[1]))
	}
}

// Len returns the number of queued jobs.
func (q *Redis) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.key).Result()
}
