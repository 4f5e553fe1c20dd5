package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/campusworks/coursetasks/pkg/core"
)

// RedisResults is a result backend shared between web processes and
// worker processes. Entries expire after TTL so abandoned task ids do
// not accumulate forever.
type RedisResults struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisResults connects to the given Redis URL and verifies the
// connection with a ping.
func NewRedisResults(redisURL string, ttl time.Duration) (*RedisResults, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisResults{client: client, prefix: "coursetasks:result:", ttl: ttl}, nil
}

func (r *RedisResults) key(engineTaskID string) string {
	return r.prefix + engineTaskID
}

func (r *RedisResults) Set(ctx context.Context, engineTaskID string, res *core.EngineResult) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	if err := r.client.Set(ctx, r.key(engineTaskID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store result: %w", err)
	}
	return nil
}

func (r *RedisResults) Get(ctx context.Context, engineTaskID string) (*core.EngineResult, error) {
	data, err := r.client.Get(ctx, r.key(engineTaskID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load result: %w", err)
	}
	var res core.EngineResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("failed to decode result: %w", err)
	}
	return &res, nil
}

// Close releases the underlying client.
func (r *RedisResults) Close() error {
	return r.client.Close()
}
