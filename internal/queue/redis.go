package queue

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Queue carries problem ids from payment confirmation to the execution
// workers.
type Queue interface {
	Enqueue(ctx context.Context, problemID string) error
	Dequeue(ctx context.Context) (string, error)
	Ping(ctx context.Context) error
	Close() error
}

// RedisQueue implements Queue on a Redis list
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue creates a new Redis-backed execution queue
func NewRedisQueue(address, password string, db int, key string) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if key == "" {
		key = "problems:execution"
	}

	return &RedisQueue{client: client, key: key}, nil
}

// Enqueue pushes a problem id onto the queue
func (q *RedisQueue) Enqueue(ctx context.Context, problemID string) error {
	if err := q.client.LPush(ctx, q.key, problemID).Err(); err != nil {
		return fmt.Errorf("failed to enqueue problem: %w", err)
	}
	return nil
}

// Dequeue blocks until a problem id is available or the context is done
func (q *RedisQueue) Dequeue(ctx context.Context) (string, error) {
	res, err := q.client.BRPop(ctx, 0, q.key).Result()
	if err != nil {
		return "", fmt.Errorf("failed to dequeue problem: %w", err)
	}

	// BRPOP returns [key, value]
	if len(res) != 2 {
		return "", fmt.Errorf("unexpected BRPOP reply length: %d", len(res))
	}

	return res[1], nil
}

// Ping verifies Redis connectivity
func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (q *RedisQueue) Close() error {
	return q.client.Close()
}
