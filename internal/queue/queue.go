// Package queue implements the durable, Redis-backed FIFO queue that sits
// between the NOTIFY listener and the consumer (§3.4, §6.3): bulk push/pop
// of JSON-serialized change events, one list per (database, index).
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultNamespace = "pgsync"
	defaultChunkSize = 1000
)

// Option configures a Queue at construction (mirrors the functional-option
// shape used throughout this codebase's storage adapters).
type Option func(*Queue)

// WithNamespace overrides the default Redis key namespace.
func WithNamespace(ns string) Option {
	return func(q *Queue) {
		if ns != "" {
			q.namespace = ns
		}
	}
}

// WithChunkSize overrides the default BulkPop batch size.
func WithChunkSize(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.chunkSize = n
		}
	}
}

// Queue is a namespaced Redis list acting as a durable FIFO (§3.4 "ordered,
// FIFO within same weight, supporting bulk push / bulk pop").
type Queue struct {
	client    *redis.Client
	key       string
	namespace string
	chunkSize int
}

// New opens a Queue for (database, index) against the Redis instance at
// redisURL (e.g. "redis://localhost:6379/0").
func New(ctx context.Context, redisURL, database, index string, opts ...Option) (*Queue, error) {
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(redisOpts)

	q := &Queue{
		client:    client,
		namespace: defaultNamespace,
		chunkSize: defaultChunkSize,
	}
	for _, opt := range opts {
		opt(q)
	}
	q.key = fmt.Sprintf("%s:queue:%s_%s", q.namespace, database, index)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return q, nil
}

// Close releases the underlying Redis client.
func (q *Queue) Close() error {
	return q.client.Close()
}

// Size returns the approximate number of pending items.
func (q *Queue) Size(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("llen %s: %w", q.key, err)
	}
	return n, nil
}

// Push appends one item to the tail of the queue.
func (q *Queue) Push(ctx context.Context, item any) error {
	return q.BulkPush(ctx, []any{item})
}

// BulkPush appends several items in a single RPUSH (§4.5.1 listener "bulk
// pushes to the durable queue" when its buffer fills).
func (q *Queue) BulkPush(ctx context.Context, items []any) error {
	if len(items) == 0 {
		return nil
	}
	encoded := make([]any, len(items))
	for i, item := range items {
		data, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("marshal queue item %d: %w", i, err)
		}
		encoded[i] = data
	}
	if err := q.client.RPush(ctx, q.key, encoded...).Err(); err != nil {
		return fmt.Errorf("rpush %s: %w", q.key, err)
	}
	return nil
}

// BulkPop removes and returns up to chunkSize items from the head of the
// queue as a single pipelined LRANGE+LTRIM (§4.5.1 consumer "bulk-pops from
// the queue"). out receives the raw JSON payloads of the popped items.
func (q *Queue) BulkPop(ctx context.Context, out func(raw [][]byte) error) error {
	pipe := q.client.Pipeline()
	rangeCmd := pipe.LRange(ctx, q.key, 0, int64(q.chunkSize-1))
	pipe.LTrim(ctx, q.key, int64(q.chunkSize), -1)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return fmt.Errorf("bulk pop %s: %w", q.key, err)
	}

	items, err := rangeCmd.Result()
	if err != nil {
		return fmt.Errorf("lrange %s: %w", q.key, err)
	}
	raw := make([][]byte, len(items))
	for i, s := range items {
		raw[i] = []byte(s)
	}
	return out(raw)
}

// Pop blocks until an item is available (or timeout elapses) and returns
// its raw JSON payload, nil if timeout elapsed with nothing available.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) ([]byte, error) {
	result, err := q.client.BLPop(ctx, timeout, q.key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("blpop %s: %w", q.key, err)
	}
	// BLPop returns [key, value].
	return []byte(result[1]), nil
}

// Delete removes the underlying Redis key entirely (§6.5 teardown).
func (q *Queue) Delete(ctx context.Context) error {
	if err := q.client.Del(ctx, q.key).Err(); err != nil {
		return fmt.Errorf("delete queue key %s: %w", q.key, err)
	}
	return nil
}
