//go:build integration

package queue

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func getTestRedisURL(t *testing.T) string {
	t.Helper()
	url := os.Getenv("PGSYNC_TEST_REDIS_URL")
	if url == "" {
		t.Skip("PGSYNC_TEST_REDIS_URL not set, skipping Redis integration tests")
	}
	return url
}

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	url := getTestRedisURL(t)
	ns := fmt.Sprintf("pgsync-test-%d", time.Now().UnixNano())
	q, err := New(context.Background(), url, "testdb", "testindex", WithNamespace(ns))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = q.Delete(context.Background())
		_ = q.Close()
	})
	return q
}

func TestQueue_PushPop(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.BulkPush(ctx, []any{
		map[string]any{"tg_op": "INSERT", "table": "book"},
		map[string]any{"tg_op": "INSERT", "table": "publisher"},
	}))

	size, err := q.Size(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), size)

	var got [][]byte
	require.NoError(t, q.BulkPop(ctx, func(raw [][]byte) error {
		got = raw
		return nil
	}))
	require.Len(t, got, 2)

	size, err = q.Size(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(0), size)
}

func TestQueue_BlockingPop(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, map[string]any{"tg_op": "DELETE"}))
	item, err := q.Pop(ctx, time.Second)
	require.NoError(t, err)
	require.Contains(t, string(item), "DELETE")
}
