package queue_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-bizops/internal/queue"
)

func newClient(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestEnqueueDequeue(t *testing.T) {
	client := newClient(t)

	enq := queue.Enqueuer{R: client, Prefix: "test"}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := enq.Enqueue(ctx, queue.Task{Kind: "demo", Payload: []byte("payload"), IdempotencyKey: "1"})
	require.NoError(t, err)

	processed := make(chan queue.Task, 1)
	worker := queue.Worker{
		R:                 client,
		Prefix:            "test",
		Kind:              "demo",
		Concurrency:       1,
		VisibilityTimeout: time.Second,
		RetryBase:         10 * time.Millisecond,
		PollInterval:      10 * time.Millisecond,
		Handler: func(ctx context.Context, task queue.Task) error {
			processed <- task
			return nil
		},
	}

	done := make(chan struct{})
	go func() {
		_ = worker.Run(ctx)
		close(done)
	}()

	select {
	case task := <-processed:
		require.Equal(t, []byte("payload"), task.Payload)
		require.Equal(t, 1, task.Attempt)
		require.Equal(t, "1", task.IdempotencyKey)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for payload")
	}
	cancel()
	<-done

	processing, err := client.ZCard(context.Background(), "test:queue:demo:processing").Result()
	require.NoError(t, err)
	require.Zero(t, processing)
}

func TestEnqueueDeduplicatesByKey(t *testing.T) {
	client := newClient(t)
	enq := queue.Enqueuer{R: client, Prefix: "dedup"}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, enq.Enqueue(ctx, queue.Task{Kind: "demo", Payload: []byte("x"), IdempotencyKey: "same"}))
	}
	require.NoError(t, enq.Enqueue(ctx, queue.Task{Kind: "demo", Payload: []byte("y"), IdempotencyKey: "other"}))

	depth, err := client.ZCard(ctx, "dedup:queue:demo").Result()
	require.NoError(t, err)
	require.EqualValues(t, 2, depth)
}

func TestEnqueueRejectsBadKind(t *testing.T) {
	client := newClient(t)
	enq := queue.Enqueuer{R: client}

	require.Error(t, enq.Enqueue(context.Background(), queue.Task{Kind: ""}))
	require.Error(t, enq.Enqueue(context.Background(), queue.Task{Kind: "Bad Kind"}))
}

func TestWorkerRetries(t *testing.T) {
	client := newClient(t)

	enq := queue.Enqueuer{R: client, Prefix: "retry"}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, enq.Enqueue(ctx, queue.Task{Kind: "demo", Payload: []byte("retry"), IdempotencyKey: "r1", MaxAttempts: 3}))

	var attempts atomic.Int32
	succeeded := make(chan int, 1)
	worker := queue.Worker{
		R:                 client,
		Prefix:            "retry",
		Kind:              "demo",
		Concurrency:       1,
		VisibilityTimeout: time.Second,
		RetryBase:         5 * time.Millisecond,
		RetryJitter:       0.1,
		PollInterval:      5 * time.Millisecond,
		Handler: func(ctx context.Context, task queue.Task) error {
			if attempts.Add(1) == 1 {
				return errors.New("fail first")
			}
			succeeded <- task.Attempt
			return nil
		},
	}

	go func() { _ = worker.Run(ctx) }()

	select {
	case attempt := <-succeeded:
		require.Equal(t, 2, attempt)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not retry in time")
	}
}
