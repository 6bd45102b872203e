package kv

import (
	"context"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
)

func newTestClient() *Client {
	return &Client{
		writeQ:  make([]bufferedWrite, 0, 4),
		writeQN: 4,
	}
}

func TestQueueWriteBoundedDropsOldest(t *testing.T) {
	c := newTestClient()
	var order []int
	for i := 0; i < 6; i++ {
		i := i
		c.QueueWrite(func(context.Context, redis.UniversalClient) error {
			order = append(order, i)
			return nil
		})
	}
	if len(c.writeQ) != 4 {
		t.Fatalf("expected queue capped at 4, got %d", len(c.writeQ))
	}
}

func TestFlushBufferedStopsAtFirstFailureAndRequeues(t *testing.T) {
	c := newTestClient()
	var ran []int
	c.QueueWrite(func(context.Context, redis.UniversalClient) error {
		ran = append(ran, 1)
		return nil
	})
	c.QueueWrite(func(context.Context, redis.UniversalClient) error {
		ran = append(ran, 2)
		return errors.New("boom")
	})
	c.QueueWrite(func(context.Context, redis.UniversalClient) error {
		ran = append(ran, 3)
		return nil
	})

	c.FlushBuffered(context.Background())

	if len(ran) != 2 {
		t.Fatalf("expected flush to stop after failure, ran=%v", ran)
	}
	if len(c.writeQ) != 2 {
		t.Fatalf("expected failed write and remainder requeued, got %d", len(c.writeQ))
	}
}
