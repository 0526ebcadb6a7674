package notifications

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func newRedisClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestQueuedNotificationsReachStoreOnFlush(t *testing.T) {
	_, client := newRedisClient(t)
	store := newMemStore()
	sender := &recordingSender{}
	svc := NewService(store, sender, WithRedis(client, true, time.Hour))
	ctx := context.Background()

	ref := Reference{SubmissionID: uintPtr(7), EventType: "chapter_accept", Token: "chapter-1"}
	n, err := svc.Notify(ctx, []uint{10, 2}, "Chapter 1 accepted", ref)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 queued, got n=%d err=%v", n, err)
	}
	// the redelivered event is claimed already
	if n, _ := svc.Notify(ctx, []uint{10, 2}, "Chapter 1 accepted", ref); n != 0 {
		t.Fatalf("expected the retry to be dropped, got %d", n)
	}
	if len(store.rows) != 0 {
		t.Fatalf("nothing should be stored before the flush, got %d", len(store.rows))
	}
	if depth := client.LLen(ctx, QueueKey).Val(); depth != 1 {
		t.Fatalf("expected one queued entry, got %d", depth)
	}

	svc.FlushQueue(ctx, 10)

	if len(store.rows) != 2 {
		t.Fatalf("expected 2 stored notifications, got %d", len(store.rows))
	}
	if depth := client.LLen(ctx, QueueKey).Val(); depth != 0 {
		t.Fatalf("queue should be drained, %d left", depth)
	}
	for _, uid := range []uint{10, 2} {
		if len(sender.sent[uid]) != 1 {
			t.Fatalf("user %d expected one push after the flush, got %d", uid, len(sender.sent[uid]))
		}
	}

	svc.FlushQueue(ctx, 10)
	if len(store.rows) != 2 {
		t.Fatalf("a second flush must not duplicate rows, got %d", len(store.rows))
	}
}

func TestFlushQueueDrainsInBatches(t *testing.T) {
	_, client := newRedisClient(t)
	store := newMemStore()
	svc := NewService(store, &recordingSender{}, WithRedis(client, true, time.Hour))
	ctx := context.Background()

	for i := 1; i <= 25; i++ {
		ref := Reference{EventType: EventChatMessage, Token: fmt.Sprintf("message:%d", i)}
		if _, err := svc.Notify(ctx, []uint{uint(i)}, "new message", ref); err != nil {
			t.Fatalf("notify %d: %v", i, err)
		}
		if i == 12 {
			client.RPush(ctx, QueueKey, "not json")
		}
	}

	svc.FlushQueue(ctx, 10)

	if len(store.rows) != 25 {
		t.Fatalf("expected 25 stored notifications, got %d", len(store.rows))
	}
	if depth := client.LLen(ctx, QueueKey).Val(); depth != 0 {
		t.Fatalf("queue should be drained, %d left", depth)
	}
}

func TestFlushQueueWithoutQueueMode(t *testing.T) {
	_, client := newRedisClient(t)
	store := newMemStore()
	svc := NewService(store, &recordingSender{}, WithRedis(client, false, time.Hour))
	ctx := context.Background()

	client.RPush(ctx, QueueKey, `{"user_ids":[1],"message":"left over"}`)
	svc.FlushQueue(ctx, 10)

	if len(store.rows) != 0 {
		t.Fatalf("flush must be a no-op outside queue mode, stored %d", len(store.rows))
	}
	if depth := client.LLen(ctx, QueueKey).Val(); depth != 1 {
		t.Fatalf("queue must be left alone, depth %d", depth)
	}
}
