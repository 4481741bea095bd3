package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/bountyhub/escrow/pkg/config"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := New(context.Background(), config.RedisConfig{Address: mr.Addr()}, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestSetNXOnlyFirstWriterWins(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)

	ok, err := client.SetNX(ctx, "k", "first", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected first setnx to win, ok=%v err=%v", ok, err)
	}
	ok, err = client.SetNX(ctx, "k", "second", time.Minute)
	if err != nil {
		t.Fatalf("setnx: %v", err)
	}
	if ok {
		t.Fatalf("expected second setnx to lose")
	}
	got, err := client.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "first" {
		t.Fatalf("expected first value, got %q", got)
	}
}

func TestTTLExpiresKeys(t *testing.T) {
	ctx := context.Background()
	client, mr := newTestClient(t)

	if err := client.Set(ctx, "ephemeral", "v", time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}
	mr.FastForward(2 * time.Second)

	_, err := client.Get(ctx, "ephemeral")
	if !errors.Is(err, redis.Nil) {
		t.Fatalf("expected redis.Nil after expiry, got %v", err)
	}
}

func TestDelRemovesKeys(t *testing.T) {
	ctx := context.Background()
	client, mr := newTestClient(t)

	_ = client.Set(ctx, "a", "1", 0)
	_ = client.Set(ctx, "b", "2", 0)
	if err := client.Del(ctx, "a", "b"); err != nil {
		t.Fatalf("del: %v", err)
	}
	if mr.Exists("a") || mr.Exists("b") {
		t.Fatalf("expected keys deleted")
	}
}

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	if got := client.IdempotencyKey("funding_intent", " abc "); got != "escrow:idempotency:funding_intent:abc" {
		t.Fatalf("unexpected idempotency key %q", got)
	}
	if got := client.AccessSessionKey("jti-1"); got != "escrow:session:access:jti-1" {
		t.Fatalf("unexpected session key %q", got)
	}
	if got := client.LockKey("cron"); got != "escrow:lock:cron" {
		t.Fatalf("unexpected lock key %q", got)
	}
	if got := client.IdempotencyKey("", "x"); got != "escrow:idempotency:x" {
		t.Fatalf("empty segments should be skipped, got %q", got)
	}
}

func TestNewRequiresAddress(t *testing.T) {
	if _, err := New(context.Background(), config.RedisConfig{}, nil); err == nil {
		t.Fatalf("expected error without url or address")
	}
}

func TestUninitializedClientErrors(t *testing.T) {
	client := &Client{}
	if err := client.Ping(context.Background()); err == nil {
		t.Fatalf("expected error from uninitialized client")
	}
}

func TestCompareAndDeleteOnlyRemovesOwnedValue(t *testing.T) {
	ctx := context.Background()
	client, mr := newTestClient(t)

	if err := client.Set(ctx, "lock", "owner-a", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	deleted, err := client.CompareAndDelete(ctx, "lock", "owner-b")
	if err != nil {
		t.Fatalf("compare and delete: %v", err)
	}
	if deleted || !mr.Exists("lock") {
		t.Fatalf("foreign owner must not release the lock")
	}
	deleted, err = client.CompareAndDelete(ctx, "lock", "owner-a")
	if err != nil {
		t.Fatalf("compare and delete: %v", err)
	}
	if !deleted || mr.Exists("lock") {
		t.Fatalf("expected owner to release the lock")
	}
}

func TestIncrWithTTLStartsWindowOnce(t *testing.T) {
	ctx := context.Background()
	client, mr := newTestClient(t)
	key := client.RateLimitKey("funding", "principal-1")

	for want := int64(1); want <= 3; want++ {
		got, err := client.IncrWithTTL(ctx, key, time.Minute)
		if err != nil {
			t.Fatalf("incr: %v", err)
		}
		if got != want {
			t.Fatalf("expected count %d, got %d", want, got)
		}
	}
	if ttl := mr.TTL(key); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("expected window ttl, got %s", ttl)
	}

	mr.FastForward(time.Minute + time.Second)
	got, err := client.IncrWithTTL(ctx, key, time.Minute)
	if err != nil {
		t.Fatalf("incr after window: %v", err)
	}
	if got != 1 {
		t.Fatalf("expected fresh window, got %d", got)
	}
}
