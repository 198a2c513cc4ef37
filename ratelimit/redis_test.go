package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisLimiter(t *testing.T) (*Limiter, *fakeClock, *miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	clock := newFakeClock()
	cfg := DefaultConfig()
	l, err := New(cfg, NewRedisStore(rdb, "test", cfg.IdleRetention), WithClock(clock.Now))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return l, clock, mr, rdb
}

func TestRedisStore_LoginWindow(t *testing.T) {
	l, clock, _, _ := newRedisLimiter(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d, err := l.CheckLogin(ctx, "a@x.com")
		if err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
		if !d.Allowed {
			t.Fatalf("attempt %d: expected allowed", i+1)
		}
	}

	d, err := l.CheckLogin(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("attempt 6: %v", err)
	}
	if d.Allowed || d.RetryAfterSeconds() != 900 {
		t.Fatalf("expected denial with 900s retry, got %+v", d)
	}

	clock.Advance(16 * time.Minute)
	d, _ = l.CheckLogin(ctx, "a@x.com")
	if !d.Allowed {
		t.Fatal("expected allowed after window")
	}
}

func TestRedisStore_KeyLayoutAndTTL(t *testing.T) {
	l, _, mr, _ := newRedisLimiter(t)
	ctx := context.Background()

	if _, err := l.CheckOTPRequest(ctx, "A@x.com"); err != nil {
		t.Fatalf("CheckOTPRequest: %v", err)
	}

	key := "test:otp_request:a@x.com"
	if !mr.Exists(key) {
		t.Fatalf("expected key %q, have %v", key, mr.Keys())
	}
	if got := mr.HGet(key, "count"); got != "1" {
		t.Fatalf("expected count 1, got %q", got)
	}
	if ttl := mr.TTL(key); ttl != time.Hour {
		t.Fatalf("expected 1h ttl, got %v", ttl)
	}

	mr.FastForward(time.Hour + time.Second)
	if mr.Exists(key) {
		t.Fatal("expected idle entry to expire")
	}
}

func TestRedisStore_ClearLoginDeletesKey(t *testing.T) {
	l, _, mr, _ := newRedisLimiter(t)
	ctx := context.Background()

	_, _ = l.CheckLogin(ctx, "a@x.com")
	if err := l.ClearLogin(ctx, "a@x.com"); err != nil {
		t.Fatalf("ClearLogin: %v", err)
	}
	if mr.Exists("test:login:a@x.com") {
		t.Fatal("expected key deleted")
	}
}

func TestRedisStore_UnavailableWrapsError(t *testing.T) {
	l, _, mr, _ := newRedisLimiter(t)
	mr.Close()

	_, err := l.CheckLogin(context.Background(), "a@x.com")
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestRedisStore_SweepIsNoop(t *testing.T) {
	l, _, _, _ := newRedisLimiter(t)
	n, err := l.Cleanup(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("expected (0, nil), got (%d, %v)", n, err)
	}
}
