package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(t *testing.T, store Store) (*Limiter, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	l, err := New(DefaultConfig(), store, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return l, clock
}

func TestCheckLogin_SixthAttemptDenied(t *testing.T) {
	l, _ := newTestLimiter(t, nil)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		d, err := l.CheckLogin(ctx, "a@x.com")
		if err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
		if !d.Allowed {
			t.Fatalf("attempt %d: expected allowed", i)
		}
		if d.AttemptsLeft != 5-i {
			t.Fatalf("attempt %d: expected %d attempts left, got %d", i, 5-i, d.AttemptsLeft)
		}
	}

	d, err := l.CheckLogin(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("attempt 6: %v", err)
	}
	if d.Allowed {
		t.Fatal("expected 6th attempt to be denied")
	}
	if d.RetryAfterSeconds() != 900 {
		t.Fatalf("expected 900s retry, got %d", d.RetryAfterSeconds())
	}
}

func TestCheckLogin_RetryAfterCountsFromFirstAttempt(t *testing.T) {
	l, clock := newTestLimiter(t, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := l.CheckLogin(ctx, "a@x.com"); err != nil {
			t.Fatalf("CheckLogin: %v", err)
		}
		clock.Advance(time.Minute)
	}

	// first attempt was 5 minutes ago.
	d, _ := l.CheckLogin(ctx, "a@x.com")
	if d.Allowed {
		t.Fatal("expected denial")
	}
	if got := d.RetryAfterSeconds(); got != 600 {
		t.Fatalf("expected 600s retry, got %d", got)
	}

	clock.Advance(500 * time.Millisecond)
	d, _ = l.CheckLogin(ctx, "a@x.com")
	if got := d.RetryAfterSeconds(); got != 600 {
		t.Fatalf("expected partial seconds to round up to 600, got %d", got)
	}
}

func TestCheckLogin_DeniedCallsDoNotExtendWindow(t *testing.T) {
	store := NewMemoryStore()
	l, clock := newTestLimiter(t, store)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		_, _ = l.CheckLogin(ctx, "a@x.com")
	}
	e, ok := store.Get(ClassLogin, "a@x.com")
	if !ok {
		t.Fatal("expected entry")
	}
	if e.Count != 5 {
		t.Fatalf("expected count to stay at 5, got %d", e.Count)
	}

	clock.Advance(15*time.Minute + time.Second)
	d, _ := l.CheckLogin(ctx, "a@x.com")
	if !d.Allowed {
		t.Fatal("expected allowed after window elapsed")
	}
	e, _ = store.Get(ClassLogin, "a@x.com")
	if e.Count != 1 {
		t.Fatalf("expected count reset to 1, got %d", e.Count)
	}
}

func TestCheckLogin_IdentityNormalized(t *testing.T) {
	l, _ := newTestLimiter(t, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = l.CheckLogin(ctx, "A@X.com ")
	}
	d, _ := l.CheckLogin(ctx, "a@x.com")
	if d.Allowed {
		t.Fatal("expected case and whitespace variants to share one budget")
	}
}

func TestClearLogin_ResetsBudget(t *testing.T) {
	l, _ := newTestLimiter(t, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = l.CheckLogin(ctx, "a@x.com")
	}
	if err := l.ClearLogin(ctx, "a@x.com"); err != nil {
		t.Fatalf("ClearLogin: %v", err)
	}

	d, _ := l.CheckLogin(ctx, "a@x.com")
	if !d.Allowed || d.AttemptsLeft != 4 {
		t.Fatalf("expected fresh budget, got %+v", d)
	}
}

func TestCheckOTPRequest_Cooldown(t *testing.T) {
	l, clock := newTestLimiter(t, nil)
	ctx := context.Background()

	d, _ := l.CheckOTPRequest(ctx, "a@x.com")
	if !d.Allowed {
		t.Fatal("expected first request allowed")
	}

	clock.Advance(30 * time.Second)
	d, _ = l.CheckOTPRequest(ctx, "a@x.com")
	if d.Allowed {
		t.Fatal("expected request inside cooldown denied")
	}
	if d.RetryAfterSeconds() != 30 {
		t.Fatalf("expected 30s retry, got %d", d.RetryAfterSeconds())
	}

	// denied calls do not push the cooldown forward.
	clock.Advance(30 * time.Second)
	d, _ = l.CheckOTPRequest(ctx, "a@x.com")
	if !d.Allowed {
		t.Fatal("expected request allowed once cooldown elapsed")
	}
}

func TestCheckVerification_AttemptsLeft(t *testing.T) {
	l, _ := newTestLimiter(t, nil)
	ctx := context.Background()

	want := []int{4, 3, 2, 1, 0}
	for i, left := range want {
		d, err := l.CheckVerification(ctx, "challenge-1")
		if err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
		if !d.Allowed || d.AttemptsLeft != left {
			t.Fatalf("attempt %d: expected allowed with %d left, got %+v", i+1, left, d)
		}
	}

	for i := 0; i < 3; i++ {
		d, _ := l.CheckVerification(ctx, "challenge-1")
		if d.Allowed || d.AttemptsLeft != 0 {
			t.Fatalf("expected denial with zero attempts left, got %+v", d)
		}
	}

	d, _ := l.CheckVerification(ctx, "challenge-2")
	if !d.Allowed {
		t.Fatal("expected independent challenge to be allowed")
	}

	if err := l.ClearVerification(ctx, "challenge-1"); err != nil {
		t.Fatalf("ClearVerification: %v", err)
	}
	d, _ = l.CheckVerification(ctx, "challenge-1")
	if !d.Allowed || d.AttemptsLeft != 4 {
		t.Fatalf("expected cleared challenge to restart, got %+v", d)
	}
}

func TestCleanup_RemovesIdleEntries(t *testing.T) {
	store := NewMemoryStore()
	l, clock := newTestLimiter(t, store)
	ctx := context.Background()

	_, _ = l.CheckLogin(ctx, "old@x.com")
	_, _ = l.CheckOTPRequest(ctx, "old@x.com")
	clock.Advance(61 * time.Minute)
	_, _ = l.CheckLogin(ctx, "new@x.com")

	removed, err := l.Cleanup(ctx)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}
	if store.Len(ClassLogin) != 1 || store.Len(ClassOTPRequest) != 0 {
		t.Fatalf("unexpected remaining entries: login=%d otp=%d", store.Len(ClassLogin), store.Len(ClassOTPRequest))
	}
}

func TestStartCleanup_StopIsIdempotent(t *testing.T) {
	l, _ := newTestLimiter(t, nil)

	l.StartCleanup(time.Millisecond, nil)
	l.StartCleanup(time.Millisecond, nil)
	time.Sleep(5 * time.Millisecond)
	l.Stop()
	l.Stop()
}

func TestConfigValidate_RejectsZeroWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LoginWindow = 0
	if _, err := New(cfg, nil); err == nil {
		t.Fatal("expected invalid config error")
	}
}

func TestCheckLogin_ConcurrentCallsRespectMax(t *testing.T) {
	l, _ := newTestLimiter(t, nil)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := l.CheckLogin(ctx, "a@x.com")
			if err == nil && d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 5 {
		t.Fatalf("expected exactly 5 allowed, got %d", allowed)
	}
}
