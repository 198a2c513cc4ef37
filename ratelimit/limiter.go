package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Class selects which attempt table an identity is tracked in.
type Class string

const (
	ClassLogin        Class = "login"
	ClassOTPRequest   Class = "otp_request"
	ClassVerification Class = "verification"
)

// Classes lists every class a store must sweep.
var Classes = []Class{ClassLogin, ClassOTPRequest, ClassVerification}

// Entry is the per-identity attempt record.
type Entry struct {
	Count        int
	FirstAttempt time.Time
	LastAttempt  time.Time
}

// Decision is the outcome of a limit check.
type Decision struct {
	Allowed bool
	// RetryAfter is the whole-second wait before the next call may be allowed.
	// Zero when Allowed is true.
	RetryAfter time.Duration
	// AttemptsLeft counts remaining attempts in the current window or challenge.
	// Always zero for OTP cooldown checks.
	AttemptsLeft int
}

// RetryAfterSeconds returns RetryAfter as whole seconds.
func (d Decision) RetryAfterSeconds() int {
	return int(d.RetryAfter / time.Second)
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// Limiter evaluates attempt limits against a Store.
type Limiter struct {
	cfg   Config
	store Store
	now   func() time.Time

	mu       sync.Mutex
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a Limiter. A nil store selects a fresh MemoryStore.
func New(cfg Config, store Store, opts ...Option) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		store = NewMemoryStore()
	}

	l := &Limiter{
		cfg:   cfg,
		store: store,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Config returns the active configuration.
func (l *Limiter) Config() Config {
	return l.cfg
}

// CheckLogin records a login attempt for identity and reports whether it may
// proceed. Denied calls are not recorded.
func (l *Limiter) CheckLogin(ctx context.Context, identity string) (Decision, error) {
	now := l.now()
	window := l.cfg.LoginWindow
	max := l.cfg.MaxLoginAttempts

	var d Decision
	err := l.store.Update(ctx, ClassLogin, normalizeIdentity(identity), func(cur Entry, ok bool) (Entry, bool) {
		if !ok || now.Sub(cur.FirstAttempt) > window {
			d = Decision{Allowed: true, AttemptsLeft: max - 1}
			return Entry{Count: 1, FirstAttempt: now, LastAttempt: now}, true
		}
		if cur.Count >= max {
			d = Decision{RetryAfter: retryAfter(cur.FirstAttempt.Add(window).Sub(now))}
			return cur, false
		}
		cur.Count++
		cur.LastAttempt = now
		d = Decision{Allowed: true, AttemptsLeft: max - cur.Count}
		return cur, true
	})
	if err != nil {
		return Decision{}, err
	}
	return d, nil
}

// CheckOTPRequest enforces one allowed request per cooldown for identity.
func (l *Limiter) CheckOTPRequest(ctx context.Context, identity string) (Decision, error) {
	now := l.now()
	cooldown := l.cfg.OTPCooldown

	var d Decision
	err := l.store.Update(ctx, ClassOTPRequest, normalizeIdentity(identity), func(cur Entry, ok bool) (Entry, bool) {
		if ok && now.Sub(cur.LastAttempt) < cooldown {
			d = Decision{RetryAfter: retryAfter(cur.LastAttempt.Add(cooldown).Sub(now))}
			return cur, false
		}
		d = Decision{Allowed: true}
		return Entry{Count: 1, FirstAttempt: now, LastAttempt: now}, true
	})
	if err != nil {
		return Decision{}, err
	}
	return d, nil
}

// CheckVerification records a code attempt against challengeID.
func (l *Limiter) CheckVerification(ctx context.Context, challengeID string) (Decision, error) {
	now := l.now()
	max := l.cfg.MaxVerificationAttempts

	var d Decision
	err := l.store.Update(ctx, ClassVerification, strings.TrimSpace(challengeID), func(cur Entry, ok bool) (Entry, bool) {
		if !ok {
			d = Decision{Allowed: true, AttemptsLeft: max - 1}
			return Entry{Count: 1, FirstAttempt: now, LastAttempt: now}, true
		}
		if cur.Count >= max {
			d = Decision{AttemptsLeft: 0}
			return cur, false
		}
		cur.Count++
		cur.LastAttempt = now
		d = Decision{Allowed: true, AttemptsLeft: max - cur.Count}
		return cur, true
	})
	if err != nil {
		return Decision{}, err
	}
	return d, nil
}

// ClearLogin forgets the login attempts of identity.
func (l *Limiter) ClearLogin(ctx context.Context, identity string) error {
	return l.store.Delete(ctx, ClassLogin, normalizeIdentity(identity))
}

// ClearVerification forgets the attempts recorded for challengeID.
func (l *Limiter) ClearVerification(ctx context.Context, challengeID string) error {
	return l.store.Delete(ctx, ClassVerification, strings.TrimSpace(challengeID))
}

// Cleanup removes entries whose last attempt is older than IdleRetention and
// returns how many were removed.
func (l *Limiter) Cleanup(ctx context.Context) (int, error) {
	return l.store.Sweep(ctx, l.now().Add(-l.cfg.IdleRetention))
}

// StartCleanup runs Cleanup every interval until Stop. A non-positive interval
// selects Config.CleanupInterval; when both are zero no janitor is started.
// Calling it more than once has no effect.
func (l *Limiter) StartCleanup(interval time.Duration, onError func(error)) {
	if interval <= 0 {
		interval = l.cfg.CleanupInterval
	}
	if interval <= 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopCh != nil {
		return
	}
	l.stopCh = make(chan struct{})

	l.wg.Add(1)
	go l.cleanupLoop(interval, l.stopCh, onError)
}

// Stop halts the janitor started by StartCleanup. It is safe to call repeatedly.
func (l *Limiter) Stop() {
	l.mu.Lock()
	stopCh := l.stopCh
	l.mu.Unlock()
	if stopCh == nil {
		return
	}
	l.stopOnce.Do(func() {
		close(stopCh)
	})
	l.wg.Wait()
}

func (l *Limiter) cleanupLoop(interval time.Duration, stopCh <-chan struct{}, onError func(error)) {
	defer l.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := l.Cleanup(context.Background()); err != nil && onError != nil {
				onError(err)
			}
		case <-stopCh:
			return
		}
	}
}

// retryAfter rounds up to whole seconds, never below one second.
func retryAfter(remaining time.Duration) time.Duration {
	secs := (remaining + time.Second - 1) / time.Second
	if secs < 1 {
		secs = 1
	}
	return secs * time.Second
}

func normalizeIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}
