package storeauth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/yanlnery/glowing-docs-portal-sub000/internal/loop"
	"github.com/yanlnery/glowing-docs-portal-sub000/monitor"
	"github.com/yanlnery/glowing-docs-portal-sub000/ratelimit"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/yanlnery/glowing-docs-portal-sub000"

// Controller owns the canonical user, session and profile of one storefront
// client. Use [Builder] to create one and Start to subscribe it to the
// provider's event stream.
type Controller struct {
	config   Config
	provider Provider
	profiles ProfileStore
	limiter  *ratelimit.Limiter
	monitor  *monitor.Monitor
	metrics  *Metrics
	logger   *zap.Logger
	tracer   trace.Tracer
	now      func() time.Time

	// queue runs deferred profile fetches and watcher deliveries, one at a
	// time, after the scheduling call has returned.
	queue *loop.Queue

	ownsLimiter bool
	ownsMonitor bool

	mu          sync.Mutex
	user        *User
	session     *Session
	profile     *Profile
	authErr     *AuthError
	profileErr  *AuthError
	life        lifecycle
	challenges  map[string]recoveryChallenge
	started     bool
	closed      bool
	unsubscribe func()

	watchers    map[uint64]func(Snapshot)
	nextWatcher uint64
}

type recoveryChallenge struct {
	id       string
	issuedAt time.Time
}

/*
====================================
LIFECYCLE
====================================
*/

// Start subscribes to the provider's event stream and resolves the initial
// session. The controller reports loading until the first event arrives.
// When the provider does not replay the current session on subscribe, Start
// reads it with GetSession and applies it as INITIAL_SESSION.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrControllerClosed
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.life = c.life.apply(lifecycleInput{kind: inBootBegin})
	c.publishLocked()
	c.mu.Unlock()

	if c.ownsLimiter && c.config.StartJanitor {
		c.limiter.StartCleanup(0, func(err error) {
			c.logger.Warn("rate limit cleanup failed", zap.Error(err))
		})
	}

	unsubscribe := c.provider.OnAuthStateChange(c.handleAuthEvent)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		if unsubscribe != nil {
			unsubscribe()
		}
		return ErrControllerClosed
	}
	c.unsubscribe = unsubscribe
	booting := c.life.booting
	c.mu.Unlock()

	if !booting {
		return nil
	}

	session, err := c.provider.GetSession(ctx)
	if err != nil {
		ae := providerError(err)
		c.mu.Lock()
		if c.life.booting {
			c.life = c.life.apply(lifecycleInput{kind: inBootEnd})
			c.authErr = ae
			c.publishLocked()
		}
		c.mu.Unlock()
		c.logger.Warn("initial session lookup failed", zap.Error(err))
		return ae
	}

	c.applyEvent(AuthChangeEvent{Type: EventInitialSession, Session: session}, true)
	return nil
}

// Close unsubscribes from the provider, drops pending profile fetches and
// releases the services the controller created. It is safe to call
// repeatedly.
func (c *Controller) Close() {
	if c == nil {
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	c.queue.Close()

	if c.ownsLimiter {
		c.limiter.Stop()
	}
	if c.ownsMonitor {
		c.monitor.Close()
	}
}

// Flush blocks until every deferred profile fetch, watcher delivery and
// queued security notification scheduled so far has run. It must not be
// called from a watcher.
func (c *Controller) Flush(ctx context.Context) error {
	if err := c.queue.Drain(ctx); err != nil {
		return err
	}
	c.monitor.FlushNotifications()
	return nil
}

/*
====================================
STREAM EVENTS
====================================
*/

func (c *Controller) handleAuthEvent(ev AuthChangeEvent) {
	c.applyEvent(ev, false)
}

// applyEvent is the single writer of user and session. Every event clears
// the previous auth error. A synthetic event only applies while the
// controller is still waiting for the first real one.
func (c *Controller) applyEvent(ev AuthChangeEvent, synthetic bool) {
	effect := classifyEvent(ev)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	if synthetic && !c.life.booting {
		return
	}

	c.metrics.Inc(MetricProviderEvent)
	c.authErr = nil

	switch effect {
	case effectFetch:
		s := cloneSession(ev.Session)
		u := cloneUser(&s.User)
		c.session = s
		c.user = u
		if c.profile != nil && c.profile.ID != u.ID {
			c.profile = nil
			c.profileErr = nil
		}
	case effectClear:
		if c.user != nil || c.session != nil {
			c.metrics.Inc(MetricSessionCleared)
		}
		c.user = nil
		c.session = nil
		c.profile = nil
		c.profileErr = nil
	}

	c.life = c.life.apply(lifecycleInput{kind: inEvent, event: ev.Type, effect: effect})

	if effect == effectFetch {
		gen := c.life.fetchGen
		if !c.queue.Schedule(func(ctx context.Context) { c.fetchProfileTask(ctx, gen) }) {
			c.life = c.life.apply(lifecycleInput{kind: inFetchSettled, gen: gen})
		}
	}

	c.logger.Debug("auth state change",
		zap.String("event", string(ev.Type)),
		zap.Bool("has_session", ev.Session != nil),
		zap.Bool("synthetic", synthetic),
	)

	c.publishLocked()
}

/*
====================================
DIRECT OPERATION BOOKKEEPING
====================================
*/

// opToken is what beginOp hands to endOp.
type opToken struct {
	await    EventType
	startSeq uint64
}

// beginOp clears the auth error and marks a direct operation in flight. await
// names the stream event that will carry the outcome on success, if any.
func (c *Controller) beginOp(await EventType) (opToken, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return opToken{}, ErrControllerClosed
	}
	c.authErr = nil
	c.life = c.life.apply(lifecycleInput{kind: inOpBegin})
	c.publishLocked()
	return opToken{await: await, startSeq: c.life.seqFor(await)}, nil
}

// endOp ends the operation started by beginOp. With handoff set, loading
// continues until the awaited stream event arrives. A non-nil opErr becomes
// the auth error.
func (c *Controller) endOp(tok opToken, handoff bool, opErr *AuthError) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if opErr != nil {
		c.authErr = opErr
	}
	in := lifecycleInput{kind: inOpEnd}
	if handoff {
		in.await = tok.await
		in.startSeq = tok.startSeq
	}
	c.life = c.life.apply(in)
	c.publishLocked()
}

/*
====================================
SNAPSHOTS AND WATCHERS
====================================
*/

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	loading := c.life.loading()
	return Snapshot{
		IsAuthenticated: c.user != nil && c.session != nil,
		IsLoading:       loading,
		Phase:           derivePhase(c.user, c.session, c.profile, loading),
		User:            cloneUser(c.user),
		Session:         cloneSession(c.session),
		Profile:         cloneProfile(c.profile),
		AuthError:       c.authErr,
		ProfileError:    c.profileErr,
	}
}

// IsAuthenticated reports whether both a user and a live session are present.
func (c *Controller) IsAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user != nil && c.session != nil
}

func (c *Controller) IsLoading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.life.loading()
}

func (c *Controller) User() *User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneUser(c.user)
}

func (c *Controller) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneSession(c.session)
}

func (c *Controller) Profile() *Profile {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneProfile(c.profile)
}

// AuthError returns the error of the last failed operation, or nil.
func (c *Controller) AuthError() *AuthError {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authErr
}

// ProfileError returns the error of the last failed profile load, or nil.
func (c *Controller) ProfileError() *AuthError {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.profileErr
}

// Watch registers fn to receive every state change, in order, on the
// controller's queue goroutine. fn may call controller operations but not
// Flush. The returned function removes the watcher.
func (c *Controller) Watch(fn func(Snapshot)) (cancel func()) {
	if fn == nil {
		return func() {}
	}

	c.mu.Lock()
	c.nextWatcher++
	id := c.nextWatcher
	c.watchers[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.watchers, id)
			c.mu.Unlock()
		})
	}
}

// publishLocked schedules delivery of the current snapshot. Scheduling
// under mu keeps deliveries in state-change order.
func (c *Controller) publishLocked() {
	if len(c.watchers) == 0 {
		return
	}
	snap := c.snapshotLocked()
	c.queue.Schedule(func(context.Context) {
		c.mu.Lock()
		fns := make([]func(Snapshot), 0, len(c.watchers))
		for _, fn := range c.watchers {
			fns = append(fns, fn)
		}
		c.mu.Unlock()

		for _, fn := range fns {
			fn(snap)
		}
	})
}

/*
====================================
INTROSPECTION
====================================
*/

// MetricsSnapshot returns a copy of the built-in counters.
func (c *Controller) MetricsSnapshot() MetricsSnapshot {
	return c.metrics.Snapshot()
}

// NotificationsDropped returns the security notifications discarded on a
// full queue.
func (c *Controller) NotificationsDropped() uint64 {
	return c.monitor.NotificationsDropped()
}

// RecentSecurityEvents returns up to limit of the newest security events.
func (c *Controller) RecentSecurityEvents(limit int) []monitor.Event {
	return c.monitor.RecentEvents(limit)
}

// Monitor exposes the security monitor for operator tooling.
func (c *Controller) Monitor() *monitor.Monitor {
	return c.monitor
}

// Limiter exposes the attempt limiter for operator tooling.
func (c *Controller) Limiter() *ratelimit.Limiter {
	return c.limiter
}

/*
====================================
COPIES
====================================
*/

func cloneUser(u *User) *User {
	if u == nil {
		return nil
	}
	out := *u
	if u.Metadata != nil {
		out.Metadata = make(map[string]string, len(u.Metadata))
		for k, v := range u.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

func cloneSession(s *Session) *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.User = *cloneUser(&s.User)
	return &out
}

func cloneProfile(p *Profile) *Profile {
	if p == nil {
		return nil
	}
	out := *p
	return &out
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
