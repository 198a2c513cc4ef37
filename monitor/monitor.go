package monitor

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanlnery/glowing-docs-portal-sub000/internal"
	"github.com/yanlnery/glowing-docs-portal-sub000/internal/notify"
	"go.uber.org/zap"
)

// Config tunes the monitor.
type Config struct {
	Capacity             int
	SuspicionWindow      time.Duration
	FailedLoginThreshold int
	OTPRequestThreshold  int
	// ProductionMode suppresses the per-event debug trace.
	ProductionMode bool
	Notifications  NotificationConfig
}

// NotificationConfig controls the async notification queue.
type NotificationConfig struct {
	BufferSize int
	DropIfFull bool
	Timeout    time.Duration
}

// DefaultConfig keeps the last 100 events and flags three failed logins or
// three OTP requests within 15 minutes.
func DefaultConfig() Config {
	return Config{
		Capacity:             100,
		SuspicionWindow:      15 * time.Minute,
		FailedLoginThreshold: 3,
		OTPRequestThreshold:  3,
		Notifications: NotificationConfig{
			BufferSize: 64,
			DropIfFull: true,
			Timeout:    5 * time.Second,
		},
	}
}

// Option customizes a Monitor.
type Option func(*Monitor)

// WithLogger sets the logger used for traces and notification failures.
func WithLogger(l *zap.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithNotifier sets the notification target. The default only logs.
func WithNotifier(n Notifier) Option {
	return func(m *Monitor) {
		if n != nil {
			m.notifier = n
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

// Monitor is the bounded security event log.
type Monitor struct {
	cfg        Config
	logger     *zap.Logger
	notifier   Notifier
	now        func() time.Time
	dispatcher *notify.Dispatcher[Notification]

	mu     sync.RWMutex
	events []Event
	head   int
	size   int

	evicted atomic.Uint64
}

// New creates a Monitor and starts its notification worker; Close stops it.
func New(cfg Config, opts ...Option) *Monitor {
	def := DefaultConfig()
	if cfg.Capacity <= 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.SuspicionWindow <= 0 {
		cfg.SuspicionWindow = def.SuspicionWindow
	}
	if cfg.FailedLoginThreshold <= 0 {
		cfg.FailedLoginThreshold = def.FailedLoginThreshold
	}
	if cfg.OTPRequestThreshold <= 0 {
		cfg.OTPRequestThreshold = def.OTPRequestThreshold
	}

	m := &Monitor{
		cfg:    cfg,
		logger: zap.NewNop(),
		now:    time.Now,
		events: make([]Event, cfg.Capacity),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.notifier == nil {
		m.notifier = NewLogNotifier(m.logger)
	}

	m.dispatcher = notify.NewDispatcher[Notification](
		notify.Config{
			BufferSize: cfg.Notifications.BufferSize,
			DropIfFull: cfg.Notifications.DropIfFull,
			Timeout:    cfg.Notifications.Timeout,
		},
		notify.SinkFunc[Notification](m.notifier.Notify),
		m.notificationFailed,
	)
	return m
}

// Log appends ev, evicting the oldest event when the buffer is full. A zero
// Timestamp is stamped with the current time and a missing Severity is
// derived from the event type.
func (m *Monitor) Log(ev Event) {
	if m == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = m.now()
	}
	if ev.Severity == "" {
		ev.Severity = defaultSeverity(ev.Type)
	}
	ev.Metadata = cloneMetadata(ev.Metadata)

	m.mu.Lock()
	m.appendLocked(ev)
	m.mu.Unlock()

	m.trace(ev)
}

func (m *Monitor) appendLocked(ev Event) {
	capacity := len(m.events)
	m.events[m.head] = ev
	m.head = (m.head + 1) % capacity
	if m.size < capacity {
		m.size++
		return
	}
	m.evicted.Add(1)
}

func (m *Monitor) trace(ev Event) {
	if m.cfg.ProductionMode {
		return
	}
	m.logger.Debug("security event",
		zap.String("event_type", string(ev.Type)),
		zap.String("identity", ev.Identity),
		zap.String("user_id", ev.UserID),
		zap.String("severity", string(ev.Severity)),
		zap.Any("metadata", ev.Metadata),
	)
}

// CheckSuspiciousActivity inspects the events recorded for identity within
// the suspicion window. Thresholds are inclusive.
func (m *Monitor) CheckSuspiciousActivity(identity string) Verdict {
	if m == nil {
		return Verdict{}
	}
	identity = strings.TrimSpace(identity)
	cutoff := m.now().Add(-m.cfg.SuspicionWindow)

	var failed, otp int
	m.mu.RLock()
	m.eachLocked(func(ev Event) {
		if ev.Timestamp.Before(cutoff) || !strings.EqualFold(ev.Identity, identity) {
			return
		}
		switch ev.Type {
		case EventFailedLogin:
			failed++
		case EventOTPRequest:
			otp++
		}
	})
	m.mu.RUnlock()

	switch {
	case failed >= m.cfg.FailedLoginThreshold:
		return Verdict{Suspicious: true, Reason: "multiple failed login attempts"}
	case otp >= m.cfg.OTPRequestThreshold:
		return Verdict{Suspicious: true, Reason: "multiple OTP requests"}
	}
	return Verdict{}
}

// CheckNewDeviceLogin reports whether fingerprint has not been seen among the
// user's logged new_device_login events, logging one when it is new.
func (m *Monitor) CheckNewDeviceLogin(userID, fingerprint string) bool {
	if m == nil {
		return false
	}

	m.mu.Lock()
	known := false
	m.eachLocked(func(ev Event) {
		if ev.Type == EventNewDeviceLogin && ev.UserID == userID && ev.Metadata["fingerprint"] == fingerprint {
			known = true
		}
	})
	if known {
		m.mu.Unlock()
		return false
	}
	ev := Event{
		Type:      EventNewDeviceLogin,
		UserID:    userID,
		Metadata:  map[string]string{"fingerprint": fingerprint},
		Severity:  SeverityMedium,
		Timestamp: m.now(),
	}
	m.appendLocked(ev)
	m.mu.Unlock()

	m.trace(ev)
	return true
}

// Fingerprint derives a stable device fingerprint from request headers.
func Fingerprint(userAgent, acceptLanguage string) string {
	return internal.ParseDevice(userAgent, acceptLanguage).Fingerprint()
}

// DeviceLabel renders a readable device description for notifications.
func DeviceLabel(userAgent string) string {
	return internal.ParseDevice(userAgent, "").Label()
}

// RecentEvents returns up to limit of the newest events, oldest first.
// A non-positive limit returns every buffered event.
func (m *Monitor) RecentEvents(limit int) []Event {
	if m == nil {
		return nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	n := m.size
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Event, 0, n)
	skip := m.size - n
	i := 0
	m.eachLocked(func(ev Event) {
		if i >= skip {
			ev.Metadata = cloneMetadata(ev.Metadata)
			out = append(out, ev)
		}
		i++
	})
	return out
}

// Len returns the number of buffered events.
func (m *Monitor) Len() int {
	if m == nil {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

// Evicted returns how many events were pushed out of the buffer.
func (m *Monitor) Evicted() uint64 {
	if m == nil {
		return 0
	}
	return m.evicted.Load()
}

// eachLocked visits buffered events oldest first. Callers hold mu.
func (m *Monitor) eachLocked(fn func(Event)) {
	capacity := len(m.events)
	start := (m.head - m.size + capacity) % capacity
	for i := 0; i < m.size; i++ {
		fn(m.events[(start+i)%capacity])
	}
}

// SendNotification queues a best-effort notification. Failures are logged.
func (m *Monitor) SendNotification(ctx context.Context, identity string, eventType EventType, details map[string]string) {
	if m == nil {
		return
	}
	n := Notification{
		Identity:  identity,
		EventType: eventType,
		Details:   cloneMetadata(details),
		Timestamp: m.now(),
	}
	if !m.dispatcher.Emit(ctx, n) {
		m.logger.Warn("security notification not queued",
			zap.String("event_type", string(eventType)),
			zap.String("identity", identity),
		)
	}
}

func (m *Monitor) notificationFailed(n Notification, err error) {
	m.logger.Warn("security notification failed",
		zap.String("event_type", string(n.EventType)),
		zap.String("identity", n.Identity),
		zap.Error(err),
	)
}

// FlushNotifications blocks until queued notifications have been attempted.
func (m *Monitor) FlushNotifications() {
	if m == nil {
		return
	}
	m.dispatcher.Wait()
}

// NotificationsDropped returns notifications discarded on a full queue.
func (m *Monitor) NotificationsDropped() uint64 {
	if m == nil {
		return 0
	}
	return m.dispatcher.Dropped()
}

// NotificationsFailed returns notifications whose delivery failed.
func (m *Monitor) NotificationsFailed() uint64 {
	if m == nil {
		return 0
	}
	return m.dispatcher.Failed()
}

// Close delivers queued notifications and stops the worker.
func (m *Monitor) Close() {
	if m == nil {
		return
	}
	m.dispatcher.Close()
}

func defaultSeverity(t EventType) Severity {
	switch t {
	case EventRateLimitExceeded, EventSuspiciousActivity:
		return SeverityHigh
	case EventFailedLogin, EventNewDeviceLogin, EventRecoveryFailed, EventPasswordChanged:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
