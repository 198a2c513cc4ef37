package storeauth

import (
	"context"
	"strconv"
	"strings"

	"github.com/yanlnery/glowing-docs-portal-sub000/monitor"
	"github.com/yanlnery/glowing-docs-portal-sub000/ratelimit"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

func (c *Controller) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	return c.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// callProvider runs fn inside a span and records its latency.
func (c *Controller) callProvider(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, span := c.startSpan(ctx, name)
	defer span.End()

	start := c.now()
	err := fn(ctx)
	c.metrics.Observe(MetricProviderLatency, c.now().Sub(start))
	if err != nil {
		recordSpanError(span, err)
	}
	return err
}

/*
====================================
RATE LIMITING
====================================
*/

// checkLimit consults the limiter. Store failures fail open: the limiter is
// an advisory guard and the provider enforces its own limits.
func (c *Controller) checkLimit(ctx context.Context, class ratelimit.Class, identity string) ratelimit.Decision {
	var (
		d   ratelimit.Decision
		err error
	)
	switch class {
	case ratelimit.ClassLogin:
		d, err = c.limiter.CheckLogin(ctx, identity)
	case ratelimit.ClassOTPRequest:
		d, err = c.limiter.CheckOTPRequest(ctx, identity)
	case ratelimit.ClassVerification:
		d, err = c.limiter.CheckVerification(ctx, identity)
	}
	if err != nil {
		c.metrics.Inc(MetricRateLimiterError)
		c.logger.Warn("rate limiter unavailable",
			zap.String("class", string(class)),
			zap.Error(err),
		)
		return ratelimit.Decision{Allowed: true, AttemptsLeft: -1}
	}
	return d
}

func (c *Controller) logRateLimited(identity string, action ratelimit.Class, d ratelimit.Decision) {
	c.monitor.Log(monitor.Event{
		Type:     monitor.EventRateLimitExceeded,
		Identity: identity,
		Metadata: map[string]string{
			"action":      string(action),
			"retry_after": strconv.Itoa(d.RetryAfterSeconds()),
		},
	})
}

/*
====================================
SECURITY EVENTS
====================================
*/

// logEvent records a security event enriched with the caller's IP.
func (c *Controller) logEvent(ctx context.Context, t monitor.EventType, identity, userID string, metadata map[string]string) {
	if ip := clientIPFromContext(ctx); ip != "" {
		if metadata == nil {
			metadata = make(map[string]string, 1)
		}
		metadata["ip"] = ip
	}
	c.monitor.Log(monitor.Event{
		Type:     t,
		Identity: identity,
		UserID:   userID,
		Metadata: metadata,
	})
}

// checkSuspicious evaluates identity and, when flagged, records the verdict
// and notifies the account owner.
func (c *Controller) checkSuspicious(ctx context.Context, identity string) {
	v := c.monitor.CheckSuspiciousActivity(identity)
	if !v.Suspicious {
		return
	}
	c.metrics.Inc(MetricSuspiciousActivity)
	c.logEvent(ctx, monitor.EventSuspiciousActivity, identity, "", map[string]string{"reason": v.Reason})
	c.monitor.SendNotification(ctx, identity, monitor.EventSuspiciousActivity, map[string]string{"reason": v.Reason})
}

// checkDevice runs the new-device heuristic for a successful login. Without a
// fingerprint or user agent on ctx there is nothing to compare.
func (c *Controller) checkDevice(ctx context.Context, identity string, user *User) {
	if user == nil {
		return
	}
	ua := userAgentFromContext(ctx)
	fp := deviceFingerprintFromContext(ctx)
	if fp == "" {
		if ua == "" {
			return
		}
		fp = monitor.Fingerprint(ua, acceptLanguageFromContext(ctx))
	}

	if !c.monitor.CheckNewDeviceLogin(user.ID, fp) {
		return
	}
	c.metrics.Inc(MetricNewDeviceLogin)

	details := map[string]string{
		"device": monitor.DeviceLabel(ua),
	}
	if ip := clientIPFromContext(ctx); ip != "" {
		details["ip"] = ip
	}
	c.monitor.SendNotification(ctx, identity, monitor.EventNewDeviceLogin, details)
}

/*
====================================
RECOVERY CHALLENGES
====================================
*/

// activeChallenge returns the outstanding recovery challenge for email.
// Expired challenges are removed.
func (c *Controller) activeChallenge(email string) (recoveryChallenge, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, ok := c.challenges[email]
	if !ok {
		return recoveryChallenge{}, false
	}
	if c.now().Sub(ch.issuedAt) > c.config.Recovery.ChallengeTTL {
		delete(c.challenges, email)
		return recoveryChallenge{}, false
	}
	return ch, true
}

func (c *Controller) storeChallenge(email string, ch recoveryChallenge) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Drop expired challenges of other addresses while we are here.
	for k, v := range c.challenges {
		if c.now().Sub(v.issuedAt) > c.config.Recovery.ChallengeTTL {
			delete(c.challenges, k)
		}
	}
	c.challenges[email] = ch
}

func (c *Controller) dropChallenge(email, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ch, ok := c.challenges[email]; ok && ch.id == id {
		delete(c.challenges, email)
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
