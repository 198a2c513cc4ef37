package storeauth

import (
	"context"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/yanlnery/glowing-docs-portal-sub000/monitor"
	"github.com/yanlnery/glowing-docs-portal-sub000/ratelimit"
	"go.uber.org/zap"
)

// Login signs in with email and password.
//
// The returned response is for optimistic UI only. User, session and profile
// are installed by the SIGNED_IN stream event, and loading stays set until
// that event and its profile load have settled. A throttled identity gets a
// rate-limit error and the provider is not called.
func (c *Controller) Login(ctx context.Context, email, password string) (*AuthResponse, error) {
	identity := normalizeEmail(email)

	tok, err := c.beginOp(EventSignedIn)
	if err != nil {
		return nil, err
	}

	d := c.checkLimit(ctx, ratelimit.ClassLogin, identity)
	if !d.Allowed {
		c.metrics.Inc(MetricLoginRateLimited)
		c.logRateLimited(identity, ratelimit.ClassLogin, d)
		ae := rateLimitedError(string(ratelimit.ClassLogin), d.RetryAfter)
		c.endOp(tok, false, ae)
		return nil, ae
	}

	var resp AuthResponse
	err = c.callProvider(ctx, "storeauth.SignInWithPassword", func(ctx context.Context) error {
		var err error
		resp, err = c.provider.SignInWithPassword(ctx, strings.TrimSpace(email), password)
		return err
	})
	if err != nil {
		c.metrics.Inc(MetricLoginFailure)
		c.logEvent(ctx, monitor.EventFailedLogin, identity, "", nil)
		c.checkSuspicious(ctx, identity)
		ae := providerError(err)
		c.endOp(tok, false, ae)
		return nil, ae
	}

	c.metrics.Inc(MetricLoginSuccess)
	if err := c.limiter.ClearLogin(ctx, identity); err != nil {
		c.metrics.Inc(MetricRateLimiterError)
		c.logger.Warn("clear login attempts failed", zap.Error(err))
	}
	c.logEvent(ctx, monitor.EventSuccessfulLogin, identity, userIDOf(resp.User), nil)
	c.checkDevice(ctx, identity, resp.User)

	c.endOp(tok, resp.Session != nil, nil)
	return cloneResponse(resp), nil
}

// SignUp registers a new customer. When the response carries no session, as
// with email confirmation, loading ends immediately because no SIGNED_IN
// event will follow. Name and phone are written to the profile store when a
// user was created.
func (c *Controller) SignUp(ctx context.Context, req SignUpRequest) (*AuthResponse, error) {
	identity := normalizeEmail(req.Email)

	tok, err := c.beginOp(EventSignedIn)
	if err != nil {
		return nil, err
	}

	var resp AuthResponse
	err = c.callProvider(ctx, "storeauth.SignUp", func(ctx context.Context) error {
		var err error
		resp, err = c.provider.SignUp(ctx, req)
		return err
	})
	if err != nil {
		c.metrics.Inc(MetricSignUpFailure)
		ae := providerError(err)
		c.endOp(tok, false, ae)
		return nil, ae
	}

	c.metrics.Inc(MetricSignUpSuccess)
	c.logEvent(ctx, monitor.EventSignUp, identity, userIDOf(resp.User), map[string]string{
		"confirmation_pending": strconv.FormatBool(resp.Session == nil),
	})

	if seed := req.profileSeed(); resp.User != nil && !seed.Empty() {
		c.seedProfile(ctx, resp.User.ID, seed)
	}

	c.endOp(tok, resp.User != nil && resp.Session != nil, nil)
	return cloneResponse(resp), nil
}

// seedProfile writes the registration fields. Failures are logged; the
// account exists either way and the customer can fill the profile later.
func (c *Controller) seedProfile(ctx context.Context, userID string, seed ProfileUpdate) {
	var profile *Profile
	err := c.callProvider(ctx, "storeauth.SeedProfile", func(ctx context.Context) error {
		var err error
		profile, err = c.profiles.UpdateProfile(ctx, userID, seed)
		return err
	})
	if err != nil || profile == nil {
		c.logger.Warn("profile seed failed", zap.String("user_id", userID), zap.Error(err))
		return
	}

	c.mu.Lock()
	c.installProfileLocked(userID, profile)
	c.mu.Unlock()
}

// Logout signs out. On success the SIGNED_OUT stream event clears the state;
// until it arrives IsAuthenticated may still be true while loading is set.
func (c *Controller) Logout(ctx context.Context) error {
	tok, err := c.beginOp(EventSignedOut)
	if err != nil {
		return err
	}

	c.mu.Lock()
	var identity, userID string
	if c.user != nil {
		identity = normalizeEmail(c.user.Email)
		userID = c.user.ID
	}
	c.mu.Unlock()

	err = c.callProvider(ctx, "storeauth.SignOut", c.provider.SignOut)
	if err != nil {
		c.metrics.Inc(MetricLogoutFailure)
		ae := providerError(err)
		c.endOp(tok, false, ae)
		return ae
	}

	c.metrics.Inc(MetricLogoutSuccess)
	c.logEvent(ctx, monitor.EventLogout, identity, userID, nil)
	c.endOp(tok, true, nil)
	return nil
}

// RequestPasswordReset asks the provider to email a reset link and code.
// Requests are throttled per address by the OTP cooldown. Loading is set for
// the duration of the call only.
func (c *Controller) RequestPasswordReset(ctx context.Context, email string) error {
	identity := normalizeEmail(email)

	tok, err := c.beginOp("")
	if err != nil {
		return err
	}

	d := c.checkLimit(ctx, ratelimit.ClassOTPRequest, identity)
	if !d.Allowed {
		c.metrics.Inc(MetricPasswordResetRateLimited)
		c.logRateLimited(identity, ratelimit.ClassOTPRequest, d)
		ae := rateLimitedError(string(ratelimit.ClassOTPRequest), d.RetryAfter)
		c.endOp(tok, false, ae)
		return ae
	}

	c.logEvent(ctx, monitor.EventOTPRequest, identity, "", nil)
	c.checkSuspicious(ctx, identity)

	err = c.callProvider(ctx, "storeauth.ResetPasswordForEmail", func(ctx context.Context) error {
		return c.provider.ResetPasswordForEmail(ctx, strings.TrimSpace(email), c.config.Recovery.RedirectURL)
	})
	if err != nil {
		c.metrics.Inc(MetricPasswordResetFailure)
		ae := providerError(err)
		c.endOp(tok, false, ae)
		return ae
	}

	c.metrics.Inc(MetricPasswordResetRequest)
	c.storeChallenge(identity, recoveryChallenge{id: uuid.NewString(), issuedAt: c.now()})
	c.logEvent(ctx, monitor.EventPasswordResetRequested, identity, "", nil)

	details := map[string]string{}
	if ip := clientIPFromContext(ctx); ip != "" {
		details["ip"] = ip
	}
	c.monitor.SendNotification(ctx, identity, monitor.EventPasswordResetRequested, details)

	c.endOp(tok, false, nil)
	return nil
}

// VerifyRecoveryCode exchanges the emailed recovery code for a session. It
// requires a provider implementing OTPVerifier and an unexpired request from
// RequestPasswordReset. Each challenge accepts a bounded number of wrong
// codes; a failed attempt reports how many remain.
func (c *Controller) VerifyRecoveryCode(ctx context.Context, email, code string) (*AuthResponse, error) {
	identity := normalizeEmail(email)

	tok, err := c.beginOp(EventSignedIn)
	if err != nil {
		return nil, err
	}

	verifier, ok := c.provider.(OTPVerifier)
	if !ok {
		ae := preconditionError("otp_unsupported", ErrOTPUnsupported)
		c.endOp(tok, false, ae)
		return nil, ae
	}

	ch, ok := c.activeChallenge(identity)
	if !ok {
		ae := preconditionError("no_recovery_challenge", ErrNoRecoveryChallenge)
		c.endOp(tok, false, ae)
		return nil, ae
	}

	d := c.checkLimit(ctx, ratelimit.ClassVerification, ch.id)
	if !d.Allowed {
		c.metrics.Inc(MetricRecoveryAttemptsExceeded)
		c.logRateLimited(identity, ratelimit.ClassVerification, d)
		c.dropChallenge(identity, ch.id)
		ae := verificationExhaustedError()
		c.endOp(tok, false, ae)
		return nil, ae
	}

	var resp AuthResponse
	err = c.callProvider(ctx, "storeauth.VerifyOTP", func(ctx context.Context) error {
		var err error
		resp, err = verifier.VerifyOTP(ctx, strings.TrimSpace(email), strings.TrimSpace(code))
		return err
	})
	if err != nil {
		c.metrics.Inc(MetricRecoveryFailure)
		left := d.AttemptsLeft
		if left < 0 {
			left = 0
		}
		c.logEvent(ctx, monitor.EventRecoveryFailed, identity, "", map[string]string{
			"attempts_left": strconv.Itoa(left),
		})
		ae := *providerError(err)
		ae.AttemptsLeft = left
		c.endOp(tok, false, &ae)
		return nil, &ae
	}

	c.metrics.Inc(MetricRecoverySuccess)
	c.dropChallenge(identity, ch.id)
	if err := c.limiter.ClearVerification(ctx, ch.id); err != nil {
		c.metrics.Inc(MetricRateLimiterError)
		c.logger.Warn("clear verification attempts failed", zap.Error(err))
	}
	c.logEvent(ctx, monitor.EventRecoveryVerified, identity, userIDOf(resp.User), nil)

	c.endOp(tok, resp.Session != nil, nil)
	return cloneResponse(resp), nil
}

// UpdatePassword changes the signed-in user's password. Loading is set for
// the duration of the call only.
func (c *Controller) UpdatePassword(ctx context.Context, password string) error {
	tok, err := c.beginOp("")
	if err != nil {
		return err
	}

	var user *User
	err = c.callProvider(ctx, "storeauth.UpdateUser", func(ctx context.Context) error {
		var err error
		user, err = c.provider.UpdateUser(ctx, UserUpdate{Password: password})
		return err
	})
	if err != nil {
		c.metrics.Inc(MetricPasswordUpdateFailure)
		ae := providerError(err)
		c.endOp(tok, false, ae)
		return ae
	}

	c.metrics.Inc(MetricPasswordUpdateSuccess)
	var identity string
	if user != nil {
		identity = normalizeEmail(user.Email)
	}
	c.logEvent(ctx, monitor.EventPasswordChanged, identity, userIDOf(user), nil)
	c.monitor.SendNotification(ctx, identity, monitor.EventPasswordChanged, nil)

	c.endOp(tok, false, nil)
	return nil
}

func userIDOf(u *User) string {
	if u == nil {
		return ""
	}
	return u.ID
}

func cloneResponse(r AuthResponse) *AuthResponse {
	return &AuthResponse{
		User:    cloneUser(r.User),
		Session: cloneSession(r.Session),
	}
}
