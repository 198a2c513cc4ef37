package storeauth

import (
	"context"

	"go.uber.org/zap"
)

// fetchProfileTask is the deferred profile load scheduled by a session event.
// It reads the user current at execution time and applies its result only if
// no later session event superseded generation gen.
func (c *Controller) fetchProfileTask(ctx context.Context, gen uint64) {
	c.mu.Lock()
	if c.life.fetchGen != gen || c.user == nil {
		c.life = c.life.apply(lifecycleInput{kind: inFetchSettled, gen: gen})
		c.publishLocked()
		c.mu.Unlock()
		c.metrics.Inc(MetricProfileFetchSuperseded)
		return
	}
	userID := c.user.ID
	c.mu.Unlock()

	profile, err := c.loadProfile(ctx, userID)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.life.fetchGen != gen || c.user == nil || c.user.ID != userID {
		c.metrics.Inc(MetricProfileFetchSuperseded)
		c.life = c.life.apply(lifecycleInput{kind: inFetchSettled, gen: gen})
		c.publishLocked()
		return
	}

	if err != nil {
		if isContextErr(err) && ctx.Err() != nil {
			c.life = c.life.apply(lifecycleInput{kind: inFetchSettled, gen: gen})
			c.publishLocked()
			return
		}
		c.profileErr = err
	} else {
		c.profile = profile
		c.profileErr = nil
	}
	c.life = c.life.apply(lifecycleInput{kind: inFetchSettled, gen: gen})
	c.publishLocked()
}

// loadProfile calls the profile store and normalizes the outcome. A missing
// row is reported as a profile fetch error.
func (c *Controller) loadProfile(ctx context.Context, userID string) (*Profile, *AuthError) {
	ctx, span := c.startSpan(ctx, "storeauth.FetchProfile")
	defer span.End()

	profile, err := c.profiles.FetchProfile(ctx, userID)
	if err == nil && profile == nil {
		err = ErrProfileNotFound
	}
	if err != nil {
		recordSpanError(span, err)
		c.metrics.Inc(MetricProfileFetchFailure)
		c.logger.Warn("profile fetch failed", zap.String("user_id", userID), zap.Error(err))
		return nil, profileFetchError(err)
	}
	c.metrics.Inc(MetricProfileFetchSuccess)
	return cloneProfile(profile), nil
}

// UpdateProfile writes update to the profile store and, on success, replaces
// the in-memory profile with the returned row. Without a signed-in user it
// fails with a precondition error and leaves the profile untouched.
func (c *Controller) UpdateProfile(ctx context.Context, update ProfileUpdate) (*Profile, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrControllerClosed
	}
	if c.user == nil {
		ae := preconditionError("not_authenticated", ErrNotAuthenticated)
		c.authErr = ae
		c.publishLocked()
		c.mu.Unlock()
		c.metrics.Inc(MetricProfileUpdateFailure)
		return nil, ae
	}
	userID := c.user.ID
	c.authErr = nil
	c.mu.Unlock()

	ctx, span := c.startSpan(ctx, "storeauth.UpdateProfile")
	defer span.End()

	start := c.now()
	profile, err := c.profiles.UpdateProfile(ctx, userID, update)
	c.metrics.Observe(MetricProviderLatency, c.now().Sub(start))
	if err == nil && profile == nil {
		err = ErrProfileNotFound
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		recordSpanError(span, err)
		ae := providerError(err)
		c.authErr = ae
		c.publishLocked()
		c.metrics.Inc(MetricProfileUpdateFailure)
		c.logger.Warn("profile update failed", zap.String("user_id", userID), zap.Error(err))
		return nil, ae
	}

	c.metrics.Inc(MetricProfileUpdateSuccess)
	// A sign-out or account switch during the write wins over its result.
	c.installProfileLocked(userID, profile)
	return cloneProfile(profile), nil
}

// installProfileLocked replaces the profile with a row just written for
// userID and supersedes any deferred fetch that may have read an older row.
func (c *Controller) installProfileLocked(userID string, profile *Profile) {
	if c.user == nil || c.user.ID != userID {
		return
	}
	c.profile = cloneProfile(profile)
	c.profileErr = nil
	c.life = c.life.apply(lifecycleInput{kind: inProfileInstalled})
	c.publishLocked()
}

// RefreshProfile re-reads the profile of the signed-in user. Failures are
// recorded as the profile error, not the auth error.
func (c *Controller) RefreshProfile(ctx context.Context) (*Profile, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrControllerClosed
	}
	if c.user == nil {
		ae := preconditionError("not_authenticated", ErrNotAuthenticated)
		c.profileErr = ae
		c.publishLocked()
		c.mu.Unlock()
		return nil, ae
	}
	userID := c.user.ID
	c.mu.Unlock()

	start := c.now()
	profile, ae := c.loadProfile(ctx, userID)
	c.metrics.Observe(MetricProviderLatency, c.now().Sub(start))

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.user == nil || c.user.ID != userID {
		c.metrics.Inc(MetricProfileFetchSuperseded)
		if ae != nil {
			return nil, ae
		}
		return cloneProfile(profile), nil
	}
	if ae != nil {
		c.profileErr = ae
		c.publishLocked()
		return nil, ae
	}
	c.profile = profile
	c.profileErr = nil
	c.publishLocked()
	return cloneProfile(profile), nil
}
