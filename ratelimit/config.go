package ratelimit

import (
	"fmt"
	"time"
)

// Config holds the limiter tuning parameters.
type Config struct {
	LoginWindow             time.Duration
	MaxLoginAttempts        int
	OTPCooldown             time.Duration
	MaxVerificationAttempts int
	IdleRetention           time.Duration
	CleanupInterval         time.Duration
}

// DefaultConfig returns the storefront defaults: 5 logins per 15 minutes,
// one OTP request per minute and 5 attempts per verification challenge.
func DefaultConfig() Config {
	return Config{
		LoginWindow:             15 * time.Minute,
		MaxLoginAttempts:        5,
		OTPCooldown:             60 * time.Second,
		MaxVerificationAttempts: 5,
		IdleRetention:           time.Hour,
		CleanupInterval:         10 * time.Minute,
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.LoginWindow <= 0:
		return fmt.Errorf("%w: LoginWindow must be > 0", ErrInvalidConfig)
	case c.MaxLoginAttempts <= 0:
		return fmt.Errorf("%w: MaxLoginAttempts must be > 0", ErrInvalidConfig)
	case c.OTPCooldown <= 0:
		return fmt.Errorf("%w: OTPCooldown must be > 0", ErrInvalidConfig)
	case c.MaxVerificationAttempts <= 0:
		return fmt.Errorf("%w: MaxVerificationAttempts must be > 0", ErrInvalidConfig)
	case c.IdleRetention <= 0:
		return fmt.Errorf("%w: IdleRetention must be > 0", ErrInvalidConfig)
	case c.IdleRetention < c.LoginWindow || c.IdleRetention < c.OTPCooldown:
		return fmt.Errorf("%w: IdleRetention must cover LoginWindow and OTPCooldown", ErrInvalidConfig)
	case c.CleanupInterval < 0:
		return fmt.Errorf("%w: CleanupInterval must be >= 0", ErrInvalidConfig)
	}
	return nil
}
