package storeauth

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRateLimited marks a request refused locally by the attempt limiter.
	ErrRateLimited = errors.New("rate limited")
	// ErrProvider marks an error returned by the identity or profile service.
	ErrProvider = errors.New("provider error")
	// ErrPreconditionFailed marks an operation rejected before any remote call.
	ErrPreconditionFailed = errors.New("precondition failed")
	// ErrProfileFetch marks a failed profile load.
	ErrProfileFetch = errors.New("profile fetch failed")
	// ErrProfileNotFound is the profile fetch cause when the store has no row.
	ErrProfileNotFound = errors.New("profile not found")
	// ErrNotAuthenticated is the precondition cause when no user is signed in.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrOTPUnsupported is the precondition cause when the provider cannot verify codes.
	ErrOTPUnsupported = errors.New("provider does not support code verification")
	// ErrNoRecoveryChallenge is the precondition cause when no reset code is outstanding.
	ErrNoRecoveryChallenge = errors.New("no active recovery challenge")
	// ErrVerificationAttempts is the rate-limit cause once a challenge is exhausted.
	ErrVerificationAttempts = errors.New("verification attempts exceeded")
	// ErrControllerClosed is returned by operations after Close.
	ErrControllerClosed = errors.New("controller closed")
	// ErrControllerNotReady is returned by Build when a required dependency is missing.
	ErrControllerNotReady = errors.New("controller not initialized")
)

// ErrorKind is the closed set of failure classes surfaced to UI code.
type ErrorKind int

const (
	KindRateLimited ErrorKind = iota + 1
	KindProvider
	KindPrecondition
	KindProfileFetch
)

func (k ErrorKind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindProvider:
		return "provider_error"
	case KindPrecondition:
		return "precondition_failed"
	case KindProfileFetch:
		return "profile_fetch_failed"
	default:
		return "unknown"
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindRateLimited:
		return ErrRateLimited
	case KindProvider:
		return ErrProvider
	case KindPrecondition:
		return ErrPreconditionFailed
	case KindProfileFetch:
		return ErrProfileFetch
	default:
		return nil
	}
}

// AuthError is the normalized error returned by every Controller operation
// and stored as the controller's auth or profile error.
type AuthError struct {
	Kind    ErrorKind
	Code    string
	Message string
	// RetryAfter is set for rate-limit denials.
	RetryAfter time.Duration
	// AttemptsLeft is set for code verification failures.
	AttemptsLeft int
	Err          error
}

func (e *AuthError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Unwrap exposes both the kind sentinel and the underlying cause to errors.Is
// and errors.As.
func (e *AuthError) Unwrap() []error {
	if e == nil {
		return nil
	}
	errs := make([]error, 0, 2)
	if s := e.Kind.sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// KindOf returns the kind of err, or 0 when err is not an *AuthError.
func KindOf(err error) ErrorKind {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return 0
}

type coder interface {
	Code() string
}

func rateLimitedError(action string, retryAfter time.Duration) *AuthError {
	secs := int(retryAfter / time.Second)
	var msg string
	switch action {
	case "otp_request":
		msg = fmt.Sprintf("Please wait %d seconds before requesting another code.", secs)
	default:
		msg = fmt.Sprintf("Too many login attempts. Please try again in %d seconds.", secs)
	}
	return &AuthError{
		Kind:       KindRateLimited,
		Code:       "rate_limited",
		Message:    msg,
		RetryAfter: retryAfter,
	}
}

func verificationExhaustedError() *AuthError {
	return &AuthError{
		Kind:    KindRateLimited,
		Code:    "verification_attempts_exceeded",
		Message: "Too many incorrect codes. Request a new code.",
		Err:     ErrVerificationAttempts,
	}
}

// providerError passes the provider's message through verbatim.
func providerError(err error) *AuthError {
	if err == nil {
		return nil
	}
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae
	}
	code := "provider_error"
	var c coder
	if errors.As(err, &c) && c.Code() != "" {
		code = c.Code()
	}
	return &AuthError{
		Kind:    KindProvider,
		Code:    code,
		Message: err.Error(),
		Err:     err,
	}
}

func preconditionError(code string, cause error) *AuthError {
	return &AuthError{
		Kind:    KindPrecondition,
		Code:    code,
		Message: cause.Error(),
		Err:     cause,
	}
}

func profileFetchError(err error) *AuthError {
	return &AuthError{
		Kind:    KindProfileFetch,
		Code:    "profile_fetch_failed",
		Message: fmt.Sprintf("could not load profile: %v", err),
		Err:     err,
	}
}
