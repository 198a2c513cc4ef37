package internaldefs

import (
	storeauth "github.com/yanlnery/glowing-docs-portal-sub000"
)

// CounterDef names one exported counter.
type CounterDef struct {
	ID   storeauth.MetricID
	Name string
	Help string
}

// HistogramDef names one exported histogram.
type HistogramDef struct {
	ID   storeauth.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: storeauth.MetricLoginSuccess, Name: "storeauth_login_success_total", Help: "Successful logins."},
	{ID: storeauth.MetricLoginFailure, Name: "storeauth_login_failure_total", Help: "Logins rejected by the provider."},
	{ID: storeauth.MetricLoginRateLimited, Name: "storeauth_login_rate_limited_total", Help: "Logins refused by the client-side limiter."},
	{ID: storeauth.MetricSignUpSuccess, Name: "storeauth_sign_up_success_total", Help: "Successful registrations."},
	{ID: storeauth.MetricSignUpFailure, Name: "storeauth_sign_up_failure_total", Help: "Failed registrations."},
	{ID: storeauth.MetricLogoutSuccess, Name: "storeauth_logout_success_total", Help: "Successful logouts."},
	{ID: storeauth.MetricLogoutFailure, Name: "storeauth_logout_failure_total", Help: "Failed logouts."},
	{ID: storeauth.MetricPasswordResetRequest, Name: "storeauth_password_reset_request_total", Help: "Password reset emails requested."},
	{ID: storeauth.MetricPasswordResetRateLimited, Name: "storeauth_password_reset_rate_limited_total", Help: "Password reset requests refused by the cooldown."},
	{ID: storeauth.MetricPasswordResetFailure, Name: "storeauth_password_reset_failure_total", Help: "Password reset requests rejected by the provider."},
	{ID: storeauth.MetricPasswordUpdateSuccess, Name: "storeauth_password_update_success_total", Help: "Successful password changes."},
	{ID: storeauth.MetricPasswordUpdateFailure, Name: "storeauth_password_update_failure_total", Help: "Failed password changes."},
	{ID: storeauth.MetricRecoverySuccess, Name: "storeauth_recovery_success_total", Help: "Accepted recovery codes."},
	{ID: storeauth.MetricRecoveryFailure, Name: "storeauth_recovery_failure_total", Help: "Rejected recovery codes."},
	{ID: storeauth.MetricRecoveryAttemptsExceeded, Name: "storeauth_recovery_attempts_exceeded_total", Help: "Recovery challenges dropped after too many wrong codes."},
	{ID: storeauth.MetricProfileFetchSuccess, Name: "storeauth_profile_fetch_success_total", Help: "Successful profile loads."},
	{ID: storeauth.MetricProfileFetchFailure, Name: "storeauth_profile_fetch_failure_total", Help: "Failed profile loads."},
	{ID: storeauth.MetricProfileFetchSuperseded, Name: "storeauth_profile_fetch_superseded_total", Help: "Profile loads discarded because a later session event won."},
	{ID: storeauth.MetricProfileUpdateSuccess, Name: "storeauth_profile_update_success_total", Help: "Successful profile updates."},
	{ID: storeauth.MetricProfileUpdateFailure, Name: "storeauth_profile_update_failure_total", Help: "Failed profile updates."},
	{ID: storeauth.MetricSuspiciousActivity, Name: "storeauth_suspicious_activity_total", Help: "Identities flagged as suspicious."},
	{ID: storeauth.MetricNewDeviceLogin, Name: "storeauth_new_device_login_total", Help: "Logins from unseen devices."},
	{ID: storeauth.MetricProviderEvent, Name: "storeauth_provider_event_total", Help: "Auth events received from the provider."},
	{ID: storeauth.MetricSessionCleared, Name: "storeauth_session_cleared_total", Help: "Times the local session was cleared."},
	{ID: storeauth.MetricRateLimiterError, Name: "storeauth_rate_limiter_error_total", Help: "Limiter store failures that failed open."},
}

var HistogramDefs = []HistogramDef{
	{ID: storeauth.MetricProviderLatency, Name: "storeauth_provider_latency_seconds", Help: "Provider and profile store call latency."},
}

// HistogramBounds are the le labels matching storeauth.HistogramBounds.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix are instrument-name-safe forms of HistogramBounds.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// DroppedNotificationsName is the counter of notifications lost to backpressure.
const DroppedNotificationsName = "storeauth_notifications_dropped_total"

// DroppedNotificationsHelp describes DroppedNotificationsName.
const DroppedNotificationsHelp = "Security notifications dropped because the delivery buffer was full."

// NormalizeBuckets pads or truncates raw to eight buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
