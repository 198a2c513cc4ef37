package monitor

import "time"

// EventType names a security event.
type EventType string

const (
	EventFailedLogin            EventType = "failed_login"
	EventSuccessfulLogin        EventType = "successful_login"
	EventOTPRequest             EventType = "otp_request"
	EventRateLimitExceeded      EventType = "rate_limit_exceeded"
	EventSuspiciousActivity     EventType = "suspicious_activity"
	EventNewDeviceLogin         EventType = "new_device_login"
	EventPasswordResetRequested EventType = "password_reset_requested"
	EventPasswordChanged        EventType = "password_changed"
	EventRecoveryVerified       EventType = "recovery_verified"
	EventRecoveryFailed         EventType = "recovery_failed"
	EventSignUp                 EventType = "sign_up"
	EventLogout                 EventType = "logout"
)

// Severity grades an event for operators.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Event is one entry of the security log.
type Event struct {
	Type      EventType         `json:"event_type"`
	Identity  string            `json:"identity,omitempty"`
	UserID    string            `json:"user_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Severity  Severity          `json:"severity"`
	Timestamp time.Time         `json:"timestamp"`
}

// Verdict is the outcome of CheckSuspiciousActivity.
type Verdict struct {
	Suspicious bool   `json:"suspicious"`
	Reason     string `json:"reason,omitempty"`
}

func cloneMetadata(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
