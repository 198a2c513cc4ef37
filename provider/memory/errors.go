package memory

// Error is a provider failure with a stable machine-readable code.
type Error struct {
	code    string
	message string
}

func (e *Error) Error() string { return e.message }

// Code returns the stable error code.
func (e *Error) Code() string { return e.code }

// Is matches errors by code so wrapped copies compare equal.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.code == e.code
}

var (
	ErrInvalidCredentials  = &Error{code: "invalid_credentials", message: "Invalid login credentials"}
	ErrEmailNotConfirmed   = &Error{code: "email_not_confirmed", message: "Email not confirmed"}
	ErrUserAlreadyExists   = &Error{code: "user_already_exists", message: "User already registered"}
	ErrInvalidEmail        = &Error{code: "validation_failed", message: "Unable to validate email address: invalid format"}
	ErrWeakPassword        = &Error{code: "weak_password", message: "Password should be at least 6 characters."}
	ErrSamePassword        = &Error{code: "same_password", message: "New password should be different from the old password."}
	ErrSessionMissing      = &Error{code: "session_not_found", message: "Auth session missing!"}
	ErrOTPExpired          = &Error{code: "otp_expired", message: "Token has expired or is invalid"}
	ErrInvalidRefreshToken = &Error{code: "refresh_token_not_found", message: "Invalid Refresh Token: Refresh Token Not Found"}
)
