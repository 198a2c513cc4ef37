package storeauth

import (
	"context"
	"time"
)

// User is the signed-in identity as reported by the provider.
type User struct {
	ID             string            `json:"id"`
	Email          string            `json:"email"`
	EmailConfirmed bool              `json:"email_confirmed"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Session is a provider-issued session. It is replaced wholesale, never mutated.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         User      `json:"user"`
}

// Profile is the storefront customer record keyed by user id.
type Profile struct {
	ID        string    `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProfileUpdate is a partial profile write; nil fields are left untouched.
type ProfileUpdate struct {
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
	Phone     *string `json:"phone,omitempty"`
}

// Empty reports whether the update changes nothing.
func (u ProfileUpdate) Empty() bool {
	return u.FirstName == nil && u.LastName == nil && u.Phone == nil
}

// SignUpRequest is the registration payload.
type SignUpRequest struct {
	Email      string
	Password   string
	FirstName  string
	LastName   string
	Phone      string
	RedirectTo string
}

func (r SignUpRequest) profileSeed() ProfileUpdate {
	var u ProfileUpdate
	if r.FirstName != "" {
		u.FirstName = &r.FirstName
	}
	if r.LastName != "" {
		u.LastName = &r.LastName
	}
	if r.Phone != "" {
		u.Phone = &r.Phone
	}
	return u
}

// UserUpdate carries the fields UpdateUser may change.
type UserUpdate struct {
	Password string
}

// AuthResponse is what sign-in style calls return. Either field may be nil,
// for example while email confirmation is pending.
type AuthResponse struct {
	User    *User
	Session *Session
}

// EventType names a provider state change.
type EventType string

const (
	EventInitialSession   EventType = "INITIAL_SESSION"
	EventSignedIn         EventType = "SIGNED_IN"
	EventSignedOut        EventType = "SIGNED_OUT"
	EventUserUpdated      EventType = "USER_UPDATED"
	EventTokenRefreshed   EventType = "TOKEN_REFRESHED"
	EventPasswordRecovery EventType = "PASSWORD_RECOVERY"
)

// AuthChangeEvent is one entry of the provider's ordered event stream.
type AuthChangeEvent struct {
	Type    EventType
	Session *Session
}

// Provider is the hosted identity service.
//
// OnAuthStateChange must deliver events in the order they occur and never
// concurrently; it returns the unsubscribe handle.
type Provider interface {
	SignInWithPassword(ctx context.Context, email, password string) (AuthResponse, error)
	SignUp(ctx context.Context, req SignUpRequest) (AuthResponse, error)
	SignOut(ctx context.Context) error
	ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error
	UpdateUser(ctx context.Context, update UserUpdate) (*User, error)
	GetSession(ctx context.Context) (*Session, error)
	OnAuthStateChange(handler func(AuthChangeEvent)) (unsubscribe func())
}

// OTPVerifier is implemented by providers that accept emailed recovery codes.
type OTPVerifier interface {
	VerifyOTP(ctx context.Context, email, code string) (AuthResponse, error)
}

// ProfileStore is the external profile table.
type ProfileStore interface {
	FetchProfile(ctx context.Context, userID string) (*Profile, error)
	UpdateProfile(ctx context.Context, userID string, update ProfileUpdate) (*Profile, error)
}

// Snapshot is the read-only view handed to UI code.
type Snapshot struct {
	IsAuthenticated bool
	IsLoading       bool
	Phase           Phase
	User            *User
	Session         *Session
	Profile         *Profile
	AuthError       *AuthError
	ProfileError    *AuthError
}

// HasError reports the orthogonal error flag.
func (s Snapshot) HasError() bool {
	return s.AuthError != nil
}
