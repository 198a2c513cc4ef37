package storeauth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type providerErr struct {
	code string
	msg  string
}

func (e providerErr) Error() string { return e.msg }
func (e providerErr) Code() string  { return e.code }

var errInvalidCredentials = providerErr{code: "invalid_credentials", msg: "Invalid login credentials"}

// fakeProvider records calls and lets tests drive the event stream by hand.
type fakeProvider struct {
	mu      sync.Mutex
	handler func(AuthChangeEvent)

	// replay, when set, is delivered synchronously on subscribe.
	replay *AuthChangeEvent

	session       *Session
	getSessionErr error

	signIn      func(ctx context.Context, email, password string) (AuthResponse, error)
	signInCalls int

	signUp func(ctx context.Context, req SignUpRequest) (AuthResponse, error)

	signOutErr   error
	signOutGate  chan struct{}
	signOutCalls int

	resetErr   error
	resetCalls []resetCall

	updateUserErr error
	updateCalls   []UserUpdate

	verifyCode  string
	verifyCalls int

	unsubscribed bool
}

type resetCall struct {
	email      string
	redirectTo string
}

func (p *fakeProvider) SignInWithPassword(ctx context.Context, email, password string) (AuthResponse, error) {
	p.mu.Lock()
	p.signInCalls++
	fn := p.signIn
	p.mu.Unlock()
	if fn == nil {
		return AuthResponse{}, errInvalidCredentials
	}
	return fn(ctx, email, password)
}

func (p *fakeProvider) SignUp(ctx context.Context, req SignUpRequest) (AuthResponse, error) {
	p.mu.Lock()
	fn := p.signUp
	p.mu.Unlock()
	if fn == nil {
		return AuthResponse{}, errors.New("sign up disabled")
	}
	return fn(ctx, req)
}

func (p *fakeProvider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	p.signOutCalls++
	gate := p.signOutGate
	err := p.signOutErr
	p.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return err
}

func (p *fakeProvider) ResetPasswordForEmail(_ context.Context, email, redirectTo string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetCalls = append(p.resetCalls, resetCall{email: email, redirectTo: redirectTo})
	return p.resetErr
}

func (p *fakeProvider) UpdateUser(_ context.Context, update UserUpdate) (*User, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updateCalls = append(p.updateCalls, update)
	if p.updateUserErr != nil {
		return nil, p.updateUserErr
	}
	if p.session == nil {
		return nil, errors.New("Auth session missing!")
	}
	u := p.session.User
	return &u, nil
}

func (p *fakeProvider) GetSession(context.Context) (*Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session, p.getSessionErr
}

func (p *fakeProvider) OnAuthStateChange(handler func(AuthChangeEvent)) func() {
	p.mu.Lock()
	p.handler = handler
	replay := p.replay
	p.mu.Unlock()

	if replay != nil {
		handler(*replay)
	}
	return func() {
		p.mu.Lock()
		p.handler = nil
		p.unsubscribed = true
		p.mu.Unlock()
	}
}

func (p *fakeProvider) VerifyOTP(_ context.Context, email, code string) (AuthResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.verifyCalls++
	if code != p.verifyCode {
		return AuthResponse{}, providerErr{code: "otp_expired", msg: "Token has expired or is invalid"}
	}
	s := testSession("u-recover", email)
	return AuthResponse{User: &s.User, Session: s}, nil
}

func (p *fakeProvider) emit(t EventType, s *Session) {
	p.mu.Lock()
	h := p.handler
	p.mu.Unlock()
	if h != nil {
		h(AuthChangeEvent{Type: t, Session: s})
	}
}

func (p *fakeProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.signInCalls
}

// withoutOTP hides the VerifyOTP method of the wrapped provider.
type withoutOTP struct {
	Provider
}

// fakeProfiles is an in-memory profile table. Fetches block on gate when set.
type fakeProfiles struct {
	mu       sync.Mutex
	rows     map[string]Profile
	fetchErr error
	gate     chan struct{}
	started  chan string
	fetches  int
	updates  int
}

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{rows: make(map[string]Profile)}
}

func (s *fakeProfiles) FetchProfile(ctx context.Context, userID string) (*Profile, error) {
	s.mu.Lock()
	s.fetches++
	gate := s.gate
	started := s.started
	s.mu.Unlock()

	if started != nil {
		started <- userID
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	row, ok := s.rows[userID]
	if !ok {
		row = Profile{ID: userID}
		s.rows[userID] = row
	}
	return &row, nil
}

func (s *fakeProfiles) UpdateProfile(_ context.Context, userID string, update ProfileUpdate) (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates++
	row := s.rows[userID]
	row.ID = userID
	if update.FirstName != nil {
		row.FirstName = *update.FirstName
	}
	if update.LastName != nil {
		row.LastName = *update.LastName
	}
	if update.Phone != nil {
		row.Phone = *update.Phone
	}
	s.rows[userID] = row
	return &row, nil
}

func testSession(userID, email string) *Session {
	return &Session{
		AccessToken:  "at-" + userID,
		RefreshToken: "rt-" + userID,
		ExpiresAt:    time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC),
		User:         User{ID: userID, Email: email, EmailConfirmed: true},
	}
}

func succeedSignIn(userID string) func(context.Context, string, string) (AuthResponse, error) {
	return func(_ context.Context, email, _ string) (AuthResponse, error) {
		s := testSession(userID, email)
		return AuthResponse{User: &s.User, Session: s}, nil
	}
}

type testOptions struct {
	cfg      *Config
	builder  func(*Builder)
	noStart  bool
	provider Provider
}

func newTestController(t *testing.T, p *fakeProvider, profiles *fakeProfiles, clock *fakeClock, opts testOptions) *Controller {
	t.Helper()

	cfg := DefaultConfig()
	cfg.StartJanitor = false
	if opts.cfg != nil {
		cfg = *opts.cfg
	}

	var provider Provider = p
	if opts.provider != nil {
		provider = opts.provider
	}

	b := New().
		WithConfig(cfg).
		WithProvider(provider).
		WithProfileStore(profiles).
		WithClock(clock.Now)
	if opts.builder != nil {
		opts.builder(b)
	}

	c, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(c.Close)

	if !opts.noStart {
		if err := c.Start(context.Background()); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
	}
	return c
}

func flush(t *testing.T, c *Controller) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
}
