package storeauth

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/yanlnery/glowing-docs-portal-sub000/monitor"
	"github.com/yanlnery/glowing-docs-portal-sub000/ratelimit"
)

func TestIsAuthenticatedRequiresUserAndSession(t *testing.T) {
	p := &fakeProvider{}
	c := newTestController(t, p, newFakeProfiles(), newFakeClock(), testOptions{})

	s := testSession("u1", "a@x.com")
	cases := []struct {
		name    string
		user    *User
		session *Session
		want    bool
	}{
		{"neither", nil, nil, false},
		{"user only", &s.User, nil, false},
		{"session only", nil, s, false},
		{"both", &s.User, s, true},
	}

	for _, tc := range cases {
		c.mu.Lock()
		c.user, c.session = tc.user, tc.session
		snap := c.snapshotLocked()
		c.mu.Unlock()

		if snap.IsAuthenticated != tc.want {
			t.Fatalf("%s: expected IsAuthenticated=%v", tc.name, tc.want)
		}
		if got := c.IsAuthenticated(); got != tc.want {
			t.Fatalf("%s: IsAuthenticated() = %v", tc.name, got)
		}
	}
}

func TestLoginThenSignedInLoadsProfile(t *testing.T) {
	p := &fakeProvider{signIn: succeedSignIn("u1")}
	profiles := newFakeProfiles()
	c := newTestController(t, p, profiles, newFakeClock(), testOptions{})

	resp, err := c.Login(context.Background(), "A@X.com", "pw")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if resp.Session == nil || resp.User == nil || resp.User.ID != "u1" {
		t.Fatalf("expected optimistic user and session, got %+v", resp)
	}

	snap := c.Snapshot()
	if !snap.IsLoading {
		t.Fatal("expected loading until SIGNED_IN arrives")
	}
	if snap.IsAuthenticated {
		t.Fatal("state must come from the stream, not the login response")
	}

	p.emit(EventSignedIn, resp.Session)
	if !c.IsAuthenticated() {
		t.Fatal("expected authenticated right after SIGNED_IN")
	}

	flush(t, c)

	snap = c.Snapshot()
	if snap.IsLoading {
		t.Fatal("expected loading cleared after profile fetch")
	}
	if snap.Profile == nil || snap.Profile.ID != "u1" {
		t.Fatalf("expected profile for u1, got %+v", snap.Profile)
	}
	if snap.Phase != PhaseAuthenticated {
		t.Fatalf("expected AUTHENTICATED, got %s", snap.Phase)
	}
}

func TestLoginThrottledDoesNotCallProvider(t *testing.T) {
	p := &fakeProvider{}
	c := newTestController(t, p, newFakeProfiles(), newFakeClock(), testOptions{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := c.Login(ctx, "a@x.com", "wrong")
		if KindOf(err) != KindProvider {
			t.Fatalf("attempt %d: expected provider error, got %v", i+1, err)
		}
		if err.Error() != "Invalid login credentials" {
			t.Fatalf("expected provider message verbatim, got %q", err.Error())
		}
	}

	_, err := c.Login(ctx, "a@x.com", "right")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if p.calls() != 5 {
		t.Fatalf("expected 5 provider calls, got %d", p.calls())
	}

	m := regexp.MustCompile(`(\d+) seconds`).FindStringSubmatch(err.Error())
	if m == nil {
		t.Fatalf("expected retry seconds in message, got %q", err.Error())
	}
	if secs, _ := strconv.Atoi(m[1]); secs <= 0 {
		t.Fatalf("expected positive retry seconds, got %d", secs)
	}

	snap := c.Snapshot()
	if snap.IsLoading {
		t.Fatal("throttled login must not leave loading set")
	}
	if snap.AuthError == nil || snap.AuthError.Kind != KindRateLimited {
		t.Fatalf("expected rate limit auth error, got %+v", snap.AuthError)
	}

	var sawLimit bool
	for _, ev := range c.RecentSecurityEvents(0) {
		if ev.Type == monitor.EventRateLimitExceeded && ev.Metadata["action"] == "login" {
			sawLimit = true
		}
	}
	if !sawLimit {
		t.Fatal("expected rate_limit_exceeded event")
	}
	if got := c.MetricsSnapshot().Counters[MetricLoginRateLimited]; got != 1 {
		t.Fatalf("expected 1 rate limited login, got %d", got)
	}
}

func TestLoginSuccessClearsAttempts(t *testing.T) {
	p := &fakeProvider{}
	c := newTestController(t, p, newFakeProfiles(), newFakeClock(), testOptions{})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, _ = c.Login(ctx, "a@x.com", "wrong")
	}
	p.mu.Lock()
	p.signIn = succeedSignIn("u1")
	p.mu.Unlock()
	if _, err := c.Login(ctx, "a@x.com", "right"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	p.mu.Lock()
	p.signIn = nil
	p.mu.Unlock()
	for i := 0; i < 5; i++ {
		if _, err := c.Login(ctx, "a@x.com", "wrong"); KindOf(err) != KindProvider {
			t.Fatalf("attempt %d after reset: expected provider error, got %v", i+1, err)
		}
	}
}

func TestLoginFailureClearsLoadingAndFlagsSuspicion(t *testing.T) {
	p := &fakeProvider{}
	notes := make(chan monitor.Notification, 8)
	c := newTestController(t, p, newFakeProfiles(), newFakeClock(), testOptions{
		builder: func(b *Builder) {
			b.WithNotifier(monitor.NotifierFunc(func(_ context.Context, n monitor.Notification) error {
				notes <- n
				return nil
			}))
		},
	})
	ctx := WithClientIP(context.Background(), "203.0.113.9")

	for i := 0; i < 3; i++ {
		if _, err := c.Login(ctx, "a@x.com", "wrong"); err == nil {
			t.Fatal("expected login failure")
		}
		if c.IsLoading() {
			t.Fatal("failed login must clear loading")
		}
	}
	flush(t, c)

	select {
	case n := <-notes:
		if n.EventType != monitor.EventSuspiciousActivity || n.Identity != "a@x.com" {
			t.Fatalf("unexpected notification %+v", n)
		}
	default:
		t.Fatal("expected suspicious activity notification")
	}

	var failed int
	for _, ev := range c.RecentSecurityEvents(0) {
		if ev.Type == monitor.EventFailedLogin {
			failed++
			if ev.Metadata["ip"] != "203.0.113.9" {
				t.Fatalf("expected client ip on event, got %v", ev.Metadata)
			}
		}
	}
	if failed != 3 {
		t.Fatalf("expected 3 failed_login events, got %d", failed)
	}
}

func TestSignedOutClearsDespitePendingFetch(t *testing.T) {
	p := &fakeProvider{}
	profiles := newFakeProfiles()
	profiles.gate = make(chan struct{})
	profiles.started = make(chan string, 4)
	c := newTestController(t, p, profiles, newFakeClock(), testOptions{})

	p.emit(EventSignedIn, testSession("u1", "a@x.com"))
	select {
	case <-profiles.started:
	case <-time.After(5 * time.Second):
		t.Fatal("profile fetch never started")
	}

	p.emit(EventSignedOut, nil)
	close(profiles.gate)
	flush(t, c)

	snap := c.Snapshot()
	if snap.User != nil || snap.Session != nil || snap.Profile != nil {
		t.Fatalf("expected cleared state, got %+v", snap)
	}
	if snap.IsLoading {
		t.Fatal("expected loading cleared")
	}
	if snap.Phase != PhaseAnonymous {
		t.Fatalf("expected ANONYMOUS, got %s", snap.Phase)
	}
	if got := c.MetricsSnapshot().Counters[MetricProfileFetchSuperseded]; got != 1 {
		t.Fatalf("expected superseded fetch, got %d", got)
	}
}

func TestLatestUserWinsProfileRace(t *testing.T) {
	p := &fakeProvider{}
	profiles := newFakeProfiles()
	profiles.gate = make(chan struct{})
	profiles.started = make(chan string, 4)
	c := newTestController(t, p, profiles, newFakeClock(), testOptions{})

	p.emit(EventSignedIn, testSession("u1", "a@x.com"))
	<-profiles.started
	p.emit(EventSignedIn, testSession("u2", "b@x.com"))
	close(profiles.gate)
	flush(t, c)

	snap := c.Snapshot()
	if snap.User == nil || snap.User.ID != "u2" {
		t.Fatalf("expected u2, got %+v", snap.User)
	}
	if snap.Profile == nil || snap.Profile.ID != "u2" {
		t.Fatalf("expected u2 profile, got %+v", snap.Profile)
	}
	if snap.IsLoading {
		t.Fatal("expected loading cleared")
	}
}

func TestLogoutRacingLoginLastEventWins(t *testing.T) {
	cases := []struct {
		name      string
		order     []EventType
		wantAuthn bool
	}{
		{"signed out last", []EventType{EventSignedIn, EventSignedOut}, false},
		{"signed in last", []EventType{EventSignedOut, EventSignedIn}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gate := make(chan struct{})
			p := &fakeProvider{
				signIn: func(ctx context.Context, email, pw string) (AuthResponse, error) {
					<-gate
					return succeedSignIn("u1")(ctx, email, pw)
				},
			}
			c := newTestController(t, p, newFakeProfiles(), newFakeClock(), testOptions{})
			ctx := context.Background()

			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = c.Login(ctx, "a@x.com", "pw")
			}()

			if err := c.Logout(ctx); err != nil {
				t.Fatalf("Logout failed: %v", err)
			}
			close(gate)
			wg.Wait()

			for _, ev := range tc.order {
				if ev == EventSignedIn {
					p.emit(ev, testSession("u1", "a@x.com"))
				} else {
					p.emit(ev, nil)
				}
			}
			flush(t, c)

			snap := c.Snapshot()
			if snap.IsAuthenticated != tc.wantAuthn {
				t.Fatalf("expected authenticated=%v, got %+v", tc.wantAuthn, snap)
			}
			if snap.IsLoading {
				t.Fatal("expected loading cleared once both events arrived")
			}
			if !tc.wantAuthn && snap.Profile != nil {
				t.Fatal("expected no profile after sign out")
			}
		})
	}
}

func TestUnrelatedEventDoesNotClearLoading(t *testing.T) {
	gate := make(chan struct{})
	entered := make(chan struct{})
	p := &fakeProvider{
		signIn: func(ctx context.Context, email, pw string) (AuthResponse, error) {
			close(entered)
			<-gate
			return succeedSignIn("u2")(ctx, email, pw)
		},
	}
	profiles := newFakeProfiles()
	c := newTestController(t, p, profiles, newFakeClock(), testOptions{})
	ctx := context.Background()

	p.emit(EventSignedIn, testSession("u1", "a@x.com"))
	flush(t, c)

	done := make(chan error, 1)
	go func() {
		_, err := c.Login(ctx, "b@x.com", "pw")
		done <- err
	}()
	<-entered

	p.emit(EventTokenRefreshed, testSession("u1", "a@x.com"))
	p.emit(EventPasswordRecovery, nil)
	flush(t, c)
	if !c.IsLoading() {
		t.Fatal("background events must not clear loading of an in-flight login")
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if !c.IsLoading() {
		t.Fatal("expected loading until SIGNED_IN for the login arrives")
	}

	p.emit(EventSignedIn, testSession("u2", "b@x.com"))
	flush(t, c)
	snap := c.Snapshot()
	if snap.IsLoading {
		t.Fatal("expected loading cleared")
	}
	if snap.User.ID != "u2" || snap.Profile == nil || snap.Profile.ID != "u2" {
		t.Fatalf("expected u2 state, got %+v", snap)
	}
}

func TestEventClearsAuthError(t *testing.T) {
	p := &fakeProvider{}
	c := newTestController(t, p, newFakeProfiles(), newFakeClock(), testOptions{})

	_, _ = c.Login(context.Background(), "a@x.com", "wrong")
	if c.AuthError() == nil {
		t.Fatal("expected auth error")
	}
	p.emit(EventTokenRefreshed, nil)
	if c.AuthError() != nil {
		t.Fatal("expected event to clear auth error")
	}
}

func TestSessionlessEventClearsState(t *testing.T) {
	p := &fakeProvider{}
	c := newTestController(t, p, newFakeProfiles(), newFakeClock(), testOptions{})

	p.emit(EventSignedIn, testSession("u1", "a@x.com"))
	flush(t, c)
	p.emit(EventTokenRefreshed, nil)

	snap := c.Snapshot()
	if snap.IsAuthenticated || snap.Profile != nil || snap.IsLoading {
		t.Fatalf("expected cleared state, got %+v", snap)
	}
}

func TestUpdateProfileWithoutUser(t *testing.T) {
	p := &fakeProvider{}
	profiles := newFakeProfiles()
	c := newTestController(t, p, profiles, newFakeClock(), testOptions{})

	name := "Ana"
	_, err := c.UpdateProfile(context.Background(), ProfileUpdate{FirstName: &name})
	if !errors.Is(err, ErrPreconditionFailed) || !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected not authenticated precondition, got %v", err)
	}
	if c.Profile() != nil {
		t.Fatal("profile must stay nil")
	}
	if profiles.updates != 0 {
		t.Fatal("store must not be written")
	}
}

func TestUpdateProfileReplacesWithServerRow(t *testing.T) {
	p := &fakeProvider{}
	profiles := newFakeProfiles()
	profiles.rows["u1"] = Profile{ID: "u1", FirstName: "Old", Phone: "555"}
	c := newTestController(t, p, profiles, newFakeClock(), testOptions{})

	p.emit(EventSignedIn, testSession("u1", "a@x.com"))
	flush(t, c)

	name := "New"
	got, err := c.UpdateProfile(context.Background(), ProfileUpdate{FirstName: &name})
	if err != nil {
		t.Fatalf("UpdateProfile failed: %v", err)
	}
	if got.FirstName != "New" || got.Phone != "555" {
		t.Fatalf("unexpected row %+v", got)
	}
	if p := c.Profile(); p.FirstName != "New" || p.Phone != "555" {
		t.Fatalf("expected server row in state, got %+v", p)
	}
}

func TestProfileFetchFailureKeepsSession(t *testing.T) {
	p := &fakeProvider{}
	profiles := newFakeProfiles()
	profiles.fetchErr = errors.New("relation \"profiles\" is unavailable")
	c := newTestController(t, p, profiles, newFakeClock(), testOptions{})

	p.emit(EventSignedIn, testSession("u1", "a@x.com"))
	flush(t, c)

	snap := c.Snapshot()
	if !snap.IsAuthenticated || snap.IsLoading {
		t.Fatalf("expected authenticated and settled, got %+v", snap)
	}
	if snap.Phase != PhaseAuthenticatedNoProfile {
		t.Fatalf("expected AUTHENTICATED_NO_PROFILE, got %s", snap.Phase)
	}
	if snap.ProfileError == nil || snap.ProfileError.Kind != KindProfileFetch {
		t.Fatalf("expected profile fetch error, got %+v", snap.ProfileError)
	}
	if snap.AuthError != nil {
		t.Fatal("profile failure must not set the auth error")
	}

	profiles.mu.Lock()
	profiles.fetchErr = nil
	profiles.mu.Unlock()

	prof, err := c.RefreshProfile(context.Background())
	if err != nil {
		t.Fatalf("RefreshProfile failed: %v", err)
	}
	if prof.ID != "u1" || c.ProfileError() != nil {
		t.Fatalf("expected refreshed profile and cleared error")
	}
}

func TestRefreshProfileWithoutUser(t *testing.T) {
	c := newTestController(t, &fakeProvider{}, newFakeProfiles(), newFakeClock(), testOptions{})

	_, err := c.RefreshProfile(context.Background())
	if KindOf(err) != KindPrecondition {
		t.Fatalf("expected precondition error, got %v", err)
	}
	if c.ProfileError() == nil {
		t.Fatal("expected profile error set")
	}
}

func TestSignUpWithoutSessionClearsLoading(t *testing.T) {
	p := &fakeProvider{
		signUp: func(_ context.Context, req SignUpRequest) (AuthResponse, error) {
			return AuthResponse{User: &User{ID: "u9", Email: req.Email}}, nil
		},
	}
	profiles := newFakeProfiles()
	c := newTestController(t, p, profiles, newFakeClock(), testOptions{})

	resp, err := c.SignUp(context.Background(), SignUpRequest{
		Email:     "new@x.com",
		Password:  "pw",
		FirstName: "Ana",
		Phone:     "555-0100",
	})
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	if resp.Session != nil {
		t.Fatal("expected confirmation pending")
	}
	if c.IsLoading() {
		t.Fatal("sign up without a session must clear loading")
	}
	if row := profiles.rows["u9"]; row.FirstName != "Ana" || row.Phone != "555-0100" {
		t.Fatalf("expected seeded profile, got %+v", row)
	}
}

func TestSignUpWithSessionAwaitsStream(t *testing.T) {
	p := &fakeProvider{}
	p.signUp = func(_ context.Context, req SignUpRequest) (AuthResponse, error) {
		s := testSession("u9", req.Email)
		p.emit(EventSignedIn, s)
		return AuthResponse{User: &s.User, Session: s}, nil
	}
	c := newTestController(t, p, newFakeProfiles(), newFakeClock(), testOptions{})

	if _, err := c.SignUp(context.Background(), SignUpRequest{Email: "n@x.com", Password: "pw", LastName: "Silva"}); err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	flush(t, c)

	snap := c.Snapshot()
	if snap.IsLoading {
		t.Fatal("event delivered during the call must not leave loading set")
	}
	if snap.Profile == nil || snap.Profile.LastName != "Silva" {
		t.Fatalf("expected seeded profile in state, got %+v", snap.Profile)
	}
}

func TestLogoutErrorClearsLoading(t *testing.T) {
	p := &fakeProvider{signOutErr: errors.New("network down")}
	c := newTestController(t, p, newFakeProfiles(), newFakeClock(), testOptions{})

	p.emit(EventSignedIn, testSession("u1", "a@x.com"))
	flush(t, c)

	err := c.Logout(context.Background())
	if KindOf(err) != KindProvider {
		t.Fatalf("expected provider error, got %v", err)
	}
	snap := c.Snapshot()
	if snap.IsLoading || !snap.IsAuthenticated {
		t.Fatalf("expected settled authenticated state, got %+v", snap)
	}
}

func TestLogoutAwaitsSignedOut(t *testing.T) {
	p := &fakeProvider{}
	c := newTestController(t, p, newFakeProfiles(), newFakeClock(), testOptions{})

	p.emit(EventSignedIn, testSession("u1", "a@x.com"))
	flush(t, c)

	if err := c.Logout(context.Background()); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	snap := c.Snapshot()
	if !snap.IsLoading || !snap.IsAuthenticated {
		t.Fatalf("expected loading while SIGNED_OUT is pending, got %+v", snap)
	}

	p.emit(EventSignedOut, nil)
	snap = c.Snapshot()
	if snap.IsLoading || snap.IsAuthenticated {
		t.Fatalf("expected anonymous settled state, got %+v", snap)
	}
}

func TestRequestPasswordResetCooldown(t *testing.T) {
	p := &fakeProvider{}
	clock := newFakeClock()
	c := newTestController(t, p, newFakeProfiles(), clock, testOptions{})
	ctx := context.Background()

	if err := c.RequestPasswordReset(ctx, " A@x.com "); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	if len(p.resetCalls) != 1 || p.resetCalls[0].redirectTo != DefaultConfig().Recovery.RedirectURL {
		t.Fatalf("unexpected reset calls %+v", p.resetCalls)
	}

	clock.Advance(30 * time.Second)
	err := c.RequestPasswordReset(ctx, "a@x.com")
	if KindOf(err) != KindRateLimited {
		t.Fatalf("expected rate limit, got %v", err)
	}
	if !strings.Contains(err.Error(), "30 seconds") {
		t.Fatalf("expected remaining cooldown in message, got %q", err.Error())
	}
	if c.IsLoading() {
		t.Fatal("reset must not leave loading set")
	}

	clock.Advance(30 * time.Second)
	if err := c.RequestPasswordReset(ctx, "a@x.com"); err != nil {
		t.Fatalf("expected reset allowed after cooldown: %v", err)
	}
	if len(p.resetCalls) != 2 {
		t.Fatalf("expected 2 provider calls, got %d", len(p.resetCalls))
	}
}

func TestVerifyRecoveryCode(t *testing.T) {
	p := &fakeProvider{verifyCode: "123456"}
	c := newTestController(t, p, newFakeProfiles(), newFakeClock(), testOptions{})
	ctx := context.Background()

	_, err := c.VerifyRecoveryCode(ctx, "a@x.com", "123456")
	if !errors.Is(err, ErrNoRecoveryChallenge) {
		t.Fatalf("expected no challenge, got %v", err)
	}

	if err := c.RequestPasswordReset(ctx, "a@x.com"); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}

	for want := 4; want >= 0; want-- {
		_, err := c.VerifyRecoveryCode(ctx, "a@x.com", "000000")
		var ae *AuthError
		if !errors.As(err, &ae) || ae.Kind != KindProvider {
			t.Fatalf("expected provider error, got %v", err)
		}
		if ae.AttemptsLeft != want {
			t.Fatalf("expected %d attempts left, got %d", want, ae.AttemptsLeft)
		}
	}

	_, err = c.VerifyRecoveryCode(ctx, "a@x.com", "123456")
	if !errors.Is(err, ErrVerificationAttempts) || KindOf(err) != KindRateLimited {
		t.Fatalf("expected exhausted challenge, got %v", err)
	}
	if p.verifyCalls != 5 {
		t.Fatalf("expected 5 verify calls, got %d", p.verifyCalls)
	}

	_, err = c.VerifyRecoveryCode(ctx, "a@x.com", "123456")
	if !errors.Is(err, ErrNoRecoveryChallenge) {
		t.Fatalf("expected challenge dropped after exhaustion, got %v", err)
	}
}

func TestVerifyRecoveryCodeSuccess(t *testing.T) {
	p := &fakeProvider{verifyCode: "123456"}
	clock := newFakeClock()
	c := newTestController(t, p, newFakeProfiles(), clock, testOptions{})
	ctx := context.Background()

	if err := c.RequestPasswordReset(ctx, "a@x.com"); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	resp, err := c.VerifyRecoveryCode(ctx, "a@x.com", " 123456 ")
	if err != nil {
		t.Fatalf("VerifyRecoveryCode failed: %v", err)
	}
	if !c.IsLoading() {
		t.Fatal("expected loading until SIGNED_IN arrives")
	}
	p.emit(EventSignedIn, resp.Session)
	p.emit(EventPasswordRecovery, resp.Session)
	flush(t, c)
	if c.IsLoading() || !c.IsAuthenticated() {
		t.Fatal("expected authenticated recovery session")
	}

	if _, err := c.VerifyRecoveryCode(ctx, "a@x.com", "123456"); !errors.Is(err, ErrNoRecoveryChallenge) {
		t.Fatalf("expected challenge consumed, got %v", err)
	}
}

func TestVerifyRecoveryCodeExpires(t *testing.T) {
	p := &fakeProvider{verifyCode: "123456"}
	clock := newFakeClock()
	c := newTestController(t, p, newFakeProfiles(), clock, testOptions{})
	ctx := context.Background()

	if err := c.RequestPasswordReset(ctx, "a@x.com"); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	clock.Advance(16 * time.Minute)
	if _, err := c.VerifyRecoveryCode(ctx, "a@x.com", "123456"); !errors.Is(err, ErrNoRecoveryChallenge) {
		t.Fatalf("expected expired challenge, got %v", err)
	}
}

func TestVerifyRecoveryCodeUnsupported(t *testing.T) {
	p := &fakeProvider{}
	c := newTestController(t, p, newFakeProfiles(), newFakeClock(), testOptions{provider: withoutOTP{p}})

	_, err := c.VerifyRecoveryCode(context.Background(), "a@x.com", "1")
	if !errors.Is(err, ErrOTPUnsupported) {
		t.Fatalf("expected ErrOTPUnsupported, got %v", err)
	}
	if c.IsLoading() {
		t.Fatal("expected loading cleared")
	}
}

func TestUpdatePassword(t *testing.T) {
	p := &fakeProvider{}
	notes := make(chan monitor.Notification, 4)
	c := newTestController(t, p, newFakeProfiles(), newFakeClock(), testOptions{
		builder: func(b *Builder) {
			b.WithNotifier(monitor.NotifierFunc(func(_ context.Context, n monitor.Notification) error {
				notes <- n
				return nil
			}))
		},
	})
	ctx := context.Background()

	if err := c.UpdatePassword(ctx, "new-pw"); KindOf(err) != KindProvider {
		t.Fatalf("expected provider error without session, got %v", err)
	}

	s := testSession("u1", "a@x.com")
	p.mu.Lock()
	p.session = s
	p.mu.Unlock()

	if err := c.UpdatePassword(ctx, "new-pw"); err != nil {
		t.Fatalf("UpdatePassword failed: %v", err)
	}
	if c.IsLoading() {
		t.Fatal("expected loading cleared after update")
	}
	flush(t, c)

	select {
	case n := <-notes:
		if n.EventType != monitor.EventPasswordChanged || n.Identity != "a@x.com" {
			t.Fatalf("unexpected notification %+v", n)
		}
	default:
		t.Fatal("expected password_changed notification")
	}
}

func TestNewDeviceLoginNotifiesOnce(t *testing.T) {
	p := &fakeProvider{signIn: succeedSignIn("u1")}
	notes := make(chan monitor.Notification, 4)
	c := newTestController(t, p, newFakeProfiles(), newFakeClock(), testOptions{
		builder: func(b *Builder) {
			b.WithNotifier(monitor.NotifierFunc(func(_ context.Context, n monitor.Notification) error {
				notes <- n
				return nil
			}))
		},
	})

	ctx := WithUserAgent(context.Background(),
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	ctx = WithAcceptLanguage(ctx, "pt-BR,pt;q=0.9")

	for i := 0; i < 2; i++ {
		if _, err := c.Login(ctx, "a@x.com", "pw"); err != nil {
			t.Fatalf("Login failed: %v", err)
		}
	}
	flush(t, c)

	if len(notes) != 1 {
		t.Fatalf("expected one notification, got %d", len(notes))
	}
	n := <-notes
	if n.EventType != monitor.EventNewDeviceLogin || !strings.Contains(n.Details["device"], "Chrome") {
		t.Fatalf("unexpected notification %+v", n)
	}
	if got := c.MetricsSnapshot().Counters[MetricNewDeviceLogin]; got != 1 {
		t.Fatalf("expected 1 new device, got %d", got)
	}
}

type failingStore struct{}

func (failingStore) Update(context.Context, ratelimit.Class, string, ratelimit.UpdateFunc) error {
	return ratelimit.ErrStoreUnavailable
}
func (failingStore) Delete(context.Context, ratelimit.Class, string) error {
	return ratelimit.ErrStoreUnavailable
}
func (failingStore) Sweep(context.Context, time.Time) (int, error) {
	return 0, ratelimit.ErrStoreUnavailable
}

func TestLimiterFailureFailsOpen(t *testing.T) {
	p := &fakeProvider{signIn: succeedSignIn("u1")}
	c := newTestController(t, p, newFakeProfiles(), newFakeClock(), testOptions{
		builder: func(b *Builder) { b.WithRateLimitStore(failingStore{}) },
	})

	if _, err := c.Login(context.Background(), "a@x.com", "pw"); err != nil {
		t.Fatalf("expected login to proceed, got %v", err)
	}
	if got := c.MetricsSnapshot().Counters[MetricRateLimiterError]; got != 2 {
		t.Fatalf("expected check and clear failures counted, got %d", got)
	}
}

func TestStartReadsSessionWhenNotReplayed(t *testing.T) {
	p := &fakeProvider{session: testSession("u1", "a@x.com")}
	c := newTestController(t, p, newFakeProfiles(), newFakeClock(), testOptions{})
	flush(t, c)

	snap := c.Snapshot()
	if !snap.IsAuthenticated || snap.Profile == nil || snap.IsLoading {
		t.Fatalf("expected restored session, got %+v", snap)
	}
}

func TestStartUsesReplayedInitialSession(t *testing.T) {
	p := &fakeProvider{
		replay:        &AuthChangeEvent{Type: EventInitialSession},
		session:       testSession("stale", "s@x.com"),
		getSessionErr: errors.New("must not be called"),
	}
	c := newTestController(t, p, newFakeProfiles(), newFakeClock(), testOptions{})

	snap := c.Snapshot()
	if snap.IsAuthenticated || snap.IsLoading || snap.AuthError != nil {
		t.Fatalf("expected anonymous settled state, got %+v", snap)
	}
}

func TestStartReportsGetSessionFailure(t *testing.T) {
	p := &fakeProvider{getSessionErr: errors.New("offline")}
	c := newTestController(t, p, newFakeProfiles(), newFakeClock(), testOptions{noStart: true})

	err := c.Start(context.Background())
	if KindOf(err) != KindProvider {
		t.Fatalf("expected provider error, got %v", err)
	}
	if c.IsLoading() {
		t.Fatal("expected boot loading cleared")
	}
}

func TestWatchDeliversInOrder(t *testing.T) {
	p := &fakeProvider{}
	c := newTestController(t, p, newFakeProfiles(), newFakeClock(), testOptions{})

	var (
		mu     sync.Mutex
		phases []Phase
	)
	cancel := c.Watch(func(s Snapshot) {
		mu.Lock()
		phases = append(phases, s.Phase)
		mu.Unlock()
	})

	p.emit(EventSignedIn, testSession("u1", "a@x.com"))
	flush(t, c)
	p.emit(EventSignedOut, nil)
	flush(t, c)
	cancel()
	p.emit(EventSignedIn, testSession("u1", "a@x.com"))
	flush(t, c)

	mu.Lock()
	defer mu.Unlock()
	want := []Phase{PhaseAuthenticatedNoProfile, PhaseAuthenticated, PhaseAnonymous}
	if len(phases) != len(want) {
		t.Fatalf("expected %v, got %v", want, phases)
	}
	for i := range want {
		if phases[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, phases)
		}
	}
}

func TestCloseUnsubscribesAndRejectsOperations(t *testing.T) {
	p := &fakeProvider{}
	c := newTestController(t, p, newFakeProfiles(), newFakeClock(), testOptions{})

	c.Close()
	c.Close()

	if !p.unsubscribed {
		t.Fatal("expected unsubscribe on Close")
	}
	if _, err := c.Login(context.Background(), "a@x.com", "pw"); !errors.Is(err, ErrControllerClosed) {
		t.Fatalf("expected ErrControllerClosed, got %v", err)
	}
	if err := c.Start(context.Background()); !errors.Is(err, ErrControllerClosed) {
		t.Fatalf("expected ErrControllerClosed, got %v", err)
	}
}
