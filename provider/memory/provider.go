package memory

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	storeauth "github.com/yanlnery/glowing-docs-portal-sub000"
	"github.com/yanlnery/glowing-docs-portal-sub000/internal"
	"github.com/yanlnery/glowing-docs-portal-sub000/jwt"
	"github.com/yanlnery/glowing-docs-portal-sub000/password"
	"go.uber.org/zap"
)

const (
	defaultAccessTTL = time.Hour
	defaultOTPTTL    = time.Hour
	defaultOTPDigits = 6
)

var (
	_ storeauth.Provider    = (*Provider)(nil)
	_ storeauth.OTPVerifier = (*Provider)(nil)
)

type account struct {
	user      storeauth.User
	hash      string
	createdAt time.Time
}

type otpEntry struct {
	digest    [32]byte
	kind      MessageKind
	expiresAt time.Time
}

type currentSession struct {
	id          internal.SessionID
	refreshHash [32]byte
	session     storeauth.Session
}

type subscription struct {
	id      uint64
	handler func(storeauth.AuthChangeEvent)
}

// Provider is an in-memory storeauth.Provider.
type Provider struct {
	hasher  *password.Hasher
	tokens  *jwt.Manager
	mailer  Mailer
	logger  *zap.Logger
	now     func() time.Time
	confirm bool
	otpTTL  time.Duration
	digits  int

	// emitMu serializes state transitions with their event delivery so
	// subscribers observe events in the order the state changed.
	emitMu sync.Mutex

	mu       sync.Mutex
	accounts map[string]*account
	otps     map[string]otpEntry
	current  *currentSession
	subs     []subscription
	nextSub  uint64
}

// Option configures a Provider.
type Option func(*Provider)

// WithHasher sets the password hasher.
func WithHasher(h *password.Hasher) Option {
	return func(p *Provider) { p.hasher = h }
}

// WithTokenManager sets the access-token manager.
func WithTokenManager(m *jwt.Manager) Option {
	return func(p *Provider) { p.tokens = m }
}

// WithMailer sets where confirmation and recovery emails go.
func WithMailer(m Mailer) Option {
	return func(p *Provider) { p.mailer = m }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

// WithEmailConfirmation makes SignUp return no session until the emailed
// code is passed to ConfirmEmail.
func WithEmailConfirmation(enabled bool) Option {
	return func(p *Provider) { p.confirm = enabled }
}

// WithOTPTTL sets how long emailed codes stay valid.
func WithOTPTTL(d time.Duration) Option {
	return func(p *Provider) { p.otpTTL = d }
}

// New returns a Provider. Without WithTokenManager an HS256 manager with a
// random key is created; without WithHasher the default Argon2id parameters
// are used.
func New(opts ...Option) (*Provider, error) {
	p := &Provider{
		now:      time.Now,
		otpTTL:   defaultOTPTTL,
		digits:   defaultOTPDigits,
		accounts: make(map[string]*account),
		otps:     make(map[string]otpEntry),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	if p.mailer == nil {
		p.mailer = NewOutbox()
	}
	if p.otpTTL <= 0 {
		return nil, errors.New("otp ttl must be > 0")
	}
	if p.hasher == nil {
		h, err := password.New(password.DefaultConfig())
		if err != nil {
			return nil, err
		}
		p.hasher = h
	}
	if p.tokens == nil {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, err
		}
		m, err := jwt.NewManager(jwt.Config{
			AccessTTL:     defaultAccessTTL,
			SigningMethod: jwt.MethodHS256,
			PrivateKey:    key,
			Issuer:        "storeauth-memory",
			Now:           p.now,
		})
		if err != nil {
			return nil, err
		}
		p.tokens = m
	}
	return p, nil
}

/*
====================================
SIGN UP / SIGN IN
====================================
*/

func (p *Provider) SignUp(ctx context.Context, req storeauth.SignUpRequest) (storeauth.AuthResponse, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return storeauth.AuthResponse{}, err
	}

	hash, err := p.hasher.Hash(req.Password)
	if err != nil {
		if errors.Is(err, password.ErrTooShort) || errors.Is(err, password.ErrTooLong) {
			return storeauth.AuthResponse{}, ErrWeakPassword
		}
		return storeauth.AuthResponse{}, err
	}

	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	p.mu.Lock()
	if _, exists := p.accounts[email]; exists {
		p.mu.Unlock()
		return storeauth.AuthResponse{}, ErrUserAlreadyExists
	}
	acct := &account{
		user: storeauth.User{
			ID:             uuid.NewString(),
			Email:          email,
			EmailConfirmed: !p.confirm,
			Metadata:       signUpMetadata(req),
		},
		hash:      hash,
		createdAt: p.now(),
	}
	p.accounts[email] = acct
	user := copyUser(acct.user)

	if p.confirm {
		code, err := p.issueOTPLocked(email, MessageConfirmSignUp)
		p.mu.Unlock()
		if err != nil {
			return storeauth.AuthResponse{}, err
		}
		if err := p.send(ctx, email, MessageConfirmSignUp, code, req.RedirectTo); err != nil {
			return storeauth.AuthResponse{}, err
		}
		p.logger.Debug("sign up pending confirmation", zap.String("user_id", user.ID))
		return storeauth.AuthResponse{User: &user}, nil
	}

	session, err := p.startSessionLocked(acct)
	p.mu.Unlock()
	if err != nil {
		return storeauth.AuthResponse{}, err
	}

	p.deliver(storeauth.EventSignedIn, &session)
	return storeauth.AuthResponse{User: &user, Session: &session}, nil
}

// ConfirmEmail completes a sign-up made with email confirmation enabled and
// signs the user in.
func (p *Provider) ConfirmEmail(ctx context.Context, email, code string) (storeauth.AuthResponse, error) {
	return p.verifyCode(ctx, email, code, MessageConfirmSignUp)
}

func (p *Provider) SignInWithPassword(_ context.Context, email, pw string) (storeauth.AuthResponse, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	p.mu.Lock()
	acct, ok := p.accounts[email]
	var hash string
	if ok {
		hash = acct.hash
	}
	p.mu.Unlock()
	if !ok {
		return storeauth.AuthResponse{}, ErrInvalidCredentials
	}

	match, err := p.hasher.Verify(pw, hash)
	if err != nil && !errors.Is(err, password.ErrTooLong) {
		return storeauth.AuthResponse{}, fmt.Errorf("verify password: %w", err)
	}
	if !match {
		return storeauth.AuthResponse{}, ErrInvalidCredentials
	}

	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	p.mu.Lock()
	if !acct.user.EmailConfirmed {
		p.mu.Unlock()
		return storeauth.AuthResponse{}, ErrEmailNotConfirmed
	}
	if upgrade, _ := p.hasher.NeedsUpgrade(acct.hash); upgrade && acct.hash == hash {
		if rehashed, err := p.hasher.Hash(pw); err == nil {
			acct.hash = rehashed
		}
	}
	session, err := p.startSessionLocked(acct)
	p.mu.Unlock()
	if err != nil {
		return storeauth.AuthResponse{}, err
	}

	p.deliver(storeauth.EventSignedIn, &session)
	user := copyUser(session.User)
	return storeauth.AuthResponse{User: &user, Session: &session}, nil
}

// SignOut ends the current session. It succeeds without a session and
// always emits SIGNED_OUT.
func (p *Provider) SignOut(context.Context) error {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	p.mu.Lock()
	p.current = nil
	p.mu.Unlock()

	p.deliver(storeauth.EventSignedOut, nil)
	return nil
}

/*
====================================
RECOVERY
====================================
*/

// ResetPasswordForEmail emails a recovery code and link. Unknown addresses
// succeed silently so callers cannot probe for accounts.
func (p *Provider) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	email = strings.ToLower(strings.TrimSpace(email))

	p.mu.Lock()
	if _, ok := p.accounts[email]; !ok {
		p.mu.Unlock()
		p.logger.Debug("recovery requested for unknown email")
		return nil
	}
	code, err := p.issueOTPLocked(email, MessageRecovery)
	p.mu.Unlock()
	if err != nil {
		return err
	}
	return p.send(ctx, email, MessageRecovery, code, redirectTo)
}

// VerifyOTP exchanges a recovery code for a session. It emits SIGNED_IN
// followed by PASSWORD_RECOVERY.
func (p *Provider) VerifyOTP(ctx context.Context, email, code string) (storeauth.AuthResponse, error) {
	return p.verifyCode(ctx, email, code, MessageRecovery)
}

func (p *Provider) verifyCode(_ context.Context, email, code string, kind MessageKind) (storeauth.AuthResponse, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	p.mu.Lock()
	entry, ok := p.otps[email]
	if !ok || entry.kind != kind || !p.now().Before(entry.expiresAt) || !internal.OTPMatches(strings.TrimSpace(code), entry.digest) {
		p.mu.Unlock()
		return storeauth.AuthResponse{}, ErrOTPExpired
	}
	acct, ok := p.accounts[email]
	if !ok {
		delete(p.otps, email)
		p.mu.Unlock()
		return storeauth.AuthResponse{}, ErrOTPExpired
	}
	delete(p.otps, email)
	acct.user.EmailConfirmed = true
	session, err := p.startSessionLocked(acct)
	p.mu.Unlock()
	if err != nil {
		return storeauth.AuthResponse{}, err
	}

	p.deliver(storeauth.EventSignedIn, &session)
	if kind == MessageRecovery {
		p.deliver(storeauth.EventPasswordRecovery, &session)
	}
	user := copyUser(session.User)
	return storeauth.AuthResponse{User: &user, Session: &session}, nil
}

/*
====================================
SESSION
====================================
*/

// UpdateUser changes the signed-in user's password and emits USER_UPDATED.
func (p *Provider) UpdateUser(_ context.Context, update storeauth.UserUpdate) (*storeauth.User, error) {
	p.mu.Lock()
	cur := p.current
	var (
		email   string
		oldHash string
	)
	if cur != nil {
		email = cur.session.User.Email
		if acct, ok := p.accounts[email]; ok {
			oldHash = acct.hash
		}
	}
	p.mu.Unlock()
	if cur == nil || oldHash == "" {
		return nil, ErrSessionMissing
	}

	var newHash string
	if update.Password != "" {
		if same, _ := p.hasher.Verify(update.Password, oldHash); same {
			return nil, ErrSamePassword
		}
		h, err := p.hasher.Hash(update.Password)
		if err != nil {
			if errors.Is(err, password.ErrTooShort) || errors.Is(err, password.ErrTooLong) {
				return nil, ErrWeakPassword
			}
			return nil, err
		}
		newHash = h
	}

	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	p.mu.Lock()
	acct, ok := p.accounts[email]
	if p.current == nil || p.current.id != cur.id || !ok {
		p.mu.Unlock()
		return nil, ErrSessionMissing
	}
	if newHash != "" {
		acct.hash = newHash
	}
	p.current.session.User = copyUser(acct.user)
	session := copySession(p.current.session)
	p.mu.Unlock()

	p.deliver(storeauth.EventUserUpdated, &session)
	user := copyUser(session.User)
	return &user, nil
}

// GetSession returns the current session, or nil when there is none or it
// has expired.
func (p *Provider) GetSession(context.Context) (*storeauth.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.liveSessionLocked(), nil
}

func (p *Provider) liveSessionLocked() *storeauth.Session {
	if p.current == nil || !p.now().Before(p.current.session.ExpiresAt) {
		return nil
	}
	s := copySession(p.current.session)
	return &s
}

// RefreshSession rotates the tokens of the current session. refreshToken
// must be the most recently issued refresh token. Emits TOKEN_REFRESHED.
func (p *Provider) RefreshSession(_ context.Context, refreshToken string) (*storeauth.Session, error) {
	sid, secret, err := internal.DecodeRefreshToken(refreshToken)
	if err != nil {
		return nil, ErrInvalidRefreshToken
	}

	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	p.mu.Lock()
	cur := p.current
	if cur == nil || cur.id != sid || cur.refreshHash != secret.Hash() {
		p.mu.Unlock()
		return nil, ErrInvalidRefreshToken
	}
	acct, ok := p.accounts[cur.session.User.Email]
	if !ok {
		p.mu.Unlock()
		return nil, ErrInvalidRefreshToken
	}
	if err := p.issueTokensLocked(cur, acct); err != nil {
		p.mu.Unlock()
		return nil, err
	}
	session := copySession(cur.session)
	p.mu.Unlock()

	p.deliver(storeauth.EventTokenRefreshed, &session)
	return &session, nil
}

// VerifyAccessToken validates an access token against the current session.
func (p *Provider) VerifyAccessToken(token string) (*storeauth.User, error) {
	claims, err := p.tokens.ParseAccess(token)
	if err != nil {
		return nil, ErrSessionMissing
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil || p.current.id.String() != claims.SessionID {
		return nil, ErrSessionMissing
	}
	u := copyUser(p.current.session.User)
	return &u, nil
}

/*
====================================
EVENTS
====================================
*/

// OnAuthStateChange registers handler and immediately delivers
// INITIAL_SESSION with the current session. Events are delivered on the
// goroutine that caused them and never concurrently.
func (p *Provider) OnAuthStateChange(handler func(storeauth.AuthChangeEvent)) func() {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	p.mu.Lock()
	p.nextSub++
	id := p.nextSub
	p.subs = append(p.subs, subscription{id: id, handler: handler})
	session := p.liveSessionLocked()
	p.mu.Unlock()

	handler(storeauth.AuthChangeEvent{Type: storeauth.EventInitialSession, Session: session})

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			for i, s := range p.subs {
				if s.id == id {
					p.subs = append(p.subs[:i], p.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// deliver must be called with emitMu held and mu released.
func (p *Provider) deliver(t storeauth.EventType, session *storeauth.Session) {
	p.mu.Lock()
	subs := make([]subscription, len(p.subs))
	copy(subs, p.subs)
	p.mu.Unlock()

	for _, s := range subs {
		var cp *storeauth.Session
		if session != nil {
			c := copySession(*session)
			cp = &c
		}
		s.handler(storeauth.AuthChangeEvent{Type: t, Session: cp})
	}
}

/*
====================================
HELPERS
====================================
*/

func (p *Provider) startSessionLocked(acct *account) (storeauth.Session, error) {
	sid, err := internal.NewSessionID()
	if err != nil {
		return storeauth.Session{}, err
	}
	cur := &currentSession{id: sid}
	if err := p.issueTokensLocked(cur, acct); err != nil {
		return storeauth.Session{}, err
	}
	p.current = cur
	return copySession(cur.session), nil
}

func (p *Provider) issueTokensLocked(cur *currentSession, acct *account) error {
	access, expiresAt, err := p.tokens.CreateAccess(acct.user.ID, acct.user.Email, cur.id.String())
	if err != nil {
		return err
	}
	secret, err := internal.NewRefreshSecret()
	if err != nil {
		return err
	}
	cur.refreshHash = secret.Hash()
	cur.session = storeauth.Session{
		AccessToken:  access,
		RefreshToken: internal.EncodeRefreshToken(cur.id, secret),
		ExpiresAt:    expiresAt,
		User:         copyUser(acct.user),
	}
	return nil
}

func (p *Provider) issueOTPLocked(email string, kind MessageKind) (string, error) {
	code, err := internal.NewOTP(p.digits)
	if err != nil {
		return "", err
	}
	p.otps[email] = otpEntry{
		digest:    internal.HashOTP(code),
		kind:      kind,
		expiresAt: p.now().Add(p.otpTTL),
	}
	return code, nil
}

func (p *Provider) send(ctx context.Context, email string, kind MessageKind, code, redirectTo string) error {
	msg := Message{
		To:     email,
		Kind:   kind,
		Code:   code,
		Link:   buildLink(redirectTo, email, code),
		SentAt: p.now(),
	}
	if err := p.mailer.Send(ctx, msg); err != nil {
		p.logger.Warn("send email failed", zap.String("kind", string(kind)), zap.Error(err))
		return fmt.Errorf("send %s email: %w", kind, err)
	}
	return nil
}

func buildLink(redirectTo, email, code string) string {
	if redirectTo == "" {
		return ""
	}
	u, err := url.Parse(redirectTo)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("email", email)
	q.Set("code", code)
	u.RawQuery = q.Encode()
	return u.String()
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}

func signUpMetadata(req storeauth.SignUpRequest) map[string]string {
	md := make(map[string]string, 3)
	if req.FirstName != "" {
		md["first_name"] = req.FirstName
	}
	if req.LastName != "" {
		md["last_name"] = req.LastName
	}
	if req.Phone != "" {
		md["phone"] = req.Phone
	}
	if len(md) == 0 {
		return nil
	}
	return md
}

func copyUser(u storeauth.User) storeauth.User {
	if u.Metadata != nil {
		md := make(map[string]string, len(u.Metadata))
		for k, v := range u.Metadata {
			md[k] = v
		}
		u.Metadata = md
	}
	return u
}

func copySession(s storeauth.Session) storeauth.Session {
	s.User = copyUser(s.User)
	return s
}
