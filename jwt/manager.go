package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the token signature algorithm.
type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"
)

const (
	maxLeeway           = 2 * time.Minute
	defaultMaxFutureIAT = 10 * time.Minute
	minHMACKeyBytes     = 32
)

var (
	// ErrInvalidConfig wraps every NewManager validation failure.
	ErrInvalidConfig = errors.New("invalid token manager config")
	// ErrNoSigningKey is returned by CreateAccess on a verify-only manager.
	ErrNoSigningKey = errors.New("token manager has no signing key")
	// ErrUnknownKeyID is returned when the token kid is missing or not trusted.
	ErrUnknownKeyID = errors.New("unknown token key id")
	// ErrMissingSession is returned when a parsed token has no session id.
	ErrMissingSession = errors.New("token has no session id")
	// ErrFutureIssuedAt is returned when iat is beyond MaxFutureIAT.
	ErrFutureIssuedAt = errors.New("token iat too far in the future")
)

// Config controls token lifetime, keys and validation.
type Config struct {
	AccessTTL     time.Duration
	SigningMethod SigningMethod
	// PrivateKey is the HMAC secret for HS256, or a raw or PEM ed25519 key.
	PrivateKey []byte
	PublicKey  []byte
	Issuer     string
	Audience   string
	Leeway     time.Duration
	RequireIAT bool
	// MaxFutureIAT bounds clock skew on iat. Zero means 10 minutes.
	MaxFutureIAT time.Duration
	// KeyID is stamped into the kid header of issued tokens.
	KeyID string
	// VerifyKeys, when set, is the kid-indexed set of trusted keys.
	VerifyKeys map[string][]byte

	// Now overrides the clock used for iat/exp. Nil uses time.Now.
	Now func() time.Time
}

// Manager signs and parses session access tokens. It is immutable after
// NewManager and safe for concurrent use.
type Manager struct {
	cfg     Config
	method  jwt.SigningMethod
	signKey any
	// verify holds the single trusted key when no kid set is configured.
	verify  any
	keyring map[string]any
	parser  *jwt.Parser
}

// SessionClaims are the claims of an access token. The user id is carried as
// the registered subject.
type SessionClaims struct {
	Email     string `json:"email"`
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// UserID returns the token subject.
func (c *SessionClaims) UserID() string {
	return c.Subject
}

// NewManager validates cfg, decodes its keys and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	switch {
	case cfg.AccessTTL <= 0:
		return nil, fmt.Errorf("%w: AccessTTL must be > 0", ErrInvalidConfig)
	case cfg.Leeway < 0 || cfg.Leeway > maxLeeway:
		return nil, fmt.Errorf("%w: Leeway must be within [0, %s]", ErrInvalidConfig, maxLeeway)
	case cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour:
		return nil, fmt.Errorf("%w: MaxFutureIAT must be within [0, 24h]", ErrInvalidConfig)
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = defaultMaxFutureIAT
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	m := &Manager{cfg: cfg}
	var err error
	switch cfg.SigningMethod {
	case MethodHS256:
		err = m.loadHMAC()
	case MethodEd25519:
		err = m.loadEd25519()
	default:
		err = fmt.Errorf("%w: unsupported signing method %q", ErrInvalidConfig, cfg.SigningMethod)
	}
	if err != nil {
		return nil, err
	}

	if cfg.KeyID != "" && m.keyring != nil {
		if _, ok := m.keyring[cfg.KeyID]; !ok {
			return nil, fmt.Errorf("%w: KeyID %q is not in VerifyKeys", ErrInvalidConfig, cfg.KeyID)
		}
	}

	m.parser = jwt.NewParser(m.parserOptions()...)
	return m, nil
}

func (m *Manager) loadHMAC() error {
	if len(m.cfg.PrivateKey) < minHMACKeyBytes {
		return fmt.Errorf("%w: hs256 needs a key of at least %d bytes", ErrInvalidConfig, minHMACKeyBytes)
	}
	m.method = jwt.SigningMethodHS256
	m.signKey = m.cfg.PrivateKey
	m.verify = m.cfg.PrivateKey
	return m.loadKeyring(func(k []byte) (any, error) { return k, nil })
}

func (m *Manager) loadEd25519() error {
	m.method = jwt.SigningMethodEdDSA
	if len(m.cfg.PrivateKey) > 0 {
		priv, err := parseEdPrivateKey(m.cfg.PrivateKey)
		if err != nil {
			return err
		}
		m.signKey = priv
	}
	if len(m.cfg.PublicKey) > 0 {
		pub, err := parseEdPublicKey(m.cfg.PublicKey)
		if err != nil {
			return err
		}
		m.verify = pub
	}
	if err := m.loadKeyring(func(k []byte) (any, error) { return parseEdPublicKey(k) }); err != nil {
		return err
	}
	if m.verify == nil && m.keyring == nil {
		return fmt.Errorf("%w: ed25519 needs PublicKey or VerifyKeys", ErrInvalidConfig)
	}
	return nil
}

func (m *Manager) loadKeyring(decode func([]byte) (any, error)) error {
	if len(m.cfg.VerifyKeys) == 0 {
		return nil
	}
	m.keyring = make(map[string]any, len(m.cfg.VerifyKeys))
	for kid, raw := range m.cfg.VerifyKeys {
		if strings.TrimSpace(kid) == "" {
			return fmt.Errorf("%w: VerifyKeys has an empty kid", ErrInvalidConfig)
		}
		key, err := decode(raw)
		if err != nil {
			return fmt.Errorf("verify key %q: %w", kid, err)
		}
		m.keyring[kid] = key
	}
	return nil
}

func (m *Manager) parserOptions() []jwt.ParserOption {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method.Alg()}),
		jwt.WithTimeFunc(m.cfg.Now),
		jwt.WithExpirationRequired(),
	}
	if m.cfg.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(m.cfg.Leeway))
	}
	if m.cfg.RequireIAT {
		opts = append(opts, jwt.WithIssuedAt())
	}
	if m.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.cfg.Issuer))
	}
	if m.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(m.cfg.Audience))
	}
	return opts
}

// TTL returns the configured access-token lifetime.
func (m *Manager) TTL() time.Duration {
	return m.cfg.AccessTTL
}

// CreateAccess signs an access token for the given session and returns it
// together with its expiry.
func (m *Manager) CreateAccess(userID, email, sessionID string) (string, time.Time, error) {
	if userID == "" || sessionID == "" {
		return "", time.Time{}, ErrMissingSession
	}
	if m.signKey == nil {
		return "", time.Time{}, ErrNoSigningKey
	}

	now := m.cfg.Now()
	claims := SessionClaims{
		Email:     email,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    m.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.cfg.AccessTTL)),
		},
	}
	if m.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{m.cfg.Audience}
	}

	token := jwt.NewWithClaims(m.method, claims)
	if m.cfg.KeyID != "" {
		token.Header["kid"] = m.cfg.KeyID
	}
	signed, err := token.SignedString(m.signKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	// NumericDate drops sub-second precision.
	return signed, claims.ExpiresAt.Time, nil
}

// ParseAccess verifies tokenStr and returns its claims.
func (m *Manager) ParseAccess(tokenStr string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	if _, err := m.parser.ParseWithClaims(tokenStr, claims, m.keyFor); err != nil {
		return nil, err
	}

	if claims.SessionID == "" || claims.Subject == "" {
		return nil, ErrMissingSession
	}
	if claims.IssuedAt != nil && claims.IssuedAt.After(m.cfg.Now().Add(m.cfg.MaxFutureIAT)) {
		return nil, ErrFutureIssuedAt
	}
	return claims, nil
}

// keyFor picks the verification key from the kid header. With a keyring
// every token must name a trusted kid; with a fixed KeyID it must match.
func (m *Manager) keyFor(t *jwt.Token) (any, error) {
	kid, _ := t.Header["kid"].(string)
	switch {
	case m.keyring != nil:
		key, ok := m.keyring[kid]
		if !ok {
			return nil, ErrUnknownKeyID
		}
		return key, nil
	case m.cfg.KeyID != "" && kid != m.cfg.KeyID:
		return nil, ErrUnknownKeyID
	case m.verify == nil:
		return nil, ErrUnknownKeyID
	}
	return m.verify, nil
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid ed25519 private key", ErrInvalidConfig)
	}
	priv, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an ed25519 private key", ErrInvalidConfig)
	}
	return priv, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid ed25519 public key", ErrInvalidConfig)
	}
	pub, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an ed25519 public key", ErrInvalidConfig)
	}
	return pub, nil
}
