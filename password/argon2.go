package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/argon2"
)

const algorithmID = "argon2id"

// DefaultMaxBytes bounds the input handed to Argon2.
const DefaultMaxBytes = 1024

// floor is the weakest cost New accepts and parseHash trusts.
var floor = params{memory: 8 * 1024, time: 1, threads: 1, keyLen: 16}

const minSaltLength = 16

var (
	// ErrTooShort is returned by Hash when the password is below MinLength.
	ErrTooShort = errors.New("password too short")
	// ErrTooLong is returned when the password exceeds MaxBytes.
	ErrTooLong = errors.New("password too long")
	// ErrInvalidConfig wraps New validation failures.
	ErrInvalidConfig = errors.New("invalid password hasher config")
	// ErrMalformedHash is returned for stored hashes that cannot be decoded.
	ErrMalformedHash = errors.New("malformed password hash")
)

// Config holds the Argon2id cost parameters and the length policy.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	// MinLength is the minimum password length in characters.
	MinLength int
	// MaxBytes is the maximum accepted length; zero selects DefaultMaxBytes.
	MaxBytes int
}

// DefaultConfig returns the storefront parameters: 64 MiB, three passes and
// a six character minimum.
func DefaultConfig() Config {
	return Config{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
		MinLength:   6,
		MaxBytes:    DefaultMaxBytes,
	}
}

// params is the cost tuple shared by the config and every encoded hash.
type params struct {
	memory  uint32
	time    uint32
	threads uint8
	keyLen  uint32
}

func (p params) String() string {
	return fmt.Sprintf("m=%d,t=%d,p=%d", p.memory, p.time, p.threads)
}

// weakerThan reports whether any cost of p is below q.
func (p params) weakerThan(q params) bool {
	return p.memory < q.memory || p.time < q.time || p.threads < q.threads || p.keyLen < q.keyLen
}

func (p params) derive(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, p.time, p.memory, p.threads, p.keyLen)
}

// Hasher hashes and verifies passwords in PHC format.
type Hasher struct {
	cost     params
	saltLen  uint32
	minChars int
	maxBytes int
}

// New validates cfg and returns a Hasher.
func New(cfg Config) (*Hasher, error) {
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	cost := params{memory: cfg.Memory, time: cfg.Time, threads: cfg.Parallelism, keyLen: cfg.KeyLength}

	switch {
	case cost.weakerThan(floor):
		return nil, fmt.Errorf("%w: cost %s key %d is below %s key %d", ErrInvalidConfig, cost, cost.keyLen, floor, floor.keyLen)
	case cfg.SaltLength < minSaltLength:
		return nil, fmt.Errorf("%w: SaltLength must be >= %d", ErrInvalidConfig, minSaltLength)
	case cfg.MinLength < 1:
		return nil, fmt.Errorf("%w: MinLength must be >= 1", ErrInvalidConfig)
	case cfg.MaxBytes < cfg.MinLength:
		return nil, fmt.Errorf("%w: MaxBytes must be >= MinLength", ErrInvalidConfig)
	}

	return &Hasher{
		cost:     cost,
		saltLen:  cfg.SaltLength,
		minChars: cfg.MinLength,
		maxBytes: cfg.MaxBytes,
	}, nil
}

// Hash returns the PHC encoding of password under a fresh salt. Bytes are
// hashed as given, without Unicode normalization.
func (h *Hasher) Hash(password string) (string, error) {
	if utf8.RuneCountInString(password) < h.minChars {
		return "", fmt.Errorf("%w: at least %d characters required", ErrTooShort, h.minChars)
	}
	if len(password) > h.maxBytes {
		return "", ErrTooLong
	}

	salt := make([]byte, h.saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("read salt: %w", err)
	}

	enc := base64.StdEncoding
	return "$" + strings.Join([]string{
		algorithmID,
		fmt.Sprintf("v=%d", argon2.Version),
		h.cost.String(),
		enc.EncodeToString(salt),
		enc.EncodeToString(h.cost.derive(password, salt)),
	}, "$"), nil
}

// Verify reports whether password matches encoded. The cost is read from the
// hash, so hashes from older configurations keep verifying.
func (h *Hasher) Verify(password, encoded string) (bool, error) {
	if len(password) > h.maxBytes {
		return false, ErrTooLong
	}
	stored, err := parseHash(encoded)
	if err != nil {
		return false, err
	}
	got := stored.cost.derive(password, stored.salt)
	return subtle.ConstantTimeCompare(got, stored.key) == 1, nil
}

// NeedsUpgrade reports whether encoded was produced with weaker parameters
// than the current configuration.
func (h *Hasher) NeedsUpgrade(encoded string) (bool, error) {
	stored, err := parseHash(encoded)
	if err != nil {
		return false, err
	}
	return stored.cost.weakerThan(h.cost) || stored.cost.keyLen != h.cost.keyLen, nil
}

type storedHash struct {
	cost params
	salt []byte
	key  []byte
}

// parseHash decodes $argon2id$v=19$m=..,t=..,p=..$salt$key.
func parseHash(encoded string) (storedHash, error) {
	fields := strings.Split(encoded, "$")
	if len(fields) != 6 || fields[0] != "" || fields[1] != algorithmID {
		return storedHash{}, fmt.Errorf("%w: not an %s PHC string", ErrMalformedHash, algorithmID)
	}
	if fields[2] != fmt.Sprintf("v=%d", argon2.Version) {
		return storedHash{}, fmt.Errorf("%w: unsupported version %q", ErrMalformedHash, fields[2])
	}

	var cost params
	if _, err := fmt.Sscanf(fields[3], "m=%d,t=%d,p=%d", &cost.memory, &cost.time, &cost.threads); err != nil || cost.String() != fields[3] {
		return storedHash{}, fmt.Errorf("%w: bad parameters %q", ErrMalformedHash, fields[3])
	}

	salt, err := base64.StdEncoding.DecodeString(fields[4])
	if err != nil || len(salt) < minSaltLength {
		return storedHash{}, fmt.Errorf("%w: bad salt", ErrMalformedHash)
	}
	key, err := base64.StdEncoding.DecodeString(fields[5])
	if err != nil || len(key) == 0 {
		return storedHash{}, fmt.Errorf("%w: bad key", ErrMalformedHash)
	}
	cost.keyLen = uint32(len(key))

	if cost.weakerThan(floor) {
		return storedHash{}, fmt.Errorf("%w: cost below minimum", ErrMalformedHash)
	}
	return storedHash{cost: cost, salt: salt, key: key}, nil
}
