package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// SessionID is the random identifier of a provider session.
type SessionID [16]byte

const (
	refreshTokenRawSize = 48
	refreshSecretSize   = 32
)

// RefreshSecret is the secret half of a refresh token.
type RefreshSecret [refreshSecretSize]byte

func NewSessionID() (SessionID, error) {
	var sid SessionID
	_, err := rand.Read(sid[:])
	return sid, err
}

func (s SessionID) String() string {
	// base64url, no padding
	return base64.RawURLEncoding.EncodeToString(s[:])
}

func ParseSessionID(sessionID string) (SessionID, error) {
	var sid SessionID

	raw, err := base64.RawURLEncoding.DecodeString(sessionID)
	if err != nil {
		return sid, err
	}
	if len(raw) != len(sid) {
		return sid, errors.New("invalid session id size")
	}

	copy(sid[:], raw)
	return sid, nil
}

func NewRefreshSecret() (RefreshSecret, error) {
	var secret RefreshSecret
	_, err := rand.Read(secret[:])
	return secret, err
}

// Hash returns the digest stored in place of the secret.
func (s RefreshSecret) Hash() [32]byte {
	return sha256.Sum256(s[:])
}

// EncodeRefreshToken packs a session id and secret into an opaque token.
func EncodeRefreshToken(sid SessionID, secret RefreshSecret) string {
	var raw [refreshTokenRawSize]byte
	copy(raw[:len(sid)], sid[:])
	copy(raw[len(sid):], secret[:])
	return base64.RawURLEncoding.EncodeToString(raw[:])
}

func DecodeRefreshToken(token string) (SessionID, RefreshSecret, error) {
	var (
		sid    SessionID
		secret RefreshSecret
	)

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return sid, secret, err
	}
	if len(raw) != refreshTokenRawSize {
		return sid, secret, errors.New("invalid refresh token size")
	}

	copy(sid[:], raw[:len(sid)])
	copy(secret[:], raw[len(sid):])
	return sid, secret, nil
}

// NewOTP returns a numeric one-time code of the given length.
func NewOTP(digits int) (string, error) {
	if digits < 6 || digits > 10 {
		return "", errors.New("invalid otp digits")
	}

	var b strings.Builder
	b.Grow(digits)

	max := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	otp := b.String()
	if len(otp) != digits {
		return "", fmt.Errorf("invalid otp generation length")
	}
	return otp, nil
}

// HashOTP returns the digest stored for an issued code.
func HashOTP(code string) [32]byte {
	return sha256.Sum256([]byte(code))
}

// OTPMatches compares code against a stored digest in constant time.
func OTPMatches(code string, digest [32]byte) bool {
	h := HashOTP(code)
	return subtle.ConstantTimeCompare(h[:], digest[:]) == 1
}
