package internal

import (
	"testing"
)

func TestSessionIDParse(t *testing.T) {
	sid, err := NewSessionID()
	if err != nil {
		t.Fatalf("NewSessionID: %v", err)
	}
	parsed, err := ParseSessionID(sid.String())
	if err != nil {
		t.Fatalf("ParseSessionID: %v", err)
	}
	if parsed != sid {
		t.Fatal("parsed id differs")
	}
	if _, err := ParseSessionID("c2hvcnQ"); err == nil {
		t.Fatal("expected short id to be rejected")
	}
}

func TestRefreshTokenSecretHash(t *testing.T) {
	sid, _ := NewSessionID()
	secret, err := NewRefreshSecret()
	if err != nil {
		t.Fatalf("NewRefreshSecret: %v", err)
	}

	gotSID, gotSecret, err := DecodeRefreshToken(EncodeRefreshToken(sid, secret))
	if err != nil {
		t.Fatalf("DecodeRefreshToken: %v", err)
	}
	if gotSID != sid || gotSecret.Hash() != secret.Hash() {
		t.Fatal("decoded token does not match")
	}
}

func TestNewOTP(t *testing.T) {
	if _, err := NewOTP(4); err == nil {
		t.Fatal("expected too few digits to be rejected")
	}

	code, err := NewOTP(6)
	if err != nil {
		t.Fatalf("NewOTP: %v", err)
	}
	if len(code) != 6 {
		t.Fatalf("expected 6 digits, got %q", code)
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			t.Fatalf("non-digit in %q", code)
		}
	}

	digest := HashOTP(code)
	if !OTPMatches(code, digest) {
		t.Fatal("expected code to match its digest")
	}
	if OTPMatches("x"+code[1:], digest) {
		t.Fatal("expected altered code to differ")
	}
}
