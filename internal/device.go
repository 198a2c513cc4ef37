package internal

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/mileusna/useragent"
)

// Device is the coarse description of a client derived from its User-Agent.
type Device struct {
	Browser  string
	OS       string
	Class    string
	Language string
}

// ParseDevice extracts browser family, OS, device class and primary language.
// Versions are ignored so routine browser updates keep the same device.
func ParseDevice(userAgent, acceptLanguage string) Device {
	d := Device{Language: primaryLanguage(acceptLanguage)}
	if strings.TrimSpace(userAgent) == "" {
		d.Class = "unknown"
		return d
	}

	ua := useragent.Parse(userAgent)
	d.Browser = ua.Name
	d.OS = ua.OS
	switch {
	case ua.Bot:
		d.Class = "bot"
	case ua.Tablet:
		d.Class = "tablet"
	case ua.Mobile:
		d.Class = "mobile"
	case ua.Desktop:
		d.Class = "desktop"
	default:
		d.Class = "unknown"
	}
	return d
}

// Label renders a short human-readable device description.
func (d Device) Label() string {
	var parts []string
	if d.Browser != "" {
		parts = append(parts, d.Browser)
	}
	if d.OS != "" {
		parts = append(parts, d.OS)
	}
	if d.Class != "" && d.Class != "unknown" {
		parts = append(parts, d.Class)
	}
	if len(parts) == 0 {
		return "Unknown device"
	}
	return strings.Join(parts, " · ")
}

// Fingerprint is the hex sha256 of the normalized device descriptor.
func (d Device) Fingerprint() string {
	descriptor := strings.ToLower(strings.Join([]string{d.Browser, d.OS, d.Class, d.Language}, "|"))
	sum := HashBindingValue(descriptor)
	return hex.EncodeToString(sum[:])
}

// HashBindingValue returns the sha256 digest of v.
func HashBindingValue(v string) [32]byte {
	return sha256.Sum256([]byte(v))
}

func primaryLanguage(acceptLanguage string) string {
	first, _, _ := strings.Cut(acceptLanguage, ",")
	first, _, _ = strings.Cut(first, ";")
	return strings.ToLower(strings.TrimSpace(first))
}
