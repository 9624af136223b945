// Package otp computes one-time passwords for the OTP descriptors stored
// alongside password records (RFC 4226 HOTP, RFC 6238 TOTP).
package otp

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Type is the OTP variant.
type Type string

const (
	TypeTOTP Type = "totp"
	TypeHOTP Type = "hotp"
)

// Algorithm is the HMAC hash.
type Algorithm string

const (
	SHA1   Algorithm = "SHA1"
	SHA256 Algorithm = "SHA256"
	SHA512 Algorithm = "SHA512"
)

const (
	defaultDigits = 6
	defaultPeriod = 30
)

var (
	ErrInvalidSecret     = errors.New("invalid OTP secret")
	ErrUnsupportedType   = errors.New("unsupported OTP type")
	ErrUnsupportedDigits = errors.New("unsupported OTP digit count")
)

// Descriptor describes how to generate codes for one account.
type Descriptor struct {
	Type      Type      `json:"type"`
	Secret    string    `json:"secret"`
	Algorithm Algorithm `json:"algorithm,omitempty"`
	Digits    int       `json:"digits,omitempty"`
	Period    int       `json:"period,omitempty"`
	Counter   uint64    `json:"counter,omitempty"`
	Issuer    string    `json:"issuer,omitempty"`
	Label     string    `json:"label,omitempty"`
}

func (d Descriptor) digits() int {
	if d.Digits == 0 {
		return defaultDigits
	}
	return d.Digits
}

func (d Descriptor) period() int {
	if d.Period <= 0 {
		return defaultPeriod
	}
	return d.Period
}

func (d Descriptor) hash() (func() hash.Hash, error) {
	switch strings.ToUpper(string(d.Algorithm)) {
	case "", string(SHA1):
		return sha1.New, nil
	case string(SHA256):
		return sha256.New, nil
	case string(SHA512):
		return sha512.New, nil
	default:
		return nil, fmt.Errorf("unsupported OTP algorithm %q", d.Algorithm)
	}
}

func decodeSecret(secret string) ([]byte, error) {
	s := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(secret), " ", ""))
	s = strings.TrimRight(s, "=")
	if s == "" {
		return nil, ErrInvalidSecret
	}
	raw, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}
	return raw, nil
}

// Code returns the code valid at the given instant. For HOTP the stored
// counter is used and at is ignored.
func (d Descriptor) Code(at time.Time) (string, error) {
	var counter uint64
	switch d.Type {
	case TypeTOTP, "":
		counter = uint64(at.Unix() / int64(d.period()))
	case TypeHOTP:
		counter = d.Counter
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, d.Type)
	}
	return d.codeAt(counter)
}

// Remaining reports how long the current TOTP code stays valid.
func (d Descriptor) Remaining(at time.Time) time.Duration {
	if d.Type == TypeHOTP {
		return 0
	}
	p := int64(d.period())
	return time.Duration(p-at.Unix()%p) * time.Second
}

func (d Descriptor) codeAt(counter uint64) (string, error) {
	digits := d.digits()
	if digits < 6 || digits > 10 {
		return "", fmt.Errorf("%w: %d", ErrUnsupportedDigits, digits)
	}
	h, err := d.hash()
	if err != nil {
		return "", err
	}
	key, err := decodeSecret(d.Secret)
	if err != nil {
		return "", err
	}

	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)
	mac := hmac.New(h, key)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	binCode := uint64(binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff)

	mod := uint64(1)
	for range digits {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", digits, binCode%mod), nil
}

// ParseURI parses an otpauth:// URI.
func ParseURI(raw string) (Descriptor, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Descriptor{}, fmt.Errorf("parsing otpauth URI: %w", err)
	}
	if u.Scheme != "otpauth" {
		return Descriptor{}, fmt.Errorf("not an otpauth URI: scheme %q", u.Scheme)
	}

	d := Descriptor{Type: Type(strings.ToLower(u.Host))}
	if d.Type != TypeTOTP && d.Type != TypeHOTP {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrUnsupportedType, u.Host)
	}

	q := u.Query()
	d.Secret = q.Get("secret")
	if _, err := decodeSecret(d.Secret); err != nil {
		return Descriptor{}, err
	}
	d.Issuer = q.Get("issuer")
	d.Label = strings.TrimPrefix(u.Path, "/")
	if alg := q.Get("algorithm"); alg != "" {
		d.Algorithm = Algorithm(strings.ToUpper(alg))
	}
	if v := q.Get("digits"); v != "" {
		if d.Digits, err = strconv.Atoi(v); err != nil {
			return Descriptor{}, fmt.Errorf("parsing digits: %w", err)
		}
	}
	if v := q.Get("period"); v != "" {
		if d.Period, err = strconv.Atoi(v); err != nil {
			return Descriptor{}, fmt.Errorf("parsing period: %w", err)
		}
	}
	if v := q.Get("counter"); v != "" {
		if d.Counter, err = strconv.ParseUint(v, 10, 64); err != nil {
			return Descriptor{}, fmt.Errorf("parsing counter: %w", err)
		}
	}
	return d, nil
}
