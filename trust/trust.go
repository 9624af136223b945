// Package trust gates every TLS handshake made during login. A handshake is
// accepted when the chain verifies against the root pool, or when the leaf
// certificate's SHA-256 fingerprint has been pinned by the user. Each
// handshake is evaluated on its own and its verdict recorded for display.
package trust

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

const maxVerdicts = 64

var (
	// ErrUntrusted aborts a handshake the validator rejected.
	ErrUntrusted = errors.New("untrusted certificate")
	// ErrInvalidFingerprint is returned by Pin for malformed fingerprints.
	ErrInvalidFingerprint = errors.New("invalid certificate fingerprint")
)

// Verdict records the outcome of one handshake.
type Verdict struct {
	Host        string    `json:"host"`
	Fingerprint string    `json:"fingerprint"`
	Accepted    bool      `json:"accepted"`
	Reason      string    `json:"reason"`
	At          time.Time `json:"at"`
}

// Option configures a Validator.
type Option func(*Validator)

// WithRoots verifies chains against pool instead of the system pool.
func WithRoots(pool *x509.CertPool) Option {
	return func(v *Validator) {
		v.roots = pool
	}
}

// WithPins accepts leaves with these SHA-256 fingerprints. Malformed entries
// are skipped; use Pin to see the error.
func WithPins(fingerprints ...string) Option {
	return func(v *Validator) {
		for _, fp := range fingerprints {
			_ = v.Pin(fp)
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(v *Validator) {
		v.logger = logger
	}
}

func withClock(now func() time.Time) Option {
	return func(v *Validator) {
		v.now = now
	}
}

// Validator is safe for concurrent use by many connections.
type Validator struct {
	roots  *x509.CertPool
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	pins     map[string]struct{}
	verdicts []Verdict
	last     map[string]Verdict
}

func New(opts ...Option) *Validator {
	v := &Validator{
		logger: slog.New(slog.DiscardHandler),
		now:    time.Now,
		pins:   make(map[string]struct{}),
		last:   make(map[string]Verdict),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Fingerprint is the lower-case hex SHA-256 of the certificate's DER bytes.
func Fingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	return hex.EncodeToString(sum[:])
}

// Pin accepts a fingerprint in hex, with or without colon separators.
func (v *Validator) Pin(fingerprint string) error {
	fp, err := normalizeFingerprint(fingerprint)
	if err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pins[fp] = struct{}{}
	return nil
}

func normalizeFingerprint(s string) (string, error) {
	fp := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), ":", ""))
	raw, err := hex.DecodeString(fp)
	if err != nil || len(raw) != sha256.Size {
		return "", fmt.Errorf("%w: %q", ErrInvalidFingerprint, s)
	}
	return fp, nil
}

// VerifyConnection evaluates a handshake using the SNI name. It is meant for
// tls.Config.VerifyConnection; prefer ConfigFor when the host is known since
// IP literal hosts send no SNI.
func (v *Validator) VerifyConnection(cs tls.ConnectionState) error {
	return v.VerifyHost(cs.ServerName, cs)
}

// VerifyHost evaluates a handshake with host. A nil return accepts it.
func (v *Validator) VerifyHost(host string, cs tls.ConnectionState) error {
	verdict := Verdict{Host: host, At: v.now().UTC()}
	if len(cs.PeerCertificates) == 0 {
		verdict.Reason = "no peer certificate"
		v.record(verdict)
		return fmt.Errorf("%w: %s: %s", ErrUntrusted, host, verdict.Reason)
	}

	leaf := cs.PeerCertificates[0]
	verdict.Fingerprint = Fingerprint(leaf)

	intermediates := x509.NewCertPool()
	for _, c := range cs.PeerCertificates[1:] {
		intermediates.AddCert(c)
	}
	_, verifyErr := leaf.Verify(x509.VerifyOptions{
		Roots:         v.roots,
		Intermediates: intermediates,
		DNSName:       host,
	})

	switch {
	case verifyErr == nil:
		verdict.Accepted = true
		verdict.Reason = "chain verified"
	case v.pinned(verdict.Fingerprint):
		verdict.Accepted = true
		verdict.Reason = "pinned certificate"
	default:
		verdict.Reason = verifyErr.Error()
	}
	v.record(verdict)

	if !verdict.Accepted {
		return fmt.Errorf("%w: %s: %w", ErrUntrusted, host, verifyErr)
	}
	return nil
}

func (v *Validator) pinned(fp string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.pins[fp]
	return ok
}

func (v *Validator) record(verdict Verdict) {
	v.mu.Lock()
	v.last[verdict.Host] = verdict
	v.verdicts = append(v.verdicts, verdict)
	if len(v.verdicts) > maxVerdicts {
		v.verdicts = v.verdicts[len(v.verdicts)-maxVerdicts:]
	}
	v.mu.Unlock()

	level := slog.LevelDebug
	if !verdict.Accepted {
		level = slog.LevelWarn
	}
	v.logger.Log(context.Background(), level, "tls handshake evaluated",
		slog.String("host", verdict.Host),
		slog.String("fingerprint", verdict.Fingerprint),
		slog.Bool("accepted", verdict.Accepted),
		slog.String("reason", verdict.Reason))
}

// Last returns the most recent verdict for host.
func (v *Validator) Last(host string) (Verdict, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	verdict, ok := v.last[host]
	return verdict, ok
}

// Verdicts returns recent verdicts, oldest first.
func (v *Validator) Verdicts() []Verdict {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]Verdict(nil), v.verdicts...)
}

// ConfigFor returns a client TLS config for host whose only verification is
// this validator. Session resumption is disabled so every connection is
// evaluated afresh.
func (v *Validator) ConfigFor(host string) *tls.Config {
	return &tls.Config{
		ServerName: host,
		MinVersion: tls.VersionTLS12,
		// Verification is done by VerifyConnection below.
		InsecureSkipVerify: true,
		VerifyConnection: func(cs tls.ConnectionState) error {
			return v.VerifyHost(host, cs)
		},
	}
}

// TLSConfig is ConfigFor without a fixed host, verifying against SNI.
func (v *Validator) TLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: true,
		VerifyConnection:   v.VerifyConnection,
	}
}

// Transport returns an HTTP transport that gates every TLS dial through the
// validator.
func (v *Validator) Transport() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.TLSClientConfig = nil
	t.ForceAttemptHTTP2 = false
	dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
	t.DialTLSContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		raw, err := dialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		conn := tls.Client(raw, v.ConfigFor(host))
		if err := conn.HandshakeContext(ctx); err != nil {
			raw.Close()
			return nil, err
		}
		return conn, nil
	}
	return t
}
