// Package provider is the read path used by the credential-provider context:
// no network, no UI, a short time budget. It resolves records from the
// offline vault and reports failures as the codes the OS autofill expects.
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"

	"github.com/jmcleod/ironpass/vault"
	"golang.org/x/net/publicsuffix"
)

// ErrNotFound indicates no record has the requested identity.
var ErrNotFound = errors.New("credential not found")

// Source yields decrypted records. *vault.Opener is the production source.
type Source interface {
	Records(ctx context.Context) ([]vault.PasswordRecord, error)
}

// IdentifierKind says how a ServiceIdentifier's value is written.
type IdentifierKind int

const (
	// KindDomain is a bare host name such as "example.com".
	KindDomain IdentifierKind = iota
	// KindURL is a full URL such as "https://login.example.com/path".
	KindURL
)

// ServiceIdentifier names the service the OS is asking credentials for.
type ServiceIdentifier struct {
	Kind  IdentifierKind
	Value string
}

// Bridge projects the decryptor's output. It never writes and never touches
// the network; decryptor errors are returned unchanged.
type Bridge struct {
	source Source
	logger *slog.Logger
}

func NewBridge(source Source, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Bridge{source: source, logger: logger}
}

// Find returns the record with id.
func (b *Bridge) Find(ctx context.Context, id string) (vault.PasswordRecord, error) {
	records, err := b.source.Records(ctx)
	if err != nil {
		return vault.PasswordRecord{}, err
	}
	for _, r := range records {
		if r.ID == id {
			return r, nil
		}
	}
	return vault.PasswordRecord{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Match returns records whose URL belongs to any of the services. Records on
// the exact host come before records that only share the registrable domain.
func (b *Bridge) Match(ctx context.Context, services []ServiceIdentifier) ([]vault.PasswordRecord, error) {
	records, err := b.source.Records(ctx)
	if err != nil {
		return nil, err
	}

	var hosts []string
	for _, s := range services {
		if h := s.host(); h != "" {
			hosts = append(hosts, h)
		}
	}

	var exact, related []vault.PasswordRecord
	for _, r := range records {
		rh := hostOf(r.URL)
		if rh == "" {
			continue
		}
		switch matchHosts(rh, hosts) {
		case matchExact:
			exact = append(exact, r)
		case matchDomain:
			related = append(related, r)
		}
	}
	out := append(exact, related...)
	b.logger.Debug("credential match",
		slog.Int("services", len(services)),
		slog.Int("records", len(records)),
		slog.Int("matched", len(out)))
	return out, nil
}

func (s ServiceIdentifier) host() string {
	switch s.Kind {
	case KindDomain:
		return normalizeHost(s.Value)
	case KindURL:
		return hostOf(s.Value)
	default:
		return ""
	}
}

// hostOf extracts the host of a URL, accepting the scheme-less addresses
// people store in password managers.
func hostOf(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return normalizeHost(u.Hostname())
}

func normalizeHost(h string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(h)), ".")
}

type matchKind int

const (
	matchNone matchKind = iota
	matchDomain
	matchExact
)

func matchHosts(recordHost string, services []string) matchKind {
	best := matchNone
	for _, h := range services {
		if h == recordHost {
			return matchExact
		}
		if sameSite(h, recordHost) {
			best = matchDomain
		}
	}
	return best
}

// sameSite compares registrable domains. IP addresses only match exactly.
func sameSite(a, b string) bool {
	if net.ParseIP(a) != nil || net.ParseIP(b) != nil {
		return false
	}
	da, err := publicsuffix.EffectiveTLDPlusOne(a)
	if err != nil {
		return false
	}
	db, err := publicsuffix.EffectiveTLDPlusOne(b)
	if err != nil {
		return false
	}
	return da == db
}
