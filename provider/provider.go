package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmcleod/ironpass/otp"
	"github.com/jmcleod/ironpass/vault"
)

// Code is a credential-provider failure as reported to the OS.
type Code int

const (
	// Failed is a generic failure.
	Failed Code = iota
	// UserInteractionRequired means the vault is locked and the main app
	// must be opened.
	UserInteractionRequired
	// CredentialIdentityNotFound means the requested record does not exist.
	CredentialIdentityNotFound
	// UserCanceled means the request was abandoned.
	UserCanceled
)

func (c Code) String() string {
	switch c {
	case UserInteractionRequired:
		return "user-interaction-required"
	case CredentialIdentityNotFound:
		return "credential-identity-not-found"
	case UserCanceled:
		return "user-canceled"
	default:
		return "failed"
	}
}

// Error carries a Code and the error it was derived from.
type Error struct {
	Code Code
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf returns the provider code for err.
func CodeOf(err error) Code {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Code
	}
	return codeFor(err)
}

// codeFor maps the vault and lookup taxonomy. A decrypt failure is reported
// as needing the main app so the OS sends the user there.
func codeFor(err error) Code {
	switch {
	case errors.Is(err, vault.ErrAuthRequired), errors.Is(err, vault.ErrDecryptFailed):
		return UserInteractionRequired
	case errors.Is(err, ErrNotFound):
		return CredentialIdentityNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return UserCanceled
	default:
		return Failed
	}
}

// Request is the closed set of things the OS can ask for. Only the types in
// this package implement it.
type Request interface {
	isRequest()
}

// PasswordRequest asks for the username and password of one record.
type PasswordRequest struct {
	RecordID string
}

// OneTimeCodeRequest asks for the current one-time code of one record.
type OneTimeCodeRequest struct {
	RecordID string
}

// UnsupportedRequest is any credential kind this provider does not serve.
type UnsupportedRequest struct {
	Kind string
}

func (PasswordRequest) isRequest()    {}
func (OneTimeCodeRequest) isRequest() {}
func (UnsupportedRequest) isRequest() {}

// Credential is the closed set of successful answers.
type Credential interface {
	isCredential()
}

type PasswordCredential struct {
	Username string
	Password string
}

type OneTimeCodeCredential struct {
	Code string
	// Remaining is how long Code stays valid; zero for counter codes.
	Remaining time.Duration
}

func (PasswordCredential) isCredential()    {}
func (OneTimeCodeCredential) isCredential() {}

// Identity is what the OS indexes to offer a record before it is requested.
type Identity struct {
	RecordID string
	Service  string
	User     string
	HasOTP   bool
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

func WithClock(now func() time.Time) ProviderOption {
	return func(p *Provider) {
		p.now = now
	}
}

func WithLogger(logger *slog.Logger) ProviderOption {
	return func(p *Provider) {
		p.logger = logger
	}
}

// Provider answers credential requests from the offline vault.
type Provider struct {
	bridge *Bridge
	now    func() time.Time
	logger *slog.Logger
}

func New(bridge *Bridge, opts ...ProviderOption) *Provider {
	p := &Provider{bridge: bridge, now: time.Now, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Provide answers req. Every error is an *Error.
func (p *Provider) Provide(ctx context.Context, req Request) (Credential, error) {
	switch r := deref(req).(type) {
	case PasswordRequest:
		rec, err := p.bridge.Find(ctx, r.RecordID)
		if err != nil {
			return nil, p.failure(err)
		}
		return PasswordCredential{Username: rec.Username, Password: rec.Password}, nil

	case OneTimeCodeRequest:
		rec, err := p.bridge.Find(ctx, r.RecordID)
		if err != nil {
			return nil, p.failure(err)
		}
		if rec.OTP == nil {
			return nil, p.failure(fmt.Errorf("%w: %s has no one-time code", ErrNotFound, r.RecordID))
		}
		now := p.now()
		code, err := rec.OTP.Code(now)
		if err != nil {
			return nil, p.failure(fmt.Errorf("generating one-time code: %w", err))
		}
		var remaining time.Duration
		if rec.OTP.Type != otp.TypeHOTP {
			remaining = rec.OTP.Remaining(now)
		}
		return OneTimeCodeCredential{Code: code, Remaining: remaining}, nil

	case UnsupportedRequest:
		return nil, p.failure(fmt.Errorf("unsupported credential kind %q", r.Kind))

	case nil:
		return nil, p.failure(errors.New("empty request"))
	}
	return nil, p.failure(fmt.Errorf("unsupported request %T", req))
}

// deref accepts pointers to the request types, which satisfy Request through
// their value methods. A nil pointer becomes a nil Request.
func deref(req Request) Request {
	switch r := req.(type) {
	case *PasswordRequest:
		if r != nil {
			return *r
		}
	case *OneTimeCodeRequest:
		if r != nil {
			return *r
		}
	case *UnsupportedRequest:
		if r != nil {
			return *r
		}
	default:
		return req
	}
	return nil
}

// Identities lists every record as something the OS can offer.
func (p *Provider) Identities(ctx context.Context) ([]Identity, error) {
	records, err := p.bridge.source.Records(ctx)
	if err != nil {
		return nil, p.failure(err)
	}
	out := make([]Identity, 0, len(records))
	for _, r := range records {
		out = append(out, Identity{
			RecordID: r.ID,
			Service:  hostOf(r.URL),
			User:     r.Username,
			HasOTP:   r.OTP != nil,
		})
	}
	return out, nil
}

func (p *Provider) failure(err error) error {
	code := codeFor(err)
	p.logger.Info("credential request failed",
		slog.String("code", code.String()),
		slog.String("error", err.Error()))
	return &Error{Code: code, Err: err}
}
