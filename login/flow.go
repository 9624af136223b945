package login

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jmcleod/ironpass/nextcloud"
	"github.com/jmcleod/ironpass/session"
	"github.com/jmcleod/ironpass/state"
	"github.com/jmcleod/ironpass/surface"
)

// Client is the network side of the flow.
type Client interface {
	RequestChallenge(ctx context.Context, loginURL *url.URL) (nextcloud.Challenge, error)
	Poll(ctx context.Context, req nextcloud.PollRequest) (nextcloud.Credentials, error)
}

// Establisher receives the credentials of a successful flow.
type Establisher interface {
	Establish(ctx context.Context, creds nextcloud.Credentials, sessionID string) error
}

// Policy bounds the poll loop. The loop stops after MaxAttempts polls or
// once Deadline has passed since polling began, whichever comes first.
type Policy struct {
	Interval    time.Duration
	MaxInterval time.Duration
	MaxAttempts int
	Deadline    time.Duration
}

// DefaultPolicy polls for up to ten minutes, starting every two seconds
// and backing off to every ten.
func DefaultPolicy() Policy {
	return Policy{
		Interval:    2 * time.Second,
		MaxInterval: 10 * time.Second,
		MaxAttempts: 300,
		Deadline:    10 * time.Minute,
	}
}

// Option configures a Flow.
type Option func(*Flow)

func WithPolicy(p Policy) Option {
	return func(f *Flow) {
		f.policy = p
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(f *Flow) {
		f.logger = logger
	}
}

// Flow drives one login attempt at a time.
type Flow struct {
	client  Client
	surface surface.Surface
	policy  Policy
	logger  *slog.Logger
	state   *state.Cell[State]
}

func NewFlow(client Client, surf surface.Surface, opts ...Option) *Flow {
	f := &Flow{
		client:  client,
		surface: surf,
		policy:  DefaultPolicy(),
		logger:  slog.New(slog.DiscardHandler),
		state:   state.NewCellWith(Idle),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// State publishes every transition.
func (f *Flow) State() *state.Cell[State] {
	return f.state
}

func (f *Flow) enter(s State) {
	f.logger.Debug("login flow state", slog.String("state", s.String()))
	f.state.Set(s)
}

// fail moves to the terminal state matching kind and returns the error.
func (f *Flow) fail(kind error, at State, err error) error {
	terminal := Failed
	switch {
	case errors.Is(kind, ErrTimedOut):
		terminal = TimedOut
	case errors.Is(kind, ErrCancelled):
		terminal = Cancelled
	}
	f.logger.Info("login flow ended",
		slog.String("state", terminal.String()),
		slog.String("at", at.String()),
		slog.Any("error", err))
	f.state.Set(terminal)
	return &Error{Kind: kind, State: at, Err: err}
}

// Run logs in to server. Cancelling ctx cancels the flow at any step; a
// cancelled flow never reaches est. A ctx deadline ends it as timed out.
// est may be nil.
func (f *Flow) Run(ctx context.Context, server string, est Establisher) (nextcloud.Credentials, error) {
	f.enter(Idle)
	loginURL, err := LoginURL(server)
	if err != nil {
		return nextcloud.Credentials{}, f.fail(ErrInvalidURL, Idle, err)
	}

	f.enter(ChallengeRequested)
	ch, err := f.client.RequestChallenge(ctx, loginURL)
	if err != nil {
		return nextcloud.Credentials{}, f.fail(f.kindOf(ctx, err), ChallengeRequested, err)
	}

	f.enter(Presenting)
	sessionID, err := f.present(ctx, ch)
	if err != nil {
		return nextcloud.Credentials{}, err
	}

	f.enter(Polling)
	creds, err := f.poll(ctx, nextcloud.PollRequest{Token: ch.Token, Endpoint: ch.Endpoint, SessionID: sessionID})
	if err != nil {
		return nextcloud.Credentials{}, f.fail(f.kindOf(ctx, err), Polling, err)
	}

	if err := ctx.Err(); err != nil {
		return nextcloud.Credentials{}, f.fail(ctxKind(ctx), Polling, err)
	}
	if est != nil {
		if err := est.Establish(ctx, creds, sessionID); err != nil {
			kind := ErrEstablish
			switch {
			case ctx.Err() != nil:
				kind = ctxKind(ctx)
			case errors.Is(err, session.ErrStaleFlow):
				kind = ErrCancelled
			}
			return nextcloud.Credentials{}, f.fail(kind, Polling, err)
		}
	}
	f.enter(Succeeded)
	f.logger.Info("login flow succeeded", slog.String("server", creds.Server), slog.String("user", creds.LoginName))
	return creds, nil
}

// present shows the login page until a grant with a session cookie is
// observed. Pages that cannot be observed skip straight to polling.
func (f *Flow) present(ctx context.Context, ch nextcloud.Challenge) (string, error) {
	page, err := f.surface.Open(ctx, ch.Login)
	if err != nil {
		if ctx.Err() != nil {
			return "", f.fail(ctxKind(ctx), Presenting, err)
		}
		return "", f.fail(ErrNetwork, Presenting, err)
	}
	defer page.Close()

	navs := page.Navigations()
	if navs == nil {
		return "", nil
	}
	for {
		select {
		case <-ctx.Done():
			return "", f.fail(ctxKind(ctx), Presenting, ctx.Err())
		case u, ok := <-navs:
			if !ok {
				if err := page.Err(); err != nil {
					return "", f.fail(ErrNetwork, Presenting, err)
				}
				return "", f.fail(ErrCancelled, Presenting, fmt.Errorf("login page closed before access was granted"))
			}
			var observed State
			switch Classify(u) {
			case KindGrant:
				observed = GrantObserved
			case KindTokenIssuance:
				observed = TokenObserved
			default:
				continue
			}
			f.enter(observed)
			if id := sessionCookie(page, u); id != "" {
				f.enter(SessionIDCaptured)
				return id, nil
			}
			// A grant page without a session is an intermediate redirect.
			f.enter(Presenting)
		}
	}
}

func sessionCookie(page surface.Page, u *url.URL) string {
	for _, c := range page.Cookies(u) {
		if c.Name == nextcloud.SessionCookie && c.Value != "" {
			return c.Value
		}
	}
	return ""
}

// poll retries only while the server says the grant is pending. The
// cumulative deadline is also a context deadline so a slow call cannot
// outlive it.
func (f *Flow) poll(ctx context.Context, req nextcloud.PollRequest) (nextcloud.Credentials, error) {
	p := f.policy
	pollCtx, cancel := context.WithTimeout(ctx, p.Deadline)
	defer cancel()

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.Interval
	exp.MaxInterval = p.MaxInterval

	attempt := 0
	op := func() (nextcloud.Credentials, error) {
		attempt++
		creds, err := f.client.Poll(pollCtx, req)
		switch {
		case err == nil:
			return creds, nil
		case errors.Is(err, nextcloud.ErrPending):
			f.logger.Debug("login grant pending", slog.Int("attempt", attempt))
			return creds, err
		default:
			return creds, backoff.Permanent(err)
		}
	}
	creds, err := backoff.Retry(pollCtx, op,
		backoff.WithBackOff(exp),
		backoff.WithMaxTries(uint(max(p.MaxAttempts, 1))),
		backoff.WithMaxElapsedTime(p.Deadline),
	)
	if err != nil && ctx.Err() == nil && pollCtx.Err() != nil {
		return creds, fmt.Errorf("%w: no grant after %s", ErrTimedOut, p.Deadline)
	}
	if errors.Is(err, nextcloud.ErrPending) {
		return creds, fmt.Errorf("%w: no grant after %d attempts", ErrTimedOut, attempt)
	}
	return creds, err
}

// kindOf maps a network layer error onto the flow's failure kinds.
func (f *Flow) kindOf(ctx context.Context, err error) error {
	switch {
	case ctx.Err() != nil:
		return ctxKind(ctx)
	case errors.Is(err, context.Canceled):
		return ErrCancelled
	case errors.Is(err, ErrTimedOut),
		errors.Is(err, nextcloud.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return ErrTimedOut
	case errors.Is(err, nextcloud.ErrDenied), errors.Is(err, nextcloud.ErrUnauthorized):
		return ErrDenied
	default:
		return ErrNetwork
	}
}

// ctxKind tells a caller deadline apart from a caller cancel.
func ctxKind(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimedOut
	}
	return ErrCancelled
}
