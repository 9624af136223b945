package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jmcleod/ironpass/nextcloud"
	"github.com/jmcleod/ironpass/secretstore"
	"github.com/jmcleod/ironpass/state"
)

// Checker revalidates stored credentials against their server.
type Checker interface {
	Ping(ctx context.Context, creds nextcloud.Credentials) error
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

func WithControllerLogger(logger *slog.Logger) ControllerOption {
	return func(c *Controller) {
		c.logger = logger
	}
}

// Controller owns the current session. It persists credentials, restores
// them at startup, tears sessions down on invalidation, and holds work
// submitted while no usable session exists until the next one is established.
type Controller struct {
	secrets secretstore.Store
	checker Checker
	logger  *slog.Logger
	current *state.Cell[*Session]

	mu         sync.Mutex
	live       *Session
	ended      *InvalidatedError
	waiting    []*Pending
	generation uint64
	cancelFlow context.CancelFunc

	// Guarded by mu; used by publish.
	publishing bool
	republish  bool
	shownLive  *Session
	shownEnded *InvalidatedError
}

func NewController(secrets secretstore.Store, checker Checker, opts ...ControllerOption) *Controller {
	c := &Controller{
		secrets: secrets,
		checker: checker,
		logger:  slog.New(slog.DiscardHandler),
		current: state.NewCell[*Session](),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Current is unset before any session exists, holds the live session, or
// holds an *InvalidatedError after the last session ended.
func (c *Controller) Current() *state.Cell[*Session] {
	return c.current
}

// Session returns the live session, or nil.
func (c *Controller) Session() *Session {
	c.mu.Lock()
	s := c.live
	c.mu.Unlock()
	if s == nil || !s.IsValid() {
		return nil
	}
	return s
}

// publish copies the controller state into the Current cell. It runs with
// c.mu released so observers may call back into the controller; a call made
// while another publish is running is folded into that one.
func (c *Controller) publish() {
	c.mu.Lock()
	if c.publishing {
		c.republish = true
		c.mu.Unlock()
		return
	}
	c.publishing = true
	for {
		c.republish = false
		live, ended := c.live, c.ended
		changed := live != c.shownLive || ended != c.shownEnded
		c.shownLive, c.shownEnded = live, ended
		c.mu.Unlock()

		if changed {
			switch {
			case live != nil:
				c.current.Set(live)
			case ended != nil:
				c.current.Fail(ended)
			default:
				c.current.Reset()
			}
		}

		c.mu.Lock()
		if !c.republish {
			break
		}
	}
	c.publishing = false
	c.mu.Unlock()
}

// Restore loads persisted credentials and revalidates them. Work already
// waiting is moved onto the restored session before revalidation, so it is
// replayed or failed with the outcome.
func (c *Controller) Restore(ctx context.Context) (*Session, error) {
	creds, err := c.load()
	if err != nil {
		return nil, err
	}
	s := New(creds, WithLogger(c.logger))
	prev := c.install(s)
	c.publish()
	if prev != nil {
		prev.Invalidate(LoggedOut)
	}

	if err := c.checker.Ping(ctx, creds); err != nil {
		reason, ok := ReasonFor(err)
		if !ok {
			reason = NoConnection
		}
		c.invalidate(s, reason)
		return s, fmt.Errorf("revalidating session: %w", err)
	}
	s.MarkValid()
	c.logger.Info("session restored", slog.String("server", creds.Server))
	return s, nil
}

func (c *Controller) load() (nextcloud.Credentials, error) {
	var creds nextcloud.Credentials
	for key, dst := range map[string]*string{
		secretstore.KeyServer: &creds.Server,
		secretstore.KeyUser:   &creds.LoginName,
		secretstore.KeySecret: &creds.AppPassword,
	} {
		v, err := secretstore.LoadString(c.secrets, key)
		if errors.Is(err, secretstore.ErrNotAvailable) {
			return creds, fmt.Errorf("%w: %w", ErrNoSession, err)
		}
		if err != nil {
			return creds, err
		}
		*dst = v
	}
	return creds, nil
}

// Establish persists fresh credentials and installs a confirmed session.
func (c *Controller) Establish(ctx context.Context, creds nextcloud.Credentials, opts ...Option) (*Session, error) {
	c.mu.Lock()
	s, prev, err := c.establishLocked(ctx, creds, opts...)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	c.publish()
	c.activate(s, prev)
	return s, nil
}

func (c *Controller) establishLocked(ctx context.Context, creds nextcloud.Credentials, opts ...Option) (s, prev *Session, err error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if creds.Server == "" || creds.LoginName == "" || creds.AppPassword == "" {
		return nil, nil, fmt.Errorf("establishing session: incomplete credentials")
	}
	err = secretstore.StoreAll(c.secrets, map[string][]byte{
		secretstore.KeyServer: []byte(creds.Server),
		secretstore.KeyUser:   []byte(creds.LoginName),
		secretstore.KeySecret: []byte(creds.AppPassword),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("persisting session: %w", err)
	}
	s = New(creds, append([]Option{WithLogger(c.logger)}, opts...)...)
	return s, c.installLocked(s), nil
}

// activate runs outside c.mu because both calls run continuations. The new
// session is already published.
func (c *Controller) activate(s, prev *Session) {
	if prev != nil {
		prev.Invalidate(LoggedOut)
	}
	s.MarkValid()
	c.logger.Info("session established",
		slog.String("server", s.Server()),
		slog.String("user", s.User()))
}

func (c *Controller) install(s *Session) *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.installLocked(s)
}

// installLocked swaps in s, moving held work onto it, and returns the session
// it replaced. The caller ends a replaced live session as logged out; its
// secrets were just overwritten so nothing is removed.
func (c *Controller) installLocked(s *Session) *Session {
	prev := c.live
	waiting := c.waiting
	c.waiting = nil
	c.live, c.ended = s, nil
	for _, p := range waiting {
		s.add(p)
	}
	if prev == s {
		return nil
	}
	return prev
}

// Require runs onReady once a valid session is available. While none exists
// the work is held and moved to the next established session.
func (c *Controller) Require(onReady func(*Session), onFailed func(error)) *Pending {
	p := newPending(onReady, onFailed)
	c.mu.Lock()
	s := c.live
	if s == nil || !s.IsValid() {
		c.waiting = append(c.waiting, p)
		c.mu.Unlock()
		return p
	}
	c.mu.Unlock()
	s.add(p)
	return p
}

// Report feeds an error from an authenticated call on s back to the
// controller. It returns true when the error ended the session.
func (c *Controller) Report(s *Session, err error) bool {
	reason, ok := ReasonFor(err)
	if !ok || s == nil {
		return false
	}
	c.mu.Lock()
	live := c.live == s
	c.mu.Unlock()
	if !live {
		return false
	}
	c.invalidate(s, reason)
	return true
}

// Logout ends the current session and removes every persisted secret,
// including the offline vault keys. Work held for a future session fails
// as logged out.
func (c *Controller) Logout() error {
	c.mu.Lock()
	if c.cancelFlow != nil {
		c.cancelFlow()
		c.cancelFlow = nil
	}
	c.generation++
	s := c.live
	waiting := c.waiting
	c.waiting = nil
	c.mu.Unlock()

	if s != nil {
		c.invalidate(s, LoggedOut)
	} else {
		c.mu.Lock()
		if c.ended != nil {
			c.ended = &InvalidatedError{Reason: LoggedOut}
		}
		c.mu.Unlock()
		c.publish()
	}
	for _, p := range waiting {
		p.resolve(nil, LoggedOut)
	}
	if err := c.secrets.Clear(); err != nil {
		return fmt.Errorf("clearing secrets: %w", err)
	}
	return nil
}

// invalidate ends s. Deauthorization removes the stored credentials so they
// are not restored again; a connection problem keeps them for a later retry.
func (c *Controller) invalidate(s *Session, reason Reason) {
	s.Invalidate(reason)

	if reason == LoggedOut || reason == Deauthorized {
		for _, key := range []string{secretstore.KeyServer, secretstore.KeyUser, secretstore.KeySecret} {
			if err := c.secrets.Remove(key); err != nil {
				c.logger.Warn("removing stored credential", slog.String("key", key), slog.String("error", err.Error()))
			}
		}
	}

	c.mu.Lock()
	if c.live == s {
		r, _ := s.Reason()
		c.live, c.ended = nil, &InvalidatedError{Reason: r}
	}
	c.mu.Unlock()
	c.publish()
}

// Flow is one login attempt's claim on the controller. Cancelling it, or
// starting another flow, makes Establish fail with ErrStaleFlow.
type Flow struct {
	c          *Controller
	generation uint64
	ctx        context.Context
	cancel     context.CancelFunc
}

// BeginFlow cancels any running flow and starts a new one derived from ctx.
func (c *Controller) BeginFlow(ctx context.Context) *Flow {
	fctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelFlow != nil {
		c.cancelFlow()
	}
	c.generation++
	c.cancelFlow = cancel
	return &Flow{c: c, generation: c.generation, ctx: fctx, cancel: cancel}
}

// Context is cancelled when the flow is cancelled or superseded.
func (f *Flow) Context() context.Context {
	return f.ctx
}

// Cancel aborts the flow.
func (f *Flow) Cancel() {
	f.cancel()
}

// Establish installs the session if this flow is still current.
func (f *Flow) Establish(ctx context.Context, creds nextcloud.Credentials, sessionID string) error {
	c := f.c
	c.mu.Lock()
	if f.generation != c.generation || f.ctx.Err() != nil {
		c.mu.Unlock()
		return ErrStaleFlow
	}
	s, prev, err := c.establishLocked(ctx, creds, WithSessionID(sessionID))
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.cancelFlow = nil
	c.mu.Unlock()

	c.publish()
	c.activate(s, prev)
	// The flow is done; release its context.
	f.cancel()
	return nil
}
