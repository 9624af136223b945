// Package session holds the authenticated connection to one server and
// serializes work that needs it. Work enqueued before the session is confirmed
// waits in FIFO order and is replayed, or failed, exactly once.
package session

import (
	"log/slog"
	"sync"

	"github.com/jmcleod/ironpass/keychain"
	"github.com/jmcleod/ironpass/nextcloud"
	"github.com/jmcleod/ironpass/state"
)

// Option configures a Session.
type Option func(*Session)

// WithSessionID records the transient id that correlated the grant.
func WithSessionID(id string) Option {
	return func(s *Session) {
		s.sessionID = id
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// Session is one authenticated connection to one server for one user. Once
// invalidated it is never revived; a new login creates a new Session.
type Session struct {
	server string
	user   string
	secret string
	logger *slog.Logger
	busy   *state.Cell[bool]

	mu           sync.Mutex
	sessionID    string
	keychain     *keychain.Material
	confirmed    bool
	invalidation Reason
	requests     []*Pending
	completions  []func()
	unresolved   int
	draining     bool

	busyMu    sync.Mutex
	busyShown bool
}

func New(creds nextcloud.Credentials, opts ...Option) *Session {
	s := &Session{
		server: creds.Server,
		user:   creds.LoginName,
		secret: creds.AppPassword,
		logger: slog.New(slog.DiscardHandler),
		busy:   state.NewCellWith(false),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) Server() string { return s.server }
func (s *Session) User() string   { return s.user }

// Credentials returns what authenticated calls need.
func (s *Session) Credentials() nextcloud.Credentials {
	return nextcloud.Credentials{Server: s.server, LoginName: s.user, AppPassword: s.secret}
}

func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// SetKeychain hands unlocked keychain material to the session, which owns it
// from then on. A previous keychain is destroyed. An invalidated session
// destroys m immediately.
func (s *Session) SetKeychain(m *keychain.Material) {
	s.mu.Lock()
	prev := s.keychain
	if s.invalidation != "" {
		prev, m = m, nil
	}
	s.keychain = m
	s.mu.Unlock()
	if prev != nil && prev != m {
		prev.Destroy()
	}
}

// Keychain returns the unlocked keychain, or nil.
func (s *Session) Keychain() *keychain.Material {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keychain
}

// IsValid reports whether the session has not been invalidated.
func (s *Session) IsValid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invalidation == ""
}

// Reason returns the invalidation reason, if any.
func (s *Session) Reason() (Reason, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invalidation, s.invalidation != ""
}

// Confirmed reports whether the session was ever confirmed valid.
func (s *Session) Confirmed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.confirmed
}

// Busy is true while enqueued work is unresolved. It flips once per batch.
// Observers must not call back into the session synchronously.
func (s *Session) Busy() *state.Cell[bool] {
	return s.busy
}

// Enqueue defers work until the session is confirmed valid or dead. onReady
// never runs on the calling goroutine, even when the session is already valid.
func (s *Session) Enqueue(onReady func(*Session), onFailed func(error)) *Pending {
	p := newPending(onReady, onFailed)
	s.add(p)
	return p
}

func (s *Session) add(p *Pending) {
	s.mu.Lock()
	s.requests = append(s.requests, p)
	s.unresolved++
	became := s.unresolved == 1
	resolved := s.resolvedLocked()
	s.mu.Unlock()

	if became {
		s.publishBusy()
	}
	if resolved {
		go s.drain()
	}
}

// OnDrained runs fn after every request of the current drain cycle has been
// resolved, whichever way it went.
func (s *Session) OnDrained(fn func()) {
	s.mu.Lock()
	s.completions = append(s.completions, fn)
	resolved := s.resolvedLocked()
	s.mu.Unlock()
	if resolved {
		go s.drain()
	}
}

// MarkValid confirms the session and replays queued work in order. It has no
// effect on an invalidated session.
func (s *Session) MarkValid() {
	s.mu.Lock()
	if s.invalidation != "" || s.confirmed {
		s.mu.Unlock()
		return
	}
	s.confirmed = true
	s.mu.Unlock()
	s.logger.Debug("session confirmed", slog.String("server", s.server))
	s.drain()
}

// Invalidate kills the session and fails queued work in order. The first
// reason sticks; later calls are no-ops.
func (s *Session) Invalidate(reason Reason) {
	s.mu.Lock()
	if s.invalidation != "" {
		s.mu.Unlock()
		return
	}
	s.invalidation = reason
	kc := s.keychain
	s.keychain = nil
	s.mu.Unlock()

	if kc != nil {
		kc.Destroy()
	}
	s.logger.Info("session invalidated",
		slog.String("server", s.server),
		slog.String("reason", string(reason)))
	s.drain()
}

func (s *Session) resolvedLocked() bool {
	return s.confirmed || s.invalidation != ""
}

// drain runs queued work one item at a time, re-reading the session state
// before each so an invalidation during a drain fails the rest. Only one
// drain runs at a time; a nested call leaves the work to the active one.
func (s *Session) drain() {
	s.mu.Lock()
	if s.draining || !s.resolvedLocked() {
		s.mu.Unlock()
		return
	}
	s.draining = true
	for {
		if len(s.requests) > 0 {
			p := s.requests[0]
			s.requests[0] = nil
			s.requests = s.requests[1:]
			reason := s.invalidation
			s.mu.Unlock()

			p.resolve(s, reason)

			s.mu.Lock()
			s.unresolved--
			if s.unresolved == 0 {
				s.mu.Unlock()
				s.publishBusy()
				s.mu.Lock()
			}
			continue
		}
		if len(s.completions) > 0 {
			fn := s.completions[0]
			s.completions[0] = nil
			s.completions = s.completions[1:]
			s.mu.Unlock()
			fn()
			s.mu.Lock()
			continue
		}
		break
	}
	s.draining = false
	s.mu.Unlock()
}

// publishBusy publishes queue occupancy if it changed since the last
// publication, so racing transitions settle on the current value.
func (s *Session) publishBusy() {
	s.busyMu.Lock()
	defer s.busyMu.Unlock()
	s.mu.Lock()
	busy := s.unresolved > 0
	s.mu.Unlock()
	if busy == s.busyShown {
		return
	}
	s.busyShown = busy
	s.busy.Set(busy)
}
