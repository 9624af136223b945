// Package loginstub emulates the parts of a Nextcloud server the login flow
// talks to: login flow v2 challenge, browser grant pages, token polling, and
// the authenticated user endpoint.
package loginstub

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

const (
	LoginPath = "/index.php/login/v2"
	PollPath  = LoginPath + "/poll"
	GrantPath = LoginPath + "/grant"
	FlowPath  = LoginPath + "/flow"
	UserPath  = "/ocs/v2.php/cloud/user"

	sessionCookie = "nc_session_id"
)

// ErrUnknownFlow is returned for poll tokens the server never issued or has
// already redeemed.
var ErrUnknownFlow = errors.New("unknown login flow")

type flowState int

const (
	statePending flowState = iota
	stateGranted
	stateDenied
)

type flow struct {
	pollToken string
	flowToken string
	sessionID string
	state     flowState
}

// Redemption records one successful poll.
type Redemption struct {
	Token       string
	SessionID   string
	LoginName   string
	AppPassword string
}

// Option configures a Server.
type Option func(*Server)

// WithAccount sets the login name granted by every flow. Default: "alice".
func WithAccount(loginName string) Option {
	return func(s *Server) {
		s.loginName = loginName
	}
}

// WithAutoApprove controls whether visiting the grant page grants the flow.
// Default: true.
func WithAutoApprove(auto bool) Option {
	return func(s *Server) {
		s.autoApprove = auto
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// Server is an http.Handler.
type Server struct {
	router      chi.Router
	loginName   string
	autoApprove bool
	logger      *slog.Logger

	mu          sync.Mutex
	flows       map[string]*flow // by poll token
	byFlowToken map[string]*flow
	bySession   map[string]*flow
	passwords   map[string]string // app password -> login name
	redeemed    []Redemption
}

func New(opts ...Option) *Server {
	s := &Server{
		loginName:   "alice",
		autoApprove: true,
		logger:      slog.New(slog.DiscardHandler),
		flows:       make(map[string]*flow),
		byFlowToken: make(map[string]*flow),
		bySession:   make(map[string]*flow),
		passwords:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post(LoginPath, s.startFlow)
	r.Get(FlowPath+"/{token}", s.showFlow)
	r.Get(GrantPath, s.showGrant)
	r.Post(PollPath, s.poll)
	r.Get(UserPath, s.currentUser)
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

func (s *Server) startFlow(w http.ResponseWriter, r *http.Request) {
	f := &flow{pollToken: uuid.NewString(), flowToken: uuid.NewString()}
	s.mu.Lock()
	s.flows[f.pollToken] = f
	s.byFlowToken[f.flowToken] = f
	s.mu.Unlock()

	s.logger.Info("login flow started", slog.String("user_agent", r.UserAgent()))
	base := baseURL(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"poll": map[string]string{
			"token":    f.pollToken,
			"endpoint": base + PollPath,
		},
		"login": base + FlowPath + "/" + f.flowToken,
	})
}

func (s *Server) showFlow(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	f, ok := s.byFlowToken[chi.URLParam(r, "token")]
	if ok && f.sessionID == "" {
		f.sessionID = uuid.NewString()
		s.bySession[f.sessionID] = f
	}
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    f.sessionID,
		Path:     "/",
		Secure:   r.TLS != nil,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, GrantPath, http.StatusFound)
}

func (s *Server) showGrant(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		http.Error(w, "no session", http.StatusUnauthorized)
		return
	}
	s.mu.Lock()
	f, ok := s.bySession[c.Value]
	if ok && s.autoApprove && f.state == statePending {
		f.state = stateGranted
	}
	s.mu.Unlock()
	if !ok {
		http.Error(w, "no session", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, "<!doctype html><title>Account access</title><p>Account connected.</p>")
}

func (s *Server) poll(w http.ResponseWriter, r *http.Request) {
	token := r.PostFormValue("token")
	s.mu.Lock()
	f, ok := s.flows[token]
	if !ok || f.state == statePending {
		s.mu.Unlock()
		// Unknown and pending tokens look the same to the client.
		http.NotFound(w, r)
		return
	}
	delete(s.flows, token)
	delete(s.byFlowToken, f.flowToken)
	if f.state == stateDenied {
		s.mu.Unlock()
		http.Error(w, "access denied", http.StatusForbidden)
		return
	}

	red := Redemption{Token: token, LoginName: s.loginName, AppPassword: uuid.NewString()}
	if c, err := r.Cookie(sessionCookie); err == nil {
		red.SessionID = c.Value
	}
	s.passwords[red.AppPassword] = red.LoginName
	s.redeemed = append(s.redeemed, red)
	s.mu.Unlock()

	s.logger.Info("login flow redeemed", slog.String("login_name", red.LoginName))
	writeJSON(w, http.StatusOK, map[string]string{
		"server":      baseURL(r),
		"loginName":   red.LoginName,
		"appPassword": red.AppPassword,
	})
}

func (s *Server) currentUser(w http.ResponseWriter, r *http.Request) {
	user, pass, ok := r.BasicAuth()
	s.mu.Lock()
	owner, known := s.passwords[pass]
	s.mu.Unlock()
	if !ok || !known || owner != user || r.Header.Get("OCS-APIRequest") != "true" {
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"ocs": map[string]any{"meta": map[string]any{"status": "failure", "statuscode": 997}},
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ocs": map[string]any{
			"meta": map[string]any{"status": "ok", "statuscode": 200},
			"data": map[string]string{"id": user},
		},
	})
}

// Approve grants a pending flow as if the user clicked through.
func (s *Server) Approve(pollToken string) error {
	return s.settle(pollToken, stateGranted)
}

// Deny rejects a pending flow.
func (s *Server) Deny(pollToken string) error {
	return s.settle(pollToken, stateDenied)
}

func (s *Server) settle(pollToken string, st flowState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.flows[pollToken]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownFlow, pollToken)
	}
	f.state = st
	return nil
}

// PendingTokens returns poll tokens of flows that are neither granted nor denied.
func (s *Server) PendingTokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for token, f := range s.flows {
		if f.state == statePending {
			out = append(out, token)
		}
	}
	return out
}

// Redeemed lists successful polls in order.
func (s *Server) Redeemed() []Redemption {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Redemption(nil), s.redeemed...)
}

// Revoke invalidates an issued app password.
func (s *Server) Revoke(appPassword string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.passwords, appPassword)
}

// Issue registers an app password directly, as if a flow had completed
// earlier.
func (s *Server) Issue(loginName, appPassword string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.passwords[appPassword] = loginName
}
