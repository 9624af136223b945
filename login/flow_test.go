package login

import (
	"context"
	"crypto/x509"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmcleod/ironpass/internal/loginstub"
	"github.com/jmcleod/ironpass/nextcloud"
	"github.com/jmcleod/ironpass/secretstore"
	"github.com/jmcleod/ironpass/session"
	"github.com/jmcleod/ironpass/state"
	"github.com/jmcleod/ironpass/surface"
	"github.com/jmcleod/ironpass/trust"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastPolicy = Policy{
	Interval:    5 * time.Millisecond,
	MaxInterval: 20 * time.Millisecond,
	MaxAttempts: 1000,
	Deadline:    300 * time.Millisecond,
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

// fakeClient answers polls from a script; once exhausted it repeats the
// last answer.
type fakeClient struct {
	challengeErr error
	mu           sync.Mutex
	answers      []error
	creds        nextcloud.Credentials
	polls        atomic.Int32
	lastReq      nextcloud.PollRequest
}

func (c *fakeClient) RequestChallenge(ctx context.Context, u *url.URL) (nextcloud.Challenge, error) {
	if c.challengeErr != nil {
		return nextcloud.Challenge{}, c.challengeErr
	}
	return nextcloud.Challenge{
		Login:    &url.URL{Scheme: "https", Host: u.Host, Path: "/index.php/login/v2/flow/abc"},
		Token:    "poll-token",
		Endpoint: &url.URL{Scheme: "https", Host: u.Host, Path: "/index.php/login/v2/poll"},
	}, nil
}

func (c *fakeClient) Poll(ctx context.Context, req nextcloud.PollRequest) (nextcloud.Credentials, error) {
	c.polls.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastReq = req
	if err := ctx.Err(); err != nil {
		return nextcloud.Credentials{}, err
	}
	var err error
	if len(c.answers) > 0 {
		err = c.answers[0]
		if len(c.answers) > 1 {
			c.answers = c.answers[1:]
		}
	}
	if err != nil {
		return nextcloud.Credentials{}, err
	}
	return c.creds, nil
}

// fakePage replays navigations and serves cookies per path.
type fakePage struct {
	navs    chan *url.URL
	cookies map[string][]*http.Cookie
	err     error
	closed  atomic.Bool
}

func (p *fakePage) Navigations() <-chan *url.URL {
	if p.navs == nil {
		return nil
	}
	return p.navs
}
func (p *fakePage) Cookies(u *url.URL) []*http.Cookie { return p.cookies[u.Path] }
func (p *fakePage) Err() error                        { return p.err }
func (p *fakePage) Close() error                      { p.closed.Store(true); return nil }

type fakeSurface struct {
	page *fakePage
	err  error
}

func (s *fakeSurface) Open(ctx context.Context, login *url.URL) (surface.Page, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.page, nil
}

func navigating(urls []string, cookies map[string][]*http.Cookie, closeAfter bool) *fakePage {
	p := &fakePage{navs: make(chan *url.URL, len(urls)), cookies: cookies}
	for _, raw := range urls {
		u, _ := url.Parse(raw)
		p.navs <- u
	}
	if closeAfter {
		close(p.navs)
	}
	return p
}

type recordingEstablisher struct {
	called    atomic.Int32
	sessionID string
	err       error
}

func (e *recordingEstablisher) Establish(ctx context.Context, creds nextcloud.Credentials, sessionID string) error {
	e.called.Add(1)
	e.sessionID = sessionID
	return e.err
}

func states(f *Flow) func() []State {
	var mu sync.Mutex
	var seen []State
	f.State().Observe(func(r state.Result[State]) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, r.Value)
	})
	return func() []State {
		mu.Lock()
		defer mu.Unlock()
		return append([]State(nil), seen...)
	}
}

var grantedCreds = nextcloud.Credentials{Server: "https://cloud.example.com", LoginName: "alice", AppPassword: "app-pw"}

func TestFlowSucceedsAfterGrant(t *testing.T) {
	client := &fakeClient{answers: []error{nextcloud.ErrPending, nextcloud.ErrPending, nil}, creds: grantedCreds}
	page := navigating([]string{
		"https://cloud.example.com/index.php/login/v2/flow/abc",
		"https://cloud.example.com/index.php/login/v2/grant?redirect=x",
		"https://cloud.example.com/index.php/login/v2/grant",
	}, map[string][]*http.Cookie{
		"/index.php/login/v2/grant": {{Name: nextcloud.SessionCookie, Value: "sess-42"}},
	}, false)
	f := NewFlow(client, &fakeSurface{page: page}, WithPolicy(fastPolicy))
	seen := states(f)
	est := &recordingEstablisher{}

	creds, err := f.Run(t.Context(), "https://cloud.example.com", est)
	require.NoError(t, err)
	assert.Equal(t, grantedCreds, creds)
	assert.Equal(t, int32(3), client.polls.Load())
	assert.Equal(t, "sess-42", client.lastReq.SessionID)
	assert.Equal(t, "poll-token", client.lastReq.Token)
	assert.Equal(t, int32(1), est.called.Load())
	assert.Equal(t, "sess-42", est.sessionID)
	assert.True(t, page.closed.Load())
	assert.Equal(t, []State{
		Idle, ChallengeRequested, Presenting, GrantObserved, SessionIDCaptured, Polling, Succeeded,
	}, seen())
}

func TestFlowGrantWithoutCookieKeepsPresenting(t *testing.T) {
	client := &fakeClient{creds: grantedCreds}
	page := navigating([]string{
		"https://cloud.example.com/index.php/login/v2/grant",
		"https://cloud.example.com/index.php/login/v2/apptoken",
	}, map[string][]*http.Cookie{
		"/index.php/login/v2/apptoken": {{Name: nextcloud.SessionCookie, Value: "sess-7"}},
	}, false)
	f := NewFlow(client, &fakeSurface{page: page}, WithPolicy(fastPolicy))
	seen := states(f)

	_, err := f.Run(t.Context(), "https://cloud.example.com", nil)
	require.NoError(t, err)
	assert.Equal(t, "sess-7", client.lastReq.SessionID)
	assert.Equal(t, []State{
		Idle, ChallengeRequested, Presenting, GrantObserved, Presenting, TokenObserved, SessionIDCaptured, Polling, Succeeded,
	}, seen())
}

func TestFlowUnobservablePageSkipsToPolling(t *testing.T) {
	client := &fakeClient{creds: grantedCreds}
	f := NewFlow(client, &fakeSurface{page: &fakePage{}}, WithPolicy(fastPolicy))
	seen := states(f)

	_, err := f.Run(t.Context(), "https://cloud.example.com", nil)
	require.NoError(t, err)
	assert.Empty(t, client.lastReq.SessionID)
	assert.Equal(t, []State{Idle, ChallengeRequested, Presenting, Polling, Succeeded}, seen())
}

func TestFlowAlwaysPendingTimesOut(t *testing.T) {
	client := &fakeClient{answers: []error{nextcloud.ErrPending}}
	f := NewFlow(client, &fakeSurface{page: &fakePage{}}, WithPolicy(fastPolicy))
	est := &recordingEstablisher{}

	start := time.Now()
	_, err := f.Run(t.Context(), "https://cloud.example.com", est)
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ErrTimedOut)
	var ferr *Error
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, Polling, ferr.State)
	assert.Equal(t, TimedOut, f.State().Value())
	assert.Less(t, elapsed, fastPolicy.Deadline+2*time.Second)
	assert.Greater(t, client.polls.Load(), int32(1))
	assert.Zero(t, est.called.Load(), "a timed out flow never establishes")
}

func TestFlowAttemptLimit(t *testing.T) {
	client := &fakeClient{answers: []error{nextcloud.ErrPending}}
	p := fastPolicy
	p.MaxAttempts = 3
	p.Deadline = time.Minute
	f := NewFlow(client, &fakeSurface{page: &fakePage{}}, WithPolicy(p))

	_, err := f.Run(t.Context(), "https://cloud.example.com", nil)
	assert.ErrorIs(t, err, ErrTimedOut)
	assert.Equal(t, int32(3), client.polls.Load())
}

func TestFlowFailureKinds(t *testing.T) {
	cases := map[string]struct {
		client   *fakeClient
		surface  *fakeSurface
		server   string
		kind     error
		terminal State
	}{
		"invalid address": {
			client: &fakeClient{}, surface: &fakeSurface{page: &fakePage{}},
			server: "http://cloud.example.com", kind: ErrInvalidURL, terminal: Failed,
		},
		"challenge unreachable": {
			client:  &fakeClient{challengeErr: nextcloud.ErrUnreachable},
			surface: &fakeSurface{page: &fakePage{}}, kind: ErrNetwork, terminal: Failed,
		},
		"challenge timeout": {
			client:  &fakeClient{challengeErr: nextcloud.ErrTimeout},
			surface: &fakeSurface{page: &fakePage{}}, kind: ErrTimedOut, terminal: TimedOut,
		},
		"poll denied": {
			client:  &fakeClient{answers: []error{nextcloud.ErrPending, nextcloud.ErrDenied}},
			surface: &fakeSurface{page: &fakePage{}}, kind: ErrDenied, terminal: Failed,
		},
		"poll transport failure is not retried": {
			client:  &fakeClient{answers: []error{nextcloud.ErrUnreachable, nil}, creds: grantedCreds},
			surface: &fakeSurface{page: &fakePage{}}, kind: ErrNetwork, terminal: Failed,
		},
		"poll call timeout": {
			client:  &fakeClient{answers: []error{nextcloud.ErrTimeout}},
			surface: &fakeSurface{page: &fakePage{}}, kind: ErrTimedOut, terminal: TimedOut,
		},
		"surface failed to open": {
			client:  &fakeClient{},
			surface: &fakeSurface{err: errors.New("no display")}, kind: ErrNetwork, terminal: Failed,
		},
		"page closed by user": {
			client:  &fakeClient{},
			surface: &fakeSurface{page: navigating([]string{"https://cloud.example.com/index.php/login/v2/flow/abc"}, nil, true)},
			kind:    ErrCancelled, terminal: Cancelled,
		},
		"page load failed": {
			client: &fakeClient{},
			surface: &fakeSurface{page: func() *fakePage {
				p := navigating(nil, nil, true)
				p.err = errors.New("tls: bad certificate")
				return p
			}()},
			kind: ErrNetwork, terminal: Failed,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			server := tc.server
			if server == "" {
				server = "https://cloud.example.com"
			}
			f := NewFlow(tc.client, tc.surface, WithPolicy(fastPolicy))
			est := &recordingEstablisher{}
			creds, err := f.Run(t.Context(), server, est)
			assert.ErrorIs(t, err, tc.kind)
			assert.Equal(t, tc.terminal, f.State().Value())
			assert.Zero(t, creds)
			assert.Zero(t, est.called.Load())
		})
	}

	// Kinds are distinguishable from each other.
	for _, a := range []error{ErrNetwork, ErrDenied, ErrCancelled, ErrTimedOut} {
		for _, b := range []error{ErrNetwork, ErrDenied, ErrCancelled, ErrTimedOut} {
			if a != b {
				assert.NotErrorIs(t, &Error{Kind: a}, b)
			}
		}
	}
}

func TestFlowCancelWhilePolling(t *testing.T) {
	client := &fakeClient{answers: []error{nextcloud.ErrPending}}
	p := fastPolicy
	p.Deadline = time.Minute
	f := NewFlow(client, &fakeSurface{page: &fakePage{}}, WithPolicy(p))
	est := &recordingEstablisher{}

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() {
		_, err := f.Run(ctx, "https://cloud.example.com", est)
		done <- err
	}()
	require.Eventually(t, func() bool { return client.polls.Load() >= 2 }, 5*time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrCancelled)
	case <-time.After(5 * time.Second):
		t.Fatal("poll loop kept running after cancel")
	}
	assert.Equal(t, Cancelled, f.State().Value())
	assert.Zero(t, est.called.Load())

	// No poll starts after the flow has ended.
	after := client.polls.Load()
	time.Sleep(5 * p.MaxInterval)
	assert.Equal(t, after, client.polls.Load())
}

func TestFlowCallerDeadlineIsTimeout(t *testing.T) {
	client := &fakeClient{answers: []error{nextcloud.ErrPending}}
	p := fastPolicy
	p.Deadline = time.Minute
	f := NewFlow(client, &fakeSurface{page: &fakePage{}}, WithPolicy(p))
	est := &recordingEstablisher{}

	ctx, cancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
	defer cancel()
	_, err := f.Run(ctx, "https://cloud.example.com", est)

	assert.ErrorIs(t, err, ErrTimedOut)
	assert.NotErrorIs(t, err, ErrCancelled)
	assert.Equal(t, TimedOut, f.State().Value())
	assert.Greater(t, client.polls.Load(), int32(1))
	assert.Zero(t, est.called.Load())
}

func TestFlowCancelWhilePresenting(t *testing.T) {
	client := &fakeClient{creds: grantedCreds}
	page := navigating(nil, nil, false)
	f := NewFlow(client, &fakeSurface{page: page}, WithPolicy(fastPolicy))

	ctx, cancel := context.WithCancel(t.Context())
	stop := f.State().Observe(func(r state.Result[State]) {
		if r.Value == Presenting {
			cancel()
		}
	})
	defer stop()

	_, err := f.Run(ctx, "https://cloud.example.com", nil)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Zero(t, client.polls.Load(), "polling never started")
	assert.True(t, page.closed.Load())
}

func TestFlowSupersededByNewerFlow(t *testing.T) {
	ctrl := session.NewController(secretstore.NewMemory(), nil)
	ticket := ctrl.BeginFlow(t.Context())
	client := &fakeClient{creds: grantedCreds}
	f := NewFlow(client, &fakeSurface{page: &fakePage{}}, WithPolicy(fastPolicy))

	// A newer login starts before this one gets to establish.
	ctrl.BeginFlow(t.Context())

	_, err := f.Run(context.WithoutCancel(ticket.Context()), "https://cloud.example.com", ticket)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, session.ErrStaleFlow)
	assert.Nil(t, ctrl.Session())
}

func TestFlowEndToEndWithStub(t *testing.T) {
	stub := loginstub.New(loginstub.WithAccount("alice"))
	srv := httptest.NewTLSServer(stub)
	defer srv.Close()

	pool := x509.NewCertPool()
	pool.AddCert(srv.Certificate())
	validator := trust.New(trust.WithRoots(pool))
	transport := validator.Transport()
	client := nextcloud.NewClient(nextcloud.WithHTTPClient(&http.Client{Transport: transport}))

	secrets := secretstore.NewMemory()
	ctrl := session.NewController(secrets, client)
	held := ctrl.Require(func(*session.Session) {}, nil)

	ticket := ctrl.BeginFlow(t.Context())
	f := NewFlow(client, surface.NewHeadless(transport), WithPolicy(fastPolicy))
	creds, err := f.Run(ticket.Context(), srv.URL, ticket)
	require.NoError(t, err)
	assert.Equal(t, "alice", creds.LoginName)
	require.NoError(t, held.Wait(t.Context()), "work queued before login is replayed")

	s := ctrl.Session()
	require.NotNil(t, s)
	assert.NotEmpty(t, s.SessionID())
	red := stub.Redeemed()
	require.Len(t, red, 1)
	assert.Equal(t, s.SessionID(), red[0].SessionID, "poll was correlated with the grant")

	stored, err := secretstore.LoadString(secrets, secretstore.KeySecret)
	require.NoError(t, err)
	assert.Equal(t, creds.AppPassword, stored)

	for _, v := range validator.Verdicts() {
		assert.True(t, v.Accepted)
	}

	// A second controller restores and revalidates against the server.
	restored, err := session.NewController(secrets, client).Restore(t.Context())
	require.NoError(t, err)
	assert.True(t, restored.Confirmed())

	stub.Revoke(creds.AppPassword)
	revoked, err := session.NewController(secrets, client).Restore(t.Context())
	require.Error(t, err)
	reason, _ := revoked.Reason()
	assert.Equal(t, session.Deauthorized, reason)
}

func TestFlowEndToEndManualApproval(t *testing.T) {
	stub := loginstub.New(loginstub.WithAutoApprove(false))
	srv := httptest.NewTLSServer(stub)
	defer srv.Close()

	pool := x509.NewCertPool()
	pool.AddCert(srv.Certificate())
	transport := trust.New(trust.WithRoots(pool)).Transport()
	client := nextcloud.NewClient(nextcloud.WithHTTPClient(&http.Client{Transport: transport}))

	f := NewFlow(client, surface.NewHeadless(transport), WithPolicy(Policy{
		Interval: 5 * time.Millisecond, MaxInterval: 20 * time.Millisecond, MaxAttempts: 1000, Deadline: 5 * time.Second,
	}))
	stop := f.State().Observe(func(r state.Result[State]) {
		if r.Value == Polling {
			go func() {
				time.Sleep(30 * time.Millisecond)
				for _, token := range stub.PendingTokens() {
					_ = stub.Approve(token)
				}
			}()
		}
	})
	defer stop()

	creds, err := f.Run(t.Context(), srv.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, srv.URL, creds.Server)
}
