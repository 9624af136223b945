// Package nextcloud speaks the Nextcloud login flow v2 and the authenticated
// user endpoint used to revalidate a stored session. Transport errors are
// translated into this package's sentinels before they reach callers.
package nextcloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// SessionCookie carries the browser session that granted the login.
	SessionCookie = "nc_session_id"

	defaultTimeout   = 15 * time.Second
	defaultUserAgent = "ironpass"
	maxBodyBytes     = 1 << 20
	userPath         = "/ocs/v2.php/cloud/user"
)

// Challenge is the server's answer to a login request.
type Challenge struct {
	Login    *url.URL
	Token    string
	Endpoint *url.URL
}

// Credentials are the durable, app-scoped result of a grant.
type Credentials struct {
	Server      string `json:"server"`
	LoginName   string `json:"loginName"`
	AppPassword string `json:"appPassword"`
}

// PollRequest redeems a challenge token. SessionID is optional.
type PollRequest struct {
	Token     string
	Endpoint  *url.URL
	SessionID string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying client; its transport should be
// gated by a trust validator.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithTimeout bounds each call. Default: 15s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

type Client struct {
	http      *http.Client
	timeout   time.Duration
	userAgent string
	logger    *slog.Logger
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		http:      &http.Client{},
		timeout:   defaultTimeout,
		userAgent: defaultUserAgent,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type challengeResponse struct {
	Poll struct {
		Token    string `json:"token"`
		Endpoint string `json:"endpoint"`
	} `json:"poll"`
	Login string `json:"login"`
}

// RequestChallenge starts a login flow at loginURL.
func (c *Client) RequestChallenge(ctx context.Context, loginURL *url.URL) (Challenge, error) {
	req, err := http.NewRequest(http.MethodPost, loginURL.String(), nil)
	if err != nil {
		return Challenge{}, fmt.Errorf("building challenge request: %w", err)
	}
	var body challengeResponse
	status, err := c.do(ctx, req, &body)
	if err != nil {
		return Challenge{}, err
	}
	if status != http.StatusOK {
		return Challenge{}, fmt.Errorf("%w: challenge returned %d", ErrUnexpectedStatus, status)
	}

	login, err := parseHTTPS(body.Login)
	if err != nil {
		return Challenge{}, fmt.Errorf("%w: login url: %v", ErrInvalidResponse, err)
	}
	endpoint, err := parseHTTPS(body.Poll.Endpoint)
	if err != nil {
		return Challenge{}, fmt.Errorf("%w: poll endpoint: %v", ErrInvalidResponse, err)
	}
	if body.Poll.Token == "" {
		return Challenge{}, fmt.Errorf("%w: empty poll token", ErrInvalidResponse)
	}
	c.logger.Debug("login challenge issued", slog.String("login", login.Redacted()))
	return Challenge{Login: login, Token: body.Poll.Token, Endpoint: endpoint}, nil
}

// Poll asks once whether the grant has completed. A grant that is not ready
// yet returns ErrPending.
func (c *Client) Poll(ctx context.Context, pr PollRequest) (Credentials, error) {
	if pr.Endpoint == nil || pr.Token == "" {
		return Credentials{}, fmt.Errorf("%w: incomplete poll request", ErrInvalidResponse)
	}
	form := url.Values{"token": {pr.Token}}
	req, err := http.NewRequest(http.MethodPost, pr.Endpoint.String(), strings.NewReader(form.Encode()))
	if err != nil {
		return Credentials{}, fmt.Errorf("building poll request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if pr.SessionID != "" {
		req.AddCookie(&http.Cookie{Name: SessionCookie, Value: pr.SessionID})
	}

	var creds Credentials
	status, err := c.do(ctx, req, &creds)
	if err != nil {
		return Credentials{}, err
	}
	switch status {
	case http.StatusOK:
	case http.StatusNotFound:
		return Credentials{}, ErrPending
	case http.StatusUnauthorized, http.StatusForbidden:
		return Credentials{}, ErrDenied
	default:
		return Credentials{}, fmt.Errorf("%w: poll returned %d", ErrUnexpectedStatus, status)
	}
	if creds.Server == "" || creds.LoginName == "" || creds.AppPassword == "" {
		return Credentials{}, fmt.Errorf("%w: incomplete credentials", ErrInvalidResponse)
	}
	return creds, nil
}

// Ping checks that creds still authenticate against their server.
func (c *Client) Ping(ctx context.Context, creds Credentials) error {
	base, err := parseHTTPS(creds.Server)
	if err != nil {
		return fmt.Errorf("%w: server: %v", ErrInvalidResponse, err)
	}
	u := base.JoinPath(userPath)
	u.RawQuery = "format=json"
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("building ping request: %w", err)
	}
	req.SetBasicAuth(creds.LoginName, creds.AppPassword)
	req.Header.Set("OCS-APIRequest", "true")

	status, err := c.do(ctx, req, nil)
	if err != nil {
		return err
	}
	switch status {
	case http.StatusOK:
		return nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	default:
		return fmt.Errorf("%w: ping returned %d", ErrUnexpectedStatus, status)
	}
}

// do sends req with the per-call timeout and decodes a 200 body into out.
func (c *Client) do(ctx context.Context, req *http.Request, out any) (int, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req = req.WithContext(callCtx)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, c.translate(ctx, callCtx, req, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK || out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(out); err != nil {
		if callCtx.Err() != nil {
			return 0, c.translate(ctx, callCtx, req, err)
		}
		return 0, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return resp.StatusCode, nil
}

func (c *Client) translate(ctx, callCtx context.Context, req *http.Request, err error) error {
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(callCtx.Err(), context.DeadlineExceeded):
		c.logger.Debug("request timed out", slog.String("url", req.URL.Redacted()))
		return fmt.Errorf("%w: %s %s", ErrTimeout, req.Method, req.URL.Redacted())
	default:
		c.logger.Debug("request failed", slog.String("url", req.URL.Redacted()), slog.String("error", err.Error()))
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
}

func parseHTTPS(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "https" || u.Host == "" {
		return nil, fmt.Errorf("%q is not an https url", raw)
	}
	return u, nil
}
