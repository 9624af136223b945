package surface

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"

	"golang.org/x/net/publicsuffix"
)

const (
	maxRedirects = 10
	maxPageBytes = 1 << 20
)

// HeadlessOption configures a Headless surface.
type HeadlessOption func(*Headless)

func WithHeadlessLogger(logger *slog.Logger) HeadlessOption {
	return func(h *Headless) {
		h.logger = logger
	}
}

// Headless loads the login page over HTTP without rendering it, following
// redirects the way a browser would. Every page gets a fresh cookie jar.
type Headless struct {
	transport http.RoundTripper
	logger    *slog.Logger
}

// NewHeadless uses transport for every request; pass a trust-gated
// transport so each handshake is evaluated.
func NewHeadless(transport http.RoundTripper, opts ...HeadlessOption) *Headless {
	h := &Headless{transport: transport, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Headless) Open(ctx context.Context, login *url.URL) (Page, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}
	ctx, cancel := context.WithCancel(ctx)
	p := &headlessPage{
		jar:    jar,
		navs:   make(chan *url.URL, maxRedirects),
		cancel: cancel,
	}
	client := &http.Client{
		Transport: &navigationTransport{base: h.transport, jar: jar, emit: func(u *url.URL) { p.emit(ctx, u) }},
		Jar:       jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, login.String(), nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("building login page request: %w", err)
	}
	go func() {
		defer close(p.navs)
		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() == nil {
				h.logger.Debug("login page failed", slog.String("error", err.Error()))
				p.setErr(err)
			}
			return
		}
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxPageBytes))
		resp.Body.Close()
	}()
	return p, nil
}

type headlessPage struct {
	jar    *cookiejar.Jar
	navs   chan *url.URL
	cancel context.CancelFunc

	mu  sync.Mutex
	err error
}

func (p *headlessPage) emit(ctx context.Context, u *url.URL) {
	select {
	case p.navs <- u:
	case <-ctx.Done():
	}
}

func (p *headlessPage) setErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *headlessPage) Navigations() <-chan *url.URL { return p.navs }

func (p *headlessPage) Cookies(u *url.URL) []*http.Cookie { return p.jar.Cookies(u) }

func (p *headlessPage) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *headlessPage) Close() error {
	p.cancel()
	return nil
}

// navigationTransport reports each URL that produced a response, which is
// when a browser would commit the navigation. The response's cookies are in
// the jar before the URL is reported.
type navigationTransport struct {
	base http.RoundTripper
	jar  http.CookieJar
	emit func(*url.URL)
}

func (t *navigationTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	resp, err := base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	u := *req.URL
	if t.jar != nil {
		if cookies := resp.Cookies(); len(cookies) > 0 {
			t.jar.SetCookies(&u, cookies)
		}
	}
	t.emit(&u)
	return resp, nil
}
