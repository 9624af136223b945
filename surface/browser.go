package surface

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/skratchdot/open-golang/open"
)

// BrowserOption configures a Browser surface.
type BrowserOption func(*Browser)

// WithOpener replaces the function that launches the browser.
func WithOpener(fn func(target string) error) BrowserOption {
	return func(b *Browser) {
		b.open = fn
	}
}

func WithBrowserLogger(logger *slog.Logger) BrowserOption {
	return func(b *Browser) {
		b.logger = logger
	}
}

// Browser hands the login page to the system browser. It cannot observe
// navigation or cookies, so the flow goes straight to polling.
type Browser struct {
	open   func(target string) error
	logger *slog.Logger
}

func NewBrowser(opts ...BrowserOption) *Browser {
	b := &Browser{open: open.Run, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Browser) Open(ctx context.Context, login *url.URL) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := b.open(login.String()); err != nil {
		return nil, fmt.Errorf("opening browser: %w", err)
	}
	b.logger.Info("login page opened in browser", slog.String("url", login.Redacted()))
	return browserPage{}, nil
}

type browserPage struct{}

func (browserPage) Navigations() <-chan *url.URL    { return nil }
func (browserPage) Cookies(*url.URL) []*http.Cookie { return nil }
func (browserPage) Err() error                      { return nil }
func (browserPage) Close() error                    { return nil }
