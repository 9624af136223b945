// Package surface presents the server's login page to the user. A surface
// reports each committed navigation and exposes its cookie jar so the login
// flow can detect the grant and pick up the browser session.
package surface

import (
	"context"
	"net/http"
	"net/url"
)

// Surface opens an interactive, non-persistent web context.
type Surface interface {
	Open(ctx context.Context, login *url.URL) (Page, error)
}

// Page is one open login context.
type Page interface {
	// Navigations yields each committed URL and is closed when the page stops
	// navigating. It is nil when the surface cannot observe navigation.
	Navigations() <-chan *url.URL
	// Cookies returns the cookies the page would send to u.
	Cookies(u *url.URL) []*http.Cookie
	// Err reports why navigation stopped; nil means the user closed the page.
	Err() error
	Close() error
}
