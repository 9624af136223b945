package login

import (
	"fmt"
	"net/url"
	"strings"
)

const loginPath = "/index.php/login/v2"

// LoginURL derives the login flow v2 endpoint from a server address typed
// by the user. Only https addresses with a host are accepted.
func LoginURL(server string) (*url.URL, error) {
	raw := strings.TrimSpace(server)
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if !strings.EqualFold(u.Scheme, "https") {
		return nil, fmt.Errorf("%w: %q must use https", ErrInvalidURL, raw)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: %q has no host", ErrInvalidURL, raw)
	}
	if u.Opaque != "" {
		return nil, fmt.Errorf("%w: %q is not a server address", ErrInvalidURL, raw)
	}

	base := strings.TrimRight(u.Path, "/")
	base = strings.TrimSuffix(base, indexPrefix)
	base = strings.TrimRight(base, "/")
	return &url.URL{
		Scheme: "https",
		Host:   u.Host,
		Path:   base + loginPath,
	}, nil
}
