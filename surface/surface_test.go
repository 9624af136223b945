package surface

import (
	"crypto/x509"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/jmcleod/ironpass/internal/loginstub"
	"github.com/jmcleod/ironpass/trust"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubFlowURL(t *testing.T, srv *httptest.Server) *url.URL {
	t.Helper()
	resp, err := srv.Client().Post(srv.URL+loginstub.LoginPath, "", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	var body struct {
		Login string `json:"login"`
	}
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	u, err := url.Parse(body.Login)
	require.NoError(t, err)
	return u
}

func TestHeadlessReportsNavigationsAndCookies(t *testing.T) {
	srv := httptest.NewTLSServer(loginstub.New())
	defer srv.Close()
	pool := x509.NewCertPool()
	pool.AddCert(srv.Certificate())
	v := trust.New(trust.WithRoots(pool))

	page, err := NewHeadless(v.Transport()).Open(t.Context(), stubFlowURL(t, srv))
	require.NoError(t, err)
	defer page.Close()

	var paths []string
	var last *url.URL
	for u := range page.Navigations() {
		paths = append(paths, u.Path)
		last = u
	}
	require.NoError(t, page.Err())
	require.Len(t, paths, 2)
	assert.Contains(t, paths[0], loginstub.FlowPath)
	assert.Equal(t, loginstub.GrantPath, paths[1])

	var found bool
	for _, c := range page.Cookies(last) {
		if c.Name == "nc_session_id" && c.Value != "" {
			found = true
		}
	}
	assert.True(t, found, "session cookie visible in the page's jar")
	assert.NotEmpty(t, v.Verdicts(), "handshakes went through the validator")
}

func TestHeadlessCookiesLandBeforeNavigation(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "nc_session_id", Value: "from-grant", Path: "/", Secure: true})
		w.Write([]byte("granted"))
	}))
	defer srv.Close()
	grant, err := url.Parse(srv.URL + loginstub.GrantPath)
	require.NoError(t, err)

	page, err := NewHeadless(srv.Client().Transport).Open(t.Context(), grant)
	require.NoError(t, err)
	defer page.Close()

	u, ok := <-page.Navigations()
	require.True(t, ok)
	var value string
	for _, c := range page.Cookies(u) {
		if c.Name == "nc_session_id" {
			value = c.Value
		}
	}
	assert.Equal(t, "from-grant", value, "cookie set by the reported response is readable at once")
}

func TestHeadlessReportsTransportFailure(t *testing.T) {
	srv := httptest.NewTLSServer(loginstub.New())
	defer srv.Close()
	v := trust.New(trust.WithRoots(x509.NewCertPool()))

	page, err := NewHeadless(v.Transport()).Open(t.Context(), stubFlowURL(t, srv))
	require.NoError(t, err)
	defer page.Close()
	for range page.Navigations() {
		t.Error("no navigation commits when the handshake is rejected")
	}
	assert.Error(t, page.Err())
}

func TestBrowser(t *testing.T) {
	var opened string
	b := NewBrowser(WithOpener(func(target string) error {
		opened = target
		return nil
	}))
	u, err := url.Parse("https://cloud.example.com/index.php/login/v2/flow/abc")
	require.NoError(t, err)

	page, err := b.Open(t.Context(), u)
	require.NoError(t, err)
	assert.Equal(t, u.String(), opened)
	assert.Nil(t, page.Navigations(), "the system browser cannot be observed")
	assert.Nil(t, page.Cookies(u))

	failing := NewBrowser(WithOpener(func(string) error { return errors.New("no display") }))
	_, err = failing.Open(t.Context(), u)
	assert.Error(t, err)
}
