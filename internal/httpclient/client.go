// Package httpclient builds the HTTP client used to fetch server packages.
package httpclient

import (
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/teranos/roslyn-wrapper/errors"
	"github.com/teranos/roslyn-wrapper/version"
)

// DefaultMaxRedirects matches net/http's own limit.
const DefaultMaxRedirects = 10

var allowedSchemes = []string{"http", "https"}

// Options customizes New. The zero value is usable.
type Options struct {
	MaxRedirects int    // Default: 10
	UserAgent    string // Default: roslyn-wrapper/<version>
}

// New returns a client for package downloads. Redirects are bounded, must
// stay on http(s), and may not downgrade from https to http.
func New(timeout time.Duration, opts Options) *http.Client {
	maxRedirects := opts.MaxRedirects
	if maxRedirects <= 0 {
		maxRedirects = DefaultMaxRedirects
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = "roslyn-wrapper/" + version.Get().Version
	}

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: &userAgentTransport{base: transport, userAgent: userAgent},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return errors.Newf("stopped after %d redirects", maxRedirects)
			}
			if err := validateURL(req.URL); err != nil {
				return errors.Wrap(err, "redirect blocked")
			}
			if via[len(via)-1].URL.Scheme == "https" && req.URL.Scheme != "https" {
				return errors.Newf("redirect from https to %s blocked", req.URL.Scheme)
			}
			return nil
		},
	}
}

// ValidateURL parses s and checks it is a plausible package origin.
func ValidateURL(s string) (*url.URL, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, errors.Wrap(err, "invalid URL")
	}
	if err := validateURL(u); err != nil {
		return nil, err
	}
	return u, nil
}

func validateURL(u *url.URL) error {
	scheme := strings.ToLower(u.Scheme)
	allowed := false
	for _, s := range allowedSchemes {
		if scheme == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return errors.Newf("scheme %q not allowed (allowed: %v)", scheme, allowedSchemes)
	}

	// Credentials in the URL would end up in logs
	if u.User != nil {
		return errors.New("URL must not contain credentials")
	}

	if u.Hostname() == "" {
		return errors.New("URL missing hostname")
	}
	return nil
}

type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.userAgent)
	}
	return t.base.RoundTrip(req)
}
