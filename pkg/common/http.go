package common

import (
	_ "embed"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"
)

//go:embed VERSION
var version string

// The portal serves browsers only; requests without a desktop User-Agent
// get bounced to an error page. Every portal request carries this one.
const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/136.0.0.0 Safari/537.36"

type userAgentTransport struct {
	transport http.RoundTripper
	userAgent string
}

// RoundTrip implements http.RoundTripper.
func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone the request to avoid modifying the original request's headers
	// which might be shared or reused
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	return t.transport.RoundTrip(req)
}

// Version returns the embedded build version.
func Version() string {
	return strings.TrimSpace(version)
}

// BrowserClient returns an http client that presents itself as a desktop
// browser and keeps cookies across requests. The portal session lives in
// the returned client's jar, so a fresh session means a fresh client.
func BrowserClient(timeout time.Duration) *http.Client {
	jar, err := cookiejar.New(nil)
	if err != nil {
		// cookiejar.New with nil options cannot fail
		panic(err)
	}

	return &http.Client{
		Transport: &userAgentTransport{
			transport: http.DefaultTransport,
			userAgent: browserUserAgent,
		},
		Jar:     jar,
		Timeout: timeout,
	}
}
