package common

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrowserClient(t *testing.T) {
	// Setup test server
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Verify User-Agent header
		userAgent := r.Header.Get("User-Agent")
		assert.Equal(t, browserUserAgent, userAgent, "User-Agent should be the pinned browser string")
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc"})
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	// Test client creation
	timeout := 5 * time.Second
	client := BrowserClient(timeout)

	// Verify client settings
	assert.Equal(t, timeout, client.Timeout, "Timeout should be set correctly")
	assert.NotNil(t, client.Transport, "Transport should not be nil")
	require.NotNil(t, client.Jar, "Jar should not be nil")

	// Test actual request
	req, err := http.NewRequest("GET", server.URL, nil)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// The jar should have kept the session cookie
	var found bool
	for _, c := range client.Jar.Cookies(req.URL) {
		if c.Name == "session" && c.Value == "abc" {
			found = true
		}
	}
	assert.True(t, found, "jar should retain cookies set by the server")
}

func TestVersion(t *testing.T) {
	assert.NotEmpty(t, Version(), "embedded version should not be empty")
}
