package acquire

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/aktagon/image-harvester/internal/chain"
)

// HTTPError represents an HTTP error with status code
type HTTPError struct {
	StatusCode int
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d for %s", e.StatusCode, e.URL)
}

// Proxy is an optional upstream proxy shared by the browser and HTTP clients.
type Proxy struct {
	Server   string
	Username string
	Password string
}

func newHTTPClient(p Proxy, timeout time.Duration) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if p.Server != "" {
		u, err := url.Parse(p.Server)
		if err != nil {
			return nil, fmt.Errorf("parsing proxy %q: %w", p.Server, err)
		}
		if p.Username != "" {
			u.User = url.UserPassword(p.Username, p.Password)
		}
		transport.Proxy = http.ProxyURL(u)
	}
	return &http.Client{Transport: transport, Timeout: timeout}, nil
}

// cookieClient is one keep-alive HTTP client whose jar is refreshed from
// the browser before each request.
type cookieClient struct {
	client *http.Client
	jar    *cookiejar.Jar
}

func newCookieClient(p Proxy, timeout time.Duration) (*cookieClient, error) {
	client, err := newHTTPClient(p, timeout)
	if err != nil {
		return nil, err
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.Jar = jar
	return &cookieClient{client: client, jar: jar}, nil
}

// Do stores cookies for the request URL and sends the request.
func (c *cookieClient) Do(req *http.Request, cookies []*http.Cookie) (*http.Response, error) {
	if len(cookies) > 0 {
		c.jar.SetCookies(req.URL, cookies)
	}
	return c.client.Do(req)
}

func (c *cookieClient) Close() {
	c.client.CloseIdleConnections()
}

// statusError maps a non-200 response to a failure kind: throttling and
// server errors are transient, other client errors are permanent for that URL.
func statusError(code int, u string) error {
	err := &HTTPError{StatusCode: code, URL: u}
	switch {
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout, code >= 500:
		return chain.Transient(err)
	default:
		return chain.Permanent(err)
	}
}
