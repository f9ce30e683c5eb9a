package acquire

import (
	"context"
	"net/http"
	"time"
)

// ScrollState is the viewport position after a scroll step.
type ScrollState struct {
	Y        float64 `json:"y"`
	Height   float64 `json:"height"`
	Viewport float64 `json:"viewport"`
}

// AtBottom reports whether the viewport touches the end of the document.
func (s ScrollState) AtBottom() bool {
	return s.Y+s.Viewport >= s.Height-1
}

// Session is a rendered browsing session. Only one goroutine drives a
// session's navigation and scrolling; Fetch may be called concurrently once
// the page has settled.
type Session interface {
	Navigate(ctx context.Context, url string) error
	ScrollBy(ctx context.Context, delta int) (ScrollState, error)
	// WaitForQuiescence returns once no network request is in flight and
	// the DOM has not changed for window, or when timeout elapses.
	WaitForQuiescence(ctx context.Context, window, timeout time.Duration) error
	// QueryElements returns the outer HTML of every element matching selector.
	QueryElements(ctx context.Context, selector string) ([]string, error)
	// DismissOverlays clicks the first visible element matching a selector
	// or carrying one of the labels. It reports whether anything was clicked.
	DismissOverlays(ctx context.Context, selectors, labels []string) (bool, error)
	// Fetch issues a GET carrying the session's cookies, user agent and referer.
	Fetch(ctx context.Context, url string) (*http.Response, error)
	Close() error
}

// SessionFactory opens a new session for one acquisition attempt.
type SessionFactory func(ctx context.Context) (Session, error)
