package acquire

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// BrowserOptions configures a chromedp session.
type BrowserOptions struct {
	ExecPath    string
	Headless    bool
	NoSandbox   bool
	Profile     Profile
	Proxy       Proxy
	HTTPTimeout time.Duration
}

// BrowserSession is a Session backed by a Chrome tab driven over CDP.
type BrowserSession struct {
	opts   BrowserOptions
	ctx    context.Context
	cancel context.CancelFunc
	http   *cookieClient

	mu           sync.Mutex
	inflight     map[network.RequestID]struct{}
	lastActivity time.Time
	pageURL      string
}

// NewBrowserSession launches a browser and opens a tab. The browser is torn
// down by Close or when parent is canceled.
func NewBrowserSession(parent context.Context, opts BrowserOptions) (*BrowserSession, error) {
	hc, err := newCookieClient(opts.Proxy, opts.HTTPTimeout)
	if err != nil {
		return nil, err
	}

	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	allocOpts = append(allocOpts,
		chromedp.Flag("headless", opts.Headless),
		chromedp.WindowSize(opts.Profile.Width, opts.Profile.Height),
	)
	if opts.Profile.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.Profile.UserAgent))
	}
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}
	if opts.NoSandbox {
		allocOpts = append(allocOpts, chromedp.NoSandbox)
	}
	if opts.Proxy.Server != "" {
		allocOpts = append(allocOpts, chromedp.ProxyServer(opts.Proxy.Server))
	}
	if opts.Profile.Stealth {
		for name, value := range stealthFlags {
			allocOpts = append(allocOpts, chromedp.Flag(name, value))
		}
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, allocOpts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	s := &BrowserSession{
		opts: opts,
		ctx:  tabCtx,
		http: hc,
		cancel: func() {
			tabCancel()
			allocCancel()
		},
		inflight: make(map[network.RequestID]struct{}),
	}
	chromedp.ListenTarget(tabCtx, s.onEvent)

	headers := network.Headers{}
	for k, v := range opts.Profile.Headers() {
		headers[k] = v
	}
	scripts := []string{mutationScript}
	if opts.Profile.Stealth {
		scripts = append(scripts, stealthScripts...)
	}

	setup := []chromedp.Action{
		network.Enable(),
		network.SetExtraHTTPHeaders(headers),
	}
	if opts.Proxy.Username != "" {
		// proxy credentials cannot travel in --proxy-server
		setup = append(setup, fetch.Enable().WithHandleAuthRequests(true))
	}
	setup = append(setup,
		chromedp.ActionFunc(func(ctx context.Context) error {
			for _, src := range scripts {
				if _, err := page.AddScriptToEvaluateOnNewDocument(src).Do(ctx); err != nil {
					return err
				}
			}
			return nil
		}),
	)
	if err := chromedp.Run(tabCtx, setup...); err != nil {
		s.cancel()
		return nil, fmt.Errorf("starting browser: %w", err)
	}
	return s, nil
}

func (s *BrowserSession) onEvent(ev any) {
	switch e := ev.(type) {
	case *fetch.EventRequestPaused:
		go chromedp.Run(s.ctx, fetch.ContinueRequest(e.RequestID))
		return
	case *fetch.EventAuthRequired:
		go chromedp.Run(s.ctx, fetch.ContinueWithAuth(e.RequestID, &fetch.AuthChallengeResponse{
			Response: fetch.AuthChallengeResponseResponseProvideCredentials,
			Username: s.opts.Proxy.Username,
			Password: s.opts.Proxy.Password,
		}))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		s.inflight[e.RequestID] = struct{}{}
	case *network.EventLoadingFinished:
		delete(s.inflight, e.RequestID)
	case *network.EventLoadingFailed:
		delete(s.inflight, e.RequestID)
	default:
		return
	}
	s.lastActivity = time.Now()
}

// run executes actions on the tab, aborting when ctx is canceled.
func (s *BrowserSession) run(ctx context.Context, actions ...chromedp.Action) error {
	rctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(rctx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (s *BrowserSession) Navigate(ctx context.Context, target string) error {
	if err := s.run(ctx, chromedp.Navigate(target)); err != nil {
		return fmt.Errorf("navigating to %s: %w", target, err)
	}
	s.mu.Lock()
	s.pageURL = target
	s.mu.Unlock()
	return nil
}

const scrollScript = `(() => {
	window.scrollBy(0, %d);
	const el = document.scrollingElement || document.documentElement;
	return {y: window.scrollY, height: el.scrollHeight, viewport: window.innerHeight};
})()`

func (s *BrowserSession) ScrollBy(ctx context.Context, delta int) (ScrollState, error) {
	var st ScrollState
	if err := s.run(ctx, chromedp.Evaluate(fmt.Sprintf(scrollScript, delta), &st)); err != nil {
		return ScrollState{}, fmt.Errorf("scrolling: %w", err)
	}
	return st, nil
}

func (s *BrowserSession) WaitForQuiescence(ctx context.Context, window, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	var (
		lastCount   = -1
		lastChanged = time.Now()
	)
	for {
		var count int
		if err := s.run(ctx, chromedp.Evaluate(`window.__harvestMutations || 0`, &count)); err != nil {
			return fmt.Errorf("reading mutation counter: %w", err)
		}
		now := time.Now()
		if count != lastCount {
			lastCount = count
			lastChanged = now
		}

		s.mu.Lock()
		idle := len(s.inflight) == 0 && now.Sub(s.lastActivity) >= window
		s.mu.Unlock()
		if idle && now.Sub(lastChanged) >= window {
			return nil
		}
		if now.After(deadline) {
			// a page that never settles is still usable
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

const queryScript = `Array.from(document.querySelectorAll(%s)).map(e => e.outerHTML)`

func (s *BrowserSession) QueryElements(ctx context.Context, selector string) ([]string, error) {
	sel, err := json.Marshal(selector)
	if err != nil {
		return nil, err
	}
	var out []string
	if err := s.run(ctx, chromedp.Evaluate(fmt.Sprintf(queryScript, sel), &out)); err != nil {
		return nil, fmt.Errorf("querying %q: %w", selector, err)
	}
	return out, nil
}

const dismissScript = `((selectors, labels) => {
	const visible = e => !!(e.offsetWidth || e.offsetHeight || e.getClientRects().length);
	for (const sel of selectors) {
		let el = null;
		try { el = document.querySelector(sel); } catch (_) {}
		if (el && visible(el)) { el.click(); return true; }
	}
	const buttons = document.querySelectorAll('button, [role=button], a');
	for (const b of buttons) {
		const text = (b.innerText || '').trim();
		if (labels.includes(text) && visible(b)) { b.click(); return true; }
	}
	return false;
})(%s, %s)`

func (s *BrowserSession) DismissOverlays(ctx context.Context, selectors, labels []string) (bool, error) {
	sel, _ := json.Marshal(nonNil(selectors))
	lab, _ := json.Marshal(nonNil(labels))
	var clicked bool
	if err := s.run(ctx, chromedp.Evaluate(fmt.Sprintf(dismissScript, sel, lab), &clicked)); err != nil {
		return false, fmt.Errorf("dismissing overlays: %w", err)
	}
	return clicked, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Fetch copies the tab's cookies for target into the session jar and issues
// the request from the session's HTTP client, so concurrent downloads never
// touch the tab itself.
func (s *BrowserSession) Fetch(ctx context.Context, target string) (*http.Response, error) {
	if _, err := url.Parse(target); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", target, err)
	}

	var cookies []*network.Cookie
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().WithURLs([]string{target}).Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("reading session cookies: %w", err)
	}

	httpCookies := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		httpCookies = append(httpCookies, &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			Domain:   c.Domain,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		})
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	referer := s.pageURL
	s.mu.Unlock()
	s.opts.Profile.applyImage(req, referer)

	return s.http.Do(req, httpCookies)
}

func (s *BrowserSession) Close() error {
	s.cancel()
	s.http.Close()
	return nil
}
