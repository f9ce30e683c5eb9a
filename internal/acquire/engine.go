// Package acquire discovers the images on a target page and downloads them
// into the artifact directory.
//
// Two strategies run through a fallback chain: "rendered" drives a real
// browser, scrolls until lazy content has loaded and downloads through the
// browser session's cookies; "direct" fetches static markup with a plain
// client.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os/exec"
	"strings"
	"time"

	"github.com/aktagon/image-harvester/internal/chain"
	"github.com/aktagon/image-harvester/internal/store"
)

const (
	StrategyRendered = "rendered"
	StrategyDirect   = "direct"

	maxPageBytes = 16 << 20
)

// ErrNoImages is returned when a strategy finds no image candidates.
var ErrNoImages = errors.New("no images found")

// Config drives acquisition.
type Config struct {
	Engine           string // auto, rendered or direct
	Headless         bool
	NoSandbox        bool
	BrowserPath      string
	Stealth          bool
	Proxy            Proxy
	Scroll           ScrollConfig
	ConsentSelectors []string
	ConsentLabels    []string
	ExcludePatterns  []string
	PageTimeout      time.Duration
	ContextChars     int
	Download         DownloadConfig

	MaxAttempts    int
	Backoff        chain.Backoff
	AttemptTimeout time.Duration
}

// Harvest is the result of one successful acquisition.
type Harvest struct {
	Strategy    string
	PageURL     string
	Candidates  int
	ScrollSteps int
	Artifacts   []Artifact
	Failures    []DownloadFailure
	PageContext string
}

// Option configures an Engine.
type Option func(*Engine)

// WithSessionFactory replaces the chromedp session, mainly for tests.
func WithSessionFactory(f SessionFactory) Option {
	return func(e *Engine) { e.newSession = f }
}

// WithHTTPClient sets the client used by the direct strategy.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) { e.client = c }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithObserver forwards chain events, typically to metrics.
func WithObserver(o chain.Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// Engine runs the acquisition chain.
type Engine struct {
	cfg        Config
	profile    Profile
	extractor  *Extractor
	downloader *Downloader
	newSession SessionFactory
	client     *http.Client
	logger     *slog.Logger
	observer   chain.Observer
	chain      *chain.Chain[string, *Harvest]
}

// New builds the engine and registers the strategies selected by cfg.Engine.
func New(cfg Config, dir *store.Dir, opts ...Option) (*Engine, error) {
	extractor, err := NewExtractor(cfg.ExcludePatterns)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:       cfg,
		profile:   NewProfile(cfg.Stealth),
		extractor: extractor,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.downloader = NewDownloader(dir, cfg.Download, e.logger)

	if e.client == nil {
		e.client, err = newHTTPClient(cfg.Proxy, cfg.PageTimeout)
		if err != nil {
			return nil, err
		}
	}
	if e.newSession == nil {
		e.newSession = func(ctx context.Context) (Session, error) {
			return NewBrowserSession(ctx, BrowserOptions{
				ExecPath:    cfg.BrowserPath,
				Headless:    cfg.Headless,
				NoSandbox:   cfg.NoSandbox,
				Profile:     e.profile,
				Proxy:       cfg.Proxy,
				HTTPTimeout: cfg.PageTimeout,
			})
		}
	}

	e.chain = chain.New[string, *Harvest]("acquire",
		chain.WithMaxAttempts(cfg.MaxAttempts),
		chain.WithBackoff(cfg.Backoff),
		chain.WithAttemptTimeout(cfg.AttemptTimeout),
		chain.WithLogger(e.logger),
		chain.WithObserver(e.observer),
	)
	switch strings.ToLower(cfg.Engine) {
	case "", "auto":
		e.chain.Add(StrategyRendered, e.rendered).Add(StrategyDirect, e.direct)
	case StrategyRendered:
		e.chain.Add(StrategyRendered, e.rendered)
	case StrategyDirect:
		e.chain.Add(StrategyDirect, e.direct)
	default:
		return nil, fmt.Errorf("unknown acquisition engine %q (want auto, rendered or direct)", cfg.Engine)
	}
	return e, nil
}

// Acquire downloads the images of pageURL using the first strategy that
// succeeds.
func (e *Engine) Acquire(ctx context.Context, pageURL string) (*Harvest, error) {
	return e.chain.Execute(ctx, pageURL)
}

// Snapshot reports strategy health for the run summary.
func (e *Engine) Snapshot() []chain.Status {
	return e.chain.Snapshot()
}

func (e *Engine) rendered(ctx context.Context, pageURL string) (*Harvest, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, chain.Permanent(fmt.Errorf("parsing %s: %w", pageURL, err))
	}

	s, err := e.newSession(ctx)
	if err != nil {
		if browserMissing(err) {
			return nil, chain.Permanent(fmt.Errorf("render environment unavailable: %w", err))
		}
		return nil, fmt.Errorf("starting render session: %w", err)
	}
	defer s.Close()

	e.logger.Info("→ Rendering", "url", pageURL)
	if err := s.Navigate(ctx, pageURL); err != nil {
		return nil, err
	}

	if len(e.cfg.ConsentSelectors) > 0 || len(e.cfg.ConsentLabels) > 0 {
		clicked, err := s.DismissOverlays(ctx, e.cfg.ConsentSelectors, e.cfg.ConsentLabels)
		switch {
		case err != nil:
			e.logger.Debug("consent dismissal failed", "error", err)
		case clicked:
			e.logger.Info("✓ Dismissed consent overlay")
		}
	}

	steps, err := Settle(ctx, s, e.cfg.Scroll, e.logger)
	if err != nil {
		return nil, fmt.Errorf("settling page: %w", err)
	}

	fragments, err := s.QueryElements(ctx, FragmentSelector)
	if err != nil {
		return nil, err
	}
	cands, err := e.extractor.ExtractFragments(fragments, base)
	if err != nil {
		return nil, err
	}
	e.logger.Info("→ Scanning", "strategy", StrategyRendered, "candidates", len(cands), "scroll_steps", steps)
	if len(cands) == 0 {
		return nil, ErrNoImages
	}

	var pageContext string
	if doc, err := s.QueryElements(ctx, "html"); err == nil && len(doc) > 0 {
		pageContext = e.pageContext(doc[0])
	}

	h, err := e.download(ctx, cands, s.Fetch)
	if err != nil {
		return nil, err
	}
	h.Strategy = StrategyRendered
	h.PageURL = pageURL
	h.ScrollSteps = steps
	h.PageContext = pageContext
	return h, nil
}

func (e *Engine) direct(ctx context.Context, pageURL string) (*Harvest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, chain.Permanent(fmt.Errorf("building request for %s: %w", pageURL, err))
	}
	e.profile.apply(req)

	e.logger.Info("→ Fetching", "url", pageURL)
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode, pageURL)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", pageURL, err)
	}

	base := resp.Request.URL
	cands, err := e.extractor.Extract(string(body), base)
	if err != nil {
		return nil, chain.Permanent(err)
	}
	e.logger.Info("→ Scanning", "strategy", StrategyDirect, "candidates", len(cands))
	if len(cands) == 0 {
		return nil, ErrNoImages
	}

	h, err := e.download(ctx, cands, e.plainFetch)
	if err != nil {
		return nil, err
	}
	h.Strategy = StrategyDirect
	h.PageURL = pageURL
	h.PageContext = e.pageContext(string(body))
	return h, nil
}

func (e *Engine) plainFetch(ctx context.Context, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, chain.Permanent(err)
	}
	req.Header.Set("User-Agent", e.profile.UserAgent)
	return e.client.Do(req)
}

func (e *Engine) download(ctx context.Context, cands []Candidate, fetch FetchFunc) (*Harvest, error) {
	artifacts, failures, err := e.downloader.Download(ctx, cands, fetch)
	if err != nil {
		removeArtifacts(e.downloader.dir, artifacts)
		return nil, err
	}
	if len(artifacts) == 0 {
		last := failures[len(failures)-1].Err
		return nil, fmt.Errorf("all %d downloads failed, last: %w", len(failures), chain.Transient(last))
	}
	return &Harvest{
		Candidates: len(cands),
		Artifacts:  artifacts,
		Failures:   failures,
	}, nil
}

func (e *Engine) pageContext(html string) string {
	text, err := PageContext(html, e.cfg.ContextChars)
	if err != nil {
		e.logger.Debug("page context unavailable", "error", err)
		return ""
	}
	return text
}

// removeArtifacts undoes a partial harvest so an aborted strategy leaves
// nothing behind for the next one.
func removeArtifacts(dir *store.Dir, artifacts []Artifact) {
	for _, a := range artifacts {
		dir.Remove(a.Name)
	}
}

func browserMissing(err error) bool {
	return errors.Is(err, exec.ErrNotFound) || strings.Contains(err.Error(), "executable file not found")
}
