package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"golang.org/x/sync/errgroup"

	"github.com/aktagon/image-harvester/internal/convert"
)

const (
	healthTimeout  = 5 * time.Second
	oracleEndpoint = "https://api.anthropic.com"
)

// browserNames are the executables chromedp looks for on PATH.
var browserNames = []string{
	"headless_shell",
	"headless-shell",
	"chromium",
	"chromium-browser",
	"google-chrome",
	"google-chrome-stable",
}

// Status is the overall verdict of a health check
type Status string

const (
	Healthy Status = "healthy"
	Warning Status = "warning"
	Failing Status = "error"
)

// EndpointCheck is the result of one reachability test
type EndpointCheck struct {
	Name    string
	URL     string
	Code    int
	Latency time.Duration
	Err     error
}

// OK reports whether the endpoint answered at all.
func (c EndpointCheck) OK() bool { return c.Err == nil }

// HealthReport collects everything the health command checks
type HealthReport struct {
	Browser   string // path, empty when none was found
	Engines   []convert.EngineStatus
	Endpoints []EndpointCheck
	Overall   Status
}

// HealthChecker checks local tools and network reachability.
type HealthChecker struct {
	settings  *Settings
	client    *http.Client
	oracleURL string
	lookPath  func(string) (string, error)
	engines   []convert.Engine
}

// NewHealthChecker creates a checker. A nil client uses a 5s timeout client.
func NewHealthChecker(settings *Settings, client *http.Client) *HealthChecker {
	if client == nil {
		client = &http.Client{Timeout: healthTimeout}
	}
	return &HealthChecker{settings: settings, client: client, oracleURL: oracleEndpoint, lookPath: exec.LookPath}
}

// Check runs every test. Engine initialization may start a browser.
func (h *HealthChecker) Check(ctx context.Context, targetURL string) (*HealthReport, error) {
	r := &HealthReport{Browser: h.findBrowser()}

	var opts []convert.Option
	if h.engines != nil {
		opts = append(opts, convert.WithEngines(h.engines...))
	}
	n, err := convert.New(h.settings.convertConfig(), nil, opts...)
	if err != nil {
		return nil, err
	}
	r.Engines = n.Availability(ctx)
	n.Close()

	var targets []EndpointCheck
	if targetURL != "" {
		targets = append(targets, EndpointCheck{Name: "target", URL: targetURL})
	}
	for _, ep := range h.settings.probeConfig().Endpoints {
		targets = append(targets, EndpointCheck{Name: "probe/" + ep.Name, URL: ep.URL})
	}
	targets = append(targets, EndpointCheck{Name: "oracle", URL: h.oracleURL})

	g, gctx := errgroup.WithContext(ctx)
	for i := range targets {
		g.Go(func() error {
			targets[i] = h.reach(gctx, targets[i])
			return nil
		})
	}
	g.Wait()
	r.Endpoints = targets

	r.Overall = overall(r)
	return r, nil
}

func (h *HealthChecker) findBrowser() string {
	if p := h.settings.Acquire.BrowserPath; p != "" {
		if path, err := h.lookPath(p); err == nil {
			return path
		}
		return ""
	}
	for _, name := range browserNames {
		if path, err := h.lookPath(name); err == nil {
			return path
		}
	}
	return ""
}

// reach treats any HTTP answer as reachable; the status is reported as is.
func (h *HealthChecker) reach(ctx context.Context, c EndpointCheck) EndpointCheck {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		c.Err = err
		return c
	}
	req.Header.Set("User-Agent", "image-harvester/health")

	start := time.Now()
	resp, err := h.client.Do(req)
	c.Latency = time.Since(start)
	if err != nil {
		c.Err = err
		return c
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
	c.Code = resp.StatusCode
	return c
}

// overall is healthy when every endpoint answers and an engine can run,
// a warning when at least half answer, and an error otherwise.
func overall(r *HealthReport) Status {
	engineOK := false
	for _, e := range r.Engines {
		if e.Err == nil {
			engineOK = true
			break
		}
	}
	if !engineOK {
		return Failing
	}

	ok := 0
	for _, e := range r.Endpoints {
		if e.OK() {
			ok++
		}
	}
	switch {
	case ok == len(r.Endpoints) && r.Browser != "":
		return Healthy
	case ok*2 >= len(r.Endpoints):
		return Warning
	default:
		return Failing
	}
}

// PrintHealth renders the report as tables.
func PrintHealth(w io.Writer, r *HealthReport) {
	t := newTable(w, "Tools")
	t.AppendHeader(table.Row{"Component", "Status", "Detail"})
	if r.Browser != "" {
		t.AppendRow(table.Row{"browser", "✓", r.Browser})
	} else {
		t.AppendRow(table.Row{"browser", "✗", "not found; only direct acquisition is possible"})
	}
	for _, e := range r.Engines {
		if e.Err == nil {
			t.AppendRow(table.Row{"convert/" + e.Name, "✓", ""})
		} else {
			t.AppendRow(table.Row{"convert/" + e.Name, "✗", firstLine(e.Err.Error())})
		}
	}
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 3, WidthMax: maxCell}})
	t.Render()

	t = newTable(w, "Network")
	t.AppendHeader(table.Row{"Endpoint", "Status", "Latency", "URL"})
	for _, e := range r.Endpoints {
		status := fmt.Sprint(e.Code)
		if e.Err != nil {
			status = "✗ " + firstLine(e.Err.Error())
		}
		t.AppendRow(table.Row{e.Name, status, e.Latency.Round(time.Millisecond), e.URL})
	}
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 2, WidthMax: maxCell}})
	t.Render()

	fmt.Fprintf(w, "Overall: %s\n", r.Overall)
}
