// Package probe determines the egress network identity through a chain of
// public geolocation endpoints.
package probe

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aktagon/image-harvester/internal/chain"
)

// NetworkContext is the egress identity of this run. It is never persisted.
type NetworkContext struct {
	IP          string
	Country     string
	CountryCode string
	Region      string
	ISP         string
	Source      string // endpoint that produced the record
}

// Complete reports whether every field the gate relies on is present.
func (n NetworkContext) Complete() bool {
	return n.IP != "" && (n.Country != "" || n.CountryCode != "") && n.Region != "" && n.ISP != ""
}

// Location renders "Region, Country" for logs and summaries.
func (n NetworkContext) Location() string {
	country := n.Country
	if country == "" {
		country = n.CountryCode
	}
	if n.Region == "" {
		return country
	}
	return n.Region + ", " + country
}

// Config drives the prober.
type Config struct {
	Endpoints   []Endpoint
	Timeout     time.Duration
	MaxAttempts int
	Backoff     chain.Backoff
	UserAgent   string
	Client      *http.Client
	Logger      *slog.Logger
	Observer    chain.Observer
}

// Prober resolves the NetworkContext.
type Prober struct {
	client    *http.Client
	userAgent string
	chain     *chain.Chain[struct{}, NetworkContext]
}

// New builds a prober. Endpoints without a known parser are rejected.
func New(cfg Config) (*Prober, error) {
	endpoints := cfg.Endpoints
	if len(endpoints) == 0 {
		endpoints = DefaultEndpoints
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	p := &Prober{
		client:    client,
		userAgent: cfg.UserAgent,
		chain: chain.New[struct{}, NetworkContext]("probe",
			chain.WithMaxAttempts(cfg.MaxAttempts),
			chain.WithBackoff(cfg.Backoff),
			chain.WithAttemptTimeout(timeout),
			chain.WithLogger(logger),
			chain.WithObserver(cfg.Observer),
		),
	}
	for _, ep := range endpoints {
		parse, ok := ParserFor(ep.Name)
		if !ok {
			return nil, fmt.Errorf("no parser for probe endpoint %q", ep.Name)
		}
		p.chain.Add(ep.Name, p.attempt(ep, parse))
	}
	return p, nil
}

// Probe returns the first complete record.
func (p *Prober) Probe(ctx context.Context) (NetworkContext, error) {
	return p.chain.Execute(ctx, struct{}{})
}

// Snapshot reports endpoint health.
func (p *Prober) Snapshot() []chain.Status {
	return p.chain.Snapshot()
}

func (p *Prober) attempt(ep Endpoint, parse Parser) chain.AttemptFunc[struct{}, NetworkContext] {
	return func(ctx context.Context, _ struct{}) (NetworkContext, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep.URL, nil)
		if err != nil {
			return NetworkContext{}, chain.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		if p.userAgent != "" {
			req.Header.Set("User-Agent", p.userAgent)
		}

		resp, err := p.client.Do(req)
		if err != nil {
			return NetworkContext{}, fmt.Errorf("querying %s: %w", ep.Name, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return NetworkContext{}, fmt.Errorf("%s returned HTTP %d", ep.Name, resp.StatusCode)
		default:
			return NetworkContext{}, chain.Permanent(fmt.Errorf("%s returned HTTP %d", ep.Name, resp.StatusCode))
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if err != nil {
			return NetworkContext{}, fmt.Errorf("reading %s: %w", ep.Name, err)
		}

		nc, err := parse(body)
		if err != nil {
			return NetworkContext{}, chain.Permanent(fmt.Errorf("malformed %s response: %w", ep.Name, err))
		}
		nc.Source = ep.Name
		if !nc.Complete() {
			return NetworkContext{}, chain.Permanent(fmt.Errorf("%s: %w: %+v", ep.Name, ErrIncomplete, nc))
		}
		nc.Country = strings.TrimSpace(nc.Country)
		nc.CountryCode = strings.ToUpper(strings.TrimSpace(nc.CountryCode))
		return nc, nil
	}
}
