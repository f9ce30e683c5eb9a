package main

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/aktagon/image-harvester/internal/chain"
	"github.com/aktagon/image-harvester/internal/logging"
	"github.com/aktagon/image-harvester/internal/probe"
)

// ProbeReport is the standalone result of the probe command
type ProbeReport struct {
	Network  probe.NetworkContext
	Err      error
	Decision probe.Decision
	Gated    bool // false when no country is blocked
	Chain    []chain.Status
}

// ProbeNetwork resolves the egress location and evaluates the gate without
// running anything else.
func ProbeNetwork(ctx context.Context, settings *Settings, client *http.Client) (*ProbeReport, error) {
	gate, err := probe.NewGate(settings.Probe.BlockedCountries, settings.Probe.OnBlocked)
	if err != nil {
		return nil, err
	}
	cfg := settings.probeConfig()
	cfg.Client = client
	cfg.Logger = logging.New("probe")
	prober, err := probe.New(cfg)
	if err != nil {
		return nil, err
	}

	r := &ProbeReport{Gated: gate.Enabled()}
	r.Network, r.Err = prober.Probe(ctx)
	r.Chain = prober.Snapshot()
	if r.Gated {
		r.Decision = gate.Evaluate(r.Network, r.Err)
	}
	return r, nil
}

// PrintProbe renders the location and per-endpoint health.
func PrintProbe(w io.Writer, r *ProbeReport) {
	if r.Err != nil {
		fmt.Fprintf(w, "✗ Location unknown: %s\n", firstLine(r.Err.Error()))
	} else {
		n := r.Network
		t := newTable(w, "Network")
		t.AppendRows([]table.Row{
			{"IP", n.IP},
			{"Location", n.Location()},
			{"Country code", orDash(n.CountryCode)},
			{"ISP", n.ISP},
			{"Source", n.Source},
		})
		t.Render()
	}

	t := newTable(w, "Endpoints")
	t.AppendHeader(table.Row{"Endpoint", "Health", "Attempts", "Last error"})
	for _, s := range r.Chain {
		last := ""
		if s.LastError != nil {
			last = firstLine(s.LastError.Error())
		}
		t.AppendRow(table.Row{s.Name, s.Health, s.Attempts, last})
	}
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 4, WidthMax: maxCell}})
	t.Render()

	if r.Gated {
		fmt.Fprintf(w, "Gate: %s", r.Decision.Verdict)
		if r.Decision.Reason != "" {
			fmt.Fprintf(w, " (%s)", r.Decision.Reason)
		}
		fmt.Fprintln(w)
	}
}
