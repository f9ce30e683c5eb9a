package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/aktagon/image-harvester/internal/chain"
	"github.com/aktagon/image-harvester/internal/probe"
)

func TestProbeNetwork(t *testing.T) {
	geo := geoServer(t, "CN")
	settings := testSettings(t)
	settings.Probe.OnBlocked = "skip"
	settings.Probe.Endpoints = []ProbeEndpoint{{Name: "ipapi.co", URL: geo.URL}}

	r, err := ProbeNetwork(context.Background(), settings, geo.Client())
	if err != nil {
		t.Fatal(err)
	}
	if r.Err != nil || r.Network.CountryCode != "CN" || r.Network.Source != "ipapi.co" {
		t.Errorf("network = %+v, err %v", r.Network, r.Err)
	}
	if !r.Gated || r.Decision.Verdict != probe.SkipOracle {
		t.Errorf("decision = %+v gated %v, want skip-oracle", r.Decision, r.Gated)
	}
	if len(r.Chain) != 1 || r.Chain[0].Health != chain.Healthy {
		t.Errorf("chain = %+v", r.Chain)
	}

	var buf bytes.Buffer
	PrintProbe(&buf, r)
	for _, want := range []string{"North, Somewhere", "Example ISP", "ipapi.co", "Gate: skip-oracle"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("probe output missing %q:\n%s", want, buf.String())
		}
	}
}

func TestProbeNetwork_Unreachable(t *testing.T) {
	settings := testSettings(t)
	settings.Probe.Endpoints = []ProbeEndpoint{{Name: "ipinfo.io", URL: "http://127.0.0.1:1/"}}

	r, err := ProbeNetwork(context.Background(), settings, nil)
	if err != nil {
		t.Fatal(err)
	}
	if r.Err == nil {
		t.Fatal("probe of a closed port should fail")
	}
	if r.Decision.Verdict != probe.Warn {
		t.Errorf("verdict = %s, want warn for an unknown location", r.Decision.Verdict)
	}
	if len(r.Chain) != 1 || r.Chain[0].Health == chain.Healthy {
		t.Errorf("chain = %+v, want the endpoint marked unhealthy", r.Chain)
	}

	var buf bytes.Buffer
	PrintProbe(&buf, r)
	if !strings.Contains(buf.String(), "Location unknown") || !strings.Contains(buf.String(), "Gate: warn") {
		t.Errorf("probe output:\n%s", buf.String())
	}
}

func TestProbeNetwork_BadGate(t *testing.T) {
	settings := testSettings(t)
	settings.Probe.OnBlocked = "ignore"
	if _, err := ProbeNetwork(context.Background(), settings, nil); err == nil {
		t.Error("ProbeNetwork() should reject an unknown on_blocked action")
	}
}
