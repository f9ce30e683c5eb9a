package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aktagon/image-harvester/internal/chain"
	"github.com/aktagon/image-harvester/internal/convert"
	"github.com/aktagon/image-harvester/internal/probe"
)

func TestPrintSummary(t *testing.T) {
	s := &RunSummary{
		TargetURL:  "https://example.com/",
		OutputDir:  "images",
		Strategy:   "rendered",
		Candidates: 2,
		Network:    &probe.NetworkContext{IP: "203.0.113.7", Country: "Finland", Region: "Uusimaa", ISP: "Example", Source: "ipapi.co"},
		Gate:       &probe.Decision{Verdict: probe.Proceed},
		Artifacts: []ArtifactOutcome{
			{PositionalName: "image_001.png", FinalName: "hero-spring-sale.png", Type: "hero", Confidence: 9, Strategy: "oracle", Status: StatusClassified, Size: 2048},
			{PositionalName: "image_002.svg", FinalName: "icon-logo.svg", Type: "icon", Confidence: 7, Strategy: "rules", Status: StatusClassified, Converted: "icon-logo.png"},
		},
		Downloaded: 2,
		Classified: 2,
		Converted:  1,
		Bytes:      2048,
		Elapsed:    1500 * time.Millisecond,
	}
	s.degrade(RegionRejection, "image_003.png", "unsupported_country_region_territory")

	var buf bytes.Buffer
	PrintSummary(&buf, s)
	out := buf.String()
	for _, want := range []string{
		"Uusimaa, Finland",
		"Gate: proceed",
		"hero-spring-sale.png",
		"icon-logo.svg → icon-logo.png",
		"2.0 kB",
		"1.5s",
		"region-rejection",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestPrintSummary_Clean(t *testing.T) {
	var buf bytes.Buffer
	PrintSummary(&buf, &RunSummary{TargetURL: "https://example.com/"})
	if !strings.Contains(buf.String(), "No degradations") {
		t.Errorf("summary = %s", buf.String())
	}
}

func TestCollectDegradations(t *testing.T) {
	s := &RunSummary{Chains: map[string][]chain.Status{
		"acquire": {
			{Name: "rendered", Health: chain.Disabled, LastError: errors.New("chrome not found\nstack")},
			{Name: "direct", Health: chain.Healthy},
		},
		"classify": {{Name: "oracle", Health: chain.Degraded}},
	}}
	(&Processor{}).collectDegradations(s)

	if len(s.Degradations) != 2 {
		t.Fatalf("degradations = %+v, want 2", s.Degradations)
	}
	if d := s.Degradations[0]; d.Subject != "acquire/rendered" || d.Detail != "disabled: chrome not found" {
		t.Errorf("first degradation = %+v", d)
	}
	if d := s.Degradations[1]; d.Subject != "classify/oracle" || d.Kind != DegradedStrategy {
		t.Errorf("second degradation = %+v", d)
	}
}

func TestHealthCheck(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer up.Close()

	settings, _ := parseSettings(nil)
	settings.Probe.Endpoints = []ProbeEndpoint{{Name: "ipapi.co", URL: up.URL}, {Name: "ipinfo.io", URL: "http://127.0.0.1:1/"}}

	h := NewHealthChecker(settings, up.Client())
	h.lookPath = func(name string) (string, error) {
		if name == "chromium" {
			return "/usr/bin/chromium", nil
		}
		return "", errors.New("not found")
	}
	h.engines = []convert.Engine{convert.Placeholder{}}
	h.oracleURL = up.URL

	r, err := h.Check(context.Background(), up.URL)
	if err != nil {
		t.Fatal(err)
	}
	if r.Browser != "/usr/bin/chromium" {
		t.Errorf("Browser = %q", r.Browser)
	}
	if len(r.Engines) != 1 || r.Engines[0].Err != nil {
		t.Errorf("Engines = %+v", r.Engines)
	}

	byName := make(map[string]EndpointCheck)
	for _, e := range r.Endpoints {
		byName[e.Name] = e
	}
	if c := byName["target"]; !c.OK() || c.Code != http.StatusTeapot {
		t.Errorf("target check = %+v", c)
	}
	if c := byName["probe/ipinfo.io"]; c.OK() {
		t.Errorf("closed port reported reachable: %+v", c)
	}
	if c := byName["oracle"]; !c.OK() {
		t.Errorf("oracle check = %+v", c)
	}
	if r.Overall != Warning {
		t.Errorf("Overall = %s, want warning with one of four endpoints down", r.Overall)
	}

	var buf bytes.Buffer
	PrintHealth(&buf, r)
	if !strings.Contains(buf.String(), "Overall: ") || !strings.Contains(buf.String(), "convert/placeholder") {
		t.Errorf("health output:\n%s", buf.String())
	}
}

func TestOverall(t *testing.T) {
	ok := EndpointCheck{Code: 200}
	bad := EndpointCheck{Err: errors.New("refused")}
	engines := []convert.EngineStatus{{Name: "chrome", Err: errors.New("missing")}, {Name: "placeholder"}}

	tests := []struct {
		name string
		r    HealthReport
		want Status
	}{
		{"all good", HealthReport{Browser: "/bin/chrome", Engines: engines, Endpoints: []EndpointCheck{ok, ok}}, Healthy},
		{"no browser", HealthReport{Engines: engines, Endpoints: []EndpointCheck{ok, ok}}, Warning},
		{"half reachable", HealthReport{Browser: "/bin/chrome", Engines: engines, Endpoints: []EndpointCheck{ok, bad}}, Warning},
		{"mostly down", HealthReport{Browser: "/bin/chrome", Engines: engines, Endpoints: []EndpointCheck{ok, bad, bad}}, Failing},
		{"no engine", HealthReport{Browser: "/bin/chrome", Engines: engines[:1], Endpoints: []EndpointCheck{ok}}, Failing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := overall(&tt.r); got != tt.want {
				t.Errorf("overall() = %s, want %s", got, tt.want)
			}
		})
	}
}
