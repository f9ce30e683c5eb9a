package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/aktagon/image-harvester/internal/classify"
	"github.com/aktagon/image-harvester/internal/convert"
	"github.com/aktagon/image-harvester/internal/store"
)

const logoSVG = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 10 10"><rect width="10" height="10" fill="red"/></svg>`

func pngOf(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// testSite serves a page with a wide banner, an SVG logo and a team photo.
func testSite(t *testing.T, page string) *httptest.Server {
	t.Helper()
	banner, team := pngOf(t, 1600, 400), pngOf(t, 200, 200)
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, page)
	})
	mux.HandleFunc("/img/banner.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(banner)
	})
	mux.HandleFunc("/img/logo.svg", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/svg+xml")
		fmt.Fprint(w, logoSVG)
	})
	mux.HandleFunc("/img/team.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(team)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

const companyPage = `<html><body><h1>Acme Spring</h1>
<img src="/img/banner.png" alt="Spring banner">
<img src="/img/logo.svg">
<img src="/img/team.png" alt="our team">
</body></html>`

func testSettings(t *testing.T) *Settings {
	t.Helper()
	s, err := parseSettings(nil)
	if err != nil {
		t.Fatal(err)
	}
	s.Target.OutputDirectory = filepath.Join(t.TempDir(), "images")
	s.Acquire.Engine = "direct"
	s.Acquire.Download.Delay = 0
	s.Acquire.Download.RetryDelay = 0
	s.Chain.MaxAttempts = 1
	s.Chain.BaseDelay = 0
	s.Probe.Enabled = false
	s.Classify.RequestsPerMinute = 0
	return s
}

// fakeOracle names the banner and refuses everything else on region grounds.
type fakeOracle struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeOracle) Classify(_ context.Context, req classify.Request) (classify.Judgement, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.Alt)
	f.mu.Unlock()
	if req.Alt == "Spring banner" {
		return classify.Judgement{Type: classify.Hero, Description: "spring sale banner", Confidence: 9}, nil
	}
	return classify.Judgement{}, &classify.RejectionError{Reason: "unsupported_country_region_territory", RegionUnsupported: true}
}

func TestProcessor_Run(t *testing.T) {
	srv := testSite(t, companyPage)
	settings := testSettings(t)
	oracle := &fakeOracle{}

	p := NewProcessor(settings, "", WithOracle(oracle), WithConvertEngines(convert.Native{}))
	summary, err := p.Run(context.Background(), srv.URL+"/")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	type row struct {
		Positional, Final, Type, Tier string
		Status                        ArtifactStatus
		Converted                     string
	}
	var got []row
	for _, a := range summary.Artifacts {
		got = append(got, row{a.PositionalName, a.FinalName, a.Type, a.Strategy, a.Status, a.Converted})
	}
	want := []row{
		{"image_001.png", "hero-spring-sale-banner.png", "hero", "oracle", StatusClassified, ""},
		{"image_002.svg", "icon-logo.svg", "icon", "rules", StatusClassified, "icon-logo.png"},
		{"image_003.png", "team-our-team.png", "team", "rules", StatusClassified, ""},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("artifacts mismatch (-want +got):\n%s", diff)
	}

	// the SVG never reaches the oracle
	if len(oracle.calls) != 2 {
		t.Errorf("oracle calls = %v, want 2", oracle.calls)
	}
	if summary.Strategy != "direct" || summary.Downloaded != 3 || summary.Classified != 3 || summary.Converted != 1 {
		t.Errorf("totals = strategy %q downloaded %d classified %d converted %d",
			summary.Strategy, summary.Downloaded, summary.Classified, summary.Converted)
	}

	var kinds []DegradationKind
	for _, d := range summary.Degradations {
		kinds = append(kinds, d.Kind)
	}
	if diff := cmp.Diff([]DegradationKind{RegionRejection}, kinds); diff != "" {
		t.Errorf("degradations mismatch (-want +got):\n%s", diff)
	}

	dir, err := store.Open(settings.Target.OutputDirectory)
	if err != nil {
		t.Fatal(err)
	}
	names, _ := dir.List()
	wantNames := []string{"hero-spring-sale-banner.png", "icon-logo.png", "icon-logo.svg", "team-our-team.png"}
	if diff := cmp.Diff(wantNames, names); diff != "" {
		t.Errorf("directory mismatch (-want +got):\n%s", diff)
	}
}

func TestProcessor_NoAPIKeyUsesRules(t *testing.T) {
	srv := testSite(t, companyPage)
	settings := testSettings(t)
	settings.Convert.Enabled = false

	summary, err := NewProcessor(settings, "").Run(context.Background(), srv.URL+"/")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(summary.Degradations) == 0 || summary.Degradations[0].Kind != OracleUnavailable {
		t.Errorf("degradations = %v, want oracle-unavailable first", summary.Degradations)
	}
	for _, a := range summary.Artifacts {
		if a.Strategy != classify.TierRules {
			t.Errorf("%s classified by %q, want rules", a.PositionalName, a.Strategy)
		}
	}
	if summary.Artifacts[0].FinalName != "hero-spring-banner.png" {
		t.Errorf("banner named %q, want hero-spring-banner.png", summary.Artifacts[0].FinalName)
	}
}

func TestProcessor_ClassificationDisabled(t *testing.T) {
	srv := testSite(t, companyPage)
	settings := testSettings(t)
	settings.Classify.Enabled = false
	settings.Convert.Enabled = false

	summary, err := NewProcessor(settings, "").Run(context.Background(), srv.URL+"/")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	for _, a := range summary.Artifacts {
		if a.Status != StatusKept || a.FinalName != a.PositionalName {
			t.Errorf("%s: status %q name %q, want kept under its positional name", a.PositionalName, a.Status, a.FinalName)
		}
	}
	if len(summary.Degradations) != 0 {
		t.Errorf("degradations = %v, want none", summary.Degradations)
	}
}

func TestProcessor_NothingAcquiredIsFatal(t *testing.T) {
	srv := testSite(t, `<html><body><p>no pictures here</p></body></html>`)
	settings := testSettings(t)

	summary, err := NewProcessor(settings, "").Run(context.Background(), srv.URL+"/")
	if err == nil {
		t.Fatal("Run() should fail when no image is acquired")
	}
	if summary == nil || len(summary.Chains["acquire"]) != 1 {
		t.Errorf("summary should still report the acquire chain, got %+v", summary)
	}
}

func TestProcessor_FailedRunStillReportsStrategies(t *testing.T) {
	gone := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	t.Cleanup(gone.Close)
	settings := testSettings(t)
	settings.Classify.Enabled = false

	summary, err := NewProcessor(settings, "").Run(context.Background(), gone.URL+"/")
	if err == nil {
		t.Fatal("Run() should fail when the page is gone")
	}

	var found bool
	for _, d := range summary.Degradations {
		if d.Kind == DegradedStrategy && d.Subject == "acquire/direct" {
			found = true
			if !strings.HasPrefix(d.Detail, "disabled") {
				t.Errorf("detail = %q, want disabled", d.Detail)
			}
		}
	}
	if !found {
		t.Errorf("degradations = %+v, want acquire/direct reported", summary.Degradations)
	}

	var buf bytes.Buffer
	PrintSummary(&buf, summary)
	if bytes.Contains(buf.Bytes(), []byte("No degradations")) {
		t.Errorf("failed run printed a clean summary:\n%s", buf.String())
	}
}

// geoServer answers like ipapi.co for the given country code.
func geoServer(t *testing.T, code string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"ip":"203.0.113.7","country_name":"Somewhere","country_code":%q,"region":"North","org":"Example ISP"}`, code)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestProcessor_NetworkGate(t *testing.T) {
	tests := []struct {
		name        string
		code        string
		onBlocked   string
		wantErr     bool
		wantOracle  bool
		wantVerdict string
	}{
		{"allowed region", "FI", "skip", false, true, "proceed"},
		{"blocked region skips oracle", "CN", "skip", false, false, "skip-oracle"},
		{"blocked region warns", "CN", "warn", false, true, "warn"},
		{"blocked region aborts", "CN", "abort", true, false, "abort"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			site := testSite(t, companyPage)
			geo := geoServer(t, tt.code)

			settings := testSettings(t)
			settings.Convert.Enabled = false
			settings.Probe.Enabled = true
			settings.Probe.OnBlocked = tt.onBlocked
			settings.Probe.Endpoints = []ProbeEndpoint{{Name: "ipapi.co", URL: geo.URL}}
			oracle := &fakeOracle{}

			summary, err := NewProcessor(settings, "", WithOracle(oracle)).Run(context.Background(), site.URL+"/")
			if tt.wantErr {
				if !errors.Is(err, ErrGateAbort) {
					t.Fatalf("Run() error = %v, want ErrGateAbort", err)
				}
				if summary.Downloaded != 0 {
					t.Errorf("downloaded %d images after abort", summary.Downloaded)
				}
			} else if err != nil {
				t.Fatalf("Run() error = %v", err)
			}

			if summary.Gate == nil || summary.Gate.Verdict.String() != tt.wantVerdict {
				t.Errorf("gate = %+v, want %s", summary.Gate, tt.wantVerdict)
			}
			if called := len(oracle.calls) > 0; called != tt.wantOracle {
				t.Errorf("oracle called = %v, want %v", called, tt.wantOracle)
			}
			if summary.Network == nil || summary.Network.CountryCode != tt.code {
				t.Errorf("network = %+v", summary.Network)
			}
		})
	}
}

func TestProcessor_MetricsObserveChains(t *testing.T) {
	srv := testSite(t, companyPage)
	settings := testSettings(t)
	settings.Convert.Enabled = false
	m := NewMetrics()

	if _, err := NewProcessor(settings, "", WithOracle(&fakeOracle{}), WithMetrics(m)).Run(context.Background(), srv.URL+"/"); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "harvest.prom")
	if err := m.WriteFile(path); err != nil {
		t.Fatal(err)
	}
	text, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		`image_harvester_chain_attempts_total{chain="acquire",outcome="success",strategy="direct"} 1`,
		`image_harvester_images{state="downloaded"} 3`,
		`image_harvester_chain_strategy_health{chain="classify",strategy="oracle"} 0`,
	} {
		if !bytes.Contains(text, []byte(want)) {
			t.Errorf("metrics missing %q in:\n%s", want, text)
		}
	}
}
