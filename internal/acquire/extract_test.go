package acquire

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const galleryHTML = `<!doctype html>
<html><head><title>Acme</title></head>
<body>
  <img src="/hero.jpg" alt="Main banner" width="1600" height="600">
  <img src="placeholder.gif" data-src="/lazy/product-1.jpg" alt="Widget">
  <img srcset="/team-400.jpg 400w, /team-1200.jpg 1200w, /team-800.jpg 800w" alt="Our team">
  <picture>
    <source srcset="/news.webp 2x, /news-small.webp 1x">
    <img src="/news.jpg" alt="Press release">
  </picture>
  <img src="data:image/gif;base64,R0lGODlhAQABAAAAACw=">
  <img src="/tracking/pixel.gif">
  <img src="/hero.jpg#again">
</body></html>`

func TestExtract(t *testing.T) {
	e, err := NewExtractor([]string{`/tracking/`})
	if err != nil {
		t.Fatal(err)
	}

	cands, err := e.Extract(galleryHTML, mustURL(t, "https://acme.test/"))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	type row struct {
		URL   string
		Alt   string
		Index int
	}
	var got []row
	for _, c := range cands {
		got = append(got, row{c.URL(), c.Alt, c.Index})
	}
	want := []row{
		{"https://acme.test/hero.jpg", "Main banner", 0},
		{"https://acme.test/lazy/product-1.jpg", "Widget", 1},
		{"https://acme.test/team-1200.jpg", "Our team", 2},
		{"https://acme.test/news.webp", "Press release", 3},
		{"https://acme.test/news.jpg", "Press release", 4},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Extract() mismatch (-want +got):\n%s", diff)
	}
	if cands[0].Width != 1600 || cands[0].Height != 600 {
		t.Errorf("declared size = %dx%d, want 1600x600", cands[0].Width, cands[0].Height)
	}
}

func TestExtract_BaseHref(t *testing.T) {
	e, _ := NewExtractor(nil)
	html := `<html><head><base href="https://cdn.acme.test/assets/"></head><body><img src="logo.svg"></body></html>`

	cands, err := e.Extract(html, mustURL(t, "https://acme.test/about"))
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 1 || cands[0].URL() != "https://cdn.acme.test/assets/logo.svg" {
		t.Errorf("Extract() = %+v", cands)
	}
}

func TestExtractFragments(t *testing.T) {
	e, _ := NewExtractor(nil)
	tests := []struct {
		name      string
		fragments []string
		want      []string
		alts      []string
	}{
		{
			name:      "plain images",
			fragments: []string{`<img src="/a.png" alt="A">`, `<img src="/b.png" alt="B">`},
			want:      []string{"https://acme.test/a.png", "https://acme.test/b.png"},
			alts:      []string{"A", "B"},
		},
		{
			name: "whole picture keeps its sources",
			fragments: []string{
				`<picture><source srcset="/hi.webp 1600w, /lo.webp 400w"><img src="/fallback.jpg" alt="Hero"></picture>`,
				`<img src="/team.png" alt="Team">`,
			},
			want: []string{"https://acme.test/hi.webp", "https://acme.test/fallback.jpg", "https://acme.test/team.png"},
			alts: []string{"Hero", "Hero", "Team"},
		},
		{
			name:      "source without its picture",
			fragments: []string{`<source srcset="/hi.webp 1600w, /lo.webp 400w">`, `<img src="/fallback.jpg" alt="Other">`},
			want:      []string{"https://acme.test/hi.webp", "https://acme.test/fallback.jpg"},
			alts:      []string{"", "Other"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cands, err := e.ExtractFragments(tt.fragments, mustURL(t, "https://acme.test/"))
			if err != nil {
				t.Fatal(err)
			}
			var urls, alts []string
			for _, c := range cands {
				urls = append(urls, c.URL())
				alts = append(alts, c.Alt)
			}
			if diff := cmp.Diff(tt.want, urls); diff != "" {
				t.Errorf("urls mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.alts, alts); diff != "" {
				t.Errorf("alts mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestExtractFragments_MatchesDirectScan(t *testing.T) {
	e, _ := NewExtractor(nil)
	base := mustURL(t, "https://acme.test/")
	picture := `<picture><source srcset="/hi.webp 1600w, /lo.webp 400w"><img src="/fallback.jpg"></picture>`

	direct, err := e.Extract("<html><body>"+picture+"</body></html>", base)
	if err != nil {
		t.Fatal(err)
	}
	rendered, err := e.ExtractFragments([]string{picture}, base)
	if err != nil {
		t.Fatal(err)
	}
	if len(rendered) != len(direct) || rendered[0].URL() != direct[0].URL() {
		t.Errorf("rendered scan found %d candidates, direct scan found %d", len(rendered), len(direct))
	}
}

func TestNewExtractor_BadPattern(t *testing.T) {
	if _, err := NewExtractor([]string{"("}); err == nil {
		t.Error("NewExtractor() should reject an invalid pattern")
	}
}

func TestPageContext(t *testing.T) {
	html := `<html><body><h1>Acme Widgets</h1><p>Industrial widgets since 1901.</p></body></html>`

	got, err := PageContext(html, 1000)
	if err != nil {
		t.Fatalf("PageContext() error = %v", err)
	}
	if !strings.Contains(got, "# Acme Widgets") || !strings.Contains(got, "Industrial widgets") {
		t.Errorf("PageContext() = %q", got)
	}

	short, _ := PageContext(html, 5)
	if short != "# Acm..." {
		t.Errorf("PageContext(5) = %q", short)
	}

	if empty, _ := PageContext(html, 0); empty != "" {
		t.Errorf("PageContext(0) = %q, want empty", empty)
	}
}
