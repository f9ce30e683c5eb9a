package acquire

import (
	"net/url"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func TestCandidateURL_PicksWidestVariant(t *testing.T) {
	c := Candidate{
		SourceURL: "https://example.com/fallback.jpg",
		Variants: []Variant{
			{URL: "https://example.com/a.jpg", Width: 400},
			{URL: "https://example.com/b.jpg", Width: 1200},
			{URL: "https://example.com/c.jpg", Width: 800},
		},
	}
	if got := c.URL(); got != "https://example.com/b.jpg" {
		t.Errorf("URL() = %q, want b.jpg", got)
	}
}

func TestCandidateURL(t *testing.T) {
	tests := []struct {
		name string
		c    Candidate
		want string
	}{
		{
			name: "no descriptor uses source",
			c:    Candidate{SourceURL: "https://x/only.png"},
			want: "https://x/only.png",
		},
		{
			name: "density descriptors",
			c: Candidate{SourceURL: "https://x/1x.png", Variants: []Variant{
				{URL: "https://x/1x.png", Density: 1},
				{URL: "https://x/3x.png", Density: 3},
				{URL: "https://x/2x.png", Density: 2},
			}},
			want: "https://x/3x.png",
		},
		{
			name: "width wins over density",
			c: Candidate{Variants: []Variant{
				{URL: "https://x/2x.png", Density: 2},
				{URL: "https://x/640.png", Width: 640},
			}},
			want: "https://x/640.png",
		},
		{
			name: "tie keeps first",
			c: Candidate{Variants: []Variant{
				{URL: "https://x/first.png", Width: 800},
				{URL: "https://x/second.png", Width: 800},
			}},
			want: "https://x/first.png",
		},
		{
			name: "bare srcset entry without source",
			c:    Candidate{Variants: []Variant{{URL: "https://x/bare.png"}}},
			want: "https://x/bare.png",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.c.URL(); got != tt.want {
				t.Errorf("URL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseSrcset(t *testing.T) {
	base := mustURL(t, "https://example.com/gallery/index.html")

	got := ParseSrcset("small.jpg 400w, /img/large.jpg 1200w,\n  https://cdn.example.com/m.jpg 800w, data:image/png;base64,AAAA 10w", base)
	want := []Variant{
		{URL: "https://example.com/gallery/small.jpg", Width: 400},
		{URL: "https://example.com/img/large.jpg", Width: 1200},
		{URL: "https://cdn.example.com/m.jpg", Width: 800},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ParseSrcset() mismatch (-want +got):\n%s", diff)
	}

	got = ParseSrcset("a.png 1x, b.png 2x", base)
	want = []Variant{
		{URL: "https://example.com/gallery/a.png", Density: 1},
		{URL: "https://example.com/gallery/b.png", Density: 2},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ParseSrcset(density) mismatch (-want +got):\n%s", diff)
	}
}

func TestDedupe(t *testing.T) {
	cands := []Candidate{
		{SourceURL: "https://Example.com/a.jpg"},
		{SourceURL: "https://example.com/a.jpg#zoom"},
		{SourceURL: "https://example.com/b.jpg"},
		{Variants: []Variant{{URL: "https://example.com/b.jpg", Width: 10}}},
	}
	got := Dedupe(cands)
	if len(got) != 2 {
		t.Fatalf("Dedupe() kept %d, want 2: %+v", len(got), got)
	}
	if got[0].Index != 0 || got[1].Index != 1 || got[1].SourceURL != "https://example.com/b.jpg" {
		t.Errorf("Dedupe() = %+v", got)
	}
}
