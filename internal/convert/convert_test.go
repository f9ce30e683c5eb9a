package convert

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/aktagon/image-harvester/internal/chain"
	"github.com/aktagon/image-harvester/internal/store"
)

const redSquare = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 10 10"><rect x="0" y="0" width="10" height="10" fill="red"/></svg>`

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newDir(t *testing.T, files map[string]string) *store.Dir {
	t.Helper()
	d, err := store.Open(filepath.Join(t.TempDir(), "images"))
	if err != nil {
		t.Fatal(err)
	}
	for name, body := range files {
		if _, err := d.Write(context.Background(), name, strings.NewReader(body)); err != nil {
			t.Fatal(err)
		}
	}
	return d
}

// fakeEngine fails Init with initErr, and fails Convert for documents
// containing failOn.
type fakeEngine struct {
	name    string
	initErr error
	failOn  string
	inits   int32
	calls   int32
}

func (f *fakeEngine) Name() string { return f.name }

func (f *fakeEngine) Init(context.Context) error {
	atomic.AddInt32(&f.inits, 1)
	return f.initErr
}

func (f *fakeEngine) Convert(_ context.Context, svg []byte, _ Options) ([]byte, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.failOn != "" && bytes.Contains(svg, []byte(f.failOn)) {
		return nil, errors.New("unsupported element")
	}
	return []byte("png from " + f.name), nil
}

func decode(t *testing.T, b []byte) image.Image {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(b))
	if err != nil {
		t.Fatalf("output is not a PNG: %v", err)
	}
	return img
}

func TestNormalizer_EngineFallback(t *testing.T) {
	d := newDir(t, map[string]string{
		"a.svg": redSquare,
		"b.svg": `<svg><filter id="blur"/></svg>`,
		"c.svg": redSquare,
	})
	missing := &fakeEngine{name: "chrome", initErr: unavailable("chrome", errors.New("executable not found"))}
	picky := &fakeEngine{name: "oksvg", failOn: "filter"}
	last := &fakeEngine{name: "placeholder"}

	n, err := New(Config{Concurrency: 1}, d, WithEngines(missing, picky, last), WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}
	outcomes, err := n.Convert(context.Background(), []string{"a.svg", "b.svg", "c.svg"})
	if err != nil {
		t.Fatal(err)
	}

	type row struct{ Source, Output, Engine string }
	var got []row
	for _, o := range outcomes {
		if o.Err != nil {
			t.Errorf("%s: unexpected error %v", o.Source, o.Err)
		}
		got = append(got, row{o.Source, o.Output, o.Engine})
	}
	want := []row{
		{"a.svg", "a.png", "oksvg"},
		{"b.svg", "b.png", "placeholder"},
		{"c.svg", "c.png", "oksvg"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("outcomes mismatch (-want +got):\n%s", diff)
	}

	if missing.inits != 1 || missing.calls != 0 {
		t.Errorf("unavailable engine init=%d calls=%d, want 1 and 0", missing.inits, missing.calls)
	}
	health := make(map[string]chain.Health)
	for _, s := range n.Snapshot() {
		health[s.Name] = s.Health
	}
	if health["chrome"] != chain.Disabled || health["oksvg"] != chain.Healthy {
		t.Errorf("health = %v, want chrome disabled and oksvg healthy", health)
	}
	if d.Exists("a.svg") {
		t.Error("a.svg should be removed when originals are not kept")
	}
}

func TestNormalizer_KeepsOriginalAndNeverOverwrites(t *testing.T) {
	d := newDir(t, map[string]string{
		"logo.svg": redSquare,
		"logo.png": "existing raster",
	})
	n, err := New(Config{KeepOriginal: true}, d, WithEngines(&fakeEngine{name: "placeholder"}), WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}
	outcomes, err := n.Convert(context.Background(), []string{"logo.svg"})
	if err != nil {
		t.Fatal(err)
	}
	if outcomes[0].Output != "logo-2.png" {
		t.Errorf("Output = %q, want logo-2.png", outcomes[0].Output)
	}
	names, _ := d.List()
	if diff := cmp.Diff([]string{"logo-2.png", "logo.png", "logo.svg"}, names); diff != "" {
		t.Errorf("directory mismatch (-want +got):\n%s", diff)
	}
}

func TestNew_UnknownEngine(t *testing.T) {
	if _, err := New(Config{Engines: []string{"oksvg", "inkscape"}}, nil); err == nil {
		t.Error("New() should reject an unknown engine")
	}
	if _, err := New(Config{Quality: "ultra"}, nil); err == nil {
		t.Error("New() should reject an unknown quality")
	}
}

func TestNative(t *testing.T) {
	out, err := Native{}.Convert(context.Background(), []byte(redSquare), Options{Width: 64, Height: 32, Quality: Medium})
	if err != nil {
		t.Fatal(err)
	}
	img := decode(t, out)
	if b := img.Bounds(); b.Dx() != 64 || b.Dy() != 32 {
		t.Fatalf("bounds = %v, want 64x32", b)
	}
	r, g, _, a := img.At(32, 16).RGBA()
	if r>>8 < 200 || g>>8 > 50 || a>>8 < 200 {
		t.Errorf("center pixel = %d,%d alpha %d, want opaque red", r>>8, g>>8, a>>8)
	}
	// letterboxed edges stay transparent
	if _, _, _, a := img.At(2, 16).RGBA(); a != 0 {
		t.Errorf("edge alpha = %d, want 0", a)
	}

	if _, err := (Native{}).Convert(context.Background(), []byte("<svg/>"), Options{Width: 8, Height: 8}); err == nil {
		t.Error("Convert() should fail without a viewBox")
	}
}

func TestPlaceholder(t *testing.T) {
	out, err := Placeholder{}.Convert(context.Background(), nil, Options{Width: 120, Height: 80})
	if err != nil {
		t.Fatal(err)
	}
	img := decode(t, out)
	if b := img.Bounds(); b.Dx() != 120 || b.Dy() != 80 {
		t.Fatalf("bounds = %v, want 120x80", b)
	}
	if _, _, _, a := img.At(10, 40).RGBA(); a == 0 {
		t.Error("frame should be drawn at the inset")
	}
	if _, _, _, a := img.At(0, 0).RGBA(); a != 0 {
		t.Error("corner should stay transparent")
	}
}

func TestParseQuality(t *testing.T) {
	tests := map[string]Quality{"low": Low, "Medium": Medium, "": High, "high": High}
	for in, want := range tests {
		got, err := ParseQuality(in)
		if err != nil || got != want {
			t.Errorf("ParseQuality(%q) = %v, %v, want %v", in, got, err, want)
		}
	}
}

func TestIsVector(t *testing.T) {
	if !IsVector("logo.SVG") || IsVector("logo.png") {
		t.Error("IsVector() misclassified")
	}
}
