package convert

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	"golang.org/x/image/draw"
)

// Native rasterizes with oksvg. It supports a subset of SVG; documents it
// cannot read fail for that artifact only.
type Native struct{}

func (Native) Name() string { return "oksvg" }

func (Native) Init(context.Context) error { return nil }

func (Native) Convert(ctx context.Context, svg []byte, opts Options) ([]byte, error) {
	icon, err := oksvg.ReadIconStream(bytes.NewReader(svg))
	if err != nil {
		return nil, fmt.Errorf("parsing svg: %w", err)
	}
	if icon.ViewBox.W <= 0 || icon.ViewBox.H <= 0 {
		return nil, fmt.Errorf("svg has no usable viewBox")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ss := opts.Quality.supersample()
	cw, ch := opts.Width*ss, opts.Height*ss

	scale := min(float64(cw)/icon.ViewBox.W, float64(ch)/icon.ViewBox.H)
	dw, dh := icon.ViewBox.W*scale, icon.ViewBox.H*scale
	icon.SetTarget((float64(cw)-dw)/2, (float64(ch)-dh)/2, dw, dh)

	canvas := image.NewRGBA(image.Rect(0, 0, cw, ch))
	scanner := rasterx.NewScannerGV(cw, ch, canvas, canvas.Bounds())
	icon.Draw(rasterx.NewDasher(cw, ch, scanner), 1.0)

	out := image.Image(canvas)
	if ss > 1 {
		dst := image.NewRGBA(image.Rect(0, 0, opts.Width, opts.Height))
		opts.Quality.scaler().Scale(dst, dst.Bounds(), canvas, canvas.Bounds(), draw.Over, nil)
		out = dst
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
