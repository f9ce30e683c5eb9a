package convert

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var placeholderInk = color.RGBA{100, 100, 100, 255}

// Placeholder draws a framed "SVG" label of the requested size.
type Placeholder struct{}

func (Placeholder) Name() string { return "placeholder" }

func (Placeholder) Init(context.Context) error { return nil }

func (Placeholder) Convert(_ context.Context, _ []byte, opts Options) ([]byte, error) {
	w, h := max(opts.Width, 32), max(opts.Height, 32)
	img := image.NewRGBA(image.Rect(0, 0, w, h))

	// 2px frame inset by 10px, thinner on tiny targets
	inset := min(10, w/8, h/8)
	ink := image.NewUniform(placeholderInk)
	frame := image.Rect(inset, inset, w-inset, h-inset)
	for _, r := range []image.Rectangle{
		image.Rect(frame.Min.X, frame.Min.Y, frame.Max.X, frame.Min.Y+2),
		image.Rect(frame.Min.X, frame.Max.Y-2, frame.Max.X, frame.Max.Y),
		image.Rect(frame.Min.X, frame.Min.Y, frame.Min.X+2, frame.Max.Y),
		image.Rect(frame.Max.X-2, frame.Min.Y, frame.Max.X, frame.Max.Y),
	} {
		draw.Draw(img, r, ink, image.Point{}, draw.Src)
	}

	face := basicfont.Face7x13
	label := "SVG"
	d := &font.Drawer{Dst: img, Src: ink, Face: face}
	width := d.MeasureString(label)
	d.Dot = fixed.Point26_6{
		X: (fixed.I(w) - width) / 2,
		Y: fixed.I((h + face.Ascent - face.Descent) / 2),
	}
	d.DrawString(label)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
