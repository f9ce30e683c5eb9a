// Package convert rasterizes vector artifacts to PNG through an ordered set
// of engines, ending with a placeholder that cannot fail.
package convert

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/image/draw"
)

// ErrUnavailable marks an engine that cannot run on this machine at all.
var ErrUnavailable = errors.New("conversion engine unavailable")

// Quality trades speed for smoother edges.
type Quality int

const (
	Low Quality = iota
	Medium
	High
)

// ParseQuality accepts "low", "medium" and "high". Empty means high.
func ParseQuality(s string) (Quality, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return Low, nil
	case "medium":
		return Medium, nil
	case "", "high":
		return High, nil
	default:
		return High, fmt.Errorf("unknown quality %q (want low, medium or high)", s)
	}
}

func (q Quality) String() string {
	switch q {
	case Low:
		return "low"
	case Medium:
		return "medium"
	default:
		return "high"
	}
}

// supersample is the oversize factor used before downscaling.
func (q Quality) supersample() int {
	return int(q) + 1
}

func (q Quality) scaler() draw.Scaler {
	switch q {
	case Low:
		return draw.NearestNeighbor
	case Medium:
		return draw.ApproxBiLinear
	default:
		return draw.CatmullRom
	}
}

// Options is the requested raster size. The drawing keeps its aspect ratio
// inside Width x Height.
type Options struct {
	Width   int
	Height  int
	Quality Quality
}

// Engine converts SVG documents to PNG.
type Engine interface {
	Name() string
	// Init checks the engine can run. An error wrapping ErrUnavailable is
	// structural and final for the run.
	Init(ctx context.Context) error
	Convert(ctx context.Context, svg []byte, opts Options) ([]byte, error)
}

// Closer is implemented by engines holding resources.
type Closer interface {
	Close() error
}

// unavailable wraps err as a structural failure.
func unavailable(engine string, err error) error {
	return fmt.Errorf("%s: %w: %v", engine, ErrUnavailable, err)
}
