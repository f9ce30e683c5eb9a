package convert

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Rsvg shells out to librsvg's rsvg-convert.
type Rsvg struct {
	Binary string // default "rsvg-convert"

	path string
}

func (r *Rsvg) Name() string { return "rsvg" }

func (r *Rsvg) Init(context.Context) error {
	bin := r.Binary
	if bin == "" {
		bin = "rsvg-convert"
	}
	path, err := exec.LookPath(bin)
	if err != nil {
		return unavailable(r.Name(), err)
	}
	r.path = path
	return nil
}

func (r *Rsvg) Convert(ctx context.Context, svg []byte, opts Options) ([]byte, error) {
	cmd := exec.CommandContext(ctx, r.path,
		"--width", strconv.Itoa(opts.Width),
		"--height", strconv.Itoa(opts.Height),
		"--keep-aspect-ratio",
		"--format", "png",
	)
	cmd.Stdin = bytes.NewReader(svg)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("rsvg-convert: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("rsvg-convert produced no output")
	}
	return stdout.Bytes(), nil
}
