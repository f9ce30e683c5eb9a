package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/aktagon/image-harvester/internal/chain"
	"github.com/aktagon/image-harvester/internal/store"
)

// DefaultEngines is the preference order when settings name none.
var DefaultEngines = []string{"chrome", "rsvg", "oksvg", "placeholder"}

// Config holds normalizer settings.
type Config struct {
	Engines      []string
	Width        int
	Height       int
	Quality      string
	KeepOriginal bool
	Concurrency  int
	ChromePath   string
	NoSandbox    bool
}

// Outcome describes one converted artifact.
type Outcome struct {
	Source string // SVG file name
	Output string // PNG file name, empty on failure
	Engine string
	Size   int64
	Err    error
}

// Placeholder reports whether only the last-resort engine produced output.
func (o Outcome) Placeholder() bool { return o.Engine == "placeholder" }

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithEngines replaces the engines built from Config.Engines.
func WithEngines(engines ...Engine) Option {
	return func(n *Normalizer) { n.engines = engines }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(n *Normalizer) {
		if l != nil {
			n.logger = l
		}
	}
}

// WithObserver attaches a chain observer.
func WithObserver(o chain.Observer) Option {
	return func(n *Normalizer) { n.observer = o }
}

type task struct {
	name string
	svg  []byte
}

type rendered struct {
	png    []byte
	engine string
}

// Normalizer converts SVG artifacts in an output directory.
type Normalizer struct {
	cfg      Config
	opts     Options
	dir      *store.Dir
	engines  []Engine
	logger   *slog.Logger
	observer chain.Observer
	chain    *chain.Chain[task, rendered]

	initOnce []sync.Once
	initErr  []error
}

// New builds a normalizer. Unknown engine names are an error.
func New(cfg Config, dir *store.Dir, opts ...Option) (*Normalizer, error) {
	quality, err := ParseQuality(cfg.Quality)
	if err != nil {
		return nil, err
	}
	if cfg.Width <= 0 {
		cfg.Width = 512
	}
	if cfg.Height <= 0 {
		cfg.Height = 512
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}

	n := &Normalizer{
		cfg:    cfg,
		opts:   Options{Width: cfg.Width, Height: cfg.Height, Quality: quality},
		dir:    dir,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.engines == nil {
		names := cfg.Engines
		if len(names) == 0 {
			names = DefaultEngines
		}
		for _, name := range names {
			e, err := n.engineByName(name)
			if err != nil {
				return nil, err
			}
			n.engines = append(n.engines, e)
		}
	}

	n.initOnce = make([]sync.Once, len(n.engines))
	n.initErr = make([]error, len(n.engines))
	n.chain = chain.New[task, rendered]("convert",
		chain.WithLogger(n.logger),
		chain.WithObserver(n.observer),
	)
	for i, e := range n.engines {
		n.chain.Add(e.Name(), n.attempt(i, e))
	}
	return n, nil
}

func (n *Normalizer) engineByName(name string) (Engine, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "chrome":
		return &Chrome{ExecPath: n.cfg.ChromePath, NoSandbox: n.cfg.NoSandbox}, nil
	case "rsvg":
		return &Rsvg{}, nil
	case "oksvg":
		return Native{}, nil
	case "placeholder":
		return Placeholder{}, nil
	default:
		return nil, fmt.Errorf("unknown conversion engine %q", name)
	}
}

func (n *Normalizer) attempt(i int, e Engine) chain.AttemptFunc[task, rendered] {
	return func(ctx context.Context, t task) (rendered, error) {
		if err := n.ensure(ctx, i); err != nil {
			return rendered{}, chain.Permanent(err)
		}
		out, err := e.Convert(ctx, t.svg, n.opts)
		if err != nil {
			if errors.Is(err, ErrUnavailable) {
				return rendered{}, chain.Permanent(err)
			}
			if ctx.Err() != nil {
				return rendered{}, err
			}
			n.logger.Debug("engine failed on artifact", "engine", e.Name(), "file", t.name, "error", err)
			return rendered{}, chain.Skip(err)
		}
		return rendered{png: out, engine: e.Name()}, nil
	}
}

func (n *Normalizer) ensure(ctx context.Context, i int) error {
	n.initOnce[i].Do(func() {
		n.initErr[i] = n.engines[i].Init(ctx)
	})
	return n.initErr[i]
}

// IsVector reports whether name is an artifact the normalizer handles.
func IsVector(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".svg")
}

// Convert rasterizes the named SVG artifacts. Per-artifact failures are in
// the outcomes; the returned error is fatal.
func (n *Normalizer) Convert(ctx context.Context, names []string) ([]Outcome, error) {
	outcomes := make([]Outcome, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(n.cfg.Concurrency)

	for i, name := range names {
		g.Go(func() error {
			o, err := n.convertOne(gctx, name)
			outcomes[i] = o
			return err
		})
	}
	return outcomes, g.Wait()
}

func (n *Normalizer) convertOne(ctx context.Context, name string) (Outcome, error) {
	o := Outcome{Source: name}
	svg, err := os.ReadFile(n.dir.Path(name))
	if err != nil {
		o.Err = err
		return o, nil
	}

	r, err := n.chain.Execute(ctx, task{name: name, svg: svg})
	if err != nil {
		if ctx.Err() != nil {
			return o, err
		}
		o.Err = err
		n.logger.Warn("✗ Failed to convert", "file", name, "error", err)
		return o, nil
	}
	o.Engine = r.engine

	target := strings.TrimSuffix(name, filepath.Ext(name)) + ".png"
	f, err := n.dir.WriteUnique(ctx, target, "", bytes.NewReader(r.png))
	if err != nil {
		o.Err = err
		if store.IsFatal(err) {
			return o, chain.Fatal(err)
		}
		return o, nil
	}
	o.Output, o.Size = f.Name, f.Size

	if !n.cfg.KeepOriginal {
		if err := n.dir.Remove(name); err != nil {
			o.Err = err
			if store.IsFatal(err) {
				return o, chain.Fatal(err)
			}
		}
	}
	n.logger.Info("✓ Converted", "file", name, "output", o.Output, "engine", o.Engine)
	return o, nil
}

// EngineStatus is the availability of one engine.
type EngineStatus struct {
	Name string
	Err  error
}

// Availability initializes every engine and reports which can run.
func (n *Normalizer) Availability(ctx context.Context) []EngineStatus {
	out := make([]EngineStatus, len(n.engines))
	for i, e := range n.engines {
		out[i] = EngineStatus{Name: e.Name(), Err: n.ensure(ctx, i)}
	}
	return out
}

// Snapshot reports engine health.
func (n *Normalizer) Snapshot() []chain.Status {
	return n.chain.Snapshot()
}

// Close releases engine resources.
func (n *Normalizer) Close() error {
	var errs []error
	for _, e := range n.engines {
		if c, ok := e.(Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
