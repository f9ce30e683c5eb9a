package classify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/aktagon/image-harvester/internal/chain"
	"github.com/aktagon/image-harvester/internal/store"
)

// Tier names as they appear in chain snapshots.
const (
	TierOracle = "oracle"
	TierRules  = "rules"
)

// Config holds classification settings.
type Config struct {
	Threshold               int    // minimum confidence for a rename; 0 accepts any
	CollisionFormat         string // e.g. "%s-%d"
	ConsecutiveFailureLimit int    // oracle failures in a row before it is disabled
	Concurrency             int
	RequestsPerMinute       int
	OracleTimeout           time.Duration
	MaxAttempts             int
	Backoff                 chain.Backoff
}

// Option configures an Engine.
type Option func(*Engine)

// WithOracle enables the oracle tier.
func WithOracle(o Oracle) Option {
	return func(e *Engine) { e.oracle = o }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithObserver attaches a chain observer.
func WithObserver(o chain.Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// job carries one artifact through the tier chain and collects what the
// oracle said even when it did not win.
type job struct {
	in        Input
	oracle    *Judgement
	rejection *RejectionError
}

type verdict struct {
	Judgement
	tier string
}

// Engine classifies and renames artifacts in one output directory.
type Engine struct {
	cfg      Config
	dir      *store.Dir
	rules    *Rules
	oracle   Oracle
	limiter  *rate.Limiter
	logger   *slog.Logger
	observer chain.Observer
	chain    *chain.Chain[*job, verdict]

	mu       sync.Mutex
	reserved map[string]bool
}

// New builds an engine. Without WithOracle only the rule tier runs.
func New(cfg Config, dir *store.Dir, rules *Rules, opts ...Option) *Engine {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.ConsecutiveFailureLimit <= 0 {
		cfg.ConsecutiveFailureLimit = 3
	}
	if rules == nil {
		rules = NewRules(nil)
	}

	e := &Engine{
		cfg:      cfg,
		dir:      dir,
		rules:    rules,
		logger:   slog.Default(),
		reserved: make(map[string]bool),
		limiter:  rate.NewLimiter(rate.Inf, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	if cfg.RequestsPerMinute > 0 {
		e.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}

	e.chain = chain.New[*job, verdict]("classify",
		chain.WithMaxAttempts(cfg.MaxAttempts),
		chain.WithBackoff(cfg.Backoff),
		chain.WithLogger(e.logger),
		chain.WithObserver(e.observer),
	)
	if e.oracle != nil {
		e.chain.Add(TierOracle, e.askOracle,
			chain.DisableAfter(cfg.ConsecutiveFailureLimit),
			chain.Timeout(cfg.OracleTimeout))
	}
	e.chain.Add(TierRules, e.applyRules, chain.Attempts(1), chain.Timeout(0))
	return e
}

// OracleEnabled reports whether the oracle tier is registered and healthy
// enough to be tried.
func (e *Engine) OracleEnabled() bool {
	h, ok := e.chain.Health(TierOracle)
	return ok && h != chain.Disabled
}

// DisableOracle turns the oracle off for the rest of the run.
func (e *Engine) DisableOracle(reason error) {
	e.chain.Disable(TierOracle, reason)
}

// Snapshot reports tier health.
func (e *Engine) Snapshot() []chain.Status {
	return e.chain.Snapshot()
}

// Classify processes artifacts concurrently. Per-artifact problems land in
// the results; the returned error is fatal (storage failure or ctx).
func (e *Engine) Classify(ctx context.Context, inputs []Input) ([]Result, error) {
	results := make([]Result, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)

	for i, in := range inputs {
		g.Go(func() error {
			r, err := e.classifyOne(gctx, in)
			results[i] = r
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

func (e *Engine) classifyOne(ctx context.Context, in Input) (Result, error) {
	r := Result{Input: in, FinalName: in.Name}
	if err := r.transition(Classifying); err != nil {
		return r, err
	}

	j := &job{in: in}
	var (
		v   verdict
		err error
	)
	if isRaster(in.MIME) {
		v, err = e.chain.Execute(ctx, j)
	} else {
		// the oracle only reads raster images; vectors go straight to rules
		// without counting against the oracle
		v, err = e.applyRules(ctx, j)
	}
	r.Rejection = j.rejection
	if err != nil {
		if ctx.Err() != nil || chain.IsFatal(err) {
			return r, err
		}
		r.Err = err
		_ = r.transition(Failed)
		return r, nil
	}

	r.Judgement, r.Strategy = v.Judgement, v.tier
	if j.oracle != nil && j.oracle.better(r.Judgement) {
		r.Judgement, r.Strategy = *j.oracle, TierOracle
	}

	if r.Judgement.Confidence < e.cfg.Threshold {
		e.logger.Info("↷ Unresolved", "file", in.Name, "type", r.Judgement.Type, "confidence", r.Judgement.Confidence)
		_ = r.transition(Unresolved)
		return r, nil
	}

	name, err := e.rename(in.Name, Slug(r.Judgement))
	if err != nil {
		r.Err = err
		_ = r.transition(Failed)
		if store.IsFatal(err) {
			return r, chain.Fatal(err)
		}
		return r, nil
	}
	r.FinalName = name
	_ = r.transition(Classified)
	if name != in.Name {
		e.logger.Info("✓ Classified", "file", in.Name, "name", name, "type", r.Judgement.Type, "confidence", r.Judgement.Confidence, "tier", r.Strategy)
	}
	return r, nil
}

func (e *Engine) askOracle(ctx context.Context, j *job) (verdict, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return verdict{}, err
	}

	got, err := e.oracle.Classify(ctx, Request{
		Path:        j.in.Path,
		MIME:        j.in.MIME,
		Hints:       e.rules.Hints(),
		Alt:         j.in.Alt,
		PageContext: j.in.PageContext,
	})
	if err != nil {
		var rej *RejectionError
		if errors.As(err, &rej) {
			j.rejection = rej
			if rej.RegionUnsupported {
				e.logger.Warn("✗ Oracle rejected request: region not supported", "file", j.in.Name, "reason", rej.Reason)
			}
			return verdict{}, chain.Skip(err)
		}
		if errors.Is(err, ErrMalformed) {
			return verdict{}, chain.Skip(err)
		}
		return verdict{}, err
	}

	got, err = validate(got)
	if err != nil {
		return verdict{}, chain.Skip(err)
	}
	if got.Confidence < e.cfg.Threshold {
		j.oracle = &got
		return verdict{}, chain.Skip(fmt.Errorf("%w: %d < %d", ErrLowConfidence, got.Confidence, e.cfg.Threshold))
	}
	return verdict{Judgement: got, tier: TierOracle}, nil
}

func (e *Engine) applyRules(_ context.Context, j *job) (verdict, error) {
	return verdict{Judgement: e.rules.Classify(j.in), tier: TierRules}, nil
}

// rename gives current the first free name derived from slug. A name the
// artifact already holds counts as free, so reruns keep their names.
func (e *Engine) rename(current, slug string) (string, error) {
	ext := strings.ToLower(filepath.Ext(current))
	base := slug + ext

	e.mu.Lock()
	defer e.mu.Unlock()

	for n := 1; ; n++ {
		candidate := base
		if n > 1 {
			candidate = store.Disambiguate(base, e.cfg.CollisionFormat, n)
		}
		if candidate == current {
			e.reserved[candidate] = true
			return candidate, nil
		}
		if e.reserved[candidate] || e.dir.Exists(candidate) {
			continue
		}

		err := e.dir.Rename(current, candidate)
		if errors.Is(err, store.ErrExists) {
			continue
		}
		if err != nil {
			return current, err
		}
		e.reserved[candidate] = true
		return candidate, nil
	}
}
