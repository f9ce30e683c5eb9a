// processor.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aktagon/image-harvester/internal/acquire"
	"github.com/aktagon/image-harvester/internal/chain"
	"github.com/aktagon/image-harvester/internal/classify"
	"github.com/aktagon/image-harvester/internal/convert"
	"github.com/aktagon/image-harvester/internal/logging"
	"github.com/aktagon/image-harvester/internal/probe"
	"github.com/aktagon/image-harvester/internal/store"
)

// ErrGateAbort stops a run whose egress region the oracle rejects.
var ErrGateAbort = errors.New("network gate aborted the run")

// Processor handles the main workflow: gate, acquire, classify, normalize.
type Processor struct {
	settings *Settings
	apiKey   string
	metrics  *Metrics
	logger   *slog.Logger

	// replaceable collaborators
	sessionFactory acquire.SessionFactory
	oracle         classify.Oracle
	probeClient    *http.Client
	convertEngines []convert.Engine
}

// ProcessorOption configures a Processor
type ProcessorOption func(*Processor)

// WithMetrics attaches the Prometheus observer to every chain.
func WithMetrics(m *Metrics) ProcessorOption {
	return func(p *Processor) { p.metrics = m }
}

// WithSessionFactory replaces the browser session.
func WithSessionFactory(f acquire.SessionFactory) ProcessorOption {
	return func(p *Processor) { p.sessionFactory = f }
}

// WithOracle replaces the LLM oracle.
func WithOracle(o classify.Oracle) ProcessorOption {
	return func(p *Processor) { p.oracle = o }
}

// WithProbeClient sets the HTTP client used by the network probes.
func WithProbeClient(c *http.Client) ProcessorOption {
	return func(p *Processor) { p.probeClient = c }
}

// WithConvertEngines replaces the conversion engines named in settings.
func WithConvertEngines(engines ...convert.Engine) ProcessorOption {
	return func(p *Processor) { p.convertEngines = engines }
}

// NewProcessor creates a processor. An empty apiKey disables the oracle.
func NewProcessor(settings *Settings, apiKey string, opts ...ProcessorOption) *Processor {
	p := &Processor{
		settings: settings,
		apiKey:   apiKey,
		logger:   logging.New("processor"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Processor) observer() chain.Observer {
	if p.metrics == nil {
		return nil
	}
	return p.metrics
}

// Run harvests targetURL into the output directory. The summary is returned
// even on error; the error is set only for fatal conditions.
func (p *Processor) Run(ctx context.Context, targetURL string) (*RunSummary, error) {
	start := time.Now()
	summary := &RunSummary{
		TargetURL: targetURL,
		OutputDir: p.settings.Target.OutputDirectory,
		Chains:    make(map[string][]chain.Status),
	}
	defer func() {
		summary.Elapsed = time.Since(start)
		p.collectDegradations(summary)
		if p.metrics != nil {
			p.metrics.Record(summary)
		}
	}()

	dir, err := store.Open(p.settings.Target.OutputDirectory)
	if err != nil {
		return summary, err
	}
	if n, err := dir.CleanParts(); err != nil {
		return summary, err
	} else if n > 0 {
		p.logger.Info("removed leftover partial downloads", "count", n)
	}

	oracle, err := p.prepareOracle(ctx, summary)
	if err != nil {
		return summary, err
	}

	harvest, err := p.acquire(ctx, dir, targetURL, summary)
	if err != nil {
		return summary, err
	}

	if err := p.classify(ctx, dir, harvest, oracle, summary); err != nil {
		return summary, err
	}
	if err := p.convert(ctx, dir, summary); err != nil {
		return summary, err
	}
	return summary, nil
}

// prepareOracle runs the network gate and builds the oracle. A nil oracle
// means rule-based classification only.
func (p *Processor) prepareOracle(ctx context.Context, summary *RunSummary) (classify.Oracle, error) {
	s := p.settings
	if !s.Classify.Enabled {
		return nil, nil
	}

	oracle := p.oracle
	if oracle == nil {
		if p.apiKey == "" {
			summary.degrade(OracleUnavailable, "oracle", "no API key: use --api-key or ANTHROPIC_API_KEY")
			return nil, nil
		}
		llm, err := classify.NewLLMOracle(s.llmConfig(p.apiKey))
		if err != nil {
			summary.degrade(OracleUnavailable, "oracle", err.Error())
			return nil, nil
		}
		oracle = llm
	}

	gate, err := probe.NewGate(s.Probe.BlockedCountries, s.Probe.OnBlocked)
	if err != nil {
		return nil, err
	}
	if !s.Probe.Enabled || !gate.Enabled() {
		return oracle, nil
	}

	cfg := s.probeConfig()
	cfg.Client = p.probeClient
	cfg.Logger = logging.New("probe")
	cfg.Observer = p.observer()
	prober, err := probe.New(cfg)
	if err != nil {
		return nil, err
	}

	p.logger.Info("→ Probing network location")
	nc, probeErr := prober.Probe(ctx)
	summary.Chains["probe"] = prober.Snapshot()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if probeErr == nil {
		summary.Network = &nc
	}

	decision := gate.Evaluate(nc, probeErr)
	summary.Gate = &decision
	switch decision.Verdict {
	case probe.Proceed:
		p.logger.Info("✓ Network location", "location", nc.Location(), "isp", nc.ISP, "source", nc.Source)
		return oracle, nil
	case probe.Warn:
		p.logger.Warn("network gate warning", "reason", decision.Reason)
		summary.degrade(NetworkGate, decision.Verdict.String(), decision.Reason)
		return oracle, nil
	case probe.SkipOracle:
		p.logger.Warn("oracle disabled by network gate", "reason", decision.Reason)
		summary.degrade(NetworkGate, decision.Verdict.String(), decision.Reason)
		return nil, nil
	default:
		summary.degrade(NetworkGate, decision.Verdict.String(), decision.Reason)
		return nil, fmt.Errorf("%w: %s", ErrGateAbort, decision.Reason)
	}
}

func (p *Processor) acquire(ctx context.Context, dir *store.Dir, targetURL string, summary *RunSummary) (*acquire.Harvest, error) {
	opts := []acquire.Option{
		acquire.WithLogger(logging.New("acquire")),
		acquire.WithObserver(p.observer()),
	}
	if p.sessionFactory != nil {
		opts = append(opts, acquire.WithSessionFactory(p.sessionFactory))
	}
	cfg := p.settings.acquireConfig()
	engine, err := acquire.New(cfg, dir, opts...)
	if err != nil {
		return nil, err
	}

	p.logger.Info("→ Scanning", "url", targetURL, "engine", cfg.Engine)
	harvest, err := engine.Acquire(ctx, targetURL)
	summary.Chains["acquire"] = engine.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("acquiring %s: %w", targetURL, err)
	}

	summary.Strategy = harvest.Strategy
	summary.ScrollSteps = harvest.ScrollSteps
	summary.Candidates = harvest.Candidates
	for _, a := range harvest.Artifacts {
		summary.Artifacts = append(summary.Artifacts, ArtifactOutcome{
			PositionalName: a.Name,
			FinalName:      a.Name,
			SourceURL:      a.Candidate.URL(),
			Size:           a.Size,
			Status:         StatusKept,
		})
		summary.Bytes += a.Size
	}
	for _, f := range harvest.Failures {
		summary.degrade(DownloadFailed, f.URL, f.Err.Error())
	}
	summary.Downloaded = len(harvest.Artifacts)
	summary.Failed = len(harvest.Failures)
	p.logger.Info("✓ Downloaded images", "count", summary.Downloaded, "failed", summary.Failed, "strategy", harvest.Strategy)
	return harvest, nil
}

func (p *Processor) classify(ctx context.Context, dir *store.Dir, harvest *acquire.Harvest, oracle classify.Oracle, summary *RunSummary) error {
	if !p.settings.Classify.Enabled || len(harvest.Artifacts) == 0 {
		return nil
	}

	opts := []classify.Option{
		classify.WithLogger(logging.New("classify")),
		classify.WithObserver(p.observer()),
	}
	if oracle != nil {
		opts = append(opts, classify.WithOracle(oracle))
	}
	engine := classify.New(p.settings.classifyConfig(), dir, classify.NewRules(p.settings.Classify.Categories), opts...)

	inputs := make([]classify.Input, len(harvest.Artifacts))
	for i, a := range harvest.Artifacts {
		inputs[i] = classify.Input{
			Name:        a.Name,
			Path:        a.Path,
			MIME:        a.MIME,
			Size:        a.Size,
			Index:       a.Candidate.Index,
			SourceURL:   a.Candidate.URL(),
			Alt:         a.Candidate.Alt,
			Title:       a.Candidate.Title,
			PageContext: harvest.PageContext,
		}
	}

	p.logger.Info("→ Classifying", "count", len(inputs), "oracle", oracle != nil)
	results, err := engine.Classify(ctx, inputs)
	summary.Chains["classify"] = engine.Snapshot()
	if err != nil {
		return fmt.Errorf("classifying: %w", err)
	}

	for i, r := range results {
		out := &summary.Artifacts[i]
		out.FinalName = r.FinalName
		out.Type = string(r.Judgement.Type)
		out.Confidence = r.Judgement.Confidence
		out.Strategy = r.Strategy
		out.Error = r.Err

		switch r.State {
		case classify.Classified:
			out.Status = StatusClassified
			summary.Classified++
		case classify.Unresolved:
			out.Status = StatusUnresolved
			summary.Unresolved++
			summary.degrade(UnresolvedImage, r.Name, fmt.Sprintf("best guess %s at confidence %d", r.Judgement.Type, r.Judgement.Confidence))
		default:
			out.Status = StatusFailed
			if r.Err != nil {
				summary.degrade(ClassifyFailed, r.Name, r.Err.Error())
			}
		}

		if r.Rejection != nil {
			kind := OracleRejection
			if r.Rejection.RegionUnsupported {
				kind = RegionRejection
			}
			summary.degrade(kind, r.Name, r.Rejection.Reason)
		}
	}
	return nil
}

func (p *Processor) convert(ctx context.Context, dir *store.Dir, summary *RunSummary) error {
	if !p.settings.Convert.Enabled {
		return nil
	}

	var names []string
	index := make(map[string]int)
	for i, a := range summary.Artifacts {
		if convert.IsVector(a.FinalName) {
			names = append(names, a.FinalName)
			index[a.FinalName] = i
		}
	}
	if len(names) == 0 {
		return nil
	}

	opts := []convert.Option{
		convert.WithLogger(logging.New("convert")),
		convert.WithObserver(p.observer()),
	}
	if p.convertEngines != nil {
		opts = append(opts, convert.WithEngines(p.convertEngines...))
	}
	n, err := convert.New(p.settings.convertConfig(), dir, opts...)
	if err != nil {
		return err
	}
	defer n.Close()

	p.logger.Info("→ Converting vector images", "count", len(names))
	outcomes, err := n.Convert(ctx, names)
	summary.Chains["convert"] = n.Snapshot()
	if err != nil {
		return fmt.Errorf("converting: %w", err)
	}

	for _, o := range outcomes {
		out := &summary.Artifacts[index[o.Source]]
		if o.Err != nil && o.Output == "" {
			summary.degrade(ConversionFailed, o.Source, o.Err.Error())
			continue
		}
		out.Converted, out.ConvertEngine = o.Output, o.Engine
		summary.Converted++
		if o.Placeholder() {
			summary.degrade(ConversionFailed, o.Source, "only a placeholder could be produced")
		}
	}
	return nil
}

// collectDegradations reports every strategy that ended the run unhealthy.
func (p *Processor) collectDegradations(summary *RunSummary) {
	for _, name := range []string{"probe", "acquire", "classify", "convert"} {
		for _, st := range summary.Chains[name] {
			if st.Health == chain.Healthy {
				continue
			}
			detail := st.Health.String()
			if st.LastError != nil {
				detail += ": " + firstLine(st.LastError.Error())
			}
			summary.degrade(DegradedStrategy, name+"/"+st.Name, detail)
		}
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
