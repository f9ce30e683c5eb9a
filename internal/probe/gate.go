package probe

import (
	"fmt"
	"strings"
)

// Verdict is the gate's decision about oracle calls for this run.
type Verdict int

const (
	Proceed Verdict = iota
	Warn
	SkipOracle
	Abort
)

func (v Verdict) String() string {
	switch v {
	case Proceed:
		return "proceed"
	case Warn:
		return "warn"
	case SkipOracle:
		return "skip-oracle"
	case Abort:
		return "abort"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// Decision is a verdict with the reason shown to the operator.
type Decision struct {
	Verdict Verdict
	Reason  string
}

// Gate maps the network context to a verdict. Blocked entries match either
// the country name or its ISO code, case-insensitively.
type Gate struct {
	blocked   map[string]bool
	onBlocked Verdict
}

// NewGate parses on_blocked ("warn", "skip" or "abort").
func NewGate(blockedCountries []string, onBlocked string) (*Gate, error) {
	g := &Gate{blocked: make(map[string]bool)}
	for _, c := range blockedCountries {
		if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
			g.blocked[c] = true
		}
	}
	switch strings.ToLower(strings.TrimSpace(onBlocked)) {
	case "", "warn":
		g.onBlocked = Warn
	case "skip":
		g.onBlocked = SkipOracle
	case "abort":
		g.onBlocked = Abort
	default:
		return nil, fmt.Errorf("unknown on_blocked action %q (want warn, skip or abort)", onBlocked)
	}
	return g, nil
}

// Enabled reports whether any country is blocked; without one there is
// nothing to probe for.
func (g *Gate) Enabled() bool { return len(g.blocked) > 0 }

// Evaluate decides from a probe result. An unknown location only warns.
func (g *Gate) Evaluate(nc NetworkContext, probeErr error) Decision {
	if probeErr != nil {
		return Decision{Verdict: Warn, Reason: fmt.Sprintf("location unknown: %v", probeErr)}
	}
	if g.blocked[strings.ToLower(nc.Country)] || g.blocked[strings.ToLower(nc.CountryCode)] {
		return Decision{
			Verdict: g.onBlocked,
			Reason:  fmt.Sprintf("egress %s (%s) is in a region the classification oracle rejects", nc.IP, nc.Location()),
		}
	}
	return Decision{Verdict: Proceed, Reason: fmt.Sprintf("egress %s (%s)", nc.IP, nc.Location())}
}
