package acquire

import (
	"context"
	"log/slog"
	"time"
)

// ScrollConfig bounds the scroll-and-settle loop.
type ScrollConfig struct {
	Step          int           // pixels per step
	MaxSteps      int           // hard cap on iterations
	StallLimit    int           // consecutive steps without progress before stopping
	Quiet         time.Duration // quiescence window
	SettleTimeout time.Duration // longest wait for one quiescence window
}

func (c ScrollConfig) withDefaults() ScrollConfig {
	if c.Step <= 0 {
		c.Step = 800
	}
	if c.MaxSteps <= 0 {
		c.MaxSteps = 40
	}
	if c.StallLimit <= 0 {
		c.StallLimit = 3
	}
	if c.Quiet <= 0 {
		c.Quiet = 500 * time.Millisecond
	}
	if c.SettleTimeout <= 0 {
		c.SettleTimeout = 5 * time.Second
	}
	return c
}

// Settle scrolls s until the page stops growing so lazily loaded images are
// in the document. It stops after StallLimit consecutive steps in which
// neither the scroll position nor the document height advanced, or after
// MaxSteps, whichever comes first. It returns the number of steps taken.
func Settle(ctx context.Context, s Session, cfg ScrollConfig, logger *slog.Logger) (int, error) {
	cfg = cfg.withDefaults()

	if err := s.WaitForQuiescence(ctx, cfg.Quiet, cfg.SettleTimeout); err != nil {
		return 0, err
	}

	var (
		last   ScrollState
		stalls int
		steps  int
	)
	for steps < cfg.MaxSteps {
		st, err := s.ScrollBy(ctx, cfg.Step)
		if err != nil {
			return steps, err
		}
		steps++

		if err := s.WaitForQuiescence(ctx, cfg.Quiet, cfg.SettleTimeout); err != nil {
			return steps, err
		}

		if st.Y <= last.Y && st.Height <= last.Height {
			stalls++
		} else {
			stalls = 0
		}
		last = st

		if stalls >= cfg.StallLimit {
			break
		}
	}

	logger.Debug("scroll settled", "steps", steps, "height", last.Height, "stalled", stalls >= cfg.StallLimit)
	return steps, nil
}
