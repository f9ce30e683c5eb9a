package chain

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a strategy failure and decides what the chain does next.
type Kind int

const (
	// KindTransient failures are retried within the strategy's attempt budget.
	KindTransient Kind = iota
	// KindPermanent failures disable the strategy for the chain's lifetime.
	KindPermanent
	// KindSkip failures move on to the next strategy for this input only.
	KindSkip
	// KindFatal failures abort the chain without trying further strategies.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindSkip:
		return "skip"
	case KindFatal:
		return "fatal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string { return e.err.Error() }
func (e *kindError) Unwrap() error { return e.err }

func mark(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: err}
}

// Transient marks err as retryable within the current strategy.
func Transient(err error) error { return mark(KindTransient, err) }

// Permanent marks err as disqualifying the strategy for the rest of the chain's lifetime.
func Permanent(err error) error { return mark(KindPermanent, err) }

// Skip marks err as specific to the current input. The strategy stays enabled.
func Skip(err error) error { return mark(KindSkip, err) }

// Fatal marks err as unrecoverable for the whole run.
func Fatal(err error) error { return mark(KindFatal, err) }

// KindOf reports the failure kind attached to err. The outermost mark wins;
// unmarked errors are transient.
func KindOf(err error) Kind {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return KindTransient
}

// IsFatal reports whether err carries a fatal mark.
func IsFatal(err error) bool {
	return err != nil && KindOf(err) == KindFatal
}

// ErrExhausted matches any *ExhaustedError via errors.Is.
var ErrExhausted = errors.New("chain exhausted")

// Failure records the last error of one strategy during an Execute call.
type Failure struct {
	Strategy string
	Kind     Kind
	Attempts int
	Err      error
}

// ExhaustedError is returned when no strategy of a chain succeeded. Failures
// are in declaration order; disabled strategies that were not run are absent.
type ExhaustedError struct {
	Chain    string
	Failures []Failure
}

func (e *ExhaustedError) Error() string {
	if len(e.Failures) == 0 {
		return fmt.Sprintf("chain %q exhausted: no enabled strategies", e.Chain)
	}
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s (%s after %d attempt(s)): %v", f.Strategy, f.Kind, f.Attempts, f.Err))
	}
	return fmt.Sprintf("chain %q exhausted: %s", e.Chain, strings.Join(parts, "; "))
}

// Unwrap exposes every strategy error to errors.Is and errors.As.
func (e *ExhaustedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

func (e *ExhaustedError) Is(target error) bool { return target == ErrExhausted }

// LastError returns the error recorded for strategy, if it ran.
func (e *ExhaustedError) LastError(strategy string) (error, bool) {
	for _, f := range e.Failures {
		if f.Strategy == strategy {
			return f.Err, true
		}
	}
	return nil, false
}
