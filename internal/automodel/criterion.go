// Package automodel implements the iterative model-complexity search engine:
// the propose/fit loop, the stopping-criterion bank, the post-hoc selectors
// and the plausibility filters that together decide how many components a
// source model needs.
package automodel

import (
	"fmt"
	"log/slog"

	"automodeler/internal/image"
)

// Mode tags how a criterion's verdict enters the combined stop decision.
type Mode int

const (
	// ModeAnd criteria stop the loop only when every AND criterion agrees.
	ModeAnd Mode = iota
	// ModeOr criteria stop the loop on their own.
	ModeOr
	// ModeWhile criteria invert the logic: while any holds, the loop keeps
	// going regardless of the AND/OR groups.
	ModeWhile
)

func (m Mode) String() string {
	switch m {
	case ModeAnd:
		return "and"
	case ModeOr:
		return "or"
	case ModeWhile:
		return "while"
	}
	return "unknown"
}

// ParseMode maps a config string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "and", "":
		return ModeAnd, nil
	case "or":
		return ModeOr, nil
	case "while":
		return ModeWhile, nil
	default:
		return 0, fmt.Errorf("unknown criterion mode %q", s)
	}
}

// StoppingCriterion is a stateful predicate over the accumulated fitted-model
// history. Record is called exactly once per iteration with the newest fitted
// file; history is append-only and never rolled back. Stop must return
// (false, nil) without evaluating its verdict while the criterion is not yet
// applicable.
type StoppingCriterion interface {
	Name() string
	Mode() Mode
	Record(path string)
	Applicable() bool
	Stop() (bool, error)
}

// RefImageSource lazily provides the reference CLEAN image; the driver
// memoizes it so the underlying render happens at most once per run.
type RefImageSource func() (*image.Map, error)

// tracker is the shared history state embedded by concrete criteria: the
// ordered list of fitted model files recorded so far and the minimum number
// of files required before the criterion becomes applicable.
type tracker struct {
	files    []string
	minFiles int
}

func (t *tracker) Record(path string) { t.files = append(t.files, path) }

func (t *tracker) Applicable() bool { return len(t.files) >= t.minFiles }

func (t *tracker) latest() string { return t.files[len(t.files)-1] }

// Decision is the combined verdict of a criterion bank for one iteration.
type Decision struct {
	Stop bool
	// Reason names the criterion (or group) that produced the decision.
	Reason string
	// Forced is set when a WHILE criterion forced continuation this
	// iteration, short-circuiting the AND/OR evaluation.
	Forced bool
}

// Bank evaluates a registered set of stopping criteria each iteration.
type Bank struct {
	criteria []StoppingCriterion
	log      *slog.Logger
}

// NewBank builds a criterion bank. The logger may be nil.
func NewBank(log *slog.Logger, criteria ...StoppingCriterion) *Bank {
	if log == nil {
		log = slog.Default()
	}
	return &Bank{criteria: criteria, log: log}
}

// Record feeds the newest fitted model file to every registered criterion,
// applicable or not.
func (b *Bank) Record(path string) {
	for _, c := range b.criteria {
		c.Record(path)
	}
}

// Decide combines the current verdicts: WHILE criteria are checked first and
// any true one forces continuation; otherwise the loop stops when all AND
// criteria are true or any OR criterion is.
func (b *Bank) Decide() (Decision, error) {
	for _, c := range b.criteria {
		if c.Mode() != ModeWhile {
			continue
		}
		v, err := c.Stop()
		if err != nil {
			return Decision{}, fmt.Errorf("criterion %s: %w", c.Name(), err)
		}
		b.log.Debug("criterion checked", "criterion", c.Name(), "mode", "while", "holds", v)
		if v {
			return Decision{Stop: false, Reason: c.Name(), Forced: true}, nil
		}
	}

	andSeen := false
	andAll := true
	var andReason string
	for _, c := range b.criteria {
		if c.Mode() != ModeAnd {
			continue
		}
		andSeen = true
		v, err := c.Stop()
		if err != nil {
			return Decision{}, fmt.Errorf("criterion %s: %w", c.Name(), err)
		}
		b.log.Debug("criterion checked",
			"criterion", c.Name(), "mode", "and", "applicable", c.Applicable(), "stop", v)
		if !v {
			andAll = false
		} else if andReason == "" {
			andReason = c.Name()
		}
	}

	for _, c := range b.criteria {
		if c.Mode() != ModeOr {
			continue
		}
		v, err := c.Stop()
		if err != nil {
			return Decision{}, fmt.Errorf("criterion %s: %w", c.Name(), err)
		}
		b.log.Debug("criterion checked",
			"criterion", c.Name(), "mode", "or", "applicable", c.Applicable(), "stop", v)
		if v {
			return Decision{Stop: true, Reason: c.Name()}, nil
		}
	}

	if andSeen && andAll {
		return Decision{Stop: true, Reason: "and-group(" + andReason + ")"}, nil
	}
	return Decision{}, nil
}
