package experiments

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Configuration errors. These fail fast at definition time so a broken
// experiment is caught in development, never at runtime under load.
var (
	// ErrTooFewAlternatives is returned when an experiment is saved with
	// fewer than two alternatives.
	ErrTooFewAlternatives = errors.New("experiment needs at least two alternatives")
	// ErrNoSuchAlternative is returned by Chooses when no alternative
	// matches the given value.
	ErrNoSuchAlternative = errors.New("no alternative matches value")
	// ErrAlreadyDefined is returned when an experiment or metric id is
	// registered twice.
	ErrAlreadyDefined = errors.New("already defined")
	// ErrAlreadySet is returned when a set-once definition hook
	// (CompleteIf, OutcomeIs) is installed twice.
	ErrAlreadySet = errors.New("already set")
	// ErrUnknownKind is returned by the factory for an unrecognized
	// experiment kind.
	ErrUnknownKind = errors.New("unknown experiment kind")
)

// Kind tags the experiment variant. The set is closed: adding a kind means
// adding a case to the factory switch, there is no string-keyed reflection.
type Kind int

const (
	// KindABTest splits traffic across alternatives and scores conversions.
	KindABTest Kind = iota
)

func (k Kind) String() string {
	switch k {
	case KindABTest:
		return "ab_test"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Definition declares an experiment before it is registered. Name is the only
// required field; the id is derived from it. Zero values get the defaults
// noted on each field.
type Definition struct {
	Name string
	Kind Kind

	// Alternatives are the candidate values, in index order. Defaults to
	// {false, true}.
	Alternatives []interface{}

	// Metrics are the ids of the metrics whose events convert this
	// experiment. They are created on first reference.
	Metrics []string

	// Identify overrides how a visitor identity is resolved from the
	// request context. Defaults to Context.Identity.
	Identify func(*Context) string

	// OnAssignment is notified the first time an identity is assigned an
	// alternative. Errors and panics are logged and ignored.
	OnAssignment func(ctx *Context, alt *Alternative) error

	// CompleteIf is evaluated after every assignment and conversion; when
	// it returns true the experiment completes. Errors and panics are
	// logged and the experiment stays active.
	CompleteIf func(*Experiment) (bool, error)

	// OutcomeIs picks the winning alternative at completion. Errors, panics
	// and foreign alternatives fall back to automatic selection.
	OutcomeIs func(*Experiment) (*Alternative, error)

	// RebalanceFrequency arms automatic rebalancing: every n recorded
	// assignments the Bayesian scores are republished as assignment
	// probabilities. Zero disables.
	RebalanceFrequency int

	// ScoreMethod selects the default scorer. Defaults to MethodZScore.
	ScoreMethod ScoreMethod

	// Enabled overrides the registry-wide experiments-start-enabled default
	// for this experiment.
	Enabled *bool
}

var nonWord = regexp.MustCompile(`\W`)

// experimentID derives the stable symbolic id from a human-readable name:
// lowercase, every non-word character replaced.
func experimentID(name string) string {
	return nonWord.ReplaceAllString(strings.ToLower(name), "_")
}

// newExperiment is the factory over experiment kinds.
func newExperiment(registry *Registry, def Definition) (*Experiment, error) {
	switch def.Kind {
	case KindABTest:
		return newABTest(registry, def), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, def.Kind)
	}
}
