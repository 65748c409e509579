// Package experiments implements the A/B experiment engine: deterministic
// identity-to-alternative assignment, participation and conversion
// bookkeeping, frequentist and Bayesian significance scoring, and the
// active → completed lifecycle. All persistence goes through the storage
// port; the engine itself is a synchronous library invoked per request.
package experiments

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/vantage/internal/storage"
)

// AlternativeProbability pairs an alternative with its assignment probability
// in percent. Used by the rebalancer to weight future assignments toward
// better-performing alternatives.
type AlternativeProbability struct {
	Alternative *Alternative
	Probability float64
}

// probabilityCutoff is one entry of the cumulative probability table walked
// by weighted-random assignment.
type probabilityCutoff struct {
	index  int
	cutoff float64
}

// Experiment is a single registered experiment. Instances are created through
// Registry.Define and are safe for concurrent use by multiple request
// goroutines; the datastore carries all cross-process state.
type Experiment struct {
	registry *Registry
	store    storage.Store
	log      zerolog.Logger

	id   string
	name string
	kind Kind

	alternatives []*Alternative // definition order, no counts loaded
	metricIDs    []string
	identify     func(*Context) string
	scoreMethod  ScoreMethod

	mu                        sync.Mutex
	onAssignment              func(ctx *Context, alt *Alternative) error
	completeIf                func(*Experiment) (bool, error)
	outcomeIs                 func(*Experiment) (*Alternative, error)
	rebalanceFrequency        int
	assignmentsSinceRebalance int
	probabilities             []probabilityCutoff
	createdAt                 *time.Time
	completedAt               *time.Time
	startEnabled              bool
	offline                   map[string]int // identity -> index while not collecting
	randFloat                 func() float64
}

// newABTest builds an A/B test experiment from its definition. Registration
// and persistence happen in Registry.Define via save.
func newABTest(registry *Registry, def Definition) *Experiment {
	values := def.Alternatives
	if len(values) == 0 {
		values = []interface{}{false, true}
	}

	id := experimentID(def.Name)
	alts := make([]*Alternative, len(values))
	for i, value := range values {
		alts[i] = &Alternative{Index: i, Value: value, experimentID: id}
	}

	method := def.ScoreMethod
	if method == "" {
		method = MethodZScore
	}

	identify := def.Identify
	if identify == nil {
		identify = func(ctx *Context) string { return ctx.Identity() }
	}

	startEnabled := registry.startEnabled
	if def.Enabled != nil {
		startEnabled = *def.Enabled
	}

	return &Experiment{
		registry:           registry,
		store:              registry.store,
		log:                registry.log.With().Str("experiment", id).Logger(),
		id:                 id,
		name:               def.Name,
		kind:               def.Kind,
		alternatives:       alts,
		metricIDs:          def.Metrics,
		identify:           identify,
		scoreMethod:        method,
		onAssignment:       def.OnAssignment,
		completeIf:         def.CompleteIf,
		outcomeIs:          def.OutcomeIs,
		rebalanceFrequency: def.RebalanceFrequency,
		startEnabled:       startEnabled,
		offline:            make(map[string]int),
		randFloat:          rand.Float64,
	}
}

// save validates the definition and persists the experiment's existence.
// created_at is write-once: it survives process restarts by reading back from
// the datastore, and a fresh stamp is only written the first time the
// experiment is ever saved.
func (e *Experiment) save() error {
	if len(e.alternatives) < 2 {
		return fmt.Errorf("experiment %s: %w", e.name, ErrTooFewAlternatives)
	}

	now := time.Now()
	if !e.registry.Collecting() {
		e.mu.Lock()
		if e.createdAt == nil {
			e.createdAt = &now
		}
		e.mu.Unlock()
		return nil
	}

	created, _ := e.store.ExperimentCreatedAt(e.id)
	if created == nil {
		created = &now
		_ = e.store.SetExperimentCreatedAt(e.id, now)
		_ = e.store.SetExperimentEnabled(e.id, e.startEnabled)
		e.log.Info().Str("name", e.name).Msg("Experiment created")
	}
	e.mu.Lock()
	e.createdAt = created
	e.mu.Unlock()
	return nil
}

// ID returns the stable symbolic id derived from the name.
func (e *Experiment) ID() string { return e.id }

// Name returns the human-readable name.
func (e *Experiment) Name() string { return e.name }

// Kind returns the experiment variant tag.
func (e *Experiment) Kind() Kind { return e.kind }

// ScoreMethod returns the configured default scorer.
func (e *Experiment) ScoreMethod() ScoreMethod { return e.scoreMethod }

// Alternatives returns the alternatives in definition order, without counts.
func (e *Experiment) Alternatives() []*Alternative { return e.alternatives }

// CreatedAt returns the experiment's creation time.
func (e *Experiment) CreatedAt() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.createdAt != nil {
		return *e.createdAt
	}
	return time.Time{}
}

// CompletedAt returns the completion time, or nil while still collecting.
// Cached once set; completion is terminal.
func (e *Experiment) CompletedAt() *time.Time {
	e.mu.Lock()
	if e.completedAt != nil {
		t := *e.completedAt
		e.mu.Unlock()
		return &t
	}
	e.mu.Unlock()

	if !e.registry.Collecting() {
		return nil
	}
	t, _ := e.store.ExperimentCompletedAt(e.id)
	if t != nil {
		e.mu.Lock()
		e.completedAt = t
		e.mu.Unlock()
	}
	return t
}

// Completed reports whether the experiment has reached its terminal state.
func (e *Experiment) Completed() bool {
	return e.CompletedAt() != nil
}

// Enabled reports whether the experiment is collecting new assignments.
func (e *Experiment) Enabled() bool {
	if !e.registry.Collecting() {
		return true
	}
	enabled, _ := e.store.ExperimentEnabled(e.id)
	return enabled
}

// SetEnabled flips the enabled flag. A no-op when collection is disabled.
func (e *Experiment) SetEnabled(enabled bool) {
	if !e.registry.Collecting() {
		return
	}
	_ = e.store.SetExperimentEnabled(e.id, enabled)
}

// Active reports whether the experiment accepts assignments and conversions.
// With collection disabled the experiment always reports active; everything
// is a process-local no-op anyway.
func (e *Experiment) Active() bool {
	if !e.registry.Collecting() {
		return true
	}
	return e.Enabled() && !e.Completed()
}

// identityFor resolves the visitor identity for this experiment.
func (e *Experiment) identityFor(ctx *Context) string {
	return e.identify(ctx)
}

// Choose assigns the identity an alternative and returns it.
//
// Active experiments honour, in order: a forced-display override, the
// existing persisted assignment, the probability table (if a rebalance
// installed one), and finally the deterministic identity hash. The request
// filter vetoes persistence only: a filtered request still sees its override
// or existing assignment, and a fresh choice is still returned, just never
// recorded. Inactive experiments return the outcome (or the hash-based
// alternative when no valid outcome is set) without recording anything.
func (e *Experiment) Choose(ctx *Context) *Alternative {
	if !e.registry.Collecting() {
		return e.chooseOffline(ctx)
	}

	if !e.Active() {
		if outcome, _ := e.store.Outcome(e.id); outcome != nil && *outcome >= 0 && *outcome < len(e.alternatives) {
			return e.alternatives[*outcome]
		}
		// Probability tables do not apply here: a concluded experiment must
		// answer the same way on every call.
		identity := e.identityFor(ctx)
		return e.alternatives[alternativeIndex(e.name, identity, len(e.alternatives))]
	}

	identity := e.identityFor(ctx)
	if shown, _ := e.store.Showing(e.id, identity); shown != nil {
		return e.alternatives[*shown]
	}
	if assigned, _ := e.store.Assigned(e.id, identity); assigned != nil {
		return e.alternatives[*assigned]
	}

	index := e.alternativeFor(identity)
	if e.registry.filtered(ctx) {
		return e.alternatives[index]
	}

	_ = e.store.AddParticipant(e.id, index, identity)
	e.fireOnAssignment(ctx, e.alternatives[index])
	e.countAssignment()
	e.CheckCompletion()
	return e.alternatives[index]
}

// chooseOffline is the collection-disabled path: assignments live in a
// process-local map and the datastore is never touched.
func (e *Experiment) chooseOffline(ctx *Context) *Alternative {
	identity := e.identityFor(ctx)
	e.mu.Lock()
	index, ok := e.offline[identity]
	e.mu.Unlock()
	if !ok {
		index = e.alternativeFor(identity)
		e.mu.Lock()
		e.offline[identity] = index
		e.mu.Unlock()
	}
	return e.alternatives[index]
}

// Chooses force-assigns the identity to the alternative holding value,
// overriding hash- and probability-based assignment. Passing nil clears the
// override. A value matching no alternative is a configuration error.
func (e *Experiment) Chooses(ctx *Context, value interface{}) error {
	identity := e.identityFor(ctx)

	if !e.registry.Collecting() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if value == nil {
			delete(e.offline, identity)
			return nil
		}
		index := e.indexOf(value)
		if index < 0 {
			return fmt.Errorf("experiment %s: %w: %v", e.name, ErrNoSuchAlternative, value)
		}
		e.offline[identity] = index
		return nil
	}

	if value == nil {
		_ = e.store.CancelShow(e.id, identity)
		return nil
	}

	index := e.indexOf(value)
	if index < 0 {
		return fmt.Errorf("experiment %s: %w: %v", e.name, ErrNoSuchAlternative, value)
	}

	shown, _ := e.store.Showing(e.id, identity)
	if (shown == nil || *shown != index) && !e.registry.filtered(ctx) {
		_ = e.store.AddParticipant(e.id, index, identity)
		e.CheckCompletion()
	}
	_ = e.store.Show(e.id, identity, index)
	return nil
}

// Showing reports whether the identity's current effective assignment is the
// given alternative.
func (e *Experiment) Showing(ctx *Context, alt *Alternative) bool {
	identity := e.identityFor(ctx)

	if !e.registry.Collecting() {
		e.mu.Lock()
		defer e.mu.Unlock()
		index, ok := e.offline[identity]
		return ok && index == alt.Index
	}

	if shown, _ := e.store.Showing(e.id, identity); shown != nil {
		return *shown == alt.Index
	}
	if assigned, _ := e.store.Assigned(e.id, identity); assigned != nil {
		return *assigned == alt.Index
	}
	return false
}

// track records a conversion event delivered by one of the experiment's
// metrics. No-op while inactive; identities with a forced-display override
// are skipped so a Chooses call is not double counted. Without the
// assigned-only registry option, identities that never participated still
// increment the raw conversions counter (never the distinct-converted tally).
func (e *Experiment) track(ctx *Context, t time.Time, count int) {
	if !e.registry.Collecting() || !e.Active() {
		return
	}
	identity := e.identityFor(ctx)

	if shown, _ := e.store.Showing(e.id, identity); shown != nil {
		return
	}

	assigned, _ := e.store.Assigned(e.id, identity)
	if assigned == nil && e.registry.assignedOnly {
		return
	}
	index := 0
	if assigned != nil {
		index = *assigned
	} else {
		index = e.alternativeFor(identity)
	}

	_ = e.store.AddConversion(e.id, index, identity, count, false)
	e.CheckCompletion()
}

// Track records a conversion for the given metric at time t. Exposed for
// hosts that deliver metric events directly; Metric hooks call this under
// the covers.
func (e *Experiment) Track(ctx *Context, metricID string, t time.Time, count int) {
	e.track(ctx, t, count)
}

// CheckCompletion evaluates the optional completion predicate and completes
// the experiment when it reports true. Predicate errors and panics are
// logged and the experiment stays active.
func (e *Experiment) CheckCompletion() {
	e.mu.Lock()
	predicate := e.completeIf
	e.mu.Unlock()
	if predicate == nil {
		return
	}

	done, err := guarded(func() (bool, error) { return predicate(e) })
	if err != nil {
		e.log.Warn().Err(err).Msg("Completion predicate failed")
		return
	}
	if done {
		e.Complete(nil)
	}
}

// Complete transitions the experiment to its terminal state and records the
// outcome. When outcome is nil the outcome rule is consulted first (errors
// fall through to automatic selection), then the default scorer's best
// alternative, then alternative 0. A no-op when collection is disabled or
// the experiment is already inactive.
func (e *Experiment) Complete(outcome *int) {
	if !e.registry.Collecting() || !e.Active() {
		return
	}

	now := time.Now()
	_ = e.store.SetExperimentCompletedAt(e.id, now)
	completedAt, _ := e.store.ExperimentCompletedAt(e.id)
	e.mu.Lock()
	e.completedAt = completedAt
	rule := e.outcomeIs
	e.mu.Unlock()

	e.log.Info().Str("name", e.name).Msg("Experiment completed")

	if outcome == nil && rule != nil {
		alt, err := guarded(func() (*Alternative, error) { return rule(e) })
		switch {
		case err != nil:
			e.log.Warn().Err(err).Msg("Outcome rule failed, falling back to automatic selection")
		case alt != nil && alt.experimentID == e.id:
			index := alt.Index
			outcome = &index
		}
	}
	if outcome == nil {
		if best := e.Score(DefaultProbability).Best; best != nil {
			index := best.Index
			outcome = &index
		}
	}

	index := 0
	if outcome != nil {
		index = *outcome
	}
	_ = e.store.SetOutcome(e.id, index)
}

// Outcome returns the winning alternative, or nil if the experiment has not
// completed.
func (e *Experiment) Outcome() *Alternative {
	if !e.registry.Collecting() {
		return nil
	}
	outcome, _ := e.store.Outcome(e.id)
	if outcome == nil || *outcome < 0 || *outcome >= len(e.alternatives) {
		return nil
	}
	return e.alternatives[*outcome]
}

// Reset wipes all collected data and re-stamps created_at; the experiment
// definition stays registered and starts collecting afresh.
func (e *Experiment) Reset() {
	e.Destroy()
	now := time.Now()
	if e.registry.Collecting() {
		_ = e.store.SetExperimentCreatedAt(e.id, now)
		_ = e.store.SetExperimentEnabled(e.id, e.startEnabled)
	}
	e.mu.Lock()
	e.createdAt = &now
	e.mu.Unlock()
}

// Destroy un-persists the experiment entirely: counts, outcome, completion
// and creation timestamps. The in-process definition survives until the next
// save.
func (e *Experiment) Destroy() {
	if e.registry.Collecting() {
		_ = e.store.DestroyExperiment(e.id)
	}
	e.mu.Lock()
	e.createdAt = nil
	e.completedAt = nil
	e.assignmentsSinceRebalance = 0
	e.probabilities = nil
	e.offline = make(map[string]int)
	e.mu.Unlock()
}

// Score runs the configured default scorer at the given significance
// threshold (percent).
func (e *Experiment) Score(threshold float64) Score {
	if e.scoreMethod == MethodBayesBandit {
		return e.BayesBanditScore(threshold)
	}
	outcome, _ := e.store.Outcome(e.id)
	return scoreZScore(e.loadAlternatives(), outcome, threshold)
}

// BayesBanditScore runs the Bayesian bandit scorer at the given significance
// threshold (percent).
func (e *Experiment) BayesBanditScore(threshold float64) Score {
	outcome, _ := e.store.Outcome(e.id)
	return scoreBayesBandit(e.loadAlternatives(), outcome, threshold)
}

// Conclusion renders the default score as human-readable claims.
func (e *Experiment) Conclusion() []string {
	return Conclusion(e.Score(DefaultProbability))
}

// loadAlternatives returns fresh Alternative views with counts loaded from
// the datastore. Scoring fields start zeroed; the scorers fill them in.
func (e *Experiment) loadAlternatives() []*Alternative {
	loaded := make([]*Alternative, len(e.alternatives))
	for i, alt := range e.alternatives {
		counts, _ := e.store.AlternativeCounts(e.id, alt.Index)
		loaded[i] = &Alternative{
			Index:        alt.Index,
			Value:        alt.Value,
			Participants: counts.Participants,
			Converted:    counts.Converted,
			Conversions:  counts.Conversions,
			experimentID: e.id,
		}
	}
	return loaded
}

// SetAlternativeProbabilities installs a cumulative probability table over
// [0,1] from (alternative, percentage) pairs. Once installed, identities
// without a persisted assignment are assigned by weighted random draw instead
// of the identity hash, permanently.
func (e *Experiment) SetAlternativeProbabilities(probabilities []AlternativeProbability) {
	cumulative := 0.0
	table := make([]probabilityCutoff, 0, len(probabilities))
	for _, ap := range probabilities {
		cumulative += ap.Probability / 100
		table = append(table, probabilityCutoff{index: ap.Alternative.Index, cutoff: cumulative})
	}
	e.mu.Lock()
	e.probabilities = table
	e.mu.Unlock()
}

// SetRebalanceFrequency arms automatic rebalancing every n recorded
// assignments. n must be positive.
func (e *Experiment) SetRebalanceFrequency(n int) error {
	if n <= 0 {
		return fmt.Errorf("experiment %s: rebalance frequency must be positive, got %d", e.name, n)
	}
	e.mu.Lock()
	e.rebalanceFrequency = n
	e.assignmentsSinceRebalance = 0
	e.mu.Unlock()
	return nil
}

// SetCompleteIf installs the completion predicate. Set-once.
func (e *Experiment) SetCompleteIf(fn func(*Experiment) (bool, error)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.completeIf != nil {
		return fmt.Errorf("experiment %s: complete-if %w", e.name, ErrAlreadySet)
	}
	e.completeIf = fn
	return nil
}

// SetOutcomeIs installs the outcome rule. Set-once.
func (e *Experiment) SetOutcomeIs(fn func(*Experiment) (*Alternative, error)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.outcomeIs != nil {
		return fmt.Errorf("experiment %s: outcome rule %w", e.name, ErrAlreadySet)
	}
	e.outcomeIs = fn
	return nil
}

// SetOnAssignment installs the first-assignment callback. Set-once.
func (e *Experiment) SetOnAssignment(fn func(ctx *Context, alt *Alternative) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.onAssignment != nil {
		return fmt.Errorf("experiment %s: on-assignment callback %w", e.name, ErrAlreadySet)
	}
	e.onAssignment = fn
	return nil
}

// Rebalance recomputes Bayesian scores and republishes them as assignment
// probabilities. Only experiments scored by the Bayesian method rebalance; a
// no-op when collection is disabled or the experiment is inactive.
func (e *Experiment) Rebalance() {
	if !e.registry.Collecting() || !e.Active() {
		return
	}
	if e.scoreMethod != MethodBayesBandit {
		return
	}

	score := e.BayesBanditScore(DefaultProbability)
	probabilities := make([]AlternativeProbability, len(score.Alternatives))
	for i, alt := range score.Alternatives {
		probabilities[i] = AlternativeProbability{Alternative: alt, Probability: alt.Probability}
	}
	e.SetAlternativeProbabilities(probabilities)
	e.log.Debug().Msg("Rebalanced assignment probabilities")
}

// alternativeFor picks the alternative index for an identity. With a
// probability table installed, a persisted assignment wins, then one uniform
// draw walks the cumulative table. Without a table (or when the draw falls
// past the last cutoff) the deterministic identity hash decides.
func (e *Experiment) alternativeFor(identity string) int {
	e.mu.Lock()
	table := e.probabilities
	draw := e.randFloat
	e.mu.Unlock()

	if len(table) > 0 {
		if e.registry.Collecting() {
			if assigned, _ := e.store.Assigned(e.id, identity); assigned != nil {
				return *assigned
			}
		}
		r := draw()
		for _, entry := range table {
			if r < entry.cutoff {
				return entry.index
			}
		}
	}
	return alternativeIndex(e.name, identity, len(e.alternatives))
}

// countAssignment advances the rebalance counter and triggers a rebalance
// every rebalanceFrequency new assignments.
func (e *Experiment) countAssignment() {
	e.mu.Lock()
	if e.rebalanceFrequency <= 0 {
		e.mu.Unlock()
		return
	}
	e.assignmentsSinceRebalance++
	trigger := e.assignmentsSinceRebalance >= e.rebalanceFrequency
	if trigger {
		e.assignmentsSinceRebalance = 0
	}
	e.mu.Unlock()

	if trigger {
		e.Rebalance()
	}
}

// fireOnAssignment notifies the assignment callback; errors and panics are
// logged and ignored.
func (e *Experiment) fireOnAssignment(ctx *Context, alt *Alternative) {
	e.mu.Lock()
	callback := e.onAssignment
	e.mu.Unlock()
	if callback == nil {
		return
	}
	if _, err := guarded(func() (struct{}, error) { return struct{}{}, callback(ctx, alt) }); err != nil {
		e.log.Warn().Err(err).Msg("Assignment callback failed")
	}
}

// indexOf returns the index of the alternative holding value, or -1.
func (e *Experiment) indexOf(value interface{}) int {
	for _, alt := range e.alternatives {
		if alt.Value == value {
			return alt.Index
		}
	}
	return -1
}
