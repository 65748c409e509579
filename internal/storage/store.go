// Package storage defines the datastore port the experiment engine persists
// through, plus the reference adapters (in-memory, SQLite, BadgerDB).
//
// The engine is storage-agnostic: everything it ever writes or reads goes
// through the Store interface below. Adapters must honour two atomicity
// guarantees (see the interface docs): participant assignment is
// create-if-absent under concurrent first-assignment races, and conversion
// totals are atomic counters. No cross-experiment transactions are required;
// each (experiment, alternative, identity) triple is an independent unit of
// mutation.
package storage

import "time"

// Counts holds the persisted tallies for one alternative of one experiment.
//
// Participants is the number of distinct identities assigned to the
// alternative. Converted is the number of distinct identities that converted
// at least once. Conversions is the total number of conversion events and may
// exceed Converted when identities convert repeatedly.
type Counts struct {
	Participants int
	Converted    int
	Conversions  int
}

// Participant is the per-identity record for one experiment.
//
// Shown is the alternative index force-displayed via an explicit override
// (Chooses), Seen is the alternative the identity was assigned to, and
// Converted is the alternative the identity converted on. All three are nil
// when unset. An identity holds at most one assignment per experiment.
type Participant struct {
	Shown     *int
	Seen      *int
	Converted *int
}

// Store is the datastore port consumed by the experiment engine.
//
// Implementations may be backed by anything key-value-ish; the key layout is
// entirely an adapter concern. Errors returned from any method are routed
// through the registry's failover decorator, so adapters should return plain
// wrapped errors and never panic.
type Store interface {
	// ExperimentCreatedAt returns the creation timestamp, or nil if the
	// experiment has never been saved.
	ExperimentCreatedAt(experimentID string) (*time.Time, error)

	// SetExperimentCreatedAt records the creation timestamp. Write-once
	// semantics are the caller's responsibility, not enforced here.
	SetExperimentCreatedAt(experimentID string, t time.Time) error

	// ExperimentCompletedAt returns the completion timestamp, or nil while
	// the experiment is still collecting.
	ExperimentCompletedAt(experimentID string) (*time.Time, error)

	// SetExperimentCompletedAt records the completion timestamp.
	SetExperimentCompletedAt(experimentID string, t time.Time) error

	// ExperimentEnabled reports whether the experiment is enabled. Unknown
	// experiments report false.
	ExperimentEnabled(experimentID string) (bool, error)

	// SetExperimentEnabled flips the enabled flag.
	SetExperimentEnabled(experimentID string, enabled bool) error

	// AlternativeCounts returns the tallies for one alternative.
	AlternativeCounts(experimentID string, alternative int) (Counts, error)

	// Show force-displays the given alternative to the identity, overriding
	// any hash- or probability-based assignment.
	Show(experimentID, identity string, alternative int) error

	// Showing returns the forced-display override for the identity, or nil
	// when none is set.
	Showing(experimentID, identity string) (*int, error)

	// CancelShow clears a forced-display override.
	CancelShow(experimentID, identity string) error

	// AddParticipant assigns the identity to the alternative. Must be safe
	// under concurrent first-assignment races for the same identity:
	// last-writer-wins is acceptable, double counting is not.
	AddParticipant(experimentID string, alternative int, identity string) error

	// Assigned returns the alternative the identity participates in, or nil
	// if the identity was never assigned.
	Assigned(experimentID, identity string) (*int, error)

	// AddConversion records count conversion events against the alternative.
	// The distinct-converted tally for the identity increments at most once,
	// and only if the identity already participates in this alternative.
	// When implicit is true the participant is added first.
	// The raw conversions counter always increments by count.
	AddConversion(experimentID string, alternative int, identity string, count int, implicit bool) error

	// Outcome returns the recorded winning alternative, or nil if the
	// experiment has not completed.
	Outcome(experimentID string) (*int, error)

	// SetOutcome records the winning alternative.
	SetOutcome(experimentID string, alternative int) error

	// DestroyExperiment wipes every record held for the experiment:
	// timestamps, enabled flag, outcome, participants and counters.
	DestroyExperiment(experimentID string) error

	// MetricTrack records count metric events at the given time. Aggregation
	// granularity is one day.
	MetricTrack(metricID string, t time.Time, identity string, count int) error

	// MetricValues returns one aggregate per day over [from, to] inclusive.
	MetricValues(metricID string, from, to time.Time) ([]int, error)

	// MetricLastUpdateAt returns the time of the most recent track call, or
	// nil if the metric has never been tracked.
	MetricLastUpdateAt(metricID string) (*time.Time, error)

	// DestroyMetric wipes all values held for the metric.
	DestroyMetric(metricID string) error

	// Close releases any resources held by the adapter.
	Close() error
}
