package storage

import (
	"time"

	"github.com/rs/zerolog"
)

// ErrorHandler receives every storage error intercepted by the failover
// decorator: the error itself, the failing component and method, and the
// method arguments.
type ErrorHandler func(err error, component, method string, args ...interface{})

// Failover wraps a Store and converts storage errors into handler
// invocations. Reads degrade to zero values and writes become no-ops, so a
// flaky datastore never corrupts in-memory experiment definitions or takes
// down the calling request. Install a custom handler to raise instead.
type Failover struct {
	store   Store
	handler ErrorHandler
	log     zerolog.Logger
}

// NewFailover wraps store. A nil handler gets the default log-and-continue
// behavior.
func NewFailover(store Store, handler ErrorHandler, log zerolog.Logger) *Failover {
	f := &Failover{
		store:   store,
		handler: handler,
		log:     log.With().Str("store", "failover").Logger(),
	}
	if f.handler == nil {
		f.handler = f.logError
	}
	return f
}

func (f *Failover) logError(err error, component, method string, args ...interface{}) {
	f.log.Error().
		Err(err).
		Str("component", component).
		Str("method", method).
		Interface("args", args).
		Msg("Storage operation failed")
}

func (f *Failover) ExperimentCreatedAt(id string) (*time.Time, error) {
	t, err := f.store.ExperimentCreatedAt(id)
	if err != nil {
		f.handler(err, "Store", "ExperimentCreatedAt", id)
		return nil, nil
	}
	return t, nil
}

func (f *Failover) SetExperimentCreatedAt(id string, t time.Time) error {
	if err := f.store.SetExperimentCreatedAt(id, t); err != nil {
		f.handler(err, "Store", "SetExperimentCreatedAt", id, t)
	}
	return nil
}

func (f *Failover) ExperimentCompletedAt(id string) (*time.Time, error) {
	t, err := f.store.ExperimentCompletedAt(id)
	if err != nil {
		f.handler(err, "Store", "ExperimentCompletedAt", id)
		return nil, nil
	}
	return t, nil
}

func (f *Failover) SetExperimentCompletedAt(id string, t time.Time) error {
	if err := f.store.SetExperimentCompletedAt(id, t); err != nil {
		f.handler(err, "Store", "SetExperimentCompletedAt", id, t)
	}
	return nil
}

func (f *Failover) ExperimentEnabled(id string) (bool, error) {
	enabled, err := f.store.ExperimentEnabled(id)
	if err != nil {
		f.handler(err, "Store", "ExperimentEnabled", id)
		return false, nil
	}
	return enabled, nil
}

func (f *Failover) SetExperimentEnabled(id string, enabled bool) error {
	if err := f.store.SetExperimentEnabled(id, enabled); err != nil {
		f.handler(err, "Store", "SetExperimentEnabled", id, enabled)
	}
	return nil
}

func (f *Failover) AlternativeCounts(id string, alternative int) (Counts, error) {
	counts, err := f.store.AlternativeCounts(id, alternative)
	if err != nil {
		f.handler(err, "Store", "AlternativeCounts", id, alternative)
		return Counts{}, nil
	}
	return counts, nil
}

func (f *Failover) Show(id, identity string, alternative int) error {
	if err := f.store.Show(id, identity, alternative); err != nil {
		f.handler(err, "Store", "Show", id, identity, alternative)
	}
	return nil
}

func (f *Failover) Showing(id, identity string) (*int, error) {
	alt, err := f.store.Showing(id, identity)
	if err != nil {
		f.handler(err, "Store", "Showing", id, identity)
		return nil, nil
	}
	return alt, nil
}

func (f *Failover) CancelShow(id, identity string) error {
	if err := f.store.CancelShow(id, identity); err != nil {
		f.handler(err, "Store", "CancelShow", id, identity)
	}
	return nil
}

func (f *Failover) AddParticipant(id string, alternative int, identity string) error {
	if err := f.store.AddParticipant(id, alternative, identity); err != nil {
		f.handler(err, "Store", "AddParticipant", id, alternative, identity)
	}
	return nil
}

func (f *Failover) Assigned(id, identity string) (*int, error) {
	alt, err := f.store.Assigned(id, identity)
	if err != nil {
		f.handler(err, "Store", "Assigned", id, identity)
		return nil, nil
	}
	return alt, nil
}

func (f *Failover) AddConversion(id string, alternative int, identity string, count int, implicit bool) error {
	if err := f.store.AddConversion(id, alternative, identity, count, implicit); err != nil {
		f.handler(err, "Store", "AddConversion", id, alternative, identity, count, implicit)
	}
	return nil
}

func (f *Failover) Outcome(id string) (*int, error) {
	alt, err := f.store.Outcome(id)
	if err != nil {
		f.handler(err, "Store", "Outcome", id)
		return nil, nil
	}
	return alt, nil
}

func (f *Failover) SetOutcome(id string, alternative int) error {
	if err := f.store.SetOutcome(id, alternative); err != nil {
		f.handler(err, "Store", "SetOutcome", id, alternative)
	}
	return nil
}

func (f *Failover) DestroyExperiment(id string) error {
	if err := f.store.DestroyExperiment(id); err != nil {
		f.handler(err, "Store", "DestroyExperiment", id)
	}
	return nil
}

func (f *Failover) MetricTrack(metricID string, t time.Time, identity string, count int) error {
	if err := f.store.MetricTrack(metricID, t, identity, count); err != nil {
		f.handler(err, "Store", "MetricTrack", metricID, t, identity, count)
	}
	return nil
}

func (f *Failover) MetricValues(metricID string, from, to time.Time) ([]int, error) {
	values, err := f.store.MetricValues(metricID, from, to)
	if err != nil {
		f.handler(err, "Store", "MetricValues", metricID, from, to)
		return nil, nil
	}
	return values, nil
}

func (f *Failover) MetricLastUpdateAt(metricID string) (*time.Time, error) {
	t, err := f.store.MetricLastUpdateAt(metricID)
	if err != nil {
		f.handler(err, "Store", "MetricLastUpdateAt", metricID)
		return nil, nil
	}
	return t, nil
}

func (f *Failover) DestroyMetric(metricID string) error {
	if err := f.store.DestroyMetric(metricID); err != nil {
		f.handler(err, "Store", "DestroyMetric", metricID)
	}
	return nil
}

func (f *Failover) Close() error {
	return f.store.Close()
}
