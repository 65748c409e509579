package experiments

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/vantage/internal/storage"
)

// TrackHook is an observer invoked synchronously on every tracked metric
// event, in registration order. Experiments hook themselves onto their
// metrics at definition time; hosts may register additional observers.
type TrackHook func(metricID string, t time.Time, count int, ctx *Context)

// Metric is a named event stream experiments listen to. Tracked values are
// aggregated per day in the datastore; hooks fan events out to the
// experiments (and anything else) observing the metric.
type Metric struct {
	id       string
	name     string
	registry *Registry
	store    storage.Store
	log      zerolog.Logger

	mu    sync.Mutex
	hooks []TrackHook
}

func newMetric(id, name string, registry *Registry) *Metric {
	return &Metric{
		id:       id,
		name:     name,
		registry: registry,
		store:    registry.store,
		log:      registry.log.With().Str("metric", id).Logger(),
	}
}

// ID returns the metric's stable symbolic id.
func (m *Metric) ID() string { return m.id }

// Name returns the human-readable name.
func (m *Metric) Name() string { return m.name }

// Hook registers an observer. Hooks run synchronously, in registration order.
func (m *Metric) Hook(hook TrackHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook)
}

// Track records one or more metric events at the current time.
func (m *Metric) Track(ctx *Context, count int) {
	m.TrackAt(ctx, time.Now(), count)
}

// TrackAt records count events at time t. Non-positive counts are ignored.
// The persisted aggregate is only written while collecting; hooks always run
// so experiments can apply their own collecting rules.
func (m *Metric) TrackAt(ctx *Context, t time.Time, count int) {
	if count <= 0 {
		return
	}
	if m.registry.Collecting() {
		_ = m.store.MetricTrack(m.id, t, ctx.Identity(), count)
	}
	m.log.Debug().Int("count", count).Msg("Tracked metric")

	m.mu.Lock()
	hooks := make([]TrackHook, len(m.hooks))
	copy(hooks, m.hooks)
	m.mu.Unlock()

	for _, hook := range hooks {
		hook(m.id, t, count, ctx)
	}
}

// Values returns one per-day aggregate over [from, to] inclusive.
func (m *Metric) Values(from, to time.Time) ([]int, error) {
	return m.store.MetricValues(m.id, from, to)
}

// LastUpdateAt returns the time of the most recent track, or nil.
func (m *Metric) LastUpdateAt() (*time.Time, error) {
	return m.store.MetricLastUpdateAt(m.id)
}

// Destroy wipes all persisted values for this metric.
func (m *Metric) Destroy() error {
	return m.store.DestroyMetric(m.id)
}
