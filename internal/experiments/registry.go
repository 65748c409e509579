package experiments

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/vantage/internal/storage"
)

// RequestFilter vetoes persistence for a request (bot traffic and the like).
// It receives the host's opaque request object; returning true means the
// chosen alternative is still served but never recorded.
type RequestFilter func(request interface{}) bool

// Registry is the in-process home of experiment and metric definitions (the
// engine's "playground"). Definitions are registered once at load and read
// thereafter; redefinition is a configuration error and live mutation is not
// supported. Rebuild wholesale via Reload.
type Registry struct {
	store storage.Store
	log   zerolog.Logger

	collecting    bool
	startEnabled  bool
	assignedOnly  bool
	requestFilter RequestFilter
	errorHandler  storage.ErrorHandler

	mu          sync.RWMutex
	experiments map[string]*Experiment
	metrics     map[string]*Metric
}

// Option configures a Registry.
type Option func(*Registry)

// WithCollecting sets whether assignments and conversions are persisted.
// When false the engine never touches the datastore and serves assignments
// from process-local memory. Defaults to true.
func WithCollecting(collecting bool) Option {
	return func(r *Registry) { r.collecting = collecting }
}

// WithExperimentsStartEnabled sets the default enabled flag stamped on newly
// created experiments. Defaults to true.
func WithExperimentsStartEnabled(enabled bool) Option {
	return func(r *Registry) { r.startEnabled = enabled }
}

// WithAssignedOnly restricts conversion tracking to identities that already
// participate; events from unassigned identities are dropped entirely.
func WithAssignedOnly(assignedOnly bool) Option {
	return func(r *Registry) { r.assignedOnly = assignedOnly }
}

// WithRequestFilter installs the persistence veto predicate.
func WithRequestFilter(filter RequestFilter) Option {
	return func(r *Registry) { r.requestFilter = filter }
}

// WithErrorHandler routes storage errors to handler instead of the default
// log-and-continue sink.
func WithErrorHandler(handler storage.ErrorHandler) Option {
	return func(r *Registry) { r.errorHandler = handler }
}

// New creates a registry over the given store. The store is wrapped in the
// failover decorator, so a failing datastore degrades to logged no-ops
// rather than propagating into request handling.
func New(store storage.Store, log zerolog.Logger, opts ...Option) *Registry {
	r := &Registry{
		log:          log.With().Str("component", "experiments").Logger(),
		collecting:   true,
		startEnabled: true,
		experiments:  make(map[string]*Experiment),
		metrics:      make(map[string]*Metric),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.store = storage.NewFailover(store, r.errorHandler, r.log)
	return r
}

// Collecting reports whether assignments and conversions are persisted.
func (r *Registry) Collecting() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collecting
}

// SetCollecting flips persistence on or off at runtime.
func (r *Registry) SetCollecting(collecting bool) {
	r.mu.Lock()
	r.collecting = collecting
	r.mu.Unlock()
}

// filtered reports whether the request filter vetoes this context.
func (r *Registry) filtered(ctx *Context) bool {
	return r.requestFilter != nil && ctx != nil && ctx.Request != nil && r.requestFilter(ctx.Request)
}

// Define registers an experiment. The id is derived from the definition
// name; registering the same id twice is a configuration error. Referenced
// metrics are created on demand and wired to the experiment in registration
// order.
func (r *Registry) Define(def Definition) (*Experiment, error) {
	exp, err := newExperiment(r, def)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if _, exists := r.experiments[exp.ID()]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("experiment %s: %w", exp.ID(), ErrAlreadyDefined)
	}
	r.experiments[exp.ID()] = exp
	r.mu.Unlock()

	if err := exp.save(); err != nil {
		r.mu.Lock()
		delete(r.experiments, exp.ID())
		r.mu.Unlock()
		return nil, err
	}

	for _, metricID := range def.Metrics {
		metric := r.metric(experimentID(metricID))
		metric.Hook(func(metricID string, t time.Time, count int, ctx *Context) {
			exp.Track(ctx, metricID, t, count)
		})
	}

	if def.RebalanceFrequency > 0 {
		exp.Rebalance()
	}
	return exp, nil
}

// DefineMetric registers a named metric. Registering the same id twice is a
// configuration error.
func (r *Registry) DefineMetric(name string) (*Metric, error) {
	id := experimentID(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.metrics[id]; exists {
		return nil, fmt.Errorf("metric %s: %w", id, ErrAlreadyDefined)
	}
	metric := newMetric(id, name, r)
	r.metrics[id] = metric
	return metric, nil
}

// metric returns the metric with the given id, creating an anonymous one on
// first reference.
func (r *Registry) metric(id string) *Metric {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.metrics[id]; ok {
		return m
	}
	m := newMetric(id, id, r)
	r.metrics[id] = m
	return m
}

// Experiment looks up a registered experiment by id.
func (r *Registry) Experiment(id string) (*Experiment, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exp, ok := r.experiments[id]
	return exp, ok
}

// Metric looks up a registered metric by id.
func (r *Registry) Metric(id string) (*Metric, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.metrics[id]
	return m, ok
}

// Experiments returns all registered experiments, ordered by id.
func (r *Registry) Experiments() []*Experiment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Experiment, 0, len(r.experiments))
	for _, exp := range r.experiments {
		out = append(out, exp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Track records count events against the metric with the given id. Unknown
// metrics are created on the fly so usage tracking never drops events.
func (r *Registry) Track(ctx *Context, metricID string, count int) {
	r.metric(experimentID(metricID)).Track(ctx, count)
}

// Reload drops every registered definition so the host can re-register them
// wholesale. Persisted data is untouched; this only rebuilds the in-process
// registry, which must never be partially mutated.
func (r *Registry) Reload() {
	r.mu.Lock()
	r.experiments = make(map[string]*Experiment)
	r.metrics = make(map[string]*Metric)
	r.mu.Unlock()
	r.log.Info().Msg("Registry reloaded")
}

// Close releases the underlying store.
func (r *Registry) Close() error {
	return r.store.Close()
}
