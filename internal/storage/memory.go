package storage

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// experimentRecord is the in-memory state for one experiment.
type experimentRecord struct {
	createdAt    *time.Time
	completedAt  *time.Time
	enabled      bool
	enabledSet   bool
	outcome      *int
	participants map[string]*Participant // keyed by identity
	conversions  map[int]int             // total conversion events per alternative
}

// metricRecord is the in-memory state for one metric.
type metricRecord struct {
	values       map[string]int // keyed by day (YYYY-MM-DD)
	lastUpdateAt *time.Time
}

// MemoryStore is a mutex-guarded in-process Store. It backs tests and the
// collection-disabled mode; nothing survives a restart.
type MemoryStore struct {
	mu          sync.RWMutex
	experiments map[string]*experimentRecord
	metrics     map[string]*metricRecord
	log         zerolog.Logger
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(log zerolog.Logger) *MemoryStore {
	return &MemoryStore{
		experiments: make(map[string]*experimentRecord),
		metrics:     make(map[string]*metricRecord),
		log:         log.With().Str("store", "memory").Logger(),
	}
}

// experiment returns the record for id, creating it if needed. Callers must
// hold the write lock.
func (s *MemoryStore) experiment(id string) *experimentRecord {
	rec, ok := s.experiments[id]
	if !ok {
		rec = &experimentRecord{
			participants: make(map[string]*Participant),
			conversions:  make(map[int]int),
		}
		s.experiments[id] = rec
	}
	return rec
}

// ExperimentCreatedAt returns the creation timestamp, or nil if never saved.
func (s *MemoryStore) ExperimentCreatedAt(id string) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rec, ok := s.experiments[id]; ok {
		return copyTime(rec.createdAt), nil
	}
	return nil, nil
}

// SetExperimentCreatedAt records the creation timestamp.
func (s *MemoryStore) SetExperimentCreatedAt(id string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.experiment(id).createdAt = &t
	return nil
}

// ExperimentCompletedAt returns the completion timestamp, or nil.
func (s *MemoryStore) ExperimentCompletedAt(id string) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rec, ok := s.experiments[id]; ok {
		return copyTime(rec.completedAt), nil
	}
	return nil, nil
}

// SetExperimentCompletedAt records the completion timestamp.
func (s *MemoryStore) SetExperimentCompletedAt(id string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.experiment(id).completedAt = &t
	return nil
}

// ExperimentEnabled reports the enabled flag. Unknown experiments are false.
func (s *MemoryStore) ExperimentEnabled(id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rec, ok := s.experiments[id]; ok && rec.enabledSet {
		return rec.enabled, nil
	}
	return false, nil
}

// SetExperimentEnabled flips the enabled flag.
func (s *MemoryStore) SetExperimentEnabled(id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.experiment(id)
	rec.enabled = enabled
	rec.enabledSet = true
	return nil
}

// AlternativeCounts tallies participants, distinct conversions and total
// conversion events for one alternative.
func (s *MemoryStore) AlternativeCounts(id string, alternative int) (Counts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := Counts{}
	rec, ok := s.experiments[id]
	if !ok {
		return counts, nil
	}
	for _, p := range rec.participants {
		if p.Seen != nil && *p.Seen == alternative {
			counts.Participants++
		}
		if p.Converted != nil && *p.Converted == alternative {
			counts.Converted++
		}
	}
	counts.Conversions = rec.conversions[alternative]
	return counts, nil
}

// Show force-displays the alternative to the identity.
func (s *MemoryStore) Show(id, identity string, alternative int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.participant(id, identity)
	p.Shown = &alternative
	return nil
}

// Showing returns the forced-display override, or nil.
func (s *MemoryStore) Showing(id, identity string) (*int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rec, ok := s.experiments[id]; ok {
		if p, ok := rec.participants[identity]; ok {
			return copyIndex(p.Shown), nil
		}
	}
	return nil, nil
}

// CancelShow clears a forced-display override.
func (s *MemoryStore) CancelShow(id, identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.experiments[id]; ok {
		if p, ok := rec.participants[identity]; ok {
			p.Shown = nil
		}
	}
	return nil
}

// AddParticipant assigns the identity to the alternative. Re-assignment is
// last-writer-wins; the identity is never counted twice.
func (s *MemoryStore) AddParticipant(id string, alternative int, identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.participant(id, identity)
	p.Seen = &alternative
	return nil
}

// Assigned returns the identity's alternative, or nil.
func (s *MemoryStore) Assigned(id, identity string) (*int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rec, ok := s.experiments[id]; ok {
		if p, ok := rec.participants[identity]; ok {
			return copyIndex(p.Seen), nil
		}
	}
	return nil, nil
}

// AddConversion records conversion events per the Store contract.
func (s *MemoryStore) AddConversion(id string, alternative int, identity string, count int, implicit bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.experiment(id)
	p := s.participant(id, identity)
	if implicit && p.Seen == nil {
		alt := alternative
		p.Seen = &alt
	}
	participating := p.Seen != nil && *p.Seen == alternative
	if participating && p.Converted == nil {
		alt := alternative
		p.Converted = &alt
	}
	rec.conversions[alternative] += count
	return nil
}

// Outcome returns the recorded winning alternative, or nil.
func (s *MemoryStore) Outcome(id string) (*int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rec, ok := s.experiments[id]; ok {
		return copyIndex(rec.outcome), nil
	}
	return nil, nil
}

// SetOutcome records the winning alternative.
func (s *MemoryStore) SetOutcome(id string, alternative int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.experiment(id).outcome = &alternative
	return nil
}

// DestroyExperiment wipes every record held for the experiment.
func (s *MemoryStore) DestroyExperiment(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.experiments, id)
	return nil
}

// MetricTrack records metric events, aggregated per day.
func (s *MemoryStore) MetricTrack(metricID string, t time.Time, identity string, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.metrics[metricID]
	if !ok {
		rec = &metricRecord{values: make(map[string]int)}
		s.metrics[metricID] = rec
	}
	rec.values[dayKey(t)] += count
	now := time.Now()
	rec.lastUpdateAt = &now
	return nil
}

// MetricValues returns one aggregate per day over [from, to] inclusive.
func (s *MemoryStore) MetricValues(metricID string, from, to time.Time) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var values []int
	rec := s.metrics[metricID]
	for day := startOfDay(from); !day.After(to); day = day.AddDate(0, 0, 1) {
		if rec != nil {
			values = append(values, rec.values[dayKey(day)])
		} else {
			values = append(values, 0)
		}
	}
	return values, nil
}

// MetricLastUpdateAt returns the most recent track time, or nil.
func (s *MemoryStore) MetricLastUpdateAt(metricID string) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rec, ok := s.metrics[metricID]; ok {
		return copyTime(rec.lastUpdateAt), nil
	}
	return nil, nil
}

// DestroyMetric wipes all values held for the metric.
func (s *MemoryStore) DestroyMetric(metricID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.metrics, metricID)
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}

// participant returns the record for identity, creating it if needed. Callers
// must hold the write lock.
func (s *MemoryStore) participant(id, identity string) *Participant {
	rec := s.experiment(id)
	p, ok := rec.participants[identity]
	if !ok {
		p = &Participant{}
		rec.participants[identity] = p
	}
	return p
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copyIndex(i *int) *int {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}

func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func startOfDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
