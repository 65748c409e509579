package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// BadgerStore persists experiments in an embedded BadgerDB key-value store.
// Records are msgpack-encoded. Key layout:
//
//	e:<experiment>:meta          -> experimentMeta
//	e:<experiment>:p:<identity>  -> Participant
//	e:<experiment>:c:<alt>       -> int (total conversion events)
//	m:<metric>:meta              -> metricMeta
//	m:<metric>:d:<YYYY-MM-DD>    -> int (per-day aggregate)
//
// Mutations run inside write transactions retried on conflict (see update),
// so concurrent writers serialize and the Store atomicity contract holds.
type BadgerStore struct {
	db  *badger.DB
	log zerolog.Logger
}

// experimentMeta is the per-experiment metadata record.
type experimentMeta struct {
	CreatedAt   *time.Time `msgpack:"created_at"`
	CompletedAt *time.Time `msgpack:"completed_at"`
	Enabled     *bool      `msgpack:"enabled"`
	Outcome     *int       `msgpack:"outcome"`
}

// metricMeta is the per-metric metadata record.
type metricMeta struct {
	LastUpdateAt *time.Time `msgpack:"last_update_at"`
}

// BadgerConfig holds BadgerDB adapter configuration.
type BadgerConfig struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory is true.
	Path string
	// InMemory enables in-memory mode (no disk persistence). Useful for tests.
	InMemory bool
	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool
}

// NewBadgerStore opens a BadgerDB-backed store.
func NewBadgerStore(cfg BadgerConfig, log zerolog.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(cfg.Path).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store: %w", err)
	}
	return &BadgerStore{
		db:  db,
		log: log.With().Str("store", "badger").Logger(),
	}, nil
}

// update runs fn in a write transaction, retrying on transaction conflicts.
// Badger detects read-write conflicts between concurrent transactions and
// aborts the loser with ErrConflict; retrying until commit is what makes the
// read-modify-write counters below behave as atomic increments.
func (s *BadgerStore) update(fn func(txn *badger.Txn) error) error {
	for {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
}

func experimentMetaKey(id string) []byte {
	return []byte("e:" + id + ":meta")
}

func participantKey(id, identity string) []byte {
	return []byte("e:" + id + ":p:" + identity)
}

func conversionsKey(id string, alternative int) []byte {
	return []byte(fmt.Sprintf("e:%s:c:%d", id, alternative))
}

func metricMetaKey(metricID string) []byte {
	return []byte("m:" + metricID + ":meta")
}

func metricDayKey(metricID string, t time.Time) []byte {
	return []byte("m:" + metricID + ":d:" + dayKey(t))
}

// ExperimentCreatedAt returns the creation timestamp, or nil if never saved.
func (s *BadgerStore) ExperimentCreatedAt(id string) (*time.Time, error) {
	meta, err := s.readExperimentMeta(id)
	if err != nil {
		return nil, err
	}
	return meta.CreatedAt, nil
}

// SetExperimentCreatedAt records the creation timestamp.
func (s *BadgerStore) SetExperimentCreatedAt(id string, t time.Time) error {
	return s.updateExperimentMeta(id, func(meta *experimentMeta) {
		meta.CreatedAt = &t
	})
}

// ExperimentCompletedAt returns the completion timestamp, or nil.
func (s *BadgerStore) ExperimentCompletedAt(id string) (*time.Time, error) {
	meta, err := s.readExperimentMeta(id)
	if err != nil {
		return nil, err
	}
	return meta.CompletedAt, nil
}

// SetExperimentCompletedAt records the completion timestamp.
func (s *BadgerStore) SetExperimentCompletedAt(id string, t time.Time) error {
	return s.updateExperimentMeta(id, func(meta *experimentMeta) {
		meta.CompletedAt = &t
	})
}

// ExperimentEnabled reports the enabled flag. Unknown experiments are false.
func (s *BadgerStore) ExperimentEnabled(id string) (bool, error) {
	meta, err := s.readExperimentMeta(id)
	if err != nil {
		return false, err
	}
	return meta.Enabled != nil && *meta.Enabled, nil
}

// SetExperimentEnabled flips the enabled flag.
func (s *BadgerStore) SetExperimentEnabled(id string, enabled bool) error {
	return s.updateExperimentMeta(id, func(meta *experimentMeta) {
		meta.Enabled = &enabled
	})
}

// AlternativeCounts tallies participants, distinct conversions and total
// conversion events for one alternative.
func (s *BadgerStore) AlternativeCounts(id string, alternative int) (Counts, error) {
	counts := Counts{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("e:" + id + ":p:")
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var p Participant
			if err := decodeItem(it.Item(), &p); err != nil {
				return err
			}
			if p.Seen != nil && *p.Seen == alternative {
				counts.Participants++
			}
			if p.Converted != nil && *p.Converted == alternative {
				counts.Converted++
			}
		}

		total, err := readInt(txn, conversionsKey(id, alternative))
		if err != nil {
			return err
		}
		counts.Conversions = total
		return nil
	})
	if err != nil {
		return counts, fmt.Errorf("failed to count alternative %d for %s: %w", alternative, id, err)
	}
	return counts, nil
}

// Show force-displays the alternative to the identity.
func (s *BadgerStore) Show(id, identity string, alternative int) error {
	return s.updateParticipant(id, identity, func(p *Participant) {
		p.Shown = &alternative
	})
}

// Showing returns the forced-display override, or nil.
func (s *BadgerStore) Showing(id, identity string) (*int, error) {
	p, err := s.readParticipant(id, identity)
	if err != nil {
		return nil, err
	}
	return p.Shown, nil
}

// CancelShow clears a forced-display override.
func (s *BadgerStore) CancelShow(id, identity string) error {
	return s.updateParticipant(id, identity, func(p *Participant) {
		p.Shown = nil
	})
}

// AddParticipant assigns the identity to the alternative.
func (s *BadgerStore) AddParticipant(id string, alternative int, identity string) error {
	return s.updateParticipant(id, identity, func(p *Participant) {
		p.Seen = &alternative
	})
}

// Assigned returns the identity's alternative, or nil.
func (s *BadgerStore) Assigned(id, identity string) (*int, error) {
	p, err := s.readParticipant(id, identity)
	if err != nil {
		return nil, err
	}
	return p.Seen, nil
}

// AddConversion records conversion events per the Store contract.
func (s *BadgerStore) AddConversion(id string, alternative int, identity string, count int, implicit bool) error {
	err := s.update(func(txn *badger.Txn) error {
		key := participantKey(id, identity)
		var p Participant
		if err := readRecord(txn, key, &p); err != nil {
			return err
		}
		if implicit && p.Seen == nil {
			alt := alternative
			p.Seen = &alt
		}
		if p.Seen != nil && *p.Seen == alternative && p.Converted == nil {
			alt := alternative
			p.Converted = &alt
		}
		if err := writeRecord(txn, key, &p); err != nil {
			return err
		}

		ckey := conversionsKey(id, alternative)
		total, err := readInt(txn, ckey)
		if err != nil {
			return err
		}
		return writeRecord(txn, ckey, total+count)
	})
	if err != nil {
		return fmt.Errorf("failed to add conversion for %s: %w", id, err)
	}
	return nil
}

// Outcome returns the recorded winning alternative, or nil.
func (s *BadgerStore) Outcome(id string) (*int, error) {
	meta, err := s.readExperimentMeta(id)
	if err != nil {
		return nil, err
	}
	return meta.Outcome, nil
}

// SetOutcome records the winning alternative.
func (s *BadgerStore) SetOutcome(id string, alternative int) error {
	return s.updateExperimentMeta(id, func(meta *experimentMeta) {
		meta.Outcome = &alternative
	})
}

// DestroyExperiment wipes every record held for the experiment.
func (s *BadgerStore) DestroyExperiment(id string) error {
	if err := s.dropPrefix([]byte("e:" + id + ":")); err != nil {
		return fmt.Errorf("failed to destroy experiment %s: %w", id, err)
	}
	return nil
}

// MetricTrack records metric events, aggregated per day.
func (s *BadgerStore) MetricTrack(metricID string, t time.Time, identity string, count int) error {
	err := s.update(func(txn *badger.Txn) error {
		key := metricDayKey(metricID, t)
		total, err := readInt(txn, key)
		if err != nil {
			return err
		}
		if err := writeRecord(txn, key, total+count); err != nil {
			return err
		}
		now := time.Now()
		return writeRecord(txn, metricMetaKey(metricID), &metricMeta{LastUpdateAt: &now})
	})
	if err != nil {
		return fmt.Errorf("failed to track metric %s: %w", metricID, err)
	}
	return nil
}

// MetricValues returns one aggregate per day over [from, to] inclusive.
func (s *BadgerStore) MetricValues(metricID string, from, to time.Time) ([]int, error) {
	var values []int
	err := s.db.View(func(txn *badger.Txn) error {
		for day := startOfDay(from); !day.After(to); day = day.AddDate(0, 0, 1) {
			total, err := readInt(txn, metricDayKey(metricID, day))
			if err != nil {
				return err
			}
			values = append(values, total)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read metric values for %s: %w", metricID, err)
	}
	return values, nil
}

// MetricLastUpdateAt returns the most recent track time, or nil.
func (s *BadgerStore) MetricLastUpdateAt(metricID string) (*time.Time, error) {
	var meta metricMeta
	err := s.db.View(func(txn *badger.Txn) error {
		return readRecord(txn, metricMetaKey(metricID), &meta)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read metric meta for %s: %w", metricID, err)
	}
	return meta.LastUpdateAt, nil
}

// DestroyMetric wipes all values held for the metric.
func (s *BadgerStore) DestroyMetric(metricID string) error {
	if err := s.dropPrefix([]byte("m:" + metricID + ":")); err != nil {
		return fmt.Errorf("failed to destroy metric %s: %w", metricID, err)
	}
	return nil
}

// Close closes the underlying BadgerDB.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func (s *BadgerStore) readExperimentMeta(id string) (experimentMeta, error) {
	var meta experimentMeta
	err := s.db.View(func(txn *badger.Txn) error {
		return readRecord(txn, experimentMetaKey(id), &meta)
	})
	if err != nil {
		return meta, fmt.Errorf("failed to read experiment meta for %s: %w", id, err)
	}
	return meta, nil
}

func (s *BadgerStore) updateExperimentMeta(id string, mutate func(*experimentMeta)) error {
	err := s.update(func(txn *badger.Txn) error {
		key := experimentMetaKey(id)
		var meta experimentMeta
		if err := readRecord(txn, key, &meta); err != nil {
			return err
		}
		mutate(&meta)
		return writeRecord(txn, key, &meta)
	})
	if err != nil {
		return fmt.Errorf("failed to update experiment meta for %s: %w", id, err)
	}
	return nil
}

func (s *BadgerStore) readParticipant(id, identity string) (Participant, error) {
	var p Participant
	err := s.db.View(func(txn *badger.Txn) error {
		return readRecord(txn, participantKey(id, identity), &p)
	})
	if err != nil {
		return p, fmt.Errorf("failed to read participant for %s: %w", id, err)
	}
	return p, nil
}

func (s *BadgerStore) updateParticipant(id, identity string, mutate func(*Participant)) error {
	err := s.update(func(txn *badger.Txn) error {
		key := participantKey(id, identity)
		var p Participant
		if err := readRecord(txn, key, &p); err != nil {
			return err
		}
		mutate(&p)
		return writeRecord(txn, key, &p)
	})
	if err != nil {
		return fmt.Errorf("failed to update participant for %s: %w", id, err)
	}
	return nil
}

func (s *BadgerStore) dropPrefix(prefix []byte) error {
	// Collect keys under a read transaction, then delete in batches. DropPrefix
	// would also work but flushes memtables, which is heavyweight for tests.
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return err
	}
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			return err
		}
	}
	return wb.Flush()
}

// readRecord decodes the msgpack value at key into out. Missing keys leave
// out at its zero value.
func readRecord(txn *badger.Txn, key []byte, out interface{}) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return decodeItem(item, out)
}

func decodeItem(item *badger.Item, out interface{}) error {
	return item.Value(func(val []byte) error {
		return msgpack.Unmarshal(val, out)
	})
}

func writeRecord(txn *badger.Txn, key []byte, value interface{}) error {
	encoded, err := msgpack.Marshal(value)
	if err != nil {
		return err
	}
	return txn.Set(key, encoded)
}

func readInt(txn *badger.Txn, key []byte) (int, error) {
	var v int
	if err := readRecord(txn, key, &v); err != nil {
		return 0, err
	}
	return v, nil
}
