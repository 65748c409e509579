package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/vantage/internal/database"
)

// schema is the single source of truth for the experiments database layout.
// Participant rows hold the full per-identity record (shown / seen /
// converted); conversion event totals live in their own counter table so
// increments stay atomic under concurrent writers.
const schema = `
CREATE TABLE IF NOT EXISTS experiments (
	id           TEXT PRIMARY KEY,
	created_at   INTEGER,
	completed_at INTEGER,
	enabled      INTEGER,
	outcome      INTEGER
);

CREATE TABLE IF NOT EXISTS participants (
	experiment_id TEXT NOT NULL,
	identity      TEXT NOT NULL,
	shown         INTEGER,
	seen          INTEGER,
	converted     INTEGER,
	PRIMARY KEY (experiment_id, identity)
);

CREATE INDEX IF NOT EXISTS idx_participants_seen
	ON participants(experiment_id, seen);

CREATE TABLE IF NOT EXISTS conversions (
	experiment_id TEXT NOT NULL,
	alternative   INTEGER NOT NULL,
	conversions   INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (experiment_id, alternative)
);

CREATE TABLE IF NOT EXISTS metric_values (
	metric_id      TEXT NOT NULL,
	day            TEXT NOT NULL,
	value          INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (metric_id, day)
);

CREATE TABLE IF NOT EXISTS metrics (
	metric_id      TEXT PRIMARY KEY,
	last_update_at INTEGER
);
`

// SQLiteStore persists experiments in a single SQLite database. Suitable for
// single-host deployments; all mutations are single-statement upserts so the
// Store atomicity contract holds across processes sharing the file.
type SQLiteStore struct {
	db  *database.DB
	log zerolog.Logger
}

// NewSQLiteStore opens (and migrates) the experiments database at path.
func NewSQLiteStore(path string, log zerolog.Logger) (*SQLiteStore, error) {
	db, err := database.New(database.Config{Path: path, Name: "experiments"})
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{
		db:  db,
		log: log.With().Str("store", "sqlite").Logger(),
	}, nil
}

// ExperimentCreatedAt returns the creation timestamp, or nil if never saved.
func (s *SQLiteStore) ExperimentCreatedAt(id string) (*time.Time, error) {
	return s.timestampColumn(id, "created_at")
}

// SetExperimentCreatedAt records the creation timestamp.
func (s *SQLiteStore) SetExperimentCreatedAt(id string, t time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO experiments (id, created_at) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET created_at = excluded.created_at
	`, id, t.Unix())
	if err != nil {
		return fmt.Errorf("failed to set created_at for %s: %w", id, err)
	}
	return nil
}

// ExperimentCompletedAt returns the completion timestamp, or nil.
func (s *SQLiteStore) ExperimentCompletedAt(id string) (*time.Time, error) {
	return s.timestampColumn(id, "completed_at")
}

// SetExperimentCompletedAt records the completion timestamp.
func (s *SQLiteStore) SetExperimentCompletedAt(id string, t time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO experiments (id, completed_at) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET completed_at = excluded.completed_at
	`, id, t.Unix())
	if err != nil {
		return fmt.Errorf("failed to set completed_at for %s: %w", id, err)
	}
	return nil
}

// ExperimentEnabled reports the enabled flag. Unknown experiments are false.
func (s *SQLiteStore) ExperimentEnabled(id string) (bool, error) {
	var enabled sql.NullInt64
	err := s.db.QueryRow(`SELECT enabled FROM experiments WHERE id = ?`, id).Scan(&enabled)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get enabled for %s: %w", id, err)
	}
	return enabled.Valid && enabled.Int64 != 0, nil
}

// SetExperimentEnabled flips the enabled flag.
func (s *SQLiteStore) SetExperimentEnabled(id string, enabled bool) error {
	_, err := s.db.Exec(`
		INSERT INTO experiments (id, enabled) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET enabled = excluded.enabled
	`, id, boolToInt(enabled))
	if err != nil {
		return fmt.Errorf("failed to set enabled for %s: %w", id, err)
	}
	return nil
}

// AlternativeCounts tallies participants, distinct conversions and total
// conversion events for one alternative.
func (s *SQLiteStore) AlternativeCounts(id string, alternative int) (Counts, error) {
	counts := Counts{}
	err := s.db.QueryRow(`
		SELECT
			COUNT(CASE WHEN seen = ? THEN 1 END),
			COUNT(CASE WHEN converted = ? THEN 1 END)
		FROM participants WHERE experiment_id = ?
	`, alternative, alternative, id).Scan(&counts.Participants, &counts.Converted)
	if err != nil {
		return counts, fmt.Errorf("failed to count participants for %s: %w", id, err)
	}

	var conversions sql.NullInt64
	err = s.db.QueryRow(`
		SELECT conversions FROM conversions WHERE experiment_id = ? AND alternative = ?
	`, id, alternative).Scan(&conversions)
	if err != nil && err != sql.ErrNoRows {
		return counts, fmt.Errorf("failed to count conversions for %s: %w", id, err)
	}
	counts.Conversions = int(conversions.Int64)
	return counts, nil
}

// Show force-displays the alternative to the identity.
func (s *SQLiteStore) Show(id, identity string, alternative int) error {
	_, err := s.db.Exec(`
		INSERT INTO participants (experiment_id, identity, shown) VALUES (?, ?, ?)
		ON CONFLICT(experiment_id, identity) DO UPDATE SET shown = excluded.shown
	`, id, identity, alternative)
	if err != nil {
		return fmt.Errorf("failed to set shown for %s: %w", id, err)
	}
	return nil
}

// Showing returns the forced-display override, or nil.
func (s *SQLiteStore) Showing(id, identity string) (*int, error) {
	return s.participantColumn(id, identity, "shown")
}

// CancelShow clears a forced-display override.
func (s *SQLiteStore) CancelShow(id, identity string) error {
	_, err := s.db.Exec(`
		UPDATE participants SET shown = NULL WHERE experiment_id = ? AND identity = ?
	`, id, identity)
	if err != nil {
		return fmt.Errorf("failed to clear shown for %s: %w", id, err)
	}
	return nil
}

// AddParticipant assigns the identity to the alternative. The upsert makes
// concurrent first-assignment races last-writer-wins without double counting.
func (s *SQLiteStore) AddParticipant(id string, alternative int, identity string) error {
	_, err := s.db.Exec(`
		INSERT INTO participants (experiment_id, identity, seen) VALUES (?, ?, ?)
		ON CONFLICT(experiment_id, identity) DO UPDATE SET seen = excluded.seen
	`, id, identity, alternative)
	if err != nil {
		return fmt.Errorf("failed to add participant for %s: %w", id, err)
	}
	return nil
}

// Assigned returns the identity's alternative, or nil.
func (s *SQLiteStore) Assigned(id, identity string) (*int, error) {
	return s.participantColumn(id, identity, "seen")
}

// AddConversion records conversion events per the Store contract. The whole
// operation runs in one transaction so the distinct-converted check and the
// counter increment cannot interleave with another writer.
func (s *SQLiteStore) AddConversion(id string, alternative int, identity string, count int, implicit bool) error {
	return database.WithTransaction(s.db.Conn(), func(tx *sql.Tx) error {
		if implicit {
			if _, err := tx.Exec(`
				INSERT INTO participants (experiment_id, identity, seen) VALUES (?, ?, ?)
				ON CONFLICT(experiment_id, identity) DO UPDATE SET seen = COALESCE(seen, excluded.seen)
			`, id, identity, alternative); err != nil {
				return fmt.Errorf("failed to add implicit participant: %w", err)
			}
		}

		// Distinct-converted increments at most once, and only for the
		// identity's own alternative.
		if _, err := tx.Exec(`
			UPDATE participants SET converted = ?
			WHERE experiment_id = ? AND identity = ? AND seen = ? AND converted IS NULL
		`, alternative, id, identity, alternative); err != nil {
			return fmt.Errorf("failed to mark converted: %w", err)
		}

		if _, err := tx.Exec(`
			INSERT INTO conversions (experiment_id, alternative, conversions) VALUES (?, ?, ?)
			ON CONFLICT(experiment_id, alternative) DO UPDATE SET conversions = conversions.conversions + excluded.conversions
		`, id, alternative, count); err != nil {
			return fmt.Errorf("failed to increment conversions: %w", err)
		}
		return nil
	})
}

// Outcome returns the recorded winning alternative, or nil.
func (s *SQLiteStore) Outcome(id string) (*int, error) {
	var outcome sql.NullInt64
	err := s.db.QueryRow(`SELECT outcome FROM experiments WHERE id = ?`, id).Scan(&outcome)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get outcome for %s: %w", id, err)
	}
	if !outcome.Valid {
		return nil, nil
	}
	v := int(outcome.Int64)
	return &v, nil
}

// SetOutcome records the winning alternative.
func (s *SQLiteStore) SetOutcome(id string, alternative int) error {
	_, err := s.db.Exec(`
		INSERT INTO experiments (id, outcome) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET outcome = excluded.outcome
	`, id, alternative)
	if err != nil {
		return fmt.Errorf("failed to set outcome for %s: %w", id, err)
	}
	return nil
}

// DestroyExperiment wipes every record held for the experiment.
func (s *SQLiteStore) DestroyExperiment(id string) error {
	return database.WithTransaction(s.db.Conn(), func(tx *sql.Tx) error {
		for _, q := range []string{
			`DELETE FROM experiments WHERE id = ?`,
			`DELETE FROM participants WHERE experiment_id = ?`,
			`DELETE FROM conversions WHERE experiment_id = ?`,
		} {
			if _, err := tx.Exec(q, id); err != nil {
				return fmt.Errorf("failed to destroy experiment %s: %w", id, err)
			}
		}
		return nil
	})
}

// MetricTrack records metric events, aggregated per day.
func (s *SQLiteStore) MetricTrack(metricID string, t time.Time, identity string, count int) error {
	return database.WithTransaction(s.db.Conn(), func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
			INSERT INTO metric_values (metric_id, day, value) VALUES (?, ?, ?)
			ON CONFLICT(metric_id, day) DO UPDATE SET value = metric_values.value + excluded.value
		`, metricID, dayKey(t), count); err != nil {
			return fmt.Errorf("failed to track metric %s: %w", metricID, err)
		}
		if _, err := tx.Exec(`
			INSERT INTO metrics (metric_id, last_update_at) VALUES (?, ?)
			ON CONFLICT(metric_id) DO UPDATE SET last_update_at = excluded.last_update_at
		`, metricID, time.Now().Unix()); err != nil {
			return fmt.Errorf("failed to stamp metric %s: %w", metricID, err)
		}
		return nil
	})
}

// MetricValues returns one aggregate per day over [from, to] inclusive.
func (s *SQLiteStore) MetricValues(metricID string, from, to time.Time) ([]int, error) {
	rows, err := s.db.Query(`
		SELECT day, value FROM metric_values WHERE metric_id = ? AND day >= ? AND day <= ?
	`, metricID, dayKey(from), dayKey(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query metric values for %s: %w", metricID, err)
	}
	defer rows.Close()

	byDay := make(map[string]int)
	for rows.Next() {
		var day string
		var value int
		if err := rows.Scan(&day, &value); err != nil {
			s.log.Warn().Err(err).Msg("Failed to scan metric value row")
			continue
		}
		byDay[day] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating metric values: %w", err)
	}

	var values []int
	for day := startOfDay(from); !day.After(to); day = day.AddDate(0, 0, 1) {
		values = append(values, byDay[dayKey(day)])
	}
	return values, nil
}

// MetricLastUpdateAt returns the most recent track time, or nil.
func (s *SQLiteStore) MetricLastUpdateAt(metricID string) (*time.Time, error) {
	var ts sql.NullInt64
	err := s.db.QueryRow(`SELECT last_update_at FROM metrics WHERE metric_id = ?`, metricID).Scan(&ts)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last update for %s: %w", metricID, err)
	}
	if !ts.Valid {
		return nil, nil
	}
	t := time.Unix(ts.Int64, 0)
	return &t, nil
}

// DestroyMetric wipes all values held for the metric.
func (s *SQLiteStore) DestroyMetric(metricID string) error {
	return database.WithTransaction(s.db.Conn(), func(tx *sql.Tx) error {
		for _, q := range []string{
			`DELETE FROM metric_values WHERE metric_id = ?`,
			`DELETE FROM metrics WHERE metric_id = ?`,
		} {
			if _, err := tx.Exec(q, metricID); err != nil {
				return fmt.Errorf("failed to destroy metric %s: %w", metricID, err)
			}
		}
		return nil
	})
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) timestampColumn(id, column string) (*time.Time, error) {
	var ts sql.NullInt64
	query := fmt.Sprintf(`SELECT %s FROM experiments WHERE id = ?`, column)
	err := s.db.QueryRow(query, id).Scan(&ts)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s for %s: %w", column, id, err)
	}
	if !ts.Valid {
		return nil, nil
	}
	t := time.Unix(ts.Int64, 0)
	return &t, nil
}

func (s *SQLiteStore) participantColumn(id, identity, column string) (*int, error) {
	var v sql.NullInt64
	query := fmt.Sprintf(`SELECT %s FROM participants WHERE experiment_id = ? AND identity = ?`, column)
	err := s.db.QueryRow(query, id, identity).Scan(&v)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s for %s: %w", column, id, err)
	}
	if !v.Valid {
		return nil, nil
	}
	i := int(v.Int64)
	return &i, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
