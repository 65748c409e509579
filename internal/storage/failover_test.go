package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBroken = errors.New("datastore unavailable")

// brokenStore fails every operation.
type brokenStore struct{}

func (brokenStore) ExperimentCreatedAt(string) (*time.Time, error)       { return nil, errBroken }
func (brokenStore) SetExperimentCreatedAt(string, time.Time) error       { return errBroken }
func (brokenStore) ExperimentCompletedAt(string) (*time.Time, error)     { return nil, errBroken }
func (brokenStore) SetExperimentCompletedAt(string, time.Time) error     { return errBroken }
func (brokenStore) ExperimentEnabled(string) (bool, error)               { return false, errBroken }
func (brokenStore) SetExperimentEnabled(string, bool) error              { return errBroken }
func (brokenStore) AlternativeCounts(string, int) (Counts, error)        { return Counts{}, errBroken }
func (brokenStore) Show(string, string, int) error                       { return errBroken }
func (brokenStore) Showing(string, string) (*int, error)                 { return nil, errBroken }
func (brokenStore) CancelShow(string, string) error                      { return errBroken }
func (brokenStore) AddParticipant(string, int, string) error             { return errBroken }
func (brokenStore) Assigned(string, string) (*int, error)                { return nil, errBroken }
func (brokenStore) AddConversion(string, int, string, int, bool) error   { return errBroken }
func (brokenStore) Outcome(string) (*int, error)                         { return nil, errBroken }
func (brokenStore) SetOutcome(string, int) error                         { return errBroken }
func (brokenStore) DestroyExperiment(string) error                       { return errBroken }
func (brokenStore) MetricTrack(string, time.Time, string, int) error     { return errBroken }
func (brokenStore) MetricValues(string, time.Time, time.Time) ([]int, error) {
	return nil, errBroken
}
func (brokenStore) MetricLastUpdateAt(string) (*time.Time, error) { return nil, errBroken }
func (brokenStore) DestroyMetric(string) error                    { return errBroken }
func (brokenStore) Close() error                                  { return nil }

func TestFailover_ReadsDegradeToZeroValues(t *testing.T) {
	failover := NewFailover(brokenStore{}, nil, zerolog.Nop())

	created, err := failover.ExperimentCreatedAt("exp")
	require.NoError(t, err)
	assert.Nil(t, created)

	enabled, err := failover.ExperimentEnabled("exp")
	require.NoError(t, err)
	assert.False(t, enabled)

	counts, err := failover.AlternativeCounts("exp", 0)
	require.NoError(t, err)
	assert.Equal(t, Counts{}, counts)

	assigned, err := failover.Assigned("exp", "alice")
	require.NoError(t, err)
	assert.Nil(t, assigned)
}

func TestFailover_WritesBecomeNoOps(t *testing.T) {
	failover := NewFailover(brokenStore{}, nil, zerolog.Nop())

	assert.NoError(t, failover.AddParticipant("exp", 0, "alice"))
	assert.NoError(t, failover.AddConversion("exp", 0, "alice", 1, false))
	assert.NoError(t, failover.SetExperimentCreatedAt("exp", time.Now()))
	assert.NoError(t, failover.SetOutcome("exp", 1))
	assert.NoError(t, failover.MetricTrack("signup", time.Now(), "alice", 1))
}

func TestFailover_CustomHandlerReceivesErrors(t *testing.T) {
	var calls []string
	handler := func(err error, component, method string, args ...interface{}) {
		assert.ErrorIs(t, err, errBroken)
		assert.Equal(t, "Store", component)
		calls = append(calls, method)
	}

	failover := NewFailover(brokenStore{}, handler, zerolog.Nop())
	_, _ = failover.Assigned("exp", "alice")
	_ = failover.AddParticipant("exp", 0, "alice")

	assert.Equal(t, []string{"Assigned", "AddParticipant"}, calls)
}

func TestFailover_PassesThroughOnSuccess(t *testing.T) {
	failover := NewFailover(NewMemoryStore(zerolog.Nop()), func(err error, component, method string, args ...interface{}) {
		t.Fatalf("handler fired for healthy store: %s.%s: %v", component, method, err)
	}, zerolog.Nop())

	require.NoError(t, failover.AddParticipant("exp", 1, "alice"))
	assigned, err := failover.Assigned("exp", "alice")
	require.NoError(t, err)
	require.NotNil(t, assigned)
	assert.Equal(t, 1, *assigned)
}
