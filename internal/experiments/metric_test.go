package experiments

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefineMetric_Duplicate(t *testing.T) {
	r, _ := newTestRegistry(t)
	_, err := r.DefineMetric("Signups")
	require.NoError(t, err)

	_, err = r.DefineMetric("Signups")
	assert.ErrorIs(t, err, ErrAlreadyDefined)
}

func TestDefineMetric_DerivesID(t *testing.T) {
	r, _ := newTestRegistry(t)
	m, err := r.DefineMetric("Completed Checkout")
	require.NoError(t, err)

	assert.Equal(t, "completed_checkout", m.ID())
	assert.Equal(t, "Completed Checkout", m.Name())

	found, ok := r.Metric("completed_checkout")
	require.True(t, ok)
	assert.Same(t, m, found)
}

func TestMetric_TrackAggregatesPerDay(t *testing.T) {
	r, _ := newTestRegistry(t)
	m, err := r.DefineMetric("Signups")
	require.NoError(t, err)

	day1 := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)

	m.TrackAt(NewContext("alice"), day1, 2)
	m.TrackAt(NewContext("bob"), day1, 1)
	m.TrackAt(NewContext("alice"), day2, 5)

	values, err := m.Values(day1, day2)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 5}, values)

	last, err := m.LastUpdateAt()
	require.NoError(t, err)
	require.NotNil(t, last)
}

func TestMetric_IgnoresNonPositiveCounts(t *testing.T) {
	r, _ := newTestRegistry(t)
	m, err := r.DefineMetric("Signups")
	require.NoError(t, err)

	fired := 0
	m.Hook(func(metricID string, tm time.Time, count int, ctx *Context) { fired++ })

	m.Track(NewContext("alice"), 0)
	m.Track(NewContext("alice"), -4)

	assert.Zero(t, fired, "non-positive counts never reach the hooks")

	now := time.Now()
	values, err := m.Values(now, now)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, values)
}

func TestMetric_HooksRunInRegistrationOrder(t *testing.T) {
	r, _ := newTestRegistry(t)
	m, err := r.DefineMetric("Signups")
	require.NoError(t, err)

	var order []string
	m.Hook(func(metricID string, tm time.Time, count int, ctx *Context) {
		order = append(order, "first")
		assert.Equal(t, "signups", metricID)
		assert.Equal(t, 3, count)
	})
	m.Hook(func(metricID string, tm time.Time, count int, ctx *Context) {
		order = append(order, "second")
	})

	m.Track(NewContext("alice"), 3)

	assert.Equal(t, []string{"first", "second"}, order)
}

func TestMetric_HooksRunWhileNotCollecting(t *testing.T) {
	r, store := newTestRegistry(t, WithCollecting(false))
	m, err := r.DefineMetric("Signups")
	require.NoError(t, err)

	fired := 0
	m.Hook(func(metricID string, tm time.Time, count int, ctx *Context) { fired++ })

	m.Track(NewContext("alice"), 1)

	assert.Equal(t, 1, fired, "observers see every event regardless of persistence")

	last, err := store.MetricLastUpdateAt("signups")
	require.NoError(t, err)
	assert.Nil(t, last, "collection off means nothing persisted")
}

func TestMetric_Destroy(t *testing.T) {
	r, _ := newTestRegistry(t)
	m, err := r.DefineMetric("Signups")
	require.NoError(t, err)

	now := time.Now().UTC()
	m.TrackAt(NewContext("alice"), now, 4)
	require.NoError(t, m.Destroy())

	values, err := m.Values(now, now)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, values)
}

func TestRegistry_TrackCreatesMetricOnTheFly(t *testing.T) {
	r, store := newTestRegistry(t)

	r.Track(NewContext("alice"), "Ad Clicks", 2)

	last, err := store.MetricLastUpdateAt("ad_clicks")
	require.NoError(t, err)
	assert.NotNil(t, last, "unknown metric ids are registered on first use")
}
