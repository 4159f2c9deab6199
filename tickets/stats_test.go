package tickets

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStats(t *testing.T) {
	f := newFixture(t, WithLimits(Limits{}))
	ctx := t.Context()
	start := f.clock

	a := f.create(t, ada, "a", PriorityHigh)
	b := f.create(t, bob, "b", PriorityNormal)
	f.create(t, bob, "c", PriorityNormal)
	f.advance(24 * time.Hour)
	d := f.create(t, ada, "d", PriorityLow)

	f.advance(2 * time.Hour)
	require.NoError(t, f.svc.AddResponse(ctx, admin, a.ID, "on it", StatusResolved))
	require.NoError(t, f.svc.AddResponse(ctx, admin, d.ID, "on it", StatusResolved))
	require.NoError(t, f.svc.UpdateStatus(ctx, admin, b.ID, StatusInProgress))
	require.NoError(t, f.svc.SetSatisfaction(ctx, ada, a.ID, 5))
	require.NoError(t, f.svc.SetSatisfaction(ctx, ada, d.ID, 3))

	st, err := f.svc.Stats(ctx, admin, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 4, st.Total)
	assert.Equal(t, map[Status]int{StatusOpen: 1, StatusInProgress: 1, StatusResolved: 2}, st.ByStatus)
	assert.Equal(t, map[Priority]int{PriorityHigh: 1, PriorityNormal: 2, PriorityLow: 1}, st.ByPriority)
	assert.Equal(t, map[string]int{"account": 4}, st.ByCategory)
	// (26h + 2h) / 2
	assert.Equal(t, 14, st.AvgResponseHours)
	// (5 + 3) / 10
	assert.Equal(t, 80, st.Satisfaction)
	assert.Equal(t, 50, st.ResolutionRate)
	assert.Equal(t, map[string]int{"2024-06-01": 3, "2024-06-02": 1}, st.Daily)

	st, err = f.svc.Stats(ctx, admin, start.Add(time.Hour), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, st.Total)

	_, err = f.svc.Stats(ctx, ada, time.Time{}, time.Time{})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestStatsEmpty(t *testing.T) {
	st := summarize(nil)
	assert.Zero(t, st.Total)
	assert.Zero(t, st.AvgResponseHours)
	assert.Zero(t, st.Satisfaction)
	assert.Zero(t, st.ResolutionRate)
}
