package tickets

import (
	"testing"
	"time"

	"github.com/mindease/mindease/errors"
	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
)

func TestLimitCheckWindows(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	l := Limits{PerDay: 2, PerHour: 1, HighPriorityPerDay: 1}

	recent := []Ticket{
		{CreatedAt: now.Add(-25 * time.Hour), Priority: PriorityHigh},
		{CreatedAt: now.Add(-90 * time.Minute), Priority: PriorityNormal},
	}
	r, err := l.check(recent, PriorityHigh, now)
	assert.NoError(t, err)
	assert.Equal(t, Remaining{Daily: 1, Hourly: 1, HighPriority: 1}, r)

	recent = append(recent, Ticket{CreatedAt: now.Add(-time.Hour), Priority: PriorityNormal})
	_, err = l.check(recent, PriorityNormal, now)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, codes.ResourceExhausted, errors.Code(err))
	wait, ok := RetryAfter(err)
	assert.True(t, ok)
	assert.Equal(t, 22*time.Hour+30*time.Minute, wait)
}

func TestRetryAfterOtherErrors(t *testing.T) {
	_, ok := RetryAfter(errors.New("boom"))
	assert.False(t, ok)
}
