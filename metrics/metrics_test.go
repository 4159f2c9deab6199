package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ReconcilePass(OutcomeOK)
	m.ReconcilePass(OutcomeOK)
	m.ReconcilePass(OutcomeBanned)
	m.StalePass()
	m.Login("password", OutcomeError)
	m.Moderation("ban", OutcomeOK)
	m.AvatarUpload(OutcomeRejected)
	m.TicketCreated(OutcomeOK)
	m.NetworkChange(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ReconcilePasses.WithLabelValues(OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReconcilePasses.WithLabelValues(OutcomeBanned)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StalePasses))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Logins.WithLabelValues("password", OutcomeError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ModerationActions.WithLabelValues("ban", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AvatarUploads.WithLabelValues(OutcomeRejected)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TicketsCreated.WithLabelValues(OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NetworkChanges.WithLabelValues("offline")))
}

func TestNilSafe(t *testing.T) {
	var m *Session
	assert.NotPanics(t, func() {
		m.ReconcilePass(OutcomeOK)
		m.StalePass()
		m.Login("password", OutcomeOK)
		m.Moderation("ban", OutcomeOK)
		m.AvatarUpload(OutcomeOK)
		m.TicketCreated(OutcomeOK)
		m.NetworkChange(true)
	})
}
