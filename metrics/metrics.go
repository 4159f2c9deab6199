// Package metrics exposes Prometheus counters for the session layer.
//
// All methods are safe to call on a nil *Session, so components can take the
// metrics as an optional dependency.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcomes used as label values.
const (
	OutcomeOK        = "ok"
	OutcomeError     = "error"
	OutcomeCache     = "cache"
	OutcomeBanned    = "banned"
	OutcomeLoggedOut = "logged_out"
	OutcomeRejected  = "rejected"
)

// Session holds the counters for session management.
type Session struct {
	ReconcilePasses   *prometheus.CounterVec
	StalePasses       prometheus.Counter
	Logins            *prometheus.CounterVec
	ModerationActions *prometheus.CounterVec
	AvatarUploads     *prometheus.CounterVec
	TicketsCreated    *prometheus.CounterVec
	NetworkChanges    *prometheus.CounterVec
}

// New registers the counters with reg. Pass prometheus.NewRegistry() in tests
// to avoid duplicate registration against the default registry.
func New(reg prometheus.Registerer) *Session {
	f := promauto.With(reg)
	return &Session{
		ReconcilePasses: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mindease_session_reconcile_passes_total",
			Help: "Completed session reconciliation passes by outcome",
		}, []string{"outcome"}),
		StalePasses: f.NewCounter(prometheus.CounterOpts{
			Name: "mindease_session_stale_passes_total",
			Help: "Reconciliation passes discarded because a newer pass started",
		}),
		Logins: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mindease_session_logins_total",
			Help: "Login attempts by method and outcome",
		}, []string{"method", "outcome"}),
		ModerationActions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mindease_moderation_actions_total",
			Help: "Moderation actions by action and outcome",
		}, []string{"action", "outcome"}),
		AvatarUploads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mindease_avatar_uploads_total",
			Help: "Avatar uploads by outcome",
		}, []string{"outcome"}),
		TicketsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mindease_tickets_created_total",
			Help: "Support ticket submissions by outcome",
		}, []string{"outcome"}),
		NetworkChanges: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mindease_network_transitions_total",
			Help: "Observed network reachability transitions",
		}, []string{"state"}),
	}
}

func (m *Session) ReconcilePass(outcome string) {
	if m == nil {
		return
	}
	m.ReconcilePasses.WithLabelValues(outcome).Inc()
}

func (m *Session) StalePass() {
	if m == nil {
		return
	}
	m.StalePasses.Inc()
}

func (m *Session) Login(method, outcome string) {
	if m == nil {
		return
	}
	m.Logins.WithLabelValues(method, outcome).Inc()
}

func (m *Session) Moderation(action, outcome string) {
	if m == nil {
		return
	}
	m.ModerationActions.WithLabelValues(action, outcome).Inc()
}

func (m *Session) AvatarUpload(outcome string) {
	if m == nil {
		return
	}
	m.AvatarUploads.WithLabelValues(outcome).Inc()
}

func (m *Session) TicketCreated(outcome string) {
	if m == nil {
		return
	}
	m.TicketsCreated.WithLabelValues(outcome).Inc()
}

func (m *Session) NetworkChange(online bool) {
	if m == nil {
		return
	}
	state := "offline"
	if online {
		state = "online"
	}
	m.NetworkChanges.WithLabelValues(state).Inc()
}
