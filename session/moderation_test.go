package session

import (
	"context"
	"sync"
	"testing"

	"github.com/mindease/mindease/docstore"
	"github.com/mindease/mindease/eventbus"
	"github.com/mindease/mindease/metrics"
	"github.com/mindease/mindease/profile"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	adminUID  = "uid-1"
	targetUID = "target"
	otherMod  = "other-admin"
)

func adminSession(t *testing.T, f *fixture) *Manager {
	t.Helper()
	f.idp.AddUser("admin@example.com", "secret", "Admin")
	f.seedProfile(t, adminUID, docstore.Document{"displayName": "Admin", "isAdmin": true, "role": "admin"})
	f.seedProfile(t, targetUID, docstore.Document{"displayName": "Target", "email": "target@example.com"})
	f.seedProfile(t, otherMod, docstore.Document{"displayName": "Mod", "isAdmin": true, "role": "admin"})
	m := f.manager(t)
	require.NoError(t, m.Login(t.Context(), "admin@example.com", "secret"))
	require.True(t, m.State().IsAdmin)
	return m
}

func TestBanAndUnban(t *testing.T) {
	f := newFixture(t)
	m := adminSession(t, f)

	var mu sync.Mutex
	var events []ModerationEvent
	record := func(_ context.Context, msg *eventbus.Message) error {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, msg.Data.(ModerationEvent))
		return nil
	}
	f.bus.Subscribe(TopicUserBanned, record)
	f.bus.Subscribe(TopicUserUnbanned, record)

	require.NoError(t, m.BanUser(t.Context(), targetUID))
	assert.Equal(t, "User banned successfully", m.Success())
	target, err := f.profiles.Get(t.Context(), targetUID)
	require.NoError(t, err)
	assert.True(t, target.IsBanned)
	assert.NotNil(t, target.BannedAt)
	assert.Equal(t, adminUID, target.UpdatedBy)
	assert.True(t, target.ChatRestricted)

	require.NoError(t, m.UnbanUser(t.Context(), targetUID))
	target, err = f.profiles.Get(t.Context(), targetUID)
	require.NoError(t, err)
	assert.False(t, target.IsBanned)
	assert.Nil(t, target.BannedAt)

	log, err := f.profiles.AuditLog(t.Context())
	require.NoError(t, err)
	require.Len(t, log, 2)
	actions := []string{log[0].Action, log[1].Action}
	assert.ElementsMatch(t, []string{profile.ActionBanned, profile.ActionUnbanned}, actions)
	for _, e := range log {
		assert.Equal(t, targetUID, e.TargetUserID)
		assert.Equal(t, adminUID, e.AdminID)
		assert.Equal(t, "Administrative action", e.Details["reason"])
	}

	assert.False(t, m.State().IsBanned, "the caller's own state is untouched")
	assert.True(t, m.State().IsAdmin)

	require.NoError(t, f.bus.Wait(t.Context()))
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 2)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ModerationActions.WithLabelValues(profile.ActionBanned, metrics.OutcomeOK)))
}

func TestMonitorUser(t *testing.T) {
	f := newFixture(t)
	m := adminSession(t, f)

	require.NoError(t, m.MonitorUser(t.Context(), targetUID))
	assert.Equal(t, "User added to monitoring list", m.Success())
	target, err := f.profiles.Get(t.Context(), targetUID)
	require.NoError(t, err)
	assert.True(t, target.IsMonitored)
	assert.Equal(t, adminUID, target.MonitoredBy)

	log, err := f.profiles.AuditLog(t.Context())
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, profile.ActionMonitored, log[0].Action)
}

// Property: a non admin caller is rejected without any write.
func TestBanRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	f.idp.AddUser("user@example.com", "secret", "User")
	f.seedProfile(t, targetUID, docstore.Document{"displayName": "Target"})
	m := f.manager(t)
	require.NoError(t, m.Login(t.Context(), "user@example.com", "secret"))
	f.docs.reset()

	for _, op := range []func(context.Context, string) error{m.BanUser, m.UnbanUser, m.MonitorUser} {
		err := op(t.Context(), targetUID)
		assert.ErrorIs(t, err, ErrUnauthorized)
	}
	_, writes := f.docs.counts()
	assert.Zero(t, writes)
	target, err := f.profiles.Get(t.Context(), targetUID)
	require.NoError(t, err)
	assert.False(t, target.IsBanned)
}

func TestBanSignedOut(t *testing.T) {
	f := newFixture(t)
	m := f.manager(t)
	assert.ErrorIs(t, m.BanUser(t.Context(), targetUID), ErrUnauthenticated)
}

func TestModerationTargets(t *testing.T) {
	tests := []struct {
		name   string
		target string
		err    error
	}{
		{"self", adminUID, ErrInvalidTarget},
		{"another admin", otherMod, ErrInvalidTarget},
		{"missing", "ghost", ErrTargetNotFound},
		{"empty", "", ErrTargetNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			m := adminSession(t, f)
			f.docs.reset()

			assert.ErrorIs(t, m.BanUser(t.Context(), tt.target), tt.err)
			_, writes := f.docs.counts()
			assert.Zero(t, writes)
			assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ModerationActions.WithLabelValues(profile.ActionBanned, metrics.OutcomeRejected)))
		})
	}
}

func TestModerationVerifiesRoleRemotely(t *testing.T) {
	f := newFixture(t)
	m := adminSession(t, f)

	// Demoted after signing in: the local flag is stale.
	require.NoError(t, f.docs.Store.Set(t.Context(), profile.Collection, adminUID,
		docstore.Document{"isAdmin": false, "role": "user"}, docstore.Merge()))
	require.True(t, m.State().IsAdmin)
	f.docs.reset()

	assert.ErrorIs(t, m.BanUser(t.Context(), targetUID), ErrUnauthorized)
	_, writes := f.docs.counts()
	assert.Zero(t, writes)
}

func TestModerationOffline(t *testing.T) {
	f := newFixture(t)
	m := adminSession(t, f)
	require.NoError(t, m.SetOnline(t.Context(), false))

	assert.ErrorIs(t, m.BanUser(t.Context(), targetUID), ErrOfflineNoCache)
}
