package app

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mindease/mindease/cache"
	"github.com/mindease/mindease/eventbus"
	"github.com/mindease/mindease/identity/local"
	"github.com/mindease/mindease/logging"
	"github.com/mindease/mindease/objectstore"
	"github.com/mindease/mindease/session"
	"github.com/mindease/mindease/storage"
	"github.com/mindease/mindease/storage/memorystore"
	"github.com/mindease/mindease/tickets"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type deps struct {
	store  storage.Store
	cache  cache.Cache
	online atomic.Bool
}

func newDeps() *deps {
	d := &deps{store: memorystore.New(), cache: cache.New(memorystore.New())}
	d.online.Store(true)
	return d
}

func (d *deps) open(t *testing.T) *App {
	t.Helper()
	a, err := New(t.Context(),
		WithLogger(logging.NewNopLogger()),
		WithStore(d.store),
		WithCache(d.cache),
		WithObjects(objectstore.NewMemBackend()),
		WithRegisterer(prometheus.NewRegistry()),
		WithProbe(func(context.Context) bool { return d.online.Load() }),
		WithIdentityOptions(local.WithHasher(local.TestHasher), local.WithSigningKey("test-key")),
	)
	require.NoError(t, err)
	return a
}

func TestSignupAndTicket(t *testing.T) {
	d := newDeps()
	a := d.open(t)
	defer a.Close(context.Background())
	ctx := t.Context()

	assert.Equal(t, tickets.Actor{}, a.Actor())
	require.NoError(t, a.Session.Signup(ctx, "ada@example.com", "secret1", "Ada"))

	actor := a.Actor()
	require.NotEmpty(t, actor.UID)
	assert.Equal(t, "ada@example.com", actor.Email)
	assert.False(t, actor.IsAdmin)

	tk, err := a.Tickets.Create(ctx, actor, tickets.Input{Subject: "Hi", Message: "Help", Category: "account"})
	require.NoError(t, err)
	list, err := a.Tickets.List(ctx, actor)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, tk.ID, list[0].ID)

	p, err := a.Profiles.Get(ctx, actor.UID)
	require.NoError(t, err)
	assert.Equal(t, "Ada", p.DisplayName)
}

func TestSessionSurvivesRestart(t *testing.T) {
	d := newDeps()
	a := d.open(t)
	require.NoError(t, a.Session.Signup(t.Context(), "ada@example.com", "secret1", "Ada"))
	uid := a.Actor().UID
	require.NoError(t, a.Close(context.Background()))

	b := d.open(t)
	defer b.Close(context.Background())
	s := b.Session.State()
	require.True(t, s.IsAuthenticated())
	assert.Equal(t, uid, s.Identity.Subject)
	assert.Equal(t, "Ada", s.Profile.DisplayName)
	assert.False(t, s.Loading)

	require.NoError(t, b.Session.Logout(t.Context()))
	require.NoError(t, b.Close(context.Background()))

	c := d.open(t)
	defer c.Close(context.Background())
	assert.False(t, c.Session.State().IsAuthenticated())
}

func TestStartsOffline(t *testing.T) {
	d := newDeps()
	d.online.Store(false)
	a := d.open(t)
	defer a.Close(context.Background())

	assert.False(t, a.Session.State().IsOnline)
	assert.False(t, a.Network.Online())
}

func TestNetworkTransitionsReachSession(t *testing.T) {
	d := newDeps()
	a := d.open(t)
	defer a.Close(context.Background())
	require.True(t, a.Session.State().IsOnline)

	d.online.Store(false)
	a.Network.Check(a.Context(t.Context()))
	require.Eventually(t, func() bool { return !a.Session.State().IsOnline }, time.Second, time.Millisecond)

	d.online.Store(true)
	a.Network.Check(a.Context(t.Context()))
	require.Eventually(t, func() bool { return a.Session.State().IsOnline }, time.Second, time.Millisecond)
}

func TestUnknownDrivers(t *testing.T) {
	a := &App{}
	ctx := t.Context()

	_, err := a.openStore(ctx, "bogus")
	assert.ErrorIs(t, err, ErrUnknownDriver)
	_, err = a.openDocuments(ctx, "bogus")
	assert.ErrorIs(t, err, ErrUnknownDriver)
	_, err = a.openObjects(ctx, "bogus")
	assert.ErrorIs(t, err, ErrUnknownDriver)
}

func TestOpenLocalDrivers(t *testing.T) {
	a := &App{}
	ctx := t.Context()

	s, err := a.openStore(ctx, "memory")
	require.NoError(t, err)
	a.Store = s

	docs, err := a.openDocuments(ctx, "storage")
	require.NoError(t, err)
	assert.NotNil(t, docs)

	c, err := a.openCache(t.TempDir() + "/cache.db")
	require.NoError(t, err)
	require.NoError(t, c.Set("k", "v"))

	require.NoError(t, a.Close(ctx))
}

func TestActivityTrail(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	d := newDeps()
	a, err := New(t.Context(),
		WithLogger(logging.NewZapLogger(zap.New(core))),
		WithStore(d.store),
		WithCache(d.cache),
		WithObjects(objectstore.NewMemBackend()),
		WithRegisterer(prometheus.NewRegistry()),
		WithProbe(func(context.Context) bool { return true }),
		WithIdentityOptions(local.WithHasher(local.TestHasher), local.WithSigningKey("test-key")),
	)
	require.NoError(t, err)
	defer a.Close(context.Background())
	ctx := t.Context()

	require.NoError(t, a.Session.Signup(ctx, "ada@example.com", "secret1", "Ada"))
	uid := a.Actor().UID
	_, err = a.Tickets.Create(ctx, a.Actor(), tickets.Input{Subject: "Hi", Message: "Help", Category: "account"})
	require.NoError(t, err)
	require.NoError(t, a.Session.Logout(ctx))
	require.NoError(t, a.Bus.Wait(ctx))

	login := logs.FilterMessage("activity: " + session.TopicLogin).All()
	require.Len(t, login, 1)
	assert.Equal(t, uid, login[0].ContextMap()["uid"])
	assert.Equal(t, session.MethodSignup, login[0].ContextMap()["method"])

	created := logs.FilterMessage("activity: " + tickets.TopicCreated).All()
	require.Len(t, created, 1)
	assert.Equal(t, uid, created[0].ContextMap()["uid"])
	assert.Equal(t, 1, logs.FilterMessage("activity: "+session.TopicLogout).Len())
}

func TestActivityHandlersRejectUnexpectedData(t *testing.T) {
	msg := eventbus.NewMessage("id", session.TopicLogin, "not an event")
	assert.Error(t, logSessionEvent(t.Context(), msg))
	assert.Error(t, logModerationEvent(t.Context(), msg))
	assert.Error(t, logTicketCreated(t.Context(), msg))
}
