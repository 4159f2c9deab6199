package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mindease/mindease/cache"
	"github.com/mindease/mindease/docstore"
	"github.com/mindease/mindease/errors"
	"github.com/mindease/mindease/eventbus"
	"github.com/mindease/mindease/eventbus/membus"
	"github.com/mindease/mindease/identity"
	"github.com/mindease/mindease/identity/fakeidp"
	"github.com/mindease/mindease/metrics"
	"github.com/mindease/mindease/objectstore"
	"github.com/mindease/mindease/profile"
	"github.com/mindease/mindease/storage/memorystore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// spyDocs counts document store traffic and can fail or block it.
type spyDocs struct {
	docstore.Store

	mu       sync.Mutex
	gets     int
	writes   int
	getErr   error
	writeErr error
	gates    map[string]chan struct{}
	entered  chan string
}

func newSpyDocs() *spyDocs {
	return &spyDocs{
		Store:   docstore.New(memorystore.New()),
		gates:   make(map[string]chan struct{}),
		entered: make(chan string, 8),
	}
}

// block makes the next Get of id wait until the returned function is called.
func (s *spyDocs) block(id string) func() {
	gate := make(chan struct{})
	s.mu.Lock()
	s.gates[id] = gate
	s.mu.Unlock()
	return func() { close(gate) }
}

func (s *spyDocs) counts() (gets, writes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets, s.writes
}

func (s *spyDocs) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets, s.writes = 0, 0
}

func (s *spyDocs) failGets(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getErr = err
}

func (s *spyDocs) failWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErr = err
}

func (s *spyDocs) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	s.mu.Lock()
	s.gets++
	err := s.getErr
	gate := s.gates[id]
	delete(s.gates, id)
	s.mu.Unlock()
	if gate != nil {
		s.entered <- id
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return s.Store.Get(ctx, collection, id)
}

func (s *spyDocs) write() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	return s.writeErr
}

func (s *spyDocs) Set(ctx context.Context, collection, id string, data docstore.Document, opts ...docstore.SetOption) error {
	if err := s.write(); err != nil {
		return err
	}
	return s.Store.Set(ctx, collection, id, data, opts...)
}

func (s *spyDocs) Update(ctx context.Context, collection, id string, fields docstore.Document) error {
	if err := s.write(); err != nil {
		return err
	}
	return s.Store.Update(ctx, collection, id, fields)
}

func (s *spyDocs) Add(ctx context.Context, collection string, data docstore.Document) (string, error) {
	if err := s.write(); err != nil {
		return "", err
	}
	return s.Store.Add(ctx, collection, data)
}

func (s *spyDocs) Delete(ctx context.Context, collection, id string) error {
	if err := s.write(); err != nil {
		return err
	}
	return s.Store.Delete(ctx, collection, id)
}

type fixture struct {
	idp      *fakeidp.Provider
	docs     *spyDocs
	profiles *profile.Repository
	objects  *objectstore.MemBackend
	cache    cache.Cache
	metrics  *metrics.Session
	bus      *membus.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	docs := newSpyDocs()
	bus := membus.New(t.Context())
	t.Cleanup(func() { _ = bus.Shutdown(context.Background()) })
	return &fixture{
		idp:      fakeidp.New(fakeidp.WithClock(func() time.Time { return fixedNow })),
		docs:     docs,
		profiles: profile.NewRepository(docs, profile.WithClock(func() time.Time { return fixedNow })),
		objects:  objectstore.NewMemBackend(),
		cache:    cache.New(memorystore.New()),
		metrics:  metrics.New(prometheus.NewRegistry()),
		bus:      bus,
	}
}

func (f *fixture) newManager(opts ...Option) *Manager {
	opts = append([]Option{
		WithEventBus(f.bus),
		WithMetrics(f.metrics),
		WithAllowedTypes(objectstore.DefaultImageTypes...),
		WithOfflineLogin(true),
		WithClock(func() time.Time { return fixedNow }),
	}, opts...)
	return New(f.idp, f.profiles, f.objects, f.cache, opts...)
}

// manager returns an initialized manager that is closed when the test ends.
func (f *fixture) manager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	m := f.newManager(opts...)
	require.NoError(t, m.Initialize(t.Context()))
	t.Cleanup(m.Close)
	return m
}

func (f *fixture) seedProfile(t *testing.T, uid string, doc docstore.Document) {
	t.Helper()
	require.NoError(t, f.docs.Store.Set(context.Background(), profile.Collection, uid, doc))
}

func (f *fixture) seedCache(t *testing.T, p profile.Profile) {
	t.Helper()
	require.NoError(t, f.cache.Set(cache.KeyAuthUser, mirror{UID: p.UID, Profile: p}))
}

func (f *fixture) cached(t *testing.T) (mirror, bool) {
	t.Helper()
	var c mirror
	ok, err := f.cache.Get(cache.KeyAuthUser, &c)
	require.NoError(t, err)
	return c, ok
}

func TestInitializeSignedOut(t *testing.T) {
	f := newFixture(t)
	m := f.manager(t)

	s := m.State()
	assert.False(t, s.IsAuthenticated())
	assert.False(t, s.Loading)
	assert.Nil(t, s.Profile)
	assert.True(t, s.IsOnline)
	assert.Equal(t, identity.PersistenceLocal, f.idp.Persistence())
	assert.Equal(t, 1, f.idp.Subscribers())

	require.NoError(t, m.Initialize(t.Context()))
	assert.Equal(t, 1, f.idp.Subscribers(), "initialize is idempotent while mounted")
}

func TestRemountReplacesSubscription(t *testing.T) {
	f := newFixture(t)
	m := f.manager(t)

	m.Close()
	assert.Equal(t, 0, f.idp.Subscribers())
	assert.ErrorIs(t, m.Login(t.Context(), "a@example.com", "secret"), ErrNotInitialized)

	require.NoError(t, m.Initialize(t.Context()))
	assert.Equal(t, 1, f.idp.Subscribers())
}

func TestInitializeRestoresExistingSession(t *testing.T) {
	f := newFixture(t)
	u := f.idp.AddUser("ada@example.com", "secret", "Ada")
	_, err := f.idp.SignInWithPassword(t.Context(), "ada@example.com", "secret")
	require.NoError(t, err)

	m := f.manager(t)

	s := m.State()
	require.True(t, s.IsAuthenticated())
	assert.Equal(t, u.Subject, s.Identity.Subject)
	require.NotNil(t, s.Profile)
	assert.Equal(t, "Ada", s.Profile.DisplayName)
	assert.False(t, s.FromCache)
}

func TestInitializeHydratesFromCache(t *testing.T) {
	f := newFixture(t)
	f.seedCache(t, profile.Profile{UID: "uid-1", DisplayName: "Ada", Email: "ada@example.com"})

	m := f.newManager(WithOnline(false))
	var first State
	var once sync.Once
	m.Subscribe(func(s State) { once.Do(func() { first = s }) })
	require.NoError(t, m.Initialize(t.Context()))
	t.Cleanup(m.Close)

	require.NotNil(t, first.CachedProfile, "cache is read before the identity resolves")
	assert.Equal(t, "Ada", first.CachedProfile.DisplayName)
	assert.True(t, first.Loading)

	s := m.State()
	assert.False(t, s.IsAuthenticated())
	assert.Nil(t, s.Profile)
	require.NotNil(t, s.CachedProfile, "signed out while offline keeps the cache")
	_, ok := f.cached(t)
	assert.True(t, ok)
}

func TestSignedOutCallbackOffline(t *testing.T) {
	tests := []struct {
		name         string
		online       bool
		offlineLogin bool
		keepsCache   bool
	}{
		{name: "offline keeps mirror for offline login", online: false, offlineLogin: true, keepsCache: true},
		{name: "offline without offline login", online: false, offlineLogin: false, keepsCache: false},
		{name: "online", online: true, offlineLogin: true, keepsCache: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.seedCache(t, profile.Profile{UID: "uid-1", DisplayName: "Ada", Email: "ada@example.com"})
			m := f.manager(t, WithOnline(tt.online), WithOfflineLogin(tt.offlineLogin))

			m.OnIdentityChanged(t.Context(), nil)

			s := m.State()
			assert.False(t, s.IsAuthenticated())
			assert.False(t, s.Loading)
			_, ok := f.cached(t)
			assert.Equal(t, tt.keepsCache, ok)
			assert.Equal(t, tt.keepsCache, s.CachedProfile != nil)
		})
	}
}

func TestLogoutOfflineRemovesCache(t *testing.T) {
	f := newFixture(t)
	f.seedCache(t, profile.Profile{UID: "uid-9", Email: "ada@example.com"})
	m := f.manager(t, WithOnline(false))
	require.NoError(t, m.Login(t.Context(), "ada@example.com", "whatever"))

	require.NoError(t, m.Logout(t.Context()))

	_, ok := f.cached(t)
	assert.False(t, ok)
	assert.Nil(t, m.State().CachedProfile)
	assert.ErrorIs(t, m.Login(t.Context(), "ada@example.com", "whatever"), ErrOfflineNoCache)
}

// Property: after every callback settles, authentication follows the identity.
func TestAuthenticatedFollowsIdentity(t *testing.T) {
	f := newFixture(t)
	m := f.manager(t)

	ada := f.idp.AddUser("ada@example.com", "secret", "Ada")
	bob := f.idp.AddUser("bob@example.com", "secret", "Bob")
	f.seedProfile(t, bob.Subject, docstore.Document{"isBanned": true})

	s1 := f.idp.NewSession(ada)
	s2 := f.idp.NewSession(bob)
	s3 := f.idp.NewSession(ada)
	sequence := []*identity.Identity{s1, nil, s2, s2, nil, nil, s3, s1, nil}

	for i, id := range sequence {
		f.idp.Emit(id)
		s := m.State()
		assert.False(t, s.Loading, "step %d", i)
		assert.Equal(t, id != nil, s.IsAuthenticated(), "step %d", i)
		if id != nil {
			assert.Equal(t, id.Subject, s.Identity.Subject, "step %d", i)
		} else {
			assert.False(t, s.IsAdmin, "step %d", i)
			assert.False(t, s.IsBanned, "step %d", i)
			assert.Nil(t, s.Profile, "step %d", i)
		}
	}
}

// Property: a fresh identity gets a default profile copied from the identity.
func TestFirstSignInCreatesDefaultProfile(t *testing.T) {
	f := newFixture(t)
	m := f.manager(t)
	u := f.idp.AddUser("ada@example.com", "secret", "Ada")

	f.idp.Emit(f.idp.NewSession(u))

	s := m.State()
	require.NotNil(t, s.Profile)
	assert.Equal(t, u.Subject, s.Profile.UID)
	assert.Equal(t, "Ada", s.Profile.DisplayName)
	assert.Equal(t, "ada@example.com", s.Profile.Email)
	assert.Empty(t, s.Profile.Phone)
	assert.Empty(t, s.Profile.Address)
	assert.Empty(t, s.Profile.Avatar)
	assert.Equal(t, fixedNow, s.Profile.CreatedAt)
	assert.False(t, s.IsAdmin)
	assert.False(t, s.IsBanned)

	doc, err := f.docs.Store.Get(t.Context(), profile.Collection, u.Subject)
	require.NoError(t, err)
	assert.Equal(t, "Ada", doc["displayName"])
	assert.Equal(t, "", doc["phone"])

	c, ok := f.cached(t)
	require.True(t, ok)
	assert.Equal(t, u.Subject, c.UID)
	assert.Equal(t, "ada@example.com", c.Email)
}

func TestExistingProfileKeepsStoredFields(t *testing.T) {
	f := newFixture(t)
	m := f.manager(t)
	u := f.idp.AddUser("ada@example.com", "secret", "Ada")
	f.seedProfile(t, u.Subject, docstore.Document{"displayName": "Ada L.", "phone": "555", "isAdmin": true, "role": "admin"})
	f.docs.reset()

	f.idp.Emit(f.idp.NewSession(u))

	s := m.State()
	assert.Equal(t, "Ada L.", s.Profile.DisplayName)
	assert.Equal(t, "ada@example.com", s.Profile.Email, "blank fields come from the identity")
	assert.Equal(t, "555", s.Profile.Phone)
	assert.True(t, s.IsAdmin)
	_, writes := f.docs.counts()
	assert.Zero(t, writes)
}

// Property: a banned identity never causes a profile fetch-or-create or any
// other remote write.
func TestBannedIdentitySkipsProfile(t *testing.T) {
	f := newFixture(t)
	m := f.manager(t)
	u := f.idp.AddUser("ban@example.com", "secret", "Banned")
	f.seedProfile(t, u.Subject, docstore.Document{"isBanned": true, "isAdmin": true, "role": "admin"})
	f.docs.reset()

	var banned []Event
	var mu sync.Mutex
	f.bus.Subscribe(TopicBanned, func(_ context.Context, msg *eventbus.Message) error {
		mu.Lock()
		defer mu.Unlock()
		banned = append(banned, msg.Data.(Event))
		return nil
	})

	require.NoError(t, m.Login(t.Context(), "ban@example.com", "secret"))

	s := m.State()
	assert.True(t, s.IsAuthenticated())
	assert.True(t, s.IsBanned)
	assert.False(t, s.IsAdmin)
	assert.Nil(t, s.Profile)
	gets, writes := f.docs.counts()
	assert.Equal(t, 1, gets, "a single status read")
	assert.Zero(t, writes)

	require.NoError(t, f.bus.Wait(t.Context()))
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, banned, 1)
	assert.Equal(t, u.Subject, banned[0].UID)
}

func TestProfileLoadFailureFallsBackToCache(t *testing.T) {
	f := newFixture(t)
	u := f.idp.AddUser("ada@example.com", "secret", "Ada")
	_, err := f.idp.SignInWithPassword(t.Context(), "ada@example.com", "secret")
	require.NoError(t, err)
	f.seedCache(t, profile.Profile{UID: u.Subject, DisplayName: "Cached Ada", Email: "ada@example.com"})
	f.docs.failGets(errors.New("firestore unavailable"))

	m := f.manager(t)

	s := m.State()
	assert.True(t, s.IsAuthenticated())
	assert.True(t, s.FromCache)
	require.NotNil(t, s.Profile)
	assert.Equal(t, "Cached Ada", s.Profile.DisplayName)
	assert.False(t, s.Loading)
	assert.Empty(t, m.Error())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ReconcilePasses.WithLabelValues(metrics.OutcomeCache)))
}

func TestProfileLoadFailureWithoutCache(t *testing.T) {
	f := newFixture(t)
	m := f.manager(t)
	u := f.idp.AddUser("ada@example.com", "secret", "Ada")
	f.docs.failGets(errors.New("firestore unavailable"))

	err := m.Login(t.Context(), "ada@example.com", "secret")
	assert.ErrorIs(t, err, ErrProfileLoadFailed)

	s := m.State()
	assert.False(t, s.IsAuthenticated())
	assert.Nil(t, s.Profile)
	assert.False(t, s.Loading)
	assert.Equal(t, "Failed to load user profile.", m.Error())

	// The cache of another user is never used.
	f.seedCache(t, profile.Profile{UID: "someone-else", Email: "other@example.com"})
	m.Close()
	require.NoError(t, m.Initialize(t.Context()))
	f.idp.Emit(f.idp.NewSession(u))
	assert.False(t, m.State().IsAuthenticated())
}

func TestStalePassIsDiscarded(t *testing.T) {
	f := newFixture(t)
	m := f.manager(t)
	ada := f.idp.AddUser("ada@example.com", "secret", "Ada")
	bob := f.idp.AddUser("bob@example.com", "secret", "Bob")

	release := f.docs.block(ada.Subject)
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.OnIdentityChanged(t.Context(), f.idp.NewSession(ada))
	}()
	assert.Equal(t, ada.Subject, <-f.docs.entered)

	m.OnIdentityChanged(t.Context(), f.idp.NewSession(bob))
	assert.Equal(t, bob.Subject, m.State().Identity.Subject)

	release()
	<-done

	s := m.State()
	assert.Equal(t, bob.Subject, s.Identity.Subject, "the slower, earlier pass must not win")
	assert.Equal(t, "Bob", s.Profile.DisplayName)
	assert.False(t, s.Loading)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.StalePasses))
}

func TestPassAfterCloseIsDiscarded(t *testing.T) {
	f := newFixture(t)
	m := f.manager(t)
	ada := f.idp.AddUser("ada@example.com", "secret", "Ada")

	release := f.docs.block(ada.Subject)
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.OnIdentityChanged(t.Context(), f.idp.NewSession(ada))
	}()
	<-f.docs.entered
	m.Close()
	release()
	<-done

	s := m.State()
	assert.False(t, s.IsAuthenticated())
	assert.Nil(t, s.Profile)
	_, ok := f.cached(t)
	assert.False(t, ok, "a discarded pass writes nothing to the cache")
}

func TestDuplicateCallbackIsSkipped(t *testing.T) {
	f := newFixture(t)
	m := f.manager(t)
	f.idp.AddUser("ada@example.com", "secret", "Ada")

	require.NoError(t, m.Login(t.Context(), "ada@example.com", "secret"))
	f.idp.Emit(f.idp.Current())

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ReconcilePasses.WithLabelValues(metrics.OutcomeOK)))
}

func TestObserversSeeChangesInOrder(t *testing.T) {
	f := newFixture(t)
	m := f.manager(t)
	f.idp.AddUser("ada@example.com", "secret", "Ada")

	var seen []State
	unsubscribe := m.Subscribe(func(s State) { seen = append(seen, s) })

	require.NoError(t, m.Login(t.Context(), "ada@example.com", "secret"))
	require.GreaterOrEqual(t, len(seen), 2)
	assert.True(t, seen[0].Loading)
	assert.False(t, seen[len(seen)-1].Loading)
	assert.Equal(t, m.State(), seen[len(seen)-1])

	seen[len(seen)-1].Profile.DisplayName = "mutated"
	assert.Equal(t, "Ada", m.State().Profile.DisplayName, "observers get copies")

	unsubscribe()
	n := len(seen)
	require.NoError(t, m.Logout(t.Context()))
	assert.Len(t, seen, n)
}

func TestSetOnlineReconcilesCachedSession(t *testing.T) {
	f := newFixture(t)
	u := f.idp.AddUser("ada@example.com", "secret", "Ada")
	_, err := f.idp.SignInWithPassword(t.Context(), "ada@example.com", "secret")
	require.NoError(t, err)
	f.seedCache(t, profile.Profile{UID: u.Subject, DisplayName: "Cached", Email: "ada@example.com"})

	m := f.manager(t, WithOnline(false))
	s := m.State()
	require.True(t, s.IsAuthenticated())
	assert.True(t, s.FromCache)
	assert.Equal(t, "Cached", s.Profile.DisplayName)
	gets, _ := f.docs.counts()
	assert.Zero(t, gets, "no remote reads while offline")

	require.NoError(t, m.SetOnline(t.Context(), true))
	s = m.State()
	assert.True(t, s.IsOnline)
	assert.False(t, s.FromCache)
	assert.Equal(t, "Ada", s.Profile.DisplayName)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.NetworkChanges.WithLabelValues("online")))
}

func TestOfflineWithoutCacheClearsIdentity(t *testing.T) {
	f := newFixture(t)
	f.idp.AddUser("ada@example.com", "secret", "Ada")
	_, err := f.idp.SignInWithPassword(t.Context(), "ada@example.com", "secret")
	require.NoError(t, err)

	m := f.manager(t, WithOnline(false))

	assert.False(t, m.State().IsAuthenticated())
	assert.Equal(t, ErrOfflineNoCache.PublicMessage(), m.Error())
}

func TestNotificationSlots(t *testing.T) {
	f := newFixture(t)
	m := f.manager(t)

	assert.Error(t, m.Login(t.Context(), "nobody@example.com", "secret"))
	assert.Equal(t, "No user found with this email.", m.Error())
	m.ClearError()
	assert.Empty(t, m.Error())

	require.NoError(t, m.Logout(t.Context()))
	assert.Equal(t, "Logged out successfully.", m.Success())
	m.ClearSuccess()
	assert.Empty(t, m.Success())
}
