// Package session keeps track of who the current user is and what they may do.
//
// A Manager reconciles three sources of truth: the identity provider, which
// says who is signed in; the profile document, which holds role and ban
// flags; and the local durable cache, which lets a returning user see their
// profile while offline. Reconciliation is driven by identity callbacks and
// by explicit operations such as Login and Logout.
//
// Every reconciliation pass takes a generation number. A pass only applies its
// result when no newer pass has started and the manager is still mounted, so
// a slow pass can never overwrite the state set by a faster, later one.
//
// Observers registered with Subscribe receive a copy of the state after every
// change, in the order the changes were made. Observers run on the goroutine
// that made the change and must not call mutating Manager methods.
package session

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/mindease/mindease/cache"
	"github.com/mindease/mindease/config"
	"github.com/mindease/mindease/errors"
	"github.com/mindease/mindease/eventbus"
	"github.com/mindease/mindease/identity"
	"github.com/mindease/mindease/logging"
	"github.com/mindease/mindease/metrics"
	"github.com/mindease/mindease/objectstore"
	"github.com/mindease/mindease/profile"
)

const cacheKey = cache.KeyAuthUser

// OfflineProvider is the Identity.Provider of sessions started by an offline
// login.
const OfflineProvider = "offline"

// Option configures a Manager.
type Option func(*Manager)

// WithEventBus publishes session events to bus.
func WithEventBus(bus eventbus.EventBus) Option {
	return func(m *Manager) {
		m.bus = bus
	}
}

// WithMetrics records counters in s.
func WithMetrics(s *metrics.Session) Option {
	return func(m *Manager) {
		m.metrics = s
	}
}

// WithAllowedTypes overrides the content types accepted for avatars.
func WithAllowedTypes(types ...string) Option {
	return func(m *Manager) {
		m.allowedTypes = types
	}
}

// WithOfflineLogin controls whether Login may succeed offline when the cached
// profile's email matches. The password is not verified in that case.
func WithOfflineLogin(enabled bool) Option {
	return func(m *Manager) {
		m.offlineLogin = enabled
	}
}

// WithOnline sets the initial network state, true by default.
func WithOnline(online bool) Option {
	return func(m *Manager) {
		m.state.IsOnline = online
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// Manager is the single authority on the current user.
type Manager struct {
	provider identity.Provider
	profiles *profile.Repository
	objects  objectstore.Backend
	cache    cache.Cache

	bus          eventbus.EventBus
	metrics      *metrics.Session
	allowedTypes []string
	offlineLogin bool
	now          func() time.Time

	mu          sync.Mutex
	state       State
	generation  uint64
	applied     *identity.Identity
	hasApplied  bool
	mounted     bool
	unsubscribe func()
	baseCtx     context.Context
	welcome     bool
	errMsg      string
	successMsg  string
	observers   map[int]func(State)
	nextID      int
	pending     []State

	notifyMu sync.Mutex // Serializes observer delivery.
}

// New returns a Manager. Call Initialize to hydrate it and start listening to
// the provider.
func New(provider identity.Provider, profiles *profile.Repository, objects objectstore.Backend, c cache.Cache, opts ...Option) *Manager {
	config.EnsureDefaults()
	m := &Manager{
		provider:     provider,
		profiles:     profiles,
		objects:      objects,
		cache:        c,
		allowedTypes: config.Strings("objects.allowedTypes"),
		offlineLogin: config.Bool("session.offlineLogin"),
		now:          time.Now,
		observers:    make(map[int]func(State)),
		state:        State{IsOnline: true},
	}
	if len(m.allowedTypes) == 0 {
		m.allowedTypes = objectstore.DefaultImageTypes
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Initialize hydrates the state from the local cache, asks the provider to
// persist sessions and subscribes to identity changes. Calling it again while
// mounted does nothing.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	if m.mounted {
		m.mu.Unlock()
		return nil
	}
	m.mounted = true
	m.baseCtx = context.WithoutCancel(ctx)
	m.hasApplied = false
	m.applied = nil
	m.state.Loading = true
	if cached := m.readMirror(); cached != nil {
		m.state.CachedProfile = cached
		m.state.Profile = cloneProfile(cached)
		m.state.FromCache = true
	}
	m.changedLocked()
	m.mu.Unlock()
	m.flush()

	if err := m.provider.SetPersistence(ctx, identity.PersistenceLocal); err != nil {
		logging.Warnw(ctx, "session: failed to enable session persistence", "error", err)
	}

	// The provider delivers the current identity before Subscribe returns, so
	// the manager must not hold mu here.
	unsub := m.provider.Subscribe(func(id *identity.Identity) {
		m.mu.Lock()
		base := m.baseCtx
		m.mu.Unlock()
		m.OnIdentityChanged(base, id)
	})

	m.mu.Lock()
	if !m.mounted {
		m.mu.Unlock()
		unsub()
		return nil
	}
	m.unsubscribe = unsub
	m.mu.Unlock()
	logging.Debug(ctx, "session: initialized")
	return nil
}

// Close releases the identity subscription and clears the in-memory state.
// In-flight passes finish but their results are discarded. The local cache is
// kept.
func (m *Manager) Close() {
	m.mu.Lock()
	unsub := m.unsubscribe
	m.unsubscribe = nil
	m.mounted = false
	m.generation++
	m.state = State{IsOnline: m.state.IsOnline}
	m.applied = nil
	m.hasApplied = false
	m.changedLocked()
	m.mu.Unlock()
	m.flush()
	if unsub != nil {
		unsub()
	}
}

// State returns a copy of the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

// Subscribe registers fn to receive the state after every change. The returned
// function removes the observer.
func (m *Manager) Subscribe(fn func(State)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.observers[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.observers, id)
			m.mu.Unlock()
		})
	}
}

// Error returns the current user facing error message, or "".
func (m *Manager) Error() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errMsg
}

// Success returns the current user facing success message, or "".
func (m *Manager) Success() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.successMsg
}

// ClearError empties the error slot.
func (m *Manager) ClearError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errMsg = ""
}

// ClearSuccess empties the success slot.
func (m *Manager) ClearSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.successMsg = ""
}

// TakeWelcome reports whether a login completed since the last call. It is the
// one-shot signal used to greet the user.
func (m *Manager) TakeWelcome() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.welcome
	m.welcome = false
	return w
}

// SetOnline records a network transition. When the device comes back online
// and the profile was served from the cache, the session is reconciled again.
// A session started by an offline login ends when the network returns, the
// user has to sign in with real credentials.
func (m *Manager) SetOnline(ctx context.Context, online bool) error {
	m.mu.Lock()
	was := m.state.IsOnline
	if was == online {
		m.mu.Unlock()
		return nil
	}
	m.state.IsOnline = online
	id := cloneIdentity(m.state.Identity)
	refresh := online && m.mounted && id != nil && m.state.FromCache
	offlineSession := refresh && id.Provider == OfflineProvider
	if offlineSession {
		m.generation++
		m.clearLocked()
		m.errMsg = "You are back online. Please sign in again."
	}
	m.changedLocked()
	m.mu.Unlock()
	m.flush()

	m.metrics.NetworkChange(online)
	logging.Infow(ctx, "session: network changed", "online", online)
	if refresh && !offlineSession {
		return m.reconcile(ctx, id, true)
	}
	return nil
}

// OnIdentityChanged handles an identity transition reported by the provider.
// A nil identity means signed out.
func (m *Manager) OnIdentityChanged(ctx context.Context, id *identity.Identity) {
	if err := m.reconcile(ctx, id, false); err != nil {
		logging.Warnw(ctx, "session: reconciliation failed", "error", err)
	}
}

type outcome struct {
	identity  *identity.Identity
	profile   *profile.Profile
	isAdmin   bool
	isBanned  bool
	fromCache bool

	// Mirror to write to the cache. Ignored when fromCache is set.
	mirror      *profile.Profile
	removeCache bool

	label string
	err   *errors.Error
}

// reconcile runs one pass for id. Unless force is set, a pass for the session
// that is already applied and settled is skipped.
func (m *Manager) reconcile(ctx context.Context, id *identity.Identity, force bool) error {
	m.mu.Lock()
	if !m.mounted {
		m.mu.Unlock()
		return nil
	}
	if !force && m.hasApplied && !m.state.Loading && identity.SameSession(m.applied, id) {
		m.mu.Unlock()
		return nil
	}
	m.generation++
	gen := m.generation
	online := m.state.IsOnline
	cached := cloneProfile(m.state.CachedProfile)
	m.state.Loading = true
	m.changedLocked()
	m.mu.Unlock()
	m.flush()

	out := m.resolve(ctx, id, online, cached)

	m.mu.Lock()
	if gen != m.generation || !m.mounted {
		m.mu.Unlock()
		m.metrics.StalePass()
		logging.Debugw(ctx, "session: discarding stale pass", "generation", gen)
		return nil
	}
	m.state.Identity = out.identity
	m.state.Profile = out.profile
	m.state.IsAdmin = out.isAdmin
	m.state.IsBanned = out.isBanned
	m.state.FromCache = out.fromCache
	m.state.Loading = false
	switch {
	case out.removeCache:
		if err := m.cache.Remove(cacheKey); err != nil {
			logging.Warnw(ctx, "session: failed to clear cached profile", "error", err)
		}
		m.state.CachedProfile = nil
	case out.mirror != nil:
		if err := m.writeMirror(out.mirror); err != nil {
			logging.Warnw(ctx, "session: failed to cache profile", "error", err)
		} else {
			m.state.CachedProfile = out.mirror
		}
	}
	if out.err != nil {
		m.applied = nil
		m.hasApplied = false
		m.errMsg = out.err.PublicMessage()
	} else {
		m.applied = cloneIdentity(id)
		m.hasApplied = true
	}
	m.changedLocked()
	m.mu.Unlock()
	m.flush()

	m.metrics.ReconcilePass(out.label)
	if out.isBanned {
		m.publish(TopicBanned, m.event(out.identity))
	}
	if out.err != nil {
		return out.err
	}
	return nil
}

// resolve computes the result of a pass without touching manager state.
func (m *Manager) resolve(ctx context.Context, id *identity.Identity, online bool, cached *profile.Profile) outcome {
	if id == nil {
		// A signed out callback while offline keeps the mirror when offline
		// login is enabled, since it is the only credential Login can use.
		// Logout always removes it.
		return outcome{removeCache: online || !m.offlineLogin, label: metrics.OutcomeLoggedOut}
	}
	if !online {
		return m.fallback(ctx, id, cached, errors.Mark(ErrOfflineNoCache, 0))
	}

	// A single read decides role and ban before anything is written.
	status, err := m.profiles.Status(ctx, id.Subject)
	if err != nil {
		return m.fallback(ctx, id, cached, mapError(ErrProfileLoadFailed, err))
	}

	if status.IsBanned {
		logging.Infow(ctx, "session: banned user signed in", "uid", id.Subject)
		banned := &profile.Profile{
			UID:         id.Subject,
			DisplayName: id.Name,
			Email:       id.Email,
			IsBanned:    true,
		}
		return outcome{
			identity: cloneIdentity(id),
			isBanned: true,
			mirror:   banned,
			label:    metrics.OutcomeBanned,
		}
	}

	p := status.Profile
	if !status.Exists {
		def := profile.Default(id.Subject, id.Name, id.Email, m.now())
		p, err = m.profiles.Create(ctx, id.Subject, def)
		if err != nil {
			return m.fallback(ctx, id, cached, mapError(ErrProfileLoadFailed, err))
		}
		logging.Infow(ctx, "session: created profile", "uid", id.Subject)
	}
	p = mergeIdentity(p, id)
	return outcome{
		identity: cloneIdentity(id),
		profile:  p,
		isAdmin:  p.HasAdminRole(),
		mirror:   cloneProfile(p),
		label:    metrics.OutcomeOK,
	}
}

// fallback serves the cached profile when it belongs to id, otherwise it
// clears the session and reports cause.
func (m *Manager) fallback(ctx context.Context, id *identity.Identity, cached *profile.Profile, cause *errors.Error) outcome {
	if cached != nil && cached.UID == id.Subject {
		logging.Warnw(ctx, "session: using cached profile", "uid", id.Subject, "reason", cause.Error())
		banned := cached.IsBanned
		out := outcome{
			identity:  cloneIdentity(id),
			isBanned:  banned,
			fromCache: true,
			label:     metrics.OutcomeCache,
		}
		if !banned {
			out.profile = mergeIdentity(cached, id)
			out.isAdmin = cached.HasAdminRole()
		}
		return out
	}
	logging.Errorw(ctx, "session: no profile available", "uid", id.Subject, "error", cause)
	return outcome{label: metrics.OutcomeError, err: cause}
}

// mergeIdentity returns a copy of p with blank name and email taken from id.
func mergeIdentity(p *profile.Profile, id *identity.Identity) *profile.Profile {
	cp := cloneProfile(p)
	cp.UID = id.Subject
	if cp.DisplayName == "" {
		cp.DisplayName = id.Name
	}
	if cp.Email == "" {
		cp.Email = id.Email
	}
	return cp
}

// clearLocked resets the signed in part of the state.
func (m *Manager) clearLocked() {
	m.state.Identity = nil
	m.state.Profile = nil
	m.state.IsAdmin = false
	m.state.IsBanned = false
	m.state.FromCache = false
	m.state.Loading = false
	m.applied = nil
	m.hasApplied = true
}

// fail records err in the error slot and returns it.
func (m *Manager) fail(err *errors.Error) error {
	m.mu.Lock()
	m.errMsg = err.PublicMessage()
	m.mu.Unlock()
	return err
}

func (m *Manager) succeed(msg string) {
	m.mu.Lock()
	m.successMsg = msg
	m.mu.Unlock()
}

// resetMessages empties both notification slots at the start of an operation.
func (m *Manager) resetMessages() {
	m.mu.Lock()
	m.errMsg = ""
	m.successMsg = ""
	m.mu.Unlock()
}

// changedLocked queues the current state for observers. mu must be held.
func (m *Manager) changedLocked() {
	m.pending = append(m.pending, m.state.clone())
}

// flush delivers queued states in order. Whichever goroutine gets notifyMu
// first delivers everything queued so far, including other goroutines' states.
func (m *Manager) flush() {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()
	for {
		m.mu.Lock()
		if len(m.pending) == 0 {
			m.mu.Unlock()
			return
		}
		s := m.pending[0]
		m.pending = m.pending[1:]
		fns := m.observerList()
		m.mu.Unlock()

		for _, fn := range fns {
			fn(s.clone())
		}
		m.publish(TopicChanged, s)
	}
}

func (m *Manager) observerList() []func(State) {
	ids := make([]int, 0, len(m.observers))
	for id := range m.observers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(State), len(ids))
	for i, id := range ids {
		fns[i] = m.observers[id]
	}
	return fns
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
