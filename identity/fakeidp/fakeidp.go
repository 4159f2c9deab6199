// Package fakeidp provides a scriptable identity provider for tests.
//
// Users are registered up front with AddUser. Every call is recorded, errors
// can be injected per method, and identity transitions can be delivered by
// hand with Emit, which lets tests drive a subscriber through any sequence of
// callbacks.
package fakeidp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mindease/mindease/errors"
	"github.com/mindease/mindease/identity"
)

const (
	// ProviderName is reported in Identity.Provider for password sign ins.
	ProviderName = "fakeidp"

	defaultInteractiveProvider = "google"
)

// Method names used for error injection and call recording.
const (
	MethodSignInWithPassword = "SignInWithPassword"
	MethodSignInInteractive  = "SignInInteractive"
	MethodSignOut            = "SignOut"
	MethodSetPersistence     = "SetPersistence"
	MethodSendPasswordReset  = "SendPasswordReset"
	MethodUpdateDisplayName  = "UpdateDisplayName"
	MethodUpdateEmail        = "UpdateEmail"
	MethodUpdatePassword     = "UpdatePassword"
	MethodCreateAccount      = "CreateAccount"
)

type user struct {
	id       identity.Identity
	password string
}

// Option configures a Provider.
type Option func(*Provider)

// WithoutAutoDeliver stops sign ins and sign outs from notifying subscribers.
// Tests then deliver transitions with Emit.
func WithoutAutoDeliver() Option {
	return func(p *Provider) {
		p.autoDeliver = false
	}
}

// WithClock overrides the time used for AuthTime.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		p.now = now
	}
}

// Provider is an in-memory identity.Provider.
type Provider struct {
	notifier    identity.Notifier
	autoDeliver bool
	now         func() time.Time

	mu          sync.Mutex
	users       map[string]*user // By email.
	interactive *identity.Identity
	errs        map[string]error
	calls       []string
	persistence identity.Persistence
	resets      []string
}

var _ identity.Provider = (*Provider)(nil)

// New returns an empty provider.
func New(opts ...Option) *Provider {
	p := &Provider{
		autoDeliver: true,
		now:         time.Now,
		users:       make(map[string]*user),
		errs:        make(map[string]error),
		persistence: identity.PersistenceNone,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AddUser registers a password user and returns its identity, without a
// session id.
func (p *Provider) AddUser(email, password, name string) identity.Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	u := &user{
		id: identity.Identity{
			Subject:       fmt.Sprintf("uid-%d", len(p.users)+1),
			Email:         email,
			EmailVerified: true,
			Name:          name,
			Provider:      ProviderName,
		},
		password: password,
	}
	p.users[email] = u
	return u.id
}

// SetInteractiveUser sets the identity returned by SignInInteractive.
func (p *Provider) SetInteractiveUser(id identity.Identity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if id.Provider == "" {
		id.Provider = defaultInteractiveProvider
	}
	p.interactive = &id
}

// FailWith makes method return err until cleared with FailWith(method, nil).
func (p *Provider) FailWith(method string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.errs, method)
		return
	}
	p.errs[method] = err
}

// Calls returns the recorded method calls in order.
func (p *Provider) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

// CallCount returns how often method was called.
func (p *Provider) CallCount(method string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		if c == method {
			n++
		}
	}
	return n
}

// Persistence returns the last persistence mode set.
func (p *Provider) Persistence() identity.Persistence {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.persistence
}

// Resets returns the emails password resets were requested for.
func (p *Provider) Resets() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.resets...)
}

// Subscribers returns the number of active subscriptions.
func (p *Provider) Subscribers() int {
	return p.notifier.Len()
}

// Current returns the signed in identity, or nil.
func (p *Provider) Current() *identity.Identity {
	return p.notifier.Current()
}

// Emit delivers id to subscribers as an identity transition.
func (p *Provider) Emit(id *identity.Identity) {
	p.notifier.Set(id)
}

// NewSession returns a copy of id with a fresh session id and auth time.
func (p *Provider) NewSession(id identity.Identity) *identity.Identity {
	id.SessionID = uuid.NewString()
	id.AuthTime = p.now()
	return &id
}

func (p *Provider) record(method string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, method)
	if err := p.errs[method]; err != nil {
		return err
	}
	return nil
}

func (p *Provider) start(id *identity.Identity) *identity.Identity {
	if p.autoDeliver {
		p.notifier.Set(id)
	} else {
		p.notifier.Replace(id)
	}
	cp := *id
	return &cp
}

func (p *Provider) Subscribe(fn func(*identity.Identity)) func() {
	return p.notifier.Subscribe(fn)
}

func (p *Provider) SignInWithPassword(_ context.Context, email, password string) (*identity.Identity, error) {
	if err := p.record(MethodSignInWithPassword); err != nil {
		return nil, err
	}
	p.mu.Lock()
	u, ok := p.users[email]
	p.mu.Unlock()
	if !ok {
		return nil, errors.Mark(identity.ErrUserNotFound, 0)
	}
	if u.password != password {
		return nil, errors.Mark(identity.ErrWrongPassword, 0)
	}
	return p.start(p.NewSession(u.id)), nil
}

func (p *Provider) SignInInteractive(_ context.Context) (*identity.Identity, error) {
	if err := p.record(MethodSignInInteractive); err != nil {
		return nil, err
	}
	p.mu.Lock()
	fu := p.interactive
	p.mu.Unlock()
	if fu == nil {
		return nil, errors.Mark(identity.ErrInteractiveUnavailable, 0)
	}
	return p.start(p.NewSession(*fu)), nil
}

func (p *Provider) SignOut(_ context.Context) error {
	if err := p.record(MethodSignOut); err != nil {
		return err
	}
	if p.autoDeliver {
		p.notifier.Set(nil)
	} else {
		p.notifier.Replace(nil)
	}
	return nil
}

func (p *Provider) SetPersistence(_ context.Context, mode identity.Persistence) error {
	if err := p.record(MethodSetPersistence); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.persistence = mode
	return nil
}

func (p *Provider) SendPasswordReset(_ context.Context, email string) error {
	if err := p.record(MethodSendPasswordReset); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resets = append(p.resets, email)
	return nil
}

func (p *Provider) UpdateDisplayName(_ context.Context, name string) error {
	if err := p.record(MethodUpdateDisplayName); err != nil {
		return err
	}
	return p.updateCurrent(func(u *user, id *identity.Identity) {
		u.id.Name = name
		id.Name = name
	})
}

func (p *Provider) UpdateEmail(_ context.Context, email string) error {
	if err := p.record(MethodUpdateEmail); err != nil {
		return err
	}
	return p.updateCurrent(func(u *user, id *identity.Identity) {
		delete(p.users, u.id.Email)
		p.users[email] = u
		u.id.Email = email
		id.Email = email
	})
}

func (p *Provider) UpdatePassword(_ context.Context, password string) error {
	if err := p.record(MethodUpdatePassword); err != nil {
		return err
	}
	if len(password) < 6 {
		return errors.Mark(identity.ErrWeakPassword, 0)
	}
	return p.updateCurrent(func(u *user, _ *identity.Identity) {
		u.password = password
	})
}

// updateCurrent calls fn with p.mu held.
func (p *Provider) updateCurrent(fn func(*user, *identity.Identity)) error {
	current := p.notifier.Current()
	if current == nil {
		return errors.Mark(identity.ErrNoCurrentUser, 0)
	}
	p.mu.Lock()
	var found *user
	for _, u := range p.users {
		if u.id.Subject == current.Subject {
			found = u
		}
	}
	if found == nil {
		p.mu.Unlock()
		return errors.Mark(identity.ErrUserNotFound, 0)
	}
	fn(found, current)
	p.mu.Unlock()
	p.notifier.Replace(current)
	return nil
}

func (p *Provider) CreateAccount(_ context.Context, email, password, displayName string) (*identity.Identity, error) {
	if err := p.record(MethodCreateAccount); err != nil {
		return nil, err
	}
	if len(password) < 6 {
		return nil, errors.Mark(identity.ErrWeakPassword, 0)
	}
	p.mu.Lock()
	_, exists := p.users[email]
	p.mu.Unlock()
	if exists {
		return nil, errors.Mark(identity.ErrEmailInUse, 0)
	}
	id := p.AddUser(email, password, displayName)
	return p.start(p.NewSession(id)), nil
}
