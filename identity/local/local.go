// Package local is an identity provider that keeps accounts in a
// storage.Store on the device or server running mindease.
//
// Password accounts are hashed with bcrypt. A signed in session is described
// by an HS256 JWT which, with PersistenceLocal, is written to the local cache
// so that the session survives a restart. Federated sign in is delegated to an
// identity.Interactive and linked to local accounts by email.
package local

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mindease/mindease/cache"
	"github.com/mindease/mindease/config"
	"github.com/mindease/mindease/errors"
	"github.com/mindease/mindease/identity"
	"github.com/mindease/mindease/logging"
	"github.com/mindease/mindease/storage"
	"github.com/mindease/mindease/templates"
	"google.golang.org/grpc/codes"
	"gopkg.in/gomail.v2"
)

const (
	// ProviderName is reported in Identity.Provider for password sign ins.
	ProviderName = "password"

	// MinPasswordLength is the shortest accepted password.
	MinPasswordLength = 6

	signingKeyCacheKey = "identitySigningKey"
)

var (
	// ErrInvalidResetToken is returned when a reset token is unknown, used or
	// expired.
	ErrInvalidResetToken = errors.NewC("local: invalid or expired reset token", codes.InvalidArgument).
		WithPublicMessage("This password reset link is invalid or has expired.")

	// ErrMailerRequired is returned by SendPasswordReset without a mailer.
	ErrMailerRequired = errors.NewC("local: password reset requires a mailer", codes.FailedPrecondition)
)

// Mailer delivers password reset links. *email.Mailer satisfies it.
type Mailer interface {
	NewMessage(to, subject, body string) *gomail.Message
	Send(ctx context.Context, msg *gomail.Message) error
}

// Renderer produces email text. *templates.Renderer satisfies it.
type Renderer interface {
	Render(ctx context.Context, name string, data any) (string, error)
}

// Option configures a Provider.
type Option func(*Provider)

// WithSigningKey sets the HS256 key used for session tokens.
func WithSigningKey(key string) Option {
	return func(p *Provider) {
		p.signingKey = key
	}
}

// WithSessionExpiration sets how long a persisted session stays valid.
func WithSessionExpiration(d time.Duration) Option {
	return func(p *Provider) {
		p.sessionExpiration = d
	}
}

// WithRecentLoginWindow sets how recent a sign in must be for email and
// password changes.
func WithRecentLoginWindow(d time.Duration) Option {
	return func(p *Provider) {
		p.recentLogin = d
	}
}

// WithHasher overrides the password hasher.
func WithHasher(h Hasher) Option {
	return func(p *Provider) {
		p.hasher = h
	}
}

// WithMailer sets the mailer used for password resets.
func WithMailer(m Mailer) Option {
	return func(p *Provider) {
		p.mailer = m
	}
}

// WithTemplates overrides the renderer used for email text.
func WithTemplates(r Renderer) Option {
	return func(p *Provider) {
		p.templates = r
	}
}

// WithInteractive enables SignInInteractive.
func WithInteractive(i identity.Interactive) Option {
	return func(p *Provider) {
		p.interactive = i
	}
}

// WithResetExpiration sets how long a password reset link stays valid.
func WithResetExpiration(d time.Duration) Option {
	return func(p *Provider) {
		p.resetExpiration = d
	}
}

// WithResetURL sets the prefix of password reset links. The token is appended.
func WithResetURL(u string) Option {
	return func(p *Provider) {
		p.resetURL = u
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		p.now = now
	}
}

// Provider implements identity.Provider.
type Provider struct {
	store storage.Store
	cache cache.Cache

	signingKey        string
	sessionExpiration time.Duration
	recentLogin       time.Duration
	resetExpiration   time.Duration
	resetURL          string
	hasher            Hasher
	mailer            Mailer
	templates         Renderer
	interactive       identity.Interactive
	now               func() time.Time

	signer   *identity.Signer
	notifier identity.Notifier

	mu          sync.Mutex // Serializes account and session mutations.
	persistence identity.Persistence
}

var _ identity.Provider = (*Provider)(nil)

// New returns a provider storing accounts in store and persisted sessions in
// c. A previously persisted session is restored before New returns.
func New(ctx context.Context, store storage.Store, c cache.Cache, opts ...Option) (*Provider, error) {
	config.EnsureDefaults()
	p := &Provider{
		store:             store,
		cache:             c,
		signingKey:        config.String("identity.signingKey"),
		sessionExpiration: config.Duration("identity.sessionExpiration"),
		recentLogin:       config.Duration("identity.recentLoginWindow"),
		resetExpiration:   config.Duration("identity.resetExpiration"),
		resetURL:          config.String("identity.resetURL"),
		hasher:            DefaultHasher,
		now:               time.Now,
		persistence:       identity.PersistenceLocal,
	}
	for _, opt := range opts {
		opt(p)
	}

	if err := storage.InitModels(ctx, store, Account{}, ResetToken{}); err != nil {
		return nil, err
	}
	if p.templates == nil {
		r, err := templates.New()
		if err != nil {
			return nil, err
		}
		p.templates = r
	}
	if p.signingKey == "" {
		key, err := p.deviceSigningKey()
		if err != nil {
			return nil, err
		}
		p.signingKey = key
	}
	p.signer = identity.NewSigner([]byte(p.signingKey), p.sessionExpiration, identity.WithTimeFunc(p.now))

	p.restore(ctx)
	return p, nil
}

// deviceSigningKey returns a random key kept in the local cache, creating it
// on first use.
func (p *Provider) deviceSigningKey() (string, error) {
	var key string
	ok, err := p.cache.Get(signingKeyCacheKey, &key)
	if err != nil {
		return "", err
	}
	if ok && key != "" {
		return key, nil
	}
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Wrap(err, 0)
	}
	key = hex.EncodeToString(b)
	if err := p.cache.Set(signingKeyCacheKey, key); err != nil {
		return "", err
	}
	return key, nil
}

// restore loads a persisted session into the notifier. Invalid or stale
// sessions are discarded.
func (p *Provider) restore(ctx context.Context) {
	var token string
	ok, err := p.cache.Get(cache.KeyIdentitySession, &token)
	if err != nil {
		logging.Warnw(ctx, "local: reading persisted session failed", "error", err)
		return
	}
	if !ok || token == "" {
		return
	}

	id, err := p.signer.Parse(token)
	if err == nil {
		var a *Account
		a, err = p.readAccount(ctx, id.Subject)
		if err == nil && a.Disabled {
			err = errors.Mark(identity.ErrUserDisabled, 0)
		}
		if err == nil && id.AuthTime.Before(a.PasswordChangedAt.Truncate(time.Second)) {
			err = errors.Mark(identity.ErrInvalidToken, 0).Append("password changed")
		}
	}
	if err != nil {
		logging.Infow(ctx, "local: discarding persisted session", "error", err)
		if rerr := p.cache.Remove(cache.KeyIdentitySession); rerr != nil {
			logging.Warnw(ctx, "local: failed to remove persisted session", "error", rerr)
		}
		return
	}

	logging.Infow(ctx, "local: restored persisted session", "uid", id.Subject)
	p.notifier.Set(&id)
}

// Current returns the signed in identity, or nil.
func (p *Provider) Current() *identity.Identity {
	return p.notifier.Current()
}

// Subscribe registers fn for identity transitions.
func (p *Provider) Subscribe(fn func(*identity.Identity)) func() {
	return p.notifier.Subscribe(fn)
}

// SignInWithPassword authenticates an email and password pair.
func (p *Provider) SignInWithPassword(ctx context.Context, email, password string) (*identity.Identity, error) {
	email, err := validateEmail(email)
	if err != nil {
		return nil, err
	}

	a, err := p.FindAccount(ctx, email)
	if err != nil {
		return nil, err
	}
	if a.Disabled {
		return nil, errors.Mark(identity.ErrUserDisabled, 0)
	}
	if !a.HasPassword() {
		// Federated only account.
		return nil, errors.Mark(identity.ErrInvalidCredential, 0)
	}
	if err := p.hasher.Compare(a.HashedPassword, []byte(password)); err != nil {
		return nil, errors.Mark(identity.ErrWrongPassword, 0)
	}

	return p.startSession(ctx, p.newIdentity(a, ProviderName))
}

// SignInInteractive runs the configured interactive sign in and links the
// result to a local account.
func (p *Provider) SignInInteractive(ctx context.Context) (*identity.Identity, error) {
	if p.interactive == nil {
		return nil, errors.Mark(identity.ErrInteractiveUnavailable, 0)
	}
	fu, err := p.interactive.Authenticate(ctx)
	if err != nil {
		return nil, err
	}

	a, err := p.linkFederated(ctx, fu)
	if err != nil {
		return nil, err
	}
	if a.Disabled {
		return nil, errors.Mark(identity.ErrUserDisabled, 0)
	}
	return p.startSession(ctx, p.newIdentity(a, fu.Provider))
}

// linkFederated finds the account for a federated user, linking by verified
// email or creating one when needed.
func (p *Provider) linkFederated(ctx context.Context, fu *identity.FederatedUser) (*Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	a, err := p.findByGoogleSubject(ctx, fu.Subject)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, identity.ErrUserNotFound) {
		return nil, err
	}

	email, err := validateEmail(fu.Email)
	if err != nil {
		return nil, err
	}

	a, err = p.FindAccount(ctx, email)
	switch {
	case err == nil:
		if !fu.EmailVerified || a.GoogleSubject != "" {
			return nil, errors.Mark(identity.ErrAccountExistsWithDifferentCredential, 0)
		}
		a.GoogleSubject = fu.Subject
		a.EmailVerified = true
		if a.DisplayName == "" {
			a.DisplayName = fu.Name
		}
		if err := p.store.Update(ctx, a); err != nil {
			return nil, errors.WrapPrefix(err, "local: linking account failed", 0)
		}
		logging.Infow(ctx, "local: linked federated identity", "uid", a.ID, "provider", fu.Provider)
		return a, nil

	case errors.Is(err, identity.ErrUserNotFound):
		a = &Account{
			ID:            uuid.NewString(),
			Email:         email,
			DisplayName:   fu.Name,
			EmailVerified: fu.EmailVerified,
			GoogleSubject: fu.Subject,
			CreatedAt:     p.now(),
		}
		if err := p.store.Create(ctx, a); err != nil {
			return nil, errors.WrapPrefix(err, "local: creating account failed", 0)
		}
		logging.Infow(ctx, "local: created federated account", "uid", a.ID, "provider", fu.Provider)
		return a, nil

	default:
		return nil, err
	}
}

// CreateAccount registers a new password account and signs it in.
func (p *Provider) CreateAccount(ctx context.Context, email, password, displayName string) (*identity.Identity, error) {
	email, err := validateEmail(email)
	if err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}
	hashed, err := p.hasher.Generate([]byte(password))
	if err != nil {
		return nil, errors.Wrap(err, 0).WithCode(codes.Internal)
	}

	p.mu.Lock()
	_, err = p.FindAccount(ctx, email)
	if err == nil {
		p.mu.Unlock()
		return nil, errors.Mark(identity.ErrEmailInUse, 0)
	}
	if !errors.Is(err, identity.ErrUserNotFound) {
		p.mu.Unlock()
		return nil, err
	}
	now := p.now()
	a := &Account{
		ID:                uuid.NewString(),
		Email:             email,
		DisplayName:       displayName,
		HashedPassword:    hashed,
		PasswordChangedAt: now,
		CreatedAt:         now,
	}
	err = p.store.Create(ctx, a)
	p.mu.Unlock()
	if err != nil {
		return nil, errors.WrapPrefix(err, "local: creating account failed", 0)
	}

	logging.Infow(ctx, "local: created account", "uid", a.ID)
	return p.startSession(ctx, p.newIdentity(a, ProviderName))
}

// startSession persists the session, if enabled, and announces it.
func (p *Provider) startSession(ctx context.Context, id *identity.Identity) (*identity.Identity, error) {
	if err := p.persist(ctx, id); err != nil {
		return nil, err
	}
	p.notifier.Set(id)
	cp := *id
	return &cp, nil
}

func (p *Provider) persist(ctx context.Context, id *identity.Identity) error {
	p.mu.Lock()
	persistence := p.persistence
	p.mu.Unlock()
	if persistence != identity.PersistenceLocal || id == nil {
		return nil
	}
	token, err := p.signer.Sign(*id)
	if err != nil {
		return err
	}
	if err := p.cache.Set(cache.KeyIdentitySession, token); err != nil {
		logging.Errorw(ctx, "local: persisting session failed", "error", err)
		return errors.Mark(identity.ErrProvider, 0).Append(err.Error())
	}
	return nil
}

// SignOut ends the current session and forgets the persisted token.
func (p *Provider) SignOut(ctx context.Context) error {
	if err := p.cache.Remove(cache.KeyIdentitySession); err != nil {
		return errors.Mark(identity.ErrProvider, 0).Append(err.Error())
	}
	if p.notifier.Current() == nil {
		return nil
	}
	p.notifier.Set(nil)
	return nil
}

// SetPersistence controls whether sessions survive restarts. Switching to
// PersistenceLocal with no active session restores a persisted one.
func (p *Provider) SetPersistence(ctx context.Context, mode identity.Persistence) error {
	p.mu.Lock()
	p.persistence = mode
	p.mu.Unlock()

	current := p.notifier.Current()
	switch mode {
	case identity.PersistenceNone:
		if err := p.cache.Remove(cache.KeyIdentitySession); err != nil {
			return errors.Mark(identity.ErrProvider, 0).Append(err.Error())
		}
	case identity.PersistenceLocal:
		if current != nil {
			return p.persist(ctx, current)
		}
		p.restore(ctx)
	default:
		return errors.Errorf("local: unknown persistence mode %d", mode).WithCode(codes.InvalidArgument)
	}
	return nil
}

// UpdateDisplayName changes the display name of the current user.
func (p *Provider) UpdateDisplayName(ctx context.Context, name string) error {
	return p.updateCurrent(ctx, false, func(a *Account, id *identity.Identity) error {
		a.DisplayName = name
		id.Name = name
		return nil
	})
}

// UpdateEmail changes the email of the current user.
func (p *Provider) UpdateEmail(ctx context.Context, email string) error {
	email, err := validateEmail(email)
	if err != nil {
		return err
	}
	return p.updateCurrent(ctx, true, func(a *Account, id *identity.Identity) error {
		if a.Email == email {
			return nil
		}
		other, err := p.FindAccount(ctx, email)
		if err == nil && other.ID != a.ID {
			return errors.Mark(identity.ErrEmailInUse, 0)
		}
		if err != nil && !errors.Is(err, identity.ErrUserNotFound) {
			return err
		}
		a.Email = email
		a.EmailVerified = false
		id.Email = email
		id.EmailVerified = false
		return nil
	})
}

// UpdatePassword changes the password of the current user.
func (p *Provider) UpdatePassword(ctx context.Context, password string) error {
	if err := validatePassword(password); err != nil {
		return err
	}
	hashed, err := p.hasher.Generate([]byte(password))
	if err != nil {
		return errors.Wrap(err, 0).WithCode(codes.Internal)
	}
	return p.updateCurrent(ctx, true, func(a *Account, id *identity.Identity) error {
		a.HashedPassword = hashed
		// Sessions that started before the change are not restored.
		a.PasswordChangedAt = id.AuthTime
		return nil
	})
}

// updateCurrent applies fn to the current user's account and identity.
func (p *Provider) updateCurrent(ctx context.Context, sensitive bool, fn func(*Account, *identity.Identity) error) error {
	current := p.notifier.Current()
	if current == nil {
		return errors.Mark(identity.ErrNoCurrentUser, 0)
	}
	if sensitive && p.now().Sub(current.AuthTime) > p.recentLogin {
		return errors.Mark(identity.ErrRequiresRecentLogin, 0)
	}

	p.mu.Lock()
	a, err := p.readAccount(ctx, current.Subject)
	if err == nil {
		err = fn(a, current)
	}
	if err == nil {
		err = p.store.Update(ctx, a)
	}
	p.mu.Unlock()
	if err != nil {
		return err
	}

	p.notifier.Replace(current)
	return p.persist(ctx, current)
}

// SendPasswordReset mails a reset link to email. Unknown addresses succeed
// without sending anything so that callers can't probe for accounts.
func (p *Provider) SendPasswordReset(ctx context.Context, email string) error {
	email, err := validateEmail(email)
	if err != nil {
		return err
	}
	if p.mailer == nil {
		return errors.Mark(ErrMailerRequired, 0)
	}

	a, err := p.FindAccount(ctx, email)
	if errors.Is(err, identity.ErrUserNotFound) {
		logging.Infow(ctx, "local: password reset requested for unknown email")
		return nil
	}
	if err != nil {
		return err
	}

	t := &ResetToken{
		ID:        uuid.NewString(),
		AccountID: a.ID,
		ExpiresAt: p.now().Add(p.resetExpiration),
	}
	if err := p.store.Create(ctx, t); err != nil {
		return errors.WrapPrefix(err, "local: storing reset token failed", 0)
	}

	body, err := p.templates.Render(ctx, templates.PasswordReset, struct {
		Name, Link string
		Expires    time.Duration
	}{a.DisplayName, p.resetURL + t.ID, p.resetExpiration})
	if err != nil {
		return err
	}
	msg := p.mailer.NewMessage(a.Email, "Reset your MindEase password", body)
	if err := p.mailer.Send(ctx, msg); err != nil {
		return errors.Mark(identity.ErrProvider, 0).Append(err.Error())
	}
	logging.Infow(ctx, "local: password reset sent", "uid", a.ID)
	return nil
}

// ConfirmPasswordReset sets a new password using a token from a reset link.
func (p *Provider) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var t ResetToken
	err := p.store.Read(ctx, token, &t)
	if errors.Is(err, storage.ErrNotFound) {
		return errors.Mark(ErrInvalidResetToken, 0)
	}
	if err != nil {
		return err
	}
	// Tokens are single use.
	if err := p.store.Delete(ctx, t); err != nil {
		return err
	}
	if p.now().After(t.ExpiresAt) {
		return errors.Mark(ErrInvalidResetToken, 0)
	}

	a, err := p.readAccount(ctx, t.AccountID)
	if err != nil {
		return err
	}
	hashed, err := p.hasher.Generate([]byte(newPassword))
	if err != nil {
		return errors.Wrap(err, 0).WithCode(codes.Internal)
	}
	a.HashedPassword = hashed
	a.PasswordChangedAt = p.now()
	// Proves ownership of the address.
	a.EmailVerified = true
	return p.store.Update(ctx, a)
}

// SetDisabled enables or disables an account. Disabled accounts can't sign in
// and their persisted sessions are not restored.
func (p *Provider) SetDisabled(ctx context.Context, uid string, disabled bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, err := p.readAccount(ctx, uid)
	if err != nil {
		return err
	}
	a.Disabled = disabled
	return p.store.Update(ctx, a)
}
