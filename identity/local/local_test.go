package local

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/mindease/mindease/cache"
	"github.com/mindease/mindease/errors"
	"github.com/mindease/mindease/identity"
	"github.com/mindease/mindease/logging"
	"github.com/mindease/mindease/storage"
	"github.com/mindease/mindease/storage/memorystore"
	"github.com/mindease/mindease/templates"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc/codes"
	"gopkg.in/gomail.v2"
)

type fakeMailer struct {
	sent []*gomail.Message
	err  error
}

func (m *fakeMailer) NewMessage(to, subject, body string) *gomail.Message {
	msg := gomail.NewMessage()
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)
	return msg
}

func (m *fakeMailer) Send(_ context.Context, msg *gomail.Message) error {
	m.sent = append(m.sent, msg)
	return m.err
}

type fakeInteractive struct {
	user *identity.FederatedUser
	err  error
}

func (f *fakeInteractive) Authenticate(context.Context) (*identity.FederatedUser, error) {
	return f.user, f.err
}

type fixture struct {
	store  storage.Store
	cache  cache.Cache
	clock  time.Time
	mailer *fakeMailer
}

func newFixture() *fixture {
	return &fixture{
		store:  memorystore.New(),
		cache:  cache.New(memorystore.New()),
		clock:  time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
		mailer: &fakeMailer{},
	}
}

func (f *fixture) provider(t *testing.T, opts ...Option) *Provider {
	t.Helper()
	opts = append([]Option{
		WithHasher(TestHasher),
		WithSigningKey("test-key"),
		WithSessionExpiration(time.Hour),
		WithRecentLoginWindow(5 * time.Minute),
		WithResetExpiration(time.Hour),
		WithResetURL("https://mindease.test/reset?token="),
		WithMailer(f.mailer),
		WithClock(func() time.Time { return f.clock }),
	}, opts...)
	p, err := New(t.Context(), f.store, f.cache, opts...)
	require.NoError(t, err)
	return p
}

func TestCreateAccountAndSignIn(t *testing.T) {
	f := newFixture()
	p := f.provider(t)
	ctx := t.Context()

	var seen []*identity.Identity
	unsubscribe := p.Subscribe(func(id *identity.Identity) { seen = append(seen, id) })
	defer unsubscribe()

	id, err := p.CreateAccount(ctx, "Ada@Example.com", "secret1", "Ada")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", id.Email)
	assert.Equal(t, "Ada", id.Name)
	assert.Equal(t, ProviderName, id.Provider)
	assert.NotEmpty(t, id.SessionID)

	require.Len(t, seen, 2)
	assert.Nil(t, seen[0])
	assert.Equal(t, id.Subject, seen[1].Subject)

	require.NoError(t, p.SignOut(ctx))
	require.Len(t, seen, 3)
	assert.Nil(t, seen[2])
	assert.Nil(t, p.Current())

	again, err := p.SignInWithPassword(ctx, "ada@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, id.Subject, again.Subject)
	assert.NotEqual(t, id.SessionID, again.SessionID)
}

func TestCreateAccountErrors(t *testing.T) {
	f := newFixture()
	p := f.provider(t)
	ctx := t.Context()

	_, err := p.CreateAccount(ctx, "ada@example.com", "secret1", "Ada")
	require.NoError(t, err)

	tests := []struct {
		name     string
		email    string
		password string
		want     error
	}{
		{"invalid email", "not-an-email", "secret1", identity.ErrInvalidEmail},
		{"weak password", "bob@example.com", "12345", identity.ErrWeakPassword},
		{"email in use", "ADA@example.com", "secret1", identity.ErrEmailInUse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.CreateAccount(ctx, tt.email, tt.password, "x")
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestSignInWithPasswordErrors(t *testing.T) {
	f := newFixture()
	p := f.provider(t)
	ctx := t.Context()

	id, err := p.CreateAccount(ctx, "ada@example.com", "secret1", "Ada")
	require.NoError(t, err)
	require.NoError(t, p.SignOut(ctx))

	t.Run("wrong password", func(t *testing.T) {
		_, err := p.SignInWithPassword(ctx, "ada@example.com", "nope")
		assert.True(t, errors.Is(err, identity.ErrWrongPassword))
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := p.SignInWithPassword(ctx, "bob@example.com", "secret1")
		assert.True(t, errors.Is(err, identity.ErrUserNotFound))
	})

	t.Run("invalid email", func(t *testing.T) {
		_, err := p.SignInWithPassword(ctx, "bob", "secret1")
		assert.True(t, errors.Is(err, identity.ErrInvalidEmail))
	})

	t.Run("disabled", func(t *testing.T) {
		require.NoError(t, p.SetDisabled(ctx, id.Subject, true))
		defer func() { require.NoError(t, p.SetDisabled(ctx, id.Subject, false)) }()
		_, err := p.SignInWithPassword(ctx, "ada@example.com", "secret1")
		assert.True(t, errors.Is(err, identity.ErrUserDisabled))
	})

	assert.Nil(t, p.Current())
}

func TestPersistenceAcrossRestart(t *testing.T) {
	f := newFixture()
	ctx := t.Context()

	p := f.provider(t)
	id, err := p.CreateAccount(ctx, "ada@example.com", "secret1", "Ada")
	require.NoError(t, err)

	// A new provider over the same cache picks the session up.
	restarted := f.provider(t)
	current := restarted.Current()
	require.NotNil(t, current)
	assert.Equal(t, id.Subject, current.Subject)
	assert.Equal(t, id.SessionID, current.SessionID)

	var delivered *identity.Identity
	restarted.Subscribe(func(i *identity.Identity) { delivered = i })()
	require.NotNil(t, delivered)
	assert.Equal(t, id.Subject, delivered.Subject)

	// Signing out forgets the session.
	require.NoError(t, restarted.SignOut(ctx))
	assert.Nil(t, f.provider(t).Current())
}

func TestPersistenceNone(t *testing.T) {
	f := newFixture()
	ctx := t.Context()

	p := f.provider(t)
	require.NoError(t, p.SetPersistence(ctx, identity.PersistenceNone))
	_, err := p.CreateAccount(ctx, "ada@example.com", "secret1", "Ada")
	require.NoError(t, err)
	assert.NotNil(t, p.Current())

	assert.Nil(t, f.provider(t).Current(), "session should not survive a restart")

	// Switching back to local persists the active session.
	require.NoError(t, p.SetPersistence(ctx, identity.PersistenceLocal))
	assert.NotNil(t, f.provider(t).Current())
}

func TestExpiredSessionIsDiscarded(t *testing.T) {
	f := newFixture()
	ctx := t.Context()

	p := f.provider(t)
	_, err := p.CreateAccount(ctx, "ada@example.com", "secret1", "Ada")
	require.NoError(t, err)

	f.clock = f.clock.Add(2 * time.Hour)
	assert.Nil(t, f.provider(t).Current())

	var token string
	found, err := f.cache.Get(cache.KeyIdentitySession, &token)
	require.NoError(t, err)
	assert.False(t, found)
}

type stickyCache struct {
	cache.Cache
}

func (stickyCache) Remove(string) error {
	return errors.NewC("cache is read only", codes.Unavailable)
}

func TestDiscardFailureIsLogged(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.cache.Set(cache.KeyIdentitySession, "not-a-jwt"))

	core, logs := observer.New(zap.WarnLevel)
	ctx := logging.With(t.Context(), logging.NewZapLogger(zap.New(core)))
	p, err := New(ctx, f.store, stickyCache{f.cache}, WithHasher(TestHasher), WithSigningKey("test-key"))
	require.NoError(t, err)
	assert.Nil(t, p.Current())

	entries := logs.FilterMessage("local: failed to remove persisted session").All()
	require.Len(t, entries, 1)
	assert.Contains(t, fmt.Sprint(entries[0].ContextMap()["error"]), "cache is read only")
}

func TestDisabledAccountSessionIsDiscarded(t *testing.T) {
	f := newFixture()
	ctx := t.Context()

	p := f.provider(t)
	id, err := p.CreateAccount(ctx, "ada@example.com", "secret1", "Ada")
	require.NoError(t, err)
	require.NoError(t, p.SetDisabled(ctx, id.Subject, true))

	assert.Nil(t, f.provider(t).Current())
}

func TestUpdates(t *testing.T) {
	f := newFixture()
	ctx := t.Context()
	p := f.provider(t)

	t.Run("no current user", func(t *testing.T) {
		assert.True(t, errors.Is(p.UpdateDisplayName(ctx, "x"), identity.ErrNoCurrentUser))
		assert.True(t, errors.Is(p.UpdatePassword(ctx, "secret2"), identity.ErrNoCurrentUser))
	})

	_, err := p.CreateAccount(ctx, "ada@example.com", "secret1", "Ada")
	require.NoError(t, err)
	_, err = p.CreateAccount(ctx, "bob@example.com", "secret1", "Bob")
	require.NoError(t, err)
	_, err = p.SignInWithPassword(ctx, "ada@example.com", "secret1")
	require.NoError(t, err)

	calls := 0
	unsubscribe := p.Subscribe(func(*identity.Identity) { calls++ })
	defer unsubscribe()

	t.Run("display name", func(t *testing.T) {
		require.NoError(t, p.UpdateDisplayName(ctx, "Ada L."))
		assert.Equal(t, "Ada L.", p.Current().Name)
		a, err := p.FindAccount(ctx, "ada@example.com")
		require.NoError(t, err)
		assert.Equal(t, "Ada L.", a.DisplayName)
	})

	t.Run("email in use", func(t *testing.T) {
		assert.True(t, errors.Is(p.UpdateEmail(ctx, "bob@example.com"), identity.ErrEmailInUse))
	})

	t.Run("email", func(t *testing.T) {
		require.NoError(t, p.UpdateEmail(ctx, "ada@lovelace.dev"))
		assert.Equal(t, "ada@lovelace.dev", p.Current().Email)
	})

	t.Run("weak password", func(t *testing.T) {
		assert.True(t, errors.Is(p.UpdatePassword(ctx, "123"), identity.ErrWeakPassword))
	})

	t.Run("password", func(t *testing.T) {
		require.NoError(t, p.UpdatePassword(ctx, "secret2"))
		require.NoError(t, p.SignOut(ctx))
		_, err := p.SignInWithPassword(ctx, "ada@lovelace.dev", "secret2")
		require.NoError(t, err)
	})

	t.Run("requires recent login", func(t *testing.T) {
		f.clock = f.clock.Add(10 * time.Minute)
		assert.True(t, errors.Is(p.UpdatePassword(ctx, "secret3"), identity.ErrRequiresRecentLogin))
		assert.True(t, errors.Is(p.UpdateEmail(ctx, "ada@example.org"), identity.ErrRequiresRecentLogin))
		// Non sensitive updates still work.
		require.NoError(t, p.UpdateDisplayName(ctx, "Ada"))
	})

	// Attribute updates don't announce a new session. Only the sign out and
	// sign in above did.
	assert.Equal(t, 3, calls)
}

func TestPasswordReset(t *testing.T) {
	f := newFixture()
	ctx := t.Context()
	p := f.provider(t)

	_, err := p.CreateAccount(ctx, "ada@example.com", "secret1", "Ada")
	require.NoError(t, err)
	require.NoError(t, p.SignOut(ctx))

	t.Run("unknown email is silent", func(t *testing.T) {
		require.NoError(t, p.SendPasswordReset(ctx, "nobody@example.com"))
		assert.Empty(t, f.mailer.sent)
	})

	t.Run("invalid email", func(t *testing.T) {
		assert.True(t, errors.Is(p.SendPasswordReset(ctx, "nobody"), identity.ErrInvalidEmail))
	})

	require.NoError(t, p.SendPasswordReset(ctx, "ada@example.com"))
	require.Len(t, f.mailer.sent, 1)
	assert.Equal(t, []string{"ada@example.com"}, f.mailer.sent[0].GetHeader("To"))

	var buf bytes.Buffer
	_, err = f.mailer.sent[0].WriteTo(&buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "https://mindease.test/reset")

	var tokens []ResetToken
	require.NoError(t, f.store.List(ctx, &tokens, ResetToken{}))
	require.Len(t, tokens, 1)

	t.Run("weak password", func(t *testing.T) {
		err := p.ConfirmPasswordReset(ctx, tokens[0].ID, "123")
		assert.True(t, errors.Is(err, identity.ErrWeakPassword))
	})

	require.NoError(t, p.ConfirmPasswordReset(ctx, tokens[0].ID, "newsecret"))
	_, err = p.SignInWithPassword(ctx, "ada@example.com", "newsecret")
	require.NoError(t, err)

	t.Run("token is single use", func(t *testing.T) {
		err := p.ConfirmPasswordReset(ctx, tokens[0].ID, "another1")
		assert.True(t, errors.Is(err, ErrInvalidResetToken))
	})

	t.Run("expired token", func(t *testing.T) {
		require.NoError(t, p.SendPasswordReset(ctx, "ada@example.com"))
		var pending []ResetToken
		require.NoError(t, f.store.List(ctx, &pending, ResetToken{}))
		require.Len(t, pending, 1)

		f.clock = f.clock.Add(2 * time.Hour)
		err := p.ConfirmPasswordReset(ctx, pending[0].ID, "another1")
		assert.True(t, errors.Is(err, ErrInvalidResetToken))
	})
}

type stubRenderer struct {
	name string
	data any
	err  error
}

func (r *stubRenderer) Render(_ context.Context, name string, data any) (string, error) {
	r.name, r.data = name, data
	return "custom body", r.err
}

func TestPasswordResetTemplates(t *testing.T) {
	f := newFixture()
	ctx := t.Context()
	r := &stubRenderer{}
	p := f.provider(t, WithTemplates(r))

	_, err := p.CreateAccount(ctx, "ada@example.com", "secret1", "Ada")
	require.NoError(t, err)

	require.NoError(t, p.SendPasswordReset(ctx, "ada@example.com"))
	assert.Equal(t, templates.PasswordReset, r.name)
	assert.Contains(t, fmt.Sprint(r.data), "Ada")
	require.Len(t, f.mailer.sent, 1)

	r.err = errors.NewC("render failed", codes.Internal)
	assert.Error(t, p.SendPasswordReset(ctx, "ada@example.com"))
	assert.Len(t, f.mailer.sent, 1)
}

func TestPasswordResetWithoutMailer(t *testing.T) {
	f := newFixture()
	p := f.provider(t, WithMailer(nil))
	err := p.SendPasswordReset(t.Context(), "ada@example.com")
	assert.True(t, errors.Is(err, ErrMailerRequired))
}

func TestSignInInteractive(t *testing.T) {
	ctx := t.Context()

	t.Run("not configured", func(t *testing.T) {
		p := newFixture().provider(t)
		_, err := p.SignInInteractive(ctx)
		assert.True(t, errors.Is(err, identity.ErrInteractiveUnavailable))
	})

	t.Run("popup closed", func(t *testing.T) {
		p := newFixture().provider(t, WithInteractive(&fakeInteractive{err: errors.Mark(identity.ErrPopupClosed, 0)}))
		_, err := p.SignInInteractive(ctx)
		assert.True(t, errors.Is(err, identity.ErrPopupClosed))
		assert.Nil(t, p.Current())
	})

	t.Run("creates account", func(t *testing.T) {
		fi := &fakeInteractive{user: &identity.FederatedUser{
			Provider: "google", Subject: "g-1", Email: "grace@example.com", EmailVerified: true, Name: "Grace",
		}}
		p := newFixture().provider(t, WithInteractive(fi))

		id, err := p.SignInInteractive(ctx)
		require.NoError(t, err)
		assert.Equal(t, "google", id.Provider)
		assert.Equal(t, "Grace", id.Name)

		// Second sign in maps to the same account.
		again, err := p.SignInInteractive(ctx)
		require.NoError(t, err)
		assert.Equal(t, id.Subject, again.Subject)

		// No password to sign in with.
		_, err = p.SignInWithPassword(ctx, "grace@example.com", "whatever")
		assert.True(t, errors.Is(err, identity.ErrInvalidCredential))
	})

	t.Run("links verified email", func(t *testing.T) {
		fi := &fakeInteractive{user: &identity.FederatedUser{
			Provider: "google", Subject: "g-2", Email: "ada@example.com", EmailVerified: true, Name: "Ada G",
		}}
		p := newFixture().provider(t, WithInteractive(fi))
		created, err := p.CreateAccount(ctx, "ada@example.com", "secret1", "Ada")
		require.NoError(t, err)

		id, err := p.SignInInteractive(ctx)
		require.NoError(t, err)
		assert.Equal(t, created.Subject, id.Subject)
		assert.Equal(t, "Ada", id.Name)
		assert.True(t, id.EmailVerified)
	})

	t.Run("rejects unverified email for existing account", func(t *testing.T) {
		fi := &fakeInteractive{user: &identity.FederatedUser{
			Provider: "google", Subject: "g-3", Email: "ada@example.com", Name: "Ada G",
		}}
		p := newFixture().provider(t, WithInteractive(fi))
		_, err := p.CreateAccount(ctx, "ada@example.com", "secret1", "Ada")
		require.NoError(t, err)
		require.NoError(t, p.SignOut(ctx))

		_, err = p.SignInInteractive(ctx)
		assert.True(t, errors.Is(err, identity.ErrAccountExistsWithDifferentCredential))
	})
}

func TestDeviceSigningKey(t *testing.T) {
	f := newFixture()
	ctx := t.Context()

	p, err := New(ctx, f.store, f.cache, WithSigningKey(""), WithHasher(TestHasher))
	require.NoError(t, err)
	_, err = p.CreateAccount(ctx, "ada@example.com", "secret1", "Ada")
	require.NoError(t, err)

	// The generated key is reused, so the session survives a restart.
	restarted, err := New(ctx, f.store, f.cache, WithSigningKey(""), WithHasher(TestHasher))
	require.NoError(t, err)
	assert.NotNil(t, restarted.Current())
}
