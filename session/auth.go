package session

import (
	"context"

	"github.com/google/uuid"
	"github.com/mindease/mindease/errors"
	"github.com/mindease/mindease/identity"
	"github.com/mindease/mindease/logging"
	"github.com/mindease/mindease/metrics"
)

// Login methods, used in metrics and events.
const (
	MethodPassword = "password"
	MethodProvider = "provider"
	MethodOffline  = "offline"
	MethodSignup   = "signup"
)

// Login signs in with an email and password.
//
// While offline, and if offline login is enabled, the login succeeds when the
// cached profile's email matches exactly. No credential is checked in that
// case.
func (m *Manager) Login(ctx context.Context, email, password string) error {
	if err := m.requireMounted(); err != nil {
		return err
	}
	m.resetMessages()

	if !m.State().IsOnline {
		return m.loginOffline(ctx, email)
	}

	id, err := m.provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		logging.Infow(ctx, "session: password login rejected", "email", email, "error", err)
		m.metrics.Login(MethodPassword, metrics.OutcomeError)
		return m.fail(mapError(ErrInvalidCredentials, err))
	}
	if err := m.reconcile(ctx, id, false); err != nil {
		m.metrics.Login(MethodPassword, metrics.OutcomeError)
		return err
	}
	m.metrics.Login(MethodPassword, metrics.OutcomeOK)
	m.welcomeUser(id, MethodPassword)
	return nil
}

func (m *Manager) loginOffline(ctx context.Context, email string) error {
	m.mu.Lock()
	cached := cloneProfile(m.state.CachedProfile)
	if !m.offlineLogin || cached == nil || cached.Email == "" || cached.Email != email {
		m.mu.Unlock()
		m.metrics.Login(MethodOffline, metrics.OutcomeError)
		return m.fail(errors.Mark(ErrOfflineNoCache, 0))
	}

	id := &identity.Identity{
		Subject:   cached.UID,
		Email:     cached.Email,
		Name:      cached.DisplayName,
		Provider:  OfflineProvider,
		SessionID: "offline-" + uuid.NewString(),
		AuthTime:  m.now(),
	}
	m.generation++
	m.state.Identity = id
	m.state.IsBanned = cached.IsBanned
	m.state.IsAdmin = !cached.IsBanned && cached.HasAdminRole()
	m.state.Profile = nil
	if !cached.IsBanned {
		m.state.Profile = cached
	}
	m.state.FromCache = true
	m.state.Loading = false
	m.applied = cloneIdentity(id)
	m.hasApplied = true
	m.changedLocked()
	m.mu.Unlock()
	m.flush()

	logging.Warnw(ctx, "session: offline login accepted without verifying credentials",
		"uid", id.Subject, "email", email)
	m.metrics.Login(MethodOffline, metrics.OutcomeOK)
	m.welcomeUser(id, MethodOffline)
	return nil
}

// LoginWithProvider runs the interactive federated sign in. A closed popup and
// a provider failure both return ErrProviderSignInFailed and leave the state
// unchanged, they are only told apart in the logs.
func (m *Manager) LoginWithProvider(ctx context.Context) error {
	if err := m.requireMounted(); err != nil {
		return err
	}
	m.resetMessages()

	id, err := m.provider.SignInInteractive(ctx)
	if err != nil {
		if errors.Is(err, identity.ErrPopupClosed) || errors.Is(err, identity.ErrCancelledPopup) {
			logging.Infow(ctx, "session: sign in popup closed", "error", err)
		} else {
			logging.Errorw(ctx, "session: provider sign in failed", "error", err)
		}
		m.metrics.Login(MethodProvider, metrics.OutcomeError)
		return m.fail(mapError(ErrProviderSignInFailed, err))
	}
	if err := m.reconcile(ctx, id, false); err != nil {
		m.metrics.Login(MethodProvider, metrics.OutcomeError)
		return err
	}
	m.metrics.Login(MethodProvider, metrics.OutcomeOK)
	m.succeed("Signed in with Google successfully.")
	m.welcomeUser(id, MethodProvider)
	return nil
}

// Signup creates a password account, signs it in and creates its profile.
func (m *Manager) Signup(ctx context.Context, email, password, displayName string) error {
	if err := m.requireMounted(); err != nil {
		return err
	}
	m.resetMessages()
	if !m.State().IsOnline {
		return m.fail(errors.Mark(ErrOfflineNoCache, 0))
	}

	id, err := m.provider.CreateAccount(ctx, email, password, displayName)
	if err != nil {
		logging.Infow(ctx, "session: signup rejected", "email", email, "error", err)
		m.metrics.Login(MethodSignup, metrics.OutcomeError)
		return m.fail(errors.WrapPrefix(err, "session: signup", 0).
			WithPublicMessage(errors.PublicMessage(err, "An unexpected error occurred.")))
	}
	if err := m.reconcile(ctx, id, false); err != nil {
		m.metrics.Login(MethodSignup, metrics.OutcomeError)
		return err
	}
	m.metrics.Login(MethodSignup, metrics.OutcomeOK)
	m.succeed("Signup successful! Welcome.")
	m.welcomeUser(id, MethodSignup)
	return nil
}

// Logout signs out. When the provider refuses, the state is left as it is so
// the UI doesn't show a logged out view over a valid session.
func (m *Manager) Logout(ctx context.Context) error {
	m.resetMessages()
	before := m.State().Identity

	if err := m.provider.SignOut(ctx); err != nil {
		logging.Errorw(ctx, "session: sign out failed", "error", err)
		return m.fail(errors.Mark(ErrSignOutFailed, 0).Append(err.Error()))
	}

	m.mu.Lock()
	m.generation++
	m.clearLocked()
	m.state.CachedProfile = nil
	if err := m.cache.Remove(cacheKey); err != nil {
		logging.Warnw(ctx, "session: failed to clear cached profile", "error", err)
	}
	m.successMsg = "Logged out successfully."
	m.changedLocked()
	m.mu.Unlock()
	m.flush()

	if before != nil {
		m.publish(TopicLogout, m.event(before))
	}
	return nil
}

// SendPasswordReset asks the provider to email a reset link.
func (m *Manager) SendPasswordReset(ctx context.Context, email string) error {
	m.resetMessages()
	if !m.State().IsOnline {
		return m.fail(errors.Mark(ErrOfflineNoCache, 0))
	}
	if err := m.provider.SendPasswordReset(ctx, email); err != nil {
		logging.Warnw(ctx, "session: password reset failed", "email", email, "error", err)
		return m.fail(withMessage(ErrUpdateFailed, err, "Failed to send password reset email."))
	}
	m.succeed("Password reset email sent. Check your inbox.")
	return nil
}

func (m *Manager) requireMounted() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.mounted {
		return errors.Mark(ErrNotInitialized, 1)
	}
	return nil
}

// welcomeUser raises the one-shot welcome signal.
func (m *Manager) welcomeUser(id *identity.Identity, method string) {
	m.mu.Lock()
	m.welcome = true
	m.mu.Unlock()
	ev := m.event(id)
	ev.Method = method
	m.publish(TopicLogin, ev)
	m.publish(TopicWelcome, ev)
}
