// Package identity defines the contract between the session manager and an
// identity provider, the party that knows who the user is.
//
// Providers report identity transitions through Subscribe. The callback
// receives the current identity immediately and then every subsequent change
// in the order it happened, with nil meaning "signed out". Deliveries are
// serialized, so a callback never runs concurrently with itself.
package identity

import (
	"context"
	"time"
)

// Identity is the provider issued record of a signed in user.
type Identity struct {
	// Unique identifier for the user, stable across sessions.
	Subject string

	Email         string
	EmailVerified bool
	Name          string

	// Name of the provider that authenticated the user, e.g. "password" or
	// "google".
	Provider string

	// Unique identifier for this sign in. Two deliveries with the same subject
	// and session id describe the same session.
	SessionID string

	// When the user last presented credentials.
	AuthTime time.Time
}

// SameSession reports whether a and b describe the same sign in. Two nil
// identities are the same session.
func SameSession(a, b *Identity) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Subject == b.Subject && a.SessionID == b.SessionID
}

// Persistence controls whether a session survives a restart.
type Persistence int

const (
	// PersistenceLocal keeps the session in durable local storage.
	PersistenceLocal Persistence = iota

	// PersistenceNone keeps the session in memory only.
	PersistenceNone
)

func (p Persistence) String() string {
	switch p {
	case PersistenceLocal:
		return "local"
	case PersistenceNone:
		return "none"
	default:
		return "unknown"
	}
}

// Provider is an identity provider. All methods that talk to the provider
// take a context and may fail with one of the Err* values in this package.
type Provider interface {
	// Subscribe registers fn for identity transitions and returns a function
	// that removes the subscription. fn is called with the current identity
	// before Subscribe returns.
	Subscribe(fn func(*Identity)) (unsubscribe func())

	// SignInWithPassword authenticates an email and password pair.
	SignInWithPassword(ctx context.Context, email, password string) (*Identity, error)

	// SignInInteractive runs an interactive, popup style, federated sign in.
	SignInInteractive(ctx context.Context) (*Identity, error)

	// SignOut ends the current session.
	SignOut(ctx context.Context) error

	// SetPersistence controls whether sessions survive restarts.
	SetPersistence(ctx context.Context, p Persistence) error

	// SendPasswordReset starts a password reset for email.
	SendPasswordReset(ctx context.Context, email string) error

	// UpdateDisplayName changes the display name of the current user.
	UpdateDisplayName(ctx context.Context, name string) error

	// UpdateEmail changes the email of the current user. Requires a recent
	// sign in.
	UpdateEmail(ctx context.Context, email string) error

	// UpdatePassword changes the password of the current user. Requires a
	// recent sign in.
	UpdatePassword(ctx context.Context, password string) error

	// CreateAccount registers a new password account and signs it in.
	CreateAccount(ctx context.Context, email, password, displayName string) (*Identity, error)
}

// FederatedUser is the verified result of an interactive sign in with a
// third party.
type FederatedUser struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
}

// Interactive runs a federated sign in that needs the user to interact with a
// third party, for example in a browser popup.
type Interactive interface {
	Authenticate(ctx context.Context) (*FederatedUser, error)
}
