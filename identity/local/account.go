package local

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mindease/mindease/errors"
	"github.com/mindease/mindease/identity"
	"github.com/mindease/mindease/storage"
)

// Account is a user known to the local provider. Federated users have no
// password and are matched on their provider subject.
type Account struct {
	ID                string    `json:"id"`
	Email             string    `json:"email"`
	DisplayName       string    `json:"name"`
	EmailVerified     bool      `json:"emailVerified,omitempty"`
	Disabled          bool      `json:"disabled,omitempty"`
	HashedPassword    []byte    `json:"hashedPassword,omitempty"`
	GoogleSubject     string    `json:"googleSubject,omitempty"`
	PasswordChangedAt time.Time `json:"passwordChangedAt"`
	CreatedAt         time.Time `json:"createdAt"`
}

func (a Account) PK() string {
	return a.ID
}

func (Account) Name() string {
	return "identity_accounts"
}

// HasPassword reports whether the account can sign in with a password.
func (a *Account) HasPassword() bool {
	return len(a.HashedPassword) > 0
}

// ResetToken is a pending password reset.
type ResetToken struct {
	ID        string    `json:"id"`
	AccountID string    `json:"accountId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (t ResetToken) PK() string {
	return t.ID
}

func (ResetToken) Name() string {
	return "identity_reset_tokens"
}

func (p *Provider) newIdentity(a *Account, provider string) *identity.Identity {
	return &identity.Identity{
		Provider:      provider,
		SessionID:     uuid.NewString(),
		AuthTime:      p.now(),
		Subject:       a.ID,
		Email:         a.Email,
		EmailVerified: a.EmailVerified,
		Name:          a.DisplayName,
	}
}

// FindAccount looks up an account by email, case insensitively.
func (p *Provider) FindAccount(ctx context.Context, email string) (*Account, error) {
	return p.findOne(ctx, Account{Email: normalizeEmail(email)})
}

func (p *Provider) findByGoogleSubject(ctx context.Context, sub string) (*Account, error) {
	return p.findOne(ctx, Account{GoogleSubject: sub})
}

func (p *Provider) findOne(ctx context.Context, filter Account) (*Account, error) {
	var accounts []Account
	if err := p.store.List(ctx, &accounts, filter); err != nil {
		return nil, errors.WrapPrefix(err, "local: account lookup failed", 0)
	}
	if len(accounts) == 0 {
		return nil, errors.Mark(identity.ErrUserNotFound, 0)
	}
	return &accounts[0], nil
}

func (p *Provider) readAccount(ctx context.Context, id string) (*Account, error) {
	var a Account
	err := p.store.Read(ctx, id, &a)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, errors.Mark(identity.ErrUserNotFound, 0)
	}
	if err != nil {
		return nil, errors.WrapPrefix(err, "local: account read failed", 0)
	}
	return &a, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) (string, error) {
	email = normalizeEmail(email)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", errors.Mark(identity.ErrInvalidEmail, 0)
	}
	return email, nil
}

func validatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return errors.Mark(identity.ErrWeakPassword, 0)
	}
	return nil
}
