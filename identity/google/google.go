// Package google provides interactive sign in with Google.
//
// Sign in always uses a popup style flow: the authorization URL is opened in a
// browser window, and the authorization code comes back to a loopback
// redirect. There is no redirect based variant, since that would require the
// caller to survive a full page round trip.
//
// The full flow is as follows:
//
// 1. The authenticator builds an authorization URL with a signed state.
// 2. The Popup opens the URL and waits for the redirect.
// 3. The user logs in and grants access to the app.
// 4. Google redirects to the loopback address with an authorization code.
// 5. The authenticator exchanges the code for tokens.
// 6. The id_token is validated and mapped to an identity.FederatedUser.
//
// ## Configuring Google OAuth App
//
// Follow the official steps here: https://support.google.com/cloud/answer/6158849
//
// Create a "Desktop app" client, for which Google accepts any loopback
// redirect port.
package google

import (
	"context"
	"net/url"

	"github.com/mindease/mindease/config"
	"github.com/mindease/mindease/errors"
	"github.com/mindease/mindease/identity"
	"github.com/mindease/mindease/logging"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/idtoken"
	"google.golang.org/grpc/codes"
)

// ProviderName is reported in Identity.Provider for Google sign ins.
const ProviderName = "google"

// ErrMissingClient is returned by New when no client id or secret is known.
var ErrMissingClient = errors.NewC("google: config missing client id or secret", codes.FailedPrecondition)

// Popup opens an authorization URL for the user and returns the query
// parameters of the redirect that ends the flow.
type Popup interface {
	// RedirectURL is the address Google should redirect back to.
	RedirectURL() string

	// Open shows authURL and blocks until the redirect arrives. It returns
	// identity.ErrPopupClosed if the user abandons the flow.
	Open(ctx context.Context, authURL string) (url.Values, error)
}

// TokenValidator verifies a Google id_token for the given audience.
type TokenValidator func(ctx context.Context, idToken, audience string) (*idtoken.Payload, error)

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithClient configures the client id and secret.
func WithClient(id, secret string) Option {
	return func(a *Authenticator) {
		a.clientID = id
		a.clientSecret = secret
	}
}

// WithPopup sets the popup used to show the consent screen.
func WithPopup(p Popup) Option {
	return func(a *Authenticator) {
		a.popup = p
	}
}

// WithTokenValidator overrides id_token validation, mostly for tests.
func WithTokenValidator(v TokenValidator) Option {
	return func(a *Authenticator) {
		a.validate = v
	}
}

// WithEndpoint overrides the OAuth endpoints, mostly for tests.
func WithEndpoint(e oauth2.Endpoint) Option {
	return func(a *Authenticator) {
		a.endpoint = e
	}
}

// WithScopes adds OAuth scopes beyond openid, email and profile.
func WithScopes(scopes ...string) Option {
	return func(a *Authenticator) {
		a.extraScopes = append(a.extraScopes, scopes...)
	}
}

// Authenticator implements identity.Interactive for Google accounts.
type Authenticator struct {
	clientID     string
	clientSecret string
	extraScopes  []string
	popup        Popup
	validate     TokenValidator
	endpoint     oauth2.Endpoint
}

var _ identity.Interactive = (*Authenticator)(nil)

// New returns an authenticator configured from `auth.google.id` and
// `auth.google.secret`, overridden by opts.
func New(opts ...Option) (*Authenticator, error) {
	config.EnsureDefaults()
	a := &Authenticator{
		clientID:     config.String("auth.google.id"),
		clientSecret: config.String("auth.google.secret"),
		validate:     idtoken.Validate,
		endpoint:     google.Endpoint,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.clientID == "" || a.clientSecret == "" {
		return nil, errors.Mark(ErrMissingClient, 0)
	}
	return a, nil
}

// Configured reports whether Google credentials are present in config.
func Configured() bool {
	config.EnsureDefaults()
	return config.String("auth.google.id") != "" && config.String("auth.google.secret") != ""
}

func (a *Authenticator) oauthConfig() *oauth2.Config {
	scopes := append([]string{"openid", "email", "profile"}, a.extraScopes...)
	return &oauth2.Config{
		ClientID:     a.clientID,
		ClientSecret: a.clientSecret,
		Endpoint:     a.endpoint,
		RedirectURL:  a.popup.RedirectURL(),
		Scopes:       scopes,
	}
}

// Authenticate runs the popup flow and returns the verified Google user.
func (a *Authenticator) Authenticate(ctx context.Context) (*identity.FederatedUser, error) {
	if a.popup == nil {
		return nil, errors.Mark(identity.ErrInteractiveUnavailable, 0).Append("no popup configured")
	}
	conf := a.oauthConfig()

	state, err := a.newState()
	if err != nil {
		return nil, err
	}
	authURL := conf.AuthCodeURL(state.Encode(),
		oauth2.AccessTypeOnline,
		oauth2.SetAuthURLParam("prompt", "select_account"),
	)

	logging.Info(ctx, "google: opening sign in popup")
	params, err := a.popup.Open(ctx, authURL)
	if err != nil {
		return nil, err
	}
	get := params.Get

	switch e := get("error"); e {
	case "":
	case "access_denied":
		return nil, errors.Mark(identity.ErrPopupClosed, 0)
	default:
		logging.Errorw(ctx, "google: authorization failed", "error", e, "description", get("error_description"))
		return nil, errors.Mark(identity.ErrProvider, 0).Append("authorization failed: " + e)
	}

	if _, err := a.parseState(get("state")); err != nil {
		logging.Errorw(ctx, "google: rejected oauth state", "error", err)
		return nil, errors.Mark(identity.ErrProvider, 0).Append(err.Error())
	}
	code := get("code")
	if code == "" {
		return nil, errors.Mark(identity.ErrProvider, 0).Append("missing authorization code")
	}

	logging.Infow(ctx, "google: starting token exchange", "redirect_url", conf.RedirectURL)
	token, err := conf.Exchange(ctx, code)
	if err != nil {
		logging.Errorw(ctx, "google: token exchange failed", "error", err)
		return nil, errors.Mark(identity.ErrProvider, 0).Append("token exchange failed")
	}
	rawIDToken, _ := token.Extra("id_token").(string)
	if rawIDToken == "" {
		return nil, errors.Mark(identity.ErrProvider, 0).Append("token response has no id_token")
	}

	payload, err := a.validate(ctx, rawIDToken, a.clientID)
	if err != nil {
		logging.Errorw(ctx, "google: failed to validate id token", "error", err)
		return nil, errors.Mark(identity.ErrProvider, 0).Append("invalid id token")
	}
	return userFromClaims(payload.Subject, payload.Claims)
}

func userFromClaims(subject string, claims map[string]any) (*identity.FederatedUser, error) {
	if subject == "" {
		return nil, errors.Mark(identity.ErrProvider, 0).Append("id token has no subject")
	}
	u := &identity.FederatedUser{Provider: ProviderName, Subject: subject}
	u.Email, _ = claims["email"].(string)
	u.Name, _ = claims["name"].(string)
	switch v := claims["email_verified"].(type) {
	case bool:
		u.EmailVerified = v
	case string:
		u.EmailVerified = v == "true"
	}
	if u.Email == "" {
		return nil, errors.Mark(identity.ErrProvider, 0).Append("id token has no email")
	}
	return u, nil
}
