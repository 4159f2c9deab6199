package identity

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mindease/mindease/errors"
	"google.golang.org/grpc/codes"
)

// Leeway for JWT expiration checks.
const jwtLeeway = 5 * time.Second

// TokenIssuer is the issuer and audience of session tokens.
const TokenIssuer = "mindease"

// Claims are the JWT claims of a persisted session.
type Claims struct {
	// Standard public JWT claims per https://www.iana.org/assignments/jwt/jwt.xhtml
	jwt.RegisteredClaims
	Name          string           `json:"name"`
	Email         string           `json:"email"`
	EmailVerified bool             `json:"email_verified"`
	AuthTime      *jwt.NumericDate `json:"auth_time,omitempty"`

	// Custom claims.
	Provider string `json:"idp"`
}

// Validate checks the custom claims.
func (c *Claims) Validate() error {
	if c.Provider == "" {
		return errors.Mark(ErrInvalidToken, 0).Append("missing provider")
	}
	if c.Subject == "" {
		return errors.Mark(ErrInvalidToken, 0).Append("missing subject")
	}
	return nil
}

// SignerOption configures a Signer.
type SignerOption func(*Signer)

// WithTimeFunc overrides the clock used to stamp and validate tokens.
func WithTimeFunc(now func() time.Time) SignerOption {
	return func(s *Signer) {
		s.now = now
	}
}

// Signer issues and verifies HS256 session tokens.
type Signer struct {
	key        []byte
	expiration time.Duration
	now        func() time.Time
}

// NewSigner returns a signer using key, issuing tokens valid for expiration.
func NewSigner(key []byte, expiration time.Duration, opts ...SignerOption) *Signer {
	s := &Signer{key: key, expiration: expiration, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sign creates a signed JWT for the given identity.
func (s *Signer) Sign(identity Identity) (string, error) {
	now := s.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        identity.SessionID,
			Subject:   identity.Subject,
			Audience:  jwt.ClaimStrings{TokenIssuer},
			Issuer:    TokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiration)),
		},
		Name:          identity.Name,
		Email:         identity.Email,
		EmailVerified: identity.EmailVerified,
		Provider:      identity.Provider,
		AuthTime:      jwt.NewNumericDate(identity.AuthTime),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	ss, err := token.SignedString(s.key)
	if err != nil {
		return "", errors.Wrap(err, 0).WithCode(codes.Internal)
	}
	return ss, nil
}

// Parse takes a signed JWT, validates it, and returns the identity encoded
// within. Invalid and expired tokens will error.
func (s *Signer) Parse(tokenString string) (Identity, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(token *jwt.Token) (any, error) {
			return s.key, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(TokenIssuer),
		jwt.WithAudience(TokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(jwtLeeway),
		jwt.WithTimeFunc(s.now),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		return Identity{}, errors.Mark(ErrInvalidToken, 0).Append(err.Error())
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return Identity{}, errors.Mark(ErrInvalidToken, 0).Append("invalid claims")
	}
	if err := claims.Validate(); err != nil {
		return Identity{}, err
	}

	id := Identity{
		Provider:      claims.Provider,
		SessionID:     claims.ID,
		Subject:       claims.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Name:          claims.Name,
	}
	if claims.AuthTime != nil {
		id.AuthTime = claims.AuthTime.Time
	}
	return id, nil
}
