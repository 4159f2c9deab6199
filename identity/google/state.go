package google

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/mindease/mindease/errors"
	"google.golang.org/grpc/codes"
)

const (
	stateExpiration = time.Minute * 5
)

// oauthState binds a redirect to the sign in that started it.
type oauthState struct {
	Nonce     string    `json:"n"`
	TimeStamp time.Time `json:"t"`
	Signature string    `json:"sig"`
}

func (s *oauthState) Encode() string {
	b, _ := json.Marshal(s)
	return base64.RawURLEncoding.EncodeToString(b)
}

func (a *Authenticator) sign(s *oauthState) string {
	// Use the client secret to sign the state.
	h := hmac.New(sha256.New, []byte(a.clientSecret))
	h.Write([]byte(s.Encode()))
	return hex.EncodeToString(h.Sum(nil))
}

func (a *Authenticator) newState() (*oauthState, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return nil, errors.Wrap(err, 0).WithCode(codes.Internal)
	}
	s := &oauthState{
		Nonce:     hex.EncodeToString(b),
		TimeStamp: time.Now(),
	}
	s.Signature = a.sign(s)
	return s, nil
}

func (a *Authenticator) parseState(s string) (*oauthState, error) {
	if s == "" {
		return nil, errors.NewC("google: state parameter is empty", codes.InvalidArgument)
	}
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, errors.NewC("google: invalid state parameter, not base64 encoded", codes.InvalidArgument)
	}
	var state oauthState
	if err := json.Unmarshal(b, &state); err != nil {
		return nil, errors.NewC("google: invalid state parameter, json decode failed", codes.InvalidArgument)
	}
	if state.TimeStamp.Add(stateExpiration).Before(time.Now()) {
		return nil, errors.NewC("google: state parameter has expired", codes.InvalidArgument)
	}

	actual, err := hex.DecodeString(state.Signature)
	if err != nil {
		return nil, errors.NewC("google: state parameter has invalid signature", codes.InvalidArgument)
	}
	state.Signature = ""
	expected, _ := hex.DecodeString(a.sign(&state))
	if !hmac.Equal(actual, expected) {
		return nil, errors.NewC("google: state parameter has invalid signature", codes.InvalidArgument)
	}
	return &state, nil
}
