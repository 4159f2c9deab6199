package session

import (
	"github.com/mindease/mindease/identity"
	"github.com/mindease/mindease/profile"
)

// State is a snapshot of the session. Values returned by the Manager are
// copies and may be kept or modified freely.
type State struct {
	// Identity is the signed in user, nil when signed out.
	Identity *identity.Identity

	// Profile is the user's profile merged with identity details. It is nil
	// while signed out and for banned users.
	Profile *profile.Profile

	IsAdmin  bool
	IsBanned bool
	IsOnline bool

	// Loading is true while a reconciliation pass is running.
	Loading bool

	// CachedProfile is the last profile written to the local cache.
	CachedProfile *profile.Profile

	// FromCache is true when Profile came from the local cache rather than
	// the document store, either because the device is offline or the remote
	// read failed.
	FromCache bool
}

// IsAuthenticated reports whether a user is signed in. Banned users are still
// authenticated.
func (s State) IsAuthenticated() bool {
	return s.Identity != nil
}

func (s State) clone() State {
	s.Identity = cloneIdentity(s.Identity)
	s.Profile = cloneProfile(s.Profile)
	s.CachedProfile = cloneProfile(s.CachedProfile)
	return s
}

func cloneIdentity(id *identity.Identity) *identity.Identity {
	if id == nil {
		return nil
	}
	cp := *id
	return &cp
}

func cloneProfile(p *profile.Profile) *profile.Profile {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}

// mirror is the cached form of a profile. Profile.UID isn't serialized, so it
// is carried alongside.
type mirror struct {
	UID string `json:"uid"`
	profile.Profile
}

func (m *Manager) readMirror() *profile.Profile {
	var c mirror
	ok, err := m.cache.Get(cacheKey, &c)
	if err != nil || !ok || c.UID == "" {
		return nil
	}
	p := c.Profile
	p.UID = c.UID
	return &p
}

func (m *Manager) writeMirror(p *profile.Profile) error {
	return m.cache.Set(cacheKey, mirror{UID: p.UID, Profile: *p})
}
