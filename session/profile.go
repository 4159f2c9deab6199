package session

import (
	"context"
	"fmt"

	"github.com/mindease/mindease/docstore"
	"github.com/mindease/mindease/errors"
	"github.com/mindease/mindease/identity"
	"github.com/mindease/mindease/logging"
	"github.com/mindease/mindease/metrics"
	"github.com/mindease/mindease/objectstore"
	"github.com/mindease/mindease/profile"
)

// UpdateProfile changes one field of the signed in user's profile. Name and
// email go through the provider as well as the profile document; the password
// only goes to the provider. Other fields are merged into the document,
// leaving the rest untouched, and the profile is read back afterwards.
func (m *Manager) UpdateProfile(ctx context.Context, field profile.Field, value string) error {
	m.resetMessages()
	s, werr := m.writable()
	if werr != nil {
		return m.fail(werr)
	}
	if !field.IsEditable() {
		return m.fail(errors.Mark(ErrInvalidField, 0).Append(string(field)))
	}

	failed := fmt.Sprintf("Failed to update %s.", field)
	var providerErr error
	switch field {
	case profile.FieldName:
		providerErr = m.provider.UpdateDisplayName(ctx, value)
	case profile.FieldEmail:
		providerErr = m.provider.UpdateEmail(ctx, value)
	case profile.FieldPassword:
		providerErr = m.provider.UpdatePassword(ctx, value)
	}
	if providerErr != nil {
		logging.Warnw(ctx, "session: provider rejected profile update", "field", field, "error", providerErr)
		if errors.Is(providerErr, identity.ErrRequiresRecentLogin) {
			return m.fail(mapError(ErrRequiresRecentLogin, providerErr))
		}
		return m.fail(withMessage(ErrUpdateFailed, providerErr, failed))
	}

	msg := capitalize(string(field)) + " updated successfully."
	key, stored := field.DocumentKey()
	if !stored {
		m.succeed(msg)
		return nil
	}

	uid := s.Identity.Subject
	if err := m.profiles.Merge(ctx, uid, docstore.Document{key: value}); err != nil {
		return m.fail(withMessage(ErrUpdateFailed, err, failed))
	}
	err := m.refresh(ctx, s.Identity, func(id *identity.Identity) {
		switch field {
		case profile.FieldName:
			id.Name = value
		case profile.FieldEmail:
			id.Email = value
		}
	})
	if err != nil {
		return m.fail(withMessage(ErrUpdateFailed, err, failed))
	}
	m.succeed(msg)
	return nil
}

// UploadAvatar stores f and makes it the user's avatar. The previous avatar
// object is deleted.
func (m *Manager) UploadAvatar(ctx context.Context, f objectstore.File) error {
	m.resetMessages()
	s := m.State()
	if s.Identity == nil {
		return m.fail(errors.Mark(ErrUnauthenticated, 0))
	}
	if err := objectstore.ValidateType(f, m.allowedTypes); err != nil {
		logging.Infow(ctx, "session: avatar rejected", "name", f.Name, "type", f.ContentType, "error", err)
		m.metrics.AvatarUpload(metrics.OutcomeRejected)
		return m.fail(mapError(ErrUnsupportedFileType, nil).Append(err.Error()))
	}
	s, werr := m.writable()
	if werr != nil {
		return m.fail(werr)
	}

	uid := s.Identity.Subject
	p := objectstore.AvatarPath(uid, f.Name)
	addr, err := m.objects.Upload(ctx, p, f.Data, f.ContentType)
	if err != nil {
		m.metrics.AvatarUpload(metrics.OutcomeError)
		return m.fail(withMessage(ErrAvatarFailed, err, "Failed to upload avatar."))
	}
	if err := m.profiles.Merge(ctx, uid, docstore.Document{"avatar": addr, "avatarPath": p}); err != nil {
		if derr := m.objects.Delete(ctx, p); derr != nil {
			logging.Warnw(ctx, "session: failed to remove orphaned avatar", "path", p, "error", derr)
		}
		m.metrics.AvatarUpload(metrics.OutcomeError)
		return m.fail(withMessage(ErrAvatarFailed, err, "Failed to upload avatar."))
	}
	if s.Profile != nil && s.Profile.AvatarPath != "" && s.Profile.AvatarPath != p {
		m.deleteObject(ctx, s.Profile.AvatarPath)
	}
	if err := m.refresh(ctx, s.Identity, nil); err != nil {
		logging.Warnw(ctx, "session: failed to reload profile after avatar upload", "error", err)
	}
	m.metrics.AvatarUpload(metrics.OutcomeOK)
	logging.Infow(ctx, "session: avatar uploaded", "uid", uid, "path", p)
	m.succeed("Avatar uploaded successfully!")
	return nil
}

// DeleteAvatar removes the user's avatar object and clears the avatar field.
func (m *Manager) DeleteAvatar(ctx context.Context) error {
	m.resetMessages()
	s := m.State()
	if s.Identity == nil {
		return m.fail(errors.Mark(ErrUnauthenticated, 0))
	}
	if s.Profile == nil || s.Profile.Avatar == "" {
		return m.fail(errors.Mark(ErrNoAvatar, 0))
	}
	s, werr := m.writable()
	if werr != nil {
		return m.fail(werr)
	}

	uid := s.Identity.Subject
	if p := s.Profile.AvatarPath; p != "" {
		if err := m.objects.Delete(ctx, p); err != nil && !errors.Is(err, objectstore.ErrNotFound) {
			return m.fail(withMessage(ErrAvatarFailed, err, "Failed to remove avatar."))
		}
	}
	if err := m.profiles.Merge(ctx, uid, docstore.Document{"avatar": "", "avatarPath": ""}); err != nil {
		return m.fail(withMessage(ErrAvatarFailed, err, "Failed to remove avatar."))
	}
	if err := m.refresh(ctx, s.Identity, nil); err != nil {
		logging.Warnw(ctx, "session: failed to reload profile after avatar removal", "error", err)
	}
	m.succeed("Avatar removed successfully.")
	return nil
}

// writable returns the state when the signed in user may write to their
// profile: signed in, not banned and online.
func (m *Manager) writable() (State, *errors.Error) {
	s := m.State()
	switch {
	case s.Identity == nil:
		return s, errors.Mark(ErrUnauthenticated, 1)
	case s.IsBanned:
		return s, errors.Mark(ErrUnauthorized, 1).WithPublicMessage("Your account has been restricted.")
	case !s.IsOnline:
		return s, errors.Mark(ErrOfflineNoCache, 1)
	}
	return s, nil
}

// refresh reads the profile back and applies it, provided the session that
// started the operation is still the current one. edit is applied to the
// current identity, for attributes the provider changed.
func (m *Manager) refresh(ctx context.Context, started *identity.Identity, edit func(*identity.Identity)) error {
	p, err := m.profiles.Get(ctx, started.Subject)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if !m.mounted || !identity.SameSession(m.state.Identity, started) {
		m.mu.Unlock()
		logging.Debugw(ctx, "session: discarding profile refresh for a replaced session", "uid", started.Subject)
		return nil
	}
	if edit != nil {
		edit(m.state.Identity)
	}
	p = mergeIdentity(p, m.state.Identity)
	m.state.Profile = p
	m.state.IsAdmin = p.HasAdminRole()
	m.state.FromCache = false
	if err := m.writeMirror(p); err != nil {
		logging.Warnw(ctx, "session: failed to cache profile", "error", err)
	} else {
		m.state.CachedProfile = cloneProfile(p)
	}
	m.changedLocked()
	m.mu.Unlock()
	m.flush()
	return nil
}

func (m *Manager) deleteObject(ctx context.Context, p string) {
	err := m.objects.Delete(ctx, p)
	if err != nil && !errors.Is(err, objectstore.ErrNotFound) {
		logging.Warnw(ctx, "session: failed to delete previous avatar", "path", p, "error", err)
	}
}
