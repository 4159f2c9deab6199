package session

import (
	"context"

	"github.com/mindease/mindease/errors"
	"github.com/mindease/mindease/logging"
	"github.com/mindease/mindease/metrics"
	"github.com/mindease/mindease/profile"
)

type moderation struct {
	action  string
	topic   string
	success string
	apply   func(ctx context.Context, r *profile.Repository, uid, by string) error
}

var (
	banAction = moderation{
		action:  profile.ActionBanned,
		topic:   TopicUserBanned,
		success: "User banned successfully",
		apply: func(ctx context.Context, r *profile.Repository, uid, by string) error {
			return r.SetBan(ctx, uid, true, by)
		},
	}
	unbanAction = moderation{
		action:  profile.ActionUnbanned,
		topic:   TopicUserUnbanned,
		success: "User unbanned successfully",
		apply: func(ctx context.Context, r *profile.Repository, uid, by string) error {
			return r.SetBan(ctx, uid, false, by)
		},
	}
	monitorAction = moderation{
		action:  profile.ActionMonitored,
		topic:   TopicUserMonitored,
		success: "User added to monitoring list",
		apply: func(ctx context.Context, r *profile.Repository, uid, by string) error {
			return r.SetMonitored(ctx, uid, by)
		},
	}
)

// BanUser bans uid. The caller must be an admin and may not target themselves
// or another admin.
func (m *Manager) BanUser(ctx context.Context, uid string) error {
	return m.moderate(ctx, uid, banAction)
}

// UnbanUser lifts the ban on uid, with the same rules as BanUser.
func (m *Manager) UnbanUser(ctx context.Context, uid string) error {
	return m.moderate(ctx, uid, unbanAction)
}

// MonitorUser flags uid for moderation review, with the same rules as BanUser.
func (m *Manager) MonitorUser(ctx context.Context, uid string) error {
	return m.moderate(ctx, uid, monitorAction)
}

func (m *Manager) moderate(ctx context.Context, uid string, act moderation) error {
	m.resetMessages()
	if rerr := m.authorizeModeration(ctx, uid); rerr != nil {
		m.metrics.Moderation(act.action, metrics.OutcomeRejected)
		logging.Warnw(ctx, "session: moderation rejected", "action", act.action, "target", uid, "error", rerr)
		return m.fail(rerr)
	}
	admin := m.State().Identity.Subject

	if err := act.apply(ctx, m.profiles, uid, admin); err != nil {
		m.metrics.Moderation(act.action, metrics.OutcomeError)
		if errors.Is(err, profile.ErrNotFound) {
			return m.fail(mapError(ErrTargetNotFound, nil).Append(uid))
		}
		return m.fail(withMessage(ErrModerationFailed, err, "Failed to "+verb(act.action)+" user"))
	}

	entry := profile.AuditEntry{
		Action:       act.action,
		TargetUserID: uid,
		AdminID:      admin,
		Timestamp:    m.now().UTC(),
	}
	if act.action != profile.ActionMonitored {
		entry.Details = map[string]any{"reason": "Administrative action"}
	}
	auditID, err := m.profiles.Audit(ctx, entry)
	if err != nil {
		logging.Errorw(ctx, "session: failed to write audit entry", "action", act.action, "target", uid, "error", err)
	}

	logging.Infow(ctx, "session: moderation applied", "action", act.action, "target", uid, "admin", admin)
	m.metrics.Moderation(act.action, metrics.OutcomeOK)
	m.publish(act.topic, ModerationEvent{
		Action:    act.action,
		TargetUID: uid,
		AdminUID:  admin,
		AuditID:   auditID,
		At:        entry.Timestamp,
	})
	m.succeed(act.success)
	return nil
}

// authorizeModeration checks the caller against local state first, then
// verifies the caller's role and the target against the document store, since
// the local flag alone is not a security boundary.
func (m *Manager) authorizeModeration(ctx context.Context, uid string) *errors.Error {
	s := m.State()
	switch {
	case s.Identity == nil:
		return errors.Mark(ErrUnauthenticated, 0)
	case !s.IsAdmin || s.IsBanned:
		return errors.Mark(ErrUnauthorized, 0)
	case !s.IsOnline:
		return errors.Mark(ErrOfflineNoCache, 0)
	case uid == "":
		return errors.Mark(ErrTargetNotFound, 0)
	case uid == s.Identity.Subject:
		return errors.Mark(ErrInvalidTarget, 0).WithPublicMessage("You cannot perform this action on your own account.")
	}

	caller, err := m.profiles.Get(ctx, s.Identity.Subject)
	if err != nil && !errors.Is(err, profile.ErrNotFound) {
		return withMessage(ErrModerationFailed, err, "Failed to verify admin privileges.")
	}
	if caller == nil || !caller.HasAdminRole() || caller.IsBanned {
		return errors.Mark(ErrUnauthorized, 0)
	}

	target, err := m.profiles.Get(ctx, uid)
	if errors.Is(err, profile.ErrNotFound) {
		return mapError(ErrTargetNotFound, nil).Append(uid)
	}
	if err != nil {
		return withMessage(ErrModerationFailed, err, "Failed to load target user.")
	}
	if target.HasAdminRole() {
		return errors.Mark(ErrInvalidTarget, 0)
	}
	return nil
}

func verb(action string) string {
	switch action {
	case profile.ActionBanned:
		return "ban"
	case profile.ActionUnbanned:
		return "unban"
	default:
		return "monitor"
	}
}
