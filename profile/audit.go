package profile

import (
	"context"
	"time"

	"github.com/mindease/mindease/docstore"
)

// Audit actions.
const (
	ActionBanned    = "user_banned"
	ActionUnbanned  = "user_unbanned"
	ActionMonitored = "user_monitored"
)

// AuditEntry records an administrative action against a user.
type AuditEntry struct {
	Action       string         `json:"action"`
	TargetUserID string         `json:"targetUserId"`
	AdminID      string         `json:"adminId"`
	Timestamp    time.Time      `json:"timestamp"`
	Details      map[string]any `json:"details,omitempty"`
}

// Audit appends an entry to the admin audit log and returns its id.
func (r *Repository) Audit(ctx context.Context, e AuditEntry) (string, error) {
	if e.Timestamp.IsZero() {
		e.Timestamp = r.now().UTC()
	}
	doc, err := docstore.Encode(e)
	if err != nil {
		return "", err
	}
	return r.docs.Add(ctx, AuditCollection, doc)
}

// AuditLog returns every audit entry.
func (r *Repository) AuditLog(ctx context.Context) ([]AuditEntry, error) {
	snaps, err := r.docs.List(ctx, AuditCollection)
	if err != nil {
		return nil, err
	}
	out := make([]AuditEntry, 0, len(snaps))
	for _, s := range snaps {
		var e AuditEntry
		if err := docstore.Decode(s.Data, &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
