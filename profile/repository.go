package profile

import (
	"context"
	"strings"
	"time"

	"github.com/mindease/mindease/docstore"
	"github.com/mindease/mindease/errors"
	"google.golang.org/grpc/codes"
)

const (
	// Collection holds one document per user, keyed by uid.
	Collection = "users"

	// AuditCollection records moderation actions.
	AuditCollection = "adminAuditLog"
)

// ErrNotFound is returned when a user has no profile document.
var ErrNotFound = errors.NewC("profile not found", codes.NotFound)

// Repository reads and writes profiles.
type Repository struct {
	docs docstore.Store
	now  func() time.Time
}

// RepositoryOption configures a Repository.
type RepositoryOption func(*Repository)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) RepositoryOption {
	return func(r *Repository) {
		r.now = now
	}
}

// NewRepository returns a repository over docs.
func NewRepository(docs docstore.Store, opts ...RepositoryOption) *Repository {
	r := &Repository{docs: docs, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Status is the result of the single read performed at the start of a
// reconciliation pass.
type Status struct {
	Exists   bool
	IsAdmin  bool
	IsBanned bool
	Profile  *Profile
}

// Get returns the profile for uid or ErrNotFound.
func (r *Repository) Get(ctx context.Context, uid string) (*Profile, error) {
	doc, err := r.docs.Get(ctx, Collection, uid)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, errors.Mark(ErrNotFound, 0).Append(uid)
	}
	if err != nil {
		return nil, err
	}
	return decode(uid, doc)
}

// Status reads the profile once and reports its role and ban flags. A missing
// document is not an error.
func (r *Repository) Status(ctx context.Context, uid string) (Status, error) {
	p, err := r.Get(ctx, uid)
	if errors.Is(err, ErrNotFound) {
		return Status{}, nil
	}
	if err != nil {
		return Status{}, err
	}
	return Status{
		Exists:   true,
		IsAdmin:  p.HasAdminRole(),
		IsBanned: p.IsBanned,
		Profile:  p,
	}, nil
}

// Create writes p as the profile for uid, replacing anything there.
func (r *Repository) Create(ctx context.Context, uid string, p Profile) (*Profile, error) {
	p.UID = uid
	if p.CreatedAt.IsZero() {
		p.CreatedAt = r.now().UTC()
	}
	doc, err := docstore.Encode(p)
	if err != nil {
		return nil, err
	}
	if err := r.docs.Set(ctx, Collection, uid, doc); err != nil {
		return nil, err
	}
	return &p, nil
}

// Merge writes fields into the profile, creating it when missing.
func (r *Repository) Merge(ctx context.Context, uid string, fields docstore.Document) error {
	return r.docs.Set(ctx, Collection, uid, fields, docstore.Merge())
}

// SetBan applies or lifts a ban, recording who did it. The profile must exist.
func (r *Repository) SetBan(ctx context.Context, uid string, banned bool, by string) error {
	now := r.now().UTC()
	fields := docstore.Document{
		"isBanned":           banned,
		"bannedAt":           nil,
		"banReason":          nil,
		"updatedBy":          by,
		"updatedAt":          now,
		"chatRestricted":     banned,
		"requiresModeration": banned,
		"restrictionReason":  nil,
	}
	if banned {
		fields["bannedAt"] = now
		fields["banReason"] = "Administrative action"
		fields["restrictionReason"] = "Account banned by administrator"
	}
	return r.update(ctx, uid, fields)
}

// SetMonitored flags the user for moderation review. The profile must exist.
func (r *Repository) SetMonitored(ctx context.Context, uid, by string) error {
	now := r.now().UTC()
	return r.update(ctx, uid, docstore.Document{
		"isMonitored":        true,
		"monitoredSince":     now,
		"monitoredBy":        by,
		"requiresModeration": true,
		"updatedAt":          now,
		"updatedBy":          by,
	})
}

// GrantAdmin gives the user admin privileges. The profile must exist.
func (r *Repository) GrantAdmin(ctx context.Context, uid string) error {
	now := r.now().UTC()
	return r.update(ctx, uid, docstore.Document{
		"role":       RoleAdmin,
		"isAdmin":    true,
		"adminSince": now,
		"updatedAt":  now,
	})
}

// FindByEmail returns the first profile with the given email, compared
// case-insensitively.
func (r *Repository) FindByEmail(ctx context.Context, email string) (*Profile, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range all {
		if strings.EqualFold(p.Email, email) {
			return p, nil
		}
	}
	return nil, errors.Mark(ErrNotFound, 0).Append(email)
}

// List returns every profile ordered by uid.
func (r *Repository) List(ctx context.Context) ([]*Profile, error) {
	snaps, err := r.docs.List(ctx, Collection)
	if err != nil {
		return nil, err
	}
	out := make([]*Profile, 0, len(snaps))
	for _, s := range snaps {
		p, err := decode(s.ID, s.Data)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (r *Repository) update(ctx context.Context, uid string, fields docstore.Document) error {
	err := r.docs.Update(ctx, Collection, uid, fields)
	if errors.Is(err, docstore.ErrNotFound) {
		return errors.Mark(ErrNotFound, 0).Append(uid)
	}
	return err
}

func decode(uid string, doc docstore.Document) (*Profile, error) {
	var p Profile
	if err := docstore.Decode(doc, &p); err != nil {
		return nil, errors.WrapPrefix(err, "profile "+uid, 0)
	}
	p.UID = uid
	return &p, nil
}
