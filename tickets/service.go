// Package tickets lets users contact support and lets admins triage the
// resulting tickets.
//
// Users may open a limited number of tickets per hour and per day, see only
// their own tickets and rate a ticket once it is resolved. Admins see every
// ticket, change statuses and read aggregate statistics. Responses from
// anyone other than the owner mark the ticket as having unread updates.
package tickets

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mindease/mindease/config"
	"github.com/mindease/mindease/errors"
	"github.com/mindease/mindease/eventbus"
	"github.com/mindease/mindease/logging"
	"github.com/mindease/mindease/metrics"
	"github.com/mindease/mindease/profile"
	"github.com/mindease/mindease/storage"
)

// TopicCreated is published with the new Ticket after Create.
const TopicCreated = "tickets.created"

func init() {
	config.RegisterKeys(
		config.KeyInfo{
			Key:         "tickets.perDay",
			Description: "Tickets a user may open in 24 hours, 0 disables the limit",
			Type:        "int",
			Default:     5,
		},
		config.KeyInfo{
			Key:         "tickets.perHour",
			Description: "Tickets a user may open in one hour, 0 disables the limit",
			Type:        "int",
			Default:     2,
		},
		config.KeyInfo{
			Key:         "tickets.highPriorityPerDay",
			Description: "High priority tickets a user may open in 24 hours, 0 disables the limit",
			Type:        "int",
			Default:     2,
		},
	)
}

// Roles reports the stored role and ban flags of a user.
// *profile.Repository satisfies it.
type Roles interface {
	Status(ctx context.Context, uid string) (profile.Status, error)
}

// Option configures a Service.
type Option func(*Service)

// WithLimits overrides the configured rate limits.
func WithLimits(l Limits) Option {
	return func(s *Service) {
		s.limits = l
	}
}

// WithEventBus publishes ticket events to bus.
func WithEventBus(bus eventbus.EventBus) Option {
	return func(s *Service) {
		s.bus = bus
	}
}

// WithMetrics records ticket counters in m.
func WithMetrics(m *metrics.Session) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithRoles makes the service re-read the caller's admin and ban flags
// before every operation instead of trusting the Actor. Without it the Actor
// is taken as given.
func WithRoles(r Roles) Option {
	return func(s *Service) {
		s.roles = r
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// Service manages support tickets in a storage.Store.
type Service struct {
	store   storage.Store
	limits  Limits
	bus     eventbus.EventBus
	metrics *metrics.Session
	roles   Roles
	now     func() time.Time

	// Serializes the rate limit check with the insert.
	createMu sync.Mutex
}

// New returns a service storing tickets in store.
func New(ctx context.Context, store storage.Store, opts ...Option) (*Service, error) {
	config.EnsureDefaults()
	s := &Service{
		store: store,
		limits: Limits{
			PerDay:             config.Int("tickets.perDay"),
			PerHour:            config.Int("tickets.perHour"),
			HighPriorityPerDay: config.Int("tickets.highPriorityPerDay"),
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := storage.InitModels(ctx, store, Ticket{}); err != nil {
		return nil, err
	}
	return s, nil
}

// Create opens a ticket for the actor.
func (s *Service) Create(ctx context.Context, actor Actor, in Input) (*Ticket, error) {
	t, err := s.create(ctx, actor, in)
	switch {
	case err == nil:
		s.metrics.TicketCreated(metrics.OutcomeOK)
	case errors.Is(err, ErrRateLimited), errors.Is(err, ErrBanned), errors.Is(err, ErrInvalidTicket):
		s.metrics.TicketCreated(metrics.OutcomeRejected)
	default:
		s.metrics.TicketCreated(metrics.OutcomeError)
	}
	return t, err
}

func (s *Service) create(ctx context.Context, actor Actor, in Input) (*Ticket, error) {
	actor, err := s.verify(ctx, actor)
	if err != nil {
		return nil, err
	}
	if actor.IsBanned {
		return nil, errors.Mark(ErrBanned, 0)
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	s.createMu.Lock()
	defer s.createMu.Unlock()

	recent, err := s.owned(ctx, actor.UID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if _, err := s.limits.check(recent, in.Priority, now); err != nil {
		logging.Infow(ctx, "tickets: rate limited", "uid", actor.UID, "error", err)
		return nil, err
	}

	t := &Ticket{
		ID:          uuid.NewString(),
		UserID:      actor.UID,
		UserEmail:   actor.Email,
		Subject:     in.Subject,
		Message:     in.Message,
		Category:    in.Category,
		Priority:    in.Priority,
		Status:      StatusOpen,
		CreatedAt:   now,
		LastUpdated: now,
	}
	if err := s.store.Create(ctx, t); err != nil {
		return nil, errors.WrapPrefix(err, "tickets: create failed", 0)
	}
	logging.Infow(ctx, "tickets: created", "id", t.ID, "uid", actor.UID, "priority", t.Priority)
	if s.bus != nil {
		s.bus.Publish(TopicCreated, *t)
	}
	return t, nil
}

// Quota returns how many more tickets the actor may open right now.
func (s *Service) Quota(ctx context.Context, actor Actor) (Remaining, error) {
	if actor.UID == "" {
		return Remaining{}, errors.Mark(ErrUnauthenticated, 0)
	}
	recent, err := s.owned(ctx, actor.UID)
	if err != nil {
		return Remaining{}, err
	}
	r, err := s.limits.check(recent, PriorityNormal, s.now().UTC())
	if err != nil {
		return Remaining{}, err
	}
	return r, nil
}

// List returns the tickets visible to the actor, newest first. Admins see
// every ticket.
func (s *Service) List(ctx context.Context, actor Actor) ([]Ticket, error) {
	actor, err := s.verify(ctx, actor)
	if err != nil {
		return nil, err
	}
	var out []Ticket
	if actor.IsAdmin {
		err = s.store.List(ctx, &out, Ticket{})
		if err != nil {
			err = errors.WrapPrefix(err, "tickets: list failed", 0)
		}
	} else {
		out, err = s.owned(ctx, actor.UID)
	}
	if err != nil {
		return nil, err
	}
	newestFirst(out)
	return out, nil
}

// Notifications returns the actor's tickets with unread responses, most
// recently updated first.
func (s *Service) Notifications(ctx context.Context, actor Actor) ([]Ticket, error) {
	if actor.UID == "" {
		return nil, errors.Mark(ErrUnauthenticated, 0)
	}
	var out []Ticket
	if err := s.store.List(ctx, &out, Ticket{UserID: actor.UID, Unread: true}); err != nil {
		return nil, errors.WrapPrefix(err, "tickets: list failed", 0)
	}
	slices.SortFunc(out, func(a, b Ticket) int {
		return b.LastUpdated.Compare(a.LastUpdated)
	})
	return out, nil
}

// MarkRead clears the unread flag on one of the actor's tickets.
func (s *Service) MarkRead(ctx context.Context, actor Actor, id string) error {
	return s.modify(ctx, actor, id, ownerOnly, func(_ Actor, t *Ticket) error {
		t.Unread = false
		return nil
	})
}

// UpdateStatus moves a ticket to status. Only admins may change statuses.
func (s *Service) UpdateStatus(ctx context.Context, actor Actor, id string, status Status) error {
	if !status.Valid() {
		return errors.Mark(ErrInvalidTicket, 0).Append("status " + string(status))
	}
	return s.modify(ctx, actor, id, adminOnly, func(_ Actor, t *Ticket) error {
		t.Status = status
		t.LastUpdated = s.now().UTC()
		return nil
	})
}

// AddResponse appends a response to a ticket and optionally changes its
// status. Admins and the ticket owner may respond; only admins may change the
// status.
func (s *Service) AddResponse(ctx context.Context, actor Actor, id, text string, status Status) error {
	if text == "" {
		return errors.Mark(ErrInvalidTicket, 0).Append("empty response")
	}
	if status != "" && !status.Valid() {
		return errors.Mark(ErrInvalidTicket, 0).Append("status " + string(status))
	}
	return s.modify(ctx, actor, id, adminOrOwner, func(actor Actor, t *Ticket) error {
		if status != "" && !actor.IsAdmin {
			return errors.Mark(ErrForbidden, 0)
		}
		now := s.now().UTC()
		t.Updates = append(t.Updates, Update{
			Text:      text,
			UserID:    actor.UID,
			UserEmail: actor.Email,
			Timestamp: now,
		})
		if status != "" {
			t.Status = status
		}
		if actor.UID != t.UserID {
			t.Unread = true
		}
		t.LastUpdated = now
		return nil
	})
}

// SetSatisfaction records the owner's rating, from 1 to 5, of a resolved
// ticket.
func (s *Service) SetSatisfaction(ctx context.Context, actor Actor, id string, rating int) error {
	if rating < 1 || rating > 5 {
		return errors.Mark(ErrInvalidTicket, 0).
			Append("rating out of range").
			WithPublicMessage("Please choose a rating from 1 to 5.")
	}
	return s.modify(ctx, actor, id, ownerOnly, func(_ Actor, t *Ticket) error {
		if t.Status != StatusResolved {
			return errors.Mark(ErrNotResolved, 0)
		}
		t.Satisfaction = rating
		t.LastUpdated = s.now().UTC()
		return nil
	})
}

type access int

const (
	ownerOnly access = iota
	adminOnly
	adminOrOwner
)

func (a access) allows(actor Actor, t *Ticket) bool {
	switch a {
	case ownerOnly:
		return actor.UID == t.UserID
	case adminOnly:
		return actor.IsAdmin
	default:
		return actor.IsAdmin || actor.UID == t.UserID
	}
}

// modify reads, checks, mutates and writes back one ticket.
func (s *Service) modify(ctx context.Context, actor Actor, id string, a access, fn func(Actor, *Ticket) error) error {
	actor, err := s.verify(ctx, actor)
	if err != nil {
		return err
	}
	if actor.IsBanned {
		return errors.Mark(ErrBanned, 0)
	}
	var t Ticket
	err = s.store.Read(ctx, id, &t)
	if errors.Is(err, storage.ErrNotFound) {
		return errors.Mark(ErrNotFound, 0).Append(id)
	}
	if err != nil {
		return errors.WrapPrefix(err, "tickets: read failed", 0)
	}
	if !a.allows(actor, &t) {
		return errors.Mark(ErrForbidden, 0)
	}
	if err := fn(actor, &t); err != nil {
		return err
	}
	if err := s.store.Update(ctx, t); err != nil {
		return errors.WrapPrefix(err, "tickets: update failed", 0)
	}
	return nil
}

// verify rejects anonymous actors and, with WithRoles, replaces the actor's
// admin and ban flags with the stored ones. Callers fill Actor from local
// session state, which is not a security boundary.
func (s *Service) verify(ctx context.Context, actor Actor) (Actor, error) {
	if actor.UID == "" {
		return actor, errors.Mark(ErrUnauthenticated, 0)
	}
	if s.roles == nil {
		return actor, nil
	}
	st, err := s.roles.Status(ctx, actor.UID)
	if err != nil {
		return actor, errors.WrapPrefix(err, "tickets: role lookup failed", 0)
	}
	if actor.IsAdmin && !st.IsAdmin {
		logging.Warnw(ctx, "tickets: stored role disagrees with caller", "uid", actor.UID)
	}
	actor.IsAdmin, actor.IsBanned = st.IsAdmin, st.IsBanned
	return actor, nil
}

func (s *Service) owned(ctx context.Context, uid string) ([]Ticket, error) {
	var out []Ticket
	if err := s.store.List(ctx, &out, Ticket{UserID: uid}); err != nil {
		return nil, errors.WrapPrefix(err, "tickets: list failed", 0)
	}
	return out, nil
}

func newestFirst(ts []Ticket) {
	slices.SortStableFunc(ts, func(a, b Ticket) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
}
