package tickets

import (
	"strings"
	"time"

	"github.com/mindease/mindease/errors"
	"google.golang.org/grpc/codes"
)

// Priority of a support ticket.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh:
		return true
	}
	return false
}

// Status of a support ticket.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in-progress"
	StatusResolved   Status = "resolved"
	StatusClosed     Status = "closed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusResolved, StatusClosed:
		return true
	}
	return false
}

// Ticket is a support request raised by a user.
type Ticket struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	UserEmail    string    `json:"userEmail"`
	Subject      string    `json:"subject"`
	Message      string    `json:"message"`
	Category     string    `json:"category,omitempty"`
	Priority     Priority  `json:"priority"`
	Status       Status    `json:"status"`
	Updates      []Update  `json:"updates,omitempty"`
	Satisfaction int       `json:"satisfaction,omitempty"`
	Unread       bool      `json:"hasUnreadUpdates"`
	CreatedAt    time.Time `json:"createdAt"`
	LastUpdated  time.Time `json:"lastUpdated"`
}

func (t Ticket) PK() string {
	return t.ID
}

func (Ticket) Name() string {
	return "support_tickets"
}

// FirstResponse returns the time of the first update, if any.
func (t *Ticket) FirstResponse() (time.Time, bool) {
	if len(t.Updates) == 0 {
		return time.Time{}, false
	}
	return t.Updates[0].Timestamp, true
}

// Update is a response appended to a ticket.
type Update struct {
	Text      string    `json:"text"`
	UserID    string    `json:"userId"`
	UserEmail string    `json:"userEmail"`
	Timestamp time.Time `json:"timestamp"`
}

// Input describes a new ticket.
type Input struct {
	Subject  string
	Message  string
	Category string
	Priority Priority
}

func (in *Input) validate() error {
	if in.Priority == "" {
		in.Priority = PriorityNormal
	}
	in.Subject = strings.TrimSpace(in.Subject)
	in.Message = strings.TrimSpace(in.Message)
	switch {
	case in.Subject == "" || in.Message == "" || in.Category == "":
		return errors.Mark(ErrInvalidTicket, 0)
	case !in.Priority.Valid():
		return errors.Mark(ErrInvalidTicket, 0).Append("priority " + string(in.Priority))
	}
	return nil
}

// Actor is the user acting on tickets.
type Actor struct {
	UID      string
	Email    string
	IsAdmin  bool
	IsBanned bool
}

var (
	// ErrUnauthenticated is returned when no actor is signed in.
	ErrUnauthenticated = errors.NewC("tickets: no authenticated user", codes.Unauthenticated).
				WithPublicMessage("You must be signed in to contact support.")

	// ErrForbidden is returned when the actor may not touch a ticket.
	ErrForbidden = errors.NewC("tickets: forbidden", codes.PermissionDenied).
			WithPublicMessage("You do not have access to this ticket.")

	// ErrBanned is returned when a banned actor opens a ticket.
	ErrBanned = errors.NewC("tickets: actor is banned", codes.PermissionDenied).
			WithPublicMessage("Your account has been restricted.")

	// ErrNotFound is returned for unknown ticket IDs.
	ErrNotFound = errors.NewC("tickets: ticket not found", codes.NotFound).
			WithPublicMessage("Ticket not found.")

	// ErrInvalidTicket is returned for malformed input.
	ErrInvalidTicket = errors.NewC("tickets: invalid ticket", codes.InvalidArgument).
				WithPublicMessage("Please fill in all required fields.")

	// ErrNotResolved is returned when rating a ticket that is not resolved.
	ErrNotResolved = errors.NewC("tickets: ticket is not resolved", codes.FailedPrecondition).
			WithPublicMessage("Only resolved tickets can be rated.")

	// ErrRateLimited is matched by every *LimitError.
	ErrRateLimited = errors.NewC("tickets: rate limited", codes.ResourceExhausted)
)
