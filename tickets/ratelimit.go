package tickets

import (
	"fmt"
	"time"

	"github.com/mindease/mindease/errors"
)

// Limits bounds how many tickets one user may open.
type Limits struct {
	PerDay             int
	PerHour            int
	HighPriorityPerDay int
}

// LimitError reports which limit was hit and when it lifts.
type LimitError struct {
	Limit      string
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("tickets: %s limit reached, retry in %s", e.Limit, e.RetryAfter.Round(time.Second))
}

func (e *LimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// RetryAfter returns how long the caller has to wait when err is a rate limit.
func RetryAfter(err error) (time.Duration, bool) {
	var le *LimitError
	if errors.As(err, &le) {
		return le.RetryAfter, true
	}
	return 0, false
}

// Remaining is the quota left after a successful check.
type Remaining struct {
	Daily        int
	Hourly       int
	HighPriority int
}

// check counts the user's recent tickets against the limits. The high
// priority limit only applies when the new ticket is high priority. A zero
// limit disables the check.
func (l Limits) check(recent []Ticket, priority Priority, now time.Time) (Remaining, error) {
	dayAgo := now.Add(-24 * time.Hour)
	hourAgo := now.Add(-time.Hour)

	var daily, hourly, high []time.Time
	for _, t := range recent {
		if t.CreatedAt.Before(dayAgo) {
			continue
		}
		daily = append(daily, t.CreatedAt)
		if !t.CreatedAt.Before(hourAgo) {
			hourly = append(hourly, t.CreatedAt)
		}
		if t.Priority == PriorityHigh {
			high = append(high, t.CreatedAt)
		}
	}

	if l.PerDay > 0 && len(daily) >= l.PerDay {
		return Remaining{}, limited("daily", "Daily ticket limit reached. Please try again tomorrow.",
			daily, 24*time.Hour, now)
	}
	if l.PerHour > 0 && len(hourly) >= l.PerHour {
		return Remaining{}, limited("hourly", "Hourly ticket limit reached. Please try again later.",
			hourly, time.Hour, now)
	}
	if priority == PriorityHigh && l.HighPriorityPerDay > 0 && len(high) >= l.HighPriorityPerDay {
		return Remaining{}, limited("high priority",
			"Daily high-priority ticket limit reached. Please submit as normal priority or try again tomorrow.",
			high, 24*time.Hour, now)
	}
	return Remaining{
		Daily:        l.PerDay - len(daily),
		Hourly:       l.PerHour - len(hourly),
		HighPriority: l.HighPriorityPerDay - len(high),
	}, nil
}

// limited builds the error for a window. The window frees up a slot when its
// oldest ticket ages out.
func limited(name, message string, times []time.Time, window time.Duration, now time.Time) error {
	oldest := times[0]
	for _, t := range times[1:] {
		if t.Before(oldest) {
			oldest = t
		}
	}
	wait := max(oldest.Add(window).Sub(now), 0)
	return errors.WithPublicMessage(&LimitError{Limit: name, RetryAfter: wait}, message).
		WithCode(ErrRateLimited.Code())
}
