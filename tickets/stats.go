package tickets

import (
	"context"
	"math"
	"time"

	"github.com/mindease/mindease/errors"
)

// Stats summarizes tickets for admins.
type Stats struct {
	Total      int
	ByStatus   map[Status]int
	ByCategory map[string]int
	ByPriority map[Priority]int
	// Mean hours from creation to the first response, over tickets that have
	// one, rounded.
	AvgResponseHours int
	// Mean rating of resolved tickets as a percentage of the best rating,
	// rounded.
	Satisfaction int
	// Share of resolved tickets, as a rounded percentage.
	ResolutionRate int
	// Tickets per creation day, keyed YYYY-MM-DD in UTC.
	Daily map[string]int
}

// Stats aggregates every ticket created within [from, to]. Zero times leave
// that end of the range open.
func (s *Service) Stats(ctx context.Context, actor Actor, from, to time.Time) (*Stats, error) {
	actor, err := s.verify(ctx, actor)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin {
		return nil, errors.Mark(ErrForbidden, 0)
	}
	var all []Ticket
	if err := s.store.List(ctx, &all, Ticket{}); err != nil {
		return nil, errors.WrapPrefix(err, "tickets: list failed", 0)
	}
	in := all[:0]
	for _, t := range all {
		if !from.IsZero() && t.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && t.CreatedAt.After(to) {
			continue
		}
		in = append(in, t)
	}
	return summarize(in), nil
}

func summarize(ts []Ticket) *Stats {
	st := &Stats{
		Total:      len(ts),
		ByStatus:   map[Status]int{},
		ByCategory: map[string]int{},
		ByPriority: map[Priority]int{},
		Daily:      map[string]int{},
	}
	var (
		responded     int
		responseHours float64
		rated         int
		ratingSum     int
	)
	for _, t := range ts {
		st.ByStatus[t.Status]++
		st.ByCategory[t.Category]++
		st.ByPriority[t.Priority]++
		st.Daily[t.CreatedAt.UTC().Format(time.DateOnly)]++

		if first, ok := t.FirstResponse(); ok {
			responded++
			responseHours += first.Sub(t.CreatedAt).Hours()
		}
		if t.Satisfaction > 0 && t.Status == StatusResolved {
			rated++
			ratingSum += t.Satisfaction
		}
	}
	if responded > 0 {
		st.AvgResponseHours = int(math.Round(responseHours / float64(responded)))
	}
	if rated > 0 {
		st.Satisfaction = int(math.Round(float64(ratingSum) / float64(rated*5) * 100))
	}
	if st.Total > 0 {
		st.ResolutionRate = int(math.Round(float64(st.ByStatus[StatusResolved]) / float64(st.Total) * 100))
	}
	return st
}
