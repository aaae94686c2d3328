// Package provider defines the contract every timeline source adapter
// implements, plus small helpers shared by the adapters.
package provider

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync/atomic"
	"time"

	"github.com/memorylane/memorylane/internal/model"
)

// Query selects a slice of a provider's history. Exactly one of OnDate or
// the (StartDate, EndDate) pair must be set.
type Query struct {
	OnDate    *model.Date
	StartDate *model.Date
	EndDate   *model.Date

	// IgnoreGroups drops messages from conversations with more than one
	// non-owner participant.
	IgnoreGroups bool

	// Senders restricts results to messages whose sender matches any
	// entry (case-insensitive substring, display name, or regex).
	Senders []string

	// Search restricts results to messages whose text matches. Providers
	// with no searchable text return empty when Search is set.
	Search *regexp.Regexp
}

// Bounds normalizes the query to an inclusive [start, end] day range.
func (q Query) Bounds() (start, end model.Date, err error) {
	switch {
	case q.OnDate != nil:
		if q.StartDate != nil || q.EndDate != nil {
			return start, end, fmt.Errorf("%w: on-date and date range are mutually exclusive", model.ErrValidation)
		}
		return *q.OnDate, *q.OnDate, nil
	case q.StartDate != nil && q.EndDate != nil:
		if q.EndDate.Before(*q.StartDate) {
			return start, end, fmt.Errorf("%w: end date %s before start date %s", model.ErrValidation, q.EndDate, q.StartDate)
		}
		return *q.StartDate, *q.EndDate, nil
	default:
		return start, end, fmt.Errorf("%w: either on-date or a full date range is required", model.ErrValidation)
	}
}

// Window returns the query bounds widened to full-day timestamps.
func (q Query) Window() (from, to time.Time, err error) {
	start, end, err := q.Bounds()
	if err != nil {
		return from, to, err
	}
	return start.Start(), end.End(), nil
}

// InBounds reports whether t's calendar day falls inside the query range.
func (q Query) InBounds(t time.Time) bool {
	start, end, err := q.Bounds()
	if err != nil {
		return false
	}
	d := model.DateOf(t)
	return !d.Before(start) && !d.After(end)
}

// MatchesText reports whether s satisfies the search filter; a query
// without a search pattern matches everything.
func (q Query) MatchesText(s string) bool {
	return q.Search == nil || q.Search.MatchString(s)
}

// SenderMatcher decides whether a raw sender identifier matches a
// requested sender entry. The profile registry implements it so that a
// registered identity regex can match provider-specific raw identifiers.
type SenderMatcher interface {
	MatchesSender(raw string, requested []string) bool
}

// Provider converts one backing store or API into the common Message
// stream.
type Provider interface {
	// Name is the stable identifier used in privacy rules, provider
	// selection, and asset URLs.
	Name() string

	// IsWorking is a cheap capability check; false means every other
	// method returns empty results without touching the backing store.
	IsWorking() bool

	// Fetch returns the messages selected by q, sorted ascending by
	// timestamp. A provider that has flagged itself unavailable returns
	// an empty slice, never an error.
	Fetch(ctx context.Context, q Query) ([]model.Message, error)

	// Span discovers the provider's available data range. Either bound
	// may be nil when the corpus is empty.
	Span(ctx context.Context) (start, end *model.Date, err error)

	// Asset resolves an opaque provider-scoped asset id to raw bytes and
	// a MIME type. Returns model.ErrNotFound when the id does not
	// resolve.
	Asset(ctx context.Context, assetID string) (*model.Asset, error)
}

// Status is a one-way availability flag. It starts working and is tripped
// permanently once a required backing resource is confirmed missing or
// unreachable; subsequent fetches short-circuit to empty results.
type Status struct {
	down atomic.Bool
}

func (s *Status) Working() bool { return !s.down.Load() }

// MarkBroken trips the flag. It is never reset for the process lifetime.
func (s *Status) MarkBroken() { s.down.Store(true) }

// SortMessages orders messages ascending by timestamp in place.
func SortMessages(msgs []model.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
}

// SpanFromFetch is the default Span implementation: fetch the whole
// corpus and take the min and max timestamps. Acceptable for small
// corpora; providers with a cheaper native query override it.
func SpanFromFetch(ctx context.Context, p Provider) (*model.Date, *model.Date, error) {
	epoch := model.Date{Year: 1970, Month: time.January, Day: 1}
	today := model.DateOf(time.Now())

	msgs, err := p.Fetch(ctx, Query{StartDate: &epoch, EndDate: &today})
	if err != nil {
		return nil, nil, err
	}
	if len(msgs) == 0 {
		return nil, nil, nil
	}
	start := model.DateOf(msgs[0].Timestamp)
	end := model.DateOf(msgs[len(msgs)-1].Timestamp)
	for _, m := range msgs {
		d := model.DateOf(m.Timestamp)
		start = model.MinDate(start, d)
		end = model.MaxDate(end, d)
	}
	return &start, &end, nil
}
