// Package aggregator merges every registered provider into one
// timeline, applying privacy rules and resolving raw sender
// identifiers to display names.
package aggregator

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/memorylane/memorylane/internal/model"
	"github.com/memorylane/memorylane/internal/privacy"
	"github.com/memorylane/memorylane/internal/profile"
	"github.com/memorylane/memorylane/internal/provider"
)

// Aggregator fans queries out over its providers. It is explicitly
// constructed with everything it needs; there is no package-level
// instance.
type Aggregator struct {
	providers []provider.Provider
	byName    map[string]provider.Provider
	profiles  *profile.Resolver
	privacy   *privacy.Filter
	log       zerolog.Logger
}

func New(providers []provider.Provider, profiles *profile.Resolver, filter *privacy.Filter, log zerolog.Logger) *Aggregator {
	byName := make(map[string]provider.Provider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	return &Aggregator{
		providers: providers,
		byName:    byName,
		profiles:  profiles,
		privacy:   filter,
		log:       log.With().Str("component", "aggregator").Logger(),
	}
}

// Providers returns the registered provider names.
func (a *Aggregator) Providers() []string {
	names := make([]string, 0, len(a.providers))
	for _, p := range a.providers {
		names = append(names, p.Name())
	}
	sort.Strings(names)
	return names
}

// ProviderAvailability reports each provider's working flag without
// probing spans.
func (a *Aggregator) ProviderAvailability(context.Context) map[string]bool {
	out := make(map[string]bool, len(a.providers))
	for _, p := range a.providers {
		out[p.Name()] = p.IsWorking()
	}
	return out
}

// selectProviders narrows the registry to the requested names; an
// empty request means all. Unknown names are an error rather than a
// silent empty timeline.
func (a *Aggregator) selectProviders(names []string) ([]provider.Provider, error) {
	if len(names) == 0 {
		return a.providers, nil
	}
	selected := make([]provider.Provider, 0, len(names))
	for _, name := range names {
		p, ok := a.byName[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, fmt.Errorf("%w: unknown provider %q", model.ErrValidation, name)
		}
		selected = append(selected, p)
	}
	return selected, nil
}

// EventsForDates collects every event in the query window across the
// selected providers. The first provider error fails the whole call;
// availability problems never surface here because providers flag
// themselves down and return empty instead.
func (a *Aggregator) EventsForDates(ctx context.Context, q provider.Query, providerNames []string) ([]model.Message, error) {
	selected, err := a.selectProviders(providerNames)
	if err != nil {
		return nil, err
	}
	if _, _, err := q.Bounds(); err != nil {
		return nil, err
	}

	results := make([][]model.Message, len(selected))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range selected {
		g.Go(func() error {
			msgs, err := p.Fetch(gctx, q)
			if err != nil {
				return fmt.Errorf("%s: %w", p.Name(), err)
			}
			results[i] = msgs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var merged []model.Message
	hidden := 0
	for _, msgs := range results {
		for _, m := range msgs {
			if a.privacy != nil && a.privacy.Hidden(m) {
				hidden++
				continue
			}
			merged = append(merged, a.resolveSender(m))
		}
	}
	provider.SortMessages(merged)

	a.log.Debug().Int("events", len(merged)).Int("hidden", hidden).Msg("timeline assembled")
	return merged, nil
}

// resolveSender rewrites the raw sender identifier to a display name
// when the registry knows it. Unknown senders keep their raw form.
func (a *Aggregator) resolveSender(m model.Message) model.Message {
	if a.profiles == nil || m.Sender == "" || m.Sender == model.SystemSender {
		return m
	}
	if name, ok := a.profiles.DisplayName(m.Sender); ok {
		m.Sender = name
	}
	return m
}

// MessagesBySender groups the window's events by resolved sender,
// dropping system messages. When textOnly is set, media-only events
// are excluded too.
func (a *Aggregator) MessagesBySender(ctx context.Context, q provider.Query, providerNames []string, textOnly bool) (map[string][]model.Message, error) {
	events, err := a.EventsForDates(ctx, q, providerNames)
	if err != nil {
		return nil, err
	}

	grouped := make(map[string][]model.Message)
	for _, m := range events {
		if m.Sender == "" || m.Sender == model.SystemSender {
			continue
		}
		if textOnly && m.Media == model.MediaNonText {
			continue
		}
		grouped[m.Sender] = append(grouped[m.Sender], m)
	}
	return grouped, nil
}

// ProviderStatus reports one provider's availability and data span.
type ProviderStatus struct {
	Name    string      `json:"name"`
	Working bool        `json:"working"`
	Start   *model.Date `json:"start,omitempty"`
	End     *model.Date `json:"end,omitempty"`
}

// Status surveys all providers. Unlike the fetch path, a failing Span
// degrades to "not working" for that provider instead of failing the
// survey.
func (a *Aggregator) Status(ctx context.Context) []ProviderStatus {
	statuses := make([]ProviderStatus, len(a.providers))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range a.providers {
		g.Go(func() error {
			st := ProviderStatus{Name: p.Name(), Working: p.IsWorking()}
			if st.Working {
				start, end, err := p.Span(gctx)
				if err != nil {
					a.log.Warn().Err(err).Str("provider", p.Name()).Msg("span probe failed")
					st.Working = false
				} else {
					st.Start, st.End = start, end
				}
			}
			statuses[i] = st
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses
}

// AssetFor routes an asset request to the owning provider.
func (a *Aggregator) AssetFor(ctx context.Context, providerName, assetID string) (*model.Asset, error) {
	p, ok := a.byName[strings.ToLower(providerName)]
	if !ok {
		return nil, fmt.Errorf("%w: unknown provider %q", model.ErrValidation, providerName)
	}
	return p.Asset(ctx, assetID)
}
