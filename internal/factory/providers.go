// Package factory assembles the service's moving parts from config.
package factory

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/memorylane/memorylane/internal/aggregator"
	"github.com/memorylane/memorylane/internal/config"
	"github.com/memorylane/memorylane/internal/privacy"
	"github.com/memorylane/memorylane/internal/profile"
	"github.com/memorylane/memorylane/internal/provider"
	"github.com/memorylane/memorylane/internal/provider/diary"
	"github.com/memorylane/memorylane/internal/provider/gmaps"
	"github.com/memorylane/memorylane/internal/provider/gphotos"
	"github.com/memorylane/memorylane/internal/provider/hinge"
	"github.com/memorylane/memorylane/internal/provider/imessage"
	"github.com/memorylane/memorylane/internal/provider/immich"
	"github.com/memorylane/memorylane/internal/provider/instagram"
	"github.com/memorylane/memorylane/internal/provider/uber"
	"github.com/memorylane/memorylane/internal/provider/whatsapp"
)

// NewProviders constructs every enabled source adapter. Adapters with
// unavailable sources still construct; they mark themselves broken and
// report it through /api/status.
func NewProviders(cfg *config.Config, profiles *profile.Resolver, log zerolog.Logger) ([]provider.Provider, error) {
	zone := time.Local
	if cfg.TimeZone != "" && cfg.TimeZone != "Local" {
		var err error
		zone, err = time.LoadLocation(cfg.TimeZone)
		if err != nil {
			return nil, fmt.Errorf("load timezone %q: %w", cfg.TimeZone, err)
		}
	}

	all := []provider.Provider{
		whatsapp.New(cfg.WhatsAppDir, cfg.Owner, profiles, log),
		imessage.New(cfg.IMessageDir, cfg.Owner, profiles, log),
		instagram.New(cfg.InstagramDir, cfg.Owner, profiles, log),
		hinge.New(cfg.HingeDir, cfg.Owner, profiles, log),
		uber.New(cfg.UberDir, cfg.Owner, log),
		gmaps.New(cfg.GMapsDir, cfg.Owner, log),
		diary.New(cfg.DiaryDir, cfg.Owner, log),
		immich.New(cfg.ImmichURL, cfg.ImmichEmail, cfg.ImmichPassword, cfg.Owner, profiles, log),
		gphotos.New(cfg.GPhotosDir, cfg.Owner, zone, log),
	}

	enabled := cfg.EnabledProviders()
	if enabled == nil {
		return all, nil
	}

	byName := make(map[string]provider.Provider, len(all))
	for _, p := range all {
		byName[p.Name()] = p
	}
	selected := make([]provider.Provider, 0, len(enabled))
	for _, name := range enabled {
		p, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("unknown provider %q in MEMORYLANE_PROVIDERS", name)
		}
		selected = append(selected, p)
	}
	return selected, nil
}

// NewAggregator builds the full aggregation stack: profile registry,
// privacy filter, and the selected providers.
func NewAggregator(cfg *config.Config, log zerolog.Logger) (*aggregator.Aggregator, error) {
	profiles := profile.NewResolver(cfg.ProfilePath, log)

	filter, err := privacy.Load(cfg.PrivacyPath, cfg.PrivacyMode)
	if err != nil {
		return nil, fmt.Errorf("load privacy modes: %w", err)
	}

	providers, err := NewProviders(cfg, profiles, log)
	if err != nil {
		return nil, err
	}

	return aggregator.New(providers, profiles, filter, log), nil
}
