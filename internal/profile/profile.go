// Package profile maps raw, provider-specific sender identifiers to
// canonical display names via a registered pattern per person.
package profile

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Profile is one registered identity. NameRegex matches the raw
// identifiers the providers emit for this person (phone number variants,
// export display names).
type Profile struct {
	DisplayName     string          `json:"display_name"`
	NameRegex       string          `json:"name_regex"`
	Photo           string          `json:"dp,omitempty"`
	ProviderDetails ProviderDetails `json:"provider_details,omitempty"`
}

// ProviderDetails carries per-provider identity hooks for a person.
type ProviderDetails struct {
	IMessage *IMessageDetails `json:"imessage,omitempty"`
	Immich   *ImmichDetails   `json:"immich,omitempty"`
	Hinge    *HingeDetails    `json:"hinge,omitempty"`
}

// IMessageDetails lists the chat identifiers (phone numbers, emails)
// belonging to the person in the message store.
type IMessageDetails struct {
	ChatIDs []string `json:"chat_ids,omitempty"`
}

// ImmichDetails holds the person id assigned by the Immich face index.
type ImmichDetails struct {
	PersonID string `json:"person_id,omitempty"`
}

// HingeDetails records the match timestamp that ties a Hinge conversation
// to the person, since the export itself carries no names.
type HingeDetails struct {
	MatchTime string `json:"match_time,omitempty"`
}

// Resolver is a read-through cache over the static profile registry.
// Entries are immutable for the process lifetime; positive and negative
// lookups are both cached unbounded (the identity set is small and
// static, no eviction is needed).
type Resolver struct {
	path string
	log  zerolog.Logger

	loadOnce sync.Once
	byName   map[string]*Profile
	patterns map[string]*regexp.Regexp

	mu       sync.Mutex
	resolved map[string]string
	unknown  map[string]struct{}
}

// NewResolver creates a resolver over the registry file at path. The file
// is loaded lazily on first use; a missing registry yields an empty
// resolver rather than an error.
func NewResolver(path string, log zerolog.Logger) *Resolver {
	return &Resolver{
		path:     path,
		log:      log,
		resolved: make(map[string]string),
		unknown:  make(map[string]struct{}),
	}
}

func (r *Resolver) load() {
	r.loadOnce.Do(func() {
		r.byName = make(map[string]*Profile)
		r.patterns = make(map[string]*regexp.Regexp)

		raw, err := os.ReadFile(r.path)
		if err != nil {
			if !os.IsNotExist(err) {
				r.log.Warn().Err(err).Str("path", r.path).Msg("profile registry unreadable")
			}
			return
		}

		var profiles []*Profile
		if err := json.Unmarshal(raw, &profiles); err != nil {
			r.log.Warn().Err(err).Str("path", r.path).Msg("profile registry malformed")
			return
		}

		for _, p := range profiles {
			r.byName[p.DisplayName] = p
			if p.NameRegex == "" {
				continue
			}
			re, err := regexp.Compile(p.NameRegex)
			if err != nil {
				r.log.Warn().Err(err).Str("display_name", p.DisplayName).Msg("invalid profile name regex")
				continue
			}
			r.patterns[p.DisplayName] = re
		}
	})
}

// DisplayName resolves a raw sender identifier to its canonical display
// name. The second return is false for confirmed-unresolvable names.
func (r *Resolver) DisplayName(raw string) (string, bool) {
	r.load()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, bad := r.unknown[raw]; bad {
		return "", false
	}
	if dn, ok := r.resolved[raw]; ok {
		return dn, true
	}

	for name, re := range r.patterns {
		if loc := re.FindStringIndex(raw); loc != nil && loc[0] == 0 {
			r.resolved[raw] = name
			return name, true
		}
	}

	r.unknown[raw] = struct{}{}
	return "", false
}

// Profile returns the registered profile for a display name.
func (r *Resolver) Profile(displayName string) (*Profile, bool) {
	r.load()
	p, ok := r.byName[displayName]
	return p, ok
}

// PhotoPath returns the registry-relative profile photo for a raw sender
// identifier.
func (r *Resolver) PhotoPath(raw string) (string, bool) {
	dn, ok := r.DisplayName(raw)
	if !ok {
		return "", false
	}
	p, ok := r.byName[dn]
	if !ok || p.Photo == "" {
		return "", false
	}
	return p.Photo, true
}

// MatchesSender reports whether a raw sender identifier matches any
// requested sender entry: case-insensitive substring of the raw value,
// equality with the resolved display name, or the entry interpreted as a
// regex over the raw value.
func (r *Resolver) MatchesSender(raw string, requested []string) bool {
	if len(requested) == 0 {
		return true
	}

	dn, resolved := r.DisplayName(raw)
	lowRaw := strings.ToLower(raw)
	for _, req := range requested {
		if req == "" {
			continue
		}
		if strings.Contains(lowRaw, strings.ToLower(req)) {
			return true
		}
		if resolved && strings.EqualFold(dn, req) {
			return true
		}
		if re, err := regexp.Compile("(?i)" + req); err == nil && re.MatchString(raw) {
			return true
		}
	}
	return false
}

// IMessageChatIDs returns the chat identifiers registered for each
// display name.
func (r *Resolver) IMessageChatIDs() map[string][]string {
	r.load()
	out := make(map[string][]string)
	for name, p := range r.byName {
		if im := p.ProviderDetails.IMessage; im != nil && len(im.ChatIDs) > 0 {
			out[name] = im.ChatIDs
		}
	}
	return out
}

// HingeMatchTimes returns display names keyed by their registered Hinge
// match timestamp.
func (r *Resolver) HingeMatchTimes() map[string]string {
	r.load()
	out := make(map[string]string)
	for name, p := range r.byName {
		if h := p.ProviderDetails.Hinge; h != nil && h.MatchTime != "" {
			out[h.MatchTime] = name
		}
	}
	return out
}

// ImmichPersonIDs maps the requested display names to Immich person ids,
// skipping names with no registered id.
func (r *Resolver) ImmichPersonIDs(senders []string) []string {
	r.load()
	var ids []string
	for _, sender := range senders {
		p, ok := r.byName[sender]
		if !ok {
			continue
		}
		if im := p.ProviderDetails.Immich; im != nil && im.PersonID != "" {
			ids = append(ids, im.PersonID)
		}
	}
	return ids
}

// Validate eagerly loads the registry and reports whether it parsed.
// Useful at startup so a malformed registry is visible before the first
// query.
func (r *Resolver) Validate() error {
	r.load()
	if r.byName == nil {
		return fmt.Errorf("profile registry not loaded")
	}
	return nil
}
