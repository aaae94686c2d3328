// Package hinge reads a Hinge data export. The export only contains the
// account owner's side of each conversation, so every message is sent.
package hinge

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/memorylane/memorylane/internal/model"
	"github.com/memorylane/memorylane/internal/provider"
)

// Name identifies this provider in privacy rules and asset URLs.
const Name = "hinge"

const matchesFile = "matches.json"

const exportTimestampLayout = "2006-01-02 15:04:05"

// matchTimes maps export match timestamps to display names, reversed
// from the profile registry's per-person match_times.
type matchTimes interface {
	HingeMatchTimes() map[string]string
}

type Provider struct {
	dir    string
	owner  string
	names  matchTimes
	status provider.Status
	log    zerolog.Logger
}

func New(dir, owner string, names matchTimes, log zerolog.Logger) *Provider {
	return &Provider{dir: dir, owner: owner, names: names, log: log.With().Str("provider", Name).Logger()}
}

func (p *Provider) Name() string    { return Name }
func (p *Provider) IsWorking() bool { return p.status.Working() }

// matchRecord mirrors one entry of matches.json. A record holds the
// likes, the match event, and the owner's chat lines for one person.
type matchRecord struct {
	Like  []likeEvent  `json:"like"`
	Match []matchEvent `json:"match"`
	Chats []chatEvent  `json:"chats"`
}

type likeEvent struct {
	Timestamp string        `json:"timestamp"`
	Like      []likeComment `json:"like"`
}

type likeComment struct {
	Comment string `json:"comment"`
}

type matchEvent struct {
	Timestamp string `json:"timestamp"`
}

type chatEvent struct {
	Timestamp string `json:"timestamp"`
	Body      string `json:"body"`
}

func (p *Provider) Fetch(_ context.Context, q provider.Query) ([]model.Message, error) {
	if !p.status.Working() {
		return nil, nil
	}
	if _, _, err := q.Bounds(); err != nil {
		return nil, err
	}

	// The export has no incoming messages, so any sender filter that is
	// not exactly the owner cannot match.
	if len(q.Senders) > 0 {
		if len(q.Senders) != 1 || !strings.EqualFold(q.Senders[0], p.owner) {
			return nil, nil
		}
	}

	raw, err := os.ReadFile(filepath.Join(p.dir, matchesFile))
	if err != nil {
		p.status.MarkBroken()
		p.log.Warn().Err(err).Str("dir", p.dir).Msg("matches file unavailable")
		return nil, nil
	}
	var records []matchRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("parse %s: %w", matchesFile, err)
	}

	byMatchTime := p.names.HingeMatchTimes()

	var msgs []model.Message
	for i, record := range records {
		chatName := ""

		type entry struct {
			ts   time.Time
			text string
		}
		var entries []entry

		push := func(stamp, text string) {
			ts, err := time.ParseInLocation(exportTimestampLayout, stamp, time.Local)
			if err != nil {
				p.log.Warn().Str("timestamp", stamp).Msg("unparseable match timestamp, skipping entry")
				return
			}
			entries = append(entries, entry{ts: ts, text: text})
		}

		for _, like := range record.Like {
			text := "Liked"
			if len(like.Like) > 0 && like.Like[0].Comment != "" {
				text = like.Like[0].Comment
			}
			push(like.Timestamp, text)
		}
		for _, match := range record.Match {
			if name, ok := byMatchTime[match.Timestamp]; ok {
				chatName = name
			}
			push(match.Timestamp, "Matched")
		}
		for _, chat := range record.Chats {
			push(chat.Timestamp, chat.Body)
		}

		if chatName == "" {
			chatName = fmt.Sprintf("Match %d", i+1)
		}

		for _, e := range entries {
			if !q.InBounds(e.ts) || e.text == "" || !q.MatchesText(e.text) {
				continue
			}
			msgs = append(msgs, model.Message{
				Timestamp: e.ts,
				Type:      model.MessageSent,
				Text:      e.text,
				Sender:    p.owner,
				Provider:  Name,
				ChatName:  chatName,
				Media:     model.MediaText,
			})
		}
	}

	provider.SortMessages(msgs)
	return msgs, nil
}

func (p *Provider) Span(ctx context.Context) (*model.Date, *model.Date, error) {
	return provider.SpanFromFetch(ctx, p)
}

// Asset always misses; the export carries no media.
func (p *Provider) Asset(_ context.Context, _ string) (*model.Asset, error) {
	return nil, model.ErrNotFound
}
