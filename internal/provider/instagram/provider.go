// Package instagram reads a Meta data export ("Download your
// information", JSON format) and serves its direct-message history.
package instagram

import (
	"context"
	"encoding/json"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/memorylane/memorylane/internal/model"
	"github.com/memorylane/memorylane/internal/provider"
)

// Name identifies this provider in privacy rules and asset URLs.
const Name = "instagram"

const transcriptFile = "message_1.json"

// Provider reads per-conversation folders under the export's inbox
// directory. Folder names look like `<friend>_<numeric id>`.
type Provider struct {
	dir     string
	owner   string
	matcher provider.SenderMatcher
	status  provider.Status
	log     zerolog.Logger
}

func New(dir, owner string, matcher provider.SenderMatcher, log zerolog.Logger) *Provider {
	return &Provider{
		dir:     dir,
		owner:   owner,
		matcher: matcher,
		log:     log.With().Str("provider", Name).Logger(),
	}
}

func (p *Provider) Name() string    { return Name }
func (p *Provider) IsWorking() bool { return p.status.Working() }

type discoveredChat struct {
	path   string
	friend string
}

// friendName strips the numeric suffix off a conversation folder name.
// Folders with nothing before the suffix belong to deleted accounts.
func friendName(folder string) string {
	parts := strings.Split(folder, "_")
	name := strings.Join(parts[:len(parts)-1], "_")
	if name == "" {
		return deletedUser
	}
	return name
}

func (p *Provider) discoverChats() ([]discoveredChat, error) {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return nil, err
	}
	var chats []discoveredChat
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(p.dir, e.Name(), transcriptFile)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		chats = append(chats, discoveredChat{path: path, friend: friendName(e.Name())})
	}
	return chats, nil
}

func (p *Provider) Fetch(ctx context.Context, q provider.Query) ([]model.Message, error) {
	if !p.status.Working() {
		return nil, nil
	}
	if _, _, err := q.Bounds(); err != nil {
		return nil, err
	}

	chats, err := p.discoverChats()
	if err != nil {
		p.status.MarkBroken()
		p.log.Warn().Err(err).Str("dir", p.dir).Msg("export directory unavailable")
		return nil, nil
	}

	pc := parseContext{owner: p.owner, matcher: p.matcher, query: q}
	results := make([][]model.Message, len(chats))
	g, _ := errgroup.WithContext(ctx)
	for i, chat := range chats {
		g.Go(func() error {
			raw, err := os.ReadFile(chat.path)
			if err != nil {
				p.log.Warn().Err(err).Str("chat", chat.friend).Msg("unreadable conversation, skipping")
				return nil
			}
			var c conversation
			if err := json.Unmarshal(raw, &c); err != nil {
				p.log.Warn().Err(err).Str("chat", chat.friend).Msg("malformed conversation, skipping")
				return nil
			}
			results[i] = parseConversation(c, chat.friend, pc)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var msgs []model.Message
	for _, r := range results {
		msgs = append(msgs, r...)
	}
	provider.SortMessages(msgs)
	return msgs, nil
}

func (p *Provider) Span(ctx context.Context) (*model.Date, *model.Date, error) {
	return provider.SpanFromFetch(ctx, p)
}

// Asset serves conversation media. Asset ids are inbox-relative paths
// with '/' made URL-safe.
func (p *Provider) Asset(_ context.Context, assetID string) (*model.Asset, error) {
	if !p.status.Working() {
		return nil, model.ErrNotFound
	}

	fileID := strings.ReplaceAll(assetID, "___", "/")
	data, err := os.ReadFile(filepath.Join(p.dir, fileID))
	if err != nil {
		return nil, model.ErrNotFound
	}
	mimeType := mime.TypeByExtension(filepath.Ext(fileID))
	if mimeType == "" {
		return nil, model.ErrUnknownMIME
	}
	return &model.Asset{Data: data, MIMEType: mimeType}, nil
}
