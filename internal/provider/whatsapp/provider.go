// Package whatsapp parses exported WhatsApp chat transcripts.
package whatsapp

import (
	"context"
	"mime"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/memorylane/memorylane/internal/model"
	"github.com/memorylane/memorylane/internal/provider"
)

// Name identifies this provider in privacy rules and asset URLs.
const Name = "whatsapp"

// Provider reads every "WhatsApp Chat with ..." export under one data
// directory.
type Provider struct {
	dir     string
	owner   string
	matcher provider.SenderMatcher
	status  provider.Status
	log     zerolog.Logger
}

func New(dir, owner string, matcher provider.SenderMatcher, log zerolog.Logger) *Provider {
	return &Provider{dir: dir, owner: owner, matcher: matcher, log: log.With().Str("provider", Name).Logger()}
}

func (p *Provider) Name() string    { return Name }
func (p *Provider) IsWorking() bool { return p.status.Working() }

// Fetch parses all chat exports concurrently and merges the results.
func (p *Provider) Fetch(ctx context.Context, q provider.Query) ([]model.Message, error) {
	if !p.status.Working() {
		return nil, nil
	}
	if _, _, err := q.Bounds(); err != nil {
		return nil, err
	}

	chats, err := discoverChats(p.dir)
	if err != nil {
		p.status.MarkBroken()
		p.log.Warn().Err(err).Str("dir", p.dir).Msg("chat export folder unavailable")
		return nil, nil
	}

	p.log.Debug().Int("chats", len(chats)).Msg("fetch start")

	results := make([][]model.Message, len(chats))
	g, _ := errgroup.WithContext(ctx)
	for i, chat := range chats {
		g.Go(func() error {
			results[i] = parseChat(chat, q, p.owner, p.matcher, p.log)
			return nil
		})
	}
	_ = g.Wait()

	var msgs []model.Message
	for _, r := range results {
		msgs = append(msgs, r...)
	}
	provider.SortMessages(msgs)

	p.log.Debug().Int("messages", len(msgs)).Msg("fetch done")
	return msgs, nil
}

func (p *Provider) Span(ctx context.Context) (*model.Date, *model.Date, error) {
	if !p.status.Working() {
		return nil, nil, nil
	}
	return provider.SpanFromFetch(ctx, p)
}

// Asset resolves a "<chat>___<file>" id against the chat's media folder.
func (p *Provider) Asset(_ context.Context, assetID string) (*model.Asset, error) {
	if !p.status.Working() {
		return nil, model.ErrNotFound
	}
	chatName, fileName, ok := splitAssetID(assetID)
	if !ok {
		return nil, model.ErrNotFound
	}

	path := filepath.Join(p.dir, filePrefix+chatName, fileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, model.ErrNotFound
	}
	mimeType := mime.TypeByExtension(filepath.Ext(fileName))
	if mimeType == "" {
		return nil, model.ErrUnknownMIME
	}
	return &model.Asset{Data: data, MIMEType: mimeType}, nil
}
