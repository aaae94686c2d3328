// Package gphotos serves photos hand-picked through the Google Photos
// picker API. Media is selected interactively in a browser session,
// downloaded once, and indexed locally; fetches are served entirely
// from the local index.
package gphotos

import (
	"context"
	"mime"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/memorylane/memorylane/internal/model"
	"github.com/memorylane/memorylane/internal/provider"
)

// Name identifies this provider in privacy rules and asset URLs.
const Name = "gphotos"

type Provider struct {
	dir    string
	owner  string
	zone   *time.Location
	status provider.Status
	log    zerolog.Logger

	mu  sync.Mutex
	idx *index
}

func New(dir, owner string, zone *time.Location, log zerolog.Logger) *Provider {
	if zone == nil {
		zone = time.Local
	}
	p := &Provider{dir: dir, owner: owner, zone: zone, log: log.With().Str("provider", Name).Logger()}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		p.status.MarkBroken()
		p.log.Warn().Err(err).Str("dir", dir).Msg("photos folder unavailable")
		return p
	}
	idx, err := loadIndex(dir)
	if err != nil {
		p.status.MarkBroken()
		p.log.Warn().Err(err).Msg("photos index unreadable")
		return p
	}
	p.idx = idx
	return p
}

func (p *Provider) Name() string    { return Name }
func (p *Provider) IsWorking() bool { return p.status.Working() }

func (p *Provider) Fetch(_ context.Context, q provider.Query) ([]model.Message, error) {
	if !p.status.Working() {
		return nil, nil
	}
	if _, _, err := q.Bounds(); err != nil {
		return nil, err
	}
	// A photo feed has no text and no counterpart senders.
	if len(q.Senders) > 0 || q.Search != nil {
		return nil, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var msgs []model.Message
	for id, item := range p.idx.MediaItems {
		ts, err := item.createdAt()
		if err != nil {
			p.log.Warn().Str("media", id).Str("createTime", item.CreateTime).
				Msg("unparseable index timestamp, skipping")
			continue
		}
		ts = ts.In(p.zone)
		if !q.InBounds(ts) {
			continue
		}
		msgs = append(msgs, model.Message{
			Timestamp: ts,
			Type:      model.MessageSent,
			Sender:    p.owner,
			Provider:  Name,
			Media:     model.MediaNonText,
			Context: model.Context{Attachment: &model.Attachment{
				ID:       id,
				Name:     item.FileName,
				MIMEType: item.MIMEType,
				ViewURL:  "/api/asset/" + Name + "/" + id,
			}},
		})
	}

	provider.SortMessages(msgs)
	return msgs, nil
}

func (p *Provider) Span(ctx context.Context) (*model.Date, *model.Date, error) {
	return provider.SpanFromFetch(ctx, p)
}

// Asset serves a downloaded media file by its picker item id.
func (p *Provider) Asset(_ context.Context, assetID string) (*model.Asset, error) {
	if !p.status.Working() {
		return nil, model.ErrNotFound
	}

	p.mu.Lock()
	item, ok := p.idx.MediaItems[assetID]
	p.mu.Unlock()
	if !ok {
		return nil, model.ErrNotFound
	}

	path := filepath.Join(p.dir, item.FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, model.ErrNotFound
	}
	mimeType := item.MIMEType
	if mimeType == "" {
		mimeType = mime.TypeByExtension(filepath.Ext(item.FileName))
	}
	if mimeType == "" {
		return nil, model.ErrUnknownMIME
	}
	return &model.Asset{Data: data, MIMEType: mimeType}, nil
}
