// Package immich serves a self-hosted Immich photo library over its
// REST API. Each asset in the query window becomes a non-text timeline
// entry whose thumbnail is fetched on demand.
package immich

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/memorylane/memorylane/internal/model"
	"github.com/memorylane/memorylane/internal/provider"
)

// Name identifies this provider in privacy rules and asset URLs.
const Name = "immich"

const searchPageSize = 100

// people is the slice of the profile registry this provider needs:
// Immich person ids for the requested senders.
type people interface {
	ImmichPersonIDs(requested []string) []string
}

type Provider struct {
	client *resty.Client
	email  string
	pass   string
	owner  string
	ids    people
	status provider.Status
	log    zerolog.Logger

	loginOnce sync.Once
	token     string
}

func New(baseURL, email, password, owner string, ids people, log zerolog.Logger) *Provider {
	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetTimeout(30 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(2 * time.Second).
		SetRetryMaxWaitTime(10 * time.Second)

	p := &Provider{
		client: client,
		email:  email,
		pass:   password,
		owner:  owner,
		ids:    ids,
		log:    log.With().Str("provider", Name).Logger(),
	}
	if baseURL == "" || email == "" {
		p.status.MarkBroken()
		p.log.Warn().Msg("immich credentials not configured")
	}
	return p
}

func (p *Provider) Name() string    { return Name }
func (p *Provider) IsWorking() bool { return p.status.Working() }

// Client exposes the underlying HTTP client so tests can point it at a
// stub server.
func (p *Provider) Client() *resty.Client { return p.client }

type loginResponse struct {
	AccessToken string `json:"accessToken"`
}

// login authenticates once per process. A failed login flags the
// provider down rather than erroring every fetch.
func (p *Provider) login(ctx context.Context) bool {
	p.loginOnce.Do(func() {
		var out loginResponse
		resp, err := p.client.R().
			SetContext(ctx).
			SetBody(map[string]string{"email": p.email, "password": p.pass}).
			SetResult(&out).
			Post("/api/auth/login")
		if err != nil {
			p.status.MarkBroken()
			p.log.Warn().Err(err).Msg("immich login failed")
			return
		}
		if resp.StatusCode() != 201 || out.AccessToken == "" {
			p.status.MarkBroken()
			p.log.Warn().Int("status", resp.StatusCode()).Msg("immich login rejected")
			return
		}
		p.token = out.AccessToken
	})
	return p.status.Working()
}

type searchResponse struct {
	Assets struct {
		Items    []searchAsset `json:"items"`
		NextPage *string       `json:"nextPage"`
	} `json:"assets"`
}

type searchAsset struct {
	ID               string `json:"id"`
	OriginalFileName string `json:"originalFileName"`
	OriginalMimeType string `json:"originalMimeType"`
	LocalDateTime    string `json:"localDateTime"`
}

func (p *Provider) Fetch(ctx context.Context, q provider.Query) ([]model.Message, error) {
	if !p.status.Working() {
		return nil, nil
	}
	from, to, err := q.Window()
	if err != nil {
		return nil, err
	}
	// Photos have no text to search.
	if q.Search != nil {
		return nil, nil
	}

	var personIDs []string
	if len(q.Senders) > 0 {
		personIDs = p.ids.ImmichPersonIDs(q.Senders)
		if len(personIDs) == 0 {
			return nil, nil
		}
	}

	if !p.login(ctx) {
		return nil, nil
	}

	var msgs []model.Message
	page := 1
	for {
		body := map[string]any{
			"takenAfter":  from.UTC().Format("2006-01-02T15:04:05Z"),
			"takenBefore": to.UTC().Format("2006-01-02T15:04:05Z"),
			"order":       "asc",
			"page":        page,
			"size":        searchPageSize,
		}
		if len(personIDs) > 0 {
			body["personIds"] = personIDs
		}

		var out searchResponse
		resp, err := p.client.R().
			SetContext(ctx).
			SetAuthToken(p.token).
			SetBody(body).
			SetResult(&out).
			Post("/api/search/metadata")
		if err != nil {
			return nil, fmt.Errorf("search immich library: %w", err)
		}
		if resp.StatusCode() != 200 {
			return nil, fmt.Errorf("search immich library: status %d: %s", resp.StatusCode(), resp.String())
		}

		for _, asset := range out.Assets.Items {
			ts, err := parseLocalDateTime(asset.LocalDateTime)
			if err != nil {
				p.log.Warn().Str("asset", asset.ID).Str("localDateTime", asset.LocalDateTime).
					Msg("unparseable asset timestamp, skipping")
				continue
			}
			msgs = append(msgs, model.Message{
				Timestamp: ts,
				Type:      model.MessageSent,
				Sender:    p.owner,
				Provider:  Name,
				Media:     model.MediaNonText,
				Context: model.Context{Attachment: &model.Attachment{
					ID:       asset.ID,
					Name:     asset.OriginalFileName,
					MIMEType: asset.OriginalMimeType,
					ViewURL:  "/api/asset/" + Name + "/" + asset.ID,
				}},
			})
		}

		if out.Assets.NextPage == nil {
			break
		}
		next, err := strconv.Atoi(*out.Assets.NextPage)
		if err != nil || next <= page {
			break
		}
		page = next
	}

	provider.SortMessages(msgs)
	return msgs, nil
}

// parseLocalDateTime reads the library's wall-clock timestamp. The
// value carries a zone marker but represents local time, so only the
// clock fields are kept.
func parseLocalDateTime(s string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		ts, err = time.Parse("2006-01-02T15:04:05", s)
		if err != nil {
			return time.Time{}, err
		}
	}
	return time.Date(ts.Year(), ts.Month(), ts.Day(), ts.Hour(), ts.Minute(), ts.Second(), 0, time.Local), nil
}

func (p *Provider) Span(ctx context.Context) (*model.Date, *model.Date, error) {
	return provider.SpanFromFetch(ctx, p)
}

// Asset proxies the thumbnail endpoint.
func (p *Provider) Asset(ctx context.Context, assetID string) (*model.Asset, error) {
	if !p.status.Working() || !p.login(ctx) {
		return nil, model.ErrNotFound
	}

	resp, err := p.client.R().
		SetContext(ctx).
		SetAuthToken(p.token).
		Get("/api/assets/" + assetID + "/thumbnail")
	if err != nil {
		return nil, fmt.Errorf("fetch immich thumbnail: %w", err)
	}
	if resp.StatusCode() == 404 {
		return nil, model.ErrNotFound
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("fetch immich thumbnail: status %d: %s", resp.StatusCode(), resp.String())
	}
	mimeType := resp.Header().Get("Content-Type")
	if mimeType == "" {
		return nil, model.ErrUnknownMIME
	}
	return &model.Asset{Data: resp.Body(), MIMEType: mimeType}, nil
}
