package gphotos

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/sync/errgroup"
)

// DefaultPickerBaseURL is the Google Photos picker API endpoint.
const DefaultPickerBaseURL = "https://photospicker.googleapis.com/v1"

const (
	credentialsFile = "credentials.json"
	tokenFile       = "token.json"

	// downloadConcurrency bounds parallel media downloads; base URLs
	// expire after 60 minutes so the whole batch has to finish quickly.
	downloadConcurrency = 10

	sessionPollInterval = 5 * time.Second
)

var oauthScopes = []string{
	"https://www.googleapis.com/auth/photoslibrary.readonly.appcreateddata",
	"https://www.googleapis.com/auth/photoslibrary.readonly",
	"https://www.googleapis.com/auth/photospicker.mediaitems.readonly",
}

func (p *Provider) oauthConfig() (*oauth2.Config, error) {
	raw, err := os.ReadFile(filepath.Join(p.dir, credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", credentialsFile, err)
	}
	cfg, err := google.ConfigFromJSON(raw, oauthScopes...)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", credentialsFile, err)
	}
	return cfg, nil
}

// AuthURL returns the consent URL to visit before calling Authorize
// with the resulting code.
func (p *Provider) AuthURL() (string, error) {
	cfg, err := p.oauthConfig()
	if err != nil {
		return "", err
	}
	return cfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline), nil
}

// Authorize exchanges a consent code for a token and caches it.
func (p *Provider) Authorize(ctx context.Context, code string) error {
	cfg, err := p.oauthConfig()
	if err != nil {
		return err
	}
	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchange auth code: %w", err)
	}
	return p.saveToken(tok)
}

func (p *Provider) saveToken(tok *oauth2.Token) error {
	f, err := os.OpenFile(filepath.Join(p.dir, tokenFile), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	return writeTokenJSON(f, tok)
}

func (p *Provider) tokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	cfg, err := p.oauthConfig()
	if err != nil {
		return nil, err
	}
	tok, err := readTokenFile(filepath.Join(p.dir, tokenFile))
	if err != nil {
		return nil, fmt.Errorf("no cached token, visit the auth URL first: %w", err)
	}
	return cfg.TokenSource(ctx, tok), nil
}

type sessionResponse struct {
	ID            string `json:"id"`
	PickerURI     string `json:"pickerUri"`
	MediaItemsSet bool   `json:"mediaItemsSet"`
}

type mediaItemsResponse struct {
	MediaItems []pickerMediaItem `json:"mediaItems"`
}

type pickerMediaItem struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	CreateTime string `json:"createTime"`
	MediaFile  struct {
		BaseURL  string `json:"baseUrl"`
		MIMEType string `json:"mimeType"`
		Filename string `json:"filename"`
	} `json:"mediaFile"`
}

// Sync processes picker sessions: optionally opens a new one, waits for
// the user to pick media in the browser, then downloads and indexes
// everything the unprocessed sessions contain.
func (p *Provider) Sync(ctx context.Context, pickerBaseURL string, newSession bool) error {
	if !p.status.Working() {
		return fmt.Errorf("provider is not working")
	}
	if pickerBaseURL == "" {
		pickerBaseURL = DefaultPickerBaseURL
	}

	ts, err := p.tokenSource(ctx)
	if err != nil {
		return err
	}
	tok, err := ts.Token()
	if err != nil {
		return fmt.Errorf("refresh token: %w", err)
	}

	client := resty.New().
		SetBaseURL(pickerBaseURL).
		SetAuthToken(tok.AccessToken).
		SetTimeout(30 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(2 * time.Second)

	if newSession {
		if err := p.openSession(ctx, client); err != nil {
			return err
		}
	}

	p.mu.Lock()
	pending := make([]string, 0, len(p.idx.Sessions))
	for id, status := range p.idx.Sessions {
		if status != sessionProcessed {
			pending = append(pending, id)
		}
	}
	p.mu.Unlock()

	for _, id := range pending {
		done, err := p.cacheSession(ctx, client, id)
		if err != nil {
			return err
		}
		if done {
			p.mu.Lock()
			p.idx.Sessions[id] = sessionProcessed
			err = saveIndex(p.dir, p.idx)
			p.mu.Unlock()
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// openSession creates a picker session and blocks until the user has
// picked media in the browser.
func (p *Provider) openSession(ctx context.Context, client *resty.Client) error {
	var session sessionResponse
	resp, err := client.R().SetContext(ctx).SetBody(map[string]any{}).SetResult(&session).Post("/sessions")
	if err != nil {
		return fmt.Errorf("create picker session: %w", err)
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("create picker session: status %d: %s", resp.StatusCode(), resp.String())
	}

	p.log.Info().Str("session", session.ID).Str("picker_url", session.PickerURI).
		Msg("open the picker URL in a browser and select photos")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sessionPollInterval):
		}

		var status sessionResponse
		resp, err := client.R().SetContext(ctx).SetResult(&status).Get("/sessions/" + session.ID)
		if err != nil {
			return fmt.Errorf("poll picker session: %w", err)
		}
		if resp.StatusCode() != 200 {
			return fmt.Errorf("poll picker session: status %d: %s", resp.StatusCode(), resp.String())
		}
		if status.MediaItemsSet {
			break
		}
		p.log.Debug().Str("session", session.ID).Msg("waiting for media selection")
	}

	p.mu.Lock()
	p.idx.Sessions[session.ID] = sessionProcessing
	err = saveIndex(p.dir, p.idx)
	p.mu.Unlock()
	return err
}

// cacheSession downloads every media item of one session into the
// provider directory and records it in the index. Returns false when
// the session has no media picked yet.
func (p *Provider) cacheSession(ctx context.Context, client *resty.Client, sessionID string) (bool, error) {
	var status sessionResponse
	resp, err := client.R().SetContext(ctx).SetResult(&status).Get("/sessions/" + sessionID)
	if err != nil {
		return false, fmt.Errorf("check picker session: %w", err)
	}
	if resp.StatusCode() != 200 {
		return false, fmt.Errorf("check picker session: status %d: %s", resp.StatusCode(), resp.String())
	}
	if !status.MediaItemsSet {
		p.log.Info().Str("session", sessionID).Msg("no media picked for session yet")
		return false, nil
	}

	var items mediaItemsResponse
	resp, err = client.R().SetContext(ctx).
		SetQueryParam("sessionId", sessionID).
		SetResult(&items).
		Get("/mediaItems")
	if err != nil {
		return false, fmt.Errorf("list session media: %w", err)
	}
	if resp.StatusCode() != 200 {
		return false, fmt.Errorf("list session media: status %d: %s", resp.StatusCode(), resp.String())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(downloadConcurrency)
	for _, item := range items.MediaItems {
		g.Go(func() error {
			return p.downloadItem(gctx, client, item)
		})
	}
	if err := g.Wait(); err != nil {
		return false, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, item := range items.MediaItems {
		created, err := time.Parse(time.RFC3339, item.CreateTime)
		if err != nil {
			p.log.Warn().Str("media", item.ID).Str("createTime", item.CreateTime).
				Msg("unparseable create time, skipping media item")
			continue
		}
		p.idx.MediaItems[item.ID] = mediaItem{
			BaseURL:    item.MediaFile.BaseURL,
			FileName:   item.ID + "___" + item.MediaFile.Filename,
			MIMEType:   item.MediaFile.MIMEType,
			CreateTime: created.In(p.zone).Format(time.RFC3339),
		}
	}
	return true, saveIndex(p.dir, p.idx)
}

// downloadItem fetches the full-quality bytes behind a base URL. Files
// already on disk are kept.
func (p *Provider) downloadItem(ctx context.Context, client *resty.Client, item pickerMediaItem) error {
	path := filepath.Join(p.dir, item.ID+"___"+item.MediaFile.Filename)
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	url := item.MediaFile.BaseURL
	switch item.Type {
	case "VIDEO":
		url += "=dv"
	default:
		url += "=d"
	}

	resp, err := client.R().SetContext(ctx).Get(url)
	if err != nil {
		return fmt.Errorf("download %s: %w", item.MediaFile.Filename, err)
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("download %s: status %d", item.MediaFile.Filename, resp.StatusCode())
	}
	if err := os.WriteFile(path, resp.Body(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", item.MediaFile.Filename, err)
	}
	p.log.Debug().Str("file", item.MediaFile.Filename).Int("bytes", len(resp.Body())).Msg("media downloaded")
	return nil
}

func writeTokenJSON(w io.Writer, tok *oauth2.Token) error {
	return json.NewEncoder(w).Encode(tok)
}

func readTokenFile(path string) (*oauth2.Token, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	tok := &oauth2.Token{}
	if err := json.Unmarshal(raw, tok); err != nil {
		return nil, fmt.Errorf("parse cached token: %w", err)
	}
	return tok, nil
}
