package immich

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memorylane/memorylane/internal/logger"
	"github.com/memorylane/memorylane/internal/model"
	"github.com/memorylane/memorylane/internal/provider"
)

type stubPeople map[string][]string

func (s stubPeople) ImmichPersonIDs(requested []string) []string {
	var ids []string
	for _, r := range requested {
		ids = append(ids, s[r]...)
	}
	return ids
}

type fakeImmich struct {
	t          *testing.T
	loginCode  int
	searches   []map[string]any
	pages      []string
	thumbnails map[string][]byte
}

func (f *fakeImmich) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		if f.loginCode != 0 && f.loginCode != 201 {
			w.WriteHeader(f.loginCode)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(201)
		_, _ = w.Write([]byte(`{"accessToken": "tok-123"}`))
	})
	mux.HandleFunc("POST /api/search/metadata", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(f.t, "Bearer tok-123", r.Header.Get("Authorization"))
		var body map[string]any
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
		f.searches = append(f.searches, body)

		idx := int(body["page"].(float64)) - 1
		require.Less(f.t, idx, len(f.pages))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(f.pages[idx]))
	})
	mux.HandleFunc("GET /api/assets/{id}/thumbnail", func(w http.ResponseWriter, r *http.Request) {
		data, ok := f.thumbnails[r.PathValue("id")]
		if !ok {
			w.WriteHeader(404)
			return
		}
		w.Header().Set("Content-Type", "image/webp")
		_, _ = w.Write(data)
	})
	return mux
}

func newTestProvider(t *testing.T, f *fakeImmich, ids stubPeople) *Provider {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	p := New(srv.URL, "me@example.com", "secret", "Ritik", ids, logger.New("test"))
	p.Client().SetRetryCount(0)
	return p
}

func rangeQuery(t *testing.T, from, to string) provider.Query {
	t.Helper()
	start, err := model.ParseDate(from)
	require.NoError(t, err)
	end, err := model.ParseDate(to)
	require.NoError(t, err)
	return provider.Query{StartDate: &start, EndDate: &end}
}

const pageOne = `{"assets": {"items": [
  {"id": "a1", "originalFileName": "IMG_0001.heic", "originalMimeType": "image/heic", "localDateTime": "2024-06-01T10:00:00.000Z"}
], "nextPage": "2"}}`

const pageTwo = `{"assets": {"items": [
  {"id": "a2", "originalFileName": "VID_0002.mp4", "originalMimeType": "video/mp4", "localDateTime": "2024-06-02T18:30:00.000Z"}
], "nextPage": null}}`

func TestFetchPaginates(t *testing.T) {
	f := &fakeImmich{t: t, pages: []string{pageOne, pageTwo}}
	p := newTestProvider(t, f, stubPeople{})

	msgs, err := p.Fetch(t.Context(), rangeQuery(t, "2024-06-01", "2024-06-30"))
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.Equal(t, "a1", msgs[0].Context.Attachment.ID)
	assert.Equal(t, "IMG_0001.heic", msgs[0].Context.Attachment.Name)
	assert.Equal(t, "image/heic", msgs[0].Context.Attachment.MIMEType)
	assert.Equal(t, "/api/asset/immich/a1", msgs[0].Context.Attachment.ViewURL)
	assert.Equal(t, model.MediaNonText, msgs[0].Media)
	assert.Equal(t, "Ritik", msgs[0].Sender)
	assert.Equal(t, 10, msgs[0].Timestamp.Hour())

	require.Len(t, f.searches, 2)
	assert.Equal(t, float64(1), f.searches[0]["page"])
	assert.Equal(t, float64(2), f.searches[1]["page"])
	assert.Equal(t, "asc", f.searches[0]["order"])
	assert.Equal(t, float64(searchPageSize), f.searches[0]["size"])
	assert.Contains(t, f.searches[0], "takenAfter")
	assert.Contains(t, f.searches[0], "takenBefore")
}

func TestFetchSenderFilterMapsToPersonIDs(t *testing.T) {
	f := &fakeImmich{t: t, pages: []string{pageTwo}}
	p := newTestProvider(t, f, stubPeople{"Alice": {"person-1"}})

	q := rangeQuery(t, "2024-06-01", "2024-06-30")
	q.Senders = []string{"Alice"}
	_, err := p.Fetch(t.Context(), q)
	require.NoError(t, err)

	require.Len(t, f.searches, 1)
	assert.Equal(t, []any{"person-1"}, f.searches[0]["personIds"])

	// Unknown senders never reach the API.
	q.Senders = []string{"Stranger"}
	msgs, err := p.Fetch(t.Context(), q)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Len(t, f.searches, 1)
}

func TestFetchSearchReturnsEmpty(t *testing.T) {
	f := &fakeImmich{t: t, pages: []string{pageTwo}}
	p := newTestProvider(t, f, stubPeople{})

	q := rangeQuery(t, "2024-06-01", "2024-06-30")
	q.Search = regexp.MustCompile(`beach`)
	msgs, err := p.Fetch(t.Context(), q)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Empty(t, f.searches)
}

func TestLoginFailureMarksBroken(t *testing.T) {
	f := &fakeImmich{t: t, loginCode: 401}
	p := newTestProvider(t, f, stubPeople{})

	msgs, err := p.Fetch(t.Context(), rangeQuery(t, "2024-06-01", "2024-06-30"))
	require.NoError(t, err)
	assert.Nil(t, msgs)
	assert.False(t, p.IsWorking())

	// Subsequent calls stay quiet.
	msgs, err = p.Fetch(t.Context(), rangeQuery(t, "2024-06-01", "2024-06-30"))
	require.NoError(t, err)
	assert.Nil(t, msgs)
}

func TestMissingConfigMarksBroken(t *testing.T) {
	p := New("", "", "", "Ritik", stubPeople{}, logger.New("test"))
	assert.False(t, p.IsWorking())
}

func TestAsset(t *testing.T) {
	f := &fakeImmich{t: t, thumbnails: map[string][]byte{"a1": []byte("webp-bytes")}}
	p := newTestProvider(t, f, stubPeople{})

	asset, err := p.Asset(t.Context(), "a1")
	require.NoError(t, err)
	assert.Equal(t, []byte("webp-bytes"), asset.Data)
	assert.Equal(t, "image/webp", asset.MIMEType)

	_, err = p.Asset(t.Context(), "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}
