package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memorylane/memorylane/internal/aggregator"
	"github.com/memorylane/memorylane/internal/model"
	"github.com/memorylane/memorylane/internal/provider"
)

type fakeService struct {
	lastQuery     provider.Query
	lastProviders []string
	lastTextOnly  bool

	events   []model.Message
	bySender map[string][]model.Message
	statuses []aggregator.ProviderStatus
	asset    *model.Asset

	fetchErr error
	assetErr error
}

func (f *fakeService) EventsForDates(_ context.Context, q provider.Query, names []string) ([]model.Message, error) {
	f.lastQuery, f.lastProviders = q, names
	return f.events, f.fetchErr
}

func (f *fakeService) MessagesBySender(_ context.Context, q provider.Query, names []string, textOnly bool) (map[string][]model.Message, error) {
	f.lastQuery, f.lastProviders, f.lastTextOnly = q, names, textOnly
	return f.bySender, f.fetchErr
}

func (f *fakeService) Status(context.Context) []aggregator.ProviderStatus {
	return f.statuses
}

func (f *fakeService) AssetFor(_ context.Context, providerName, assetID string) (*model.Asset, error) {
	if f.assetErr != nil {
		return nil, f.assetErr
	}
	return f.asset, nil
}

func doGet(t *testing.T, svc Service, path string) *httptest.ResponseRecorder {
	t.Helper()
	router := NewRouter(svc, zerolog.Nop())
	req := httptest.NewRequest("GET", path, nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestHealth(t *testing.T) {
	rr := doGet(t, &fakeService{}, "/api/health")
	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestEventsSingleDate(t *testing.T) {
	svc := &fakeService{events: []model.Message{{
		Timestamp: time.Date(2025, 3, 5, 10, 0, 0, 0, time.Local),
		Type:      model.MessageReceived,
		Text:      "hello",
		Sender:    "Alice",
		Provider:  "whatsapp",
	}}}

	rr := doGet(t, svc, "/api/events?date=2025-03-05")
	require.Equal(t, http.StatusOK, rr.Code)

	require.NotNil(t, svc.lastQuery.OnDate)
	assert.Equal(t, model.Date{Year: 2025, Month: time.March, Day: 5}, *svc.lastQuery.OnDate)
	assert.Nil(t, svc.lastQuery.StartDate)

	var body struct {
		Events []model.Message `json:"events"`
		Count  int             `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "hello", body.Events[0].Text)
	assert.Equal(t, "whatsapp", body.Events[0].Provider)
}

func TestEventsSeekDaysWidensWindow(t *testing.T) {
	svc := &fakeService{}
	rr := doGet(t, svc, "/api/events?date=2025-03-05&seek_days=2")
	require.Equal(t, http.StatusOK, rr.Code)

	require.NotNil(t, svc.lastQuery.StartDate)
	require.NotNil(t, svc.lastQuery.EndDate)
	assert.Equal(t, model.Date{Year: 2025, Month: time.March, Day: 3}, *svc.lastQuery.StartDate)
	assert.Equal(t, model.Date{Year: 2025, Month: time.March, Day: 7}, *svc.lastQuery.EndDate)
	assert.Nil(t, svc.lastQuery.OnDate)
}

func TestEventsNegativeSeekDaysClamped(t *testing.T) {
	svc := &fakeService{}
	rr := doGet(t, svc, "/api/events?date=2025-03-05&seek_days=-3")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, svc.lastQuery.OnDate)
}

func TestEventsExplicitRange(t *testing.T) {
	svc := &fakeService{}
	rr := doGet(t, svc, "/api/events?start=2025-01-01&end=2025-01-31")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, model.Date{Year: 2025, Month: time.January, Day: 1}, *svc.lastQuery.StartDate)
	assert.Equal(t, model.Date{Year: 2025, Month: time.January, Day: 31}, *svc.lastQuery.EndDate)
}

func TestEventsFilterParams(t *testing.T) {
	svc := &fakeService{}
	rr := doGet(t, svc, "/api/events?date=2025-03-05&ignore_groups=true&providers=whatsapp,%20diary&senders=Alice&search=din.er")
	require.Equal(t, http.StatusOK, rr.Code)

	assert.True(t, svc.lastQuery.IgnoreGroups)
	assert.Equal(t, []string{"whatsapp", "diary"}, svc.lastProviders)
	assert.Equal(t, []string{"Alice"}, svc.lastQuery.Senders)
	require.NotNil(t, svc.lastQuery.Search)
	assert.True(t, svc.lastQuery.Search.MatchString("diner"))
}

func TestEventsBadRequests(t *testing.T) {
	cases := map[string]string{
		"missing date":       "/api/events",
		"bad date":           "/api/events?date=05-03-2025",
		"date and range":     "/api/events?date=2025-03-05&start=2025-01-01",
		"half range":         "/api/events?start=2025-01-01",
		"inverted range":     "/api/events?start=2025-02-01&end=2025-01-01",
		"bad seek":           "/api/events?date=2025-03-05&seek_days=soon",
		"bad ignore_groups":  "/api/events?date=2025-03-05&ignore_groups=maybe",
		"bad search pattern": "/api/events?date=2025-03-05&search=%5B",
	}
	for name, path := range cases {
		t.Run(name, func(t *testing.T) {
			rr := doGet(t, &fakeService{}, path)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
		})
	}
}

func TestEventsErrorMapping(t *testing.T) {
	validation := &fakeService{fetchErr: fmt.Errorf("%w: unknown provider \"nope\"", model.ErrValidation)}
	rr := doGet(t, validation, "/api/events?date=2025-03-05&providers=nope")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	internal := &fakeService{fetchErr: errors.New("disk on fire")}
	rr = doGet(t, internal, "/api/events?date=2025-03-05")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Contains(t, body["message"], "disk on fire")
}

func TestSenders(t *testing.T) {
	svc := &fakeService{bySender: map[string][]model.Message{
		"Alice": {{Text: "hi", Sender: "Alice"}},
	}}
	rr := doGet(t, svc, "/api/senders?date=2025-03-05&text_only=true")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, svc.lastTextOnly)

	var body struct {
		Senders map[string][]model.Message `json:"senders"`
		Count   int                        `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "hi", body.Senders["Alice"][0].Text)
}

func TestStatus(t *testing.T) {
	start := model.Date{Year: 2024, Month: time.June, Day: 1}
	end := model.Date{Year: 2025, Month: time.March, Day: 8}
	svc := &fakeService{statuses: []aggregator.ProviderStatus{
		{Name: "diary", Working: true, Start: &start, End: &end},
		{Name: "uber", Working: false},
	}}

	rr := doGet(t, svc, "/api/status")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"start":"2024-06-01"`)
	assert.Contains(t, rr.Body.String(), `"end":"2025-03-08"`)

	var body struct {
		Providers []aggregator.ProviderStatus `json:"providers"`
		Count     int                         `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, 2, body.Count)
	assert.True(t, body.Providers[0].Working)
	assert.False(t, body.Providers[1].Working)
}

func TestAsset(t *testing.T) {
	svc := &fakeService{asset: &model.Asset{Data: []byte("jpegbytes"), MIMEType: "image/jpeg"}}
	rr := doGet(t, svc, "/api/asset/imessage/ab___photo.jpeg")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "image/jpeg", rr.Header().Get("Content-Type"))
	assert.Equal(t, "jpegbytes", rr.Body.String())
}

func TestAssetErrors(t *testing.T) {
	missing := &fakeService{assetErr: model.ErrNotFound}
	rr := doGet(t, missing, "/api/asset/imessage/gone.jpeg")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	unknown := &fakeService{assetErr: fmt.Errorf("%w: unknown provider \"nope\"", model.ErrValidation)}
	rr = doGet(t, unknown, "/api/asset/nope/x.jpeg")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRequestIDHeader(t *testing.T) {
	rr := doGet(t, &fakeService{}, "/api/health")
	assert.NotEmpty(t, rr.Header().Get("X-Request-Id"))

	router := NewRouter(&fakeService{}, zerolog.Nop())
	req := httptest.NewRequest("GET", "/api/health", nil)
	req.Header.Set("X-Request-Id", "caller-id")
	echo := httptest.NewRecorder()
	router.ServeHTTP(echo, req)
	assert.Equal(t, "caller-id", echo.Header().Get("X-Request-Id"))
}
