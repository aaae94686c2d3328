package api

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/memorylane/memorylane/internal/aggregator"
	"github.com/memorylane/memorylane/internal/api/requestid"
	"github.com/memorylane/memorylane/internal/api/respond"
	"github.com/memorylane/memorylane/internal/model"
	"github.com/memorylane/memorylane/internal/provider"
)

// Service is the slice of the aggregator the HTTP surface needs.
type Service interface {
	EventsForDates(ctx context.Context, q provider.Query, providerNames []string) ([]model.Message, error)
	MessagesBySender(ctx context.Context, q provider.Query, providerNames []string, textOnly bool) (map[string][]model.Message, error)
	Status(ctx context.Context) []aggregator.ProviderStatus
	AssetFor(ctx context.Context, providerName, assetID string) (*model.Asset, error)
}

// TimelineHandler serves the timeline endpoints.
type TimelineHandler struct {
	svc Service
	log zerolog.Logger
}

func NewTimelineHandler(svc Service, log zerolog.Logger) *TimelineHandler {
	return &TimelineHandler{svc: svc, log: log}
}

// parseQuery builds a provider query from request parameters. The second
// return value is the provider selection; a non-nil error carries a
// caller-facing message.
func parseQuery(r *http.Request) (provider.Query, []string, error) {
	var q provider.Query
	params := r.URL.Query()

	dateStr := params.Get("date")
	startStr := params.Get("start")
	endStr := params.Get("end")

	switch {
	case dateStr != "":
		if startStr != "" || endStr != "" {
			return q, nil, errors.New("date and start/end are mutually exclusive")
		}
		on, err := model.ParseDate(dateStr)
		if err != nil {
			return q, nil, errors.New("invalid date, expected YYYY-MM-DD")
		}
		seek := 0
		if s := params.Get("seek_days"); s != "" {
			seek, err = strconv.Atoi(s)
			if err != nil {
				return q, nil, errors.New("invalid seek_days, expected an integer")
			}
			if seek < 0 {
				seek = 0
			}
		}
		if seek > 0 {
			start, end := on.AddDays(-seek), on.AddDays(seek)
			q.StartDate, q.EndDate = &start, &end
		} else {
			q.OnDate = &on
		}
	case startStr != "" && endStr != "":
		start, err := model.ParseDate(startStr)
		if err != nil {
			return q, nil, errors.New("invalid start, expected YYYY-MM-DD")
		}
		end, err := model.ParseDate(endStr)
		if err != nil {
			return q, nil, errors.New("invalid end, expected YYYY-MM-DD")
		}
		if end.Before(start) {
			return q, nil, errors.New("end precedes start")
		}
		q.StartDate, q.EndDate = &start, &end
	default:
		return q, nil, errors.New("missing date parameter")
	}

	if s := params.Get("ignore_groups"); s != "" {
		v, err := strconv.ParseBool(s)
		if err != nil {
			return q, nil, errors.New("invalid ignore_groups, expected a boolean")
		}
		q.IgnoreGroups = v
	}
	q.Senders = splitList(params.Get("senders"))
	if s := params.Get("search"); s != "" {
		re, err := regexp.Compile(s)
		if err != nil {
			return q, nil, errors.New("invalid search pattern: " + err.Error())
		}
		q.Search = re
	}

	return q, splitList(params.Get("providers")), nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// GetEvents handles GET /api/events.
func (h *TimelineHandler) GetEvents(w http.ResponseWriter, r *http.Request) {
	q, providers, err := parseQuery(r)
	if err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}

	events, err := h.svc.EventsForDates(r.Context(), q, providers)
	if err != nil {
		if errors.Is(err, model.ErrValidation) {
			respond.WriteBadRequest(w, err.Error())
			return
		}
		h.log.Error().Err(err).Str("request_id", requestid.FromContext(r.Context())).Msg("event aggregation failed")
		respond.WriteInternalError(w, err.Error())
		return
	}
	if events == nil {
		events = []model.Message{}
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{"events": events, "count": len(events)})
}

// GetSenders handles GET /api/senders.
func (h *TimelineHandler) GetSenders(w http.ResponseWriter, r *http.Request) {
	q, providers, err := parseQuery(r)
	if err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	textOnly := false
	if s := r.URL.Query().Get("text_only"); s != "" {
		textOnly, err = strconv.ParseBool(s)
		if err != nil {
			respond.WriteBadRequest(w, "invalid text_only, expected a boolean")
			return
		}
	}

	bySender, err := h.svc.MessagesBySender(r.Context(), q, providers, textOnly)
	if err != nil {
		if errors.Is(err, model.ErrValidation) {
			respond.WriteBadRequest(w, err.Error())
			return
		}
		h.log.Error().Err(err).Str("request_id", requestid.FromContext(r.Context())).Msg("sender aggregation failed")
		respond.WriteInternalError(w, err.Error())
		return
	}
	if bySender == nil {
		bySender = map[string][]model.Message{}
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{"senders": bySender, "count": len(bySender)})
}

// GetStatus handles GET /api/status.
func (h *TimelineHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	statuses := h.svc.Status(r.Context())
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{"providers": statuses, "count": len(statuses)})
}

// GetAsset handles GET /api/asset/{provider}/{id}.
func (h *TimelineHandler) GetAsset(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	asset, err := h.svc.AssetFor(r.Context(), vars["provider"], vars["id"])
	if err != nil {
		switch {
		case errors.Is(err, model.ErrNotFound):
			respond.WriteNotFound(w, "asset not found")
		case errors.Is(err, model.ErrValidation):
			respond.WriteBadRequest(w, err.Error())
		default:
			h.log.Error().Err(err).Str("request_id", requestid.FromContext(r.Context())).Str("provider", vars["provider"]).Msg("asset fetch failed")
			respond.WriteInternalError(w, err.Error())
		}
		return
	}

	mimeType := asset.MIMEType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(asset.Data)))
	_, _ = w.Write(asset.Data)
}

// HealthHandler handles health check endpoints.
type HealthHandler struct{}

func NewHealthHandler() *HealthHandler { return &HealthHandler{} }

// CheckHealth handles GET /api/health. Always returns 200 while the
// process is serving.
func (h *HealthHandler) CheckHealth(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
