// Package gmaps renders a Google Maps semantic location history into
// timeline entries: place visits, activities, and raw movement paths.
package gmaps

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/memorylane/memorylane/internal/model"
	"github.com/memorylane/memorylane/internal/provider"
)

// Name identifies this provider in privacy rules and asset URLs.
const Name = "gmaps"

const historyFile = "location-history.json"

type Provider struct {
	dir    string
	owner  string
	status provider.Status
	log    zerolog.Logger
}

func New(dir, owner string, log zerolog.Logger) *Provider {
	p := &Provider{dir: dir, owner: owner, log: log.With().Str("provider", Name).Logger()}
	if _, err := os.Stat(dir); err != nil {
		p.status.MarkBroken()
		p.log.Warn().Err(err).Str("dir", dir).Msg("location history unavailable")
	}
	return p
}

func (p *Provider) Name() string    { return Name }
func (p *Provider) IsWorking() bool { return p.status.Working() }

// timelineEntry is one record of location-history.json. Exactly one of
// Visit, Activity, TimelinePath, or TimelineMemory is set.
type timelineEntry struct {
	StartTime      string           `json:"startTime"`
	EndTime        string           `json:"endTime"`
	HierarchyLevel *int             `json:"hierarchyLevel"`
	Visit          *visitEntry      `json:"visit"`
	Activity       *activityEntry   `json:"activity"`
	TimelinePath   []pathPoint      `json:"timelinePath"`
	TimelineMemory *json.RawMessage `json:"timelineMemory"`
}

type visitEntry struct {
	TopCandidate placeCandidate `json:"topCandidate"`
}

type placeCandidate struct {
	PlaceLocation string `json:"placeLocation"`
	SemanticType  string `json:"semanticType"`
}

type activityEntry struct {
	Start          string            `json:"start"`
	End            string            `json:"end"`
	DistanceMeters float64           `json:"distanceMeters"`
	TopCandidate   activityCandidate `json:"topCandidate"`
}

type activityCandidate struct {
	Type string `json:"type"`
}

type pathPoint struct {
	Point         string `json:"point"`
	MinutesOffset string `json:"durationMinutesOffsetFromStartTime"`
}

// parseGeo parses "geo:12.9716,77.5946".
func parseGeo(geo string) (model.GeoPoint, error) {
	lat, lng, ok := strings.Cut(strings.TrimPrefix(geo, "geo:"), ",")
	if !ok {
		return model.GeoPoint{}, fmt.Errorf("malformed geo uri %q", geo)
	}
	la, err := strconv.ParseFloat(lat, 64)
	if err != nil {
		return model.GeoPoint{}, fmt.Errorf("malformed geo uri %q: %w", geo, err)
	}
	ln, err := strconv.ParseFloat(lng, 64)
	if err != nil {
		return model.GeoPoint{}, fmt.Errorf("malformed geo uri %q: %w", geo, err)
	}
	return model.GeoPoint{Lat: la, Lng: ln}, nil
}

// dms renders a coordinate in degrees/minutes/seconds with a compass
// direction, e.g. 12°58′17.76″ N.
func dms(value float64, positive, negative string) string {
	dir := positive
	if value < 0 {
		dir = negative
		value = -value
	}
	degrees := int(value)
	minutesFloat := (value - float64(degrees)) * 60
	minutes := int(minutesFloat)
	seconds := (minutesFloat - float64(minutes)) * 60
	return fmt.Sprintf("%d°%d′%.2f″ %s", degrees, minutes, seconds, dir)
}

func formatPoint(pt model.GeoPoint) (lat, lng string) {
	return dms(pt.Lat, "N", "S"), dms(pt.Lng, "E", "W")
}

// render turns an entry into (timestamp, text, coordinates). Entries
// this provider does not represent (timelineMemory, unknown shapes)
// return ok=false.
func (p *Provider) render(e timelineEntry) (ts time.Time, text string, coords []model.GeoPoint, ok bool) {
	start, err := time.Parse(time.RFC3339, e.StartTime)
	if err != nil {
		p.log.Warn().Str("startTime", e.StartTime).Msg("unparseable timeline timestamp, skipping entry")
		return time.Time{}, "", nil, false
	}
	end, err := time.Parse(time.RFC3339, e.EndTime)
	if err != nil {
		p.log.Warn().Str("endTime", e.EndTime).Msg("unparseable timeline timestamp, skipping entry")
		return time.Time{}, "", nil, false
	}
	durationMin := int(end.Sub(start).Minutes())

	switch {
	case e.Visit != nil:
		pt, err := parseGeo(e.Visit.TopCandidate.PlaceLocation)
		if err != nil {
			p.log.Warn().Err(err).Msg("skipping visit entry")
			return time.Time{}, "", nil, false
		}
		latS, lngS := formatPoint(pt)

		// Hierarchy level 0/1 is a confident place fix; higher levels
		// are coarse area estimates.
		verb := "Visited place"
		if e.HierarchyLevel != nil && *e.HierarchyLevel > 1 {
			verb = "Was in"
		}
		placeType := e.Visit.TopCandidate.SemanticType
		var b strings.Builder
		b.WriteString(verb + "\n")
		if placeType != "" && placeType != "Unknown" {
			b.WriteString(placeType + ",\n")
		}
		fmt.Fprintf(&b, "%s, %s\nfor %d minutes\n", latS, lngS, durationMin)
		return start, b.String(), []model.GeoPoint{pt}, true

	case e.Activity != nil:
		from, err := parseGeo(e.Activity.Start)
		if err != nil {
			p.log.Warn().Err(err).Msg("skipping activity entry")
			return time.Time{}, "", nil, false
		}
		to, err := parseGeo(e.Activity.End)
		if err != nil {
			p.log.Warn().Err(err).Msg("skipping activity entry")
			return time.Time{}, "", nil, false
		}
		fromLat, fromLng := formatPoint(from)
		toLat, toLng := formatPoint(to)
		activity := e.Activity.TopCandidate.Type
		if activity == "" {
			activity = "Unknown"
		}
		text := fmt.Sprintf("Was %s\nfrom %s,%s\nto %s,%s\nfor %d meters\nin %d minutes\n",
			activity, fromLat, fromLng, toLat, toLng, int(e.Activity.DistanceMeters), durationMin)
		return start, text, []model.GeoPoint{from, to}, true

	case len(e.TimelinePath) > 0:
		firstPoint := e.TimelinePath[0]
		lastPoint := e.TimelinePath[len(e.TimelinePath)-1]
		first, err := parseGeo(firstPoint.Point)
		if err != nil {
			p.log.Warn().Err(err).Msg("skipping path entry")
			return time.Time{}, "", nil, false
		}
		last, err := parseGeo(lastPoint.Point)
		if err != nil {
			p.log.Warn().Err(err).Msg("skipping path entry")
			return time.Time{}, "", nil, false
		}
		firstOffset, _ := strconv.Atoi(firstPoint.MinutesOffset)
		lastOffset, _ := strconv.Atoi(lastPoint.MinutesOffset)
		firstLat, firstLng := formatPoint(first)
		lastLat, lastLng := formatPoint(last)
		text := fmt.Sprintf("Movement\nstarted at %s,%s\nended at %s,%s\nin %d min",
			firstLat, firstLng, lastLat, lastLng, lastOffset-firstOffset)
		return start.Add(time.Duration(firstOffset) * time.Minute), text, []model.GeoPoint{first, last}, true
	}

	// timelineMemory entries carry no coordinates.
	return time.Time{}, "", nil, false
}

func (p *Provider) Fetch(_ context.Context, q provider.Query) ([]model.Message, error) {
	if !p.status.Working() {
		return nil, nil
	}
	if _, _, err := q.Bounds(); err != nil {
		return nil, err
	}
	if len(q.Senders) > 0 || q.Search != nil {
		return nil, nil
	}

	raw, err := os.ReadFile(filepath.Join(p.dir, historyFile))
	if err != nil {
		p.status.MarkBroken()
		p.log.Warn().Err(err).Msg("location history unavailable")
		return nil, nil
	}
	var entries []timelineEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse %s: %w", historyFile, err)
	}

	var msgs []model.Message
	for _, e := range entries {
		ts, text, coords, ok := p.render(e)
		if !ok || !q.InBounds(ts) {
			continue
		}
		msgs = append(msgs, model.Message{
			Timestamp: ts,
			Type:      model.MessageSent,
			Text:      text,
			Sender:    p.owner,
			Provider:  Name,
			Media:     model.MediaMixed,
			Context:   model.Context{Coordinates: coords},
		})
	}

	provider.SortMessages(msgs)
	return msgs, nil
}

func (p *Provider) Span(ctx context.Context) (*model.Date, *model.Date, error) {
	return provider.SpanFromFetch(ctx, p)
}

// Asset always misses; the history carries no media.
func (p *Provider) Asset(_ context.Context, _ string) (*model.Asset, error) {
	return nil, model.ErrNotFound
}
