// Package uber turns a rider data export's trip history into timeline
// entries, one per completed trip.
package uber

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
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
const Name = "uber"

const tripsFile = "trips_data-0.csv"

const milesToKM = 1.60934

// Provider reads trips_data-0.csv. Trip rows carry no text to search
// and no counterpart sender, so Senders/Search queries return empty.
type Provider struct {
	dir    string
	owner  string
	status provider.Status
	log    zerolog.Logger
}

func New(dir, owner string, log zerolog.Logger) *Provider {
	p := &Provider{dir: dir, owner: owner, log: log.With().Str("provider", Name).Logger()}
	if _, err := os.Stat(p.tripsPath()); err != nil {
		p.status.MarkBroken()
		p.log.Warn().Err(err).Str("dir", dir).Msg("trip history unavailable")
	}
	return p
}

func (p *Provider) tripsPath() string { return filepath.Join(p.dir, tripsFile) }

func (p *Provider) Name() string    { return Name }
func (p *Provider) IsWorking() bool { return p.status.Working() }

type trip struct {
	startedAt   time.Time
	product     string
	city        string
	airportTrip bool
	distanceKM  float64
	duration    time.Duration
	fare        float64
	pickup      *model.GeoPoint
	dropoff     *model.GeoPoint
}

func (t trip) text() string {
	text := fmt.Sprintf("Uber ride in %s in %s for %.1fkm in %s for Rs %d",
		t.product, t.city, t.distanceKM, humanDuration(t.duration), int(t.fare))
	if t.airportTrip {
		text += " (Airport trip)"
	}
	return text
}

// humanDuration renders a trip length the way a ride receipt would:
// largest two units, no zero-padding.
func humanDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm", m)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

var tripTimestampLayouts = []string{
	"2006-01-02 15:04:05 -0700 MST",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func parseTripTime(s string) (time.Time, error) {
	s = strings.TrimSuffix(strings.TrimSpace(s), "Z")
	var err error
	for _, layout := range tripTimestampLayouts {
		var ts time.Time
		if ts, err = time.ParseInLocation(layout, s, time.Local); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, err
}

// parseTrips streams the CSV and keeps completed trips only. Rows with
// broken fields are skipped with a warning rather than failing the
// whole history.
func (p *Provider) parseTrips(r io.Reader) ([]trip, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read trip history header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	field := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	var trips []trip
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			p.log.Warn().Err(err).Msg("malformed trip row, skipping")
			continue
		}
		if field(row, "is_completed") != "true" {
			continue
		}

		started := field(row, "begintrip_timestamp_local")
		if started == "" {
			started = field(row, "request_timestamp_local")
		}
		if started == "" {
			continue
		}
		ts, err := parseTripTime(started)
		if err != nil {
			p.log.Warn().Str("timestamp", started).Msg("unparseable trip timestamp, skipping row")
			continue
		}

		miles, err := strconv.ParseFloat(field(row, "trip_distance_miles"), 64)
		if err != nil {
			p.log.Warn().Str("distance", field(row, "trip_distance_miles")).Msg("unparseable trip distance, skipping row")
			continue
		}
		seconds, err := strconv.ParseFloat(field(row, "trip_duration_seconds"), 64)
		if err != nil {
			p.log.Warn().Str("duration", field(row, "trip_duration_seconds")).Msg("unparseable trip duration, skipping row")
			continue
		}
		fare, err := strconv.ParseFloat(field(row, "fare_amount"), 64)
		if err != nil {
			p.log.Warn().Str("fare", field(row, "fare_amount")).Msg("unparseable trip fare, skipping row")
			continue
		}

		t := trip{
			startedAt:   ts,
			product:     field(row, "product_type_name"),
			city:        field(row, "city_name"),
			airportTrip: field(row, "is_airport_trip") == "true",
			distanceKM:  math.Round(miles*milesToKM*10) / 10,
			duration:    time.Duration(seconds) * time.Second,
			fare:        fare,
		}
		t.pickup = geoPoint(field(row, "begintrip_lat"), field(row, "begintrip_lng"))
		t.dropoff = geoPoint(field(row, "dropoff_lat"), field(row, "dropoff_lng"))
		trips = append(trips, t)
	}
	return trips, nil
}

func geoPoint(lat, lng string) *model.GeoPoint {
	la, err := strconv.ParseFloat(lat, 64)
	if err != nil {
		return nil
	}
	ln, err := strconv.ParseFloat(lng, 64)
	if err != nil {
		return nil
	}
	return &model.GeoPoint{Lat: la, Lng: ln}
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

	f, err := os.Open(p.tripsPath())
	if err != nil {
		p.status.MarkBroken()
		p.log.Warn().Err(err).Msg("trip history unavailable")
		return nil, nil
	}
	defer f.Close()

	trips, err := p.parseTrips(f)
	if err != nil {
		return nil, err
	}

	var msgs []model.Message
	for _, t := range trips {
		if !q.InBounds(t.startedAt) {
			continue
		}
		var coords []model.GeoPoint
		if t.pickup != nil {
			coords = append(coords, *t.pickup)
		}
		if t.dropoff != nil {
			coords = append(coords, *t.dropoff)
		}
		msgs = append(msgs, model.Message{
			Timestamp: t.startedAt,
			Type:      model.MessageSent,
			Text:      t.text(),
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

// Asset always misses; trip entries carry no media.
func (p *Provider) Asset(_ context.Context, _ string) (*model.Asset, error) {
	return nil, model.ErrNotFound
}
