// Package diary reads per-year CSV diary files. Each line is
// `DD/MM/YYYY,entry text`; the entry is timestamped 23:59 so it sorts
// after the day's other events.
package diary

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/memorylane/memorylane/internal/model"
	"github.com/memorylane/memorylane/internal/provider"
)

// Name identifies this provider in privacy rules and asset URLs.
const Name = "diary"

const dateLayout = "2/1/2006"

// Lines dated "~" or "-", and entries starting with "~", are private
// notes and never surface.
var skipMarkers = map[string]bool{"~": true, "-": true}

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
		p.log.Warn().Err(err).Str("dir", dir).Msg("diary folder unavailable")
	}
	return p
}

func (p *Provider) Name() string    { return Name }
func (p *Provider) IsWorking() bool { return p.status.Working() }

var capitalizeRE = regexp.MustCompile(`(^|\n)(\s*)(\w)`)

// capitalizeAfterNewline upper-cases the first letter of the entry and
// of every line inside it.
func capitalizeAfterNewline(s string) string {
	return capitalizeRE.ReplaceAllStringFunc(s, func(m string) string {
		return m[:len(m)-1] + strings.ToUpper(m[len(m)-1:])
	})
}

// parseLine splits one diary line into its day and cleaned-up text.
// ok is false for private notes, blank lines, and undated rows.
func (p *Provider) parseLine(line string) (ts time.Time, text string, ok bool) {
	dateStr, rest, found := strings.Cut(line, ",")
	if !found {
		return time.Time{}, "", false
	}
	if skipMarkers[dateStr] {
		return time.Time{}, "", false
	}
	rest = strings.Trim(rest, `"`)
	if strings.HasPrefix(rest, "~") {
		return time.Time{}, "", false
	}

	day, err := time.ParseInLocation(dateLayout, dateStr, time.Local)
	if err != nil {
		p.log.Warn().Str("line", line).Msg("unparseable diary date, skipping line")
		return time.Time{}, "", false
	}

	rest = strings.ReplaceAll(rest, ">>", "\n")
	rest = capitalizeAfterNewline(rest)
	return day.Add(23*time.Hour + 59*time.Minute), rest, true
}

// yearFiles returns the diary files covering the given years. File
// names carry the year somewhere (`diary_2022.csv`, `2022.csv`).
func (p *Provider) yearFiles(years map[int]bool) ([]string, error) {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		for year := range years {
			if strings.Contains(e.Name(), fmt.Sprintf("%d", year)) {
				files = append(files, filepath.Join(p.dir, e.Name()))
				break
			}
		}
	}
	return files, nil
}

func (p *Provider) Fetch(_ context.Context, q provider.Query) ([]model.Message, error) {
	if !p.status.Working() {
		return nil, nil
	}
	from, to, err := q.Window()
	if err != nil {
		return nil, err
	}

	// The diary has a single author.
	if len(q.Senders) > 0 {
		if len(q.Senders) != 1 || !strings.EqualFold(q.Senders[0], p.owner) {
			return nil, nil
		}
	}

	years := make(map[int]bool)
	for y := from.Year(); y <= to.Year(); y++ {
		years[y] = true
	}
	files, err := p.yearFiles(years)
	if err != nil {
		p.status.MarkBroken()
		p.log.Warn().Err(err).Msg("diary folder unavailable")
		return nil, nil
	}

	var msgs []model.Message
	for _, path := range files {
		f, err := os.Open(path)
		if err != nil {
			p.log.Warn().Err(err).Str("file", path).Msg("unreadable diary file, skipping")
			continue
		}
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			ts, text, ok := p.parseLine(strings.TrimSpace(scanner.Text()))
			if !ok || !q.InBounds(ts) || !q.MatchesText(text) {
				continue
			}
			msgs = append(msgs, model.Message{
				Timestamp: ts,
				Type:      model.MessageSent,
				Text:      text,
				Sender:    p.owner,
				Provider:  Name,
				Media:     model.MediaText,
			})
		}
		if err := scanner.Err(); err != nil {
			p.log.Warn().Err(err).Str("file", path).Msg("error reading diary file")
		}
		f.Close()
	}

	provider.SortMessages(msgs)
	return msgs, nil
}

func (p *Provider) Span(ctx context.Context) (*model.Date, *model.Date, error) {
	return provider.SpanFromFetch(ctx, p)
}

// Asset always misses; diary entries carry no media.
func (p *Provider) Asset(_ context.Context, _ string) (*model.Asset, error) {
	return nil, model.ErrNotFound
}
