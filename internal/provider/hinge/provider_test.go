package hinge

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memorylane/memorylane/internal/logger"
	"github.com/memorylane/memorylane/internal/model"
	"github.com/memorylane/memorylane/internal/provider"
)

type stubMatchTimes map[string]string

func (s stubMatchTimes) HingeMatchTimes() map[string]string { return s }

const sampleMatches = `[
  {
    "like": [{"timestamp": "2023-05-01 19:00:00", "like": [{"comment": "Great taste in books"}]}],
    "match": [{"timestamp": "2023-05-02 09:30:00"}],
    "chats": [
      {"timestamp": "2023-05-02 10:00:00", "body": "Hey! How was the hike?"},
      {"timestamp": "2023-05-03 21:15:00", "body": "Dinner friday?"}
    ]
  },
  {
    "like": [{"timestamp": "2023-06-10 12:00:00", "like": [{}]}]
  }
]`

func writeMatches(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, matchesFile), []byte(body), 0o644))
	return dir
}

func rangeQuery(t *testing.T, from, to string) provider.Query {
	t.Helper()
	start, err := model.ParseDate(from)
	require.NoError(t, err)
	end, err := model.ParseDate(to)
	require.NoError(t, err)
	return provider.Query{StartDate: &start, EndDate: &end}
}

func newTestProvider(t *testing.T, dir string, names stubMatchTimes) *Provider {
	t.Helper()
	return New(dir, "Ritik", names, logger.New("test"))
}

func TestFetchAllEventKinds(t *testing.T) {
	dir := writeMatches(t, sampleMatches)
	p := newTestProvider(t, dir, stubMatchTimes{"2023-05-02 09:30:00": "Priya"})

	msgs, err := p.Fetch(t.Context(), rangeQuery(t, "2023-05-01", "2023-06-30"))
	require.NoError(t, err)
	require.Len(t, msgs, 5)

	texts := make([]string, len(msgs))
	for i, m := range msgs {
		texts[i] = m.Text
		assert.Equal(t, model.MessageSent, m.Type)
		assert.Equal(t, "Ritik", m.Sender)
		assert.Equal(t, Name, m.Provider)
	}
	assert.Equal(t, []string{"Great taste in books", "Matched", "Hey! How was the hike?", "Dinner friday?", "Liked"}, texts)

	// First record resolves through the match-time registry, second
	// falls back to its position.
	assert.Equal(t, "Priya", msgs[0].ChatName)
	assert.Equal(t, "Match 2", msgs[4].ChatName)
}

func TestFetchLikeWithoutCommentDefaults(t *testing.T) {
	dir := writeMatches(t, `[{"like": [{"timestamp": "2023-06-10 12:00:00", "like": []}]}]`)
	p := newTestProvider(t, dir, stubMatchTimes{})

	msgs, err := p.Fetch(t.Context(), rangeQuery(t, "2023-06-01", "2023-06-30"))
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Liked", msgs[0].Text)
}

func TestFetchSenderFilterOwnerOnly(t *testing.T) {
	dir := writeMatches(t, sampleMatches)
	p := newTestProvider(t, dir, stubMatchTimes{})

	q := rangeQuery(t, "2023-05-01", "2023-06-30")
	q.Senders = []string{"Priya"}
	msgs, err := p.Fetch(t.Context(), q)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	q.Senders = []string{"ritik"}
	msgs, err = p.Fetch(t.Context(), q)
	require.NoError(t, err)
	assert.Len(t, msgs, 5)

	q.Senders = []string{"ritik", "Priya"}
	msgs, err = p.Fetch(t.Context(), q)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestFetchSearchFilter(t *testing.T) {
	dir := writeMatches(t, sampleMatches)
	p := newTestProvider(t, dir, stubMatchTimes{})

	q := rangeQuery(t, "2023-05-01", "2023-06-30")
	q.Search = regexp.MustCompile(`(?i)dinner`)
	msgs, err := p.Fetch(t.Context(), q)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Dinner friday?", msgs[0].Text)
}

func TestFetchWindow(t *testing.T) {
	dir := writeMatches(t, sampleMatches)
	p := newTestProvider(t, dir, stubMatchTimes{})

	on, err := model.ParseDate("2023-05-02")
	require.NoError(t, err)
	msgs, err := p.Fetch(t.Context(), provider.Query{OnDate: &on})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Matched", msgs[0].Text)
	assert.Equal(t, "Hey! How was the hike?", msgs[1].Text)
}

func TestFetchMissingFileMarksBroken(t *testing.T) {
	p := newTestProvider(t, t.TempDir(), stubMatchTimes{})

	msgs, err := p.Fetch(t.Context(), rangeQuery(t, "2023-05-01", "2023-06-30"))
	require.NoError(t, err)
	assert.Nil(t, msgs)
	assert.False(t, p.IsWorking())
}

func TestFetchMalformedFileErrors(t *testing.T) {
	dir := writeMatches(t, `{not json`)
	p := newTestProvider(t, dir, stubMatchTimes{})

	_, err := p.Fetch(t.Context(), rangeQuery(t, "2023-05-01", "2023-06-30"))
	assert.Error(t, err)
	assert.True(t, p.IsWorking())
}

func TestAssetAlwaysMisses(t *testing.T) {
	p := newTestProvider(t, t.TempDir(), stubMatchTimes{})
	_, err := p.Asset(t.Context(), "anything")
	assert.ErrorIs(t, err, model.ErrNotFound)
}
