package diary

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

const diary2022 = `12/1/2022,"went cycling by the lake>>legs are done for"
13/1/2022,~private thought
~,not a real entry
-,neither is this
14/1/2022,quiet day
garbage line without commas? no
31/2/2022,impossible date
`

const diary2023 = `2/3/2023,started a new job
`

func writeDiary(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "diary_2022.csv"), []byte(diary2022), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "diary_2023.csv"), []byte(diary2023), 0o644))
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

func TestCapitalizeAfterNewline(t *testing.T) {
	assert.Equal(t, "Went cycling\nLegs are done", capitalizeAfterNewline("went cycling\nlegs are done"))
	assert.Equal(t, "  Indented", capitalizeAfterNewline("  indented"))
	assert.Equal(t, "Already Fine", capitalizeAfterNewline("Already Fine"))
}

func TestFetchParsesEntries(t *testing.T) {
	dir := writeDiary(t)
	p := New(dir, "Ritik", logger.New("test"))

	on, err := model.ParseDate("2022-01-12")
	require.NoError(t, err)
	msgs, err := p.Fetch(t.Context(), provider.Query{OnDate: &on})
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	m := msgs[0]
	assert.Equal(t, "Went cycling by the lake\nLegs are done for", m.Text)
	assert.Equal(t, model.MessageSent, m.Type)
	assert.Equal(t, "Ritik", m.Sender)
	assert.Equal(t, Name, m.Provider)
	assert.Equal(t, 23, m.Timestamp.Hour())
	assert.Equal(t, 59, m.Timestamp.Minute())
}

func TestFetchSkipsPrivateAndBrokenLines(t *testing.T) {
	dir := writeDiary(t)
	p := New(dir, "Ritik", logger.New("test"))

	msgs, err := p.Fetch(t.Context(), rangeQuery(t, "2022-01-01", "2022-12-31"))
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Went cycling by the lake\nLegs are done for", msgs[0].Text)
	assert.Equal(t, "Quiet day", msgs[1].Text)
}

func TestFetchSpansYears(t *testing.T) {
	dir := writeDiary(t)
	p := New(dir, "Ritik", logger.New("test"))

	msgs, err := p.Fetch(t.Context(), rangeQuery(t, "2022-01-01", "2023-12-31"))
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "Started a new job", msgs[2].Text)
}

func TestFetchSenderAndSearchFilters(t *testing.T) {
	dir := writeDiary(t)
	p := New(dir, "Ritik", logger.New("test"))

	q := rangeQuery(t, "2022-01-01", "2023-12-31")
	q.Senders = []string{"Alice"}
	msgs, err := p.Fetch(t.Context(), q)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	q = rangeQuery(t, "2022-01-01", "2023-12-31")
	q.Senders = []string{"ritik"}
	q.Search = regexp.MustCompile(`(?i)cycling`)
	msgs, err = p.Fetch(t.Context(), q)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Text, "cycling")
}

func TestFetchYearWithoutFileIsEmpty(t *testing.T) {
	dir := writeDiary(t)
	p := New(dir, "Ritik", logger.New("test"))

	msgs, err := p.Fetch(t.Context(), rangeQuery(t, "2019-01-01", "2019-12-31"))
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.True(t, p.IsWorking())
}

func TestMissingFolderMarksBroken(t *testing.T) {
	p := New(filepath.Join(t.TempDir(), "absent"), "Ritik", logger.New("test"))
	assert.False(t, p.IsWorking())

	msgs, err := p.Fetch(t.Context(), rangeQuery(t, "2022-01-01", "2022-12-31"))
	require.NoError(t, err)
	assert.Nil(t, msgs)
}
