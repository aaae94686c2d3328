package gphotos

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memorylane/memorylane/internal/logger"
	"github.com/memorylane/memorylane/internal/model"
	"github.com/memorylane/memorylane/internal/provider"
)

func seedIndex(t *testing.T, dir string, idx *index) {
	t.Helper()
	require.NoError(t, saveIndex(dir, idx))
}

func sampleIndex() *index {
	return &index{
		Sessions: map[string]string{"sess-1": sessionProcessed},
		MediaItems: map[string]mediaItem{
			"m1": {
				FileName:   "m1___beach.jpg",
				MIMEType:   "image/jpeg",
				CreateTime: "2024-07-01T09:00:00+05:30",
			},
			"m2": {
				FileName:   "m2___sunset.mp4",
				MIMEType:   "video/mp4",
				CreateTime: "2024-07-02T19:30:00+05:30",
			},
		},
	}
}

func rangeQuery(t *testing.T, from, to string) provider.Query {
	t.Helper()
	start, err := model.ParseDate(from)
	require.NoError(t, err)
	end, err := model.ParseDate(to)
	require.NoError(t, err)
	return provider.Query{StartDate: &start, EndDate: &end}
}

func TestNewCreatesIndexOnFirstRun(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "google_photos")
	p := New(dir, "Ritik", time.UTC, logger.New("test"))
	require.True(t, p.IsWorking())

	_, err := os.Stat(filepath.Join(dir, indexFile))
	require.NoError(t, err)

	msgs, err := p.Fetch(t.Context(), rangeQuery(t, "2024-01-01", "2024-12-31"))
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestFetchServesFromIndex(t *testing.T) {
	dir := t.TempDir()
	seedIndex(t, dir, sampleIndex())
	p := New(dir, "Ritik", time.UTC, logger.New("test"))

	msgs, err := p.Fetch(t.Context(), rangeQuery(t, "2024-07-01", "2024-07-31"))
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	first := msgs[0]
	require.NotNil(t, first.Context.Attachment)
	assert.Equal(t, "m1", first.Context.Attachment.ID)
	assert.Equal(t, "m1___beach.jpg", first.Context.Attachment.Name)
	assert.Equal(t, "image/jpeg", first.Context.Attachment.MIMEType)
	assert.Equal(t, "/api/asset/gphotos/m1", first.Context.Attachment.ViewURL)
	assert.Equal(t, model.MediaNonText, first.Media)
	assert.Equal(t, "Ritik", first.Sender)
	assert.True(t, msgs[0].Timestamp.Before(msgs[1].Timestamp))
}

func TestFetchWindow(t *testing.T) {
	dir := t.TempDir()
	seedIndex(t, dir, sampleIndex())
	p := New(dir, "Ritik", time.UTC, logger.New("test"))

	on, err := model.ParseDate("2024-07-02")
	require.NoError(t, err)
	msgs, err := p.Fetch(t.Context(), provider.Query{OnDate: &on})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "m2", msgs[0].Context.Attachment.ID)
}

func TestFetchSendersAndSearchReturnEmpty(t *testing.T) {
	dir := t.TempDir()
	seedIndex(t, dir, sampleIndex())
	p := New(dir, "Ritik", time.UTC, logger.New("test"))

	q := rangeQuery(t, "2024-07-01", "2024-07-31")
	q.Senders = []string{"Alice"}
	msgs, err := p.Fetch(t.Context(), q)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	q = rangeQuery(t, "2024-07-01", "2024-07-31")
	q.Search = regexp.MustCompile(`beach`)
	msgs, err = p.Fetch(t.Context(), q)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestAsset(t *testing.T) {
	dir := t.TempDir()
	seedIndex(t, dir, sampleIndex())
	require.NoError(t, os.WriteFile(filepath.Join(dir, "m1___beach.jpg"), []byte("jpeg-bytes"), 0o644))
	p := New(dir, "Ritik", time.UTC, logger.New("test"))

	asset, err := p.Asset(t.Context(), "m1")
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg-bytes"), asset.Data)
	assert.Equal(t, "image/jpeg", asset.MIMEType)

	// Indexed but not downloaded.
	_, err = p.Asset(t.Context(), "m2")
	assert.ErrorIs(t, err, model.ErrNotFound)

	// Never indexed.
	_, err = p.Asset(t.Context(), "m3")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestCorruptIndexMarksBroken(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, indexFile), []byte("{broken"), 0o644))
	p := New(dir, "Ritik", time.UTC, logger.New("test"))
	assert.False(t, p.IsWorking())

	msgs, err := p.Fetch(t.Context(), rangeQuery(t, "2024-07-01", "2024-07-31"))
	require.NoError(t, err)
	assert.Nil(t, msgs)
}
