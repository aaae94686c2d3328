package gphotos

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// indexFile caches picker sessions and media metadata between runs so
// Fetch never touches the network. Media bytes live next to it under
// the provider directory.
const indexFile = "index.json"

const (
	sessionProcessing = "PROCESSING"
	sessionProcessed  = "PROCESSED"
)

type index struct {
	// Sessions maps picker session ids to their processing status.
	Sessions map[string]string `json:"sessions"`
	// MediaItems maps media item ids to their cached metadata.
	MediaItems map[string]mediaItem `json:"mediaItems"`
}

type mediaItem struct {
	BaseURL    string `json:"base_url"`
	FileName   string `json:"file_name"`
	MIMEType   string `json:"mime_type"`
	CreateTime string `json:"createTime"`
}

func (m mediaItem) createdAt() (time.Time, error) {
	return time.Parse(time.RFC3339, m.CreateTime)
}

func newIndex() *index {
	return &index{Sessions: map[string]string{}, MediaItems: map[string]mediaItem{}}
}

// loadIndex reads the cache, creating an empty one on first run.
func loadIndex(dir string) (*index, error) {
	path := filepath.Join(dir, indexFile)
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		idx := newIndex()
		if err := saveIndex(dir, idx); err != nil {
			return nil, err
		}
		return idx, nil
	}
	if err != nil {
		return nil, err
	}

	idx := newIndex()
	if err := json.Unmarshal(raw, idx); err != nil {
		return nil, fmt.Errorf("parse %s: %w", indexFile, err)
	}
	if idx.Sessions == nil {
		idx.Sessions = map[string]string{}
	}
	if idx.MediaItems == nil {
		idx.MediaItems = map[string]mediaItem{}
	}
	return idx, nil
}

func saveIndex(dir string, idx *index) error {
	raw, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, indexFile), raw, 0o644)
}
