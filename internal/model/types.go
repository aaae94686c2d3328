package model

import "time"

// MessageType classifies a message relative to the owning user.
type MessageType string

const (
	MessageSent     MessageType = "sent"
	MessageReceived MessageType = "received"
)

// MediaType classifies whether a message carries text, media, or both.
type MediaType string

const (
	MediaText    MediaType = "text"
	MediaMixed   MediaType = "mixed"
	MediaNonText MediaType = "non_text"
)

// SystemSender is the synthetic sender for messages that have no named
// author (group notices, export system lines).
const SystemSender = "System"

// GeoPoint is a WGS84 coordinate attached to location-bearing messages.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Attachment describes a binary asset referenced by a message. The ID is
// opaque outside the originating provider.
type Attachment struct {
	ID       string `json:"assetId"`
	Name     string `json:"assetName,omitempty"`
	MIMEType string `json:"mimeType,omitempty"`
	ViewURL  string `json:"viewUrl,omitempty"`
}

// Context carries the provider-specific extras of a message as explicit
// optional fields rather than an open key/value bag.
type Context struct {
	Attachment  *Attachment `json:"attachment,omitempty"`
	Coordinates []GeoPoint  `json:"coordinates,omitempty"`
	Edited      bool        `json:"edited,omitempty"`
	Deleted     bool        `json:"deleted,omitempty"`
}

// Message is the canonical unit of aggregated history: one communication
// event or media item. Messages are constructed fresh on every fetch and
// never mutated afterwards, except that the aggregator may rewrite Sender
// once during display-name resolution.
type Message struct {
	Timestamp time.Time   `json:"datetime"`
	Type      MessageType `json:"type"`
	Text      string      `json:"message"`
	Sender    string      `json:"sender"`
	Provider  string      `json:"provider"`
	ChatName  string      `json:"chatName,omitempty"`
	IsGroup   bool        `json:"isGroup"`
	Media     MediaType   `json:"mediaType"`
	Context   Context     `json:"context"`
}

// Asset is the raw content of an attachment together with its MIME type.
type Asset struct {
	Data     []byte
	MIMEType string
}
