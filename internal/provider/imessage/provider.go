// Package imessage reads an offline-synced copy of the Apple message
// store (sms.db) and its attachment backup.
package imessage

import (
	"context"
	"database/sql"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/memorylane/memorylane/internal/model"
	"github.com/memorylane/memorylane/internal/provider"
	"github.com/memorylane/memorylane/internal/sqlite"
)

// Name identifies this provider in privacy rules and asset URLs.
const Name = "imessage"

// appleEpoch is the zero point of message-store timestamps, which count
// nanoseconds since 2001-01-01.
var appleEpoch = time.Date(2001, time.January, 1, 0, 0, 0, 0, time.UTC)

const dbTimestampLayout = "2006-01-02 15:04:05"

// identityDirectory is the slice of the profile registry this provider
// needs: which chat identifiers belong to which person.
type identityDirectory interface {
	IMessageChatIDs() map[string][]string
	MatchesSender(raw string, requested []string) bool
}

// Provider serves messages from sms.db restricted to the chat
// identifiers registered in the profile registry.
type Provider struct {
	dir    string
	owner  string
	ids    identityDirectory
	status provider.Status
	log    zerolog.Logger

	db *sql.DB
}

func New(dir, owner string, ids identityDirectory, log zerolog.Logger) *Provider {
	p := &Provider{dir: dir, owner: owner, ids: ids, log: log.With().Str("provider", Name).Logger()}

	db, err := sqlite.OpenReadOnly(filepath.Join(dir, "sms.db"))
	if err != nil {
		p.status.MarkBroken()
		p.log.Warn().Err(err).Str("dir", dir).Msg("message store unavailable")
		return p
	}
	p.db = db
	return p
}

func (p *Provider) Name() string    { return Name }
func (p *Provider) IsWorking() bool { return p.status.Working() }

// toAppleTime converts a query bound to store nanoseconds. Row
// timestamps are rendered as plain wall-clock strings and re-read in
// the local zone, so only the bound's calendar fields may enter the
// comparison; using the absolute instant would shift the window by the
// zone offset.
func toAppleTime(t time.Time) int64 {
	wall := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
	return wall.Sub(appleEpoch).Nanoseconds()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// chatScope narrows the registered chat identifiers to the requested
// senders. A request naming the owner keeps everything, since every chat
// contains the owner's own messages.
func (p *Provider) chatScope(q provider.Query) (byChat map[string]string, empty bool) {
	senderChats := p.ids.IMessageChatIDs()

	if len(q.Senders) > 0 && !containsFold(q.Senders, p.owner) {
		scoped := make(map[string][]string)
		for name, chats := range senderChats {
			if p.ids.MatchesSender(name, q.Senders) {
				scoped[name] = chats
			}
		}
		if len(scoped) == 0 {
			return nil, true
		}
		senderChats = scoped
	}

	byChat = make(map[string]string)
	for name, chats := range senderChats {
		for _, id := range chats {
			byChat[id] = name
		}
	}
	return byChat, len(byChat) == 0
}

func containsFold(haystack []string, needle string) bool {
	for _, s := range haystack {
		if strings.EqualFold(s, needle) {
			return true
		}
	}
	return false
}

const fetchQuery = `
SELECT m.ROWID          AS message_id,
       m.text           AS message_text,
       m.attributedBody AS attributed_body,
       h.id             AS handle_identifier,
       c.chat_identifier,
       datetime(m.date / 1000000000 + strftime('%%s', '2001-01-01'), 'unixepoch') AS timestamp,
       m.is_from_me,
       a.ROWID     AS attachment_id,
       a.filename  AS attachment_filename,
       a.mime_type AS attachment_mime
FROM message m
         LEFT JOIN handle h ON m.handle_id = h.ROWID
         LEFT JOIN message_attachment_join maj ON m.ROWID = maj.message_id
         LEFT JOIN attachment a ON maj.attachment_id = a.ROWID
         JOIN chat_message_join cmj ON m.ROWID = cmj.message_id
         JOIN chat c ON cmj.chat_id = c.ROWID
WHERE c.chat_identifier IN (%s)
  AND m.date BETWEEN ? AND ?
ORDER BY m.date ASC`

// Fetch queries the store natively for the window; no per-day fan-out is
// needed since the database answers range queries directly.
func (p *Provider) Fetch(ctx context.Context, q provider.Query) ([]model.Message, error) {
	if !p.status.Working() {
		return nil, nil
	}
	from, to, err := q.Window()
	if err != nil {
		return nil, err
	}

	byChat, empty := p.chatScope(q)
	if empty {
		return nil, nil
	}

	ids := make([]string, 0, len(byChat))
	args := make([]any, 0, len(byChat)+2)
	for id := range byChat {
		ids = append(ids, id)
		args = append(args, id)
	}
	args = append(args, toAppleTime(from), toAppleTime(to))

	p.log.Debug().Int("chats", len(ids)).Msg("fetch start")

	query := fmt.Sprintf(fetchQuery, placeholders(len(ids)))
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query message store: %w", err)
	}
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		var (
			rowID          int64
			msgText        sql.NullString
			attributedBody []byte
			handleID       sql.NullString
			chatID         string
			timestamp      string
			isFromMe       int
			attachmentID   sql.NullInt64
			attachmentFile sql.NullString
			attachmentMIME sql.NullString
		)
		if err := rows.Scan(&rowID, &msgText, &attributedBody, &handleID, &chatID, &timestamp,
			&isFromMe, &attachmentID, &attachmentFile, &attachmentMIME); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}

		text := msgText.String
		if text == "" && len(attributedBody) > 0 {
			text, err = decodeAttributedBody(attributedBody)
			if err != nil {
				return nil, fmt.Errorf("message %d: %w", rowID, err)
			}
		}

		rawSender := chatID
		if handleID.Valid && handleID.String != "" {
			rawSender = handleID.String
		}

		var msgType model.MessageType
		var sender string
		if isFromMe == 1 {
			msgType = model.MessageSent
			sender = p.owner
		} else {
			msgType = model.MessageReceived
			sender = byChat[rawSender]
		}
		if sender == "" {
			continue
		}

		ctxData := model.Context{}
		media := model.MediaText
		if attachmentID.Valid && attachmentFile.Valid {
			id := serializeAssetPath(strings.TrimPrefix(attachmentFile.String, "~/Library/SMS/Attachments/"))
			ctxData.Attachment = &model.Attachment{
				ID:       id,
				MIMEType: attachmentMIME.String,
				ViewURL:  "/api/asset/" + Name + "/" + id,
			}
			media = model.MediaMixed
		}
		if text == "" && ctxData.Attachment == nil {
			continue
		}
		if ctxData.Attachment != nil && text == "" {
			media = model.MediaNonText
		}

		if len(q.Senders) > 0 && !p.ids.MatchesSender(sender, q.Senders) {
			continue
		}
		if !q.MatchesText(text) {
			continue
		}

		ts, err := time.ParseInLocation(dbTimestampLayout, timestamp, time.Local)
		if err != nil {
			p.log.Warn().Int64("message_id", rowID).Str("timestamp", timestamp).Msg("unparseable store timestamp, skipping row")
			continue
		}

		msgs = append(msgs, model.Message{
			Timestamp: ts,
			Type:      msgType,
			Text:      text,
			Sender:    sender,
			Provider:  Name,
			ChatName:  sender,
			IsGroup:   false,
			Media:     media,
			Context:   ctxData,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}

	provider.SortMessages(msgs)
	p.log.Debug().Int("messages", len(msgs)).Msg("fetch done")
	return msgs, nil
}

const spanQuery = `
SELECT MIN(m.date), MAX(m.date)
FROM message m
         JOIN chat_message_join cmj ON cmj.message_id = m.ROWID
         JOIN chat c ON c.ROWID = cmj.chat_id
WHERE c.chat_identifier IN (%s)`

// Span runs a cheap MIN/MAX query instead of fetching the whole corpus.
func (p *Provider) Span(ctx context.Context) (*model.Date, *model.Date, error) {
	if !p.status.Working() {
		return nil, nil, nil
	}

	byChat, empty := p.chatScope(provider.Query{})
	if empty {
		return nil, nil, nil
	}
	args := make([]any, 0, len(byChat))
	for id := range byChat {
		args = append(args, id)
	}

	var minNS, maxNS sql.NullInt64
	query := fmt.Sprintf(spanQuery, placeholders(len(args)))
	if err := p.db.QueryRowContext(ctx, query, args...).Scan(&minNS, &maxNS); err != nil {
		return nil, nil, fmt.Errorf("query message store span: %w", err)
	}
	if !minNS.Valid || !maxNS.Valid {
		return nil, nil, nil
	}

	// Same wall-clock frame as Fetch: the store value read as a calendar
	// day, not shifted into the local zone.
	start := model.DateOf(appleEpoch.Add(time.Duration(minNS.Int64)))
	end := model.DateOf(appleEpoch.Add(time.Duration(maxNS.Int64)))
	return &start, &end, nil
}

// Asset serves a previously copied attachment from <dir>/attachments.
// Attachment ids are relative store paths with '/' and ' ' made
// URL-safe, and double as flat file names in the attachments folder.
func (p *Provider) Asset(_ context.Context, assetID string) (*model.Asset, error) {
	if !p.status.Working() {
		return nil, model.ErrNotFound
	}

	path := filepath.Join(p.dir, "attachments", assetID)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, model.ErrNotFound
	}
	mimeType := mime.TypeByExtension(filepath.Ext(deserializeAssetPath(assetID)))
	if mimeType == "" {
		return nil, model.ErrUnknownMIME
	}
	return &model.Asset{Data: data, MIMEType: mimeType}, nil
}

func serializeAssetPath(path string) string {
	path = strings.TrimSpace(path)
	path = strings.ReplaceAll(path, "/", "___")
	return strings.ReplaceAll(path, " ", "---")
}

func deserializeAssetPath(id string) string {
	id = strings.ReplaceAll(id, "___", "/")
	return strings.ReplaceAll(id, "---", " ")
}
