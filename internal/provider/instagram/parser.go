package instagram

import (
	"mime"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/memorylane/memorylane/internal/model"
	"github.com/memorylane/memorylane/internal/provider"
)

// assetPrefix is where the export keeps conversation media, relative to
// the export root.
const assetPrefix = "your_instagram_activity/messages/inbox/"

// deletedUser names conversations whose folder carries no participant
// name, which happens when the account was deleted.
const deletedUser = "deleted_user"

const attachmentNotice = "sent an attachment"

// conversation mirrors message_1.json. The export stores messages
// newest-first.
type conversation struct {
	Participants []participant `json:"participants"`
	Messages     []exportedMessage `json:"messages"`
}

type participant struct {
	Name string `json:"name"`
}

type exportedMessage struct {
	SenderName  string       `json:"sender_name"`
	TimestampMS int64        `json:"timestamp_ms"`
	Content     string       `json:"content"`
	Share       *share       `json:"share"`
	Photos      []mediaAsset `json:"photos"`
	Videos      []mediaAsset `json:"videos"`
}

type share struct {
	Link      string `json:"link"`
	ShareText string `json:"share_text"`
}

type mediaAsset struct {
	URI string `json:"uri"`
}

// fixMojibake repairs the export's double-encoded UTF-8: the JSON holds
// UTF-8 bytes read back as latin-1 code points, so emoji arrive as rune
// salad. Reinterpreting the code points as bytes recovers the original
// text; anything that does not round-trip is returned unchanged.
func fixMojibake(s string) string {
	buf := make([]byte, 0, len(s))
	for _, r := range s {
		if r > 0xFF {
			return s
		}
		buf = append(buf, byte(r))
	}
	if !utf8.Valid(buf) {
		return s
	}
	return string(buf)
}

func clean(s string) string {
	return strings.TrimSpace(fixMojibake(s))
}

func timeFromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}

// attachmentFromURI turns an export-relative media URI into an
// attachment. URIs outside the inbox folder are skipped.
func attachmentFromURI(uri string) (model.Attachment, bool) {
	if !strings.HasPrefix(uri, assetPrefix) {
		return model.Attachment{}, false
	}
	fileID := strings.TrimPrefix(uri, assetPrefix)
	id := strings.ReplaceAll(fileID, "/", "___")
	return model.Attachment{
		ID:       id,
		Name:     filepath.Base(fileID),
		MIMEType: mime.TypeByExtension(filepath.Ext(fileID)),
		ViewURL:  "/api/asset/" + Name + "/" + id,
	}, true
}

// chatName resolves a one-on-one conversation to the other participant;
// groups keep the folder-derived name.
func (c conversation) chatName(owner, fallback string) string {
	for _, p := range c.Participants {
		if p.Name != "" && clean(p.Name) != owner {
			return clean(p.Name)
		}
	}
	return fallback
}

func (c conversation) isGroup() bool {
	return len(c.Participants) > 2
}

type parseContext struct {
	owner   string
	matcher provider.SenderMatcher
	query   provider.Query
}

// parseConversation flattens one conversation into timeline messages
// inside the query window. Messages carrying several media assets fan
// out into one message per asset. The export is newest-first, so the
// result is reversed into chronological order before returning.
func parseConversation(c conversation, folderName string, pc parseContext) []model.Message {
	group := c.isGroup()
	if group && pc.query.IgnoreGroups {
		return nil
	}
	name := c.chatName(pc.owner, folderName)
	if group {
		name = folderName
	}

	var out []model.Message
	for _, m := range c.Messages {
		ts := timeFromMillis(m.TimestampMS)
		if !pc.query.InBounds(ts) {
			continue
		}

		text := m.Content
		if text != "" && strings.Contains(text, attachmentNotice) {
			text = ""
		}
		if text != "" && (strings.HasPrefix(text, "Say hi to") || strings.HasSuffix(text, "Say hi to")) {
			continue
		}

		var shareText string
		if m.Share != nil {
			shareText = m.Share.ShareText
			if m.Share.Link != "" {
				if shareText != "" {
					shareText += " "
				}
				shareText += m.Share.Link
			}
		}
		if shareText != "" {
			if text != "" {
				text += " "
			}
			text += shareText
		}

		var attachments []model.Attachment
		for _, a := range append(m.Photos, m.Videos...) {
			att, ok := attachmentFromURI(a.URI)
			if !ok {
				continue
			}
			attachments = append(attachments, att)
		}
		if text == "" && len(attachments) == 0 {
			continue
		}
		text = clean(text)

		sender := clean(m.SenderName)
		msgType := model.MessageReceived
		if sender == pc.owner {
			msgType = model.MessageSent
		}
		if len(pc.query.Senders) > 0 && !pc.matcher.MatchesSender(sender, pc.query.Senders) {
			continue
		}
		if !pc.query.MatchesText(text) {
			continue
		}

		media := model.MediaText
		if len(attachments) > 0 {
			media = model.MediaNonText
		}

		base := model.Message{
			Timestamp: ts,
			Type:      msgType,
			Text:      text,
			Sender:    sender,
			Provider:  Name,
			ChatName:  name,
			IsGroup:   group,
			Media:     media,
		}
		if len(attachments) == 0 {
			out = append(out, base)
			continue
		}
		for i := range attachments {
			msg := base
			msg.Context = model.Context{Attachment: &attachments[i]}
			out = append(out, msg)
		}
	}

	reverse(out)
	return out
}

func reverse(msgs []model.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
