package whatsapp

import (
	"mime"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/memorylane/memorylane/internal/model"
	"github.com/memorylane/memorylane/internal/provider"
)

// Two on-disk export variants exist. The phone client writes
// "WhatsApp Chat with <name>.txt" (optionally inside a media folder of
// the same name); the desktop client writes a "_chat.txt" transcript with
// bracketed seconds-precision timestamps. The variant is chosen from the
// path shape, never by sniffing content.
type variant int

const (
	variantPhone variant = iota
	variantDesktop
)

const (
	filePrefix         = "WhatsApp Chat with "
	desktopTranscript  = "_chat.txt"
	attachmentSentinel = "(file attached)"
	mediaOmitted       = "<Media omitted>"
	editedSentinel     = "<This message was edited>"
	deletedSentinel    = "This message was deleted"
	groupSentinel      = "created group"
)

var (
	phoneStartRE   = regexp.MustCompile(`^(\d{1,2}/\d{1,2}/\d{2,4}, \d{1,2}:\d{2}(?: [APap][Mm])?) - (.*)$`)
	desktopStartRE = regexp.MustCompile(`^\[(\d{1,2}/\d{1,2}/\d{2,4}, \d{1,2}:\d{2}:\d{2}(?: [APap][Mm])?)\] (.*)$`)
	senderRE       = regexp.MustCompile(`^(.*?): (.*)$`)
)

var timestampLayouts = map[variant][]string{
	variantPhone: {
		"2/1/2006, 15:04",  // 31/07/2020, 16:10
		"1/2/06, 3:04 PM",  // 10/24/16, 12:18 AM
		"1/2/06, 3:04 pm",
	},
	variantDesktop: {
		"2/1/06, 15:04:05",     // [21/03/23, 19:05:12]
		"2/1/2006, 3:04:05 PM", // [21/03/2023, 7:05:12 PM]
	},
}

func (v variant) startRE() *regexp.Regexp {
	if v == variantDesktop {
		return desktopStartRE
	}
	return phoneStartRE
}

func tryParseTimestamp(v variant, s string) (time.Time, bool) {
	for _, layout := range timestampLayouts[v] {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// chatFile is one discovered chat export.
type chatFile struct {
	name     string
	textPath string
	mediaDir string // empty for transcript-only exports
	variant  variant
}

// discoverChats classifies the entries of the WhatsApp data directory.
func discoverChats(dir string) ([]chatFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var chats []chatFile
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), filePrefix) {
			continue
		}
		suffix := strings.TrimPrefix(e.Name(), filePrefix)

		if !e.IsDir() {
			if !strings.HasSuffix(suffix, ".txt") {
				continue
			}
			chats = append(chats, chatFile{
				name:     strings.TrimSuffix(suffix, ".txt"),
				textPath: filepath.Join(dir, e.Name()),
				variant:  variantPhone,
			})
			continue
		}

		folder := filepath.Join(dir, e.Name())
		if _, err := os.Stat(filepath.Join(folder, desktopTranscript)); err == nil {
			chats = append(chats, chatFile{
				name:     suffix,
				textPath: filepath.Join(folder, desktopTranscript),
				mediaDir: folder,
				variant:  variantDesktop,
			})
			continue
		}
		chats = append(chats, chatFile{
			name:     suffix,
			textPath: filepath.Join(folder, e.Name()+".txt"),
			mediaDir: folder,
			variant:  variantPhone,
		})
	}
	return chats, nil
}

// lineDate records that a message starts at a line index with a date.
// Transcripts are chronologically monotonic, so the dates are sorted.
type lineDate struct {
	idx  int
	date model.Date
}

// buildIndex scans every line once and records (index, date) for each
// message-start line. Built once per file per call.
func buildIndex(lines []string, v variant) []lineDate {
	re := v.startRE()
	var index []lineDate
	for i, line := range lines {
		m := re.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		if ts, ok := tryParseTimestamp(v, m[1]); ok {
			index = append(index, lineDate{idx: i, date: model.DateOf(ts)})
		}
	}
	return index
}

// startLine binary-searches the index for the first line whose date
// satisfies the query: the leftmost exact match for an on-date query, the
// leftmost date >= start for a range. Returns false when no line
// qualifies.
func startLine(index []lineDate, q provider.Query) (int, bool) {
	if len(index) == 0 {
		return 0, false
	}
	start, end, err := q.Bounds()
	if err != nil {
		return 0, false
	}
	// Early exit when the window misses the file entirely.
	if end.Before(index[0].date) || index[len(index)-1].date.Before(start) {
		return 0, false
	}

	i := sort.Search(len(index), func(i int) bool {
		return !index[i].date.Before(start)
	})
	if i == len(index) {
		return 0, false
	}
	if q.OnDate != nil && index[i].date != *q.OnDate {
		return 0, false
	}
	return index[i].idx, true
}

// chatParse accumulates message buffers while walking transcript lines.
type chatParse struct {
	chat    chatFile
	query   provider.Query
	owner   string
	matcher provider.SenderMatcher
	log     zerolog.Logger

	cur     time.Time
	sender  string
	buf     []string
	hasMsg  bool
	isGroup bool
	aborted bool
	entries []model.Message
}

// parseChat parses one transcript for the query window. An unreadable
// file is treated as an empty chat.
func parseChat(chat chatFile, q provider.Query, owner string, matcher provider.SenderMatcher, log zerolog.Logger) []model.Message {
	raw, err := os.ReadFile(chat.textPath)
	if err != nil {
		return nil
	}
	lines := strings.Split(string(raw), "\n")

	index := buildIndex(lines, chat.variant)
	first, ok := startLine(index, q)
	if !ok {
		return nil
	}
	_, end, err := q.Bounds()
	if err != nil {
		return nil
	}

	p := &chatParse{chat: chat, query: q, owner: owner, matcher: matcher, log: log}
	re := chat.variant.startRE()

	for _, line := range lines[first:] {
		if p.aborted {
			return nil
		}
		line = strings.TrimSpace(line)
		m := re.FindStringSubmatch(line)
		if m == nil {
			// Continuation line of a multi-line body.
			p.buf = append(p.buf, line)
			continue
		}
		ts, parsed := tryParseTimestamp(chat.variant, m[1])
		if !parsed {
			log.Warn().Str("chat", chat.name).Str("line", m[1]).Msg("unparseable message timestamp, keeping as continuation")
			p.buf = append(p.buf, line)
			continue
		}
		// Lines are chronologically monotonic; stop at the window edge.
		if model.DateOf(ts).After(end) {
			break
		}
		p.flush()
		p.cur = ts
		p.hasMsg = true
		if sm := senderRE.FindStringSubmatch(m[2]); sm != nil {
			p.sender = sm[1]
			p.buf = []string{sm[2]}
		} else {
			// No colon: a system message with no named sender.
			p.sender = ""
			p.buf = []string{m[2]}
		}
	}
	p.flush()
	if p.aborted {
		return nil
	}
	return p.entries
}

// flush classifies and appends the in-progress message buffer.
func (p *chatParse) flush() {
	if !p.hasMsg {
		return
	}
	text := strings.TrimSpace(strings.Join(p.buf, "\n"))
	ctx := model.Context{}
	media := model.MediaText

	switch {
	case p.chat.mediaDir != "" && strings.Contains(text, attachmentSentinel):
		parts := strings.SplitN(text, attachmentSentinel, 2)
		fileName := strings.TrimSpace(parts[0])
		text = strings.TrimSpace(parts[1])
		if _, err := os.Stat(filepath.Join(p.chat.mediaDir, fileName)); err == nil {
			id := assetID(p.chat.name, fileName)
			ctx.Attachment = &model.Attachment{
				ID:       id,
				Name:     fileName,
				MIMEType: mime.TypeByExtension(filepath.Ext(fileName)),
				ViewURL:  "/api/asset/" + Name + "/" + id,
			}
		}
		if text == "" {
			media = model.MediaNonText
		} else {
			media = model.MediaMixed
		}
	case strings.Contains(text, mediaOmitted):
		text = "<Added media file>"
	case text == "null":
		text = "<View once message>"
	}

	if strings.Contains(text, deletedSentinel) {
		ctx.Deleted = true
		text = "<Deleted message>"
	}
	if strings.Contains(text, editedSentinel) {
		// Keep the informational marker text.
		ctx.Edited = true
	}

	// A group-creation notice near the top classifies the whole chat;
	// the decision is sticky for the rest of the call.
	if !p.isGroup && len(p.entries) < 5 && strings.Contains(strings.ToLower(text), groupSentinel) {
		p.isGroup = true
		if p.query.IgnoreGroups {
			p.aborted = true
			return
		}
		for i := range p.entries {
			p.entries[i].IsGroup = true
		}
	}

	// Empty completed messages carry nothing worth keeping.
	if text == "" && ctx.Attachment == nil {
		return
	}

	sender := p.sender
	msgType := model.MessageReceived
	switch {
	case sender == "":
		sender = model.SystemSender
	case sender == p.owner:
		msgType = model.MessageSent
	}

	if len(p.query.Senders) > 0 && !p.matcher.MatchesSender(sender, p.query.Senders) {
		return
	}
	if !p.query.MatchesText(text) {
		return
	}

	p.entries = append(p.entries, model.Message{
		Timestamp: p.cur,
		Type:      msgType,
		Text:      text,
		Sender:    sender,
		Provider:  Name,
		ChatName:  p.chat.name,
		IsGroup:   p.isGroup,
		Media:     media,
		Context:   ctx,
	})
}

// assetID packs chat and file name into one opaque id.
func assetID(chatName, fileName string) string {
	return chatName + "___" + fileName
}

// splitAssetID is the inverse of assetID.
func splitAssetID(id string) (chatName, fileName string, ok bool) {
	parts := strings.SplitN(id, "___", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
