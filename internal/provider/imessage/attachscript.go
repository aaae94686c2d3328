package imessage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/memorylane/memorylane/internal/provider"
	"github.com/memorylane/memorylane/internal/sqlite"
)

// ScriptName is the shell script WriteAttachmentScript produces.
const ScriptName = "copy_attachments.sh"

// WriteAttachmentScript maps every attachment referenced by the
// registered chats to its hashed file in an iPhone backup and writes a
// shell script that copies them into <dir>/attachments under their
// URL-safe names. backupRoot is the device folder under
// ~/Library/Application Support/MobileSync/Backup.
//
// If cp later fails with "Operation not permitted" the terminal needs
// Full Disk Access.
func (p *Provider) WriteAttachmentScript(ctx context.Context, backupRoot string) error {
	if !p.status.Working() {
		return fmt.Errorf("message store unavailable")
	}

	byChat, empty := p.chatScope(provider.Query{})
	if empty {
		return fmt.Errorf("no chat identifiers registered")
	}

	ids := make([]any, 0, len(byChat))
	for id := range byChat {
		ids = append(ids, id)
	}

	relQuery := fmt.Sprintf(`
SELECT DISTINCT a.filename
FROM message m
         JOIN chat_message_join cmj ON cmj.message_id = m.ROWID
         JOIN chat c ON cmj.chat_id = c.ROWID
         JOIN message_attachment_join maj ON maj.message_id = m.ROWID
         JOIN attachment a ON a.ROWID = maj.attachment_id
WHERE c.chat_identifier IN (%s)`, placeholders(len(ids)))

	rows, err := p.db.QueryContext(ctx, relQuery, ids...)
	if err != nil {
		return fmt.Errorf("query attachment paths: %w", err)
	}
	defer rows.Close()

	var relPaths []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return fmt.Errorf("scan attachment path: %w", err)
		}
		relPaths = append(relPaths, strings.TrimPrefix(path, "~/"))
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate attachment paths: %w", err)
	}
	if len(relPaths) == 0 {
		return fmt.Errorf("no attachments found for registered chats")
	}

	manifest, err := sqlite.OpenReadOnly(filepath.Join(p.dir, "Manifest.db"))
	if err != nil {
		return fmt.Errorf("open backup manifest: %w", err)
	}
	defer manifest.Close()

	args := make([]any, len(relPaths))
	for i, path := range relPaths {
		args[i] = path
	}
	fileQuery := fmt.Sprintf(`SELECT fileID, relativePath FROM Files WHERE relativePath IN (%s)`,
		placeholders(len(args)))
	fileRows, err := manifest.QueryContext(ctx, fileQuery, args...)
	if err != nil {
		return fmt.Errorf("query backup manifest: %w", err)
	}
	defer fileRows.Close()

	var sb strings.Builder
	sb.WriteString("#!/bin/bash\n\nmkdir -p attachments\n\n")
	found := 0
	for fileRows.Next() {
		var fileID, relPath string
		if err := fileRows.Scan(&fileID, &relPath); err != nil {
			return fmt.Errorf("scan manifest row: %w", err)
		}
		src := fmt.Sprintf("~/Library/Application\\ Support/MobileSync/Backup/%s/%s/%s",
			backupRoot, fileID[:2], fileID)
		dst := serializeAssetPath(strings.TrimPrefix(relPath, "Library/SMS/Attachments/"))
		fmt.Fprintf(&sb, "cp %s attachments/%s\n\n", src, dst)
		found++
	}
	if err := fileRows.Err(); err != nil {
		return fmt.Errorf("iterate manifest rows: %w", err)
	}

	out := filepath.Join(p.dir, ScriptName)
	if err := os.WriteFile(out, []byte(sb.String()), 0o755); err != nil {
		return fmt.Errorf("write %s: %w", ScriptName, err)
	}
	p.log.Info().Str("script", out).Int("attachments", found).Msg("attachment copy script generated")
	return nil
}
