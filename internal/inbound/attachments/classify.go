// Package attachments decides which MIME parts of an inbound message are kept as
// ticket attachments.
package attachments

import (
	"encoding/base64"
	"fmt"
	"mime"
	"strings"

	"github.com/spec-kit/helpdesk-mail/internal/domain"
	"github.com/spec-kit/helpdesk-mail/internal/inbound/parser"
)

const defaultMimeType = "application/octet-stream"

// Classify keeps every part except inline ones whose Content-ID is not
// referenced by the visible text, dropping signature logos and images that only
// belonged to the quoted history. visible must still contain its "[cid:...]"
// placeholders.
func Classify(parts []parser.Attachment, visible string) []domain.Attachment {
	var kept []domain.Attachment
	for _, part := range parts {
		if part.Inline && !referenced(part.ContentID, visible) {
			continue
		}
		mimeType := strings.TrimSpace(part.ContentType)
		if mimeType == "" {
			mimeType = defaultMimeType
		}
		filename := strings.TrimSpace(part.Filename)
		if filename == "" {
			filename = fallbackName(len(kept)+1, mimeType)
		}
		kept = append(kept, domain.Attachment{
			Filename: filename,
			MimeType: mimeType,
			Data:     base64.StdEncoding.EncodeToString(part.Data),
		})
	}
	return kept
}

func referenced(contentID, visible string) bool {
	return contentID != "" && strings.Contains(visible, contentID)
}

func fallbackName(n int, mimeType string) string {
	ext := ".bin"
	if mimeType == defaultMimeType {
		return fmt.Sprintf("attachment-%d%s", n, ext)
	}
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		ext = exts[0]
	}
	return fmt.Sprintf("attachment-%d%s", n, ext)
}
