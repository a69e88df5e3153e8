package parser

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	cidImagePattern = regexp.MustCompile(`(?i)<img[^>]*\ssrc\s*=\s*["']?cid:([^"'\s>]+)["']?[^>]*>`)
	breakPattern    = regexp.MustCompile(`(?i)<br\s*/?>|</p\s*>|</div\s*>|</li\s*>|</tr\s*>|</h[1-6]\s*>`)
	blankRunPattern = regexp.MustCompile(`\n{3,}`)
	strictPolicy    = bluemonday.StrictPolicy()
)

// HTMLToText renders an HTML body as plain text. Inline images referenced by
// Content-ID become "[cid:<id>]" placeholders.
func HTMLToText(body string) string {
	body = cidImagePattern.ReplaceAllString(body, "[cid:$1]")
	body = breakPattern.ReplaceAllString(body, "$0\n")
	text := html.UnescapeString(strictPolicy.Sanitize(body))

	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	text = blankRunPattern.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(text)
}
