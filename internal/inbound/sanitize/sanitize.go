// Package sanitize isolates the newly written part of an email body from the
// quoted history that mail clients append below it.
package sanitize

import (
	"regexp"
	"strings"
)

// Result is a body split into what the author wrote and what they quoted.
type Result struct {
	Visible    string
	Historical string
}

// Strategy splits a plain text body.
type Strategy interface {
	Split(body string) Result
}

var (
	placeholderPattern = regexp.MustCompile(`\[cid:[^\]]*\]`)
	trailingSpace      = regexp.MustCompile(`[ \t]+\n`)
	blankRun           = regexp.MustCompile(`\n{3,}`)
)

// StripInlinePlaceholders removes "[cid:...]" markers left where inline images
// were rendered.
func StripInlinePlaceholders(text string) string {
	text = placeholderPattern.ReplaceAllString(text, "")
	text = trailingSpace.ReplaceAllString(text, "\n")
	text = blankRun.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

func normalizeNewlines(body string) string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	return strings.ReplaceAll(body, "\r", "\n")
}
