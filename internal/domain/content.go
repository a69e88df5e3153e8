package domain

import "strings"

// HistoryDelimiter separates the visible text of a stored message from the quoted
// history that followed it. It is a storage convention and never shown to users.
const HistoryDelimiter = "<---HISTORY-SEPARATOR--->"

// ComposeContent joins visible text and history using HistoryDelimiter.
func ComposeContent(visible, history string) string {
	history = strings.TrimSpace(history)
	if history == "" {
		return visible
	}
	return visible + "\n\n" + HistoryDelimiter + "\n\n" + history
}

// SplitContent is the inverse of ComposeContent.
func SplitContent(content string) (visible, history string) {
	visible, history, found := strings.Cut(content, HistoryDelimiter)
	if !found {
		return strings.TrimSpace(content), ""
	}
	return strings.TrimSpace(visible), strings.TrimSpace(history)
}
