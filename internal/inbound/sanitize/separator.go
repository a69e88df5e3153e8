package sanitize

import (
	"regexp"
	"strings"
)

// SeparatorTruncation cuts the body at the first line that looks like the start
// of quoted history. That line and everything below it become historical.
type SeparatorTruncation struct{}

var separatorPatterns = []*regexp.Regexp{
	regexp.MustCompile(`_{30,}`),
	regexp.MustCompile(`(?i)^\s*De:\s.*<.+@.+>`),
	regexp.MustCompile(`(?i)^\s*From:\s.*<.+@.+>`),
	regexp.MustCompile(`(?i)^\s*Em\s.*escreveu:`),
	regexp.MustCompile(`(?i)^\s*On\s.*wrote:`),
	regexp.MustCompile(`(?i)-{5,}\s*Original Message\s*-{5,}`),
	regexp.MustCompile(`(?i)^\s*(Sent from my|Enviado do meu|Enviado de meu|Get Outlook for)\s`),
}

var (
	headerFromLine = regexp.MustCompile(`(?i)^\s*(From|De):\s*\S`)
	headerSentLine = regexp.MustCompile(`(?i)^\s*(Sent|Enviado|Enviada|Date|Data):\s*\S`)
)

func (SeparatorTruncation) Split(body string) Result {
	lines := strings.Split(normalizeNewlines(body), "\n")
	for i, line := range lines {
		if isSeparator(lines, i, line) {
			return Result{
				Visible:    strings.TrimSpace(strings.Join(lines[:i], "\n")),
				Historical: strings.TrimSpace(strings.Join(lines[i:], "\n")),
			}
		}
	}
	return Result{Visible: strings.TrimSpace(strings.Join(lines, "\n"))}
}

func isSeparator(lines []string, i int, line string) bool {
	for _, pattern := range separatorPatterns {
		if pattern.MatchString(line) {
			return true
		}
	}
	// Outlook header block with a bare address: "From: x" then "Sent: y".
	return headerFromLine.MatchString(line) && i+1 < len(lines) && headerSentLine.MatchString(lines[i+1])
}
