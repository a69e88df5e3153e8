package sanitize

import (
	"regexp"
	"slices"
	"strings"
)

// ReplyParser splits a reply into fragments (quoted blocks, quote headers,
// signatures and authored text) reading from the bottom up. Trailing quoted,
// signature and blank fragments are hidden; everything above the lowest visible
// fragment stays visible, so interleaved answers survive. Outlook headers that
// carry no quote markers are then cut with SeparatorTruncation.
type ReplyParser struct{}

var (
	headerStart     = regexp.MustCompile(`^\s*(On|Em)\s`)
	headerEnd       = regexp.MustCompile(`(wrote|escreveu):\s*$`)
	quoteHeaderLine = regexp.MustCompile(`(?i)^\s*(On\s.+wrote|Em\s.+escreveu):\s*$`)
	signatureLine   = regexp.MustCompile(`(?i)^\s*(--|__|-\w|Sent from my (\w+\s*){1,3}|Enviado do meu\s|Get Outlook for\s)`)
)

type fragment struct {
	// lines are stored bottom-up.
	lines     []string
	quoted    bool
	signature bool
	hidden    bool
}

func (f *fragment) text() string {
	lines := slices.Clone(f.lines)
	slices.Reverse(lines)
	return strings.Join(lines, "\n")
}

type replyScanner struct {
	current      *fragment
	fragments    []*fragment
	foundVisible bool
}

func (p ReplyParser) Split(body string) Result {
	lines := joinWrappedHeaders(strings.Split(normalizeNewlines(body), "\n"))
	s := &replyScanner{}
	for i := len(lines) - 1; i >= 0; i-- {
		s.scan(lines[i])
	}
	s.finish()
	slices.Reverse(s.fragments)

	var visible, hidden []string
	for _, f := range s.fragments {
		if f.hidden {
			hidden = append(hidden, f.text())
		} else {
			visible = append(visible, f.text())
		}
	}

	result := Result{
		Visible:    strings.TrimSpace(strings.Join(visible, "\n")),
		Historical: strings.TrimSpace(strings.Join(hidden, "\n")),
	}
	if cut := (SeparatorTruncation{}).Split(result.Visible); cut.Historical != "" {
		result.Visible = cut.Visible
		result.Historical = strings.TrimSpace(cut.Historical + "\n" + result.Historical)
	}
	return result
}

// maxHeaderLines bounds how far a wrapped "On ... wrote:" header may spread.
const maxHeaderLines = 4

// joinWrappedHeaders folds quote headers that clients wrapped over several lines
// back into one line.
func joinWrappedHeaders(lines []string) []string {
	out := make([]string, 0, len(lines))
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if !headerStart.MatchString(line) || headerEnd.MatchString(line) {
			out = append(out, line)
			continue
		}
		end := -1
		for j := i + 1; j < len(lines) && j < i+maxHeaderLines; j++ {
			next := strings.TrimSpace(lines[j])
			if next == "" || strings.HasPrefix(next, ">") || headerStart.MatchString(next) {
				break
			}
			if headerEnd.MatchString(next) {
				end = j
				break
			}
		}
		if end < 0 {
			out = append(out, line)
			continue
		}
		parts := make([]string, 0, end-i+1)
		for _, l := range lines[i : end+1] {
			parts = append(parts, strings.TrimSpace(l))
		}
		out = append(out, strings.Join(parts, " "))
		i = end
	}
	return out
}

func (s *replyScanner) scan(line string) {
	isSignature := signatureLine.MatchString(line)
	if !isSignature {
		line = strings.TrimRight(line, " \t")
	}
	isQuoted := strings.HasPrefix(strings.TrimLeft(line, " \t"), ">")
	isHeader := quoteHeaderLine.MatchString(line)
	isEmpty := strings.TrimSpace(line) == ""

	if s.current != nil && isEmpty {
		top := s.current.lines[len(s.current.lines)-1]
		if signatureLine.MatchString(top) {
			s.current.signature = true
			s.finish()
		}
	}

	if s.current != nil &&
		(s.current.quoted == isQuoted || (s.current.quoted && (isHeader || isEmpty))) {
		s.current.lines = append(s.current.lines, line)
		return
	}
	s.finish()
	s.current = &fragment{quoted: isQuoted || isHeader, lines: []string{line}}
}

func (s *replyScanner) finish() {
	if s.current == nil {
		return
	}
	f := s.current
	s.current = nil
	if !s.foundVisible {
		if f.quoted || f.signature || strings.TrimSpace(f.text()) == "" {
			f.hidden = true
		} else {
			s.foundVisible = true
		}
	}
	s.fragments = append(s.fragments, f)
}
