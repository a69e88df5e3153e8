package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DefaultSubject is stored for tickets whose first message had no subject.
const DefaultSubject = "(no subject)"

var ticketTagPattern = regexp.MustCompile(`(?i)\[Ticket #(\d+)\]`)

// TicketTag returns the subject tag identifying a ticket, e.g. "[Ticket #42]".
func TicketTag(id int64) string {
	return fmt.Sprintf("[Ticket #%d]", id)
}

// ParseTicketTag extracts the ticket id from the first tag in subject.
func ParseTicketTag(subject string) (int64, bool) {
	match := ticketTagPattern.FindStringSubmatch(subject)
	if match == nil {
		return 0, false
	}
	id, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// TagSubject prefixes subject with the ticket tag unless one is already present.
func TagSubject(id int64, subject string) string {
	subject = strings.TrimSpace(subject)
	if ticketTagPattern.MatchString(subject) {
		return subject
	}
	if subject == "" {
		return TicketTag(id)
	}
	return TicketTag(id) + " " + subject
}
