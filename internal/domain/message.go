package domain

import "time"

// MessageDirection tells whether a message was received or sent by the helpdesk.
type MessageDirection string

const (
	DirectionIn  MessageDirection = "IN"
	DirectionOut MessageDirection = "OUT"
)

// Message is one email turn inside a ticket conversation.
type Message struct {
	ID          int64
	TicketID    int64
	Direction   MessageDirection
	Content     string
	MessageID   string
	InReplyTo   string
	References  string
	FromEmail   string
	Attachments []Attachment
	CreatedAt   time.Time
}

// Attachment is a file carried by a message. Data is base64 encoded.
type Attachment struct {
	ID        int64
	MessageID int64
	Filename  string
	MimeType  string
	Data      string
	CreatedAt time.Time
}
