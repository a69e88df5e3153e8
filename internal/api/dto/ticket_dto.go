package dto

import (
	"time"

	"github.com/spec-kit/helpdesk-mail/internal/domain"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	Subject    string   `json:"subject"`
	Content    string   `json:"content"`
	Requester  string   `json:"requester"`
	Recipients []string `json:"recipients"`
}

// CreateMessageRequest payload.
type CreateMessageRequest struct {
	Content      string   `json:"content"`
	NotifyClient bool     `json:"notify_client"`
	Recipients   []string `json:"recipients"`
}

// UpdateStatusRequest payload.
type UpdateStatusRequest struct {
	Status domain.TicketStatus `json:"status"`
}

// TicketSummary response.
type TicketSummary struct {
	ID                int64               `json:"id"`
	Subject           string              `json:"subject"`
	RequesterEmail    string              `json:"requester_email"`
	Recipients        []string            `json:"recipients"`
	Status            domain.TicketStatus `json:"status"`
	OriginalMessageID string              `json:"original_message_id"`
	SLADueDate        *time.Time          `json:"sla_due_date"`
	SLAStatus         domain.SLAStatus    `json:"sla_status"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

// TicketDetailResponse provides full ticket info.
type TicketDetailResponse struct {
	TicketSummary
	Messages []MessageResponse `json:"messages"`
}

// MessageResponse represents one conversation turn. Content and History are the
// two halves of the stored content.
type MessageResponse struct {
	ID          int64                   `json:"id"`
	Direction   domain.MessageDirection `json:"direction"`
	Content     string                  `json:"content"`
	History     string                  `json:"history,omitempty"`
	MessageID   string                  `json:"message_id"`
	InReplyTo   string                  `json:"in_reply_to,omitempty"`
	References  string                  `json:"references,omitempty"`
	FromEmail   string                  `json:"from_email,omitempty"`
	Attachments []AttachmentResponse    `json:"attachments"`
	CreatedAt   time.Time               `json:"created_at"`
}

// AttachmentResponse carries the file itself, base64 encoded.
type AttachmentResponse struct {
	ID        int64  `json:"id"`
	Filename  string `json:"filename"`
	MimeType  string `json:"mime_type"`
	SizeBytes int    `json:"size_bytes"`
	Data      string `json:"data"`
}

// OutboundResponse describes a write that may have sent mail.
type OutboundResponse struct {
	Ticket   TicketSummary   `json:"ticket"`
	Message  MessageResponse `json:"message"`
	Notified bool            `json:"notified"`
}
