package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/helpdesk-mail/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated       EventType = "ticket_created"
	EventTicketStatusChanged EventType = "ticket_status_changed"
	EventTicketMessageAdded  EventType = "ticket_message_added"
	EventSLABreached         EventType = "sla_breached"
)

// ActorType tells who caused an event.
type ActorType string

const (
	ActorMailbox ActorType = "MAILBOX"
	ActorAgent   ActorType = "AGENT"
	ActorSystem  ActorType = "SYSTEM"
)

// Actor encapsulates actor metadata for an event.
type Actor struct {
	Type  ActorType `json:"type"`
	Email string    `json:"email,omitempty"`
}

// Event represents a domain event emitted by services.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	TicketID  int64     `json:"ticket_id,omitempty"`
	Actor     Actor     `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// New builds an event stamped with a fresh id.
func New(eventType EventType, ticketID int64, actor Actor, at time.Time, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		TicketID:  ticketID,
		Actor:     actor,
		Timestamp: at,
		Payload:   payload,
	}
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	Subject        string                  `json:"subject"`
	RequesterEmail string                  `json:"requester_email"`
	MessageID      string                  `json:"message_id"`
	Direction      domain.MessageDirection `json:"direction"`
	Attachments    int                     `json:"attachments"`
}

// TicketStatusChangedPayload payload.
type TicketStatusChangedPayload struct {
	OldStatus domain.TicketStatus `json:"old_status"`
	NewStatus domain.TicketStatus `json:"new_status"`
}

// TicketMessageAddedPayload payload.
type TicketMessageAddedPayload struct {
	MessageID      string                  `json:"message_id"`
	Direction      domain.MessageDirection `json:"direction"`
	FromEmail      string                  `json:"from_email,omitempty"`
	PreviousStatus domain.TicketStatus     `json:"previous_status,omitempty"`
	Attachments    int                     `json:"attachments"`
	BodyPreview    string                  `json:"body_preview"`
}

// SLABreachedPayload payload.
type SLABreachedPayload struct {
	Count int64 `json:"count"`
}
