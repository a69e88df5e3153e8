package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen     TicketStatus = "OPEN"
	TicketStatusPending  TicketStatus = "PENDING"
	TicketStatusResolved TicketStatus = "RESOLVED"
	TicketStatusClosed   TicketStatus = "CLOSED"
)

// Valid reports whether s is one of the known statuses.
func (s TicketStatus) Valid() bool {
	switch s {
	case TicketStatusOpen, TicketStatusPending, TicketStatusResolved, TicketStatusClosed:
		return true
	default:
		return false
	}
}

// SLAStatus tracks the deadline state of a ticket.
type SLAStatus string

const (
	SLAStatusOK       SLAStatus = "OK"
	SLAStatusWarning  SLAStatus = "WARNING"
	SLAStatusBreached SLAStatus = "BREACHED"
)

// Ticket is the aggregate for a support conversation.
type Ticket struct {
	ID                int64
	Subject           string
	RequesterEmail    string
	Recipients        []string
	Status            TicketStatus
	OriginalMessageID string
	SLADueDate        *time.Time
	SLAStatus         SLAStatus
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
