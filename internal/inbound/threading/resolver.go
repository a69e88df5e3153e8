// Package threading attaches inbound messages to existing tickets.
package threading

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/helpdesk-mail/internal/domain"
	"github.com/spec-kit/helpdesk-mail/internal/repository"
)

// Method names the rule that matched a message to a ticket.
type Method string

const (
	MethodNone       Method = "none"
	MethodInReplyTo  Method = "in_reply_to"
	MethodReferences Method = "references"
	MethodSubjectTag Method = "subject_tag"
)

// Input carries the threading headers of a message. Ids are normalised.
type Input struct {
	InReplyTo  string
	References []string
	Subject    string
}

// Resolution is the outcome of Resolve. TicketID is zero when nothing matched.
type Resolution struct {
	TicketID int64
	Method   Method
}

// Matched reports whether a ticket was found.
func (r Resolution) Matched() bool {
	return r.TicketID != 0
}

// Resolve tries In-Reply-To, then References (earliest listed id first), then a
// "[Ticket #N]" subject tag naming an existing ticket. Store errors other than
// not-found are returned.
func Resolve(ctx context.Context, store repository.Store, in Input) (Resolution, error) {
	if in.InReplyTo != "" {
		msg, err := store.Messages().GetByMessageID(ctx, in.InReplyTo)
		switch {
		case err == nil:
			return Resolution{TicketID: msg.TicketID, Method: MethodInReplyTo}, nil
		case !errors.Is(err, pgx.ErrNoRows):
			return Resolution{}, err
		}
	}

	if len(in.References) > 0 {
		msg, err := store.Messages().FindFirstByMessageIDs(ctx, in.References)
		switch {
		case err == nil:
			return Resolution{TicketID: msg.TicketID, Method: MethodReferences}, nil
		case !errors.Is(err, pgx.ErrNoRows):
			return Resolution{}, err
		}
	}

	if id, ok := domain.ParseTicketTag(in.Subject); ok {
		ticket, err := store.Tickets().GetByID(ctx, id)
		switch {
		case err == nil:
			return Resolution{TicketID: ticket.ID, Method: MethodSubjectTag}, nil
		case !errors.Is(err, pgx.ErrNoRows):
			return Resolution{}, err
		}
	}

	return Resolution{Method: MethodNone}, nil
}
