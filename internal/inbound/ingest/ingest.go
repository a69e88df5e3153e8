// Package ingest commits one parsed inbound message: it drops duplicates,
// threads replies onto their ticket or opens a new one, and applies the SLA
// deadline, all inside a single store transaction.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-mail/internal/domain"
	"github.com/spec-kit/helpdesk-mail/internal/events"
	"github.com/spec-kit/helpdesk-mail/internal/inbound/attachments"
	"github.com/spec-kit/helpdesk-mail/internal/inbound/parser"
	"github.com/spec-kit/helpdesk-mail/internal/inbound/sanitize"
	"github.com/spec-kit/helpdesk-mail/internal/inbound/threading"
	"github.com/spec-kit/helpdesk-mail/internal/observability"
	"github.com/spec-kit/helpdesk-mail/internal/repository"
)

// ErrMissingMessageID marks messages discarded because they carry no Message-ID.
var ErrMissingMessageID = errors.New("message has no Message-ID")

// UnknownRequester is stored when the sender address cannot be read.
const UnknownRequester = "unknown@example.com"

const previewLength = 140

// Action is the final outcome for one message.
type Action string

const (
	ActionCreated   Action = "created"
	ActionAppended  Action = "appended"
	ActionDuplicate Action = "duplicate"
	ActionDiscarded Action = "discarded"
)

// Result describes what Ingest did with a message.
type Result struct {
	Action    Action
	TicketID  int64
	MessageID string
	Method    threading.Method
	// Reason explains a discard.
	Reason error
}

// Config carries the values the transaction depends on.
type Config struct {
	// SystemAddress is the helpdesk mailbox; it never becomes a recipient.
	SystemAddress string
	SLAWindow     time.Duration
}

// Dependencies wires the Ingestor.
type Dependencies struct {
	Store      repository.Store
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
	Metrics    *observability.Metrics
	Clock      func() time.Time
	// NewTicket and Reply override the sanitizer strategies.
	NewTicket sanitize.Strategy
	Reply     sanitize.Strategy
}

// Ingestor turns parsed messages into tickets and ticket messages.
type Ingestor struct {
	cfg        Config
	store      repository.Store
	dispatcher events.Dispatcher
	logger     *zap.Logger
	metrics    *observability.Metrics
	now        func() time.Time
	newTicket  sanitize.Strategy
	reply      sanitize.Strategy
}

// New builds an Ingestor.
func New(cfg Config, deps Dependencies) *Ingestor {
	i := &Ingestor{
		cfg:        cfg,
		store:      deps.Store,
		dispatcher: deps.Dispatcher,
		logger:     deps.Logger,
		metrics:    deps.Metrics,
		now:        deps.Clock,
		newTicket:  deps.NewTicket,
		reply:      deps.Reply,
	}
	i.cfg.SystemAddress = strings.ToLower(strings.TrimSpace(cfg.SystemAddress))
	if i.logger == nil {
		i.logger = zap.NewNop()
	}
	if i.now == nil {
		i.now = time.Now
	}
	if i.newTicket == nil {
		i.newTicket = sanitize.SeparatorTruncation{}
	}
	if i.reply == nil {
		i.reply = sanitize.ReplyParser{}
	}
	return i
}

// Ingest commits msg. A non-nil error means nothing was written and the message
// may be retried; every other outcome is final.
func (i *Ingestor) Ingest(ctx context.Context, msg *parser.Message) (Result, error) {
	if msg.MessageID == "" {
		i.logger.Debug("discarding message without Message-ID", zap.String("subject", msg.Subject))
		return i.finish(Result{Action: ActionDiscarded, Reason: ErrMissingMessageID}), nil
	}

	var (
		result  Result
		pending []events.Event
	)
	err := i.store.WithinTx(ctx, func(ctx context.Context, tx repository.Store) error {
		result = Result{MessageID: msg.MessageID}
		pending = nil

		if _, err := tx.Messages().GetByMessageID(ctx, msg.MessageID); err == nil {
			result.Action = ActionDuplicate
			return nil
		} else if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("lookup message: %w", err)
		}

		resolution, err := threading.Resolve(ctx, tx, threading.Input{
			InReplyTo:  msg.InReplyTo,
			References: msg.References,
			Subject:    msg.Subject,
		})
		if err != nil {
			return fmt.Errorf("resolve thread: %w", err)
		}
		result.Method = resolution.Method

		if resolution.Matched() {
			result.Action = ActionAppended
			result.TicketID = resolution.TicketID
			pending, err = i.appendReply(ctx, tx, resolution.TicketID, msg)
			return err
		}
		result.Action = ActionCreated
		result.TicketID, pending, err = i.createTicket(ctx, tx, msg)
		return err
	})

	switch {
	case errors.Is(err, repository.ErrDuplicateMessageID):
		i.logger.Debug("message stored concurrently", zap.String("message_id", msg.MessageID))
		return i.finish(Result{Action: ActionDuplicate, MessageID: msg.MessageID}), nil
	case err != nil:
		i.logger.Error("ingest failed", zap.String("message_id", msg.MessageID), zap.Error(err))
		return Result{MessageID: msg.MessageID}, fmt.Errorf("ingest %s: %w", msg.MessageID, err)
	}

	if result.Action == ActionDuplicate {
		i.logger.Debug("discarding duplicate message", zap.String("message_id", msg.MessageID))
	} else {
		i.logger.Info("message ingested",
			zap.String("message_id", msg.MessageID),
			zap.Int64("ticket_id", result.TicketID),
			zap.String("action", string(result.Action)),
			zap.String("method", string(result.Method)))
	}
	i.publish(ctx, pending)
	return i.finish(result), nil
}

func (i *Ingestor) createTicket(ctx context.Context, tx repository.Store, msg *parser.Message) (int64, []events.Event, error) {
	content, atts := i.content(i.newTicket, msg)

	requester := msg.From
	if requester == "" {
		requester = UnknownRequester
	}
	subject := strings.TrimSpace(msg.Subject)
	if subject == "" {
		subject = domain.DefaultSubject
	}
	now := i.now()
	due := now.Add(i.cfg.SLAWindow)

	ticket := &domain.Ticket{
		Subject:           subject,
		RequesterEmail:    requester,
		Recipients:        i.participants(requester, nil, msg.To, msg.Cc),
		Status:            domain.TicketStatusOpen,
		OriginalMessageID: msg.MessageID,
		SLADueDate:        &due,
		SLAStatus:         domain.SLAStatusOK,
	}
	if err := tx.Tickets().Create(ctx, ticket); err != nil {
		return 0, nil, fmt.Errorf("create ticket: %w", err)
	}

	stored, err := i.storeMessage(ctx, tx, ticket.ID, msg, requester, content, atts)
	if err != nil {
		return 0, nil, err
	}

	actor := events.Actor{Type: events.ActorMailbox, Email: requester}
	return ticket.ID, []events.Event{
		events.New(events.EventTicketCreated, ticket.ID, actor, now, events.TicketCreatedPayload{
			Subject:        ticket.Subject,
			RequesterEmail: ticket.RequesterEmail,
			MessageID:      stored.MessageID,
			Direction:      domain.DirectionIn,
			Attachments:    len(atts),
		}),
	}, nil
}

func (i *Ingestor) appendReply(ctx context.Context, tx repository.Store, ticketID int64, msg *parser.Message) ([]events.Event, error) {
	ticket, err := tx.Tickets().GetByID(ctx, ticketID)
	if err != nil {
		return nil, fmt.Errorf("load ticket: %w", err)
	}
	content, atts := i.content(i.reply, msg)

	from := msg.From
	if from == "" {
		from = UnknownRequester
	}
	stored, err := i.storeMessage(ctx, tx, ticketID, msg, from, content, atts)
	if err != nil {
		return nil, err
	}

	now := i.now()
	var senders []string
	if msg.From != "" {
		senders = []string{msg.From}
	}
	if err := tx.Tickets().ApplyInboundReply(ctx, repository.InboundReply{
		TicketID:      ticketID,
		SLADueDate:    now.Add(i.cfg.SLAWindow),
		AddRecipients: i.participants(ticket.RequesterEmail, ticket.Recipients, senders, msg.To, msg.Cc),
		At:            now,
	}); err != nil {
		return nil, fmt.Errorf("update ticket: %w", err)
	}

	actor := events.Actor{Type: events.ActorMailbox, Email: from}
	visible, _ := domain.SplitContent(content)
	pending := []events.Event{
		events.New(events.EventTicketMessageAdded, ticketID, actor, now, events.TicketMessageAddedPayload{
			MessageID:      stored.MessageID,
			Direction:      domain.DirectionIn,
			FromEmail:      from,
			PreviousStatus: ticket.Status,
			Attachments:    len(atts),
			BodyPreview:    preview(visible),
		}),
	}
	if ticket.Status != domain.TicketStatusOpen {
		pending = append(pending, events.New(events.EventTicketStatusChanged, ticketID, actor, now, events.TicketStatusChangedPayload{
			OldStatus: ticket.Status,
			NewStatus: domain.TicketStatusOpen,
		}))
	}
	return pending, nil
}

func (i *Ingestor) storeMessage(ctx context.Context, tx repository.Store, ticketID int64, msg *parser.Message, from, content string, atts []domain.Attachment) (*domain.Message, error) {
	stored := &domain.Message{
		TicketID:   ticketID,
		Direction:  domain.DirectionIn,
		Content:    content,
		MessageID:  msg.MessageID,
		InReplyTo:  msg.InReplyTo,
		References: strings.Join(msg.References, " "),
		FromEmail:  from,
	}
	if err := tx.Messages().Create(ctx, stored); err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	for idx := range atts {
		atts[idx].MessageID = stored.ID
		if err := tx.Attachments().Create(ctx, &atts[idx]); err != nil {
			return nil, fmt.Errorf("create attachment: %w", err)
		}
	}
	stored.Attachments = atts
	return stored, nil
}

// content sanitizes the body with strategy and classifies attachments against
// the visible text before its inline placeholders are stripped.
func (i *Ingestor) content(strategy sanitize.Strategy, msg *parser.Message) (string, []domain.Attachment) {
	split := strategy.Split(msg.Body())
	atts := attachments.Classify(msg.Attachments, split.Visible)
	visible := sanitize.StripInlinePlaceholders(split.Visible)
	return domain.ComposeContent(visible, split.Historical), atts
}

func (i *Ingestor) participants(requester string, existing []string, lists ...[]string) []string {
	return domain.Participants(requester, i.cfg.SystemAddress, existing, lists...)
}

func (i *Ingestor) publish(ctx context.Context, pending []events.Event) {
	if i.dispatcher == nil {
		return
	}
	for _, event := range pending {
		if err := i.dispatcher.Publish(ctx, event); err != nil {
			i.logger.Warn("event handler failed",
				zap.String("event_type", string(event.Type)),
				zap.Int64("ticket_id", event.TicketID),
				zap.Error(err))
		}
	}
}

func (i *Ingestor) finish(result Result) Result {
	i.metrics.RecordIngest(string(result.Action))
	return result
}

func preview(text string) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= previewLength {
		return string(runes)
	}
	return string(runes[:previewLength]) + "..."
}
