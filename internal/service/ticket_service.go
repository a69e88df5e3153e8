package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-mail/internal/domain"
	"github.com/spec-kit/helpdesk-mail/internal/events"
	"github.com/spec-kit/helpdesk-mail/internal/inbound/parser"
	"github.com/spec-kit/helpdesk-mail/internal/notify"
	"github.com/spec-kit/helpdesk-mail/internal/repository"
	apperrors "github.com/spec-kit/helpdesk-mail/pkg/util/errorutil"
)

const previewLength = 120

// TicketConfig carries the outbound identity of the helpdesk.
type TicketConfig struct {
	SystemAddress   string
	MessageIDDomain string
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	Store      repository.Store
	Dispatcher events.Dispatcher
	Notifier   notify.Notifier
	Logger     *zap.Logger
	Clock      func() time.Time
}

// TicketService coordinates the agent-facing ticket workflows.
type TicketService struct {
	cfg        TicketConfig
	store      repository.Store
	dispatcher events.Dispatcher
	notifier   notify.Notifier
	logger     *zap.Logger
	now        func() time.Time
}

// TicketListFilter describes listing filters.
type TicketListFilter struct {
	Statuses []domain.TicketStatus
	Limit    int
	Offset   int
}

// CreateTicketInput describes an agent-initiated ticket.
type CreateTicketInput struct {
	Subject    string
	Content    string
	Requester  string
	Recipients []string
}

// AddMessageInput describes an agent reply.
type AddMessageInput struct {
	Content      string
	NotifyClient bool
	Recipients   []string
}

// OutboundResult is the outcome of a write that may send mail.
type OutboundResult struct {
	Ticket   *domain.Ticket
	Message  *domain.Message
	Notified bool
}

// NewTicketService creates the service.
func NewTicketService(cfg TicketConfig, deps TicketDependencies) *TicketService {
	s := &TicketService{
		cfg:        cfg,
		store:      deps.Store,
		dispatcher: deps.Dispatcher,
		notifier:   deps.Notifier,
		logger:     deps.Logger,
		now:        deps.Clock,
	}
	s.cfg.SystemAddress = strings.ToLower(strings.TrimSpace(cfg.SystemAddress))
	if s.cfg.MessageIDDomain == "" {
		s.cfg.MessageIDDomain = "localhost"
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.logger = s.logger.Named("tickets")
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// List returns tickets newest-updated first.
func (s *TicketService) List(ctx context.Context, filter TicketListFilter) ([]domain.Ticket, error) {
	for _, status := range filter.Statuses {
		if !status.Valid() {
			return nil, apperrors.NewValidationError("invalid status filter", map[string]any{"status": status})
		}
	}
	return s.store.Tickets().List(ctx, repository.TicketFilter{
		Statuses: filter.Statuses,
		Limit:    filter.Limit,
		Offset:   filter.Offset,
	})
}

// Get returns a ticket with its conversation, oldest message first.
func (s *TicketService) Get(ctx context.Context, id int64) (*domain.Ticket, []domain.Message, error) {
	ticket, err := s.store.Tickets().GetByID(ctx, id)
	if err != nil {
		return nil, nil, notFound(err, "ticket", id)
	}
	msgs, err := s.store.Messages().ListByTicket(ctx, ticket.ID)
	if err != nil {
		return nil, nil, err
	}
	for i := range msgs {
		atts, err := s.store.Attachments().ListByMessage(ctx, msgs[i].ID)
		if err != nil {
			return nil, nil, err
		}
		msgs[i].Attachments = atts
	}
	return ticket, msgs, nil
}

// UpdateStatus moves a ticket to status.
func (s *TicketService) UpdateStatus(ctx context.Context, agent domain.Agent, id int64, status domain.TicketStatus) (*domain.Ticket, error) {
	if !status.Valid() {
		return nil, apperrors.NewValidationError("invalid status", map[string]any{"status": status})
	}
	var (
		ticket    *domain.Ticket
		oldStatus domain.TicketStatus
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Store) error {
		current, err := tx.Tickets().GetByID(ctx, id)
		if err != nil {
			return notFound(err, "ticket", id)
		}
		oldStatus = current.Status
		if current.Status == status {
			ticket = current
			return nil
		}
		if err := tx.Tickets().UpdateStatus(ctx, id, status); err != nil {
			return err
		}
		ticket, err = tx.Tickets().GetByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if oldStatus != status {
		s.logger.Info("ticket status changed",
			zap.Int64("ticket_id", id),
			zap.String("old_status", string(oldStatus)),
			zap.String("new_status", string(status)))
		s.publishEvent(ctx, events.New(events.EventTicketStatusChanged, id, agentActor(agent), s.now(), events.TicketStatusChangedPayload{
			OldStatus: oldStatus,
			NewStatus: status,
		}))
	}
	return ticket, nil
}

// CreateTicket opens a ticket on behalf of an agent and mails the requester.
func (s *TicketService) CreateTicket(ctx context.Context, agent domain.Agent, in CreateTicketInput) (*OutboundResult, error) {
	requester, err := normalizeAddress(in.Requester)
	if err != nil {
		return nil, apperrors.NewValidationError("invalid requester", map[string]any{"requester": in.Requester})
	}
	recipients, err := s.recipients(requester, nil, in.Recipients)
	if err != nil {
		return nil, err
	}
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, apperrors.NewValidationError("content required", nil)
	}
	subject := strings.TrimSpace(in.Subject)
	if subject == "" {
		subject = domain.DefaultSubject
	}

	rootID := s.newMessageID("ticket")
	ticket := &domain.Ticket{
		Subject:           subject,
		RequesterEmail:    requester,
		Recipients:        recipients,
		Status:            domain.TicketStatusOpen,
		OriginalMessageID: rootID,
		SLAStatus:         domain.SLAStatusOK,
	}
	msg := &domain.Message{
		Direction:  domain.DirectionOut,
		Content:    content,
		MessageID:  rootID,
		References: rootID,
		FromEmail:  s.cfg.SystemAddress,
	}
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Store) error {
		if err := tx.Tickets().Create(ctx, ticket); err != nil {
			return fmt.Errorf("create ticket: %w", err)
		}
		msg.TicketID = ticket.ID
		if err := tx.Messages().Create(ctx, msg); err != nil {
			return fmt.Errorf("create message: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publishEvent(ctx, events.New(events.EventTicketCreated, ticket.ID, agentActor(agent), s.now(), events.TicketCreatedPayload{
		Subject:        ticket.Subject,
		RequesterEmail: ticket.RequesterEmail,
		MessageID:      rootID,
		Direction:      domain.DirectionOut,
	}))

	notified := s.notify(ctx, notify.Notification{
		From:       s.cfg.SystemAddress,
		To:         []string{ticket.RequesterEmail},
		Cc:         ticket.Recipients,
		TicketID:   ticket.ID,
		Subject:    ticket.Subject,
		Content:    content,
		MessageID:  rootID,
		References: []string{rootID},
	})
	return &OutboundResult{Ticket: ticket, Message: msg, Notified: notified}, nil
}

// AddMessage stores an agent reply threaded under the latest inbound message.
func (s *TicketService) AddMessage(ctx context.Context, agent domain.Agent, ticketID int64, in AddMessageInput) (*OutboundResult, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, apperrors.NewValidationError("content required", nil)
	}

	var (
		ticket *domain.Ticket
		msg    *domain.Message
		extra  []string
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Store) error {
		var err error
		ticket, err = tx.Tickets().GetByID(ctx, ticketID)
		if err != nil {
			return notFound(err, "ticket", ticketID)
		}
		extra, err = s.recipients(ticket.RequesterEmail, ticket.Recipients, in.Recipients)
		if err != nil {
			return err
		}

		inReplyTo, refs, err := s.threading(ctx, tx, ticket)
		if err != nil {
			return err
		}
		msg = &domain.Message{
			TicketID:   ticket.ID,
			Direction:  domain.DirectionOut,
			Content:    content,
			MessageID:  s.newMessageID("reply"),
			InReplyTo:  inReplyTo,
			References: strings.Join(refs, " "),
			FromEmail:  s.cfg.SystemAddress,
		}
		if err := tx.Messages().Create(ctx, msg); err != nil {
			return fmt.Errorf("create message: %w", err)
		}
		return tx.Tickets().Touch(ctx, ticket.ID, s.now())
	})
	if err != nil {
		return nil, err
	}

	s.publishEvent(ctx, events.New(events.EventTicketMessageAdded, ticket.ID, agentActor(agent), s.now(), events.TicketMessageAddedPayload{
		MessageID:   msg.MessageID,
		Direction:   domain.DirectionOut,
		FromEmail:   msg.FromEmail,
		BodyPreview: stringPreview(content, previewLength),
	}))

	result := &OutboundResult{Ticket: ticket, Message: msg}
	if in.NotifyClient {
		result.Notified = s.notify(ctx, notify.Notification{
			From:       s.cfg.SystemAddress,
			To:         []string{ticket.RequesterEmail},
			Cc:         append(append([]string{}, ticket.Recipients...), extra...),
			TicketID:   ticket.ID,
			Subject:    ticket.Subject,
			Content:    content,
			MessageID:  msg.MessageID,
			InReplyTo:  msg.InReplyTo,
			References: strings.Fields(msg.References),
		})
	}
	return result, nil
}

// threading picks the parent of an agent reply: the latest inbound message, or
// the ticket root when the customer has not written yet.
func (s *TicketService) threading(ctx context.Context, tx repository.Store, ticket *domain.Ticket) (string, []string, error) {
	latest, err := tx.Messages().LatestInbound(ctx, ticket.ID)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return ticket.OriginalMessageID, parser.UniqueMessageIDs(ticket.OriginalMessageID), nil
	case err != nil:
		return "", nil, fmt.Errorf("latest inbound: %w", err)
	}
	return latest.MessageID, parser.UniqueMessageIDs(ticket.OriginalMessageID, latest.References, latest.MessageID), nil
}

func (s *TicketService) recipients(requester string, existing, requested []string) ([]string, error) {
	for _, addr := range requested {
		if _, err := normalizeAddress(addr); err != nil {
			return nil, apperrors.NewValidationError("invalid recipient", map[string]any{"recipient": addr})
		}
	}
	return domain.Participants(requester, s.cfg.SystemAddress, existing, requested), nil
}

func (s *TicketService) notify(ctx context.Context, n notify.Notification) bool {
	if s.notifier == nil {
		return false
	}
	err := s.notifier.Notify(ctx, n)
	if errors.Is(err, notify.ErrDisabled) {
		s.logger.Debug("ticket notification not sent: outbound mail disabled", zap.Int64("ticket_id", n.TicketID))
		return false
	}
	if err != nil {
		s.logger.Error("ticket notification failed",
			zap.Int64("ticket_id", n.TicketID),
			zap.String("message_id", n.MessageID),
			zap.Error(err))
		return false
	}
	return true
}

func (s *TicketService) newMessageID(kind string) string {
	return fmt.Sprintf("<%s-%s@%s>", kind, uuid.NewString(), s.cfg.MessageIDDomain)
}

func (s *TicketService) publishEvent(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("event handler failed",
			zap.String("event_type", string(event.Type)),
			zap.Int64("ticket_id", event.TicketID),
			zap.Error(err))
	}
}

func agentActor(agent domain.Agent) events.Actor {
	return events.Actor{Type: events.ActorAgent, Email: agent.Email}
}

func normalizeAddress(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	return strings.ToLower(addr.Address), nil
}

func notFound(err error, resource string, id int64) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NewNotFound(resource, map[string]any{"id": id})
	}
	return err
}

func stringPreview(body string, max int) string {
	runes := []rune(strings.TrimSpace(body))
	if len(runes) <= max {
		return string(runes)
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}
