package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-mail/internal/events"
)

// NotificationService records domain events in the service log.
type NotificationService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		dispatcher: dispatcher,
		logger:     logger.Named("events"),
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventTicketCreated, n.handle("TicketCreated"))
	n.dispatcher.Subscribe(events.EventTicketStatusChanged, n.handle("TicketStatusChanged"))
	n.dispatcher.Subscribe(events.EventTicketMessageAdded, n.handle("TicketMessageAdded"))
	n.dispatcher.Subscribe(events.EventSLABreached, n.handleSLABreached)
}

func (n *NotificationService) handle(name string) events.EventHandler {
	return func(_ context.Context, event events.Event) error {
		n.logger.Info(name,
			zap.String("event_id", event.ID),
			zap.Int64("ticket_id", event.TicketID),
			zap.String("actor", string(event.Actor.Type)),
			zap.Any("payload", event.Payload))
		return nil
	}
}

func (n *NotificationService) handleSLABreached(_ context.Context, event events.Event) error {
	payload, _ := event.Payload.(events.SLABreachedPayload)
	n.logger.Warn("SLABreached", zap.String("event_id", event.ID), zap.Int64("count", payload.Count))
	return nil
}
