// Package sla flips overdue open tickets to BREACHED.
package sla

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-mail/internal/events"
	"github.com/spec-kit/helpdesk-mail/internal/observability"
	"github.com/spec-kit/helpdesk-mail/internal/repository"
)

// Dependencies wires the Monitor.
type Dependencies struct {
	Store      repository.Store
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
	Metrics    *observability.Metrics
	Clock      func() time.Time
}

// Monitor runs SLA sweeps.
type Monitor struct {
	store      repository.Store
	dispatcher events.Dispatcher
	logger     *zap.Logger
	metrics    *observability.Metrics
	now        func() time.Time
}

// NewMonitor builds a Monitor.
func NewMonitor(deps Dependencies) *Monitor {
	m := &Monitor{
		store:      deps.Store,
		dispatcher: deps.Dispatcher,
		logger:     deps.Logger,
		metrics:    deps.Metrics,
		now:        deps.Clock,
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	if m.now == nil {
		m.now = time.Now
	}
	m.logger = m.logger.Named("sla")
	return m
}

// Sweep marks every OPEN ticket whose deadline has passed as BREACHED and
// returns how many changed. Running it again without new deadlines passing
// changes nothing.
func (m *Monitor) Sweep(ctx context.Context) (int64, error) {
	now := m.now()
	affected, err := m.store.Tickets().MarkSLABreached(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("mark sla breached: %w", err)
	}
	if affected == 0 {
		m.logger.Debug("no sla breaches")
		return 0, nil
	}

	m.logger.Warn("sla breached", zap.Int64("count", affected))
	m.metrics.RecordSLABreaches(affected)
	if m.dispatcher != nil {
		event := events.New(events.EventSLABreached, 0, events.Actor{Type: events.ActorSystem}, now, events.SLABreachedPayload{Count: affected})
		if err := m.dispatcher.Publish(ctx, event); err != nil {
			m.logger.Warn("event handler failed", zap.String("event_type", string(event.Type)), zap.Error(err))
		}
	}
	return affected, nil
}
