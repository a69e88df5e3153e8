// Package inbound drains the helpdesk mailbox into the ingestion transaction.
// A message is marked \Seen only once its outcome is final.
package inbound

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-mail/internal/inbound/ingest"
	"github.com/spec-kit/helpdesk-mail/internal/inbound/parser"
	"github.com/spec-kit/helpdesk-mail/internal/mailbox"
	"github.com/spec-kit/helpdesk-mail/internal/observability"
)

// ErrPollInProgress is returned when another cycle holds the mailbox.
var ErrPollInProgress = errors.New("poll already in progress")

// Session is an open mailbox.
type Session interface {
	Select(ctx context.Context, name string) error
	ListUnseen(ctx context.Context, limit int) ([]mailbox.Message, error)
	MarkSeen(ctx context.Context, uids ...imap.UID) error
	Close() error
}

// DialFunc opens a Session.
type DialFunc func(ctx context.Context) (Session, error)

// Ingester commits parsed messages.
type Ingester interface {
	Ingest(ctx context.Context, msg *parser.Message) (ingest.Result, error)
}

// PollerConfig tunes a poll cycle.
type PollerConfig struct {
	Folder      string
	BatchLimit  int
	MaxAttempts int
}

// PollerDependencies wires the Poller. Queue and Lock are optional.
type PollerDependencies struct {
	Dial     DialFunc
	Ingester Ingester
	Queue    *RetryQueue
	Lock     *Lock
	Logger   *zap.Logger
	Metrics  *observability.Metrics
}

// CycleReport counts what one cycle did.
type CycleReport struct {
	Fetched      int `json:"fetched"`
	Created      int `json:"created"`
	Appended     int `json:"appended"`
	Duplicates   int `json:"duplicates"`
	Discarded    int `json:"discarded"`
	Unparseable  int `json:"unparseable"`
	Failed       int `json:"failed"`
	Queued       int `json:"queued"`
	Retried      int `json:"retried"`
	DeadLettered int `json:"dead_lettered"`
}

// Poller runs poll cycles. Cycles never overlap within a process, nor across
// processes when a Lock is configured.
type Poller struct {
	cfg      PollerConfig
	dial     DialFunc
	ingester Ingester
	queue    *RetryQueue
	lock     *Lock
	logger   *zap.Logger
	metrics  *observability.Metrics
	mu       sync.Mutex

	// attempts counts failed ingests per UID for messages left unseen when no
	// retry queue is configured. Guarded by mu.
	attempts map[imap.UID]int
}

// NewPoller builds a Poller.
func NewPoller(cfg PollerConfig, deps PollerDependencies) *Poller {
	if cfg.Folder == "" {
		cfg.Folder = "INBOX"
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		cfg:      cfg,
		dial:     deps.Dial,
		ingester: deps.Ingester,
		queue:    deps.Queue,
		lock:     deps.Lock,
		logger:   logger.Named("poller"),
		metrics:  deps.Metrics,
		attempts: make(map[imap.UID]int),
	}
}

// RunCycle drains the retry queue, then ingests the unread messages of the
// mailbox one at a time.
func (p *Poller) RunCycle(ctx context.Context) (CycleReport, error) {
	var report CycleReport
	if !p.mu.TryLock() {
		p.metrics.RecordPollCycle("skipped", 0)
		return report, ErrPollInProgress
	}
	defer p.mu.Unlock()

	if p.lock != nil {
		token, ok, err := p.lock.Acquire(ctx)
		if err != nil {
			p.metrics.RecordPollCycle("error", 0)
			return report, fmt.Errorf("acquire poll lock: %w", err)
		}
		if !ok {
			p.metrics.RecordPollCycle("skipped", 0)
			return report, ErrPollInProgress
		}
		defer func() {
			if err := p.lock.Release(context.WithoutCancel(ctx), token); err != nil {
				p.logger.Warn("release poll lock", zap.Error(err))
			}
		}()
	}

	start := time.Now()
	err := p.run(ctx, &report)
	result := "ok"
	if err != nil {
		result = "error"
		p.logger.Error("poll cycle failed", zap.Error(err), zap.Any("report", report))
	} else if report.Fetched > 0 || report.Retried > 0 {
		p.logger.Info("poll cycle finished", zap.Any("report", report))
	}
	p.metrics.RecordPollCycle(result, time.Since(start))
	return report, err
}

func (p *Poller) run(ctx context.Context, report *CycleReport) error {
	p.drainRetries(ctx, report)

	session, err := p.dial(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := session.Close(); err != nil {
			p.logger.Debug("close mailbox", zap.Error(err))
		}
	}()

	if err := session.Select(ctx, p.cfg.Folder); err != nil {
		return err
	}
	messages, err := session.ListUnseen(ctx, p.cfg.BatchLimit)
	if err != nil {
		return err
	}
	report.Fetched = len(messages)
	p.forgetAttempts(messages)

	for _, msg := range messages {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !p.process(ctx, msg, report) {
			continue
		}
		if err := session.MarkSeen(ctx, msg.UID); err != nil {
			return fmt.Errorf("acknowledge uid %d: %w", msg.UID, err)
		}
	}
	return nil
}

// process handles one fetched message and reports whether it may be
// acknowledged.
func (p *Poller) process(ctx context.Context, msg mailbox.Message, report *CycleReport) bool {
	logger := p.logger.With(zap.Uint32("uid", uint32(msg.UID)))

	parsed, err := parser.Parse(msg.Raw)
	if err != nil {
		logger.Warn("skipping unparseable message", zap.Error(err))
		report.Unparseable++
		p.metrics.RecordIngest("unparseable")
		return true
	}

	result, err := p.ingester.Ingest(ctx, parsed)
	if err == nil {
		delete(p.attempts, msg.UID)
		count(report, result.Action)
		return true
	}

	if p.queue == nil {
		p.attempts[msg.UID]++
		attempts := p.attempts[msg.UID]
		logger = logger.With(zap.String("message_id", parsed.MessageID), zap.Int("attempts", attempts))
		if attempts >= p.cfg.MaxAttempts {
			delete(p.attempts, msg.UID)
			report.DeadLettered++
			p.metrics.RecordIngest("dead_lettered")
			logger.Error("giving up on message, marking it seen", zap.Error(err))
			return true
		}
		report.Failed++
		logger.Warn("leaving message unseen for the next cycle", zap.Error(err))
		return false
	}
	report.Failed++
	entry := RetryEntry{
		UID:       uint32(msg.UID),
		Raw:       msg.Raw,
		Attempts:  1,
		FirstSeen: time.Now().UTC(),
		LastError: err.Error(),
	}
	if pushErr := p.queue.Push(ctx, entry); pushErr != nil {
		logger.Error("stage message for retry", zap.String("message_id", parsed.MessageID), zap.Error(pushErr))
		return false
	}
	report.Queued++
	return true
}

func (p *Poller) drainRetries(ctx context.Context, report *CycleReport) {
	if p.queue == nil {
		return
	}
	pending, err := p.queue.Len(ctx)
	if err != nil {
		p.logger.Warn("read retry queue", zap.Error(err))
		return
	}
	for ; pending > 0 && ctx.Err() == nil; pending-- {
		entry, err := p.queue.Pop(ctx)
		if err != nil {
			p.logger.Warn("pop retry entry", zap.Error(err))
			return
		}
		if entry == nil {
			return
		}
		report.Retried++

		parsed, err := parser.Parse(entry.Raw)
		if err != nil {
			report.Unparseable++
			report.DeadLettered++
			logger := p.logger.With(zap.Uint32("uid", entry.UID), zap.Int("attempts", entry.Attempts))
			logger.Error("retry entry no longer parses", zap.Error(err))
			entry.LastError = err.Error()
			if dlqErr := p.queue.DeadLetter(ctx, *entry); dlqErr != nil {
				logger.Error("dead-letter message", zap.Error(dlqErr))
			}
			continue
		}
		result, err := p.ingester.Ingest(ctx, parsed)
		if err == nil {
			count(report, result.Action)
			continue
		}

		entry.Attempts++
		entry.LastError = err.Error()
		logger := p.logger.With(zap.String("message_id", parsed.MessageID), zap.Int("attempts", entry.Attempts))
		if entry.Attempts >= p.cfg.MaxAttempts {
			report.DeadLettered++
			logger.Error("giving up on message", zap.Error(err))
			if dlqErr := p.queue.DeadLetter(ctx, *entry); dlqErr != nil {
				logger.Error("dead-letter message", zap.Error(dlqErr))
			}
			continue
		}
		report.Failed++
		if pushErr := p.queue.Push(ctx, *entry); pushErr != nil {
			logger.Error("requeue message", zap.Error(pushErr))
		}
	}
}

// forgetAttempts drops counters for UIDs that are no longer unseen in the
// mailbox.
func (p *Poller) forgetAttempts(batch []mailbox.Message) {
	if len(p.attempts) == 0 {
		return
	}
	current := make(map[imap.UID]struct{}, len(batch))
	for _, msg := range batch {
		current[msg.UID] = struct{}{}
	}
	for uid := range p.attempts {
		if _, ok := current[uid]; !ok {
			delete(p.attempts, uid)
		}
	}
}

func count(report *CycleReport, action ingest.Action) {
	switch action {
	case ingest.ActionCreated:
		report.Created++
	case ingest.ActionAppended:
		report.Appended++
	case ingest.ActionDuplicate:
		report.Duplicates++
	case ingest.ActionDiscarded:
		report.Discarded++
	}
}

// Dialer adapts a mailbox.Dialer to DialFunc.
func Dialer(d *mailbox.Dialer) DialFunc {
	return func(ctx context.Context) (Session, error) {
		m, err := d.Dial(ctx)
		if err != nil {
			return nil, err
		}
		return m, nil
	}
}
