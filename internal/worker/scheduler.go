package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-mail/internal/inbound"
)

const (
	defaultPollTimeout  = 2 * time.Minute
	defaultSweepTimeout = 30 * time.Second
)

// PollRunner runs one mailbox poll cycle.
type PollRunner interface {
	RunCycle(ctx context.Context) (inbound.CycleReport, error)
}

// SLASweeper flags overdue tickets.
type SLASweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// Config holds cron expressions (with seconds) and per-run timeouts.
type Config struct {
	PollSchedule string
	SLASchedule  string
	PollTimeout  time.Duration
	SweepTimeout time.Duration
}

// Dependencies wires the scheduled jobs. A nil Poller disables mailbox polling.
type Dependencies struct {
	Poller  PollRunner
	Monitor SLASweeper
	Logger  *zap.Logger
}

// Scheduler runs the poll and SLA jobs on their schedules. A job still running
// when its next tick fires is skipped.
type Scheduler struct {
	cron    *cron.Cron
	cfg     Config
	poller  PollRunner
	monitor SLASweeper
	logger  *zap.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler registers the jobs. It fails on an unparsable schedule.
func NewScheduler(cfg Config, deps Dependencies) (*Scheduler, error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("scheduler")
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	if cfg.SweepTimeout <= 0 {
		cfg.SweepTimeout = defaultSweepTimeout
	}

	cl := cronLogger{logger: logger.Sugar()}
	s := &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		cfg:     cfg,
		poller:  deps.Poller,
		monitor: deps.Monitor,
		logger:  logger,
		ctx:     context.Background(),
	}

	if s.poller != nil {
		if _, err := s.cron.AddFunc(cfg.PollSchedule, s.runPoll); err != nil {
			return nil, fmt.Errorf("schedule mailbox poll: %w", err)
		}
	}
	if s.monitor != nil {
		if _, err := s.cron.AddFunc(cfg.SLASchedule, s.runSweep); err != nil {
			return nil, fmt.Errorf("schedule sla sweep: %w", err)
		}
	}
	return s, nil
}

// Start begins executing scheduled jobs. Jobs derive their context from ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.logger.Info("scheduler started",
		zap.Bool("poll", s.poller != nil),
		zap.String("poll_schedule", s.cfg.PollSchedule),
		zap.String("sla_schedule", s.cfg.SLASchedule))
	s.cron.Start()
}

// Stop halts the schedule and waits for running jobs until ctx expires, after
// which their contexts are cancelled.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	defer func() {
		s.mu.Lock()
		if s.cancel != nil {
			s.cancel()
		}
		s.mu.Unlock()
	}()

	select {
	case <-done.Done():
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out", zap.Error(ctx.Err()))
		return ctx.Err()
	}
}

func (s *Scheduler) baseContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

func (s *Scheduler) runPoll() {
	ctx, cancel := context.WithTimeout(s.baseContext(), s.cfg.PollTimeout)
	defer cancel()

	_, err := s.poller.RunCycle(ctx)
	switch {
	case errors.Is(err, inbound.ErrPollInProgress):
		s.logger.Debug("poll skipped", zap.Error(err))
	case err != nil:
		s.logger.Warn("scheduled poll failed", zap.Error(err))
	}
}

func (s *Scheduler) runSweep() {
	ctx, cancel := context.WithTimeout(s.baseContext(), s.cfg.SweepTimeout)
	defer cancel()

	if _, err := s.monitor.Sweep(ctx); err != nil {
		s.logger.Error("sla sweep failed", zap.Error(err))
	}
}

// cronLogger routes robfig/cron diagnostics to zap.
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
