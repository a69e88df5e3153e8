package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-mail/internal/inbound"
)

type fakePoller struct {
	calls atomic.Int32
	err   error
	block bool
}

func (f *fakePoller) RunCycle(ctx context.Context) (inbound.CycleReport, error) {
	f.calls.Add(1)
	if f.block {
		<-ctx.Done()
		return inbound.CycleReport{}, ctx.Err()
	}
	return inbound.CycleReport{Fetched: 1, Created: 1}, f.err
}

type fakeSweeper struct {
	calls atomic.Int32
}

func (f *fakeSweeper) Sweep(context.Context) (int64, error) {
	f.calls.Add(1)
	return 0, nil
}

func TestSchedulerRunsJobs(t *testing.T) {
	poller := &fakePoller{}
	sweeper := &fakeSweeper{}
	s, err := NewScheduler(Config{PollSchedule: "* * * * * *", SLASchedule: "@every 1s"}, Dependencies{
		Poller:  poller,
		Monitor: sweeper,
		Logger:  zap.NewNop(),
	})
	require.NoError(t, err)

	s.Start(context.Background())
	require.Eventually(t, func() bool {
		return poller.calls.Load() > 0 && sweeper.calls.Load() > 0
	}, 3*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestSchedulerWithoutPoller(t *testing.T) {
	s, err := NewScheduler(Config{PollSchedule: "not a schedule", SLASchedule: "0 * * * * *"}, Dependencies{
		Monitor: &fakeSweeper{},
	})
	require.NoError(t, err)
	assert.Len(t, s.cron.Entries(), 1)
}

func TestSchedulerRejectsBadSchedule(t *testing.T) {
	_, err := NewScheduler(Config{PollSchedule: "every minute", SLASchedule: "0 * * * * *"}, Dependencies{
		Poller:  &fakePoller{},
		Monitor: &fakeSweeper{},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schedule mailbox poll")
}

func TestRunPollToleratesOverlap(t *testing.T) {
	poller := &fakePoller{err: inbound.ErrPollInProgress}
	s, err := NewScheduler(Config{PollSchedule: "0 * * * * *", SLASchedule: "0 * * * * *"}, Dependencies{Poller: poller})
	require.NoError(t, err)

	s.runPoll()
	assert.Equal(t, int32(1), poller.calls.Load())
}

func TestStopCancelsRunningJobAfterDeadline(t *testing.T) {
	poller := &fakePoller{block: true}
	s, err := NewScheduler(Config{PollSchedule: "* * * * * *", SLASchedule: "0 0 0 1 1 *"}, Dependencies{Poller: poller})
	require.NoError(t, err)

	s.Start(context.Background())
	require.Eventually(t, func() bool { return poller.calls.Load() > 0 }, 3*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, s.Stop(ctx), context.DeadlineExceeded)
	assert.ErrorIs(t, s.baseContext().Err(), context.Canceled)
}
