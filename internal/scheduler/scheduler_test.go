package scheduler_test

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/provenance-service/internal/domain"
	"github.com/R3E-Network/provenance-service/internal/scheduler"
)

type recordingAudit struct {
	mu     sync.Mutex
	events []string
}

func (a *recordingAudit) Emit(_ context.Context, eventType string, _ domain.AuditSeverity, _ map[string]any, _, _ string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, eventType)
}

func (a *recordingAudit) has(eventType string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, e := range a.events {
		if e == eventType {
			return true
		}
	}
	return false
}

type nopSink struct{}

func (nopSink) StoreResult(context.Context, scheduler.CollectionResult) error { return nil }
func (nopSink) EnqueueWebhook(context.Context, []byte) error                  { return nil }

// TestScheduler_NoOverlappingRunsPerJob covers property 8: no two
// start_run(job) observations overlap in time.
func TestScheduler_NoOverlappingRunsPerJob(t *testing.T) {
	var inFlight int32
	var overlapped bool
	runner := func(ctx context.Context, job domain.ScheduledJob) (scheduler.CollectionResult, error) {
		if atomic.AddInt32(&inFlight, 1) > 1 {
			overlapped = true
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return scheduler.CollectionResult{}, nil
	}

	audit := &recordingAudit{}
	s := scheduler.New(scheduler.Config{
		TickInterval: 5 * time.Millisecond,
		MonthlyCap:   0,
		UsageFile:    filepath.Join(t.TempDir(), "usage.json"),
	}, runner, nopSink{}, audit, nil)

	s.Register(domain.ScheduledJob{Handle: "job-1", Interval: time.Millisecond, WindowDays: 1, MaxPosts: 1})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	time.Sleep(150 * time.Millisecond)
	cancel()
	require.NoError(t, s.Stop(context.Background()))

	require.False(t, overlapped, "observed overlapping runs for the same job")
}

// TestScheduler_MonthlyCapSkipsAndEmitsBudgetSkip covers scenario S5.
func TestScheduler_MonthlyCapSkipsAndEmitsBudgetSkip(t *testing.T) {
	var runs int32
	runner := func(ctx context.Context, job domain.ScheduledJob) (scheduler.CollectionResult, error) {
		atomic.AddInt32(&runs, 1)
		return scheduler.CollectionResult{}, nil
	}

	audit := &recordingAudit{}
	s := scheduler.New(scheduler.Config{
		TickInterval: 10 * time.Millisecond,
		MonthlyCap:   50,
		UsageFile:    filepath.Join(t.TempDir(), "usage.json"),
	}, runner, nopSink{}, audit, nil)

	s.Register(domain.ScheduledJob{Handle: "job-1", Interval: time.Microsecond, WindowDays: 2, MaxPosts: 10})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	require.Eventually(t, func() bool {
		return audit.has("scheduler.budget_skip")
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, s.Stop(context.Background()))

	require.True(t, atomic.LoadInt32(&runs) >= 2)
}
