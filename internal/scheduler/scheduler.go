// Package scheduler implements the cooperative recurring-collection loop:
// on each tick it checks the monthly budget and kill-switch, then dispatches
// due jobs onto a worker pool without blocking the tick itself — grounded
// on the automation service's ticker loop and the oracle dispatcher's
// per-item backoff scheduling.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/R3E-Network/provenance-service/internal/domain"
	"github.com/R3E-Network/provenance-service/internal/metrics"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// dueAt reports whether job is due at now, honoring an optional cron
// expression over the plain interval.
func dueAt(job domain.ScheduledJob, now time.Time) bool {
	if job.LastCompletedAt.IsZero() {
		return true
	}
	if job.CronExpr != "" {
		schedule, err := cronParser.Parse(job.CronExpr)
		if err != nil {
			return now.After(job.LastCompletedAt.Add(job.Interval))
		}
		return !now.Before(schedule.Next(job.LastCompletedAt))
	}
	return now.After(job.LastCompletedAt.Add(job.Interval))
}

// CollectionResult is what a Runner produces for one job run.
type CollectionResult struct {
	Record          domain.AnalysisRecord
	WebhookPayload  []byte
	RequestsUsed    int
}

// Runner performs one job's collection → report steps and returns the
// result; the scheduler then hands that result to the Sink for storing and
// webhook enqueue. The scheduler calls it on a worker-pool goroutine, so a
// run never blocks the tick.
type Runner func(ctx context.Context, job domain.ScheduledJob) (CollectionResult, error)

// Sink receives the scheduler's side effects: persisting the analysis
// record and enqueuing the webhook notification.
type Sink interface {
	StoreResult(ctx context.Context, result CollectionResult) error
	EnqueueWebhook(ctx context.Context, payload []byte) error
}

// AuditEmitter is the narrow audit interface the scheduler depends on.
type AuditEmitter interface {
	Emit(ctx context.Context, eventType string, severity domain.AuditSeverity, payload map[string]any, actorID, requestID string)
}

// Scheduler runs the tick loop described in design §4.4.
type Scheduler struct {
	tickInterval    time.Duration
	monthlyCap      int
	killSwitchOnCap bool
	maxRetrySeconds int
	pageCap         int

	usage      *UsageStore
	runner     Runner
	sink       Sink
	audit      AuditEmitter
	log        *zap.Logger

	mu       sync.Mutex
	jobs     map[string]*domain.ScheduledJob
	running  map[string]bool
	usageNow domain.SchedulerUsage

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config configures a Scheduler.
type Config struct {
	TickInterval    time.Duration
	MonthlyCap      int
	KillSwitchOnCap bool
	MaxRetrySeconds int
	PageCap         int
	UsageFile       string
}

// New constructs a Scheduler. runner performs the per-job work; sink
// persists results and enqueues webhooks; audit records scheduler events.
func New(cfg Config, runner Runner, sink Sink, audit AuditEmitter, log *zap.Logger) *Scheduler {
	if log == nil {
		log, _ = zap.NewProduction()
	}
	return &Scheduler{
		tickInterval:    cfg.TickInterval,
		monthlyCap:      cfg.MonthlyCap,
		killSwitchOnCap: cfg.KillSwitchOnCap,
		maxRetrySeconds: cfg.MaxRetrySeconds,
		pageCap:         cfg.PageCap,
		usage:           NewUsageStore(cfg.UsageFile),
		runner:          runner,
		sink:            sink,
		audit:           audit,
		log:             log,
		jobs:            map[string]*domain.ScheduledJob{},
		running:         map[string]bool{},
	}
}

// Register adds a job to the scheduler's registry. Safe to call while the
// scheduler is running; the job becomes eligible on the next tick.
func (s *Scheduler) Register(job domain.ScheduledJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := job
	s.jobs[job.Handle] = &j
}

// Unregister removes a job. Any in-flight run completes and persists its
// result; it simply won't be rescheduled afterward.
func (s *Scheduler) Unregister(handle string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, handle)
}

// Usage returns a snapshot of the scheduler's current monthly counter state.
func (s *Scheduler) Usage() domain.SchedulerUsage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usageNow
}

// SetKillSwitch arms or disarms the kill-switch for the current month
// without waiting for the next cap-triggered tick.
func (s *Scheduler) SetKillSwitch(armed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usageNow.KillSwitchArmed = armed
}

// Name implements system.Service.
func (s *Scheduler) Name() string { return "scheduler" }

// Start begins the tick loop on a background goroutine.
func (s *Scheduler) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.tick(runCtx)
			}
		}
	}()
	return nil
}

// Stop cancels the tick loop and waits for it to exit.
func (s *Scheduler) Stop(context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	return nil
}

func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now().UTC()
	loaded, err := s.usage.Load(now)
	if err != nil {
		s.log.Warn("scheduler usage load failed", zap.Error(err))
		return
	}

	s.mu.Lock()
	if s.usageNow.MonthKey == "" {
		s.usageNow = loaded
	}
	if monthKey(now) != s.usageNow.MonthKey {
		s.usageNow = domain.SchedulerUsage{MonthKey: monthKey(now), KillSwitchArmed: s.killSwitchOnCap}
	}
	usage := s.usageNow
	s.mu.Unlock()

	if usage.KillSwitchArmed && usage.RequestsUsed >= s.monthlyCap && s.monthlyCap > 0 {
		s.emitAudit(ctx, "scheduler.capped", domain.SeverityWarning, map[string]any{"month_key": usage.MonthKey, "requests_used": usage.RequestsUsed})
		_ = s.usage.Save(usage)
		return
	}

	s.mu.Lock()
	jobs := make([]domain.ScheduledJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, *j)
	}
	s.mu.Unlock()

	for _, job := range jobs {
		s.maybeDispatch(ctx, job, now)
	}

	s.mu.Lock()
	snapshot := s.usageNow
	s.mu.Unlock()
	_ = s.usage.Save(snapshot)
}

func (s *Scheduler) maybeDispatch(ctx context.Context, job domain.ScheduledJob, now time.Time) {
	s.mu.Lock()
	if s.running[job.Handle] {
		s.mu.Unlock()
		return
	}
	tracked := s.jobs[job.Handle]
	if tracked == nil {
		s.mu.Unlock()
		return
	}
	due := dueAt(*tracked, now)
	backedOff := now.Before(tracked.NextAttemptAt)
	if !due || backedOff {
		s.mu.Unlock()
		return
	}

	estimate := job.RequestsEstimate(s.pageCap)
	if s.monthlyCap > 0 && s.usageNow.RequestsUsed+estimate > s.monthlyCap {
		s.mu.Unlock()
		s.emitAudit(ctx, "scheduler.budget_skip", domain.SeverityInfo, map[string]any{"handle": job.Handle, "estimate": estimate, "requests_used": s.usageNow.RequestsUsed})
		return
	}

	s.running[job.Handle] = true
	s.usageNow.RequestsUsed += estimate
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runJob(ctx, job)
	}()
}

func (s *Scheduler) runJob(ctx context.Context, job domain.ScheduledJob) {
	defer func() {
		s.mu.Lock()
		s.running[job.Handle] = false
		s.mu.Unlock()
	}()

	result, err := s.runner(ctx, job)
	now := time.Now().UTC()

	s.mu.Lock()
	tracked := s.jobs[job.Handle]
	s.mu.Unlock()

	if err != nil {
		s.mu.Lock()
		if tracked != nil {
			tracked.Failures++
			backoff := time.Duration(1<<uint(min(tracked.Failures, 30))) * time.Second
			if s.maxRetrySeconds > 0 && backoff > time.Duration(s.maxRetrySeconds)*time.Second {
				backoff = time.Duration(s.maxRetrySeconds) * time.Second
			}
			tracked.NextAttemptAt = now.Add(backoff)
			tracked.LastCompletedAt = now
		}
		s.mu.Unlock()
		s.emitAudit(ctx, "scheduler.run_failed", domain.SeverityError, map[string]any{"handle": job.Handle, "error": err.Error()})
		metrics.RecordSchedulerRun(job.Handle, "failed")
		return
	}

	if s.sink != nil {
		if err := s.sink.StoreResult(ctx, result); err != nil {
			s.emitAudit(ctx, "scheduler.store_failed", domain.SeverityError, map[string]any{"handle": job.Handle, "error": err.Error()})
		}
		if len(result.WebhookPayload) > 0 {
			if err := s.sink.EnqueueWebhook(ctx, result.WebhookPayload); err != nil {
				s.emitAudit(ctx, "scheduler.webhook_enqueue_failed", domain.SeverityError, map[string]any{"handle": job.Handle, "error": err.Error()})
			}
		}
	}

	s.mu.Lock()
	if tracked != nil {
		tracked.LastCompletedAt = now
		tracked.Failures = 0
		tracked.NextAttemptAt = time.Time{}
	}
	s.mu.Unlock()

	s.emitAudit(ctx, "scheduler.run", domain.SeverityInfo, map[string]any{"handle": job.Handle})
	metrics.RecordSchedulerRun(job.Handle, "ok")
}

func (s *Scheduler) emitAudit(ctx context.Context, eventType string, severity domain.AuditSeverity, payload map[string]any) {
	if s.audit == nil {
		return
	}
	s.audit.Emit(ctx, eventType, severity, payload, "scheduler", "")
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
