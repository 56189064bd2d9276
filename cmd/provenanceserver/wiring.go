package main

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"

	"github.com/R3E-Network/provenance-service/internal/audit"
	"github.com/R3E-Network/provenance-service/internal/config"
	"github.com/R3E-Network/provenance-service/internal/consensus"
	"github.com/R3E-Network/provenance-service/internal/core"
	"github.com/R3E-Network/provenance-service/internal/domain"
	"github.com/R3E-Network/provenance-service/internal/intel"
	"github.com/R3E-Network/provenance-service/internal/logging"
	"github.com/R3E-Network/provenance-service/internal/platform/database"
	"github.com/R3E-Network/provenance-service/internal/platform/migrations"
	"github.com/R3E-Network/provenance-service/internal/ratelimit"
	"github.com/R3E-Network/provenance-service/internal/scheduler"
	"github.com/R3E-Network/provenance-service/internal/store"
	"github.com/R3E-Network/provenance-service/internal/webhook"
)

// buildAnalysisStore opens a Postgres-backed store when dsn is set,
// applying embedded migrations first unless disabled. An empty dsn falls
// back to the in-process memory store — useful for local runs and tests.
func buildAnalysisStore(ctx context.Context, dsn string, cfg *config.Config, log *logrus.Entry) (store.AnalysisStore, *sql.DB) {
	dedup := time.Duration(cfg.Analysis.DedupWindowSeconds) * time.Second

	if dsn == "" {
		log.Info("no database dsn configured, using in-memory analysis store")
		return store.NewMemoryStore(dedup), nil
	}

	db, err := database.Open(ctx, dsn, database.Pool{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.Database.ConnMaxLifetime) * time.Second,
	})
	if err != nil {
		log.WithError(err).Fatal("connect to postgres")
	}
	if cfg.Database.MigrateOnStart {
		if err := migrations.Apply(ctx, db); err != nil {
			log.WithError(err).Fatal("apply migrations")
		}
	}
	return store.NewPostgresStore(db, dedup), db
}

// buildGuard constructs the rate-limit/spend guard, using a shared Redis
// store when cache.url is configured, or an in-process store otherwise.
func buildGuard(cfg *config.Config) *ratelimit.Guard {
	buckets := make(map[string]ratelimit.BucketRule, len(cfg.RateLimit.Buckets))
	for name, b := range cfg.RateLimit.Buckets {
		buckets[name] = ratelimit.BucketRule{MaxRequests: b.Requests, WindowSeconds: b.WindowSeconds}
	}

	var backing ratelimit.Store
	if cfg.Cache.URL != "" {
		opts, err := redis.ParseURL(cfg.Cache.URL)
		if err == nil {
			backing = ratelimit.NewRedisStore(redis.NewClient(opts))
		}
	}
	if backing == nil {
		backing = ratelimit.NewMemoryStore()
	}

	return ratelimit.New(backing, buckets, cfg.RateLimit.DailySpendCap)
}

// buildAuditPipeline wires the ring buffer plus a Postgres durable sink when
// db is non-nil; without a db the pipeline is ring-only (no file sink is
// wired here).
func buildAuditPipeline(cfg *config.Config, log *logging.Logger, db *sql.DB) *audit.Pipeline {
	if !cfg.Audit.Enabled {
		return nil
	}
	var sink audit.Sink
	if db != nil {
		sink = audit.NewPostgresSink(db)
	}
	capacity := cfg.Audit.RingCapacity
	if capacity <= 0 {
		capacity = 20000
	}
	return audit.New(capacity, sink, log)
}

// buildConsensusEngine wires the always-invoked internal detector plus any
// configured external vendor adapters.
func buildConsensusEngine(cfg *config.Config, log *logging.Logger) *consensus.Engine {
	internalWeight := cfg.Consensus.InternalWeight
	if internalWeight <= 0 {
		internalWeight = 1.0
	}
	internalDetector := consensus.NewInternalDetector(internalWeight, nil)

	var externals []consensus.Provider
	timeout := time.Duration(cfg.Consensus.ProviderTimeoutSeconds) * time.Second
	for _, p := range cfg.Consensus.Providers {
		externals = append(externals, consensus.NewHTTPProvider(p.Name, p.Weight, p.Endpoint, p.CredentialRef, timeout))
	}

	thresholds := map[domain.ContentType]float64{}
	for k, v := range cfg.Consensus.Thresholds {
		thresholds[domain.ContentType(k)] = v
	}

	opts := []consensus.Option{
		consensus.WithExternalProviders(externals...),
		consensus.WithThresholds(thresholds),
		consensus.WithLogger(log),
	}
	if timeout > 0 {
		opts = append(opts, consensus.WithProviderTimeout(timeout))
	}
	return consensus.New(internalDetector, opts...)
}

// buildWebhookDispatcher wires the durable queue, dead-letter log, and
// delivery loop. A nil return means webhook delivery is unconfigured.
func buildWebhookDispatcher(cfg *config.Config, auditPipeline *audit.Pipeline, log *logrus.Entry) *webhook.Dispatcher {
	queue, err := webhook.NewQueue(cfg.Webhook.QueueFile)
	if err != nil {
		log.WithError(err).Fatal("open webhook queue")
	}
	deadLtr, err := webhook.NewDeadLetterLog(cfg.Webhook.DeadLetterFile)
	if err != nil {
		log.WithError(err).Fatal("open webhook dead-letter log")
	}

	zlog := zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Str("component", "webhook").Logger()

	wcfg := webhook.Config{
		DrainInterval:  time.Duration(cfg.Webhook.DrainIntervalSeconds) * time.Second,
		BaseBackoff:    time.Duration(cfg.Webhook.BaseBackoffSeconds) * time.Second,
		MaxBackoff:     time.Duration(cfg.Webhook.MaxBackoffSeconds) * time.Second,
		MaxAttempts:    cfg.Webhook.MaxAttempts,
		RequestTimeout: time.Duration(cfg.Webhook.DeliveryTimeoutSeconds) * time.Second,
	}
	return webhook.New(wcfg, queue, deadLtr, auditAdapter{auditPipeline}, zlog)
}

// auditAdapter narrows *audit.Pipeline to the scheduler/webhook packages'
// AuditEmitter interface, tolerating a nil pipeline (audit disabled).
type auditAdapter struct {
	pipeline *audit.Pipeline
}

func (a auditAdapter) Emit(ctx context.Context, eventType string, severity domain.AuditSeverity, payload map[string]any, actorID, requestID string) {
	if a.pipeline == nil {
		return
	}
	a.pipeline.Emit(ctx, eventType, severity, payload, actorID, requestID)
}

// buildScheduler constructs the scheduler, registers every configured job,
// and wires its collection runner and webhook sink through the Collector.
func buildScheduler(cfg *config.Config, c *core.Core, dispatcher *webhook.Dispatcher, auditPipeline *audit.Pipeline) *scheduler.Scheduler {
	zapLog, _ := zap.NewProduction()

	scfg := scheduler.Config{
		TickInterval:    time.Duration(cfg.Scheduler.TickSeconds) * time.Second,
		MonthlyCap:      cfg.Scheduler.MonthlyRequestCap,
		KillSwitchOnCap: cfg.Scheduler.KillSwitchOnCap,
		MaxRetrySeconds: cfg.Scheduler.MaxRetrySeconds,
		PageCap:         cfg.Scheduler.PageCap,
		UsageFile:       cfg.Scheduler.UsageFile,
	}

	collector := intel.NewCollector(c, intel.NullFetcher{}, cfg.Scheduler.PageCap)
	var sink scheduler.Sink
	if dispatcher != nil {
		sink = intel.NewSink(dispatcher, cfg.Webhook.URLs)
	} else {
		sink = intel.NewSink(nil, nil)
	}

	sched := scheduler.New(scfg, collector.Run, sink, auditAdapter{auditPipeline}, zapLog)

	for _, j := range cfg.Scheduler.Handles {
		interval, err := time.ParseDuration(j.Interval)
		if err != nil {
			interval = 24 * time.Hour
		}
		sched.Register(domain.ScheduledJob{
			Handle:     j.Handle,
			Interval:   interval,
			WindowDays: j.WindowDays,
			MaxPosts:   j.MaxPosts,
			Query:      j.Query,
		})
	}
	return sched
}
