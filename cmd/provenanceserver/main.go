package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/R3E-Network/provenance-service/internal/audit"
	"github.com/R3E-Network/provenance-service/internal/config"
	"github.com/R3E-Network/provenance-service/internal/core"
	"github.com/R3E-Network/provenance-service/internal/domain"
	"github.com/R3E-Network/provenance-service/internal/httpapi"
	"github.com/R3E-Network/provenance-service/internal/logging"
	"github.com/R3E-Network/provenance-service/internal/system"
	"github.com/R3E-Network/provenance-service/internal/webhook"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	dsn := flag.String("dsn", "", "PostgreSQL DSN (overrides config/env; in-memory storage when empty)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	log_ := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: cfg.Logging.Output})
	entry := log_.Entry("main")

	rootCtx := context.Background()
	dsnVal := resolveDSN(*dsn, cfg)

	analysisStore, auditPostgresDB := buildAnalysisStore(rootCtx, dsnVal, cfg, entry)
	if auditPostgresDB != nil {
		defer auditPostgresDB.Close()
	}

	guard := buildGuard(cfg)
	auditPipeline := buildAuditPipeline(cfg, log_, auditPostgresDB)
	engine := buildConsensusEngine(cfg, log_)

	var auditStore *audit.Store
	if cfg.Audit.Enabled && auditPostgresDB != nil {
		auditStore = audit.NewStore(auditPostgresDB)
	}

	thresholds := map[domain.ContentType]float64{}
	for k, v := range cfg.Consensus.Thresholds {
		thresholds[domain.ContentType(k)] = v
	}

	mgr := system.NewManager()

	var opts []core.Option
	opts = append(opts, core.WithCostTable(cfg.RateLimit.CostPerCall))
	if auditStore != nil {
		opts = append(opts, core.WithAuditStore(auditStore))
	}

	var dispatcher *webhook.Dispatcher

	if cfg.Webhook.QueueFile != "" || len(cfg.Webhook.URLs) > 0 {
		dispatcher = buildWebhookDispatcher(cfg, auditPipeline, entry)
		if dispatcher != nil {
			opts = append(opts, core.WithWebhook(dispatcher))
			mgr.Register(dispatcher)
		}
	}

	c := core.New(analysisStore, engine, guard, auditPipeline, thresholds, opts...)

	if cfg.Scheduler.Enabled {
		sched := buildScheduler(cfg, c, dispatcher, auditPipeline)
		c.Scheduler = sched
		mgr.Register(sched)
	}

	httpCfg := httpapi.Config{
		Addr:             determineAddr(*addr, cfg),
		RequireAPIKey:    cfg.Server.RequireAPIKey,
		APIKeys:          cfg.Server.APIKeys,
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowCredentials: cfg.Server.AllowCredentials,
		MaxBodyBytes:     cfg.Server.MaxBodyBytes,
	}
	if cfg.Server.ShutdownSeconds > 0 {
		httpCfg.ShutdownTimeout = time.Duration(cfg.Server.ShutdownSeconds) * time.Second
	}
	httpService := httpapi.NewService(c, httpCfg, log_)
	mgr.Register(httpService)

	if err := mgr.Start(rootCtx); err != nil {
		entry.WithError(err).Fatal("start service")
	}
	entry.WithField("addr", httpCfg.Addr).Info("provenance service listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := mgr.Stop(shutdownCtx); err != nil {
		entry.WithError(err).Error("shutdown")
	}
}

func determineAddr(flagAddr string, cfg *config.Config) string {
	if a := strings.TrimSpace(flagAddr); a != "" {
		return a
	}
	host := cfg.Server.Host
	if host == "" {
		host = "0.0.0.0"
	}
	port := cfg.Server.Port
	if port == 0 {
		port = 8080
	}
	return host + ":" + strconv.Itoa(port)
}

func resolveDSN(flagDSN string, cfg *config.Config) string {
	if v := strings.TrimSpace(flagDSN); v != "" {
		return v
	}
	if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" {
		return v
	}
	return strings.TrimSpace(cfg.Database.URL)
}
