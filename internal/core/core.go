// Package core wires the service's domain components into a single handle,
// following the "one Core struct owns store/engine/scheduler/dispatcher/
// audit, HTTP receives a reference to it" shape, adapted from the source
// corpus's internal/app.Application aggregate-root pattern.
package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/provenance-service/internal/audit"
	"github.com/R3E-Network/provenance-service/internal/consensus"
	"github.com/R3E-Network/provenance-service/internal/domain"
	svcerrors "github.com/R3E-Network/provenance-service/internal/errors"
	"github.com/R3E-Network/provenance-service/internal/ratelimit"
	"github.com/R3E-Network/provenance-service/internal/scheduler"
	"github.com/R3E-Network/provenance-service/internal/store"
	"github.com/R3E-Network/provenance-service/internal/webhook"
)

// Core is the single aggregate root the HTTP layer, scheduler runner, and
// admin tooling all hold a reference to. It is constructed once at startup
// and is safe for concurrent use by every caller.
type Core struct {
	Store      store.AnalysisStore
	Consensus  *consensus.Engine
	Guard      *ratelimit.Guard
	Audit      *audit.Pipeline
	AuditStore *audit.Store
	Scheduler  *scheduler.Scheduler
	Webhook    *webhook.Dispatcher

	Thresholds map[domain.ContentType]float64
	CostTable  map[string]int
}

// Option configures a Core at construction time.
type Option func(*Core)

// WithScheduler attaches a scheduler instance (nil when scheduler.enabled
// is false).
func WithScheduler(s *scheduler.Scheduler) Option {
	return func(c *Core) { c.Scheduler = s }
}

// WithWebhook attaches a webhook dispatcher (nil when neither a webhook
// queue file nor webhook.urls are configured).
func WithWebhook(d *webhook.Dispatcher) Option {
	return func(c *Core) { c.Webhook = d }
}

// WithCostTable overrides the default per-operation spend-point cost table.
func WithCostTable(costs map[string]int) Option {
	return func(c *Core) { c.CostTable = costs }
}

// WithAuditStore attaches the durable audit query store (nil when audit
// events aren't backed by Postgres).
func WithAuditStore(s *audit.Store) Option {
	return func(c *Core) { c.AuditStore = s }
}

// New constructs a Core around its required collaborators.
func New(analysisStore store.AnalysisStore, engine *consensus.Engine, guard *ratelimit.Guard, auditPipeline *audit.Pipeline, thresholds map[domain.ContentType]float64, opts ...Option) *Core {
	c := &Core{
		Store:      analysisStore,
		Consensus:  engine,
		Guard:      guard,
		Audit:      auditPipeline,
		Thresholds: thresholds,
		CostTable:  map[string]int{"text": 1, "image": 3, "audio": 4, "video": 6, "batch": 5, "intel": 8},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Cost returns the configured spend-point cost for operation, defaulting to 1.
func (c *Core) Cost(operation string) int {
	if v, ok := c.CostTable[operation]; ok {
		return v
	}
	return 1
}

// DetectInput is the normalized request the HTTP layer builds from any of
// the /detect/* endpoints.
type DetectInput struct {
	Modality domain.ContentType
	Bytes    []byte
	Text     string
	Source   domain.Source
	SourceURL string
	Filename  string
}

// DetectResult is what Detect returns; the HTTP layer renders it as
// DetectionResponse.
type DetectResult struct {
	AnalysisID      string
	IsAIGenerated   bool
	Confidence      float64
	ModelPrediction string
	Consensus       domain.ConsensusSummary
	ProcessingTime  time.Duration
}

// Detect runs one artifact through the consensus engine and persists the
// decision, returning the dedup'd or newly created analysis ID.
func (c *Core) Detect(ctx context.Context, in DetectInput) (DetectResult, error) {
	start := time.Now()
	artifact := consensus.Artifact{Modality: in.Modality, Bytes: in.Bytes, Text: in.Text}

	summary, err := c.Consensus.Score(ctx, artifact)
	if err != nil {
		return DetectResult{}, err
	}

	payload, err := json.Marshal(summary)
	if err != nil {
		return DetectResult{}, svcerrors.InternalError("failed to encode consensus payload").WithErr(err)
	}

	record := domain.AnalysisRecord{
		AnalysisID:    uuid.NewString(),
		ContentType:   in.Modality,
		ContentHash:   contentHash(in),
		IsAIGenerated: summary.IsAIGenerated,
		Confidence:    summary.FinalProbability,
		ResultPayload: payload,
		Source:        in.Source,
		CreatedAt:     time.Now().UTC(),
	}
	if in.SourceURL != "" {
		record.SourceURL.String, record.SourceURL.Valid = in.SourceURL, true
	}
	if in.Filename != "" {
		record.Filename.String, record.Filename.Valid = in.Filename, true
	}
	if len(summary.Providers) > 0 && summary.Providers[0].Probability != nil {
		record.ModelPrediction.String, record.ModelPrediction.Valid = summary.Providers[0].Provider, true
	}

	analysisID, err := c.Store.Put(ctx, record)
	if err != nil {
		return DetectResult{}, err
	}

	duration := time.Since(start)
	if c.Audit != nil {
		c.Audit.Emit(ctx, "detection.completed", domain.SeverityInfo, map[string]any{
			"analysis_id":     analysisID,
			"content_type":    in.Modality,
			"is_ai_generated": summary.IsAIGenerated,
		}, "", "")
	}

	result := DetectResult{
		AnalysisID:     analysisID,
		IsAIGenerated:  summary.IsAIGenerated,
		Confidence:     summary.FinalProbability,
		Consensus:      summary,
		ProcessingTime: duration,
	}
	if record.ModelPrediction.Valid {
		result.ModelPrediction = record.ModelPrediction.String
	}
	return result, nil
}

func contentHash(in DetectInput) string {
	h := sha256.New()
	if len(in.Bytes) > 0 {
		h.Write(in.Bytes)
	} else {
		h.Write([]byte(in.Text))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// EstimateIntelCollection computes the requests_estimate for a prospective
// intel collection job without registering it.
func EstimateIntelCollection(windowDays, maxPosts, pageCap int) int {
	if pageCap <= 0 {
		pageCap = 1
	}
	return windowDays * maxPosts * pageCap
}

// Name implements system.Service for the core's own background concerns
// (currently a no-op placeholder; the scheduler and webhook dispatcher are
// registered as independent services by the caller).
func (c *Core) Name() string { return "core" }

// Start is a no-op; Core has no independent lifecycle beyond its
// collaborators, which the caller registers with the system manager
// directly.
func (c *Core) Start(context.Context) error { return nil }

// Stop is a no-op for the same reason as Start.
func (c *Core) Stop(context.Context) error { return nil }
