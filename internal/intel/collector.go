// Package intel implements the scheduler's recurring social-media
// collection jobs: fetch recent posts for a handle, run each through the
// consensus engine, persist the decisions, and summarize the run as one
// webhook notification — grounded on the oracle dispatcher's
// fetch-then-report shape, adapted from price-feed polling to per-post
// detection.
package intel

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/R3E-Network/provenance-service/internal/core"
	"github.com/R3E-Network/provenance-service/internal/domain"
	"github.com/R3E-Network/provenance-service/internal/scheduler"
)

// Post is one fetched social-media item.
type Post struct {
	ID   string
	URL  string
	Text string
}

// Fetcher retrieves up to maxPosts recent posts for handle within the
// trailing windowDays, paginating internally up to pageCap pages. The
// concrete vendor integration (API credentials, pagination cursor, rate
// limiting against the vendor's own quota) lives behind this interface;
// NullFetcher is the wiring default until a real integration is attached.
type Fetcher interface {
	Fetch(ctx context.Context, handle string, windowDays, maxPosts, pageCap int) ([]Post, error)
}

// NullFetcher returns no posts. It keeps the scheduler exercisable — ticks
// fire, budget is debited, audit events emit — without a live vendor
// integration configured.
type NullFetcher struct{}

func (NullFetcher) Fetch(context.Context, string, int, int, int) ([]Post, error) {
	return nil, nil
}

// Collector turns one domain.ScheduledJob into a scheduler.CollectionResult
// by fetching posts, scoring each with the consensus engine, and summarizing
// the run into a single webhook payload.
type Collector struct {
	core    *core.Core
	fetcher Fetcher
	pageCap int
}

// NewCollector builds a Collector. fetcher defaults to NullFetcher when nil.
func NewCollector(c *core.Core, fetcher Fetcher, pageCap int) *Collector {
	if fetcher == nil {
		fetcher = NullFetcher{}
	}
	return &Collector{core: c, fetcher: fetcher, pageCap: pageCap}
}

type runSummary struct {
	Handle        string    `json:"handle"`
	PostsFetched  int       `json:"posts_fetched"`
	AIDetected    int       `json:"ai_detected"`
	RanAt         time.Time `json:"ran_at"`
	AnalysisIDs   []string  `json:"analysis_ids"`
}

// Run implements scheduler.Runner.
func (c *Collector) Run(ctx context.Context, job domain.ScheduledJob) (scheduler.CollectionResult, error) {
	posts, err := c.fetcher.Fetch(ctx, job.Handle, job.WindowDays, job.MaxPosts, c.pageCap)
	if err != nil {
		return scheduler.CollectionResult{}, fmt.Errorf("fetch posts for %s: %w", job.Handle, err)
	}

	summary := runSummary{Handle: job.Handle, RanAt: time.Now().UTC()}
	var lastRecord domain.AnalysisRecord
	for _, post := range posts {
		res, err := c.core.Detect(ctx, core.DetectInput{
			Modality:  domain.ContentText,
			Text:      post.Text,
			Source:    domain.SourceScheduled,
			SourceURL: post.URL,
		})
		if err != nil {
			continue
		}
		summary.PostsFetched++
		summary.AnalysisIDs = append(summary.AnalysisIDs, res.AnalysisID)
		if res.IsAIGenerated {
			summary.AIDetected++
		}
		lastRecord.AnalysisID = res.AnalysisID
	}

	payload, err := json.Marshal(summary)
	if err != nil {
		return scheduler.CollectionResult{}, fmt.Errorf("encode run summary: %w", err)
	}

	return scheduler.CollectionResult{
		Record:         lastRecord,
		WebhookPayload: payload,
		RequestsUsed:   job.RequestsEstimate(c.pageCap),
	}, nil
}

// sink adapts core.Core's store and webhook dispatcher to scheduler.Sink.
// The collector already persists each detection inline via core.Detect, so
// StoreResult is a no-op; only the webhook enqueue needs adapting.
type sink struct {
	webhook interface {
		Enqueue(url string, payload []byte)
	}
	urls []string
}

// NewSink builds a scheduler.Sink that fans the run summary out to every
// configured webhook URL.
func NewSink(dispatcher interface {
	Enqueue(url string, payload []byte)
}, urls []string) scheduler.Sink {
	return &sink{webhook: dispatcher, urls: urls}
}

func (s *sink) StoreResult(context.Context, scheduler.CollectionResult) error {
	return nil
}

func (s *sink) EnqueueWebhook(_ context.Context, payload []byte) error {
	if s.webhook == nil {
		return nil
	}
	for _, url := range s.urls {
		s.webhook.Enqueue(url, payload)
	}
	return nil
}
