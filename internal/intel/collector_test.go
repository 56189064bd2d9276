package intel_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/R3E-Network/provenance-service/internal/consensus"
	"github.com/R3E-Network/provenance-service/internal/core"
	"github.com/R3E-Network/provenance-service/internal/domain"
	"github.com/R3E-Network/provenance-service/internal/intel"
	"github.com/R3E-Network/provenance-service/internal/ratelimit"
	"github.com/R3E-Network/provenance-service/internal/store"
)

func newTestCore() *core.Core {
	analysisStore := store.NewMemoryStore(time.Minute)
	engine := consensus.New(consensus.NewInternalDetector(1.0, nil))
	guard := ratelimit.New(ratelimit.NewMemoryStore(), map[string]ratelimit.BucketRule{
		"scheduled": {MaxRequests: 1000, WindowSeconds: 60},
	}, 0)
	return core.New(analysisStore, engine, guard, nil, map[domain.ContentType]float64{domain.ContentText: 0.5})
}

type fakeFetcher struct {
	posts []intel.Post
}

func (f fakeFetcher) Fetch(ctx context.Context, handle string, windowDays, maxPosts, pageCap int) ([]intel.Post, error) {
	return f.posts, nil
}

func TestCollector_RunDetectsEachPost(t *testing.T) {
	c := newTestCore()
	fetcher := fakeFetcher{posts: []intel.Post{
		{ID: "1", URL: "https://x.example/1", Text: "a perfectly ordinary human post about the weather today"},
		{ID: "2", URL: "https://x.example/2", Text: "another genuine post, this time about a weekend hike"},
	}}
	collector := intel.NewCollector(c, fetcher, 1)

	job := domain.ScheduledJob{Handle: "someuser", WindowDays: 7, MaxPosts: 10}
	result, err := collector.Run(context.Background(), job)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.WebhookPayload == nil {
		t.Fatal("expected a non-nil webhook payload summarizing the run")
	}

	var summary struct {
		PostsFetched int      `json:"posts_fetched"`
		AnalysisIDs  []string `json:"analysis_ids"`
	}
	if err := json.Unmarshal(result.WebhookPayload, &summary); err != nil {
		t.Fatalf("decode run summary: %v", err)
	}
	if summary.PostsFetched != 2 || len(summary.AnalysisIDs) != 2 {
		t.Errorf("expected both posts detected, got posts_fetched=%d analysis_ids=%d", summary.PostsFetched, len(summary.AnalysisIDs))
	}
}

func TestCollector_NullFetcherReturnsNoPosts(t *testing.T) {
	posts, err := intel.NullFetcher{}.Fetch(context.Background(), "someuser", 7, 10, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(posts) != 0 {
		t.Errorf("expected no posts from the null fetcher, got %d", len(posts))
	}
}

type recordingWebhook struct {
	urls []string
}

func (r *recordingWebhook) Enqueue(url string, payload []byte) {
	r.urls = append(r.urls, url)
}

func TestSink_EnqueueWebhookFansOutToEveryURL(t *testing.T) {
	rec := &recordingWebhook{}
	sink := intel.NewSink(rec, []string{"https://hook.example/a", "https://hook.example/b"})

	if err := sink.EnqueueWebhook(context.Background(), []byte(`{}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rec.urls) != 2 {
		t.Errorf("expected 2 webhook deliveries, got %d", len(rec.urls))
	}
}

func TestSink_NilWebhookIsNoop(t *testing.T) {
	sink := intel.NewSink(nil, nil)
	if err := sink.EnqueueWebhook(context.Background(), []byte(`{}`)); err != nil {
		t.Errorf("expected nil-webhook sink to no-op without error, got %v", err)
	}
}
