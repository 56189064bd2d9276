package consensus

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/R3E-Network/provenance-service/internal/domain"
	svcerrors "github.com/R3E-Network/provenance-service/internal/errors"
	"github.com/R3E-Network/provenance-service/internal/logging"
	"github.com/R3E-Network/provenance-service/internal/metrics"
)

// Engine fans a request out to the internal detector and any configured
// external providers concurrently under a shared deadline, then aggregates
// the ok votes into a single calibrated probability.
type Engine struct {
	internal       Provider
	externals      []Provider
	providerTimeout time.Duration
	thresholds     map[domain.ContentType]float64
	log            *logging.Logger
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithExternalProviders registers external (non-internal) providers. They
// are probed concurrently with the internal detector but their failure
// never fails the call.
func WithExternalProviders(providers ...Provider) Option {
	return func(e *Engine) { e.externals = append(e.externals, providers...) }
}

// WithProviderTimeout sets the shared per-provider probe deadline.
func WithProviderTimeout(d time.Duration) Option {
	return func(e *Engine) { e.providerTimeout = d }
}

// WithThresholds sets the per-modality decision thresholds.
func WithThresholds(t map[domain.ContentType]float64) Option {
	return func(e *Engine) { e.thresholds = t }
}

// WithLogger injects a logger; NewDefault is used otherwise.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// New constructs an Engine around the given internal detector.
func New(internal Provider, opts ...Option) *Engine {
	e := &Engine{
		internal:        internal,
		providerTimeout: 8 * time.Second,
		thresholds:      map[domain.ContentType]float64{},
		log:             logging.NewDefault("consensus"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) threshold(modality domain.ContentType) float64 {
	if v, ok := e.thresholds[modality]; ok {
		return v
	}
	return 0.5
}

// Score fans the artifact out to every registered provider and returns the
// aggregated ConsensusSummary. The internal detector's failure is fatal
// (DetectorUnavailable); external provider failures are recorded as votes
// and never fail the call.
func (e *Engine) Score(ctx context.Context, artifact Artifact) (domain.ConsensusSummary, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, e.providerTimeout)
	defer cancel()

	providers := append([]Provider{e.internal}, e.externals...)
	votes := make([]domain.ConsensusVote, len(providers))

	var wg sync.WaitGroup
	wg.Add(len(providers))
	for i, p := range providers {
		go func(i int, p Provider) {
			defer wg.Done()
			votes[i] = e.probe(ctx, p, artifact)
		}(i, p)
	}
	wg.Wait()

	for _, v := range votes {
		metrics.RecordProviderVote(v.Provider, string(v.Status))
	}

	internalVote := votes[0]
	if internalVote.Status != domain.VoteOK {
		metrics.RecordConsensusScore("detector_unavailable", time.Since(start))
		return domain.ConsensusSummary{}, svcerrors.DetectorUnavailable(internalVote.Rationale)
	}

	final, disagreement, ok := aggregate(votes)
	if !ok {
		// Can only happen if the internal vote (guaranteed ok above) were
		// somehow excluded; defensive fallback to the internal probability.
		final = *internalVote.Probability
	}

	threshold := e.threshold(artifact.Modality)
	metrics.RecordConsensusScore("ok", time.Since(start))
	return domain.ConsensusSummary{
		FinalProbability: final,
		Threshold:        threshold,
		IsAIGenerated:    final >= threshold,
		Disagreement:     disagreement,
		Providers:        votes,
	}, nil
}

func (e *Engine) probe(ctx context.Context, p Provider, artifact Artifact) domain.ConsensusVote {
	result := p.Probe(ctx, artifact)
	if ctx.Err() != nil && result.Status != domain.VoteOK {
		result = ProbeResult{Status: domain.VoteUnavailable, Rationale: "provider timed out"}
	}
	return domain.ConsensusVote{
		Provider:    p.Name(),
		Probability: result.Probability,
		Weight:      p.Weight(),
		Status:      result.Status,
		Rationale:   result.Rationale,
	}
}

// aggregate computes the weighted mean and weighted standard deviation over
// the "ok" votes. ok is false only when there are no ok votes at all, which
// cannot happen on the request path since the internal vote is required ok.
func aggregate(votes []domain.ConsensusVote) (mean, stddev float64, ok bool) {
	var weightSum, weighted float64
	type okVote struct {
		p, w float64
	}
	var oks []okVote
	for _, v := range votes {
		if v.Status != domain.VoteOK || v.Probability == nil {
			continue
		}
		weightSum += v.Weight
		weighted += v.Weight * (*v.Probability)
		oks = append(oks, okVote{p: *v.Probability, w: v.Weight})
	}
	if weightSum <= 0 {
		return 0, 0, false
	}
	mean = weighted / weightSum

	var varianceSum float64
	for _, o := range oks {
		d := o.p - mean
		varianceSum += o.w * d * d
	}
	stddev = math.Sqrt(varianceSum / weightSum)
	return mean, stddev, true
}
