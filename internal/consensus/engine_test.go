package consensus_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/provenance-service/internal/consensus"
	"github.com/R3E-Network/provenance-service/internal/domain"
)

type fakeProvider struct {
	name    string
	weight  float64
	result  consensus.ProbeResult
	delay   time.Duration
}

func (f fakeProvider) Name() string   { return f.name }
func (f fakeProvider) Weight() float64 { return f.weight }
func (f fakeProvider) Probe(ctx context.Context, _ consensus.Artifact) consensus.ProbeResult {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return consensus.ProbeResult{Status: domain.VoteUnavailable, Rationale: "context canceled during probe"}
		}
	}
	return f.result
}

func fixedProbability(p float64) consensus.ProbeResult {
	return consensus.ProbeResult{Probability: &p, Status: domain.VoteOK, Rationale: "scored"}
}

func TestScore_InternalOnly_ReturnsInternalProbabilityExactly(t *testing.T) {
	internal := fakeProvider{name: "internal", weight: 1, result: fixedProbability(0.73)}
	engine := consensus.New(internal, consensus.WithProviderTimeout(2*time.Second))

	summary, err := engine.Score(context.Background(), consensus.Artifact{Modality: domain.ContentText, Text: "hello"})
	require.NoError(t, err)
	require.Equal(t, 0.73, summary.FinalProbability)
	require.True(t, summary.IsAIGenerated)
	require.Len(t, summary.Providers, 1)
	require.Equal(t, domain.VoteOK, summary.Providers[0].Status)
}

func TestScore_ExternalTimeout_InternalStillSucceeds(t *testing.T) {
	internal := fakeProvider{name: "internal", weight: 0.6, result: fixedProbability(0.4)}
	copyleaks := fakeProvider{name: "copyleaks", weight: 0.4, delay: 500 * time.Millisecond, result: fixedProbability(0.9)}

	engine := consensus.New(internal,
		consensus.WithExternalProviders(copyleaks),
		consensus.WithProviderTimeout(50*time.Millisecond),
	)

	summary, err := engine.Score(context.Background(), consensus.Artifact{Modality: domain.ContentText, Text: "hello"})
	require.NoError(t, err)
	require.Equal(t, 0.4, summary.FinalProbability)
	require.Len(t, summary.Providers, 2)

	byName := map[string]domain.ConsensusVote{}
	for _, v := range summary.Providers {
		byName[v.Provider] = v
	}
	require.Equal(t, domain.VoteOK, byName["internal"].Status)
	require.Equal(t, domain.VoteUnavailable, byName["copyleaks"].Status)
}

func TestScore_InternalFailure_ReturnsDetectorUnavailable(t *testing.T) {
	internal := fakeProvider{name: "internal", weight: 1, result: consensus.ProbeResult{Status: domain.VoteError, Rationale: "boom"}}
	engine := consensus.New(internal)

	_, err := engine.Score(context.Background(), consensus.Artifact{Modality: domain.ContentText, Text: "hello"})
	require.Error(t, err)
}

func TestScore_WeightedMeanWithinTolerance(t *testing.T) {
	internal := fakeProvider{name: "internal", weight: 0.6, result: fixedProbability(0.2)}
	external := fakeProvider{name: "hive", weight: 0.4, result: fixedProbability(0.8)}

	engine := consensus.New(internal, consensus.WithExternalProviders(external))
	summary, err := engine.Score(context.Background(), consensus.Artifact{Modality: domain.ContentText, Text: "hello"})
	require.NoError(t, err)

	expected := (0.6*0.2 + 0.4*0.8) / (0.6 + 0.4)
	require.InDelta(t, expected, summary.FinalProbability, 1e-9)
}
