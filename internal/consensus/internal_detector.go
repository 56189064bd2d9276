package consensus

import (
	"context"
	"crypto/sha256"
	"encoding/binary"

	"github.com/R3E-Network/provenance-service/internal/domain"
)

// InternalDetector is the always-invoked, always-weighted provider. The
// actual signal computation (perplexity, FFT, spectral flatness, byte
// entropy) is an opaque detector implementation outside this design's
// scope; this adapter exposes whatever that implementation returns through
// the shared Provider interface, and is injected at construction time.
type InternalDetector struct {
	weight float64
	score  func(ctx context.Context, artifact Artifact) (float64, error)
}

// NewInternalDetector wraps a scoring function satisfying the internal
// detector contract. When score is nil, a deterministic byte-derived
// fallback is used so the engine remains exercisable without a real
// detector wired in.
func NewInternalDetector(weight float64, score func(ctx context.Context, artifact Artifact) (float64, error)) *InternalDetector {
	if score == nil {
		score = deterministicFallback
	}
	return &InternalDetector{weight: weight, score: score}
}

func (d *InternalDetector) Name() string    { return "internal" }
func (d *InternalDetector) Weight() float64 { return d.weight }
func (d *InternalDetector) IsInternal() bool { return true }

func (d *InternalDetector) Probe(ctx context.Context, artifact Artifact) ProbeResult {
	p, err := d.score(ctx, artifact)
	if err != nil {
		return ProbeResult{Status: domain.VoteError, Rationale: err.Error()}
	}
	if p < 0 || p > 1 {
		return ProbeResult{Status: domain.VoteError, Rationale: "score out of range"}
	}
	return ProbeResult{Probability: &p, Status: domain.VoteOK, Rationale: "scored"}
}

// deterministicFallback derives a probability in [0,1) from the SHA-256 of
// the artifact content, giving the engine bit-identical, reproducible
// output for a given input without requiring a real model.
func deterministicFallback(_ context.Context, artifact Artifact) (float64, error) {
	data := artifact.Bytes
	if len(data) == 0 {
		data = []byte(artifact.Text)
	}
	sum := sha256.Sum256(data)
	v := binary.BigEndian.Uint64(sum[:8])
	return float64(v%1_000_000) / 1_000_000, nil
}
