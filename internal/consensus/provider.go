// Package consensus fans a content artifact out to the internal detector
// and any configured external providers, then aggregates their votes into a
// single calibrated probability — grounded on the concurrent fan-out shape
// of the oracle dispatcher and the plain-struct style of the datafeeds
// domain package.
package consensus

import (
	"context"

	"github.com/R3E-Network/provenance-service/internal/domain"
)

// Artifact is the opaque content handed to a provider: the store never
// inspects it, only the provider adapters do.
type Artifact struct {
	Modality domain.ContentType
	Bytes    []byte
	Text     string
}

// ProbeResult is what a provider returns for one probe.
type ProbeResult struct {
	Probability *float64
	Status      domain.ConsensusVoteStatus
	Rationale   string
}

// Provider is the shared interface every detector/vendor adapter
// implements: the internal detector, Copyleaks, Reality Defender, C2PA,
// Hive, etc.
type Provider interface {
	Name() string
	Weight() float64
	// Probe evaluates the artifact before ctx's deadline. It must never
	// panic; adapter-level faults are reported via ProbeResult.Status.
	Probe(ctx context.Context, artifact Artifact) ProbeResult
}

// Internal marks a provider as the always-invoked internal detector whose
// hard failure fails the whole consensus call.
type Internal interface {
	Provider
	IsInternal() bool
}
