package consensus

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/R3E-Network/provenance-service/internal/domain"
	"github.com/R3E-Network/provenance-service/internal/logging"
	"github.com/R3E-Network/provenance-service/internal/resilience"
)

// HTTPProvider adapts a third-party detection vendor (Copyleaks, Reality
// Defender, Hive, or any HTTP endpoint returning a bare probability) to the
// Provider interface. Every configured endpoint shares the same wire
// contract: POST the artifact, read back {"probability": 0.0-1.0}. Transport
// failures are retried with backoff and trip a per-provider circuit breaker,
// so one flaky vendor can't stall every detection request behind it.
type HTTPProvider struct {
	name     string
	weight   float64
	endpoint string
	apiKey   string
	client   *http.Client
	breaker  *resilience.CircuitBreaker
	retry    resilience.RetryConfig
}

// NewHTTPProvider builds an HTTPProvider for one configured vendor endpoint.
func NewHTTPProvider(name string, weight float64, endpoint, apiKey string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = 2
	retry.MaxDelay = timeout / 2
	return &HTTPProvider{
		name:     name,
		weight:   weight,
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
		breaker:  resilience.New(resilience.ProviderCBConfig(name, logging.NewDefault("consensus.provider"))),
		retry:    retry,
	}
}

func (p *HTTPProvider) Name() string    { return p.name }
func (p *HTTPProvider) Weight() float64 { return p.weight }

type httpProviderRequest struct {
	Modality string `json:"modality"`
	Text     string `json:"text,omitempty"`
	Bytes    []byte `json:"bytes,omitempty"`
}

type httpProviderResponse struct {
	Probability float64 `json:"probability"`
}

// Probe posts the artifact to the configured endpoint and reads back a
// probability. Any transport or decode failure is reported through
// ProbeResult.Status rather than returned as an error, matching the
// fan-out engine's no-panic-no-error-return provider contract.
func (p *HTTPProvider) Probe(ctx context.Context, artifact Artifact) ProbeResult {
	body, err := json.Marshal(httpProviderRequest{
		Modality: string(artifact.Modality),
		Text:     artifact.Text,
		Bytes:    artifact.Bytes,
	})
	if err != nil {
		return ProbeResult{Status: domain.VoteError, Rationale: err.Error()}
	}

	var resp *http.Response
	doErr := p.breaker.Execute(ctx, func() error {
		return resilience.Retry(ctx, p.retry, func() error {
			req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
			if reqErr != nil {
				return reqErr
			}
			req.Header.Set("Content-Type", "application/json")
			if p.apiKey != "" {
				req.Header.Set("Authorization", "Bearer "+p.apiKey)
			}
			var doErr error
			resp, doErr = p.client.Do(req)
			return doErr
		})
	})
	if doErr != nil {
		return ProbeResult{Status: domain.VoteUnavailable, Rationale: doErr.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotImplemented || resp.StatusCode == http.StatusUnsupportedMediaType {
		return ProbeResult{Status: domain.VoteUnsupported, Rationale: "modality not supported by provider"}
	}
	if resp.StatusCode != http.StatusOK {
		return ProbeResult{Status: domain.VoteUnavailable, Rationale: resp.Status}
	}

	var out httpProviderResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return ProbeResult{Status: domain.VoteError, Rationale: err.Error()}
	}
	if out.Probability < 0 || out.Probability > 1 {
		return ProbeResult{Status: domain.VoteError, Rationale: "probability out of range"}
	}
	probability := out.Probability
	return ProbeResult{Probability: &probability, Status: domain.VoteOK, Rationale: "scored"}
}
