package consensus

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/R3E-Network/provenance-service/internal/domain"
)

func TestHTTPProvider_ScoresSuccessfully(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req httpProviderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Modality != string(domain.ContentText) {
			t.Errorf("unexpected modality %q", req.Modality)
		}
		json.NewEncoder(w).Encode(httpProviderResponse{Probability: 0.82})
	}))
	defer srv.Close()

	p := NewHTTPProvider("vendor", 1.0, srv.URL, "", time.Second)
	res := p.Probe(context.Background(), Artifact{Modality: domain.ContentText, Text: "hello"})

	if res.Status != domain.VoteOK {
		t.Fatalf("expected VoteOK, got %v (%s)", res.Status, res.Rationale)
	}
	if res.Probability == nil || *res.Probability != 0.82 {
		t.Errorf("expected probability 0.82, got %v", res.Probability)
	}
}

func TestHTTPProvider_UnsupportedModality(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnsupportedMediaType)
	}))
	defer srv.Close()

	p := NewHTTPProvider("vendor", 1.0, srv.URL, "", time.Second)
	res := p.Probe(context.Background(), Artifact{Modality: domain.ContentVideo})

	if res.Status != domain.VoteUnsupported {
		t.Errorf("expected VoteUnsupported, got %v", res.Status)
	}
}

func TestHTTPProvider_OutOfRangeProbabilityIsVoteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(httpProviderResponse{Probability: 1.5})
	}))
	defer srv.Close()

	p := NewHTTPProvider("vendor", 1.0, srv.URL, "", time.Second)
	res := p.Probe(context.Background(), Artifact{Modality: domain.ContentText, Text: "hi"})

	if res.Status != domain.VoteError {
		t.Errorf("expected VoteError, got %v", res.Status)
	}
}

func TestHTTPProvider_UnreachableEndpointIsUnavailable(t *testing.T) {
	p := NewHTTPProvider("vendor", 1.0, "http://127.0.0.1:1", "", 100*time.Millisecond)
	p.retry.MaxAttempts = 1

	res := p.Probe(context.Background(), Artifact{Modality: domain.ContentText, Text: "hi"})

	if res.Status != domain.VoteUnavailable {
		t.Errorf("expected VoteUnavailable, got %v", res.Status)
	}
}
