package audit_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/provenance-service/internal/audit"
	"github.com/R3E-Network/provenance-service/internal/domain"
)

func TestEmit_RingBounded_HoldsMostRecent(t *testing.T) {
	pipeline := audit.New(5, nil, nil)
	for i := 0; i < 12; i++ {
		pipeline.Emit(context.Background(), "test.event", domain.SeverityInfo, map[string]any{"i": i}, "", "")
	}

	tail := pipeline.Tail(0, audit.Filter{})
	require.Len(t, tail, 5)

	var lastVal int
	for _, e := range tail {
		var payload map[string]any
		_ = json.Unmarshal(e.Payload, &payload)
		if v, ok := payload["i"].(float64); ok {
			lastVal = int(v)
		}
	}
	require.Equal(t, 11, lastVal)
}

func TestEmit_SinkFailureDoesNotPanic(t *testing.T) {
	pipeline := audit.New(10, failingSink{}, nil)
	require.NotPanics(t, func() {
		pipeline.Emit(context.Background(), "test.event", domain.SeverityWarning, nil, "actor", "req-1")
	})
	require.Len(t, pipeline.Tail(0, audit.Filter{}), 1)
}

type failingSink struct{}

func (failingSink) Write(context.Context, domain.AuditEvent) error {
	return assertError{}
}

type assertError struct{}

func (assertError) Error() string { return "sink unavailable" }
