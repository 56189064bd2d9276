package webhook_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/provenance-service/internal/domain"
	"github.com/R3E-Network/provenance-service/internal/webhook"
)

type recordingAudit struct {
	events []string
}

func (a *recordingAudit) Emit(_ context.Context, eventType string, _ domain.AuditSeverity, _ map[string]any, _, _ string) {
	a.events = append(a.events, eventType)
}

// TestDeliver_AlwaysDeliveredOrDeadLettered covers property 9: every
// enqueued item ends up delivered or dead-lettered, never silently dropped.
func TestDeliver_AlwaysDeliveredOrDeadLettered(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	dir := t.TempDir()
	queue, err := webhook.NewQueue(filepath.Join(dir, "queue.json"))
	require.NoError(t, err)
	dlq, err := webhook.NewDeadLetterLog(filepath.Join(dir, "dlq.jsonl"))
	require.NoError(t, err)
	audit := &recordingAudit{}

	d := webhook.New(webhook.Config{
		DrainInterval: 10 * time.Millisecond,
		BaseBackoff:   10 * time.Millisecond,
		MaxBackoff:    50 * time.Millisecond,
		MaxAttempts:   3,
	}, queue, dlq, audit, zerolog.Nop())

	d.Enqueue(srv.URL, []byte(`{"analysis_id":"a1"}`))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, d.Start(ctx))
	defer d.Stop(context.Background())

	require.Eventually(t, func() bool {
		return len(queue.Snapshot()) == 0
	}, 2*time.Second, 10*time.Millisecond)

	found := false
	for _, e := range audit.events {
		if e == "webhook.dead_lettered" {
			found = true
		}
	}
	require.True(t, found, "expected a webhook.dead_lettered audit event")

	data, err := os.ReadFile(filepath.Join(dir, "dlq.jsonl"))
	require.NoError(t, err)
	require.Contains(t, string(data), `"total_attempts":3`)
}

// TestDeliver_SuccessDropsItemAndEmitsDelivered covers the 2xx path of
// scenario S6's inverse: a responsive sink drains cleanly.
func TestDeliver_SuccessDropsItemAndEmitsDelivered(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	dir := t.TempDir()
	queue, err := webhook.NewQueue(filepath.Join(dir, "queue.json"))
	require.NoError(t, err)
	audit := &recordingAudit{}

	d := webhook.New(webhook.Config{DrainInterval: 10 * time.Millisecond}, queue, nil, audit, zerolog.Nop())
	d.Enqueue(srv.URL, []byte(`{}`))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, d.Start(ctx))
	defer d.Stop(context.Background())

	require.Eventually(t, func() bool {
		return len(queue.Snapshot()) == 0
	}, time.Second, 10*time.Millisecond)

	require.Contains(t, audit.events, "webhook.delivered")
}
