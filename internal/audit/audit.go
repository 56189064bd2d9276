// Package audit implements the Audit Event Pipeline: a bounded in-memory
// ring for fast tail queries backed by a best-effort durable sink, adapted
// from the corpus's HTTP audit log (same bounded-slice ring + pluggable
// sink shape, generalized from HTTP-request-only events to every
// component's structured events).
package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/provenance-service/internal/domain"
	"github.com/R3E-Network/provenance-service/internal/logging"
)

// Sink persists an AuditEvent durably. Implementations must not block the
// caller for long; failures are logged and swallowed by Pipeline.
type Sink interface {
	Write(ctx context.Context, event domain.AuditEvent) error
}

// Filter narrows Tail/Query.
type Filter struct {
	EventType string
	Severity  domain.AuditSeverity
	ActorID   string
}

func (f Filter) matches(e domain.AuditEvent) bool {
	if f.EventType != "" && e.EventType != f.EventType {
		return false
	}
	if f.Severity != "" && e.Severity != f.Severity {
		return false
	}
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	return true
}

// Pipeline accepts events from any component, writes them to a bounded
// in-memory ring, and best-effort persists them via Sink.
type Pipeline struct {
	mu       sync.Mutex
	entries  []domain.AuditEvent
	capacity int
	sink     Sink
	log      *logging.Logger
}

// New constructs a Pipeline with the given ring capacity. A capacity <= 0
// defaults to 20000, matching the spec's default.
func New(capacity int, sink Sink, log *logging.Logger) *Pipeline {
	if capacity <= 0 {
		capacity = 20000
	}
	if log == nil {
		log = logging.NewDefault("audit")
	}
	return &Pipeline{capacity: capacity, sink: sink, log: log}
}

// Emit appends event to the ring and, best-effort, to the durable sink.
// Persistence failures are logged and never returned to the caller: audit
// emission must not fail the operation that triggered it.
func (p *Pipeline) Emit(ctx context.Context, eventType string, severity domain.AuditSeverity, payload map[string]any, actorID, requestID string) {
	body, err := json.Marshal(payload)
	if err != nil {
		body = []byte("{}")
	}
	event := domain.AuditEvent{
		EventID:   uuid.NewString(),
		EventType: eventType,
		Severity:  severity,
		ActorID:   actorID,
		RequestID: requestID,
		Payload:   body,
		CreatedAt: time.Now().UTC(),
	}

	p.mu.Lock()
	p.entries = append(p.entries, event)
	if len(p.entries) > p.capacity {
		p.entries = p.entries[len(p.entries)-p.capacity:]
	}
	p.mu.Unlock()

	if p.sink == nil {
		return
	}
	if err := p.sink.Write(ctx, event); err != nil {
		p.log.Entry("audit").WithError(err).WithField("event_type", eventType).Warn("audit sink write failed")
	}
}

// Tail returns up to limit of the most recent ring entries matching filter,
// most recent last.
func (p *Pipeline) Tail(limit int, filter Filter) []domain.AuditEvent {
	p.mu.Lock()
	all := append([]domain.AuditEvent(nil), p.entries...)
	p.mu.Unlock()

	var filtered []domain.AuditEvent
	for _, e := range all {
		if filter.matches(e) {
			filtered = append(filtered, e)
		}
	}
	if limit <= 0 || limit > len(filtered) {
		limit = len(filtered)
	}
	return filtered[len(filtered)-limit:]
}
