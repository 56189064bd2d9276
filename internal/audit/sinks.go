package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/R3E-Network/provenance-service/internal/domain"
	svcerrors "github.com/R3E-Network/provenance-service/internal/errors"
)

// FileSink appends audit entries as JSONL, grounded on the corpus's
// fileAuditSink.
type FileSink struct {
	mu   sync.Mutex
	file *os.File
}

// NewFileSink opens path for append. An empty path returns a nil sink.
func NewFileSink(path string) (*FileSink, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, err
	}
	return &FileSink{file: f}, nil
}

func (s *FileSink) Write(_ context.Context, event domain.AuditEvent) error {
	if s == nil || s.file == nil {
		return nil
	}
	b, err := json.Marshal(event)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.file.Write(append(b, '\n'))
	return err
}

// PostgresSink writes audit entries into audit_events, grounded on the
// corpus's postgresAuditSink.
type PostgresSink struct {
	db *sql.DB
}

// NewPostgresSink wraps db. A nil db returns a nil sink.
func NewPostgresSink(db *sql.DB) *PostgresSink {
	if db == nil {
		return nil
	}
	return &PostgresSink{db: db}
}

func (s *PostgresSink) Write(ctx context.Context, event domain.AuditEvent) error {
	if s == nil || s.db == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (event_id, event_type, severity, actor_id, request_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (event_id) DO NOTHING
	`, event.EventID, event.EventType, event.Severity, event.ActorID, event.RequestID, event.Payload, event.CreatedAt)
	return err
}

// QueryFilter narrows a durable-store Query.
type QueryFilter struct {
	EventType string
	Severity  domain.AuditSeverity
	ActorID   string
	Since     time.Time
	Until     time.Time
}

// Store is the durable side of the audit pipeline, queried by the §4.6
// `query` operation with indexed access by event_type, severity, actor_id,
// and created_at.
type Store struct {
	db *sql.DB
}

// NewStore wraps an open *sql.DB.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Query(ctx context.Context, filter QueryFilter, limit, offset int) ([]domain.AuditEvent, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT event_id, event_type, severity, actor_id, request_id, payload, created_at FROM audit_events WHERE 1=1`)
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.EventType != "" {
		sb.WriteString(" AND event_type = " + arg(filter.EventType))
	}
	if filter.Severity != "" {
		sb.WriteString(" AND severity = " + arg(filter.Severity))
	}
	if filter.ActorID != "" {
		sb.WriteString(" AND actor_id = " + arg(filter.ActorID))
	}
	if !filter.Since.IsZero() {
		sb.WriteString(" AND created_at >= " + arg(filter.Since))
	}
	if !filter.Until.IsZero() {
		sb.WriteString(" AND created_at <= " + arg(filter.Until))
	}

	sb.WriteString(" ORDER BY created_at DESC LIMIT " + arg(limit) + " OFFSET " + arg(offset))

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, svcerrors.PersistenceFailed("audit query failed").WithErr(err)
	}
	defer rows.Close()

	var events []domain.AuditEvent
	for rows.Next() {
		var e domain.AuditEvent
		if err := rows.Scan(&e.EventID, &e.EventType, &e.Severity, &e.ActorID, &e.RequestID, &e.Payload, &e.CreatedAt); err != nil {
			return nil, svcerrors.PersistenceFailed("audit scan failed").WithErr(err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
