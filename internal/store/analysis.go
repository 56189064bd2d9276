// Package store implements the Analysis Store: a durable, hash-addressed
// record of every completed detection with the queries needed for history,
// dashboard aggregation, and export. SQL access follows the direct
// database/sql + lib/pq style used throughout the corpus's postgres stores
// (hand-written scan helpers, no ORM).
package store

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/R3E-Network/provenance-service/internal/domain"
	svcerrors "github.com/R3E-Network/provenance-service/internal/errors"
)

// ListFilter narrows AnalysisStore.List / Dashboard / Export.
type ListFilter struct {
	ContentType domain.ContentType
	Source      domain.Source
	Since       time.Time
	Until       time.Time
}

// TimelineEntry is one zero-filled calendar day in a dashboard window.
type TimelineEntry struct {
	Date          string `json:"date"`
	Total         int    `json:"total"`
	AIDetected    int    `json:"ai_detected"`
	HumanDetected int    `json:"human_detected"`
}

// ModelCount is one entry in top_models_window.
type ModelCount struct {
	Model string `json:"model"`
	Count int    `json:"count"`
}

// Alert is one dashboard alerting-rule firing.
type Alert struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// DashboardSummary is the dashboard's headline numbers.
type DashboardSummary struct {
	TotalAnalysesWindow    int     `json:"total_analyses_window"`
	AIDetectedWindow       int     `json:"ai_detected_window"`
	HumanDetectedWindow    int     `json:"human_detected_window"`
	AIRateWindow           float64 `json:"ai_rate_window"`
	AverageConfidenceWindow float64 `json:"average_confidence_window"`
}

// Dashboard is the full dashboard(window_days) response.
type Dashboard struct {
	Summary    DashboardSummary            `json:"summary"`
	ByType     map[domain.ContentType]int  `json:"by_type"`
	BySource   map[domain.Source]int       `json:"by_source"`
	TopModels  []ModelCount                `json:"top_models"`
	Timeline   []TimelineEntry             `json:"timeline"`
	Alerts     []Alert                     `json:"alerts"`
}

// AnalysisStore is the persistence contract for completed decisions.
type AnalysisStore interface {
	// Put is idempotent on AnalysisID. If a record with the same
	// (ContentType, ContentHash) already exists within the configured
	// dedup window, the existing AnalysisID is returned instead of
	// creating a duplicate.
	Put(ctx context.Context, record domain.AnalysisRecord) (analysisID string, err error)
	Get(ctx context.Context, analysisID string) (domain.AnalysisRecord, error)
	List(ctx context.Context, filter ListFilter, limit, offset int) (items []domain.AnalysisRecord, total int, err error)
	Dashboard(ctx context.Context, windowDays int) (Dashboard, error)
	// Export streams matching records to w in the requested format ("json"
	// or "csv"), one record at a time, stopping after rowCap rows.
	Export(ctx context.Context, w io.Writer, format string, filter ListFilter, rowCap int) error
	Prune(ctx context.Context, olderThan time.Time) (int, error)
}

// recordEncoder writes one domain.AnalysisRecord at a time to an
// export stream; Close finalizes any framing (the closing "]" for json, a
// final flush for csv) and reports the first write error encountered.
type recordEncoder interface {
	Encode(domain.AnalysisRecord) error
	Close() error
}

// newRecordEncoder returns the streaming encoder for format.
func newRecordEncoder(w io.Writer, format string) (recordEncoder, error) {
	switch format {
	case "json":
		return &jsonRecordEncoder{w: w}, nil
	case "csv":
		return newCSVRecordEncoder(w), nil
	default:
		return nil, svcerrors.ValidationFailed(fmt.Sprintf("unsupported export format %q", format))
	}
}

// jsonRecordEncoder writes records as a single JSON array without ever
// holding more than one record's encoding in memory at a time.
type jsonRecordEncoder struct {
	w     io.Writer
	wrote bool
	err   error
}

func (e *jsonRecordEncoder) Encode(r domain.AnalysisRecord) error {
	if e.err != nil {
		return e.err
	}
	b, err := json.Marshal(r)
	if err != nil {
		e.err = err
		return err
	}
	prefix := "["
	if e.wrote {
		prefix = ","
	}
	if _, err := io.WriteString(e.w, prefix); err != nil {
		e.err = err
		return err
	}
	if _, err := e.w.Write(b); err != nil {
		e.err = err
		return err
	}
	e.wrote = true
	return nil
}

func (e *jsonRecordEncoder) Close() error {
	if e.err != nil {
		return e.err
	}
	if !e.wrote {
		_, err := io.WriteString(e.w, "[]")
		return err
	}
	_, err := io.WriteString(e.w, "]")
	return err
}

// csvRecordEncoder wraps encoding/csv, writing the header row up front.
type csvRecordEncoder struct {
	w   *csv.Writer
	err error
}

func newCSVRecordEncoder(w io.Writer) *csvRecordEncoder {
	cw := csv.NewWriter(w)
	enc := &csvRecordEncoder{w: cw}
	enc.err = cw.Write([]string{"analysis_id", "content_type", "content_hash", "is_ai_generated", "confidence", "source", "created_at"})
	return enc
}

func (e *csvRecordEncoder) Encode(r domain.AnalysisRecord) error {
	if e.err != nil {
		return e.err
	}
	e.err = e.w.Write([]string{
		r.AnalysisID, string(r.ContentType), r.ContentHash,
		strconv.FormatBool(r.IsAIGenerated), strconv.FormatFloat(r.Confidence, 'f', 6, 64),
		string(r.Source), r.CreatedAt.UTC().Format(time.RFC3339),
	})
	return e.err
}

func (e *csvRecordEncoder) Close() error {
	if e.err != nil {
		return e.err
	}
	e.w.Flush()
	return e.w.Error()
}
