package store

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/provenance-service/internal/domain"
	svcerrors "github.com/R3E-Network/provenance-service/internal/errors"
)

// PostgresStore is the database/sql + lib/pq backed AnalysisStore, grounded
// on the hand-written SQL/scan idiom of the corpus's admin postgres store.
type PostgresStore struct {
	db          *sql.DB
	dedupWindow time.Duration
}

// NewPostgresStore wraps an open *sql.DB.
func NewPostgresStore(db *sql.DB, dedupWindow time.Duration) *PostgresStore {
	return &PostgresStore{db: db, dedupWindow: dedupWindow}
}

func (s *PostgresStore) Put(ctx context.Context, record domain.AnalysisRecord) (string, error) {
	var existingID string
	err := s.db.QueryRowContext(ctx, `
		SELECT analysis_id FROM analysis_records
		WHERE content_type = $1 AND content_hash = $2 AND created_at >= $3
		ORDER BY created_at ASC
		LIMIT 1
	`, record.ContentType, record.ContentHash, time.Now().Add(-s.dedupWindow)).Scan(&existingID)
	if err == nil {
		return existingID, nil
	}
	if err != sql.ErrNoRows {
		return "", svcerrors.PersistenceFailed("dedup lookup failed").WithErr(err)
	}

	if record.AnalysisID == "" {
		record.AnalysisID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO analysis_records
			(analysis_id, content_type, content_hash, is_ai_generated, confidence,
			 model_prediction, result_payload, source, source_url, filename, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (analysis_id) DO NOTHING
	`, record.AnalysisID, record.ContentType, record.ContentHash, record.IsAIGenerated, record.Confidence,
		record.ModelPrediction, record.ResultPayload, record.Source, record.SourceURL, record.Filename, record.CreatedAt)
	if err != nil {
		return "", svcerrors.PersistenceFailed("insert analysis record failed").WithErr(err)
	}
	return record.AnalysisID, nil
}

func scanAnalysisRecord(row interface{ Scan(...any) error }) (domain.AnalysisRecord, error) {
	var r domain.AnalysisRecord
	err := row.Scan(
		&r.AnalysisID, &r.ContentType, &r.ContentHash, &r.IsAIGenerated, &r.Confidence,
		&r.ModelPrediction, &r.ResultPayload, &r.Source, &r.SourceURL, &r.Filename, &r.CreatedAt,
	)
	return r, err
}

const analysisColumns = `analysis_id, content_type, content_hash, is_ai_generated, confidence,
	model_prediction, result_payload, source, source_url, filename, created_at`

func (s *PostgresStore) Get(ctx context.Context, analysisID string) (domain.AnalysisRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+analysisColumns+` FROM analysis_records WHERE analysis_id = $1`, analysisID)
	r, err := scanAnalysisRecord(row)
	if err == sql.ErrNoRows {
		return domain.AnalysisRecord{}, svcerrors.NotFound("analysis not found")
	}
	if err != nil {
		return domain.AnalysisRecord{}, svcerrors.PersistenceFailed("get analysis record failed").WithErr(err)
	}
	return r, nil
}

func buildListQuery(filter ListFilter) (string, []any) {
	var sb strings.Builder
	sb.WriteString(`FROM analysis_records WHERE 1=1`)
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.ContentType != "" {
		sb.WriteString(" AND content_type = " + arg(filter.ContentType))
	}
	if filter.Source != "" {
		sb.WriteString(" AND source = " + arg(filter.Source))
	}
	if !filter.Since.IsZero() {
		sb.WriteString(" AND created_at >= " + arg(filter.Since))
	}
	if !filter.Until.IsZero() {
		sb.WriteString(" AND created_at <= " + arg(filter.Until))
	}
	return sb.String(), args
}

func (s *PostgresStore) List(ctx context.Context, filter ListFilter, limit, offset int) ([]domain.AnalysisRecord, int, error) {
	where, args := buildListQuery(filter)

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) "+where, args...).Scan(&total); err != nil {
		return nil, 0, svcerrors.PersistenceFailed("count analysis records failed").WithErr(err)
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf("SELECT %s %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d", analysisColumns, where, len(args)-1, len(args))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, svcerrors.PersistenceFailed("list analysis records failed").WithErr(err)
	}
	defer rows.Close()

	var items []domain.AnalysisRecord
	for rows.Next() {
		r, err := scanAnalysisRecord(rows)
		if err != nil {
			return nil, 0, svcerrors.PersistenceFailed("scan analysis record failed").WithErr(err)
		}
		items = append(items, r)
	}
	return items, total, rows.Err()
}

// Dashboard queries only the rows within the alert lookback + display
// window rather than the whole table. The query filters on created_at
// alone; the (content_type, created_at) and (source, created_at) composite
// indexes do not lead with created_at, and no created_at-only index exists.
func (s *PostgresStore) Dashboard(ctx context.Context, windowDays int) (Dashboard, error) {
	lookback := windowDays + alertLookbackDays + 1
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+analysisColumns+` FROM analysis_records
		WHERE created_at >= $1
		ORDER BY created_at ASC
	`, time.Now().AddDate(0, 0, -lookback))
	if err != nil {
		return Dashboard{}, svcerrors.PersistenceFailed("dashboard query failed").WithErr(err)
	}
	defer rows.Close()

	var records []domain.AnalysisRecord
	for rows.Next() {
		r, err := scanAnalysisRecord(rows)
		if err != nil {
			return Dashboard{}, svcerrors.PersistenceFailed("dashboard scan failed").WithErr(err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return Dashboard{}, svcerrors.PersistenceFailed("dashboard rows iteration failed").WithErr(err)
	}
	return buildDashboard(records, windowDays, time.Now()), nil
}

func (s *PostgresStore) Export(ctx context.Context, w io.Writer, format string, filter ListFilter, rowCap int) error {
	enc, err := newRecordEncoder(w, format)
	if err != nil {
		return err
	}

	where, args := buildListQuery(filter)
	args = append(args, rowCap)
	query := fmt.Sprintf("SELECT %s %s ORDER BY created_at DESC LIMIT $%d", analysisColumns, where, len(args))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return svcerrors.PersistenceFailed("export query failed").WithErr(err)
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanAnalysisRecord(rows)
		if err != nil {
			return svcerrors.PersistenceFailed("export scan failed").WithErr(err)
		}
		if err := enc.Encode(r); err != nil {
			return svcerrors.InternalError("export encode failed").WithErr(err)
		}
	}
	if err := rows.Err(); err != nil {
		return svcerrors.PersistenceFailed("export rows iteration failed").WithErr(err)
	}
	return enc.Close()
}

func (s *PostgresStore) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM analysis_records WHERE created_at < $1`, olderThan)
	if err != nil {
		return 0, svcerrors.PersistenceFailed("prune analysis records failed").WithErr(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, svcerrors.PersistenceFailed("prune rows affected failed").WithErr(err)
	}
	return int(affected), nil
}
