package store

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/provenance-service/internal/domain"
	svcerrors "github.com/R3E-Network/provenance-service/internal/errors"
)

// MemoryStore is an in-process AnalysisStore used by tests and as the
// default when no database is configured, mirroring the corpus's
// storage/memory fallback pattern.
type MemoryStore struct {
	mu          sync.RWMutex
	records     map[string]domain.AnalysisRecord
	byHash      map[string][]string // (contentType:contentHash) -> analysisIDs, oldest first
	dedupWindow time.Duration
	now         func() time.Time
}

// NewMemoryStore returns an empty MemoryStore with the given dedup window.
func NewMemoryStore(dedupWindow time.Duration) *MemoryStore {
	return &MemoryStore{
		records:     map[string]domain.AnalysisRecord{},
		byHash:      map[string][]string{},
		dedupWindow: dedupWindow,
		now:         time.Now,
	}
}

func hashKey(contentType domain.ContentType, hash string) string {
	return string(contentType) + ":" + hash
}

func (m *MemoryStore) Put(_ context.Context, record domain.AnalysisRecord) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := hashKey(record.ContentType, record.ContentHash)
	now := m.now()
	for _, id := range m.byHash[key] {
		existing := m.records[id]
		if now.Sub(existing.CreatedAt) <= m.dedupWindow {
			return existing.AnalysisID, nil
		}
	}

	if record.AnalysisID == "" {
		record.AnalysisID = uuid.NewString()
	} else if existing, ok := m.records[record.AnalysisID]; ok {
		return existing.AnalysisID, nil
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	m.records[record.AnalysisID] = record
	m.byHash[key] = append(m.byHash[key], record.AnalysisID)
	return record.AnalysisID, nil
}

func (m *MemoryStore) Get(_ context.Context, analysisID string) (domain.AnalysisRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[analysisID]
	if !ok {
		return domain.AnalysisRecord{}, svcerrors.NotFound("analysis not found")
	}
	return r, nil
}

func (m *MemoryStore) all() []domain.AnalysisRecord {
	out := make([]domain.AnalysisRecord, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func matches(r domain.AnalysisRecord, f ListFilter) bool {
	if f.ContentType != "" && r.ContentType != f.ContentType {
		return false
	}
	if f.Source != "" && r.Source != f.Source {
		return false
	}
	if !f.Since.IsZero() && r.CreatedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && r.CreatedAt.After(f.Until) {
		return false
	}
	return true
}

func (m *MemoryStore) List(_ context.Context, filter ListFilter, limit, offset int) ([]domain.AnalysisRecord, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var filtered []domain.AnalysisRecord
	for _, r := range m.all() {
		if matches(r, filter) {
			filtered = append(filtered, r)
		}
	}
	total := len(filtered)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return filtered[offset:end], total, nil
}

func (m *MemoryStore) Dashboard(_ context.Context, windowDays int) (Dashboard, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return buildDashboard(m.all(), windowDays, m.now()), nil
}

func (m *MemoryStore) Export(_ context.Context, w io.Writer, format string, filter ListFilter, rowCap int) error {
	enc, err := newRecordEncoder(w, format)
	if err != nil {
		return err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, r := range m.all() {
		if !matches(r, filter) {
			continue
		}
		if err := enc.Encode(r); err != nil {
			return svcerrors.InternalError("export encode failed").WithErr(err)
		}
		n++
		if n >= rowCap {
			break
		}
	}
	return enc.Close()
}

func (m *MemoryStore) Prune(_ context.Context, olderThan time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var pruned int
	for id, r := range m.records {
		if r.CreatedAt.Before(olderThan) {
			delete(m.records, id)
			pruned++
		}
	}
	for key, ids := range m.byHash {
		kept := ids[:0]
		for _, id := range ids {
			if _, ok := m.records[id]; ok {
				kept = append(kept, id)
			}
		}
		m.byHash[key] = kept
	}
	return pruned, nil
}
