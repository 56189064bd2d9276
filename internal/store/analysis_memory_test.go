package store_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/provenance-service/internal/domain"
	"github.com/R3E-Network/provenance-service/internal/store"
)

func TestPutGet_RoundTrips(t *testing.T) {
	s := store.NewMemoryStore(5 * time.Minute)
	record := domain.AnalysisRecord{
		ContentType:   domain.ContentText,
		ContentHash:   "abc123",
		IsAIGenerated: true,
		Confidence:    0.91,
		Source:        domain.SourceAPI,
	}

	id, err := s.Put(context.Background(), record)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, record.ContentType, got.ContentType)
	require.Equal(t, record.ContentHash, got.ContentHash)
	require.Equal(t, record.IsAIGenerated, got.IsAIGenerated)
	require.Equal(t, record.Confidence, got.Confidence)
}

func TestPut_DedupWindow_ReturnsSameID(t *testing.T) {
	s := store.NewMemoryStore(time.Hour)
	record := domain.AnalysisRecord{ContentType: domain.ContentImage, ContentHash: "dup-hash", Confidence: 0.2, Source: domain.SourceAPI}

	first, err := s.Put(context.Background(), record)
	require.NoError(t, err)

	second, err := s.Put(context.Background(), record)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestDashboard_TotalsReconcile(t *testing.T) {
	s := store.NewMemoryStore(time.Minute)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := s.Put(ctx, domain.AnalysisRecord{
			ContentType:   domain.ContentText,
			ContentHash:   randHash(i),
			IsAIGenerated: i%2 == 0,
			Confidence:    0.5,
			Source:        domain.SourceAPI,
		})
		require.NoError(t, err)
	}

	dashboard, err := s.Dashboard(ctx, 7)
	require.NoError(t, err)

	var timelineTotal int
	for _, day := range dashboard.Timeline {
		timelineTotal += day.Total
	}
	require.Equal(t, dashboard.Summary.TotalAnalysesWindow, timelineTotal)
	require.Equal(t, dashboard.Summary.TotalAnalysesWindow, dashboard.Summary.AIDetectedWindow+dashboard.Summary.HumanDetectedWindow)
}

func TestExport_JSON_StreamsMatchingRecords(t *testing.T) {
	s := store.NewMemoryStore(time.Minute)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := s.Put(ctx, domain.AnalysisRecord{
			ContentType: domain.ContentText,
			ContentHash: randHash(i),
			Confidence:  0.5,
			Source:      domain.SourceAPI,
		})
		require.NoError(t, err)
	}

	var buf bytes.Buffer
	err := s.Export(ctx, &buf, "json", store.ListFilter{}, 10_000)
	require.NoError(t, err)

	var got []domain.AnalysisRecord
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got, 3)
}

func TestExport_CSV_WritesHeaderAndRowCap(t *testing.T) {
	s := store.NewMemoryStore(time.Minute)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := s.Put(ctx, domain.AnalysisRecord{
			ContentType: domain.ContentText,
			ContentHash: randHash(i),
			Confidence:  0.5,
			Source:      domain.SourceAPI,
		})
		require.NoError(t, err)
	}

	var buf bytes.Buffer
	err := s.Export(ctx, &buf, "csv", store.ListFilter{}, 2)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3) // header + 2 capped rows
	require.Contains(t, lines[0], "analysis_id")
}

func TestExport_UnsupportedFormat_ReturnsError(t *testing.T) {
	s := store.NewMemoryStore(time.Minute)
	var buf bytes.Buffer
	err := s.Export(context.Background(), &buf, "xml", store.ListFilter{}, 10)
	require.Error(t, err)
}

func randHash(i int) string {
	return "hash-" + string(rune('a'+i))
}
