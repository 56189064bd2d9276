package store

import (
	"fmt"
	"sort"
	"time"

	"github.com/R3E-Network/provenance-service/internal/domain"
)

const alertLookbackDays = 14

type dailyStat struct {
	total, ai, human int
}

// buildDashboard aggregates records (which must cover at least
// windowDays+alertLookbackDays of history, oldest first is not required)
// into a Dashboard. Only rows within [now-windowDays, now] appear in the
// summary and timeline; the alerting rules additionally consult the
// alertLookbackDays of history preceding the window for their trailing
// baseline.
func buildDashboard(records []domain.AnalysisRecord, windowDays int, now time.Time) Dashboard {
	now = now.UTC()
	byDay := map[string]*dailyStat{}
	byType := map[domain.ContentType]int{}
	bySource := map[domain.Source]int{}
	modelCounts := map[string]int{}

	windowStart := now.AddDate(0, 0, -windowDays+1).Truncate(24 * time.Hour)

	var totalConfidence float64
	var windowRows int
	var aiRows int

	for _, r := range records {
		day := r.CreatedAt.UTC().Format("2006-01-02")
		stat, ok := byDay[day]
		if !ok {
			stat = &dailyStat{}
			byDay[day] = stat
		}
		stat.total++
		if r.IsAIGenerated {
			stat.ai++
		} else {
			stat.human++
		}

		if !r.CreatedAt.UTC().Before(windowStart) {
			windowRows++
			byType[r.ContentType]++
			bySource[r.Source]++
			totalConfidence += r.Confidence
			if r.IsAIGenerated {
				aiRows++
			}
			if r.ModelPrediction.Valid && r.ModelPrediction.String != "" {
				modelCounts[r.ModelPrediction.String]++
			}
		}
	}

	timeline := make([]TimelineEntry, 0, windowDays)
	for i := windowDays - 1; i >= 0; i-- {
		day := now.AddDate(0, 0, -i).Format("2006-01-02")
		stat := byDay[day]
		entry := TimelineEntry{Date: day}
		if stat != nil {
			entry.Total = stat.total
			entry.AIDetected = stat.ai
			entry.HumanDetected = stat.human
		}
		timeline = append(timeline, entry)
	}

	avgConfidence := 0.0
	if windowRows > 0 {
		avgConfidence = totalConfidence / float64(windowRows)
	}
	aiRate := 0.0
	if windowRows > 0 {
		aiRate = float64(aiRows) / float64(windowRows)
	}

	topModels := make([]ModelCount, 0, len(modelCounts))
	for model, count := range modelCounts {
		topModels = append(topModels, ModelCount{Model: model, Count: count})
	}
	sort.Slice(topModels, func(i, j int) bool {
		if topModels[i].Count != topModels[j].Count {
			return topModels[i].Count > topModels[j].Count
		}
		return topModels[i].Model < topModels[j].Model
	})

	return Dashboard{
		Summary: DashboardSummary{
			TotalAnalysesWindow:     windowRows,
			AIDetectedWindow:        aiRows,
			HumanDetectedWindow:     windowRows - aiRows,
			AIRateWindow:            aiRate,
			AverageConfidenceWindow: avgConfidence,
		},
		ByType:    byType,
		BySource:  bySource,
		TopModels: topModels,
		Timeline:  timeline,
		Alerts:    buildAlerts(byDay, now),
	}
}

// buildAlerts implements the §7 dashboard alerting rules: ai_rate_spike and
// volume_drop, evaluated against the alertLookbackDays of history preceding
// today.
func buildAlerts(byDay map[string]*dailyStat, now time.Time) []Alert {
	var alerts []Alert

	today := byDay[now.Format("2006-01-02")]
	var todayTotal, todayAI int
	if today != nil {
		todayTotal, todayAI = today.total, today.ai
	}

	var trailingTotal, trailingAI int
	var trailingCounts []int
	for i := 1; i <= alertLookbackDays; i++ {
		day := now.AddDate(0, 0, -i).Format("2006-01-02")
		stat := byDay[day]
		if stat == nil {
			trailingCounts = append(trailingCounts, 0)
			continue
		}
		trailingTotal += stat.total
		trailingAI += stat.ai
		trailingCounts = append(trailingCounts, stat.total)
	}

	// "≥ 20 samples" is read as ≥ 20 analyses in the trailing window, not
	// ≥ 20 distinct days (14 days can never reach 20 days).
	if trailingTotal >= 20 {
		trailingAIRate := float64(trailingAI) / float64(trailingTotal)
		var todayAIRate float64
		if todayTotal > 0 {
			todayAIRate = float64(todayAI) / float64(todayTotal)
		}
		if todayTotal > 0 && todayAIRate > 2*trailingAIRate {
			alerts = append(alerts, Alert{
				Kind:    "ai_rate_spike",
				Message: fmt.Sprintf("today's AI rate %.2f exceeds 2x the trailing %d-day average %.2f", todayAIRate, alertLookbackDays, trailingAIRate),
			})
		}
	}

	if trailingTotal >= 50 {
		median := medianOf(trailingCounts)
		if median > 0 && float64(todayTotal) < 0.2*median {
			alerts = append(alerts, Alert{
				Kind:    "volume_drop",
				Message: fmt.Sprintf("today's volume %d is below 20%% of the trailing %d-day median %.1f", todayTotal, alertLookbackDays, median),
			})
		}
	}

	return alerts
}

func medianOf(values []int) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]int(nil), values...)
	sort.Ints(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return float64(sorted[mid-1]+sorted[mid]) / 2
	}
	return float64(sorted[mid])
}
