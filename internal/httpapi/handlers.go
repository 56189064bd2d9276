package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/R3E-Network/provenance-service/internal/audit"
	"github.com/R3E-Network/provenance-service/internal/core"
	"github.com/R3E-Network/provenance-service/internal/domain"
	svcerrors "github.com/R3E-Network/provenance-service/internal/errors"
	"github.com/R3E-Network/provenance-service/internal/logging"
	"github.com/R3E-Network/provenance-service/internal/store"
)

const (
	maxTextBytes  = 50_000
	minTextBytes  = 50
	maxImageBytes = 10 << 20
	maxAudioBytes = 25 << 20
	maxVideoBytes = 150 << 20
	maxBatchItems = 50
)

type handlers struct {
	core *core.Core
	log  *logging.Logger
}

// consensusView mirrors domain.ConsensusSummary for the wire response; kept
// separate from the domain type so storage and transport shapes can evolve
// independently.
type consensusView struct {
	FinalProbability float64               `json:"final_probability"`
	Threshold        float64               `json:"threshold"`
	IsAIGenerated    bool                  `json:"is_ai_generated"`
	Disagreement     float64               `json:"disagreement"`
	Providers        []domain.ConsensusVote `json:"providers"`
}

// detectionResponse is the §6 DetectionResponse shape.
type detectionResponse struct {
	AnalysisID       string          `json:"analysis_id"`
	IsAIGenerated    bool            `json:"is_ai_generated"`
	Confidence       float64         `json:"confidence"`
	ModelPrediction  *string         `json:"model_prediction,omitempty"`
	Analysis         map[string]any  `json:"analysis"`
	Explanation      string          `json:"explanation"`
	ProcessingTimeMs int64           `json:"processing_time_ms"`
	Consensus        *consensusView  `json:"consensus,omitempty"`
}

func renderDetection(res core.DetectResult) detectionResponse {
	resp := detectionResponse{
		AnalysisID:       res.AnalysisID,
		IsAIGenerated:    res.IsAIGenerated,
		Confidence:       res.Confidence,
		Analysis:         map[string]any{"modality_signals": "opaque"},
		Explanation:      explanationFor(res),
		ProcessingTimeMs: res.ProcessingTime.Milliseconds(),
		Consensus: &consensusView{
			FinalProbability: res.Consensus.FinalProbability,
			Threshold:        res.Consensus.Threshold,
			IsAIGenerated:    res.Consensus.IsAIGenerated,
			Disagreement:     res.Consensus.Disagreement,
			Providers:        res.Consensus.Providers,
		},
	}
	if res.ModelPrediction != "" {
		resp.ModelPrediction = &res.ModelPrediction
	}
	return resp
}

func explanationFor(res core.DetectResult) string {
	if res.IsAIGenerated {
		return "consensus probability meets or exceeds the configured decision threshold"
	}
	return "consensus probability is below the configured decision threshold"
}

func (h *handlers) authorize(w http.ResponseWriter, r *http.Request, bucket, operation string) bool {
	if h.core.Guard == nil {
		return true
	}
	clientID := strings.TrimSpace(r.Header.Get("X-API-Key"))
	if clientID == "" {
		clientID = actorIDFrom(r.Context())
	}
	if clientID == "" {
		clientID = r.RemoteAddr
	}
	decision, err := h.core.Guard.Authorize(r.Context(), clientID, bucket, h.core.Cost(operation))
	if err != nil {
		se, _ := svcerrors.As(err)
		retryAfter := 0
		if se != nil {
			retryAfter = int(decision.RetryAfter.Seconds())
		}
		writeRetryAfter(w, r, err, retryAfter)
		return false
	}
	return true
}

func (h *handlers) detectText(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r, "text", "text") {
		return
	}
	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxTextBytes+1024)).Decode(&body); err != nil {
		writeError(w, r, svcerrors.ValidationFailed("invalid JSON body"))
		return
	}
	if len(body.Text) < minTextBytes || len(body.Text) > maxTextBytes {
		writeError(w, r, svcerrors.ValidationFailed("text must be between 50 and 50000 characters"))
		return
	}

	res, err := h.core.Detect(r.Context(), core.DetectInput{
		Modality: domain.ContentText,
		Text:     body.Text,
		Source:   domain.SourceAPI,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, renderDetection(res))
}

func (h *handlers) detectMedia(modality string) http.HandlerFunc {
	contentType := domain.ContentType(modality)
	maxBytes := map[string]int64{"image": maxImageBytes, "audio": maxAudioBytes, "video": maxVideoBytes}[modality]
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.authorize(w, r, "media", modality) {
			return
		}
		if err := r.ParseMultipartForm(maxBytes); err != nil {
			writeError(w, r, svcerrors.InputTooLarge("file exceeds the configured size limit"))
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, r, svcerrors.ValidationFailed("multipart field \"file\" is required"))
			return
		}
		defer file.Close()

		data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
		if err != nil || int64(len(data)) > maxBytes {
			writeError(w, r, svcerrors.InputTooLarge("file exceeds the configured size limit"))
			return
		}

		res, err := h.core.Detect(r.Context(), core.DetectInput{
			Modality: contentType,
			Bytes:    data,
			Source:   domain.SourceAPI,
			Filename: header.Filename,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, renderDetection(res))
	}
}

type batchItem struct {
	ItemID string `json:"item_id"`
	Text   string `json:"text"`
}

type batchRequest struct {
	Items      []batchItem `json:"items"`
	StopOnError bool       `json:"stop_on_error"`
}

type batchResultItem struct {
	ItemID string              `json:"item_id"`
	Result *detectionResponse  `json:"result,omitempty"`
	Error  string              `json:"error,omitempty"`
}

type batchResponse struct {
	Results []batchResultItem `json:"results"`
}

func (h *handlers) batchText(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r, "batch", "batch") {
		return
	}
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, svcerrors.ValidationFailed("invalid JSON body"))
		return
	}
	if len(req.Items) == 0 || len(req.Items) > maxBatchItems {
		writeError(w, r, svcerrors.ValidationFailed("items must contain between 1 and 50 entries"))
		return
	}

	results := make([]batchResultItem, 0, len(req.Items))
	for _, item := range req.Items {
		res, err := h.core.Detect(r.Context(), core.DetectInput{
			Modality: domain.ContentText,
			Text:     item.Text,
			Source:   domain.SourceBatch,
		})
		if err != nil {
			results = append(results, batchResultItem{ItemID: item.ItemID, Error: err.Error()})
			if req.StopOnError {
				break
			}
			continue
		}
		rendered := renderDetection(res)
		results = append(results, batchResultItem{ItemID: item.ItemID, Result: &rendered})
	}
	writeJSON(w, http.StatusOK, batchResponse{Results: results})
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// parseLimit reads a positive "limit" query parameter, capping it at
// maxListLimit and falling back to defaultListLimit when absent. A
// non-numeric or non-positive value is rejected with ValidationFailed.
func parseLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultListLimit, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return 0, svcerrors.ValidationFailed("limit must be a positive integer")
	}
	if parsed > maxListLimit {
		parsed = maxListLimit
	}
	return parsed, nil
}

func (h *handlers) history(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	filter := store.ListFilter{}
	if ct := r.URL.Query().Get("content_type"); ct != "" {
		filter.ContentType = domain.ContentType(ct)
	}

	items, total, err := h.core.Store.List(r.Context(), filter, limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": total, "limit": limit, "offset": offset})
}

func (h *handlers) dashboard(w http.ResponseWriter, r *http.Request) {
	days, _ := strconv.Atoi(r.URL.Query().Get("days"))
	if days <= 0 {
		days = 7
	}
	if days > 90 {
		days = 90
	}
	dash, err := h.core.Store.Dashboard(r.Context(), days)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dash)
}

func (h *handlers) getAnalysis(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	record, err := h.core.Store.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (h *handlers) export(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}
	contentType := "application/json"
	if format == "csv" {
		contentType = "text/csv"
	}
	w.Header().Set("Content-Type", contentType)
	if err := h.core.Store.Export(r.Context(), w, format, store.ListFilter{}, 10_000); err != nil {
		writeError(w, r, err)
		return
	}
}

func (h *handlers) intelEstimate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WindowDays int `json:"window_days"`
		MaxPosts   int `json:"max_posts"`
		MaxPages   int `json:"max_pages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, svcerrors.ValidationFailed("invalid JSON body"))
		return
	}
	estimate := core.EstimateIntelCollection(req.WindowDays, req.MaxPosts, req.MaxPages)
	writeJSON(w, http.StatusOK, map[string]any{"requests_estimate": estimate})
}

func (h *handlers) auditTail(w http.ResponseWriter, r *http.Request) {
	if h.core.Audit == nil {
		writeJSON(w, http.StatusOK, map[string]any{"events": []any{}})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	events := h.core.Audit.Tail(limit, audit.Filter{})
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (h *handlers) auditQuery(w http.ResponseWriter, r *http.Request) {
	if h.core.AuditStore == nil {
		writeError(w, r, svcerrors.NotFound("durable audit query requires a configured postgres-backed audit store"))
		return
	}

	q := r.URL.Query()
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		writeError(w, r, svcerrors.ValidationFailed(err.Error()))
		return
	}
	offset, _ := strconv.Atoi(q.Get("offset"))

	filter := audit.QueryFilter{
		EventType: q.Get("event_type"),
		Severity:  domain.AuditSeverity(q.Get("severity")),
		ActorID:   q.Get("actor_id"),
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeError(w, r, svcerrors.ValidationFailed("since must be RFC3339"))
			return
		}
		filter.Since = t
	}
	if until := q.Get("until"); until != "" {
		t, err := time.Parse(time.RFC3339, until)
		if err != nil {
			writeError(w, r, svcerrors.ValidationFailed("until must be RFC3339"))
			return
		}
		filter.Until = t
	}

	events, err := h.core.AuditStore.Query(r.Context(), filter, limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "limit": limit, "offset": offset})
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	deep := r.URL.Query().Get("deep") == "true"
	checks := map[string]string{}
	if deep {
		checks["db"] = "unknown"
		checks["cache"] = "unknown"
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "checks": checks, "time": time.Now().UTC()})
}

func (h *handlers) adminResetRateLimit(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")
	if h.core.Guard == nil {
		writeJSON(w, http.StatusOK, map[string]any{"reset": false})
		return
	}
	if err := h.core.Guard.Reset(r.Context(), clientID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reset": true})
}

func (h *handlers) adminPruneAnalysis(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OlderThanDays int `json:"older_than_days"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, svcerrors.ValidationFailed("invalid JSON body"))
		return
	}
	if req.OlderThanDays <= 0 {
		writeError(w, r, svcerrors.ValidationFailed("older_than_days must be positive"))
		return
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -req.OlderThanDays)
	pruned, err := h.core.Store.Prune(r.Context(), cutoff)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pruned": pruned})
}

func (h *handlers) adminSchedulerUsage(w http.ResponseWriter, r *http.Request) {
	if h.core.Scheduler == nil {
		writeError(w, r, svcerrors.NotFound("scheduler is not enabled"))
		return
	}
	usage := h.core.Scheduler.Usage()
	writeJSON(w, http.StatusOK, map[string]any{
		"month_key":         usage.MonthKey,
		"requests_used":     usage.RequestsUsed,
		"kill_switch_armed": usage.KillSwitchArmed,
	})
}

func (h *handlers) adminSchedulerKillSwitch(w http.ResponseWriter, r *http.Request) {
	if h.core.Scheduler == nil {
		writeError(w, r, svcerrors.NotFound("scheduler is not enabled"))
		return
	}
	var req struct {
		Armed bool `json:"armed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, svcerrors.ValidationFailed("invalid JSON body"))
		return
	}
	h.core.Scheduler.SetKillSwitch(req.Armed)
	writeJSON(w, http.StatusOK, map[string]any{"kill_switch_armed": req.Armed})
}
