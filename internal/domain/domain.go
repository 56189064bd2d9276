// Package domain defines the provenance service's persisted and in-memory
// record types: AnalysisRecord, AuditEvent, ConsensusVote, ScheduledJob,
// SchedulerUsage, WebhookItem, DeadLetterEntry, RateLimitBucket and
// SpendLedger, following the plain struct-with-json-tags style the domain
// packages in the source corpus use.
package domain

import (
	"database/sql"
	"time"
)

// ContentType enumerates the supported modalities.
type ContentType string

const (
	ContentText  ContentType = "text"
	ContentImage ContentType = "image"
	ContentAudio ContentType = "audio"
	ContentVideo ContentType = "video"
)

// Source enumerates where a detection request originated.
type Source string

const (
	SourceAPI       Source = "api"
	SourceExtension Source = "extension"
	SourceScheduled Source = "scheduled"
	SourceBatch     Source = "batch"
)

// AnalysisRecord is one completed detection decision. Once created it is
// never mutated; only pruned by TTL.
type AnalysisRecord struct {
	AnalysisID      string
	ContentType     ContentType
	ContentHash     string
	IsAIGenerated   bool
	Confidence      float64
	ModelPrediction sql.NullString
	ResultPayload   []byte // opaque JSON: per-signal breakdown + consensus votes
	Source          Source
	SourceURL       sql.NullString
	Filename        sql.NullString
	CreatedAt       time.Time
}

// AuditSeverity enumerates AuditEvent severities.
type AuditSeverity string

const (
	SeverityInfo    AuditSeverity = "info"
	SeverityWarning AuditSeverity = "warning"
	SeverityError   AuditSeverity = "error"
)

// AuditEvent is an append-only record of a notable action.
type AuditEvent struct {
	EventID   string
	EventType string
	Severity  AuditSeverity
	ActorID   string
	RequestID string
	Payload   []byte // opaque JSON map
	CreatedAt time.Time
}

// ConsensusVoteStatus enumerates a provider probe's terminal state.
type ConsensusVoteStatus string

const (
	VoteOK          ConsensusVoteStatus = "ok"
	VoteUnavailable ConsensusVoteStatus = "unavailable"
	VoteUnsupported ConsensusVoteStatus = "unsupported"
	VoteError       ConsensusVoteStatus = "error"
)

// ConsensusVote is one provider's opinion on a single artifact.
type ConsensusVote struct {
	Provider    string              `json:"provider"`
	Probability *float64            `json:"probability"`
	Weight      float64             `json:"weight"`
	Status      ConsensusVoteStatus `json:"status"`
	Rationale   string              `json:"rationale"`
}

// ConsensusSummary is the Consensus Engine's per-call result.
type ConsensusSummary struct {
	FinalProbability float64         `json:"final_probability"`
	Threshold        float64         `json:"threshold"`
	IsAIGenerated    bool            `json:"is_ai_generated"`
	Disagreement     float64         `json:"disagreement"`
	Providers        []ConsensusVote `json:"providers"`
}

// ScheduledJob is a recurring intelligence-collection task. CronExpr, when
// set, takes precedence over Interval for computing the next due time
// (standard 5-field cron, parsed by the scheduler).
type ScheduledJob struct {
	Handle          string
	Interval        time.Duration
	CronExpr        string
	WindowDays      int
	MaxPosts        int
	Query           string
	LastCompletedAt time.Time
	Failures        int
	NextAttemptAt   time.Time
}

// RequestsEstimate derives the monthly-budget cost of one run.
func (j ScheduledJob) RequestsEstimate(pageCap int) int {
	if pageCap <= 0 {
		pageCap = 1
	}
	return j.WindowDays * j.MaxPosts * pageCap
}

// SchedulerUsage is the scheduler's persistent counter state.
type SchedulerUsage struct {
	MonthKey        string
	RequestsUsed    int
	KillSwitchArmed bool
}

// WebhookItem is a durable at-least-once retry record.
type WebhookItem struct {
	ID            string    `json:"id"`
	URL           string    `json:"url"`
	PayloadBytes  []byte    `json:"payload_bytes"`
	Attempts      int       `json:"attempts"`
	NextAttemptAt time.Time `json:"next_attempt_at"`
	FirstFailedAt time.Time `json:"first_failed_at,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// DeadLetterEntry is an append-only failed-delivery record.
type DeadLetterEntry struct {
	URL            string    `json:"url"`
	FinalError     string    `json:"final_error"`
	TotalAttempts  int       `json:"total_attempts"`
	PayloadDigest  string    `json:"payload_digest"`
	FirstFailedAt  time.Time `json:"first_failed_at"`
	DeadLetteredAt time.Time `json:"dead_lettered_at"`
}

// RateLimitBucket is the in-memory/shared-cache fixed-window counter state.
type RateLimitBucket struct {
	ClientID    string
	BucketName  string
	WindowStart int64 // floor(now / window_seconds)
	Count       int
}

// SpendLedger accumulates points per client per day against a daily cap.
type SpendLedger struct {
	ClientID string
	DayKey   string // YYYY-MM-DD
	Used     int
}
