// Package webhook implements durable, at-least-once outbound notification
// delivery: a JSON-snapshot queue, a cooperative drain loop separate from
// the scheduler's tick, and per-item exponential backoff with jitter,
// adapted from the oracle dispatcher's tick/shouldAttempt/scheduleNext
// shape in the source corpus.
package webhook

import (
	"bytes"
	"context"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/R3E-Network/provenance-service/internal/domain"
	"github.com/R3E-Network/provenance-service/internal/metrics"
)

// AuditEmitter is the narrow audit interface the dispatcher depends on.
type AuditEmitter interface {
	Emit(ctx context.Context, eventType string, severity domain.AuditSeverity, payload map[string]any, actorID, requestID string)
}

// Config configures a Dispatcher.
type Config struct {
	DrainInterval time.Duration
	BaseBackoff   time.Duration
	MaxBackoff    time.Duration
	MaxAttempts   int
	RequestTimeout time.Duration
}

// Dispatcher drains the durable Queue on its own ticker, independent of the
// scheduler's recurring-collection tick.
type Dispatcher struct {
	cfg     Config
	queue   *Queue
	deadLtr *DeadLetterLog
	audit   AuditEmitter
	client  *http.Client
	log     zerolog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New constructs a Dispatcher. Zero-value Config fields fall back to
// base=30s, max=1h, max_attempts=8, drain_interval=5s.
func New(cfg Config, queue *Queue, deadLtr *DeadLetterLog, audit AuditEmitter, log zerolog.Logger) *Dispatcher {
	if cfg.DrainInterval <= 0 {
		cfg.DrainInterval = 5 * time.Second
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 30 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = time.Hour
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 8
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	return &Dispatcher{
		cfg:     cfg,
		queue:   queue,
		deadLtr: deadLtr,
		audit:   audit,
		client:  &http.Client{Timeout: cfg.RequestTimeout},
		log:     log,
	}
}

// Name implements system.Service.
func (d *Dispatcher) Name() string { return "webhook-dispatcher" }

// Start begins the drain loop.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.running = true
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(d.cfg.DrainInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				d.drain(runCtx)
			}
		}
	}()
	return nil
}

// Stop cancels the drain loop and waits for it to exit.
func (d *Dispatcher) Stop(context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	cancel := d.cancel
	d.running = false
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	d.wg.Wait()
	return nil
}

// Enqueue hands a fresh payload to the queue for immediate delivery on the
// next drain.
func (d *Dispatcher) Enqueue(url string, payload []byte) {
	d.queue.Enqueue(url, payload)
}

func (d *Dispatcher) drain(ctx context.Context) {
	now := time.Now().UTC()
	for _, item := range d.queue.Snapshot() {
		if now.Before(item.NextAttemptAt) {
			continue
		}
		d.deliver(ctx, item)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, item domain.WebhookItem) {
	reqCtx, cancel := context.WithTimeout(ctx, d.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, item.URL, bytes.NewReader(item.PayloadBytes))
	if err == nil {
		req.Header.Set("Content-Type", "application/json")
	}

	var deliverErr error
	if err != nil {
		deliverErr = err
	} else {
		resp, err := d.client.Do(req)
		if err != nil {
			deliverErr = err
		} else {
			resp.Body.Close()
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				deliverErr = statusError(resp.StatusCode)
			}
		}
	}

	item.Attempts++

	if deliverErr == nil {
		_ = d.queue.Remove(item.ID)
		d.emitAudit(ctx, "webhook.delivered", domain.SeverityInfo, map[string]any{"id": item.ID, "url": item.URL, "attempts": item.Attempts})
		metrics.RecordWebhookDelivery("delivered")
		return
	}

	item.LastError = deliverErr.Error()
	if item.FirstFailedAt.IsZero() {
		item.FirstFailedAt = time.Now().UTC()
	}

	if item.Attempts >= d.cfg.MaxAttempts {
		entry := domain.DeadLetterEntry{
			URL:            item.URL,
			FinalError:     item.LastError,
			TotalAttempts:  item.Attempts,
			PayloadDigest:  PayloadDigest(item.PayloadBytes),
			FirstFailedAt:  item.FirstFailedAt,
			DeadLetteredAt: time.Now().UTC(),
		}
		if d.deadLtr != nil {
			if err := d.deadLtr.Append(entry); err != nil {
				d.log.Warn().Err(err).Str("id", item.ID).Msg("dead letter append failed")
			}
		}
		_ = d.queue.Remove(item.ID)
		d.emitAudit(ctx, "webhook.dead_lettered", domain.SeverityError, map[string]any{"id": item.ID, "url": item.URL, "attempts": item.Attempts, "error": item.LastError})
		metrics.RecordWebhookDeadLetter()
		return
	}

	item.NextAttemptAt = time.Now().UTC().Add(d.backoff(item.Attempts))
	if err := d.queue.Update(item); err != nil {
		d.log.Warn().Err(err).Str("id", item.ID).Msg("webhook queue update failed")
	}
}

// backoff implements min(base * 2^(n-1), max_backoff) with ±20% jitter.
func (d *Dispatcher) backoff(attempt int) time.Duration {
	shift := attempt - 1
	if shift > 20 {
		shift = 20
	}
	raw := d.cfg.BaseBackoff << uint(shift)
	if raw <= 0 || raw > d.cfg.MaxBackoff {
		raw = d.cfg.MaxBackoff
	}
	jitter := 0.8 + rand.Float64()*0.4
	return time.Duration(float64(raw) * jitter)
}

func (d *Dispatcher) emitAudit(ctx context.Context, eventType string, severity domain.AuditSeverity, payload map[string]any) {
	if d.audit == nil {
		return
	}
	d.audit.Emit(ctx, eventType, severity, payload, "webhook-dispatcher", "")
}

type statusError int

func (e statusError) Error() string {
	return "webhook endpoint returned non-2xx status"
}
