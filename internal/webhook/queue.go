package webhook

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/R3E-Network/provenance-service/internal/domain"
)

// Queue is the durable at-least-once retry queue: a JSON snapshot of
// pending items, written atomically (temp file + rename) matching the
// persisted-state layout used elsewhere in this service.
type Queue struct {
	mu    sync.Mutex
	path  string
	items []domain.WebhookItem
}

// NewQueue loads path if it exists, or starts empty.
func NewQueue(path string) (*Queue, error) {
	q := &Queue{path: path}
	if path == "" {
		return q, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return q, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return q, nil
	}
	if err := json.Unmarshal(data, &q.items); err != nil {
		return nil, err
	}
	return q, nil
}

// Enqueue appends a new item for immediate delivery.
func (q *Queue) Enqueue(url string, payload []byte) domain.WebhookItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	item := domain.WebhookItem{
		ID:           uuid.NewString(),
		URL:          url,
		PayloadBytes: payload,
	}
	q.items = append(q.items, item)
	_ = q.saveLocked()
	return item
}

// Snapshot returns a copy of the pending items.
func (q *Queue) Snapshot() []domain.WebhookItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]domain.WebhookItem, len(q.items))
	copy(out, q.items)
	return out
}

// Update replaces the stored item matching item.ID, or no-ops if absent.
func (q *Queue) Update(item domain.WebhookItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.items {
		if q.items[i].ID == item.ID {
			q.items[i] = item
			return q.saveLocked()
		}
	}
	return nil
}

// Remove drops item by ID once it is delivered or dead-lettered.
func (q *Queue) Remove(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.items {
		if q.items[i].ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return q.saveLocked()
		}
	}
	return nil
}

func (q *Queue) saveLocked() error {
	if q.path == "" {
		return nil
	}
	if dir := filepath.Dir(q.path); dir != "." {
		_ = os.MkdirAll(dir, 0o750)
	}
	data, err := json.Marshal(q.items)
	if err != nil {
		return err
	}
	tmp := q.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return err
	}
	return os.Rename(tmp, q.path)
}

// PayloadDigest returns a short content-address for dead-letter records.
func PayloadDigest(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:8])
}
