package scheduler

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/R3E-Network/provenance-service/internal/domain"
)

// UsageStore persists SchedulerUsage to a JSON file, matching the §6
// persisted-state layout ("one JSON file (scheduler_usage)").
type UsageStore struct {
	mu   sync.Mutex
	path string
}

// NewUsageStore wraps the configured usage file path.
func NewUsageStore(path string) *UsageStore {
	return &UsageStore{path: path}
}

// Load reads the persisted usage, returning a fresh zero-value usage for
// the current month if the file doesn't exist yet.
func (s *UsageStore) Load(now time.Time) (domain.SchedulerUsage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	usage := domain.SchedulerUsage{MonthKey: monthKey(now)}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return usage, nil
		}
		return usage, err
	}
	if err := json.Unmarshal(data, &usage); err != nil {
		return usage, err
	}
	return usage, nil
}

// Save atomically persists usage (temp file + rename).
func (s *UsageStore) Save(usage domain.SchedulerUsage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return nil
	}
	if dir := filepath.Dir(s.path); dir != "." {
		_ = os.MkdirAll(dir, 0o750)
	}

	data, err := json.Marshal(usage)
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func monthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}
