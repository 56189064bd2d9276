package webhook

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/R3E-Network/provenance-service/internal/domain"
)

// DeadLetterLog appends exhausted deliveries as JSONL, grounded on the
// audit pipeline's FileSink append style.
type DeadLetterLog struct {
	mu   sync.Mutex
	file *os.File
}

// NewDeadLetterLog opens path for append. An empty path returns a nil log.
func NewDeadLetterLog(path string) (*DeadLetterLog, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, err
	}
	return &DeadLetterLog{file: f}, nil
}

// Append writes one dead-letter entry.
func (l *DeadLetterLog) Append(entry domain.DeadLetterEntry) error {
	if l == nil || l.file == nil {
		return nil
	}
	b, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err = l.file.Write(append(b, '\n'))
	return err
}
