package system

import (
	"context"
	"fmt"
	"sync"
)

// Manager owns an ordered set of Services. Start brings them up in
// registration order and rolls back whatever already started if a later
// service fails; Stop tears them down in reverse order and is idempotent.
type Manager struct {
	mu       sync.Mutex
	services []Service
	started  []Service
	stopOnce sync.Once
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{}
}

// Register appends a service to the managed set. Registration order is
// start order; services started by an earlier Start call are not affected.
func (m *Manager) Register(svc Service) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services = append(m.services, svc)
}

// Start starts every registered service in registration order. If a service
// fails to start, every service started so far is stopped in reverse order
// before the error is returned.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	services := append([]Service(nil), m.services...)
	m.mu.Unlock()

	for _, svc := range services {
		if err := svc.Start(ctx); err != nil {
			m.rollback(ctx)
			return fmt.Errorf("start %s: %w", svc.Name(), err)
		}
		m.mu.Lock()
		m.started = append(m.started, svc)
		m.mu.Unlock()
	}
	return nil
}

func (m *Manager) rollback(ctx context.Context) {
	m.mu.Lock()
	started := append([]Service(nil), m.started...)
	m.started = nil
	m.mu.Unlock()

	for i := len(started) - 1; i >= 0; i-- {
		_ = started[i].Stop(ctx)
	}
}

// Stop stops every started service in reverse order. It is safe to call
// more than once; only the first call does any work.
func (m *Manager) Stop(ctx context.Context) error {
	var errs []error
	m.stopOnce.Do(func() {
		m.mu.Lock()
		started := append([]Service(nil), m.started...)
		m.started = nil
		m.mu.Unlock()

		for i := len(started) - 1; i >= 0; i-- {
			if err := started[i].Stop(ctx); err != nil {
				errs = append(errs, fmt.Errorf("stop %s: %w", started[i].Name(), err))
			}
		}
	})
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%d service(s) failed to stop: %v", len(errs), errs)
}
