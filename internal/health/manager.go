package health

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultInterval is used when a check is registered without an interval.
const DefaultInterval = 30 * time.Second

// ErrCheckNotFound is returned for an unknown check name.
var ErrCheckNotFound = errors.New("health check not found")

// Callback receives every completed probe.
type Callback func(name string, result Result)

// Manager runs registered checks periodically and keeps their latest
// results.
type Manager struct {
	checks  map[string]*managedCheck
	timeout time.Duration
	mu      sync.RWMutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

type managedCheck struct {
	name     string
	checker  Checker
	interval time.Duration
	callback Callback
	result   Result
	mu       sync.RWMutex
}

// NewManager creates a manager whose probes are bounded by timeout.
func NewManager(timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Manager{
		checks:  make(map[string]*managedCheck),
		timeout: timeout,
	}
}

// Register registers a health check. Checks registered after Start run
// from the next Start.
func (m *Manager) Register(name string, checker Checker, interval time.Duration, callback Callback) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if interval <= 0 {
		interval = DefaultInterval
	}
	m.checks[name] = &managedCheck{
		name:     name,
		checker:  checker,
		interval: interval,
		callback: callback,
	}
}

// Unregister removes a health check.
func (m *Manager) Unregister(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checks, name)
}

// Start runs every registered check immediately and then on its interval
// until Stop or ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.running = true

	for _, check := range m.checks {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.runCheck(ctx, check)
		}()
	}
}

// Stop stops all checks and waits for running probes to return.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.cancel()
	m.running = false
	m.mu.Unlock()

	m.wg.Wait()
}

func (m *Manager) runCheck(ctx context.Context, check *managedCheck) {
	m.performCheck(ctx, check)

	ticker := time.NewTicker(check.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.performCheck(ctx, check)
		}
	}
}

func (m *Manager) performCheck(ctx context.Context, check *managedCheck) Result {
	checkCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	result := check.checker.Check(checkCtx)

	check.mu.Lock()
	check.result = result
	check.mu.Unlock()

	if check.callback != nil {
		check.callback(check.name, result)
	}
	return result
}

// GetResult returns the latest result for a check.
func (m *Manager) GetResult(name string) (Result, bool) {
	m.mu.RLock()
	check, exists := m.checks[name]
	m.mu.RUnlock()

	if !exists {
		return Result{}, false
	}

	check.mu.RLock()
	defer check.mu.RUnlock()
	return check.result, true
}

// GetAllResults returns the latest result of every check.
func (m *Manager) GetAllResults() map[string]Result {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make(map[string]Result, len(m.checks))
	for name, check := range m.checks {
		check.mu.RLock()
		results[name] = check.result
		check.mu.RUnlock()
	}
	return results
}

// IsHealthy returns true if every check has completed and passed. A check
// that has not run yet counts as unhealthy.
func (m *Manager) IsHealthy() bool {
	for _, result := range m.GetAllResults() {
		if !result.Healthy {
			return false
		}
	}
	return true
}

// CheckNow runs a check immediately and stores its result.
func (m *Manager) CheckNow(ctx context.Context, name string) (Result, error) {
	m.mu.RLock()
	check, exists := m.checks[name]
	m.mu.RUnlock()

	if !exists {
		return Result{}, ErrCheckNotFound
	}
	return m.performCheck(ctx, check), nil
}
