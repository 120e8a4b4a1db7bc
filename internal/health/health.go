// Package health exposes liveness and readiness for the engine's external
// collaborators (Redis store, outcome journal).
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CheckFunc probes one component. A nil error means healthy.
type CheckFunc func(ctx context.Context) error

// Manager runs named component checks on demand.
type Manager struct {
	mu      sync.RWMutex
	checks  map[string]CheckFunc
	timeout time.Duration
	logger  *zap.Logger
}

// NewManager creates a health manager.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		checks:  make(map[string]CheckFunc),
		timeout: 5 * time.Second,
		logger:  logger,
	}
}

// Register adds a named check. Re-registering a name replaces the check.
func (m *Manager) Register(name string, check CheckFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = check
	m.logger.Info("health check registered", zap.String("check", name))
}

// Run executes every registered check and returns per-component errors.
func (m *Manager) Run(ctx context.Context) map[string]error {
	m.mu.RLock()
	checks := make(map[string]CheckFunc, len(m.checks))
	for name, fn := range m.checks {
		checks[name] = fn
	}
	m.mu.RUnlock()

	results := make(map[string]error, len(checks))
	for name, fn := range checks {
		cctx, cancel := context.WithTimeout(ctx, m.timeout)
		results[name] = fn(cctx)
		cancel()
	}
	return results
}

// RegisterRoutes wires /healthz and /readyz on the given mux. Liveness is
// unconditional; readiness runs the registered checks.
func (m *Manager) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		results := m.Run(r.Context())

		ready := true
		components := make(map[string]string, len(results))
		for name, err := range results {
			if err != nil {
				ready = false
				components[name] = err.Error()
				m.logger.Warn("health check failed",
					zap.String("check", name), zap.Error(err))
			} else {
				components[name] = "ok"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"ready":      ready,
			"components": components,
		})
	})
}
