package limits

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"mercator-hq/tokengate/pkg/limits/ratelimit"
)

// Manager owns one Controller per provider.
//
// Providers are independent: each has its own ledger, ceilings and permit
// pool. Options passed to NewManager apply to every controller.
//
// # Example
//
//	manager, err := limits.NewManager(map[string]limits.Config{
//	    "openai":    {Limits: ratelimit.Limits{TokensPerMinute: 90000, RequestsPerMinute: 500, MaxConcurrent: 8}},
//	    "anthropic": {Limits: ratelimit.Limits{TokensPerMinute: 40000, RequestsPerMinute: 50, MaxConcurrent: 4}},
//	}, limits.WithRecorder(backend))
//
//	ctrl, err := manager.Get("openai")
type Manager struct {
	mu          sync.RWMutex
	controllers map[string]*Controller
}

// NewManager creates a controller for every entry in configs. The map key is
// the provider name and overrides Config.Provider.
func NewManager(configs map[string]Config, opts ...Option) (*Manager, error) {
	m := &Manager{controllers: make(map[string]*Controller, len(configs))}

	for name, cfg := range configs {
		cfg.Provider = name
		ctrl, err := NewController(cfg, opts...)
		if err != nil {
			return nil, err
		}
		m.controllers[name] = ctrl
	}

	return m, nil
}

// Get returns the controller for provider.
func (m *Manager) Get(provider string) (*Controller, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ctrl, ok := m.controllers[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	return ctrl, nil
}

// Providers returns the configured provider names, sorted.
func (m *Manager) Providers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.controllers))
	for name := range m.controllers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetLimits updates the TPM and RPM ceilings of one provider.
func (m *Manager) SetLimits(provider string, limits ratelimit.Limits) error {
	ctrl, err := m.Get(provider)
	if err != nil {
		return err
	}
	return ctrl.SetLimits(limits)
}

// Stats returns a snapshot per provider, sorted by name.
func (m *Manager) Stats() []Stats {
	names := m.Providers()
	out := make([]Stats, 0, len(names))
	for _, name := range names {
		if ctrl, err := m.Get(name); err == nil {
			out = append(out, ctrl.Stats())
		}
	}
	return out
}

// Close closes every controller.
func (m *Manager) Close() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var errs []error
	for _, ctrl := range m.controllers {
		if err := ctrl.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
