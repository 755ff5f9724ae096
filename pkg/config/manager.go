package config

import (
	"context"
	"fmt"
	"sync"

	"github.com/knadh/koanf/v2"
)

// Manager owns the merged configuration tree. It registers every provider's
// Watch hook, but no provider currently watches its source, so the tree only
// changes through an explicit Reload.
type Manager struct {
	mu        sync.RWMutex
	k         *koanf.Koanf
	cfg       *Config
	providers []Provider
	listeners []func(*Config)
}

// NewManager constructs an empty Manager. Call Load to populate it.
func NewManager(_ any) *Manager {
	return &Manager{k: koanf.New(".")}
}

// Load merges providers in order (later providers win) into a fresh Config,
// validates it, and stores it as the Manager's current snapshot.
func (m *Manager) Load(ctx context.Context, providers ...Provider) (*Config, error) {
	k := koanf.New(".")
	for _, p := range providers {
		data, err := p.Load()
		if err != nil {
			return nil, fmt.Errorf("loading %s config layer: %w", p.Type(), err)
		}
		if err := k.Load(mapProvider(data), nil); err != nil {
			return nil, fmt.Errorf("merging %s config layer: %w", p.Type(), err)
		}
	}
	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	m.mu.Lock()
	m.k = k
	m.cfg = cfg
	m.providers = providers
	listeners := append([]func(*Config){}, m.listeners...)
	m.mu.Unlock()
	for _, cb := range listeners {
		cb(cfg)
	}
	for _, p := range providers {
		p := p
		_ = p.Watch(ctx, func() { _ = m.Reload(ctx) })
	}
	return cfg, nil
}

// Get returns the current configuration snapshot. Panics if Load has not
// been called yet, matching the global package's uninitialized-access guard.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cfg == nil {
		panic("config: Get called before Load")
	}
	return m.cfg
}

// OnChange registers a callback invoked after every successful Reload.
func (m *Manager) OnChange(cb func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, cb)
}

// Reload re-runs Load against the same provider stack, e.g. after the YAML
// file has been edited.
func (m *Manager) Reload(ctx context.Context) error {
	m.mu.RLock()
	providers := m.providers
	m.mu.RUnlock()
	if providers == nil {
		panic("config: Reload called before Load")
	}
	_, err := m.Load(ctx, providers...)
	return err
}

// Close releases any resources held by the provider stack (currently a no-op;
// present so callers can treat the Manager uniformly as a closer).
func (m *Manager) Close(_ context.Context) error {
	return nil
}

// confmapProvider adapts an already-parsed map[string]any as a koanf.Provider,
// letting every Provider.Load result feed the same koanf.Load/merge path
// regardless of its underlying source.
type confmapProvider struct {
	data map[string]any
}

func mapProvider(data map[string]any) *confmapProvider {
	return &confmapProvider{data: data}
}

func (c *confmapProvider) Read() (map[string]any, error) {
	return c.data, nil
}

func (c *confmapProvider) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("confmap provider does not support raw bytes")
}
