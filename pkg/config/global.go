package config

import (
	"context"
	"fmt"
	"sync/atomic"
)

var global atomic.Pointer[Manager]

// Initialize loads providers into a new global Manager, ignoring the call if
// a global config has already been initialized (first caller wins, matching
// a process-wide singleton rather than per-test isolation).
func Initialize(ctx context.Context, _ any, providers ...Provider) error {
	if global.Load() != nil {
		return nil
	}
	m := NewManager(nil)
	if _, err := m.Load(ctx, providers...); err != nil {
		return fmt.Errorf("failed to initialize global config: %w", err)
	}
	global.Store(m)
	return nil
}

// Get returns the process-wide configuration. Panics if Initialize has not
// run yet; orchestratord calls Initialize before constructing anything that
// calls Get.
func Get() *Config {
	m := global.Load()
	if m == nil {
		panic("config: Get called before Initialize")
	}
	return m.Get()
}

// OnChange registers a callback against the global Manager.
func OnChange(cb func(*Config)) {
	m := global.Load()
	if m == nil {
		panic("config: OnChange called before Initialize")
	}
	m.OnChange(cb)
}

// Reload re-runs the global Manager's provider stack.
func Reload(ctx context.Context) error {
	m := global.Load()
	if m == nil {
		panic("config: Reload called before Initialize")
	}
	return m.Reload(ctx)
}

// resetForTest clears the global singleton; used only by this package's own
// tests to exercise Initialize's once-only semantics repeatedly.
func resetForTest() {
	global.Store(nil)
}
