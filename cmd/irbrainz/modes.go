package main

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// ModeStore persists device mode values across restarts.
type ModeStore interface {
	LoadModes(ctx context.Context) (map[string]string, error)
	SaveMode(ctx context.Context, name, value string) error
}

// DeviceModes is the daemon's optimistic mirror of device state that has no
// feedback channel (the receiver's listening mode, the active input, ...).
// Values only change after the action that changes them has completed.
type DeviceModes struct {
	mu     sync.RWMutex
	values map[string]string

	store  ModeStore // optional
	bus    *StatusBus
	logger *slog.Logger
}

// NewDeviceModes creates the mirror seeded with defaults. store may be nil.
func NewDeviceModes(defaults map[string]string, store ModeStore, bus *StatusBus, logger *slog.Logger) *DeviceModes {
	values := make(map[string]string, len(defaults))
	for k, v := range defaults {
		values[k] = v
	}
	return &DeviceModes{
		values: values,
		store:  store,
		bus:    bus,
		logger: logger,
	}
}

// Load overlays persisted values on top of the defaults.
func (m *DeviceModes) Load(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	stored, err := m.store.LoadModes(ctx)
	if err != nil {
		return fmt.Errorf("load modes: %w", err)
	}

	m.mu.Lock()
	for k, v := range stored {
		m.values[k] = v
	}
	m.mu.Unlock()

	m.logger.Debug("device modes restored", "count", len(stored))
	return nil
}

// Mode returns the current value of a mode.
func (m *DeviceModes) Mode(name string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[name]
	return v, ok
}

// Snapshot returns a copy of all mode values.
func (m *DeviceModes) Snapshot() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}

// Apply records new mode values, persisting and publishing the ones that changed.
func (m *DeviceModes) Apply(ctx context.Context, sets map[string]string) {
	if len(sets) == 0 {
		return
	}

	names := make([]string, 0, len(sets))
	for k := range sets {
		names = append(names, k)
	}
	sort.Strings(names)

	var changed []string
	m.mu.Lock()
	for _, name := range names {
		if m.values[name] == sets[name] {
			continue
		}
		m.values[name] = sets[name]
		changed = append(changed, name)
	}
	m.mu.Unlock()

	for _, name := range changed {
		value := sets[name]
		m.logger.Info("device mode changed", "mode", name, "value", value)
		m.bus.Publish(StatusModeChanged, ModeChangedData{Mode: name, Value: value})

		if m.store == nil {
			continue
		}
		if err := m.store.SaveMode(ctx, name, value); err != nil {
			m.logger.Warn("failed to persist device mode", "mode", name, "error", err)
		}
	}
}
