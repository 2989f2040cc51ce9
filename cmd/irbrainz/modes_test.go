package main

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
)

// memModeStore is an in-memory ModeStore.
type memModeStore struct {
	mu      sync.Mutex
	values  map[string]string
	saves   int
	loadErr error
}

func (m *memModeStore) LoadModes(context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	out := make(map[string]string, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out, nil
}

func (m *memModeStore) SaveMode(_ context.Context, name, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values == nil {
		m.values = make(map[string]string)
	}
	m.values[name] = value
	m.saves++
	return nil
}

func TestDeviceModes_LoadOverlaysDefaults(t *testing.T) {
	store := &memModeStore{values: map[string]string{modeSurround: surroundStereo}}
	m := NewDeviceModes(DefaultModes(), store, nil, discardLogger())

	if err := m.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if v, _ := m.Mode(modeSurround); v != surroundStereo {
		t.Fatalf("surround = %q, want persisted %q", v, surroundStereo)
	}
	if v, _ := m.Mode(modeInput); v != inputTV {
		t.Fatalf("input = %q, want default %q", v, inputTV)
	}

	store.loadErr = errors.New("disk on fire")
	if err := m.Load(context.Background()); err == nil {
		t.Fatalf("expected load error")
	}
}

func TestDeviceModes_ApplyPersistsAndPublishesChanges(t *testing.T) {
	bus := NewStatusBus()
	sub := bus.Subscribe(16)
	store := &memModeStore{}
	m := NewDeviceModes(DefaultModes(), store, bus, discardLogger())

	m.Apply(context.Background(), map[string]string{
		modeInput:      inputDJ,  // changed
		modeDiscoColor: colorRed, // unchanged
	})

	if store.saves != 1 || store.values[modeInput] != inputDJ {
		t.Fatalf("expected one save of input=dj, got %d saves %v", store.saves, store.values)
	}
	if len(sub) != 1 {
		t.Fatalf("expected exactly one mode_changed event, got %d", len(sub))
	}
	ev := <-sub
	if mc := ev.Data.(ModeChangedData); ev.Type != StatusModeChanged || mc.Mode != modeInput || mc.Value != inputDJ {
		t.Fatalf("unexpected event %+v", ev)
	}

	snap := m.Snapshot()
	snap[modeInput] = "mutated"
	if v, _ := m.Mode(modeInput); v != inputDJ {
		t.Fatalf("Snapshot must return a copy")
	}
}

func TestSQLiteModeStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "modes.db")
	ctx := context.Background()

	s, err := OpenModeStore(path)
	if err != nil {
		t.Fatalf("OpenModeStore: %v", err)
	}
	if err := s.SaveMode(ctx, modeSurround, surroundStereo); err != nil {
		t.Fatalf("SaveMode: %v", err)
	}
	if err := s.SaveMode(ctx, modeSurround, surroundDirect); err != nil {
		t.Fatalf("SaveMode overwrite: %v", err)
	}
	if err := s.SaveMode(ctx, modeDiscoColor, colorWhite); err != nil {
		t.Fatalf("SaveMode: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err = OpenModeStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	got, err := s.LoadModes(ctx)
	if err != nil {
		t.Fatalf("LoadModes: %v", err)
	}
	if len(got) != 2 || got[modeSurround] != surroundDirect || got[modeDiscoColor] != colorWhite {
		t.Fatalf("LoadModes = %v", got)
	}
}
