package main

import (
	"sync"
	"time"
)

// ============================================================================
// Status Bus
// ============================================================================
// Dispatcher, sequencer goroutines and the supervisor publish status events;
// the websocket broadcaster and the MQTT publisher subscribe. Publishing never
// blocks: a subscriber that cannot keep up loses events.
// ============================================================================

// StatusType names a status event on the wire.
type StatusType string

const (
	StatusActionStarted  StatusType = "action_started"
	StatusActionFinished StatusType = "action_finished"
	StatusEventDropped   StatusType = "event_dropped"
	StatusHoldStarted    StatusType = "hold_started"
	StatusHoldStopped    StatusType = "hold_stopped"
	StatusModeChanged    StatusType = "mode_changed"
	StatusSessionState   StatusType = "session_state"
)

// StatusEvent is one externally visible state change.
type StatusEvent struct {
	Type StatusType
	At   time.Time
	Data any
}

// Action outcomes
const (
	outcomeCompleted = "completed"
	outcomeCancelled = "cancelled"
)

// Session states
const (
	sessionRunning  = "running"
	sessionRetrying = "retrying"
	sessionFatal    = "fatal"
)

type ActionStartedData struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Trigger       string `json:"trigger"`
	Source        string `json:"source,omitempty"`
	Steps         int    `json:"steps"`
	MinDurationMS int64  `json:"min_duration_ms"`
}

type ActionFinishedData struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Outcome   string `json:"outcome"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

type EventDroppedData struct {
	Trigger string `json:"trigger"`
	Running string `json:"running"`
}

type HoldData struct {
	Trigger string `json:"trigger"`
	Remote  string `json:"remote"`
	Button  string `json:"button"`
}

type ModeChangedData struct {
	Mode  string `json:"mode"`
	Value string `json:"value"`
}

type SessionStateData struct {
	State    string `json:"state"`
	Restarts int    `json:"restarts"`
	Error    string `json:"error,omitempty"`
}

// StatusBus fans status events out to subscribers. A nil *StatusBus discards
// everything, so components can be used without one.
type StatusBus struct {
	mu   sync.RWMutex
	subs []chan StatusEvent
}

func NewStatusBus() *StatusBus {
	return &StatusBus{}
}

// Subscribe returns a channel receiving every subsequent event.
func (b *StatusBus) Subscribe(buf int) <-chan StatusEvent {
	if buf <= 0 {
		buf = 64
	}
	ch := make(chan StatusEvent, buf)

	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()

	return ch
}

// Publish delivers an event to all subscribers without blocking.
func (b *StatusBus) Publish(t StatusType, data any) {
	if b == nil {
		return
	}
	ev := StatusEvent{Type: t, At: time.Now().UTC(), Data: data}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
