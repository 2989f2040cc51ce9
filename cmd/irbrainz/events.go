package main

import (
	"encoding/json"
	"fmt"
)

// ============================================================================
// Dispatcher Events
// ============================================================================
// Events are everything the dispatcher loop consumes: classified input edges
// from the evdev sources, IPC requests and scheduled presses. They all travel
// through one channel so per-source ordering is preserved.
// ============================================================================

// Event is a marker interface for all dispatcher inputs.
type Event interface {
	eventMarker()
}

// Trigger is the logical name of a key after classification.
type Trigger string

// Edge is the transition a key went through.
type Edge int

const (
	EdgePressed Edge = iota + 1
	EdgeReleased
)

func (e Edge) String() string {
	switch e {
	case EdgePressed:
		return "pressed"
	case EdgeReleased:
		return "released"
	default:
		return fmt.Sprintf("edge(%d)", int(e))
	}
}

// InputEvent is a classified key edge.
type InputEvent struct {
	Trigger Trigger `json:"trigger"`
	Edge    Edge    `json:"-"`
	Source  string  `json:"source,omitempty"` // device path, "ipc" or "schedule"
}

func (InputEvent) eventMarker() {}

// CancelRequest asks the dispatcher to cancel the running composite action.
type CancelRequest struct {
	Origin string `json:"origin,omitempty"`
}

func (CancelRequest) eventMarker() {}

// ============================================================================
// JSON Serialization for IPC
// ============================================================================

// Request types understood by the IPC server.
const (
	requestPress   = "press"
	requestRelease = "release"
	requestCancel  = "cancel"
	requestStatus  = "status"
)

// EventEnvelope wraps events for JSON serialization
type EventEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// UnmarshalEvent decodes a JSON envelope into a dispatcher event.
func UnmarshalEvent(data []byte) (Event, error) {
	var env EventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return env.Event()
}

// Event converts an already-decoded envelope into a dispatcher event.
func (env EventEnvelope) Event() (Event, error) {
	switch env.Type {
	case requestPress, requestRelease:
		var ev InputEvent
		if len(env.Data) == 0 {
			return nil, fmt.Errorf("%s: missing data", env.Type)
		}
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", env.Type, err)
		}
		if ev.Trigger == "" {
			return nil, fmt.Errorf("%s: trigger must not be empty", env.Type)
		}
		ev.Edge = EdgePressed
		if env.Type == requestRelease {
			ev.Edge = EdgeReleased
		}
		if ev.Source == "" {
			ev.Source = "ipc"
		}
		return ev, nil

	case requestCancel:
		var c CancelRequest
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &c); err != nil {
				return nil, fmt.Errorf("unmarshal cancel: %w", err)
			}
		}
		if c.Origin == "" {
			c.Origin = "ipc"
		}
		return c, nil

	default:
		return nil, fmt.Errorf("unknown event type: %s", env.Type)
	}
}

// MarshalEvent encodes a dispatcher event as a JSON envelope.
func MarshalEvent(e Event) ([]byte, error) {
	var env EventEnvelope

	switch e := e.(type) {
	case InputEvent:
		switch e.Edge {
		case EdgePressed:
			env.Type = requestPress
		case EdgeReleased:
			env.Type = requestRelease
		default:
			return nil, fmt.Errorf("marshal InputEvent: unknown edge %v", e.Edge)
		}
		data, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("marshal InputEvent: %w", err)
		}
		env.Data = data

	case CancelRequest:
		env.Type = requestCancel
		data, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("marshal CancelRequest: %w", err)
		}
		env.Data = data

	default:
		return nil, fmt.Errorf("unknown event type: %T", e)
	}

	return json.Marshal(env)
}
