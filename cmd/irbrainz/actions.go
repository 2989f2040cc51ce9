package main

import (
	"fmt"
	"strings"
	"time"
)

// ============================================================================
// Actions
// ============================================================================
// Every trigger resolves to exactly one Action:
//   - Momentary: a button that is asserted while the key is held
//   - Composite: a timed sequence of Pulse/Hold/Delay steps
//   - Cancel:    aborts the running composite
// ============================================================================

// Action is a marker interface for trigger bindings.
type Action interface {
	actionMarker()
}

// Momentary asserts Button on Remote from press until release.
type Momentary struct {
	Remote string `json:"remote"`
	Button string `json:"button"`
}

func (Momentary) actionMarker() {}

// Composite runs Steps in order when its trigger is pressed.
type Composite struct {
	Name  string
	Steps []Step

	// Sets records device mode values once the steps complete uncancelled.
	Sets map[string]string

	// Cycle, when set, appends the steps of the option following the current
	// value of a device mode and records that option on completion.
	Cycle *Cycle
}

func (Composite) actionMarker() {}

// Cancel aborts the running composite, if any.
type Cancel struct{}

func (Cancel) actionMarker() {}

// Cycle selects between mode-dependent step lists.
type Cycle struct {
	Mode    string
	Options []CycleOption
}

// CycleOption is one state of a toggle.
type CycleOption struct {
	Value string
	Steps []Step
}

// ModeReader exposes the current device mode values.
type ModeReader interface {
	Mode(name string) (string, bool)
}

// Resolve fixes the step list and the mode updates of a composite against the
// current device modes. It is evaluated once, when the action is admitted.
func (c Composite) Resolve(modes ModeReader) ([]Step, map[string]string) {
	steps := append([]Step(nil), c.Steps...)
	sets := make(map[string]string, len(c.Sets)+1)
	for k, v := range c.Sets {
		sets[k] = v
	}

	if c.Cycle == nil || len(c.Cycle.Options) == 0 {
		return steps, sets
	}

	next := c.Cycle.Options[0]
	if modes != nil {
		if current, ok := modes.Mode(c.Cycle.Mode); ok {
			for i, opt := range c.Cycle.Options {
				if opt.Value == current {
					next = c.Cycle.Options[(i+1)%len(c.Cycle.Options)]
					break
				}
			}
		}
	}

	steps = append(steps, next.Steps...)
	sets[c.Cycle.Mode] = next.Value
	return steps, sets
}

// ============================================================================
// Steps
// ============================================================================

// Step is a marker interface for sequence steps.
type Step interface {
	stepMarker()
	String() string
}

// Pulse sends Button once per repetition, each followed by the inter-step delay.
type Pulse struct {
	Remote string
	Button string
	Times  int
}

func (Pulse) stepMarker() {}

func (p Pulse) String() string {
	return fmt.Sprintf("pulse %s/%s x%d", p.Remote, p.Button, p.repeat())
}

func (p Pulse) repeat() int {
	if p.Times < 1 {
		return 1
	}
	return p.Times
}

// Hold asserts Button for Duration, then releases it.
type Hold struct {
	Remote   string
	Button   string
	Duration time.Duration
}

func (Hold) stepMarker() {}

func (h Hold) String() string {
	return fmt.Sprintf("hold %s/%s %s", h.Remote, h.Button, h.Duration)
}

// Delay waits without transmitting.
type Delay struct {
	Duration time.Duration
}

func (Delay) stepMarker() {}

func (d Delay) String() string {
	return fmt.Sprintf("delay %s", d.Duration)
}

// MinDuration is the lower bound on the wall-clock time a step list takes.
func MinDuration(steps []Step, stepDelay time.Duration) time.Duration {
	var total time.Duration
	for _, s := range steps {
		switch s := s.(type) {
		case Pulse:
			total += time.Duration(s.repeat()) * stepDelay
		case Hold:
			total += s.Duration + stepDelay
		case Delay:
			total += s.Duration
		}
	}
	return total
}

func describeSteps(steps []Step) string {
	parts := make([]string, len(steps))
	for i, s := range steps {
		parts[i] = s.String()
	}
	return strings.Join(parts, "; ")
}

// mergeActions overlays extra bindings on base and returns the result.
func mergeActions(base, extra map[Trigger]Action) map[Trigger]Action {
	out := make(map[Trigger]Action, len(base)+len(extra))
	for t, a := range base {
		out[t] = a
	}
	for t, a := range extra {
		out[t] = a
	}
	return out
}

// checkBindings verifies that every trigger the keymap produces has an action.
func checkBindings(keymap Keymap, actions map[Trigger]Action) error {
	for _, t := range keymap.Triggers() {
		if _, ok := actions[t]; !ok {
			return fmt.Errorf("keymap trigger %q has no action", t)
		}
	}
	return nil
}
