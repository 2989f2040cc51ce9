package main

import (
	"fmt"
	"sort"

	evdev "github.com/gvalkov/golang-evdev"
)

// RawEvent is the part of struct input_event the classifier looks at.
type RawEvent struct {
	Type  uint16
	Code  uint16
	Value int32
}

// Classifier turns raw device events into trigger edges.
type Classifier interface {
	Classify(source string, raw RawEvent) (InputEvent, bool)
}

// Keymap maps evdev key codes to triggers. It is immutable after construction.
type Keymap map[uint16]Trigger

// maxKeyCode is KEY_MAX from <linux/input-event-codes.h>.
const maxKeyCode = 0x2ff

// Classify maps a raw event to a trigger edge. Only EV_KEY press and release
// events on mapped codes are classified; autorepeat is ignored.
func (k Keymap) Classify(source string, raw RawEvent) (InputEvent, bool) {
	if raw.Type != evdev.EV_KEY {
		return InputEvent{}, false
	}

	var edge Edge
	switch raw.Value {
	case evValuePress:
		edge = EdgePressed
	case evValueRelease:
		edge = EdgeReleased
	default:
		return InputEvent{}, false
	}

	trigger, ok := k[raw.Code]
	if !ok {
		return InputEvent{}, false
	}

	return InputEvent{Trigger: trigger, Edge: edge, Source: source}, true
}

// Triggers returns the distinct triggers referenced by the keymap, sorted.
func (k Keymap) Triggers() []Trigger {
	seen := make(map[Trigger]struct{}, len(k))
	out := make([]Trigger, 0, len(k))
	for _, t := range k {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DefaultKeymap covers the 6-key macropad (F1-F6) and the wireless numpad.
func DefaultKeymap() Keymap {
	return Keymap{
		// Macropad
		evdev.KEY_F1: "volume_up",
		evdev.KEY_F2: "surround_toggle",
		evdev.KEY_F3: "input_toggle",
		evdev.KEY_F4: "volume_down",
		evdev.KEY_F5: "disco_red_yellow_toggle",
		evdev.KEY_F6: "kitchen_speakers_toggle",

		// Numpad
		evdev.KEY_KP1:        "volume_down",
		evdev.KEY_KP2:        "volume_up",
		evdev.KEY_KP4:        "tv_mode",
		evdev.KEY_KP5:        "dj_mode",
		evdev.KEY_KP7:        "kitchen_speakers_on",
		evdev.KEY_KP8:        "kitchen_speakers_off",
		evdev.KEY_KP0:        "surround_toggle",
		evdev.KEY_BACKSPACE:  "disco_white",
		evdev.KEY_KPMINUS:    "disco_yellow",
		evdev.KEY_KPPLUS:     "disco_red",
		evdev.KEY_KPENTER:    "disco_power_toggle",
		evdev.KEY_KPASTERISK: "disco_fade_toggle",
		evdev.KEY_TAB:        "spotify_dark_mode",
		evdev.KEY_EQUAL:      "tv_power",
		evdev.KEY_KPDOT:      "pause",
		evdev.KEY_ESC:        "cancel",
	}
}

// KeymapFromConfig builds a keymap from the YAML representation (code -> trigger).
func KeymapFromConfig(m map[int]string) (Keymap, error) {
	k := make(Keymap, len(m))
	for code, name := range m {
		if code < 0 || code > maxKeyCode {
			return nil, fmt.Errorf("keymap: code %d out of range", code)
		}
		if name == "" {
			return nil, fmt.Errorf("keymap: code %d maps to an empty trigger", code)
		}
		k[uint16(code)] = Trigger(name)
	}
	return k, nil
}

// keyName returns the kernel name of a key code for logs, e.g. "KEY_F1".
func keyName(code uint16) string {
	if name, ok := evdev.KEY[int(code)]; ok {
		return name
	}
	return fmt.Sprintf("KEY_%d", code)
}
