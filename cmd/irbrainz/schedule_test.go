package main

import (
	"testing"
)

func TestNewScheduler_Validation(t *testing.T) {
	actions := DefaultActions()
	events := make(chan Event, 1)

	tests := []struct {
		name    string
		entries []ScheduleEntry
		wantErr bool
	}{
		{"composite", []ScheduleEntry{{Spec: "0 7 * * 1-5", Trigger: "tv_mode"}}, false},
		{"descriptor", []ScheduleEntry{{Spec: "@every 1h", Trigger: "pause"}}, false},
		{"unknown trigger", []ScheduleEntry{{Spec: "@hourly", Trigger: "nope"}}, true},
		{"momentary", []ScheduleEntry{{Spec: "@hourly", Trigger: "volume_up"}}, true},
		{"cancel", []ScheduleEntry{{Spec: "@hourly", Trigger: "cancel"}}, true},
		{"bad spec", []ScheduleEntry{{Spec: "every day", Trigger: "tv_mode"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewScheduler(tt.entries, actions, events, discardLogger())
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewScheduler err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestScheduler_FirePressesTrigger(t *testing.T) {
	events := make(chan Event, 1)
	s, err := NewScheduler([]ScheduleEntry{{Spec: "@daily", Trigger: "tv_power"}}, DefaultActions(), events, discardLogger())
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}

	s.fire("tv_power")
	ev := (<-events).(InputEvent)
	if ev.Trigger != "tv_power" || ev.Edge != EdgePressed || ev.Source != "schedule" {
		t.Fatalf("fired %+v", ev)
	}

	// A full queue drops the press instead of blocking the cron goroutine.
	events <- CancelRequest{}
	s.fire("tv_power")
	if len(events) != 1 {
		t.Fatalf("expected the queue to be unchanged")
	}
}

func TestScheduler_StartStop(t *testing.T) {
	s, err := NewScheduler([]ScheduleEntry{{Spec: "@yearly", Trigger: "pause"}}, DefaultActions(), make(chan Event, 1), discardLogger())
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	s.Start()
	if n := len(s.cron.Entries()); n != 1 {
		t.Fatalf("expected 1 cron entry, got %d", n)
	}
	s.Stop()
}
