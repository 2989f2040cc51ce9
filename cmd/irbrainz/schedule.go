package main

import (
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// ScheduleEntry binds a cron spec to a composite trigger.
type ScheduleEntry struct {
	Spec    string `yaml:"spec"`
	Trigger string `yaml:"trigger"`
}

// Scheduler presses composite triggers on cron schedules. Presses go through
// the dispatcher like any other input, so a busy dispatcher drops them.
type Scheduler struct {
	cron   *cron.Cron
	events chan<- Event
	logger *slog.Logger
}

// NewScheduler validates and registers entries. Entries must name composite actions.
func NewScheduler(entries []ScheduleEntry, actions map[Trigger]Action, events chan<- Event, logger *slog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:   cron.New(),
		events: events,
		logger: logger,
	}

	for i, e := range entries {
		trigger := Trigger(e.Trigger)
		action, ok := actions[trigger]
		if !ok {
			return nil, fmt.Errorf("schedules[%d]: unknown trigger %q", i, e.Trigger)
		}
		if _, ok := action.(Composite); !ok {
			return nil, fmt.Errorf("schedules[%d]: trigger %q is not a composite action", i, e.Trigger)
		}

		id, err := s.cron.AddFunc(e.Spec, func() { s.fire(trigger) })
		if err != nil {
			return nil, fmt.Errorf("schedules[%d]: invalid spec %q: %w", i, e.Spec, err)
		}
		logger.Info("schedule registered", "id", int(id), "spec", e.Spec, "trigger", e.Trigger)
	}

	return s, nil
}

func (s *Scheduler) fire(trigger Trigger) {
	ev := InputEvent{Trigger: trigger, Edge: EdgePressed, Source: "schedule"}
	select {
	case s.events <- ev:
		s.logger.Info("scheduled press", "trigger", trigger)
	default:
		s.logger.Warn("scheduled press dropped, event queue full", "trigger", trigger)
	}
}

// Start begins the cron ticker.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Debug("cron scheduler started", "entries", len(s.cron.Entries()))
}

// Stop halts the cron ticker and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Debug("cron scheduler stopped")
}
