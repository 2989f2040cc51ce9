package main

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Dispatcher
// ============================================================================
//
// The dispatcher turns trigger edges into device commands:
//   - Momentary actions assert a button between press and release (HoldState)
//   - Composite actions run on their own goroutine; at most one at a time
//     (RunningAction). Presses arriving while one is in flight are dropped.
//   - Cancel aborts the running composite.
//
// Ownership:
//   - HoldState and the RunningAction slot belong to the goroutine calling
//     Handle (normally Run). They are never touched from anywhere else.
//   - A composite's goroutine only closes its done channel; the slot is freed
//     lazily by the next admission check once done is closed.
//   - Other goroutines read state through Snapshot.
//
// ============================================================================

// RunningAction is the single in-flight composite.
type RunningAction struct {
	ID        string
	Name      string
	Trigger   Trigger
	StartedAt time.Time

	cancel context.CancelFunc
	done   chan struct{}
	err    error // valid once done is closed
}

// Completed reports whether the action's goroutine has exited.
func (r *RunningAction) Completed() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Done is closed when the action's goroutine has exited.
func (r *RunningAction) Done() <-chan struct{} { return r.done }

// heldButton is the active momentary hold.
type heldButton struct {
	trigger Trigger
	action  Momentary
}

// DispatcherSnapshot is a point-in-time copy of dispatcher state.
type DispatcherSnapshot struct {
	Running     string            `json:"running,omitempty"`
	RunningID   string            `json:"running_id,omitempty"`
	RunningFrom time.Time         `json:"running_since,omitempty"`
	Holding     *HoldData         `json:"holding,omitempty"`
	Modes       map[string]string `json:"modes"`
}

// DispatcherConfig wires a dispatcher.
type DispatcherConfig struct {
	Actions   map[Trigger]Action
	Channel   Channel
	Sequencer *Sequencer
	Modes     *DeviceModes
	Bus       *StatusBus
	Logger    *slog.Logger
}

type Dispatcher struct {
	actions map[Trigger]Action
	channel Channel
	seq     *Sequencer
	modes   *DeviceModes
	bus     *StatusBus
	logger  *slog.Logger

	// base is the parent context for composite actions.
	base context.Context
	wg   sync.WaitGroup

	// Loop-owned state.
	running *RunningAction
	holding *heldButton

	viewMu sync.Mutex
	view   DispatcherSnapshot
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Modes == nil {
		cfg.Modes = NewDeviceModes(nil, nil, cfg.Bus, cfg.Logger)
	}
	return &Dispatcher{
		actions: cfg.Actions,
		channel: cfg.Channel,
		seq:     cfg.Sequencer,
		modes:   cfg.Modes,
		bus:     cfg.Bus,
		logger:  cfg.Logger,
		base:    context.Background(),
	}
}

// Run consumes events until ctx is cancelled or events is closed. On exit it
// cancels the running composite, releases an active hold and waits for the
// composite goroutine to finish.
func (d *Dispatcher) Run(ctx context.Context, events <-chan Event) {
	d.base = ctx
	defer d.shutdown()

	d.logger.Info("dispatcher started", "triggers", len(d.actions))

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopping (context canceled)")
			return

		case ev, ok := <-events:
			if !ok {
				d.logger.Info("dispatcher stopping (events channel closed)")
				return
			}
			switch ev := ev.(type) {
			case InputEvent:
				d.Handle(ev)
			case CancelRequest:
				d.logger.Debug("cancel requested", "origin", ev.Origin)
				d.Cancel()
			default:
				d.logger.Warn("dispatcher ignoring unknown event", "type", ev)
			}
		}
	}
}

// Handle processes one trigger edge. It never blocks on device I/O longer
// than a single start/stop command.
func (d *Dispatcher) Handle(ev InputEvent) {
	action, ok := d.actions[ev.Trigger]
	if !ok {
		d.logger.Debug("unmapped trigger", "trigger", ev.Trigger, "edge", ev.Edge.String())
		return
	}

	switch ev.Edge {
	case EdgePressed:
		d.press(ev, action)
	case EdgeReleased:
		d.release(ev, action)
	}
}

func (d *Dispatcher) press(ev InputEvent, action Action) {
	if _, ok := action.(Cancel); ok {
		d.Cancel()
		return
	}

	if d.busy() {
		d.logger.Info("dropping press, action in flight", "trigger", ev.Trigger, "running", d.running.Name)
		d.bus.Publish(StatusEventDropped, EventDroppedData{Trigger: string(ev.Trigger), Running: d.running.Name})
		return
	}

	switch a := action.(type) {
	case Momentary:
		if d.holding != nil {
			d.logger.Debug("press absorbed, already holding", "trigger", ev.Trigger, "holding", d.holding.trigger)
			return
		}
		// Mark the hold before sending so a failed start can still be stopped.
		d.holding = &heldButton{trigger: ev.Trigger, action: a}
		d.publishView()
		d.bus.Publish(StatusHoldStarted, HoldData{Trigger: string(ev.Trigger), Remote: a.Remote, Button: a.Button})
		sendLogged(d.base, d.channel, d.logger, sendStart, a.Remote, a.Button)

	case Composite:
		d.start(ev, a)
	}
}

func (d *Dispatcher) release(ev InputEvent, action Action) {
	a, ok := action.(Momentary)
	if !ok {
		return
	}
	if d.holding == nil || d.holding.action != a {
		d.logger.Debug("release ignored, not holding", "trigger", ev.Trigger)
		return
	}

	sendLogged(context.WithoutCancel(d.base), d.channel, d.logger, sendStop, a.Remote, a.Button)
	d.bus.Publish(StatusHoldStopped, HoldData{Trigger: string(d.holding.trigger), Remote: a.Remote, Button: a.Button})
	d.holding = nil
	d.publishView()
}

// busy reports whether a composite is still in flight, freeing the slot of a
// finished one.
func (d *Dispatcher) busy() bool {
	if d.running == nil {
		return false
	}
	if d.running.Completed() {
		d.running = nil
		d.publishView()
		return false
	}
	return true
}

func (d *Dispatcher) start(ev InputEvent, c Composite) {
	steps, sets := c.Resolve(d.modes)

	ctx, cancel := context.WithCancel(d.base)
	ra := &RunningAction{
		ID:        uuid.NewString(),
		Name:      c.Name,
		Trigger:   ev.Trigger,
		StartedAt: time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	d.running = ra
	d.publishView()

	minDur := MinDuration(steps, d.seq.StepDelay())
	d.logger.Info("action started", "action", c.Name, "id", ra.ID, "trigger", ev.Trigger, "source", ev.Source, "steps", len(steps), "min_duration", minDur)
	d.logger.Debug("action steps", "action", c.Name, "steps", describeSteps(steps))
	d.bus.Publish(StatusActionStarted, ActionStartedData{
		ID:            ra.ID,
		Name:          c.Name,
		Trigger:       string(ev.Trigger),
		Source:        ev.Source,
		Steps:         len(steps),
		MinDurationMS: minDur.Milliseconds(),
	})

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer close(ra.done)
		defer cancel()

		ra.err = d.seq.Run(ctx, steps)
		elapsed := time.Since(ra.StartedAt)

		outcome := outcomeCompleted
		if ra.err != nil {
			outcome = outcomeCancelled
		}

		if ra.err == nil {
			d.modes.Apply(context.WithoutCancel(ctx), sets)
			d.logger.Info("action completed", "action", ra.Name, "elapsed", elapsed)
		} else if errors.Is(ra.err, context.Canceled) {
			d.logger.Info("action cancelled", "action", ra.Name, "elapsed", elapsed)
		} else {
			d.logger.Warn("action aborted", "action", ra.Name, "elapsed", elapsed, "error", ra.err)
		}

		d.bus.Publish(StatusActionFinished, ActionFinishedData{
			ID:        ra.ID,
			Name:      ra.Name,
			Outcome:   outcome,
			ElapsedMS: elapsed.Milliseconds(),
		})
		d.clearRunningView(ra)
	}()
}

// Cancel requests cancellation of the running composite. It returns false
// when nothing is in flight. The slot stays occupied until the composite's
// goroutine has exited.
func (d *Dispatcher) Cancel() bool {
	if !d.busy() {
		d.logger.Debug("cancel ignored, nothing running")
		return false
	}
	d.logger.Info("cancelling action", "action", d.running.Name)
	d.running.cancel()
	return true
}

// Running returns the in-flight composite, or nil.
func (d *Dispatcher) Running() *RunningAction {
	if !d.busy() {
		return nil
	}
	return d.running
}

// Wait blocks until every composite goroutine has exited.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) shutdown() {
	if d.running != nil && !d.running.Completed() {
		d.logger.Info("cancelling action for shutdown", "action", d.running.Name)
		d.running.cancel()
	}
	if d.holding != nil {
		a := d.holding.action
		sendLogged(context.WithoutCancel(d.base), d.channel, d.logger, sendStop, a.Remote, a.Button)
		d.bus.Publish(StatusHoldStopped, HoldData{Trigger: string(d.holding.trigger), Remote: a.Remote, Button: a.Button})
		d.holding = nil
	}
	d.wg.Wait()
	d.running = nil
	d.publishView()
}

// Snapshot returns the current dispatcher state. Safe for concurrent use.
func (d *Dispatcher) Snapshot() DispatcherSnapshot {
	d.viewMu.Lock()
	snap := d.view
	if snap.Holding != nil {
		h := *snap.Holding
		snap.Holding = &h
	}
	d.viewMu.Unlock()

	if d.modes != nil {
		snap.Modes = d.modes.Snapshot()
	}
	return snap
}

// publishView copies loop-owned state into the shared view.
func (d *Dispatcher) publishView() {
	var v DispatcherSnapshot
	if d.running != nil && !d.running.Completed() {
		v.Running = d.running.Name
		v.RunningID = d.running.ID
		v.RunningFrom = d.running.StartedAt
	}
	if d.holding != nil {
		v.Holding = &HoldData{
			Trigger: string(d.holding.trigger),
			Remote:  d.holding.action.Remote,
			Button:  d.holding.action.Button,
		}
	}

	d.viewMu.Lock()
	d.view.Running = v.Running
	d.view.RunningID = v.RunningID
	d.view.RunningFrom = v.RunningFrom
	d.view.Holding = v.Holding
	d.viewMu.Unlock()
}

// clearRunningView is called from a composite goroutine when it finishes.
func (d *Dispatcher) clearRunningView(ra *RunningAction) {
	d.viewMu.Lock()
	if d.view.RunningID == ra.ID {
		d.view.Running = ""
		d.view.RunningID = ""
		d.view.RunningFrom = time.Time{}
	}
	d.viewMu.Unlock()
}
