package main

import (
	"context"
	"log/slog"
	"time"
)

// Sequencer executes composite step lists against a Channel.
//
// Every transmitted command is followed by stepDelay so the receiving device
// can settle. A Hold always ends with a stop, including when the context is
// cancelled while the button is asserted.
type Sequencer struct {
	channel   Channel
	stepDelay time.Duration
	logger    *slog.Logger
}

// NewSequencer creates a sequencer. A non-positive stepDelay uses the default.
func NewSequencer(ch Channel, stepDelay time.Duration, logger *slog.Logger) *Sequencer {
	if stepDelay <= 0 {
		stepDelay = defaultStepDelayMS * time.Millisecond
	}
	return &Sequencer{
		channel:   ch,
		stepDelay: stepDelay,
		logger:    logger,
	}
}

// StepDelay returns the settling delay after each transmitted command.
func (s *Sequencer) StepDelay() time.Duration { return s.stepDelay }

// Run executes steps in order. It returns ctx.Err() if cancelled; send
// failures are logged and do not stop the sequence.
func (s *Sequencer) Run(ctx context.Context, steps []Step) error {
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.logger.Debug("sequence step", "index", i, "step", step.String())

		var err error
		switch st := step.(type) {
		case Pulse:
			err = s.pulse(ctx, st)
		case Hold:
			err = s.hold(ctx, st)
		case Delay:
			err = sleepCtx(ctx, st.Duration)
		default:
			s.logger.Warn("skipping unknown step", "index", i, "step", step.String())
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Sequencer) pulse(ctx context.Context, p Pulse) error {
	for n := 0; n < p.repeat(); n++ {
		sendLogged(ctx, s.channel, s.logger, sendOnce, p.Remote, p.Button)
		if err := sleepCtx(ctx, s.stepDelay); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sequencer) hold(ctx context.Context, h Hold) error {
	sendLogged(ctx, s.channel, s.logger, sendStart, h.Remote, h.Button)

	// The stop must reach the device even when the sequence is being abandoned.
	stopCtx := context.WithoutCancel(ctx)

	if err := sleepCtx(ctx, h.Duration); err != nil {
		sendLogged(stopCtx, s.channel, s.logger, sendStop, h.Remote, h.Button)
		return err
	}

	sendLogged(stopCtx, s.channel, s.logger, sendStop, h.Remote, h.Button)
	return sleepCtx(ctx, s.stepDelay)
}

// sleepCtx waits for d or until ctx is done, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
