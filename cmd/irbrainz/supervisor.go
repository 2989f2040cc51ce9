package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"time"

	evdev "github.com/gvalkov/golang-evdev"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

// ============================================================================
// Session Supervisor
// ============================================================================
// A session reads every configured input source concurrently and forwards
// classified edges to the dispatcher. The first source failure ends the
// session and closes its siblings. The supervisor then decides:
//   - source missing (unplugged, not yet enumerated) -> retry after interval
//   - device I/O error (ENODEV, EIO, ...)             -> retry after interval
//   - no cause at all, or anything else               -> FATAL
// Retries are unbounded. Cancelling ctx ends everything cleanly.
// ============================================================================

// FatalError is returned by Supervisor.Run when the failure is not recoverable.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal input session failure: %v", e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

var errEmptySession = errors.New("input session ended without a cause")

type verdict int

const (
	verdictRetry verdict = iota
	verdictFatal
)

// classifySessionError decides whether a session failure is recoverable.
func classifySessionError(err error) (verdict, string) {
	if err == nil {
		return verdictFatal, "empty failure"
	}

	var se *SourceError
	if !errors.As(err, &se) {
		return verdictFatal, "unrecognized failure"
	}

	switch {
	case errors.Is(se.Err, fs.ErrNotExist):
		return verdictRetry, "source not found"
	case isDeviceIOError(se.Err):
		return verdictRetry, "source i/o error"
	default:
		return verdictFatal, "unrecognized source failure"
	}
}

func isDeviceIOError(err error) bool {
	return errors.Is(err, unix.ENODEV) ||
		errors.Is(err, unix.EIO) ||
		errors.Is(err, unix.ENXIO) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

// SupervisorConfig wires a supervisor.
type SupervisorConfig struct {
	Sources       []string
	Open          SourceOpener
	Classifier    Classifier
	Events        chan<- Event
	RetryInterval time.Duration
	Bus           *StatusBus
	Logger        *slog.Logger
}

type Supervisor struct {
	sources       []string
	open          SourceOpener
	classifier    Classifier
	events        chan<- Event
	retryInterval time.Duration
	bus           *StatusBus
	logger        *slog.Logger

	restarts int
}

func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaultRetryIntervalMS * time.Millisecond
	}
	if cfg.Open == nil {
		cfg.Open = evdevOpener(false)
	}
	return &Supervisor{
		sources:       cfg.Sources,
		open:          cfg.Open,
		classifier:    cfg.Classifier,
		events:        cfg.Events,
		retryInterval: cfg.RetryInterval,
		bus:           cfg.Bus,
		logger:        cfg.Logger,
	}
}

// Run supervises sessions until ctx is cancelled (returns nil) or a failure
// is classified FATAL (returns *FatalError).
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		s.logger.Info("input session starting", "sources", s.sources, "restarts", s.restarts)
		s.bus.Publish(StatusSessionState, SessionStateData{State: sessionRunning, Restarts: s.restarts})

		err := s.runSession(ctx)
		if ctx.Err() != nil {
			s.logger.Info("input session stopped (context canceled)")
			return nil
		}

		v, reason := classifySessionError(err)
		if v == verdictFatal {
			if err == nil {
				err = errEmptySession
			}
			s.logger.Error("FATAL: input session failed", "reason", reason, "error", err)
			s.bus.Publish(StatusSessionState, SessionStateData{State: sessionFatal, Restarts: s.restarts, Error: err.Error()})
			return &FatalError{Err: err}
		}

		s.restarts++
		s.logger.Warn("input source unavailable; restarting session",
			"reason", reason, "error", err, "retry_in", s.retryInterval, "restarts", s.restarts)
		s.bus.Publish(StatusSessionState, SessionStateData{State: sessionRetrying, Restarts: s.restarts, Error: err.Error()})

		if err := sleepCtx(ctx, s.retryInterval); err != nil {
			s.logger.Info("input session stopped (context canceled)")
			return nil
		}
	}
}

// runSession reads all sources until one fails.
func (s *Supervisor) runSession(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, path := range s.sources {
		g.Go(func() error {
			return s.readSource(gctx, path)
		})
	}
	return g.Wait()
}

func (s *Supervisor) readSource(ctx context.Context, path string) error {
	src, err := s.open(path)
	if err != nil {
		return &SourceError{Path: path, Op: "open", Err: err}
	}
	defer src.Close()

	// Closing the source is the only way to unblock a pending read.
	stop := context.AfterFunc(ctx, func() { _ = src.Close() })
	defer stop()

	s.logger.Info("input source opened", "path", path, "name", describeDevice(src))

	for {
		raw, err := src.ReadOne()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &SourceError{Path: path, Op: "read", Err: err}
		}

		ev, ok := s.classifier.Classify(path, raw)
		if !ok {
			if raw.Type == evdev.EV_KEY && raw.Value == evValuePress {
				s.logger.Debug("unmapped key", "path", path, "key", keyName(raw.Code), "code", raw.Code)
			}
			continue
		}

		s.logger.Debug("input", "path", path, "trigger", ev.Trigger, "edge", ev.Edge.String())

		select {
		case s.events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
