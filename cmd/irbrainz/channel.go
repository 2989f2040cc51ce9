package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"
)

// ============================================================================
// Command Channel
// ============================================================================
// A Channel transmits commands for a (remote, button) pair:
//   - SendOnce:  a single press
//   - SendStart: assert the button until SendStop
//   - SendStop:  release an asserted button
//
// Callers never abort on a send error: failures are logged and the sequence
// continues with the next command.
// ============================================================================

var (
	// ErrUnknownRemote is returned when no backend serves the remote.
	ErrUnknownRemote = errors.New("unknown remote")

	// ErrUnsupported is returned when a backend cannot perform the operation.
	ErrUnsupported = errors.New("operation not supported")

	// ErrNotConnected is returned when a backend has no usable connection.
	ErrNotConnected = errors.New("not connected")
)

// Channel is the outbound command transport.
type Channel interface {
	SendOnce(ctx context.Context, remote, button string) error
	SendStart(ctx context.Context, remote, button string) error
	SendStop(ctx context.Context, remote, button string) error
}

// sendKind names a Channel operation in logs and status events.
type sendKind string

const (
	sendOnce  sendKind = "send_once"
	sendStart sendKind = "send_start"
	sendStop  sendKind = "send_stop"
)

// sendLogged performs one channel operation and logs a failure instead of returning it.
func sendLogged(ctx context.Context, ch Channel, logger *slog.Logger, kind sendKind, remote, button string) {
	var err error
	switch kind {
	case sendOnce:
		err = ch.SendOnce(ctx, remote, button)
	case sendStart:
		err = ch.SendStart(ctx, remote, button)
	case sendStop:
		err = ch.SendStop(ctx, remote, button)
	default:
		err = fmt.Errorf("unknown send kind %q", kind)
	}
	if err != nil {
		if ctx.Err() != nil {
			logger.Debug("command send abandoned", "op", string(kind), "remote", remote, "button", button, "error", err)
			return
		}
		logger.Error("command send failed", "op", string(kind), "remote", remote, "button", button, "error", err)
		return
	}
	logger.Debug("command sent", "op", string(kind), "remote", remote, "button", button)
}

// ============================================================================
// Router
// ============================================================================

// Router dispatches commands to a backend by remote id.
type Router struct {
	backends map[string]Channel
	fallback Channel
}

// NewRouter creates a router. fallback serves remotes without an explicit
// route; it may be nil.
func NewRouter(fallback Channel) *Router {
	return &Router{
		backends: make(map[string]Channel),
		fallback: fallback,
	}
}

// Route binds remote to backend. Must be called before the router is used.
func (r *Router) Route(remote string, backend Channel) {
	r.backends[remote] = backend
}

func (r *Router) backend(remote string) (Channel, error) {
	if b, ok := r.backends[remote]; ok {
		return b, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownRemote, remote)
}

func (r *Router) SendOnce(ctx context.Context, remote, button string) error {
	b, err := r.backend(remote)
	if err != nil {
		return err
	}
	return b.SendOnce(ctx, remote, button)
}

func (r *Router) SendStart(ctx context.Context, remote, button string) error {
	b, err := r.backend(remote)
	if err != nil {
		return err
	}
	return b.SendStart(ctx, remote, button)
}

func (r *Router) SendStop(ctx context.Context, remote, button string) error {
	b, err := r.backend(remote)
	if err != nil {
		return err
	}
	return b.SendStop(ctx, remote, button)
}

// ============================================================================
// Pacing
// ============================================================================

// pacedChannel limits the rate of SendOnce. Start and stop pass through
// unthrottled so a hold is never released late.
type pacedChannel struct {
	Channel
	limiter *rate.Limiter
}

// NewPacedChannel wraps ch with a token bucket. A non-positive rate disables pacing.
func NewPacedChannel(ch Channel, perSecond float64, burst int) Channel {
	if perSecond <= 0 {
		return ch
	}
	if burst < 1 {
		burst = 1
	}
	return &pacedChannel{
		Channel: ch,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

func (p *pacedChannel) SendOnce(ctx context.Context, remote, button string) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("pace send: %w", err)
	}
	return p.Channel.SendOnce(ctx, remote, button)
}
