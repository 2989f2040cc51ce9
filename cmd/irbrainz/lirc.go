package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chbmuc/lirc"
)

// errLircRejected marks a command lircd answered with ERROR. The connection
// itself is still healthy.
var errLircRejected = errors.New("rejected by lircd")

// lircSession is one connection to lircd.
type lircSession interface {
	SendOnce(remote, button string) error
	Command(cmd string) error
	Close()
}

// lircRouter adapts *lirc.Router to lircSession.
type lircRouter struct {
	r *lirc.Router
}

func dialLirc(path string) (lircSession, error) {
	r, err := lirc.Init(path)
	if err != nil {
		return nil, err
	}
	// Drain received IR events; nothing here consumes them.
	go r.Run()
	return &lircRouter{r: r}, nil
}

func (l *lircRouter) SendOnce(remote, button string) error {
	return l.Command("SEND_ONCE " + remote + " " + button)
}

func (l *lircRouter) Command(cmd string) error {
	reply := l.r.Command(cmd)
	if reply.Success == 0 {
		return fmt.Errorf("%w: %q: %s", errLircRejected, cmd, strings.Join(reply.Data, " "))
	}
	return nil
}

func (l *lircRouter) Close() {
	l.r.Close()
}

// LircChannel sends IR commands through the lircd socket.
//
// The connection is opened lazily and dropped after any failure, so the next
// command reconnects. Commands are serialized; each one is bounded by the
// configured timeout.
type LircChannel struct {
	mu      sync.Mutex
	path    string
	timeout time.Duration
	sess    lircSession
	dial    func(path string) (lircSession, error)
	logger  *slog.Logger
}

// NewLircChannel creates a channel for the lircd socket at path.
func NewLircChannel(path string, timeout time.Duration, logger *slog.Logger) *LircChannel {
	if timeout <= 0 {
		timeout = defaultLircTimeoutMS * time.Millisecond
	}
	return &LircChannel{
		path:    path,
		timeout: timeout,
		dial:    dialLirc,
		logger:  logger,
	}
}

func (c *LircChannel) SendOnce(ctx context.Context, remote, button string) error {
	return c.do(ctx, "SEND_ONCE", func(s lircSession) error {
		return s.SendOnce(remote, button)
	})
}

func (c *LircChannel) SendStart(ctx context.Context, remote, button string) error {
	return c.do(ctx, "SEND_START", func(s lircSession) error {
		return s.Command("SEND_START " + remote + " " + button)
	})
}

func (c *LircChannel) SendStop(ctx context.Context, remote, button string) error {
	return c.do(ctx, "SEND_STOP", func(s lircSession) error {
		return s.Command("SEND_STOP " + remote + " " + button)
	})
}

// Close drops the lircd connection.
func (c *LircChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != nil {
		c.sess.Close()
		c.sess = nil
	}
	return nil
}

func (c *LircChannel) do(ctx context.Context, op string, fn func(lircSession) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess == nil {
		sess, err := c.dial(c.path)
		if err != nil {
			return fmt.Errorf("%s: connect lircd %s: %w", op, c.path, err)
		}
		c.logger.Info("connected to lircd", "socket", c.path)
		c.sess = sess
	}

	// Once written, a command runs to its reply or to the per-command
	// timeout; cancelling the caller must not desync a healthy session.
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	// The lirc client has no deadline support; a reply that never arrives
	// would block forever, so wait for it on the side.
	sess := c.sess
	result := make(chan error, 1)
	go func() { result <- fn(sess) }()

	select {
	case err := <-result:
		if err != nil {
			if !errors.Is(err, errLircRejected) {
				c.drop()
			}
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	case <-tctx.Done():
		c.drop()
		return fmt.Errorf("%s: %w", op, tctx.Err())
	}
}

// drop closes the current session. Caller holds c.mu.
func (c *LircChannel) drop() {
	if c.sess == nil {
		return
	}
	c.sess.Close()
	c.sess = nil
	c.logger.Warn("lircd connection dropped", "socket", c.path)
}
