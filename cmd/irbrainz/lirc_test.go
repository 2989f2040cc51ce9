package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeLircSession records commands; cmdErr is returned for every command.
type fakeLircSession struct {
	mu       sync.Mutex
	commands []string
	cmdErr   error
	block    chan struct{} // when non-nil, commands wait on it
	closed   bool
}

func (f *fakeLircSession) SendOnce(remote, button string) error {
	return f.Command("SEND_ONCE " + remote + " " + button)
}

func (f *fakeLircSession) Command(cmd string) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, cmd)
	return f.cmdErr
}

func (f *fakeLircSession) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeLircSession) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// newTestLircChannel returns a channel whose dialer hands out sessions in order.
func newTestLircChannel(timeout time.Duration, sessions ...*fakeLircSession) (*LircChannel, *int) {
	c := NewLircChannel("/run/lirc/test", timeout, discardLogger())
	dials := 0
	c.dial = func(string) (lircSession, error) {
		if dials >= len(sessions) {
			dials++
			return nil, errors.New("connection refused")
		}
		s := sessions[dials]
		dials++
		return s, nil
	}
	return c, &dials
}

func TestLircChannel_CommandsAndLazyDial(t *testing.T) {
	sess := &fakeLircSession{}
	c, dials := newTestLircChannel(time.Second, sess)
	ctx := context.Background()

	if *dials != 0 {
		t.Fatalf("dialed before first use")
	}
	if err := c.SendOnce(ctx, remoteOnkyo, onkyoStereo); err != nil {
		t.Fatalf("SendOnce: %v", err)
	}
	if err := c.SendStart(ctx, remoteOnkyo, onkyoVolumeUp); err != nil {
		t.Fatalf("SendStart: %v", err)
	}
	if err := c.SendStop(ctx, remoteOnkyo, onkyoVolumeUp); err != nil {
		t.Fatalf("SendStop: %v", err)
	}

	want := []string{
		"SEND_ONCE onkyo STEREO",
		"SEND_START onkyo KEY_VOLUMEUP",
		"SEND_STOP onkyo KEY_VOLUMEUP",
	}
	if !equalStrings(sess.commands, want) {
		t.Fatalf("commands = %v, want %v", sess.commands, want)
	}
	if *dials != 1 {
		t.Fatalf("expected a single connection, dialed %d times", *dials)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !sess.isClosed() {
		t.Fatalf("session not closed")
	}
}

func TestLircChannel_RejectionKeepsConnection(t *testing.T) {
	sess := &fakeLircSession{cmdErr: fmt.Errorf("%w: unknown remote", errLircRejected)}
	c, dials := newTestLircChannel(time.Second, sess)

	for i := 0; i < 2; i++ {
		err := c.SendOnce(context.Background(), "nope", "BTN")
		if !errors.Is(err, errLircRejected) {
			t.Fatalf("expected rejection, got %v", err)
		}
	}
	if *dials != 1 || sess.isClosed() {
		t.Fatalf("a rejected command must not drop the connection (dials=%d closed=%v)", *dials, sess.isClosed())
	}
}

func TestLircChannel_TransportErrorReconnects(t *testing.T) {
	broken := &fakeLircSession{cmdErr: errors.New("broken pipe")}
	healthy := &fakeLircSession{}
	c, dials := newTestLircChannel(time.Second, broken, healthy)
	ctx := context.Background()

	if err := c.SendOnce(ctx, remoteRoku, "OK"); err == nil {
		t.Fatalf("expected transport error")
	}
	if !broken.isClosed() {
		t.Fatalf("broken session should be closed")
	}
	if err := c.SendOnce(ctx, remoteRoku, "OK"); err != nil {
		t.Fatalf("SendOnce after reconnect: %v", err)
	}
	if *dials != 2 {
		t.Fatalf("expected reconnect, dialed %d times", *dials)
	}
}

func TestLircChannel_TimeoutDropsSession(t *testing.T) {
	stuck := &fakeLircSession{block: make(chan struct{})}
	defer close(stuck.block)
	c, _ := newTestLircChannel(20*time.Millisecond, stuck)

	start := time.Now()
	err := c.SendOnce(context.Background(), remoteRoku, "OK")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("timeout not enforced")
	}
	if !stuck.isClosed() {
		t.Fatalf("stuck session should be dropped")
	}
}

func TestLircChannel_CallerCancelKeepsSession(t *testing.T) {
	slow := &fakeLircSession{block: make(chan struct{})}
	c, dials := newTestLircChannel(time.Second, slow)

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- c.SendOnce(ctx, remoteOnkyo, onkyoChannelSelect) }()

	// Cancel while the command is in flight, then let lircd answer.
	time.Sleep(20 * time.Millisecond)
	cancel()
	time.Sleep(20 * time.Millisecond)
	close(slow.block)

	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("in-flight command should complete, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("SendOnce did not return")
	}
	if slow.isClosed() {
		t.Fatalf("caller cancellation must not drop a healthy session")
	}

	// A cancelled context is refused up front without touching the session.
	if err := c.SendOnce(ctx, remoteOnkyo, onkyoChannelSelect); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := c.SendOnce(context.Background(), remoteOnkyo, onkyoChannelSelect); err != nil {
		t.Fatalf("follow-up SendOnce: %v", err)
	}
	if *dials != 1 {
		t.Fatalf("expected a single dial, got %d", *dials)
	}
	if n := len(slow.commands); n != 2 {
		t.Fatalf("expected 2 commands on the session, got %d", n)
	}
}

func TestLircChannel_DialFailure(t *testing.T) {
	c, _ := newTestLircChannel(time.Second)
	err := c.SendOnce(context.Background(), remoteRoku, "OK")
	if err == nil || !strings.Contains(err.Error(), "connect lircd") {
		t.Fatalf("expected connect error, got %v", err)
	}
}
