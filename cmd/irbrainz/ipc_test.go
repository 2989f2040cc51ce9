package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestUnmarshalEvent(t *testing.T) {
	ev, err := UnmarshalEvent([]byte(`{"type":"press","data":{"trigger":"tv_power"}}`))
	if err != nil {
		t.Fatalf("press: %v", err)
	}
	in := ev.(InputEvent)
	if in.Trigger != "tv_power" || in.Edge != EdgePressed || in.Source != "ipc" {
		t.Fatalf("press decoded as %+v", in)
	}

	ev, err = UnmarshalEvent([]byte(`{"type":"release","data":{"trigger":"volume_up","source":"remote-app"}}`))
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if in := ev.(InputEvent); in.Edge != EdgeReleased || in.Source != "remote-app" {
		t.Fatalf("release decoded as %+v", in)
	}

	ev, err = UnmarshalEvent([]byte(`{"type":"cancel"}`))
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if c := ev.(CancelRequest); c.Origin != "ipc" {
		t.Fatalf("cancel decoded as %+v", c)
	}

	for _, bad := range []string{
		`{"type":"press"}`,
		`{"type":"press","data":{"trigger":""}}`,
		`{"type":"explode"}`,
		`not json`,
	} {
		if _, err := UnmarshalEvent([]byte(bad)); err == nil {
			t.Errorf("expected error for %s", bad)
		}
	}
}

func TestMarshalEvent_RejectsUnknownEdge(t *testing.T) {
	if _, err := MarshalEvent(InputEvent{Trigger: "x"}); err == nil {
		t.Fatalf("expected error for an event without an edge")
	}

	b, err := MarshalEvent(InputEvent{Trigger: "pause", Edge: EdgeReleased})
	if err != nil {
		t.Fatalf("MarshalEvent: %v", err)
	}
	if !strings.Contains(string(b), `"type":"release"`) {
		t.Fatalf("release encoded as %s", b)
	}
}

func newTestIPCServer(t *testing.T, events chan Event) *IPCServer {
	t.Helper()
	snapshot := func() DispatcherSnapshot {
		return DispatcherSnapshot{Running: "tv_mode", Modes: map[string]string{modeInput: inputDJ}}
	}
	return NewIPCServer(filepath.Join(t.TempDir(), "irbrainz.sock"), events, snapshot, discardLogger())
}

func TestIPCServer_HandleLine(t *testing.T) {
	events := make(chan Event, 1)
	s := newTestIPCServer(t, events)

	resp := s.handleLine([]byte(`{"type":"press","data":{"trigger":"pause"}}`))
	if resp.Status != "ok" {
		t.Fatalf("press response %+v", resp)
	}
	if in := (<-events).(InputEvent); in.Trigger != "pause" {
		t.Fatalf("queued %+v", in)
	}

	resp = s.handleLine([]byte(`{"type":"status"}`))
	if resp.Status != "ok" {
		t.Fatalf("status response %+v", resp)
	}
	var snap DispatcherSnapshot
	if err := json.Unmarshal(resp.Data, &snap); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if snap.Running != "tv_mode" || snap.Modes[modeInput] != inputDJ {
		t.Fatalf("status data %+v", snap)
	}

	resp = s.handleLine([]byte(`{"type":"bogus"}`))
	if resp.Status != "error" || resp.Error == "" {
		t.Fatalf("expected error response, got %+v", resp)
	}
}

func TestIPCServer_QueueFullDoesNotBlock(t *testing.T) {
	events := make(chan Event) // nobody reading
	s := newTestIPCServer(t, events)

	done := make(chan IPCResponse, 1)
	go func() { done <- s.handleLine([]byte(`{"type":"cancel"}`)) }()

	select {
	case resp := <-done:
		if resp.Status != "error" || !strings.Contains(resp.Error, "queue full") {
			t.Fatalf("expected queue full error, got %+v", resp)
		}
	case <-time.After(time.Second):
		t.Fatalf("handleLine blocked on a full queue")
	}
}

func TestIPCServer_SocketRoundTrip(t *testing.T) {
	events := make(chan Event, 4)
	s := newTestIPCServer(t, events)

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- s.Run(ctx) }()

	waitUntil(t, time.Second, func() bool {
		_, err := os.Stat(s.socketPath)
		return err == nil
	}, "socket not created")

	if err := SendIPCEvent(s.socketPath, InputEvent{Trigger: "volume_up", Edge: EdgePressed}); err != nil {
		t.Fatalf("SendIPCEvent: %v", err)
	}
	select {
	case ev := <-events:
		if in := ev.(InputEvent); in.Trigger != "volume_up" || in.Edge != EdgePressed {
			t.Fatalf("received %+v", in)
		}
	case <-time.After(time.Second):
		t.Fatalf("event not delivered")
	}

	resp, err := SendIPCRequest(s.socketPath, []byte(`{"type":"status"}`))
	if err != nil {
		t.Fatalf("status request: %v", err)
	}
	if !strings.Contains(string(resp.Data), `"running":"tv_mode"`) {
		t.Fatalf("status data %s", resp.Data)
	}

	if _, err := SendIPCRequest(s.socketPath, []byte(`{"type":"nope"}`)); err == nil {
		t.Fatalf("expected error for unknown request type")
	}

	cancel()
	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("IPC server did not stop")
	}
	if _, err := os.Stat(s.socketPath); !os.IsNotExist(err) {
		t.Fatalf("socket not removed on shutdown")
	}
}
