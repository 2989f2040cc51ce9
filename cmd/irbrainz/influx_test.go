package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

func TestHistoryPoint(t *testing.T) {
	at := time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		ev   StatusEvent
		want []string // substrings of the line protocol
	}{
		{
			"action finished",
			StatusEvent{Type: StatusActionFinished, At: at, Data: ActionFinishedData{ID: "r1", Name: "tv_mode", Outcome: outcomeCancelled, ElapsedMS: 1200}},
			[]string{"irbrainz_action,", "action=tv_mode", "outcome=cancelled", "elapsed_ms=1200i", `run_id="r1"`},
		},
		{
			"mode changed",
			StatusEvent{Type: StatusModeChanged, At: at, Data: ModeChangedData{Mode: modeInput, Value: inputDJ}},
			[]string{"irbrainz_mode,", "mode=" + modeInput, `value="` + inputDJ + `"`},
		},
		{
			"session retrying",
			StatusEvent{Type: StatusSessionState, At: at, Data: SessionStateData{State: sessionRetrying, Restarts: 3, Error: "no such device"}},
			[]string{"irbrainz_session,", "state=retrying", "restarts=3i", `error="no such device"`},
		},
		{
			"dropped press",
			StatusEvent{Type: StatusEventDropped, At: at, Data: EventDroppedData{Trigger: "tv_power", Running: "tv_mode"}},
			[]string{"irbrainz_dropped,", "trigger=tv_power", `running="tv_mode"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := historyPoint(tt.ev)
			if p == nil {
				t.Fatalf("expected a point")
			}
			line := write.PointToLineProtocol(p, time.Nanosecond)
			for _, w := range tt.want {
				if !strings.Contains(line, w) {
					t.Errorf("line %q missing %q", line, w)
				}
			}
		})
	}

	if p := historyPoint(StatusEvent{Type: StatusHoldStarted, Data: HoldData{Trigger: "volume_up"}}); p != nil {
		t.Fatalf("hold events are not recorded")
	}
}

// fakeInflux answers /ping and collects line protocol posted to /api/v2/write.
type fakeInflux struct {
	mu    sync.Mutex
	lines []string
}

func (f *fakeInflux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/ping":
		w.WriteHeader(http.StatusNoContent)
	case "/api/v2/write":
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.lines = append(f.lines, string(body))
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeInflux) contains(s string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.lines {
		if strings.Contains(l, s) {
			return true
		}
	}
	return false
}

func TestHistoryRecorder_WritesFinishedActions(t *testing.T) {
	fake := &fakeInflux{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h, err := ConnectHistory(ctx, InfluxConfig{URL: srv.URL, Org: "home", Bucket: "irbrainz", BatchSize: 1, FlushIntervalMS: 50}, "token", discardLogger())
	if err != nil {
		t.Fatalf("ConnectHistory: %v", err)
	}

	src := make(chan StatusEvent, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Run(ctx, src)
	}()

	src <- StatusEvent{Type: StatusActionFinished, At: time.Now(), Data: ActionFinishedData{ID: "r1", Name: "kitchen_speakers_on", Outcome: outcomeCompleted}}
	waitUntil(t, 3*time.Second, func() bool { return fake.contains("kitchen_speakers_on") }, "point not written")

	cancel()
	<-done
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestConnectHistory_PingFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	if _, err := ConnectHistory(context.Background(), InfluxConfig{URL: srv.URL, Org: "o", Bucket: "b"}, "t", discardLogger()); err == nil {
		t.Fatalf("expected an error from an unhealthy server")
	}
}
