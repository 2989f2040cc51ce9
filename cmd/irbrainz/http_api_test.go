package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestHTTPHandler(t *testing.T, events chan Event) http.Handler {
	t.Helper()
	snapshot := func() DispatcherSnapshot { return DispatcherSnapshot{Modes: DefaultModes()} }
	status := NewStatusServer(discardLogger(), snapshot, HubConfig{})
	return NewHTTPHandler(status, NewControlAPI(events, DefaultActions(), discardLogger()), discardLogger())
}

func TestControlAPI_PressAndRelease(t *testing.T) {
	events := make(chan Event, 4)
	h := newTestHTTPHandler(t, events)

	for _, tc := range []struct {
		path string
		edge Edge
	}{
		{"/api/v1/triggers/volume_up/press", EdgePressed},
		{"/api/v1/triggers/volume_up/release", EdgeReleased},
	} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, tc.path, nil))
		if rec.Code != http.StatusAccepted {
			t.Fatalf("POST %s = %d: %s", tc.path, rec.Code, rec.Body.String())
		}
		ev := (<-events).(InputEvent)
		if ev.Trigger != "volume_up" || ev.Edge != tc.edge || ev.Source != "http" {
			t.Fatalf("POST %s queued %+v", tc.path, ev)
		}
	}
}

func TestControlAPI_UnknownTrigger(t *testing.T) {
	events := make(chan Event, 1)
	h := newTestHTTPHandler(t, events)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/triggers/nope/press", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var body map[string]errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"].Code != "unknown_trigger" {
		t.Fatalf("error body = %+v", body)
	}
	if len(events) != 0 {
		t.Fatalf("unknown trigger must not be queued")
	}
}

func TestControlAPI_CancelAndQueueFull(t *testing.T) {
	events := make(chan Event, 1)
	h := newTestHTTPHandler(t, events)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/cancel", nil))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("cancel status = %d", rec.Code)
	}
	if req, ok := (<-events).(CancelRequest); !ok || req.Origin != "http" {
		t.Fatalf("expected a CancelRequest from http, got %+v", req)
	}

	// Fill the queue; the next request is refused rather than blocking.
	events <- CancelRequest{}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/triggers/tv_power/press", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("full queue status = %d, want 503", rec.Code)
	}
}

func TestControlAPI_ListTriggers(t *testing.T) {
	h := newTestHTTPHandler(t, make(chan Event, 1))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/triggers", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body struct {
		Triggers []triggerInfo `json:"triggers"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Triggers) != len(DefaultActions()) {
		t.Fatalf("got %d triggers, want %d", len(body.Triggers), len(DefaultActions()))
	}
	kinds := map[Trigger]string{}
	for i, ti := range body.Triggers {
		if i > 0 && body.Triggers[i-1].Trigger >= ti.Trigger {
			t.Fatalf("triggers not sorted at %d", i)
		}
		kinds[ti.Trigger] = ti.Kind
	}
	if kinds["volume_up"] != "momentary" || kinds["tv_mode"] != "composite" {
		t.Fatalf("unexpected kinds %v", kinds)
	}
}

func TestHTTPHandler_ReadOnlyWithoutControl(t *testing.T) {
	snapshot := func() DispatcherSnapshot { return DispatcherSnapshot{} }
	h := NewHTTPHandler(NewStatusServer(discardLogger(), snapshot, HubConfig{}), nil, discardLogger())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/cancel", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("control route status = %d, want 404", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/status", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /status = %d, want 405", rec.Code)
	}
}

func TestRecoveryMiddleware_AnswersPanics(t *testing.T) {
	h := recoveryMiddleware(discardLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}
