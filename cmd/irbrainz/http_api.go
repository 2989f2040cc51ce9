package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
)

// ============================================================================
// HTTP Control API
// ============================================================================
// The status port also accepts trigger edges. Requests are queued onto the
// dispatcher channel exactly like IPC requests; a full queue answers 503.
//
//   GET  /status                            dispatcher snapshot
//   GET  /ws                                status websocket
//   GET  /api/v1/triggers                   bound triggers and their kind
//   POST /api/v1/triggers/{trigger}/press
//   POST /api/v1/triggers/{trigger}/release
//   POST /api/v1/cancel
// ============================================================================

// ControlAPI turns HTTP requests into dispatcher events.
type ControlAPI struct {
	events  chan<- Event
	actions map[Trigger]Action
	logger  *slog.Logger
}

func NewControlAPI(events chan<- Event, actions map[Trigger]Action, logger *slog.Logger) *ControlAPI {
	return &ControlAPI{events: events, actions: actions, logger: logger}
}

// NewHTTPHandler builds the handler for the status port. api may be nil, in
// which case only the read-only endpoints are served.
func NewHTTPHandler(status *StatusServer, api *ControlAPI, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(recoveryMiddleware(logger))
	r.Use(loggingMiddleware(logger))

	status.Register(r)

	if api != nil {
		r.Route("/api/v1", func(r chi.Router) {
			r.Get("/triggers", api.handleListTriggers)
			r.Post("/triggers/{trigger}/press", api.handleEdge(EdgePressed))
			r.Post("/triggers/{trigger}/release", api.handleEdge(EdgeReleased))
			r.Post("/cancel", api.handleCancel)
		})
	}
	return r
}

// triggerInfo is one row of GET /api/v1/triggers.
type triggerInfo struct {
	Trigger Trigger `json:"trigger"`
	Kind    string  `json:"kind"`
	Name    string  `json:"name,omitempty"`
}

func (a *ControlAPI) handleListTriggers(w http.ResponseWriter, r *http.Request) {
	out := make([]triggerInfo, 0, len(a.actions))
	for trigger, action := range a.actions {
		info := triggerInfo{Trigger: trigger}
		switch act := action.(type) {
		case Momentary:
			info.Kind = "momentary"
			info.Name = act.Remote + "/" + act.Button
		case Composite:
			info.Kind = "composite"
			info.Name = act.Name
		case Cancel:
			info.Kind = "cancel"
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Trigger < out[j].Trigger })
	writeJSON(w, http.StatusOK, map[string]any{"triggers": out})
}

func (a *ControlAPI) handleEdge(edge Edge) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		trigger := Trigger(chi.URLParam(r, "trigger"))
		if _, ok := a.actions[trigger]; !ok {
			writeError(w, http.StatusNotFound, "unknown_trigger", fmt.Sprintf("no action bound to %q", trigger))
			return
		}
		a.enqueue(w, InputEvent{Trigger: trigger, Edge: edge, Source: "http"})
	}
}

func (a *ControlAPI) handleCancel(w http.ResponseWriter, r *http.Request) {
	a.enqueue(w, CancelRequest{Origin: "http"})
}

func (a *ControlAPI) enqueue(w http.ResponseWriter, ev Event) {
	select {
	case a.events <- ev:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "ok"})
	default:
		a.logger.Warn("http event dropped: queue full")
		writeError(w, http.StatusServiceUnavailable, "queue_full", "event queue full")
	}
}

// ============================================================================
// Helpers
// ============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]errorResponse{"error": {Code: code, Message: message}})
}

// statusWriter captures the response status for request logging.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}

// Hijack passes the websocket upgrade through to the underlying connection.
func (sw *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := sw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	sw.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

func recoveryMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
						panic(rec)
					}
					logger.Error("http handler panic", "path", r.URL.Path, "panic", rec)
					writeError(w, http.StatusInternalServerError, "internal", "internal error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
