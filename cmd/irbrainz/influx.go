package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// ============================================================================
// Action History (InfluxDB)
// ============================================================================
// Finished actions, mode changes, input session transitions and dropped
// presses are written as points through the non-blocking write API. The
// client batches; write failures are logged from the async error channel.
// ============================================================================

// InfluxConfig configures the optional action history recorder.
type InfluxConfig struct {
	Enabled         bool   `yaml:"enabled"`
	URL             string `yaml:"url"`
	TokenFile       string `yaml:"token_file"`
	Org             string `yaml:"org"`
	Bucket          string `yaml:"bucket"`
	BatchSize       int    `yaml:"batch_size"`
	FlushIntervalMS int    `yaml:"flush_interval_ms"`
}

const influxConnectTimeout = 10 * time.Second

// Measurement names.
const (
	measurementAction  = "irbrainz_action"
	measurementMode    = "irbrainz_mode"
	measurementSession = "irbrainz_session"
	measurementDropped = "irbrainz_dropped"
)

// HistoryRecorder writes status events to InfluxDB.
type HistoryRecorder struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	logger   *slog.Logger
}

// ConnectHistory creates the client, verifies the server with a ping and
// opens the write API.
func ConnectHistory(ctx context.Context, cfg InfluxConfig, token string, logger *slog.Logger) (*HistoryRecorder, error) {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 100
	}
	flush := cfg.FlushIntervalMS
	if flush <= 0 {
		flush = 5000
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batch)).
			SetFlushInterval(uint(flush)),
	)

	pingCtx, cancel := context.WithTimeout(ctx, influxConnectTimeout)
	defer cancel()

	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("influx ping %s: %w", cfg.URL, err)
	}
	if !healthy {
		client.Close()
		return nil, errors.New("influx server not healthy")
	}

	h := &HistoryRecorder{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		logger:   logger,
	}
	go h.logWriteErrors(h.writeAPI.Errors())

	logger.Info("action history enabled", "url", cfg.URL, "bucket", cfg.Bucket)
	return h, nil
}

func (h *HistoryRecorder) logWriteErrors(errs <-chan error) {
	for err := range errs {
		h.logger.Warn("influx write failed", "error", err)
	}
}

// Run records events from src until ctx is canceled.
func (h *HistoryRecorder) Run(ctx context.Context, src <-chan StatusEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-src:
			if p := historyPoint(ev); p != nil {
				h.writeAPI.WritePoint(p)
			}
		}
	}
}

// Close flushes pending points and closes the client.
func (h *HistoryRecorder) Close() error {
	h.writeAPI.Flush()
	h.client.Close()
	return nil
}

// historyPoint maps a status event to a point. Events without history value
// map to nil.
func historyPoint(ev StatusEvent) *write.Point {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	switch data := ev.Data.(type) {
	case ActionFinishedData:
		return write.NewPoint(measurementAction,
			map[string]string{"action": data.Name, "outcome": data.Outcome},
			map[string]any{"run_id": data.ID, "elapsed_ms": data.ElapsedMS},
			at)

	case ModeChangedData:
		return write.NewPoint(measurementMode,
			map[string]string{"mode": data.Mode},
			map[string]any{"value": data.Value},
			at)

	case SessionStateData:
		fields := map[string]any{"restarts": data.Restarts}
		if data.Error != "" {
			fields["error"] = data.Error
		}
		return write.NewPoint(measurementSession,
			map[string]string{"state": data.State},
			fields,
			at)

	case EventDroppedData:
		return write.NewPoint(measurementDropped,
			map[string]string{"trigger": data.Trigger},
			map[string]any{"running": data.Running},
			at)
	}
	return nil
}
