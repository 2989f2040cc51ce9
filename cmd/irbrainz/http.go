package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// runHTTPServer serves handler on port and shuts it down gracefully when ctx
// is canceled.
func runHTTPServer(ctx context.Context, port int, handler http.Handler, logger *slog.Logger) error {
	listenAddr := fmt.Sprintf(":%d", port)
	logger.Info("status server listening", "port", port)

	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		// ListenAndServe returns http.ErrServerClosed on Shutdown; treat that as clean exit.
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown: %w", err)
		}
		<-errCh
		return nil

	case err := <-errCh:
		return err
	}
}
