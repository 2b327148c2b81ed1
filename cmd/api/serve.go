package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

type httpServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// stopper is a background component that outlives in-flight requests, such
// as the River client.
type stopper interface {
	Stop(ctx context.Context) error
}

// serve runs srv until ctx is done, then drains srv and stops workers within
// timeout. It returns after workers.Stop has returned, so callers may close
// shared resources such as the database pool.
func serve(ctx context.Context, srv httpServer, workers stopper, timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP shutdown failed", "error", err)
		}
		if err := workers.Stop(shutdownCtx); err != nil {
			slog.Error("River client stop failed", "error", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-done
	return nil
}
