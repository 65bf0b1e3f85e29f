package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxpipe/voxpipe/internal/health"
	"github.com/voxpipe/voxpipe/internal/observe"
)

// NewAdminMux builds the operational HTTP surface: Prometheus metrics under
// /metrics plus the health endpoints from [health.Handler]. Request metrics
// are recorded via [observe.Middleware] when m is non-nil.
func NewAdminMux(m *observe.Metrics, checkers ...health.Checker) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(checkers...).Register(mux)

	if m == nil {
		return mux
	}
	return observe.Middleware(m)(mux)
}

// ServeAdmin runs an HTTP server for handler on addr until ctx is cancelled,
// then shuts it down gracefully.
func ServeAdmin(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
