package workload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/jamesainslie/scanshare/pkg/scanshare/metrics"
)

const shutdownTimeout = 2 * time.Second

// Handler serves /metrics and a JSON scheduler snapshot at /status.
func (r *Runner) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(r.sched.Status()); err != nil {
			r.logger.Warn("failed to encode status", "error", err)
		}
	})
	return mux
}

// serve starts the status server on addr for the duration of a run. The
// returned function shuts it down. An empty addr serves nothing.
func (r *Runner) serve(addr string) (func(), error) {
	if addr == "" {
		return func() {}, nil
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	srv := &http.Server{
		Handler:           r.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		r.logger.Info("metrics server started", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("metrics server failed", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			r.logger.Warn("metrics server shutdown", "error", err)
		}
	}, nil
}
