package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"harvest/internal/logging"
	"harvest/internal/metrics"
)

const metricsShutdownTimeout = 5 * time.Second

func (d *Daemon) serveMetrics() error {
	if d.registry == nil || !d.cfg.Metrics.Enabled {
		return nil
	}
	listener, err := net.Listen("tcp", d.cfg.Metrics.Bind)
	if err != nil {
		return fmt.Errorf("listen on metrics bind %s: %w", d.cfg.Metrics.Bind, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.HTTPHandler(d.registry))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	d.registerAPI(mux)
	d.server = &http.Server{
		Addr:              listener.Addr().String(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.WarnWithContext(d.logger, "metrics server stopped", "metrics_server_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "metrics endpoint unavailable"),
			)
		}
	}()
	d.logger.Info("metrics endpoint listening", logging.String("bind", d.server.Addr))
	return nil
}

func (d *Daemon) shutdownMetrics() {
	if d.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
	defer cancel()
	if err := d.server.Shutdown(ctx); err != nil {
		d.logger.Warn("metrics server shutdown failed", logging.Error(err))
	}
}
