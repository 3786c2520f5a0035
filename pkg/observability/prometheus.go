package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const (
	// MetricsPath is where ServeMetrics mounts the scrape handler.
	MetricsPath = "/metrics"

	readHeaderTimeout = 5 * time.Second
	serverStopTimeout = 5 * time.Second
)

// NewPrometheusReader returns a metric reader backed by a private Prometheus
// registry and the handler that serves that registry. The reader must be
// attached to a MeterProvider before anything is collected.
func NewPrometheusReader() (sdkmetric.Reader, http.Handler, error) {
	registry := prometheus.NewRegistry()

	exporter, err := promexporter.New(promexporter.WithRegisterer(registry))
	if err != nil {
		return nil, nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	return exporter, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}

// ServeMetrics serves handler on addr at MetricsPath until ctx is done.
func ServeMetrics(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle(MetricsPath, handler)

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- srv.Serve(listener)
	}()

	logger.InfoContext(ctx, "serving metrics", "addr", listener.Addr().String(), "path", MetricsPath)

	select {
	case serveErr := <-errCh:
		return fmt.Errorf("serve metrics: %w", serveErr)
	case <-ctx.Done():
	}

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), serverStopTimeout)
	defer cancel()

	err = srv.Shutdown(stopCtx)
	if err != nil {
		return fmt.Errorf("stop metrics server: %w", err)
	}

	serveErr := <-errCh
	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return fmt.Errorf("serve metrics: %w", serveErr)
	}

	return nil
}
