// Package metrics exposes import counters over a Prometheus endpoint.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the import counters. Register once per process.
type Metrics struct {
	registry *prometheus.Registry

	RowsProcessed  *prometheus.CounterVec
	FilesProcessed *prometheus.CounterVec
	SchemasCreated prometheus.Counter
	RunDuration    prometheus.Histogram
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RowsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "schemaflow",
			Name:      "rows_processed_total",
			Help:      "Rows processed, partitioned by schema and outcome.",
		}, []string{"schema", "outcome"}),
		FilesProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "schemaflow",
			Name:      "files_processed_total",
			Help:      "Files processed, partitioned by result.",
		}, []string{"result"}),
		SchemasCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "schemaflow",
			Name:      "schemas_created_total",
			Help:      "Schemas synthesized from unmatched files.",
		}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "schemaflow",
			Name:      "run_duration_seconds",
			Help:      "Wall time of a single file import.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}
}

// ObserveRow records one row outcome for a schema.
func (m *Metrics) ObserveRow(schemaName, outcome string) {
	m.RowsProcessed.WithLabelValues(schemaName, outcome).Inc()
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve runs the metrics endpoint until the context is cancelled.
func (m *Metrics) Serve(ctx context.Context, port int, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics endpoint listening", slog.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
