// Package metrics exposes run-level instrumentation for validation runs.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Run holds the metrics for one validation run.
type Run struct {
	BlocksProduced prometheus.Counter
	BlocksInjected prometheus.Counter
	ValuesChecked  prometheus.Counter
	CaptureBytes   prometheus.Counter
	QueueDepth     prometheus.Gauge
	BackpressureNs prometheus.Counter
}

// NewRun registers the run metrics on reg.
func NewRun(reg prometheus.Registerer) *Run {
	f := promauto.With(reg)
	return &Run{
		BlocksProduced: f.NewCounter(prometheus.CounterOpts{
			Name: "pandatest_blocks_produced_total",
			Help: "Table blocks generated by the producer.",
		}),
		BlocksInjected: f.NewCounter(prometheus.CounterOpts{
			Name: "pandatest_blocks_injected_total",
			Help: "Table blocks uploaded over the control channel.",
		}),
		ValuesChecked: f.NewCounter(prometheus.CounterOpts{
			Name: "pandatest_values_checked_total",
			Help: "Captured values verified against expectations.",
		}),
		CaptureBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "pandatest_capture_bytes_total",
			Help: "Raw bytes read from the capture channel.",
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "pandatest_device_queued_lines",
			Help: "Device-reported table lines buffered for consumption.",
		}),
		BackpressureNs: f.NewCounter(prometheus.CounterOpts{
			Name: "pandatest_backpressure_wait_nanoseconds_total",
			Help: "Time the injector spent waiting for the device queue to drain.",
		}),
	}
}

// Serve exposes reg on addr under /metrics until ctx is cancelled.
func Serve(ctx context.Context, addr string, reg *prometheus.Registry, log zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("serving metrics")
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
