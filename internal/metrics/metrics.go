// Package metrics exposes Prometheus instrumentation for mining runs. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const Namespace = "hook_salt_miner"

// Metrics holds the collectors of a mining process
type Metrics struct {
	registry *prometheus.Registry

	attempts      prometheus.Counter
	oracleErrors  prometheus.Counter
	outcomes      *prometheus.CounterVec
	oracleLatency prometheus.Histogram
	mineDuration  prometheus.Histogram
}

// New creates and registers all collectors on a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "attempts_total",
			Help:      "Number of salt candidates evaluated",
		}),
		oracleErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "oracle_errors_total",
			Help:      "Number of failed address prediction calls",
		}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "mine_outcomes_total",
			Help:      "Number of finished mining runs by outcome",
		}, []string{"outcome"}),
		oracleLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "oracle_call_seconds",
			Help:      "Latency of address prediction calls",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		mineDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "mine_duration_seconds",
			Help:      "Wall-clock duration of mining runs",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
		}),
	}

	m.registry.MustRegister(
		m.attempts,
		m.oracleErrors,
		m.outcomes,
		m.oracleLatency,
		m.mineDuration,
	)
	return m
}

// Registry returns the registry holding the collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) RecordAttempt() {
	if m == nil {
		return
	}
	m.attempts.Inc()
}

func (m *Metrics) RecordOracleCall(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.oracleLatency.Observe(d.Seconds())
	if err != nil {
		m.oracleErrors.Inc()
	}
}

func (m *Metrics) RecordOutcome(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(outcome).Inc()
	m.mineDuration.Observe(d.Seconds())
}

// StartServer serves the registry on addr at /metrics until ctx is done
func StartServer(ctx context.Context, m *Metrics, addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.InstrumentMetricHandler(
		m.registry, promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}),
	))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			_ = ln.Close()
		}
	}()

	return ln.Addr(), nil
}
