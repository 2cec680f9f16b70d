package handler

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "upload"

// Metrics holds the service collectors exposed at GET /metrics.
type Metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	bytes      prometheus.Counter
	sessions   *prometheus.CounterVec
	swept      prometheus.Counter
	sweepFails prometheus.Counter

	reg prometheus.Registerer
}

// NewMetrics registers the service collectors on reg. Collectors that are
// already registered under the same name are reused, so building a second
// handler against the same registry is safe.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{reg: reg}
	var err error
	if m.operations, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "operations_total",
		Help:      "Lifecycle operations by name and outcome.",
	}, []string{"operation", "outcome"})); err != nil {
		return nil, err
	}
	if m.duration, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "operation_duration_seconds",
		Help:      "Latency of lifecycle operations.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})); err != nil {
		return nil, err
	}
	if m.bytes, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stored_bytes_total",
		Help:      "Bytes of original files handed to storage.",
	})); err != nil {
		return nil, err
	}
	if m.sessions, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "chunked_sessions_total",
		Help:      "Chunked upload sessions by event.",
	}, []string{"event"})); err != nil {
		return nil, err
	}
	if m.swept, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_dirs_swept_total",
		Help:      "Stale cache directories removed by the cleanup sweep.",
	})); err != nil {
		return nil, err
	}
	if m.sweepFails, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_sweep_failures_total",
		Help:      "Cleanup passes that returned an error.",
	})); err != nil {
		return nil, err
	}
	return m, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(T); ok {
			return existing, nil
		}
	}
	return c, fmt.Errorf("register metric: %w", err)
}

// observe records one finished operation.
func (m *Metrics) observe(op string, start time.Time, err error) {
	m.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) addBytes(n int64) {
	if n > 0 {
		m.bytes.Add(float64(n))
	}
}

func (m *Metrics) session(event string) { m.sessions.WithLabelValues(event).Inc() }

// ObserveSweep matches the onSweep callback of cleanup.RunPeriodic.
func (m *Metrics) ObserveSweep(removed int, err error) {
	if removed > 0 {
		m.swept.Add(float64(removed))
	}
	if err != nil {
		m.sweepFails.Inc()
	}
}

// TrackActive exports the limiter's in-flight count as a gauge.
func (m *Metrics) TrackActive(active func() int) error {
	_, err := register(m.reg, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_uploads",
		Help:      "Upload requests currently holding a limiter slot.",
	}, func() float64 { return float64(active()) }))
	return err
}
