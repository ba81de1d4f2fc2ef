package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EphemerisCollector exposes metrics for the serialized ephemeris gateway.
type EphemerisCollector struct {
	gatherer prometheus.Gatherer

	Calls         *prometheus.CounterVec
	LockWait      prometheus.Histogram
	LockHold      *prometheus.HistogramVec
	KernelsLoaded prometheus.Gauge
}

// NewEphemerisCollector registers gateway metrics against the provided
// registerer.
func NewEphemerisCollector(reg prometheus.Registerer) (*EphemerisCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := gathererFor(reg)

	calls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ephemeris_calls_total",
		Help: "Ephemeris library calls, labeled by operation and outcome (ok, unavailable, canceled).",
	}, []string{"op", "outcome"})
	calls, err := registerCounterVec(reg, calls, "ephemeris_calls_total")
	if err != nil {
		return nil, err
	}

	wait := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ephemeris_lock_wait_seconds",
		Help:    "Time spent waiting for the process-wide ephemeris lock.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})
	wait, err = registerHistogram(reg, wait, "ephemeris_lock_wait_seconds")
	if err != nil {
		return nil, err
	}

	hold := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ephemeris_lock_hold_seconds",
		Help:    "Time the ephemeris lock was held, labeled by operation.",
		Buckets: []float64{0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 1, 5},
	}, []string{"op"})
	hold, err = registerHistogramVec(reg, hold, "ephemeris_lock_hold_seconds")
	if err != nil {
		return nil, err
	}

	loaded, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ephemeris_kernels_loaded",
		Help: "Number of kernel files furnished into the ephemeris library.",
	}), "ephemeris_kernels_loaded")
	if err != nil {
		return nil, err
	}

	return &EphemerisCollector{
		gatherer:      gatherer,
		Calls:         calls,
		LockWait:      wait,
		LockHold:      hold,
		KernelsLoaded: loaded,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *EphemerisCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveCall records one gateway call.
func (c *EphemerisCollector) ObserveCall(op, outcome string, wait, hold time.Duration) {
	if c == nil {
		return
	}
	if c.Calls != nil {
		c.Calls.WithLabelValues(op, outcome).Inc()
	}
	if c.LockWait != nil {
		c.LockWait.Observe(wait.Seconds())
	}
	if c.LockHold != nil {
		c.LockHold.WithLabelValues(op).Observe(hold.Seconds())
	}
}

// SetKernelsLoaded updates the loaded-kernel gauge.
func (c *EphemerisCollector) SetKernelsLoaded(n int) {
	if c == nil || c.KernelsLoaded == nil {
		return
	}
	c.KernelsLoaded.Set(float64(n))
}
