package observability

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// NavCollector bundles Prometheus metrics for the navigation RPC surface and
// the simulation registry, and wires them into gRPC servers and HTTP
// handlers.
type NavCollector struct {
	gatherer prometheus.Gatherer

	RPCRequests  *prometheus.CounterVec
	RPCDurations *prometheus.HistogramVec

	FleetSize     prometheus.Gauge
	BurnsTotal    *prometheus.CounterVec
	AuthFailures  *prometheus.CounterVec
	DeltaVApplied prometheus.Counter
}

// NewNavCollector registers navigation metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewNavCollector(reg prometheus.Registerer) (*NavCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := gathererFor(reg)

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nav_requests_total",
		Help: "Total number of handled navigation RPCs, labeled by service, method, and gRPC status code.",
	}, []string{"service", "method", "code"})
	requests, err := registerCounterVec(reg, requests, "nav_requests_total")
	if err != nil {
		return nil, err
	}

	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nav_request_duration_seconds",
		Help:    "Navigation RPC latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"service", "method"})
	durations, err = registerHistogramVec(reg, durations, "nav_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	fleet, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_spacecraft",
		Help: "Current number of spacecraft in the simulation registry.",
	}), "sim_spacecraft")
	if err != nil {
		return nil, err
	}

	burns, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_burns_total",
		Help: "Burn commands handled, labeled by outcome (applied, rejected).",
	}, []string{"outcome"}), "sim_burns_total")
	if err != nil {
		return nil, err
	}

	authFailures, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nav_auth_failures_total",
		Help: "Rejected requests, labeled by reason (unauthenticated, forbidden).",
	}, []string{"reason"}), "nav_auth_failures_total")
	if err != nil {
		return nil, err
	}

	deltaV, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_delta_v_applied_km_per_second_total",
		Help: "Sum of applied burn magnitudes in km/s.",
	}), "sim_delta_v_applied_km_per_second_total")
	if err != nil {
		return nil, err
	}

	return &NavCollector{
		gatherer:      gatherer,
		RPCRequests:   requests,
		RPCDurations:  durations,
		FleetSize:     fleet,
		BurnsTotal:    burns,
		AuthFailures:  authFailures,
		DeltaVApplied: deltaV,
	}, nil
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *NavCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		if c == nil {
			return resp, err
		}

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		code := status.Code(err).String()

		if c.RPCRequests != nil {
			c.RPCRequests.WithLabelValues(service, method, code).Inc()
		}
		if c.RPCDurations != nil {
			c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
		}

		return resp, err
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *NavCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetFleetSize satisfies the registry's metrics recorder.
func (c *NavCollector) SetFleetSize(n int) {
	if c == nil || c.FleetSize == nil {
		return
	}
	c.FleetSize.Set(float64(n))
}

// ObserveBurn counts a burn command. magnitude is ignored for rejected
// burns.
func (c *NavCollector) ObserveBurn(applied bool, magnitude float64) {
	if c == nil {
		return
	}
	outcome := "rejected"
	if applied {
		outcome = "applied"
		if c.DeltaVApplied != nil && magnitude > 0 {
			c.DeltaVApplied.Add(magnitude)
		}
	}
	if c.BurnsTotal != nil {
		c.BurnsTotal.WithLabelValues(outcome).Inc()
	}
}

// ObserveAuthFailure counts a rejected request.
func (c *NavCollector) ObserveAuthFailure(reason string) {
	if c == nil || c.AuthFailures == nil {
		return
	}
	c.AuthFailures.WithLabelValues(reason).Inc()
}

// SplitMethod parses a fully-qualified gRPC method name into service and method
// components. It tolerates empty strings and partial paths, returning
// "unknown"/"unknown" when parsing fails.
func SplitMethod(fullMethod string) (string, string) {
	if fullMethod == "" {
		return "unknown", "unknown"
	}
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

func gathererFor(reg prometheus.Registerer) prometheus.Gatherer {
	if g, ok := reg.(prometheus.Gatherer); ok {
		return g
	}
	return prometheus.DefaultGatherer
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}
