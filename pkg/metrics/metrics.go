// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package metrics provides Prometheus instrumentation for mllproxy.
package metrics

import (
	"context"
	"time"

	"github.com/absmach/mllproxy/pkg/breaker"
	gwerrors "github.com/absmach/mllproxy/pkg/errors"
	"github.com/absmach/mllproxy/pkg/forwarder"
	"github.com/absmach/mllproxy/pkg/handler"
	"github.com/absmach/mllproxy/pkg/pool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const defaultNamespace = "mllproxy"

var sizeBuckets = []float64{100, 1000, 10000, 100000, 1000000, 10000000}

// StatsSource reports connection pool activity.
type StatsSource interface {
	Stats() pool.Stats
}

// Metrics holds all Prometheus metrics for mllproxy.
type Metrics struct {
	// Connection metrics
	ActiveConnections  *prometheus.GaugeVec
	TotalConnections   *prometheus.CounterVec
	ConnectionDuration *prometheus.HistogramVec

	// Message metrics
	MessagesTotal *prometheus.CounterVec
	RequestSize   *prometheus.HistogramVec
	ResponseSize  *prometheus.HistogramVec

	// Peer metrics
	ForwardDuration *prometheus.HistogramVec
	ForwardErrors   *prometheus.CounterVec

	// Circuit breaker metrics
	CircuitBreakerState *prometheus.GaugeVec
	CircuitBreakerTrips *prometheus.CounterVec

	// Rate limiter metrics
	RateLimitedRequests *prometheus.CounterVec

	// Auth metrics
	AuthFailures *prometheus.CounterVec

	namespace string
	reg       prometheus.Registerer
}

// New creates the gateway metrics and registers them with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = defaultNamespace
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		ActiveConnections: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_connections",
				Help:      "Number of currently open client connections or requests",
			},
			[]string{"protocol"},
		),
		TotalConnections: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connections_total",
				Help:      "Total number of client connections or requests",
			},
			[]string{"protocol", "status"},
		),
		ConnectionDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "connection_duration_seconds",
				Help:      "Client connection duration in seconds",
				Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300, 600},
			},
			[]string{"protocol"},
		),
		MessagesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_total",
				Help:      "Total number of messages relayed",
			},
			[]string{"protocol", "status"},
		),
		RequestSize: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_size_bytes",
				Help:      "Forwarded message size in bytes",
				Buckets:   sizeBuckets,
			},
			[]string{"protocol"},
		),
		ResponseSize: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "response_size_bytes",
				Help:      "Peer reply size in bytes",
				Buckets:   sizeBuckets,
			},
			[]string{"protocol"},
		),
		ForwardDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "forward_duration_seconds",
				Help:      "Time to obtain a reply from the peer in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"bridge"},
		),
		ForwardErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "forward_errors_total",
				Help:      "Total number of failed exchanges with the peer",
			},
			[]string{"bridge", "error_type"},
		),
		CircuitBreakerState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=half_open, 2=open)",
			},
			[]string{"peer"},
		),
		CircuitBreakerTrips: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_trips_total",
				Help:      "Total number of circuit breaker trips",
			},
			[]string{"peer"},
		),
		RateLimitedRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limited_requests_total",
				Help:      "Total number of rate limited requests",
			},
			[]string{"protocol", "limiter_type"},
		),
		AuthFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_failures_total",
				Help:      "Total number of rejected connections and messages",
			},
			[]string{"protocol", "stage"},
		),
		namespace: namespace,
		reg:       reg,
	}
}

// Forwarder wraps next so that every exchange is timed and failures are
// counted by error class.
func (m *Metrics) Forwarder(bridge string, next forwarder.Forwarder) forwarder.Forwarder {
	return forwarder.Func(func(ctx context.Context, hctx *handler.Context, msg []byte) ([]byte, error) {
		var reply []byte
		err := m.ObserveForward(bridge, func() error {
			var err error
			reply, err = next.Forward(ctx, hctx, msg)
			return err
		})
		return reply, err
	})
}

// ObserveForward tracks a single exchange with the peer.
func (m *Metrics) ObserveForward(bridge string, f func() error) error {
	start := time.Now()

	err := f()
	m.ForwardDuration.WithLabelValues(bridge).Observe(time.Since(start).Seconds())
	if err != nil {
		m.ForwardErrors.WithLabelValues(bridge, gwerrors.Classify(err)).Inc()
	}

	return err
}

// RegisterPool exports the activity of the MLLP connection pool of a
// bridge. It fails if the bridge was already registered.
func (m *Metrics) RegisterPool(bridge, peer string, src StatsSource) error {
	labels := prometheus.Labels{"bridge": bridge, "peer": peer}
	collectors := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   m.namespace,
			Subsystem:   "pool",
			Name:        "idle_connections",
			Help:        "Number of pooled idle MLLP connections",
			ConstLabels: labels,
		}, func() float64 { return float64(src.Stats().Idle) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   m.namespace,
			Subsystem:   "pool",
			Name:        "dials_total",
			Help:        "Total number of MLLP connections opened",
			ConstLabels: labels,
		}, func() float64 { return float64(src.Stats().Dials) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   m.namespace,
			Subsystem:   "pool",
			Name:        "reuses_total",
			Help:        "Total number of acquisitions served from the idle stack",
			ConstLabels: labels,
		}, func() float64 { return float64(src.Stats().Reuses) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   m.namespace,
			Subsystem:   "pool",
			Name:        "evicted_total",
			Help:        "Total number of connections closed after their keep-alive elapsed",
			ConstLabels: labels,
		}, func() float64 { return float64(src.Stats().Evicted) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   m.namespace,
			Subsystem:   "pool",
			Name:        "recycled_total",
			Help:        "Total number of connections closed after reaching the message limit",
			ConstLabels: labels,
		}, func() float64 { return float64(src.Stats().Recycled) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   m.namespace,
			Subsystem:   "pool",
			Name:        "failures_total",
			Help:        "Total number of failed MLLP exchanges",
			ConstLabels: labels,
		}, func() float64 { return float64(src.Stats().Failures) }),
	}

	for _, c := range collectors {
		if err := m.reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// WatchBreaker mirrors the state of cb in the circuit breaker metrics.
func (m *Metrics) WatchBreaker(peer string, cb *breaker.CircuitBreaker) {
	m.CircuitBreakerState.WithLabelValues(peer).Set(float64(cb.State()))
	cb.OnStateChange(func(from, to breaker.State) {
		m.CircuitBreakerState.WithLabelValues(peer).Set(float64(to))
		if to == breaker.StateOpen {
			m.CircuitBreakerTrips.WithLabelValues(peer).Inc()
		}
	})
}
