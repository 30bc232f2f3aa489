package middleware

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	errspkg "github.com/drblury/relay/internal/runtime/errors"
	"github.com/drblury/relay/internal/runtime/pipeline"
)

// Outcome label values.
const (
	OutcomeSuccess   = "success"
	OutcomeError     = "error"
	OutcomeCancelled = "cancelled"
)

var metricLabels = []string{"payload_type", "transport", "role", "outcome"}

// Collectors holds the Prometheus collectors shared by every Metrics
// middleware of a process.
type Collectors struct {
	dispatches *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewCollectors creates unregistered collectors under namespace.
func NewCollectors(namespace string) *Collectors {
	return &Collectors{
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "total",
			Help:      "Number of completed dispatches",
		}, metricLabels),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Dispatch duration including every inner middleware and the transport",
			Buckets:   prometheus.DefBuckets,
		}, metricLabels),
	}
}

// Register registers the collectors with reg. Collectors registered earlier
// under the same names are adopted instead.
func (c *Collectors) Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	if err := reg.Register(c.dispatches); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return err
		}
		c.dispatches = are.ExistingCollector.(*prometheus.CounterVec)
	}
	if err := reg.Register(c.duration); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return err
		}
		c.duration = are.ExistingCollector.(*prometheus.HistogramVec)
	}
	return nil
}

// Dispatches exposes the dispatch counter.
func (c *Collectors) Dispatches() *prometheus.CounterVec { return c.dispatches }

// Duration exposes the dispatch duration histogram.
func (c *Collectors) Duration() *prometheus.HistogramVec { return c.duration }

// Metrics counts and times dispatches by payload type, transport, role and
// outcome.
type Metrics[P, R any] struct {
	Collectors *Collectors
}

// NewMetrics returns a metrics middleware recording into c.
func NewMetrics[P, R any](c *Collectors) *Metrics[P, R] {
	return &Metrics[P, R]{Collectors: c}
}

func (m *Metrics[P, R]) Execute(ctx context.Context, mc *pipeline.Context[P, R]) (R, error) {
	if m.Collectors == nil {
		return mc.Next(ctx, mc.Payload)
	}

	started := time.Now()
	resp, err := mc.Next(ctx, mc.Payload)

	outcome := OutcomeSuccess
	switch {
	case err == nil:
	case errspkg.IsCancellation(err):
		outcome = OutcomeCancelled
	default:
		outcome = OutcomeError
	}

	labels := []string{payloadTypeName[P](), mc.TransportType.Name, mc.TransportType.Role.String(), outcome}
	m.Collectors.dispatches.WithLabelValues(labels...).Inc()
	m.Collectors.duration.WithLabelValues(labels...).Observe(time.Since(started).Seconds())
	return resp, err
}
