package auth

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsSink is an ActivitySink that counts events in Prometheus.
type MetricsSink struct {
	events *prometheus.CounterVec
}

// NewMetricsSink registers the activity counter with reg. A nil reg uses
// prometheus.DefaultRegisterer. Registering twice on the same registry reuses
// the existing collector.
func NewMetricsSink(reg prometheus.Registerer) (*MetricsSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradeauth",
		Name:      "activity_events_total",
		Help:      "Auth activity events by type and identity source.",
	}, []string{"event", "source"})

	if err := reg.Register(events); err != nil {
		are := prometheus.AlreadyRegisteredError{}
		if !errors.As(err, &are) {
			return nil, err
		}
		existing, ok := are.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil, err
		}
		events = existing
	}

	return &MetricsSink{events: events}, nil
}

// Record implements ActivitySink.
func (m *MetricsSink) Record(_ context.Context, event ActivityEvent) error {
	source := event.Source
	if source == "" {
		source = "none"
	}
	m.events.WithLabelValues(string(event.EventType), source).Inc()
	return nil
}

// Collector exposes the underlying counter, mostly for tests.
func (m *MetricsSink) Collector() *prometheus.CounterVec {
	return m.events
}
