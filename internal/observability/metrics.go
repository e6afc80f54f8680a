package observability

import (
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/Additional-Code/printshop"

// Metrics holds the domain instruments recorded by services.
type Metrics struct {
	OrdersCreated       metric.Int64Counter
	StatusTransitions   metric.Int64Counter
	AttachmentsOrphaned metric.Int64Counter
	LiveQueryUpstreams  metric.Int64UpDownCounter
	LiveQueryListeners  metric.Int64UpDownCounter
}

// NewMetrics registers the instruments on the manager's meter provider.
func NewMetrics(mgr *Manager) (*Metrics, error) {
	return newMetrics(mgr.Meter(meterName))
}

// NoopMetrics returns instruments that record nothing.
func NoopMetrics() *Metrics {
	m, _ := newMetrics(noop.NewMeterProvider().Meter(meterName))
	return m
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)
	if m.OrdersCreated, err = meter.Int64Counter("printshop.orders.created",
		metric.WithDescription("Orders accepted at intake")); err != nil {
		return nil, err
	}
	if m.StatusTransitions, err = meter.Int64Counter("printshop.orders.status_transitions",
		metric.WithDescription("Persisted order status changes")); err != nil {
		return nil, err
	}
	if m.AttachmentsOrphaned, err = meter.Int64Counter("printshop.attachments.orphaned",
		metric.WithDescription("Uploaded objects whose registration failed")); err != nil {
		return nil, err
	}
	if m.LiveQueryUpstreams, err = meter.Int64UpDownCounter("printshop.livequery.upstreams",
		metric.WithDescription("Open upstream store subscriptions")); err != nil {
		return nil, err
	}
	if m.LiveQueryListeners, err = meter.Int64UpDownCounter("printshop.livequery.listeners",
		metric.WithDescription("Open live query listeners")); err != nil {
		return nil, err
	}
	return &m, nil
}
