// Package workflow guards order status changes.
//
// The only permitted transitions are pending to completed and pending to
// cancelled. Requesting the status an order already has succeeds without a
// write.
package workflow

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/printshop/internal/entity"
	"github.com/Additional-Code/printshop/internal/events"
	"github.com/Additional-Code/printshop/internal/observability"
	orderstore "github.com/Additional-Code/printshop/internal/store/order"
	"github.com/Additional-Code/printshop/pkg/errorbank"
)

var workflowTracer = otel.Tracer("github.com/Additional-Code/printshop/service/workflow")

// Module provides the workflow service.
var Module = fx.Provide(NewService)

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Store   *orderstore.Store
	Events  *events.Publisher
	Metrics *observability.Metrics
	Logger  *zap.Logger
}

// Service applies status transitions.
type Service struct {
	store   *orderstore.Store
	events  *events.Publisher
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewService wires a new Service instance.
func NewService(p Params) *Service {
	return &Service{
		store:   p.Store,
		events:  p.Events,
		metrics: p.Metrics,
		logger:  p.Logger,
	}
}

// Transition moves the order to next. The guard runs against the committed
// order inside the store update, so two operators racing on one order cannot
// both leave pending.
func (s *Service) Transition(ctx context.Context, orderID string, next entity.Status) (*entity.Order, error) {
	ctx, span := workflowTracer.Start(ctx, "Workflow.Transition", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.String("order.status.next", string(next)),
	))
	defer span.End()

	if !next.Valid() {
		span.SetStatus(codes.Error, "unknown status")
		return nil, errorbank.Validation(fmt.Sprintf("unknown status %q", next), errorbank.WithField("status"))
	}

	var (
		prev    entity.Status
		changed bool
	)
	updated, err := s.store.Mutate(ctx, orderID, func(o *entity.Order) (bool, error) {
		prev = o.Status
		if o.Status == next {
			return false, nil
		}
		if !o.Status.CanTransitionTo(next) {
			return false, errorbank.InvalidTransition(
				fmt.Sprintf("cannot move order from %s to %s", o.Status, next),
				errorbank.WithDetail("from", o.Status.String()),
				errorbank.WithDetail("to", next.String()),
			)
		}
		o.Status = next
		changed = true
		return true, nil
	})
	if err != nil {
		span.SetStatus(codes.Error, "transition failed")
		return nil, err
	}
	if !changed {
		return updated, nil
	}

	s.metrics.StatusTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", prev.String()),
		attribute.String("to", next.String()),
	))
	s.logger.Info("order status changed",
		zap.String("order_id", orderID),
		zap.String("from", prev.String()),
		zap.String("to", next.String()),
	)
	s.events.Publish(ctx, events.Event{
		Type:       events.OrderStatusChanged,
		OrderID:    orderID,
		Version:    updated.Version,
		Status:     next.String(),
		PrevStatus: prev.String(),
	})

	return updated, nil
}
