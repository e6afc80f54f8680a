package order

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/printshop/internal/config"
	"github.com/Additional-Code/printshop/internal/events"
	"github.com/Additional-Code/printshop/internal/messaging"
	"github.com/Additional-Code/printshop/internal/worker"
)

var workerTracer = otel.Tracer("github.com/Additional-Code/printshop/worker/order")

// Module registers order-related worker handlers.
var Module = fx.Module("worker_order",
	fx.Provide(
		fx.Annotate(
			NewLifecycleHandler,
			fx.ResultTags(`group:"worker.handlers"`),
		),
	),
)

// NewLifecycleHandler consumes order lifecycle events. Orphaned uploads are
// surfaced at warn level so they can be cleaned up from the object store.
func NewLifecycleHandler(logger *zap.Logger, cfg config.Config) worker.HandlerRegistration {
	handler := func(ctx context.Context, msg messaging.Message) error {
		_, span := workerTracer.Start(ctx, "worker.orders.process", trace.WithAttributes(
			attribute.String("messaging.topic", msg.Topic),
			attribute.String("event.type", msg.Headers[events.HeaderType]),
		))
		defer span.End()

		event, err := events.Decode(msg)
		if err != nil {
			logger.Error("failed to decode lifecycle event", zap.Error(err))

			span.RecordError(err)
			span.SetStatus(codes.Error, "decode error")
			return err
		}
		span.SetAttributes(attribute.String("order.id", event.OrderID))

		fields := []zap.Field{
			zap.String("type", string(event.Type)),
			zap.String("order_id", event.OrderID),
			zap.Int64("version", event.Version),
		}
		switch event.Type {
		case events.OrderCreated:
			logger.Info("order created", append(fields, zap.Int("price", event.Price))...)
		case events.OrderStatusChanged:
			logger.Info("order status changed", append(fields,
				zap.String("from", event.PrevStatus),
				zap.String("to", event.Status),
			)...)
		case events.AttachmentAdded, events.AttachmentRemoved:
			logger.Info("order attachments changed", append(fields, zap.String("public_id", event.PublicID))...)
		case events.AttachmentOrphaned:
			logger.Warn("orphaned upload needs cleanup", append(fields,
				zap.String("public_id", event.PublicID),
				zap.String("url", event.URL),
				zap.String("reason", event.Reason),
			)...)
		default:
			logger.Debug("ignoring unknown lifecycle event", fields...)
		}

		return nil
	}

	return worker.HandlerRegistration{
		Name:    "order-lifecycle",
		Topic:   cfg.Messaging.Kafka.Topic,
		Handler: handler,
	}
}
