// Package attachment manages the PDF references held by an order.
//
// Removing a reference never deletes the stored object, and totalPages and
// price keep the values computed at creation.
package attachment

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/printshop/internal/entity"
	"github.com/Additional-Code/printshop/internal/events"
	"github.com/Additional-Code/printshop/internal/objectstore"
	"github.com/Additional-Code/printshop/internal/observability"
	orderstore "github.com/Additional-Code/printshop/internal/store/order"
	"github.com/Additional-Code/printshop/internal/validation"
	"github.com/Additional-Code/printshop/pkg/errorbank"
)

var managerTracer = otel.Tracer("github.com/Additional-Code/printshop/service/attachment")

// Module provides the attachment Manager.
var Module = fx.Provide(NewManager)

// Params defines dependencies for constructing Manager.
type Params struct {
	fx.In

	Store    *orderstore.Store
	Uploader objectstore.Uploader
	Events   *events.Publisher
	Metrics  *observability.Metrics
	Logger   *zap.Logger
}

// Manager adds and removes order attachments.
type Manager struct {
	store    *orderstore.Store
	uploader objectstore.Uploader
	events   *events.Publisher
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewManager wires a new Manager instance.
func NewManager(p Params) *Manager {
	return &Manager{
		store:    p.Store,
		uploader: p.Uploader,
		events:   p.Events,
		metrics:  p.Metrics,
		logger:   p.Logger,
	}
}

// OrphanError reports an object that was uploaded but could not be attached.
// It unwraps to the registration failure.
type OrphanError struct {
	OrderID string
	Object  objectstore.Stored
	Err     error
}

func (e *OrphanError) Error() string {
	return fmt.Sprintf("uploaded %s but could not attach it to order %s: %v", e.Object.PublicID, e.OrderID, e.Err)
}

func (e *OrphanError) Unwrap() error { return e.Err }

// Add appends att to the order. Adding a publicId the order already holds is
// a no-op; adding to an order that is full fails with LimitExceeded.
func (m *Manager) Add(ctx context.Context, orderID string, att entity.Attachment) (*entity.Order, error) {
	ctx, span := managerTracer.Start(ctx, "Attachment.Add", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.String("attachment.public_id", att.PublicID),
	))
	defer span.End()

	if att.Pages <= 0 {
		att.Pages = 1
	}
	if err := validation.Struct(att); err != nil {
		span.SetStatus(codes.Error, "validation failed")
		return nil, err
	}

	var added bool
	updated, err := m.store.Mutate(ctx, orderID, func(o *entity.Order) (bool, error) {
		if o.HasAttachment(att.PublicID) {
			return false, nil
		}
		if len(o.PDFFiles) >= entity.MaxAttachments {
			return false, limitExceeded(orderID)
		}
		o.PDFFiles = append(o.PDFFiles, att)
		added = true
		return true, nil
	})
	if err != nil {
		span.SetStatus(codes.Error, "add failed")
		return nil, err
	}
	if !added {
		return updated, nil
	}

	m.events.Publish(ctx, events.Event{
		Type:     events.AttachmentAdded,
		OrderID:  orderID,
		Version:  updated.Version,
		PublicID: att.PublicID,
		URL:      att.URL,
	})
	return updated, nil
}

// Remove drops the reference to publicID and returns the remaining files.
// The stored object is left in place.
func (m *Manager) Remove(ctx context.Context, orderID, publicID string) ([]entity.Attachment, error) {
	ctx, span := managerTracer.Start(ctx, "Attachment.Remove", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.String("attachment.public_id", publicID),
	))
	defer span.End()

	updated, err := m.store.Mutate(ctx, orderID, func(o *entity.Order) (bool, error) {
		idx := o.AttachmentIndex(publicID)
		if idx < 0 {
			return false, errorbank.NotFound(
				fmt.Sprintf("order %s has no attachment %s", orderID, publicID),
				errorbank.WithDetail("publicId", publicID),
			)
		}
		files := make([]entity.Attachment, 0, len(o.PDFFiles)-1)
		files = append(files, o.PDFFiles[:idx]...)
		o.PDFFiles = append(files, o.PDFFiles[idx+1:]...)
		return true, nil
	})
	if err != nil {
		span.SetStatus(codes.Error, "remove failed")
		return nil, err
	}

	m.events.Publish(ctx, events.Event{
		Type:     events.AttachmentRemoved,
		OrderID:  orderID,
		Version:  updated.Version,
		PublicID: publicID,
	})
	return updated.PDFFiles, nil
}

// Upload stores file and attaches it to the order with the given page count.
// If the object is stored but cannot be attached, the returned error is an
// *OrphanError and the orphan is logged and published for cleanup.
func (m *Manager) Upload(ctx context.Context, orderID string, file objectstore.File, pages int) (*entity.Order, error) {
	ctx, span := managerTracer.Start(ctx, "Attachment.Upload", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	order, err := m.store.Current(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if len(order.PDFFiles) >= entity.MaxAttachments {
		return nil, limitExceeded(orderID)
	}

	stored, err := m.uploader.Upload(ctx, file)
	if err != nil {
		span.SetStatus(codes.Error, "upload failed")
		return nil, err
	}

	updated, err := m.Add(ctx, orderID, entity.Attachment{
		Name:     file.Name,
		URL:      stored.URL,
		PublicID: stored.PublicID,
		Pages:    pages,
	})
	if err != nil {
		span.SetStatus(codes.Error, "orphaned upload")
		m.reportOrphan(ctx, orderID, stored, err)
		return nil, &OrphanError{OrderID: orderID, Object: stored, Err: err}
	}
	return updated, nil
}

func (m *Manager) reportOrphan(ctx context.Context, orderID string, stored objectstore.Stored, cause error) {
	m.logger.Warn("uploaded object orphaned",
		zap.String("order_id", orderID),
		zap.String("public_id", stored.PublicID),
		zap.String("url", stored.URL),
		zap.Error(cause),
	)
	m.metrics.AttachmentsOrphaned.Add(ctx, 1)
	m.events.Publish(ctx, events.Event{
		Type:     events.AttachmentOrphaned,
		OrderID:  orderID,
		PublicID: stored.PublicID,
		URL:      stored.URL,
		Reason:   cause.Error(),
	})
}

func limitExceeded(orderID string) error {
	return errorbank.LimitExceeded(
		fmt.Sprintf("order %s already has %d attachments", orderID, entity.MaxAttachments),
		errorbank.WithDetail("max", entity.MaxAttachments),
	)
}
