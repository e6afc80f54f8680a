package order

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
	"github.com/Additional-Code/printshop/internal/pricing"
	orderstore "github.com/Additional-Code/printshop/internal/store/order"
	"github.com/Additional-Code/printshop/pkg/errorbank"
)

var serviceTracer = otel.Tracer("github.com/Additional-Code/printshop/service/order")

// Intake is a customer submission before pricing.
type Intake struct {
	Name            string
	Email           string
	ContactNo       string
	PrintType       entity.PrintType
	SpecialFeatures entity.SpecialFeatures
	PDFFiles        []entity.Attachment
}

// Service handles customer intake: quoting, submitting and reading orders.
type Service struct {
	store   *orderstore.Store
	events  *events.Publisher
	metrics *observability.Metrics
	logger  *zap.Logger
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Store   *orderstore.Store
	Events  *events.Publisher
	Metrics *observability.Metrics
	Logger  *zap.Logger
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

// Quote prices the attachments without creating anything.
func (s *Service) Quote(ctx context.Context, printType entity.PrintType, features entity.SpecialFeatures, files []entity.Attachment) (pricing.Quote, error) {
	_, span := serviceTracer.Start(ctx, "OrderService.Quote")
	defer span.End()

	files, err := normalise(files)
	if err != nil {
		return pricing.Quote{}, err
	}
	return pricing.Calculate(printType, totalPages(files), features)
}

// Submit prices the intake from its attachments and creates the order.
func (s *Service) Submit(ctx context.Context, in Intake) (*entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.Submit")
	defer span.End()

	files, err := normalise(in.PDFFiles)
	if err != nil {
		span.SetStatus(codes.Error, "validation failed")
		return nil, err
	}

	pages := totalPages(files)
	price, err := pricing.Price(in.PrintType, pages)
	if err != nil {
		span.SetStatus(codes.Error, "pricing failed")
		return nil, err
	}

	order, err := s.store.CreateOrder(ctx, entity.Draft{
		Name:            in.Name,
		Email:           in.Email,
		ContactNo:       in.ContactNo,
		PrintType:       in.PrintType,
		SpecialFeatures: in.SpecialFeatures,
		TotalPages:      pages,
		Price:           price,
		PricingVersion:  pricing.RuleVersion,
		PDFFiles:        files,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create failed")
		return nil, err
	}
	span.SetAttributes(attribute.String("order.id", order.ID))

	s.metrics.OrdersCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("print_type", string(order.PrintType))))
	s.logger.Info("order submitted",
		zap.String("order_id", order.ID),
		zap.Int("total_pages", order.TotalPages),
		zap.Int("price", order.Price),
	)
	s.events.Publish(ctx, events.Event{
		Type:    events.OrderCreated,
		OrderID: order.ID,
		Version: order.Version,
		Status:  order.Status.String(),
		Price:   order.Price,
	})
	return order, nil
}

// Get returns a single order.
func (s *Service) Get(ctx context.Context, id string) (*entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.Get", trace.WithAttributes(attribute.String("order.id", id)))
	defer span.End()

	return s.store.Get(ctx, id)
}

// List returns the orders matching filter, newest first.
func (s *Service) List(ctx context.Context, filter entity.Filter) ([]entity.Order, error) {
	return s.store.List(ctx, filter)
}

// normalise drops repeated publicIds (first one wins), defaults unknown page
// counts to one and bounds each count. At least one attachment is required.
func normalise(files []entity.Attachment) ([]entity.Attachment, error) {
	out := make([]entity.Attachment, 0, len(files))
	seen := make(map[string]struct{}, len(files))
	for _, f := range files {
		if _, dup := seen[f.PublicID]; dup {
			continue
		}
		seen[f.PublicID] = struct{}{}
		if f.Pages <= 0 {
			f.Pages = 1
		}
		if f.Pages > entity.MaxAttachmentPages {
			field := fmt.Sprintf("pdfFiles[%d].pages", len(out))
			return nil, errorbank.Validation(
				fmt.Sprintf("%s must be at most %d", field, entity.MaxAttachmentPages),
				errorbank.WithField(field),
			)
		}
		out = append(out, f)
	}
	if len(out) == 0 {
		return nil, errorbank.Validation("at least one PDF file is required", errorbank.WithField("pdfFiles"))
	}
	if len(out) > entity.MaxAttachments {
		return nil, errorbank.Validation(
			fmt.Sprintf("pdfFiles must contain at most %d entries", entity.MaxAttachments),
			errorbank.WithField("pdfFiles"),
		)
	}
	return out, nil
}

func totalPages(files []entity.Attachment) int {
	total := 0
	for _, f := range files {
		total += f.Pages
	}
	return total
}
