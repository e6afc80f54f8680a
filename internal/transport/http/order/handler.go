package order

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/printshop/internal/dto"
	"github.com/Additional-Code/printshop/internal/objectstore"
	"github.com/Additional-Code/printshop/internal/presentation/http/response"
	service "github.com/Additional-Code/printshop/internal/service/order"
	"github.com/Additional-Code/printshop/pkg/errorbank"
)

var httpTracer = otel.Tracer("github.com/Additional-Code/printshop/transport/http/order")

// Handler exposes the customer intake endpoints over HTTP.
type Handler struct {
	svc      *service.Service
	uploader objectstore.Uploader
}

// NewHandler constructs an order Handler.
func NewHandler(svc *service.Service, uploader objectstore.Uploader) *Handler {
	return &Handler{svc: svc, uploader: uploader}
}

// Register routes with provided Echo instance.
func Register(e *echo.Echo, h *Handler) {
	e.POST("/uploads", h.upload)

	g := e.Group("/orders")
	g.POST("/quote", h.quote)
	g.POST("", h.create)
	g.GET("/:id", h.getByID)
}

func (h *Handler) upload(c echo.Context) error {
	b := response.New(c)

	fh, err := c.FormFile("file")
	if err != nil {
		return b.WithError(errorbank.Validation("file is required", errorbank.WithField("file"), errorbank.WithCause(err))).Build()
	}
	src, err := fh.Open()
	if err != nil {
		return b.WithError(errorbank.Validation("unreadable file", errorbank.WithField("file"), errorbank.WithCause(err))).Build()
	}
	defer src.Close()

	ctx, span := httpTracer.Start(c.Request().Context(), "uploads.create")
	defer span.End()

	stored, err := h.uploader.Upload(ctx, objectstore.File{
		Name:        fh.Filename,
		ContentType: fh.Header.Get(echo.HeaderContentType),
		Size:        fh.Size,
		Body:        src,
	})
	if err != nil {
		return b.WithError(err).Build()
	}

	return b.WithStatus(http.StatusCreated).WithData(dto.Attachment{
		Name:     fh.Filename,
		URL:      stored.URL,
		PublicID: stored.PublicID,
	}).Build()
}

func (h *Handler) quote(c echo.Context) error {
	b := response.New(c)

	var payload dto.QuoteRequest
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.Validation("invalid payload", errorbank.WithCause(err))).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.quote")
	defer span.End()

	q, err := h.svc.Quote(ctx, payload.PrintType, payload.SpecialFeatures, dto.ToAttachments(payload.PDFFiles))
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(q).Build()
}

func (h *Handler) create(c echo.Context) error {
	b := response.New(c)

	var payload dto.CreateOrderRequest
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.Validation("invalid payload", errorbank.WithCause(err))).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.create")
	defer span.End()

	order, err := h.svc.Submit(ctx, service.Intake{
		Name:            payload.Name,
		Email:           payload.Email,
		ContactNo:       payload.ContactNo,
		PrintType:       payload.PrintType,
		SpecialFeatures: payload.SpecialFeatures,
		PDFFiles:        dto.ToAttachments(payload.PDFFiles),
	})
	if err != nil {
		return b.WithError(err).Build()
	}
	span.SetAttributes(attribute.String("order.id", order.ID))

	return b.WithStatus(http.StatusCreated).WithData(dto.FromOrder(order)).Build()
}

func (h *Handler) getByID(c echo.Context) error {
	b := response.New(c)
	id := c.Param("id")

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.getByID", trace.WithAttributes(attribute.String("order.id", id)))
	defer span.End()

	order, err := h.svc.Get(ctx, id)
	if err != nil {
		return b.WithError(err).Build()
	}

	return b.WithData(dto.FromOrder(order)).Build()
}
