package staff

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/printshop/internal/auth"
	"github.com/Additional-Code/printshop/internal/dto"
	"github.com/Additional-Code/printshop/internal/entity"
	"github.com/Additional-Code/printshop/internal/livequery"
	"github.com/Additional-Code/printshop/internal/objectstore"
	"github.com/Additional-Code/printshop/internal/presentation/http/response"
	"github.com/Additional-Code/printshop/internal/service/attachment"
	ordersvc "github.com/Additional-Code/printshop/internal/service/order"
	"github.com/Additional-Code/printshop/internal/service/workflow"
	"github.com/Additional-Code/printshop/pkg/errorbank"
)

var httpTracer = otel.Tracer("github.com/Additional-Code/printshop/transport/http/staff")

// Module wires the staff HTTP handlers.
var Module = fx.Options(
	fx.Provide(NewHandler),
	fx.Invoke(func(e *echo.Echo, provider *auth.Provider, h *Handler) {
		Register(e.Group("/staff", provider.RequireSession()), h)
	}),
)

// Handler exposes order triage endpoints to signed-in staff.
type Handler struct {
	orders   *ordersvc.Service
	workflow *workflow.Service
	files    *attachment.Manager
	logger   *zap.Logger
}

// Params defines dependencies for constructing Handler.
type Params struct {
	fx.In

	Orders   *ordersvc.Service
	Workflow *workflow.Service
	Files    *attachment.Manager
	Logger   *zap.Logger
}

// NewHandler constructs a staff Handler.
func NewHandler(p Params) *Handler {
	return &Handler{orders: p.Orders, workflow: p.Workflow, files: p.Files, logger: p.Logger}
}

// Register mounts the routes on g, which must already require a session.
func Register(g *echo.Group, h *Handler) {
	g.GET("/orders", h.list)
	g.PATCH("/orders/:id/status", h.setStatus)
	g.POST("/orders/:id/attachments", h.attach)
	g.DELETE("/orders/:id/attachments/*", h.detach)
}

func (h *Handler) list(c echo.Context) error {
	b := response.New(c)

	filter := entity.Filter(strings.ToLower(strings.TrimSpace(c.QueryParam("status"))))
	if filter == "" {
		filter = entity.FilterAll
	}
	search := c.QueryParam("q")

	ctx, span := httpTracer.Start(c.Request().Context(), "staff.orders.list", trace.WithAttributes(
		attribute.String("order.filter", string(filter)),
	))
	defer span.End()

	orders, err := h.orders.List(ctx, filter)
	if err != nil {
		return b.WithError(err).Build()
	}

	matched := make([]entity.Order, 0, len(orders))
	for i := range orders {
		if livequery.Matches(&orders[i], search) {
			matched = append(matched, orders[i])
		}
	}

	return b.WithData(dto.FromOrders(matched)).
		WithMeta("filter", string(filter)).
		WithMeta("total", len(orders)).
		Build()
}

func (h *Handler) setStatus(c echo.Context) error {
	b := response.New(c)
	id := c.Param("id")

	var payload dto.StatusRequest
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.Validation("invalid payload", errorbank.WithCause(err))).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "staff.orders.status", trace.WithAttributes(
		attribute.String("order.id", id),
		attribute.String("order.status", string(payload.Status)),
	))
	defer span.End()

	order, err := h.workflow.Transition(ctx, id, payload.Status)
	if err != nil {
		return b.WithError(err).Build()
	}
	h.logger.Info("status changed by staff",
		zap.String("order_id", id),
		zap.String("status", string(order.Status)),
		zap.String("staff", auth.StaffEmail(c)),
	)
	return b.WithData(dto.FromOrder(order)).Build()
}

// attach accepts either a multipart upload ("file" plus optional "pages") or
// a JSON reference to an already stored file.
func (h *Handler) attach(c echo.Context) error {
	b := response.New(c)
	id := c.Param("id")

	ctx, span := httpTracer.Start(c.Request().Context(), "staff.orders.attach", trace.WithAttributes(attribute.String("order.id", id)))
	defer span.End()

	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		fh, err := c.FormFile("file")
		if err != nil {
			return b.WithError(errorbank.Validation("file is required", errorbank.WithField("file"), errorbank.WithCause(err))).Build()
		}
		pages, _ := strconv.Atoi(c.FormValue("pages"))
		src, err := fh.Open()
		if err != nil {
			return b.WithError(errorbank.Validation("unreadable file", errorbank.WithField("file"), errorbank.WithCause(err))).Build()
		}
		defer src.Close()

		order, err := h.files.Upload(ctx, id, objectstore.File{
			Name:        fh.Filename,
			ContentType: fh.Header.Get(echo.HeaderContentType),
			Size:        fh.Size,
			Body:        src,
		}, pages)
		if err != nil {
			var orphan *attachment.OrphanError
			if errors.As(err, &orphan) {
				b = b.WithMeta("orphan", dto.Attachment{Name: fh.Filename, URL: orphan.Object.URL, PublicID: orphan.Object.PublicID})
			}
			return b.WithError(err).Build()
		}
		return b.WithStatus(http.StatusCreated).WithData(dto.AttachmentsResponse{
			OrderID:  order.ID,
			PDFFiles: dto.FromAttachments(order.PDFFiles),
		}).Build()
	}

	var payload dto.AttachRequest
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.Validation("invalid payload", errorbank.WithCause(err))).Build()
	}
	order, err := h.files.Add(ctx, id, entity.Attachment(payload.Attachment))
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.AttachmentsResponse{
		OrderID:  order.ID,
		PDFFiles: dto.FromAttachments(order.PDFFiles),
	}).Build()
}

func (h *Handler) detach(c echo.Context) error {
	b := response.New(c)
	id := c.Param("id")

	publicID, err := url.PathUnescape(c.Param("*"))
	if err != nil || publicID == "" {
		return b.WithError(errorbank.Validation("publicId is required", errorbank.WithField("publicId"))).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "staff.orders.detach", trace.WithAttributes(
		attribute.String("order.id", id),
		attribute.String("attachment.public_id", publicID),
	))
	defer span.End()

	files, err := h.files.Remove(ctx, id, publicID)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.AttachmentsResponse{OrderID: id, PDFFiles: dto.FromAttachments(files)}).Build()
}
