package ordersync

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/erpsync/internal/dto"
	"github.com/Additional-Code/erpsync/internal/presentation/http/response"
	service "github.com/Additional-Code/erpsync/internal/service/ordersync"
	"github.com/Additional-Code/erpsync/pkg/errorbank"
)

var httpTracer = otel.Tracer("github.com/Additional-Code/erpsync/transport/http/ordersync")

// Syncer is the part of the sync service the ops API drives.
type Syncer interface {
	SyncOne(ctx context.Context, order *dto.Order) service.Result
	SyncBatch(ctx context.Context) (service.BatchResult, error)
	Status(ctx context.Context) dto.SyncStatusResponse
}

// Handler exposes sync operations over HTTP.
type Handler struct {
	svc Syncer
}

// NewHandler constructs a sync Handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Register routes with provided Echo instance.
func Register(e *echo.Echo, h *Handler) {
	g := e.Group("/sync")
	g.POST("/run", h.run)
	g.POST("/orders", h.syncOrder)
	g.GET("/status", h.status)
}

func (h *Handler) run(c echo.Context) error {
	b := response.New(c)

	ctx, span := httpTracer.Start(c.Request().Context(), "sync.run")
	defer span.End()

	batch, err := h.svc.SyncBatch(ctx)
	if err != nil {
		return b.WithError(err).Build()
	}
	span.SetAttributes(
		attribute.Int("orders.total", batch.Total()),
		attribute.Int("orders.succeeded", batch.Succeeded),
	)

	return b.WithData(batch.Response()).Build()
}

func (h *Handler) syncOrder(c echo.Context) error {
	b := response.New(c)

	var order dto.Order
	if err := c.Bind(&order); err != nil {
		return b.WithError(errorbank.InvalidInput("invalid order payload", errorbank.WithCause(err))).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "sync.order", trace.WithAttributes(
		attribute.String("order.number", order.SubOrderSN),
	))
	defer span.End()

	res := h.svc.SyncOne(ctx, &order)
	if res.Err != nil {
		return b.WithError(res.Err).WithMeta("result", res.Response()).Build()
	}

	status := http.StatusOK
	if res.Status == service.StatusSynced {
		status = http.StatusCreated
	}
	return b.WithStatus(status).WithData(res.Response()).Build()
}

func (h *Handler) status(c echo.Context) error {
	return response.New(c).WithData(h.svc.Status(c.Request().Context())).Build()
}
