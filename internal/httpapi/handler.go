// Package httpapi — HTTP API сервиса заказов.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/vladislavdragonenkov/foodorders/internal/domain"
	"github.com/vladislavdragonenkov/foodorders/internal/metrics"
	"github.com/vladislavdragonenkov/foodorders/internal/service/idempotency"
	"github.com/vladislavdragonenkov/foodorders/internal/service/order"
)

const (
	// HeaderIdempotencyKey включает идемпотентное создание заказа.
	HeaderIdempotencyKey = "Idempotency-Key"
	// HeaderIdempotentReplay выставляется, когда ответ отдан из сохранённого.
	HeaderIdempotentReplay = "Idempotent-Replayed"

	maxBodyBytes = 1 << 20
)

// OrderService — операции над заказами, которые вызывает API.
type OrderService interface {
	CreateOrder(ctx context.Context, actor domain.Actor, req order.CreateOrderRequest) (domain.Order, error)
	GetOrder(ctx context.Context, actor domain.Actor, orderID string) (domain.Order, error)
	ListMyOrders(ctx context.Context, actor domain.Actor, limit int) ([]domain.Order, error)
	UpdateStatus(ctx context.Context, actor domain.Actor, orderID string, status domain.OrderStatus) (domain.Order, error)
	CancelOrder(ctx context.Context, actor domain.Actor, orderID string) (domain.Order, error)
	History(ctx context.Context, actor domain.Actor, orderID string) ([]domain.StatusChange, error)
}

// Handler обслуживает маршруты /orders.
type Handler struct {
	orders  OrderService
	guard   *idempotency.Guard
	metrics *metrics.HTTPMetrics
	logger  *log.Entry
}

// Option настраивает Handler.
type Option func(*Handler)

// WithIdempotency включает обработку заголовка Idempotency-Key.
func WithIdempotency(guard *idempotency.Guard) Option {
	return func(h *Handler) {
		h.guard = guard
	}
}

// WithMetrics включает HTTP-метрики.
func WithMetrics(m *metrics.HTTPMetrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHandler создаёт обработчик API.
func NewHandler(orders OrderService, opts ...Option) *Handler {
	h := &Handler{
		orders: orders,
		logger: log.WithField("component", "http-api"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes возвращает маршрутизатор API с трассировкой otelhttp.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(instrument(h.metrics, h.logger))
	r.Use(identity)

	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.createOrder)
		r.Get("/", h.listOrders)
		r.Get("/{id}", h.getOrder)
		r.Delete("/{id}", h.cancelOrder)
		r.Put("/{id}/status", h.updateStatus)
		r.Get("/{id}/history", h.history)
	})

	return otelhttp.NewHandler(r, "order-api")
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	actor := domain.ActorFromContext(r.Context())

	var req createOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	canonical, err := json.Marshal(req)
	if err != nil {
		h.writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInternal, err))
		return
	}
	hash := idempotency.RequestHash(r.Method+" "+r.URL.Path+" "+actor.ID, canonical)

	resp, replayed, err := h.guard.Execute(r.Context(), idempotency.ScopedKey(actor.ID, r.Header.Get(HeaderIdempotencyKey)), hash, func(ctx context.Context) idempotency.Response {
		created, err := h.orders.CreateOrder(ctx, actor, toServiceRequest(req))
		if err != nil {
			status, body := encodeError(err)
			if status >= http.StatusInternalServerError {
				h.logger.WithError(err).WithField("customer_id", actor.ID).Warn("create order failed")
			}
			return idempotency.Response{Status: status, Body: body}
		}
		body, err := json.Marshal(toOrderResponse(created))
		if err != nil {
			status, errBody := encodeError(fmt.Errorf("%w: %v", domain.ErrInternal, err))
			return idempotency.Response{Status: status, Body: errBody}
		}
		return idempotency.Response{Status: http.StatusCreated, Body: body}
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if replayed {
		w.Header().Set(HeaderIdempotentReplay, "true")
	}
	writeRaw(w, resp.Status, resp.Body)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	found, err := h.orders.GetOrder(r.Context(), domain.ActorFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toOrderResponse(found))
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if query.Get("mine") != "true" {
		h.writeError(w, r, fmt.Errorf("%w: only mine=true listing is supported", domain.ErrValidation))
		return
	}

	limit := 0
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			h.writeError(w, r, fmt.Errorf("%w: limit must be a non-negative integer", domain.ErrValidation))
			return
		}
		limit = parsed
	}

	orders, err := h.orders.ListMyOrders(r.Context(), domain.ActorFromContext(r.Context()), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := listOrdersResponse{Orders: make([]orderResponse, 0, len(orders))}
	for _, o := range orders {
		resp.Orders = append(resp.Orders, toOrderResponse(o))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	status, err := domain.ParseOrderStatus(req.Status)
	if err != nil {
		h.writeError(w, r, fmt.Errorf("%w: %q", err, req.Status))
		return
	}

	updated, err := h.orders.UpdateStatus(r.Context(), domain.ActorFromContext(r.Context()), chi.URLParam(r, "id"), status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toOrderResponse(updated))
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	cancelled, err := h.orders.CancelOrder(r.Context(), domain.ActorFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toOrderResponse(cancelled))
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	changes, err := h.orders.History(r.Context(), domain.ActorFromContext(r.Context()), orderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := historyResponse{OrderID: orderID, History: make([]statusChangeResponse, 0, len(changes))}
	for _, c := range changes {
		resp.History = append(resp.History, statusChangeResponse{
			From:       c.From,
			To:         c.To,
			ActorID:    c.ActorID,
			OccurredAt: c.OccurredAt,
		})
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is required", domain.ErrValidation)
		}
		return fmt.Errorf("%w: invalid JSON body: %v", domain.ErrValidation, err)
	}
	return nil
}

func toServiceRequest(req createOrderRequest) order.CreateOrderRequest {
	items := make([]order.ItemRequest, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, order.ItemRequest{
			MenuItemID: strings.TrimSpace(item.MenuItemID),
			Quantity:   item.Quantity,
		})
	}
	return order.CreateOrderRequest{
		RestaurantID:    strings.TrimSpace(req.RestaurantID),
		DeliveryAddress: req.DeliveryAddress,
		Items:           items,
	}
}
