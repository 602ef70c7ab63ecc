// Package order реализует жизненный цикл заказа: создание с проверкой по каталогу,
// смену статусов по таблице переходов и чтение с учётом прав актора.
package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/foodorders/internal/domain"
	"github.com/vladislavdragonenkov/foodorders/internal/metrics"
	"github.com/vladislavdragonenkov/foodorders/internal/restaurant"
)

const tracerName = "github.com/vladislavdragonenkov/foodorders/internal/service/order"

// Validator проверяет ресторан и позиции заказа по актуальным данным каталога.
type Validator interface {
	Validate(ctx context.Context, restaurantID string, lines []restaurant.Line) (restaurant.Validated, error)
}

// Authorizer решает, может ли актор читать заказ и менять его статус.
type Authorizer interface {
	CanView(ctx context.Context, actor domain.Actor, order domain.Order) error
	CanTransition(ctx context.Context, actor domain.Actor, order domain.Order, to domain.OrderStatus) error
}

// ItemRequest — запрошенная позиция. Цена клиента не принимается.
type ItemRequest struct {
	MenuItemID string
	Quantity   int32
}

// CreateOrderRequest — данные для оформления заказа.
type CreateOrderRequest struct {
	RestaurantID    string
	DeliveryAddress string
	Items           []ItemRequest
}

// Service — движок жизненного цикла заказа.
type Service struct {
	orders    domain.OrderRepository
	validator Validator
	authz     Authorizer
	logger    *log.Entry
	metrics   *metrics.OrderMetrics
	tracer    trace.Tracer
	now       func() time.Time
	newID     func() string
}

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics включает метрики заказов.
func WithMetrics(m *metrics.OrderMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithTracer подменяет tracer (по умолчанию глобальный провайдер otel).
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator подменяет генератор идентификаторов заказов.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) {
		if newID != nil {
			s.newID = newID
		}
	}
}

// NewService собирает сервис заказов.
func NewService(orders domain.OrderRepository, validator Validator, authz Authorizer, opts ...Option) *Service {
	s := &Service{
		orders:    orders,
		validator: validator,
		authz:     authz,
		logger:    log.WithField("component", "order-service"),
		tracer:    otel.Tracer(tracerName),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateOrder проверяет запрос по каталогу и сохраняет заказ в PENDING вместе с событием order.placed.
// При любой ошибке ничего не сохраняется.
func (s *Service) CreateOrder(ctx context.Context, actor domain.Actor, req CreateOrderRequest) (order domain.Order, err error) {
	ctx, span := s.tracer.Start(ctx, "CreateOrder", trace.WithAttributes(
		attribute.String("restaurant.id", req.RestaurantID),
		attribute.Int("order.items", len(req.Items)),
	))
	start := time.Now()
	defer func() {
		s.finish(span, "create", err, start)
		if err != nil && s.metrics != nil {
			s.metrics.RecordRejected(domain.Code(err))
		}
	}()

	if actor.IsAnonymous() {
		return domain.Order{}, fmt.Errorf("%w: identity required to place an order", domain.ErrUnauthorized)
	}
	if err := validateCreateRequest(req); err != nil {
		return domain.Order{}, err
	}

	lines := make([]restaurant.Line, 0, len(req.Items))
	for _, item := range req.Items {
		lines = append(lines, restaurant.Line{MenuItemID: item.MenuItemID, Quantity: item.Quantity})
	}

	validated, err := s.validator.Validate(ctx, req.RestaurantID, lines)
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"restaurant_id": req.RestaurantID,
			"customer_id":   actor.ID,
		}).Info("order rejected by restaurant validation")
		return domain.Order{}, err
	}

	now := s.now()
	order = domain.Order{
		ID:              s.newID(),
		CustomerID:      actor.ID,
		RestaurantID:    validated.Restaurant.ID,
		RestaurantName:  validated.Restaurant.Name,
		Items:           validated.Items,
		Status:          domain.OrderStatusPending,
		DeliveryAddress: strings.TrimSpace(req.DeliveryAddress),
		Currency:        validated.Restaurant.Currency,
		TotalMinor:      validated.TotalMinor,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if order.RestaurantID == "" {
		order.RestaurantID = req.RestaurantID
	}

	event := domain.NewOrderPlacedEvent(order, validated.Restaurant.OwnerID, now)
	msg, err := event.OutboxMessage()
	if err != nil {
		return domain.Order{}, fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}
	msg.CreatedAt = now

	if err := s.orders.Create(ctx, order, msg); err != nil {
		return domain.Order{}, fmt.Errorf("persist order %s: %w", order.ID, err)
	}

	span.SetAttributes(attribute.String("order.id", order.ID))
	if s.metrics != nil {
		s.metrics.RecordCreated()
	}
	s.logger.WithFields(log.Fields{
		"order_id":      order.ID,
		"restaurant_id": order.RestaurantID,
		"customer_id":   order.CustomerID,
		"event_id":      event.EventID,
		"total_minor":   order.TotalMinor,
	}).Info("order placed")

	return order, nil
}

// GetOrder возвращает заказ, если актор вправе его видеть.
func (s *Service) GetOrder(ctx context.Context, actor domain.Actor, orderID string) (domain.Order, error) {
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if err := s.authz.CanView(ctx, actor, order); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// ListMyOrders возвращает заказы актора-клиента, новые первыми.
func (s *Service) ListMyOrders(ctx context.Context, actor domain.Actor, limit int) ([]domain.Order, error) {
	if actor.IsAnonymous() {
		return nil, fmt.Errorf("%w: identity required", domain.ErrUnauthorized)
	}
	if limit < 0 {
		return nil, fmt.Errorf("%w: limit must be non-negative", domain.ErrValidation)
	}
	return s.orders.ListByCustomer(ctx, actor.ID, limit)
}

// History возвращает историю статусов заказа.
func (s *Service) History(ctx context.Context, actor domain.Actor, orderID string) ([]domain.StatusChange, error) {
	if _, err := s.GetOrder(ctx, actor, orderID); err != nil {
		return nil, err
	}
	return s.orders.History(ctx, orderID)
}

// UpdateStatus переводит заказ в статус requested.
// Права проверяются до законности перехода; проигравший гонку получает ErrOrderVersionConflict.
func (s *Service) UpdateStatus(ctx context.Context, actor domain.Actor, orderID string, requested domain.OrderStatus) (order domain.Order, err error) {
	ctx, span := s.tracer.Start(ctx, "UpdateStatus", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.String("order.status.requested", string(requested)),
	))
	start := time.Now()
	defer func() { s.finish(span, "update_status", err, start) }()

	if !requested.Valid() {
		return domain.Order{}, fmt.Errorf("%w: %q", domain.ErrUnknownStatus, requested)
	}

	current, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if err := s.authz.CanTransition(ctx, actor, current, requested); err != nil {
		return domain.Order{}, err
	}
	return s.transition(ctx, actor, current, requested)
}

// CancelOrder отменяет заказ от имени его клиента, только пока он в PENDING.
func (s *Service) CancelOrder(ctx context.Context, actor domain.Actor, orderID string) (order domain.Order, err error) {
	ctx, span := s.tracer.Start(ctx, "CancelOrder", trace.WithAttributes(attribute.String("order.id", orderID)))
	start := time.Now()
	defer func() { s.finish(span, "cancel", err, start) }()

	if actor.IsAnonymous() {
		return domain.Order{}, fmt.Errorf("%w: identity required", domain.ErrUnauthorized)
	}

	current, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if current.CustomerID != actor.ID {
		return domain.Order{}, fmt.Errorf("%w: only the customer may cancel order %s", domain.ErrUnauthorized, orderID)
	}
	if current.Status != domain.OrderStatusPending {
		return domain.Order{}, fmt.Errorf("%w: order %s is %s, only a pending order can be cancelled", domain.ErrStateConflict, orderID, current.Status)
	}
	return s.transition(ctx, actor, current, domain.OrderStatusCancelled)
}

func (s *Service) transition(ctx context.Context, actor domain.Actor, current domain.Order, to domain.OrderStatus) (domain.Order, error) {
	from := current.Status
	if !domain.CanTransition(from, to) {
		return domain.Order{}, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
	}

	now := s.now()
	next := current.Clone()
	next.Status = to
	next.UpdatedAt = now
	switch to {
	case domain.OrderStatusConfirmed:
		next.ConfirmedAt = &now
	case domain.OrderStatusDelivered:
		next.DeliveredAt = &now
	}

	event := domain.NewOrderStatusChangedEvent(next, from, actor.ID, now)
	msg, err := event.OutboxMessage()
	if err != nil {
		return domain.Order{}, fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}
	msg.CreatedAt = now

	change := domain.StatusChange{
		OrderID:    next.ID,
		From:       from,
		To:         to,
		ActorID:    actor.ID,
		OccurredAt: now,
	}

	saved, err := s.orders.Transition(ctx, next, change, msg)
	if err != nil {
		if errors.Is(err, domain.ErrOrderVersionConflict) {
			if s.metrics != nil {
				s.metrics.RecordVersionConflict()
			}
			s.logger.WithFields(log.Fields{
				"order_id": current.ID,
				"from":     from,
				"to":       to,
			}).Info("status update lost to a concurrent writer")
			return domain.Order{}, err
		}
		return domain.Order{}, fmt.Errorf("persist status of order %s: %w", current.ID, err)
	}

	if s.metrics != nil {
		s.metrics.RecordTransition(string(from), string(to))
	}
	s.logger.WithFields(log.Fields{
		"order_id":      saved.ID,
		"restaurant_id": saved.RestaurantID,
		"from":          from,
		"to":            to,
		"actor_id":      actor.ID,
		"event_id":      event.EventID,
	}).Info("order status changed")

	return saved, nil
}

func (s *Service) finish(span trace.Span, operation string, err error, start time.Time) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, domain.Code(err))
	}
	span.End()
	if s.metrics != nil {
		s.metrics.ObserveOperation(operation, err, time.Since(start))
	}
}

func validateCreateRequest(req CreateOrderRequest) error {
	var errs []error
	if strings.TrimSpace(req.RestaurantID) == "" {
		errs = append(errs, domain.ErrRestaurantRequired)
	}
	if strings.TrimSpace(req.DeliveryAddress) == "" {
		errs = append(errs, domain.ErrDeliveryAddressRequired)
	}
	if len(req.Items) == 0 {
		errs = append(errs, domain.ErrItemsRequired)
	}
	for _, item := range req.Items {
		if strings.TrimSpace(item.MenuItemID) == "" {
			errs = append(errs, fmt.Errorf("%w: menu item id is required", domain.ErrValidation))
		}
		switch {
		case item.Quantity < 1:
			errs = append(errs, fmt.Errorf("%w: menu item %s", domain.ErrItemQtyInvalid, item.MenuItemID))
		case item.Quantity > domain.MaxItemQuantity:
			errs = append(errs, fmt.Errorf("%w: menu item %s quantity %d > %d",
				domain.ErrItemQtyTooLarge, item.MenuItemID, item.Quantity, domain.MaxItemQuantity))
		}
	}
	return errors.Join(errs...)
}
