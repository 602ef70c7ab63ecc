package httpapi

import (
	"time"

	"github.com/vladislavdragonenkov/foodorders/internal/domain"
	"github.com/vladislavdragonenkov/foodorders/internal/money"
)

type createOrderRequest struct {
	RestaurantID    string              `json:"restaurantId"`
	DeliveryAddress string              `json:"deliveryAddress"`
	Items           []createItemRequest `json:"items"`
}

type createItemRequest struct {
	MenuItemID string `json:"menuItemId"`
	Quantity   int32  `json:"quantity"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

type orderResponse struct {
	ID              string              `json:"id"`
	CustomerID      string              `json:"customerId"`
	RestaurantID    string              `json:"restaurantId"`
	RestaurantName  string              `json:"restaurantName"`
	Status          domain.OrderStatus  `json:"status"`
	DeliveryAddress string              `json:"deliveryAddress"`
	Currency        string              `json:"currency"`
	Total           string              `json:"total"`
	TotalMinor      int64               `json:"totalMinor"`
	Items           []orderItemResponse `json:"items"`
	Version         int64               `json:"version"`
	CreatedAt       time.Time           `json:"createdAt"`
	ConfirmedAt     *time.Time          `json:"confirmedAt,omitempty"`
	DeliveredAt     *time.Time          `json:"deliveredAt,omitempty"`
	UpdatedAt       time.Time           `json:"updatedAt"`
}

type orderItemResponse struct {
	MenuItemID     string `json:"menuItemId"`
	Name           string `json:"name"`
	UnitPrice      string `json:"unitPrice"`
	UnitPriceMinor int64  `json:"unitPriceMinor"`
	Quantity       int32  `json:"quantity"`
	Subtotal       string `json:"subtotal"`
	SubtotalMinor  int64  `json:"subtotalMinor"`
}

type listOrdersResponse struct {
	Orders []orderResponse `json:"orders"`
}

type statusChangeResponse struct {
	From       domain.OrderStatus `json:"from,omitempty"`
	To         domain.OrderStatus `json:"to"`
	ActorID    string             `json:"actorId"`
	OccurredAt time.Time          `json:"occurredAt"`
}

type historyResponse struct {
	OrderID string                 `json:"orderId"`
	History []statusChangeResponse `json:"history"`
}

func toOrderResponse(order domain.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemResponse{
			MenuItemID:     item.MenuItemID,
			Name:           item.Name,
			UnitPrice:      money.FormatMinor(item.UnitPriceMinor),
			UnitPriceMinor: item.UnitPriceMinor,
			Quantity:       item.Quantity,
			Subtotal:       money.FormatMinor(item.SubtotalMinor),
			SubtotalMinor:  item.SubtotalMinor,
		})
	}
	return orderResponse{
		ID:              order.ID,
		CustomerID:      order.CustomerID,
		RestaurantID:    order.RestaurantID,
		RestaurantName:  order.RestaurantName,
		Status:          order.Status,
		DeliveryAddress: order.DeliveryAddress,
		Currency:        order.Currency,
		Total:           money.FormatMinor(order.TotalMinor),
		TotalMinor:      order.TotalMinor,
		Items:           items,
		Version:         order.Version,
		CreatedAt:       order.CreatedAt,
		ConfirmedAt:     order.ConfirmedAt,
		DeliveredAt:     order.DeliveredAt,
		UpdatedAt:       order.UpdatedAt,
	}
}
