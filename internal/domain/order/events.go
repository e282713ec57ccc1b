package order

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/ec-eventstore/internal/infrastructure/store"
)

const (
	EventOrderCreated       = "OrderCreated"
	EventOrderItemAdded     = "OrderItemAdded"
	EventOrderStatusChanged = "OrderStatusChanged"
	EventOrderCancelled     = "OrderCancelled"
)

// SchemaVersion tags the payload shapes below.
const SchemaVersion = 1

type OrderItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Price     int    `json:"price"`
}

type OrderCreated struct {
	OrderID   string      `json:"order_id"`
	UserID    string      `json:"user_id"`
	Items     []OrderItem `json:"items"`
	Total     int         `json:"total"`
	CreatedAt time.Time   `json:"created_at"`
}

type OrderItemAdded struct {
	OrderID string    `json:"order_id"`
	Item    OrderItem `json:"item"`
	AddedAt time.Time `json:"added_at"`
}

type OrderStatusChanged struct {
	OrderID   string    `json:"order_id"`
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	ChangedAt time.Time `json:"changed_at"`
}

type OrderCancelled struct {
	OrderID     string    `json:"order_id"`
	Reason      string    `json:"reason"`
	CancelledAt time.Time `json:"cancelled_at"`
}

// DecodePayload maps the event type discriminator to its payload variant.
// Unknown discriminators fail fast with UnknownEventTypeError instead of
// falling through a default case.
func DecodePayload(event store.Event) (any, error) {
	var payload any
	switch event.EventType {
	case EventOrderCreated:
		payload = new(OrderCreated)
	case EventOrderItemAdded:
		payload = new(OrderItemAdded)
	case EventOrderStatusChanged:
		payload = new(OrderStatusChanged)
	case EventOrderCancelled:
		payload = new(OrderCancelled)
	default:
		return nil, &store.UnknownEventTypeError{AggregateType: AggregateType, EventType: event.EventType}
	}
	if err := json.Unmarshal(event.Data, payload); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", event.EventType, err)
	}
	return payload, nil
}
