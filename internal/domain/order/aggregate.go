package order

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/example/ec-eventstore/internal/infrastructure/store"
)

const AggregateType = "Order"

type Status string

const (
	StatusCreated          Status = "created"
	StatusPaymentPending   Status = "payment_pending"
	StatusPaymentCompleted Status = "payment_completed"
	StatusProcessing       Status = "processing"
	StatusShipped          Status = "shipped"
	StatusDelivered        Status = "delivered"
	StatusCancelled        Status = "cancelled"
)

var (
	ErrEmptyOrder      = errors.New("order must have at least one item")
	ErrInvalidStatus   = errors.New("invalid order status transition")
	ErrOrderClosed     = errors.New("order is in a terminal status")
	ErrInvalidQuantity = errors.New("item quantity must be positive")
)

// validTransitions defines the order status machine.
var validTransitions = map[Status][]Status{
	StatusCreated:          {StatusPaymentPending, StatusCancelled},
	StatusPaymentPending:   {StatusPaymentCompleted, StatusCancelled},
	StatusPaymentCompleted: {StatusProcessing, StatusCancelled},
	StatusProcessing:       {StatusShipped, StatusCancelled},
	StatusShipped:          {StatusDelivered, StatusCancelled},
	StatusDelivered:        {}, // terminal
	StatusCancelled:        {}, // terminal
}

// Order is the reconstructed aggregate state. It is mutated only by
// ApplyEvent and never persisted directly; commands return pending events
// owned by the caller, the entity holds no uncommitted-event buffer.
type Order struct {
	ID        string      `json:"id"`
	UserID    string      `json:"user_id"`
	Items     []OrderItem `json:"items"`
	Total     int         `json:"total"`
	Status    Status      `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
	Version   int         `json:"version"`
}

func New() *Order { return &Order{} }

// Aggregate interface implementation
func (o *Order) GetID() string   { return o.ID }
func (o *Order) GetVersion() int { return o.Version }

// CanTransitionTo checks the status machine.
func (o *Order) CanTransitionTo(target Status) bool {
	allowed, exists := validTransitions[o.Status]
	if !exists {
		return false
	}
	for _, s := range allowed {
		if s == target {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the order can change at all.
func (o *Order) IsTerminal() bool {
	return len(validTransitions[o.Status]) == 0
}

// ApplyEvent folds one event into the order state. It trusts persisted
// events: they represent transitions already validated when the command ran,
// so no business rules are re-checked here.
func (o *Order) ApplyEvent(event store.Event) error {
	payload, err := DecodePayload(event)
	if err != nil {
		return err
	}
	switch data := payload.(type) {
	case *OrderCreated:
		o.ID = data.OrderID
		o.UserID = data.UserID
		o.Items = data.Items
		o.Total = data.Total
		o.Status = StatusCreated
		o.CreatedAt = data.CreatedAt
		o.UpdatedAt = data.CreatedAt
	case *OrderItemAdded:
		o.Items = append(o.Items, data.Item)
		o.Total += data.Item.Price * data.Item.Quantity
		o.UpdatedAt = data.AddedAt
	case *OrderStatusChanged:
		o.Status = data.To
		o.UpdatedAt = data.ChangedAt
	case *OrderCancelled:
		o.Status = StatusCancelled
		o.UpdatedAt = data.CancelledAt
	}
	o.Version = event.SequenceNumber
	return nil
}

// ============================================
// Commands. Each validates against current state and returns the pending
// events; the caller saves them through the Repository.
// ============================================

// Create validates a new order and returns its id plus the pending events.
func Create(userID string, items []OrderItem, meta store.Metadata) (string, []store.NewEvent, error) {
	if len(items) == 0 {
		return "", nil, ErrEmptyOrder
	}
	total := 0
	for _, item := range items {
		if item.Quantity <= 0 {
			return "", nil, ErrInvalidQuantity
		}
		total += item.Price * item.Quantity
	}

	orderID := uuid.New().String()
	events := []store.NewEvent{{
		EventType:     EventOrderCreated,
		SchemaVersion: SchemaVersion,
		Data: OrderCreated{
			OrderID:   orderID,
			UserID:    userID,
			Items:     items,
			Total:     total,
			CreatedAt: time.Now().UTC(),
		},
		Metadata: meta,
	}}
	return orderID, events, nil
}

// AddItem appends an item to a still-open order.
func (o *Order) AddItem(item OrderItem, meta store.Metadata) ([]store.NewEvent, error) {
	if o.IsTerminal() {
		return nil, fmt.Errorf("%w: %s", ErrOrderClosed, o.Status)
	}
	if item.Quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	return []store.NewEvent{{
		EventType:     EventOrderItemAdded,
		SchemaVersion: SchemaVersion,
		Data: OrderItemAdded{
			OrderID: o.ID,
			Item:    item,
			AddedAt: time.Now().UTC(),
		},
		Metadata: meta,
	}}, nil
}

// ChangeStatus moves the order along the status machine.
func (o *Order) ChangeStatus(to Status, meta store.Metadata) ([]store.NewEvent, error) {
	if !o.CanTransitionTo(to) {
		if o.IsTerminal() {
			return nil, fmt.Errorf("%w: %s", ErrOrderClosed, o.Status)
		}
		return nil, fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidStatus, o.Status, to)
	}
	return []store.NewEvent{{
		EventType:     EventOrderStatusChanged,
		SchemaVersion: SchemaVersion,
		Data: OrderStatusChanged{
			OrderID:   o.ID,
			From:      o.Status,
			To:        to,
			ChangedAt: time.Now().UTC(),
		},
		Metadata: meta,
	}}, nil
}

// Cancel closes the order from any non-terminal status.
func (o *Order) Cancel(reason string, meta store.Metadata) ([]store.NewEvent, error) {
	if !o.CanTransitionTo(StatusCancelled) {
		return nil, fmt.Errorf("%w: %s", ErrOrderClosed, o.Status)
	}
	return []store.NewEvent{{
		EventType:     EventOrderCancelled,
		SchemaVersion: SchemaVersion,
		Data: OrderCancelled{
			OrderID:     o.ID,
			Reason:      reason,
			CancelledAt: time.Now().UTC(),
		},
		Metadata: meta,
	}}, nil
}
