package projection

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/example/ec-eventstore/internal/domain/order"
	"github.com/example/ec-eventstore/internal/infrastructure/store"
	"github.com/example/ec-eventstore/internal/readmodel"
)

// OrderProjection maintains the orders read model. Handle is idempotent: an
// event at or below the document's last applied sequence is skipped, so
// rebuilds and at-least-once delivery converge to the same document.
type OrderProjection struct {
	readStore store.ReadStore
}

func NewOrderProjection(readStore store.ReadStore) *OrderProjection {
	return &OrderProjection{readStore: readStore}
}

func (p *OrderProjection) Name() string { return "orders" }

func (p *OrderProjection) InterestedEventTypes() []string {
	return []string{
		order.EventOrderCreated,
		order.EventOrderItemAdded,
		order.EventOrderStatusChanged,
		order.EventOrderCancelled,
	}
}

func (p *OrderProjection) Reset(ctx context.Context) error {
	return p.readStore.Clear(ctx, readmodel.OrdersCollection)
}

func (p *OrderProjection) Handle(ctx context.Context, event store.Event) error {
	payload, err := order.DecodePayload(event)
	if err != nil {
		return err
	}

	var doc readmodel.OrderReadModel
	found, err := p.readStore.Get(ctx, readmodel.OrdersCollection, event.AggregateID, &doc)
	if err != nil {
		return err
	}
	if found && event.SequenceNumber <= doc.LastSequence {
		return nil
	}

	switch data := payload.(type) {
	case *order.OrderCreated:
		doc = readmodel.OrderReadModel{
			ID:        data.OrderID,
			UserID:    data.UserID,
			Items:     toItemViews(data.Items),
			Total:     data.Total,
			Status:    string(order.StatusCreated),
			CreatedAt: data.CreatedAt,
			UpdatedAt: data.CreatedAt,
		}
	case *order.OrderItemAdded:
		if !found {
			return fmt.Errorf("order %s not in read model for %s", event.AggregateID, event.EventType)
		}
		doc.Items = append(doc.Items, readmodel.OrderItemView{
			ProductID: data.Item.ProductID,
			Quantity:  data.Item.Quantity,
			Price:     data.Item.Price,
		})
		doc.Total += data.Item.Price * data.Item.Quantity
		doc.UpdatedAt = data.AddedAt
	case *order.OrderStatusChanged:
		if !found {
			return fmt.Errorf("order %s not in read model for %s", event.AggregateID, event.EventType)
		}
		doc.Status = string(data.To)
		doc.UpdatedAt = data.ChangedAt
	case *order.OrderCancelled:
		if !found {
			return fmt.Errorf("order %s not in read model for %s", event.AggregateID, event.EventType)
		}
		doc.Status = string(order.StatusCancelled)
		doc.UpdatedAt = data.CancelledAt
	}

	doc.LastSequence = event.SequenceNumber
	return p.readStore.Set(ctx, readmodel.OrdersCollection, event.AggregateID, doc)
}

// List returns every order document.
func (p *OrderProjection) List(ctx context.Context) ([]readmodel.OrderReadModel, error) {
	raw, err := p.readStore.List(ctx, readmodel.OrdersCollection)
	if err != nil {
		return nil, err
	}
	orders := make([]readmodel.OrderReadModel, 0, len(raw))
	for _, doc := range raw {
		var o readmodel.OrderReadModel
		if err := json.Unmarshal(doc, &o); err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, nil
}

// Get returns one order document, or false when it does not exist.
func (p *OrderProjection) Get(ctx context.Context, orderID string) (readmodel.OrderReadModel, bool, error) {
	var doc readmodel.OrderReadModel
	found, err := p.readStore.Get(ctx, readmodel.OrdersCollection, orderID, &doc)
	return doc, found, err
}

func toItemViews(items []order.OrderItem) []readmodel.OrderItemView {
	views := make([]readmodel.OrderItemView, len(items))
	for i, item := range items {
		views[i] = readmodel.OrderItemView{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     item.Price,
		}
	}
	return views
}
