package command

import (
	"github.com/example/ec-eventstore/internal/domain/order"
	"github.com/example/ec-eventstore/internal/infrastructure/store"
)

// Commands carry validated caller intent plus the envelope metadata that
// ends up on every resulting event.

type CreateOrder struct {
	UserID   string
	Items    []order.OrderItem
	Metadata store.Metadata
}

type AddOrderItem struct {
	OrderID  string
	Item     order.OrderItem
	Metadata store.Metadata
}

type ChangeOrderStatus struct {
	OrderID  string
	To       order.Status
	Metadata store.Metadata
}

type CancelOrder struct {
	OrderID  string
	Reason   string
	Metadata store.Metadata
}

type CreateProduct struct {
	Name        string
	Description string
	Price       int
	Stock       int
	Metadata    store.Metadata
}

type UpdateProduct struct {
	ProductID   string
	Name        string
	Description string
	Metadata    store.Metadata
}

type ChangeProductPrice struct {
	ProductID string
	NewPrice  int
	Metadata  store.Metadata
}

type ArchiveProduct struct {
	ProductID string
	Reason    string
	Metadata  store.Metadata
}
