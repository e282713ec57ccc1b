// Package readmodel defines the denormalized documents that projections
// maintain in the read store. Every model carries the sequence number of the
// last event applied to it so replays converge instead of double-applying.
package readmodel

import "time"

const (
	OrdersCollection   = "orders"
	ProductsCollection = "products"
)

type OrderItemView struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Price     int    `json:"price"`
}

type OrderReadModel struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	Items        []OrderItemView `json:"items"`
	Total        int             `json:"total"`
	Status       string          `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	LastSequence int             `json:"last_sequence"`
}

type ProductReadModel struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	Price        int       `json:"price"`
	Stock        int       `json:"stock"`
	Archived     bool      `json:"archived,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	LastSequence int       `json:"last_sequence"`
}
