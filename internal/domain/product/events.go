package product

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/ec-eventstore/internal/infrastructure/store"
)

const (
	EventProductCreated      = "ProductCreated"
	EventProductUpdated      = "ProductUpdated"
	EventProductPriceChanged = "ProductPriceChanged"
	EventProductArchived     = "ProductArchived"
)

const SchemaVersion = 1

type ProductCreated struct {
	ProductID   string    `json:"product_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Price       int       `json:"price"`
	Stock       int       `json:"stock"`
	CreatedAt   time.Time `json:"created_at"`
}

type ProductUpdated struct {
	ProductID   string    `json:"product_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type ProductPriceChanged struct {
	ProductID string    `json:"product_id"`
	OldPrice  int       `json:"old_price"`
	NewPrice  int       `json:"new_price"`
	ChangedAt time.Time `json:"changed_at"`
}

type ProductArchived struct {
	ProductID  string    `json:"product_id"`
	Reason     string    `json:"reason"`
	ArchivedAt time.Time `json:"archived_at"`
}

// DecodePayload maps the event type discriminator to its payload variant.
// Unknown discriminators fail fast with UnknownEventTypeError.
func DecodePayload(event store.Event) (any, error) {
	var payload any
	switch event.EventType {
	case EventProductCreated:
		payload = new(ProductCreated)
	case EventProductUpdated:
		payload = new(ProductUpdated)
	case EventProductPriceChanged:
		payload = new(ProductPriceChanged)
	case EventProductArchived:
		payload = new(ProductArchived)
	default:
		return nil, &store.UnknownEventTypeError{AggregateType: AggregateType, EventType: event.EventType}
	}
	if err := json.Unmarshal(event.Data, payload); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", event.EventType, err)
	}
	return payload, nil
}
