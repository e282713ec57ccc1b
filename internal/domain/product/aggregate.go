package product

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/example/ec-eventstore/internal/infrastructure/store"
)

const AggregateType = "Product"

var (
	ErrInvalidName     = errors.New("name is required")
	ErrInvalidPrice    = errors.New("price must be positive")
	ErrProductArchived = errors.New("product is archived")
)

// Product is the reconstructed aggregate state, mutated only by ApplyEvent.
type Product struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Price       int       `json:"price"`
	Stock       int       `json:"stock"`
	Archived    bool      `json:"archived,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Version     int       `json:"version"`
}

func New() *Product { return &Product{} }

func (p *Product) GetID() string   { return p.ID }
func (p *Product) GetVersion() int { return p.Version }

func (p *Product) ApplyEvent(event store.Event) error {
	payload, err := DecodePayload(event)
	if err != nil {
		return err
	}
	switch data := payload.(type) {
	case *ProductCreated:
		p.ID = data.ProductID
		p.Name = data.Name
		p.Description = data.Description
		p.Price = data.Price
		p.Stock = data.Stock
		p.CreatedAt = data.CreatedAt
		p.UpdatedAt = data.CreatedAt
	case *ProductUpdated:
		p.Name = data.Name
		p.Description = data.Description
		p.UpdatedAt = data.UpdatedAt
	case *ProductPriceChanged:
		p.Price = data.NewPrice
		p.UpdatedAt = data.ChangedAt
	case *ProductArchived:
		p.Archived = true
		p.UpdatedAt = data.ArchivedAt
	}
	p.Version = event.SequenceNumber
	return nil
}

// Create validates a new product and returns its id plus the pending events.
func Create(name, description string, price, stock int, meta store.Metadata) (string, []store.NewEvent, error) {
	if name == "" {
		return "", nil, ErrInvalidName
	}
	if price <= 0 {
		return "", nil, ErrInvalidPrice
	}

	productID := uuid.New().String()
	events := []store.NewEvent{{
		EventType:     EventProductCreated,
		SchemaVersion: SchemaVersion,
		Data: ProductCreated{
			ProductID:   productID,
			Name:        name,
			Description: description,
			Price:       price,
			Stock:       stock,
			CreatedAt:   time.Now().UTC(),
		},
		Metadata: meta,
	}}
	return productID, events, nil
}

// Update changes the catalog fields of an active product.
func (p *Product) Update(name, description string, meta store.Metadata) ([]store.NewEvent, error) {
	if p.Archived {
		return nil, ErrProductArchived
	}
	if name == "" {
		return nil, ErrInvalidName
	}
	return []store.NewEvent{{
		EventType:     EventProductUpdated,
		SchemaVersion: SchemaVersion,
		Data: ProductUpdated{
			ProductID:   p.ID,
			Name:        name,
			Description: description,
			UpdatedAt:   time.Now().UTC(),
		},
		Metadata: meta,
	}}, nil
}

// ChangePrice records a price change, keeping the old price in the event for
// downstream consumers.
func (p *Product) ChangePrice(newPrice int, meta store.Metadata) ([]store.NewEvent, error) {
	if p.Archived {
		return nil, ErrProductArchived
	}
	if newPrice <= 0 {
		return nil, ErrInvalidPrice
	}
	if newPrice == p.Price {
		return nil, nil
	}
	return []store.NewEvent{{
		EventType:     EventProductPriceChanged,
		SchemaVersion: SchemaVersion,
		Data: ProductPriceChanged{
			ProductID: p.ID,
			OldPrice:  p.Price,
			NewPrice:  newPrice,
			ChangedAt: time.Now().UTC(),
		},
		Metadata: meta,
	}}, nil
}

// Archive removes the product from sale. Archiving twice is rejected.
func (p *Product) Archive(reason string, meta store.Metadata) ([]store.NewEvent, error) {
	if p.Archived {
		return nil, ErrProductArchived
	}
	return []store.NewEvent{{
		EventType:     EventProductArchived,
		SchemaVersion: SchemaVersion,
		Data: ProductArchived{
			ProductID:  p.ID,
			Reason:     reason,
			ArchivedAt: time.Now().UTC(),
		},
		Metadata: meta,
	}}, nil
}
