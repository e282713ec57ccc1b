package projection

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/example/ec-eventstore/internal/domain/product"
	"github.com/example/ec-eventstore/internal/infrastructure/store"
	"github.com/example/ec-eventstore/internal/readmodel"
)

// ProductProjection maintains the products read model with the same
// last-sequence idempotency rule as the orders projection.
type ProductProjection struct {
	readStore store.ReadStore
}

func NewProductProjection(readStore store.ReadStore) *ProductProjection {
	return &ProductProjection{readStore: readStore}
}

func (p *ProductProjection) Name() string { return "products" }

func (p *ProductProjection) InterestedEventTypes() []string {
	return []string{
		product.EventProductCreated,
		product.EventProductUpdated,
		product.EventProductPriceChanged,
		product.EventProductArchived,
	}
}

func (p *ProductProjection) Reset(ctx context.Context) error {
	return p.readStore.Clear(ctx, readmodel.ProductsCollection)
}

func (p *ProductProjection) Handle(ctx context.Context, event store.Event) error {
	payload, err := product.DecodePayload(event)
	if err != nil {
		return err
	}

	var doc readmodel.ProductReadModel
	found, err := p.readStore.Get(ctx, readmodel.ProductsCollection, event.AggregateID, &doc)
	if err != nil {
		return err
	}
	if found && event.SequenceNumber <= doc.LastSequence {
		return nil
	}

	switch data := payload.(type) {
	case *product.ProductCreated:
		doc = readmodel.ProductReadModel{
			ID:          data.ProductID,
			Name:        data.Name,
			Description: data.Description,
			Price:       data.Price,
			Stock:       data.Stock,
			CreatedAt:   data.CreatedAt,
			UpdatedAt:   data.CreatedAt,
		}
	case *product.ProductUpdated:
		if !found {
			return fmt.Errorf("product %s not in read model for %s", event.AggregateID, event.EventType)
		}
		doc.Name = data.Name
		doc.Description = data.Description
		doc.UpdatedAt = data.UpdatedAt
	case *product.ProductPriceChanged:
		if !found {
			return fmt.Errorf("product %s not in read model for %s", event.AggregateID, event.EventType)
		}
		doc.Price = data.NewPrice
		doc.UpdatedAt = data.ChangedAt
	case *product.ProductArchived:
		if !found {
			return fmt.Errorf("product %s not in read model for %s", event.AggregateID, event.EventType)
		}
		doc.Archived = true
		doc.UpdatedAt = data.ArchivedAt
	}

	doc.LastSequence = event.SequenceNumber
	return p.readStore.Set(ctx, readmodel.ProductsCollection, event.AggregateID, doc)
}

// List returns every product document.
func (p *ProductProjection) List(ctx context.Context) ([]readmodel.ProductReadModel, error) {
	raw, err := p.readStore.List(ctx, readmodel.ProductsCollection)
	if err != nil {
		return nil, err
	}
	products := make([]readmodel.ProductReadModel, 0, len(raw))
	for _, doc := range raw {
		var pr readmodel.ProductReadModel
		if err := json.Unmarshal(doc, &pr); err != nil {
			return nil, err
		}
		products = append(products, pr)
	}
	return products, nil
}

// Get returns one product document, or false when it does not exist.
func (p *ProductProjection) Get(ctx context.Context, productID string) (readmodel.ProductReadModel, bool, error) {
	var doc readmodel.ProductReadModel
	found, err := p.readStore.Get(ctx, readmodel.ProductsCollection, productID, &doc)
	return doc, found, err
}
