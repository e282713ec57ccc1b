package projection

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/example/ec-eventstore/internal/domain/order"
	"github.com/example/ec-eventstore/internal/domain/product"
	"github.com/example/ec-eventstore/internal/infrastructure/store"
)

// Projector routes published events to the projection that maintains the
// matching read model. It is the live-consumption counterpart of the replay
// engine's rebuild path; both funnel into the same Handle methods.
type Projector struct {
	orders   *OrderProjection
	products *ProductProjection
	logger   *zap.Logger
}

func NewProjector(readStore store.ReadStore, logger *zap.Logger) *Projector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Projector{
		orders:   NewOrderProjection(readStore),
		products: NewProductProjection(readStore),
		logger:   logger.With(zap.String("component", "projector")),
	}
}

func (p *Projector) Orders() *OrderProjection     { return p.orders }
func (p *Projector) Products() *ProductProjection { return p.products }

// HandleMessage decodes a published event envelope and dispatches it. It is
// shaped as a kafka.MessageHandler so a consumer can plug it in directly.
func (p *Projector) HandleMessage(ctx context.Context, _, value []byte) error {
	event, err := store.DecodeEvent(value)
	if err != nil {
		return fmt.Errorf("decode published event: %w", err)
	}

	p.logger.Debug("event received",
		zap.String("event_type", event.EventType),
		zap.String("aggregate_id", event.AggregateID),
		zap.Int("sequence", event.SequenceNumber))

	switch event.AggregateType {
	case order.AggregateType:
		return p.orders.Handle(ctx, event)
	case product.AggregateType:
		return p.products.Handle(ctx, event)
	default:
		// Other aggregate types are not projected here.
		return nil
	}
}
