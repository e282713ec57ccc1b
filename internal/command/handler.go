package command

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/example/ec-eventstore/internal/domain/aggregate"
	"github.com/example/ec-eventstore/internal/domain/order"
	"github.com/example/ec-eventstore/internal/domain/product"
	"github.com/example/ec-eventstore/internal/infrastructure/store"
)

const (
	maxConflictRetries = 5
	retryInitialDelay  = 50 * time.Millisecond
	retryMaxDelay      = time.Second
)

// Handler executes commands against the repository. Concurrency conflicts
// are retried here, and only here: each retry reloads the aggregate and
// re-runs business validation against fresh state, so a command that was
// valid against stale state can still be rejected.
type Handler struct {
	repo   *aggregate.Repository
	logger *zap.Logger
}

func NewHandler(repo *aggregate.Repository, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		repo:   repo,
		logger: logger.With(zap.String("component", "command_handler")),
	}
}

// retryOnConflict runs attempt with exponential backoff, retrying only on
// ErrConcurrencyConflict. Any other error, including a business rejection
// computed from the freshly loaded state, aborts immediately.
func (h *Handler) retryOnConflict(ctx context.Context, name string, attempt func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = retryInitialDelay
	policy.MaxInterval = retryMaxDelay

	tries := 0
	err := backoff.Retry(func() error {
		tries++
		err := attempt()
		if err == nil {
			return nil
		}
		if errors.Is(err, store.ErrConcurrencyConflict) {
			h.logger.Debug("concurrency conflict, retrying",
				zap.String("command", name),
				zap.Int("attempt", tries))
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(backoff.WithMaxRetries(policy, maxConflictRetries), ctx))

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Err
	}
	return err
}

// ============================================
// Order Commands
// ============================================

// HandleCreateOrder creates a new order aggregate and returns its id.
// Creation targets a fresh aggregate id, so there is no conflict to retry.
func (h *Handler) HandleCreateOrder(ctx context.Context, cmd CreateOrder) (string, error) {
	orderID, events, err := order.Create(cmd.UserID, cmd.Items, cmd.Metadata)
	if err != nil {
		return "", err
	}
	if _, err := h.repo.Save(ctx, orderID, order.AggregateType, 0, events); err != nil {
		return "", err
	}
	h.logger.Info("order created",
		zap.String("order_id", orderID),
		zap.String("user_id", cmd.UserID))
	return orderID, nil
}

func (h *Handler) HandleAddOrderItem(ctx context.Context, cmd AddOrderItem) error {
	return h.retryOnConflict(ctx, "AddOrderItem", func() error {
		o, err := aggregate.Load(ctx, h.repo, cmd.OrderID, order.New)
		if err != nil {
			return err
		}
		events, err := o.AddItem(cmd.Item, cmd.Metadata)
		if err != nil {
			return err
		}
		_, err = h.repo.Save(ctx, cmd.OrderID, order.AggregateType, o.GetVersion(), events)
		return err
	})
}

func (h *Handler) HandleChangeOrderStatus(ctx context.Context, cmd ChangeOrderStatus) error {
	return h.retryOnConflict(ctx, "ChangeOrderStatus", func() error {
		o, err := aggregate.Load(ctx, h.repo, cmd.OrderID, order.New)
		if err != nil {
			return err
		}
		events, err := o.ChangeStatus(cmd.To, cmd.Metadata)
		if err != nil {
			return err
		}
		_, err = h.repo.Save(ctx, cmd.OrderID, order.AggregateType, o.GetVersion(), events)
		return err
	})
}

func (h *Handler) HandleCancelOrder(ctx context.Context, cmd CancelOrder) error {
	return h.retryOnConflict(ctx, "CancelOrder", func() error {
		o, err := aggregate.Load(ctx, h.repo, cmd.OrderID, order.New)
		if err != nil {
			return err
		}
		events, err := o.Cancel(cmd.Reason, cmd.Metadata)
		if err != nil {
			return err
		}
		_, err = h.repo.Save(ctx, cmd.OrderID, order.AggregateType, o.GetVersion(), events)
		return err
	})
}

// ============================================
// Product Commands
// ============================================

func (h *Handler) HandleCreateProduct(ctx context.Context, cmd CreateProduct) (string, error) {
	productID, events, err := product.Create(cmd.Name, cmd.Description, cmd.Price, cmd.Stock, cmd.Metadata)
	if err != nil {
		return "", err
	}
	if _, err := h.repo.Save(ctx, productID, product.AggregateType, 0, events); err != nil {
		return "", err
	}
	h.logger.Info("product created",
		zap.String("product_id", productID),
		zap.String("name", cmd.Name))
	return productID, nil
}

func (h *Handler) HandleUpdateProduct(ctx context.Context, cmd UpdateProduct) error {
	return h.retryOnConflict(ctx, "UpdateProduct", func() error {
		p, err := aggregate.Load(ctx, h.repo, cmd.ProductID, product.New)
		if err != nil {
			return err
		}
		events, err := p.Update(cmd.Name, cmd.Description, cmd.Metadata)
		if err != nil {
			return err
		}
		_, err = h.repo.Save(ctx, cmd.ProductID, product.AggregateType, p.GetVersion(), events)
		return err
	})
}

func (h *Handler) HandleChangeProductPrice(ctx context.Context, cmd ChangeProductPrice) error {
	return h.retryOnConflict(ctx, "ChangeProductPrice", func() error {
		p, err := aggregate.Load(ctx, h.repo, cmd.ProductID, product.New)
		if err != nil {
			return err
		}
		events, err := p.ChangePrice(cmd.NewPrice, cmd.Metadata)
		if err != nil {
			return err
		}
		_, err = h.repo.Save(ctx, cmd.ProductID, product.AggregateType, p.GetVersion(), events)
		return err
	})
}

func (h *Handler) HandleArchiveProduct(ctx context.Context, cmd ArchiveProduct) error {
	return h.retryOnConflict(ctx, "ArchiveProduct", func() error {
		p, err := aggregate.Load(ctx, h.repo, cmd.ProductID, product.New)
		if err != nil {
			return err
		}
		events, err := p.Archive(cmd.Reason, cmd.Metadata)
		if err != nil {
			return err
		}
		_, err = h.repo.Save(ctx, cmd.ProductID, product.AggregateType, p.GetVersion(), events)
		return err
	})
}
