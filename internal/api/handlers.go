package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/example/ec-eventstore/internal/command"
	"github.com/example/ec-eventstore/internal/domain/order"
	"github.com/example/ec-eventstore/internal/domain/product"
	"github.com/example/ec-eventstore/internal/infrastructure/store"
	"github.com/example/ec-eventstore/internal/projection"
	"github.com/example/ec-eventstore/internal/replay"
)

type Handlers struct {
	commands  *command.Handler
	projector *projection.Projector
	logger    *zap.Logger
}

func NewHandlers(commands *command.Handler, projector *projection.Projector, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		commands:  commands,
		projector: projector,
		logger:    logger.With(zap.String("component", "api")),
	}
}

// ============================================
// Order Handlers
// ============================================

func (h *Handlers) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string            `json:"user_id"`
		Items  []order.OrderItem `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	orderID, err := h.commands.HandleCreateOrder(r.Context(), command.CreateOrder{
		UserID:   req.UserID,
		Items:    req.Items,
		Metadata: requestMetadata(r),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"order_id": orderID})
}

func (h *Handlers) GetOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.projector.Orders().List(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, orders)
}

func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := extractPathParam(r.URL.Path, "/orders/")
	doc, found, err := h.projector.Orders().Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if !found {
		http.Error(w, "order not found", http.StatusNotFound)
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

func (h *Handlers) AddOrderItem(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSuffix(extractPathParam(r.URL.Path, "/orders/"), "/items")

	var req struct {
		Item order.OrderItem `json:"item"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err := h.commands.HandleAddOrderItem(r.Context(), command.AddOrderItem{
		OrderID:  id,
		Item:     req.Item,
		Metadata: requestMetadata(r),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "item added"})
}

func (h *Handlers) ChangeOrderStatus(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSuffix(extractPathParam(r.URL.Path, "/orders/"), "/status")

	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err := h.commands.HandleChangeOrderStatus(r.Context(), command.ChangeOrderStatus{
		OrderID:  id,
		To:       order.Status(req.Status),
		Metadata: requestMetadata(r),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "status changed"})
}

func (h *Handlers) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSuffix(extractPathParam(r.URL.Path, "/orders/"), "/cancel")

	var req struct {
		Reason string `json:"reason"`
	}
	// body is optional for cancellation
	_ = json.NewDecoder(r.Body).Decode(&req)

	err := h.commands.HandleCancelOrder(r.Context(), command.CancelOrder{
		OrderID:  id,
		Reason:   req.Reason,
		Metadata: requestMetadata(r),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "order cancelled"})
}

// ============================================
// Product Handlers
// ============================================

func (h *Handlers) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Price       int    `json:"price"`
		Stock       int    `json:"stock"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	productID, err := h.commands.HandleCreateProduct(r.Context(), command.CreateProduct{
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Stock:       req.Stock,
		Metadata:    requestMetadata(r),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"product_id": productID})
}

func (h *Handlers) GetProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.projector.Products().List(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, products)
}

func (h *Handlers) GetProduct(w http.ResponseWriter, r *http.Request) {
	id := extractPathParam(r.URL.Path, "/products/")
	doc, found, err := h.projector.Products().Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if !found {
		http.Error(w, "product not found", http.StatusNotFound)
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

func (h *Handlers) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	id := extractPathParam(r.URL.Path, "/products/")

	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err := h.commands.HandleUpdateProduct(r.Context(), command.UpdateProduct{
		ProductID:   id,
		Name:        req.Name,
		Description: req.Description,
		Metadata:    requestMetadata(r),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "product updated"})
}

func (h *Handlers) ChangeProductPrice(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSuffix(extractPathParam(r.URL.Path, "/products/"), "/price")

	var req struct {
		Price int `json:"price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err := h.commands.HandleChangeProductPrice(r.Context(), command.ChangeProductPrice{
		ProductID: id,
		NewPrice:  req.Price,
		Metadata:  requestMetadata(r),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "price changed"})
}

func (h *Handlers) ArchiveProduct(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSuffix(extractPathParam(r.URL.Path, "/products/"), "/archive")

	var req struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	err := h.commands.HandleArchiveProduct(r.Context(), command.ArchiveProduct{
		ProductID: id,
		Reason:    req.Reason,
		Metadata:  requestMetadata(r),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "product archived"})
}

// ============================================
// Helpers
// ============================================

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func extractPathParam(path, prefix string) string {
	return strings.TrimPrefix(path, prefix)
}

func requestMetadata(r *http.Request) store.Metadata {
	return store.Metadata{
		Actor:         r.Header.Get("X-Actor"),
		CorrelationID: r.Header.Get("X-Correlation-ID"),
		Source:        "api",
	}
}

func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) respondError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
	}
	http.Error(w, err.Error(), status)
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, replay.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConcurrencyConflict):
		return http.StatusConflict
	case errors.Is(err, order.ErrEmptyOrder),
		errors.Is(err, order.ErrInvalidQuantity),
		errors.Is(err, product.ErrInvalidName),
		errors.Is(err, product.ErrInvalidPrice):
		return http.StatusBadRequest
	case errors.Is(err, order.ErrInvalidStatus),
		errors.Is(err, order.ErrOrderClosed),
		errors.Is(err, product.ErrProductArchived):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
