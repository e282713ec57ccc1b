package order

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ec-eventstore/internal/domain/aggregate"
	"github.com/example/ec-eventstore/internal/infrastructure/store"
)

func mustMarshal(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func storedEvent(t *testing.T, seq int, eventType string, payload any) store.Event {
	t.Helper()
	return store.Event{
		ID:             "evt-" + eventType,
		AggregateID:    "order-123",
		AggregateType:  AggregateType,
		EventType:      eventType,
		SchemaVersion:  SchemaVersion,
		SequenceNumber: seq,
		Data:           mustMarshal(t, payload),
		OccurredAt:     time.Date(2026, 1, 1, 0, 0, seq, 0, time.UTC),
	}
}

func createdEvent(t *testing.T, seq int) store.Event {
	return storedEvent(t, seq, EventOrderCreated, OrderCreated{
		OrderID: "order-123",
		UserID:  "user-1",
		Items:   []OrderItem{{ProductID: "prod-1", Quantity: 2, Price: 1000}},
		Total:   2000,
	})
}

func statusEvent(t *testing.T, seq int, from, to Status) store.Event {
	return storedEvent(t, seq, EventOrderStatusChanged, OrderStatusChanged{
		OrderID: "order-123",
		From:    from,
		To:      to,
	})
}

// ============================================
// Create Command Tests
// ============================================

func TestCreate_Success(t *testing.T) {
	items := []OrderItem{
		{ProductID: "prod-1", Quantity: 2, Price: 1000},
		{ProductID: "prod-2", Quantity: 1, Price: 2000},
	}

	orderID, events, err := Create("user-123", items, store.Metadata{Actor: "user-123"})

	require.NoError(t, err)
	assert.NotEmpty(t, orderID)
	require.Len(t, events, 1)
	assert.Equal(t, EventOrderCreated, events[0].EventType)

	data := events[0].Data.(OrderCreated)
	assert.Equal(t, orderID, data.OrderID)
	assert.Equal(t, "user-123", data.UserID)
	assert.Equal(t, 4000, data.Total) // 2*1000 + 1*2000
}

func TestCreate_EmptyItems(t *testing.T) {
	_, events, err := Create("user-123", []OrderItem{}, store.Metadata{})

	assert.ErrorIs(t, err, ErrEmptyOrder)
	assert.Nil(t, events)
}

func TestCreate_NilItems(t *testing.T) {
	_, events, err := Create("user-123", nil, store.Metadata{})

	assert.ErrorIs(t, err, ErrEmptyOrder)
	assert.Nil(t, events)
}

func TestCreate_ZeroQuantity(t *testing.T) {
	items := []OrderItem{{ProductID: "prod-1", Quantity: 0, Price: 1000}}

	_, _, err := Create("user-123", items, store.Metadata{})

	assert.ErrorIs(t, err, ErrInvalidQuantity)
}

// ============================================
// AddItem Command Tests
// ============================================

func TestAddItem_Success(t *testing.T) {
	o := New()
	require.NoError(t, o.ApplyEvent(createdEvent(t, 1)))

	events, err := o.AddItem(OrderItem{ProductID: "prod-3", Quantity: 1, Price: 500}, store.Metadata{})

	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventOrderItemAdded, events[0].EventType)
}

func TestAddItem_TerminalOrder(t *testing.T) {
	o := New()
	require.NoError(t, o.ApplyEvent(createdEvent(t, 1)))
	require.NoError(t, o.ApplyEvent(storedEvent(t, 2, EventOrderCancelled, OrderCancelled{OrderID: "order-123"})))

	_, err := o.AddItem(OrderItem{ProductID: "prod-3", Quantity: 1, Price: 500}, store.Metadata{})

	assert.ErrorIs(t, err, ErrOrderClosed)
}

func TestAddItem_InvalidQuantity(t *testing.T) {
	o := New()
	require.NoError(t, o.ApplyEvent(createdEvent(t, 1)))

	_, err := o.AddItem(OrderItem{ProductID: "prod-3", Quantity: -1, Price: 500}, store.Metadata{})

	assert.ErrorIs(t, err, ErrInvalidQuantity)
}

// ============================================
// Status Machine Tests
// ============================================

func TestChangeStatus_HappyPath(t *testing.T) {
	o := New()
	require.NoError(t, o.ApplyEvent(createdEvent(t, 1)))

	path := []Status{
		StatusPaymentPending,
		StatusPaymentCompleted,
		StatusProcessing,
		StatusShipped,
		StatusDelivered,
	}
	seq := 2
	for _, next := range path {
		events, err := o.ChangeStatus(next, store.Metadata{})
		require.NoError(t, err, "transition %s -> %s", o.Status, next)
		require.Len(t, events, 1)

		require.NoError(t, o.ApplyEvent(statusEvent(t, seq, o.Status, next)))
		assert.Equal(t, next, o.Status)
		seq++
	}
	assert.True(t, o.IsTerminal())
}

func TestChangeStatus_SkippingStep(t *testing.T) {
	o := New()
	require.NoError(t, o.ApplyEvent(createdEvent(t, 1)))

	// created -> shipped skips payment and processing
	_, err := o.ChangeStatus(StatusShipped, store.Metadata{})

	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestChangeStatus_FromTerminal(t *testing.T) {
	o := New()
	require.NoError(t, o.ApplyEvent(createdEvent(t, 1)))
	require.NoError(t, o.ApplyEvent(storedEvent(t, 2, EventOrderCancelled, OrderCancelled{OrderID: "order-123"})))

	_, err := o.ChangeStatus(StatusPaymentPending, store.Metadata{})

	assert.ErrorIs(t, err, ErrOrderClosed)
}

func TestCancel_FromEveryNonTerminalStatus(t *testing.T) {
	for _, status := range []Status{
		StatusCreated,
		StatusPaymentPending,
		StatusPaymentCompleted,
		StatusProcessing,
		StatusShipped,
	} {
		t.Run(string(status), func(t *testing.T) {
			o := New()
			require.NoError(t, o.ApplyEvent(createdEvent(t, 1)))
			o.Status = status

			events, err := o.Cancel("customer request", store.Metadata{})

			require.NoError(t, err)
			require.Len(t, events, 1)
			data := events[0].Data.(OrderCancelled)
			assert.Equal(t, "customer request", data.Reason)
		})
	}
}

func TestCancel_FromDelivered(t *testing.T) {
	o := New()
	require.NoError(t, o.ApplyEvent(createdEvent(t, 1)))
	o.Status = StatusDelivered

	_, err := o.Cancel("too late", store.Metadata{})

	assert.ErrorIs(t, err, ErrOrderClosed)
}

func TestCancel_AlreadyCancelled(t *testing.T) {
	o := New()
	require.NoError(t, o.ApplyEvent(createdEvent(t, 1)))
	require.NoError(t, o.ApplyEvent(storedEvent(t, 2, EventOrderCancelled, OrderCancelled{OrderID: "order-123"})))

	_, err := o.Cancel("duplicate", store.Metadata{})

	assert.ErrorIs(t, err, ErrOrderClosed)
}

// ============================================
// Fold / Replay Tests
// ============================================

func TestFold_RebuildsFullState(t *testing.T) {
	events := []store.Event{
		createdEvent(t, 1),
		storedEvent(t, 2, EventOrderItemAdded, OrderItemAdded{
			OrderID: "order-123",
			Item:    OrderItem{ProductID: "prod-2", Quantity: 1, Price: 500},
		}),
		statusEvent(t, 3, StatusCreated, StatusPaymentPending),
		statusEvent(t, 4, StatusPaymentPending, StatusPaymentCompleted),
	}

	o := New()
	require.NoError(t, aggregate.Fold(o, events))

	assert.Equal(t, "order-123", o.GetID())
	assert.Equal(t, 4, o.GetVersion())
	assert.Equal(t, StatusPaymentCompleted, o.Status)
	assert.Len(t, o.Items, 2)
	assert.Equal(t, 2500, o.Total)
}

func TestFold_DeterministicAcrossBatchSplits(t *testing.T) {
	events := []store.Event{
		createdEvent(t, 1),
		statusEvent(t, 2, StatusCreated, StatusPaymentPending),
		statusEvent(t, 3, StatusPaymentPending, StatusPaymentCompleted),
		storedEvent(t, 4, EventOrderCancelled, OrderCancelled{OrderID: "order-123", Reason: "refund"}),
	}

	whole := New()
	require.NoError(t, aggregate.Fold(whole, events))

	split := New()
	require.NoError(t, aggregate.Fold(split, events[:2]))
	require.NoError(t, aggregate.Fold(split, events[2:]))

	assert.Equal(t, whole, split)
}

func TestFold_UnknownEventTypeIsFatal(t *testing.T) {
	events := []store.Event{
		createdEvent(t, 1),
		storedEvent(t, 2, "OrderTeleported", struct{}{}),
	}

	o := New()
	err := aggregate.Fold(o, events)

	var unknownErr *store.UnknownEventTypeError
	require.ErrorAs(t, err, &unknownErr)
	assert.Equal(t, "OrderTeleported", unknownErr.EventType)
	// state before the bad event is intact, nothing was skipped
	assert.Equal(t, 1, o.GetVersion())
}

func TestApplyEvent_SetsVersionFromSequence(t *testing.T) {
	o := New()
	require.NoError(t, o.ApplyEvent(createdEvent(t, 7)))

	assert.Equal(t, 7, o.GetVersion())
}

// ============================================
// Snapshot Round-Trip Tests
// ============================================

func TestOrder_SnapshotRoundTrip(t *testing.T) {
	o := New()
	require.NoError(t, o.ApplyEvent(createdEvent(t, 1)))
	require.NoError(t, o.ApplyEvent(statusEvent(t, 2, StatusCreated, StatusPaymentPending)))

	state, err := json.Marshal(o)
	require.NoError(t, err)

	restored := New()
	require.NoError(t, json.Unmarshal(state, restored))

	assert.Equal(t, o, restored)
}
