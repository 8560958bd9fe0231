package ledger_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justenes1/purchasebot/internal/ledger"
	"github.com/justenes1/purchasebot/internal/storage/memory"
	"github.com/justenes1/purchasebot/pkg/contracts"
)

type recordingListener struct {
	changes []string
}

func (l *recordingListener) OrderStatusChanged(orderID, status string) {
	l.changes = append(l.changes, orderID+":"+status)
}

func newLedger(t *testing.T, listeners ...ledger.StatusListener) (*ledger.Service, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	return ledger.NewService(store, listeners...), store
}

func createOrder(t *testing.T, svc *ledger.Service) *ledger.Order {
	t.Helper()
	o, err := svc.Create(context.Background(), ledger.CreateOrderInput{
		GuildID:   "g1",
		BuyerID:   "buyer1",
		SellerID:  "seller1",
		ProductID: "PROD-1234",
		Quantity:  2,
		Address:   "ltc1qexample",
		AmountLTC: decimal.RequireFromString("1.0"),
		AmountUSD: decimal.RequireFromString("80"),
	})
	require.NoError(t, err)
	return o
}

func TestCreateOrder(t *testing.T) {
	svc, store := newLedger(t)
	o := createOrder(t, svc)

	assert.Equal(t, ledger.StatusPending, o.Status)
	assert.Contains(t, o.ID, "ORD-")

	require.Len(t, store.Events, 1, "creation writes one outbox event")
	assert.Equal(t, contracts.EventOrderCreated, store.Events[0].Type)

	var evt contracts.OrderCreatedEvent
	require.NoError(t, json.Unmarshal(store.Events[0].Payload, &evt))
	assert.Equal(t, o.ID, evt.OrderID)
	assert.Equal(t, "1", evt.AmountLTC)
	assert.NotEmpty(t, evt.EventID)
}

func TestCreateOrderValidation(t *testing.T) {
	svc, _ := newLedger(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, ledger.CreateOrderInput{
		GuildID: "g1", BuyerID: "b", SellerID: "s", ProductID: "p",
		Quantity: 0, Address: "addr", AmountLTC: decimal.NewFromInt(1),
	})
	assert.Error(t, err, "zero quantity")

	_, err = svc.Create(ctx, ledger.CreateOrderInput{
		GuildID: "g1", BuyerID: "b", SellerID: "s", ProductID: "p",
		Quantity: 1, Address: "", AmountLTC: decimal.NewFromInt(1),
	})
	assert.Error(t, err, "missing address")

	_, err = svc.Create(ctx, ledger.CreateOrderInput{
		GuildID: "g1", BuyerID: "b", SellerID: "s", ProductID: "p",
		Quantity: 1, Address: "addr", AmountLTC: decimal.Zero,
	})
	assert.Error(t, err, "non-positive amount")
}

func TestTransitionHappyPath(t *testing.T) {
	listener := &recordingListener{}
	svc, _ := newLedger(t, listener)
	ctx := context.Background()
	o := createOrder(t, svc)

	txid := "abc123"
	amount := decimal.RequireFromString("1.01")
	paid, err := svc.Transition(ctx, o.ID, ledger.StatusPaid, ledger.Fields{
		TxID:           &txid,
		AmountReceived: &amount,
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPaid, paid.Status)
	assert.Equal(t, "abc123", paid.TxID)
	assert.True(t, paid.AmountReceived.Equal(amount))

	keys := "k1\nk2"
	delivered, err := svc.Transition(ctx, o.ID, ledger.StatusDelivered, ledger.Fields{
		DeliveredKeys: &keys,
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusDelivered, delivered.Status)
	assert.NotNil(t, delivered.DeliveredAt)

	assert.Equal(t, []string{o.ID + ":paid", o.ID + ":delivered"}, listener.changes)
}

func TestTransitionRejectsIllegalEdges(t *testing.T) {
	svc, _ := newLedger(t)
	ctx := context.Background()

	cases := []struct {
		name string
		prep []ledger.Status
		to   ledger.Status
	}{
		{"pending to delivered", nil, ledger.StatusDelivered},
		{"delivered back to pending", []ledger.Status{ledger.StatusPaid, ledger.StatusDelivered}, ledger.StatusPending},
		{"cancelled to paid", []ledger.Status{ledger.StatusCancelled}, ledger.StatusPaid},
		{"refunded to anything", []ledger.Status{ledger.StatusRefunded}, ledger.StatusPaid},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := createOrder(t, svc)
			for _, s := range tc.prep {
				_, err := svc.Transition(ctx, o.ID, s, ledger.Fields{})
				require.NoError(t, err)
			}
			_, err := svc.Transition(ctx, o.ID, tc.to, ledger.Fields{})
			assert.ErrorIs(t, err, ledger.ErrInvalidTransition)
		})
	}
}

func TestTransitionUnknownOrder(t *testing.T) {
	svc, _ := newLedger(t)
	_, err := svc.Transition(context.Background(), "ORD-0000", ledger.StatusPaid, ledger.Fields{})
	assert.ErrorIs(t, err, ledger.ErrOrderNotFound)
}

func TestTransitionEmitsStatusEvent(t *testing.T) {
	svc, store := newLedger(t)
	o := createOrder(t, svc)

	_, err := svc.Transition(context.Background(), o.ID, ledger.StatusCancelled, ledger.Fields{})
	require.NoError(t, err)

	require.Len(t, store.Events, 2)
	assert.Equal(t, contracts.EventOrderStatusChanged, store.Events[1].Type)

	var evt contracts.OrderStatusChangedEvent
	require.NoError(t, json.Unmarshal(store.Events[1].Payload, &evt))
	assert.Equal(t, o.ID, evt.OrderID)
	assert.Equal(t, string(ledger.StatusPending), evt.From)
	assert.Equal(t, string(ledger.StatusCancelled), evt.To)
}

func TestRecordTransactionDedup(t *testing.T) {
	svc, _ := newLedger(t)
	ctx := context.Background()
	o := createOrder(t, svc)
	other := createOrder(t, svc)

	inserted, err := svc.RecordTransaction(ctx, o.ID, "tx1", decimal.NewFromInt(1), 3)
	require.NoError(t, err)
	assert.True(t, inserted)

	// Same txid again, even against another order, is a no-op.
	inserted, err = svc.RecordTransaction(ctx, o.ID, "tx1", decimal.NewFromInt(1), 4)
	require.NoError(t, err)
	assert.False(t, inserted)

	inserted, err = svc.RecordTransaction(ctx, other.ID, "tx1", decimal.NewFromInt(1), 3)
	require.NoError(t, err)
	assert.False(t, inserted, "one chain transaction pays at most one order")

	txs, err := svc.Transactions(ctx, o.ID)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestRefundSetsAuditFields(t *testing.T) {
	svc, _ := newLedger(t)
	ctx := context.Background()
	o := createOrder(t, svc)

	_, err := svc.Transition(ctx, o.ID, ledger.StatusPaid, ledger.Fields{})
	require.NoError(t, err)

	by := "admin1"
	refunded, err := svc.Transition(ctx, o.ID, ledger.StatusRefunded, ledger.Fields{RefundedBy: &by})
	require.NoError(t, err)
	assert.Equal(t, "admin1", refunded.RefundedBy)
	assert.NotNil(t, refunded.RefundedAt)
}

func TestStatsAndSold(t *testing.T) {
	svc, _ := newLedger(t)
	ctx := context.Background()

	delivered := createOrder(t, svc)
	_, err := svc.Transition(ctx, delivered.ID, ledger.StatusPaid, ledger.Fields{})
	require.NoError(t, err)
	_, err = svc.Transition(ctx, delivered.ID, ledger.StatusDelivered, ledger.Fields{})
	require.NoError(t, err)

	createOrder(t, svc) // stays pending

	stats, err := svc.Stats(ctx, "g1", "")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalOrders)
	assert.Equal(t, 1, stats.DeliveredOrders)
	assert.Equal(t, 1, stats.PendingOrders)
	assert.True(t, stats.RevenueLTC.Equal(decimal.RequireFromString("1.0")))

	sold, err := svc.Sold(ctx, "g1", "seller1", time.Time{})
	require.NoError(t, err)
	require.Len(t, sold, 1)
	assert.Equal(t, delivered.ID, sold[0].ID)

	sold, err = svc.Sold(ctx, "g1", "someone-else", time.Time{})
	require.NoError(t, err)
	assert.Empty(t, sold)
}
