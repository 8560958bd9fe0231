package delivery_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justenes1/purchasebot/internal/delivery"
	"github.com/justenes1/purchasebot/internal/inventory"
	"github.com/justenes1/purchasebot/internal/ledger"
	"github.com/justenes1/purchasebot/internal/storage/memory"
)

type fakeNotifier struct {
	delivered   [][]string
	shortStocks []int
	failDeliver bool
}

func (n *fakeNotifier) OrderDelivered(ctx context.Context, o *ledger.Order, payloads []string) error {
	n.delivered = append(n.delivered, payloads)
	if n.failDeliver {
		return errors.New("dm closed")
	}
	return nil
}

func (n *fakeNotifier) StockShort(ctx context.Context, o *ledger.Order, reserved, requested int) error {
	n.shortStocks = append(n.shortStocks, reserved)
	return nil
}

type fixture struct {
	inv      *inventory.Service
	orders   *ledger.Service
	notifier *fakeNotifier
	disp     *delivery.Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	f := &fixture{
		inv:      inventory.NewService(store),
		orders:   ledger.NewService(store),
		notifier: &fakeNotifier{},
	}
	f.disp = delivery.NewDispatcher(f.inv, f.orders, f.notifier, slog.Default())
	return f
}

func (f *fixture) paidOrder(t *testing.T, productID string, qty int) *ledger.Order {
	t.Helper()
	ctx := context.Background()
	o, err := f.orders.Create(ctx, ledger.CreateOrderInput{
		GuildID: "g1", BuyerID: "buyer1", SellerID: "seller1",
		ProductID: productID, Quantity: qty, Address: "addr",
		AmountLTC: decimal.NewFromInt(1), AmountUSD: decimal.NewFromInt(80),
	})
	require.NoError(t, err)

	txid := "tx1"
	paid, err := f.orders.Transition(ctx, o.ID, ledger.StatusPaid, ledger.Fields{TxID: &txid})
	require.NoError(t, err)
	return paid
}

func (f *fixture) product(t *testing.T, payloads ...string) *inventory.Product {
	t.Helper()
	ctx := context.Background()
	p, err := f.inv.AddProduct(ctx, inventory.AddProductInput{
		GuildID: "g1", SellerID: "seller1", Name: "Key",
		PriceLTC: decimal.NewFromInt(1), PriceUSD: decimal.NewFromInt(80),
	})
	require.NoError(t, err)
	for _, payload := range payloads {
		_, err := f.inv.AddUnit(ctx, p.ID, payload)
		require.NoError(t, err)
	}
	return p
}

func TestDeliverFullOrder(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "k1", "k2", "k3")
	o := f.paidOrder(t, p.ID, 2)

	require.NoError(t, f.disp.Deliver(context.Background(), o))

	got, err := f.orders.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusDelivered, got.Status)
	assert.Equal(t, "k1\nk2", got.DeliveredKeys)

	require.Len(t, f.notifier.delivered, 1)
	assert.Equal(t, []string{"k1", "k2"}, f.notifier.delivered[0])
	assert.Empty(t, f.notifier.shortStocks)

	left, err := f.inv.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, left.Stock)
}

func TestDeliverShortStock(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "only")
	o := f.paidOrder(t, p.ID, 3)

	require.NoError(t, f.disp.Deliver(context.Background(), o))

	got, err := f.orders.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusDelivered, got.Status, "short orders still complete")
	assert.Equal(t, "only", got.DeliveredKeys)

	require.Len(t, f.notifier.shortStocks, 1)
	assert.Equal(t, 1, f.notifier.shortStocks[0])
}

func TestDeliverEmptyPool(t *testing.T) {
	f := newFixture(t)
	p := f.product(t) // no units at all
	o := f.paidOrder(t, p.ID, 1)

	require.NoError(t, f.disp.Deliver(context.Background(), o))

	got, err := f.orders.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusDelivered, got.Status)
	assert.Empty(t, got.DeliveredKeys)
	assert.Len(t, f.notifier.shortStocks, 1)
}

func TestDeliverSkipsNonPaidOrders(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "k1")

	o, err := f.orders.Create(context.Background(), ledger.CreateOrderInput{
		GuildID: "g1", BuyerID: "buyer1", SellerID: "seller1",
		ProductID: p.ID, Quantity: 1, Address: "addr",
		AmountLTC: decimal.NewFromInt(1), AmountUSD: decimal.NewFromInt(80),
	})
	require.NoError(t, err)

	require.NoError(t, f.disp.Deliver(context.Background(), o))

	got, err := f.orders.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPending, got.Status)
	assert.Empty(t, f.notifier.delivered)

	n, err := f.inv.UnusedCount(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "nothing reserved for a non-paid order")
}

func TestDeliverIdempotent(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "k1", "k2")
	o := f.paidOrder(t, p.ID, 1)

	require.NoError(t, f.disp.Deliver(context.Background(), o))
	require.NoError(t, f.disp.Deliver(context.Background(), o))

	n, err := f.inv.UnusedCount(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "second delivery must not consume more units")
	assert.Len(t, f.notifier.delivered, 1)
}

func TestDeliverNotifierFailureDoesNotRollBack(t *testing.T) {
	f := newFixture(t)
	f.notifier.failDeliver = true
	p := f.product(t, "k1")
	o := f.paidOrder(t, p.ID, 1)

	require.NoError(t, f.disp.Deliver(context.Background(), o), "notification failure is not a delivery failure")

	got, err := f.orders.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusDelivered, got.Status)
	assert.Equal(t, "k1", got.DeliveredKeys)
}
