package observer

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justenes1/purchasebot/internal/chain"
	"github.com/justenes1/purchasebot/internal/ledger"
	"github.com/justenes1/purchasebot/internal/storage/memory"
)

type fakeFeed struct {
	transfers map[string][]chain.Transfer
	errs      map[string]error
}

func (f *fakeFeed) AddressTransfers(ctx context.Context, address string) ([]chain.Transfer, error) {
	if err := f.errs[address]; err != nil {
		return nil, err
	}
	return f.transfers[address], nil
}

type fakeDispatcher struct {
	delivered []string
}

func (d *fakeDispatcher) Deliver(ctx context.Context, o *ledger.Order) error {
	d.delivered = append(d.delivered, o.ID)
	return nil
}

type fakeNotifier struct {
	expired []string
}

func (n *fakeNotifier) OrderExpired(ctx context.Context, o *ledger.Order) error {
	n.expired = append(n.expired, o.ID)
	return nil
}

type fixture struct {
	orders   *ledger.Service
	feed     *fakeFeed
	dispatch *fakeDispatcher
	notifier *fakeNotifier
	obs      *Observer
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		feed:     &fakeFeed{transfers: map[string][]chain.Transfer{}, errs: map[string]error{}},
		dispatch: &fakeDispatcher{},
		notifier: &fakeNotifier{},
		now:      time.Now().UTC(),
	}
	f.orders = ledger.NewService(memory.NewStore())
	f.obs = New(f.orders, f.feed, f.dispatch, f.notifier, Config{
		Interval:     time.Second,
		OrderExpiry:  30 * time.Minute,
		ClockSkew:    time.Minute,
		FeeTolerance: decimal.RequireFromString("0.05"),
	}, slog.New(slog.NewTextHandler(testWriter{t}, nil)))
	f.obs.now = func() time.Time { return f.now }
	return f
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func (f *fixture) createOrder(t *testing.T, address, amountLTC string) *ledger.Order {
	t.Helper()
	o, err := f.orders.Create(context.Background(), ledger.CreateOrderInput{
		GuildID:   "g1",
		BuyerID:   "buyer1",
		SellerID:  "seller1",
		ProductID: "PROD-1234",
		Quantity:  1,
		Address:   address,
		AmountLTC: decimal.RequireFromString(amountLTC),
		AmountUSD: decimal.RequireFromString("80"),
	})
	require.NoError(t, err)
	return o
}

// ltc converts a decimal LTC string to the feed's base units.
func ltc(s string) int64 {
	d := decimal.RequireFromString(s)
	return d.Shift(8).IntPart()
}

func (f *fixture) status(t *testing.T, orderID string) ledger.Status {
	t.Helper()
	o, err := f.orders.Get(context.Background(), orderID)
	require.NoError(t, err)
	return o.Status
}

func TestTickMatchesExactPayment(t *testing.T) {
	f := newFixture(t)
	o := f.createOrder(t, "addr1", "0.5")

	f.feed.transfers["addr1"] = []chain.Transfer{{
		TxID:          "tx1",
		Received:      true,
		Value:         ltc("0.5"),
		Time:          f.now,
		Confirmations: 3,
	}}

	require.NoError(t, f.obs.Tick(context.Background()))

	assert.Equal(t, ledger.StatusPaid, f.status(t, o.ID))
	assert.Equal(t, []string{o.ID}, f.dispatch.delivered)

	got, err := f.orders.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, "tx1", got.TxID)
	assert.True(t, got.AmountReceived.Equal(decimal.RequireFromString("0.5")))
}

func TestTickAcceptsUnderpaymentWithinTolerance(t *testing.T) {
	f := newFixture(t)
	o := f.createOrder(t, "addj", "1")

	// 4% short, inside the 5% fee tolerance.
	f.feed.transfers["addj"] = []chain.Transfer{{
		TxID: "tx1", Received: true, Value: ltc("0.96"), Time: f.now, Confirmations: 6,
	}}

	require.NoError(t, f.obs.Tick(context.Background()))
	assert.Equal(t, ledger.StatusPaid, f.status(t, o.ID))
}

func TestTickRejectsAmountOutsideTolerance(t *testing.T) {
	f := newFixture(t)
	o := f.createOrder(t, "addr1", "1")

	// 6% short.
	f.feed.transfers["addr1"] = []chain.Transfer{{
		TxID: "tx1", Received: true, Value: ltc("0.94"), Time: f.now, Confirmations: 6,
	}}

	require.NoError(t, f.obs.Tick(context.Background()))
	assert.Equal(t, ledger.StatusPending, f.status(t, o.ID))
	assert.Empty(t, f.dispatch.delivered)
}

func TestTickWaitsForConfirmations(t *testing.T) {
	f := newFixture(t)
	// 0.5 LTC needs 3 confirmations.
	o := f.createOrder(t, "addr1", "0.5")

	transfer := chain.Transfer{
		TxID: "tx1", Received: true, Value: ltc("0.5"), Time: f.now, Confirmations: 1,
	}
	f.feed.transfers["addr1"] = []chain.Transfer{transfer}

	require.NoError(t, f.obs.Tick(context.Background()))
	assert.Equal(t, ledger.StatusPending, f.status(t, o.ID), "one confirmation is not enough for 0.5 LTC")

	transfer.Confirmations = 3
	f.feed.transfers["addr1"] = []chain.Transfer{transfer}

	require.NoError(t, f.obs.Tick(context.Background()))
	assert.Equal(t, ledger.StatusPaid, f.status(t, o.ID))
}

func TestTickIgnoresOutgoingAndStaleTransfers(t *testing.T) {
	f := newFixture(t)
	o := f.createOrder(t, "addr1", "0.5")

	f.feed.transfers["addr1"] = []chain.Transfer{
		{TxID: "spend", Received: false, Value: ltc("0.5"), Time: f.now, Confirmations: 9},
		// Sent two minutes before the order existed, beyond the skew window.
		{TxID: "old", Received: true, Value: ltc("0.5"), Time: f.now.Add(-2 * time.Minute), Confirmations: 9},
	}

	require.NoError(t, f.obs.Tick(context.Background()))
	assert.Equal(t, ledger.StatusPending, f.status(t, o.ID))
}

func TestTickExpiresStaleOrders(t *testing.T) {
	f := newFixture(t)
	o := f.createOrder(t, "addr1", "0.5")

	f.now = f.now.Add(31 * time.Minute)

	require.NoError(t, f.obs.Tick(context.Background()))
	assert.Equal(t, ledger.StatusCancelled, f.status(t, o.ID))
	assert.Equal(t, []string{o.ID}, f.notifier.expired)
	assert.Empty(t, f.dispatch.delivered)
}

func TestTickFeedErrorDoesNotBlockOtherOrders(t *testing.T) {
	f := newFixture(t)
	broken := f.createOrder(t, "addr-broken", "0.5")
	healthy := f.createOrder(t, "addr-ok", "0.5")

	f.feed.errs["addr-broken"] = errors.New("explorer down")
	f.feed.transfers["addr-ok"] = []chain.Transfer{{
		TxID: "tx1", Received: true, Value: ltc("0.5"), Time: f.now, Confirmations: 3,
	}}

	require.NoError(t, f.obs.Tick(context.Background()))
	assert.Equal(t, ledger.StatusPending, f.status(t, broken.ID))
	assert.Equal(t, ledger.StatusPaid, f.status(t, healthy.ID))
}

func TestTickDuplicateTxidCreditsOneOrder(t *testing.T) {
	f := newFixture(t)
	first := f.createOrder(t, "shared-addr", "0.5")
	second := f.createOrder(t, "shared-addr", "0.5")

	f.feed.transfers["shared-addr"] = []chain.Transfer{{
		TxID: "tx1", Received: true, Value: ltc("0.5"), Time: f.now, Confirmations: 3,
	}}

	require.NoError(t, f.obs.Tick(context.Background()))

	firstStatus := f.status(t, first.ID)
	secondStatus := f.status(t, second.ID)
	paid := 0
	if firstStatus == ledger.StatusPaid {
		paid++
	}
	if secondStatus == ledger.StatusPaid {
		paid++
	}
	assert.Equal(t, 1, paid, "one chain transaction pays exactly one order")
	assert.Len(t, f.dispatch.delivered, 1)
}

func TestRequiredConfirmations(t *testing.T) {
	cases := []struct {
		amount string
		want   int
	}{
		{"0.05", 1},
		{"0.1", 1},
		{"0.5", 3},
		{"1", 3},
		{"5", 6},
		{"10", 6},
		{"25", 10},
	}
	for _, tc := range cases {
		got := RequiredConfirmations(decimal.RequireFromString(tc.amount))
		assert.Equal(t, tc.want, got, "amount %s", tc.amount)
	}
}
