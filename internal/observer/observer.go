// Package observer drives the payment reconciliation loop: it watches
// pending orders, matches inbound transfers on their receiving addresses and
// moves matched orders to paid.
package observer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/justenes1/purchasebot/internal/chain"
	"github.com/justenes1/purchasebot/internal/ledger"
)

// Feed abstracts the blockchain explorer so ticks can run against a fake
// in tests.
type Feed interface {
	AddressTransfers(ctx context.Context, address string) ([]chain.Transfer, error)
}

// Dispatcher receives orders the moment they become paid.
type Dispatcher interface {
	Deliver(ctx context.Context, o *ledger.Order) error
}

// Notifier tells the buyer about orders cancelled by expiry.
type Notifier interface {
	OrderExpired(ctx context.Context, o *ledger.Order) error
}

type Config struct {
	Interval     time.Duration
	OrderExpiry  time.Duration
	ClockSkew    time.Duration
	FeeTolerance decimal.Decimal
}

type Observer struct {
	orders   *ledger.Service
	feed     Feed
	dispatch Dispatcher
	notifier Notifier
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

func New(orders *ledger.Service, feed Feed, dispatch Dispatcher, notifier Notifier, cfg Config, logger *slog.Logger) *Observer {
	return &Observer{
		orders:   orders,
		feed:     feed,
		dispatch: dispatch,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

func (o *Observer) Start(ctx context.Context) {
	go o.loop(ctx)
}

func (o *Observer) loop(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := o.Tick(ctx); err != nil {
			o.logger.Error("payment tick failed", "err", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Tick runs one reconciliation pass over all pending orders. A failure on
// one order never blocks the rest of the batch.
func (o *Observer) Tick(ctx context.Context) error {
	pending, err := o.orders.Pending(ctx)
	if err != nil {
		return fmt.Errorf("list pending orders: %w", err)
	}

	for i := range pending {
		ord := &pending[i]
		if err := o.reconcileOrder(ctx, ord); err != nil {
			o.logger.Warn("reconcile order failed", "order_id", ord.ID, "err", err)
		}
	}
	return nil
}

func (o *Observer) reconcileOrder(ctx context.Context, ord *ledger.Order) error {
	now := o.now().UTC()

	if now.Sub(ord.CreatedAt) > o.cfg.OrderExpiry {
		return o.expire(ctx, ord)
	}

	transfers, err := o.feed.AddressTransfers(ctx, ord.Address)
	if err != nil {
		return fmt.Errorf("fetch transfers for %s: %w", ord.Address, err)
	}

	// Incoming movements only, and never anything sent before the order
	// existed (minus a small clock-drift allowance).
	earliest := ord.CreatedAt.Add(-o.cfg.ClockSkew)
	for _, t := range transfers {
		if !t.Received || t.Time.Before(earliest) {
			continue
		}

		amount := t.Amount()
		if !o.withinTolerance(amount, ord.AmountLTC) {
			continue
		}

		if need := RequiredConfirmations(ord.AmountLTC); t.Confirmations < need {
			o.logger.Info("awaiting confirmations",
				"order_id", ord.ID, "txid", t.TxID,
				"confirmations", t.Confirmations, "required", need)
			continue
		}

		recorded, err := o.orders.RecordTransaction(ctx, ord.ID, t.TxID, amount, t.Confirmations)
		if err != nil {
			return err
		}
		if !recorded {
			// txid already credited somewhere, possibly to another order.
			continue
		}

		txid := t.TxID
		paid, err := o.orders.Transition(ctx, ord.ID, ledger.StatusPaid, ledger.Fields{
			TxID:           &txid,
			AmountReceived: &amount,
		})
		if err != nil {
			return err
		}

		o.logger.Info("payment matched",
			"order_id", ord.ID, "txid", txid, "amount", amount.String())

		if err := o.dispatch.Deliver(ctx, paid); err != nil {
			return fmt.Errorf("deliver order %s: %w", ord.ID, err)
		}
		// At most one accepted transaction per order; extra transfers and
		// overpayments are ignored.
		return nil
	}
	return nil
}

func (o *Observer) expire(ctx context.Context, ord *ledger.Order) error {
	if _, err := o.orders.Transition(ctx, ord.ID, ledger.StatusCancelled, ledger.Fields{}); err != nil {
		return fmt.Errorf("cancel expired order: %w", err)
	}
	o.logger.Info("order expired", "order_id", ord.ID)

	if err := o.notifier.OrderExpired(ctx, ord); err != nil {
		o.logger.Warn("expiry notification failed", "order_id", ord.ID, "err", err)
	}
	return nil
}

func (o *Observer) withinTolerance(observed, expected decimal.Decimal) bool {
	diff := observed.Sub(expected).Abs()
	return diff.LessThanOrEqual(expected.Mul(o.cfg.FeeTolerance))
}

// RequiredConfirmations scales the confirmation requirement with the order
// amount: tiny payments clear after one block, large ones wait longer.
func RequiredConfirmations(amount decimal.Decimal) int {
	switch {
	case amount.LessThanOrEqual(decimal.RequireFromString("0.1")):
		return 1
	case amount.LessThanOrEqual(decimal.NewFromInt(1)):
		return 3
	case amount.LessThanOrEqual(decimal.NewFromInt(10)):
		return 6
	default:
		return 10
	}
}
