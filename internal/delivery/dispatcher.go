// Package delivery turns a paid order into a delivered one: it reserves
// deliverable units, snapshots them on the order and tells the buyer.
package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/justenes1/purchasebot/internal/inventory"
	"github.com/justenes1/purchasebot/internal/ledger"
)

// Notifier is the messaging side of a delivery. Failures here are logged
// and never roll anything back: inventory is consumed at most once even
// when the buyer cannot be reached.
type Notifier interface {
	OrderDelivered(ctx context.Context, o *ledger.Order, payloads []string) error
	StockShort(ctx context.Context, o *ledger.Order, reserved, requested int) error
}

type Dispatcher struct {
	inv      *inventory.Service
	orders   *ledger.Service
	notifier Notifier
	logger   *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewDispatcher(inv *inventory.Service, orders *ledger.Service, notifier Notifier, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		inv:      inv,
		orders:   orders,
		notifier: notifier,
		logger:   logger,
		locks:    make(map[string]*sync.Mutex),
	}
}

// Deliver completes a paid order. An order short on stock (down to zero
// units) is still marked delivered with whatever was reserved; the seller
// is alerted to sort the remainder out manually.
func (d *Dispatcher) Deliver(ctx context.Context, o *ledger.Order) error {
	unlock := d.lockOrder(o.ID)
	defer unlock()

	// Reload under the lock; a concurrent delivery may have won.
	cur, err := d.orders.Get(ctx, o.ID)
	if err != nil {
		return err
	}
	if cur.Status != ledger.StatusPaid {
		d.logger.Info("skipping delivery, order not paid",
			"order_id", cur.ID, "status", cur.Status)
		return nil
	}

	payloads, err := d.inv.Reserve(ctx, cur.ProductID, cur.Quantity, cur.BuyerID)
	if err != nil {
		return fmt.Errorf("reserve units: %w", err)
	}

	joined := strings.Join(payloads, "\n")
	delivered, err := d.orders.Transition(ctx, cur.ID, ledger.StatusDelivered, ledger.Fields{
		DeliveredKeys: &joined,
	})
	if err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}

	if len(payloads) < cur.Quantity {
		d.logger.Warn("delivered short on stock",
			"order_id", cur.ID, "reserved", len(payloads), "requested", cur.Quantity)
		if err := d.notifier.StockShort(ctx, delivered, len(payloads), cur.Quantity); err != nil {
			d.logger.Warn("stock-short notification failed", "order_id", cur.ID, "err", err)
		}
	}

	if err := d.notifier.OrderDelivered(ctx, delivered, payloads); err != nil {
		d.logger.Warn("delivery notification failed", "order_id", cur.ID, "err", err)
	}

	d.logger.Info("order delivered", "order_id", cur.ID, "units", len(payloads))
	return nil
}

func (d *Dispatcher) lockOrder(orderID string) func() {
	d.mu.Lock()
	lock, ok := d.locks[orderID]
	if !ok {
		lock = &sync.Mutex{}
		d.locks[orderID] = lock
	}
	d.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
