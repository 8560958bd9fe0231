package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

const orderColumns = `order_id, guild_id, buyer_id, seller_id, product_id, quantity, ltc_address,
	amount_ltc, amount_usd, amount_received, status, COALESCE(txid, ''), COALESCE(delivered_keys, ''),
	COALESCE(ticket_channel_id, ''), COALESCE(refunded_by, ''), created_at, updated_at, delivered_at, refunded_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.GuildID, &o.BuyerID, &o.SellerID, &o.ProductID, &o.Quantity, &o.Address,
		&o.AmountLTC, &o.AmountUSD, &o.AmountReceived, &o.Status, &o.TxID, &o.DeliveredKeys,
		&o.TicketChannel, &o.RefundedBy, &o.CreatedAt, &o.UpdatedAt, &o.DeliveredAt, &o.RefundedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *PGStore) InsertOrder(ctx context.Context, o *Order, evt *OutboxEvent) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO orders (order_id, guild_id, buyer_id, seller_id, product_id, quantity, ltc_address,
			amount_ltc, amount_usd, amount_received, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, $10, $11, $11)`,
		o.ID, o.GuildID, o.BuyerID, o.SellerID, o.ProductID, o.Quantity, o.Address,
		o.AmountLTC, o.AmountUSD, o.Status, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	if err := insertOutbox(ctx, tx, evt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PGStore) GetOrder(ctx context.Context, id string) (*Order, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx, `
		SELECT `+orderColumns+` FROM orders WHERE order_id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

func (s *PGStore) OrderExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM orders WHERE order_id = $1)`, id).Scan(&exists)
	return exists, err
}

func (s *PGStore) OrdersByBuyer(ctx context.Context, buyerID string) ([]Order, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE buyer_id = $1
		ORDER BY created_at DESC`, buyerID)
	if err != nil {
		return nil, fmt.Errorf("query buyer orders: %w", err)
	}
	defer rows.Close()
	return collectOrders(rows)
}

// PendingOrders returns oldest first so orders closest to expiry are
// examined before fresher ones each tick.
func (s *PGStore) PendingOrders(ctx context.Context) ([]Order, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE status = 'pending'
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("query pending orders: %w", err)
	}
	defer rows.Close()
	return collectOrders(rows)
}

func collectOrders(rows pgx.Rows) ([]Order, error) {
	var result []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *o)
	}
	return result, rows.Err()
}

// ApplyTransition performs the status change conditionally on the expected
// current status, so a lost race surfaces as ok=false instead of a double
// apply. The outbox row commits with it.
func (s *PGStore) ApplyTransition(ctx context.Context, orderID string, from, to Status, set Fields, evt *OutboxEvent) (bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE orders SET
			status          = $3,
			txid            = COALESCE($4, txid),
			amount_received = COALESCE($5, amount_received),
			delivered_keys  = COALESCE($6, delivered_keys),
			refunded_by     = COALESCE($7, refunded_by),
			delivered_at    = COALESCE($8, delivered_at),
			refunded_at     = COALESCE($9, refunded_at),
			updated_at      = NOW()
		WHERE order_id = $1 AND status = $2`,
		orderID, from, to, set.TxID, set.AmountReceived, set.DeliveredKeys,
		set.RefundedBy, set.DeliveredAt, set.RefundedAt,
	)
	if err != nil {
		return false, fmt.Errorf("update order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if err := insertOutbox(ctx, tx, evt); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (s *PGStore) SetTicketChannel(ctx context.Context, orderID, channelID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE orders SET ticket_channel_id = $2 WHERE order_id = $1`,
		orderID, channelID)
	return err
}

// InsertTransaction is idempotent on txid: a duplicate is a silent no-op
// and reports inserted=false.
func (s *PGStore) InsertTransaction(ctx context.Context, t *Transaction) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO transactions (order_id, txid, amount, confirmations, observed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (txid) DO NOTHING`,
		t.OrderID, t.TxID, t.Amount, t.Confirmations, t.ObservedAt,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PGStore) TransactionsByOrder(ctx context.Context, orderID string) ([]Transaction, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT order_id, txid, amount, confirmations, observed_at
		FROM transactions
		WHERE order_id = $1
		ORDER BY observed_at ASC`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var result []Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.OrderID, &t.TxID, &t.Amount, &t.Confirmations, &t.ObservedAt); err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (s *PGStore) SoldOrders(ctx context.Context, guildID, sellerID string, since time.Time) ([]Order, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE guild_id = $1
		  AND status = 'delivered'
		  AND ($2 = '' OR seller_id = $2)
		  AND created_at >= $3
		ORDER BY created_at DESC`, guildID, sellerID, since)
	if err != nil {
		return nil, fmt.Errorf("query sold orders: %w", err)
	}
	defer rows.Close()
	return collectOrders(rows)
}

func (s *PGStore) Stats(ctx context.Context, guildID, sellerID string) (*Stats, error) {
	var st Stats
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'delivered'),
			COUNT(*) FILTER (WHERE status = 'pending'),
			COALESCE(SUM(amount_ltc) FILTER (WHERE status = 'delivered'), 0),
			COALESCE(SUM(amount_usd) FILTER (WHERE status = 'delivered'), 0)
		FROM orders
		WHERE guild_id = $1 AND ($2 = '' OR seller_id = $2)`,
		guildID, sellerID,
	).Scan(&st.TotalOrders, &st.DeliveredOrders, &st.PendingOrders, &st.RevenueLTC, &st.RevenueUSD)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	return &st, nil
}

func insertOutbox(ctx context.Context, tx pgx.Tx, evt *OutboxEvent) error {
	if evt == nil {
		return nil
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO order_outbox (event_id, event_type, payload)
		VALUES ($1, $2, $3)`,
		evt.ID, evt.Type, evt.Payload,
	)
	if err != nil {
		return fmt.Errorf("insert outbox: %w", err)
	}
	return nil
}
