package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
	StatusRefunded  Status = "refunded"
)

// transitions is the full set of legal status edges. Everything else is
// rejected with ErrInvalidTransition.
var transitions = map[Status][]Status{
	StatusPending:   {StatusPaid, StatusCancelled, StatusRefunded},
	StatusPaid:      {StatusDelivered, StatusRefunded},
	StatusDelivered: {StatusRefunded},
	StatusCancelled: {},
	StatusRefunded:  {},
}

func (s Status) CanTransition(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Order is one purchase. Address and the expected amounts are immutable once
// set; status only moves along the edges above.
type Order struct {
	ID             string          `json:"id"`
	GuildID        string          `json:"guild_id"`
	BuyerID        string          `json:"buyer_id"`
	SellerID       string          `json:"seller_id"`
	ProductID      string          `json:"product_id"`
	Quantity       int             `json:"quantity"`
	Address        string          `json:"address"`
	AmountLTC      decimal.Decimal `json:"amount_ltc"`
	AmountUSD      decimal.Decimal `json:"amount_usd"`
	AmountReceived decimal.Decimal `json:"amount_received"`
	Status         Status          `json:"status"`
	TxID           string          `json:"txid,omitempty"`
	DeliveredKeys  string          `json:"-"`
	TicketChannel  string          `json:"ticket_channel,omitempty"`
	RefundedBy     string          `json:"refunded_by,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	DeliveredAt    *time.Time      `json:"delivered_at,omitempty"`
	RefundedAt     *time.Time      `json:"refunded_at,omitempty"`
}

// Transaction is an observed external payment. TxID is unique system-wide:
// one chain transaction can pay at most one order.
type Transaction struct {
	OrderID       string          `json:"order_id"`
	TxID          string          `json:"txid"`
	Amount        decimal.Decimal `json:"amount"`
	Confirmations int             `json:"confirmations"`
	ObservedAt    time.Time       `json:"observed_at"`
}

// Stats summarises a guild's (optionally one seller's) order history.
type Stats struct {
	TotalOrders     int             `json:"total_orders"`
	DeliveredOrders int             `json:"delivered_orders"`
	PendingOrders   int             `json:"pending_orders"`
	RevenueLTC      decimal.Decimal `json:"revenue_ltc"`
	RevenueUSD      decimal.Decimal `json:"revenue_usd"`
}
