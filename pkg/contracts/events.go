package contracts

import "time"

const (
	EventOrderCreated       = "orders.created"
	EventOrderStatusChanged = "orders.status_changed"
)

type OrderCreatedEvent struct {
	EventID   string    `json:"event_id"`
	OrderID   string    `json:"order_id"`
	GuildID   string    `json:"guild_id"`
	BuyerID   string    `json:"buyer_id"`
	SellerID  string    `json:"seller_id"`
	ProductID string    `json:"product_id"`
	Quantity  int       `json:"quantity"`
	AmountLTC string    `json:"amount_ltc"`
	AmountUSD string    `json:"amount_usd"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
}

type OrderStatusChangedEvent struct {
	EventID   string    `json:"event_id"`
	OrderID   string    `json:"order_id"`
	GuildID   string    `json:"guild_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	TxID      string    `json:"txid,omitempty"`
	ChangedAt time.Time `json:"changed_at"`
}
