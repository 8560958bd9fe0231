package inventory

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is a listing owned by a seller inside one guild. Stock is a
// reconciled counter; the unused units of the product are authoritative.
type Product struct {
	ID          string          `json:"id"`
	GuildID     string          `json:"guild_id"`
	SellerID    string          `json:"seller_id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	PriceLTC    decimal.Decimal `json:"price_ltc"`
	PriceUSD    decimal.Decimal `json:"price_usd"`
	Stock       int             `json:"stock"`
	ImageURL    string          `json:"image_url,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Unit is one redeemable secret tied to a product. Once used, UsedBy and
// UsedAt are set and never cleared.
type Unit struct {
	ID        string     `json:"id"`
	ProductID string     `json:"product_id"`
	Payload   string     `json:"-"`
	Used      bool       `json:"used"`
	UsedBy    string     `json:"used_by,omitempty"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// ProductUpdate carries the optional fields of an edit; nil fields are left
// untouched.
type ProductUpdate struct {
	Name        *string
	Description *string
	PriceLTC    *decimal.Decimal
	PriceUSD    *decimal.Decimal
	Stock       *int
	ImageURL    *string
}
