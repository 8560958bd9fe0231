package session

// Flow types, one per wizard.
const (
	TypeSetup         = "setup"
	TypeAddProduct    = "addproduct"
	TypeEditProduct   = "editproduct"
	TypeDeleteProduct = "deleteproduct"
	TypeAddStock      = "addstock"
	TypeBuy           = "buy"
	TypeDeliver       = "deliver"
	TypeRefund        = "refund"
	TypeAddAdmin      = "addadmin"
	TypeRemoveAdmin   = "removeadmin"
	TypeSold          = "sold"
)

// Flow is the ordered step list of one wizard. Keeping these as data makes
// step progression testable without the messaging platform.
type Flow struct {
	Type  string
	Steps []string
}

func (f Flow) First() string {
	return f.Steps[0]
}

// Next returns the step after the given one, or ok=false when step is the
// last (or unknown) one.
func (f Flow) Next(step string) (string, bool) {
	for i, s := range f.Steps {
		if s == step && i+1 < len(f.Steps) {
			return f.Steps[i+1], true
		}
	}
	return "", false
}

func (f Flow) Last(step string) bool {
	return len(f.Steps) > 0 && f.Steps[len(f.Steps)-1] == step
}

var Flows = map[string]Flow{
	TypeSetup: {Type: TypeSetup, Steps: []string{
		"ltc_address", "qr_url", "ticket_category", "vouch_channel", "log_channel", "seller_role",
	}},
	TypeAddProduct: {Type: TypeAddProduct, Steps: []string{
		"name", "description", "usd_price", "ltc_price", "image",
	}},
	TypeEditProduct: {Type: TypeEditProduct, Steps: []string{
		"product", "field", "value",
	}},
	TypeDeleteProduct: {Type: TypeDeleteProduct, Steps: []string{
		"product",
	}},
	TypeAddStock: {Type: TypeAddStock, Steps: []string{
		"product", "keys",
	}},
	TypeBuy: {Type: TypeBuy, Steps: []string{
		"select_product", "quantity",
	}},
	TypeDeliver: {Type: TypeDeliver, Steps: []string{
		"order",
	}},
	TypeRefund: {Type: TypeRefund, Steps: []string{
		"order",
	}},
	TypeAddAdmin: {Type: TypeAddAdmin, Steps: []string{
		"user",
	}},
	TypeRemoveAdmin: {Type: TypeRemoveAdmin, Steps: []string{
		"user",
	}},
	TypeSold: {Type: TypeSold, Steps: []string{
		"period",
	}},
}
