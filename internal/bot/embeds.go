package bot

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/shopspring/decimal"

	"github.com/justenes1/purchasebot/internal/inventory"
	"github.com/justenes1/purchasebot/internal/ledger"
	"github.com/justenes1/purchasebot/internal/observer"
	"github.com/justenes1/purchasebot/internal/vouch"
)

const (
	colorNeutral   = 0x5865F2
	colorPending   = 0xFEE75C
	colorDelivered = 0x57F287
	colorFailed    = 0xED4245
)

func helpEmbed() *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title: "Commands",
		Color: colorNeutral,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Buying", Value: "`" + Prefix + "shop` `" + Prefix + "buy` `" + Prefix + "orders` `" + Prefix + "order ORD-1234` `" + Prefix + "cancel ORD-1234` `" + Prefix + "vouch ORD-1234 5 ...` `" + Prefix + "ticket`"},
			{Name: "Selling", Value: "`" + Prefix + "addproduct` `" + Prefix + "editproduct` `" + Prefix + "delproduct` `" + Prefix + "addstock` `" + Prefix + "deliver` `" + Prefix + "refund` `" + Prefix + "sold` `" + Prefix + "stats` `" + Prefix + "setaddress` `" + Prefix + "tickets` `" + Prefix + "claim`"},
			{Name: "Admin", Value: "`" + Prefix + "setup` `" + Prefix + "addseller @user` `" + Prefix + "removeseller @user` `" + Prefix + "sellers`"},
		},
	}
}

func shopEmbed(products []inventory.Product) *discordgo.MessageEmbed {
	if len(products) == 0 {
		return &discordgo.MessageEmbed{
			Title:       "Shop",
			Description: "Nothing for sale yet.",
			Color:       colorNeutral,
		}
	}

	var sb strings.Builder
	for i, p := range products {
		fmt.Fprintf(&sb, "**%d. %s** — %s LTC / $%s — %d in stock (`%s`)\n",
			i+1, p.Name, p.PriceLTC.String(), p.PriceUSD.StringFixed(2), p.Stock, p.ID)
		if p.Description != "" {
			fmt.Fprintf(&sb, "-# %s\n", p.Description)
		}
	}
	return &discordgo.MessageEmbed{
		Title:       "Shop",
		Description: sb.String(),
		Color:       colorNeutral,
		Footer:      &discordgo.MessageEmbedFooter{Text: "Buy with " + Prefix + "buy"},
	}
}

// invoiceEmbed is the payment request shown right after an order is
// created.
func invoiceEmbed(o *ledger.Order, p *inventory.Product, qrURL string) *discordgo.MessageEmbed {
	need := observer.RequiredConfirmations(o.AmountLTC)
	e := &discordgo.MessageEmbed{
		Title: "Order " + o.ID,
		Description: fmt.Sprintf(
			"Send exactly **%s LTC** to the address below. The order confirms automatically after %d confirmation(s).",
			o.AmountLTC.String(), need),
		Color: colorPending,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Product", Value: fmt.Sprintf("%s × %d", p.Name, o.Quantity), Inline: true},
			{Name: "Total", Value: fmt.Sprintf("%s LTC ($%s)", o.AmountLTC.String(), o.AmountUSD.StringFixed(2)), Inline: true},
			{Name: "Address", Value: "`" + o.Address + "`"},
		},
		Footer: &discordgo.MessageEmbedFooter{Text: "Unpaid orders expire automatically."},
	}
	if qrURL != "" {
		e.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: qrURL}
	}
	return e
}

func orderEmbed(o *ledger.Order) *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{
		Title: "Order " + o.ID,
		Color: statusColor(o.Status),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Status", Value: string(o.Status), Inline: true},
			{Name: "Total", Value: fmt.Sprintf("%s LTC ($%s)", o.AmountLTC.String(), o.AmountUSD.StringFixed(2)), Inline: true},
			{Name: "Product", Value: fmt.Sprintf("`%s` × %d", o.ProductID, o.Quantity), Inline: true},
			{Name: "Created", Value: o.CreatedAt.Format(time.RFC1123)},
		},
	}
	if o.TxID != "" {
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{Name: "Transaction", Value: "`" + o.TxID + "`"})
	}
	return e
}

func ordersEmbed(orders []ledger.Order) *discordgo.MessageEmbed {
	if len(orders) == 0 {
		return &discordgo.MessageEmbed{
			Title:       "Your orders",
			Description: "No orders yet.",
			Color:       colorNeutral,
		}
	}

	var sb strings.Builder
	for _, o := range orders {
		fmt.Fprintf(&sb, "`%s` — %s — %s LTC — %s\n",
			o.ID, o.Status, o.AmountLTC.String(), o.CreatedAt.Format("2006-01-02"))
	}
	return &discordgo.MessageEmbed{
		Title:       "Your orders",
		Description: sb.String(),
		Color:       colorNeutral,
	}
}

func soldEmbed(orders []ledger.Order, period string) *discordgo.MessageEmbed {
	if len(orders) == 0 {
		return &discordgo.MessageEmbed{
			Title:       "Sales (" + period + ")",
			Description: "Nothing sold in that period.",
			Color:       colorNeutral,
		}
	}

	var sb strings.Builder
	totalLTC := decimal.Zero
	for _, o := range orders {
		fmt.Fprintf(&sb, "`%s` — <@%s> — %s LTC — %s\n",
			o.ID, o.BuyerID, o.AmountLTC.String(), o.CreatedAt.Format("2006-01-02"))
		totalLTC = totalLTC.Add(o.AmountLTC)
	}
	fmt.Fprintf(&sb, "\n**%d orders, %s LTC total**", len(orders), totalLTC.String())
	return &discordgo.MessageEmbed{
		Title:       "Sales (" + period + ")",
		Description: sb.String(),
		Color:       colorDelivered,
	}
}

func statsEmbed(stats *ledger.Stats) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title: "Stats",
		Color: colorNeutral,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Orders", Value: fmt.Sprintf("%d", stats.TotalOrders), Inline: true},
			{Name: "Delivered", Value: fmt.Sprintf("%d", stats.DeliveredOrders), Inline: true},
			{Name: "Pending", Value: fmt.Sprintf("%d", stats.PendingOrders), Inline: true},
			{Name: "Revenue", Value: fmt.Sprintf("%s LTC ($%s)", stats.RevenueLTC.String(), stats.RevenueUSD.StringFixed(2))},
		},
	}
}

func vouchEmbed(v *vouch.Vouch, o *ledger.Order) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title: strings.Repeat("★", v.Rating) + strings.Repeat("☆", 5-v.Rating),
		Description: fmt.Sprintf("<@%s> vouched for <@%s>\n> %s",
			v.UserID, v.SellerID, v.Message),
		Color:  colorDelivered,
		Footer: &discordgo.MessageEmbedFooter{Text: "Order " + o.ID},
	}
}

func deliveredEmbed(o *ledger.Order, payloads []string) *discordgo.MessageEmbed {
	var sb strings.Builder
	for _, p := range payloads {
		fmt.Fprintf(&sb, "||`%s`||\n", p)
	}
	if len(payloads) == 0 {
		sb.WriteString("The seller will send your items manually.")
	}
	return &discordgo.MessageEmbed{
		Title:       "Order " + o.ID + " delivered",
		Description: sb.String(),
		Color:       colorDelivered,
		Footer:      &discordgo.MessageEmbedFooter{Text: "Vouch with " + Prefix + "vouch " + o.ID + " 5 ..."},
	}
}

func statusColor(s ledger.Status) int {
	switch s {
	case ledger.StatusDelivered, ledger.StatusPaid:
		return colorDelivered
	case ledger.StatusPending:
		return colorPending
	case ledger.StatusCancelled, ledger.StatusRefunded:
		return colorFailed
	}
	return colorNeutral
}
