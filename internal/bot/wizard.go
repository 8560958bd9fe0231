package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/shopspring/decimal"

	"github.com/justenes1/purchasebot/internal/guild"
	"github.com/justenes1/purchasebot/internal/inventory"
	"github.com/justenes1/purchasebot/internal/ledger"
	"github.com/justenes1/purchasebot/internal/session"
	"github.com/justenes1/purchasebot/internal/ticket"
)

// prompts holds the question asked at each wizard step.
var prompts = map[string]map[string]string{
	session.TypeSetup: {
		"ltc_address":     "What is the server's default Litecoin receiving address?",
		"qr_url":          "Link a QR code image for that address, or say `skip`.",
		"ticket_category": "Which category should ticket channels go under? (mention or ID)",
		"vouch_channel":   "Which channel should vouches be posted in? (mention or ID)",
		"log_channel":     "Which channel should order logs go to? (mention or ID)",
		"seller_role":     "Which role marks sellers? (mention or ID)",
	},
	session.TypeAddProduct: {
		"name":        "Product name?",
		"description": "Short description?",
		"usd_price":   "Price in USD?",
		"ltc_price":   "Price in LTC?",
		"image":       "Image URL, or `skip`.",
	},
	session.TypeEditProduct: {
		"product": "Which product? Give its number from your listing or its PROD id.",
		"field":   "Which field: `name`, `description`, `usd_price`, `ltc_price` or `image`?",
		"value":   "New value?",
	},
	session.TypeDeleteProduct: {
		"product": "Which product should be deleted? Number or PROD id. This also removes its stock.",
	},
	session.TypeAddStock: {
		"product": "Which product gets the stock? Number or PROD id.",
		"keys":    "Paste the keys, one per line.",
	},
	session.TypeBuy: {
		"select_product": "Which product? Give its number from the shop or its PROD id.",
		"quantity":       "How many?",
	},
	session.TypeDeliver: {
		"order": "Which order? Give its ORD id.",
	},
	session.TypeRefund: {
		"order": "Which order should be refunded? Give its ORD id.",
	},
	session.TypeAddAdmin: {
		"user": "Who becomes a seller? Mention them.",
	},
	session.TypeRemoveAdmin: {
		"user": "Who stops being a seller? Mention them.",
	},
	session.TypeSold: {
		"period": "Which period: `24h`, `7d`, `30d` or `all`?",
	},
}

func (b *Bot) startWizard(ctx context.Context, m *discordgo.MessageCreate, flowType string, data map[string]string) {
	sess, err := b.sessions.Start(ctx, m.Author.ID, m.GuildID, m.ChannelID, flowType, data)
	if err != nil {
		b.logger.Error("start wizard failed", "flow", flowType, "err", err)
		return
	}

	if flowType == session.TypeBuy {
		products, err := b.inv.List(ctx, m.GuildID)
		if err == nil {
			b.replyEmbed(m.ChannelID, shopEmbed(products))
		}
	}
	b.reply(m.ChannelID, prompts[flowType][sess.Step]+" (`"+Prefix+"cancel` to stop)")
}

func (b *Bot) handleWizardAnswer(ctx context.Context, m *discordgo.MessageCreate, sess *session.Session) {
	answer := strings.TrimSpace(m.Content)

	value, problem := b.validateStep(ctx, sess, answer)
	if problem != "" {
		b.reply(m.ChannelID, problem)
		// keep the step, refresh the expiry
		if err := b.sessions.SetStep(ctx, sess, sess.Step, nil); err != nil {
			b.logger.Warn("refresh session failed", "err", err)
		}
		return
	}

	sess.Data[sess.Step] = value
	done, err := b.sessions.Advance(ctx, sess, sess.Data)
	if err != nil {
		b.logger.Error("advance wizard failed", "flow", sess.Type, "err", err)
		return
	}
	if !done {
		b.reply(m.ChannelID, prompts[sess.Type][sess.Step])
		return
	}

	b.completeWizard(ctx, m, sess)
}

// validateStep normalizes one answer, returning a user-facing problem
// string when the answer cannot be used.
func (b *Bot) validateStep(ctx context.Context, sess *session.Session, answer string) (string, string) {
	if answer == "" {
		return "", "I need an answer, or `" + Prefix + "cancel`."
	}

	switch sess.Type {
	case session.TypeSetup:
		switch sess.Step {
		case "qr_url":
			if strings.EqualFold(answer, "skip") {
				return "", ""
			}
		case "ticket_category", "vouch_channel", "log_channel", "seller_role":
			return parseChannelOrRole(answer), ""
		}

	case session.TypeAddProduct:
		switch sess.Step {
		case "usd_price", "ltc_price":
			d, err := decimal.NewFromString(answer)
			if err != nil || d.IsNegative() {
				return "", "That is not a valid price."
			}
			return d.String(), ""
		case "image":
			if strings.EqualFold(answer, "skip") {
				return "", ""
			}
		}

	case session.TypeEditProduct:
		switch sess.Step {
		case "product":
			p, problem := b.resolveSellerProduct(ctx, sess, answer)
			if problem != "" {
				return "", problem
			}
			return p.ID, ""
		case "field":
			f := strings.ToLower(answer)
			switch f {
			case "name", "description", "usd_price", "ltc_price", "image":
				return f, ""
			}
			return "", "Pick one of `name`, `description`, `usd_price`, `ltc_price`, `image`."
		case "value":
			field := sess.Data["field"]
			if field == "usd_price" || field == "ltc_price" {
				d, err := decimal.NewFromString(answer)
				if err != nil || d.IsNegative() {
					return "", "That is not a valid price."
				}
				return d.String(), ""
			}
		}

	case session.TypeDeleteProduct, session.TypeAddStock:
		if sess.Step == "product" {
			p, problem := b.resolveSellerProduct(ctx, sess, answer)
			if problem != "" {
				return "", problem
			}
			return p.ID, ""
		}

	case session.TypeBuy:
		switch sess.Step {
		case "select_product":
			p, problem := b.resolveGuildProduct(ctx, sess.GuildID, answer)
			if problem != "" {
				return "", problem
			}
			return p.ID, ""
		case "quantity":
			n, err := parsePositiveInt(answer)
			if err != nil {
				return "", "Quantity must be a whole number of at least 1."
			}
			return strconv.Itoa(n), ""
		}

	case session.TypeDeliver, session.TypeRefund:
		id := normalizeID(answer)
		if _, err := b.orders.Get(ctx, id); err != nil {
			if errors.Is(err, ledger.ErrOrderNotFound) {
				return "", "No such order."
			}
			b.logger.Error("order lookup failed", "err", err)
			return "", "Lookup failed, try again."
		}
		return id, ""

	case session.TypeAddAdmin, session.TypeRemoveAdmin:
		return parseMention(answer), ""

	case session.TypeSold:
		p := strings.ToLower(answer)
		if _, ok := sincePeriod(p, time.Now().UTC()); !ok {
			return "", "Use `24h`, `7d`, `30d` or `all`."
		}
		return p, ""
	}

	return answer, ""
}

func (b *Bot) completeWizard(ctx context.Context, m *discordgo.MessageCreate, sess *session.Session) {
	data := sess.Data

	switch sess.Type {
	case session.TypeSetup:
		upd := guild.ConfigUpdate{
			LTCAddress:       ptr(data["ltc_address"]),
			QRURL:            ptr(data["qr_url"]),
			TicketCategoryID: ptr(data["ticket_category"]),
			VouchChannelID:   ptr(data["vouch_channel"]),
			LogChannelID:     ptr(data["log_channel"]),
			SellerRoleID:     ptr(data["seller_role"]),
		}
		if _, err := b.guilds.UpsertConfig(ctx, sess.GuildID, upd); err != nil {
			b.logger.Error("save guild config failed", "err", err)
			b.reply(m.ChannelID, "Could not save the configuration.")
			return
		}
		b.reply(m.ChannelID, "Setup complete. Add sellers with `"+Prefix+"addseller @user`.")

	case session.TypeAddProduct:
		in := inventory.AddProductInput{
			GuildID:     sess.GuildID,
			SellerID:    m.Author.ID,
			Name:        data["name"],
			Description: data["description"],
			ImageURL:    data["image"],
		}
		in.PriceUSD, _ = decimal.NewFromString(data["usd_price"])
		in.PriceLTC, _ = decimal.NewFromString(data["ltc_price"])

		p, err := b.inv.AddProduct(ctx, in)
		if err != nil {
			b.logger.Error("add product failed", "err", err)
			b.reply(m.ChannelID, "Could not create the product.")
			return
		}
		b.reply(m.ChannelID, fmt.Sprintf("Created %s (`%s`). Add stock with `%saddstock`.", p.Name, p.ID, Prefix))

	case session.TypeEditProduct:
		upd, problem := productUpdateFor(data["field"], data["value"])
		if problem != "" {
			b.reply(m.ChannelID, problem)
			return
		}
		p, err := b.inv.Update(ctx, data["product"], upd)
		if err != nil {
			b.logger.Error("edit product failed", "err", err)
			b.reply(m.ChannelID, "Could not update the product.")
			return
		}
		b.reply(m.ChannelID, fmt.Sprintf("Updated %s (`%s`).", p.Name, p.ID))

	case session.TypeDeleteProduct:
		if err := b.inv.DeleteProduct(ctx, data["product"]); err != nil {
			b.logger.Error("delete product failed", "err", err)
			b.reply(m.ChannelID, "Could not delete the product.")
			return
		}
		b.reply(m.ChannelID, "Product deleted.")

	case session.TypeAddStock:
		added := 0
		for _, line := range strings.Split(data["keys"], "\n") {
			payload := strings.TrimSpace(line)
			if payload == "" {
				continue
			}
			if _, err := b.inv.AddUnit(ctx, data["product"], payload); err != nil {
				b.logger.Error("add unit failed", "product_id", data["product"], "err", err)
				continue
			}
			added++
		}
		b.reply(m.ChannelID, fmt.Sprintf("Added %d keys to `%s`.", added, data["product"]))

	case session.TypeBuy:
		b.completeBuy(ctx, m, sess)

	case session.TypeDeliver:
		b.deliverOrder(ctx, m, data["order"])

	case session.TypeRefund:
		b.refundOrder(ctx, m, data["order"])

	case session.TypeAddAdmin:
		b.cmdSellerChange(ctx, m, []string{data["user"]}, true)

	case session.TypeRemoveAdmin:
		b.cmdSellerChange(ctx, m, []string{data["user"]}, false)

	case session.TypeSold:
		b.cmdSold(ctx, m, []string{data["period"]})
	}
}

// completeBuy creates the order, opens a purchase ticket when the guild
// has a ticket category and posts the invoice.
func (b *Bot) completeBuy(ctx context.Context, m *discordgo.MessageCreate, sess *session.Session) {
	p, err := b.inv.Get(ctx, sess.Data["select_product"])
	if err != nil {
		b.logger.Error("product vanished mid-purchase", "err", err)
		b.reply(m.ChannelID, "That product is no longer available.")
		return
	}
	qty, _ := strconv.Atoi(sess.Data["quantity"])

	address, qrURL, err := b.guilds.ReceivingAddress(ctx, sess.GuildID, p.SellerID)
	if err != nil {
		if errors.Is(err, guild.ErrNotConfigured) {
			b.reply(m.ChannelID, "No receiving address configured. Ask an admin to run `"+Prefix+"setup`.")
			return
		}
		b.logger.Error("receiving address lookup failed", "err", err)
		return
	}

	o, err := b.orders.Create(ctx, ledger.CreateOrderInput{
		GuildID:   sess.GuildID,
		BuyerID:   m.Author.ID,
		SellerID:  p.SellerID,
		ProductID: p.ID,
		Quantity:  qty,
		Address:   address,
		AmountLTC: p.PriceLTC.Mul(decimal.NewFromInt(int64(qty))),
		AmountUSD: p.PriceUSD.Mul(decimal.NewFromInt(int64(qty))),
	})
	if err != nil {
		b.logger.Error("create order failed", "err", err)
		b.reply(m.ChannelID, "Could not create the order.")
		return
	}

	invoiceChannel := m.ChannelID
	if cfg, err := b.guilds.Config(ctx, sess.GuildID); err == nil && cfg != nil && cfg.TicketCategoryID != "" {
		if ch := b.openPurchaseTicket(ctx, m, cfg.TicketCategoryID, o, p); ch != "" {
			invoiceChannel = ch
			b.reply(m.ChannelID, fmt.Sprintf("Order %s created, payment details in <#%s>.", o.ID, ch))
		}
	}

	b.replyEmbed(invoiceChannel, invoiceEmbed(o, p, qrURL))
	b.logger.Info("order created",
		"order_id", o.ID, "buyer_id", o.BuyerID, "product_id", p.ID, "quantity", qty)
}

func (b *Bot) openPurchaseTicket(ctx context.Context, m *discordgo.MessageCreate, categoryID string, o *ledger.Order, p *inventory.Product) string {
	ch, err := b.session.GuildChannelCreateComplex(m.GuildID, discordgo.GuildChannelCreateData{
		Name:     strings.ToLower(o.ID),
		Type:     discordgo.ChannelTypeGuildText,
		ParentID: categoryID,
		PermissionOverwrites: []*discordgo.PermissionOverwrite{
			{ID: m.GuildID, Type: discordgo.PermissionOverwriteTypeRole, Deny: discordgo.PermissionViewChannel},
			{ID: o.BuyerID, Type: discordgo.PermissionOverwriteTypeMember, Allow: discordgo.PermissionViewChannel | discordgo.PermissionSendMessages},
			{ID: o.SellerID, Type: discordgo.PermissionOverwriteTypeMember, Allow: discordgo.PermissionViewChannel | discordgo.PermissionSendMessages},
		},
	})
	if err != nil {
		b.logger.Warn("create purchase ticket channel failed", "order_id", o.ID, "err", err)
		return ""
	}

	t, err := b.tickets.Create(ctx, m.GuildID, ch.ID, o.BuyerID, ticket.TypePurchase)
	if err != nil {
		b.logger.Warn("create purchase ticket failed", "order_id", o.ID, "err", err)
		return ch.ID
	}
	if err := b.tickets.SetProduct(ctx, t.ID, o.SellerID, p.Name); err != nil {
		b.logger.Warn("tag ticket product failed", "ticket_id", t.ID, "err", err)
	}
	if err := b.orders.SetTicketChannel(ctx, o.ID, ch.ID); err != nil {
		b.logger.Warn("link order ticket failed", "order_id", o.ID, "err", err)
	}
	return ch.ID
}

// resolveSellerProduct resolves a number in the seller's own listing or a
// PROD id, and checks ownership.
func (b *Bot) resolveSellerProduct(ctx context.Context, sess *session.Session, input string) (*inventory.Product, string) {
	var p *inventory.Product
	var err error

	if n, convErr := strconv.Atoi(input); convErr == nil {
		p, err = b.inv.ByNumber(ctx, sess.GuildID, sess.UserID, n)
	} else {
		p, err = b.inv.Get(ctx, normalizeID(input))
	}
	if err != nil {
		if errors.Is(err, inventory.ErrProductNotFound) {
			return nil, "No such product."
		}
		b.logger.Error("product lookup failed", "err", err)
		return nil, "Lookup failed, try again."
	}
	if p.SellerID != sess.UserID && sess.UserID != b.ownerID {
		return nil, "That product belongs to another seller."
	}
	return p, ""
}

func (b *Bot) resolveGuildProduct(ctx context.Context, guildID, input string) (*inventory.Product, string) {
	if n, convErr := strconv.Atoi(input); convErr == nil {
		products, err := b.inv.List(ctx, guildID)
		if err != nil {
			b.logger.Error("list products failed", "err", err)
			return nil, "Lookup failed, try again."
		}
		if n < 1 || n > len(products) {
			return nil, "No product with that number."
		}
		return &products[n-1], ""
	}

	p, err := b.inv.Get(ctx, normalizeID(input))
	if err != nil {
		if errors.Is(err, inventory.ErrProductNotFound) {
			return nil, "No such product."
		}
		b.logger.Error("product lookup failed", "err", err)
		return nil, "Lookup failed, try again."
	}
	return p, ""
}

func productUpdateFor(field, value string) (inventory.ProductUpdate, string) {
	var upd inventory.ProductUpdate
	switch field {
	case "name":
		upd.Name = &value
	case "description":
		upd.Description = &value
	case "image":
		upd.ImageURL = &value
	case "usd_price":
		d, err := decimal.NewFromString(value)
		if err != nil {
			return upd, "That is not a valid price."
		}
		upd.PriceUSD = &d
	case "ltc_price":
		d, err := decimal.NewFromString(value)
		if err != nil {
			return upd, "That is not a valid price."
		}
		upd.PriceLTC = &d
	default:
		return upd, "Unknown field."
	}
	return upd, ""
}

// parseChannelOrRole strips <#...> and <@&...> mention wrappers.
func parseChannelOrRole(s string) string {
	s = strings.TrimPrefix(s, "<#")
	s = strings.TrimPrefix(s, "<@&")
	return strings.TrimSuffix(s, ">")
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, fmt.Errorf("must be positive")
	}
	return n, nil
}

func ptr(s string) *string { return &s }
