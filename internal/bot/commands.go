package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/justenes1/purchasebot/internal/guild"
	"github.com/justenes1/purchasebot/internal/ledger"
	"github.com/justenes1/purchasebot/internal/session"
	"github.com/justenes1/purchasebot/internal/ticket"
	"github.com/justenes1/purchasebot/internal/vouch"
)

func (b *Bot) dispatchCommand(ctx context.Context, m *discordgo.MessageCreate) {
	fields := strings.Fields(m.Content[len(Prefix):])
	if len(fields) == 0 {
		return
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	if m.GuildID == "" {
		b.reply(m.ChannelID, "Commands only work inside a server.")
		return
	}

	switch cmd {
	case "help":
		b.cmdHelp(m)
	case "setup":
		b.requireAdmin(ctx, m, func() { b.startWizard(ctx, m, session.TypeSetup, nil) })
	case "addseller":
		b.requireAdmin(ctx, m, func() { b.cmdSellerChange(ctx, m, args, true) })
	case "removeseller":
		b.requireAdmin(ctx, m, func() { b.cmdSellerChange(ctx, m, args, false) })
	case "sellers":
		b.cmdSellers(ctx, m)
	case "addproduct":
		b.requireSeller(ctx, m, func() { b.startWizard(ctx, m, session.TypeAddProduct, nil) })
	case "editproduct":
		b.requireSeller(ctx, m, func() { b.startWizard(ctx, m, session.TypeEditProduct, nil) })
	case "delproduct":
		b.requireSeller(ctx, m, func() { b.startWizard(ctx, m, session.TypeDeleteProduct, nil) })
	case "addstock":
		b.requireSeller(ctx, m, func() { b.startWizard(ctx, m, session.TypeAddStock, nil) })
	case "shop", "products":
		b.cmdShop(ctx, m)
	case "buy":
		b.cmdBuy(ctx, m)
	case "order":
		b.cmdOrder(ctx, m, args)
	case "orders":
		b.cmdOrders(ctx, m)
	case "deliver":
		b.requireSeller(ctx, m, func() { b.cmdDeliver(ctx, m, args) })
	case "refund":
		b.requireSeller(ctx, m, func() { b.cmdRefund(ctx, m, args) })
	case "sold":
		b.requireSeller(ctx, m, func() { b.cmdSold(ctx, m, args) })
	case "stats":
		b.requireSeller(ctx, m, func() { b.cmdStats(ctx, m) })
	case "vouch":
		b.cmdVouch(ctx, m, args)
	case "rating":
		b.cmdRating(ctx, m, args)
	case "ticket":
		b.cmdTicket(ctx, m)
	case "tickets":
		b.requireSeller(ctx, m, func() { b.cmdTickets(ctx, m) })
	case "claim":
		b.requireSeller(ctx, m, func() { b.cmdClaim(ctx, m) })
	case "close":
		b.cmdClose(ctx, m)
	case "setaddress":
		b.requireSeller(ctx, m, func() { b.cmdSetAddress(ctx, m, args) })
	case "cancel":
		b.cmdCancel(ctx, m, args)
	}
}

func (b *Bot) cmdHelp(m *discordgo.MessageCreate) {
	b.replyEmbed(m.ChannelID, helpEmbed())
}

// requireAdmin runs fn for the bot owner or members with Manage Server.
func (b *Bot) requireAdmin(ctx context.Context, m *discordgo.MessageCreate, fn func()) {
	if m.Author.ID == b.ownerID {
		fn()
		return
	}
	perms, err := b.session.UserChannelPermissions(m.Author.ID, m.ChannelID)
	if err != nil {
		b.logger.Warn("permission lookup failed", "user_id", m.Author.ID, "err", err)
		return
	}
	if perms&discordgo.PermissionManageServer == 0 {
		b.reply(m.ChannelID, "You need the Manage Server permission for that.")
		return
	}
	fn()
}

func (b *Bot) requireSeller(ctx context.Context, m *discordgo.MessageCreate, fn func()) {
	if m.Author.ID == b.ownerID {
		fn()
		return
	}
	ok, err := b.guilds.IsSeller(ctx, m.GuildID, m.Author.ID)
	if err != nil {
		b.logger.Error("seller lookup failed", "user_id", m.Author.ID, "err", err)
		return
	}
	if !ok {
		b.reply(m.ChannelID, "Only registered sellers can do that.")
		return
	}
	fn()
}

func (b *Bot) cmdSellerChange(ctx context.Context, m *discordgo.MessageCreate, args []string, add bool) {
	if len(args) == 0 {
		flow := session.TypeAddAdmin
		if !add {
			flow = session.TypeRemoveAdmin
		}
		b.startWizard(ctx, m, flow, nil)
		return
	}

	userID := parseMention(args[0])
	var err error
	if add {
		err = b.guilds.AddSeller(ctx, m.GuildID, userID, m.Author.ID)
	} else {
		err = b.guilds.RemoveSeller(ctx, m.GuildID, userID)
	}
	switch {
	case errors.Is(err, guild.ErrSellerExists):
		b.reply(m.ChannelID, "That user is already a seller.")
	case errors.Is(err, guild.ErrSellerUnknown):
		b.reply(m.ChannelID, "That user is not a seller.")
	case err != nil:
		b.logger.Error("seller change failed", "err", err)
		b.reply(m.ChannelID, "Something went wrong, try again.")
	case add:
		b.reply(m.ChannelID, fmt.Sprintf("<@%s> is now a seller.", userID))
	default:
		b.reply(m.ChannelID, fmt.Sprintf("<@%s> is no longer a seller.", userID))
	}
}

func (b *Bot) cmdSellers(ctx context.Context, m *discordgo.MessageCreate) {
	sellers, err := b.guilds.Sellers(ctx, m.GuildID)
	if err != nil {
		b.logger.Error("list sellers failed", "err", err)
		return
	}
	if len(sellers) == 0 {
		b.reply(m.ChannelID, "No sellers registered yet.")
		return
	}
	var sb strings.Builder
	for _, s := range sellers {
		fmt.Fprintf(&sb, "<@%s>\n", s.UserID)
	}
	b.reply(m.ChannelID, sb.String())
}

func (b *Bot) cmdShop(ctx context.Context, m *discordgo.MessageCreate) {
	products, err := b.inv.List(ctx, m.GuildID)
	if err != nil {
		b.logger.Error("list products failed", "err", err)
		return
	}
	b.replyEmbed(m.ChannelID, shopEmbed(products))
}

func (b *Bot) cmdBuy(ctx context.Context, m *discordgo.MessageCreate) {
	products, err := b.inv.List(ctx, m.GuildID)
	if err != nil {
		b.logger.Error("list products failed", "err", err)
		return
	}
	if len(products) == 0 {
		b.reply(m.ChannelID, "Nothing for sale here yet.")
		return
	}
	b.startWizard(ctx, m, session.TypeBuy, nil)
}

func (b *Bot) cmdOrder(ctx context.Context, m *discordgo.MessageCreate, args []string) {
	if len(args) == 0 {
		b.reply(m.ChannelID, "Usage: `"+Prefix+"order ORD-1234`")
		return
	}
	o, err := b.orders.Get(ctx, normalizeID(args[0]))
	if err != nil {
		if errors.Is(err, ledger.ErrOrderNotFound) {
			b.reply(m.ChannelID, "No such order.")
			return
		}
		b.logger.Error("get order failed", "err", err)
		return
	}
	if o.BuyerID != m.Author.ID && o.SellerID != m.Author.ID && m.Author.ID != b.ownerID {
		b.reply(m.ChannelID, "That order is not yours.")
		return
	}
	b.replyEmbed(m.ChannelID, orderEmbed(o))
}

func (b *Bot) cmdOrders(ctx context.Context, m *discordgo.MessageCreate) {
	orders, err := b.orders.ByBuyer(ctx, m.Author.ID)
	if err != nil {
		b.logger.Error("list orders failed", "err", err)
		return
	}
	b.replyEmbed(m.ChannelID, ordersEmbed(orders))
}

// cmdDeliver lets a seller fulfil an order by hand, e.g. after an
// off-platform payment. A pending order is marked paid first.
func (b *Bot) cmdDeliver(ctx context.Context, m *discordgo.MessageCreate, args []string) {
	if len(args) == 0 {
		b.startWizard(ctx, m, session.TypeDeliver, nil)
		return
	}
	b.deliverOrder(ctx, m, normalizeID(args[0]))
}

func (b *Bot) deliverOrder(ctx context.Context, m *discordgo.MessageCreate, orderID string) {
	o, err := b.orders.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, ledger.ErrOrderNotFound) {
			b.reply(m.ChannelID, "No such order.")
			return
		}
		b.logger.Error("get order failed", "err", err)
		return
	}
	if o.SellerID != m.Author.ID && m.Author.ID != b.ownerID {
		b.reply(m.ChannelID, "Only the order's seller can deliver it.")
		return
	}

	if o.Status == ledger.StatusPending {
		txid := "manual:" + m.Author.ID
		o, err = b.orders.Transition(ctx, o.ID, ledger.StatusPaid, ledger.Fields{TxID: &txid})
		if err != nil {
			b.logger.Error("manual paid transition failed", "order_id", orderID, "err", err)
			b.reply(m.ChannelID, "Could not mark the order paid.")
			return
		}
	}
	if o.Status != ledger.StatusPaid {
		b.reply(m.ChannelID, fmt.Sprintf("Order %s is %s, nothing to deliver.", o.ID, o.Status))
		return
	}

	if err := b.dispatcher.Deliver(ctx, o); err != nil {
		b.logger.Error("manual delivery failed", "order_id", orderID, "err", err)
		b.reply(m.ChannelID, "Delivery failed, check the logs.")
		return
	}
	b.reply(m.ChannelID, fmt.Sprintf("Order %s delivered.", orderID))
}

func (b *Bot) cmdRefund(ctx context.Context, m *discordgo.MessageCreate, args []string) {
	if len(args) == 0 {
		b.startWizard(ctx, m, session.TypeRefund, nil)
		return
	}
	b.refundOrder(ctx, m, normalizeID(args[0]))
}

func (b *Bot) refundOrder(ctx context.Context, m *discordgo.MessageCreate, orderID string) {
	by := m.Author.ID
	_, err := b.orders.Transition(ctx, orderID, ledger.StatusRefunded, ledger.Fields{RefundedBy: &by})
	switch {
	case errors.Is(err, ledger.ErrOrderNotFound):
		b.reply(m.ChannelID, "No such order.")
	case errors.Is(err, ledger.ErrInvalidTransition):
		b.reply(m.ChannelID, "That order cannot be refunded from its current status.")
	case err != nil:
		b.logger.Error("refund failed", "order_id", orderID, "err", err)
		b.reply(m.ChannelID, "Refund failed, try again.")
	default:
		b.reply(m.ChannelID, fmt.Sprintf("Order %s marked refunded. Send the coins back manually.", orderID))
	}
}

func (b *Bot) cmdSold(ctx context.Context, m *discordgo.MessageCreate, args []string) {
	period := "all"
	if len(args) > 0 {
		period = strings.ToLower(args[0])
	}
	since, ok := sincePeriod(period, time.Now().UTC())
	if !ok {
		b.reply(m.ChannelID, "Unknown period. Use `24h`, `7d`, `30d` or `all`.")
		return
	}

	orders, err := b.orders.Sold(ctx, m.GuildID, m.Author.ID, since)
	if err != nil {
		b.logger.Error("sold lookup failed", "err", err)
		return
	}
	b.replyEmbed(m.ChannelID, soldEmbed(orders, period))
}

func (b *Bot) cmdStats(ctx context.Context, m *discordgo.MessageCreate) {
	stats, err := b.orders.Stats(ctx, m.GuildID, m.Author.ID)
	if err != nil {
		b.logger.Error("stats lookup failed", "err", err)
		return
	}
	b.replyEmbed(m.ChannelID, statsEmbed(stats))
}

func (b *Bot) cmdVouch(ctx context.Context, m *discordgo.MessageCreate, args []string) {
	if len(args) < 2 {
		b.reply(m.ChannelID, "Usage: `"+Prefix+"vouch ORD-1234 5 great seller`")
		return
	}
	orderID := normalizeID(args[0])
	rating, err := parsePositiveInt(args[1])
	if err != nil {
		b.reply(m.ChannelID, "Rating must be a number from 1 to 5.")
		return
	}
	comment := strings.Join(args[2:], " ")

	o, err := b.orders.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, ledger.ErrOrderNotFound) {
			b.reply(m.ChannelID, "No such order.")
			return
		}
		b.logger.Error("get order failed", "err", err)
		return
	}
	if o.BuyerID != m.Author.ID {
		b.reply(m.ChannelID, "You can only vouch for your own orders.")
		return
	}
	if o.Status != ledger.StatusDelivered {
		b.reply(m.ChannelID, "You can vouch once the order is delivered.")
		return
	}

	v := vouch.Vouch{
		OrderID:   o.ID,
		GuildID:   m.GuildID,
		UserID:    o.BuyerID,
		SellerID:  o.SellerID,
		ProductID: o.ProductID,
		Rating:    rating,
		Message:   comment,
	}
	if err := b.vouches.Create(ctx, v); err != nil {
		switch {
		case errors.Is(err, vouch.ErrAlreadyVouched):
			b.reply(m.ChannelID, "That order already has a vouch.")
		case errors.Is(err, vouch.ErrInvalidRating):
			b.reply(m.ChannelID, "Rating must be from 1 to 5.")
		default:
			b.logger.Error("create vouch failed", "err", err)
			b.reply(m.ChannelID, "Could not save the vouch, try again.")
		}
		return
	}

	b.reply(m.ChannelID, "Thanks for the vouch!")
	if cfg, err := b.guilds.Config(ctx, m.GuildID); err == nil && cfg != nil && cfg.VouchChannelID != "" {
		b.replyEmbed(cfg.VouchChannelID, vouchEmbed(&v, o))
	}
}

func (b *Bot) cmdRating(ctx context.Context, m *discordgo.MessageCreate, args []string) {
	sellerID := m.Author.ID
	if len(args) > 0 {
		sellerID = parseMention(args[0])
	}
	rating, err := b.vouches.SellerRating(ctx, m.GuildID, sellerID)
	if err != nil {
		b.logger.Error("rating lookup failed", "err", err)
		return
	}
	if rating.Count == 0 {
		b.reply(m.ChannelID, fmt.Sprintf("<@%s> has no vouches yet.", sellerID))
		return
	}
	b.reply(m.ChannelID, fmt.Sprintf("<@%s>: %.2f ★ over %d vouches.",
		sellerID, rating.Average, rating.Count))
}

func (b *Bot) cmdTicket(ctx context.Context, m *discordgo.MessageCreate) {
	cfg, err := b.guilds.Config(ctx, m.GuildID)
	if err != nil || cfg == nil {
		b.reply(m.ChannelID, "This server is not set up yet. Ask an admin to run `"+Prefix+"setup`.")
		return
	}

	ch, err := b.session.GuildChannelCreateComplex(m.GuildID, discordgo.GuildChannelCreateData{
		Name:     "ticket-" + m.Author.Username,
		Type:     discordgo.ChannelTypeGuildText,
		ParentID: cfg.TicketCategoryID,
		PermissionOverwrites: []*discordgo.PermissionOverwrite{
			{ID: m.GuildID, Type: discordgo.PermissionOverwriteTypeRole, Deny: discordgo.PermissionViewChannel},
			{ID: m.Author.ID, Type: discordgo.PermissionOverwriteTypeMember, Allow: discordgo.PermissionViewChannel | discordgo.PermissionSendMessages},
		},
	})
	if err != nil {
		b.logger.Error("create ticket channel failed", "err", err)
		b.reply(m.ChannelID, "Could not open a ticket channel.")
		return
	}

	t, err := b.tickets.Create(ctx, m.GuildID, ch.ID, m.Author.ID, ticket.TypeSupport)
	if err != nil {
		b.logger.Error("create ticket failed", "err", err)
		return
	}

	b.reply(m.ChannelID, fmt.Sprintf("Ticket %s opened: <#%s>", t.ID, ch.ID))
	b.reply(ch.ID, fmt.Sprintf("<@%s> describe your issue; a seller will be with you shortly. Use `%sclose` when done.", m.Author.ID, Prefix))
}

func (b *Bot) cmdClose(ctx context.Context, m *discordgo.MessageCreate) {
	t, err := b.tickets.ByChannel(ctx, m.ChannelID)
	if err != nil {
		if errors.Is(err, ticket.ErrNotFound) {
			b.reply(m.ChannelID, "This channel is not a ticket.")
			return
		}
		b.logger.Error("ticket lookup failed", "err", err)
		return
	}

	if err := b.tickets.Close(ctx, t.ID); err != nil {
		b.logger.Error("close ticket failed", "ticket_id", t.ID, "err", err)
		return
	}
	b.reply(m.ChannelID, "Ticket closed, channel goes away in a few seconds.")
	if _, err := b.session.ChannelDelete(m.ChannelID); err != nil {
		b.logger.Warn("delete ticket channel failed", "channel_id", m.ChannelID, "err", err)
	}
}

func (b *Bot) cmdTickets(ctx context.Context, m *discordgo.MessageCreate) {
	open, err := b.tickets.Open(ctx, m.GuildID)
	if err != nil {
		b.logger.Error("list tickets failed", "err", err)
		return
	}
	if len(open) == 0 {
		b.reply(m.ChannelID, "No open tickets.")
		return
	}
	var sb strings.Builder
	for _, t := range open {
		claimed := "unclaimed"
		if t.ClaimedBy != "" {
			claimed = "claimed by <@" + t.ClaimedBy + ">"
		}
		fmt.Fprintf(&sb, "`%s` <#%s> — %s, opened by <@%s>, %s\n",
			t.ID, t.ChannelID, t.Type, t.UserID, claimed)
	}
	b.reply(m.ChannelID, sb.String())
}

// cmdClaim marks the current ticket as handled by the calling seller.
func (b *Bot) cmdClaim(ctx context.Context, m *discordgo.MessageCreate) {
	t, err := b.tickets.ByChannel(ctx, m.ChannelID)
	if err != nil {
		if errors.Is(err, ticket.ErrNotFound) {
			b.reply(m.ChannelID, "This channel is not a ticket.")
			return
		}
		b.logger.Error("ticket lookup failed", "err", err)
		return
	}
	if err := b.tickets.Claim(ctx, t.ID, m.Author.ID); err != nil {
		b.logger.Error("claim ticket failed", "ticket_id", t.ID, "err", err)
		return
	}
	if err := b.tickets.Acknowledge(ctx, t.ID); err != nil {
		b.logger.Warn("acknowledge ticket failed", "ticket_id", t.ID, "err", err)
	}
	b.reply(m.ChannelID, fmt.Sprintf("<@%s> has taken this ticket.", m.Author.ID))
}

// cmdSetAddress sets a seller's own receiving address, overriding the
// guild default for that seller's orders.
func (b *Bot) cmdSetAddress(ctx context.Context, m *discordgo.MessageCreate, args []string) {
	if len(args) == 0 {
		b.reply(m.ChannelID, "Usage: `"+Prefix+"setaddress <ltc-address> [qr-image-url]`")
		return
	}
	address := args[0]
	var qrURL *string
	if len(args) > 1 {
		qrURL = &args[1]
	}
	if err := b.guilds.UpdateSellerConfig(ctx, m.GuildID, m.Author.ID, &address, qrURL); err != nil {
		if errors.Is(err, guild.ErrSellerUnknown) {
			b.reply(m.ChannelID, "You are not registered as a seller here.")
			return
		}
		b.logger.Error("update seller config failed", "err", err)
		b.reply(m.ChannelID, "Could not save the address, try again.")
		return
	}
	b.reply(m.ChannelID, "Your payments now go to `"+address+"`.")
}

// cmdCancel with an order id lets a buyer walk away from a pending
// order; without arguments it aborts any running wizard instead.
func (b *Bot) cmdCancel(ctx context.Context, m *discordgo.MessageCreate, args []string) {
	if len(args) == 0 {
		if err := b.sessions.DeleteAll(ctx, m.Author.ID, m.ChannelID); err != nil {
			b.logger.Warn("cancel sessions failed", "err", err)
			return
		}
		b.reply(m.ChannelID, "Cancelled.")
		return
	}

	orderID := normalizeID(args[0])
	o, err := b.orders.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, ledger.ErrOrderNotFound) {
			b.reply(m.ChannelID, "No such order.")
			return
		}
		b.logger.Error("get order failed", "err", err)
		return
	}
	if o.BuyerID != m.Author.ID && m.Author.ID != b.ownerID {
		b.reply(m.ChannelID, "That order is not yours.")
		return
	}

	_, err = b.orders.Transition(ctx, orderID, ledger.StatusCancelled, ledger.Fields{})
	switch {
	case errors.Is(err, ledger.ErrInvalidTransition):
		b.reply(m.ChannelID, fmt.Sprintf("Order %s is %s and can no longer be cancelled.", o.ID, o.Status))
	case err != nil:
		b.logger.Error("cancel order failed", "order_id", orderID, "err", err)
		b.reply(m.ChannelID, "Could not cancel the order, try again.")
	default:
		b.reply(m.ChannelID, fmt.Sprintf("Order %s cancelled.", orderID))
	}
}

// sincePeriod maps a period keyword to its cutoff time.
func sincePeriod(period string, now time.Time) (time.Time, bool) {
	switch period {
	case "24h":
		return now.Add(-24 * time.Hour), true
	case "7d":
		return now.AddDate(0, 0, -7), true
	case "30d":
		return now.AddDate(0, 0, -30), true
	case "all":
		return time.Time{}, true
	}
	return time.Time{}, false
}

func parseMention(s string) string {
	s = strings.TrimPrefix(s, "<@")
	s = strings.TrimPrefix(s, "!")
	return strings.TrimSuffix(s, ">")
}

func normalizeID(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
