package bot

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/justenes1/purchasebot/internal/guild"
	"github.com/justenes1/purchasebot/internal/ledger"
)

// Notifier delivers order outcomes over Discord: keys by DM, a copy to
// the order's ticket channel and an audit line to the guild log channel.
type Notifier struct {
	session *discordgo.Session
	guilds  *guild.Service
	logger  *slog.Logger
}

func NewNotifier(session *discordgo.Session, guilds *guild.Service, logger *slog.Logger) *Notifier {
	return &Notifier{session: session, guilds: guilds, logger: logger}
}

func (n *Notifier) OrderDelivered(ctx context.Context, o *ledger.Order, payloads []string) error {
	embed := deliveredEmbed(o, payloads)

	if err := n.dmEmbed(o.BuyerID, embed); err != nil {
		// Closed DMs are common; the ticket channel still gets the keys.
		n.logger.Warn("dm delivery failed", "order_id", o.ID, "buyer_id", o.BuyerID, "err", err)
		if o.TicketChannel == "" {
			return fmt.Errorf("no reachable channel for order %s", o.ID)
		}
	}

	if o.TicketChannel != "" {
		if _, err := n.session.ChannelMessageSendEmbed(o.TicketChannel, embed); err != nil {
			n.logger.Warn("ticket delivery message failed", "order_id", o.ID, "err", err)
		}
	}

	n.log(ctx, o.GuildID, fmt.Sprintf("Order %s delivered to <@%s> (%d item(s)).", o.ID, o.BuyerID, len(payloads)))
	return nil
}

func (n *Notifier) StockShort(ctx context.Context, o *ledger.Order, reserved, requested int) error {
	msg := fmt.Sprintf("Order %s wanted %d of `%s` but only %d were in stock. Sort out the remainder with the buyer <@%s>.",
		o.ID, requested, o.ProductID, reserved, o.BuyerID)

	if err := n.dm(o.SellerID, msg); err != nil {
		n.logger.Warn("dm stock alert failed", "order_id", o.ID, "seller_id", o.SellerID, "err", err)
	}
	n.log(ctx, o.GuildID, fmt.Sprintf("Order %s delivered short: %d/%d.", o.ID, reserved, requested))
	return nil
}

func (n *Notifier) OrderExpired(ctx context.Context, o *ledger.Order) error {
	msg := fmt.Sprintf("Order %s expired before a payment was seen and has been cancelled. Start a new purchase if you still want it.", o.ID)

	if err := n.dm(o.BuyerID, msg); err != nil {
		if o.TicketChannel == "" {
			return err
		}
		if _, err := n.session.ChannelMessageSend(o.TicketChannel, fmt.Sprintf("<@%s> %s", o.BuyerID, msg)); err != nil {
			return err
		}
	}

	n.log(ctx, o.GuildID, fmt.Sprintf("Order %s expired unpaid.", o.ID))
	return nil
}

func (n *Notifier) dm(userID, content string) error {
	ch, err := n.session.UserChannelCreate(userID)
	if err != nil {
		return err
	}
	_, err = n.session.ChannelMessageSend(ch.ID, content)
	return err
}

func (n *Notifier) dmEmbed(userID string, embed *discordgo.MessageEmbed) error {
	ch, err := n.session.UserChannelCreate(userID)
	if err != nil {
		return err
	}
	_, err = n.session.ChannelMessageSendEmbed(ch.ID, embed)
	return err
}

// log posts to the guild's configured log channel; guilds without one are
// skipped silently.
func (n *Notifier) log(ctx context.Context, guildID, content string) {
	cfg, err := n.guilds.Config(ctx, guildID)
	if err != nil || cfg == nil || cfg.LogChannelID == "" {
		return
	}
	if _, err := n.session.ChannelMessageSend(cfg.LogChannelID, content); err != nil {
		n.logger.Warn("log channel message failed", "guild_id", guildID, "err", err)
	}
}
