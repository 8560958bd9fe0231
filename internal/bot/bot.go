// Package bot is the Discord surface: prefix commands, text wizards and
// the notifications sent when orders move.
package bot

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/justenes1/purchasebot/internal/delivery"
	"github.com/justenes1/purchasebot/internal/guild"
	"github.com/justenes1/purchasebot/internal/inventory"
	"github.com/justenes1/purchasebot/internal/ledger"
	"github.com/justenes1/purchasebot/internal/session"
	"github.com/justenes1/purchasebot/internal/ticket"
	"github.com/justenes1/purchasebot/internal/vouch"
)

// Prefix starts every command message.
const Prefix = "!"

type Bot struct {
	session    *discordgo.Session
	guilds     *guild.Service
	inv        *inventory.Service
	orders     *ledger.Service
	sessions   *session.Service
	tickets    *ticket.Service
	vouches    *vouch.Service
	dispatcher *delivery.Dispatcher
	ownerID    string
	logger     *slog.Logger
}

type Deps struct {
	Guilds    *guild.Service
	Inventory *inventory.Service
	Orders    *ledger.Service
	Sessions  *session.Service
	Tickets   *ticket.Service
	Vouches   *vouch.Service
	OwnerID   string
	Logger    *slog.Logger
}

func New(token string, deps Deps) (*Bot, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent

	b := &Bot{
		session:  s,
		guilds:   deps.Guilds,
		inv:      deps.Inventory,
		orders:   deps.Orders,
		sessions: deps.Sessions,
		tickets:  deps.Tickets,
		vouches:  deps.Vouches,
		ownerID:  deps.OwnerID,
		logger:   deps.Logger,
	}

	s.AddHandler(b.onReady)
	s.AddHandler(b.onMessageCreate)
	return b, nil
}

// SetDispatcher closes the construction loop: the delivery dispatcher
// needs the session's notifier, which needs the session. Must be called
// before Start.
func (b *Bot) SetDispatcher(d *delivery.Dispatcher) {
	b.dispatcher = d
}

func (b *Bot) Start() error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	return nil
}

func (b *Bot) Stop() error {
	return b.session.Close()
}

// Session exposes the underlying connection for the notifier.
func (b *Bot) Session() *discordgo.Session {
	return b.session
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	b.logger.Info("discord gateway ready",
		"user", r.User.Username, "guilds", len(r.Guilds))
}

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}

	ctx := context.Background()

	if len(m.Content) > len(Prefix) && m.Content[:len(Prefix)] == Prefix {
		b.dispatchCommand(ctx, m)
		return
	}

	// Not a command: maybe an answer to a running wizard.
	sess, err := b.sessions.Any(ctx, m.Author.ID, m.ChannelID)
	if err != nil {
		b.logger.Error("session lookup failed", "user_id", m.Author.ID, "err", err)
		return
	}
	if sess != nil {
		b.handleWizardAnswer(ctx, m, sess)
	}
}

func (b *Bot) reply(channelID, text string) {
	if _, err := b.session.ChannelMessageSend(channelID, text); err != nil {
		b.logger.Warn("send message failed", "channel_id", channelID, "err", err)
	}
}

func (b *Bot) replyEmbed(channelID string, embed *discordgo.MessageEmbed) {
	if _, err := b.session.ChannelMessageSendEmbed(channelID, embed); err != nil {
		b.logger.Warn("send embed failed", "channel_id", channelID, "err", err)
	}
}
