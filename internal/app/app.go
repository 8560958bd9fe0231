// Package app wires the bot together: storage, services, the payment
// observer, the Discord surface and the read-only HTTP API.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/justenes1/purchasebot/internal/bot"
	"github.com/justenes1/purchasebot/internal/chain"
	"github.com/justenes1/purchasebot/internal/config"
	"github.com/justenes1/purchasebot/internal/delivery"
	"github.com/justenes1/purchasebot/internal/guild"
	"github.com/justenes1/purchasebot/internal/httpapi"
	"github.com/justenes1/purchasebot/internal/inventory"
	"github.com/justenes1/purchasebot/internal/ledger"
	"github.com/justenes1/purchasebot/internal/observer"
	"github.com/justenes1/purchasebot/internal/session"
	"github.com/justenes1/purchasebot/internal/storage"
	"github.com/justenes1/purchasebot/internal/ticket"
	"github.com/justenes1/purchasebot/internal/vouch"
	"github.com/justenes1/purchasebot/internal/websocket"
	"github.com/justenes1/purchasebot/pkg/messaging"
)

type App struct {
	cfg    config.Config
	logger *slog.Logger

	store     *storage.Store
	bot       *bot.Bot
	observer  *observer.Observer
	wsHub     *websocket.Hub
	publisher messaging.Publisher
	outbox    *messaging.OutboxDispatcher
	httpSrv   *http.Server
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	store, err := storage.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	wsHub := websocket.NewHub()

	guilds := guild.NewService(store.Pool())
	inv := inventory.NewService(inventory.NewPGStore(store.Pool()))
	orders := ledger.NewService(ledger.NewPGStore(store.Pool()), wsHub)
	sessions := session.NewService(session.NewPGStore(store.Pool()))
	tickets := ticket.NewService(store.Pool())
	vouches := vouch.NewService(store.Pool())

	discord, err := bot.New(cfg.DiscordToken, bot.Deps{
		Guilds:    guilds,
		Inventory: inv,
		Orders:    orders,
		Sessions:  sessions,
		Tickets:   tickets,
		Vouches:   vouches,
		OwnerID:   cfg.BotOwnerID,
		Logger:    logger,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	notifier := bot.NewNotifier(discord.Session(), guilds, logger)
	dispatcher := delivery.NewDispatcher(inv, orders, notifier, logger)
	discord.SetDispatcher(dispatcher)

	feed := chain.NewClient(cfg.FeedBaseURL, cfg.FeedTimeout)
	obs := observer.New(orders, feed, dispatcher, notifier, observer.Config{
		Interval:     cfg.PollInterval,
		OrderExpiry:  cfg.OrderExpiry,
		ClockSkew:    cfg.ClockSkew,
		FeeTolerance: cfg.FeeTolerance,
	}, logger)

	wsHandler := websocket.NewHandler(wsHub, orders, logger)
	api := httpapi.NewServer(orders, wsHandler, logger)
	httpSrv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api,
	}

	app := &App{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		bot:      discord,
		observer: obs,
		wsHub:    wsHub,
		httpSrv:  httpSrv,
	}

	// Event publishing is optional; without a broker the outbox just
	// accumulates and the rest of the bot works normally.
	if cfg.RabbitURL != "" {
		publisher, err := messaging.NewRabbitPublisher(cfg.RabbitURL, cfg.OrdersExchange)
		if err != nil {
			store.Close()
			return nil, err
		}
		app.publisher = publisher
		app.outbox = messaging.NewOutboxDispatcher(store.Pool(), publisher, cfg.OutboxInterval, cfg.OutboxBatchSize, logger)
	}

	return app, nil
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)

	go a.wsHub.Run(ctx)
	a.observer.Start(ctx)
	if a.outbox != nil {
		a.outbox.Start(ctx)
	}

	if err := a.bot.Start(); err != nil {
		return err
	}

	go func() {
		a.logger.Info("http api listening", "addr", a.cfg.HTTPAddr)
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

func (a *App) Close(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.ShutdownGracePeriod)
	defer cancel()
	_ = a.httpSrv.Shutdown(shutdownCtx)
	_ = a.bot.Stop()
	if a.publisher != nil {
		a.publisher.Close()
	}
	a.store.Close()
}

func Run() error {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	defer app.Close(ctx)

	return app.Run(ctx)
}
