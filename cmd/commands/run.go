package commands

// Command to run the monitor: purchase poller, chat command handler, health
// server and keep-alive, with graceful shutdown on SIGINT/SIGTERM.

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"nft-sales-monitor/bots_monitor"
	"nft-sales-monitor/internal/clients_api/ledger"
	"nft-sales-monitor/internal/features/watermark"
	"nft-sales-monitor/internal/infra/health"
	logging "nft-sales-monitor/internal/infra/log"
	"nft-sales-monitor/internal/infra/metrics"
)

const shutdownTimeout = 10 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the purchase monitor and Telegram bot",
	Long:  `Poll the collection's transactions, notify new purchases, answer chat commands and serve the health endpoint.`,
	RunE:  runMonitor,
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, false, true)
	if err != nil {
		return err
	}
	defer logging.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(registry)

	bot, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		logging.LogError("Failed to authorize bot", zap.Error(err))
		return fmt.Errorf("failed to authorize bot: %w", err)
	}
	logging.LogSuccess("Bot authorized", zap.String("username", bot.Self.UserName))

	chatID, err := cfg.Telegram.ChatIDInt()
	if err != nil {
		return err
	}
	if chatID == 0 {
		logging.LogInfo("Chat id not configured, looking for the group in recent updates...")
		chatID, err = bots_monitor.DiscoverChatID(ctx, bot, cfg.Telegram.Discovery())
		if err != nil {
			logging.LogError("Chat discovery failed", zap.Error(err))
			return fmt.Errorf("chat discovery failed: %w", err)
		}
	}

	stores, err := watermark.Open(ctx, &cfg.State)
	if err != nil {
		return fmt.Errorf("failed to open state: %w", err)
	}
	defer stores.Close()

	client, err := ledger.New(&cfg.Ledger, m)
	if err != nil {
		return err
	}

	notifier := bots_monitor.NewTelegramNotifier(bot, chatID, m)
	monitor := bots_monitor.NewPurchaseMonitor(cfg, client, stores.Positions, notifier, m)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return monitor.Run(gctx) })

	if cfg.Telegram.Commands {
		handler := bots_monitor.NewCommandHandler(cfg, bot, chatID, stores.Positions, stores.UpdateIDs, notifier, m)
		g.Go(func() error { return handler.Run(gctx) })
	}

	if cfg.Health.Enabled {
		server := health.NewServer(cfg.Health.Port, cfg.Monitor.Title, registry)
		g.Go(func() error { return server.Run(gctx) })
		g.Go(func() error { return health.RunKeepAlive(gctx, cfg.Health.ExternalURL, cfg.Health.PingEvery()) })
	}

	logging.LogSuccess("Monitor is running",
		zap.Int64("chatID", chatID),
		zap.String("provider", client.Provider()),
		zap.String("collection", cfg.Ledger.Collection))

	<-gctx.Done()
	logging.LogInfo("Shutting down, stopping all components...")

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			logging.LogError("Component failed", zap.Error(err))
			return err
		}
		logging.LogSuccess("All components stopped gracefully")
	case <-time.After(shutdownTimeout):
		logging.LogWarn("Timeout waiting for components to stop, forcing shutdown")
	}
	return nil
}
