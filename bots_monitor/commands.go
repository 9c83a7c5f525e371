package bots_monitor

import (
	"context"
	"fmt"
	"html"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"nft-sales-monitor/internal/features/purchases"
	"nft-sales-monitor/internal/features/watermark"
	"nft-sales-monitor/internal/infra/config"
	log "nft-sales-monitor/internal/infra/log"
	"nft-sales-monitor/internal/infra/metrics"
)

// UpdatesBot is the part of *tgbotapi.BotAPI used for long polling.
type UpdatesBot interface {
	Sender
	GetUpdates(config tgbotapi.UpdateConfig) ([]tgbotapi.Update, error)
}

// CommandHandler answers /start, /help, /status and /test in the target chat.
// It only reads the watermark; the offset store is its own.
type CommandHandler struct {
	bot       UpdatesBot
	chatID    int64
	positions watermark.Reader
	offsets   watermark.Store
	notifier  Notifier
	metrics   *metrics.Metrics

	collection   string
	provider     string
	pollInterval time.Duration
	title        string
	format       purchases.FormatOptions

	pollTimeout  int // seconds, long-poll timeout
	errorBackoff time.Duration
	startedAt    time.Time
	ignoreBefore time.Time // commands older than this are backlog from before the first start
}

func NewCommandHandler(cfg *config.Config, bot UpdatesBot, chatID int64, positions watermark.Reader, offsets watermark.Store, notifier Notifier, m *metrics.Metrics) *CommandHandler {
	return &CommandHandler{
		bot:          bot,
		chatID:       chatID,
		positions:    positions,
		offsets:      offsets,
		notifier:     notifier,
		metrics:      m,
		collection:   cfg.Ledger.Collection,
		provider:     cfg.Ledger.Provider,
		pollInterval: cfg.Monitor.PollEvery(),
		title:        cfg.Monitor.Title,
		format:       FormatOptionsFromConfig(cfg),
		pollTimeout:  30,
		errorBackoff: 5 * time.Second,
		startedAt:    time.Now(),
	}
}

// Run long-polls updates until ctx is cancelled, resuming after the last
// handled update id.
func (h *CommandHandler) Run(ctx context.Context) error {
	offset := int(h.offsets.Load(ctx))
	if offset == 0 {
		h.ignoreBefore = h.startedAt.Truncate(time.Second)
	}
	log.LogInfo("Starting command handler", zap.Int64("chatID", h.chatID), zap.Int("offset", offset))

	for ctx.Err() == nil {
		u := tgbotapi.NewUpdate(offset + 1)
		u.Timeout = h.pollTimeout
		u.AllowedUpdates = []string{"message"}

		updates, err := h.bot.GetUpdates(u)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			log.LogWarn("Failed to get updates", zap.Error(err))
			sleepCtx(ctx, h.errorBackoff)
			continue
		}
		if len(updates) == 0 {
			continue
		}

		for _, update := range updates {
			h.handleUpdate(ctx, update)
			if update.UpdateID > offset {
				offset = update.UpdateID
			}
		}
		if err := h.offsets.Save(context.WithoutCancel(ctx), uint64(offset)); err != nil {
			log.LogWarn("Failed to save update offset", zap.Int("offset", offset), zap.Error(err))
		}
	}

	log.LogInfo("Command handler stopped")
	return nil
}

func (h *CommandHandler) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	message := update.Message
	if message == nil || message.Chat == nil || message.Chat.ID != h.chatID || !message.IsCommand() {
		return
	}

	command := message.Command()
	if !h.ignoreBefore.IsZero() && message.Time().Before(h.ignoreBefore) {
		log.LogDebug("Skipping command sent before first start", zap.String("command", command), zap.Int("updateID", update.UpdateID))
		return
	}
	username := ""
	if message.From != nil {
		username = message.From.UserName
	}
	log.LogDebug("Received command",
		zap.String("command", command),
		zap.Int64("chatID", message.Chat.ID),
		zap.String("username", username))

	switch command {
	case "start", "help":
		h.reply(message, h.helpText())
	case "status":
		h.reply(message, h.statusText(ctx))
	case "test":
		text := purchases.FormatMessage(purchases.SampleRecord(time.Now()), nil, h.format)
		if err := h.notifier.Notify(ctx, "🧪 <i>Test notification</i>\n\n"+text); err != nil {
			h.reply(message, "❌ Test notification failed: "+html.EscapeString(err.Error()))
		}
	default:
		return
	}
	h.metrics.RecordCommand(command)
}

func (h *CommandHandler) reply(message *tgbotapi.Message, text string) {
	msg := tgbotapi.NewMessage(message.Chat.ID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	msg.ReplyToMessageID = message.MessageID
	if _, err := h.bot.Send(msg); err != nil {
		log.LogError("Failed to send reply", zap.Error(err), zap.String("outcome", ClassifySendError(err)))
	}
}

func (h *CommandHandler) helpText() string {
	return fmt.Sprintf("🍑 <b>%s purchase monitor</b>\n\n", html.EscapeString(h.title)) +
		"Commands:\n" +
		"• <code>/status</code> - current watermark and uptime\n" +
		"• <code>/test</code> - send a sample purchase notification\n" +
		"• <code>/help</code> - this message"
}

func (h *CommandHandler) statusText(ctx context.Context) string {
	position := h.positions.Load(ctx)
	wm := "not calibrated yet"
	if position > 0 {
		wm = fmt.Sprintf("<code>%d</code>", position)
	}
	return fmt.Sprintf("📊 <b>Status</b>\n"+
		"Collection: <code>%s</code>\n"+
		"Provider: %s\n"+
		"Watermark: %s\n"+
		"Poll interval: %s\n"+
		"Uptime: %s",
		html.EscapeString(h.collection),
		html.EscapeString(h.provider),
		wm,
		h.pollInterval,
		time.Since(h.startedAt).Truncate(time.Second))
}
