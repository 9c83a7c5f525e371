package bots_monitor

import (
	"context"
	"errors"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	log "nft-sales-monitor/internal/infra/log"
	"nft-sales-monitor/internal/infra/metrics"
)

// Delivery failure classes, also used as metric labels.
const (
	OutcomeSent        = "sent"
	OutcomeRateLimited = "rate_limited"
	OutcomeForbidden   = "forbidden"
	OutcomeBadRequest  = "bad_request"
	OutcomeAPIError    = "api_error"
	OutcomeTransport   = "transport"
)

// Sender is the part of *tgbotapi.BotAPI used to post messages.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier delivers one formatted notification.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// TelegramNotifier posts HTML messages to a single chat.
type TelegramNotifier struct {
	bot     Sender
	chatID  int64
	metrics *metrics.Metrics
}

func NewTelegramNotifier(bot Sender, chatID int64, m *metrics.Metrics) *TelegramNotifier {
	return &TelegramNotifier{bot: bot, chatID: chatID, metrics: m}
}

// Notify sends text once. Failures are classified, logged and returned;
// there is no retry here.
func (n *TelegramNotifier) Notify(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	if _, err := n.bot.Send(msg); err != nil {
		outcome := ClassifySendError(err)
		n.metrics.RecordNotification(outcome)
		log.LogError("Failed to send message",
			zap.Int64("chatID", n.chatID),
			zap.String("outcome", outcome),
			zap.Error(err))
		return err
	}

	n.metrics.RecordNotification(OutcomeSent)
	return nil
}

// ClassifySendError maps a Telegram API error to a failure class.
func ClassifySendError(err error) string {
	var code int
	var apiErr *tgbotapi.Error
	var apiErrValue tgbotapi.Error
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
	case errors.As(err, &apiErrValue):
		code = apiErrValue.Code
	default:
		return OutcomeTransport
	}

	switch code {
	case http.StatusTooManyRequests:
		return OutcomeRateLimited
	case http.StatusForbidden:
		return OutcomeForbidden
	case http.StatusBadRequest:
		return OutcomeBadRequest
	default:
		return OutcomeAPIError
	}
}
