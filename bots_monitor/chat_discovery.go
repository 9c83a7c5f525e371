package bots_monitor

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	log "nft-sales-monitor/internal/infra/log"
)

var ErrNoGroupChat = errors.New("no group chat found in recent updates; add the bot to the group and send a message")

// DiscoverChatID finds the target group from the bot's recent updates, for
// deployments that do not configure a chat id. It retries until timeout.
func DiscoverChatID(ctx context.Context, bot UpdatesBot, timeout time.Duration) (int64, error) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 2 * time.Second
	exp.MaxInterval = 15 * time.Second
	exp.MaxElapsedTime = timeout

	var chatID int64
	operation := func() error {
		u := tgbotapi.NewUpdate(0)
		u.Timeout = 5
		u.AllowedUpdates = []string{"message", "my_chat_member"}

		updates, err := bot.GetUpdates(u)
		if err != nil {
			return err
		}
		if id, ok := findGroupChat(updates); ok {
			chatID = id
			return nil
		}
		return ErrNoGroupChat
	}

	notify := func(err error, next time.Duration) {
		log.LogWarn("Chat discovery attempt failed", zap.Error(err), zap.Duration("retryIn", next))
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(exp, ctx), notify); err != nil {
		return 0, err
	}
	log.LogSuccess("Discovered target chat", zap.Int64("chatID", chatID))
	return chatID, nil
}

func findGroupChat(updates []tgbotapi.Update) (int64, bool) {
	for _, update := range updates {
		var chat *tgbotapi.Chat
		switch {
		case update.Message != nil:
			chat = update.Message.Chat
		case update.MyChatMember != nil:
			chat = &update.MyChatMember.Chat
		}
		if chat != nil && (chat.IsGroup() || chat.IsSuperGroup()) {
			return chat.ID, true
		}
	}
	return 0, false
}
