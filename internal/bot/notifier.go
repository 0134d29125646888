package bot

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/hray3182/habitline/internal/bot/handlers"
	"github.com/hray3182/habitline/internal/format"
	"github.com/hray3182/habitline/internal/models"
	"go.uber.org/zap"
)

// Notifier shows notifications and snooze toasts in a Telegram chat.
// A notification with the tag of an earlier one replaces it.
type Notifier struct {
	api    handlers.Sender
	chatID int64
	log    *zap.SugaredLogger

	mu        sync.Mutex
	lastByTag map[string]int
}

func NewNotifier(api handlers.Sender, chatID int64, logger *zap.SugaredLogger) *Notifier {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Notifier{api: api, chatID: chatID, log: logger, lastByTag: make(map[string]int)}
}

// Show sends a notification message. An absolute data URL becomes an
// "Open" button.
func (n *Notifier) Show(ctx context.Context, title string, opts models.NotificationOptions) error {
	text := "⏰ **" + title + "**"
	if opts.Body != "" {
		text += "\n\n" + opts.Body
	}

	parsed := format.ParseMarkdown(text)
	msg := tgbotapi.NewMessage(n.chatID, parsed.Text)
	msg.Entities = parsed.Entities
	if link, ok := absoluteURL(opts.Data.URL); ok {
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL("Open", link)),
		)
	}

	n.replace(opts.Tag)
	sent, err := n.api.Send(msg)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	if opts.Tag != "" {
		n.mu.Lock()
		n.lastByTag[opts.Tag] = sent.MessageID
		n.mu.Unlock()
	}
	return nil
}

// replace deletes the message last shown under tag.
func (n *Notifier) replace(tag string) {
	if tag == "" {
		return
	}
	n.mu.Lock()
	messageID, ok := n.lastByTag[tag]
	delete(n.lastByTag, tag)
	n.mu.Unlock()
	if !ok {
		return
	}

	if _, err := n.api.Request(tgbotapi.NewDeleteMessage(n.chatID, messageID)); err != nil {
		// The user may have deleted it already.
		n.log.Debugw("Failed to delete replaced notification", "message_id", messageID, "error", err)
	}
}

// Toast offers to snooze a fired reminder.
func (n *Notifier) Toast(ctx context.Context, reminder *models.Reminder, snoozeMinutes []int) error {
	if len(snoozeMinutes) == 0 {
		return nil
	}
	buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(snoozeMinutes))
	for _, m := range snoozeMinutes {
		buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(
			fmt.Sprintf("💤 %d min", m),
			fmt.Sprintf("snooze:%s:%d", reminder.ID, m),
		))
	}

	parsed := format.ParseMarkdown("Snooze **" + reminder.Title + "**?")
	msg := tgbotapi.NewMessage(n.chatID, parsed.Text)
	msg.Entities = parsed.Entities
	msg.DisableNotification = true
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(buttons...))

	if _, err := n.api.Send(msg); err != nil {
		return fmt.Errorf("send snooze toast: %w", err)
	}
	return nil
}

func absoluteURL(raw string) (string, bool) {
	if raw == "" {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", false
	}
	return u.String(), true
}
