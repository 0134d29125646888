package handlers

import (
	"context"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/hray3182/habitline/internal/format"
	"github.com/hray3182/habitline/internal/models"
	"go.uber.org/zap"
)

// Sender is the subset of *tgbotapi.BotAPI the handlers use.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

type ReminderStore interface {
	Create(ctx context.Context, userID string, in models.ReminderInput) (*models.Reminder, error)
	Update(ctx context.Context, userID, id string, patch models.ReminderPatch) error
	SetAllEnabled(ctx context.Context, userID string, enabled bool) error
	Delete(ctx context.Context, userID, id string) error
	DeleteAll(ctx context.Context, userID string) error
}

// Scheduler is the sync controller as seen from chat commands.
type Scheduler interface {
	Reminders() []models.Reminder
	Snooze(ctx context.Context, id string, minutes int) (*models.Reminder, error)
	Notify()
}

type Session interface {
	Start(userID string)
	End()
	UserID() (string, bool)
}

type Handlers struct {
	api       Sender
	chatID    int64
	userID    string
	reminders ReminderStore
	scheduler Scheduler
	session   Session
	log       *zap.SugaredLogger
}

// New creates chat handlers for a single chat. userID is the reminder owner
// signed in by /start.
func New(api Sender, chatID int64, userID string, reminders ReminderStore, scheduler Scheduler, session Session, logger *zap.SugaredLogger) *Handlers {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handlers{
		api:       api,
		chatID:    chatID,
		userID:    userID,
		reminders: reminders,
		scheduler: scheduler,
		session:   session,
		log:       logger,
	}
}

func (h *Handlers) authorized(chatID int64) bool {
	return chatID == h.chatID
}

func (h *Handlers) HandleCommand(ctx context.Context, msg *tgbotapi.Message) {
	if !h.authorized(msg.Chat.ID) {
		h.log.Warnw("Ignoring command from unknown chat", "chat_id", msg.Chat.ID)
		return
	}

	switch msg.Command() {
	case "start":
		h.handleStart(ctx, msg)
	case "stop":
		h.handleStop(ctx, msg)
	case "help":
		h.handleHelp(ctx, msg)
	case "remind":
		h.handleReminder(ctx, msg)
	case "reminders":
		h.handleReminderList(ctx, msg)
	case "snooze":
		h.handleSnooze(ctx, msg)
	case "toggle":
		h.handleToggle(ctx, msg)
	case "delete":
		h.handleDelete(ctx, msg)
	case "clear":
		h.handleClear(ctx, msg)
	case "pause":
		h.handleSetAllEnabled(ctx, msg, false)
	case "resume":
		h.handleSetAllEnabled(ctx, msg, true)
	default:
		h.sendMessage(msg.Chat.ID, "Unknown command, see /help")
	}
}

func (h *Handlers) HandleCallbackQuery(ctx context.Context, callback *tgbotapi.CallbackQuery) {
	if callback.Message == nil || !h.authorized(callback.Message.Chat.ID) {
		return
	}

	// Parse callback data: "snooze:<reminder id>:<minutes>"
	parts := strings.Split(callback.Data, ":")
	if len(parts) != 3 || parts[0] != "snooze" {
		h.answerCallback(callback.ID, "")
		return
	}
	minutes, err := strconv.Atoi(parts[2])
	if err != nil || minutes <= 0 {
		h.answerCallbackWithAlert(callback.ID, "Invalid snooze")
		return
	}

	created, err := h.scheduler.Snooze(ctx, parts[1], minutes)
	if err != nil {
		h.log.Warnw("Failed to snooze reminder", "id", parts[1], "error", err)
		h.answerCallbackWithAlert(callback.ID, "Could not snooze this reminder")
		return
	}

	h.answerCallback(callback.ID, "Snoozed")
	h.editMessageText(callback.Message.Chat.ID, callback.Message.MessageID,
		"😴 **"+created.Title+"** at "+created.Time)
}

func (h *Handlers) answerCallback(callbackID, text string) {
	if _, err := h.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		h.log.Warnw("Failed to answer callback", "error", err)
	}
}

func (h *Handlers) answerCallbackWithAlert(callbackID string, text string) {
	answer := tgbotapi.NewCallbackWithAlert(callbackID, text)
	if _, err := h.api.Request(answer); err != nil {
		h.log.Warnw("Failed to answer callback with alert", "error", err)
	}
}

func (h *Handlers) editMessageText(chatID int64, messageID int, text string) {
	parsed := format.ParseMarkdown(text)
	edit := tgbotapi.NewEditMessageText(chatID, messageID, parsed.Text)
	edit.Entities = parsed.Entities
	if _, err := h.api.Send(edit); err != nil {
		h.log.Warnw("Failed to edit message", "error", err)
	}
}

func (h *Handlers) sendMessage(chatID int64, text string) {
	parsed := format.ParseMarkdown(text)
	msg := tgbotapi.NewMessage(chatID, parsed.Text)
	msg.Entities = parsed.Entities
	if _, err := h.api.Send(msg); err != nil {
		h.log.Warnw("Failed to send message", "error", err)
	}
}

func (h *Handlers) handleStart(ctx context.Context, msg *tgbotapi.Message) {
	h.session.Start(h.userID)
	h.sendMessage(msg.Chat.ID, "👋 Reminders are on for this device.\n\nUse /help to see all commands")
}

func (h *Handlers) handleStop(ctx context.Context, msg *tgbotapi.Message) {
	h.session.End()
	h.sendMessage(msg.Chat.ID, "🔕 Signed out. Reminders on this device are paused until /start")
}

func (h *Handlers) handleHelp(ctx context.Context, msg *tgbotapi.Message) {
	text := `📖 **Commands**

/start - sign in and start reminders
/stop - sign out on this device
/remind <HH:MM> [daily|days=<0-6>] <message> - add a reminder
/reminders - list reminders
/snooze <number> <minutes> - snooze a reminder from the list
/toggle <number> - enable or disable a reminder
/delete <number> - delete a reminder
/clear - delete all reminders
/pause - disable all reminders
/resume - enable all reminders

Without daily or days= the reminder fires once.
Days are digits 0-6 with Sunday as 0, e.g. ` + "`/remind 07:30 days=12345 Run`"
	h.sendMessage(msg.Chat.ID, text)
}
