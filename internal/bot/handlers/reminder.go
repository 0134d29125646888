package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/hray3182/habitline/internal/models"
	"github.com/hray3182/habitline/internal/occurrence"
)

func (h *Handlers) currentUser(chatID int64) (string, bool) {
	userID, ok := h.session.UserID()
	if !ok {
		h.sendMessage(chatID, "Not signed in, use /start first")
	}
	return userID, ok
}

func (h *Handlers) handleReminder(ctx context.Context, msg *tgbotapi.Message) {
	userID, ok := h.currentUser(msg.Chat.ID)
	if !ok {
		return
	}

	in, err := parseReminderArgs(msg.CommandArguments(), time.Now())
	if err != nil {
		h.sendMessage(msg.Chat.ID, err.Error()+"\nUsage: /remind <HH:MM> [daily|days=<0-6>] <message>\nExample: /remind 15:30 Drink water")
		return
	}

	reminder, err := h.reminders.Create(ctx, userID, in)
	if err != nil {
		h.log.Warnw("Failed to create reminder", "error", err)
		h.sendMessage(msg.Chat.ID, "Could not create the reminder, please try again later")
		return
	}
	h.scheduler.Notify()

	h.sendMessage(msg.Chat.ID, fmt.Sprintf("⏰ Reminder set\n**%s**\n%s", reminder.Title, occurrence.Describe(reminder)))
}

const daysPrefix = "days="

// parseReminderArgs parses "<HH:MM> [daily|days=<digits>] <message>". Without
// a schedule word the reminder fires once, today or tomorrow if the time has
// passed. Day digits are 0-6 with Sunday as 0.
func parseReminderArgs(args string, now time.Time) (models.ReminderInput, error) {
	fields := strings.Fields(args)
	if len(fields) < 2 {
		return models.ReminderInput{}, fmt.Errorf("Please give a time and a message")
	}

	if _, _, _, err := occurrence.ParseTimeOfDay(fields[0]); err != nil {
		return models.ReminderInput{}, fmt.Errorf("Time must be HH:MM, e.g. 15:30")
	}
	in := models.ReminderInput{
		Time:    fields[0],
		Days:    []int{},
		Enabled: true,
		Channel: models.ChannelInApp,
	}

	rest := fields[1:]
	switch {
	case strings.EqualFold(rest[0], "daily") && len(rest) > 1:
		rest = rest[1:]
	case strings.HasPrefix(strings.ToLower(rest[0]), daysPrefix):
		set := rest[0][len(daysPrefix):]
		if !isDaySet(set) || len(rest) < 2 {
			return models.ReminderInput{}, fmt.Errorf("Days must be digits 0-6 after days=, e.g. days=135")
		}
		for _, c := range set {
			d := int(c - '0')
			if !containsInt(in.Days, d) {
				in.Days = append(in.Days, d)
			}
		}
		rest = rest[1:]
	default:
		at, err := parseTimeToday(fields[0], now)
		if err != nil {
			return models.ReminderInput{}, err
		}
		date := occurrence.FormatDate(at)
		in.Date = &date
	}

	in.Title = strings.Join(rest, " ")
	return in, nil
}

func isDaySet(s string) bool {
	for _, c := range s {
		if c < '0' || c > '6' {
			return false
		}
	}
	return s != ""
}

func containsInt(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func parseTimeToday(timeStr string, now time.Time) (time.Time, error) {
	result, err := occurrence.At(now, timeStr)
	if err != nil {
		return time.Time{}, err
	}

	// If time already passed today, set for tomorrow
	if !result.After(now) {
		result = result.AddDate(0, 0, 1)
	}

	return result, nil
}

func (h *Handlers) handleReminderList(ctx context.Context, msg *tgbotapi.Message) {
	if _, ok := h.currentUser(msg.Chat.ID); !ok {
		return
	}

	reminders := h.scheduler.Reminders()
	if len(reminders) == 0 {
		h.sendMessage(msg.Chat.ID, "⏰ No reminders yet")
		return
	}
	h.sendMessage(msg.Chat.ID, formatReminderList(reminders))
}

func formatReminderList(reminders []models.Reminder) string {
	var sb strings.Builder
	sb.WriteString("⏰ **Reminders**\n\n")
	for i := range reminders {
		r := &reminders[i]
		status := "✅"
		if !r.Enabled {
			status = "❌"
		}
		sb.WriteString(fmt.Sprintf("%s **%d.** %s\n", status, i+1, r.Title))
		sb.WriteString(fmt.Sprintf("   📅 %s\n", occurrence.Describe(r)))
		if r.LastTriggered != nil {
			sb.WriteString(fmt.Sprintf("   🔔 last %s\n", r.LastTriggered.Local().Format("2006-01-02 15:04")))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func (h *Handlers) handleSnooze(ctx context.Context, msg *tgbotapi.Message) {
	if _, ok := h.currentUser(msg.Chat.ID); !ok {
		return
	}

	fields := strings.Fields(msg.CommandArguments())
	if len(fields) != 2 {
		h.sendMessage(msg.Chat.ID, "Usage: /snooze <number> <minutes>")
		return
	}
	index, err1 := strconv.Atoi(fields[0])
	minutes, err2 := strconv.Atoi(fields[1])
	reminders := h.scheduler.Reminders()
	if err1 != nil || err2 != nil || index < 1 || index > len(reminders) || minutes <= 0 {
		h.sendMessage(msg.Chat.ID, "Invalid reminder number or minutes, see /reminders")
		return
	}

	created, err := h.scheduler.Snooze(ctx, reminders[index-1].ID, minutes)
	if err != nil {
		h.log.Warnw("Failed to snooze reminder", "error", err)
		h.sendMessage(msg.Chat.ID, "Could not snooze the reminder, please try again later")
		return
	}
	h.sendMessage(msg.Chat.ID, fmt.Sprintf("😴 **%s** at %s", created.Title, created.Time))
}

// pickReminder resolves a 1-based index from /reminders.
func (h *Handlers) pickReminder(msg *tgbotapi.Message, usage string) (*models.Reminder, bool) {
	index, err := strconv.Atoi(strings.TrimSpace(msg.CommandArguments()))
	reminders := h.scheduler.Reminders()
	if err != nil || index < 1 || index > len(reminders) {
		h.sendMessage(msg.Chat.ID, "Invalid reminder number, see /reminders\nUsage: "+usage)
		return nil, false
	}
	return &reminders[index-1], true
}

func (h *Handlers) handleToggle(ctx context.Context, msg *tgbotapi.Message) {
	userID, ok := h.currentUser(msg.Chat.ID)
	if !ok {
		return
	}
	r, ok := h.pickReminder(msg, "/toggle <number>")
	if !ok {
		return
	}

	enabled := !r.Enabled
	if err := h.reminders.Update(ctx, userID, r.ID, models.ReminderPatch{Enabled: &enabled}); err != nil {
		h.log.Warnw("Failed to toggle reminder", "id", r.ID, "error", err)
		h.sendMessage(msg.Chat.ID, "Could not update the reminder, please try again later")
		return
	}
	h.scheduler.Notify()

	if enabled {
		h.sendMessage(msg.Chat.ID, fmt.Sprintf("🔔 **%s** enabled", r.Title))
	} else {
		h.sendMessage(msg.Chat.ID, fmt.Sprintf("🔕 **%s** disabled", r.Title))
	}
}

func (h *Handlers) handleDelete(ctx context.Context, msg *tgbotapi.Message) {
	userID, ok := h.currentUser(msg.Chat.ID)
	if !ok {
		return
	}
	r, ok := h.pickReminder(msg, "/delete <number>")
	if !ok {
		return
	}

	if err := h.reminders.Delete(ctx, userID, r.ID); err != nil {
		h.log.Warnw("Failed to delete reminder", "id", r.ID, "error", err)
		h.sendMessage(msg.Chat.ID, "Could not delete the reminder, please try again later")
		return
	}
	h.scheduler.Notify()
	h.sendMessage(msg.Chat.ID, fmt.Sprintf("🗑 **%s** deleted", r.Title))
}

func (h *Handlers) handleClear(ctx context.Context, msg *tgbotapi.Message) {
	userID, ok := h.currentUser(msg.Chat.ID)
	if !ok {
		return
	}
	if err := h.reminders.DeleteAll(ctx, userID); err != nil {
		h.log.Warnw("Failed to delete reminders", "error", err)
		h.sendMessage(msg.Chat.ID, "Could not delete reminders, please try again later")
		return
	}
	h.scheduler.Notify()
	h.sendMessage(msg.Chat.ID, "🗑 All reminders deleted")
}

func (h *Handlers) handleSetAllEnabled(ctx context.Context, msg *tgbotapi.Message, enabled bool) {
	userID, ok := h.currentUser(msg.Chat.ID)
	if !ok {
		return
	}
	if err := h.reminders.SetAllEnabled(ctx, userID, enabled); err != nil {
		h.log.Warnw("Failed to update reminders", "enabled", enabled, "error", err)
		h.sendMessage(msg.Chat.ID, "Could not update reminders, please try again later")
		return
	}
	h.scheduler.Notify()

	if enabled {
		h.sendMessage(msg.Chat.ID, "🔔 All reminders enabled")
	} else {
		h.sendMessage(msg.Chat.ID, "🔕 All reminders disabled")
	}
}
