package handlers

import (
	"context"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/hray3182/habitline/internal/models"
	"github.com/hray3182/habitline/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	return tgbotapi.Message{MessageID: len(f.sent)}, nil
}

func (f *fakeSender) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeSender) lastText() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch c := f.sent[len(f.sent)-1].(type) {
	case tgbotapi.MessageConfig:
		return c.Text
	case tgbotapi.EditMessageTextConfig:
		return c.Text
	}
	return ""
}

type fakeStore struct {
	created []models.ReminderInput
	enabled *bool
	patches map[string]models.ReminderPatch
	deleted []string
	cleared bool
}

func (s *fakeStore) Create(_ context.Context, userID string, in models.ReminderInput) (*models.Reminder, error) {
	s.created = append(s.created, in)
	return &models.Reminder{ID: "r-new", UserID: userID, Title: in.Title, Time: in.Time, Days: in.Days, Date: in.Date}, nil
}

func (s *fakeStore) Update(_ context.Context, _ string, id string, patch models.ReminderPatch) error {
	if s.patches == nil {
		s.patches = make(map[string]models.ReminderPatch)
	}
	s.patches[id] = patch
	return nil
}

func (s *fakeStore) Delete(_ context.Context, _ string, id string) error {
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *fakeStore) DeleteAll(_ context.Context, _ string) error {
	s.cleared = true
	return nil
}

func (s *fakeStore) SetAllEnabled(_ context.Context, _ string, enabled bool) error {
	s.enabled = &enabled
	return nil
}

type fakeScheduler struct {
	reminders []models.Reminder
	snoozed   []string
	notified  int
}

func (s *fakeScheduler) Reminders() []models.Reminder { return s.reminders }

func (s *fakeScheduler) Snooze(_ context.Context, id string, minutes int) (*models.Reminder, error) {
	s.snoozed = append(s.snoozed, id)
	return &models.Reminder{ID: "r-snoozed", Title: "Snoozed: Stretch", Time: "09:15"}, nil
}

func (s *fakeScheduler) Notify() { s.notified++ }

func command(chatID int64, text, cmd string) *tgbotapi.Message {
	return &tgbotapi.Message{
		Chat: &tgbotapi.Chat{ID: chatID},
		Text: text,
		Entities: []tgbotapi.MessageEntity{
			{Type: "bot_command", Offset: 0, Length: len(cmd) + 1},
		},
	}
}

func newTestHandlers() (*Handlers, *fakeSender, *fakeStore, *fakeScheduler, *session.Session) {
	api := &fakeSender{}
	store := &fakeStore{}
	sched := &fakeScheduler{reminders: []models.Reminder{
		{ID: "r-1", Title: "Stretch", Time: "09:00", Days: []int{1, 3}, Enabled: true},
		{ID: "r-2", Title: "Water", Time: "12:00", Enabled: false},
	}}
	sess := session.New()
	return New(api, 42, "user-1", store, sched, sess, nil), api, store, sched, sess
}

func TestStartAndStopSession(t *testing.T) {
	h, _, _, _, sess := newTestHandlers()

	h.HandleCommand(context.Background(), command(42, "/start", "start"))
	id, ok := sess.UserID()
	assert.True(t, ok)
	assert.Equal(t, "user-1", id)

	h.HandleCommand(context.Background(), command(42, "/stop", "stop"))
	assert.False(t, sess.Active())
}

func TestIgnoresOtherChats(t *testing.T) {
	h, api, _, _, sess := newTestHandlers()
	h.HandleCommand(context.Background(), command(7, "/start", "start"))
	assert.False(t, sess.Active())
	assert.Empty(t, api.sent)
}

func TestRemindRequiresSession(t *testing.T) {
	h, api, store, _, _ := newTestHandlers()
	h.HandleCommand(context.Background(), command(42, "/remind 15:30 Drink water", "remind"))
	assert.Empty(t, store.created)
	assert.Contains(t, api.lastText(), "/start")
}

func TestRemindCreatesReminder(t *testing.T) {
	h, api, store, sched, sess := newTestHandlers()
	sess.Start("user-1")

	h.HandleCommand(context.Background(), command(42, "/remind 07:30 days=135 Run", "remind"))
	require.Len(t, store.created, 1)
	assert.Equal(t, "Run", store.created[0].Title)
	assert.Equal(t, []int{1, 3, 5}, store.created[0].Days)
	assert.Equal(t, 1, sched.notified)
	assert.Contains(t, api.lastText(), "Every Mon, Wed, Fri at 07:30")
}

func TestParseReminderArgs(t *testing.T) {
	now := time.Date(2026, 10, 17, 16, 0, 0, 0, time.UTC)

	in, err := parseReminderArgs("15:30 Drink water", now)
	require.NoError(t, err)
	assert.Equal(t, "Drink water", in.Title)
	require.NotNil(t, in.Date)
	assert.Equal(t, "2026-10-18", *in.Date)

	in, err = parseReminderArgs("17:00 Walk", now)
	require.NoError(t, err)
	assert.Equal(t, "2026-10-17", *in.Date)

	in, err = parseReminderArgs("08:00 daily Vitamins", now)
	require.NoError(t, err)
	assert.Nil(t, in.Date)
	assert.Empty(t, in.Days)
	assert.Equal(t, "Vitamins", in.Title)

	in, err = parseReminderArgs("08:00 days=0660 Long run", now)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 6}, in.Days)

	// A bare number is part of the title, not a day set.
	in, err = parseReminderArgs("17:00 5 pushups", now)
	require.NoError(t, err)
	assert.Equal(t, "5 pushups", in.Title)
	assert.Empty(t, in.Days)
	require.NotNil(t, in.Date)
	assert.Equal(t, "2026-10-17", *in.Date)

	_, err = parseReminderArgs("08:00 days=79 Nope", now)
	assert.Error(t, err)
	_, err = parseReminderArgs("08:00 days=12", now)
	assert.Error(t, err)

	_, err = parseReminderArgs("25:00 Nope", now)
	assert.Error(t, err)
	_, err = parseReminderArgs("08:00", now)
	assert.Error(t, err)
}

func TestReminderList(t *testing.T) {
	h, api, _, _, sess := newTestHandlers()
	sess.Start("user-1")

	h.HandleCommand(context.Background(), command(42, "/reminders", "reminders"))
	text := api.lastText()
	assert.Contains(t, text, "1. Stretch")
	assert.Contains(t, text, "Every Mon, Wed at 09:00")
	assert.Contains(t, text, "❌ 2. Water")
}

func TestSnoozeCallback(t *testing.T) {
	h, api, _, sched, _ := newTestHandlers()

	callback := &tgbotapi.CallbackQuery{
		ID:      "cb-1",
		Data:    "snooze:r-1:15",
		Message: &tgbotapi.Message{MessageID: 9, Chat: &tgbotapi.Chat{ID: 42}},
	}
	h.HandleCallbackQuery(context.Background(), callback)

	assert.Equal(t, []string{"r-1"}, sched.snoozed)
	require.Len(t, api.requests, 1)
	assert.Equal(t, "Snoozed", api.requests[0].(tgbotapi.CallbackConfig).Text)
	edit := api.sent[0].(tgbotapi.EditMessageTextConfig)
	assert.Equal(t, 9, edit.MessageID)
	assert.Contains(t, edit.Text, "Snoozed: Stretch")

	callback.Data = "snooze:r-1:abc"
	h.HandleCallbackQuery(context.Background(), callback)
	assert.Len(t, sched.snoozed, 1)
	assert.True(t, api.requests[1].(tgbotapi.CallbackConfig).ShowAlert)
}

func TestSnoozeCommandByIndex(t *testing.T) {
	h, _, _, sched, sess := newTestHandlers()
	sess.Start("user-1")

	h.HandleCommand(context.Background(), command(42, "/snooze 2 10", "snooze"))
	assert.Equal(t, []string{"r-2"}, sched.snoozed)

	h.HandleCommand(context.Background(), command(42, "/snooze 3 10", "snooze"))
	assert.Len(t, sched.snoozed, 1)
}

func TestPauseResume(t *testing.T) {
	h, _, store, sched, sess := newTestHandlers()
	sess.Start("user-1")

	h.HandleCommand(context.Background(), command(42, "/pause", "pause"))
	require.NotNil(t, store.enabled)
	assert.False(t, *store.enabled)

	h.HandleCommand(context.Background(), command(42, "/resume", "resume"))
	assert.True(t, *store.enabled)
	assert.Equal(t, 2, sched.notified)
}

func TestToggleReminder(t *testing.T) {
	h, api, store, sched, sess := newTestHandlers()
	sess.Start("user-1")

	h.HandleCommand(context.Background(), command(42, "/toggle 2", "toggle"))
	patch, ok := store.patches["r-2"]
	require.True(t, ok)
	require.NotNil(t, patch.Enabled)
	assert.True(t, *patch.Enabled)
	assert.Nil(t, patch.Title)
	assert.Equal(t, 1, sched.notified)
	assert.Contains(t, api.lastText(), "Water enabled")

	h.HandleCommand(context.Background(), command(42, "/toggle 9", "toggle"))
	assert.Len(t, store.patches, 1)
	assert.Contains(t, api.lastText(), "Invalid reminder number")
}

func TestDeleteAndClear(t *testing.T) {
	h, _, store, sched, sess := newTestHandlers()
	sess.Start("user-1")

	h.HandleCommand(context.Background(), command(42, "/delete 1", "delete"))
	assert.Equal(t, []string{"r-1"}, store.deleted)

	h.HandleCommand(context.Background(), command(42, "/delete x", "delete"))
	assert.Len(t, store.deleted, 1)

	h.HandleCommand(context.Background(), command(42, "/clear", "clear"))
	assert.True(t, store.cleared)
	assert.Equal(t, 2, sched.notified)
}
